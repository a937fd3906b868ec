package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/waiterless/internal/eventbus"
	obscontext "github.com/smallbiznis/waiterless/internal/observability/context"
	"github.com/smallbiznis/waiterless/internal/observability/logger"
	"github.com/smallbiznis/waiterless/internal/subscription"
	"go.uber.org/zap"
)

const (
	resyncReplayGap    = "replay_gap"
	resyncSlowConsumer = "slow_consumer"
)

type resyncNotice struct {
	Topic  eventbus.Topic `json:"topic,omitempty"`
	Reason string         `json:"reason"`
}

// StreamEvents serves order and table events as server-sent events. Event ids
// are tenant sequences, so a reconnecting browser resumes through
// Last-Event-ID. When missed events cannot be replayed the stream emits
// "resync" and the client reloads the snapshot; with strict=true the request
// fails with 410 instead.
func (s *Server) StreamEvents(c *gin.Context) {
	tenant := tenantFrom(c)

	topics, err := parseTopics(c.QueryArray("topic"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if len(topics) == 0 {
		AbortWithError(c, newValidationError("topic", "topic_required", "at least one topic is required"))
		return
	}

	lastSeen, err := parseOptionalUint64(c.Query("last_seen"))
	if err != nil {
		AbortWithError(c, newValidationError("last_seen", "invalid_last_seen", "invalid last_seen"))
		return
	}
	if lastSeen == nil {
		if lastSeen, err = parseOptionalUint64(c.GetHeader(headerLastEventID)); err != nil {
			AbortWithError(c, newValidationError("last_event_id", "invalid_last_event_id", "invalid Last-Event-ID"))
			return
		}
	}
	strict, err := parseOptionalBool(c.Query("strict"))
	if err != nil {
		AbortWithError(c, newValidationError("strict", "invalid_strict", "invalid strict"))
		return
	}

	conn, err := s.subscriptions.Connect("", tenant.ID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	defer s.subscriptions.Disconnect(conn.ID)

	ctx := obscontext.WithConnectionID(c.Request.Context(), conn.ID)
	log := logger.FromContext(ctx)

	var notices []resyncNotice
	res, err := s.subscriptions.SubscribeAll(conn.ID, tenant.ID, topics, subscription.SubscribeOptions{
		LastSeen:  lastSeen,
		LiveOnGap: strict == nil || !*strict,
	})
	switch {
	case errors.Is(err, subscription.ErrSlowConsumer):
		notices = append(notices, resyncNotice{Reason: resyncSlowConsumer})
	case err != nil:
		AbortWithError(c, err)
		return
	default:
		for _, topic := range res.Gaps {
			notices = append(notices, resyncNotice{Topic: topic, Reason: resyncReplayGap})
		}
	}

	writer := c.Writer
	headers := writer.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	headers.Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	flusher, ok := writer.(http.Flusher)
	if !ok {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}

	s.obsMetrics.StreamOpened(ctx)
	defer s.obsMetrics.StreamClosed(ctx)
	log.Debug("stream opened", zap.Int("topics", len(topics)))

	if _, err := fmt.Fprintf(writer, "retry: %d\n\n", s.retry.Milliseconds()); err != nil {
		return
	}
	for _, notice := range notices {
		if err := writeResync(writer, notice); err != nil {
			return
		}
		if notice.Reason == resyncSlowConsumer {
			flusher.Flush()
			return
		}
	}
	flusher.Flush()

	heartbeat := time.NewTicker(s.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-conn.Done():
			if errors.Is(conn.Err(), subscription.ErrSlowConsumer) {
				log.Info("stream dropped behind live events")
				_ = writeResync(writer, resyncNotice{Reason: resyncSlowConsumer})
				flusher.Flush()
			}
			return
		case ev := <-conn.Events():
			if err := writeEvent(writer, ev); err != nil {
				return
			}
			flusher.Flush()
			if err := s.subscriptions.Ack(conn.ID, ev.Topic, ev.Sequence); err != nil && !errors.Is(err, subscription.ErrConnectionNotFound) {
				log.Debug("stream ack failed", zap.Error(err))
			}
		case <-heartbeat.C:
			if _, err := io.WriteString(writer, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func parseTopics(raw []string) ([]eventbus.Topic, error) {
	seen := make(map[eventbus.Topic]struct{}, len(raw))
	topics := make([]eventbus.Topic, 0, len(raw))
	for _, value := range raw {
		for _, part := range strings.Split(value, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			topic, err := eventbus.ParseTopic(part)
			if err != nil {
				return nil, err
			}
			if _, dup := seen[topic]; dup {
				continue
			}
			seen[topic] = struct{}{}
			topics = append(topics, topic)
		}
	}
	return topics, nil
}

func writeEvent(w io.Writer, ev eventbus.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.Sequence, ev.Kind, data)
	return err
}

func writeResync(w io.Writer, notice resyncNotice) error {
	data, err := json.Marshal(notice)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: resync\ndata: %s\n\n", data)
	return err
}
