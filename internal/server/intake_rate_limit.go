package server

import (
	"bytes"
	"encoding/json"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/waiterless/internal/observability/logger"
	"github.com/smallbiznis/waiterless/internal/order/domain"
	"go.uber.org/zap"
)

const (
	rateLimitReasonTenant    = "tenant-rate"
	rateLimitReasonChannel   = "channel-rate"
	rateLimitReasonDuplicate = "duplicate-submission"
)

type intakeRateLimitKey struct {
	Channel string `json:"channel"`
}

// IntakeRateLimit throttles order submission per tenant and per tenant
// channel, and rejects a repeated Idempotency-Key while its claim is live.
func (s *Server) IntakeRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.limiter.Enabled() {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		tenant := tenantKey(c)

		channel, err := readIntakeChannel(c)
		if err != nil {
			logger.FromContext(ctx).Warn("intake rate limit read body failed", zap.Error(err))
			AbortWithError(c, invalidRequestError())
			return
		}

		res, err := s.limiter.AllowTenant(ctx, tenant)
		if err != nil {
			logger.FromContext(ctx).Warn("intake tenant rate limit check failed", zap.Error(err))
			AbortWithError(c, ErrServiceUnavailable)
			return
		}
		if !res.Allowed {
			s.denyIntake(c, channel, rateLimitReasonTenant, res.RetryAfter)
			return
		}

		res, err = s.limiter.AllowChannel(ctx, tenant, channel)
		if err != nil {
			logger.FromContext(ctx).Warn("intake channel rate limit check failed", zap.Error(err))
			AbortWithError(c, ErrServiceUnavailable)
			return
		}
		if !res.Allowed {
			s.denyIntake(c, channel, rateLimitReasonChannel, res.RetryAfter)
			return
		}

		idemKey := strings.TrimSpace(c.GetHeader(headerIdempotency))
		token, claimed, err := s.limiter.ClaimIdempotencyKey(ctx, tenant, idemKey)
		if err != nil {
			logger.FromContext(ctx).Warn("intake idempotency claim failed", zap.Error(err))
			AbortWithError(c, ErrServiceUnavailable)
			return
		}
		if !claimed {
			logger.FromContext(ctx).Info("duplicate order submission rejected", zap.String("channel", channel))
			s.obsMetrics.RecordIntakeThrottled(ctx, channel, rateLimitReasonDuplicate)
			AbortWithError(c, ErrDuplicateSubmission)
			return
		}

		c.Next()

		// A failed submission frees the key so the client can retry it.
		if len(c.Errors) > 0 && token != "" {
			if err := s.limiter.ReleaseIdempotencyKey(ctx, tenant, idemKey, token); err != nil {
				logger.FromContext(ctx).Warn("intake idempotency release failed", zap.Error(err))
			}
		}
	}
}

func (s *Server) denyIntake(c *gin.Context, channel, reason string, retryAfter time.Duration) {
	ctx := c.Request.Context()
	logger.FromContext(ctx).Warn("intake rate limit exceeded",
		zap.String("reason", reason),
		zap.String("channel", channel),
	)
	s.obsMetrics.RecordIntakeThrottled(ctx, channel, reason)

	seconds := int(math.Ceil(retryAfter.Seconds()))
	if seconds < 1 {
		seconds = 1
	}
	c.Header("Retry-After", strconv.Itoa(seconds))
	c.Header(headerRateLimitHint, reason)
	AbortWithError(c, ErrRateLimited)
}

// readIntakeChannel peeks the channel without consuming the body. The QR
// route carries its channel in the path.
func readIntakeChannel(c *gin.Context) (string, error) {
	if strings.TrimSpace(c.Param("qr")) != "" {
		return string(domain.ChannelQR), nil
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return "", err
	}
	c.Request.Body = io.NopCloser(bytes.NewBuffer(body))
	if len(body) == 0 {
		return "unknown", nil
	}

	var payload intakeRateLimitKey
	if err := json.Unmarshal(body, &payload); err != nil {
		return "unknown", nil
	}
	channel, err := domain.ParseChannel(payload.Channel)
	if err != nil {
		return "unknown", nil
	}
	return string(channel), nil
}
