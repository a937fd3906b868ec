// Package eventbus sequences committed order and table changes per tenant and
// fans them out to live subscribers and taps.
package eventbus

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/waiterless/internal/errs"
	"github.com/smallbiznis/waiterless/internal/order/domain"
)

var ErrInvalidTopic = errs.New(errs.ErrInvalidRequest, "invalid_topic")

type Kind string

const (
	KindOrderCreated       Kind = "order.created"
	KindOrderStatusChanged Kind = "order.status_changed"
	KindOrderCancelled     Kind = "order.cancelled"
	KindOrderClosed        Kind = "order.closed"
	KindTableOccupied      Kind = "table.occupied"
	KindTableReleased      Kind = "table.released"
)

// KindForStatus picks the order event kind for a committed status.
func KindForStatus(status domain.Status) Kind {
	switch status {
	case domain.StatusDraft:
		return KindOrderCreated
	case domain.StatusCancelled:
		return KindOrderCancelled
	case domain.StatusClosed:
		return KindOrderClosed
	default:
		return KindOrderStatusChanged
	}
}

// Topic addresses one order or one table inside a tenant: "order:<id>" or "table:<id>".
type Topic string

const (
	topicOrder = "order"
	topicTable = "table"
)

func OrderTopic(id snowflake.ID) Topic {
	return Topic(topicOrder + ":" + id.String())
}

func TableTopic(id snowflake.ID) Topic {
	return Topic(topicTable + ":" + id.String())
}

// ParseTopic validates and canonicalizes a raw topic string.
func ParseTopic(raw string) (Topic, error) {
	scope, rawID, ok := strings.Cut(strings.TrimSpace(raw), ":")
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidTopic, raw)
	}
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil || id <= 0 {
		return "", fmt.Errorf("%w: %q", ErrInvalidTopic, raw)
	}
	switch strings.ToLower(scope) {
	case topicOrder:
		return OrderTopic(snowflake.ID(id)), nil
	case topicTable:
		return TableTopic(snowflake.ID(id)), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidTopic, raw)
	}
}

// Payload is the post-commit snapshot carried by an event.
type Payload struct {
	Order *domain.Order `json:"order,omitempty"`
	Table *domain.Table `json:"table,omitempty"`
}

// Event is immutable once published.
type Event struct {
	Sequence  uint64       `json:"sequence"`
	TenantID  snowflake.ID `json:"tenant_id"`
	Topic     Topic        `json:"topic"`
	Kind      Kind         `json:"kind"`
	Payload   Payload      `json:"payload"`
	Timestamp time.Time    `json:"timestamp"`
}

// Message is a publish request before sequencing.
type Message struct {
	Topic   Topic
	Kind    Kind
	Payload Payload
}

func OrderMessage(kind Kind, order domain.Order) Message {
	snapshot := order.Clone()
	return Message{Topic: OrderTopic(order.ID), Kind: kind, Payload: Payload{Order: &snapshot}}
}

func TableMessage(kind Kind, table domain.Table) Message {
	snapshot := table.Clone()
	return Message{Topic: TableTopic(table.ID), Kind: kind, Payload: Payload{Table: &snapshot}}
}
