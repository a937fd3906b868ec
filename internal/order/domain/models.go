package domain

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
)

type Channel string

const (
	ChannelQR        Channel = "qr"
	ChannelVoice     Channel = "voice"
	ChannelMessaging Channel = "messaging"
	ChannelWeb       Channel = "web"
)

func ParseChannel(raw string) (Channel, error) {
	channel := Channel(strings.ToLower(strings.TrimSpace(raw)))
	switch channel {
	case ChannelQR, ChannelVoice, ChannelMessaging, ChannelWeb:
		return channel, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidChannel, raw)
	}
}

type OrderType string

const (
	OrderTypeDineIn   OrderType = "dine_in"
	OrderTypeTakeout  OrderType = "takeout"
	OrderTypeDelivery OrderType = "delivery"
)

// ParseOrderType returns "" for an empty input so the draft can pick a default.
func ParseOrderType(raw string) (OrderType, error) {
	value := OrderType(strings.ToLower(strings.TrimSpace(raw)))
	switch value {
	case "", OrderTypeDineIn, OrderTypeTakeout, OrderTypeDelivery:
		return value, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidOrderType, raw)
	}
}

// LineItem prices are minor currency units, frozen when the order is created.
type LineItem struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name,omitempty"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
	Note      string `json:"note,omitempty"`
}

func (l LineItem) Amount() int64 {
	return int64(l.Quantity) * l.UnitPrice
}

type StatusChange struct {
	From    Status    `json:"from,omitempty"`
	To      Status    `json:"to"`
	Version int64     `json:"version"`
	Actor   string    `json:"actor,omitempty"`
	At      time.Time `json:"at"`
}

type Order struct {
	ID               snowflake.ID   `json:"id"`
	TenantID         snowflake.ID   `json:"tenant_id"`
	TableID          *snowflake.ID  `json:"table_id"`
	Channel          Channel        `json:"channel"`
	Type             OrderType      `json:"order_type"`
	Status           Status         `json:"status"`
	Version          int64          `json:"version"`
	Items            []LineItem     `json:"line_items"`
	TaxRateBps       int64          `json:"tax_rate_bps"`
	Subtotal         int64          `json:"subtotal"`
	Tax              int64          `json:"tax"`
	Total            int64          `json:"total"`
	CustomerName     string         `json:"customer_name,omitempty"`
	CustomerPhone    string         `json:"customer_phone,omitempty"`
	Instructions     string         `json:"special_instructions,omitempty"`
	EstimatedReadyAt *time.Time     `json:"estimated_ready_at,omitempty"`
	History          []StatusChange `json:"history"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// Clone returns a deep copy; snapshots handed out by a store never alias its state.
func (o Order) Clone() Order {
	out := o
	out.TableID = cloneID(o.TableID)
	out.Items = slices.Clone(o.Items)
	out.History = slices.Clone(o.History)
	if o.EstimatedReadyAt != nil {
		at := *o.EstimatedReadyAt
		out.EstimatedReadyAt = &at
	}
	return out
}

// HoldsTable reports whether the order is the active order on its table.
func (o Order) HoldsTable() bool {
	return o.TableID != nil && o.Status.IsActive()
}

type Table struct {
	ID            snowflake.ID  `json:"id"`
	TenantID      snowflake.ID  `json:"tenant_id"`
	Label         string        `json:"label"`
	QRCode        string        `json:"qr_code_id"`
	ActiveOrderID *snowflake.ID `json:"active_order_id"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

func (t Table) Occupied() bool {
	return t.ActiveOrderID != nil
}

func (t Table) Clone() Table {
	out := t
	out.ActiveOrderID = cloneID(t.ActiveOrderID)
	return out
}

func (t Table) MarshalJSON() ([]byte, error) {
	type plain Table
	return json.Marshal(struct {
		plain
		Occupied bool `json:"occupied"`
	}{plain: plain(t), Occupied: t.Occupied()})
}

// DraftOrder is the intake payload for a new order.
type DraftOrder struct {
	TableID       *snowflake.ID
	Channel       Channel
	Type          OrderType
	Items         []LineItem
	CustomerName  string
	CustomerPhone string
	Instructions  string
	TaxRateBps    int64
}

// Normalize trims free text and fills the order type default.
func (d DraftOrder) Normalize() DraftOrder {
	d.CustomerName = strings.TrimSpace(d.CustomerName)
	d.CustomerPhone = strings.TrimSpace(d.CustomerPhone)
	d.Instructions = strings.TrimSpace(d.Instructions)
	if d.Type == "" {
		if d.TableID != nil {
			d.Type = OrderTypeDineIn
		} else {
			d.Type = OrderTypeTakeout
		}
	}
	items := make([]LineItem, len(d.Items))
	for i, item := range d.Items {
		item.ProductID = strings.TrimSpace(item.ProductID)
		item.Name = strings.TrimSpace(item.Name)
		item.Note = strings.TrimSpace(item.Note)
		items[i] = item
	}
	d.Items = items
	return d
}

func (d DraftOrder) Validate() error {
	if _, err := ParseChannel(string(d.Channel)); err != nil {
		return err
	}
	if _, err := ParseOrderType(string(d.Type)); err != nil {
		return err
	}
	if d.Type == OrderTypeDineIn && d.TableID == nil {
		return ErrTableRequired
	}
	if len(d.Items) == 0 {
		return ErrEmptyOrder
	}
	for i, item := range d.Items {
		switch {
		case strings.TrimSpace(item.ProductID) == "":
			return fmt.Errorf("%w: item %d has no product id", ErrInvalidLineItem, i)
		case item.Quantity < 1:
			return fmt.Errorf("%w: item %d quantity must be at least 1", ErrInvalidLineItem, i)
		case item.UnitPrice < 0:
			return fmt.Errorf("%w: item %d has a negative price", ErrInvalidLineItem, i)
		}
	}
	return nil
}

// Totals returns subtotal, tax rounded half up, and total.
func (d DraftOrder) Totals() (subtotal, tax, total int64) {
	for _, item := range d.Items {
		subtotal += item.Amount()
	}
	tax = (subtotal*d.TaxRateBps + 5_000) / 10_000
	return subtotal, tax, subtotal + tax
}

// NewOrder builds the initial Draft snapshot for a validated draft.
func NewOrder(id, tenantID snowflake.ID, draft DraftOrder, now time.Time) Order {
	subtotal, tax, total := draft.Totals()
	return Order{
		ID:            id,
		TenantID:      tenantID,
		TableID:       cloneID(draft.TableID),
		Channel:       draft.Channel,
		Type:          draft.Type,
		Status:        StatusDraft,
		Version:       0,
		Items:         slices.Clone(draft.Items),
		TaxRateBps:    draft.TaxRateBps,
		Subtotal:      subtotal,
		Tax:           tax,
		Total:         total,
		CustomerName:  draft.CustomerName,
		CustomerPhone: draft.CustomerPhone,
		Instructions:  draft.Instructions,
		History: []StatusChange{{
			To:      StatusDraft,
			Version: 0,
			Actor:   string(draft.Channel),
			At:      now,
		}},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func trimLabel(label string) string {
	return strings.Join(strings.Fields(label), " ")
}

func cloneID(id *snowflake.ID) *snowflake.ID {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}
