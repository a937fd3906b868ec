// Package intake adapts ordering channels to the lifecycle coordinator. Each
// channel normalizes its own inputs; the core never sees channel specifics.
package intake

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/waiterless/internal/errs"
	"github.com/smallbiznis/waiterless/internal/order/domain"
)

var (
	ErrUnsupportedChannel = errs.New(errs.ErrInvalidRequest, "unsupported_channel")
	ErrQRCodeRequired     = errs.New(errs.ErrInvalidRequest, "qr_code_required")
	ErrContactRequired    = errs.New(errs.ErrInvalidRequest, "contact_required")
	ErrInvalidPhone       = errs.New(errs.ErrInvalidRequest, "invalid_phone")
	ErrTableNotAllowed    = errs.New(errs.ErrInvalidRequest, "table_not_allowed")
)

// DraftRequest is what a channel collected from the customer.
type DraftRequest struct {
	QRCode        string            `json:"qr_code_id"`
	TableID       *snowflake.ID     `json:"table_id"`
	Type          domain.OrderType  `json:"order_type"`
	Items         []domain.LineItem `json:"line_items"`
	CustomerName  string            `json:"customer_name"`
	CustomerPhone string            `json:"customer_phone"`
	Instructions  string            `json:"special_instructions"`
}

// Submitter is the slice of the coordinator adapters depend on.
type Submitter interface {
	SubmitDraft(ctx context.Context, tenantKey string, draft domain.DraftOrder) (domain.Order, error)
	ResolveTableByQR(ctx context.Context, tenantKey, qrCode string) (domain.Table, error)
}

type Adapter interface {
	Channel() domain.Channel
	SubmitDraftOrder(ctx context.Context, tenantKey string, req DraftRequest) (domain.Order, error)
}

func baseDraft(channel domain.Channel, req DraftRequest) domain.DraftOrder {
	return domain.DraftOrder{
		Channel:       channel,
		Type:          req.Type,
		Items:         req.Items,
		CustomerName:  req.CustomerName,
		CustomerPhone: req.CustomerPhone,
		Instructions:  req.Instructions,
	}
}

type qrAdapter struct {
	core Submitter
}

// NewQR returns the table-side QR channel. The scanned code picks the table.
func NewQR(core Submitter) Adapter { return &qrAdapter{core: core} }

func (a *qrAdapter) Channel() domain.Channel { return domain.ChannelQR }

func (a *qrAdapter) SubmitDraftOrder(ctx context.Context, tenantKey string, req DraftRequest) (domain.Order, error) {
	code := strings.TrimSpace(req.QRCode)
	if code == "" {
		return domain.Order{}, ErrQRCodeRequired
	}
	table, err := a.core.ResolveTableByQR(ctx, tenantKey, code)
	if err != nil {
		return domain.Order{}, err
	}
	draft := baseDraft(domain.ChannelQR, req)
	draft.TableID = &table.ID
	draft.Type = domain.OrderTypeDineIn
	return a.core.SubmitDraft(ctx, tenantKey, draft)
}

// remoteAdapter serves channels where the customer is not at a table and is
// reached back by phone.
type remoteAdapter struct {
	core    Submitter
	channel domain.Channel
}

func NewVoice(core Submitter) Adapter {
	return &remoteAdapter{core: core, channel: domain.ChannelVoice}
}

func NewMessaging(core Submitter) Adapter {
	return &remoteAdapter{core: core, channel: domain.ChannelMessaging}
}

func (a *remoteAdapter) Channel() domain.Channel { return a.channel }

func (a *remoteAdapter) SubmitDraftOrder(ctx context.Context, tenantKey string, req DraftRequest) (domain.Order, error) {
	if req.TableID != nil || strings.TrimSpace(req.QRCode) != "" {
		return domain.Order{}, ErrTableNotAllowed
	}
	if req.Type == domain.OrderTypeDineIn {
		return domain.Order{}, fmt.Errorf("%w: %s orders cannot be dine in", ErrTableNotAllowed, a.channel)
	}
	phone, err := NormalizePhone(req.CustomerPhone)
	if err != nil {
		return domain.Order{}, err
	}
	draft := baseDraft(a.channel, req)
	draft.CustomerPhone = phone
	return a.core.SubmitDraft(ctx, tenantKey, draft)
}

type webAdapter struct {
	core Submitter
}

// NewWeb returns the web channel; the table is optional.
func NewWeb(core Submitter) Adapter { return &webAdapter{core: core} }

func (a *webAdapter) Channel() domain.Channel { return domain.ChannelWeb }

func (a *webAdapter) SubmitDraftOrder(ctx context.Context, tenantKey string, req DraftRequest) (domain.Order, error) {
	draft := baseDraft(domain.ChannelWeb, req)
	draft.TableID = req.TableID
	if strings.TrimSpace(req.CustomerPhone) != "" {
		phone, err := NormalizePhone(req.CustomerPhone)
		if err != nil {
			return domain.Order{}, err
		}
		draft.CustomerPhone = phone
	}
	return a.core.SubmitDraft(ctx, tenantKey, draft)
}

// NormalizePhone strips separators and checks for an E.164 shaped number.
func NormalizePhone(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrContactRequired
	}
	var b strings.Builder
	for i, r := range raw {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		case r == ' ', r == '-', r == '(', r == ')', r == '.':
		default:
			return "", fmt.Errorf("%w: %q", ErrInvalidPhone, raw)
		}
	}
	phone := b.String()
	digits := len(strings.TrimPrefix(phone, "+"))
	if digits < 7 || digits > 15 {
		return "", fmt.Errorf("%w: %q", ErrInvalidPhone, raw)
	}
	return phone, nil
}
