package store

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/waiterless/internal/order/domain"
	"gorm.io/datatypes"
)

type orderRow struct {
	ID               snowflake.ID                             `gorm:"primaryKey;autoIncrement:false"`
	TenantID         snowflake.ID                             `gorm:"not null;index:idx_orders_tenant_status,priority:1"`
	TableID          *snowflake.ID                            `gorm:"index"`
	Channel          string                                   `gorm:"not null"`
	OrderType        string                                   `gorm:"not null"`
	Status           string                                   `gorm:"not null;index:idx_orders_tenant_status,priority:2"`
	Version          int64                                    `gorm:"not null"`
	Items            datatypes.JSONSlice[domain.LineItem]     `gorm:"not null"`
	History          datatypes.JSONSlice[domain.StatusChange] `gorm:"not null"`
	TaxRateBps       int64                                    `gorm:"not null"`
	Subtotal         int64                                    `gorm:"not null"`
	Tax              int64                                    `gorm:"not null"`
	Total            int64                                    `gorm:"not null"`
	CustomerName     string
	CustomerPhone    string
	Instructions     string
	EstimatedReadyAt *time.Time
	CreatedAt        time.Time `gorm:"not null"`
	UpdatedAt        time.Time `gorm:"not null"`
}

func (orderRow) TableName() string { return "orders" }

func newOrderRow(o domain.Order) orderRow {
	return orderRow{
		ID:               o.ID,
		TenantID:         o.TenantID,
		TableID:          o.TableID,
		Channel:          string(o.Channel),
		OrderType:        string(o.Type),
		Status:           string(o.Status),
		Version:          o.Version,
		Items:            datatypes.NewJSONSlice(o.Items),
		History:          datatypes.NewJSONSlice(o.History),
		TaxRateBps:       o.TaxRateBps,
		Subtotal:         o.Subtotal,
		Tax:              o.Tax,
		Total:            o.Total,
		CustomerName:     o.CustomerName,
		CustomerPhone:    o.CustomerPhone,
		Instructions:     o.Instructions,
		EstimatedReadyAt: o.EstimatedReadyAt,
		CreatedAt:        o.CreatedAt,
		UpdatedAt:        o.UpdatedAt,
	}
}

func (r orderRow) toDomain() domain.Order {
	order := domain.Order{
		ID:               r.ID,
		TenantID:         r.TenantID,
		TableID:          r.TableID,
		Channel:          domain.Channel(r.Channel),
		Type:             domain.OrderType(r.OrderType),
		Status:           domain.Status(r.Status),
		Version:          r.Version,
		Items:            []domain.LineItem(r.Items),
		History:          []domain.StatusChange(r.History),
		TaxRateBps:       r.TaxRateBps,
		Subtotal:         r.Subtotal,
		Tax:              r.Tax,
		Total:            r.Total,
		CustomerName:     r.CustomerName,
		CustomerPhone:    r.CustomerPhone,
		Instructions:     r.Instructions,
		EstimatedReadyAt: r.EstimatedReadyAt,
		CreatedAt:        r.CreatedAt.UTC(),
		UpdatedAt:        r.UpdatedAt.UTC(),
	}
	return order.Clone()
}

type tableRow struct {
	ID            snowflake.ID  `gorm:"primaryKey;autoIncrement:false"`
	TenantID      snowflake.ID  `gorm:"not null;uniqueIndex:idx_tables_tenant_label,priority:1"`
	Label         string        `gorm:"not null"`
	LabelKey      string        `gorm:"not null;uniqueIndex:idx_tables_tenant_label,priority:2"`
	QRCode        string        `gorm:"column:qr_code_id;not null;uniqueIndex"`
	ActiveOrderID *snowflake.ID `gorm:"column:active_order_id"`
	CreatedAt     time.Time     `gorm:"not null"`
	UpdatedAt     time.Time     `gorm:"not null"`
}

func (tableRow) TableName() string { return "dining_tables" }

func (r tableRow) toDomain() domain.Table {
	return domain.Table{
		ID:            r.ID,
		TenantID:      r.TenantID,
		Label:         r.Label,
		QRCode:        r.QRCode,
		ActiveOrderID: r.ActiveOrderID,
		CreatedAt:     r.CreatedAt.UTC(),
		UpdatedAt:     r.UpdatedAt.UTC(),
	}
}
