package eventbus

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// EventLog is the durable append-only record of published events.
type EventLog interface {
	Append(ctx context.Context, events ...Event) error
	LastSequence(ctx context.Context, tenantID snowflake.ID) (uint64, error)
	Since(ctx context.Context, tenantID snowflake.ID, topic Topic, after uint64, limit int) ([]Event, error)
	Prune(ctx context.Context, before time.Time) (int64, error)
}

type eventRow struct {
	TenantID  snowflake.ID   `gorm:"primaryKey;autoIncrement:false"`
	Sequence  uint64         `gorm:"primaryKey;autoIncrement:false"`
	Topic     string         `gorm:"type:varchar(64);not null;index:idx_order_events_topic"`
	Kind      string         `gorm:"type:varchar(32);not null"`
	Payload   datatypes.JSON `gorm:"not null"`
	CreatedAt time.Time      `gorm:"not null;index"`
}

func (eventRow) TableName() string { return "order_events" }

type GormEventLog struct {
	db *gorm.DB
}

func NewGormEventLog(conn *gorm.DB) *GormEventLog {
	return &GormEventLog{db: conn}
}

func MigrateEventLog(conn *gorm.DB) error {
	return conn.AutoMigrate(&eventRow{})
}

func (l *GormEventLog) Append(ctx context.Context, events ...Event) error {
	if len(events) == 0 {
		return nil
	}
	rows := make([]eventRow, 0, len(events))
	for _, ev := range events {
		payload, err := json.Marshal(ev.Payload)
		if err != nil {
			return err
		}
		rows = append(rows, eventRow{
			TenantID:  ev.TenantID,
			Sequence:  ev.Sequence,
			Topic:     string(ev.Topic),
			Kind:      string(ev.Kind),
			Payload:   datatypes.JSON(payload),
			CreatedAt: ev.Timestamp,
		})
	}
	return l.db.WithContext(ctx).Create(&rows).Error
}

func (l *GormEventLog) LastSequence(ctx context.Context, tenantID snowflake.ID) (uint64, error) {
	var last sql.NullInt64
	err := l.db.WithContext(ctx).
		Model(&eventRow{}).
		Where("tenant_id = ?", tenantID).
		Select("MAX(sequence)").
		Row().
		Scan(&last)
	if err != nil || !last.Valid {
		return 0, err
	}
	return uint64(last.Int64), nil
}

// Since returns events on topic with sequence greater than after, oldest first.
func (l *GormEventLog) Since(ctx context.Context, tenantID snowflake.ID, topic Topic, after uint64, limit int) ([]Event, error) {
	if limit <= 0 || limit > 500 {
		limit = 500
	}
	var rows []eventRow
	err := l.db.WithContext(ctx).
		Where("tenant_id = ? AND topic = ? AND sequence > ?", tenantID, string(topic), after).
		Order(clause.OrderByColumn{Column: clause.Column{Name: "sequence"}}).
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]Event, 0, len(rows))
	for _, row := range rows {
		var payload Payload
		if err := json.Unmarshal(row.Payload, &payload); err != nil {
			return nil, err
		}
		out = append(out, Event{
			Sequence:  row.Sequence,
			TenantID:  row.TenantID,
			Topic:     Topic(row.Topic),
			Kind:      Kind(row.Kind),
			Payload:   payload,
			Timestamp: row.CreatedAt.UTC(),
		})
	}
	return out, nil
}

// Prune deletes events older than before and reports how many were removed.
// At least one event per tenant survives so restarts can seed the counter.
func (l *GormEventLog) Prune(ctx context.Context, before time.Time) (int64, error) {
	var latest []struct {
		TenantID snowflake.ID
		Sequence uint64
	}
	err := l.db.WithContext(ctx).
		Model(&eventRow{}).
		Select("tenant_id, MAX(sequence) AS sequence").
		Where("created_at < ?", before).
		Group("tenant_id").
		Scan(&latest).Error
	if err != nil {
		return 0, err
	}

	var removed int64
	for _, tenant := range latest {
		res := l.db.WithContext(ctx).
			Where("tenant_id = ? AND created_at < ? AND sequence < ?", tenant.TenantID, before, tenant.Sequence).
			Delete(&eventRow{})
		if res.Error != nil {
			return removed, res.Error
		}
		removed += res.RowsAffected
	}
	return removed, nil
}
