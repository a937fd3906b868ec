package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/smallbiznis/waiterless/internal/clock"
	"github.com/smallbiznis/waiterless/internal/order/domain"
	"github.com/smallbiznis/waiterless/internal/observability/metrics"
	"github.com/smallbiznis/waiterless/pkg/db"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const backendSQL = "sql"

// SQLStore persists orders and tables through gorm. Optimistic concurrency is
// a conditional UPDATE on (tenant_id, id, version); table claims are a
// conditional UPDATE on active_order_id IS NULL inside the same transaction.
type SQLStore struct {
	db      *gorm.DB
	genID   *snowflake.Node
	clock   clock.Clock
	log     *zap.Logger
	metrics *metrics.EngineMetrics
}

func NewSQLStore(conn *gorm.DB, genID *snowflake.Node, clk clock.Clock, log *zap.Logger, m *metrics.EngineMetrics) *SQLStore {
	return &SQLStore{
		db:      conn,
		genID:   genID,
		clock:   clk,
		log:     log.Named("order.store.sql"),
		metrics: m,
	}
}

// AutoMigrate creates the orders and dining_tables tables.
func AutoMigrate(conn *gorm.DB) error {
	return conn.AutoMigrate(&orderRow{}, &tableRow{})
}

func (s *SQLStore) CreateTable(ctx context.Context, tenantID snowflake.ID, label string) (domain.Table, error) {
	label, err := domain.ValidateTableLabel(label)
	if err != nil {
		return domain.Table{}, err
	}
	now := s.clock.Now()
	row := tableRow{
		ID:        s.genID.Generate(),
		TenantID:  tenantID,
		Label:     label,
		LabelKey:  labelKey(label),
		QRCode:    uuid.NewString(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		if db.IsDuplicateKeyErr(err) {
			return domain.Table{}, domain.ErrTableLabelTaken
		}
		return domain.Table{}, err
	}
	return row.toDomain(), nil
}

func (s *SQLStore) GetTable(ctx context.Context, tenantID, tableID snowflake.ID) (domain.Table, error) {
	return s.findTable(ctx, s.db, "tenant_id = ? AND id = ?", tenantID, tableID)
}

func (s *SQLStore) FindTableByQR(ctx context.Context, tenantID snowflake.ID, qrCode string) (domain.Table, error) {
	return s.findTable(ctx, s.db, "tenant_id = ? AND qr_code_id = ?", tenantID, strings.TrimSpace(qrCode))
}

func (s *SQLStore) UpdateTableLabel(ctx context.Context, tenantID, tableID snowflake.ID, label string) (domain.Table, error) {
	label, err := domain.ValidateTableLabel(label)
	if err != nil {
		return domain.Table{}, err
	}
	var table domain.Table
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&tableRow{}).
			Where("tenant_id = ? AND id = ?", tenantID, tableID).
			Updates(map[string]any{"label": label, "label_key": labelKey(label), "updated_at": s.clock.Now()})
		if res.Error != nil {
			if db.IsDuplicateKeyErr(res.Error) {
				return domain.ErrTableLabelTaken
			}
			return res.Error
		}
		if res.RowsAffected == 0 {
			return domain.ErrTableNotFound
		}
		table, err = s.findTable(ctx, tx, "tenant_id = ? AND id = ?", tenantID, tableID)
		return err
	})
	if err != nil {
		return domain.Table{}, err
	}
	return table, nil
}

func (s *SQLStore) findTable(ctx context.Context, conn *gorm.DB, where string, args ...any) (domain.Table, error) {
	var row tableRow
	if err := conn.WithContext(ctx).Where(where, args...).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Table{}, domain.ErrTableNotFound
		}
		return domain.Table{}, err
	}
	return row.toDomain(), nil
}

func (s *SQLStore) ListTables(ctx context.Context, tenantID snowflake.ID) ([]domain.Table, error) {
	var rows []tableRow
	if err := s.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("label ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.Table, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

func (s *SQLStore) Create(ctx context.Context, tenantID snowflake.ID, draft domain.DraftOrder) (domain.CommitResult, error) {
	start := time.Now()
	defer func() { s.metrics.ObserveCommit(backendSQL, "create", time.Since(start)) }()

	draft = draft.Normalize()
	if err := draft.Validate(); err != nil {
		return domain.CommitResult{}, err
	}
	order := domain.NewOrder(s.genID.Generate(), tenantID, draft, s.clock.Now())

	var result domain.CommitResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if order.TableID != nil {
			table, err := s.claimTable(ctx, tx, tenantID, *order.TableID, order.ID, order.CreatedAt)
			if err != nil {
				return err
			}
			result.Table = &table
			result.TableChange = domain.TableClaimed
		}
		row := newOrderRow(order)
		return tx.Create(&row).Error
	})
	if err != nil {
		return domain.CommitResult{}, err
	}
	result.Order = order.Clone()
	return result, nil
}

func (s *SQLStore) claimTable(ctx context.Context, tx *gorm.DB, tenantID, tableID, orderID snowflake.ID, now time.Time) (domain.Table, error) {
	res := tx.Model(&tableRow{}).
		Where("tenant_id = ? AND id = ? AND active_order_id IS NULL", tenantID, tableID).
		Updates(map[string]any{"active_order_id": orderID, "updated_at": now})
	if res.Error != nil {
		return domain.Table{}, res.Error
	}
	table, err := s.findTable(ctx, tx, "tenant_id = ? AND id = ?", tenantID, tableID)
	if err != nil {
		return domain.Table{}, err
	}
	if res.RowsAffected == 0 || table.ActiveOrderID == nil || *table.ActiveOrderID != orderID {
		return domain.Table{}, domain.ErrTableOccupied
	}
	return table, nil
}

func (s *SQLStore) Get(ctx context.Context, tenantID, orderID snowflake.ID) (domain.Order, error) {
	row, err := s.findOrder(ctx, s.db, tenantID, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return row.toDomain(), nil
}

func (s *SQLStore) findOrder(ctx context.Context, conn *gorm.DB, tenantID, orderID snowflake.ID) (orderRow, error) {
	var row orderRow
	if err := conn.WithContext(ctx).Where("tenant_id = ? AND id = ?", tenantID, orderID).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return orderRow{}, domain.ErrOrderNotFound
		}
		return orderRow{}, err
	}
	return row, nil
}

func (s *SQLStore) List(ctx context.Context, tenantID snowflake.ID, filter domain.ListFilter) ([]domain.Order, error) {
	filter = filter.Normalize()
	stmt := s.db.WithContext(ctx).
		Model(&orderRow{}).
		Where("tenant_id = ?", tenantID)
	if filter.Status != "" {
		stmt = stmt.Where("status = ?", string(filter.Status))
	}
	if filter.TableID != nil {
		stmt = stmt.Where("table_id = ?", *filter.TableID)
	}
	if filter.ActiveOnly {
		stmt = stmt.Where("status NOT IN ?", []string{string(domain.StatusClosed), string(domain.StatusCancelled)})
	}

	var rows []orderRow
	if err := stmt.Order("id DESC").Limit(filter.Limit).Offset(filter.Offset).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.Order, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

func (s *SQLStore) Commit(ctx context.Context, tenantID, orderID snowflake.ID, expectedVersion int64, mutate domain.Mutator) (domain.CommitResult, error) {
	start := time.Now()
	defer func() { s.metrics.ObserveCommit(backendSQL, "commit", time.Since(start)) }()

	var result domain.CommitResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row, err := s.findOrder(ctx, tx, tenantID, orderID)
		if err != nil {
			return err
		}
		current := row.toDomain()
		if current.Version != expectedVersion {
			return domain.ErrStaleVersion
		}
		if current.Status.IsTerminal() {
			return domain.ErrInvalidTransition
		}

		next := current.Clone()
		if err := mutate(&next); err != nil {
			return err
		}
		if err := domain.CheckMutation(current, next); err != nil {
			return err
		}
		next.Version = current.Version + 1
		next.UpdatedAt = s.clock.Now()

		res := tx.Model(&orderRow{}).
			Where("tenant_id = ? AND id = ? AND version = ?", tenantID, orderID, expectedVersion).
			Updates(map[string]any{
				"status":             string(next.Status),
				"version":            next.Version,
				"history":            datatypes.NewJSONSlice(next.History),
				"customer_name":      next.CustomerName,
				"customer_phone":     next.CustomerPhone,
				"instructions":       next.Instructions,
				"estimated_ready_at": next.EstimatedReadyAt,
				"updated_at":         next.UpdatedAt,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return domain.ErrStaleVersion
		}

		if current.HoldsTable() && !next.HoldsTable() {
			released := tx.Model(&tableRow{}).
				Where("tenant_id = ? AND id = ? AND active_order_id = ?", tenantID, *current.TableID, current.ID).
				Updates(map[string]any{"active_order_id": nil, "updated_at": next.UpdatedAt})
			if released.Error != nil {
				return released.Error
			}
			if released.RowsAffected > 0 {
				table, err := s.findTable(ctx, tx, "tenant_id = ? AND id = ?", tenantID, *current.TableID)
				if err != nil {
					return err
				}
				result.Table = &table
				result.TableChange = domain.TableReleased
			}
		}

		result.Order = next
		return nil
	})
	if err != nil {
		return domain.CommitResult{}, err
	}
	return result, nil
}
