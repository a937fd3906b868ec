package store

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/cenkalti/backoff/v5"
	"github.com/smallbiznis/waiterless/internal/errs"
	"github.com/smallbiznis/waiterless/internal/observability/metrics"
	"github.com/smallbiznis/waiterless/internal/order/domain"
	"github.com/smallbiznis/waiterless/pkg/db"
	"go.uber.org/zap"
)

type RetryConfig struct {
	Attempts int
	Initial  time.Duration
	Max      time.Duration
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.Attempts <= 0 {
		c.Attempts = 4
	}
	if c.Initial <= 0 {
		c.Initial = 25 * time.Millisecond
	}
	if c.Max <= 0 {
		c.Max = 500 * time.Millisecond
	}
	return c
}

// RetryingStore retries transient storage failures with exponential backoff.
// Logical outcomes pass through on the first attempt. Exhausted retries
// surface as ErrStorageUnavailable.
type RetryingStore struct {
	inner   domain.Store
	cfg     RetryConfig
	log     *zap.Logger
	metrics *metrics.EngineMetrics
}

func NewRetryingStore(inner domain.Store, cfg RetryConfig, log *zap.Logger, m *metrics.EngineMetrics) *RetryingStore {
	return &RetryingStore{
		inner:   inner,
		cfg:     cfg.withDefaults(),
		log:     log.Named("order.store.retry"),
		metrics: m,
	}
}

func retry[T any](ctx context.Context, s *RetryingStore, op string, fn func() (T, error)) (T, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.cfg.Initial
	policy.MaxInterval = s.cfg.Max

	result, err := backoff.Retry(ctx, func() (T, error) {
		value, err := fn()
		if err == nil {
			return value, nil
		}
		if errs.IsLogical(err) || !db.IsTransientErr(err) {
			return value, backoff.Permanent(err)
		}
		s.metrics.IncStoreRetry(op)
		return value, err
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(s.cfg.Attempts)),
		backoff.WithNotify(func(err error, wait time.Duration) {
			s.log.Warn("transient storage failure, retrying",
				zap.String("op", op),
				zap.Duration("wait", wait),
				zap.Error(err),
			)
		}),
	)
	if err != nil && db.IsTransientErr(err) {
		var zero T
		s.log.Error("storage unavailable", zap.String("op", op), zap.Error(err))
		return zero, fmt.Errorf("%w: %s: %v", domain.ErrStorageUnavailable, op, err)
	}
	return result, err
}

func (s *RetryingStore) CreateTable(ctx context.Context, tenantID snowflake.ID, label string) (domain.Table, error) {
	return retry(ctx, s, "create_table", func() (domain.Table, error) {
		return s.inner.CreateTable(ctx, tenantID, label)
	})
}

func (s *RetryingStore) GetTable(ctx context.Context, tenantID, tableID snowflake.ID) (domain.Table, error) {
	return retry(ctx, s, "get_table", func() (domain.Table, error) {
		return s.inner.GetTable(ctx, tenantID, tableID)
	})
}

func (s *RetryingStore) FindTableByQR(ctx context.Context, tenantID snowflake.ID, qrCode string) (domain.Table, error) {
	return retry(ctx, s, "find_table_by_qr", func() (domain.Table, error) {
		return s.inner.FindTableByQR(ctx, tenantID, qrCode)
	})
}

func (s *RetryingStore) ListTables(ctx context.Context, tenantID snowflake.ID) ([]domain.Table, error) {
	return retry(ctx, s, "list_tables", func() ([]domain.Table, error) {
		return s.inner.ListTables(ctx, tenantID)
	})
}

func (s *RetryingStore) UpdateTableLabel(ctx context.Context, tenantID, tableID snowflake.ID, label string) (domain.Table, error) {
	return retry(ctx, s, "update_table_label", func() (domain.Table, error) {
		return s.inner.UpdateTableLabel(ctx, tenantID, tableID, label)
	})
}

func (s *RetryingStore) Create(ctx context.Context, tenantID snowflake.ID, draft domain.DraftOrder) (domain.CommitResult, error) {
	return retry(ctx, s, "create", func() (domain.CommitResult, error) {
		return s.inner.Create(ctx, tenantID, draft)
	})
}

func (s *RetryingStore) Get(ctx context.Context, tenantID, orderID snowflake.ID) (domain.Order, error) {
	return retry(ctx, s, "get", func() (domain.Order, error) {
		return s.inner.Get(ctx, tenantID, orderID)
	})
}

func (s *RetryingStore) List(ctx context.Context, tenantID snowflake.ID, filter domain.ListFilter) ([]domain.Order, error) {
	return retry(ctx, s, "list", func() ([]domain.Order, error) {
		return s.inner.List(ctx, tenantID, filter)
	})
}

// Commit retries only failures that rolled the transaction back. A retry
// after an ambiguous commit reports ErrStaleVersion rather than writing twice.
func (s *RetryingStore) Commit(ctx context.Context, tenantID, orderID snowflake.ID, expectedVersion int64, mutate domain.Mutator) (domain.CommitResult, error) {
	return retry(ctx, s, "commit", func() (domain.CommitResult, error) {
		return s.inner.Commit(ctx, tenantID, orderID, expectedVersion, mutate)
	})
}

var _ domain.Store = (*RetryingStore)(nil)
var _ domain.Store = (*MemoryStore)(nil)
var _ domain.Store = (*SQLStore)(nil)
