package store

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/smallbiznis/waiterless/internal/clock"
	"github.com/smallbiznis/waiterless/internal/order/domain"
	"github.com/smallbiznis/waiterless/internal/observability/metrics"
	"go.uber.org/zap"
)

const backendMemory = "memory"

// MemoryStore keeps every tenant in its own partition. Lock order inside a
// partition is orderSlot.mu, then partition.tableMu, then partition.mu.
type MemoryStore struct {
	mu         sync.RWMutex
	partitions map[snowflake.ID]*partition

	genID   *snowflake.Node
	clock   clock.Clock
	log     *zap.Logger
	metrics *metrics.EngineMetrics
}

type partition struct {
	// mu guards the maps, never the records behind them.
	mu      sync.RWMutex
	orders  map[snowflake.ID]*orderSlot
	tables  map[snowflake.ID]*domain.Table
	byQR    map[string]snowflake.ID
	byLabel map[string]snowflake.ID

	// tableMu serializes every read-modify-write of table bindings.
	tableMu sync.Mutex
}

type orderSlot struct {
	mu    sync.Mutex
	order domain.Order
}

func NewMemoryStore(genID *snowflake.Node, clk clock.Clock, log *zap.Logger, m *metrics.EngineMetrics) *MemoryStore {
	return &MemoryStore{
		partitions: make(map[snowflake.ID]*partition),
		genID:      genID,
		clock:      clk,
		log:        log.Named("order.store.memory"),
		metrics:    m,
	}
}

func (s *MemoryStore) partition(tenantID snowflake.ID) *partition {
	s.mu.RLock()
	p, ok := s.partitions[tenantID]
	s.mu.RUnlock()
	if ok {
		return p
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok = s.partitions[tenantID]; ok {
		return p
	}
	p = &partition{
		orders:  make(map[snowflake.ID]*orderSlot),
		tables:  make(map[snowflake.ID]*domain.Table),
		byQR:    make(map[string]snowflake.ID),
		byLabel: make(map[string]snowflake.ID),
	}
	s.partitions[tenantID] = p
	return p
}

func (s *MemoryStore) CreateTable(ctx context.Context, tenantID snowflake.ID, label string) (domain.Table, error) {
	if err := ctx.Err(); err != nil {
		return domain.Table{}, err
	}
	label, err := domain.ValidateTableLabel(label)
	if err != nil {
		return domain.Table{}, err
	}

	p := s.partition(tenantID)
	now := s.clock.Now()
	table := domain.Table{
		ID:        s.genID.Generate(),
		TenantID:  tenantID,
		Label:     label,
		QRCode:    uuid.NewString(),
		CreatedAt: now,
		UpdatedAt: now,
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, taken := p.byLabel[labelKey(label)]; taken {
		return domain.Table{}, domain.ErrTableLabelTaken
	}
	stored := table
	p.tables[table.ID] = &stored
	p.byQR[table.QRCode] = table.ID
	p.byLabel[labelKey(label)] = table.ID
	return table, nil
}

func (s *MemoryStore) GetTable(ctx context.Context, tenantID, tableID snowflake.ID) (domain.Table, error) {
	if err := ctx.Err(); err != nil {
		return domain.Table{}, err
	}
	p := s.partition(tenantID)

	p.tableMu.Lock()
	defer p.tableMu.Unlock()
	p.mu.RLock()
	table, ok := p.tables[tableID]
	p.mu.RUnlock()
	if !ok {
		return domain.Table{}, domain.ErrTableNotFound
	}
	return table.Clone(), nil
}

func (s *MemoryStore) UpdateTableLabel(ctx context.Context, tenantID, tableID snowflake.ID, label string) (domain.Table, error) {
	if err := ctx.Err(); err != nil {
		return domain.Table{}, err
	}
	label, err := domain.ValidateTableLabel(label)
	if err != nil {
		return domain.Table{}, err
	}
	p := s.partition(tenantID)

	p.tableMu.Lock()
	defer p.tableMu.Unlock()
	p.mu.Lock()
	defer p.mu.Unlock()
	table, ok := p.tables[tableID]
	if !ok {
		return domain.Table{}, domain.ErrTableNotFound
	}
	key := labelKey(label)
	if owner, taken := p.byLabel[key]; taken && owner != tableID {
		return domain.Table{}, domain.ErrTableLabelTaken
	}
	delete(p.byLabel, labelKey(table.Label))
	p.byLabel[key] = tableID
	table.Label = label
	table.UpdatedAt = s.clock.Now()
	return table.Clone(), nil
}

func (s *MemoryStore) FindTableByQR(ctx context.Context, tenantID snowflake.ID, qrCode string) (domain.Table, error) {
	p := s.partition(tenantID)
	p.mu.RLock()
	id, ok := p.byQR[qrCode]
	p.mu.RUnlock()
	if !ok {
		return domain.Table{}, domain.ErrTableNotFound
	}
	return s.GetTable(ctx, tenantID, id)
}

func (s *MemoryStore) ListTables(ctx context.Context, tenantID snowflake.ID) ([]domain.Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p := s.partition(tenantID)

	p.tableMu.Lock()
	defer p.tableMu.Unlock()
	p.mu.RLock()
	out := make([]domain.Table, 0, len(p.tables))
	for _, table := range p.tables {
		out = append(out, table.Clone())
	}
	p.mu.RUnlock()

	slices.SortFunc(out, func(a, b domain.Table) int {
		switch {
		case a.Label < b.Label:
			return -1
		case a.Label > b.Label:
			return 1
		default:
			return 0
		}
	})
	return out, nil
}

func (s *MemoryStore) Create(ctx context.Context, tenantID snowflake.ID, draft domain.DraftOrder) (domain.CommitResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.CommitResult{}, err
	}
	start := time.Now()
	defer func() { s.metrics.ObserveCommit(backendMemory, "create", time.Since(start)) }()

	draft = draft.Normalize()
	if err := draft.Validate(); err != nil {
		return domain.CommitResult{}, err
	}

	p := s.partition(tenantID)
	order := domain.NewOrder(s.genID.Generate(), tenantID, draft, s.clock.Now())

	if order.TableID == nil {
		p.mu.Lock()
		p.orders[order.ID] = &orderSlot{order: order}
		p.mu.Unlock()
		return domain.CommitResult{Order: order.Clone()}, nil
	}

	p.tableMu.Lock()
	defer p.tableMu.Unlock()

	p.mu.Lock()
	defer p.mu.Unlock()
	table, ok := p.tables[*order.TableID]
	if !ok {
		return domain.CommitResult{}, domain.ErrTableNotFound
	}
	if table.Occupied() {
		return domain.CommitResult{}, domain.ErrTableOccupied
	}
	orderID := order.ID
	table.ActiveOrderID = &orderID
	table.UpdatedAt = order.CreatedAt
	p.orders[order.ID] = &orderSlot{order: order}

	claimed := table.Clone()
	return domain.CommitResult{Order: order.Clone(), Table: &claimed, TableChange: domain.TableClaimed}, nil
}

func (s *MemoryStore) slot(tenantID, orderID snowflake.ID) (*partition, *orderSlot, error) {
	p := s.partition(tenantID)
	p.mu.RLock()
	slot, ok := p.orders[orderID]
	p.mu.RUnlock()
	if !ok {
		return nil, nil, domain.ErrOrderNotFound
	}
	return p, slot, nil
}

func (s *MemoryStore) Get(ctx context.Context, tenantID, orderID snowflake.ID) (domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return domain.Order{}, err
	}
	_, slot, err := s.slot(tenantID, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	slot.mu.Lock()
	defer slot.mu.Unlock()
	return slot.order.Clone(), nil
}

func (s *MemoryStore) List(ctx context.Context, tenantID snowflake.ID, filter domain.ListFilter) ([]domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	filter = filter.Normalize()
	p := s.partition(tenantID)

	p.mu.RLock()
	slots := make([]*orderSlot, 0, len(p.orders))
	for _, slot := range p.orders {
		slots = append(slots, slot)
	}
	p.mu.RUnlock()

	matched := make([]domain.Order, 0, len(slots))
	for _, slot := range slots {
		slot.mu.Lock()
		if filter.Matches(slot.order) {
			matched = append(matched, slot.order.Clone())
		}
		slot.mu.Unlock()
	}

	// Snowflake ids grow with creation time.
	slices.SortFunc(matched, func(a, b domain.Order) int {
		switch {
		case a.ID > b.ID:
			return -1
		case a.ID < b.ID:
			return 1
		default:
			return 0
		}
	})

	if filter.Offset >= len(matched) {
		return []domain.Order{}, nil
	}
	end := min(filter.Offset+filter.Limit, len(matched))
	return matched[filter.Offset:end], nil
}

func (s *MemoryStore) Commit(ctx context.Context, tenantID, orderID snowflake.ID, expectedVersion int64, mutate domain.Mutator) (domain.CommitResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.CommitResult{}, err
	}
	start := time.Now()
	defer func() { s.metrics.ObserveCommit(backendMemory, "commit", time.Since(start)) }()

	p, slot, err := s.slot(tenantID, orderID)
	if err != nil {
		return domain.CommitResult{}, err
	}

	slot.mu.Lock()
	defer slot.mu.Unlock()

	current := slot.order
	if current.Version != expectedVersion {
		return domain.CommitResult{}, domain.ErrStaleVersion
	}
	if current.Status.IsTerminal() {
		return domain.CommitResult{}, domain.ErrInvalidTransition
	}

	next := current.Clone()
	if err := mutate(&next); err != nil {
		return domain.CommitResult{}, err
	}
	if err := domain.CheckMutation(current, next); err != nil {
		return domain.CommitResult{}, err
	}
	next.Version = current.Version + 1
	next.UpdatedAt = s.clock.Now()

	result := domain.CommitResult{}
	if current.HoldsTable() && !next.HoldsTable() {
		p.tableMu.Lock()
		p.mu.RLock()
		table, ok := p.tables[*current.TableID]
		p.mu.RUnlock()
		if ok && table.ActiveOrderID != nil && *table.ActiveOrderID == current.ID {
			table.ActiveOrderID = nil
			table.UpdatedAt = next.UpdatedAt
			released := table.Clone()
			result.Table = &released
			result.TableChange = domain.TableReleased
		}
		p.tableMu.Unlock()
	}

	slot.order = next
	result.Order = next.Clone()
	return result, nil
}

func labelKey(label string) string {
	return strings.ToLower(label)
}
