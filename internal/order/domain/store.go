package domain

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Mutator edits a private copy of the current order inside a commit.
// Identity, table binding, line items and totals are immutable; history is
// append-only. The store owns Version and UpdatedAt.
type Mutator func(o *Order) error

type TableChange int

const (
	TableUnchanged TableChange = iota
	TableClaimed
	TableReleased
)

func (c TableChange) String() string {
	switch c {
	case TableClaimed:
		return "claimed"
	case TableReleased:
		return "released"
	default:
		return "unchanged"
	}
}

// CommitResult is the post-commit snapshot. Table is set when the commit
// claimed or released a table.
type CommitResult struct {
	Order       Order
	Table       *Table
	TableChange TableChange
}

type ListFilter struct {
	Status     Status
	TableID    *snowflake.ID
	ActiveOnly bool
	Limit      int
	Offset     int
}

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

func (f ListFilter) Normalize() ListFilter {
	if f.Limit <= 0 {
		f.Limit = defaultListLimit
	}
	if f.Limit > maxListLimit {
		f.Limit = maxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

func (f ListFilter) Matches(o Order) bool {
	if f.Status != "" && o.Status != f.Status {
		return false
	}
	if f.TableID != nil && (o.TableID == nil || *o.TableID != *f.TableID) {
		return false
	}
	if f.ActiveOnly && !o.Status.IsActive() {
		return false
	}
	return true
}

// Store is the authoritative, tenant-scoped home of orders and tables.
type Store interface {
	CreateTable(ctx context.Context, tenantID snowflake.ID, label string) (Table, error)
	GetTable(ctx context.Context, tenantID, tableID snowflake.ID) (Table, error)
	FindTableByQR(ctx context.Context, tenantID snowflake.ID, qrCode string) (Table, error)
	ListTables(ctx context.Context, tenantID snowflake.ID) ([]Table, error)
	// UpdateTableLabel relabels a table without touching its QR code or binding.
	UpdateTableLabel(ctx context.Context, tenantID, tableID snowflake.ID, label string) (Table, error)

	// Create stores a new Draft order at version 0. A draft bound to a table
	// claims it in the same atomic step or fails with ErrTableOccupied.
	Create(ctx context.Context, tenantID snowflake.ID, draft DraftOrder) (CommitResult, error)
	Get(ctx context.Context, tenantID, orderID snowflake.ID) (Order, error)
	// List returns orders newest first.
	List(ctx context.Context, tenantID snowflake.ID, filter ListFilter) ([]Order, error)
	// Commit applies mutate when expectedVersion matches the stored version and
	// writes the result at version+1. Reaching a terminal status releases the
	// table in the same atomic step.
	Commit(ctx context.Context, tenantID, orderID snowflake.ID, expectedVersion int64, mutate Mutator) (CommitResult, error)
}

// CheckMutation rejects mutators that touched fields owned by creation.
func CheckMutation(before, after Order) error {
	switch {
	case after.ID != before.ID,
		after.TenantID != before.TenantID,
		!sameID(after.TableID, before.TableID),
		after.Channel != before.Channel,
		after.Version != before.Version,
		after.Subtotal != before.Subtotal,
		after.Tax != before.Tax,
		after.Total != before.Total,
		after.TaxRateBps != before.TaxRateBps,
		!after.CreatedAt.Equal(before.CreatedAt),
		!slices.Equal(after.Items, before.Items):
		return ErrImmutableField
	}
	if len(after.History) < len(before.History) || !slices.Equal(after.History[:len(before.History)], before.History) {
		return ErrImmutableField
	}
	return nil
}

// MaxEstimatedMinutes bounds the kitchen's ready-time estimate to one day.
const MaxEstimatedMinutes = 24 * 60

// TransitionRequest is a named lifecycle step requested by a caller.
type TransitionRequest struct {
	Transition       Transition
	ExpectedVersion  int64
	Actor            string
	EstimatedMinutes int
}

func (r TransitionRequest) Validate() error {
	if r.EstimatedMinutes < 0 || r.EstimatedMinutes > MaxEstimatedMinutes {
		return fmt.Errorf("%w: %d", ErrInvalidEstimate, r.EstimatedMinutes)
	}
	return nil
}

// ApplyTransition returns the mutator that moves an order through t and
// records the step in its history.
func ApplyTransition(req TransitionRequest, now time.Time) Mutator {
	return func(o *Order) error {
		if err := req.Validate(); err != nil {
			return err
		}
		next, err := NextStatus(o.Status, req.Transition)
		if err != nil {
			return err
		}
		o.History = append(o.History, StatusChange{
			From:    o.Status,
			To:      next,
			Version: o.Version + 1,
			Actor:   req.Actor,
			At:      now,
		})
		o.Status = next
		if next == StatusPreparing && req.EstimatedMinutes > 0 {
			at := now.Add(time.Duration(req.EstimatedMinutes) * time.Minute)
			o.EstimatedReadyAt = &at
		}
		return nil
	}
}

// ValidateTableLabel trims and bounds a table label.
func ValidateTableLabel(label string) (string, error) {
	label = trimLabel(label)
	if label == "" || len(label) > 64 {
		return "", fmt.Errorf("%w: %q", ErrInvalidTableLabel, label)
	}
	return label, nil
}

func sameID(a, b *snowflake.ID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
