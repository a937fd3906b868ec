package domain

import "github.com/smallbiznis/waiterless/internal/errs"

var (
	ErrOrderNotFound      = errs.New(errs.ErrNotFound, "order_not_found")
	ErrTableNotFound      = errs.New(errs.ErrNotFound, "table_not_found")
	ErrInvalidTransition  = errs.ErrInvalidTransition
	ErrStaleVersion       = errs.ErrStaleVersion
	ErrTableOccupied      = errs.ErrTableOccupied
	ErrStorageUnavailable = errs.ErrStorageUnavailable

	ErrInvalidTransitionName = errs.New(errs.ErrInvalidRequest, "invalid_transition_name")
	ErrInvalidStatus         = errs.New(errs.ErrInvalidRequest, "invalid_status")
	ErrInvalidChannel        = errs.New(errs.ErrInvalidRequest, "invalid_channel")
	ErrInvalidOrderType      = errs.New(errs.ErrInvalidRequest, "invalid_order_type")
	ErrEmptyOrder            = errs.New(errs.ErrInvalidRequest, "empty_order")
	ErrInvalidLineItem       = errs.New(errs.ErrInvalidRequest, "invalid_line_item")
	ErrInvalidTableLabel     = errs.New(errs.ErrInvalidRequest, "invalid_table_label")
	ErrTableRequired         = errs.New(errs.ErrInvalidRequest, "table_required")
	ErrImmutableField        = errs.New(errs.ErrInvalidRequest, "immutable_field")
	ErrInvalidEstimate       = errs.New(errs.ErrInvalidRequest, "invalid_estimated_minutes")
	ErrTableLabelTaken       = errs.New(errs.ErrConflict, "table_label_taken")
)
