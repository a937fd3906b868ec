// Package errs holds the error taxonomy shared by the order lifecycle engine.
//
// Domain packages derive their specific sentinels from these kinds with %w so
// callers can branch on the kind with errors.Is while logs keep the precise name.
package errs

import (
	"context"
	"errors"
)

var (
	ErrNotFound           = errors.New("not_found")
	ErrTenantInactive     = errors.New("tenant_inactive")
	ErrInvalidTransition  = errors.New("invalid_transition")
	ErrStaleVersion       = errors.New("stale_version")
	ErrTableOccupied      = errors.New("table_occupied")
	ErrReplayGapDetected  = errors.New("replay_gap_detected")
	ErrStorageUnavailable = errors.New("storage_unavailable")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrConflict           = errors.New("conflict")
)

type codedError struct {
	code string
	kind error
}

func (e *codedError) Error() string { return e.code }

func (e *codedError) Unwrap() error { return e.kind }

// New returns a sentinel named code that matches kind under errors.Is.
func New(kind error, code string) error {
	return &codedError{code: code, kind: kind}
}

// IsLogical reports whether err is an outcome the caller must decide on.
// Logical errors are never retried automatically.
func IsLogical(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrTenantInactive),
		errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrStaleVersion),
		errors.Is(err, ErrTableOccupied),
		errors.Is(err, ErrReplayGapDetected),
		errors.Is(err, ErrInvalidRequest),
		errors.Is(err, ErrConflict),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return true
	default:
		return false
	}
}

// Kind returns the taxonomy name for err, or "internal_error" when err does not
// belong to a known kind.
func Kind(err error) string {
	for _, kind := range []error{
		ErrNotFound,
		ErrTenantInactive,
		ErrInvalidTransition,
		ErrStaleVersion,
		ErrTableOccupied,
		ErrReplayGapDetected,
		ErrStorageUnavailable,
		ErrInvalidRequest,
		ErrConflict,
	} {
		if errors.Is(err, kind) {
			return kind.Error()
		}
	}
	return "internal_error"
}

// Code returns the precise sentinel name carried by err, falling back to Kind.
func Code(err error) string {
	var coded *codedError
	if errors.As(err, &coded) {
		return coded.code
	}
	return Kind(err)
}
