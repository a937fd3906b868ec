package subscription

import (
	"errors"

	"github.com/smallbiznis/waiterless/internal/errs"
)

var (
	ErrReplayGapDetected  = errs.ErrReplayGapDetected
	ErrConnectionNotFound = errs.New(errs.ErrNotFound, "connection_not_found")
	ErrNotSubscribed      = errs.New(errs.ErrNotFound, "not_subscribed")
	ErrConnectionExists   = errs.New(errs.ErrConflict, "connection_exists")
	ErrConnectionClosed   = errors.New("connection_closed")
	ErrSlowConsumer       = errors.New("slow_consumer")
)
