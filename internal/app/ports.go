package app

import (
	"context"
	"time"

	"github.com/evanschultz/poa/internal/domain"
)

// Repository persists requests and their activity log. SaveRequest and
// ReplaceAll write the request rows and events atomically.
type Repository interface {
	SaveRequest(context.Context, domain.Request, ...domain.ChangeEvent) error
	ListRequests(context.Context) ([]domain.Request, error)
	ReplaceAll(context.Context, []domain.Request, ...domain.ChangeEvent) error
	ListChangeEvents(context.Context, string, int) ([]domain.ChangeEvent, error)
	LatestSettlement(context.Context) (string, error)
}

// Confirmer models settlement confirmation latency. Confirm returns once the
// settlement is confirmed or ctx is done.
type Confirmer interface {
	Confirm(context.Context) error
}

// Sealer derives a settlement identifier for a finalization, chained to prev.
type Sealer interface {
	Seal(prev string, rec domain.Finalization) (string, error)
}

// SweepObserver receives timing for each completed sweep.
type SweepObserver interface {
	ObserveSweep(finalized int, elapsed time.Duration)
}

// Logger is the structured logging contract the engine writes to.
type Logger interface {
	Debug(msg any, keyvals ...any)
	Info(msg any, keyvals ...any)
	Warn(msg any, keyvals ...any)
	Error(msg any, keyvals ...any)
}
