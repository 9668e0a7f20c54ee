package settlement

import (
	"context"
	"time"
)

// SimulatedConfirmer stands in for waiting on a settlement network.
type SimulatedConfirmer struct {
	Delay time.Duration
}

// Confirm waits Delay or until ctx is done.
func (c SimulatedConfirmer) Confirm(ctx context.Context) error {
	if c.Delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(c.Delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
