package tui

import (
	"time"

	"github.com/atotto/clipboard"
)

// Option configures a Model.
type Option func(*Model)

// DefaultRefreshInterval is how often the dashboard re-reads the engine.
const DefaultRefreshInterval = time.Second

// WithClock overrides the time source used for countdowns.
func WithClock(now func() time.Time) Option {
	return func(m *Model) {
		if now != nil {
			m.now = now
		}
	}
}

// WithRefreshInterval sets the polling interval. Zero disables polling.
func WithRefreshInterval(d time.Duration) Option {
	return func(m *Model) {
		if d >= 0 {
			m.refreshEvery = d
		}
	}
}

// WithWallet attaches the identity used for approvals.
func WithWallet(w Wallet) Option {
	return func(m *Model) {
		m.wallet = w
	}
}

// WithClipboard overrides how request ids are copied.
func WithClipboard(write func(string) error) Option {
	return func(m *Model) {
		if write != nil {
			m.copy = write
		}
	}
}

// systemClipboard writes to the OS clipboard.
func systemClipboard(text string) error {
	return clipboard.WriteAll(text)
}
