package wallet

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/evanschultz/poa/internal/domain"
)

// Network identifies the settlement network an identity is connected to.
type Network string

// Network values.
const (
	NetworkTestnet Network = "testnet"
	NetworkMainnet Network = "mainnet"
)

// Wallet errors.
var (
	ErrNotConnected   = errors.New("connect a wallet first")
	ErrConnecting     = errors.New("wallet connection already in progress")
	ErrInvalidNetwork = errors.New("invalid network")
)

// Identity is the connected actor address, or the zero value when disconnected.
type Identity struct {
	Address   string
	Network   Network
	Connected bool
}

// IsMainnet reports whether the identity points at mainnet.
func (i Identity) IsMainnet() bool {
	return i.Connected && i.Network == NetworkMainnet
}

// Store persists the identity across restarts.
type Store interface {
	SaveIdentity(address, network string) error
}

// Config holds wallet simulation settings.
type Config struct {
	Delay   time.Duration
	Address string
}

// Wallet is a simulated identity provider.
type Wallet struct {
	mu         sync.Mutex
	current    Identity
	connecting bool
	store      Store
	delay      time.Duration
	address    string
}

// ParseNetwork normalizes a network name; empty means testnet.
func ParseNetwork(raw string) (Network, error) {
	switch Network(strings.ToLower(strings.TrimSpace(raw))) {
	case "", NetworkTestnet:
		return NetworkTestnet, nil
	case NetworkMainnet:
		return NetworkMainnet, nil
	default:
		return "", fmt.Errorf("%w %q", ErrInvalidNetwork, raw)
	}
}

// New restores a wallet from a persisted address and network. A nil store keeps the identity in memory.
func New(address, network string, store Store, cfg Config) *Wallet {
	if strings.TrimSpace(cfg.Address) == "" {
		cfg.Address = domain.DemoUserAddress
	}
	w := &Wallet{store: store, delay: cfg.Delay, address: strings.TrimSpace(cfg.Address)}
	address = strings.TrimSpace(address)
	if address != "" {
		n, err := ParseNetwork(network)
		if err != nil {
			n = NetworkTestnet
		}
		w.current = Identity{Address: address, Network: n, Connected: true}
	}
	return w
}

// Current returns the connected identity.
func (w *Wallet) Current() Identity {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Connecting reports whether a connection handshake is in flight.
func (w *Wallet) Connecting() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.connecting
}

// Address returns the connected address or ErrNotConnected.
func (w *Wallet) Address() (string, error) {
	id := w.Current()
	if !id.Connected {
		return "", ErrNotConnected
	}
	return id.Address, nil
}

// Connect simulates a wallet handshake on network and persists the result.
func (w *Wallet) Connect(ctx context.Context, network Network) (Identity, error) {
	if network == "" {
		network = NetworkTestnet
	}
	if network != NetworkTestnet && network != NetworkMainnet {
		return Identity{}, fmt.Errorf("%w %q", ErrInvalidNetwork, network)
	}

	w.mu.Lock()
	if w.connecting {
		w.mu.Unlock()
		return Identity{}, ErrConnecting
	}
	w.connecting = true
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		w.connecting = false
		w.mu.Unlock()
	}()

	if w.delay > 0 {
		timer := time.NewTimer(w.delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return Identity{}, ctx.Err()
		}
	}

	id := Identity{Address: w.address, Network: network, Connected: true}
	if w.store != nil {
		if err := w.store.SaveIdentity(id.Address, string(id.Network)); err != nil {
			return Identity{}, fmt.Errorf("persist identity: %w", err)
		}
	}
	w.mu.Lock()
	w.current = id
	w.mu.Unlock()
	return id, nil
}

// Disconnect clears the identity.
func (w *Wallet) Disconnect() error {
	if w.store != nil {
		if err := w.store.SaveIdentity("", ""); err != nil {
			return fmt.Errorf("persist identity: %w", err)
		}
	}
	w.mu.Lock()
	w.current = Identity{}
	w.mu.Unlock()
	return nil
}
