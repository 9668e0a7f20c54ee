package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/evanschultz/poa/internal/domain"
)

// Engine defaults.
const (
	DefaultSweepInterval       = time.Second
	DefaultConfirmationTimeout = 10 * time.Second
	defaultSubscriberBuffer    = 64
)

// IDGenerator returns unique identifiers for new requests.
type IDGenerator func() string

// Clock returns the current time.
type Clock func() time.Time

// NewRequestID returns a short random request identifier.
func NewRequestID() string {
	return "poa_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// EngineConfig holds configuration and collaborators for the engine.
type EngineConfig struct {
	SweepInterval       time.Duration
	ConfirmationTimeout time.Duration
	SubscriberBuffer    int
	Confirmer           Confirmer
	Sealer              Sealer
	Observer            SweepObserver
	Logger              Logger
}

// CreateRequestInput holds input values for request creation.
type CreateRequestInput struct {
	Title            string
	Description      string
	Actors           []domain.ActorInput
	Deadline         time.Time
	MinimumApprovals int
	CreatedBy        string
}

// Engine owns the request collection and is its only mutation gateway.
//
// Lock order is e.mu, then entry.mu, then e.sealMu. Approve and the sweep
// serialize per request on entry.mu and re-check the pending status under it.
type Engine struct {
	repo      Repository
	idGen     IDGenerator
	clock     Clock
	confirmer Confirmer
	sealer    Sealer
	observer  SweepObserver
	logger    Logger
	cfg       EngineConfig

	mu      sync.RWMutex
	order   []string
	entries map[string]*entry

	sealMu   sync.Mutex
	lastHash string

	subMu      sync.Mutex
	subs       map[int]chan domain.ChangeEvent
	nextSub    int
	subsClosed bool

	closed    atomic.Bool
	startOnce sync.Once
	closeOnce sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// entry is the per-request mutation point.
type entry struct {
	mu      sync.Mutex
	req     domain.Request
	retired bool
}

// snapshot returns a deep copy of the committed request.
func (ent *entry) snapshot() domain.Request {
	ent.mu.Lock()
	defer ent.mu.Unlock()
	return ent.req.Clone()
}

// NewEngine constructs an engine. A nil repository keeps state in memory only.
func NewEngine(repo Repository, idGen IDGenerator, clock Clock, cfg EngineConfig) *Engine {
	if repo == nil {
		repo = memoryRepository{}
	}
	if idGen == nil {
		idGen = NewRequestID
	}
	if clock == nil {
		clock = time.Now
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	if cfg.ConfirmationTimeout <= 0 {
		cfg.ConfirmationTimeout = DefaultConfirmationTimeout
	}
	if cfg.SubscriberBuffer <= 0 {
		cfg.SubscriberBuffer = defaultSubscriberBuffer
	}
	if cfg.Sealer == nil {
		cfg.Sealer = randomSealer{}
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(io.Discard)
	}
	return &Engine{
		repo:      repo,
		idGen:     idGen,
		clock:     clock,
		confirmer: cfg.Confirmer,
		sealer:    cfg.Sealer,
		observer:  cfg.Observer,
		logger:    cfg.Logger,
		cfg:       cfg,
		entries:   map[string]*entry{},
		subs:      map[int]chan domain.ChangeEvent{},
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Load replaces in-memory state with the repository contents.
func (e *Engine) Load(ctx context.Context) error {
	requests, err := e.repo.ListRequests(ctx)
	if err != nil {
		return fmt.Errorf("list requests: %w", err)
	}
	head, err := e.repo.LatestSettlement(ctx)
	if err != nil {
		return fmt.Errorf("latest settlement: %w", err)
	}
	for _, req := range requests {
		if err := req.Validate(); err != nil {
			return fmt.Errorf("load request %q: %w", req.ID, err)
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.order = make([]string, 0, len(requests))
	e.entries = make(map[string]*entry, len(requests))
	for _, req := range requests {
		e.order = append(e.order, req.ID)
		e.entries[req.ID] = &entry{req: req}
	}
	e.sealMu.Lock()
	e.lastHash = head
	e.sealMu.Unlock()
	e.logger.Debug("engine state loaded", "requests", len(requests))
	return nil
}

// Start runs the periodic sweep until ctx is done or Close is called.
// A negative sweep interval disables it.
func (e *Engine) Start(ctx context.Context) {
	e.startOnce.Do(func() {
		if e.cfg.SweepInterval < 0 {
			close(e.done)
			return
		}
		go e.sweepLoop(ctx)
	})
}

// sweepLoop finalizes expired requests once per interval.
func (e *Engine) sweepLoop(ctx context.Context) {
	defer close(e.done)
	ticker := time.NewTicker(e.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stop:
			return
		case <-ticker.C:
			if _, err := e.Sweep(ctx, e.clock()); err != nil && ctx.Err() == nil {
				e.logger.Warn("sweep failed", "err", err)
			}
		}
	}
}

// Close stops the sweep loop and closes every subscription. Later mutations fail with ErrClosed.
func (e *Engine) Close() error {
	e.closed.Store(true)
	e.closeOnce.Do(func() { close(e.stop) })
	e.startOnce.Do(func() { close(e.done) })
	<-e.done

	e.subMu.Lock()
	defer e.subMu.Unlock()
	for id, ch := range e.subs {
		close(ch)
		delete(e.subs, id)
	}
	e.subsClosed = true
	return nil
}

// Create validates input, waits for settlement confirmation, and stores a new pending request.
func (e *Engine) Create(ctx context.Context, in CreateRequestInput) (domain.Request, error) {
	now := e.clock()
	req, err := domain.NewRequest(domain.RequestInput{
		ID:               e.idGen(),
		Title:            in.Title,
		Description:      in.Description,
		Actors:           in.Actors,
		Deadline:         in.Deadline,
		MinimumApprovals: in.MinimumApprovals,
		CreatedBy:        in.CreatedBy,
	}, now)
	if err != nil {
		return domain.Request{}, validationError(err)
	}
	if err := e.confirm(ctx); err != nil {
		return domain.Request{}, err
	}

	ev := e.changeEvent(ctx, req, domain.ChangeOperationCreate, req.CreatedBy, now)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed.Load() {
		return domain.Request{}, ErrClosed
	}
	if _, exists := e.entries[req.ID]; exists {
		return domain.Request{}, validationError(fmt.Errorf("%w: %s already exists", domain.ErrInvalidID, req.ID))
	}
	if err := e.repo.SaveRequest(ctx, req, ev); err != nil {
		return domain.Request{}, fmt.Errorf("save request %s: %w", req.ID, err)
	}
	ent := &entry{req: req}
	e.entries[req.ID] = ent
	e.order = append(e.order, req.ID)
	e.publish(ev)

	e.logger.Info("request created", "request_id", req.ID, "actors", len(req.Actors), "minimum_approvals", req.MinimumApprovals, "deadline", req.Deadline.Format(time.RFC3339))
	return req.Clone(), nil
}

// Approve records an approval from address and fulfills the request once the threshold is met.
func (e *Engine) Approve(ctx context.Context, requestID, address string) (domain.Request, error) {
	ent, err := e.lookup(requestID)
	if err != nil {
		return domain.Request{}, err
	}
	if err := ent.snapshot().CanApprove(address); err != nil {
		return domain.Request{}, err
	}
	if err := e.confirm(ctx); err != nil {
		return domain.Request{}, err
	}

	// A demo reload retires entries; follow the id to its replacement.
	ent.mu.Lock()
	for ent.retired {
		ent.mu.Unlock()
		if ent, err = e.lookup(requestID); err != nil {
			return domain.Request{}, err
		}
		ent.mu.Lock()
	}
	defer ent.mu.Unlock()
	if e.closed.Load() {
		return domain.Request{}, ErrClosed
	}
	now := e.clock()
	if ent.req.Status == domain.StatusPending && ent.req.Expired(now) {
		// The deadline won before this approval reached the mutation point.
		if _, err := e.finalizeLocked(ctx, ent, ent.req.Clone(), ent.req.Outcome(), now, nil); err != nil {
			return domain.Request{}, err
		}
		return domain.Request{}, ErrAlreadyFinalized
	}
	next := ent.req.Clone()
	if err := next.Approve(address, now); err != nil {
		return domain.Request{}, err
	}
	actor, _ := next.ActorByAddress(address)
	events := []domain.ChangeEvent{e.changeEvent(ctx, next, domain.ChangeOperationApprove, actor.Address, now)}

	if next.ThresholdMet() {
		next, err = e.finalizeLocked(ctx, ent, next, domain.StatusFulfilled, now, events)
		if err != nil {
			return domain.Request{}, err
		}
	} else if err := e.apply(ctx, ent, next, events); err != nil {
		return domain.Request{}, err
	}

	e.logger.Info("request approved", "request_id", next.ID, "actor", actor.Address, "approved", next.ApprovedCount(), "minimum_approvals", next.MinimumApprovals, "status", next.Status)
	return next.Clone(), nil
}

// Sweep finalizes every pending request whose deadline is strictly before now.
// It returns the transitioned ids in insertion order.
func (e *Engine) Sweep(ctx context.Context, now time.Time) ([]string, error) {
	started := time.Now()
	e.mu.RLock()
	ents := make([]*entry, 0, len(e.order))
	for _, id := range e.order {
		ents = append(ents, e.entries[id])
	}
	e.mu.RUnlock()

	var (
		transitioned []string
		errs         []error
	)
	for _, ent := range ents {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		id, err := e.sweepEntry(ctx, ent, now)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if id != "" {
			transitioned = append(transitioned, id)
		}
	}

	if e.observer != nil {
		e.observer.ObserveSweep(len(transitioned), time.Since(started))
	}
	if len(transitioned) > 0 {
		e.logger.Info("sweep finalized requests", "count", len(transitioned), "ids", strings.Join(transitioned, ","))
	}
	return transitioned, errors.Join(errs...)
}

// sweepEntry finalizes one request if it is pending and expired.
func (e *Engine) sweepEntry(ctx context.Context, ent *entry, now time.Time) (string, error) {
	ent.mu.Lock()
	defer ent.mu.Unlock()
	if ent.retired || ent.req.Status != domain.StatusPending || !ent.req.Expired(now) {
		return "", nil
	}
	next, err := e.finalizeLocked(ctx, ent, ent.req.Clone(), ent.req.Outcome(), now, nil)
	if err != nil {
		return "", err
	}
	return next.ID, nil
}

// Get returns the latest committed snapshot of a request.
func (e *Engine) Get(_ context.Context, id string) (domain.Request, error) {
	ent, err := e.lookup(id)
	if err != nil {
		return domain.Request{}, err
	}
	return ent.snapshot(), nil
}

// List returns request snapshots in insertion order.
func (e *Engine) List(_ context.Context) ([]domain.Request, error) {
	e.mu.RLock()
	ents := make([]*entry, 0, len(e.order))
	for _, id := range e.order {
		ents = append(ents, e.entries[id])
	}
	e.mu.RUnlock()

	out := make([]domain.Request, 0, len(ents))
	for _, ent := range ents {
		out = append(out, ent.snapshot())
	}
	return out, nil
}

// Summary computes analytics over the current collection.
func (e *Engine) Summary(ctx context.Context) (domain.Summary, error) {
	requests, err := e.List(ctx)
	if err != nil {
		return domain.Summary{}, err
	}
	return domain.Summarize(requests), nil
}

// History lists the newest change events for one request.
func (e *Engine) History(ctx context.Context, requestID string, limit int) ([]domain.ChangeEvent, error) {
	if _, err := e.lookup(requestID); err != nil {
		return nil, err
	}
	return e.repo.ListChangeEvents(ctx, strings.TrimSpace(requestID), limit)
}

// Subscribe registers a change-notification channel. Notifications are
// dropped, not queued, when the buffer is full. The returned func unsubscribes.
func (e *Engine) Subscribe(buffer int) (<-chan domain.ChangeEvent, func()) {
	if buffer <= 0 {
		buffer = e.cfg.SubscriberBuffer
	}
	ch := make(chan domain.ChangeEvent, buffer)

	e.subMu.Lock()
	defer e.subMu.Unlock()
	if e.subsClosed {
		close(ch)
		return ch, func() {}
	}
	id := e.nextSub
	e.nextSub++
	e.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			e.subMu.Lock()
			defer e.subMu.Unlock()
			if c, ok := e.subs[id]; ok {
				delete(e.subs, id)
				close(c)
			}
		})
	}
}

// publish fans events out to subscribers without blocking.
func (e *Engine) publish(events ...domain.ChangeEvent) {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	for _, ev := range events {
		for id, ch := range e.subs {
			select {
			case ch <- ev:
			default:
				e.logger.Warn("change notification dropped", "subscriber", id, "request_id", ev.RequestID, "operation", ev.Operation)
			}
		}
	}
}

// lookup resolves the mutation point for id.
func (e *Engine) lookup(id string) (*entry, error) {
	id = strings.TrimSpace(id)
	e.mu.RLock()
	ent, ok := e.entries[id]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("request %q: %w", id, ErrNotFound)
	}
	return ent, nil
}

// confirm waits for settlement confirmation, bounded by the configured timeout.
func (e *Engine) confirm(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.confirmer == nil {
		return nil
	}
	cctx, cancel := context.WithTimeout(ctx, e.cfg.ConfirmationTimeout)
	defer cancel()
	err := e.confirmer.Confirm(cctx)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w after %s", ErrTimedOut, e.cfg.ConfirmationTimeout)
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		return fmt.Errorf("confirm settlement: %w", err)
	}
}

// finalizeLocked seals a terminal transition and applies it. Caller holds ent.mu.
func (e *Engine) finalizeLocked(ctx context.Context, ent *entry, next domain.Request, status domain.Status, now time.Time, events []domain.ChangeEvent) (domain.Request, error) {
	e.sealMu.Lock()
	defer e.sealMu.Unlock()

	hash, err := e.sealer.Seal(e.lastHash, next.FinalizationRecord(status, now))
	if err != nil {
		return domain.Request{}, fmt.Errorf("seal request %s: %w", next.ID, err)
	}
	if err := next.Finalize(status, hash, now); err != nil {
		return domain.Request{}, err
	}
	events = append(events, e.changeEvent(ctx, next, domain.ChangeOperationFinalize, "", now))
	if err := e.apply(ctx, ent, next, events); err != nil {
		return domain.Request{}, err
	}
	e.lastHash = hash

	e.logger.Info("request finalized", "request_id", next.ID, "status", next.Status, "approved", next.ApprovedCount(), "minimum_approvals", next.MinimumApprovals, "tx_hash", hash)
	return next, nil
}

// apply persists next with its events and swaps it in. Caller holds ent.mu.
func (e *Engine) apply(ctx context.Context, ent *entry, next domain.Request, events []domain.ChangeEvent) error {
	if err := next.Validate(); err != nil {
		return fmt.Errorf("apply request %s: %w", next.ID, err)
	}
	if err := e.repo.SaveRequest(ctx, next, events...); err != nil {
		e.logger.Error("persist request failed", "request_id", next.ID, "err", err)
		return fmt.Errorf("save request %s: %w", next.ID, err)
	}
	ent.req = next
	e.publish(events...)
	return nil
}

// changeEvent builds an activity entry attributed to the context's mutation source.
func (e *Engine) changeEvent(ctx context.Context, req domain.Request, op domain.ChangeOperation, actor string, now time.Time) domain.ChangeEvent {
	meta := MutationSourceFromContext(ctx).metadata()
	if op == domain.ChangeOperationFinalize {
		meta["tx_hash"] = req.TxHash
	}
	return domain.ChangeEvent{
		RequestID:  req.ID,
		Operation:  op,
		Status:     req.Status,
		Actor:      actor,
		Metadata:   meta,
		OccurredAt: now.UTC(),
	}
}

// randomSealer issues unchained random identifiers.
type randomSealer struct{}

// Seal returns 32 random bytes as hex.
func (randomSealer) Seal(string, domain.Finalization) (string, error) {
	return randomTxHash()
}

// randomTxHash returns a random 64-character hex identifier.
func randomTxHash() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// memoryRepository discards writes for engines without durable storage.
type memoryRepository struct{}

func (memoryRepository) SaveRequest(context.Context, domain.Request, ...domain.ChangeEvent) error {
	return nil
}

func (memoryRepository) ListRequests(context.Context) ([]domain.Request, error) { return nil, nil }

func (memoryRepository) ReplaceAll(context.Context, []domain.Request, ...domain.ChangeEvent) error {
	return nil
}

func (memoryRepository) ListChangeEvents(context.Context, string, int) ([]domain.ChangeEvent, error) {
	return nil, nil
}

func (memoryRepository) LatestSettlement(context.Context) (string, error) { return "", nil }
