package app

import (
	"context"
	"fmt"
	"time"

	"github.com/evanschultz/poa/internal/domain"
)

// Stable demo request ids.
const (
	DemoPendingID   = "poa_demo_pending"
	DemoFailedID    = "poa_demo_failed"
	DemoFulfilledID = "poa_demo_fulfilled"
)

// DemoScenario builds one pending, one failed and one fulfilled request relative to now.
func DemoScenario(now time.Time) ([]domain.Request, error) {
	now = now.UTC()
	at := func(d time.Duration) *time.Time {
		ts := now.Add(d)
		return &ts
	}
	hashes := make([]string, 2)
	for i := range hashes {
		h, err := randomTxHash()
		if err != nil {
			return nil, fmt.Errorf("demo settlement id: %w", err)
		}
		hashes[i] = h
	}
	addr := domain.DemoAddresses
	day := 24 * time.Hour

	requests := []domain.Request{
		{
			ID:          DemoPendingID,
			Title:       "Approve Youth Development Fund Disbursement",
			Description: "Emergency allocation of $15,000 for community youth center renovation. Requires approval from all 3 treasury signatories before funds can be released.",
			Actors: []domain.Actor{
				{Address: addr[0], Label: "Treasury Lead", HasApproved: true, ApprovedAt: at(-time.Hour)},
				{Address: addr[1], Label: "Finance Officer"},
				{Address: domain.DemoUserAddress, Label: "Board Member (You)"},
			},
			Deadline:         now.Add(2 * time.Minute),
			MinimumApprovals: 3,
			CreatedAt:        now.Add(-day),
			CreatedBy:        addr[0],
			Status:           domain.StatusPending,
		},
		{
			ID:          DemoFailedID,
			Title:       "Ratify Q3 Financial Audit Report",
			Description: "Annual audit requires sign-off from compliance committee. Deadline was missed due to absent signatories.",
			Actors: []domain.Actor{
				{Address: addr[0], Label: "Compliance Chair", HasApproved: true, ApprovedAt: at(-2 * day)},
				{Address: addr[1], Label: "External Auditor"},
				{Address: addr[2], Label: "Board Secretary"},
			},
			Deadline:         now.Add(-time.Hour),
			MinimumApprovals: 3,
			CreatedAt:        now.Add(-7 * day),
			CreatedBy:        addr[0],
			Status:           domain.StatusFailed,
			TxHash:           hashes[0],
			FinalizedAt:      at(-time.Hour),
		},
		{
			ID:          DemoFulfilledID,
			Title:       "Approve Community Garden Expansion",
			Description: "All required stakeholders approved the allocation of city land for community garden expansion project.",
			Actors: []domain.Actor{
				{Address: addr[0], Label: "City Council Rep", HasApproved: true, ApprovedAt: at(-3 * day)},
				{Address: addr[1], Label: "Parks Director", HasApproved: true, ApprovedAt: at(-2 * day)},
				{Address: addr[2], Label: "Community Lead", HasApproved: true, ApprovedAt: at(-day)},
			},
			Deadline:         now.Add(-12 * time.Hour),
			MinimumApprovals: 2,
			CreatedAt:        now.Add(-7 * day),
			CreatedBy:        addr[2],
			Status:           domain.StatusFulfilled,
			TxHash:           hashes[1],
			FinalizedAt:      at(-day),
		},
	}
	for _, req := range requests {
		if err := req.Validate(); err != nil {
			return nil, fmt.Errorf("demo request %s: %w", req.ID, err)
		}
	}
	return requests, nil
}

// LoadDemoScenario replaces the whole collection with the demo requests.
func (e *Engine) LoadDemoScenario(ctx context.Context) ([]domain.Request, error) {
	now := e.clock()
	requests, err := DemoScenario(now)
	if err != nil {
		return nil, err
	}
	events := make([]domain.ChangeEvent, 0, len(requests))
	for _, req := range requests {
		events = append(events, e.changeEvent(ctx, req, domain.ChangeOperationReset, "", now))
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed.Load() {
		return nil, ErrClosed
	}
	for _, ent := range e.entries {
		ent.mu.Lock()
	}
	unlockAll := func() {
		for _, ent := range e.entries {
			ent.mu.Unlock()
		}
	}
	if err := e.repo.ReplaceAll(ctx, requests, events...); err != nil {
		unlockAll()
		return nil, fmt.Errorf("replace requests: %w", err)
	}
	for _, ent := range e.entries {
		ent.retired = true
	}
	unlockAll()

	e.order = make([]string, 0, len(requests))
	e.entries = make(map[string]*entry, len(requests))
	out := make([]domain.Request, 0, len(requests))
	for _, req := range requests {
		e.order = append(e.order, req.ID)
		e.entries[req.ID] = &entry{req: req}
		out = append(out, req.Clone())
	}
	e.sealMu.Lock()
	e.lastHash = ""
	e.sealMu.Unlock()
	e.publish(events...)

	e.logger.Info("demo scenario loaded", "requests", len(requests))
	return out, nil
}
