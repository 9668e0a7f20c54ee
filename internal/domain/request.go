package domain

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"
)

// Status identifies where a request sits in its lifecycle.
type Status string

// Status values. Pending is the only non-terminal state.
const (
	StatusPending   Status = "pending"
	StatusFulfilled Status = "fulfilled"
	StatusFailed    Status = "failed"
)

// validStatuses stores supported status values.
var validStatuses = []Status{StatusPending, StatusFulfilled, StatusFailed}

// txHashPattern matches settlement identifiers: 64 lowercase hex characters.
var txHashPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// NormalizeStatus trims and lowercases a status value.
func NormalizeStatus(s Status) Status {
	return Status(strings.ToLower(strings.TrimSpace(string(s))))
}

// IsValidStatus reports whether s is a known status.
func IsValidStatus(s Status) bool {
	return slices.Contains(validStatuses, NormalizeStatus(s))
}

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusFulfilled || s == StatusFailed
}

// IsValidTxHash reports whether v has the settlement identifier shape.
func IsValidTxHash(v string) bool {
	return txHashPattern.MatchString(v)
}

// Actor is a party whose approval counts toward a request's threshold.
type Actor struct {
	Address     string
	Label       string
	HasApproved bool
	ApprovedAt  *time.Time
}

// ActorInput holds the caller-supplied fields for one actor.
type ActorInput struct {
	Address string
	Label   string
}

// Request is a deadline-bound call for approvals from a fixed set of actors.
type Request struct {
	ID               string
	Title            string
	Description      string
	Actors           []Actor
	Deadline         time.Time
	MinimumApprovals int
	CreatedAt        time.Time
	CreatedBy        string
	Status           Status
	TxHash           string
	FinalizedAt      *time.Time
}

// RequestInput holds input values for request creation.
type RequestInput struct {
	ID               string
	Title            string
	Description      string
	Actors           []ActorInput
	Deadline         time.Time
	MinimumApprovals int
	CreatedBy        string
}

// NewRequest validates input and constructs a pending request with every actor unapproved.
func NewRequest(in RequestInput, now time.Time) (Request, error) {
	in.ID = strings.TrimSpace(in.ID)
	if in.ID == "" {
		return Request{}, ErrInvalidID
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return Request{}, ErrEmptyTitle
	}
	description := strings.TrimSpace(in.Description)
	if description == "" {
		return Request{}, ErrEmptyDescription
	}
	if len(in.Actors) == 0 {
		return Request{}, ErrNoActors
	}

	actors := make([]Actor, 0, len(in.Actors))
	seen := make(map[string]struct{}, len(in.Actors))
	for _, a := range in.Actors {
		addr := strings.TrimSpace(a.Address)
		if addr == "" {
			return Request{}, ErrEmptyActorAddress
		}
		if _, ok := seen[addr]; ok {
			return Request{}, fmt.Errorf("%w: %s", ErrDuplicateActor, addr)
		}
		seen[addr] = struct{}{}
		actors = append(actors, Actor{
			Address: addr,
			Label:   strings.TrimSpace(a.Label),
		})
	}

	if !in.Deadline.After(now) {
		return Request{}, ErrDeadlineNotFuture
	}
	if in.MinimumApprovals < 1 || in.MinimumApprovals > len(actors) {
		return Request{}, ErrMinimumApprovalsRange
	}

	return Request{
		ID:               in.ID,
		Title:            title,
		Description:      description,
		Actors:           actors,
		Deadline:         in.Deadline.UTC(),
		MinimumApprovals: in.MinimumApprovals,
		CreatedAt:        now.UTC(),
		CreatedBy:        strings.TrimSpace(in.CreatedBy),
		Status:           StatusPending,
	}, nil
}

// ApprovedCount returns the number of actors that have approved.
func (r Request) ApprovedCount() int {
	n := 0
	for _, a := range r.Actors {
		if a.HasApproved {
			n++
		}
	}
	return n
}

// Approvers returns approving actor addresses in actor order.
func (r Request) Approvers() []string {
	out := make([]string, 0, len(r.Actors))
	for _, a := range r.Actors {
		if a.HasApproved {
			out = append(out, a.Address)
		}
	}
	return out
}

// ThresholdMet reports whether enough actors have approved.
func (r Request) ThresholdMet() bool {
	return r.ApprovedCount() >= r.MinimumApprovals
}

// Expired reports whether now is strictly past the deadline.
func (r Request) Expired(now time.Time) bool {
	return now.After(r.Deadline)
}

// Outcome returns the terminal status the request would take if finalized now.
func (r Request) Outcome() Status {
	if r.ThresholdMet() {
		return StatusFulfilled
	}
	return StatusFailed
}

// ActorByAddress finds an actor by exact address match.
func (r Request) ActorByAddress(address string) (Actor, bool) {
	idx := r.actorIndex(address)
	if idx < 0 {
		return Actor{}, false
	}
	return r.Actors[idx], true
}

// actorIndex returns the actor position for address, or -1.
func (r Request) actorIndex(address string) int {
	for i, a := range r.Actors {
		if a.Address == address {
			return i
		}
	}
	return -1
}

// CanApprove reports why address could not approve right now, or nil.
func (r Request) CanApprove(address string) error {
	if r.Status != StatusPending {
		return ErrAlreadyFinalized
	}
	idx := r.actorIndex(address)
	if idx < 0 {
		return ErrUnauthorizedActor
	}
	if r.Actors[idx].HasApproved {
		return ErrAlreadyApproved
	}
	return nil
}

// Approve records an approval from address. It does not finalize; callers
// check ThresholdMet and call Finalize with a settlement identifier.
func (r *Request) Approve(address string, now time.Time) error {
	if err := r.CanApprove(address); err != nil {
		return err
	}
	idx := r.actorIndex(address)
	ts := now.UTC()
	r.Actors[idx].HasApproved = true
	r.Actors[idx].ApprovedAt = &ts
	return nil
}

// Finalize moves a pending request to a terminal status.
func (r *Request) Finalize(status Status, txHash string, now time.Time) error {
	if r.Status != StatusPending {
		return ErrAlreadyFinalized
	}
	if !status.Terminal() {
		return ErrInvalidStatus
	}
	if !IsValidTxHash(txHash) {
		return ErrInvalidTxHash
	}
	ts := now.UTC()
	r.Status = status
	r.TxHash = txHash
	r.FinalizedAt = &ts
	return nil
}

// Finalization is the record sealed into a settlement identifier.
type Finalization struct {
	RequestID        string    `json:"request_id"`
	Status           Status    `json:"status"`
	Approvers        []string  `json:"approvers"`
	MinimumApprovals int       `json:"minimum_approvals"`
	TotalActors      int       `json:"total_actors"`
	Deadline         time.Time `json:"deadline"`
	FinalizedAt      time.Time `json:"finalized_at"`
}

// FinalizationRecord describes the transition to status at now.
func (r Request) FinalizationRecord(status Status, now time.Time) Finalization {
	return Finalization{
		RequestID:        r.ID,
		Status:           status,
		Approvers:        r.Approvers(),
		MinimumApprovals: r.MinimumApprovals,
		TotalActors:      len(r.Actors),
		Deadline:         r.Deadline.UTC(),
		FinalizedAt:      now.UTC(),
	}
}

// Validate checks the structural invariants of a stored request.
func (r Request) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return ErrInvalidID
	}
	if !IsValidStatus(r.Status) {
		return ErrInvalidStatus
	}
	if len(r.Actors) == 0 {
		return ErrNoActors
	}
	if r.MinimumApprovals < 1 || r.MinimumApprovals > len(r.Actors) {
		return ErrMinimumApprovalsRange
	}
	seen := make(map[string]struct{}, len(r.Actors))
	for _, a := range r.Actors {
		if a.Address == "" {
			return ErrEmptyActorAddress
		}
		if _, ok := seen[a.Address]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateActor, a.Address)
		}
		seen[a.Address] = struct{}{}
		if a.HasApproved != (a.ApprovedAt != nil) {
			return fmt.Errorf("%w: approval timestamp mismatch for %s", ErrInvariant, a.Address)
		}
	}
	terminal := r.Status.Terminal()
	if terminal != (r.TxHash != "") || terminal != (r.FinalizedAt != nil) {
		return fmt.Errorf("%w: settlement fields must be set only on terminal requests", ErrInvariant)
	}
	if r.Status == StatusFulfilled && !r.ThresholdMet() {
		return fmt.Errorf("%w: fulfilled below threshold", ErrInvariant)
	}
	return nil
}

// Clone returns a deep copy safe to hand to callers.
func (r Request) Clone() Request {
	out := r
	out.Actors = make([]Actor, len(r.Actors))
	for i, a := range r.Actors {
		out.Actors[i] = a
		if a.ApprovedAt != nil {
			ts := *a.ApprovedAt
			out.Actors[i].ApprovedAt = &ts
		}
	}
	if r.FinalizedAt != nil {
		ts := *r.FinalizedAt
		out.FinalizedAt = &ts
	}
	return out
}
