package domain

import "errors"

// Validation sentinels returned by NewRequest, in the order they are checked.
var (
	ErrInvalidID             = errors.New("invalid id")
	ErrEmptyTitle            = errors.New("title is required")
	ErrEmptyDescription      = errors.New("description is required")
	ErrNoActors              = errors.New("at least one actor is required")
	ErrEmptyActorAddress     = errors.New("actor address is required")
	ErrDuplicateActor        = errors.New("duplicate actor address")
	ErrDeadlineNotFuture     = errors.New("deadline must be in the future")
	ErrMinimumApprovalsRange = errors.New("minimum approvals must be between 1 and the number of actors")
)

// Lifecycle sentinels describe approvals and finalizations that cannot apply.
var (
	ErrInvalidStatus     = errors.New("invalid status")
	ErrUnauthorizedActor = errors.New("address is not an actor on this request")
	ErrAlreadyFinalized  = errors.New("request is already finalized")
	ErrAlreadyApproved   = errors.New("actor has already approved")
	ErrInvalidTxHash     = errors.New("invalid settlement identifier")
	ErrInvariant         = errors.New("request invariant violated")
)
