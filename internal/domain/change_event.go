package domain

import "time"

// ChangeOperation describes a persisted activity operation for a request.
type ChangeOperation string

// ChangeOperation values used by the local activity ledger.
const (
	ChangeOperationCreate   ChangeOperation = "create"
	ChangeOperationApprove  ChangeOperation = "approve"
	ChangeOperationFinalize ChangeOperation = "finalize"
	ChangeOperationReset    ChangeOperation = "reset"
)

// ChangeEvent represents a single activity-log entry for a request.
type ChangeEvent struct {
	ID         int64
	RequestID  string
	Operation  ChangeOperation
	Status     Status
	Actor      string
	Metadata   map[string]string
	OccurredAt time.Time
}
