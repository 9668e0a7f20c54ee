// Package common provides transport-agnostic server contracts used by HTTP and MCP adapters.
package common

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/evanschultz/poa/internal/app"
	"github.com/evanschultz/poa/internal/domain"
)

// ErrInvalidBody reports malformed transport payloads.
var ErrInvalidBody = errors.New("invalid request body")

// Service is the engine surface the transports need.
type Service interface {
	Create(context.Context, app.CreateRequestInput) (domain.Request, error)
	Approve(ctx context.Context, requestID, address string) (domain.Request, error)
	Get(ctx context.Context, id string) (domain.Request, error)
	List(context.Context) ([]domain.Request, error)
	Summary(context.Context) (domain.Summary, error)
	History(ctx context.Context, requestID string, limit int) ([]domain.ChangeEvent, error)
	Subscribe(buffer int) (<-chan domain.ChangeEvent, func())
	LoadDemoScenario(context.Context) ([]domain.Request, error)
}

// ActorView is the wire shape of one actor.
type ActorView struct {
	Address     string     `json:"address"`
	Label       string     `json:"label,omitempty"`
	HasApproved bool       `json:"has_approved"`
	ApprovedAt  *time.Time `json:"approved_at,omitempty"`
}

// RequestView is the wire shape of one request.
type RequestView struct {
	ID               string      `json:"id"`
	Title            string      `json:"title"`
	Description      string      `json:"description"`
	Actors           []ActorView `json:"actors"`
	Deadline         time.Time   `json:"deadline"`
	MinimumApprovals int         `json:"minimum_approvals"`
	ApprovedCount    int         `json:"approved_count"`
	CreatedAt        time.Time   `json:"created_at"`
	CreatedBy        string      `json:"created_by,omitempty"`
	Status           string      `json:"status"`
	TxHash           string      `json:"tx_hash,omitempty"`
	FinalizedAt      *time.Time  `json:"finalized_at,omitempty"`
}

// NewRequestView maps a domain request to its wire shape.
func NewRequestView(req domain.Request) RequestView {
	actors := make([]ActorView, 0, len(req.Actors))
	for _, a := range req.Actors {
		actors = append(actors, ActorView{
			Address:     a.Address,
			Label:       a.Label,
			HasApproved: a.HasApproved,
			ApprovedAt:  a.ApprovedAt,
		})
	}
	return RequestView{
		ID:               req.ID,
		Title:            req.Title,
		Description:      req.Description,
		Actors:           actors,
		Deadline:         req.Deadline,
		MinimumApprovals: req.MinimumApprovals,
		ApprovedCount:    req.ApprovedCount(),
		CreatedAt:        req.CreatedAt,
		CreatedBy:        req.CreatedBy,
		Status:           string(req.Status),
		TxHash:           req.TxHash,
		FinalizedAt:      req.FinalizedAt,
	}
}

// NewRequestViews maps a request slice, never returning nil.
func NewRequestViews(reqs []domain.Request) []RequestView {
	out := make([]RequestView, 0, len(reqs))
	for _, req := range reqs {
		out = append(out, NewRequestView(req))
	}
	return out
}

// SummaryView is the wire shape of the analytics summary.
type SummaryView struct {
	Total             int     `json:"total"`
	Pending           int     `json:"pending"`
	Fulfilled         int     `json:"fulfilled"`
	Failed            int     `json:"failed"`
	TotalActors       int     `json:"total_actors"`
	ApprovedActors    int     `json:"approved_actors"`
	ApprovalRate      int     `json:"approval_rate"`
	ActorResponseRate int     `json:"actor_response_rate"`
	AverageApprovals  float64 `json:"average_approvals"`
}

// NewSummaryView maps a domain summary.
func NewSummaryView(s domain.Summary) SummaryView {
	return SummaryView(s)
}

// EventView is the wire shape of one change event.
type EventView struct {
	ID         int64             `json:"id,omitempty"`
	RequestID  string            `json:"request_id"`
	Operation  string            `json:"operation"`
	Status     string            `json:"status"`
	Actor      string            `json:"actor,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// NewEventView maps a change event.
func NewEventView(ev domain.ChangeEvent) EventView {
	return EventView{
		ID:         ev.ID,
		RequestID:  ev.RequestID,
		Operation:  string(ev.Operation),
		Status:     string(ev.Status),
		Actor:      ev.Actor,
		Metadata:   ev.Metadata,
		OccurredAt: ev.OccurredAt,
	}
}

// CreateActorBody is one actor in a create payload.
type CreateActorBody struct {
	Address string `json:"address"`
	Label   string `json:"label,omitempty"`
}

// CreateRequestBody is the create payload shared by REST and MCP.
type CreateRequestBody struct {
	Title            string            `json:"title"`
	Description      string            `json:"description"`
	Actors           []CreateActorBody `json:"actors"`
	Deadline         time.Time         `json:"deadline"`
	MinimumApprovals int               `json:"minimum_approvals"`
	CreatedBy        string            `json:"created_by,omitempty"`
}

// Input converts the payload to engine input.
func (b CreateRequestBody) Input() app.CreateRequestInput {
	actors := make([]domain.ActorInput, 0, len(b.Actors))
	for _, a := range b.Actors {
		actors = append(actors, domain.ActorInput{Address: a.Address, Label: a.Label})
	}
	return app.CreateRequestInput{
		Title:            b.Title,
		Description:      b.Description,
		Actors:           actors,
		Deadline:         b.Deadline,
		MinimumApprovals: b.MinimumApprovals,
		CreatedBy:        strings.TrimSpace(b.CreatedBy),
	}
}

// ApproveBody is the approve payload.
type ApproveBody struct {
	ActorAddress string `json:"actor_address"`
}

// Error codes shared by every transport.
const (
	CodeInvalidRequest    = "invalid_request"
	CodeNotFound          = "not_found"
	CodeUnauthorizedActor = "unauthorized_actor"
	CodeAlreadyFinalized  = "already_finalized"
	CodeAlreadyApproved   = "already_approved"
	CodeTimedOut          = "timed_out"
	CodeUnavailable       = "service_unavailable"
	CodeInternal          = "internal_error"
)

// ErrorCode maps an engine error to a transport code and HTTP status.
func ErrorCode(err error) (string, int) {
	switch {
	case err == nil:
		return CodeInternal, http.StatusInternalServerError
	case errors.Is(err, ErrInvalidBody), errors.Is(err, app.ErrValidation):
		return CodeInvalidRequest, http.StatusBadRequest
	case errors.Is(err, app.ErrNotFound):
		return CodeNotFound, http.StatusNotFound
	case errors.Is(err, app.ErrUnauthorizedActor):
		return CodeUnauthorizedActor, http.StatusForbidden
	case errors.Is(err, app.ErrAlreadyFinalized):
		return CodeAlreadyFinalized, http.StatusConflict
	case errors.Is(err, app.ErrAlreadyApproved):
		return CodeAlreadyApproved, http.StatusConflict
	case errors.Is(err, app.ErrTimedOut):
		return CodeTimedOut, http.StatusGatewayTimeout
	case errors.Is(err, app.ErrClosed):
		return CodeUnavailable, http.StatusServiceUnavailable
	default:
		return CodeInternal, http.StatusInternalServerError
	}
}

// ResolveDeadline picks an absolute RFC3339 deadline or one relative to now, never both.
func ResolveDeadline(absolute, relative string, now time.Time) (time.Time, error) {
	absolute = strings.TrimSpace(absolute)
	relative = strings.TrimSpace(relative)
	switch {
	case absolute != "" && relative != "":
		return time.Time{}, errors.New("set deadline or deadline_in, not both")
	case absolute != "":
		deadline, err := time.Parse(time.RFC3339, absolute)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse deadline: %w", err)
		}
		return deadline, nil
	case relative != "":
		d, err := time.ParseDuration(relative)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse deadline_in: %w", err)
		}
		return now.Add(d), nil
	default:
		return time.Time{}, errors.New(`required argument "deadline" not found`)
	}
}
