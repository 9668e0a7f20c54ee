// Package httpapi provides the REST HTTP adapter for the server surfaces.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/evanschultz/poa/internal/adapters/server/common"
	"github.com/evanschultz/poa/internal/app"
)

// maxRequestBodyBytes limits decoded JSON payload size for fail-closed request handling.
const maxRequestBodyBytes int64 = 1 << 20

// defaultHistoryLimit bounds `/requests/{id}/events` when no limit is given.
const defaultHistoryLimit = 50

// Handler serves the versioned API mounted under one path prefix.
type Handler struct {
	svc    common.Service
	prefix string
	mux    *http.ServeMux
}

// APIError represents one structured API failure response.
type APIError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Hint    string         `json:"hint,omitempty"`
	Context map[string]any `json:"context,omitempty"`
}

// ErrorEnvelope wraps one structured API error.
type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

// NewHandler constructs the API adapter. Routes are registered with the full
// prefix so the matched pattern is visible to outer middleware.
func NewHandler(svc common.Service, prefix string) *Handler {
	prefix = "/" + strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "/" {
		prefix = ""
	}
	h := &Handler{svc: svc, prefix: prefix, mux: http.NewServeMux()}
	h.mux.HandleFunc("GET "+prefix+"/requests", h.handleListRequests)
	h.mux.HandleFunc("POST "+prefix+"/requests", h.handleCreateRequest)
	h.mux.HandleFunc("GET "+prefix+"/requests/{id}", h.handleGetRequest)
	h.mux.HandleFunc("POST "+prefix+"/requests/{id}/approve", h.handleApprove)
	h.mux.HandleFunc("GET "+prefix+"/requests/{id}/events", h.handleHistory)
	h.mux.HandleFunc("GET "+prefix+"/stats", h.handleStats)
	h.mux.HandleFunc("POST "+prefix+"/demo", h.handleLoadDemo)
	h.mux.HandleFunc("GET "+prefix+"/events", h.handleEventStream)
	h.mux.HandleFunc(prefix+"/", func(w http.ResponseWriter, _ *http.Request) {
		writeJSONError(w, http.StatusNotFound, APIError{
			Code:    common.CodeNotFound,
			Message: "endpoint not found",
		})
	})
	return h
}

// ServeHTTP routes one versioned API request to the matching handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.svc == nil {
		writeJSONError(w, http.StatusServiceUnavailable, APIError{
			Code:    common.CodeUnavailable,
			Message: "request service is not configured",
		})
		return
	}
	h.mux.ServeHTTP(w, r)
}

// handleListRequests serves GET `/requests`.
func (h *Handler) handleListRequests(w http.ResponseWriter, r *http.Request) {
	reqs, err := h.svc.List(r.Context())
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	status := strings.TrimSpace(r.URL.Query().Get("status"))
	views := make([]common.RequestView, 0, len(reqs))
	for _, view := range common.NewRequestViews(reqs) {
		if status != "" && view.Status != status {
			continue
		}
		views = append(views, view)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"requests": views,
	})
}

// handleCreateRequest serves POST `/requests`.
func (h *Handler) handleCreateRequest(w http.ResponseWriter, r *http.Request) {
	var body common.CreateRequestBody
	if err := decodeJSONBody(r.Context(), w, r, &body); err != nil {
		writeErrorFrom(w, err)
		return
	}
	ctx := withHTTPSource(r, body.CreatedBy)
	req, err := h.svc.Create(ctx, body.Input())
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, common.NewRequestView(req))
}

// handleGetRequest serves GET `/requests/{id}`.
func (h *Handler) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	req, err := h.svc.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, common.NewRequestView(req))
}

// handleApprove serves POST `/requests/{id}/approve`.
func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	var body common.ApproveBody
	if err := decodeJSONBody(r.Context(), w, r, &body); err != nil {
		writeErrorFrom(w, err)
		return
	}
	address := body.ActorAddress
	if strings.TrimSpace(address) == "" {
		writeJSONError(w, http.StatusBadRequest, APIError{
			Code:    common.CodeInvalidRequest,
			Message: "actor_address is required",
		})
		return
	}
	req, err := h.svc.Approve(withHTTPSource(r, address), r.PathValue("id"), address)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, common.NewRequestView(req))
}

// handleHistory serves GET `/requests/{id}/events`.
func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			writeJSONError(w, http.StatusBadRequest, APIError{
				Code:    common.CodeInvalidRequest,
				Message: "limit must be a positive integer",
			})
			return
		}
		limit = v
	}
	events, err := h.svc.History(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	views := make([]common.EventView, 0, len(events))
	for _, ev := range events {
		views = append(views, common.NewEventView(ev))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events": views,
	})
}

// handleStats serves GET `/stats`.
func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	summary, err := h.svc.Summary(r.Context())
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, common.NewSummaryView(summary))
}

// handleLoadDemo serves POST `/demo`.
func (h *Handler) handleLoadDemo(w http.ResponseWriter, r *http.Request) {
	ctx := app.WithMutationSource(r.Context(), app.MutationSource{Channel: app.ChannelHTTP})
	reqs, err := h.svc.LoadDemoScenario(ctx)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"requests": common.NewRequestViews(reqs),
	})
}

// withHTTPSource attributes a mutation to the HTTP channel.
func withHTTPSource(r *http.Request, caller string) context.Context {
	return app.WithMutationSource(r.Context(), app.MutationSource{
		Channel: app.ChannelHTTP,
		Caller:  caller,
	})
}

// writeErrorFrom maps engine errors into structured HTTP responses.
func writeErrorFrom(w http.ResponseWriter, err error) {
	code, status := common.ErrorCode(err)
	apiErr := APIError{Code: code, Message: "unknown error"}
	if err != nil {
		apiErr.Message = err.Error()
	}
	switch code {
	case common.CodeUnauthorizedActor:
		apiErr.Hint = "Only actors listed on the request may approve it."
	case common.CodeTimedOut:
		apiErr.Hint = "Settlement was not confirmed in time; the request is unchanged and may be retried."
	}
	writeJSONError(w, status, apiErr)
}

// writeJSONError writes one structured error envelope.
func writeJSONError(w http.ResponseWriter, statusCode int, apiErr APIError) {
	writeJSON(w, statusCode, ErrorEnvelope{Error: apiErr})
}

// writeJSON writes one JSON response envelope.
func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, fmt.Sprintf(`{"error":{"code":"encode_error","message":"%s"}}`, err.Error()), http.StatusInternalServerError)
	}
}

// decodeJSONBody decodes one required JSON request body with strict shape checks.
func decodeJSONBody(ctx context.Context, w http.ResponseWriter, r *http.Request, out any) error {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	defer reader.Close()

	decoder := json.NewDecoder(reader)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("decode request body: %w", errors.Join(common.ErrInvalidBody, err))
	}
	// Reject trailing payloads so malformed JSON bodies fail closed.
	if err := decoder.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode request body: trailing content: %w", common.ErrInvalidBody)
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("request canceled: %w", ctx.Err())
	default:
		return nil
	}
}
