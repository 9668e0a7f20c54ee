package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/evanschultz/poa/internal/adapters/server/common"
	"github.com/evanschultz/poa/internal/app"
	"github.com/evanschultz/poa/internal/domain"
)

// fixedNow anchors every deadline in these tests.
var fixedNow = time.Date(2026, 2, 21, 12, 0, 0, 0, time.UTC)

// newTestServer builds an engine-backed API server mounted at /api/v1.
func newTestServer(t *testing.T) (*httptest.Server, *app.Engine) {
	t.Helper()
	engine := app.NewEngine(nil, nil, func() time.Time { return fixedNow }, app.EngineConfig{SweepInterval: -1})
	t.Cleanup(func() { _ = engine.Close() })
	srv := httptest.NewServer(NewHandler(engine, "/api/v1"))
	t.Cleanup(srv.Close)
	return srv, engine
}

// doJSON sends one request and decodes the JSON response into out.
func doJSON(t *testing.T, method, url, body string, out any) int {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	defer resp.Body.Close()
	if got := resp.Header.Get("Content-Type"); got != "application/json" {
		t.Fatalf("expected json content type, got %q", got)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("Decode() error = %v", err)
		}
	}
	return resp.StatusCode
}

// createBody renders one valid create payload.
func createBody(actors ...string) string {
	parts := make([]string, 0, len(actors))
	for _, a := range actors {
		parts = append(parts, `{"address":"`+a+`"}`)
	}
	return `{"title":"Budget","description":"Sign off on Q3","actors":[` + strings.Join(parts, ",") +
		`],"deadline":"` + fixedNow.Add(time.Hour).Format(time.RFC3339) + `","minimum_approvals":2,"created_by":"X"}`
}

// TestHandlerCreateApproveLifecycle verifies create, get, approve and stats over REST.
func TestHandlerCreateApproveLifecycle(t *testing.T) {
	srv, _ := newTestServer(t)
	base := srv.URL + "/api/v1"

	var created common.RequestView
	if status := doJSON(t, http.MethodPost, base+"/requests", createBody("X", "Y", "Z"), &created); status != http.StatusCreated {
		t.Fatalf("expected 201, got %d", status)
	}
	if created.ID == "" || created.Status != "pending" || len(created.Actors) != 3 {
		t.Fatalf("unexpected created view %#v", created)
	}

	var got common.RequestView
	if status := doJSON(t, http.MethodGet, base+"/requests/"+created.ID, "", &got); status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if got.ID != created.ID {
		t.Fatalf("unexpected request %#v", got)
	}

	var approved common.RequestView
	doJSON(t, http.MethodPost, base+"/requests/"+created.ID+"/approve", `{"actor_address":"X"}`, &approved)
	if approved.ApprovedCount != 1 || approved.Status != "pending" {
		t.Fatalf("unexpected approval view %#v", approved)
	}
	if status := doJSON(t, http.MethodPost, base+"/requests/"+created.ID+"/approve", `{"actor_address":"Y"}`, &approved); status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if approved.Status != "fulfilled" || !domain.IsValidTxHash(approved.TxHash) || approved.FinalizedAt == nil {
		t.Fatalf("expected fulfilled view, got %#v", approved)
	}

	var list struct {
		Requests []common.RequestView `json:"requests"`
	}
	doJSON(t, http.MethodGet, base+"/requests?status=fulfilled", "", &list)
	if len(list.Requests) != 1 {
		t.Fatalf("expected one fulfilled request, got %#v", list)
	}
	doJSON(t, http.MethodGet, base+"/requests?status=pending", "", &list)
	if len(list.Requests) != 0 {
		t.Fatalf("expected no pending requests, got %#v", list)
	}

	var stats common.SummaryView
	doJSON(t, http.MethodGet, base+"/stats", "", &stats)
	if stats.Total != 1 || stats.Fulfilled != 1 || stats.ApprovalRate != 100 {
		t.Fatalf("unexpected stats %#v", stats)
	}
}

// TestHandlerErrorEnvelopes verifies engine errors map to stable codes and statuses.
func TestHandlerErrorEnvelopes(t *testing.T) {
	srv, engine := newTestServer(t)
	base := srv.URL + "/api/v1"
	req, err := engine.Create(context.Background(), app.CreateRequestInput{
		Title:            "t",
		Description:      "d",
		Actors:           []domain.ActorInput{{Address: "X"}, {Address: "Y"}},
		Deadline:         fixedNow.Add(time.Hour),
		MinimumApprovals: 2,
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := engine.Approve(context.Background(), req.ID, "X"); err != nil {
		t.Fatalf("Approve() error = %v", err)
	}

	cases := []struct {
		name   string
		method string
		path   string
		body   string
		status int
		code   string
	}{
		{"unknown request", http.MethodGet, "/requests/poa_missing", "", http.StatusNotFound, common.CodeNotFound},
		{"non actor", http.MethodPost, "/requests/" + req.ID + "/approve", `{"actor_address":"W"}`, http.StatusForbidden, common.CodeUnauthorizedActor},
		{"padded actor", http.MethodPost, "/requests/" + req.ID + "/approve", `{"actor_address":" Y"}`, http.StatusForbidden, common.CodeUnauthorizedActor},
		{"double approve", http.MethodPost, "/requests/" + req.ID + "/approve", `{"actor_address":"X"}`, http.StatusConflict, common.CodeAlreadyApproved},
		{"missing address", http.MethodPost, "/requests/" + req.ID + "/approve", `{}`, http.StatusBadRequest, common.CodeInvalidRequest},
		{"unknown field", http.MethodPost, "/requests", `{"title":"t","bogus":1}`, http.StatusBadRequest, common.CodeInvalidRequest},
		{"trailing content", http.MethodPost, "/requests/" + req.ID + "/approve", `{"actor_address":"Y"} {}`, http.StatusBadRequest, common.CodeInvalidRequest},
		{"no actors", http.MethodPost, "/requests", createBody(), http.StatusBadRequest, common.CodeInvalidRequest},
		{"bad history limit", http.MethodGet, "/requests/" + req.ID + "/events?limit=zero", "", http.StatusBadRequest, common.CodeInvalidRequest},
		{"unknown endpoint", http.MethodGet, "/nope", "", http.StatusNotFound, common.CodeNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var env ErrorEnvelope
			status := doJSON(t, tc.method, base+tc.path, tc.body, &env)
			if status != tc.status || env.Error.Code != tc.code {
				t.Fatalf("expected %d/%s, got %d/%#v", tc.status, tc.code, status, env.Error)
			}
		})
	}
}

// TestHandlerLoadDemo verifies the demo loader replaces the collection.
func TestHandlerLoadDemo(t *testing.T) {
	srv, engine := newTestServer(t)
	var out struct {
		Requests []common.RequestView `json:"requests"`
	}
	if status := doJSON(t, http.MethodPost, srv.URL+"/api/v1/demo", "", &out); status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if len(out.Requests) != 3 {
		t.Fatalf("expected three demo requests, got %d", len(out.Requests))
	}
	list, err := engine.List(context.Background())
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 3 || list[0].ID != app.DemoPendingID {
		t.Fatalf("unexpected engine collection %#v", list)
	}
}

// TestHandlerEventStream verifies change events reach websocket clients in order.
func TestHandlerEventStream(t *testing.T) {
	srv, engine := newTestServer(t)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	ctx := app.WithMutationSource(context.Background(), app.MutationSource{Channel: app.ChannelCLI, Caller: "X"})
	req, err := engine.Create(ctx, app.CreateRequestInput{
		Title:            "t",
		Description:      "d",
		Actors:           []domain.ActorInput{{Address: "X"}},
		Deadline:         fixedNow.Add(time.Hour),
		MinimumApprovals: 1,
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := engine.Approve(ctx, req.ID, "X"); err != nil {
		t.Fatalf("Approve() error = %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	want := []string{"create", "approve", "finalize"}
	for i, op := range want {
		var ev common.EventView
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("ReadJSON(%d) error = %v", i, err)
		}
		if ev.RequestID != req.ID || ev.Operation != op {
			t.Fatalf("event %d: expected %s for %s, got %#v", i, op, req.ID, ev)
		}
		if ev.Metadata["channel"] != "cli" {
			t.Fatalf("expected cli attribution, got %#v", ev.Metadata)
		}
	}
}
