package mcpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/evanschultz/poa/internal/app"
	"github.com/evanschultz/poa/internal/domain"
)

// jsonRPCResponse models minimal JSON-RPC response fields used in MCP adapter tests.
type jsonRPCResponse struct {
	ID     float64        `json:"id"`
	Result map[string]any `json:"result"`
}

// callToolRequest constructs one deterministic tools/call JSON-RPC request payload.
func callToolRequest(id int, toolName string, arguments map[string]any) map[string]any {
	return map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  "tools/call",
		"params": map[string]any{
			"name":      toolName,
			"arguments": arguments,
		},
	}
}

// initializeRequest builds a deterministic MCP initialize request payload.
func initializeRequest() map[string]any {
	return map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "initialize",
		"params": map[string]any{
			"protocolVersion": mcp.LATEST_PROTOCOL_VERSION,
			"clientInfo": map[string]any{
				"name":    "poa-test",
				"version": "1.0.0",
			},
		},
	}
}

// postJSONRPC sends one JSON-RPC payload and decodes the response body.
func postJSONRPC(t *testing.T, client *http.Client, url string, payload any) (*http.Response, jsonRPCResponse) {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	var decoded jsonRPCResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if err := resp.Body.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	return resp, decoded
}

// toolResultText decodes the first text entry from one tool-call result payload.
func toolResultText(t *testing.T, result map[string]any) string {
	t.Helper()
	contentRaw, ok := result["content"].([]any)
	if !ok || len(contentRaw) == 0 {
		t.Fatalf("content missing in tool result: %#v", result)
	}
	first, ok := contentRaw[0].(map[string]any)
	if !ok {
		t.Fatalf("first content entry has unexpected type: %#v", contentRaw[0])
	}
	text, ok := first["text"].(string)
	if !ok {
		t.Fatalf("content text missing in tool result: %#v", first)
	}
	return text
}

// decodeStructured re-decodes structuredContent into out.
func decodeStructured(t *testing.T, result map[string]any, out any) {
	t.Helper()
	structured, ok := result["structuredContent"]
	if !ok {
		t.Fatalf("structuredContent missing in tool result: %#v", result)
	}
	raw, err := json.Marshal(structured)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
}

// newTestServer wires an in-memory engine behind the MCP handler.
func newTestServer(t *testing.T) (*httptest.Server, *app.Engine) {
	t.Helper()
	engine := app.NewEngine(nil, nil, nil, app.EngineConfig{SweepInterval: -1})
	t.Cleanup(func() { _ = engine.Close() })
	handler, err := NewHandler(Config{}, engine)
	if err != nil {
		t.Fatalf("NewHandler() error = %v", err)
	}
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	_, _ = postJSONRPC(t, server.Client(), server.URL, initializeRequest())
	return server, engine
}

// TestNewHandlerRequiresService verifies construction fails closed.
func TestNewHandlerRequiresService(t *testing.T) {
	if _, err := NewHandler(Config{}, nil); err == nil {
		t.Fatal("expected error for nil service")
	}
}

// TestHandlerUsesStatelessTransport verifies MCP transport does not issue session ids.
func TestHandlerUsesStatelessTransport(t *testing.T) {
	engine := app.NewEngine(nil, nil, nil, app.EngineConfig{SweepInterval: -1})
	t.Cleanup(func() { _ = engine.Close() })
	handler, err := NewHandler(Config{}, engine)
	if err != nil {
		t.Fatalf("NewHandler() error = %v", err)
	}
	server := httptest.NewServer(handler)
	defer server.Close()

	resp, decoded := postJSONRPC(t, server.Client(), server.URL, initializeRequest())
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if decoded.ID != 1 {
		t.Fatalf("id = %v, want 1", decoded.ID)
	}
	if got := resp.Header.Get("Mcp-Session-Id"); got != "" {
		t.Fatalf("Mcp-Session-Id header = %q, want empty (stateless transport)", got)
	}
}

// TestHandlerRegistersRequestTools verifies tool discovery lists every poa tool.
func TestHandlerRegistersRequestTools(t *testing.T) {
	server, _ := newTestServer(t)
	_, toolsResp := postJSONRPC(t, server.Client(), server.URL, map[string]any{
		"jsonrpc": "2.0",
		"id":      2,
		"method":  "tools/list",
	})
	toolsRaw, ok := toolsResp.Result["tools"].([]any)
	if !ok {
		t.Fatalf("tools list payload missing tools: %#v", toolsResp.Result)
	}
	toolNames := make([]string, 0, len(toolsRaw))
	for _, toolRaw := range toolsRaw {
		toolMap, ok := toolRaw.(map[string]any)
		if !ok {
			continue
		}
		name, _ := toolMap["name"].(string)
		toolNames = append(toolNames, name)
	}
	for _, required := range []string{
		"poa.create_request",
		"poa.approve_request",
		"poa.get_request",
		"poa.list_requests",
		"poa.stats",
		"poa.load_demo",
	} {
		if !slices.Contains(toolNames, required) {
			t.Fatalf("tool list missing %s: %#v", required, toolNames)
		}
	}
}

// TestCreateAndApproveTools verifies the create/approve flow through MCP tool calls.
func TestCreateAndApproveTools(t *testing.T) {
	server, engine := newTestServer(t)

	_, createResp := postJSONRPC(t, server.Client(), server.URL, callToolRequest(2, "poa.create_request", map[string]any{
		"title":       "Ship release",
		"description": "Both leads sign off",
		"actors": []map[string]any{
			{"address": "X", "label": "Lead"},
			{"address": "Y"},
		},
		"deadline_in":       "1h",
		"minimum_approvals": 1,
		"created_by":        "X",
	}))
	if isErr, _ := createResp.Result["isError"].(bool); isErr {
		t.Fatalf("create_request failed: %s", toolResultText(t, createResp.Result))
	}
	var created struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	decodeStructured(t, createResp.Result, &created)
	if created.ID == "" || created.Status != "pending" {
		t.Fatalf("unexpected created request %#v", created)
	}

	_, approveResp := postJSONRPC(t, server.Client(), server.URL, callToolRequest(3, "poa.approve_request", map[string]any{
		"request_id":    created.ID,
		"actor_address": "Y",
	}))
	if isErr, _ := approveResp.Result["isError"].(bool); isErr {
		t.Fatalf("approve_request failed: %s", toolResultText(t, approveResp.Result))
	}
	got, err := engine.Get(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != domain.StatusFulfilled || got.Actors[0].Label != "Lead" {
		t.Fatalf("unexpected request after approval %#v", got)
	}

	_, againResp := postJSONRPC(t, server.Client(), server.URL, callToolRequest(4, "poa.approve_request", map[string]any{
		"request_id":    created.ID,
		"actor_address": "X",
	}))
	if isErr, _ := againResp.Result["isError"].(bool); !isErr {
		t.Fatalf("expected tool error for finalized request, got %#v", againResp.Result)
	}
	if text := toolResultText(t, againResp.Result); !strings.HasPrefix(text, "already_finalized: ") {
		t.Fatalf("unexpected error text %q", text)
	}
}

// TestToolErrors verifies invalid arguments and unknown ids surface as coded tool errors.
func TestToolErrors(t *testing.T) {
	server, _ := newTestServer(t)
	cases := []struct {
		name   string
		tool   string
		args   map[string]any
		prefix string
	}{
		{"missing id", "poa.get_request", map[string]any{}, "invalid_request: "},
		{"unknown id", "poa.get_request", map[string]any{"request_id": "poa_missing"}, "not_found: "},
		{"no deadline", "poa.create_request", map[string]any{
			"title": "t", "description": "d", "actors": []map[string]any{{"address": "X"}}, "minimum_approvals": 1,
		}, "invalid_request: "},
		{"past deadline", "poa.create_request", map[string]any{
			"title": "t", "description": "d", "actors": []map[string]any{{"address": "X"}}, "minimum_approvals": 1,
			"deadline": time.Now().Add(-time.Hour).UTC().Format(time.RFC3339),
		}, "invalid_request: "},
		{"threshold above actors", "poa.create_request", map[string]any{
			"title": "t", "description": "d", "actors": []map[string]any{{"address": "X"}}, "minimum_approvals": 2,
			"deadline_in": "1h",
		}, "invalid_request: "},
	}
	for i, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, resp := postJSONRPC(t, server.Client(), server.URL, callToolRequest(10+i, tc.tool, tc.args))
			if isErr, _ := resp.Result["isError"].(bool); !isErr {
				t.Fatalf("expected tool error, got %#v", resp.Result)
			}
			if text := toolResultText(t, resp.Result); !strings.HasPrefix(text, tc.prefix) {
				t.Fatalf("expected prefix %q, got %q", tc.prefix, text)
			}
		})
	}
}

// TestStatsAndDemoTools verifies the demo loader and analytics tools.
func TestStatsAndDemoTools(t *testing.T) {
	server, _ := newTestServer(t)
	_, demoResp := postJSONRPC(t, server.Client(), server.URL, callToolRequest(2, "poa.load_demo", map[string]any{}))
	if isErr, _ := demoResp.Result["isError"].(bool); isErr {
		t.Fatalf("load_demo failed: %s", toolResultText(t, demoResp.Result))
	}

	_, statsResp := postJSONRPC(t, server.Client(), server.URL, callToolRequest(3, "poa.stats", map[string]any{}))
	var stats struct {
		Total     int `json:"total"`
		Pending   int `json:"pending"`
		Fulfilled int `json:"fulfilled"`
		Failed    int `json:"failed"`
	}
	decodeStructured(t, statsResp.Result, &stats)
	if stats.Total != 3 || stats.Pending != 1 || stats.Fulfilled != 1 || stats.Failed != 1 {
		t.Fatalf("unexpected stats %#v", stats)
	}

	_, listResp := postJSONRPC(t, server.Client(), server.URL, callToolRequest(4, "poa.list_requests", map[string]any{"status": "failed"}))
	var list struct {
		Requests []struct {
			ID string `json:"id"`
		} `json:"requests"`
	}
	decodeStructured(t, listResp.Result, &list)
	if len(list.Requests) != 1 || list.Requests[0].ID != app.DemoFailedID {
		t.Fatalf("unexpected failed list %#v", list)
	}
}
