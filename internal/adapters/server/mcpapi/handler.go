// Package mcpapi provides a stateless MCP streamable-HTTP adapter.
package mcpapi

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/evanschultz/poa/internal/adapters/server/common"
	"github.com/evanschultz/poa/internal/app"
)

// Config captures MCP transport configuration.
type Config struct {
	ServerName    string
	ServerVersion string
	EndpointPath  string
}

// Handler wraps one stateless MCP streamable HTTP handler.
type Handler struct {
	httpHandler http.Handler
}

// NewHandler builds one stateless MCP adapter exposing the request tools.
func NewHandler(cfg Config, svc common.Service) (*Handler, error) {
	if svc == nil {
		return nil, fmt.Errorf("request service is required")
	}
	cfg = normalizeConfig(cfg)

	mcpSrv := mcpserver.NewMCPServer(
		cfg.ServerName,
		cfg.ServerVersion,
		mcpserver.WithToolCapabilities(false),
	)
	registerRequestTools(mcpSrv, svc)
	registerReadTools(mcpSrv, svc)

	streamable := mcpserver.NewStreamableHTTPServer(
		mcpSrv,
		mcpserver.WithEndpointPath(cfg.EndpointPath),
		mcpserver.WithStateLess(true),
	)
	return &Handler{httpHandler: streamable}, nil
}

// ServeHTTP handles one MCP streamable HTTP request.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.httpHandler == nil {
		http.Error(w, "mcp handler unavailable", http.StatusServiceUnavailable)
		return
	}
	h.httpHandler.ServeHTTP(w, r)
}

// normalizeConfig applies deterministic defaults to MCP adapter config.
func normalizeConfig(cfg Config) Config {
	cfg.ServerName = strings.TrimSpace(cfg.ServerName)
	if cfg.ServerName == "" {
		cfg.ServerName = "poa"
	}
	cfg.ServerVersion = strings.TrimSpace(cfg.ServerVersion)
	if cfg.ServerVersion == "" {
		cfg.ServerVersion = "dev"
	}
	cfg.EndpointPath = strings.TrimSpace(cfg.EndpointPath)
	if cfg.EndpointPath == "" {
		cfg.EndpointPath = "/mcp"
	}
	cfg.EndpointPath = "/" + strings.Trim(cfg.EndpointPath, "/")
	return cfg
}

// mcpContext attributes a tool mutation to the MCP channel.
func mcpContext(ctx context.Context, caller string) context.Context {
	return app.WithMutationSource(ctx, app.MutationSource{Channel: app.ChannelMCP, Caller: caller})
}

// registerRequestTools registers the mutating `poa.*` tools.
func registerRequestTools(srv *mcpserver.MCPServer, svc common.Service) {
	srv.AddTool(
		mcp.NewTool(
			"poa.create_request",
			mcp.WithDescription("Create one accountability request that needs approvals before a deadline."),
			mcp.WithString("title", mcp.Required(), mcp.Description("Short title")),
			mcp.WithString("description", mcp.Required(), mcp.Description("What the actors are approving")),
			mcp.WithArray("actors", mcp.Required(), mcp.Description("Actors whose approvals count"), mcp.Items(map[string]any{
				"type": "object",
				"properties": map[string]any{
					"address": map[string]any{"type": "string", "description": "Wallet address"},
					"label":   map[string]any{"type": "string", "description": "Display label"},
				},
				"required": []string{"address"},
			})),
			mcp.WithString("deadline", mcp.Description("RFC3339 deadline; required unless deadline_in is set")),
			mcp.WithString("deadline_in", mcp.Description("Deadline as a duration from now, for example 90m")),
			mcp.WithNumber("minimum_approvals", mcp.Required(), mcp.Description("Approvals needed to fulfill the request")),
			mcp.WithString("created_by", mcp.Description("Creator address")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			var args struct {
				common.CreateRequestBody
				Deadline   string `json:"deadline"`
				DeadlineIn string `json:"deadline_in"`
			}
			if err := req.BindArguments(&args); err != nil {
				return mcp.NewToolResultError(common.CodeInvalidRequest + ": " + err.Error()), nil
			}
			deadline, err := common.ResolveDeadline(args.Deadline, args.DeadlineIn, time.Now())
			if err != nil {
				return mcp.NewToolResultError(common.CodeInvalidRequest + ": " + err.Error()), nil
			}
			body := args.CreateRequestBody
			body.Deadline = deadline
			created, err := svc.Create(mcpContext(ctx, body.CreatedBy), body.Input())
			if err != nil {
				return toolResultFromError(err), nil
			}
			result, err := mcp.NewToolResultJSON(common.NewRequestView(created))
			if err != nil {
				return nil, fmt.Errorf("encode create_request result: %w", err)
			}
			return result, nil
		},
	)

	srv.AddTool(
		mcp.NewTool(
			"poa.approve_request",
			mcp.WithDescription("Record one actor's approval. The request is fulfilled once the threshold is met."),
			mcp.WithString("request_id", mcp.Required(), mcp.Description("Request identifier")),
			mcp.WithString("actor_address", mcp.Required(), mcp.Description("Approving actor address")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			requestID, err := req.RequireString("request_id")
			if err != nil {
				return mcp.NewToolResultError(common.CodeInvalidRequest + ": " + err.Error()), nil
			}
			address, err := req.RequireString("actor_address")
			if err != nil {
				return mcp.NewToolResultError(common.CodeInvalidRequest + ": " + err.Error()), nil
			}
			approved, err := svc.Approve(mcpContext(ctx, address), requestID, address)
			if err != nil {
				return toolResultFromError(err), nil
			}
			result, err := mcp.NewToolResultJSON(common.NewRequestView(approved))
			if err != nil {
				return nil, fmt.Errorf("encode approve_request result: %w", err)
			}
			return result, nil
		},
	)

	srv.AddTool(
		mcp.NewTool(
			"poa.load_demo",
			mcp.WithDescription("Replace every request with the three-request demo scenario."),
		),
		func(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			reqs, err := svc.LoadDemoScenario(mcpContext(ctx, ""))
			if err != nil {
				return toolResultFromError(err), nil
			}
			result, err := mcp.NewToolResultJSON(map[string]any{
				"requests": common.NewRequestViews(reqs),
			})
			if err != nil {
				return nil, fmt.Errorf("encode load_demo result: %w", err)
			}
			return result, nil
		},
	)
}

// registerReadTools registers the read-only `poa.*` tools.
func registerReadTools(srv *mcpserver.MCPServer, svc common.Service) {
	srv.AddTool(
		mcp.NewTool(
			"poa.get_request",
			mcp.WithDescription("Return one request by id."),
			mcp.WithString("request_id", mcp.Required(), mcp.Description("Request identifier")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			requestID, err := req.RequireString("request_id")
			if err != nil {
				return mcp.NewToolResultError(common.CodeInvalidRequest + ": " + err.Error()), nil
			}
			got, err := svc.Get(ctx, requestID)
			if err != nil {
				return toolResultFromError(err), nil
			}
			result, err := mcp.NewToolResultJSON(common.NewRequestView(got))
			if err != nil {
				return nil, fmt.Errorf("encode get_request result: %w", err)
			}
			return result, nil
		},
	)

	srv.AddTool(
		mcp.NewTool(
			"poa.list_requests",
			mcp.WithDescription("List requests in creation order."),
			mcp.WithString("status", mcp.Description("Optional status filter"), mcp.Enum("pending", "fulfilled", "failed")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			reqs, err := svc.List(ctx)
			if err != nil {
				return toolResultFromError(err), nil
			}
			status := strings.TrimSpace(req.GetString("status", ""))
			views := make([]common.RequestView, 0, len(reqs))
			for _, view := range common.NewRequestViews(reqs) {
				if status != "" && view.Status != status {
					continue
				}
				views = append(views, view)
			}
			result, err := mcp.NewToolResultJSON(map[string]any{
				"requests": views,
			})
			if err != nil {
				return nil, fmt.Errorf("encode list_requests result: %w", err)
			}
			return result, nil
		},
	)

	srv.AddTool(
		mcp.NewTool(
			"poa.stats",
			mcp.WithDescription("Return request analytics: counts, approval rate and actor response rate."),
		),
		func(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			summary, err := svc.Summary(ctx)
			if err != nil {
				return toolResultFromError(err), nil
			}
			result, err := mcp.NewToolResultJSON(common.NewSummaryView(summary))
			if err != nil {
				return nil, fmt.Errorf("encode stats result: %w", err)
			}
			return result, nil
		},
	)
}

// toolResultFromError maps service errors into MCP-visible tool errors.
func toolResultFromError(err error) *mcp.CallToolResult {
	code, _ := common.ErrorCode(err)
	if err == nil {
		return mcp.NewToolResultError(code + ": unknown error")
	}
	return mcp.NewToolResultError(code + ": " + err.Error())
}
