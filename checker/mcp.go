package checker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// RegisterMCP registers the ckanwatch tools on an MCP server.
func (s *Service) RegisterMCP(srv *mcp.Server) {
	s.registerLastRun(srv)
	s.registerProbeErrors(srv)
	s.registerMissing(srv)
	s.registerSubscribe(srv)
	s.registerUnsubscribe(srv)
	s.registerSubscriptions(srv)
	s.registerRunNow(srv)
}

// registerTool decodes the call arguments into Req, runs fn and returns its
// result as JSON text. Errors become tool errors, not protocol errors.
func registerTool[Req any](srv *mcp.Server, tool *mcp.Tool, fn func(context.Context, *Req) (any, error)) {
	srv.AddTool(tool, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var p Req
		if args := req.Params.Arguments; len(args) > 0 {
			if err := json.Unmarshal(args, &p); err != nil {
				var res mcp.CallToolResult
				res.SetError(fmt.Errorf("invalid arguments: %w", err))
				return &res, nil
			}
		}

		resp, err := fn(ctx, &p)
		if err != nil {
			var res mcp.CallToolResult
			res.SetError(errors.New(err.Error()))
			return &res, nil
		}

		data, err := json.Marshal(resp)
		if err != nil {
			var res mcp.CallToolResult
			res.SetError(fmt.Errorf("marshal: %w", err))
			return &res, nil
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
		}, nil
	})
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

var subscriptionProps = map[string]any{
	"user_id": map[string]any{"type": "integer", "description": "Subscriber chat id"},
	"kind":    map[string]any{"type": "string", "description": "theme, node or dataset"},
	"value":   map[string]any{"type": "string", "description": "Theme alias, node alias, dataset URL or dataset id"},
}

type subscriptionArgs struct {
	UserID int64            `json:"user_id"`
	Kind   SubscriptionKind `json:"kind"`
	Value  string           `json:"value"`
}

func (s *Service) registerLastRun(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "ckanwatch_last_run",
		Description: "Return the most recent check run with its event counts.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}
	registerTool(srv, tool, func(ctx context.Context, _ *struct{}) (any, error) {
		return s.LastRun(ctx)
	})
}

func (s *Service) registerProbeErrors(srv *mcp.Server) {
	type req struct {
		RunID string `json:"run_id"`
	}
	tool := &mcp.Tool{
		Name:        "ckanwatch_probe_errors",
		Description: "List the distributions whose size could not be measured in a run.",
		InputSchema: inputSchema(map[string]any{
			"run_id": map[string]any{"type": "string", "description": "Run id, latest run when empty"},
		}, nil),
	}
	registerTool(srv, tool, func(ctx context.Context, p *req) (any, error) {
		results, err := s.ProbeErrors(ctx, p.RunID)
		if results == nil && err == nil {
			results = []ProbeResult{}
		}
		return results, err
	})
}

func (s *Service) registerMissing(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "ckanwatch_missing",
		Description: "List datasets that vanished from the catalog and are suppressed if they reappear.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}
	registerTool(srv, tool, func(ctx context.Context, _ *struct{}) (any, error) {
		entries, err := s.Missing(ctx)
		if entries == nil && err == nil {
			entries = []MissingEntry{}
		}
		return entries, err
	})
}

func (s *Service) registerSubscribe(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "ckanwatch_subscribe",
		Description: "Subscribe a chat to a theme, a node or a dataset.",
		InputSchema: inputSchema(subscriptionProps, []string{"user_id", "kind", "value"}),
	}
	registerTool(srv, tool, func(ctx context.Context, p *subscriptionArgs) (any, error) {
		value, created, err := s.Subscribe(ctx, p.Kind, p.UserID, p.Value)
		if err != nil {
			return nil, err
		}
		return map[string]any{"kind": p.Kind, "value": value, "created": created}, nil
	})
}

func (s *Service) registerUnsubscribe(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "ckanwatch_unsubscribe",
		Description: "Remove a subscription.",
		InputSchema: inputSchema(subscriptionProps, []string{"user_id", "kind", "value"}),
	}
	registerTool(srv, tool, func(ctx context.Context, p *subscriptionArgs) (any, error) {
		removed, err := s.Unsubscribe(ctx, p.Kind, p.UserID, p.Value)
		if err != nil {
			return nil, err
		}
		return map[string]bool{"removed": removed}, nil
	})
}

func (s *Service) registerSubscriptions(srv *mcp.Server) {
	type req struct {
		UserID int64 `json:"user_id"`
	}
	tool := &mcp.Tool{
		Name:        "ckanwatch_subscriptions",
		Description: "List the themes, nodes and datasets a chat follows.",
		InputSchema: inputSchema(map[string]any{
			"user_id": map[string]any{"type": "integer", "description": "Subscriber chat id"},
		}, []string{"user_id"}),
	}
	registerTool(srv, tool, func(ctx context.Context, p *req) (any, error) {
		return s.Subscriptions(ctx, p.UserID)
	})
}

func (s *Service) registerRunNow(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "ckanwatch_run_now",
		Description: "Start a check run in the background.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}
	registerTool(srv, tool, func(_ context.Context, _ *struct{}) (any, error) {
		id, err := s.StartRun()
		if err != nil {
			return nil, err
		}
		return map[string]string{"run_id": id, "status": RunStatusRunning}, nil
	})
}
