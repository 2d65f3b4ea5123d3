package checker

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

var testMCPImpl = &mcp.Implementation{Name: "ckanwatch-test", Version: "0.1.0"}

func mcpSession(t *testing.T, svc *Service) *mcp.ClientSession {
	t.Helper()
	srv := mcp.NewServer(testMCPImpl, nil)
	svc.RegisterMCP(srv)

	serverT, clientT := mcp.NewInMemoryTransports()
	ctx := context.Background()
	go func() { _ = srv.Run(ctx, serverT) }()

	client := mcp.NewClient(testMCPImpl, nil)
	session, err := client.Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return session
}

func mcpCall(t *testing.T, session *mcp.ClientSession, name string, args any) (*mcp.CallToolResult, string) {
	t.Helper()
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	tc, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("CallTool(%s): expected TextContent", name)
	}
	return result, tc.Text
}

func TestMCP_ToolsListed(t *testing.T) {
	session := mcpSession(t, seededService(t))
	res, err := session.ListTools(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]bool{
		"ckanwatch_last_run": true, "ckanwatch_probe_errors": true, "ckanwatch_missing": true,
		"ckanwatch_subscribe": true, "ckanwatch_unsubscribe": true, "ckanwatch_subscriptions": true,
		"ckanwatch_run_now": true,
	}
	for _, tool := range res.Tools {
		delete(want, tool.Name)
	}
	for name := range want {
		t.Errorf("missing tool %q", name)
	}
}

func TestMCP_LastRun(t *testing.T) {
	session := mcpSession(t, seededService(t))

	result, text := mcpCall(t, session, "ckanwatch_last_run", map[string]any{})
	if err := result.GetError(); err != nil {
		t.Fatal(err)
	}
	var run Run
	if err := json.Unmarshal([]byte(text), &run); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if run.Status != RunStatusOK || run.Datasets != 1 {
		t.Errorf("run: %+v", run)
	}
}

func TestMCP_SubscribeCycle(t *testing.T) {
	// WHAT: Subscribe, list and unsubscribe through MCP tools.
	// WHY: Agents manage subscriptions on behalf of chat users.
	session := mcpSession(t, seededService(t))

	result, text := mcpCall(t, session, "ckanwatch_subscribe", map[string]any{"user_id": 3, "kind": "theme", "value": "ECON"})
	if err := result.GetError(); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(text, `"value":"econ"`) || !strings.Contains(text, `"created":true`) {
		t.Errorf("subscribe: %s", text)
	}

	_, text = mcpCall(t, session, "ckanwatch_subscriptions", map[string]any{"user_id": 3})
	var subs Subscriptions
	if err := json.Unmarshal([]byte(text), &subs); err != nil || len(subs.Themes) != 1 {
		t.Errorf("subscriptions: %s", text)
	}

	result, _ = mcpCall(t, session, "ckanwatch_subscribe", map[string]any{"user_id": 3, "kind": "theme", "value": "nada"})
	if result.GetError() == nil {
		t.Error("unknown theme must be a tool error")
	}

	_, text = mcpCall(t, session, "ckanwatch_unsubscribe", map[string]any{"user_id": 3, "kind": "theme", "value": "econ"})
	if !strings.Contains(text, `"removed":true`) {
		t.Errorf("unsubscribe: %s", text)
	}
}

func TestMCP_ProbeErrorsAndMissingEmpty(t *testing.T) {
	session := mcpSession(t, seededService(t))

	for _, name := range []string{"ckanwatch_probe_errors", "ckanwatch_missing"} {
		result, text := mcpCall(t, session, name, map[string]any{})
		if err := result.GetError(); err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if text != "[]" {
			t.Errorf("%s: got %s", name, text)
		}
	}
}

func TestMCP_RunNowConflict(t *testing.T) {
	svc := seededService(t)
	svc.running.Store(true)
	defer svc.running.Store(false)
	session := mcpSession(t, svc)

	result, text := mcpCall(t, session, "ckanwatch_run_now", map[string]any{})
	if result.GetError() == nil || !strings.Contains(text, "run in progress") {
		t.Errorf("got %s", text)
	}
}
