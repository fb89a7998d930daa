package mcp_test

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/A-ryanVAT-S/Provify/internal/ai"
	"github.com/A-ryanVAT-S/Provify/internal/config"
	"github.com/A-ryanVAT-S/Provify/internal/devices"
	"github.com/A-ryanVAT-S/Provify/internal/mcp"
	"github.com/A-ryanVAT-S/Provify/internal/oracle"
	"github.com/A-ryanVAT-S/Provify/internal/service"
	"github.com/A-ryanVAT-S/Provify/internal/storage"
	"github.com/A-ryanVAT-S/Provify/internal/types"
)

func newTestServer(t *testing.T) *mcp.Server {
	t.Helper()
	ctx := context.Background()
	backend, err := storage.NewBackend(ctx, storage.Config{Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}
	verifier := oracle.NewClient(oracle.Func(func(_ context.Context, _ types.Target, bug *types.Bug, progress oracle.ProgressFunc) (*oracle.Report, error) {
		progress("opened " + bug.AppPackage)
		return &oracle.Report{Reproduced: strings.Contains(bug.Description, "crash"), Observations: "checked"}, nil
	}), oracle.DefaultConfig())

	svc, err := service.Open(ctx, &config.Config{}, "test", service.Deps{
		Backend:    backend,
		Resolver:   ai.Fallback{},
		Verifier:   verifier,
		Discoverer: devices.StaticDiscoverer{"emulator-5554=Emulator"},
	})
	if err != nil {
		t.Fatalf("service.Open: %v", err)
	}
	t.Cleanup(func() { _ = svc.Close() })
	return mcp.NewServer(svc)
}

func connectInMemory(t *testing.T, ctx context.Context, srv *mcp.Server) *sdkmcp.ClientSession {
	t.Helper()
	t1, t2 := sdkmcp.NewInMemoryTransports()
	if _, err := srv.MCPServer.Connect(ctx, t1, nil); err != nil {
		t.Fatalf("server.Connect: %v", err)
	}
	client := sdkmcp.NewClient(&sdkmcp.Implementation{Name: "test-client", Version: "v0.0.1"}, nil)
	session, err := client.Connect(ctx, t2, nil)
	if err != nil {
		t.Fatalf("client.Connect: %v", err)
	}
	t.Cleanup(func() { _ = session.Close() })
	return session
}

func callTool(t *testing.T, ctx context.Context, session *sdkmcp.ClientSession, name string, args map[string]any) map[string]any {
	t.Helper()
	res, err := session.CallTool(ctx, &sdkmcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	if res.IsError {
		for _, c := range res.Content {
			if tc, ok := c.(*sdkmcp.TextContent); ok {
				t.Fatalf("CallTool(%s) returned error: %s", name, tc.Text)
			}
		}
		t.Fatalf("CallTool(%s) returned error", name)
	}
	result := make(map[string]any)
	for _, c := range res.Content {
		if tc, ok := c.(*sdkmcp.TextContent); ok {
			if err := json.Unmarshal([]byte(tc.Text), &result); err != nil {
				t.Fatalf("unmarshal tool result: %v (text: %s)", err, tc.Text)
			}
			return result
		}
	}
	t.Fatalf("no text content in tool result")
	return nil
}

func callToolExpectError(t *testing.T, ctx context.Context, session *sdkmcp.ClientSession, name string, args map[string]any) string {
	t.Helper()
	res, err := session.CallTool(ctx, &sdkmcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		return err.Error()
	}
	if res.IsError {
		for _, c := range res.Content {
			if tc, ok := c.(*sdkmcp.TextContent); ok {
				return tc.Text
			}
		}
		return "unknown error"
	}
	t.Fatal("expected error but got success")
	return ""
}

func TestServer_ToolDiscovery(t *testing.T) {
	ctx := context.Background()
	session := connectInMemory(t, ctx, newTestServer(t))

	tools, err := session.ListTools(ctx, nil)
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	want := map[string]bool{
		"list_bugs": false, "get_bug": false, "create_bug": false, "verify_bug": false,
		"bug_stats": false, "list_devices": false, "mark_fixed": false,
	}
	for _, tool := range tools.Tools {
		if _, ok := want[tool.Name]; ok {
			want[tool.Name] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("tool %s not registered", name)
		}
	}
}

func TestServer_BugLifecycle(t *testing.T) {
	ctx := context.Background()
	session := connectInMemory(t, ctx, newTestServer(t))

	created := callTool(t, ctx, session, "create_bug", map[string]any{
		"app_name": "my app",
		"bug":      "App crash when uploading photo",
	})
	bug := created["bug"].(map[string]any)
	id := bug["id"].(string)
	if bug["app_package"] != "com.myapp" || bug["status"] != "pending" {
		t.Fatalf("unexpected bug: %v", bug)
	}

	got := callTool(t, ctx, session, "get_bug", map[string]any{"id": id})
	if got["bug"].(map[string]any)["id"] != id {
		t.Fatalf("get_bug returned %v", got)
	}

	listed := callTool(t, ctx, session, "list_bugs", map[string]any{"status": "pending"})
	if listed["count"].(float64) != 1 {
		t.Fatalf("expected 1 pending bug, got %v", listed["count"])
	}

	msg := callToolExpectError(t, ctx, session, "mark_fixed", map[string]any{"id": id})
	if !strings.Contains(msg, "cannot transition") {
		t.Errorf("mark_fixed on a pending bug: %s", msg)
	}

	verified := callTool(t, ctx, session, "verify_bug", map[string]any{"id": id})
	summary := verified["summary"].(map[string]any)
	if summary["outcome"] != "verified" || summary["targets_tested"].(float64) != 1 {
		t.Fatalf("unexpected summary: %v", summary)
	}

	fixed := callTool(t, ctx, session, "mark_fixed", map[string]any{"id": id})
	if fixed["bug"].(map[string]any)["status"] != "fixed" {
		t.Fatalf("mark_fixed returned %v", fixed)
	}

	stats := callTool(t, ctx, session, "bug_stats", map[string]any{})
	if stats["total"].(float64) != 1 || stats["fixed"].(float64) != 1 {
		t.Errorf("unexpected stats: %v", stats)
	}
}

func TestServer_Errors(t *testing.T) {
	ctx := context.Background()
	session := connectInMemory(t, ctx, newTestServer(t))

	if msg := callToolExpectError(t, ctx, session, "get_bug", map[string]any{"id": "deadbeef"}); !strings.Contains(msg, "not found") {
		t.Errorf("get_bug unknown id: %s", msg)
	}
	if msg := callToolExpectError(t, ctx, session, "verify_bug", map[string]any{"id": "deadbeef"}); !strings.Contains(msg, "not found") {
		t.Errorf("verify_bug unknown id: %s", msg)
	}
	if msg := callToolExpectError(t, ctx, session, "list_bugs", map[string]any{"status": "archived"}); !strings.Contains(msg, "invalid status") {
		t.Errorf("list_bugs bad status: %s", msg)
	}
}

func TestServer_ListDevices(t *testing.T) {
	ctx := context.Background()
	session := connectInMemory(t, ctx, newTestServer(t))

	before := callTool(t, ctx, session, "list_devices", map[string]any{})
	if before["count"].(float64) != 0 {
		t.Errorf("expected no devices before refresh, got %v", before)
	}
	after := callTool(t, ctx, session, "list_devices", map[string]any{"refresh": true})
	if after["count"].(float64) != 1 {
		t.Fatalf("expected 1 device after refresh, got %v", after)
	}
	dev := after["devices"].([]any)[0].(map[string]any)
	if dev["target_id"] != "emulator-5554" || dev["display_name"] != "Emulator" {
		t.Errorf("unexpected device: %v", dev)
	}
}
