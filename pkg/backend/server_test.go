package backend

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/user/gosec-mcp/pkg/adk"
	"github.com/user/gosec-mcp/pkg/mcpclient"
	"github.com/user/gosec-mcp/pkg/registry"
	"github.com/user/gosec-mcp/pkg/wrappers"
)

type fakeRunner struct {
	name string
	args []string
	res  wrappers.CmdResult
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) (wrappers.CmdResult, error) {
	f.name, f.args = name, args
	return f.res, nil
}

type fakeLLM struct{ answer string }

func (f fakeLLM) GenerateResponse(context.Context, []adk.Message, []adk.Tool) (string, *adk.ToolCall, error) {
	return f.answer, nil, nil
}

func (fakeLLM) ListModels(context.Context) ([]string, error) { return nil, nil }

func newTestServer(t *testing.T, name string, runner wrappers.Runner, llm adk.LLMProvider) *Server {
	t.Helper()
	tools, err := ToolsFor(name, runner, llm)
	if err != nil {
		t.Fatalf("ToolsFor(%s): %v", name, err)
	}
	s, err := NewServer(name, tools)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return s
}

func connectInMemory(t *testing.T, ctx context.Context, srv *Server) *sdkmcp.ClientSession {
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
	t.Cleanup(func() { session.Close() })
	return session
}

func callTool(t *testing.T, ctx context.Context, session *sdkmcp.ClientSession, name string, args map[string]any) map[string]any {
	t.Helper()
	res, err := session.CallTool(ctx, &sdkmcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	if res.IsError {
		t.Fatalf("CallTool(%s) returned error: %+v", name, res.Content)
	}
	for _, c := range res.Content {
		if tc, ok := c.(*sdkmcp.TextContent); ok {
			result := make(map[string]any)
			if err := json.Unmarshal([]byte(tc.Text), &result); err != nil {
				t.Fatalf("unmarshal tool result: %v (text: %s)", err, tc.Text)
			}
			return result
		}
	}
	t.Fatalf("no text content in tool result")
	return nil
}

func TestServer_ListTools(t *testing.T) {
	ctx := context.Background()
	session := connectInMemory(t, ctx, newTestServer(t, "semgrep", &fakeRunner{}, nil))

	res, err := session.ListTools(ctx, nil)
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	var names []string
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	if diff := cmp.Diff([]string{"semgrep_list_rules", "semgrep_scan"}, names); diff != "" {
		t.Errorf("tools mismatch (-want +got):\n%s", diff)
	}
}

func TestServer_BanditScan(t *testing.T) {
	ctx := context.Background()
	runner := &fakeRunner{res: wrappers.CmdResult{Stdout: `{"results":[{"test_id":"B602"}]}`, ExitCode: 1}}
	session := connectInMemory(t, ctx, newTestServer(t, "bandit", runner, nil))

	args := registry.BuildArgs(registry.DefaultBackends()[0], "import subprocess", nil)
	got := callTool(t, ctx, session, "bandit_scan", args)

	if runner.name != "bandit" || runner.args[0] != "-l" {
		t.Errorf("unexpected command %s %v", runner.name, runner.args)
	}
	if got["success"] != true || got["return_code"] != float64(1) {
		t.Errorf("unexpected result %v", got)
	}
}

func TestServer_DetectSecretsDefaults(t *testing.T) {
	ctx := context.Background()
	runner := &fakeRunner{res: wrappers.CmdResult{Stdout: `{"results":{}}`}}
	session := connectInMemory(t, ctx, newTestServer(t, "detect_secrets", runner, nil))

	callTool(t, ctx, session, "detect_secrets_scan", map[string]any{"code_input": "token = 'abc'", "hex_limit": 0.0})
	joined := strings.Join(runner.args, " ")
	if !strings.Contains(joined, "--base64-limit 3.0 --hex-limit 0.0") {
		t.Errorf("limits not passed through: %s", joined)
	}
}

func TestServer_CheckPolicies(t *testing.T) {
	ctx := context.Background()
	llm := fakeLLM{answer: `{"results":{"1":{"compliant":true,"reason":"no secrets"}}}`}
	session := connectInMemory(t, ctx, newTestServer(t, "circle_test", &fakeRunner{}, llm))

	got := callTool(t, ctx, session, "check_policies", map[string]any{
		"prompt":   "Please analyze this code: x = 1",
		"policies": registry.DefaultPolicies,
	})
	want := map[string]any{
		"success": true,
		"results": map[string]any{"1": map[string]any{"compliant": true, "reason": "no secrets"}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("result mismatch (-want +got):\n%s", diff)
	}
}

func TestServer_BaselineTools(t *testing.T) {
	ctx := context.Background()
	for _, tt := range []struct {
		backend string
		want    []string
	}{
		{"bandit", []string{"bandit_baseline", "bandit_profile_scan", "bandit_scan"}},
		{"detect_secrets", []string{"detect_secrets_audit", "detect_secrets_baseline", "detect_secrets_scan"}},
	} {
		session := connectInMemory(t, ctx, newTestServer(t, tt.backend, &fakeRunner{}, nil))
		res, err := session.ListTools(ctx, nil)
		if err != nil {
			t.Fatalf("ListTools(%s): %v", tt.backend, err)
		}
		var names []string
		for _, tool := range res.Tools {
			names = append(names, tool.Name)
		}
		if diff := cmp.Diff(tt.want, names); diff != "" {
			t.Errorf("%s tools mismatch (-want +got):\n%s", tt.backend, diff)
		}
	}

	baseline := filepath.Join(t.TempDir(), ".secrets.baseline")
	if err := os.WriteFile(baseline, []byte(`{"results":{}}`), 0644); err != nil {
		t.Fatal(err)
	}
	runner := &fakeRunner{res: wrappers.CmdResult{Stdout: "No secrets to audit."}}
	session := connectInMemory(t, ctx, newTestServer(t, "detect_secrets", runner, nil))
	got := callTool(t, ctx, session, "detect_secrets_audit", map[string]any{"baseline_file": baseline, "show_stats": true})

	if diff := cmp.Diff([]string{"audit", "--stats", baseline}, runner.args); diff != "" {
		t.Errorf("args mismatch (-want +got):\n%s", diff)
	}
	if got["success"] != true || got["output"] != "No secrets to audit." {
		t.Errorf("unexpected result %v", got)
	}
}

func TestToolsFor_Unknown(t *testing.T) {
	if _, err := ToolsFor("nmap", &fakeRunner{}, nil); err == nil {
		t.Fatal("expected error for unknown backend")
	}
	if !NeedsLLM("circle_test") || NeedsLLM("bandit") {
		t.Error("NeedsLLM mismatch")
	}
}

type otherTool struct{}

func (otherTool) Name() string                   { return "port_scan" }
func (otherTool) Description() string            { return "" }
func (otherTool) Schema() map[string]interface{} { return nil }
func (otherTool) Execute(context.Context, map[string]interface{}, func(string)) (string, error) {
	return "", nil
}

func TestNewServer_RejectsUnknownTool(t *testing.T) {
	if _, err := NewServer("x", []adk.Tool{otherTool{}}); err == nil {
		t.Fatal("expected error for unsupported tool")
	}
}

func TestHandler(t *testing.T) {
	runner := &fakeRunner{res: wrappers.CmdResult{Stdout: `{"dependencies":[]}`}}
	srv := httptest.NewServer(newTestServer(t, "pip_audit", runner, nil).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/")
	if err != nil {
		t.Fatalf("GET /: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || string(body) != "pip_audit ok\n" {
		t.Errorf("readiness answer %d %q", resp.StatusCode, body)
	}

	pool := mcpclient.NewPool()
	defer pool.Close()
	b := registry.Backend{
		Name:      "pip_audit",
		Endpoint:  srv.URL + StreamablePath,
		Transport: registry.TransportStreamable,
		Tool:      "pip_audit_scan",
	}
	text, err := pool.CallTool(context.Background(), b, b.Tool, map[string]any{})
	if err != nil {
		t.Fatalf("CallTool over HTTP: %v", err)
	}
	if !strings.Contains(text, `"success":true`) || runner.name != "pip-audit" {
		t.Errorf("unexpected answer %q", text)
	}
}
