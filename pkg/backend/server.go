// Package backend hosts scanner tools as an MCP server, one server per backend.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/user/gosec-mcp/pkg/adk"
	"github.com/user/gosec-mcp/pkg/logging"
	"github.com/user/gosec-mcp/pkg/wrappers"
)

// HTTP paths served by Handler.
const (
	StreamablePath = "/mcp"
	SSEPath        = "/gradio_api/mcp/sse"
)

// Version is reported to MCP clients.
const Version = "1.0.0"

// backendTools lists the tools each stock backend serves.
var backendTools = map[string][]string{
	"bandit":         {"bandit_scan", "bandit_baseline", "bandit_profile_scan"},
	"semgrep":        {"semgrep_scan", "semgrep_list_rules"},
	"detect_secrets": {"detect_secrets_scan", "detect_secrets_baseline", "detect_secrets_audit"},
	"pip_audit":      {"pip_audit_scan"},
	"circle_test":    {"check_policies"},
}

// Names returns the backends that can be served, sorted.
func Names() []string {
	names := make([]string, 0, len(backendTools))
	for n := range backendTools {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// NeedsLLM reports whether the backend's tools call a language model.
func NeedsLLM(name string) bool {
	return name == "circle_test"
}

// ToolsFor returns the tools served by backend name.
func ToolsFor(name string, runner wrappers.Runner, llm adk.LLMProvider) ([]adk.Tool, error) {
	want, ok := backendTools[name]
	if !ok {
		return nil, fmt.Errorf("no scanner tools for backend %q (known: %v)", name, Names())
	}
	all := append(wrappers.Tools(runner), &wrappers.PolicyWrapper{LLM: llm})
	byName := make(map[string]adk.Tool, len(all))
	for _, t := range all {
		byName[t.Name()] = t
	}
	out := make([]adk.Tool, 0, len(want))
	for _, n := range want {
		out = append(out, byName[n])
	}
	return out, nil
}

// Server wraps the MCP SDK server for one backend.
type Server struct {
	MCPServer *sdkmcp.Server
	Name      string
	log       *slog.Logger
}

// NewServer creates a server exposing tools. Every tool must be one of the
// known scanner tools.
func NewServer(name string, tools []adk.Tool) (*Server, error) {
	s := &Server{
		MCPServer: sdkmcp.NewServer(&sdkmcp.Implementation{Name: name, Version: Version}, nil),
		Name:      name,
		log:       logging.New("backend").With("backend", name),
	}
	for _, t := range tools {
		if err := s.register(t); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// --- Tool input types ---

type codeScanInput struct {
	CodeInput       string `json:"code_input" jsonschema:"code to scan or path to file/directory"`
	ScanType        string `json:"scan_type,omitempty" jsonschema:"'code' for direct code or 'path' for file/directory"`
	SeverityLevel   string `json:"severity_level,omitempty" jsonschema:"minimum severity level: low, medium or high"`
	ConfidenceLevel string `json:"confidence_level,omitempty" jsonschema:"minimum confidence level: low, medium or high"`
	OutputFormat    string `json:"output_format,omitempty" jsonschema:"output format: json, txt or xml"`
}

type semgrepInput struct {
	CodeInput    string `json:"code_input" jsonschema:"code to scan or path to file/directory"`
	ScanType     string `json:"scan_type,omitempty" jsonschema:"'code' for direct code or 'path' for file/directory"`
	Rules        string `json:"rules,omitempty" jsonschema:"rules to use, e.g. p/default or a rules file"`
	OutputFormat string `json:"output_format,omitempty" jsonschema:"output format: json or text"`
}

type detectSecretsInput struct {
	CodeInput      string   `json:"code_input" jsonschema:"code to scan or path to file/directory"`
	ScanType       string   `json:"scan_type,omitempty" jsonschema:"'code' for direct code or 'path' for file/directory"`
	Base64Limit    *float64 `json:"base64_limit,omitempty" jsonschema:"entropy limit for base64 strings (0.0-8.0)"`
	HexLimit       *float64 `json:"hex_limit,omitempty" jsonschema:"entropy limit for hex strings (0.0-8.0)"`
	ExcludeLines   string   `json:"exclude_lines,omitempty" jsonschema:"regex pattern for lines to exclude"`
	ExcludeFiles   string   `json:"exclude_files,omitempty" jsonschema:"regex pattern for files to exclude"`
	ExcludeSecrets string   `json:"exclude_secrets,omitempty" jsonschema:"regex pattern for secrets to exclude"`
	WordList       string   `json:"word_list,omitempty" jsonschema:"path to word list file"`
	OutputFormat   string   `json:"output_format,omitempty" jsonschema:"output format: json or txt"`
}

type banditBaselineInput struct {
	TargetPath   string `json:"target_path" jsonschema:"path to the code to analyze"`
	BaselineFile string `json:"baseline_file" jsonschema:"baseline file; created when missing"`
}

type banditProfileInput struct {
	TargetPath  string `json:"target_path" jsonschema:"path to the file or directory to analyze"`
	ProfileName string `json:"profile_name,omitempty" jsonschema:"Bandit profile name, default ShellInjection"`
}

type secretsBaselineInput struct {
	TargetPath   string   `json:"target_path" jsonschema:"path to the code to scan"`
	BaselineFile string   `json:"baseline_file" jsonschema:"path to the baseline file"`
	Base64Limit  *float64 `json:"base64_limit,omitempty" jsonschema:"entropy limit for base64 strings (0.0-8.0)"`
	HexLimit     *float64 `json:"hex_limit,omitempty" jsonschema:"entropy limit for hex strings (0.0-8.0)"`
}

type secretsAuditInput struct {
	BaselineFile string `json:"baseline_file" jsonschema:"path to the baseline file"`
	ShowStats    bool   `json:"show_stats,omitempty" jsonschema:"show statistics"`
	ShowReport   bool   `json:"show_report,omitempty" jsonschema:"show report"`
	OnlyReal     bool   `json:"only_real,omitempty" jsonschema:"only show real secrets"`
	OnlyFalse    bool   `json:"only_false,omitempty" jsonschema:"only show false positives"`
}

type policyInput struct {
	Prompt   string         `json:"prompt" jsonschema:"analysis request including the code to check"`
	Policies map[string]any `json:"policies,omitempty" jsonschema:"policies to check, keyed by policy id"`
}

type emptyInput struct{}

func (s *Server) register(t adk.Tool) error {
	switch t.Name() {
	case "bandit_scan":
		addTool[codeScanInput](s, t)
	case "semgrep_scan":
		addTool[semgrepInput](s, t)
	case "bandit_baseline":
		addTool[banditBaselineInput](s, t)
	case "bandit_profile_scan":
		addTool[banditProfileInput](s, t)
	case "detect_secrets_scan":
		addTool[detectSecretsInput](s, t)
	case "detect_secrets_baseline":
		addTool[secretsBaselineInput](s, t)
	case "detect_secrets_audit":
		addTool[secretsAuditInput](s, t)
	case "check_policies":
		addTool[policyInput](s, t)
	case "semgrep_list_rules", "pip_audit_scan":
		addTool[emptyInput](s, t)
	default:
		return fmt.Errorf("backend %s: unsupported tool %q", s.Name, t.Name())
	}
	return nil
}

// addTool exposes t with a typed input. The tool's JSON answer is returned as
// text content, the way the scanner servers have always answered.
func addTool[In any](s *Server, t adk.Tool) {
	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        t.Name(),
		Description: t.Description(),
	}, func(ctx context.Context, req *sdkmcp.CallToolRequest, in In) (*sdkmcp.CallToolResult, any, error) {
		args, err := toArgs(in)
		if err != nil {
			return nil, nil, err
		}
		start := time.Now()
		out, err := t.Execute(ctx, args, func(msg string) {
			s.log.Debug("tool progress", "tool", t.Name(), "msg", msg)
		})
		if err != nil {
			s.log.Warn("tool failed", "tool", t.Name(), "error", err)
			return nil, nil, err
		}
		s.log.Info("tool call", "tool", t.Name(), "elapsed", time.Since(start).Round(time.Millisecond))
		return &sdkmcp.CallToolResult{
			Content: []sdkmcp.Content{&sdkmcp.TextContent{Text: out}},
		}, nil, nil
	})
}

func toArgs(in any) (map[string]interface{}, error) {
	data, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	args := make(map[string]interface{})
	if err := json.Unmarshal(data, &args); err != nil {
		return nil, err
	}
	return args, nil
}

// Handler serves the MCP endpoints plus a plain readiness answer on "/".
func (s *Server) Handler() http.Handler {
	getServer := func(*http.Request) *sdkmcp.Server { return s.MCPServer }

	mux := http.NewServeMux()
	mux.Handle(StreamablePath, sdkmcp.NewStreamableHTTPHandler(getServer, nil))
	mux.Handle(SSEPath, sdkmcp.NewSSEHandler(getServer, nil))
	mux.HandleFunc("/{$}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintf(w, "%s ok\n", s.Name)
	})
	return mux
}

// ListenAndServe serves Handler on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	s.log.Info("serving backend", "addr", addr, "streamable", StreamablePath, "sse", SSEPath)

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
