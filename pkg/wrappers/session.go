package wrappers

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/user/gosec-mcp/pkg/dispatch"
	"github.com/user/gosec-mcp/pkg/engine"
)

// Dispatcher runs one scan. *dispatch.Coordinator implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, req dispatch.ScanRequest) (*engine.Report, error)
}

// Session is the state shared by the interactive tools: the last scanned
// file and its report.
type Session struct {
	mu       sync.Mutex
	filename string
	report   *engine.Report
}

func (s *Session) set(filename string, r *engine.Report) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filename, s.report = filename, r
}

// Last returns the last report and the file it was produced for.
func (s *Session) Last() (string, *engine.Report) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filename, s.report
}

// ScanWrapper runs the multi-backend scan from the chat loop.
type ScanWrapper struct {
	Dispatcher Dispatcher
	Session    *Session
	Policies   map[string]any
}

func (s *ScanWrapper) Name() string {
	return "run_scan"
}

func (s *ScanWrapper) Description() string {
	return "Scans a source file with every security backend (or the selected ones) and summarizes the results per backend."
}

func (s *ScanWrapper) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path":     property("string", "Source file to scan (.py, .js, .java, .go, .rb)"),
			"backends": property("string", "Comma-separated backend names. Defaults to all."),
			"focus":    property("string", "Optional analysis focus, e.g. 'SQL injection'"),
		},
		"required": []string{"path"},
	}
}

func (s *ScanWrapper) Execute(ctx context.Context, args map[string]interface{}, progress func(string)) (string, error) {
	if s.Dispatcher == nil || s.Session == nil {
		return "Error: scanner not initialized.", nil
	}
	path := stringArg(args, "path", "")
	if path == "" {
		return "Error: path is required.", nil
	}
	if !engine.SupportedSource(path) {
		return fmt.Sprintf("Error: unsupported file type %q. Supported: .py, .js, .java, .go, .rb", path), nil
	}
	code, err := os.ReadFile(path)
	if err != nil {
		return fmt.Sprintf("Error reading %s: %v", path, err), nil
	}

	req := dispatch.ScanRequest{
		Artifact: string(code),
		Backends: splitList(stringArg(args, "backends", "")),
		Focus:    stringArg(args, "focus", ""),
		Policies: s.Policies,
	}
	if progress != nil {
		progress(fmt.Sprintf("Scanning %s...", path))
	}
	report, err := s.Dispatcher.Dispatch(ctx, req)
	if err != nil {
		return fmt.Sprintf("Scan failed: %v", err), nil
	}
	s.Session.set(path, report)

	var sb strings.Builder
	fmt.Fprintf(&sb, "Scan of %s complete (%d backends).\n", path, report.Len())
	sb.WriteString(report.SummaryTable())
	for _, d := range report.Diagnostics {
		fmt.Fprintf(&sb, "\nwarning: %s %s", d.Backend, d.Message)
	}
	if failed := report.Failed(); len(failed) > 0 {
		fmt.Fprintf(&sb, "\nFailed backends: %s", strings.Join(failed, ", "))
	}
	return sb.String(), nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
