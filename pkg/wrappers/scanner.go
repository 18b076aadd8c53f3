// Package wrappers exposes the scanner command-line tools as agent tools. Each
// wrapper shells out to one scanner and answers with a JSON ScanResult.
package wrappers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"

	"github.com/user/gosec-mcp/pkg/adk"
)

// ErrBinaryNotFound is returned by ExecRunner when the scanner is not installed.
var ErrBinaryNotFound = errors.New("binary not found")

// Scan types accepted by the code scanners.
const (
	ScanCode = "code"
	ScanPath = "path"
)

// CmdResult is the outcome of one scanner process.
type CmdResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner runs a scanner binary. A non-zero exit is a result, not an error.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (CmdResult, error)
}

// ExecRunner runs binaries from PATH.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) (CmdResult, error) {
	if _, err := exec.LookPath(name); err != nil {
		return CmdResult{}, fmt.Errorf("'%s' %w: install it to use this tool", name, ErrBinaryNotFound)
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()

	res := CmdResult{Stdout: stdout.String(), Stderr: stderr.String()}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && ctx.Err() == nil {
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}
	return res, err
}

// ScanResult is the answer of every scanner tool.
type ScanResult struct {
	Success    bool     `json:"success"`
	Action     string   `json:"action,omitempty"`
	Message    string   `json:"message,omitempty"`
	Profile    string   `json:"profile,omitempty"`
	Results    any      `json:"results,omitempty"`
	Output     string   `json:"output,omitempty"`
	Rules      []string `json:"rules,omitempty"`
	Error      string   `json:"error,omitempty"`
	Stdout     string   `json:"stdout,omitempty"`
	Stderr     string   `json:"stderr,omitempty"`
	ReturnCode *int     `json:"return_code,omitempty"`
}

// String encodes the result as the tool's text answer.
func (r ScanResult) String() string {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Sprintf(`{"success":false,"error":%q}`, err.Error())
	}
	return string(data)
}

func failure(format string, a ...any) ScanResult {
	return ScanResult{Error: fmt.Sprintf(format, a...)}
}

// fromOutput builds the result of a finished scanner run. JSON output is
// decoded; empty output decodes to an empty object.
func fromOutput(res CmdResult, format string) ScanResult {
	code := res.ExitCode
	if format != "json" {
		return ScanResult{Success: true, Output: res.Stdout, Stderr: res.Stderr, ReturnCode: &code}
	}

	var data any = map[string]any{}
	if res.Stdout != "" {
		if err := json.Unmarshal([]byte(res.Stdout), &data); err != nil {
			return ScanResult{Error: "JSON parsing error", Stdout: res.Stdout, Stderr: res.Stderr, ReturnCode: &code}
		}
	}
	return ScanResult{Success: true, Results: data, Stderr: res.Stderr, ReturnCode: &code}
}

// target resolves what to scan: a temp file holding the code, or an existing
// path. The returned cleanup is always safe to call.
func target(input, scanType, suffix string) (path string, cleanup func(), err error) {
	if scanType == ScanPath {
		if _, err := os.Stat(input); err != nil {
			return "", func() {}, fmt.Errorf("Path not found: %s", input)
		}
		return input, func() {}, nil
	}

	f, err := os.CreateTemp("", "gosec-scan-*"+suffix)
	if err != nil {
		return "", func() {}, fmt.Errorf("Error creating temp file: %v", err)
	}
	cleanup = func() { os.Remove(f.Name()) }
	if _, err := f.WriteString(input); err != nil {
		f.Close()
		cleanup()
		return "", func() {}, fmt.Errorf("Error writing temp file: %v", err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", func() {}, fmt.Errorf("Error writing temp file: %v", err)
	}
	return f.Name(), cleanup, nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func boolArg(args map[string]interface{}, key string) bool {
	switch v := args[key].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	}
	return false
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func stringArg(args map[string]interface{}, key, def string) string {
	if v, ok := args[key].(string); ok && v != "" {
		return v
	}
	return def
}

// floatArg accepts JSON numbers and numeric strings.
func floatArg(args map[string]interface{}, key string, def float64) (float64, error) {
	switch v := args[key].(type) {
	case nil:
		return def, nil
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case json.Number:
		return v.Float64()
	case string:
		if v == "" {
			return def, nil
		}
		return strconv.ParseFloat(v, 64)
	}
	return 0, fmt.Errorf("%s: not a number: %v", key, args[key])
}

func codeInput(args map[string]interface{}) (string, bool) {
	v, ok := args["code_input"].(string)
	return v, ok && v != ""
}

func property(typ, description string) map[string]interface{} {
	return map[string]interface{}{"type": typ, "description": description}
}

func enumProperty(description string, values ...string) map[string]interface{} {
	p := property("string", description)
	p["enum"] = values
	return p
}

// Tools returns every scanner wrapper sharing one runner.
func Tools(r Runner) []adk.Tool {
	return []adk.Tool{
		&BanditWrapper{Runner: r},
		&SemgrepWrapper{Runner: r},
		&SemgrepRulesWrapper{Runner: r},
		&BanditBaselineWrapper{Runner: r},
		&BanditProfileWrapper{Runner: r},
		&DetectSecretsWrapper{Runner: r},
		&DetectSecretsBaselineWrapper{Runner: r},
		&DetectSecretsAuditWrapper{Runner: r},
		&PipAuditWrapper{Runner: r},
	}
}
