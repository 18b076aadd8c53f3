package wrappers

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Entropy limits accepted by detect-secrets.
const (
	MinEntropyLimit = 0.0
	MaxEntropyLimit = 8.0
)

// CodeInputKey replaces the temp file name in detect-secrets results of a code scan.
const CodeInputKey = "code_input"

// Filters that hide short or sequential secrets in small snippets.
var disabledFilters = []string{
	"detect_secrets.filters.gibberish.should_exclude_secret",
	"detect_secrets.filters.heuristic.is_likely_id_string",
	"detect_secrets.filters.heuristic.is_sequential_string",
}

// DetectSecretsWrapper implements the Tool interface for detect-secrets
type DetectSecretsWrapper struct {
	Runner Runner
}

func (d *DetectSecretsWrapper) Name() string {
	return "detect_secrets_scan"
}

func (d *DetectSecretsWrapper) Description() string {
	return "Scans code for hardcoded secrets using detect-secrets."
}

func (d *DetectSecretsWrapper) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"code_input":      property("string", "Code to scan or path to file/directory"),
			"scan_type":       enumProperty("'code' for direct code or 'path' for file/directory", ScanCode, ScanPath),
			"base64_limit":    property("number", "Entropy limit for base64 strings (0.0-8.0)"),
			"hex_limit":       property("number", "Entropy limit for hex strings (0.0-8.0)"),
			"exclude_lines":   property("string", "Regex pattern for lines to exclude"),
			"exclude_files":   property("string", "Regex pattern for files to exclude"),
			"exclude_secrets": property("string", "Regex pattern for secrets to exclude"),
			"word_list":       property("string", "Path to word list file"),
			"output_format":   enumProperty("Output format", "json", "txt"),
		},
		"required": []string{"code_input"},
	}
}

func (d *DetectSecretsWrapper) Execute(ctx context.Context, args map[string]interface{}, progress func(string)) (string, error) {
	input, ok := codeInput(args)
	if !ok {
		return failure("code_input is required").String(), nil
	}
	scanType := stringArg(args, "scan_type", ScanCode)
	format := stringArg(args, "output_format", "json")

	base64Limit, err := entropyLimit(args, "base64_limit", 3.0)
	if err != nil {
		return failure("%v", err).String(), nil
	}
	hexLimit, err := entropyLimit(args, "hex_limit", 2.0)
	if err != nil {
		return failure("%v", err).String(), nil
	}

	path, cleanup, err := target(input, scanType, ".py")
	if err != nil {
		return failure("%v", err).String(), nil
	}
	defer cleanup()

	cmdArgs := []string{"scan",
		"--base64-limit", formatLimit(base64Limit),
		"--hex-limit", formatLimit(hexLimit),
	}
	for _, opt := range []struct{ key, flag string }{
		{"exclude_lines", "--exclude-lines"},
		{"exclude_files", "--exclude-files"},
		{"exclude_secrets", "--exclude-secrets"},
		{"word_list", "--word-list"},
	} {
		if v := stringArg(args, opt.key, ""); v != "" {
			cmdArgs = append(cmdArgs, opt.flag, v)
		}
	}
	cmdArgs = append(cmdArgs, "--force-use-all-plugins", "--no-verify")
	for _, f := range disabledFilters {
		cmdArgs = append(cmdArgs, "--disable-filter", f)
	}
	cmdArgs = append(cmdArgs, path)

	if progress != nil {
		progress(fmt.Sprintf("detect-secrets: scanning %s", scanType))
	}
	res, err := d.Runner.Run(ctx, "detect-secrets", cmdArgs...)
	if err != nil {
		return failure("Error executing detect-secrets: %v", err).String(), nil
	}

	out := fromOutput(res, format)
	if scanType == ScanCode {
		out.Results = renameResultFile(out.Results, path, CodeInputKey)
	}
	return out.String(), nil
}

func entropyLimit(args map[string]interface{}, key string, def float64) (float64, error) {
	v, err := floatArg(args, key, def)
	if err != nil {
		return 0, err
	}
	if v < MinEntropyLimit || v > MaxEntropyLimit {
		return 0, fmt.Errorf("%s must be between %.1f and %.1f, got %v", key, MinEntropyLimit, MaxEntropyLimit, v)
	}
	return v, nil
}

// formatLimit prints whole numbers with one decimal, as detect-secrets documents them.
func formatLimit(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

// renameResultFile rekeys the per-file results so temp paths do not leak into reports.
func renameResultFile(results any, from, to string) any {
	doc, ok := results.(map[string]any)
	if !ok {
		return results
	}
	files, ok := doc["results"].(map[string]any)
	if !ok {
		return results
	}
	entries, ok := files[from]
	if !ok {
		return results
	}
	delete(files, from)
	if list, ok := entries.([]any); ok {
		for _, e := range list {
			if m, ok := e.(map[string]any); ok {
				m["filename"] = to
			}
		}
	}
	files[to] = entries
	return doc
}
