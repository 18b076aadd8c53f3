package wrappers

import (
	"context"
	"fmt"
	"os"
)

// DetectSecretsBaselineWrapper creates or refreshes a detect-secrets baseline file.
type DetectSecretsBaselineWrapper struct {
	Runner Runner
}

func (d *DetectSecretsBaselineWrapper) Name() string {
	return "detect_secrets_baseline"
}

func (d *DetectSecretsBaselineWrapper) Description() string {
	return "Creates or updates a detect-secrets baseline file for a path."
}

func (d *DetectSecretsBaselineWrapper) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"target_path":   property("string", "Path to the code to scan"),
			"baseline_file": property("string", "Path to the baseline file"),
			"base64_limit":  property("number", "Entropy limit for base64 strings (0.0-8.0, default 4.5)"),
			"hex_limit":     property("number", "Entropy limit for hex strings (0.0-8.0, default 3.0)"),
		},
		"required": []string{"target_path", "baseline_file"},
	}
}

func (d *DetectSecretsBaselineWrapper) Execute(ctx context.Context, args map[string]interface{}, progress func(string)) (string, error) {
	targetPath := stringArg(args, "target_path", "")
	baseline := stringArg(args, "baseline_file", "")
	if targetPath == "" || baseline == "" {
		return failure("target_path and baseline_file are required").String(), nil
	}
	if !exists(targetPath) {
		return failure("Path not found: %s", targetPath).String(), nil
	}
	base64Limit, err := entropyLimit(args, "base64_limit", 4.5)
	if err != nil {
		return failure("%v", err).String(), nil
	}
	hexLimit, err := entropyLimit(args, "hex_limit", 3.0)
	if err != nil {
		return failure("%v", err).String(), nil
	}

	cmdArgs := []string{"scan",
		"--base64-limit", formatLimit(base64Limit),
		"--hex-limit", formatLimit(hexLimit),
	}
	action := "created"
	if exists(baseline) {
		action = "updated"
		cmdArgs = append(cmdArgs, "--baseline", baseline)
	}
	cmdArgs = append(cmdArgs, targetPath)

	if progress != nil {
		progress(fmt.Sprintf("detect-secrets: baseline %s", action))
	}
	res, err := d.Runner.Run(ctx, "detect-secrets", cmdArgs...)
	if err != nil {
		return failure("Error working with baseline: %v", err).String(), nil
	}
	code := res.ExitCode
	// A failed run must not clobber an existing baseline.
	if res.ExitCode != 0 || res.Stdout == "" {
		return ScanResult{
			Error:      fmt.Sprintf("detect-secrets exited with code %d; baseline left untouched", res.ExitCode),
			Stderr:     res.Stderr,
			ReturnCode: &code,
		}.String(), nil
	}
	if err := os.WriteFile(baseline, []byte(res.Stdout), 0644); err != nil {
		return failure("Error working with baseline: %v", err).String(), nil
	}
	return ScanResult{
		Success:    true,
		Action:     action,
		Message:    fmt.Sprintf("Baseline file %s: %s", action, baseline),
		Stderr:     res.Stderr,
		ReturnCode: &code,
	}.String(), nil
}

// DetectSecretsAuditWrapper runs detect-secrets audit over a baseline file.
type DetectSecretsAuditWrapper struct {
	Runner Runner
}

func (d *DetectSecretsAuditWrapper) Name() string {
	return "detect_secrets_audit"
}

func (d *DetectSecretsAuditWrapper) Description() string {
	return "Audits a detect-secrets baseline file (statistics, report, real or false positives)."
}

func (d *DetectSecretsAuditWrapper) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"baseline_file": property("string", "Path to the baseline file"),
			"show_stats":    property("boolean", "Show statistics"),
			"show_report":   property("boolean", "Show report"),
			"only_real":     property("boolean", "Only show real secrets"),
			"only_false":    property("boolean", "Only show false positives"),
		},
		"required": []string{"baseline_file"},
	}
}

func (d *DetectSecretsAuditWrapper) Execute(ctx context.Context, args map[string]interface{}, progress func(string)) (string, error) {
	baseline := stringArg(args, "baseline_file", "")
	if baseline == "" {
		return failure("baseline_file is required").String(), nil
	}
	if !exists(baseline) {
		return failure("Baseline file not found: %s", baseline).String(), nil
	}

	cmdArgs := []string{"audit"}
	for _, opt := range []struct{ key, flag string }{
		{"show_stats", "--stats"},
		{"show_report", "--report"},
		{"only_real", "--only-real"},
		{"only_false", "--only-false"},
	} {
		if boolArg(args, opt.key) {
			cmdArgs = append(cmdArgs, opt.flag)
		}
	}
	cmdArgs = append(cmdArgs, baseline)

	if progress != nil {
		progress("detect-secrets: auditing baseline")
	}
	res, err := d.Runner.Run(ctx, "detect-secrets", cmdArgs...)
	if err != nil {
		return failure("Error auditing baseline: %v", err).String(), nil
	}
	return fromOutput(res, "txt").String(), nil
}
