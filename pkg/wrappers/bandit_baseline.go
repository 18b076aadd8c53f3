package wrappers

import (
	"context"
	"fmt"
)

// DefaultBanditProfile is the profile used when none is given.
const DefaultBanditProfile = "ShellInjection"

// BanditBaselineWrapper creates a Bandit baseline, or compares a target with
// an existing one.
type BanditBaselineWrapper struct {
	Runner Runner
}

func (b *BanditBaselineWrapper) Name() string {
	return "bandit_baseline"
}

func (b *BanditBaselineWrapper) Description() string {
	return "Creates a Bandit baseline file, or reports only issues not in an existing baseline."
}

func (b *BanditBaselineWrapper) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"target_path":   property("string", "Path to the code to analyze"),
			"baseline_file": property("string", "Path to the baseline file; created when missing"),
		},
		"required": []string{"target_path", "baseline_file"},
	}
}

func (b *BanditBaselineWrapper) Execute(ctx context.Context, args map[string]interface{}, progress func(string)) (string, error) {
	targetPath := stringArg(args, "target_path", "")
	baseline := stringArg(args, "baseline_file", "")
	if targetPath == "" || baseline == "" {
		return failure("target_path and baseline_file are required").String(), nil
	}
	if !exists(targetPath) {
		return failure("Path not found: %s", targetPath).String(), nil
	}

	if !exists(baseline) {
		if progress != nil {
			progress("bandit: creating baseline")
		}
		res, err := b.Runner.Run(ctx, "bandit", "-r", targetPath, "-f", "json", "-o", baseline)
		if err != nil {
			return failure("Error working with baseline: %v", err).String(), nil
		}
		code := res.ExitCode
		return ScanResult{
			Success:    true,
			Action:     "created",
			Message:    fmt.Sprintf("Baseline file created: %s", baseline),
			Stderr:     res.Stderr,
			ReturnCode: &code,
		}.String(), nil
	}

	if progress != nil {
		progress("bandit: comparing with baseline")
	}
	res, err := b.Runner.Run(ctx, "bandit", "-r", targetPath, "-b", baseline, "-f", "json")
	if err != nil {
		return failure("Error working with baseline: %v", err).String(), nil
	}
	out := fromOutput(res, "json")
	if !out.Success {
		out.Error = "JSON parsing error when comparing with baseline"
		return out.String(), nil
	}
	out.Action = "compared"
	return out.String(), nil
}

// BanditProfileWrapper runs Bandit restricted to one test profile.
type BanditProfileWrapper struct {
	Runner Runner
}

func (b *BanditProfileWrapper) Name() string {
	return "bandit_profile_scan"
}

func (b *BanditProfileWrapper) Description() string {
	return "Runs Bandit with a named security profile, e.g. ShellInjection."
}

func (b *BanditProfileWrapper) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"target_path":  property("string", "Path to the file or directory to analyze"),
			"profile_name": property("string", "Bandit profile name (default ShellInjection)"),
		},
		"required": []string{"target_path"},
	}
}

func (b *BanditProfileWrapper) Execute(ctx context.Context, args map[string]interface{}, progress func(string)) (string, error) {
	targetPath := stringArg(args, "target_path", "")
	if targetPath == "" {
		return failure("target_path is required").String(), nil
	}
	if !exists(targetPath) {
		return failure("Path not found: %s", targetPath).String(), nil
	}
	profile := stringArg(args, "profile_name", DefaultBanditProfile)

	cmdArgs := []string{"-p", profile, "-f", "json"}
	if isDir(targetPath) {
		cmdArgs = append(cmdArgs, "-r")
	}
	cmdArgs = append(cmdArgs, targetPath)

	if progress != nil {
		progress(fmt.Sprintf("bandit: profile %s", profile))
	}
	res, err := b.Runner.Run(ctx, "bandit", cmdArgs...)
	if err != nil {
		return failure("Error executing profile scan: %v", err).String(), nil
	}
	out := fromOutput(res, "json")
	if out.Success {
		out.Profile = profile
	}
	return out.String(), nil
}
