package wrappers

import (
	"context"
	"fmt"
	"strings"
)

// DefaultSemgrepRules is the registry ruleset used when none is given.
const DefaultSemgrepRules = "p/default"

// SemgrepWrapper implements the Tool interface for Semgrep
type SemgrepWrapper struct {
	Runner Runner
}

func (s *SemgrepWrapper) Name() string {
	return "semgrep_scan"
}

func (s *SemgrepWrapper) Description() string {
	return "Scans code with Semgrep static analysis rules."
}

func (s *SemgrepWrapper) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"code_input":    property("string", "Code to scan or path to file/directory"),
			"scan_type":     enumProperty("'code' for direct code or 'path' for file/directory", ScanCode, ScanPath),
			"rules":         property("string", "Rules to use, e.g. 'p/default' or a path to a rules file"),
			"output_format": enumProperty("Output format", "json", "text"),
		},
		"required": []string{"code_input"},
	}
}

func (s *SemgrepWrapper) Execute(ctx context.Context, args map[string]interface{}, progress func(string)) (string, error) {
	input, ok := codeInput(args)
	if !ok {
		return failure("code_input is required").String(), nil
	}
	scanType := stringArg(args, "scan_type", ScanCode)
	format := stringArg(args, "output_format", "json")

	path, cleanup, err := target(input, scanType, ".py")
	if err != nil {
		return failure("%v", err).String(), nil
	}
	defer cleanup()

	cmdArgs := []string{"scan", "--config", stringArg(args, "rules", DefaultSemgrepRules)}
	if format == "json" {
		cmdArgs = append(cmdArgs, "--json")
	}
	cmdArgs = append(cmdArgs, path)

	if progress != nil {
		progress(fmt.Sprintf("semgrep: scanning %s", scanType))
	}
	res, err := s.Runner.Run(ctx, "semgrep", cmdArgs...)
	if err != nil {
		return failure("Error executing Semgrep: %v", err).String(), nil
	}
	return fromOutput(res, format).String(), nil
}

// SemgrepRulesWrapper lists the rules known to the local Semgrep install.
type SemgrepRulesWrapper struct {
	Runner Runner
}

func (s *SemgrepRulesWrapper) Name() string {
	return "semgrep_list_rules"
}

func (s *SemgrepRulesWrapper) Description() string {
	return "Lists the available Semgrep rules."
}

func (s *SemgrepRulesWrapper) Schema() map[string]interface{} {
	return map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
}

func (s *SemgrepRulesWrapper) Execute(ctx context.Context, args map[string]interface{}, progress func(string)) (string, error) {
	res, err := s.Runner.Run(ctx, "semgrep", "list-rules")
	if err != nil {
		return failure("Error executing Semgrep: %v", err).String(), nil
	}
	if res.ExitCode != 0 {
		return failure("Error listing rules: %s", res.Stderr).String(), nil
	}

	rules := []string{}
	for _, line := range strings.Split(res.Stdout, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			rules = append(rules, line)
		}
	}
	return ScanResult{Success: true, Rules: rules}.String(), nil
}
