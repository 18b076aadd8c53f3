package wrappers

import (
	"context"
	"fmt"
)

// BanditWrapper implements the Tool interface for Bandit
type BanditWrapper struct {
	Runner Runner
}

func (b *BanditWrapper) Name() string {
	return "bandit_scan"
}

func (b *BanditWrapper) Description() string {
	return "Analyzes Python code for security issues using Bandit."
}

func (b *BanditWrapper) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"code_input":       property("string", "Python code for analysis or path to file/directory"),
			"scan_type":        enumProperty("'code' for direct code or 'path' for file/directory", ScanCode, ScanPath),
			"severity_level":   enumProperty("Minimum severity level", "low", "medium", "high"),
			"confidence_level": enumProperty("Minimum confidence level", "low", "medium", "high"),
			"output_format":    enumProperty("Output format", "json", "txt", "xml"),
		},
		"required": []string{"code_input"},
	}
}

func (b *BanditWrapper) Execute(ctx context.Context, args map[string]interface{}, progress func(string)) (string, error) {
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

	cmdArgs, err := banditArgs(path, scanType == ScanPath && isDir(path),
		stringArg(args, "severity_level", "low"), stringArg(args, "confidence_level", "low"), format)
	if err != nil {
		return failure("%v", err).String(), nil
	}

	if progress != nil {
		progress(fmt.Sprintf("bandit: scanning %s", scanType))
	}
	res, err := b.Runner.Run(ctx, "bandit", cmdArgs...)
	if err != nil {
		return failure("Error executing Bandit: %v", err).String(), nil
	}
	return fromOutput(res, format).String(), nil
}

var levelFlags = map[string]string{"low": "", "medium": "l", "high": "ll"}

func banditArgs(path string, recursive bool, severity, confidence, format string) ([]string, error) {
	sev, ok := levelFlags[severity]
	if !ok {
		return nil, fmt.Errorf("invalid severity_level: %s", severity)
	}
	conf, ok := levelFlags[confidence]
	if !ok {
		return nil, fmt.Errorf("invalid confidence_level: %s", confidence)
	}

	args := []string{"-l" + sev, "-i" + conf}
	switch format {
	case "json", "xml":
		args = append(args, "-f", format)
	case "txt":
	default:
		return nil, fmt.Errorf("invalid output_format: %s", format)
	}
	if recursive {
		args = append(args, "-r")
	}
	return append(args, path), nil
}
