package wrappers

import (
	"context"
	"fmt"
	"os"

	"github.com/user/gosec-mcp/pkg/engine"
)

// RemediationWrapper implements the Tool interface for proposing a corrected file
type RemediationWrapper struct {
	Engine  *engine.RemediationEngine
	Session *Session
}

func (r *RemediationWrapper) Name() string {
	return "propose_fix"
}

func (r *RemediationWrapper) Description() string {
	return "Proposes a corrected version of a source file and shows the unified diff. Use this after a scan found vulnerabilities."
}

func (r *RemediationWrapper) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path":   property("string", "Source file to fix. Defaults to the last scanned file."),
			"focus":  property("string", "Optional issue to concentrate on"),
			"output": property("string", "Optional path to write the corrected file to"),
		},
	}
}

func (r *RemediationWrapper) Execute(ctx context.Context, args map[string]interface{}, progress func(string)) (string, error) {
	if r.Engine == nil {
		return "Error: Remediation engine not initialized.", nil
	}

	path := stringArg(args, "path", "")
	if path == "" && r.Session != nil {
		path, _ = r.Session.Last()
	}
	if path == "" {
		return "Error: no file given and no scan has been run yet.", nil
	}
	code, err := os.ReadFile(path)
	if err != nil {
		return fmt.Sprintf("Error reading %s: %v", path, err), nil
	}

	if progress != nil {
		progress(fmt.Sprintf("Generating fix for %s...", path))
	}
	res := r.Engine.Run(ctx, engine.FixRequest{
		Filename: path,
		Code:     string(code),
		Focus:    stringArg(args, "focus", ""),
	})
	if res.Err != nil {
		return fmt.Sprintf("Error generating fix: %v", res.Err), nil
	}

	out := res.Diff.String()
	if output := stringArg(args, "output", ""); output != "" && res.Diff.Changed() {
		if err := os.WriteFile(output, []byte(res.Revised), 0644); err != nil {
			return fmt.Sprintf("%s\n\nError writing %s: %v", out, output, err), nil
		}
		out += fmt.Sprintf("\n\nCorrected file written to %s", output)
	}
	return out, nil
}
