package wrappers

import (
	"context"
	"encoding/json"
)

// PipAuditWrapper implements the Tool interface for pip-audit
type PipAuditWrapper struct {
	Runner Runner
}

func (p *PipAuditWrapper) Name() string {
	return "pip_audit_scan"
}

func (p *PipAuditWrapper) Description() string {
	return "Scans the Python environment for packages with known vulnerabilities using pip-audit."
}

func (p *PipAuditWrapper) Schema() map[string]interface{} {
	return map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
}

func (p *PipAuditWrapper) Execute(ctx context.Context, args map[string]interface{}, progress func(string)) (string, error) {
	if progress != nil {
		progress("pip-audit: auditing environment")
	}
	res, err := p.Runner.Run(ctx, "pip-audit", "--format", "json")
	if err != nil {
		return failure("Error executing pip-audit: %v", err).String(), nil
	}

	code := res.ExitCode
	if code != 0 {
		out := failure("pip-audit command failed with return code %d", code)
		out.Stdout, out.Stderr, out.ReturnCode = res.Stdout, res.Stderr, &code
		return out.String(), nil
	}

	var data any = map[string]any{}
	if res.Stdout != "" {
		if err := json.Unmarshal([]byte(res.Stdout), &data); err != nil {
			out := failure("JSON parsing error: %v", err)
			out.Stdout, out.Stderr, out.ReturnCode = res.Stdout, res.Stderr, &code
			return out.String(), nil
		}
	}
	return ScanResult{Success: true, Results: data, Stderr: res.Stderr, ReturnCode: &code}.String(), nil
}
