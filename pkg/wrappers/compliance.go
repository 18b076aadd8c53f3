package wrappers

import (
	"context"
	"fmt"
	"strings"

	"github.com/user/gosec-mcp/pkg/engine"
)

// ComplianceWrapper implements the Tool interface for browsing compliance profiles
type ComplianceWrapper struct {
	Engine *engine.PolicyEngine
}

func (c *ComplianceWrapper) Name() string {
	return "list_policies"
}

func (c *ComplianceWrapper) Description() string {
	return "Lists the loaded compliance standards, or the controls of one standard that the policy backend checks code against."
}

func (c *ComplianceWrapper) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"standard":   property("string", "The compliance standard (e.g. 'OWASP-ASVS'). If omitted, lists available standards."),
			"control_id": property("string", "Specific control ID to show. If omitted, shows all controls of the standard."),
		},
	}
}

func (c *ComplianceWrapper) Execute(ctx context.Context, args map[string]interface{}, progress func(string)) (string, error) {
	if c.Engine == nil {
		return "Error: Compliance engine not initialized.", nil
	}

	standard := stringArg(args, "standard", "")
	controlID := stringArg(args, "control_id", "")

	if standard == "" {
		stds := c.Engine.ListStandards()
		if len(stds) == 0 {
			return "No compliance standards loaded. Set profiles_dir in the config.", nil
		}
		return fmt.Sprintf("Available Compliance Standards: %s", strings.Join(stds, ", ")), nil
	}

	profile, ok := c.Engine.GetProfile(standard)
	if !ok {
		return fmt.Sprintf("Standard '%s' not found. Available: %s", standard, strings.Join(c.Engine.ListStandards(), ", ")), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Controls of %s:\n\n", profile.Standard)
	shown := 0
	for _, control := range profile.Controls {
		if controlID != "" && !strings.EqualFold(control.ID, controlID) {
			continue
		}
		shown++
		severity := control.Severity
		if severity == "" {
			severity = "-"
		}
		fmt.Fprintf(&sb, "[%s] %s: %s\n  %s\n\n", severity, control.ID, control.Name, control.Rule())
	}
	if shown == 0 {
		return fmt.Sprintf("No controls found matching ID '%s' in standard '%s'.", controlID, standard), nil
	}
	fmt.Fprintf(&sb, "Total: %d controls", shown)
	return sb.String(), nil
}
