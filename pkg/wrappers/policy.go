package wrappers

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/user/gosec-mcp/pkg/adk"
	"github.com/user/gosec-mcp/pkg/engine"
	"github.com/user/gosec-mcp/pkg/extract"
)

// PolicyWrapper checks a request against numbered policies with an LLM.
type PolicyWrapper struct {
	LLM       adk.LLMProvider
	Templates *engine.Templates
}

func (p *PolicyWrapper) Name() string {
	return "check_policies"
}

func (p *PolicyWrapper) Description() string {
	return "Checks the code in a request against a set of security policies and reports compliance per policy."
}

func (p *PolicyWrapper) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"prompt":   property("string", "Analysis request including the code to check"),
			"policies": property("object", "Policies to check, keyed by policy id"),
		},
		"required": []string{"prompt"},
	}
}

func (p *PolicyWrapper) Execute(ctx context.Context, args map[string]interface{}, progress func(string)) (string, error) {
	if p.LLM == nil {
		return failure("Error: no LLM provider configured for policy checks.").String(), nil
	}
	prompt, _ := args["prompt"].(string)
	if strings.TrimSpace(prompt) == "" {
		return failure("prompt is required").String(), nil
	}
	policies, _ := args["policies"].(map[string]interface{})
	if len(policies) == 0 {
		return failure("policies is required").String(), nil
	}

	templates := p.Templates
	if templates == nil {
		templates = engine.DefaultTemplates()
	}
	text, err := templates.Render(adk.PromptPolicy, map[string]string{
		"policies": formatPolicies(policies),
		"prompt":   prompt,
	})
	if err != nil {
		return failure("%v", err).String(), nil
	}

	if progress != nil {
		progress(fmt.Sprintf("checking %d policies", len(policies)))
	}
	answer, _, err := p.LLM.GenerateResponse(ctx, []adk.Message{{Role: "user", Content: text}}, nil)
	if err != nil {
		return failure("Error checking policies: %v", err).String(), nil
	}

	payload, err := extract.Extract(answer)
	if err != nil {
		out := failure("Error checking policies: %v", err)
		out.Output = answer
		return out.String(), nil
	}
	if doc, ok := payload.(map[string]any); ok {
		if results, ok := doc["results"]; ok {
			payload = results
		}
	}
	return ScanResult{Success: true, Results: payload}.String(), nil
}

// formatPolicies lists policies one per line, ordered by id.
func formatPolicies(policies map[string]interface{}) string {
	ids := make([]string, 0, len(policies))
	for id := range policies {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var sb strings.Builder
	for _, id := range ids {
		rule, ok := policies[id].(string)
		if !ok {
			data, _ := json.Marshal(policies[id])
			rule = string(data)
		}
		fmt.Fprintf(&sb, "%s. %s\n", id, rule)
	}
	return sb.String()
}
