package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/user/gosec-mcp/pkg/adk"
	"github.com/user/gosec-mcp/pkg/config"
	"github.com/user/gosec-mcp/pkg/dispatch"
	"github.com/user/gosec-mcp/pkg/engine"
	"github.com/user/gosec-mcp/pkg/invoke"
	"github.com/user/gosec-mcp/pkg/mcpclient"
	"github.com/user/gosec-mcp/pkg/probe"
	"github.com/user/gosec-mcp/pkg/registry"
)

// newProvider builds the selected LLM provider. A missing key is returned as
// config.ErrMissingCredential.
func newProvider(ctx context.Context, cfg *config.Config) (adk.LLMProvider, error) {
	name, key, err := cfg.RequireCredential()
	if err != nil {
		return nil, err
	}
	return adk.NewProvider(ctx, name, key, cfg.SelectedModel, cfg.BaseURL(name))
}

func closeProvider(p adk.LLMProvider) {
	if closer, ok := p.(interface{ Close() }); ok {
		closer.Close()
	}
}

func loadRegistry(cfg *config.Config) (*registry.Registry, error) {
	return cfg.Registry(os.Getenv)
}

// loadTemplates returns the built-in prompts with templates_dir overrides applied.
func loadTemplates(cfg *config.Config) (*engine.Templates, error) {
	t := engine.DefaultTemplates()
	if cfg.TemplatesDir == "" {
		return t, nil
	}
	if err := t.LoadTemplates(cfg.TemplatesDir); err != nil {
		return nil, fmt.Errorf("templates_dir: %w", err)
	}
	return t, nil
}

// loadPolicies returns the policy engine and, when policy_standard is set,
// the policies sent to the compliance backend.
func loadPolicies(cfg *config.Config) (*engine.PolicyEngine, map[string]any, error) {
	pe := engine.NewPolicyEngine()
	if cfg.ProfilesDir != "" {
		if err := pe.LoadProfiles(cfg.ProfilesDir); err != nil {
			return nil, nil, fmt.Errorf("profiles_dir: %w", err)
		}
	}
	if cfg.PolicyStandard == "" {
		return pe, nil, nil
	}
	policies, err := pe.Policies(cfg.PolicyStandard)
	if err != nil {
		return nil, nil, err
	}
	return pe, policies, nil
}

func newProber(cfg *config.Config) *probe.Prober {
	p := probe.New()
	p.Attempts = cfg.Probe.Attempts
	p.Delay = cfg.Probe.Delay
	p.DialTimeout = cfg.Probe.Timeout
	return p
}

// newInvoker picks the invocation strategy for mode. llm may be nil in direct mode.
func newInvoker(mode string, llm adk.LLMProvider, pool *mcpclient.Pool, templates *engine.Templates) (invoke.Invoker, error) {
	switch mode {
	case config.ModeDirect:
		return invoke.NewDirectInvoker(pool), nil
	case config.ModeAgent:
		if llm == nil {
			return nil, fmt.Errorf("%w: agent mode needs an LLM provider", config.ErrMissingCredential)
		}
		return invoke.NewAgentInvoker(llm, pool, templates), nil
	default:
		return nil, fmt.Errorf("unknown mode %q (use %s or %s)", mode, config.ModeAgent, config.ModeDirect)
	}
}

func newCoordinator(cfg *config.Config, reg *registry.Registry, inv invoke.Invoker) *dispatch.Coordinator {
	opts := dispatch.DefaultOptions()
	opts.Timeout = cfg.Dispatch.Timeout
	opts.Retries = cfg.Dispatch.Retries
	opts.RetryDelay = cfg.Dispatch.RetryDelay
	opts.Parallel = cfg.Dispatch.Parallel
	opts.Preflight = cfg.Dispatch.Preflight
	return dispatch.New(reg, inv, newProber(cfg), opts)
}
