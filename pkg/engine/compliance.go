package engine

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/user/gosec-mcp/pkg/logging"
)

// Control is a single rule of a compliance standard.
type Control struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Severity    string `yaml:"severity"`
}

// Rule is the text sent to the policy backend for this control.
func (c Control) Rule() string {
	switch {
	case c.Description != "":
		return c.Description
	default:
		return c.Name
	}
}

// Profile is a compliance standard (e.g. OWASP-ASVS) and its controls.
type Profile struct {
	Standard    string    `yaml:"standard"`
	Description string    `yaml:"description"`
	Controls    []Control `yaml:"controls"`
}

// PolicyEngine manages compliance profiles that feed the policy backend.
type PolicyEngine struct {
	Profiles map[string]Profile
	log      *slog.Logger
}

// NewPolicyEngine creates an engine with no profiles loaded.
func NewPolicyEngine() *PolicyEngine {
	return &PolicyEngine{
		Profiles: make(map[string]Profile),
		log:      logging.New("policy"),
	}
}

// LoadProfiles reads YAML profiles from a directory.
func (e *PolicyEngine) LoadProfiles(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() || !isYAML(entry.Name()) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return err
		}

		var p Profile
		if err := yaml.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("parse profile %s: %w", entry.Name(), err)
		}
		if p.Standard == "" {
			return fmt.Errorf("profile %s: missing standard", entry.Name())
		}
		e.Profiles[p.Standard] = p
		e.log.Debug("loaded compliance profile", "standard", p.Standard, "controls", len(p.Controls))
	}
	return nil
}

// ListStandards returns the names of loaded standards, sorted.
func (e *PolicyEngine) ListStandards() []string {
	keys := make([]string, 0, len(e.Profiles))
	for k := range e.Profiles {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// GetProfile retrieves a profile by name, ignoring case.
func (e *PolicyEngine) GetProfile(name string) (Profile, bool) {
	if p, ok := e.Profiles[name]; ok {
		return p, true
	}
	for k, p := range e.Profiles {
		if strings.EqualFold(k, name) {
			return p, true
		}
	}
	return Profile{}, false
}

// Policies builds the policy-id to rule-text map for standard, in the shape
// the policy backend's "policies" argument expects.
func (e *PolicyEngine) Policies(standard string) (map[string]any, error) {
	p, ok := e.GetProfile(standard)
	if !ok {
		return nil, fmt.Errorf("unknown compliance standard %q (loaded: %s)", standard, strings.Join(e.ListStandards(), ", "))
	}
	out := make(map[string]any, len(p.Controls))
	for _, c := range p.Controls {
		if c.ID == "" {
			continue
		}
		out[c.ID] = c.Rule()
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("compliance standard %q has no controls", p.Standard)
	}
	return out, nil
}

func isYAML(name string) bool {
	ext := filepath.Ext(name)
	return ext == ".yaml" || ext == ".yml"
}
