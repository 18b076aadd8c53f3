package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/user/gosec-mcp/pkg/registry"
)

// ErrMissingCredential means the selected mode needs an LLM key and none is configured.
var ErrMissingCredential = errors.New("missing API credential")

// Dispatch modes.
const (
	ModeAgent  = "agent"
	ModeDirect = "direct"
)

// Default values applied to zero fields.
const (
	DefaultProvider   = "nebius"
	DefaultTimeout    = 120 * time.Second
	DefaultRetries    = 2
	DefaultRetryDelay = time.Second
	DefaultAttempts   = 5
	DefaultProbeDelay = 5 * time.Second
	DefaultProbeDial  = time.Second
)

// credentialEnv maps provider names to the environment variable holding their key.
var credentialEnv = map[string]string{
	"nebius": "NEBIUS_API_KEY",
	"openai": "OPENAI_API_KEY",
	"gemini": "GOOGLE_API_KEY",
}

type ProviderConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url,omitempty"`
}

// DispatchConfig tunes the coordinator.
type DispatchConfig struct {
	Mode       string        `yaml:"mode"`
	Timeout    time.Duration `yaml:"timeout"`
	Retries    int           `yaml:"retries"`
	RetryDelay time.Duration `yaml:"retry_delay"`
	Parallel   int           `yaml:"parallel"` // 0 means one task per backend
	Preflight  bool          `yaml:"preflight"`
}

// ProbeConfig tunes the availability prober.
type ProbeConfig struct {
	Attempts int           `yaml:"attempts"`
	Delay    time.Duration `yaml:"delay"`
	Timeout  time.Duration `yaml:"timeout"`
}

// BackendOverride changes or adds a backend. Zero fields keep the built-in value.
type BackendOverride struct {
	Endpoint    string         `yaml:"endpoint,omitempty"`
	Transport   string         `yaml:"transport,omitempty"`
	Tool        string         `yaml:"tool,omitempty"`
	Description string         `yaml:"description,omitempty"`
	InputArg    string         `yaml:"input_arg,omitempty"`
	Input       string         `yaml:"input,omitempty"`
	HealthPort  int            `yaml:"health_port,omitempty"`
	Args        map[string]any `yaml:"args,omitempty"`
	Disabled    bool           `yaml:"disabled,omitempty"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type Config struct {
	SelectedProvider string                     `yaml:"selected_provider"`
	SelectedModel    string                     `yaml:"selected_model"`
	Providers        map[string]ProviderConfig  `yaml:"providers"`
	Dispatch         DispatchConfig             `yaml:"dispatch"`
	Probe            ProbeConfig                `yaml:"probe"`
	Backends         map[string]BackendOverride `yaml:"backends,omitempty"`
	ProfilesDir      string                     `yaml:"profiles_dir,omitempty"`
	PolicyStandard   string                     `yaml:"policy_standard,omitempty"`
	TemplatesDir     string                     `yaml:"templates_dir,omitempty"`
	Log              LogConfig                  `yaml:"log"`
}

var pathOverride string

// SetConfigPath makes LoadConfig and SaveConfig use path instead of the default location.
func SetConfigPath(path string) {
	pathOverride = path
}

func GetConfigPath() (string, error) {
	if pathOverride != "" {
		return pathOverride, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	configDir := filepath.Join(home, ".gosec-mcp")
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return "", err
	}
	return filepath.Join(configDir, "config.yaml"), nil
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	cfg := &Config{
		SelectedProvider: DefaultProvider,
		Providers:        make(map[string]ProviderConfig),
		Dispatch:         DispatchConfig{Mode: ModeAgent, Retries: DefaultRetries, Preflight: true},
	}
	cfg.applyDefaults()
	return cfg
}

func LoadConfig() (*Config, error) {
	path, err := GetConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadConfigFrom(path)
}

// LoadConfigFrom reads path. A missing file yields Default().
func LoadConfigFrom(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if cfg.Providers == nil {
		cfg.Providers = make(map[string]ProviderConfig)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func SaveConfig(cfg *Config) error {
	path, err := GetConfigPath()
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	// 0600 permissions for security (api keys)
	return os.WriteFile(path, data, 0600)
}

func (c *Config) applyDefaults() {
	if c.SelectedProvider == "" {
		c.SelectedProvider = DefaultProvider
	}
	if c.Dispatch.Mode == "" {
		c.Dispatch.Mode = ModeAgent
	}
	if c.Dispatch.Timeout == 0 {
		c.Dispatch.Timeout = DefaultTimeout
	}
	if c.Dispatch.RetryDelay == 0 {
		c.Dispatch.RetryDelay = DefaultRetryDelay
	}
	if c.Probe.Attempts == 0 {
		c.Probe.Attempts = DefaultAttempts
	}
	if c.Probe.Delay == 0 {
		c.Probe.Delay = DefaultProbeDelay
	}
	if c.Probe.Timeout == 0 {
		c.Probe.Timeout = DefaultProbeDial
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// Validate rejects settings the coordinator cannot run with.
func (c *Config) Validate() error {
	switch c.Dispatch.Mode {
	case ModeAgent, ModeDirect:
	default:
		return fmt.Errorf("dispatch.mode must be %q or %q, got %q", ModeAgent, ModeDirect, c.Dispatch.Mode)
	}
	if c.Dispatch.Timeout < 0 || c.Dispatch.RetryDelay < 0 {
		return errors.New("dispatch durations must not be negative")
	}
	if c.Dispatch.Retries < 0 {
		return errors.New("dispatch.retries must not be negative")
	}
	if c.Dispatch.Parallel < 0 {
		return errors.New("dispatch.parallel must not be negative")
	}
	if c.Probe.Attempts < 0 {
		return errors.New("probe.attempts must not be negative")
	}
	return nil
}

func (c *Config) SetAPIKey(provider, key string) {
	p := c.Providers[provider]
	p.APIKey = key
	c.Providers[provider] = p
}

// GetAPIKey returns the stored key for provider, falling back to its environment variable.
func (c *Config) GetAPIKey(provider string) string {
	if key := c.Providers[provider].APIKey; key != "" {
		return key
	}
	if env, ok := credentialEnv[provider]; ok {
		return os.Getenv(env)
	}
	return ""
}

// BaseURL returns the endpoint override for provider, if any.
func (c *Config) BaseURL(provider string) string {
	return c.Providers[provider].BaseURL
}

func (c *Config) SetBaseURL(provider, url string) {
	p := c.Providers[provider]
	p.BaseURL = url
	c.Providers[provider] = p
}

// Settable lists the keys accepted by Set.
var Settable = []string{
	"dispatch.mode", "dispatch.timeout", "dispatch.retries", "dispatch.retry_delay",
	"dispatch.parallel", "dispatch.preflight",
	"probe.attempts", "probe.delay", "probe.timeout",
	"profiles_dir", "policy_standard", "templates_dir",
	"log.level", "log.format",
}

// Set assigns one dotted setting from its string form and validates the result.
// The config is left unchanged on error.
func (c *Config) Set(key, value string) error {
	next := *c
	var err error
	switch key {
	case "dispatch.mode":
		next.Dispatch.Mode = strings.ToLower(value)
	case "dispatch.timeout":
		next.Dispatch.Timeout, err = time.ParseDuration(value)
	case "dispatch.retries":
		next.Dispatch.Retries, err = strconv.Atoi(value)
	case "dispatch.retry_delay":
		next.Dispatch.RetryDelay, err = time.ParseDuration(value)
	case "dispatch.parallel":
		next.Dispatch.Parallel, err = strconv.Atoi(value)
	case "dispatch.preflight":
		next.Dispatch.Preflight, err = strconv.ParseBool(value)
	case "probe.attempts":
		next.Probe.Attempts, err = strconv.Atoi(value)
	case "probe.delay":
		next.Probe.Delay, err = time.ParseDuration(value)
	case "probe.timeout":
		next.Probe.Timeout, err = time.ParseDuration(value)
	case "profiles_dir":
		next.ProfilesDir = value
	case "policy_standard":
		next.PolicyStandard = value
	case "templates_dir":
		next.TemplatesDir = value
	case "log.level":
		next.Log.Level = value
	case "log.format":
		next.Log.Format = value
	default:
		return fmt.Errorf("unknown setting %q (settable: %s)", key, strings.Join(Settable, ", "))
	}
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	if err := next.Validate(); err != nil {
		return err
	}
	*c = next
	return nil
}

// CredentialEnv names the environment variable read for provider's key.
func CredentialEnv(provider string) string {
	return credentialEnv[provider]
}

// RequireCredential returns the selected provider and its key, or
// ErrMissingCredential.
func (c *Config) RequireCredential() (provider, key string, err error) {
	provider = c.SelectedProvider
	key = c.GetAPIKey(provider)
	if key == "" {
		hint := ""
		if env := CredentialEnv(provider); env != "" {
			hint = " (set " + env + " or run 'gosec-mcp config setup')"
		}
		return provider, "", fmt.Errorf("%w for provider %s%s", ErrMissingCredential, provider, hint)
	}
	return provider, key, nil
}

// Registry builds the backend registry: built-in backends, then config
// overrides in built-in order followed by added backends sorted by name,
// then <NAME>_INTERNAL_PORT environment overrides.
func (c *Config) Registry(getenv func(string) string) (*registry.Registry, error) {
	var backends []registry.Backend
	seen := make(map[string]bool)
	for _, b := range registry.DefaultBackends() {
		seen[b.Name] = true
		o, ok := c.Backends[b.Name]
		if !ok {
			backends = append(backends, b)
			continue
		}
		if o.Disabled {
			continue
		}
		backends = append(backends, o.apply(b))
	}

	var added []string
	for name := range c.Backends {
		if !seen[name] && !c.Backends[name].Disabled {
			added = append(added, name)
		}
	}
	sort.Strings(added)
	for _, name := range added {
		backends = append(backends, c.Backends[name].apply(registry.Backend{Name: name}))
	}

	if getenv != nil {
		var err error
		if backends, err = registry.ApplyPortEnv(backends, getenv); err != nil {
			return nil, err
		}
	}
	return registry.New(backends...)
}

func (o BackendOverride) apply(b registry.Backend) registry.Backend {
	if o.Endpoint != "" {
		b.Endpoint = o.Endpoint
	}
	if o.Transport != "" {
		b.Transport = strings.ToLower(o.Transport)
	}
	if o.Tool != "" {
		b.Tool = o.Tool
	}
	if o.Description != "" {
		b.Description = o.Description
	}
	if o.InputArg != "" {
		b.InputArg = o.InputArg
	}
	if o.Input != "" {
		b.Input = o.Input
	}
	if o.HealthPort != 0 {
		b.HealthPort = o.HealthPort
	}
	if len(o.Args) > 0 {
		merged := make(map[string]any, len(b.Args)+len(o.Args))
		for k, v := range b.Args {
			merged[k] = v
		}
		for k, v := range o.Args {
			merged[k] = v
		}
		b.Args = merged
	}
	return b
}
