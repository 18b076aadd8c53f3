package registry

import (
	"fmt"
	"strconv"
	"strings"
)

// Default ports of the scanner containers.
const (
	BanditPort        = 7861
	DetectSecretsPort = 7862
	PipAuditPort      = 7863
	CircleTestPort    = 7864
	SemgrepPort       = 7865
)

// DefaultPolicies is sent to the policy-compliance backend when no profile is selected.
var DefaultPolicies = map[string]any{
	"1": "Code must not contain hardcoded passwords, tokens or API keys.",
	"2": "User input must never reach eval, exec or a shell command unsanitized.",
	"3": "Deserialization of untrusted data (pickle, yaml.load) is forbidden.",
	"4": "Network requests must verify TLS certificates.",
}

func gradioEndpoint(host string, port int) string {
	return fmt.Sprintf("http://%s:%d/gradio_api/mcp/sse", host, port)
}

// DefaultBackends returns the stock backend set. Argument construction is data:
// adding a backend means adding an entry here or in the config file.
func DefaultBackends() []Backend {
	return []Backend{
		{
			Name:        "bandit",
			Endpoint:    gradioEndpoint("bandit-security-scanner", BanditPort),
			Transport:   TransportSSE,
			Description: "Python code security analysis",
			Tool:        "bandit_scan",
			InputArg:    "code_input",
			Args: map[string]any{
				"scan_type":        "code",
				"severity_level":   "low",
				"confidence_level": "low",
				"output_format":    "json",
			},
			HealthPort: BanditPort,
		},
		{
			Name:        "detect_secrets",
			Endpoint:    gradioEndpoint("detect-secrets-scanner", DetectSecretsPort),
			Transport:   TransportSSE,
			Description: "Secret detection in code",
			Tool:        "detect_secrets_scan",
			InputArg:    "code_input",
			Args: map[string]any{
				"scan_type":       "code",
				"base64_limit":    3.0,
				"hex_limit":       2.0,
				"exclude_lines":   "",
				"exclude_files":   "",
				"exclude_secrets": "",
				"word_list":       "",
				"output_format":   "json",
			},
			HealthPort: DetectSecretsPort,
		},
		{
			Name:        "pip_audit",
			Endpoint:    gradioEndpoint("pip-audit-scanner", PipAuditPort),
			Transport:   TransportSSE,
			Description: "Python package vulnerability scanning",
			Tool:        "pip_audit_scan",
			Args:        map[string]any{},
			HealthPort:  PipAuditPort,
		},
		{
			Name:        "circle_test",
			Endpoint:    gradioEndpoint("circle-test-scanner", CircleTestPort),
			Transport:   TransportSSE,
			Description: "Security policy compliance checking",
			Tool:        "check_policies",
			InputArg:    "prompt",
			Input:       InputMessage,
			Args: map[string]any{
				"policies": DefaultPolicies,
			},
			HealthPort: CircleTestPort,
		},
		{
			Name:        "semgrep",
			Endpoint:    gradioEndpoint("semgrep-scanner", SemgrepPort),
			Transport:   TransportSSE,
			Description: "Advanced static code analysis",
			Tool:        "semgrep_scan",
			InputArg:    "code_input",
			Args: map[string]any{
				"scan_type":     "code",
				"rules":         "p/default",
				"output_format": "json",
			},
			HealthPort: SemgrepPort,
		},
	}
}

// PortEnvVar is the environment variable overriding a backend's port,
// e.g. BANDIT_INTERNAL_PORT.
func PortEnvVar(name string) string {
	return strings.ToUpper(name) + "_INTERNAL_PORT"
}

// ApplyPortEnv rewrites backend ports from <NAME>_INTERNAL_PORT variables.
func ApplyPortEnv(backends []Backend, getenv func(string) string) ([]Backend, error) {
	out := make([]Backend, 0, len(backends))
	for _, b := range backends {
		v := strings.TrimSpace(getenv(PortEnvVar(b.Name)))
		if v == "" {
			out = append(out, b)
			continue
		}
		port, err := strconv.Atoi(v)
		if err != nil || port <= 0 || port > 65535 {
			return nil, fmt.Errorf("%s: invalid port %q", PortEnvVar(b.Name), v)
		}
		out = append(out, b.WithPort(port))
	}
	return out, nil
}
