package registry

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// ErrUnknownBackend is returned when a selection names a backend that is not registered.
var ErrUnknownBackend = errors.New("unknown backend")

// Transport kinds understood by the MCP client pool.
const (
	TransportSSE        = "sse"
	TransportStreamable = "streamable"
)

// What a backend's InputArg receives.
const (
	InputCode    = "code"    // the artifact verbatim
	InputMessage = "message" // the composed analysis request, artifact included
)

// Backend describes one remote scanning backend.
type Backend struct {
	Name        string         `yaml:"name" json:"name"`
	Endpoint    string         `yaml:"endpoint" json:"endpoint"`
	Transport   string         `yaml:"transport" json:"transport"`
	Description string         `yaml:"description" json:"description"`
	Tool        string         `yaml:"tool" json:"tool"`           // capability invoked on the backend
	InputArg    string         `yaml:"input_arg" json:"input_arg"` // argument receiving the artifact, empty if none
	Input       string         `yaml:"input" json:"input"`         // InputCode or InputMessage
	Args        map[string]any `yaml:"args" json:"args"`
	HealthPort  int            `yaml:"health_port" json:"health_port"`
}

// HealthAddr returns host:port used by the availability prober.
func (b Backend) HealthAddr() string {
	host := "127.0.0.1"
	if u, err := url.Parse(b.Endpoint); err == nil && u.Hostname() != "" {
		host = u.Hostname()
	}
	return net.JoinHostPort(host, strconv.Itoa(b.HealthPort))
}

// WithPort rewrites both the endpoint port and the health port.
func (b Backend) WithPort(port int) Backend {
	out := b.clone()
	out.HealthPort = port
	if u, err := url.Parse(b.Endpoint); err == nil && u.Host != "" {
		u.Host = net.JoinHostPort(u.Hostname(), strconv.Itoa(port))
		out.Endpoint = u.String()
	}
	return out
}

func (b Backend) clone() Backend {
	out := b
	out.Args = cloneArgs(b.Args)
	return out
}

// UnknownBackendError lists the names that failed lookup.
type UnknownBackendError struct {
	Names []string
}

func (e *UnknownBackendError) Error() string {
	return fmt.Sprintf("%v: %s", ErrUnknownBackend, strings.Join(e.Names, ", "))
}

func (e *UnknownBackendError) Unwrap() error { return ErrUnknownBackend }

// Registry is the read-only set of known backends. Iteration follows registration order.
type Registry struct {
	order    []string
	backends map[string]Backend
}

// New builds a registry. Names must be unique and every backend needs an endpoint and a tool.
func New(backends ...Backend) (*Registry, error) {
	r := &Registry{backends: make(map[string]Backend, len(backends))}
	for _, b := range backends {
		if b.Name == "" {
			return nil, errors.New("backend with empty name")
		}
		if _, dup := r.backends[b.Name]; dup {
			return nil, fmt.Errorf("duplicate backend %q", b.Name)
		}
		if b.Endpoint == "" {
			return nil, fmt.Errorf("backend %q has no endpoint", b.Name)
		}
		if b.Tool == "" {
			return nil, fmt.Errorf("backend %q has no tool", b.Name)
		}
		if b.Transport == "" {
			b.Transport = TransportSSE
		}
		if b.Transport != TransportSSE && b.Transport != TransportStreamable {
			return nil, fmt.Errorf("backend %q: unsupported transport %q", b.Name, b.Transport)
		}
		if b.Input == "" {
			b.Input = InputCode
		}
		if b.Input != InputCode && b.Input != InputMessage {
			return nil, fmt.Errorf("backend %q: unsupported input %q", b.Name, b.Input)
		}
		r.order = append(r.order, b.Name)
		r.backends[b.Name] = b.clone()
	}
	return r, nil
}

// Names returns backend names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// All returns every backend in registration order.
func (r *Registry) All() []Backend {
	out := make([]Backend, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.backends[name].clone())
	}
	return out
}

// Lookup returns the named backend.
func (r *Registry) Lookup(name string) (Backend, bool) {
	b, ok := r.backends[name]
	if !ok {
		return Backend{}, false
	}
	return b.clone(), true
}

// Select resolves a selection in the caller's order, dropping duplicates.
// An empty selection means every registered backend.
func (r *Registry) Select(names []string) ([]Backend, error) {
	if len(names) == 0 {
		return r.All(), nil
	}
	seen := make(map[string]bool, len(names))
	var unknown []string
	out := make([]Backend, 0, len(names))
	for _, raw := range names {
		name := strings.TrimSpace(raw)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		b, ok := r.backends[name]
		if !ok {
			unknown = append(unknown, name)
			continue
		}
		out = append(out, b.clone())
	}
	if len(unknown) > 0 {
		return nil, &UnknownBackendError{Names: unknown}
	}
	return out, nil
}
