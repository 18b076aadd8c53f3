// Package mcpclient keeps one MCP client session per backend.
package mcpclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/user/gosec-mcp/pkg/adk"
	"github.com/user/gosec-mcp/pkg/logging"
	"github.com/user/gosec-mcp/pkg/registry"
)

// ErrPoolClosed is returned by calls made after Close.
var ErrPoolClosed = errors.New("mcp session pool closed")

// ErrHandshakeTimeout is returned when a backend does not finish the MCP
// handshake within the dial timeout.
var ErrHandshakeTimeout = errors.New("mcp handshake timed out")

// DefaultDialTimeout bounds one MCP handshake.
const DefaultDialTimeout = 30 * time.Second

// ToolError is a tool result flagged IsError by the backend.
type ToolError struct {
	Backend string
	Tool    string
	Message string
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("%s/%s: %s", e.Backend, e.Tool, e.Message)
}

// TransportFunc opens a fresh transport for a backend.
type TransportFunc func(b registry.Backend) (sdkmcp.Transport, error)

// Option configures a Pool.
type Option func(*Pool)

// WithTransport replaces the HTTP transports, e.g. with in-memory ones in tests.
func WithTransport(fn TransportFunc) Option {
	return func(p *Pool) { p.transport = fn }
}

// WithDialTimeout bounds each handshake. Non-positive values keep the default.
func WithDialTimeout(d time.Duration) Option {
	return func(p *Pool) {
		if d > 0 {
			p.dialTimeout = d
		}
	}
}

// WithHTTPClient sets the client used by the default HTTP transports.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Pool) { p.httpClient = c }
}

// Pool caches client sessions keyed by backend name. Two callers racing on a
// cold backend may both dial; the later session wins and both stay tracked
// until Close.
type Pool struct {
	client      *sdkmcp.Client
	transport   TransportFunc
	httpClient  *http.Client
	dialTimeout time.Duration
	log         *slog.Logger

	// Sessions outlive the call that opened them, so they hang off this
	// context rather than the caller's.
	base   context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	sessions map[string]*sdkmcp.ClientSession
	all      []*sdkmcp.ClientSession
	closed   bool
}

// NewPool creates an empty pool.
func NewPool(opts ...Option) *Pool {
	base, cancel := context.WithCancel(context.Background())
	p := &Pool{
		client:      sdkmcp.NewClient(&sdkmcp.Implementation{Name: "gosec-mcp", Version: "v0.1.0"}, nil),
		dialTimeout: DefaultDialTimeout,
		log:         logging.New("mcpclient"),
		base:        base,
		cancel:      cancel,
		sessions:    make(map[string]*sdkmcp.ClientSession),
	}
	for _, o := range opts {
		o(p)
	}
	if p.transport == nil {
		hc := p.httpClient
		p.transport = func(b registry.Backend) (sdkmcp.Transport, error) {
			return HTTPTransport(b, hc)
		}
	}
	return p
}

// HTTPTransport builds the client transport declared by the backend.
func HTTPTransport(b registry.Backend, hc *http.Client) (sdkmcp.Transport, error) {
	switch b.Transport {
	case registry.TransportSSE, "":
		return &sdkmcp.SSEClientTransport{Endpoint: b.Endpoint, HTTPClient: hc}, nil
	case registry.TransportStreamable:
		return &sdkmcp.StreamableClientTransport{Endpoint: b.Endpoint, HTTPClient: hc}, nil
	default:
		return nil, fmt.Errorf("backend %s: unsupported transport %q", b.Name, b.Transport)
	}
}

type dialResult struct {
	session *sdkmcp.ClientSession
	err     error
}

// Session returns the cached session for b, dialing one if needed. ctx only
// bounds how long the caller waits; a handshake that finishes after ctx is
// done is still cached.
func (p *Pool) Session(ctx context.Context, b registry.Backend) (*sdkmcp.ClientSession, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	if s, ok := p.sessions[b.Name]; ok {
		p.mu.Unlock()
		return s, nil
	}
	p.mu.Unlock()

	ch := make(chan dialResult, 1)
	go func() {
		t, err := p.transport(b)
		if err != nil {
			ch <- dialResult{err: err}
			return
		}
		s, err := p.connect(t)
		if err != nil {
			ch <- dialResult{err: fmt.Errorf("connect %s: %w", b.Name, err)}
			return
		}
		if !p.store(b.Name, s) {
			s.Close()
			ch <- dialResult{err: ErrPoolClosed}
			return
		}
		p.log.Debug("session opened", "backend", b.Name, "endpoint", b.Endpoint)
		ch <- dialResult{session: s}
	}()

	select {
	case r := <-ch:
		return r.session, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// connect runs the handshake under a context that is cancelled only if the
// dial timeout passes first. Transports such as SSE keep their stream on
// that context, so it must stay alive once the session is up.
func (p *Pool) connect(t sdkmcp.Transport) (*sdkmcp.ClientSession, error) {
	ctx, cancel := context.WithCancel(p.base)
	timer := time.AfterFunc(p.dialTimeout, cancel)
	s, err := p.client.Connect(ctx, t, nil)
	if !timer.Stop() {
		if err == nil {
			s.Close()
		}
		return nil, fmt.Errorf("%w after %v", ErrHandshakeTimeout, p.dialTimeout)
	}
	if err != nil {
		cancel()
		return nil, err
	}
	return s, nil
}

func (p *Pool) store(name string, s *sdkmcp.ClientSession) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.sessions[name] = s
	p.all = append(p.all, s)
	return true
}

// Evict drops the cached session for name if it is still s.
func (p *Pool) Evict(name string, s *sdkmcp.ClientSession) {
	p.mu.Lock()
	if cur, ok := p.sessions[name]; ok && cur == s {
		delete(p.sessions, name)
	}
	p.mu.Unlock()
	p.log.Debug("session evicted", "backend", name)
	go s.Close()
}

// Len is the number of cached sessions.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sessions)
}

// CallTool invokes tool on backend b and returns its text content.
// A result flagged IsError becomes a *ToolError.
func (p *Pool) CallTool(ctx context.Context, b registry.Backend, tool string, args map[string]any) (string, error) {
	s, err := p.Session(ctx, b)
	if err != nil {
		return "", err
	}

	res, err := s.CallTool(ctx, &sdkmcp.CallToolParams{Name: tool, Arguments: args})
	if err != nil {
		// A cancelled call says nothing about the session.
		if ctx.Err() == nil {
			p.Evict(b.Name, s)
		}
		return "", err
	}

	text := resultText(res)
	if res.IsError {
		return "", &ToolError{Backend: b.Name, Tool: tool, Message: text}
	}
	return text, nil
}

func resultText(res *sdkmcp.CallToolResult) string {
	var parts []string
	for _, c := range res.Content {
		if tc, ok := c.(*sdkmcp.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	if len(parts) == 0 && res.StructuredContent != nil {
		if data, err := json.Marshal(res.StructuredContent); err == nil {
			return string(data)
		}
	}
	return strings.Join(parts, "\n")
}

// ListTools returns the tools advertised by backend b.
func (p *Pool) ListTools(ctx context.Context, b registry.Backend) ([]*sdkmcp.Tool, error) {
	s, err := p.Session(ctx, b)
	if err != nil {
		return nil, err
	}
	res, err := s.ListTools(ctx, nil)
	if err != nil {
		if ctx.Err() == nil {
			p.Evict(b.Name, s)
		}
		return nil, err
	}
	return res.Tools, nil
}

// RemoteTools wraps every tool of backend b as an adk.Tool.
func (p *Pool) RemoteTools(ctx context.Context, b registry.Backend) ([]adk.Tool, error) {
	tools, err := p.ListTools(ctx, b)
	if err != nil {
		return nil, err
	}
	out := make([]adk.Tool, 0, len(tools))
	for _, t := range tools {
		out = append(out, &RemoteTool{pool: p, backend: b, tool: t})
	}
	return out, nil
}

// Close shuts every session opened by the pool, including replaced ones.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	all := p.all
	p.all = nil
	p.sessions = make(map[string]*sdkmcp.ClientSession)
	p.mu.Unlock()

	var errs []error
	for _, s := range all {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	p.cancel()
	return errors.Join(errs...)
}
