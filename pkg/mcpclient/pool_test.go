package mcpclient

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/user/gosec-mcp/pkg/registry"
)

type echoInput struct {
	Text string `json:"text" jsonschema:"text to echo back"`
}

type echoOutput struct {
	Echo string `json:"echo"`
}

func newEchoServer() *sdkmcp.Server {
	srv := sdkmcp.NewServer(&sdkmcp.Implementation{Name: "echo-backend", Version: "v0.0.1"}, nil)
	sdkmcp.AddTool(srv, &sdkmcp.Tool{Name: "echo", Description: "Echo the input."},
		func(_ context.Context, _ *sdkmcp.CallToolRequest, in echoInput) (*sdkmcp.CallToolResult, echoOutput, error) {
			return nil, echoOutput{Echo: in.Text}, nil
		})
	sdkmcp.AddTool(srv, &sdkmcp.Tool{Name: "fail", Description: "Always fails."},
		func(_ context.Context, _ *sdkmcp.CallToolRequest, _ echoInput) (*sdkmcp.CallToolResult, echoOutput, error) {
			return nil, echoOutput{}, errors.New("scanner crashed")
		})
	return srv
}

func inMemory(t *testing.T, dials *atomic.Int32) TransportFunc {
	t.Helper()
	return func(registry.Backend) (sdkmcp.Transport, error) {
		dials.Add(1)
		t1, t2 := sdkmcp.NewInMemoryTransports()
		ss, err := newEchoServer().Connect(context.Background(), t1, nil)
		if err != nil {
			return nil, err
		}
		t.Cleanup(func() { ss.Close() })
		return t2, nil
	}
}

var echoBackend = registry.Backend{Name: "echo", Endpoint: "memory://echo", Tool: "echo"}

func TestPool_CallToolReusesSession(t *testing.T) {
	ctx := context.Background()
	var dials atomic.Int32
	p := NewPool(WithTransport(inMemory(t, &dials)))
	defer p.Close()

	for i := 0; i < 3; i++ {
		text, err := p.CallTool(ctx, echoBackend, "echo", map[string]any{"text": "hi"})
		if err != nil {
			t.Fatalf("CallTool: %v", err)
		}
		if text != `{"echo":"hi"}` {
			t.Errorf("unexpected text %q", text)
		}
	}
	if dials.Load() != 1 {
		t.Errorf("expected one dial, got %d", dials.Load())
	}
	if p.Len() != 1 {
		t.Errorf("expected one cached session, got %d", p.Len())
	}
}

func TestPool_ToolError(t *testing.T) {
	var dials atomic.Int32
	p := NewPool(WithTransport(inMemory(t, &dials)))
	defer p.Close()

	_, err := p.CallTool(context.Background(), echoBackend, "fail", map[string]any{"text": "x"})
	var te *ToolError
	if !errors.As(err, &te) {
		t.Fatalf("expected *ToolError, got %v", err)
	}
	if te.Backend != "echo" || te.Tool != "fail" {
		t.Errorf("unexpected tool error %+v", te)
	}
	if p.Len() != 1 {
		t.Error("a tool-level error must not evict the session")
	}
}

func TestPool_EvictRedials(t *testing.T) {
	ctx := context.Background()
	var dials atomic.Int32
	p := NewPool(WithTransport(inMemory(t, &dials)))
	defer p.Close()

	s, err := p.Session(ctx, echoBackend)
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	p.Evict(echoBackend.Name, s)
	if p.Len() != 0 {
		t.Fatal("session not evicted")
	}
	if _, err := p.CallTool(ctx, echoBackend, "echo", map[string]any{"text": "again"}); err != nil {
		t.Fatalf("CallTool after evict: %v", err)
	}
	if dials.Load() != 2 {
		t.Errorf("expected a redial, got %d dials", dials.Load())
	}
}

func TestPool_RemoteTools(t *testing.T) {
	ctx := context.Background()
	var dials atomic.Int32
	p := NewPool(WithTransport(inMemory(t, &dials)))
	defer p.Close()

	tools, err := p.RemoteTools(ctx, echoBackend)
	if err != nil {
		t.Fatalf("RemoteTools: %v", err)
	}
	byName := map[string]*RemoteTool{}
	for _, tool := range tools {
		byName[tool.Name()] = tool.(*RemoteTool)
	}
	echo, ok := byName["echo"]
	if !ok || byName["fail"] == nil {
		t.Fatalf("missing tools: %v", byName)
	}
	props, _ := echo.Schema()["properties"].(map[string]interface{})
	if _, ok := props["text"]; !ok {
		t.Errorf("schema lost properties: %v", echo.Schema())
	}

	var progress []string
	out, err := echo.Execute(ctx, map[string]interface{}{"text": "via agent"}, func(s string) { progress = append(progress, s) })
	if err != nil || out != `{"echo":"via agent"}` {
		t.Errorf("Execute: %q %v", out, err)
	}
	if len(progress) != 1 || progress[0] != "calling echo/echo" {
		t.Errorf("unexpected progress %v", progress)
	}
}

func TestPool_DialErrorsAndClose(t *testing.T) {
	boom := errors.New("no route")
	p := NewPool(WithTransport(func(registry.Backend) (sdkmcp.Transport, error) { return nil, boom }))
	if _, err := p.CallTool(context.Background(), echoBackend, "echo", nil); !errors.Is(err, boom) {
		t.Errorf("expected dial error, got %v", err)
	}

	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := p.Session(context.Background(), echoBackend); !errors.Is(err, ErrPoolClosed) {
		t.Errorf("expected ErrPoolClosed, got %v", err)
	}
}

func TestPool_LateHandshakeIsCached(t *testing.T) {
	release := make(chan struct{})
	var dials atomic.Int32
	mem := inMemory(t, &dials)
	p := NewPool(WithTransport(func(b registry.Backend) (sdkmcp.Transport, error) {
		<-release
		return mem(b)
	}))
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := p.Session(ctx, echoBackend); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}

	close(release)
	deadline := time.Now().Add(2 * time.Second)
	for p.Len() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if p.Len() != 1 {
		t.Error("late handshake was not cached")
	}
}

func TestHTTPTransport(t *testing.T) {
	sse, err := HTTPTransport(registry.Backend{Name: "a", Endpoint: "http://h/sse", Transport: registry.TransportSSE}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := sse.(*sdkmcp.SSEClientTransport); !ok {
		t.Errorf("expected SSE transport, got %T", sse)
	}
	st, err := HTTPTransport(registry.Backend{Name: "b", Endpoint: "http://h/mcp", Transport: registry.TransportStreamable}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := st.(*sdkmcp.StreamableClientTransport); !ok {
		t.Errorf("expected streamable transport, got %T", st)
	}
	if _, err := HTTPTransport(registry.Backend{Name: "c", Transport: "grpc"}, nil); err == nil {
		t.Error("expected unsupported transport error")
	}
}

// stalledTransport never answers the handshake until its context ends.
type stalledTransport struct{ done chan struct{} }

func (s stalledTransport) Connect(ctx context.Context) (sdkmcp.Connection, error) {
	<-ctx.Done()
	close(s.done)
	return nil, ctx.Err()
}

func TestPool_HandshakeTimeout(t *testing.T) {
	done := make(chan struct{})
	p := NewPool(
		WithTransport(func(registry.Backend) (sdkmcp.Transport, error) { return stalledTransport{done: done}, nil }),
		WithDialTimeout(30*time.Millisecond),
	)
	defer p.Close()

	start := time.Now()
	_, err := p.Session(context.Background(), echoBackend)
	if !errors.Is(err, ErrHandshakeTimeout) {
		t.Fatalf("expected ErrHandshakeTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("handshake not bounded: %v", elapsed)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Error("dial goroutine still blocked after the timeout")
	}
	if p.Len() != 0 {
		t.Error("timed-out session was cached")
	}
}

func TestPool_SessionOutlivesDialTimeout(t *testing.T) {
	var dials atomic.Int32
	p := NewPool(WithTransport(inMemory(t, &dials)), WithDialTimeout(20*time.Millisecond))
	defer p.Close()

	if _, err := p.CallTool(context.Background(), echoBackend, "echo", map[string]any{"text": "a"}); err != nil {
		t.Fatalf("first call: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if _, err := p.CallTool(context.Background(), echoBackend, "echo", map[string]any{"text": "b"}); err != nil {
		t.Fatalf("call after the dial timeout: %v", err)
	}
	if dials.Load() != 1 {
		t.Errorf("expected one dial, got %d", dials.Load())
	}
}
