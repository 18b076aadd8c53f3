package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/user/gosec-mcp/pkg/invoke"
	"github.com/user/gosec-mcp/pkg/probe"
	"github.com/user/gosec-mcp/pkg/registry"
)

type fakeInvoker struct {
	mu    sync.Mutex
	calls map[string]int
	reqs  map[string]invoke.Request
	fn    func(ctx context.Context, req invoke.Request, call int) invoke.RawResult
}

func newFake(fn func(ctx context.Context, req invoke.Request, call int) invoke.RawResult) *fakeInvoker {
	return &fakeInvoker{calls: map[string]int{}, reqs: map[string]invoke.Request{}, fn: fn}
}

func (f *fakeInvoker) Invoke(ctx context.Context, req invoke.Request) invoke.RawResult {
	f.mu.Lock()
	f.calls[req.Backend.Name]++
	n := f.calls[req.Backend.Name]
	f.reqs[req.Backend.Name] = req
	f.mu.Unlock()
	return f.fn(ctx, req, n)
}

func (f *fakeInvoker) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func ok(name, text string) invoke.RawResult {
	return invoke.RawResult{Backend: name, Text: text}
}

func testRegistry(t *testing.T, names ...string) *registry.Registry {
	t.Helper()
	var backends []registry.Backend
	for _, n := range names {
		backends = append(backends, registry.Backend{
			Name:     n,
			Endpoint: "http://127.0.0.1:1/" + n,
			Tool:     n + "_scan",
			InputArg: "code_input",
		})
	}
	reg, err := registry.New(backends...)
	if err != nil {
		t.Fatalf("registry.New: %v", err)
	}
	return reg
}

func fastOptions() Options {
	return Options{Timeout: time.Second, RetryDelay: time.Millisecond}
}

func TestDispatch_EndToEndTimeout(t *testing.T) {
	reg := testRegistry(t, "alpha", "beta")
	inv := newFake(func(ctx context.Context, req invoke.Request, _ int) invoke.RawResult {
		if req.Backend.Name == "alpha" {
			return ok("alpha", "Sure! Here is the result:\n```json\n{\"results\":[{\"id\":1}]}\n```")
		}
		<-ctx.Done()
		return invoke.Fail("beta", invoke.KindTimeout, ctx.Err())
	})

	opts := fastOptions()
	opts.Timeout = 50 * time.Millisecond
	report, err := New(reg, inv, nil, opts).Dispatch(context.Background(), ScanRequest{Artifact: "print(1)"})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	b, err := json.Marshal(report)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"alpha":{"success":true,"results":[{"id":1}]},"beta":{"success":false,"error":"Timeout"}}`
	if string(b) != want {
		t.Errorf("got  %s\nwant %s", b, want)
	}
}

func TestDispatch_IsolatesFailures(t *testing.T) {
	reg := testRegistry(t, "a", "b", "c", "d")
	inv := newFake(func(_ context.Context, req invoke.Request, _ int) invoke.RawResult {
		switch req.Backend.Name {
		case "b":
			return invoke.Fail("b", invoke.KindTransport, errors.New("connection refused"))
		case "c":
			panic("scanner adapter bug")
		case "d":
			return ok("d", "I could not run the tool, sorry.")
		}
		return ok(req.Backend.Name, `{"results":[]}`)
	})

	report, err := New(reg, inv, nil, fastOptions()).Dispatch(context.Background(), ScanRequest{Artifact: "x"})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if report.Len() != 4 {
		t.Fatalf("expected 4 entries, got %d", report.Len())
	}
	if diff := cmp.Diff([]string{"b", "c", "d"}, report.Failed()); diff != "" {
		t.Errorf("failed mismatch (-want +got):\n%s", diff)
	}
	b, _ := report.Get("b")
	if b.Error != "Error running b: connection refused" {
		t.Errorf("unexpected transport error text %q", b.Error)
	}
	c, _ := report.Get("c")
	if !strings.Contains(c.Error, "scanner adapter bug") {
		t.Errorf("panic not captured: %q", c.Error)
	}
	d, _ := report.Get("d")
	if d.Raw != "I could not run the tool, sorry." {
		t.Errorf("raw text not kept: %+v", d)
	}
}

func TestDispatch_OrderIndependentOfCompletion(t *testing.T) {
	reg := testRegistry(t, "slow", "mid", "fast")
	inv := newFake(func(_ context.Context, req invoke.Request, _ int) invoke.RawResult {
		switch req.Backend.Name {
		case "slow":
			time.Sleep(60 * time.Millisecond)
		case "mid":
			time.Sleep(20 * time.Millisecond)
		}
		return ok(req.Backend.Name, `{"results":[]}`)
	})

	report, err := New(reg, inv, nil, fastOptions()).Dispatch(context.Background(), ScanRequest{
		Artifact: "x",
		Backends: []string{"slow", "fast", "mid"},
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if diff := cmp.Diff([]string{"slow", "fast", "mid"}, report.Names()); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestDispatch_UnknownBackendRejectedBeforeDispatch(t *testing.T) {
	reg := testRegistry(t, "a")
	inv := newFake(func(_ context.Context, req invoke.Request, _ int) invoke.RawResult {
		return ok(req.Backend.Name, "{}")
	})

	_, err := New(reg, inv, nil, fastOptions()).Dispatch(context.Background(), ScanRequest{Backends: []string{"a", "nessus"}})
	if !errors.Is(err, registry.ErrUnknownBackend) {
		t.Fatalf("expected ErrUnknownBackend, got %v", err)
	}
	if inv.count("a") != 0 {
		t.Error("no backend should be invoked when the selection is invalid")
	}
}

func TestDispatch_CancellationDiscardsPartialResults(t *testing.T) {
	reg := testRegistry(t, "quick", "stuck")
	inv := newFake(func(ctx context.Context, req invoke.Request, _ int) invoke.RawResult {
		if req.Backend.Name == "quick" {
			return ok("quick", `{"results":[]}`)
		}
		<-ctx.Done()
		return invoke.Fail("stuck", invoke.KindCancelled, ctx.Err())
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	report, err := New(reg, inv, nil, fastOptions()).Dispatch(ctx, ScanRequest{Artifact: "x"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if report != nil {
		t.Error("partial report must be discarded")
	}
}

func TestDispatch_RetriesTransportFailures(t *testing.T) {
	reg := testRegistry(t, "flaky", "broken")
	inv := newFake(func(_ context.Context, req invoke.Request, call int) invoke.RawResult {
		if req.Backend.Name == "flaky" && call >= 3 {
			return ok("flaky", `{"results":[]}`)
		}
		return invoke.Fail(req.Backend.Name, invoke.KindTransport, errors.New("reset by peer"))
	})

	opts := fastOptions()
	opts.Retries = 2
	report, err := New(reg, inv, nil, opts).Dispatch(context.Background(), ScanRequest{Artifact: "x"})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	flaky, _ := report.Get("flaky")
	if !flaky.Success || flaky.Attempts != 3 {
		t.Errorf("flaky: success=%v attempts=%d", flaky.Success, flaky.Attempts)
	}
	broken, _ := report.Get("broken")
	if broken.Success || broken.Attempts != 3 || inv.count("broken") != 3 {
		t.Errorf("broken: success=%v attempts=%d calls=%d", broken.Success, broken.Attempts, inv.count("broken"))
	}
}

func TestDispatch_StatusErrorsAreNotRetried(t *testing.T) {
	reg := testRegistry(t, "a")
	inv := newFake(func(_ context.Context, _ invoke.Request, _ int) invoke.RawResult {
		return invoke.Fail("a", invoke.KindStatus, errors.New("invalid rules"))
	})
	opts := fastOptions()
	opts.Retries = 3
	if _, err := New(reg, inv, nil, opts).Dispatch(context.Background(), ScanRequest{Artifact: "x"}); err != nil {
		t.Fatal(err)
	}
	if inv.count("a") != 1 {
		t.Errorf("expected a single attempt, got %d", inv.count("a"))
	}
}

func TestDispatch_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	reg := testRegistry(t, "down")
	inv := newFake(func(_ context.Context, _ invoke.Request, _ int) invoke.RawResult {
		return invoke.Fail("down", invoke.KindTransport, errors.New("connection refused"))
	})
	opts := fastOptions()
	opts.BreakerThreshold = 2
	opts.BreakerCooldown = time.Hour
	c := New(reg, inv, nil, opts)

	var last string
	for i := 0; i < 4; i++ {
		report, err := c.Dispatch(context.Background(), ScanRequest{Artifact: "x"})
		if err != nil {
			t.Fatal(err)
		}
		f, _ := report.Get("down")
		last = f.Error
	}
	if inv.count("down") != 2 {
		t.Errorf("breaker should stop calls after 2 failures, got %d calls", inv.count("down"))
	}
	if !strings.Contains(last, "unavailable") {
		t.Errorf("expected unavailable error, got %q", last)
	}
}

func TestDispatch_ArgumentsAndPolicies(t *testing.T) {
	reg, err := registry.New(
		registry.Backend{Name: "bandit", Endpoint: "http://h:1/sse", Tool: "bandit_scan", InputArg: "code_input",
			Args: map[string]any{"severity_level": "low"}},
		registry.Backend{Name: "circle_test", Endpoint: "http://h:2/sse", Tool: "check_policies", InputArg: "prompt",
			Input: registry.InputMessage, Args: map[string]any{"policies": map[string]any{"1": "default"}}},
	)
	if err != nil {
		t.Fatal(err)
	}
	inv := newFake(func(_ context.Context, req invoke.Request, _ int) invoke.RawResult {
		return ok(req.Backend.Name, `{"results":[]}`)
	})

	policies := map[string]any{"V5.3.4": "Use parameterized queries."}
	_, err = New(reg, inv, nil, fastOptions()).Dispatch(context.Background(), ScanRequest{
		Artifact:  "query(user_input)",
		Focus:     "SQL injection",
		Policies:  policies,
		Overrides: map[string]map[string]any{"bandit": {"severity_level": "high"}},
	})
	if err != nil {
		t.Fatal(err)
	}

	bandit := inv.reqs["bandit"]
	want := map[string]any{"severity_level": "high", "code_input": "query(user_input)"}
	if diff := cmp.Diff(want, bandit.Args); diff != "" {
		t.Errorf("bandit args mismatch (-want +got):\n%s", diff)
	}
	if _, ok := bandit.Args["policies"]; ok {
		t.Error("policies must only reach backends that declare them")
	}

	circle := inv.reqs["circle_test"]
	if diff := cmp.Diff(policies, circle.Args["policies"]); diff != "" {
		t.Errorf("policies mismatch (-want +got):\n%s", diff)
	}
	prompt, _ := circle.Args["prompt"].(string)
	if !strings.HasPrefix(prompt, "Please analyze this code for SQL injection") || !strings.Contains(prompt, "query(user_input)") {
		t.Errorf("prompt backend should get the composed request, got %q", prompt)
	}
}

func TestDispatch_PreflightFlagsButStillDispatches(t *testing.T) {
	up, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer up.Close()
	down, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	downPort := down.Addr().(*net.TCPAddr).Port
	down.Close()

	upPort := up.Addr().(*net.TCPAddr).Port
	reg, err := registry.New(
		registry.Backend{Name: "up", Endpoint: "http://127.0.0.1:" + strconv.Itoa(upPort) + "/sse", Tool: "t", HealthPort: upPort},
		registry.Backend{Name: "down", Endpoint: "http://127.0.0.1:" + strconv.Itoa(downPort) + "/sse", Tool: "t", HealthPort: downPort},
	)
	if err != nil {
		t.Fatal(err)
	}
	inv := newFake(func(_ context.Context, req invoke.Request, _ int) invoke.RawResult {
		return ok(req.Backend.Name, `{"results":[]}`)
	})

	prober := probe.New()
	prober.DialTimeout = 200 * time.Millisecond
	opts := fastOptions()
	opts.Preflight = true
	report, err := New(reg, inv, prober, opts).Dispatch(context.Background(), ScanRequest{Artifact: "x"})
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Diagnostics) != 1 || report.Diagnostics[0].Backend != "down" {
		t.Errorf("unexpected diagnostics %+v", report.Diagnostics)
	}
	if inv.count("down") != 1 {
		t.Error("unreachable backend must still be attempted")
	}
}

func TestDispatch_ParallelLimit(t *testing.T) {
	reg := testRegistry(t, "a", "b", "c", "d")
	var mu sync.Mutex
	running, peak := 0, 0
	inv := newFake(func(_ context.Context, req invoke.Request, _ int) invoke.RawResult {
		mu.Lock()
		running++
		if running > peak {
			peak = running
		}
		mu.Unlock()
		time.Sleep(10 * time.Millisecond)
		mu.Lock()
		running--
		mu.Unlock()
		return ok(req.Backend.Name, `{"results":[]}`)
	})

	opts := fastOptions()
	opts.Parallel = 2
	report, err := New(reg, inv, nil, opts).Dispatch(context.Background(), ScanRequest{Artifact: "x"})
	if err != nil {
		t.Fatal(err)
	}
	if report.Len() != 4 || peak > 2 {
		t.Errorf("len=%d peak=%d", report.Len(), peak)
	}
}
