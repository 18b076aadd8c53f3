// Package dispatch fans one artifact out to the selected backends and
// collects one finding per backend.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"

	"github.com/user/gosec-mcp/pkg/engine"
	"github.com/user/gosec-mcp/pkg/extract"
	"github.com/user/gosec-mcp/pkg/invoke"
	"github.com/user/gosec-mcp/pkg/logging"
	"github.com/user/gosec-mcp/pkg/probe"
	"github.com/user/gosec-mcp/pkg/registry"
)

// Options tunes dispatch. Zero durations and a zero threshold fall back to
// DefaultOptions; Retries is taken as given.
type Options struct {
	Timeout          time.Duration // per attempt
	Retries          int           // extra attempts after a transport failure
	RetryDelay       time.Duration // first backoff, doubled each retry
	Parallel         int           // max concurrent backends, 0 for all
	Preflight        bool
	BreakerThreshold uint32 // consecutive failures that open a backend's breaker
	BreakerCooldown  time.Duration
}

func DefaultOptions() Options {
	return Options{
		Timeout:          120 * time.Second,
		Retries:          2,
		RetryDelay:       time.Second,
		BreakerThreshold: 5,
		BreakerCooldown:  30 * time.Second,
	}
}

// ScanRequest is one dispatch.
type ScanRequest struct {
	Artifact  string
	Backends  []string // empty means every registered backend
	Focus     string
	Policies  map[string]any            // replaces the "policies" argument where a backend has one
	Overrides map[string]map[string]any // per-backend argument overrides
}

// Coordinator runs scans against the registry's backends.
type Coordinator struct {
	reg      *registry.Registry
	inv      invoke.Invoker
	prober   *probe.Prober
	opts     Options
	breakers map[string]*gobreaker.CircuitBreaker
	log      *slog.Logger
}

// New creates a coordinator. A nil prober disables pre-flight checks.
func New(reg *registry.Registry, inv invoke.Invoker, prober *probe.Prober, opts Options) *Coordinator {
	def := DefaultOptions()
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = def.RetryDelay
	}
	if opts.BreakerThreshold == 0 {
		opts.BreakerThreshold = def.BreakerThreshold
	}
	if opts.BreakerCooldown <= 0 {
		opts.BreakerCooldown = def.BreakerCooldown
	}

	c := &Coordinator{
		reg:      reg,
		inv:      inv,
		prober:   prober,
		opts:     opts,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		log:      logging.New("dispatch"),
	}
	for _, name := range reg.Names() {
		c.breakers[name] = c.newBreaker(name)
	}
	return c
}

func (c *Coordinator) newBreaker(name string) *gobreaker.CircuitBreaker {
	threshold := c.opts.BreakerThreshold
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     c.opts.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.log.Warn("backend breaker state changed", "backend", name, "from", from.String(), "to", to.String())
		},
	})
}

// Dispatch scans req.Artifact with every selected backend. Unknown names fail
// before anything is sent. If ctx is cancelled the partial report is dropped.
func (c *Coordinator) Dispatch(ctx context.Context, req ScanRequest) (*engine.Report, error) {
	backends, err := c.reg.Select(req.Backends)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	report := engine.NewReport()
	if c.opts.Preflight && c.prober != nil {
		for _, st := range probe.Unreachable(c.prober.CheckAll(ctx, backends)) {
			report.Diagnostics = append(report.Diagnostics, engine.Diagnostic{
				Backend: st.Backend,
				Message: fmt.Sprintf("unreachable at %s: %s", st.Addr, st.Error),
			})
			c.log.Warn("backend unreachable, dispatching anyway", "backend", st.Backend, "addr", st.Addr)
		}
	}

	c.log.Info("dispatching", "backends", len(backends), "bytes", len(req.Artifact))
	findings := make([]engine.Finding, len(backends))

	var g errgroup.Group
	if c.opts.Parallel > 0 {
		g.SetLimit(c.opts.Parallel)
	}
	for i, b := range backends {
		g.Go(func() error {
			findings[i] = c.scanOne(ctx, b, req)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for _, f := range findings {
		report.Add(f)
	}
	if failed := report.Failed(); len(failed) > 0 {
		c.log.Warn("scan finished with failures", "failed", failed)
	}
	return report, nil
}

// scanOne is the per-backend task: invoke, extract, normalize. Nothing that
// happens here reaches another backend's entry.
func (c *Coordinator) scanOne(ctx context.Context, b registry.Backend, req ScanRequest) (f engine.Finding) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("scan task panicked", "backend", b.Name, "panic", r)
			f = engine.Failure(b.Name, fmt.Sprintf("internal error: %v", r))
			f.Elapsed = time.Since(start)
		}
	}()

	message := invoke.ComposeMessage(req.Focus, req.Artifact)
	input := req.Artifact
	if b.Input == registry.InputMessage {
		input = message
	}
	args := registry.BuildArgs(b, input, c.overrides(b, req))

	raw, attempts := c.invokeWithRetry(ctx, invoke.Request{Backend: b, Args: args, Message: message})

	payload, err := extract.Extract(raw.Text)
	if err != nil {
		c.log.Debug("no payload in answer", "backend", b.Name, "error", err, "raw", logging.Truncate(raw.Text, 200))
		f = engine.ExtractionFailure(b.Name, err, raw.Text)
	} else {
		f = engine.Normalize(b.Name, payload)
	}
	f.Attempts = attempts
	f.Elapsed = time.Since(start)
	return f
}

func (c *Coordinator) overrides(b registry.Backend, req ScanRequest) map[string]any {
	out := make(map[string]any)
	for k, v := range req.Overrides[b.Name] {
		out[k] = v
	}
	if req.Policies != nil {
		if _, ok := b.Args["policies"]; ok {
			out["policies"] = req.Policies
		}
	}
	return out
}

func (c *Coordinator) invokeWithRetry(ctx context.Context, req invoke.Request) (invoke.RawResult, int) {
	delay := c.opts.RetryDelay
	for attempt := 1; ; attempt++ {
		raw := c.attempt(ctx, req)
		if !raw.Retryable() || attempt > c.opts.Retries || ctx.Err() != nil {
			return raw, attempt
		}
		c.log.Warn("transport failure, retrying", "backend", req.Backend.Name, "attempt", attempt, "delay", delay, "error", raw.Err)
		if err := sleep(ctx, delay); err != nil {
			return raw, attempt
		}
		delay *= 2
	}
}

// attempt runs one invocation under the per-call timeout and the backend's breaker.
func (c *Coordinator) attempt(ctx context.Context, req invoke.Request) invoke.RawResult {
	callCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	cb, ok := c.breakers[req.Backend.Name]
	if !ok {
		return c.inv.Invoke(callCtx, req)
	}

	var raw invoke.RawResult
	_, err := cb.Execute(func() (interface{}, error) {
		raw = c.inv.Invoke(callCtx, req)
		if raw.Kind == invoke.KindTransport || raw.Kind == invoke.KindTimeout {
			return nil, raw.Err
		}
		return nil, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return invoke.Fail(req.Backend.Name, invoke.KindUnavailable, err)
	}
	return raw
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
