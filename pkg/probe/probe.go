package probe

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/user/gosec-mcp/pkg/logging"
	"github.com/user/gosec-mcp/pkg/registry"
)

// Defaults for the readiness loop.
const (
	DefaultAttempts    = 5
	DefaultDelay       = 5 * time.Second
	DefaultDialTimeout = 2 * time.Second
)

// Status is the outcome of probing one backend.
type Status struct {
	Backend   string        `json:"backend"`
	Addr      string        `json:"addr"`
	Reachable bool          `json:"reachable"`
	Latency   time.Duration `json:"latency"`
	Error     string        `json:"error,omitempty"`
}

// Prober checks backend reachability. Results are advisory.
type Prober struct {
	DialTimeout time.Duration
	Attempts    int
	Delay       time.Duration
	Client      *http.Client
}

// New returns a prober with default settings.
func New() *Prober {
	return &Prober{
		DialTimeout: DefaultDialTimeout,
		Attempts:    DefaultAttempts,
		Delay:       DefaultDelay,
		Client:      &http.Client{Timeout: 30 * time.Second},
	}
}

// CheckPort does a plain TCP connect-and-close against addr.
func (p *Prober) CheckPort(ctx context.Context, addr string) error {
	d := net.Dialer{Timeout: p.dialTimeout()}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	return conn.Close()
}

// Check probes a single backend's health port.
func (p *Prober) Check(ctx context.Context, b registry.Backend) Status {
	st := Status{Backend: b.Name, Addr: b.HealthAddr()}
	start := time.Now()
	err := p.CheckPort(ctx, st.Addr)
	st.Latency = time.Since(start)
	if err != nil {
		st.Error = err.Error()
		return st
	}
	st.Reachable = true
	return st
}

// CheckAll probes every backend concurrently. The result keeps input order.
func (p *Prober) CheckAll(ctx context.Context, backends []registry.Backend) []Status {
	out := make([]Status, len(backends))
	g, gctx := errgroup.WithContext(ctx)
	for i, b := range backends {
		g.Go(func() error {
			out[i] = p.Check(gctx, b)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// Unreachable filters statuses down to the backends that failed.
func Unreachable(statuses []Status) []Status {
	var out []Status
	for _, s := range statuses {
		if !s.Reachable {
			out = append(out, s)
		}
	}
	return out
}

// WaitReady polls url until it answers 200, sleeping Delay between attempts.
// It returns false after Attempts failures or when ctx ends.
func (p *Prober) WaitReady(ctx context.Context, url string) bool {
	logger := logging.New("probe")
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = DefaultAttempts
	}
	for i := 0; i < attempts; i++ {
		err := p.get(ctx, url)
		if err == nil {
			logger.Info("server available", "url", url)
			return true
		}
		logger.Warn("probe attempt failed", "url", url, "attempt", i+1, "of", attempts, "error", err)
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(p.Delay):
		}
	}
	logger.Error("server unavailable", "url", url, "attempts", attempts)
	return false
}

func (p *Prober) get(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %s", resp.Status)
	}
	return nil
}

func (p *Prober) dialTimeout() time.Duration {
	if p.DialTimeout <= 0 {
		return DefaultDialTimeout
	}
	return p.DialTimeout
}
