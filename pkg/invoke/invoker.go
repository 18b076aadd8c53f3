// Package invoke submits one scan request to one backend and captures the raw answer.
package invoke

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/user/gosec-mcp/pkg/adk"
	"github.com/user/gosec-mcp/pkg/engine"
	"github.com/user/gosec-mcp/pkg/mcpclient"
	"github.com/user/gosec-mcp/pkg/registry"
)

// Kind classifies why an invocation produced no backend answer.
type Kind int

const (
	KindNone        Kind = iota
	KindTransport        // connection or protocol failure, retryable
	KindTimeout          // per-call deadline exceeded
	KindCancelled        // caller cancelled the dispatch
	KindStatus           // backend answered with an error result
	KindUnavailable      // circuit breaker is open
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindTransport:
		return "transport"
	case KindTimeout:
		return "timeout"
	case KindCancelled:
		return "cancelled"
	case KindStatus:
		return "status"
	case KindUnavailable:
		return "unavailable"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// TransportError is a failed invocation of one backend.
type TransportError struct {
	Backend string
	Kind    Kind
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Backend, e.Kind, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Request is one backend call.
type Request struct {
	Backend registry.Backend
	Args    map[string]any // fully built argument set
	Message string         // analysis request in natural language, artifact included
}

// RawResult is the verbatim answer of a backend, or an error envelope.
type RawResult struct {
	Backend string
	Text    string
	Kind    Kind
	Err     error
	Elapsed time.Duration
}

// Failed reports whether the invocation failed before the backend answered.
func (r RawResult) Failed() bool { return r.Kind != KindNone }

// Retryable reports whether another attempt may succeed.
func (r RawResult) Retryable() bool { return r.Kind == KindTransport }

// Invoker runs one request. Implementations never retry.
type Invoker interface {
	Invoke(ctx context.Context, req Request) RawResult
}

// ErrorEnvelope is the text returned in place of a backend answer on failure.
func ErrorEnvelope(msg string) string {
	data, err := json.Marshal(map[string]any{"success": false, "error": msg, "results": map[string]any{}})
	if err != nil {
		return `{"success":false,"error":"unencodable error","results":{}}`
	}
	return string(data)
}

// Fail builds the failed result for backend.
func Fail(backend string, kind Kind, err error) RawResult {
	var msg string
	switch kind {
	case KindTimeout:
		msg = engine.TimeoutMessage
	case KindUnavailable:
		msg = fmt.Sprintf("Backend %s unavailable: %v", backend, err)
	default:
		msg = fmt.Sprintf("Error running %s: %v", backend, err)
	}
	return RawResult{
		Backend: backend,
		Text:    ErrorEnvelope(msg),
		Kind:    kind,
		Err:     &TransportError{Backend: backend, Kind: kind, Err: err},
	}
}

// classify maps a call error to a Kind using the call's own context.
func classify(ctx context.Context, err error) Kind {
	var te *mcpclient.ToolError
	switch {
	case errors.As(err, &te):
		return KindStatus
	case errors.Is(ctx.Err(), context.DeadlineExceeded), errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(ctx.Err(), context.Canceled):
		return KindCancelled
	case errors.Is(err, adk.ErrMaxSteps):
		return KindStatus
	}
	return KindTransport
}

func finish(ctx context.Context, backend, text string, err error, start time.Time) RawResult {
	var r RawResult
	if err != nil {
		r = Fail(backend, classify(ctx, err), err)
	} else {
		r = RawResult{Backend: backend, Text: text}
	}
	r.Elapsed = time.Since(start)
	return r
}

// ComposeMessage builds the natural-language analysis request sent to agents
// and to backends that take a prompt.
func ComposeMessage(focus, code string) string {
	if focus != "" {
		return fmt.Sprintf("Please analyze this code for %s, using the most comprehensive settings available:\n\n%s", focus, code)
	}
	return "Please perform a full vulnerability and security analysis on this code, selecting the highest intensity settings:\n\n" + code
}
