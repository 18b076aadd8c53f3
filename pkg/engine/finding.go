package engine

import (
	"encoding/json"
	"fmt"
	"time"
)

// TimeoutMessage is the error text of a finding whose invocation ran out of time.
const TimeoutMessage = "Timeout"

// Finding is the normalized result of one backend for one request.
type Finding struct {
	Backend  string
	Success  bool
	Payload  any    // canonical structured payload
	Error    string // set when Success is false
	Raw      string // unparseable response text, kept for diagnostics
	Elapsed  time.Duration
	Attempts int
}

// Results returns the payload's "results" value when present.
func (f Finding) Results() (any, bool) {
	m, ok := f.Payload.(map[string]any)
	if !ok {
		return nil, false
	}
	r, ok := m["results"]
	return r, ok
}

// MarshalJSON renders {success, results|output, error?}.
func (f Finding) MarshalJSON() ([]byte, error) {
	out := struct {
		Success bool   `json:"success"`
		Results any    `json:"results,omitempty"`
		Output  any    `json:"output,omitempty"`
		Error   string `json:"error,omitempty"`
		Raw     string `json:"raw,omitempty"`
	}{Success: f.Success, Error: f.Error, Raw: f.Raw}

	if f.Success {
		if r, ok := f.Results(); ok {
			out.Results = r
		} else {
			out.Output = f.Payload
		}
	}
	return json.Marshal(out)
}

// shaper turns a backend payload into the canonical shape.
type shaper func(payload any) any

// wrapResults leaves mappings alone and wraps bare sequences as {"results": seq}.
func wrapResults(payload any) any {
	if seq, ok := payload.([]any); ok {
		return map[string]any{"results": seq}
	}
	return payload
}

// Backends that are known to answer with either a bare list or a {"results": ...}
// mapping. Everything else goes through defaultShaper.
var shapers = map[string]shaper{
	"bandit":      wrapResults,
	"circle_test": wrapResults,
}

var defaultShaper shaper = wrapResults

// Normalize maps a backend payload into a Finding. It never fails: a mapping
// with "success": false becomes a failed finding carrying its "error" text.
func Normalize(backend string, payload any) Finding {
	shape, ok := shapers[backend]
	if !ok {
		shape = defaultShaper
	}
	f := Finding{
		Backend: backend,
		Success: true,
		Payload: shape(payload),
	}
	if m, ok := f.Payload.(map[string]any); ok {
		if s, ok := m["success"].(bool); ok && !s {
			f.Success = false
			f.Error = errorText(m["error"])
		}
	}
	return f
}

// Failure builds a failed finding.
func Failure(backend, message string) Finding {
	return Finding{Backend: backend, Error: message}
}

// ExtractionFailure records a response whose payload could not be recovered.
func ExtractionFailure(backend string, err error, raw string) Finding {
	return Finding{
		Backend: backend,
		Error:   err.Error(),
		Raw:     raw,
	}
}

func errorText(v any) string {
	switch e := v.(type) {
	case nil:
		return "backend reported failure"
	case string:
		if e == "" {
			return "backend reported failure"
		}
		return e
	default:
		return fmt.Sprint(e)
	}
}
