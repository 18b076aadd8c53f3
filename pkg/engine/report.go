package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
)

// Diagnostic is a pre-flight note about one backend. It never blocks dispatch.
type Diagnostic struct {
	Backend string `json:"backend"`
	Message string `json:"message"`
}

// Report holds one finding per selected backend in dispatch order.
type Report struct {
	order       []string
	findings    map[string]Finding
	Diagnostics []Diagnostic
}

// NewReport creates an empty report.
func NewReport() *Report {
	return &Report{findings: make(map[string]Finding)}
}

// Add stores f. A second finding for the same backend replaces the first
// without changing its position.
func (r *Report) Add(f Finding) {
	if _, exists := r.findings[f.Backend]; !exists {
		r.order = append(r.order, f.Backend)
	}
	r.findings[f.Backend] = f
}

// Get returns the finding for backend.
func (r *Report) Get(backend string) (Finding, bool) {
	f, ok := r.findings[backend]
	return f, ok
}

// Names returns backend names in dispatch order.
func (r *Report) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Findings returns findings in dispatch order.
func (r *Report) Findings() []Finding {
	out := make([]Finding, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.findings[name])
	}
	return out
}

// Len is the number of backends in the report.
func (r *Report) Len() int { return len(r.order) }

// Failed returns the backends whose finding is an error.
func (r *Report) Failed() []string {
	var out []string
	for _, name := range r.order {
		if !r.findings[name].Success {
			out = append(out, name)
		}
	}
	return out
}

// MarshalJSON writes an object whose keys keep dispatch order.
func (r *Report) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range r.order {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(r.findings[name])
		if err != nil {
			return nil, fmt.Errorf("marshal finding %s: %w", name, err)
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Save writes the report as indented JSON.
func (r *Report) Save(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Markdown renders one section per backend, the way the scan results are shown to users.
func (r *Report) Markdown() string {
	var sections []string
	for _, f := range r.Findings() {
		title := strings.ToUpper(f.Backend)
		switch {
		case f.Success:
			display := f.Payload
			if res, ok := f.Results(); ok {
				display = res
			}
			body, err := json.MarshalIndent(display, "", "  ")
			if err != nil {
				body = []byte(fmt.Sprint(display))
			}
			sections = append(sections, fmt.Sprintf("### %s:\n```json\n%s\n```", title, body))
		case f.Raw != "":
			sections = append(sections, fmt.Sprintf("### %s (Raw output):\n```\n%s\n```\n_%s_", title, f.Raw, f.Error))
		default:
			sections = append(sections, fmt.Sprintf("### %s (Error):\n```\n%s\n```", title, f.Error))
		}
	}
	return strings.Join(sections, "\n\n")
}

// SummaryTable renders a per-backend status table.
func (r *Report) SummaryTable() string {
	w := table.NewWriter()
	w.SetStyle(table.StyleLight)
	w.AppendHeader(table.Row{"Backend", "Status", "Items", "Attempts", "Elapsed", "Error"})
	for _, f := range r.Findings() {
		status := "ok"
		if !f.Success {
			status = "failed"
		}
		w.AppendRow(table.Row{f.Backend, status, countItems(f), f.Attempts, f.Elapsed.Round(time.Millisecond), truncate(f.Error, 60)})
	}
	if len(r.Diagnostics) > 0 {
		w.AppendFooter(table.Row{"", "", "", "", "", fmt.Sprintf("%d pre-flight warning(s)", len(r.Diagnostics))})
	}
	return w.Render()
}

// countItems reports the size of a results collection, or "-" when there is none.
func countItems(f Finding) string {
	if !f.Success {
		return "-"
	}
	res, ok := f.Results()
	if !ok {
		return "-"
	}
	switch v := res.(type) {
	case []any:
		return fmt.Sprint(len(v))
	case map[string]any:
		if inner, ok := v["results"]; ok {
			switch iv := inner.(type) {
			case []any:
				return fmt.Sprint(len(iv))
			case map[string]any:
				return fmt.Sprint(len(iv))
			}
		}
		return fmt.Sprint(len(v))
	}
	return "-"
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
