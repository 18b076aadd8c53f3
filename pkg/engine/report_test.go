package engine

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func sampleReport() *Report {
	r := NewReport()
	r.Add(Normalize("zeta", map[string]any{"results": []any{map[string]any{"id": float64(1)}}}))
	r.Add(Normalize("alpha", map[string]any{"success": false, "error": "Timeout", "results": map[string]any{}}))
	r.Add(ExtractionFailure("mid", os.ErrInvalid, "garbage"))
	return r
}

func TestReport_KeepsInsertionOrder(t *testing.T) {
	r := sampleReport()
	if diff := cmp.Diff([]string{"zeta", "alpha", "mid"}, r.Names()); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}

	b, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	s := string(b)
	if !(strings.Index(s, `"zeta"`) < strings.Index(s, `"alpha"`) && strings.Index(s, `"alpha"`) < strings.Index(s, `"mid"`)) {
		t.Errorf("JSON keys not in insertion order: %s", s)
	}
}

func TestReport_AddReplacesInPlace(t *testing.T) {
	r := sampleReport()
	r.Add(Normalize("zeta", []any{}))
	if r.Len() != 3 {
		t.Fatalf("expected 3 entries, got %d", r.Len())
	}
	if r.Names()[0] != "zeta" {
		t.Errorf("replacement moved entry: %v", r.Names())
	}
}

func TestReport_Failed(t *testing.T) {
	if diff := cmp.Diff([]string{"alpha", "mid"}, sampleReport().Failed()); diff != "" {
		t.Errorf("failed mismatch (-want +got):\n%s", diff)
	}
}

func TestReport_EndToEndShape(t *testing.T) {
	r := NewReport()
	r.Add(Normalize("alpha", map[string]any{"results": []any{map[string]any{"id": float64(1)}}}))
	r.Add(Normalize("beta", map[string]any{"success": false, "error": TimeoutMessage, "results": map[string]any{}}))

	b, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"alpha":{"success":true,"results":[{"id":1}]},"beta":{"success":false,"error":"Timeout"}}`
	if string(b) != want {
		t.Errorf("got  %s\nwant %s", b, want)
	}
}

func TestReport_SaveAndMarkdown(t *testing.T) {
	r := sampleReport()
	path := filepath.Join(t.TempDir(), "report.json")
	if err := r.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var decoded map[string]map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("saved report is not JSON: %v", err)
	}
	if decoded["zeta"]["success"] != true {
		t.Errorf("unexpected saved content: %v", decoded["zeta"])
	}

	md := r.Markdown()
	for _, want := range []string{"### ZETA:", "### ALPHA (Error):", "### MID (Raw output):", "garbage"} {
		if !strings.Contains(md, want) {
			t.Errorf("markdown missing %q:\n%s", want, md)
		}
	}

	table := r.SummaryTable()
	if !strings.Contains(table, "zeta") || !strings.Contains(table, "failed") {
		t.Errorf("summary table incomplete:\n%s", table)
	}
}
