package extract

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return string(b)
}

func TestExtract_RoundTripThroughProseAndFences(t *testing.T) {
	payload := map[string]any{
		"success": true,
		"results": []any{
			map[string]any{"test_id": "B105", "line_number": float64(5), "code": "password = \"x{\""},
		},
		"metrics": map[string]any{"_totals": map[string]any{"loc": float64(9)}},
	}
	body := mustJSON(t, payload)

	wrappers := map[string]string{
		"bare":         body,
		"json fence":   "```json\n" + body + "\n```",
		"bare fence":   "```\n" + body + "\n```",
		"prose":        "Here is the result of the scan:\n" + body + "\nLet me know if you need more.",
		"think":        "<think>I should call bandit_scan {maybe}\nwith low severity</think>\n" + body,
		"think+fence":  "<think>\nplan\n</think>\n\nSure!\n```json\n" + body + "\n```\nDone.",
		"python fence": "```python\n" + body + "\n```",
	}
	for name, raw := range wrappers {
		t.Run(name, func(t *testing.T) {
			got, err := Extract(raw)
			if err != nil {
				t.Fatalf("Extract: %v", err)
			}
			if diff := cmp.Diff(payload, got); diff != "" {
				t.Errorf("payload mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestExtract_FencesAndThinkInsideStringsPreserved(t *testing.T) {
	payload := map[string]any{
		"results": []any{
			map[string]any{
				"code":  "\"\"\"Usage:\n```python\nrun()\n```\n\"\"\"",
				"lines": "# <think>not reasoning</think> ```",
			},
		},
	}
	body := mustJSON(t, payload)

	for name, raw := range map[string]string{
		"json fence":  "Here you go:\n```json\n" + body + "\n```",
		"inline":      "```json " + body + " ```",
		"think first": "<think>call {bandit}</think>\n" + body,
	} {
		t.Run(name, func(t *testing.T) {
			got, err := Extract(raw)
			if err != nil {
				t.Fatalf("Extract: %v", err)
			}
			if diff := cmp.Diff(payload, got); diff != "" {
				t.Errorf("payload altered (-want +got):\n%s", diff)
			}
		})
	}
}

func TestExtract_LiteralThinkTagInString(t *testing.T) {
	raw := "```json\n{\"code\": \"<think>keep</think> ```x```\"}\n```"
	got, err := Extract(raw)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if diff := cmp.Diff(map[string]any{"code": "<think>keep</think> ```x```"}, got); diff != "" {
		t.Errorf("payload altered (-want +got):\n%s", diff)
	}
}

func TestClean_OnlyFenceLines(t *testing.T) {
	got := Clean("<think>x</think>\n```json\n{\"a\": \"``` kept\"}\n```")
	if got != "{\"a\": \"``` kept\"}" {
		t.Errorf("Clean = %q", got)
	}
}

func TestExtract_NestedObjectNotTruncated(t *testing.T) {
	raw := `result: {"outer": {"inner": {"deep": 1}}, "after": "kept"} trailing`
	got, err := Extract(raw)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	m := got.(map[string]any)
	if m["after"] != "kept" {
		t.Errorf("expected full outer object, got %v", m)
	}
}

func TestExtract_BracesInsideStrings(t *testing.T) {
	raw := `{"code": "if x { y }", "note": "escaped \" } quote", "n": 1} extra }`
	got, err := Extract(raw)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	want := map[string]any{"code": "if x { y }", "note": `escaped " } quote`, "n": float64(1)}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestExtract_FirstObjectOnly(t *testing.T) {
	got, err := Extract(`{"a": 1}{"b": 2}`)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if diff := cmp.Diff(map[string]any{"a": float64(1)}, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestExtract_NoPayload(t *testing.T) {
	for _, raw := range []string{"", "   ", "no json here", "<think>{\"a\":1}</think>"} {
		if _, err := Extract(raw); !errors.Is(err, ErrNoPayloadFound) {
			t.Errorf("Extract(%q): expected ErrNoPayloadFound, got %v", raw, err)
		}
	}
}

func TestExtract_Malformed(t *testing.T) {
	_, err := Extract(`prefix {"a": 1, "b": } suffix`)
	var mpe *MalformedPayloadError
	if !errors.As(err, &mpe) {
		t.Fatalf("expected *MalformedPayloadError, got %v", err)
	}
	if mpe.Fragment != `{"a": 1, "b": }` {
		t.Errorf("unexpected fragment %q", mpe.Fragment)
	}

	_, err = Extract(`{"unterminated": [1, 2`)
	if !errors.As(err, &mpe) {
		t.Fatalf("expected *MalformedPayloadError for unterminated object, got %v", err)
	}
}

func TestStripThink(t *testing.T) {
	got := StripThink("<think>a\nb</think>\n  print('x')\n")
	if got != "print('x')" {
		t.Errorf("StripThink = %q", got)
	}
}
