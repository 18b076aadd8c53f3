package wrappers

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"reflect"
	"sort"
	"strings"

	"github.com/user/gosec-mcp/pkg/engine"
)

const DefaultSnapshotPath = ".gosec-snapshot.json"

// SaveSnapshotWrapper implements the Tool interface for saving the last report
type SaveSnapshotWrapper struct {
	Session *Session
}

func (s *SaveSnapshotWrapper) Name() string {
	return "save_snapshot"
}

func (s *SaveSnapshotWrapper) Description() string {
	return "Saves the last scan report to a snapshot file for future comparison."
}

func (s *SaveSnapshotWrapper) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"filename": property("string", "Optional filename for the snapshot (default: .gosec-snapshot.json)"),
		},
	}
}

func (s *SaveSnapshotWrapper) Execute(ctx context.Context, args map[string]interface{}, progress func(string)) (string, error) {
	if s.Session == nil {
		return "Error: session not initialized.", nil
	}
	_, report := s.Session.Last()
	if report == nil {
		return "No scan has been run yet. Use run_scan first.", nil
	}

	filename := stringArg(args, "filename", DefaultSnapshotPath)
	if err := report.Save(filename); err != nil {
		return fmt.Sprintf("Error saving snapshot: %v", err), nil
	}
	return fmt.Sprintf("Successfully saved %d backend results to snapshot '%s'.", report.Len(), filename), nil
}

// DiffSnapshotWrapper implements the Tool interface for comparing the last report with a baseline
type DiffSnapshotWrapper struct {
	Session *Session
}

func (d *DiffSnapshotWrapper) Name() string {
	return "compare_with_baseline"
}

func (d *DiffSnapshotWrapper) Description() string {
	return "Compares the last scan report against a saved snapshot to show new failures, recovered backends and changed results."
}

func (d *DiffSnapshotWrapper) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"filename": property("string", "Optional filename of the baseline snapshot (default: .gosec-snapshot.json)"),
		},
	}
}

func (d *DiffSnapshotWrapper) Execute(ctx context.Context, args map[string]interface{}, progress func(string)) (string, error) {
	if d.Session == nil {
		return "Error: session not initialized.", nil
	}
	_, report := d.Session.Last()
	if report == nil {
		return "No scan has been run yet. Use run_scan first.", nil
	}

	filename := stringArg(args, "filename", DefaultSnapshotPath)
	baseline, err := loadSnapshot(filename)
	if err != nil {
		return fmt.Sprintf("Error loading baseline snapshot '%s': %v. Have you run a scan and saved a snapshot before?", filename, err), nil
	}
	current, err := snapshotOf(report)
	if err != nil {
		return fmt.Sprintf("Error reading current report: %v", err), nil
	}

	diff := compareSnapshots(baseline, current)

	var sb strings.Builder
	fmt.Fprintf(&sb, "Snapshot Comparison (vs %s):\n", filename)
	sb.WriteString("--------------------------------------------------\n")
	fmt.Fprintf(&sb, "NEW FAILURES: %d\n", len(diff.NewFailures))
	for _, name := range diff.NewFailures {
		fmt.Fprintf(&sb, "  [+] %s - %s\n", name, current[name].Error)
	}
	fmt.Fprintf(&sb, "\nRECOVERED: %d\n", len(diff.Recovered))
	for _, name := range diff.Recovered {
		fmt.Fprintf(&sb, "  [-] %s\n", name)
	}
	fmt.Fprintf(&sb, "\nCHANGED RESULTS: %d\n", len(diff.Changed))
	for _, name := range diff.Changed {
		fmt.Fprintf(&sb, "  [~] %s\n", name)
	}
	fmt.Fprintf(&sb, "\nUNCHANGED: %d\n", len(diff.Unchanged))
	if len(diff.Missing) > 0 {
		fmt.Fprintf(&sb, "\nNot in this scan: %s\n", strings.Join(diff.Missing, ", "))
	}
	return sb.String(), nil
}

// snapshotEntry is one backend of a saved report.
type snapshotEntry struct {
	Success bool   `json:"success"`
	Results any    `json:"results,omitempty"`
	Output  any    `json:"output,omitempty"`
	Error   string `json:"error,omitempty"`
}

type snapshotDiff struct {
	NewFailures []string
	Recovered   []string
	Changed     []string
	Unchanged   []string
	Missing     []string // in the baseline only
}

func loadSnapshot(path string) (map[string]snapshotEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var out map[string]snapshotEntry
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// snapshotOf decodes the report the same way a saved snapshot is decoded.
func snapshotOf(r *engine.Report) (map[string]snapshotEntry, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	var out map[string]snapshotEntry
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func compareSnapshots(baseline, current map[string]snapshotEntry) snapshotDiff {
	var d snapshotDiff
	for _, name := range sortedKeys(current) {
		cur := current[name]
		old, seen := baseline[name]
		switch {
		case !cur.Success && (!seen || old.Success):
			d.NewFailures = append(d.NewFailures, name)
		case cur.Success && seen && !old.Success:
			d.Recovered = append(d.Recovered, name)
		case seen && reflect.DeepEqual(old, cur):
			d.Unchanged = append(d.Unchanged, name)
		default:
			d.Changed = append(d.Changed, name)
		}
	}
	for _, name := range sortedKeys(baseline) {
		if _, ok := current[name]; !ok {
			d.Missing = append(d.Missing, name)
		}
	}
	return d
}

func sortedKeys(m map[string]snapshotEntry) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
