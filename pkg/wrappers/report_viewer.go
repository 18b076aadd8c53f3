package wrappers

import (
	"context"
	"fmt"
)

// ReportViewerWrapper implements the Tool interface for viewing the last scan report
type ReportViewerWrapper struct {
	Session *Session
}

func (r *ReportViewerWrapper) Name() string {
	return "show_report"
}

func (r *ReportViewerWrapper) Description() string {
	return "Displays the full results of the last scan, one section per backend."
}

func (r *ReportViewerWrapper) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}

func (r *ReportViewerWrapper) Execute(ctx context.Context, args map[string]interface{}, progress func(string)) (string, error) {
	if r.Session == nil {
		return "Error: session not initialized.", nil
	}
	filename, report := r.Session.Last()
	if report == nil {
		return "No scan has been run yet. Use run_scan first.", nil
	}
	return fmt.Sprintf("Report for %s:\n\n%s", filename, report.Markdown()), nil
}
