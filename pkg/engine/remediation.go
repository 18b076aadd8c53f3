package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/user/gosec-mcp/pkg/adk"
	"github.com/user/gosec-mcp/pkg/extract"
	"github.com/user/gosec-mcp/pkg/logging"
)

// ErrRemediation is returned when no usable fix could be produced.
var ErrRemediation = errors.New("remediation failed")

// fenceLanguages maps the accepted upload extensions to markdown fence languages.
var fenceLanguages = map[string]string{
	".py":   "python",
	".js":   "javascript",
	".java": "java",
	".go":   "go",
	".rb":   "ruby",
}

// FenceLanguage returns the code-fence language for filename, or "" if unknown.
func FenceLanguage(filename string) string {
	return fenceLanguages[strings.ToLower(filepath.Ext(filename))]
}

// SupportedSource reports whether filename has one of the accepted extensions.
func SupportedSource(filename string) bool {
	return FenceLanguage(filename) != ""
}

// FixRequest is the input of one fix proposal.
type FixRequest struct {
	Filename string
	Code     string
	Focus    string
}

// FixResult is the outcome of the fix stage. When Err is set, Revised is
// empty and Diff is the zero value.
type FixResult struct {
	Revised string
	Diff    DiffResult
	Err     error
}

// RemediationEngine asks an LLM, with no tools, for a corrected artifact.
type RemediationEngine struct {
	llm       adk.LLMProvider
	templates *Templates
	log       *slog.Logger
}

// NewRemediationEngine creates an engine. A nil templates set means the built-in prompts.
func NewRemediationEngine(llm adk.LLMProvider, templates *Templates) *RemediationEngine {
	if templates == nil {
		templates = DefaultTemplates()
	}
	return &RemediationEngine{
		llm:       llm,
		templates: templates,
		log:       logging.New("remediation"),
	}
}

// ProposeFix returns the revised source for req.
func (e *RemediationEngine) ProposeFix(ctx context.Context, req FixRequest) (string, error) {
	if e.llm == nil {
		return "", fmt.Errorf("%w: no provider configured", ErrRemediation)
	}

	instructions, err := e.templates.Render(adk.PromptFixAgent, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRemediation, err)
	}
	prompt, err := e.templates.Render(adk.PromptFixRequest, map[string]string{
		"filename": filepath.Base(req.Filename),
		"language": FenceLanguage(req.Filename),
		"code":     req.Code,
		"focus":    req.Focus,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRemediation, err)
	}

	history := []adk.Message{
		{Role: "system", Content: instructions},
		{Role: "user", Content: prompt},
	}
	answer, _, err := e.llm.GenerateResponse(ctx, history, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRemediation, err)
	}

	revised := strings.TrimRight(stripCodeFence(extract.StripThink(answer)), " \t\r\n")
	revised = strings.TrimLeft(revised, "\r\n")
	if strings.TrimSpace(revised) == "" {
		return "", fmt.Errorf("%w: empty answer", ErrRemediation)
	}
	return revised + "\n", nil
}

// Run proposes a fix and diffs it against the original.
func (e *RemediationEngine) Run(ctx context.Context, req FixRequest) FixResult {
	revised, err := e.ProposeFix(ctx, req)
	if err != nil {
		e.log.Warn("fix stage failed", "file", req.Filename, "error", err)
		return FixResult{Err: err}
	}
	d := Diff(req.Code, revised, filepath.Base(req.Filename))
	if d.Err != nil {
		e.log.Warn("diff failed", "file", req.Filename, "error", d.Err)
	}
	e.log.Debug("fix proposed", "file", req.Filename, "added", d.Added, "removed", d.Removed)
	return FixResult{Revised: revised, Diff: d}
}

// stripCodeFence removes one markdown fence wrapping the whole text.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") || !strings.HasSuffix(s, "```") || len(s) < 6 {
		return s
	}
	body := strings.TrimSuffix(s, "```")
	nl := strings.IndexByte(body, '\n')
	if nl < 0 {
		return s
	}
	return body[nl+1:]
}
