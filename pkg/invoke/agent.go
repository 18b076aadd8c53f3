package invoke

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/user/gosec-mcp/pkg/adk"
	"github.com/user/gosec-mcp/pkg/engine"
	"github.com/user/gosec-mcp/pkg/logging"
	"github.com/user/gosec-mcp/pkg/registry"
)

// ToolSource lists a backend's tools as agent tools. *mcpclient.Pool implements it.
type ToolSource interface {
	RemoteTools(ctx context.Context, b registry.Backend) ([]adk.Tool, error)
}

// AgentInvoker hands the backend's tools to an LLM agent told to answer with
// the raw tool JSON only. The answer is free text and needs extraction.
type AgentInvoker struct {
	llm       adk.LLMProvider
	tools     ToolSource
	templates *engine.Templates
	log       *slog.Logger

	MaxSteps int
}

func NewAgentInvoker(llm adk.LLMProvider, tools ToolSource, templates *engine.Templates) *AgentInvoker {
	if templates == nil {
		templates = engine.DefaultTemplates()
	}
	return &AgentInvoker{
		llm:       llm,
		tools:     tools,
		templates: templates,
		log:       logging.New("invoke"),
		MaxSteps:  adk.DefaultMaxSteps,
	}
}

func (a *AgentInvoker) Invoke(ctx context.Context, req Request) RawResult {
	start := time.Now()
	b := req.Backend

	tools, err := a.tools.RemoteTools(ctx, b)
	if err != nil {
		return finish(ctx, b.Name, "", err, start)
	}

	instructions, err := a.templates.Render(adk.PromptScanAgent, map[string]string{"backend": b.Name})
	if err != nil {
		return finish(ctx, b.Name, "", err, start)
	}

	agent := adk.NewAgent(a.llm)
	agent.SetSystemPrompt(instructions)
	agent.MaxSteps = a.MaxSteps
	for _, t := range tools {
		agent.RegisterTool(t)
	}

	answer, err := agent.Chat(ctx, agentMessage(req), func(msg string) {
		a.log.Debug("agent progress", "backend", b.Name, "msg", msg)
	})
	if err == nil {
		a.log.Debug("agent answered", "backend", b.Name, "answer", logging.Truncate(answer, 200))
	}
	return finish(ctx, b.Name, answer, err, start)
}

// agentMessage tells the agent which tool to use and with which settings. The
// artifact travels once, inside the analysis request.
func agentMessage(req Request) string {
	b := req.Backend
	var sb strings.Builder
	fmt.Fprintf(&sb, "Analyze this code using %s: %s", b.Name, req.Message)

	settings := make(map[string]any, len(req.Args))
	for k, v := range req.Args {
		if k != b.InputArg {
			settings[k] = v
		}
	}
	fmt.Fprintf(&sb, "\n\nCall the %s tool", b.Tool)
	if b.InputArg != "" {
		fmt.Fprintf(&sb, ", passing the code above as %q", b.InputArg)
	}
	if len(settings) > 0 {
		if data, err := json.Marshal(settings); err == nil {
			fmt.Fprintf(&sb, ", with these arguments: %s", data)
		}
	}
	sb.WriteString(".")
	return sb.String()
}
