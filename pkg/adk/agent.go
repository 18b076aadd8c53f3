package adk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/user/gosec-mcp/pkg/logging"
)

// Tool represents an executable action for the agent
type Tool interface {
	Name() string
	Description() string
	Execute(ctx context.Context, args map[string]interface{}, progress func(string)) (string, error)
	Schema() map[string]interface{} // JSON schema for arguments
}

// ToolCall represents a request from the LLM to execute a tool
type ToolCall struct {
	ToolName string
	Args     map[string]interface{}
}

// Message represents a chat message
type Message struct {
	Role    string // "system", "user", "model", "function"
	Content string
}

// LLMProvider defines the interface for different AI models
type LLMProvider interface {
	GenerateResponse(ctx context.Context, history []Message, tools []Tool) (string, *ToolCall, error)
	ListModels(ctx context.Context) ([]string, error)
}

// DefaultMaxSteps bounds the number of tool calls in one Chat turn.
const DefaultMaxSteps = 10

// ErrMaxSteps is returned when the model keeps calling tools past MaxSteps.
var ErrMaxSteps = errors.New("agent exceeded tool-call step limit")

// Agent is the core ADK agent
type Agent struct {
	llm          LLMProvider
	tools        map[string]Tool
	history      []Message
	systemPrompt string
	log          *slog.Logger

	// MaxSteps limits tool round-trips per Chat call.
	MaxSteps int
}

// NewAgent creates a new agent with the given LLM provider
func NewAgent(llm LLMProvider) *Agent {
	return &Agent{
		llm:      llm,
		tools:    make(map[string]Tool),
		log:      logging.New("agent"),
		MaxSteps: DefaultMaxSteps,
	}
}

// SetSystemPrompt sets the instructions sent ahead of the conversation.
func (a *Agent) SetSystemPrompt(prompt string) {
	a.systemPrompt = prompt
}

// RegisterTool adds a tool to the agent's registry
func (a *Agent) RegisterTool(t Tool) {
	a.tools[t.Name()] = t
}

// Tools returns the registered tools sorted by name.
func (a *Agent) Tools() []Tool {
	list := make([]Tool, 0, len(a.tools))
	for _, t := range a.tools {
		list = append(list, t)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name() < list[j].Name() })
	return list
}

// History returns a copy of the conversation so far, without the system prompt.
func (a *Agent) History() []Message {
	out := make([]Message, len(a.history))
	copy(out, a.history)
	return out
}

// Reset clears the conversation.
func (a *Agent) Reset() {
	a.history = nil
}

func (a *Agent) messages() []Message {
	if a.systemPrompt == "" {
		return a.history
	}
	msgs := make([]Message, 0, len(a.history)+1)
	msgs = append(msgs, Message{Role: "system", Content: a.systemPrompt})
	return append(msgs, a.history...)
}

// Chat sends a message to the agent and returns the response
func (a *Agent) Chat(ctx context.Context, input string, progress func(string)) (string, error) {
	a.history = append(a.history, Message{Role: "user", Content: input})
	toolList := a.Tools()

	maxSteps := a.MaxSteps
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}

	for step := 0; ; step++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		respText, toolCall, err := a.llm.GenerateResponse(ctx, a.messages(), toolList)
		if err != nil {
			return "", err
		}

		// If the model just replied with text, we are done
		if toolCall == nil {
			a.history = append(a.history, Message{Role: "model", Content: respText})
			return respText, nil
		}
		if step >= maxSteps {
			return "", fmt.Errorf("%w (%d)", ErrMaxSteps, maxSteps)
		}

		a.log.Debug("executing tool", "tool", toolCall.ToolName, "args", toolCall.Args)

		// Record the model's intent to call the tool
		a.history = append(a.history, Message{
			Role:    "model",
			Content: fmt.Sprintf("I will call tool %s with args %v", toolCall.ToolName, toolCall.Args),
		})

		tool, exists := a.tools[toolCall.ToolName]
		if !exists {
			a.history = append(a.history, Message{Role: "function", Content: fmt.Sprintf("Error: Tool %s not found", toolCall.ToolName)})
			continue
		}

		result, err := tool.Execute(ctx, toolCall.Args, progress)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return "", ctxErr
			}
			result = fmt.Sprintf("Error executing tool: %v", err)
		}

		a.history = append(a.history, Message{
			Role:    "function",
			Content: fmt.Sprintf("Tool %s returned: %s", toolCall.ToolName, result),
		})
	}
}
