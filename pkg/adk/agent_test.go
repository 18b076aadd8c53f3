package adk

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

type scriptedProvider struct {
	replies []reply
	seen    [][]Message
	tools   []string
}

type reply struct {
	text string
	call *ToolCall
	err  error
}

func (p *scriptedProvider) GenerateResponse(_ context.Context, history []Message, tools []Tool) (string, *ToolCall, error) {
	p.seen = append(p.seen, append([]Message(nil), history...))
	p.tools = p.tools[:0]
	for _, t := range tools {
		p.tools = append(p.tools, t.Name())
	}
	if len(p.replies) == 0 {
		return "", &ToolCall{ToolName: "echo"}, nil
	}
	r := p.replies[0]
	p.replies = p.replies[1:]
	return r.text, r.call, r.err
}

func (p *scriptedProvider) ListModels(context.Context) ([]string, error) { return nil, nil }

type echoTool struct {
	name  string
	calls int
	err   error
}

func (t *echoTool) Name() string        { return t.name }
func (t *echoTool) Description() string { return "echoes its input" }
func (t *echoTool) Schema() map[string]interface{} {
	return map[string]interface{}{"type": "object", "properties": map[string]interface{}{"text": map[string]interface{}{"type": "string"}}}
}
func (t *echoTool) Execute(_ context.Context, args map[string]interface{}, _ func(string)) (string, error) {
	t.calls++
	if t.err != nil {
		return "", t.err
	}
	return fmt.Sprintf(`{"echo":"%v"}`, args["text"]), nil
}

func TestAgent_ToolRoundTrip(t *testing.T) {
	p := &scriptedProvider{replies: []reply{
		{call: &ToolCall{ToolName: "echo", Args: map[string]interface{}{"text": "hi"}}},
		{text: `{"echo":"hi"}`},
	}}
	tool := &echoTool{name: "echo"}

	a := NewAgent(p)
	a.SetSystemPrompt("return raw JSON")
	a.RegisterTool(tool)

	out, err := a.Chat(context.Background(), "scan this", nil)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if out != `{"echo":"hi"}` {
		t.Errorf("unexpected answer %q", out)
	}
	if tool.calls != 1 {
		t.Errorf("expected one tool call, got %d", tool.calls)
	}

	second := p.seen[1]
	if second[0].Role != "system" || second[0].Content != "return raw JSON" {
		t.Errorf("system prompt not sent first: %+v", second[0])
	}
	last := second[len(second)-1]
	if last.Role != "function" || !strings.Contains(last.Content, `Tool echo returned: {"echo":"hi"}`) {
		t.Errorf("tool result not replayed: %+v", last)
	}
	for _, m := range a.History() {
		if m.Role == "system" {
			t.Error("system prompt leaked into history")
		}
	}
}

func TestAgent_UnknownToolAndToolError(t *testing.T) {
	p := &scriptedProvider{replies: []reply{
		{call: &ToolCall{ToolName: "missing"}},
		{call: &ToolCall{ToolName: "broken", Args: map[string]interface{}{}}},
		{text: "done"},
	}}
	a := NewAgent(p)
	a.RegisterTool(&echoTool{name: "broken", err: errors.New("boom")})

	if _, err := a.Chat(context.Background(), "go", nil); err != nil {
		t.Fatalf("Chat: %v", err)
	}
	h := a.History()
	var notFound, execErr bool
	for _, m := range h {
		if strings.Contains(m.Content, "Tool missing not found") {
			notFound = true
		}
		if strings.Contains(m.Content, "Error executing tool: boom") {
			execErr = true
		}
	}
	if !notFound || !execErr {
		t.Errorf("history missing error entries: %+v", h)
	}
}

func TestAgent_MaxSteps(t *testing.T) {
	p := &scriptedProvider{}
	a := NewAgent(p)
	a.MaxSteps = 2
	a.RegisterTool(&echoTool{name: "echo"})

	_, err := a.Chat(context.Background(), "loop", nil)
	if !errors.Is(err, ErrMaxSteps) {
		t.Fatalf("expected ErrMaxSteps, got %v", err)
	}
}

func TestAgent_ToolsSorted(t *testing.T) {
	a := NewAgent(&scriptedProvider{})
	for _, n := range []string{"semgrep_scan", "bandit_scan", "pip_audit_scan"} {
		a.RegisterTool(&echoTool{name: n})
	}
	var names []string
	for _, tool := range a.Tools() {
		names = append(names, tool.Name())
	}
	if strings.Join(names, ",") != "bandit_scan,pip_audit_scan,semgrep_scan" {
		t.Errorf("tools not sorted: %v", names)
	}
}

func TestAgent_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewAgent(&scriptedProvider{}).Chat(ctx, "x", nil); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
