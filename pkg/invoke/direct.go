package invoke

import (
	"context"
	"time"

	"github.com/user/gosec-mcp/pkg/registry"
)

// Caller performs one remote tool call. *mcpclient.Pool implements it.
type Caller interface {
	CallTool(ctx context.Context, b registry.Backend, tool string, args map[string]any) (string, error)
}

// DirectInvoker calls the backend tool with the templated arguments, no model involved.
type DirectInvoker struct {
	caller Caller
}

func NewDirectInvoker(c Caller) *DirectInvoker {
	return &DirectInvoker{caller: c}
}

func (d *DirectInvoker) Invoke(ctx context.Context, req Request) RawResult {
	start := time.Now()
	text, err := d.caller.CallTool(ctx, req.Backend, req.Backend.Tool, req.Args)
	return finish(ctx, req.Backend.Name, text, err, start)
}
