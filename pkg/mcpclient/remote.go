package mcpclient

import (
	"context"
	"encoding/json"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/user/gosec-mcp/pkg/registry"
)

// RemoteTool exposes one backend tool to an adk.Agent.
type RemoteTool struct {
	pool    *Pool
	backend registry.Backend
	tool    *sdkmcp.Tool
}

func (t *RemoteTool) Name() string        { return t.tool.Name }
func (t *RemoteTool) Description() string { return t.tool.Description }

// Backend is the backend the tool belongs to.
func (t *RemoteTool) Backend() string { return t.backend.Name }

// Schema returns the advertised input schema as a plain map.
func (t *RemoteTool) Schema() map[string]interface{} {
	if t.tool.InputSchema == nil {
		return nil
	}
	data, err := json.Marshal(t.tool.InputSchema)
	if err != nil {
		return nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil
	}
	return m
}

func (t *RemoteTool) Execute(ctx context.Context, args map[string]interface{}, progress func(string)) (string, error) {
	if progress != nil {
		progress("calling " + t.backend.Name + "/" + t.tool.Name)
	}
	return t.pool.CallTool(ctx, t.backend, t.tool.Name, args)
}
