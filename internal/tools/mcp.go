package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
)

const mcpClientName = "turnrouter"

// MCPConnection wraps an initialized mcp-go client for one tool server.
type MCPConnection struct {
	name   string
	client *client.Client
	tools  []mcp.Tool
}

// DialMCP launches an MCP server subprocess over stdio and initializes it.
func DialMCP(ctx context.Context, name, binary string, args []string, env map[string]string) (*MCPConnection, error) {
	c, err := client.NewStdioMCPClient(binary, envList(env), args...)
	if err != nil {
		return nil, fmt.Errorf("starting MCP server %s (%s): %w", name, binary, err)
	}
	return NewMCPConnection(ctx, name, c)
}

// NewMCPConnection initializes a started client and discovers its tools.
// The client is closed on failure.
func NewMCPConnection(ctx context.Context, name string, c *client.Client) (*MCPConnection, error) {
	_, err := c.Initialize(ctx, mcp.InitializeRequest{
		Params: mcp.InitializeParams{
			ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
			ClientInfo: mcp.Implementation{
				Name:    mcpClientName,
				Version: "0.1.0",
			},
		},
	})
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("initializing MCP server %s: %w", name, err)
	}

	result, err := c.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("listing tools from %s: %w", name, err)
	}
	return &MCPConnection{name: name, client: c, tools: result.Tools}, nil
}

// Tools returns one Tool per server tool.
func (mc *MCPConnection) Tools() []Tool {
	out := make([]Tool, 0, len(mc.tools))
	for _, t := range mc.tools {
		out = append(out, mcpTool{conn: mc, tool: t})
	}
	return out
}

// CallTool invokes a tool on this MCP server and returns its text content.
func (mc *MCPConnection) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	result, err := mc.client.CallTool(ctx, mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	})
	if err != nil {
		return "", fmt.Errorf("calling tool %s on %s: %w", name, mc.name, err)
	}

	var parts []string
	for _, c := range result.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	text := strings.Join(parts, "\n")
	if result.IsError {
		if text == "" {
			text = "tool reported an error"
		}
		return "", errors.New(text)
	}
	return text, nil
}

// Close shuts down the MCP server.
func (mc *MCPConnection) Close() error {
	return mc.client.Close()
}

type mcpTool struct {
	conn *MCPConnection
	tool mcp.Tool
}

func (t mcpTool) Name() string        { return t.tool.Name }
func (t mcpTool) Description() string { return t.tool.Description }

func (t mcpTool) Schema() map[string]any {
	schema := map[string]any{"type": t.tool.InputSchema.Type}
	if schema["type"] == "" {
		schema["type"] = "object"
	}
	if t.tool.InputSchema.Properties != nil {
		schema["properties"] = t.tool.InputSchema.Properties
	}
	if len(t.tool.InputSchema.Required) > 0 {
		schema["required"] = t.tool.InputSchema.Required
	}
	return schema
}

func (t mcpTool) Execute(ctx context.Context, args map[string]any) (*ToolResult, error) {
	text, err := t.conn.CallTool(ctx, t.tool.Name, args)
	if err != nil {
		return nil, err
	}
	return &ToolResult{Output: text}, nil
}

func envList(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}
