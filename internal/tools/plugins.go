package tools

import (
	"context"
	"net/http"
	"os"
	"sort"
	"strings"

	"github.com/neoclaw-ai/turnrouter/internal/config"
	"github.com/neoclaw-ai/turnrouter/internal/logging"
)

// NewDefaultRegistry registers the built-in plugins and every enabled MCP
// server. A server that fails to start is logged and skipped.
func NewDefaultRegistry(ctx context.Context, cfg config.PluginsConfig, client *http.Client) *Registry {
	r := NewRegistry(cfg.MaxOutputChars)
	mustRegister(r, CurrentTimeTool{})

	if strings.TrimSpace(cfg.WebSearch.APIKey) != "" {
		if client == nil {
			client = http.DefaultClient
		}
		mustRegister(r, WebSearchTool{Client: client, APIKey: cfg.WebSearch.APIKey})
	}

	for _, name := range sortedServerNames(cfg.MCP) {
		srv := cfg.MCP[name]
		if !srv.Enabled {
			continue
		}
		env := make(map[string]string, len(srv.Env))
		for k, v := range srv.Env {
			env[k] = os.ExpandEnv(v)
		}
		conn, err := DialMCP(ctx, name, srv.Binary, srv.Args, env)
		if err != nil {
			logging.Logger().Warn("skipping mcp server", "server", name, "err", err)
			continue
		}
		r.AddMCP(conn)
	}
	return r
}

// AddMCP registers every tool of conn and closes conn with the registry.
// Tools whose names collide with an existing tool are skipped.
func (r *Registry) AddMCP(conn *MCPConnection) {
	for _, tool := range conn.Tools() {
		if err := r.Register(tool); err != nil {
			logging.Logger().Warn("skipping mcp tool", "server", conn.name, "tool", tool.Name(), "err", err)
		}
	}
	r.OnClose(conn.Close)
	logging.Logger().Info("mcp server connected", "server", conn.name, "tools", len(conn.tools))
}

func mustRegister(r *Registry, tool Tool) {
	if err := r.Register(tool); err != nil {
		logging.Logger().Error("register built-in tool", "tool", tool.Name(), "err", err)
	}
}

func sortedServerNames(m map[string]config.MCPServerConfig) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
