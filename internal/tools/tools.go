// Package tools defines the plugin execution contract used by the agent loop
// and an in-process Registry that implements it.
package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/neoclaw-ai/turnrouter/internal/chat"
	"github.com/neoclaw-ai/turnrouter/internal/logging"
)

// DefaultMaxOutputChars bounds plugin output when no limit is configured.
const DefaultMaxOutputChars = 12000

// ErrPluginNotFound is returned when no plugin matches the requested id.
var ErrPluginNotFound = errors.New("plugin not found")

// Result is the outcome of one plugin execution.
type Result struct {
	Success      bool
	Result       string
	ErrorMessage string
}

// Executor lists and runs plugins.
type Executor interface {
	ListDefinitions(ctx context.Context) ([]chat.ToolDefinition, error)
	Execute(ctx context.Context, pluginID string, args map[string]any) (Result, error)
}

// Tool is one executable capability exposed to models.
type Tool interface {
	Name() string
	Description() string
	Schema() map[string]any
	Execute(ctx context.Context, args map[string]any) (*ToolResult, error)
}

// ToolResult is the normalized output returned by tools.
type ToolResult struct {
	Output    string
	Truncated bool
}

// TruncateOutput clips output to at most limit bytes, never splitting a
// UTF-8 sequence, and marks the result.
func TruncateOutput(output string, limit int) *ToolResult {
	if limit <= 0 {
		limit = DefaultMaxOutputChars
	}
	if len(output) <= limit {
		return &ToolResult{Output: output}
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(output[cut]) {
		cut--
	}
	clipped := fmt.Sprintf("%s\n[output truncated: showing %d of %d characters]", output[:cut], cut, len(output))
	return &ToolResult{Output: clipped, Truncated: true}
}

// Registry stores tools by case-insensitive name and runs them. It is safe
// for concurrent use once populated.
type Registry struct {
	maxOutputChars int

	mu      sync.RWMutex
	byName  map[string]Tool
	closers []func() error
}

// NewRegistry creates an empty registry. maxOutputChars <= 0 selects
// DefaultMaxOutputChars.
func NewRegistry(maxOutputChars int) *Registry {
	return &Registry{maxOutputChars: maxOutputChars, byName: make(map[string]Tool)}
}

// Register adds a tool. Names must be unique ignoring case.
func (r *Registry) Register(tool Tool) error {
	if tool == nil {
		return errors.New("tool cannot be nil")
	}
	name := strings.TrimSpace(tool.Name())
	if name == "" {
		return errors.New("tool name cannot be empty")
	}
	key := strings.ToLower(name)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byName[key]; exists {
		return fmt.Errorf("tool %s already registered", name)
	}
	r.byName[key] = tool
	return nil
}

// Lookup returns a tool by name, ignoring case.
func (r *Registry) Lookup(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.byName[strings.ToLower(strings.TrimSpace(name))]
	return tool, ok
}

// Tools returns all registered tools in stable name order.
func (r *Registry) Tools() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.byName))
	for name := range r.byName {
		keys = append(keys, name)
	}
	sort.Strings(keys)

	out := make([]Tool, 0, len(keys))
	for _, name := range keys {
		out = append(out, r.byName[name])
	}
	return out
}

// ListDefinitions converts registered tools into tool definitions. A tool's
// plugin id is its name.
func (r *Registry) ListDefinitions(context.Context) ([]chat.ToolDefinition, error) {
	tools := r.Tools()
	defs := make([]chat.ToolDefinition, 0, len(tools))
	for _, tool := range tools {
		defs = append(defs, chat.ToolDefinition{
			ID:          tool.Name(),
			Name:        tool.Name(),
			Description: tool.Description(),
			Parameters:  tool.Schema(),
		})
	}
	return defs, nil
}

// Execute runs the plugin named by pluginID. A failing tool yields an
// unsuccessful Result, not an error; the error return is reserved for an
// unknown plugin.
func (r *Registry) Execute(ctx context.Context, pluginID string, args map[string]any) (Result, error) {
	tool, ok := r.Lookup(pluginID)
	if !ok {
		return Result{}, fmt.Errorf("%w: %q", ErrPluginNotFound, pluginID)
	}
	if args == nil {
		args = map[string]any{}
	}

	res, err := tool.Execute(ctx, args)
	if err != nil {
		logging.Logger().Warn("tool execution failed", "tool", tool.Name(), "err", err)
		return Result{ErrorMessage: err.Error()}, nil
	}
	if res == nil {
		res = &ToolResult{}
	}
	out := TruncateOutput(res.Output, r.maxOutputChars)
	if out.Truncated {
		logging.Logger().Debug("tool output truncated", "tool", tool.Name(), "len", len(res.Output))
	}
	return Result{Success: true, Result: out.Output}, nil
}

// OnClose registers a cleanup run by Close, in reverse order.
func (r *Registry) OnClose(fn func() error) {
	r.mu.Lock()
	r.closers = append(r.closers, fn)
	r.mu.Unlock()
}

// Close releases resources held by registered tools.
func (r *Registry) Close() error {
	r.mu.Lock()
	closers := r.closers
	r.closers = nil
	r.mu.Unlock()

	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func stringArg(args map[string]any, key string) (string, error) {
	raw, ok := args[key]
	if !ok {
		return "", fmt.Errorf("missing required argument %q", key)
	}
	value, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("argument %q must be a string", key)
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("argument %q cannot be empty", key)
	}
	return value, nil
}
