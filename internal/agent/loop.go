package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/neoclaw-ai/turnrouter/internal/chat"
	"github.com/neoclaw-ai/turnrouter/internal/costs"
	"github.com/neoclaw-ai/turnrouter/internal/logging"
	"github.com/neoclaw-ai/turnrouter/internal/notify"
	"github.com/neoclaw-ai/turnrouter/internal/payload"
	"github.com/neoclaw-ai/turnrouter/internal/stream"
	"github.com/neoclaw-ai/turnrouter/internal/tools"
	"github.com/neoclaw-ai/turnrouter/internal/transport"
)

// MaxTurns bounds the sub-turns of one response.
const MaxTurns = 5

// flushInterval throttles message store writes while streaming.
const flushInterval = 250 * time.Millisecond

// State is the position of one response in the turn loop.
type State int

const (
	StateBuilding State = iota
	StateStreaming
	StateExecutingTools
	StateCompleted
	StateInterrupted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateBuilding:
		return "building"
	case StateStreaming:
		return "streaming"
	case StateExecutingTools:
		return "executing_tools"
	case StateCompleted:
		return "completed"
	case StateInterrupted:
		return "interrupted"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Transports resolves the transport for a provider name.
type Transports interface {
	For(provider string) (transport.Transport, error)
}

// MessageStore persists the growing response message.
type MessageStore interface {
	Update(ctx context.Context, msg *chat.Message) error
}

// UsageRecorder accounts for a finished response.
type UsageRecorder interface {
	Record(ctx context.Context, u costs.Usage) (costs.Record, error)
}

// Runner drives the build, stream and tool execution cycle for responses.
// One Runner serves any number of concurrent responses; all per-response
// state lives in the Run call.
type Runner struct {
	builder    *payload.Builder
	transports Transports
	executor   tools.Executor
	store      MessageStore
	sink       notify.Sink
	usage      UsageRecorder
	maxTurns   int
	now        func() time.Time
}

// RunnerOption customizes a Runner.
type RunnerOption func(*Runner)

// WithUsage records usage for every finished response.
func WithUsage(u UsageRecorder) RunnerOption {
	return func(r *Runner) { r.usage = u }
}

// WithMaxTurns overrides MaxTurns.
func WithMaxTurns(n int) RunnerOption {
	return func(r *Runner) {
		if n > 0 {
			r.maxTurns = n
		}
	}
}

// NewRunner creates a Runner. executor, store and sink may be nil.
func NewRunner(builder *payload.Builder, transports Transports, executor tools.Executor, store MessageStore, sink notify.Sink, opts ...RunnerOption) *Runner {
	if sink == nil {
		sink = notify.Discard
	}
	r := &Runner{
		builder:    builder,
		transports: transports,
		executor:   executor,
		store:      store,
		sink:       sink,
		maxTurns:   MaxTurns,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Request is one response generation.
type Request struct {
	MessageID string
	ChatID    string
	Context   *chat.RequestContext
	// Tools restricts offered plugins by name. Empty offers every plugin.
	Tools []string
}

// Result is the final state of a response.
type Result struct {
	Message chat.Message
	State   State
	Turns   int
}

// Run generates one response. The returned error is non-nil only when the
// response Failed; cancellation ends in StateInterrupted with a nil error.
func (r *Runner) Run(ctx context.Context, req Request) (Result, error) {
	if req.Context == nil {
		return Result{}, payload.ErrMissingModel
	}
	run := r.newRun(req)
	if err := r.save(ctx, &run.msg); err != nil {
		return Result{}, fmt.Errorf("create message: %w", err)
	}
	logging.Logger().Info("response started", "message_id", req.MessageID, "chat_id", req.ChatID, "model", run.msg.ModelID)

	model := req.Context.Model()
	if model == nil {
		return run.fail(ctx, payload.ErrMissingModel)
	}
	parser, err := stream.ParserFor(model.Family)
	if err != nil {
		return run.fail(ctx, err)
	}
	defs, err := r.definitions(ctx, model, req.Tools)
	if err != nil {
		return run.fail(ctx, fmt.Errorf("list plugins: %w", err))
	}

	rc := req.Context
	for turn := 1; ; turn++ {
		run.turns = turn
		run.state = StateBuilding
		p, err := r.builder.Build(rc, defs)
		if err != nil {
			return run.fail(ctx, fmt.Errorf("build payload: %w", err))
		}
		tr, err := r.transports.For(model.Provider)
		if err != nil {
			return run.fail(ctx, err)
		}
		if ctx.Err() != nil {
			return run.interrupt(ctx)
		}

		run.state = StateStreaming
		logging.Logger().Info(
			"llm request",
			"message_id", req.MessageID,
			"turn", turn,
			"family", model.Family,
			"history", len(rc.History()),
			"tool_count", len(defs),
		)
		src, err := tr.Send(ctx, p)
		if err != nil {
			if ctx.Err() != nil {
				return run.interrupt(ctx)
			}
			return run.fail(ctx, err)
		}

		var subText strings.Builder
		res, err := stream.Process(ctx, src, parser, stream.Handler{
			OnText: func(delta string) {
				subText.WriteString(delta)
				run.appendText(ctx, delta)
			},
			OnThinking: func(delta string) {
				run.appendThinking(ctx, delta)
			},
		})
		run.msg.InputTokens += res.InputTokens
		run.msg.OutputTokens += res.OutputTokens
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return run.interrupt(ctx)
			}
			return run.fail(ctx, err)
		}
		logging.Logger().Info(
			"llm response",
			"message_id", req.MessageID,
			"turn", turn,
			"finish", res.Finish,
			"tool_call_count", len(res.ToolCalls),
			"input_tokens", res.InputTokens,
			"output_tokens", res.OutputTokens,
		)

		// A tool-use finish whose calls were all discarded has nothing to run.
		if len(res.ToolCalls) == 0 {
			return run.complete(ctx)
		}
		run.msg.ToolCalls = append(run.msg.ToolCalls, res.ToolCalls...)
		if turn >= r.maxTurns {
			logging.Logger().Warn("turn limit reached with pending tool calls", "message_id", req.MessageID, "turns", turn, "pending", len(res.ToolCalls))
			return run.complete(ctx)
		}

		run.state = StateExecutingTools
		next := make([]chat.Turn, 0, len(res.ToolCalls)+1)
		next = append(next, chat.Turn{Role: chat.RoleAssistant, Content: subText.String(), ToolCalls: res.ToolCalls, Thinking: res.Thinking})
		for _, call := range res.ToolCalls {
			if ctx.Err() != nil {
				return run.interrupt(ctx)
			}
			next = append(next, r.executeTool(ctx, defs, call))
		}
		if ctx.Err() != nil {
			return run.interrupt(ctx)
		}
		rc = rc.WithTurns(next...)
	}
}

func (r *Runner) definitions(ctx context.Context, model *chat.Model, allow []string) ([]chat.ToolDefinition, error) {
	if r.executor == nil || !model.SupportsTools {
		return nil, nil
	}
	defs, err := r.executor.ListDefinitions(ctx)
	if err != nil {
		return nil, err
	}
	if len(allow) == 0 {
		return defs, nil
	}
	out := defs[:0:0]
	for _, d := range defs {
		for _, name := range allow {
			if strings.EqualFold(d.Name, name) {
				out = append(out, d)
				break
			}
		}
	}
	return out, nil
}

// executeTool runs one call and returns its result turn. Failures become
// error results so the model can react to them on the next turn.
func (r *Runner) executeTool(ctx context.Context, defs []chat.ToolDefinition, call chat.ToolCall) chat.Turn {
	result := func(content string, isError bool) chat.Turn {
		return chat.Turn{
			Role:       chat.RoleTool,
			ToolResult: &chat.ToolResult{CallID: call.ID, Name: call.Name, Content: content, IsError: isError},
		}
	}
	notFound := func() chat.Turn {
		logging.Logger().Warn("tool call rejected: unknown tool", "tool", call.Name, "tool_call_id", call.ID, "available_tools", toolNames(defs))
		return result(fmt.Sprintf("tool execution error: tool %q not found. Available tools: %s", call.Name, toolNames(defs)), true)
	}

	def, ok := findTool(defs, call.Name)
	if !ok {
		return notFound()
	}

	var args map[string]any
	if strings.TrimSpace(call.Arguments) != "" {
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			logging.Logger().Warn("tool call rejected: invalid arguments", "tool", call.Name, "tool_call_id", call.ID, "arguments", summarizeText(call.Arguments, 200), "err", err)
			return result(fmt.Sprintf("tool execution error: invalid arguments for tool %q: %v", call.Name, err), true)
		}
	}

	started := r.now()
	logging.Logger().Info("tool call start", "tool", def.Name, "tool_call_id", call.ID, "args", summarizeToolArgs(args))
	res, err := r.executor.Execute(ctx, def.ID, args)
	switch {
	case errors.Is(err, tools.ErrPluginNotFound):
		return notFound()
	case err != nil:
		logging.Logger().Warn("tool call failed", "tool", def.Name, "tool_call_id", call.ID, "err", err)
		return result(fmt.Sprintf("tool execution error: %v", err), true)
	case !res.Success:
		logging.Logger().Warn("tool call failed", "tool", def.Name, "tool_call_id", call.ID, "err", res.ErrorMessage)
		return result(fmt.Sprintf("tool execution error: %s", res.ErrorMessage), true)
	}
	logging.Logger().Info("tool call complete", "tool", def.Name, "tool_call_id", call.ID, "duration_ms", r.now().Sub(started).Milliseconds())
	return result(res.Result, false)
}

func (r *Runner) save(ctx context.Context, msg *chat.Message) error {
	if r.store == nil {
		return nil
	}
	return r.store.Update(context.WithoutCancel(ctx), msg)
}

func (r *Runner) publish(kind notify.Kind, msg *chat.Message, delta, errMsg string) {
	r.sink.Publish(notify.Event{
		Kind:      kind,
		ChatID:    msg.ChatID,
		MessageID: msg.ID,
		Delta:     delta,
		Status:    string(msg.Status),
		Error:     errMsg,
		At:        r.now(),
	})
}

func findTool(defs []chat.ToolDefinition, name string) (chat.ToolDefinition, bool) {
	for _, d := range defs {
		if strings.EqualFold(d.Name, strings.TrimSpace(name)) {
			return d, true
		}
	}
	return chat.ToolDefinition{}, false
}

func toolNames(defs []chat.ToolDefinition) string {
	if len(defs) == 0 {
		return "<none>"
	}
	names := make([]string, 0, len(defs))
	for _, d := range defs {
		names = append(names, d.Name)
	}
	return strings.Join(names, ", ")
}

func summarizeToolArgs(args map[string]any) map[string]any {
	out := make(map[string]any, len(args))
	for key, value := range args {
		if s, ok := value.(string); ok {
			out[key] = summarizeText(s, 200)
			continue
		}
		out[key] = value
	}
	return out
}

func summarizeText(text string, maxLen int) string {
	if maxLen <= 0 || len(text) <= maxLen {
		return text
	}
	return fmt.Sprintf("%s...[truncated %d chars]", text[:maxLen], len(text)-maxLen)
}
