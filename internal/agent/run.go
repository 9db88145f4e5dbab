package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/neoclaw-ai/turnrouter/internal/chat"
	"github.com/neoclaw-ai/turnrouter/internal/costs"
	"github.com/neoclaw-ai/turnrouter/internal/logging"
	"github.com/neoclaw-ai/turnrouter/internal/notify"
)

// run is the state of one response. It is owned by the goroutine calling
// Runner.Run and never shared.
type run struct {
	r         *Runner
	req       Request
	msg       chat.Message
	text      strings.Builder
	thinking  strings.Builder
	state     State
	turns     int
	lastFlush time.Time
}

func (r *Runner) newRun(req Request) *run {
	msg := chat.Message{
		ID:     req.MessageID,
		ChatID: req.ChatID,
		UserID: req.Context.UserID(),
		Role:   chat.RoleAssistant,
		Status: chat.StatusStreaming,
	}
	if m := req.Context.Model(); m != nil {
		msg.ModelID = m.ID
	}
	return &run{r: r, req: req, msg: msg, state: StateBuilding, lastFlush: r.now()}
}

func (u *run) appendText(ctx context.Context, delta string) {
	u.text.WriteString(delta)
	u.msg.Content = u.text.String()
	u.r.publish(notify.ChunkReceived, &u.msg, delta, "")
	u.flush(ctx)
}

func (u *run) appendThinking(ctx context.Context, delta string) {
	u.thinking.WriteString(delta)
	u.msg.Thinking = u.thinking.String()
	u.r.publish(notify.ThinkingChunkReceived, &u.msg, delta, "")
	u.flush(ctx)
}

// flush persists the growing message at most once per flushInterval.
func (u *run) flush(ctx context.Context) {
	now := u.r.now()
	if now.Sub(u.lastFlush) < flushInterval {
		return
	}
	u.lastFlush = now
	if err := u.r.save(ctx, &u.msg); err != nil {
		logging.Logger().Warn("persist streaming message", "message_id", u.msg.ID, "err", err)
	}
}

func (u *run) complete(ctx context.Context) (Result, error) {
	return u.finish(ctx, StateCompleted, chat.StatusCompleted, nil)
}

func (u *run) interrupt(ctx context.Context) (Result, error) {
	return u.finish(ctx, StateInterrupted, chat.StatusInterrupted, nil)
}

func (u *run) fail(ctx context.Context, cause error) (Result, error) {
	fmt.Fprintf(&u.text, "\n\n[error: %s]", cause)
	u.msg.Content = u.text.String()
	return u.finish(ctx, StateFailed, chat.StatusFailed, cause)
}

// finish moves the message to its terminal status, persists it and emits
// the single closing notification.
func (u *run) finish(ctx context.Context, state State, status chat.Status, cause error) (Result, error) {
	u.state = state
	u.msg.Content = u.text.String()
	u.msg.Thinking = u.thinking.String()
	if err := u.msg.SetStatus(status); err != nil {
		logging.Logger().Error("finalize message", "message_id", u.msg.ID, "err", err)
	}
	if err := u.r.save(ctx, &u.msg); err != nil {
		logging.Logger().Warn("persist final message", "message_id", u.msg.ID, "err", err)
	}

	if state == StateCompleted {
		u.r.publish(notify.ResponseCompleted, &u.msg, "", "")
	} else {
		errMsg := ""
		if cause != nil {
			errMsg = cause.Error()
		}
		u.r.publish(notify.ResponseStopped, &u.msg, "", errMsg)
	}

	attrs := []any{
		"message_id", u.msg.ID,
		"status", u.msg.Status,
		"turns", u.turns,
		"input_tokens", u.msg.InputTokens,
		"output_tokens", u.msg.OutputTokens,
	}
	if cause != nil {
		logging.Logger().Error("response failed", append(attrs, "err", cause)...)
	} else {
		logging.Logger().Info("response finished", attrs...)
	}

	u.recordUsage(ctx)
	return Result{Message: u.msg, State: state, Turns: u.turns}, cause
}

func (u *run) recordUsage(ctx context.Context) {
	model := u.req.Context.Model()
	if u.r.usage == nil || model == nil || u.turns == 0 {
		return
	}
	_, err := u.r.usage.Record(context.WithoutCancel(ctx), costs.Usage{
		ChatID:       u.msg.ChatID,
		MessageID:    u.msg.ID,
		Provider:     model.Provider,
		Family:       model.Family,
		Model:        model.Code,
		InputTokens:  u.msg.InputTokens,
		OutputTokens: u.msg.OutputTokens,
		Prompt:       historyText(u.req.Context),
		Completion:   u.text.String(),
	})
	if err != nil {
		logging.Logger().Warn("record usage", "message_id", u.msg.ID, "err", err)
	}
}

func historyText(rc *chat.RequestContext) string {
	var b strings.Builder
	if sp := rc.SystemPrompt(); sp != "" {
		b.WriteString(sp)
		b.WriteString("\n")
	}
	for _, t := range rc.History() {
		b.WriteString(chat.PlainText(t.Parts()))
		b.WriteString("\n")
	}
	return b.String()
}
