package stream

import (
	"context"
	"fmt"
	"strings"

	"github.com/neoclaw-ai/turnrouter/internal/chat"
	"github.com/neoclaw-ai/turnrouter/internal/logging"
)

// Result summarizes one processed stream.
type Result struct {
	InputTokens  int64
	OutputTokens int64
	ToolCalls    []chat.ToolCall
	// Thinking holds the signed reasoning blocks in stream order. Reasoning
	// that never received a signature is not kept.
	Thinking []chat.ThinkingBlock
	Finish   FinishReason
	// TextComplete is true when the stream ended normally without asking for
	// tool use.
	TextComplete bool
}

// Handler receives deltas in arrival order. Nil callbacks are skipped.
type Handler struct {
	OnText     func(delta string)
	OnThinking func(delta string)
}

// Process drains src through p, forwarding deltas to h and assembling tool
// calls. A malformed chunk is logged and skipped. Cancellation returns
// ctx.Err() with whatever usage was seen so far; a provider error finish
// returns ErrProviderError. src is always closed.
func Process(ctx context.Context, src Source, p Parser, h Handler) (Result, error) {
	defer src.Close()

	var (
		res      Result
		thinking strings.Builder
	)
	acc := NewAccumulator()
	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if !src.Next() {
			if err := src.Err(); err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return res, ctxErr
				}
				return res, fmt.Errorf("read %s stream: %w", p.family, err)
			}
			break
		}
		ev := src.Current()
		if ev.Completion {
			break
		}

		chunk, err := p.Parse(ev.Content)
		if err != nil {
			logging.Logger().Warn("skipping malformed chunk", "family", p.family, "err", err, "raw", clip(ev.Content, 200))
			continue
		}
		if chunk.Empty() {
			continue
		}
		if chunk.Thinking != "" {
			thinking.WriteString(chunk.Thinking)
			if h.OnThinking != nil {
				h.OnThinking(chunk.Thinking)
			}
		}
		if chunk.Signature != "" {
			res.Thinking = append(res.Thinking, chat.ThinkingBlock{Thinking: thinking.String(), Signature: chunk.Signature})
			thinking.Reset()
		}
		if chunk.RedactedThinking != "" {
			res.Thinking = append(res.Thinking, chat.ThinkingBlock{Redacted: chunk.RedactedThinking})
		}
		if chunk.Text != "" && h.OnText != nil {
			h.OnText(chunk.Text)
		}
		for _, f := range chunk.ToolCalls {
			acc.Add(f)
		}
		if chunk.InputTokens > 0 {
			res.InputTokens = chunk.InputTokens
		}
		if chunk.OutputTokens > 0 {
			res.OutputTokens = chunk.OutputTokens
		}

		switch chunk.Finish {
		case FinishError:
			res.Finish = FinishError
			return res, fmt.Errorf("%w: %s", ErrProviderError, chunk.ErrorMessage)
		case FinishToolUse:
			res.Finish = FinishToolUse
		case FinishNormal:
			// Tool use is sticky: a trailing stop must not hide earlier calls.
			if res.Finish != FinishToolUse {
				res.Finish = FinishNormal
			}
		}
	}

	if res.Finish != FinishToolUse && acc.Len() > 0 {
		logging.Logger().Debug("tool call fragments imply tool use", "family", p.family, "finish", res.Finish)
		res.Finish = FinishToolUse
	}
	if res.Finish == FinishToolUse {
		res.ToolCalls = acc.Finalize(p.implicitCompletion)
	}
	res.TextComplete = res.Finish != FinishToolUse
	return res, nil
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
