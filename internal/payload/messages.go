package payload

import (
	"slices"

	"github.com/neoclaw-ai/turnrouter/internal/chat"
	"github.com/neoclaw-ai/turnrouter/internal/logging"
)

// message is the uniform provider message every builder renders from.
type message struct {
	role    chat.Role
	parts   []chat.ContentPart
	calls   []chat.ToolCall
	results []chat.ToolResult
	// thinking is replayed only by families that sign reasoning.
	thinking []chat.ThinkingBlock
}

func (m message) empty() bool {
	return len(m.parts) == 0 && len(m.calls) == 0 && len(m.results) == 0
}

const (
	wireUser      = "user"
	wireAssistant = "assistant"
	wireTool      = "tool"

	placeholderUserText = "(continuing the conversation)"
)

// alternation describes a family's turn-ordering rules.
type alternation struct {
	required bool
	// toolRole is the wire role tool results are sent under.
	toolRole string
	// groupResults lets tool results share a wire turn with user content.
	groupResults bool
}

func (a alternation) wireRole(r chat.Role) string {
	switch r {
	case chat.RoleAssistant:
		return wireAssistant
	case chat.RoleTool:
		return a.toolRole
	}
	return wireUser
}

// normalize converts history into uniform messages: flatten, drop orphaned
// tool turns, merge consecutive same-role turns and, when the family requires
// it, repair role alternation.
func normalize(history []chat.Turn, alt alternation) []message {
	msgs := mergeSameRole(sanitizeToolTurns(flatten(history)))
	if alt.required {
		msgs = enforceAlternation(msgs, alt)
	}
	return msgs
}

func flatten(history []chat.Turn) []message {
	out := make([]message, 0, len(history))
	for i, turn := range history {
		var m message
		switch turn.Role {
		case chat.RoleUser, chat.RoleAssistant:
			m = message{role: turn.Role, parts: chat.ParseParts(turn.Parts())}
			if turn.Role == chat.RoleAssistant {
				m.calls = slices.Clone(turn.ToolCalls)
				m.thinking = slices.Clone(turn.Thinking)
			}
		case chat.RoleTool:
			if turn.ToolResult == nil {
				logging.Logger().Warn("dropping tool turn without result", "index", i)
				continue
			}
			m = message{role: chat.RoleTool, results: []chat.ToolResult{*turn.ToolResult}}
		default:
			logging.Logger().Warn("dropping turn with unknown role", "index", i, "role", turn.Role)
			continue
		}
		if m.empty() {
			continue
		}
		out = append(out, m)
	}
	return out
}

// sanitizeToolTurns keeps only tool calls that have results immediately
// after them and results that answer a call in the preceding assistant turn.
func sanitizeToolTurns(msgs []message) []message {
	out := make([]message, 0, len(msgs))
	for i := 0; i < len(msgs); i++ {
		msg := msgs[i]

		if msg.role == chat.RoleTool {
			logging.Logger().Warn("dropping orphaned tool result", "call_id", msg.results[0].CallID, "tool", msg.results[0].Name)
			continue
		}
		if msg.role != chat.RoleAssistant || len(msg.calls) == 0 {
			out = append(out, msg)
			continue
		}

		j := i + 1
		for j < len(msgs) && msgs[j].role == chat.RoleTool {
			j++
		}

		answered := make(map[string]bool, j-i-1)
		for k := i + 1; k < j; k++ {
			answered[msgs[k].results[0].CallID] = true
		}
		calls := make([]chat.ToolCall, 0, len(msg.calls))
		valid := make(map[string]bool, len(msg.calls))
		for _, call := range msg.calls {
			if !answered[call.ID] {
				logging.Logger().Warn("dropping tool call without result", "call_id", call.ID, "tool", call.Name)
				continue
			}
			calls = append(calls, call)
			valid[call.ID] = true
		}
		assistant := msg
		assistant.calls = calls
		if !assistant.empty() {
			out = append(out, assistant)
		}
		for k := i + 1; k < j; k++ {
			if !valid[msgs[k].results[0].CallID] {
				logging.Logger().Warn("dropping orphaned tool result", "call_id", msgs[k].results[0].CallID)
				continue
			}
			out = append(out, msgs[k])
		}
		i = j - 1
	}
	return out
}

// mergeSameRole joins consecutive user or assistant turns, separating their
// text with a blank line. Tool results are never merged here.
func mergeSameRole(msgs []message) []message {
	out := make([]message, 0, len(msgs))
	for _, m := range msgs {
		if n := len(out); n > 0 && m.role != chat.RoleTool && out[n-1].role == m.role && len(out[n-1].calls) == 0 {
			out[n-1] = merge(out[n-1], m)
			continue
		}
		out = append(out, m)
	}
	return out
}

// enforceAlternation makes the wire roles strictly alternate starting with
// user. A leading model turn gets a placeholder user turn before it, adjacent
// model turns are merged, tool results are grouped with the user-side turn
// next to them when the family allows it. Any other adjacent pair is logged
// and the later turn dropped.
func enforceAlternation(msgs []message, alt alternation) []message {
	out := make([]message, 0, len(msgs)+1)
	for i, m := range msgs {
		if len(out) == 0 {
			if alt.wireRole(m.role) == wireAssistant {
				logging.Logger().Info("injecting placeholder user turn before leading assistant turn")
				out = append(out, message{role: chat.RoleUser, parts: []chat.ContentPart{chat.TextPart{Text: placeholderUserText}}})
			}
			out = append(out, m)
			continue
		}

		prev := &out[len(out)-1]
		role := alt.wireRole(m.role)
		if alt.wireRole(prev.role) != role || role == wireTool {
			out = append(out, m)
			continue
		}

		switch {
		case prev.role == chat.RoleAssistant && m.role == chat.RoleAssistant:
			logging.Logger().Info("merging adjacent assistant turns", "index", i)
			*prev = merge(*prev, m)
		case alt.groupResults && (len(prev.results) > 0 || len(m.results) > 0):
			*prev = merge(*prev, m)
		default:
			logging.Logger().Warn("dropping turn that breaks role alternation",
				"index", i, "role", m.role, "previous_role", prev.role)
		}
	}
	return out
}

func merge(a, b message) message {
	out := a
	out.parts = joinParts(a.parts, b.parts)
	out.calls = append(slices.Clone(a.calls), b.calls...)
	out.results = append(slices.Clone(a.results), b.results...)
	out.thinking = append(slices.Clone(a.thinking), b.thinking...)
	return out
}

func joinParts(a, b []chat.ContentPart) []chat.ContentPart {
	out := slices.Clone(a)
	if len(out) > 0 && len(b) > 0 {
		last, lok := out[len(out)-1].(chat.TextPart)
		first, fok := b[0].(chat.TextPart)
		if lok && fok {
			out[len(out)-1] = chat.TextPart{Text: last.Text + "\n\n" + first.Text}
			return append(out, b[1:]...)
		}
	}
	return append(out, b...)
}
