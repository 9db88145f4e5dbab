package stream

import (
	"slices"
	"strings"

	"github.com/neoclaw-ai/turnrouter/internal/chat"
	"github.com/neoclaw-ai/turnrouter/internal/logging"
)

// MaxArgumentBytes bounds the buffered argument JSON of one tool call.
const MaxArgumentBytes = 1 << 20 // 1 MB

type toolCallState struct {
	id       string
	name     string
	args     strings.Builder
	complete bool
}

// Accumulator assembles tool call fragments keyed by slot index. It is owned
// by a single stream and is not safe for concurrent use.
type Accumulator struct {
	states map[int]*toolCallState
	next   int
}

// NewAccumulator returns an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{states: map[int]*toolCallState{}}
}

// Len returns the number of open slots.
func (a *Accumulator) Len() int { return len(a.states) }

// Add merges one fragment. A conflicting id or name is logged and the first
// value kept; argument text is only ever appended.
func (a *Accumulator) Add(f ToolCallFragment) {
	index := f.Index
	if index == AppendSlot {
		index = a.next
	}

	st, ok := a.states[index]
	if !ok {
		// A bare completion marker for an unknown slot closes a non-tool block.
		if f.ID == "" && f.Name == "" && f.Arguments == "" {
			return
		}
		st = &toolCallState{}
		a.states[index] = st
	}
	if index >= a.next {
		a.next = index + 1
	}

	switch {
	case f.ID == "":
	case st.id == "":
		st.id = f.ID
	case st.id != f.ID:
		logging.Logger().Warn("tool call id conflict, keeping first id", "index", index, "id", st.id, "conflicting_id", f.ID)
	}
	switch {
	case f.Name == "":
	case st.name == "":
		st.name = f.Name
	case st.name != f.Name:
		logging.Logger().Warn("tool call name conflict, keeping first name", "index", index, "name", st.name, "conflicting_name", f.Name)
	}

	if f.Arguments != "" {
		if st.args.Len()+len(f.Arguments) > MaxArgumentBytes {
			logging.Logger().Warn("tool call arguments exceed limit, dropping fragment", "index", index, "buf_len", st.args.Len(), "fragment_len", len(f.Arguments))
		} else {
			st.args.WriteString(f.Arguments)
		}
	}
	if f.Complete {
		st.complete = true
	}
}

// Finalize returns the resolved calls in slot order. When implicit is set
// every slot counts as complete; otherwise incomplete slots are discarded.
// Slots missing an id or name are always discarded.
func (a *Accumulator) Finalize(implicit bool) []chat.ToolCall {
	indexes := make([]int, 0, len(a.states))
	for i := range a.states {
		indexes = append(indexes, i)
	}
	slices.Sort(indexes)

	calls := make([]chat.ToolCall, 0, len(indexes))
	for _, i := range indexes {
		st := a.states[i]
		switch {
		case st.id == "" || st.name == "":
			logging.Logger().Warn("discarding tool call without id or name", "index", i, "id", st.id, "name", st.name)
			continue
		case !st.complete && !implicit:
			logging.Logger().Warn("discarding incomplete tool call", "index", i, "id", st.id, "name", st.name)
			continue
		}
		args := st.args.String()
		if strings.TrimSpace(args) == "" {
			args = "{}"
		}
		calls = append(calls, chat.ToolCall{ID: st.id, Name: st.name, Arguments: args})
	}
	return calls
}
