// Package stream turns provider streaming events into normalized chunks and
// assembles fragmented tool calls.
package stream

import (
	"errors"
	"fmt"
	"strings"

	"github.com/neoclaw-ai/turnrouter/internal/chat"
)

// ErrProviderError is returned when a provider ends a stream with an error.
var ErrProviderError = errors.New("provider returned an error")

var errMalformed = errors.New("malformed chunk json")

// RawEvent is one event as delivered by a transport. Completion marks the end
// of stream sentinel; its Content is never parsed.
type RawEvent struct {
	Content    string
	Completion bool
}

// Source is an iterator over raw events. Next blocks until an event is
// available, the stream ends or the transport fails.
type Source interface {
	Next() bool
	Current() RawEvent
	Err() error
	Close() error
}

// FinishReason is the normalized reason a provider stopped generating.
type FinishReason int

const (
	FinishNone FinishReason = iota
	FinishNormal
	FinishToolUse
	FinishError
)

func (r FinishReason) String() string {
	switch r {
	case FinishNormal:
		return "normal"
	case FinishToolUse:
		return "tool_use"
	case FinishError:
		return "error"
	}
	return "none"
}

// AppendSlot asks the accumulator to open the next free slot for a fragment.
// Providers that deliver whole calls without an index use it.
const AppendSlot = -1

// ToolCallFragment is one piece of a tool call. Fragments for the same Index
// belong to the same call within one assistant turn.
type ToolCallFragment struct {
	Index     int
	ID        string
	Name      string
	Arguments string
	Complete  bool
}

// Chunk is the normalized content of one raw event. The zero value is a
// valid chunk carrying nothing.
type Chunk struct {
	Text     string
	Thinking string
	// Signature closes the current thinking block.
	Signature string
	// RedactedThinking is the opaque data of a redacted thinking block.
	RedactedThinking string
	ToolCalls        []ToolCallFragment
	InputTokens      int64
	OutputTokens     int64
	Finish           FinishReason
	// ErrorMessage is set with FinishError.
	ErrorMessage string
}

// Empty reports whether c carries no content.
func (c Chunk) Empty() bool {
	return c.Text == "" && c.Thinking == "" && c.Signature == "" && c.RedactedThinking == "" &&
		len(c.ToolCalls) == 0 && c.InputTokens == 0 && c.OutputTokens == 0 && c.Finish == FinishNone
}

// Parser decodes raw events for one provider family.
type Parser struct {
	family chat.Family
	parse  func(raw []byte) (Chunk, error)
	// implicitCompletion means every fragment is complete once the stream
	// finishes with a tool-use reason, even without an explicit marker.
	implicitCompletion bool
}

// Family returns the family p decodes.
func (p Parser) Family() chat.Family { return p.family }

// Parse decodes one raw event. Heartbeats and unknown event types yield an
// empty chunk; only malformed JSON is an error.
func (p Parser) Parse(raw string) (Chunk, error) {
	if isHeartbeat(raw) {
		return Chunk{}, nil
	}
	return p.parse([]byte(raw))
}

// ParserFor returns the parser for family.
func ParserFor(family chat.Family) (Parser, error) {
	switch family {
	case chat.FamilyOpenAI:
		return Parser{family: family, parse: parseOpenAI, implicitCompletion: true}, nil
	case chat.FamilyDeepSeek:
		return Parser{family: family, parse: parseDeepSeek, implicitCompletion: true}, nil
	case chat.FamilyAnthropic:
		return Parser{family: family, parse: parseAnthropic}, nil
	case chat.FamilyGemini:
		return Parser{family: family, parse: parseGemini, implicitCompletion: true}, nil
	case chat.FamilyImage:
		return Parser{family: family, parse: parseImage}, nil
	}
	return Parser{}, fmt.Errorf("no stream parser for family %q", family)
}

func isHeartbeat(raw string) bool {
	s := strings.TrimSpace(raw)
	return s == "" || s == "[DONE]" || strings.HasPrefix(s, ":")
}

// sliceSource replays a fixed list of events.
type sliceSource struct {
	events []RawEvent
	pos    int
}

// NewSliceSource returns a Source over events, for transports that receive a
// whole response at once.
func NewSliceSource(events ...RawEvent) Source {
	return &sliceSource{events: events, pos: -1}
}

func (s *sliceSource) Next() bool {
	if s.pos+1 >= len(s.events) {
		return false
	}
	s.pos++
	return true
}

func (s *sliceSource) Current() RawEvent {
	if s.pos < 0 || s.pos >= len(s.events) {
		return RawEvent{}
	}
	return s.events[s.pos]
}

func (s *sliceSource) Err() error   { return nil }
func (s *sliceSource) Close() error { return nil }
