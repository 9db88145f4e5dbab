package chat

import (
	"errors"
	"fmt"
	"time"
)

// ErrStatusRegression is returned when a terminal message would change status.
var ErrStatusRegression = errors.New("message status is terminal")

// Status is the lifecycle state of a response message.
type Status string

const (
	StatusStreaming   Status = "streaming"
	StatusCompleted   Status = "completed"
	StatusInterrupted Status = "interrupted"
	StatusFailed      Status = "failed"
)

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusInterrupted || s == StatusFailed
}

// Message is the externally observable assistant response.
type Message struct {
	ID           string
	ChatID       string
	UserID       string
	Role         Role
	ModelID      string
	Content      string
	Thinking     string
	Status       Status
	ToolCalls    []ToolCall
	InputTokens  int64
	OutputTokens int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// SetStatus moves the message to next. Once terminal, only a repeat of the
// same status is accepted.
func (m *Message) SetStatus(next Status) error {
	if m.Status.Terminal() && next != m.Status {
		return fmt.Errorf("%w: %s -> %s", ErrStatusRegression, m.Status, next)
	}
	m.Status = next
	return nil
}

// ToolDefinition describes one plugin the model may call.
type ToolDefinition struct {
	ID          string
	Name        string
	Description string
	Parameters  map[string]any
}

// ToolCall is a complete, executable tool invocation requested by the model.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// ToolResult is the outcome of one tool call, fed back to the model.
type ToolResult struct {
	CallID  string
	Name    string
	Content string
	IsError bool
}
