// Package chat holds the provider-neutral conversation model: models, turns,
// multimodal content parts, request contexts and the response message.
package chat

import (
	"fmt"
	"strings"
)

// Family is one provider API family. The set is closed.
type Family string

const (
	FamilyOpenAI    Family = "openai"
	FamilyAnthropic Family = "anthropic"
	FamilyGemini    Family = "gemini"
	FamilyDeepSeek  Family = "deepseek"
	FamilyImage     Family = "image"
)

// Families returns every supported family in a stable order.
func Families() []Family {
	return []Family{FamilyOpenAI, FamilyAnthropic, FamilyGemini, FamilyDeepSeek, FamilyImage}
}

// ParseFamily validates a configured family name.
func ParseFamily(name string) (Family, error) {
	f := Family(strings.ToLower(strings.TrimSpace(name)))
	for _, known := range Families() {
		if f == known {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown provider family %q", name)
}

// Model is one entry of the model catalog.
type Model struct {
	// ID is the catalog identifier users select.
	ID string
	// Code is the identifier sent to the provider.
	Code string
	// Provider names the configured provider credentials to use.
	Provider         string
	Family           Family
	SupportsThinking bool
	SupportsVision   bool
	SupportsTools    bool
	MaxOutputTokens  int64
}

// Role identifies the author of a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	// RoleTool carries the result of one tool call back to the model.
	RoleTool Role = "tool"
)

// Turn is one role-tagged conversational entry.
type Turn struct {
	Role    Role
	Content string
	// Attachments are ImagePart or FilePart values sent alongside Content.
	Attachments []ContentPart
	// ToolCalls is set on assistant turns that requested tools.
	ToolCalls []ToolCall
	// Thinking holds signed reasoning blocks that must be replayed ahead of
	// ToolCalls on the next sub-turn.
	Thinking []ThinkingBlock
	// ToolResult is set on RoleTool turns.
	ToolResult *ToolResult
}

// ThinkingBlock is one reasoning block as the provider signed it. Redacted
// blocks carry only their opaque Redacted data.
type ThinkingBlock struct {
	Thinking  string
	Signature string
	Redacted  string
}

// Parts returns the turn content split into content parts, followed by
// the explicit attachments.
func (t Turn) Parts() []ContentPart {
	parts := ParseContent(t.Content)
	return append(parts, t.Attachments...)
}

// AgentOverride is the active agent profile for a request.
type AgentOverride struct {
	Name         string
	SystemPrompt string
	// Parameters are only applied when UseCustomParameters is set.
	Parameters          map[string]any
	UseCustomParameters bool
	Thinking            *bool
}

// UserSettings are the requesting user's default generation settings.
type UserSettings struct {
	Parameters map[string]any
	Thinking   *bool
}
