// Package payload builds provider request payloads from a request context.
//
// Every builder flattens history into a uniform message list, merges
// consecutive same-role turns, repairs role alternation where the family
// requires it and then renders the provider's native request type.
package payload

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/neoclaw-ai/turnrouter/internal/chat"
	"github.com/neoclaw-ai/turnrouter/internal/params"
	"github.com/openai/openai-go"
)

var (
	// ErrPrecondition marks a context that cannot form a legal request.
	ErrPrecondition = errors.New("invalid request context")
	// ErrMissingModel is returned when no target model is set.
	ErrMissingModel = fmt.Errorf("%w: model is required", ErrPrecondition)
	// ErrMissingHistory is returned when the history is empty.
	ErrMissingHistory = fmt.Errorf("%w: history is required", ErrPrecondition)
	// ErrNoPrompt is returned when an image request has no user prompt text.
	ErrNoPrompt = fmt.Errorf("%w: no user prompt text in history", ErrPrecondition)
)

// Payload is a provider-shaped request. The set of implementations is closed.
type Payload interface {
	Family() chat.Family
	json.Marshaler
	isPayload()
}

// OpenAIPayload is a GPT-style chat completion request.
type OpenAIPayload struct {
	Params openai.ChatCompletionNewParams
}

// AnthropicPayload is a Claude-style messages request.
type AnthropicPayload struct {
	Params anthropic.MessageNewParams
}

// GeminiPayload is a generateContent request body addressed to Model.
type GeminiPayload struct {
	Model string
	Body  []byte
}

// DeepSeekPayload is an OpenAI-compatible request for DeepSeek models.
type DeepSeekPayload struct {
	Params openai.ChatCompletionNewParams
}

// ImagePayload is an image generation request.
type ImagePayload struct {
	Params openai.ImageGenerateParams
}

func (*OpenAIPayload) Family() chat.Family    { return chat.FamilyOpenAI }
func (*AnthropicPayload) Family() chat.Family { return chat.FamilyAnthropic }
func (*GeminiPayload) Family() chat.Family    { return chat.FamilyGemini }
func (*DeepSeekPayload) Family() chat.Family  { return chat.FamilyDeepSeek }
func (*ImagePayload) Family() chat.Family     { return chat.FamilyImage }

func (p *OpenAIPayload) MarshalJSON() ([]byte, error)    { return json.Marshal(p.Params) }
func (p *AnthropicPayload) MarshalJSON() ([]byte, error) { return json.Marshal(p.Params) }
func (p *GeminiPayload) MarshalJSON() ([]byte, error)    { return p.Body, nil }
func (p *DeepSeekPayload) MarshalJSON() ([]byte, error)  { return json.Marshal(p.Params) }
func (p *ImagePayload) MarshalJSON() ([]byte, error)     { return json.Marshal(p.Params) }

func (*OpenAIPayload) isPayload()    {}
func (*AnthropicPayload) isPayload() {}
func (*GeminiPayload) isPayload()    {}
func (*DeepSeekPayload) isPayload()  {}
func (*ImagePayload) isPayload()     {}

// Builder builds payloads for every family from one capability table.
type Builder struct {
	caps params.Capabilities
}

// NewBuilder returns a builder using caps for parameter mapping.
func NewBuilder(caps params.Capabilities) *Builder {
	return &Builder{caps: caps}
}

// Build dispatches to the builder for the target model's family. tools may be
// nil; they are attached only when the model supports tool calling.
func (b *Builder) Build(rc *chat.RequestContext, tools []chat.ToolDefinition) (Payload, error) {
	req, err := b.prepare(rc)
	if err != nil {
		return nil, err
	}
	if !req.model.SupportsTools || req.model.Family == chat.FamilyImage {
		tools = nil
	}

	switch req.model.Family {
	case chat.FamilyOpenAI:
		return buildOpenAI(req, tools), nil
	case chat.FamilyAnthropic:
		return buildAnthropic(req, tools), nil
	case chat.FamilyGemini:
		p, err := buildGemini(req, tools)
		if err != nil {
			return nil, err
		}
		return p, nil
	case chat.FamilyDeepSeek:
		return buildDeepSeek(req, tools), nil
	case chat.FamilyImage:
		p, err := buildImage(req)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
	return nil, fmt.Errorf("%w: unsupported family %q", ErrPrecondition, req.model.Family)
}

// request is the resolved input shared by every family builder.
type request struct {
	model    chat.Model
	system   string
	history  []chat.Turn
	fields   params.Fields
	thinking bool
}

const reasoningInstruction = "Before answering, reason step by step inside <thinking></thinking> tags, then give the final answer after the closing tag."

func (b *Builder) prepare(rc *chat.RequestContext) (request, error) {
	if rc == nil {
		return request{}, ErrMissingModel
	}
	model := rc.Model()
	if model == nil || model.Code == "" {
		return request{}, ErrMissingModel
	}
	history := rc.History()
	if len(history) == 0 {
		return request{}, ErrMissingHistory
	}

	thinking := rc.NativeThinking()
	system := rc.SystemPrompt()
	if rc.ThinkingRequested() && !thinking && model.Family != chat.FamilyImage {
		system = joinText(system, reasoningInstruction)
	}

	resolved := params.Resolve(rc)
	return request{
		model:    *model,
		system:   system,
		history:  history,
		fields:   b.caps.Fields(model.Family, model.Code, thinking, resolved),
		thinking: thinking,
	}, nil
}

func joinText(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	}
	return a + "\n\n" + b
}
