package payload

import (
	"encoding/json"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/neoclaw-ai/turnrouter/internal/chat"
	"github.com/neoclaw-ai/turnrouter/internal/logging"
	"github.com/neoclaw-ai/turnrouter/internal/params"
)

const (
	defaultAnthropicMaxTokens = 4096
	minThinkingBudget         = 1024
)

var anthropicAlternation = alternation{required: true, toolRole: wireUser, groupResults: true}

func anthropicDocuments(mime string) bool {
	return mime == "application/pdf" || mime == "text/plain"
}

func buildAnthropic(req request, tools []chat.ToolDefinition) *AnthropicPayload {
	m := media{images: req.model.SupportsVision, imageTypes: commonImageTypes, files: anthropicDocuments}
	msgs := anthropicMessages(normalize(req.history, anthropicAlternation), m, req.thinking)

	maxTokens := int64(defaultAnthropicMaxTokens)
	if v, ok := req.fields.Int(params.MaxTokens); ok {
		maxTokens = v
	}

	body := anthropic.MessageNewParams{
		Model:    anthropic.Model(req.model.Code),
		Messages: msgs,
	}
	if req.system != "" {
		body.System = []anthropic.TextBlockParam{{
			Text:         req.system,
			CacheControl: anthropic.NewCacheControlEphemeralParam(),
		}}
	}
	if v, ok := req.fields.Float(params.Temperature); ok {
		body.Temperature = anthropic.Float(v)
	}
	if v, ok := req.fields.Float(params.TopP); ok {
		body.TopP = anthropic.Float(v)
	}
	if v, ok := req.fields.Int(params.TopK); ok {
		body.TopK = anthropic.Int(v)
	}
	if v, ok := req.fields.Strings("stop_sequences"); ok {
		body.StopSequences = v
	}
	if req.thinking {
		budget := max(maxTokens/2, minThinkingBudget)
		if budget >= maxTokens {
			maxTokens = budget + minThinkingBudget
		}
		body.Thinking = anthropic.ThinkingConfigParamOfEnabled(budget)
	}
	body.MaxTokens = maxTokens

	if len(tools) > 0 {
		body.Tools = toAnthropicTools(tools)
	}
	return &AnthropicPayload{Params: body}
}

// anthropicMessages renders uniform messages. Tool results and user content
// that alternation grouped together land in one user message, results first.
// With thinking on, signed reasoning leads its assistant message.
func anthropicMessages(msgs []message, m media, thinking bool) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(msgs))
	for _, msg := range msgs {
		if msg.role == chat.RoleAssistant {
			var blocks []anthropic.ContentBlockParamUnion
			if thinking {
				blocks = thinkingBlocks(msg.thinking)
			}
			blocks = append(blocks, anthropicContent(renderable(msg.parts, media{files: acceptsNone}))...)
			for _, tc := range msg.calls {
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, toolInput(tc), tc.Name))
			}
			if len(blocks) == 0 {
				continue
			}
			out = append(out, anthropic.NewAssistantMessage(blocks...))
			continue
		}

		blocks := make([]anthropic.ContentBlockParamUnion, 0, len(msg.results)+len(msg.parts))
		for _, r := range msg.results {
			blocks = append(blocks, anthropic.NewToolResultBlock(r.CallID, r.Content, r.IsError))
		}
		blocks = append(blocks, anthropicContent(renderable(msg.parts, m))...)
		if len(blocks) == 0 {
			continue
		}
		out = append(out, anthropic.NewUserMessage(blocks...))
	}
	applyHistoryCacheBreakpoint(out)
	return out
}

// thinkingBlocks renders signed reasoning. Unsigned blocks would be rejected
// and are skipped.
func thinkingBlocks(in []chat.ThinkingBlock) []anthropic.ContentBlockParamUnion {
	out := make([]anthropic.ContentBlockParamUnion, 0, len(in))
	for _, b := range in {
		switch {
		case b.Redacted != "":
			out = append(out, anthropic.NewRedactedThinkingBlock(b.Redacted))
		case b.Signature != "":
			out = append(out, anthropic.NewThinkingBlock(b.Signature, b.Thinking))
		default:
			logging.Logger().Debug("skipping unsigned thinking block", "chars", len(b.Thinking))
		}
	}
	return out
}

func anthropicContent(parts []chat.ContentPart) []anthropic.ContentBlockParamUnion {
	blocks := make([]anthropic.ContentBlockParamUnion, 0, len(parts))
	for _, part := range parts {
		switch p := part.(type) {
		case chat.TextPart:
			if p.Text == "" {
				continue
			}
			blocks = append(blocks, anthropic.NewTextBlock(p.Text))
		case chat.ImagePart:
			blocks = append(blocks, anthropic.NewImageBlockBase64(p.MimeType, p.Data))
		case chat.FilePart:
			if p.MimeType == "text/plain" {
				raw, _ := decodeBase64(p.Data)
				blocks = append(blocks, anthropic.NewDocumentBlock(anthropic.PlainTextSourceParam{Data: string(raw)}))
				continue
			}
			blocks = append(blocks, anthropic.NewDocumentBlock(anthropic.Base64PDFSourceParam{Data: p.Data}))
		}
	}
	return blocks
}

// toolInput decodes recorded call arguments. Arguments that are not a JSON
// object are replaced by an empty object so the history stays sendable.
func toolInput(tc chat.ToolCall) any {
	input := map[string]any{}
	if tc.Arguments == "" {
		return input
	}
	if err := json.Unmarshal([]byte(tc.Arguments), &input); err != nil {
		logging.Logger().Warn("replacing unparseable tool call arguments", "tool", tc.Name, "call_id", tc.ID, "err", err)
		return map[string]any{}
	}
	return input
}

// applyHistoryCacheBreakpoint marks the second-to-last message so the prior
// prefix can be served from the prompt cache.
func applyHistoryCacheBreakpoint(messages []anthropic.MessageParam) {
	if len(messages) < 2 {
		return
	}
	message := &messages[len(messages)-2]
	if len(message.Content) == 0 {
		return
	}
	block := &message.Content[len(message.Content)-1]
	cacheControl := anthropic.NewCacheControlEphemeralParam()
	switch {
	case block.OfText != nil:
		block.OfText.CacheControl = cacheControl
	case block.OfImage != nil:
		block.OfImage.CacheControl = cacheControl
	case block.OfDocument != nil:
		block.OfDocument.CacheControl = cacheControl
	case block.OfToolUse != nil:
		block.OfToolUse.CacheControl = cacheControl
	case block.OfToolResult != nil:
		block.OfToolResult.CacheControl = cacheControl
	}
}

func toAnthropicTools(tools []chat.ToolDefinition) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, tool := range tools {
		toolParam := anthropic.ToolParam{
			Name:        tool.Name,
			Description: anthropic.String(tool.Description),
			InputSchema: toAnthropicInputSchema(tool.Parameters),
		}
		out = append(out, anthropic.ToolUnionParam{OfTool: &toolParam})
	}
	return out
}

func toAnthropicInputSchema(schema map[string]any) anthropic.ToolInputSchemaParam {
	if len(schema) == 0 {
		return anthropic.ToolInputSchemaParam{}
	}

	var required []string
	switch v := schema["required"].(type) {
	case []string:
		required = v
	case []any:
		required = make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				required = append(required, s)
			}
		}
	}

	inputSchema := anthropic.ToolInputSchemaParam{Required: required}
	if props, ok := schema["properties"]; ok {
		inputSchema.Properties = props
	}
	extras := make(map[string]any)
	for k, v := range schema {
		if k == "properties" || k == "required" || k == "type" {
			continue
		}
		extras[k] = v
	}
	if len(extras) > 0 {
		inputSchema.ExtraFields = extras
	}
	return inputSchema
}
