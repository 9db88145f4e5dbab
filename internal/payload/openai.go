package payload

import (
	"github.com/neoclaw-ai/turnrouter/internal/chat"
	"github.com/neoclaw-ai/turnrouter/internal/params"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"
)

const deepSeekReasoner = "deepseek-reasoner"

var (
	openAIAlternation   = alternation{toolRole: wireTool}
	deepSeekAlternation = alternation{required: true, toolRole: wireTool}
)

func buildOpenAI(req request, tools []chat.ToolDefinition) *OpenAIPayload {
	m := media{images: req.model.SupportsVision, imageTypes: commonImageTypes, files: acceptsPDF}
	p := openai.ChatCompletionNewParams{
		Model:    req.model.Code,
		Messages: openAIMessages(req.system, normalize(req.history, openAIAlternation), m),
		StreamOptions: openai.ChatCompletionStreamOptionsParam{
			IncludeUsage: openai.Bool(true),
		},
	}
	applyOpenAIFields(&p, req.fields)
	if len(tools) > 0 {
		p.Tools = openAITools(tools)
	}
	return &OpenAIPayload{Params: p}
}

// buildDeepSeek targets the reasoning model when thinking is on. Sampling
// parameters were already removed for thinking by the capability table.
func buildDeepSeek(req request, tools []chat.ToolDefinition) *DeepSeekPayload {
	code := req.model.Code
	if req.thinking {
		code = deepSeekReasoner
	}
	p := openai.ChatCompletionNewParams{
		Model:    code,
		Messages: openAIMessages(req.system, normalize(req.history, deepSeekAlternation), media{files: acceptsNone}),
		StreamOptions: openai.ChatCompletionStreamOptionsParam{
			IncludeUsage: openai.Bool(true),
		},
	}
	applyOpenAIFields(&p, req.fields)
	if len(tools) > 0 {
		p.Tools = openAITools(tools)
	}
	return &DeepSeekPayload{Params: p}
}

func applyOpenAIFields(p *openai.ChatCompletionNewParams, f params.Fields) {
	if v, ok := f.Float(params.Temperature); ok {
		p.Temperature = openai.Float(v)
	}
	if v, ok := f.Float(params.TopP); ok {
		p.TopP = openai.Float(v)
	}
	if v, ok := f.Float(params.FrequencyPenalty); ok {
		p.FrequencyPenalty = openai.Float(v)
	}
	if v, ok := f.Float(params.PresencePenalty); ok {
		p.PresencePenalty = openai.Float(v)
	}
	if v, ok := f.Int(params.MaxTokens); ok {
		p.MaxTokens = openai.Int(v)
	}
	if v, ok := f.Int(params.MaxCompletionTokens); ok {
		p.MaxCompletionTokens = openai.Int(v)
	}
	if v, ok := f.Strings(params.Stop); ok && len(v) > 0 {
		p.Stop = openai.ChatCompletionNewParamsStopUnion{OfStringArray: v}
	}
}

func openAIMessages(system string, msgs []message, m media) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs)+1)
	if system != "" {
		out = append(out, openai.SystemMessage(system))
	}
	for _, msg := range msgs {
		switch msg.role {
		case chat.RoleUser:
			out = append(out, openAIUserMessage(renderable(msg.parts, m)))
		case chat.RoleAssistant:
			text := textOf(renderable(msg.parts, media{files: acceptsNone}))
			out = append(out, openAIAssistantMessage(text, msg.calls))
		case chat.RoleTool:
			for _, r := range msg.results {
				out = append(out, openai.ToolMessage(r.Content, r.CallID))
			}
		}
	}
	return out
}

func openAIUserMessage(parts []chat.ContentPart) openai.ChatCompletionMessageParamUnion {
	if textOnly(parts) {
		return openai.UserMessage(textOf(parts))
	}
	content := make([]openai.ChatCompletionContentPartUnionParam, 0, len(parts))
	for _, part := range parts {
		switch p := part.(type) {
		case chat.TextPart:
			content = append(content, openai.TextContentPart(p.Text))
		case chat.ImagePart:
			content = append(content, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
				URL: dataURL(p.MimeType, p.Data),
			}))
		case chat.FilePart:
			content = append(content, openai.FileContentPart(openai.ChatCompletionContentPartFileFileParam{
				FileData: openai.String(dataURL(p.MimeType, p.Data)),
				Filename: openai.String(p.Filename),
			}))
		}
	}
	return openai.UserMessage(content)
}

func openAIAssistantMessage(text string, calls []chat.ToolCall) openai.ChatCompletionMessageParamUnion {
	if len(calls) == 0 {
		return openai.AssistantMessage(text)
	}
	toolCalls := make([]openai.ChatCompletionMessageToolCallParam, len(calls))
	for i, tc := range calls {
		toolCalls[i] = openai.ChatCompletionMessageToolCallParam{
			ID: tc.ID,
			Function: openai.ChatCompletionMessageToolCallFunctionParam{
				Name:      tc.Name,
				Arguments: argumentsOrEmpty(tc.Arguments),
			},
		}
	}
	assistant := openai.ChatCompletionAssistantMessageParam{ToolCalls: toolCalls}
	if text != "" {
		assistant.Content.OfString = param.NewOpt(text)
	}
	return openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant}
}

func openAITools(tools []chat.ToolDefinition) []openai.ChatCompletionToolParam {
	out := make([]openai.ChatCompletionToolParam, 0, len(tools))
	for _, t := range tools {
		out = append(out, openai.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        t.Name,
				Description: param.NewOpt(t.Description),
				Parameters:  shared.FunctionParameters(schemaOrEmpty(t.Parameters)),
			},
		})
	}
	return out
}

func argumentsOrEmpty(args string) string {
	if args == "" {
		return "{}"
	}
	return args
}

func schemaOrEmpty(schema map[string]any) map[string]any {
	if len(schema) == 0 {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return schema
}
