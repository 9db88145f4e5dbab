package payload

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/neoclaw-ai/turnrouter/internal/chat"
	"github.com/tidwall/sjson"
)

var geminiAlternation = alternation{required: true, toolRole: wireUser, groupResults: true}

// Gemini rejects these JSON schema keywords in function declarations.
var geminiSchemaDenylist = []string{"$schema", "additionalProperties", "$id", "$defs"}

func geminiInline(mime string) bool {
	return mime == "application/pdf" ||
		strings.HasPrefix(mime, "text/") ||
		strings.HasPrefix(mime, "audio/") ||
		strings.HasPrefix(mime, "video/")
}

// geminiBody accumulates sjson writes and keeps the first error.
type geminiBody struct {
	raw []byte
	err error
}

func (b *geminiBody) set(path string, v any) {
	if b.err != nil {
		return
	}
	b.raw, b.err = sjson.SetBytes(b.raw, path, v)
}

func buildGemini(req request, tools []chat.ToolDefinition) (*GeminiPayload, error) {
	m := media{images: req.model.SupportsVision, imageTypes: geminiImageTypes, files: geminiInline}
	body := &geminiBody{raw: []byte(`{}`)}

	msgs := normalize(req.history, geminiAlternation)
	contents := make([]map[string]any, 0, len(msgs))
	for _, msg := range msgs {
		role := "user"
		if msg.role == chat.RoleAssistant {
			role = "model"
		}
		contents = append(contents, map[string]any{"role": role, "parts": geminiParts(msg, m)})
	}
	body.set("contents", contents)

	if req.system != "" {
		body.set("systemInstruction", map[string]any{
			"parts": []map[string]any{{"text": req.system}},
		})
	}

	names := make([]string, 0, len(req.fields))
	for name := range req.fields {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		body.set("generationConfig."+name, req.fields[name])
	}
	if req.thinking {
		body.set("generationConfig.thinkingConfig.includeThoughts", true)
	}

	if len(tools) > 0 {
		decls := make([]map[string]any, 0, len(tools))
		for _, t := range tools {
			decls = append(decls, map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  geminiSchema(schemaOrEmpty(t.Parameters)),
			})
		}
		body.set("tools", []map[string]any{{"functionDeclarations": decls}})
	}

	if body.err != nil {
		return nil, fmt.Errorf("encode gemini request: %w", body.err)
	}
	return &GeminiPayload{Model: req.model.Code, Body: body.raw}, nil
}

func geminiParts(msg message, m media) []map[string]any {
	parts := make([]map[string]any, 0, len(msg.results)+len(msg.parts)+len(msg.calls))
	for _, r := range msg.results {
		key := "content"
		if r.IsError {
			key = "error"
		}
		parts = append(parts, map[string]any{
			"functionResponse": map[string]any{
				"name":     r.Name,
				"response": map[string]any{key: r.Content},
			},
		})
	}

	if msg.role == chat.RoleAssistant {
		m = media{files: acceptsNone}
	}
	for _, part := range renderable(msg.parts, m) {
		switch p := part.(type) {
		case chat.TextPart:
			if p.Text != "" {
				parts = append(parts, map[string]any{"text": p.Text})
			}
		case chat.ImagePart:
			parts = append(parts, inlineData(p.MimeType, p.Data))
		case chat.FilePart:
			parts = append(parts, inlineData(p.MimeType, p.Data))
		}
	}

	for _, tc := range msg.calls {
		parts = append(parts, map[string]any{
			"functionCall": map[string]any{"name": tc.Name, "args": toolInput(tc)},
		})
	}
	return parts
}

func inlineData(mime, data string) map[string]any {
	return map[string]any{"inlineData": map[string]any{"mimeType": mime, "data": data}}
}

// geminiSchema returns a copy of schema without the keywords Gemini rejects.
func geminiSchema(schema map[string]any) map[string]any {
	raw, err := json.Marshal(schema)
	if err != nil {
		return schema
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return schema
	}
	stripSchemaKeys(out)
	return out
}

func stripSchemaKeys(v any) {
	switch node := v.(type) {
	case map[string]any:
		for _, key := range geminiSchemaDenylist {
			delete(node, key)
		}
		for _, child := range node {
			stripSchemaKeys(child)
		}
	case []any:
		for _, child := range node {
			stripSchemaKeys(child)
		}
	}
}
