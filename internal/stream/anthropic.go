package stream

import (
	"github.com/tidwall/gjson"
)

// parseAnthropic decodes one messages streaming event. Tool calls are keyed
// by content block index and completed by content_block_stop.
func parseAnthropic(raw []byte) (Chunk, error) {
	if !gjson.ValidBytes(raw) {
		return Chunk{}, errMalformed
	}
	doc := gjson.ParseBytes(raw)
	index := int(doc.Get("index").Int())

	var c Chunk
	switch doc.Get("type").String() {
	case "message_start":
		u := doc.Get("message.usage")
		c.InputTokens = u.Get("input_tokens").Int() +
			u.Get("cache_creation_input_tokens").Int() +
			u.Get("cache_read_input_tokens").Int()
		c.OutputTokens = u.Get("output_tokens").Int()

	case "content_block_start":
		block := doc.Get("content_block")
		switch block.Get("type").String() {
		case "text":
			c.Text = block.Get("text").String()
		case "thinking":
			c.Thinking = block.Get("thinking").String()
			c.Signature = block.Get("signature").String()
		case "redacted_thinking":
			c.RedactedThinking = block.Get("data").String()
		case "tool_use":
			frag := ToolCallFragment{Index: index, ID: block.Get("id").String(), Name: block.Get("name").String()}
			if input := block.Get("input"); input.IsObject() && len(input.Map()) > 0 {
				frag.Arguments = input.Raw
			}
			c.ToolCalls = []ToolCallFragment{frag}
		}

	case "content_block_delta":
		delta := doc.Get("delta")
		switch delta.Get("type").String() {
		case "text_delta":
			c.Text = delta.Get("text").String()
		case "thinking_delta":
			c.Thinking = delta.Get("thinking").String()
		case "signature_delta":
			c.Signature = delta.Get("signature").String()
		case "input_json_delta":
			c.ToolCalls = []ToolCallFragment{{Index: index, Arguments: delta.Get("partial_json").String()}}
		}

	case "content_block_stop":
		c.ToolCalls = []ToolCallFragment{{Index: index, Complete: true}}

	case "message_delta":
		c.Finish = anthropicFinish(doc.Get("delta.stop_reason").String())
		c.InputTokens = doc.Get("usage.input_tokens").Int()
		c.OutputTokens = doc.Get("usage.output_tokens").Int()

	case "error":
		c.Finish = FinishError
		c.ErrorMessage = errorMessage(doc.Get("error"))
	}
	return c, nil
}

func anthropicFinish(reason string) FinishReason {
	switch reason {
	case "":
		return FinishNone
	case "tool_use":
		return FinishToolUse
	}
	return FinishNormal
}
