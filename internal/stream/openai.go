package stream

import (
	"github.com/tidwall/gjson"
)

func parseOpenAI(raw []byte) (Chunk, error) {
	return parseChatCompletion(raw, false)
}

// parseDeepSeek also reads the separate reasoning channel.
func parseDeepSeek(raw []byte) (Chunk, error) {
	return parseChatCompletion(raw, true)
}

func parseChatCompletion(raw []byte, reasoning bool) (Chunk, error) {
	if !gjson.ValidBytes(raw) {
		return Chunk{}, errMalformed
	}
	doc := gjson.ParseBytes(raw)

	var c Chunk
	if e := doc.Get("error"); e.Exists() {
		c.Finish = FinishError
		c.ErrorMessage = errorMessage(e)
		return c, nil
	}

	choice := doc.Get("choices.0")
	delta := choice.Get("delta")
	c.Text = delta.Get("content").String()
	if reasoning {
		c.Thinking = delta.Get("reasoning_content").String()
	}
	delta.Get("tool_calls").ForEach(func(_, tc gjson.Result) bool {
		c.ToolCalls = append(c.ToolCalls, ToolCallFragment{
			Index:     int(tc.Get("index").Int()),
			ID:        tc.Get("id").String(),
			Name:      tc.Get("function.name").String(),
			Arguments: tc.Get("function.arguments").String(),
		})
		return true
	})

	reason := choice.Get("finish_reason").String()
	c.Finish = chatCompletionFinish(reason)
	switch {
	case c.Finish == FinishError:
		c.ErrorMessage = "generation stopped: " + reason
	case c.Finish == FinishNormal && len(c.ToolCalls) > 0:
		c.Finish = FinishToolUse
	}

	if u := doc.Get("usage"); u.IsObject() {
		c.InputTokens = u.Get("prompt_tokens").Int()
		c.OutputTokens = u.Get("completion_tokens").Int()
	}
	return c, nil
}

func chatCompletionFinish(reason string) FinishReason {
	switch reason {
	case "":
		return FinishNone
	case "tool_calls", "function_call":
		return FinishToolUse
	case "insufficient_system_resource":
		return FinishError
	}
	return FinishNormal
}

// errorMessage reads an error object, falling back to its raw text.
func errorMessage(e gjson.Result) string {
	if msg := e.Get("message").String(); msg != "" {
		return msg
	}
	return e.String()
}
