package stream

import (
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

// parseGemini decodes one streamGenerateContent chunk. Gemini delivers each
// function call whole and often without a dedicated finish reason, so any
// functionCall part forces tool use.
func parseGemini(raw []byte) (Chunk, error) {
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
	if blocked := doc.Get("promptFeedback.blockReason").String(); blocked != "" {
		c.Finish = FinishError
		c.ErrorMessage = "prompt blocked: " + blocked
		return c, nil
	}

	candidate := doc.Get("candidates.0")
	candidate.Get("content.parts").ForEach(func(_, part gjson.Result) bool {
		switch {
		case part.Get("functionCall").Exists():
			call := part.Get("functionCall")
			id := call.Get("id").String()
			if id == "" {
				id = "call_" + uuid.NewString()
			}
			args := call.Get("args").Raw
			if args == "" {
				args = "{}"
			}
			c.ToolCalls = append(c.ToolCalls, ToolCallFragment{
				Index:     AppendSlot,
				ID:        id,
				Name:      call.Get("name").String(),
				Arguments: args,
				Complete:  true,
			})
		case part.Get("thought").Bool():
			c.Thinking += part.Get("text").String()
		default:
			c.Text += part.Get("text").String()
		}
		return true
	})

	reason := candidate.Get("finishReason").String()
	c.Finish = geminiFinish(reason)
	switch {
	case c.Finish == FinishError:
		c.ErrorMessage = "generation stopped: " + reason
	case len(c.ToolCalls) > 0:
		c.Finish = FinishToolUse
	}

	if u := doc.Get("usageMetadata"); u.Exists() {
		c.InputTokens = u.Get("promptTokenCount").Int()
		c.OutputTokens = u.Get("candidatesTokenCount").Int() + u.Get("thoughtsTokenCount").Int()
	}
	return c, nil
}

func geminiFinish(reason string) FinishReason {
	switch reason {
	case "", "FINISH_REASON_UNSPECIFIED":
		return FinishNone
	case "STOP", "MAX_TOKENS":
		return FinishNormal
	}
	return FinishError
}
