package stream

import (
	"fmt"
	"strings"

	"github.com/neoclaw-ai/turnrouter/internal/chat"
	"github.com/tidwall/gjson"
)

// parseImage decodes a whole image generation response. Inline images are
// rendered as attachment markup so they persist with the message text.
func parseImage(raw []byte) (Chunk, error) {
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

	format := doc.Get("output_format").String()
	if format == "" {
		format = "png"
	}
	var out []string
	doc.Get("data").ForEach(func(i, img gjson.Result) bool {
		if data := img.Get("b64_json").String(); data != "" {
			out = append(out, chat.FormatAttachment(chat.ImagePart{
				MimeType: "image/" + format,
				Data:     data,
				Filename: fmt.Sprintf("image-%d.%s", i.Int()+1, format),
			}))
		} else if url := img.Get("url").String(); url != "" {
			out = append(out, "![generated image]("+url+")")
		}
		return true
	})
	if len(out) == 0 {
		c.Finish = FinishError
		c.ErrorMessage = "image response contained no images"
		return c, nil
	}

	c.Text = strings.Join(out, "\n\n")
	c.Finish = FinishNormal
	c.InputTokens = doc.Get("usage.input_tokens").Int()
	c.OutputTokens = doc.Get("usage.output_tokens").Int()
	return c, nil
}
