package payload

import (
	"strings"

	"github.com/neoclaw-ai/turnrouter/internal/chat"
	"github.com/openai/openai-go"
)

const (
	DefaultImageSize   = openai.ImageGenerateParamsSize1024x1024
	DefaultImageFormat = openai.ImageGenerateParamsResponseFormatB64JSON
)

// buildImage uses the most recent user turn with text as the prompt.
func buildImage(req request) (*ImagePayload, error) {
	prompt := ""
	for i := len(req.history) - 1; i >= 0 && prompt == ""; i-- {
		turn := req.history[i]
		if turn.Role != chat.RoleUser {
			continue
		}
		prompt = strings.TrimSpace(chat.PlainText(chat.ParseParts(turn.Parts())))
	}
	if prompt == "" {
		return nil, ErrNoPrompt
	}
	return &ImagePayload{Params: openai.ImageGenerateParams{
		Prompt:         prompt,
		Model:          openai.ImageModel(req.model.Code),
		N:              openai.Int(1),
		Size:           DefaultImageSize,
		ResponseFormat: DefaultImageFormat,
	}}, nil
}
