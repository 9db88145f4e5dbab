package transport

import (
	"context"
	"fmt"

	"github.com/neoclaw-ai/turnrouter/internal/chat"
	"github.com/neoclaw-ai/turnrouter/internal/payload"
	"github.com/neoclaw-ai/turnrouter/internal/stream"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAI streams chat completions for GPT-style and DeepSeek payloads.
// DeepSeek speaks the same wire protocol at its own base URL.
type OpenAI struct {
	client openai.Client
}

// NewOpenAI creates a chat completions transport.
func NewOpenAI(opts Options) *OpenAI {
	return &OpenAI{client: openai.NewClient(openAIOptions(opts)...)}
}

// Send opens a chat completion stream.
func (t *OpenAI) Send(ctx context.Context, p payload.Payload) (stream.Source, error) {
	var params openai.ChatCompletionNewParams
	switch v := p.(type) {
	case *payload.OpenAIPayload:
		params = v.Params
	case *payload.DeepSeekPayload:
		params = v.Params
	default:
		return nil, unexpectedPayload(chat.FamilyOpenAI, p)
	}

	s := t.client.Chat.Completions.NewStreaming(ctx, params)
	if err := s.Err(); err != nil {
		s.Close()
		return nil, fmt.Errorf("chat completion stream: %w", err)
	}
	return newSDKSource(s), nil
}

// Image generates images. The provider answers with one JSON document,
// which is delivered as a single event followed by Completion.
type Image struct {
	client openai.Client
}

// NewImage creates an image generation transport.
func NewImage(opts Options) *Image {
	return &Image{client: openai.NewClient(openAIOptions(opts)...)}
}

// Send runs the generation request to completion.
func (t *Image) Send(ctx context.Context, p payload.Payload) (stream.Source, error) {
	ip, ok := p.(*payload.ImagePayload)
	if !ok {
		return nil, unexpectedPayload(chat.FamilyImage, p)
	}
	resp, err := t.client.Images.Generate(ctx, ip.Params)
	if err != nil {
		return nil, fmt.Errorf("generate image: %w", err)
	}
	return stream.NewSliceSource(
		stream.RawEvent{Content: resp.RawJSON()},
		stream.RawEvent{Completion: true},
	), nil
}

func openAIOptions(opts Options) []option.RequestOption {
	reqOpts := []option.RequestOption{
		option.WithAPIKey(opts.APIKey),
		option.WithMaxRetries(0),
	}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	if opts.Client != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(opts.Client))
	}
	if opts.Timeout > 0 {
		reqOpts = append(reqOpts, option.WithRequestTimeout(opts.Timeout))
	}
	return reqOpts
}
