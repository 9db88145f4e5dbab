package transport

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/neoclaw-ai/turnrouter/internal/chat"
	"github.com/neoclaw-ai/turnrouter/internal/payload"
	"github.com/neoclaw-ai/turnrouter/internal/stream"
)

// Anthropic streams Claude-style messages requests.
type Anthropic struct {
	client anthropic.Client
}

// NewAnthropic creates a messages transport. Automatic retries are disabled.
func NewAnthropic(opts Options) *Anthropic {
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
	return &Anthropic{client: anthropic.NewClient(reqOpts...)}
}

// Send opens a message stream for an AnthropicPayload.
func (t *Anthropic) Send(ctx context.Context, p payload.Payload) (stream.Source, error) {
	ap, ok := p.(*payload.AnthropicPayload)
	if !ok {
		return nil, unexpectedPayload(chat.FamilyAnthropic, p)
	}
	s := t.client.Messages.NewStreaming(ctx, ap.Params)
	if err := s.Err(); err != nil {
		s.Close()
		return nil, fmt.Errorf("anthropic stream: %w", err)
	}
	return newSDKSource(s), nil
}
