package transport

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/neoclaw-ai/turnrouter/internal/chat"
	"github.com/neoclaw-ai/turnrouter/internal/payload"
	"github.com/neoclaw-ai/turnrouter/internal/stream"
)

const (
	defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	maxSSELineBytes      = 1 << 20
)

// Gemini streams generateContent requests as server-sent events.
type Gemini struct {
	client  *http.Client
	apiKey  string
	baseURL string
}

// NewGemini creates a streamGenerateContent transport.
func NewGemini(opts Options) *Gemini {
	client := &http.Client{}
	if opts.Client != nil {
		c := *opts.Client
		client = &c
	}
	if opts.Timeout > 0 && client.Timeout == 0 {
		client.Timeout = opts.Timeout
	}
	base := opts.BaseURL
	if base == "" {
		base = defaultGeminiBaseURL
	}
	return &Gemini{client: client, apiKey: opts.APIKey, baseURL: base}
}

// Send posts the payload body and returns the SSE event source.
func (t *Gemini) Send(ctx context.Context, p payload.Payload) (stream.Source, error) {
	gp, ok := p.(*payload.GeminiPayload)
	if !ok {
		return nil, unexpectedPayload(chat.FamilyGemini, p)
	}

	endpoint := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse", t.baseURL, url.PathEscape(gp.Model))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(gp.Body))
	if err != nil {
		return nil, fmt.Errorf("create gemini request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("x-goog-api-key", t.apiKey)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gemini stream: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("gemini stream: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	return newSSESource(resp.Body), nil
}

// sseSource reads "data:" lines from an SSE body. End of body yields the
// Completion event.
type sseSource struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	current stream.RawEvent
	done    bool
	err     error
}

func newSSESource(body io.ReadCloser) *sseSource {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxSSELineBytes)
	return &sseSource{body: body, scanner: scanner}
}

func (s *sseSource) Next() bool {
	if s.done {
		return false
	}
	for s.scanner.Scan() {
		line := s.scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}
		s.current = stream.RawEvent{Content: data}
		return true
	}
	s.done = true
	if err := s.scanner.Err(); err != nil {
		s.err = err
		return false
	}
	s.current = stream.RawEvent{Completion: true}
	return true
}

func (s *sseSource) Current() stream.RawEvent { return s.current }
func (s *sseSource) Err() error               { return s.err }
func (s *sseSource) Close() error             { return s.body.Close() }
