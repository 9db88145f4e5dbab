// Package transport sends built payloads to providers and exposes their
// streaming responses as raw event sources.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/neoclaw-ai/turnrouter/internal/chat"
	"github.com/neoclaw-ai/turnrouter/internal/config"
	"github.com/neoclaw-ai/turnrouter/internal/logging"
	"github.com/neoclaw-ai/turnrouter/internal/payload"
	"github.com/neoclaw-ai/turnrouter/internal/stream"
)

// ErrUnknownProvider is returned when no transport is configured for a
// provider name.
var ErrUnknownProvider = errors.New("unknown provider")

// Transport sends one payload and returns its event stream. The returned
// source ends with a Completion event when the provider closes the stream
// normally.
type Transport interface {
	Send(ctx context.Context, p payload.Payload) (stream.Source, error)
}

// ErrMissingAPIKey is returned for a provider configured without credentials.
var ErrMissingAPIKey = errors.New("api_key is required")

// Router holds one transport per configured provider.
type Router struct {
	byProvider  map[string]Transport
	unavailable map[string]error
}

// NewRouter builds transports for every provider in cfg. client may be nil.
// Providers without an api key are kept unavailable so that only requests
// routed to them fail.
func NewRouter(providers map[string]config.ProviderConfig, client *http.Client) (*Router, error) {
	r := &Router{
		byProvider:  make(map[string]Transport, len(providers)),
		unavailable: make(map[string]error),
	}
	for name, p := range providers {
		t, err := New(p, client)
		if errors.Is(err, ErrMissingAPIKey) {
			logging.Logger().Debug("provider unavailable", "provider", name, "err", err)
			r.unavailable[name] = fmt.Errorf("provider %s: %w", name, err)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", name, err)
		}
		r.byProvider[name] = t
	}
	return r, nil
}

// NewStaticRouter returns a router over prebuilt transports.
func NewStaticRouter(transports map[string]Transport) *Router {
	r := &Router{byProvider: make(map[string]Transport, len(transports))}
	for name, t := range transports {
		r.byProvider[name] = t
	}
	return r
}

// For returns the transport for a provider name.
func (r *Router) For(provider string) (Transport, error) {
	t, ok := r.byProvider[provider]
	if !ok {
		if err, down := r.unavailable[provider]; down {
			return nil, err
		}
		return nil, fmt.Errorf("%w %q", ErrUnknownProvider, provider)
	}
	return t, nil
}

// Providers lists configured provider names in order.
func (r *Router) Providers() []string {
	names := make([]string, 0, len(r.byProvider))
	for name := range r.byProvider {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New returns the transport for one provider's family.
func New(p config.ProviderConfig, client *http.Client) (Transport, error) {
	family, err := chat.ParseFamily(p.Family)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(p.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}
	opts := Options{
		APIKey:  p.APIKey,
		BaseURL: strings.TrimRight(strings.TrimSpace(p.BaseURL), "/"),
		Timeout: p.RequestTimeout,
		Client:  client,
	}

	switch family {
	case chat.FamilyAnthropic:
		return NewAnthropic(opts), nil
	case chat.FamilyOpenAI, chat.FamilyDeepSeek:
		return NewOpenAI(opts), nil
	case chat.FamilyImage:
		return NewImage(opts), nil
	case chat.FamilyGemini:
		return NewGemini(opts), nil
	}
	return nil, fmt.Errorf("no transport for family %q", family)
}

// Options are the connection settings shared by every transport.
type Options struct {
	APIKey  string
	BaseURL string
	// Timeout bounds one whole request including its stream. Zero means none.
	Timeout time.Duration
	Client  *http.Client
}

// rawJSONer is implemented by SDK stream event types.
type rawJSONer interface {
	RawJSON() string
}

// sdkStream matches the SSE stream types of both provider SDKs.
type sdkStream[T rawJSONer] interface {
	Next() bool
	Current() T
	Err() error
	Close() error
}

// sdkSource adapts an SDK stream to stream.Source, appending the
// Completion event once the SDK stream ends without error.
type sdkSource[T rawJSONer] struct {
	stream  sdkStream[T]
	current stream.RawEvent
	done    bool
}

func newSDKSource[T rawJSONer](s sdkStream[T]) *sdkSource[T] {
	return &sdkSource[T]{stream: s}
}

func (s *sdkSource[T]) Next() bool {
	if s.done {
		return false
	}
	if s.stream.Next() {
		s.current = stream.RawEvent{Content: s.stream.Current().RawJSON()}
		return true
	}
	s.done = true
	if s.stream.Err() != nil {
		return false
	}
	s.current = stream.RawEvent{Completion: true}
	return true
}

func (s *sdkSource[T]) Current() stream.RawEvent { return s.current }
func (s *sdkSource[T]) Err() error               { return s.stream.Err() }
func (s *sdkSource[T]) Close() error             { return s.stream.Close() }

func unexpectedPayload(want chat.Family, p payload.Payload) error {
	if p == nil {
		return fmt.Errorf("%s transport: nil payload", want)
	}
	return fmt.Errorf("%s transport cannot send %s payload", want, p.Family())
}
