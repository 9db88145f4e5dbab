package tools

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/neoclaw-ai/turnrouter/internal/config"
)

func TestWebSearchToolExecute(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET, got %s", r.Method)
		}
		if got := r.URL.Query().Get("q"); got != "golang" {
			t.Errorf("expected query golang, got %q", got)
		}
		if got := r.URL.Query().Get("count"); got != "3" {
			t.Errorf("expected count 3, got %q", got)
		}
		if got := r.Header.Get("X-Subscription-Token"); got != "brave-key" {
			t.Errorf("expected brave token header, got %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"web":{"results":[{"title":"Go","url":"https://go.dev","description":"The Go programming language"},{"title":"","url":"https://example.com"}]}}`))
	}))
	defer srv.Close()

	tool := WebSearchTool{Client: srv.Client(), APIKey: "brave-key", Endpoint: srv.URL}
	result, err := tool.Execute(context.Background(), map[string]any{"query": "golang", "count": 3.0})
	if err != nil {
		t.Fatalf("execute web_search: %v", err)
	}
	for _, want := range []string{"1. Go", "URL: https://go.dev", "Snippet: The Go programming language", "2. (untitled)"} {
		if !strings.Contains(result.Output, want) {
			t.Fatalf("expected %q in output, got %q", want, result.Output)
		}
	}
}

func TestWebSearchToolHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	tool := WebSearchTool{Client: srv.Client(), APIKey: "k", Endpoint: srv.URL}
	_, err := tool.Execute(context.Background(), map[string]any{"query": "x"})
	if err == nil || !strings.Contains(err.Error(), "429") {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestWebSearchToolRequiresAPIKey(t *testing.T) {
	tool := WebSearchTool{Client: http.DefaultClient}
	_, err := tool.Execute(context.Background(), map[string]any{"query": "golang"})
	if err == nil || !strings.Contains(err.Error(), "api_key is required") {
		t.Fatalf("expected missing api key error, got %v", err)
	}
}

func TestWebSearchToolRequiresQuery(t *testing.T) {
	tool := WebSearchTool{Client: http.DefaultClient, APIKey: "k"}
	_, err := tool.Execute(context.Background(), map[string]any{})
	if err == nil || !strings.Contains(err.Error(), `missing required argument "query"`) {
		t.Fatalf("expected missing query error, got %v", err)
	}
}

func TestCurrentTimeTool(t *testing.T) {
	fixed := time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)
	tool := CurrentTimeTool{Now: func() time.Time { return fixed }}

	res, err := tool.Execute(context.Background(), map[string]any{})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Output != "2026-03-14T15:09:26Z (Saturday, UTC)" {
		t.Fatalf("unexpected output %q", res.Output)
	}

	if _, err := tool.Execute(context.Background(), map[string]any{"timezone": "Mars/Olympus"}); err == nil {
		t.Fatalf("expected unknown zone error")
	}
}

func TestNewDefaultRegistry(t *testing.T) {
	r := NewDefaultRegistry(context.Background(), config.PluginsConfig{}, nil)
	if _, ok := r.Lookup("current_time"); !ok {
		t.Fatalf("expected current_time built-in")
	}
	if _, ok := r.Lookup("web_search"); ok {
		t.Fatalf("web_search must not be registered without an api key")
	}

	r = NewDefaultRegistry(context.Background(), config.PluginsConfig{
		WebSearch: config.WebSearchConfig{APIKey: "k"},
		MCP: map[string]config.MCPServerConfig{
			"off":     {Binary: "/nonexistent/server", Enabled: false},
			"missing": {Binary: "/nonexistent/server", Enabled: true},
		},
	}, nil)
	defer r.Close()
	if _, ok := r.Lookup("web_search"); !ok {
		t.Fatalf("expected web_search with an api key")
	}
	if len(r.Tools()) != 2 {
		t.Fatalf("expected failing mcp server to be skipped, got %d tools", len(r.Tools()))
	}
}
