package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/spf13/cast"
)

const (
	braveSearchEndpoint = "https://api.search.brave.com/res/v1/web/search"
	defaultUserAgent    = "turnrouter"
	defaultResultCount  = 5
	maxResultCount      = 20
)

// WebSearchTool searches the web through the Brave Search API.
type WebSearchTool struct {
	Client *http.Client
	APIKey string
	// Endpoint overrides the Brave endpoint.
	Endpoint string
}

// Name returns the tool name.
func (t WebSearchTool) Name() string {
	return "web_search"
}

// Description returns the tool description for the model.
func (t WebSearchTool) Description() string {
	return "Search the web and return titles, URLs, and snippets"
}

// Schema returns the JSON schema for web_search args.
func (t WebSearchTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "Search query text",
			},
			"count": map[string]any{
				"type":        "integer",
				"description": "Number of results (1-20, default 5)",
			},
		},
		"required": []string{"query"},
	}
}

// Execute performs a search and returns numbered text results.
func (t WebSearchTool) Execute(ctx context.Context, args map[string]any) (*ToolResult, error) {
	query, err := stringArg(args, "query")
	if err != nil {
		return nil, err
	}
	count := defaultResultCount
	if raw, ok := args["count"]; ok {
		n, err := cast.ToIntE(raw)
		if err != nil {
			return nil, fmt.Errorf("argument %q must be an integer", "count")
		}
		count = min(max(n, 1), maxResultCount)
	}

	if strings.TrimSpace(t.APIKey) == "" {
		return nil, errors.New("plugins.web_search.api_key is required")
	}
	if t.Client == nil {
		return nil, errors.New("http client is required")
	}
	endpoint := t.Endpoint
	if endpoint == "" {
		endpoint = braveSearchEndpoint
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create search request: %w", err)
	}
	q := req.URL.Query()
	q.Set("q", query)
	q.Set("count", strconv.Itoa(count))
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", t.APIKey)
	req.Header.Set("User-Agent", defaultUserAgent)

	resp, err := t.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute search request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read search response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("search request failed: %s", resp.Status)
	}

	var payload struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	if len(payload.Web.Results) == 0 {
		return &ToolResult{Output: "no results"}, nil
	}

	var out strings.Builder
	for i, result := range payload.Web.Results {
		if i > 0 {
			out.WriteString("\n\n")
		}
		title := strings.TrimSpace(result.Title)
		if title == "" {
			title = "(untitled)"
		}
		fmt.Fprintf(&out, "%d. %s\nURL: %s", i+1, title, strings.TrimSpace(result.URL))
		if description := strings.TrimSpace(result.Description); description != "" {
			out.WriteString("\nSnippet: ")
			out.WriteString(description)
		}
	}
	return &ToolResult{Output: out.String()}, nil
}
