package tools

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// CurrentTimeTool reports the current date and time.
type CurrentTimeTool struct {
	// Now defaults to time.Now.
	Now func() time.Time
}

// Name returns the tool name.
func (t CurrentTimeTool) Name() string {
	return "current_time"
}

// Description returns the tool description for the model.
func (t CurrentTimeTool) Description() string {
	return "Get the current date and time, optionally in an IANA time zone"
}

// Schema returns the JSON schema for current_time args.
func (t CurrentTimeTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"timezone": map[string]any{
				"type":        "string",
				"description": "IANA time zone such as Europe/Paris (default UTC)",
			},
		},
	}
}

// Execute formats the current time in the requested zone.
func (t CurrentTimeTool) Execute(_ context.Context, args map[string]any) (*ToolResult, error) {
	now := time.Now
	if t.Now != nil {
		now = t.Now
	}

	loc := time.UTC
	if raw, ok := args["timezone"]; ok {
		name, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("argument %q must be a string", "timezone")
		}
		if name = strings.TrimSpace(name); name != "" {
			l, err := time.LoadLocation(name)
			if err != nil {
				return nil, fmt.Errorf("unknown time zone %q", name)
			}
			loc = l
		}
	}

	ts := now().In(loc)
	return &ToolResult{Output: fmt.Sprintf("%s (%s, %s)", ts.Format(time.RFC3339), ts.Weekday(), loc)}, nil
}
