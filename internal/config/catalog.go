package config

import (
	"errors"
	"fmt"
	"maps"

	"github.com/neoclaw-ai/turnrouter/internal/chat"
)

// ErrUnknownModel is returned when a model id is not configured.
var ErrUnknownModel = errors.New("unknown model")

// Model resolves a configured model id into a chat.Model. An empty id
// selects defaults.model.
func (c *Config) Model(id string) (*chat.Model, error) {
	if id == "" {
		id = c.Defaults.Model
	}
	m, ok := c.Models[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownModel, id)
	}
	p, ok := c.Providers[m.Provider]
	if !ok {
		return nil, fmt.Errorf("model %q: unknown provider %q", id, m.Provider)
	}
	family, err := chat.ParseFamily(p.Family)
	if err != nil {
		return nil, fmt.Errorf("provider %q: %w", m.Provider, err)
	}
	return &chat.Model{
		ID:               id,
		Code:             m.Code,
		Provider:         m.Provider,
		Family:           family,
		SupportsThinking: m.SupportsThinking,
		SupportsVision:   m.SupportsVision,
		SupportsTools:    m.SupportsTools,
		MaxOutputTokens:  m.MaxOutputTokens,
	}, nil
}

// Catalog returns every resolvable model in id order. Models that fail to
// resolve are skipped; Validate reports them.
func (c *Config) Catalog() []chat.Model {
	out := make([]chat.Model, 0, len(c.Models))
	for _, id := range sortedKeys(c.Models) {
		m, err := c.Model(id)
		if err != nil {
			continue
		}
		out = append(out, *m)
	}
	return out
}

// UserSettings returns the configured user default settings.
func (c *Config) UserSettings() *chat.UserSettings {
	settings := &chat.UserSettings{Parameters: maps.Clone(c.Defaults.Parameters)}
	if c.Defaults.Thinking {
		on := true
		settings.Thinking = &on
	}
	return settings
}
