package config

import (
	"errors"
	"fmt"
	"net"
	"sort"

	"github.com/neoclaw-ai/turnrouter/internal/chat"
)

// Validatable is implemented by config sections that can self-validate.
type Validatable interface {
	Validate() error
}

// Validate checks the provider family and timeout. API keys are checked when
// a request is made, so unused providers may stay unconfigured.
func (c ProviderConfig) Validate() error {
	if _, err := chat.ParseFamily(c.Family); err != nil {
		return err
	}
	if c.RequestTimeout < 0 {
		return errors.New("request_timeout must be >= 0")
	}
	return nil
}

// Validate checks required model fields.
func (c ModelConfig) Validate() error {
	if c.Code == "" {
		return errors.New("code is required")
	}
	if c.Provider == "" {
		return errors.New("provider is required")
	}
	if c.MaxOutputTokens < 0 {
		return errors.New("max_output_tokens must be >= 0")
	}
	return nil
}

// Validate checks cost limits.
func (c CostsConfig) Validate() error {
	if c.DailyLimit < 0 || c.MonthlyLimit < 0 {
		return errors.New("limits must be >= 0")
	}
	return nil
}

// Validate checks the listen address.
func (c ServerConfig) Validate() error {
	if c.Listen == "" {
		return errors.New("listen is required")
	}
	if _, _, err := net.SplitHostPort(c.Listen); err != nil {
		return fmt.Errorf("invalid listen address %q: %w", c.Listen, err)
	}
	return nil
}

// Validate checks plugin settings.
func (c PluginsConfig) Validate() error {
	if c.MaxOutputChars < 0 {
		return errors.New("max_output_chars must be >= 0")
	}
	for name, srv := range c.MCP {
		if srv.Enabled && srv.Binary == "" {
			return fmt.Errorf("mcp.%s: binary is required when enabled=true", name)
		}
	}
	return nil
}

// Validate validates the whole configuration and joins every section error.
func (cfg *Config) Validate() error {
	var errs []error

	for _, name := range sortedKeys(cfg.Providers) {
		if err := cfg.Providers[name].Validate(); err != nil {
			errs = append(errs, fmt.Errorf("providers.%s: %w", name, err))
		}
	}
	for _, id := range sortedKeys(cfg.Models) {
		m := cfg.Models[id]
		if err := m.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("models.%s: %w", id, err))
			continue
		}
		if _, ok := cfg.Providers[m.Provider]; !ok {
			errs = append(errs, fmt.Errorf("models.%s: unknown provider %q", id, m.Provider))
		}
	}
	if cfg.Defaults.Model != "" {
		if _, ok := cfg.Models[cfg.Defaults.Model]; !ok {
			errs = append(errs, fmt.Errorf("defaults.model: unknown model %q", cfg.Defaults.Model))
		}
	}

	sections := []struct {
		name string
		v    Validatable
	}{
		{"costs", cfg.Costs},
		{"server", cfg.Server},
		{"plugins", cfg.Plugins},
	}
	for _, s := range sections {
		if err := s.v.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
		}
	}
	return errors.Join(errs...)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
