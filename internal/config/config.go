// Package config loads turnrouter configuration from a TOML file and environment variables, exposing typed structs and accessors for all sections.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Config is the runtime configuration loaded from defaults, config.toml, and env vars.
type Config struct {
	// HomeDir is runtime-resolved from TURNROUTER_HOME and not read from config.
	HomeDir   string                    `mapstructure:"-"`
	Providers map[string]ProviderConfig `mapstructure:"providers"`
	Models    map[string]ModelConfig    `mapstructure:"models"`
	Defaults  DefaultsConfig            `mapstructure:"defaults"`
	Storage   StorageConfig             `mapstructure:"storage"`
	Costs     CostsConfig               `mapstructure:"costs"`
	Server    ServerConfig              `mapstructure:"server"`
	Profiles  ProfilesConfig            `mapstructure:"profiles"`
	Plugins   PluginsConfig             `mapstructure:"plugins"`
}

// ProviderConfig configures one provider endpoint.
type ProviderConfig struct {
	// Family is one of openai, anthropic, gemini, deepseek, image.
	Family         string        `mapstructure:"family"`
	APIKey         string        `mapstructure:"api_key"`
	BaseURL        string        `mapstructure:"base_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// ModelConfig declares one model and its capabilities.
type ModelConfig struct {
	Code             string `mapstructure:"code"`
	Provider         string `mapstructure:"provider"`
	SupportsThinking bool   `mapstructure:"supports_thinking"`
	SupportsVision   bool   `mapstructure:"supports_vision"`
	SupportsTools    bool   `mapstructure:"supports_tools"`
	MaxOutputTokens  int64  `mapstructure:"max_output_tokens"`
}

// DefaultsConfig holds the user default settings.
type DefaultsConfig struct {
	Model      string         `mapstructure:"model"`
	Parameters map[string]any `mapstructure:"parameters"`
	Thinking   bool           `mapstructure:"thinking"`
}

// StorageConfig configures the message store.
type StorageConfig struct {
	// DBPath defaults to $TURNROUTER_HOME/data/turnrouter.db.
	DBPath string `mapstructure:"db_path"`
}

// CostsConfig controls usage accounting and soft USD spending limits.
type CostsConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	DailyLimit   float64 `mapstructure:"daily_limit"`
	MonthlyLimit float64 `mapstructure:"monthly_limit"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Listen string `mapstructure:"listen"`
}

// ProfilesConfig locates agent profile files.
type ProfilesConfig struct {
	// Dir defaults to $TURNROUTER_HOME/profiles.
	Dir string `mapstructure:"dir"`
}

// PluginsConfig configures plugins exposed to models.
type PluginsConfig struct {
	MaxOutputChars int                        `mapstructure:"max_output_chars"`
	WebSearch      WebSearchConfig            `mapstructure:"web_search"`
	MCP            map[string]MCPServerConfig `mapstructure:"mcp"`
}

// WebSearchConfig configures the Brave web search plugin.
type WebSearchConfig struct {
	APIKey string `mapstructure:"api_key"`
}

// MCPServerConfig launches one MCP server over stdio.
type MCPServerConfig struct {
	Binary  string            `mapstructure:"binary"`
	Args    []string          `mapstructure:"args"`
	Env     map[string]string `mapstructure:"env"`
	Enabled bool              `mapstructure:"enabled"`
}

var defaultConfig = Config{
	Providers: map[string]ProviderConfig{
		"openai": {
			Family:         "openai",
			APIKey:         "$OPENAI_API_KEY",
			RequestTimeout: 2 * time.Minute,
		},
		"anthropic": {
			Family:         "anthropic",
			APIKey:         "$ANTHROPIC_API_KEY",
			RequestTimeout: 2 * time.Minute,
		},
		"gemini": {
			Family:         "gemini",
			APIKey:         "$GEMINI_API_KEY",
			BaseURL:        "https://generativelanguage.googleapis.com/v1beta",
			RequestTimeout: 2 * time.Minute,
		},
		"deepseek": {
			Family:         "deepseek",
			APIKey:         "$DEEPSEEK_API_KEY",
			BaseURL:        "https://api.deepseek.com",
			RequestTimeout: 5 * time.Minute,
		},
		"images": {
			Family:         "image",
			APIKey:         "$OPENAI_API_KEY",
			RequestTimeout: 2 * time.Minute,
		},
	},
	Models: map[string]ModelConfig{
		"gpt-4o": {
			Code: "gpt-4o", Provider: "openai",
			SupportsVision: true, SupportsTools: true, MaxOutputTokens: 16384,
		},
		"o3-mini": {
			Code: "o3-mini", Provider: "openai",
			SupportsTools: true, MaxOutputTokens: 100000,
		},
		"claude-sonnet": {
			Code: "claude-sonnet-4-5", Provider: "anthropic",
			SupportsThinking: true, SupportsVision: true, SupportsTools: true, MaxOutputTokens: 16384,
		},
		"gemini-flash": {
			Code: "gemini-2.5-flash", Provider: "gemini",
			SupportsThinking: true, SupportsVision: true, SupportsTools: true, MaxOutputTokens: 65536,
		},
		"deepseek-chat": {
			Code: "deepseek-chat", Provider: "deepseek",
			SupportsThinking: true, SupportsTools: true, MaxOutputTokens: 8192,
		},
		"dall-e-3": {
			Code: "dall-e-3", Provider: "images",
		},
	},
	Defaults: DefaultsConfig{
		Model: "claude-sonnet",
	},
	Costs: CostsConfig{
		Enabled: true,
	},
	Server: ServerConfig{
		Listen: "127.0.0.1:8787",
	},
	Plugins: PluginsConfig{
		MaxOutputChars: 12000,
		WebSearch: WebSearchConfig{
			APIKey: "$BRAVE_API_KEY",
		},
	},
}

// defaultUserConfig is the minimal bootstrap config written by
// `turnrouter config init`. It only contains user-editable essentials.
var defaultUserConfig = Config{
	Providers: map[string]ProviderConfig{
		"anthropic": defaultConfig.Providers["anthropic"],
		"openai":    defaultConfig.Providers["openai"],
	},
	Defaults: DefaultsConfig{
		Model: defaultConfig.Defaults.Model,
	},
}

// homeDir returns the turnrouter home directory.
// Uses TURNROUTER_HOME env var if set, otherwise defaults to ~/.turnrouter.
func homeDir() (string, error) {
	if dir := os.Getenv("TURNROUTER_HOME"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return defaultHomePath(home), nil
}

// Load merges hardcoded defaults and config file values in that order.
// Config is always at $TURNROUTER_HOME/config.toml; a missing file is not an error.
func Load() (*Config, error) {
	homeDir, err := homeDir()
	if err != nil {
		return nil, err
	}
	v, err := readViper(homeDir)
	if err != nil {
		return nil, err
	}

	var cfg Config
	decodeHook := mapstructure.ComposeDecodeHookFunc(
		expandEnvStringHook(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
	if err := v.Unmarshal(&cfg, func(c *mapstructure.DecoderConfig) {
		c.DecodeHook = decodeHook
	}); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.HomeDir = homeDir
	return &cfg, nil
}

// Write writes the merged configuration (defaults overlaid by user
// config) to w in TOML format.
func Write(w io.Writer) error {
	if w == nil {
		return errors.New("writer is required")
	}
	homeDir, err := homeDir()
	if err != nil {
		return err
	}
	v, err := readViper(homeDir)
	if err != nil {
		return err
	}

	// Keep duration fields human-readable in generated TOML.
	for name := range v.GetStringMap("providers") {
		key := "providers." + name + ".request_timeout"
		v.Set(key, v.GetDuration(key).String())
	}

	if err := v.WriteConfigTo(w); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// DefaultUserConfigTOML renders the minimal bootstrap user config as TOML.
func DefaultUserConfigTOML() (string, error) {
	v := viper.New()
	v.SetConfigType("toml")

	for name, p := range defaultUserConfig.Providers {
		v.Set("providers."+name+".family", p.Family)
		v.Set("providers."+name+".api_key", p.APIKey)
		v.Set("providers."+name+".request_timeout", p.RequestTimeout.String())
	}
	v.Set("defaults.model", defaultUserConfig.Defaults.Model)

	var out bytes.Buffer
	if err := v.WriteConfigTo(&out); err != nil {
		return "", fmt.Errorf("write default user config: %w", err)
	}
	return out.String(), nil
}

func readViper(homeDir string) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(homeConfigPath(homeDir))
	v.SetConfigType("toml")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}
	return v, nil
}

func setDefaults(v *viper.Viper) {
	for name, p := range defaultConfig.Providers {
		prefix := "providers." + name + "."
		v.SetDefault(prefix+"family", p.Family)
		v.SetDefault(prefix+"api_key", p.APIKey)
		v.SetDefault(prefix+"base_url", p.BaseURL)
		v.SetDefault(prefix+"request_timeout", p.RequestTimeout)
	}
	for id, m := range defaultConfig.Models {
		prefix := "models." + id + "."
		v.SetDefault(prefix+"code", m.Code)
		v.SetDefault(prefix+"provider", m.Provider)
		v.SetDefault(prefix+"supports_thinking", m.SupportsThinking)
		v.SetDefault(prefix+"supports_vision", m.SupportsVision)
		v.SetDefault(prefix+"supports_tools", m.SupportsTools)
		v.SetDefault(prefix+"max_output_tokens", m.MaxOutputTokens)
	}

	v.SetDefault("defaults.model", defaultConfig.Defaults.Model)
	v.SetDefault("defaults.thinking", defaultConfig.Defaults.Thinking)

	v.SetDefault("storage.db_path", defaultConfig.Storage.DBPath)

	v.SetDefault("costs.enabled", defaultConfig.Costs.Enabled)
	v.SetDefault("costs.daily_limit", defaultConfig.Costs.DailyLimit)
	v.SetDefault("costs.monthly_limit", defaultConfig.Costs.MonthlyLimit)

	v.SetDefault("server.listen", defaultConfig.Server.Listen)
	v.SetDefault("profiles.dir", defaultConfig.Profiles.Dir)

	v.SetDefault("plugins.max_output_chars", defaultConfig.Plugins.MaxOutputChars)
	v.SetDefault("plugins.web_search.api_key", defaultConfig.Plugins.WebSearch.APIKey)
}

func expandEnvStringHook() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if from.Kind() != reflect.String || to.Kind() != reflect.String {
			return data, nil
		}
		value, ok := data.(string)
		if !ok {
			return data, nil
		}
		return os.ExpandEnv(value), nil
	}
}
