package agent

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/neoclaw-ai/turnrouter/internal/chat"
	"gopkg.in/yaml.v3"
)

// ErrProfileNotFound is returned when no profile file matches a name.
var ErrProfileNotFound = errors.New("profile not found")

// Profile is an agent persona loaded from YAML.
type Profile struct {
	Name         string `yaml:"name"`
	Model        string `yaml:"model"`
	SystemPrompt string `yaml:"system_prompt"`
	// Parameters apply only when UseCustomParameters is set.
	Parameters          map[string]any `yaml:"parameters"`
	UseCustomParameters bool           `yaml:"use_custom_parameters"`
	Thinking            *bool          `yaml:"thinking"`
	// Tools limits the plugins offered to the model. Empty offers all.
	Tools []string `yaml:"tools"`
}

// LoadProfile reads an agent profile from a YAML file. A missing name
// defaults to the file name.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading profile %s: %w", path, err)
	}

	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parsing profile %s: %w", path, err)
	}
	if strings.TrimSpace(p.Name) == "" {
		p.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return &p, nil
}

// FindProfile loads dir/<name>.yaml or dir/<name>.yml.
func FindProfile(dir, name string) (*Profile, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return nil, fmt.Errorf("invalid profile name %q", name)
	}
	for _, ext := range []string{".yaml", ".yml"} {
		path := filepath.Join(dir, name+ext)
		if _, err := os.Stat(path); err == nil {
			return LoadProfile(path)
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrProfileNotFound, name)
}

// Override converts the profile into the request context agent override.
func (p *Profile) Override() *chat.AgentOverride {
	if p == nil {
		return nil
	}
	return &chat.AgentOverride{
		Name:                p.Name,
		SystemPrompt:        strings.TrimSpace(p.SystemPrompt),
		Parameters:          p.Parameters,
		UseCustomParameters: p.UseCustomParameters,
		Thinking:            p.Thinking,
	}
}
