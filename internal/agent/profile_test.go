package agent

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadProfile_DefaultsNameToFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "reviewer.yml")
	body := "system_prompt: \"  Review code.  \"\nuse_custom_parameters: true\nparameters:\n  temperature: 0.2\nthinking: false\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	p, err := FindProfile(dir, "reviewer")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if p.Name != "reviewer" {
		t.Fatalf("name = %q", p.Name)
	}

	o := p.Override()
	if o.SystemPrompt != "Review code." || !o.UseCustomParameters || o.Parameters["temperature"] != 0.2 {
		t.Fatalf("unexpected override %+v", o)
	}
	if o.Thinking == nil || *o.Thinking {
		t.Fatalf("thinking = %v", o.Thinking)
	}
}

func TestFindProfile_RejectsPaths(t *testing.T) {
	for _, name := range []string{"", "..", "../etc/passwd", `a\b`} {
		if _, err := FindProfile(t.TempDir(), name); err == nil {
			t.Errorf("%q: expected error", name)
		}
	}
}

func TestFindProfile_NotFound(t *testing.T) {
	if _, err := FindProfile(t.TempDir(), "missing"); !errors.Is(err, ErrProfileNotFound) {
		t.Fatalf("expected ErrProfileNotFound, got %v", err)
	}
}

func TestLoadProfile_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("name: [unclosed"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadProfile(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestOverride_NilProfile(t *testing.T) {
	var p *Profile
	if p.Override() != nil {
		t.Fatal("nil profile should have no override")
	}
}
