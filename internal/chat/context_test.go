package chat

import (
	"errors"
	"testing"
)

func boolPtr(b bool) *bool { return &b }

func TestRequestContext_WithTurnsDoesNotAlias(t *testing.T) {
	history := []Turn{{Role: RoleUser, Content: "hello"}}
	base := NewRequestContext(Options{Model: &Model{ID: "m"}, History: history})

	history[0].Content = "mutated"
	if got := base.History()[0].Content; got != "hello" {
		t.Fatalf("context must copy history on construction, got %q", got)
	}

	next := base.WithTurns(Turn{Role: RoleAssistant, Content: "hi"})
	if len(base.History()) != 1 {
		t.Fatalf("base history grew to %d turns", len(base.History()))
	}
	if len(next.History()) != 2 {
		t.Fatalf("derived history has %d turns, want 2", len(next.History()))
	}

	h := next.History()
	h[0].Content = "changed"
	if next.History()[0].Content != "hello" {
		t.Fatal("History must return a copy")
	}
}

func TestRequestContext_ModelCopy(t *testing.T) {
	rc := NewRequestContext(Options{Model: &Model{ID: "m", MaxOutputTokens: 10}})
	m := rc.Model()
	m.MaxOutputTokens = 99
	if rc.Model().MaxOutputTokens != 10 {
		t.Fatal("Model must return a copy")
	}
	if NewRequestContext(Options{}).Model() != nil {
		t.Fatal("expected nil model")
	}
}

func TestRequestContext_ThinkingPrecedence(t *testing.T) {
	model := &Model{ID: "m", SupportsThinking: true}
	cases := []struct {
		name string
		opts Options
		want bool
	}{
		{name: "none", opts: Options{Model: model}, want: false},
		{name: "user", opts: Options{Model: model, User: &UserSettings{Thinking: boolPtr(true)}}, want: true},
		{
			name: "agent over user",
			opts: Options{Model: model, User: &UserSettings{Thinking: boolPtr(true)}, Agent: &AgentOverride{Thinking: boolPtr(false)}},
			want: false,
		},
		{
			name: "explicit over agent",
			opts: Options{Model: model, Agent: &AgentOverride{Thinking: boolPtr(false)}, Thinking: boolPtr(true)},
			want: true,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := NewRequestContext(tc.opts).ThinkingRequested(); got != tc.want {
				t.Fatalf("ThinkingRequested() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestRequestContext_NativeThinkingNeedsModelSupport(t *testing.T) {
	rc := NewRequestContext(Options{Model: &Model{ID: "m"}, Thinking: boolPtr(true)})
	if !rc.ThinkingRequested() {
		t.Fatal("thinking should be requested")
	}
	if rc.NativeThinking() {
		t.Fatal("native thinking must require model support")
	}
}

func TestMessageSetStatus_Monotonic(t *testing.T) {
	msg := &Message{Status: StatusStreaming}
	if err := msg.SetStatus(StatusCompleted); err != nil {
		t.Fatalf("streaming -> completed: %v", err)
	}
	if err := msg.SetStatus(StatusStreaming); !errors.Is(err, ErrStatusRegression) {
		t.Fatalf("expected regression error, got %v", err)
	}
	if err := msg.SetStatus(StatusFailed); !errors.Is(err, ErrStatusRegression) {
		t.Fatalf("expected regression error for terminal change, got %v", err)
	}
	if err := msg.SetStatus(StatusCompleted); err != nil {
		t.Fatalf("repeating terminal status should be accepted: %v", err)
	}
	if msg.Status != StatusCompleted {
		t.Fatalf("status changed to %s", msg.Status)
	}
}

func TestParseFamily(t *testing.T) {
	if f, err := ParseFamily(" Gemini "); err != nil || f != FamilyGemini {
		t.Fatalf("ParseFamily = %q, %v", f, err)
	}
	if _, err := ParseFamily("mistral"); err == nil {
		t.Fatal("expected error for unknown family")
	}
}
