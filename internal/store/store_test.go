package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/neoclaw-ai/turnrouter/internal/chat"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("opening memory db: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUpdateAndGet(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	msg := &chat.Message{ID: "m1", ChatID: "c1", ModelID: "claude-sonnet", Status: chat.StatusStreaming}
	if err := s.Update(ctx, msg); err != nil {
		t.Fatalf("insert: %v", err)
	}

	msg.Content = "Hello"
	msg.Thinking = "hmm"
	msg.ToolCalls = []chat.ToolCall{{ID: "abc", Name: "search", Arguments: `{"q":"cats"}`}}
	msg.InputTokens, msg.OutputTokens = 10, 3
	if err := msg.SetStatus(chat.StatusCompleted); err != nil {
		t.Fatalf("set status: %v", err)
	}
	if err := s.Update(ctx, msg); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := s.Get(ctx, "m1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Content != "Hello" || got.Thinking != "hmm" || got.Status != chat.StatusCompleted {
		t.Errorf("unexpected message %+v", got)
	}
	if got.Role != chat.RoleAssistant {
		t.Errorf("role = %q, want assistant", got.Role)
	}
	if len(got.ToolCalls) != 1 || got.ToolCalls[0].Arguments != `{"q":"cats"}` {
		t.Errorf("tool calls = %+v", got.ToolCalls)
	}
	if got.InputTokens != 10 || got.OutputTokens != 3 {
		t.Errorf("tokens = %d/%d", got.InputTokens, got.OutputTokens)
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Error("timestamps should be set")
	}
}

func TestGetUnknown(t *testing.T) {
	s := testStore(t)
	if _, err := s.Get(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateRejectsStatusRegression(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.Update(ctx, &chat.Message{ID: "m1", ChatID: "c1", Content: "done", Status: chat.StatusInterrupted}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	for _, next := range []chat.Status{chat.StatusStreaming, chat.StatusCompleted} {
		err := s.Update(ctx, &chat.Message{ID: "m1", ChatID: "c1", Content: "overwritten", Status: next})
		if !errors.Is(err, chat.ErrStatusRegression) {
			t.Fatalf("%s: expected ErrStatusRegression, got %v", next, err)
		}
	}

	got, err := s.Get(ctx, "m1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != chat.StatusInterrupted || got.Content != "done" {
		t.Fatalf("row must be unchanged, got %+v", got)
	}

	if err := s.Update(ctx, &chat.Message{ID: "m1", ChatID: "c1", Content: "done.", Status: chat.StatusInterrupted}); err != nil {
		t.Fatalf("same terminal status should be accepted: %v", err)
	}
}

func TestListMessages(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for _, m := range []*chat.Message{
		{ID: "a", ChatID: "c1", Content: "first"},
		{ID: "b", ChatID: "c2", Content: "other chat"},
		{ID: "c", ChatID: "c1", Content: "second"},
	} {
		if err := s.Update(ctx, m); err != nil {
			t.Fatalf("insert %s: %v", m.ID, err)
		}
	}

	msgs, err := s.ListMessages(ctx, "c1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 2 || msgs[0].ID != "a" || msgs[1].ID != "c" {
		t.Fatalf("unexpected messages %+v", msgs)
	}
}

func TestHistoryRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	err := s.AppendTurns(ctx, "c1",
		chat.Turn{
			Role:        chat.RoleUser,
			Content:     "what is this?",
			Attachments: []chat.ContentPart{chat.ImagePart{MimeType: "image/png", Data: "aGk=", Filename: "x.png"}},
		},
		chat.Turn{Role: chat.RoleAssistant, ToolCalls: []chat.ToolCall{{ID: "t1", Name: "search", Arguments: "{}"}}},
		chat.Turn{Role: chat.RoleTool, ToolResult: &chat.ToolResult{CallID: "t1", Name: "search", Content: "nothing", IsError: true}},
	)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.AppendTurns(ctx, "c1", chat.Turn{Role: chat.RoleAssistant, Content: "A cat."}); err != nil {
		t.Fatalf("append: %v", err)
	}

	turns, err := s.History(ctx, "c1")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(turns) != 4 {
		t.Fatalf("expected 4 turns, got %d", len(turns))
	}

	parts := turns[0].Parts()
	if len(parts) != 2 {
		t.Fatalf("expected text and image part, got %+v", parts)
	}
	if img, ok := parts[1].(chat.ImagePart); !ok || img.Data != "aGk=" || img.Filename != "x.png" {
		t.Fatalf("unexpected image part %+v", parts[1])
	}
	if len(turns[1].ToolCalls) != 1 || turns[1].ToolCalls[0].ID != "t1" {
		t.Fatalf("unexpected tool calls %+v", turns[1].ToolCalls)
	}
	if r := turns[2].ToolResult; r == nil || r.CallID != "t1" || !r.IsError {
		t.Fatalf("unexpected tool result %+v", r)
	}
	if turns[3].Content != "A cat." || turns[3].ToolCalls != nil {
		t.Fatalf("unexpected last turn %+v", turns[3])
	}

	empty, err := s.History(ctx, "unknown")
	if err != nil || len(empty) != 0 {
		t.Fatalf("expected empty history, got %v %v", empty, err)
	}
}

func TestOpenFileAndReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "turnrouter.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.Update(context.Background(), &chat.Message{ID: "m1", ChatID: "c1"}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	s.Close()

	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	if _, err := s.Get(context.Background(), "m1"); err != nil {
		t.Fatalf("expected persisted message: %v", err)
	}
}

func TestConcurrentUpdates(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			msg := &chat.Message{ID: id, ChatID: "c"}
			for j := 0; j < 5; j++ {
				msg.Content += "x"
				if err := s.Update(ctx, msg); err != nil {
					t.Errorf("update %s: %v", id, err)
					return
				}
			}
		}(string(rune('a' + i)))
	}
	wg.Wait()

	msgs, err := s.ListMessages(ctx, "c")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 8 {
		t.Fatalf("expected 8 messages, got %d", len(msgs))
	}
}
