// Package store persists response messages and conversation history in
// SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/neoclaw-ai/turnrouter/internal/chat"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a message does not exist.
var ErrNotFound = errors.New("not found")

// Store implements the message store and chat history on SQLite.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open creates or opens a SQLite database at path and runs migrations.
// Use ":memory:" for an in-memory database.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One connection: SQLite has a single writer and every :memory:
	// connection would otherwise be a separate database.
	db.SetMaxOpenConns(1)

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Update upserts msg. A message in a terminal status only accepts updates
// that keep the same status; any other transition returns
// chat.ErrStatusRegression and leaves the row unchanged.
func (s *Store) Update(ctx context.Context, msg *chat.Message) error {
	if msg == nil || msg.ID == "" {
		return errors.New("message id is required")
	}
	now := s.now()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}
	msg.UpdatedAt = now
	if msg.Role == "" {
		msg.Role = chat.RoleAssistant
	}
	if msg.Status == "" {
		msg.Status = chat.StatusStreaming
	}

	calls, err := json.Marshal(nonNil(msg.ToolCalls))
	if err != nil {
		return fmt.Errorf("marshaling tool calls: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, chat_id, user_id, role, model_id, content, thinking, status,
		                      tool_calls, input_tokens, output_tokens, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content = excluded.content,
			thinking = excluded.thinking,
			status = excluded.status,
			tool_calls = excluded.tool_calls,
			input_tokens = excluded.input_tokens,
			output_tokens = excluded.output_tokens,
			updated_at = excluded.updated_at
		WHERE messages.status = 'streaming' OR messages.status = excluded.status`,
		msg.ID, msg.ChatID, msg.UserID, string(msg.Role), msg.ModelID, msg.Content, msg.Thinking,
		string(msg.Status), string(calls), msg.InputTokens, msg.OutputTokens,
		formatTime(msg.CreatedAt), formatTime(msg.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("saving message %s: %w", msg.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("saving message %s: %w", msg.ID, err)
	}
	if n == 0 {
		current, err := s.Get(ctx, msg.ID)
		if err != nil {
			return err
		}
		return fmt.Errorf("%w: %s -> %s", chat.ErrStatusRegression, current.Status, msg.Status)
	}
	return nil
}

const messageColumns = `id, chat_id, user_id, role, model_id, content, thinking, status,
	tool_calls, input_tokens, output_tokens, created_at, updated_at`

// Get returns a message by id.
func (s *Store) Get(ctx context.Context, id string) (*chat.Message, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)
	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("message %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// ListMessages returns the messages of a chat, oldest first.
func (s *Store) ListMessages(ctx context.Context, chatID string) ([]chat.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+` FROM messages WHERE chat_id = ? ORDER BY created_at, rowid`, chatID)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	defer rows.Close()

	var out []chat.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *msg)
	}
	return out, rows.Err()
}

// AppendTurns adds turns to the end of a chat's history. Attachments are
// stored inline in the turn content.
func (s *Store) AppendTurns(ctx context.Context, chatID string, turns ...chat.Turn) error {
	if chatID == "" {
		return errors.New("chat id is required")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append turns: %w", err)
	}
	defer tx.Rollback()

	now := formatTime(s.now())
	for _, t := range turns {
		calls, err := json.Marshal(nonNil(t.ToolCalls))
		if err != nil {
			return fmt.Errorf("marshaling tool calls: %w", err)
		}
		var result sql.NullString
		if t.ToolResult != nil {
			raw, err := json.Marshal(t.ToolResult)
			if err != nil {
				return fmt.Errorf("marshaling tool result: %w", err)
			}
			result = sql.NullString{String: string(raw), Valid: true}
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO turns (chat_id, role, content, tool_calls, tool_result, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			chatID, string(t.Role), inlineContent(t), string(calls), result, now,
		); err != nil {
			return fmt.Errorf("inserting turn: %w", err)
		}
	}
	return tx.Commit()
}

// History returns a chat's turns in insertion order. An unknown chat has
// an empty history.
func (s *Store) History(ctx context.Context, chatID string) ([]chat.Turn, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT role, content, tool_calls, tool_result FROM turns WHERE chat_id = ? ORDER BY seq`, chatID)
	if err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}
	defer rows.Close()

	var out []chat.Turn
	for rows.Next() {
		var (
			role, content, calls string
			result               sql.NullString
		)
		if err := rows.Scan(&role, &content, &calls, &result); err != nil {
			return nil, fmt.Errorf("scanning turn: %w", err)
		}
		t := chat.Turn{Role: chat.Role(role), Content: content}
		if err := json.Unmarshal([]byte(calls), &t.ToolCalls); err != nil {
			return nil, fmt.Errorf("unmarshaling tool calls: %w", err)
		}
		if len(t.ToolCalls) == 0 {
			t.ToolCalls = nil
		}
		if result.Valid {
			t.ToolResult = &chat.ToolResult{}
			if err := json.Unmarshal([]byte(result.String), t.ToolResult); err != nil {
				return nil, fmt.Errorf("unmarshaling tool result: %w", err)
			}
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(sc scanner) (*chat.Message, error) {
	var (
		msg                  chat.Message
		role, status, calls  string
		createdAt, updatedAt string
	)
	if err := sc.Scan(&msg.ID, &msg.ChatID, &msg.UserID, &role, &msg.ModelID, &msg.Content, &msg.Thinking,
		&status, &calls, &msg.InputTokens, &msg.OutputTokens, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning message: %w", err)
	}
	msg.Role = chat.Role(role)
	msg.Status = chat.Status(status)
	if err := json.Unmarshal([]byte(calls), &msg.ToolCalls); err != nil {
		return nil, fmt.Errorf("unmarshaling tool calls: %w", err)
	}
	if len(msg.ToolCalls) == 0 {
		msg.ToolCalls = nil
	}
	msg.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	msg.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &msg, nil
}

func inlineContent(t chat.Turn) string {
	if len(t.Attachments) == 0 {
		return t.Content
	}
	parts := make([]string, 0, len(t.Attachments)+1)
	if t.Content != "" {
		parts = append(parts, t.Content)
	}
	for _, a := range t.Attachments {
		parts = append(parts, chat.FormatAttachment(a))
	}
	return strings.Join(parts, "\n")
}

func nonNil(calls []chat.ToolCall) []chat.ToolCall {
	if calls == nil {
		return []chat.ToolCall{}
	}
	return calls
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
