// Package costs tracks LLM usage and spend in a JSONL log.
package costs

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ErrBudgetExceeded is returned when a spend limit has been reached.
var ErrBudgetExceeded = errors.New("spend limit reached")

// Record is one persisted usage entry.
type Record struct {
	Timestamp    time.Time `json:"timestamp"`
	ChatID       string    `json:"chat_id,omitempty"`
	MessageID    string    `json:"message_id,omitempty"`
	Provider     string    `json:"provider"`
	Model        string    `json:"model"`
	InputTokens  int64     `json:"input_tokens"`
	OutputTokens int64     `json:"output_tokens"`
	TotalTokens  int64     `json:"total_tokens"`
	CostUSD      float64   `json:"cost_usd"`
	// Estimated is set when token counts were computed locally.
	Estimated bool `json:"estimated,omitempty"`
}

// Spend holds aggregated spend totals in USD.
type Spend struct {
	TodayUSD float64
	MonthUSD float64
}

// Limits are optional spend caps in USD. Zero disables a cap.
type Limits struct {
	Daily   float64
	Monthly float64
}

// Tracker appends usage records and computes period spend totals.
type Tracker struct {
	path string
	mu   sync.Mutex
}

// New returns a Tracker for the configured usage JSONL path.
func New(path string) *Tracker {
	return &Tracker{path: path}
}

// Append writes one usage record to the JSONL file.
func (t *Tracker) Append(ctx context.Context, rec Record) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if t.path == "" {
		return errors.New("costs path is required")
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	if rec.TotalTokens == 0 {
		rec.TotalTokens = rec.InputTokens + rec.OutputTokens
	}
	if err := os.MkdirAll(filepath.Dir(t.path), 0o755); err != nil {
		return fmt.Errorf("create costs directory: %w", err)
	}

	f, err := os.OpenFile(t.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open costs file: %w", err)
	}
	defer f.Close()

	encoded, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal costs record: %w", err)
	}
	if _, err := f.Write(append(encoded, '\n')); err != nil {
		return fmt.Errorf("append costs record: %w", err)
	}
	return nil
}

// Spend returns today's and this month's spend totals in USD.
func (t *Tracker) Spend(ctx context.Context, now time.Time) (Spend, error) {
	if now.IsZero() {
		now = time.Now()
	}
	var totals Spend
	err := t.scan(ctx, func(rec Record) {
		y, m, d := rec.Timestamp.In(time.Local).Date()
		ny, nm, nd := now.In(time.Local).Date()
		if y == ny && m == nm {
			totals.MonthUSD += rec.CostUSD
			if d == nd {
				totals.TodayUSD += rec.CostUSD
			}
		}
	})
	if err != nil {
		return Spend{}, err
	}
	return totals, nil
}

// Records returns every readable record in file order. Malformed lines are
// skipped.
func (t *Tracker) Records(ctx context.Context) ([]Record, error) {
	var out []Record
	if err := t.scan(ctx, func(rec Record) { out = append(out, rec) }); err != nil {
		return nil, err
	}
	return out, nil
}

// CheckBudget returns ErrBudgetExceeded when today's or this month's spend
// has reached its limit.
func (t *Tracker) CheckBudget(ctx context.Context, limits Limits, now time.Time) error {
	if limits.Daily <= 0 && limits.Monthly <= 0 {
		return nil
	}
	spend, err := t.Spend(ctx, now)
	if err != nil {
		return err
	}
	if limits.Daily > 0 && spend.TodayUSD >= limits.Daily {
		return fmt.Errorf("%w: daily spend $%.2f of $%.2f", ErrBudgetExceeded, spend.TodayUSD, limits.Daily)
	}
	if limits.Monthly > 0 && spend.MonthUSD >= limits.Monthly {
		return fmt.Errorf("%w: monthly spend $%.2f of $%.2f", ErrBudgetExceeded, spend.MonthUSD, limits.Monthly)
	}
	return nil
}

func (t *Tracker) scan(ctx context.Context, fn func(Record)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if t.path == "" {
		return errors.New("costs path is required")
	}

	f, err := os.Open(t.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open costs file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		fn(rec)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan costs file: %w", err)
	}
	return nil
}
