package costs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/neoclaw-ai/turnrouter/internal/chat"
	"github.com/pkoukk/tiktoken-go"
)

func TestEstimateUSD(t *testing.T) {
	t.Parallel()

	cases := []struct {
		family chat.Family
		model  string
		want   float64
	}{
		{chat.FamilyAnthropic, "claude-sonnet-4-5", 18.00},
		{chat.FamilyAnthropic, "claude-haiku-4-5", 4.80},
		{chat.FamilyOpenAI, "gpt-4o-mini", 0.75},
		{chat.FamilyOpenAI, "gpt-4o", 12.50},
		{chat.FamilyDeepSeek, "deepseek-reasoner", 2.74},
	}
	for _, tc := range cases {
		t.Run(tc.model, func(t *testing.T) {
			t.Parallel()
			usd, ok := EstimateUSD(tc.family, tc.model, 1_000_000, 1_000_000)
			if !ok {
				t.Fatalf("expected pricing for %q", tc.model)
			}
			if diff := usd - tc.want; diff > 1e-9 || diff < -1e-9 {
				t.Fatalf("expected %.4f for %q, got %.4f", tc.want, tc.model, usd)
			}
		})
	}

	if _, ok := EstimateUSD(chat.FamilyAnthropic, "unknown-model", 10, 10); ok {
		t.Fatalf("expected unknown model to have no pricing")
	}
	if _, ok := EstimateUSD(chat.FamilyImage, "dall-e-3", 10, 10); ok {
		t.Fatalf("expected image family to have no token pricing")
	}
}

func TestTrackerAppendAndSpend(t *testing.T) {
	t.Parallel()

	tracker := New(filepath.Join(t.TempDir(), "logs", "usage.jsonl"))
	now := time.Date(2026, 2, 19, 12, 0, 0, 0, time.Local)

	for _, rec := range []Record{
		{Timestamp: now.Add(-1 * time.Hour), Provider: "anthropic", Model: "claude-sonnet-4-5", InputTokens: 100, OutputTokens: 50, CostUSD: 1.25},
		{Timestamp: now.AddDate(0, 0, -1), Provider: "anthropic", Model: "claude-sonnet-4-5", InputTokens: 50, OutputTokens: 25, CostUSD: 0.75},
		{Timestamp: now.AddDate(0, -1, 0), Provider: "openai", Model: "gpt-4o", CostUSD: 9},
	} {
		if err := tracker.Append(context.Background(), rec); err != nil {
			t.Fatalf("append record: %v", err)
		}
	}

	spend, err := tracker.Spend(context.Background(), now)
	if err != nil {
		t.Fatalf("compute spend: %v", err)
	}
	if spend.TodayUSD != 1.25 {
		t.Fatalf("expected today spend 1.25, got %.2f", spend.TodayUSD)
	}
	if spend.MonthUSD != 2.00 {
		t.Fatalf("expected month spend 2.00, got %.2f", spend.MonthUSD)
	}

	records, err := tracker.Records(context.Background())
	if err != nil {
		t.Fatalf("records: %v", err)
	}
	if len(records) != 3 || records[0].TotalTokens != 150 {
		t.Fatalf("unexpected records %+v", records)
	}
}

func TestTrackerSpendSkipsMalformedLines(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "usage.jsonl")
	content := strings.Join([]string{
		`{"timestamp":"not-a-timestamp","cost_usd":2.5}`,
		`not json at all`,
		`{"timestamp":"2026-02-19T12:00:00Z","provider":"anthropic","model":"claude-sonnet-4-5","cost_usd":2.5}`,
		"",
	}, "\n")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	spend, err := New(path).Spend(context.Background(), time.Date(2026, 2, 19, 12, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("compute spend: %v", err)
	}
	if spend.MonthUSD != 2.5 {
		t.Fatalf("expected only the valid line to count, got month=%.2f", spend.MonthUSD)
	}
}

func TestTrackerSpendMissingFile(t *testing.T) {
	t.Parallel()

	spend, err := New(filepath.Join(t.TempDir(), "absent.jsonl")).Spend(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("missing file must not be an error: %v", err)
	}
	if spend != (Spend{}) {
		t.Fatalf("expected zero spend, got %+v", spend)
	}
}

func TestCheckBudget(t *testing.T) {
	t.Parallel()

	tracker := New(filepath.Join(t.TempDir(), "usage.jsonl"))
	now := time.Date(2026, 2, 19, 12, 0, 0, 0, time.Local)
	if err := tracker.Append(context.Background(), Record{Timestamp: now, CostUSD: 3}); err != nil {
		t.Fatalf("append: %v", err)
	}

	if err := tracker.CheckBudget(context.Background(), Limits{}, now); err != nil {
		t.Fatalf("no limits must pass: %v", err)
	}
	if err := tracker.CheckBudget(context.Background(), Limits{Daily: 5, Monthly: 10}, now); err != nil {
		t.Fatalf("under limits must pass: %v", err)
	}
	err := tracker.CheckBudget(context.Background(), Limits{Daily: 2}, now)
	if !errors.Is(err, ErrBudgetExceeded) || !strings.Contains(err.Error(), "daily") {
		t.Fatalf("expected daily budget error, got %v", err)
	}
	err = tracker.CheckBudget(context.Background(), Limits{Monthly: 3}, now)
	if !errors.Is(err, ErrBudgetExceeded) || !strings.Contains(err.Error(), "monthly") {
		t.Fatalf("expected monthly budget error, got %v", err)
	}
}

func TestRecorderEstimatesMissingUsage(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "usage.jsonl")
	est := &Estimator{
		load:  func(string) (*tiktoken.Tiktoken, error) { return nil, errors.New("offline") },
		cache: map[string]*tiktoken.Tiktoken{},
	}
	rec, err := NewRecorder(New(path), est).Record(context.Background(), Usage{
		Provider:   "gemini",
		Family:     chat.FamilyGemini,
		Model:      "gemini-2.5-flash",
		Prompt:     strings.Repeat("a", 400),
		Completion: strings.Repeat("b", 40),
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if !rec.Estimated || rec.InputTokens != 100 || rec.OutputTokens != 10 {
		t.Fatalf("unexpected estimate %+v", rec)
	}
	if rec.CostUSD <= 0 {
		t.Fatalf("expected priced record, got %+v", rec)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read usage file: %v", err)
	}
	if !strings.Contains(string(data), `"estimated":true`) {
		t.Fatalf("expected estimated flag in %s", data)
	}
}

func TestRecorderKeepsReportedUsage(t *testing.T) {
	t.Parallel()

	rec, err := NewRecorder(New(filepath.Join(t.TempDir(), "usage.jsonl")), nil).Record(context.Background(), Usage{
		Family:       chat.FamilyAnthropic,
		Model:        "claude-sonnet-4-5",
		InputTokens:  1000,
		OutputTokens: 200,
		Prompt:       "ignored",
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if rec.Estimated || rec.TotalTokens != 1200 {
		t.Fatalf("unexpected record %+v", rec)
	}
}
