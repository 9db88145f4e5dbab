package costs

import (
	"context"
	"sync"

	"github.com/neoclaw-ai/turnrouter/internal/chat"
	"github.com/neoclaw-ai/turnrouter/internal/logging"
	"github.com/pkoukk/tiktoken-go"
)

const fallbackEncoding = "cl100k_base"

// Estimator counts tokens locally for providers that report no usage.
type Estimator struct {
	load func(model string) (*tiktoken.Tiktoken, error)

	mu    sync.Mutex
	cache map[string]*tiktoken.Tiktoken
}

// NewEstimator returns an estimator backed by tiktoken encodings.
func NewEstimator() *Estimator {
	return &Estimator{load: loadEncoding, cache: make(map[string]*tiktoken.Tiktoken)}
}

func loadEncoding(model string) (*tiktoken.Tiktoken, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err == nil {
		return enc, nil
	}
	return tiktoken.GetEncoding(fallbackEncoding)
}

// Count returns the token count of text for model. When no encoding can be
// loaded it falls back to four characters per token.
func (e *Estimator) Count(model, text string) int64 {
	if text == "" {
		return 0
	}
	enc := e.encoding(model)
	if enc == nil {
		return int64(len(text)+3) / 4
	}
	return int64(len(enc.Encode(text, nil, nil)))
}

func (e *Estimator) encoding(model string) *tiktoken.Tiktoken {
	e.mu.Lock()
	defer e.mu.Unlock()
	if enc, ok := e.cache[model]; ok {
		return enc
	}
	enc, err := e.load(model)
	if err != nil {
		logging.Logger().Warn("tokenizer unavailable, using character estimate", "model", model, "err", err)
		enc = nil
	}
	e.cache[model] = enc
	return enc
}

// Usage describes one finished response for accounting.
type Usage struct {
	ChatID       string
	MessageID    string
	Provider     string
	Family       chat.Family
	Model        string
	InputTokens  int64
	OutputTokens int64
	// Prompt and Completion are used to estimate missing token counts.
	Prompt     string
	Completion string
}

// Recorder prices usage and appends it to a Tracker.
type Recorder struct {
	tracker   *Tracker
	estimator *Estimator
}

// NewRecorder returns a recorder. estimator may be nil to disable estimation.
func NewRecorder(tracker *Tracker, estimator *Estimator) *Recorder {
	return &Recorder{tracker: tracker, estimator: estimator}
}

// Tracker returns the underlying usage log.
func (r *Recorder) Tracker() *Tracker { return r.tracker }

// Record estimates missing token counts, prices the usage and appends it.
func (r *Recorder) Record(ctx context.Context, u Usage) (Record, error) {
	rec := Record{
		ChatID:       u.ChatID,
		MessageID:    u.MessageID,
		Provider:     u.Provider,
		Model:        u.Model,
		InputTokens:  u.InputTokens,
		OutputTokens: u.OutputTokens,
	}
	if r.estimator != nil {
		if rec.InputTokens == 0 && u.Prompt != "" {
			rec.InputTokens = r.estimator.Count(u.Model, u.Prompt)
			rec.Estimated = true
		}
		if rec.OutputTokens == 0 && u.Completion != "" {
			rec.OutputTokens = r.estimator.Count(u.Model, u.Completion)
			rec.Estimated = true
		}
	}
	if usd, ok := EstimateUSD(u.Family, u.Model, rec.InputTokens, rec.OutputTokens); ok {
		rec.CostUSD = usd
	}
	rec.TotalTokens = rec.InputTokens + rec.OutputTokens
	if err := r.tracker.Append(ctx, rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}
