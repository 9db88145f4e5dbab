package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/neoclaw-ai/turnrouter/internal/chat"
	"github.com/neoclaw-ai/turnrouter/internal/logging"
	"github.com/neoclaw-ai/turnrouter/internal/runtime"
)

// ErrEmptyPrompt is returned for a prompt without text or attachments.
var ErrEmptyPrompt = errors.New("prompt is empty")

// Catalog resolves models and the user's default settings.
type Catalog interface {
	Model(id string) (*chat.Model, error)
	UserSettings() *chat.UserSettings
}

// History loads and extends chat histories.
type History interface {
	History(ctx context.Context, chatID string) ([]chat.Turn, error)
	AppendTurns(ctx context.Context, chatID string, turns ...chat.Turn) error
}

// Prompt is one user message to answer.
type Prompt struct {
	ChatID      string
	UserID      string
	Text        string
	Attachments []chat.ContentPart
	// ModelID overrides the profile and default model.
	ModelID string
	// Profile names a YAML agent profile in the profiles directory.
	Profile  string
	Thinking *bool
}

// ServiceConfig wires a Service.
type ServiceConfig struct {
	Runner      *Runner
	Catalog     Catalog
	History     History
	Active      *runtime.Registry
	ProfilesDir string
	// Budget, when set, is checked before every generation.
	Budget func(ctx context.Context) error
}

// Service answers prompts: it resolves the model and profile, keeps the
// chat history and tracks every in-flight response for cancellation.
type Service struct {
	runner   *Runner
	catalog  Catalog
	history  History
	active   *runtime.Registry
	profiles string
	budget   func(ctx context.Context) error
	newID    func() string
}

// NewService creates a Service.
func NewService(cfg ServiceConfig) *Service {
	active := cfg.Active
	if active == nil {
		active = runtime.NewRegistry()
	}
	return &Service{
		runner:   cfg.Runner,
		catalog:  cfg.Catalog,
		history:  cfg.History,
		active:   active,
		profiles: cfg.ProfilesDir,
		budget:   cfg.Budget,
		newID:    uuid.NewString,
	}
}

// Generate answers p and blocks until the response is terminal.
func (s *Service) Generate(ctx context.Context, p Prompt) (Result, error) {
	req, err := s.prepare(ctx, p)
	if err != nil {
		return Result{}, err
	}
	runCtx, release := s.active.Start(ctx, req.MessageID)
	defer release()
	return s.execute(runCtx, req)
}

// Start answers p in the background and returns the response message id.
// parent bounds the generation's lifetime; Stop cancels it early. The
// channel receives the final result and is then closed.
func (s *Service) Start(parent context.Context, p Prompt) (string, <-chan Result, error) {
	req, err := s.prepare(parent, p)
	if err != nil {
		return "", nil, err
	}
	runCtx, release := s.active.Start(parent, req.MessageID)
	done := make(chan Result, 1)
	go func() {
		defer close(done)
		defer release()
		res, err := s.execute(runCtx, req)
		if err != nil {
			logging.Logger().Debug("background response failed", "message_id", req.MessageID, "err", err)
		}
		done <- res
	}()
	return req.MessageID, done, nil
}

// Stop cancels an in-flight response. It reports false for unknown ids.
func (s *Service) Stop(messageID string) bool {
	return s.active.Stop(messageID)
}

// IsActive reports whether a response is still generating.
func (s *Service) IsActive(messageID string) bool {
	return s.active.IsActive(messageID)
}

// StopAll cancels every in-flight response.
func (s *Service) StopAll() {
	s.active.StopAll()
}

func (s *Service) prepare(ctx context.Context, p Prompt) (Request, error) {
	if strings.TrimSpace(p.Text) == "" && len(p.Attachments) == 0 {
		return Request{}, ErrEmptyPrompt
	}
	if p.ChatID == "" {
		p.ChatID = s.newID()
	}

	var profile *Profile
	if p.Profile != "" {
		var err error
		profile, err = FindProfile(s.profiles, p.Profile)
		if err != nil {
			return Request{}, err
		}
	}

	modelID := p.ModelID
	if modelID == "" && profile != nil {
		modelID = profile.Model
	}
	model, err := s.catalog.Model(modelID)
	if err != nil {
		return Request{}, err
	}

	if s.budget != nil {
		if err := s.budget(ctx); err != nil {
			return Request{}, err
		}
	}

	history, err := s.history.History(ctx, p.ChatID)
	if err != nil {
		return Request{}, fmt.Errorf("load history: %w", err)
	}
	user := chat.Turn{Role: chat.RoleUser, Content: p.Text, Attachments: p.Attachments}
	if err := s.history.AppendTurns(ctx, p.ChatID, user); err != nil {
		return Request{}, fmt.Errorf("save prompt: %w", err)
	}

	req := Request{
		MessageID: s.newID(),
		ChatID:    p.ChatID,
		Context: chat.NewRequestContext(chat.Options{
			UserID:   p.UserID,
			Model:    model,
			History:  append(history, user),
			Agent:    profile.Override(),
			User:     s.catalog.UserSettings(),
			Thinking: p.Thinking,
		}),
	}
	if profile != nil {
		req.Tools = profile.Tools
	}
	return req, nil
}

func (s *Service) execute(ctx context.Context, req Request) (Result, error) {
	res, err := s.runner.Run(ctx, req)
	if res.State != StateFailed && res.Message.Content != "" {
		turn := chat.Turn{Role: chat.RoleAssistant, Content: res.Message.Content}
		if herr := s.history.AppendTurns(context.WithoutCancel(ctx), req.ChatID, turn); herr != nil {
			logging.Logger().Warn("save response to history", "chat_id", req.ChatID, "err", herr)
		}
	}
	return res, err
}
