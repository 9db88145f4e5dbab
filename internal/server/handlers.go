package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/neoclaw-ai/turnrouter/internal/agent"
	"github.com/neoclaw-ai/turnrouter/internal/chat"
	"github.com/neoclaw-ai/turnrouter/internal/config"
	"github.com/neoclaw-ai/turnrouter/internal/costs"
	"github.com/neoclaw-ai/turnrouter/internal/logging"
)

// --- JSON helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Logger().Debug("write json response", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// --- Responses ---

type attachmentRequest struct {
	// Type is image or file.
	Type     string `json:"type"`
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
	Filename string `json:"filename"`
}

type startResponseRequest struct {
	UserID      string              `json:"user_id"`
	Prompt      string              `json:"prompt"`
	Model       string              `json:"model"`
	Profile     string              `json:"profile"`
	Thinking    *bool               `json:"thinking"`
	Attachments []attachmentRequest `json:"attachments"`
}

type startResponseReply struct {
	MessageID string `json:"message_id"`
	ChatID    string `json:"chat_id"`
}

func (s *Server) handleStartResponse(w http.ResponseWriter, r *http.Request) {
	var req startResponseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	attachments, err := toParts(req.Attachments)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	chatID := chi.URLParam(r, "chatID")
	// The generation outlives the request; Stop or shutdown ends it.
	id, _, err := s.responses.Start(context.WithoutCancel(r.Context()), agent.Prompt{
		ChatID:      chatID,
		UserID:      req.UserID,
		Text:        req.Prompt,
		Attachments: attachments,
		ModelID:     req.Model,
		Profile:     req.Profile,
		Thinking:    req.Thinking,
	})
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, startResponseReply{MessageID: id, ChatID: chatID})
}

func (s *Server) handleGetResponse(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "active": s.responses.IsActive(id)})
}

func (s *Server) handleStopResponse(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.responses.Stop(id) {
		writeError(w, http.StatusNotFound, "response not active")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "stopped": true})
}

// --- Messages ---

type messageView struct {
	ID           string         `json:"id"`
	ChatID       string         `json:"chat_id"`
	UserID       string         `json:"user_id,omitempty"`
	Role         chat.Role      `json:"role"`
	ModelID      string         `json:"model_id,omitempty"`
	Content      string         `json:"content"`
	Thinking     string         `json:"thinking,omitempty"`
	Status       chat.Status    `json:"status"`
	ToolCalls    []toolCallView `json:"tool_calls,omitempty"`
	InputTokens  int64          `json:"input_tokens"`
	OutputTokens int64          `json:"output_tokens"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

type toolCallView struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := s.messages.ListMessages(r.Context(), chi.URLParam(r, "chatID"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]messageView, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, newMessageView(m))
	}
	writeJSON(w, http.StatusOK, out)
}

func newMessageView(m chat.Message) messageView {
	v := messageView{
		ID:           m.ID,
		ChatID:       m.ChatID,
		UserID:       m.UserID,
		Role:         m.Role,
		ModelID:      m.ModelID,
		Content:      m.Content,
		Thinking:     m.Thinking,
		Status:       m.Status,
		InputTokens:  m.InputTokens,
		OutputTokens: m.OutputTokens,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
	for _, tc := range m.ToolCalls {
		args := json.RawMessage(tc.Arguments)
		if !json.Valid(args) {
			quoted, _ := json.Marshal(tc.Arguments)
			args = quoted
		}
		v.ToolCalls = append(v.ToolCalls, toolCallView{ID: tc.ID, Name: tc.Name, Arguments: args})
	}
	return v
}

func toParts(in []attachmentRequest) ([]chat.ContentPart, error) {
	parts := make([]chat.ContentPart, 0, len(in))
	for _, a := range in {
		switch a.Type {
		case "image":
			parts = append(parts, chat.ImagePart{MimeType: a.MimeType, Data: a.Data, Filename: a.Filename})
		case "file":
			if a.Filename == "" {
				return nil, errors.New("file attachments need a filename")
			}
			parts = append(parts, chat.FilePart{MimeType: a.MimeType, Data: a.Data, Filename: a.Filename})
		default:
			return nil, errors.New(`attachment type must be "image" or "file"`)
		}
	}
	return parts, nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, agent.ErrEmptyPrompt), errors.Is(err, config.ErrUnknownModel):
		return http.StatusBadRequest
	case errors.Is(err, agent.ErrProfileNotFound):
		return http.StatusNotFound
	case errors.Is(err, costs.ErrBudgetExceeded):
		return http.StatusPaymentRequired
	}
	return http.StatusInternalServerError
}
