package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/neoclaw-ai/turnrouter/internal/agent"
	"github.com/neoclaw-ai/turnrouter/internal/chat"
	"github.com/neoclaw-ai/turnrouter/internal/costs"
	"github.com/neoclaw-ai/turnrouter/internal/notify"
	"github.com/neoclaw-ai/turnrouter/internal/store"
)

type fakeResponder struct {
	mu      sync.Mutex
	prompts []agent.Prompt
	active  map[string]bool
	err     error
	stopped int
}

func (f *fakeResponder) Start(_ context.Context, p agent.Prompt) (string, <-chan agent.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", nil, f.err
	}
	f.prompts = append(f.prompts, p)
	if f.active == nil {
		f.active = map[string]bool{}
	}
	f.active["resp-1"] = true
	return "resp-1", make(chan agent.Result), nil
}

func (f *fakeResponder) Stop(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.active[id] {
		return false
	}
	delete(f.active, id)
	return true
}

func (f *fakeResponder) IsActive(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active[id]
}

func (f *fakeResponder) StopAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped++
	f.active = nil
}

func newTestServer(t *testing.T, resp *fakeResponder) (*httptest.Server, *store.Store, *notify.Hub) {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	hub := notify.NewHub(8)
	ts := httptest.NewServer(New(resp, st, hub).Handler())
	t.Cleanup(ts.Close)
	return ts, st, hub
}

func doRequest(t *testing.T, method, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer res.Body.Close()
	var out map[string]any
	json.NewDecoder(res.Body).Decode(&out)
	return res, out
}

func TestStartResponse(t *testing.T) {
	resp := &fakeResponder{}
	ts, _, _ := newTestServer(t, resp)

	body := `{"prompt":"hello","model":"gpt","user_id":"u1","attachments":[{"type":"image","mime_type":"image/png","data":"aGk="}]}`
	res, out := doRequest(t, http.MethodPost, ts.URL+"/api/chats/c1/responses", body)
	if res.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d", res.StatusCode)
	}
	if out["message_id"] != "resp-1" || out["chat_id"] != "c1" {
		t.Fatalf("unexpected reply %v", out)
	}
	if res.Header.Get("Content-Type") != "application/json" {
		t.Fatalf("content type = %q", res.Header.Get("Content-Type"))
	}
	p := resp.prompts[0]
	if p.ChatID != "c1" || p.Text != "hello" || p.ModelID != "gpt" || p.UserID != "u1" {
		t.Fatalf("unexpected prompt %+v", p)
	}
	if img, ok := p.Attachments[0].(chat.ImagePart); !ok || img.Data != "aGk=" {
		t.Fatalf("unexpected attachment %+v", p.Attachments)
	}
}

func TestStartResponse_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		err  error
		want int
	}{
		{name: "bad json", body: `{`, want: http.StatusBadRequest},
		{name: "bad attachment", body: `{"prompt":"x","attachments":[{"type":"video"}]}`, want: http.StatusBadRequest},
		{name: "empty prompt", body: `{"prompt":""}`, err: agent.ErrEmptyPrompt, want: http.StatusBadRequest},
		{name: "missing profile", body: `{"prompt":"x","profile":"ghost"}`, err: agent.ErrProfileNotFound, want: http.StatusNotFound},
		{name: "over budget", body: `{"prompt":"x"}`, err: costs.ErrBudgetExceeded, want: http.StatusPaymentRequired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts, _, _ := newTestServer(t, &fakeResponder{err: tt.err})
			res, out := doRequest(t, http.MethodPost, ts.URL+"/api/chats/c1/responses", tt.body)
			if res.StatusCode != tt.want {
				t.Fatalf("status = %d, want %d", res.StatusCode, tt.want)
			}
			if out["error"] == "" {
				t.Fatal("expected error message")
			}
		})
	}
}

func TestStopAndStatus(t *testing.T) {
	resp := &fakeResponder{active: map[string]bool{"resp-1": true}}
	ts, _, _ := newTestServer(t, resp)

	if _, out := doRequest(t, http.MethodGet, ts.URL+"/api/responses/resp-1", ""); out["active"] != true {
		t.Fatalf("expected active, got %v", out)
	}
	if res, _ := doRequest(t, http.MethodDelete, ts.URL+"/api/responses/resp-1", ""); res.StatusCode != http.StatusOK {
		t.Fatalf("stop status = %d", res.StatusCode)
	}
	if _, out := doRequest(t, http.MethodGet, ts.URL+"/api/responses/resp-1", ""); out["active"] != false {
		t.Fatalf("expected inactive, got %v", out)
	}
	if res, _ := doRequest(t, http.MethodDelete, ts.URL+"/api/responses/resp-1", ""); res.StatusCode != http.StatusNotFound {
		t.Fatalf("second stop status = %d, want 404", res.StatusCode)
	}
}

func TestListMessages(t *testing.T) {
	ts, st, _ := newTestServer(t, &fakeResponder{})
	msg := &chat.Message{
		ID:        "m1",
		ChatID:    "c1",
		Content:   "Hi",
		Status:    chat.StatusCompleted,
		ToolCalls: []chat.ToolCall{{ID: "t1", Name: "search", Arguments: `{"q":"x"}`}},
	}
	if err := st.Update(context.Background(), msg); err != nil {
		t.Fatalf("seed: %v", err)
	}

	res, err := http.Get(ts.URL + "/api/chats/c1/messages")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer res.Body.Close()
	var msgs []messageView
	if err := json.NewDecoder(res.Body).Decode(&msgs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Content != "Hi" || msgs[0].Status != chat.StatusCompleted {
		t.Fatalf("unexpected messages %+v", msgs)
	}
	if string(msgs[0].ToolCalls[0].Arguments) != `{"q":"x"}` {
		t.Fatalf("arguments = %s", msgs[0].ToolCalls[0].Arguments)
	}
}

func TestEventsWebsocket(t *testing.T) {
	ts, _, hub := newTestServer(t, &fakeResponder{})
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/events?chat_id=c1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Subscribers() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	hub.Publish(notify.Event{Kind: notify.ChunkReceived, ChatID: "other", MessageID: "x", Delta: "skip"})
	hub.Publish(notify.Event{Kind: notify.ChunkReceived, ChatID: "c1", MessageID: "m1", Delta: "Hel"})
	hub.Publish(notify.Event{Kind: notify.ResponseCompleted, ChatID: "c1", MessageID: "m1", Status: "completed"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var first, second notify.Event
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read: %v", err)
	}
	if err := conn.ReadJSON(&second); err != nil {
		t.Fatalf("read: %v", err)
	}
	if first.Delta != "Hel" || first.Kind != notify.ChunkReceived {
		t.Fatalf("unexpected first event %+v", first)
	}
	if second.Kind != notify.ResponseCompleted || second.Status != "completed" {
		t.Fatalf("unexpected second event %+v", second)
	}
}

func TestServeShutdownStopsResponses(t *testing.T) {
	resp := &fakeResponder{active: map[string]bool{"resp-1": true}}
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer st.Close()
	srv := New(resp, st, notify.NewHub(1))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.ListenAndServe(ctx, "127.0.0.1:0") }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
	if resp.IsActive("resp-1") || resp.stopped != 1 {
		t.Fatal("shutdown should stop active responses")
	}
}
