package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/neoclaw-ai/turnrouter/internal/chat"
	"github.com/neoclaw-ai/turnrouter/internal/costs"
	"github.com/neoclaw-ai/turnrouter/internal/notify"
	"github.com/neoclaw-ai/turnrouter/internal/params"
	"github.com/neoclaw-ai/turnrouter/internal/payload"
	"github.com/neoclaw-ai/turnrouter/internal/stream"
	"github.com/neoclaw-ai/turnrouter/internal/tools"
	"github.com/neoclaw-ai/turnrouter/internal/transport"
	"github.com/tidwall/gjson"
)

const (
	stopChunk = `{"choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`
	toolStop  = `{"choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}]}`
)

func textChunk(s string) string {
	return `{"choices":[{"index":0,"delta":{"content":"` + s + `"}}]}`
}

func toolChunk(id, name, args string) string {
	return `{"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"` + id + `","type":"function","function":{"name":"` + name + `","arguments":` + quote(args) + `}}]}}]}`
}

func quote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
}

func script(raw ...string) stream.Source {
	events := make([]stream.RawEvent, 0, len(raw)+1)
	for _, r := range raw {
		events = append(events, stream.RawEvent{Content: r})
	}
	return stream.NewSliceSource(append(events, stream.RawEvent{Completion: true})...)
}

// scriptedTransport answers each Send with the next scripted source. When
// the script runs out, repeat (if set) is used for every further call.
type scriptedTransport struct {
	mu       sync.Mutex
	sources  []func() stream.Source
	repeat   func() stream.Source
	sendErr  error
	payloads []payload.Payload
}

func (s *scriptedTransport) For(string) (transport.Transport, error) { return s, nil }

func (s *scriptedTransport) Send(_ context.Context, p payload.Payload) (stream.Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payloads = append(s.payloads, p)
	if s.sendErr != nil {
		return nil, s.sendErr
	}
	if len(s.sources) == 0 {
		if s.repeat != nil {
			return s.repeat(), nil
		}
		return nil, errors.New("script exhausted")
	}
	next := s.sources[0]
	s.sources = s.sources[1:]
	return next(), nil
}

func (s *scriptedTransport) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.payloads)
}

func fixed(raw ...string) func() stream.Source {
	return func() stream.Source { return script(raw...) }
}

type fakeExecutor struct {
	mu    sync.Mutex
	defs  []chat.ToolDefinition
	calls []map[string]any
	run   func(args map[string]any) (tools.Result, error)
}

func (f *fakeExecutor) ListDefinitions(context.Context) ([]chat.ToolDefinition, error) {
	return f.defs, nil
}

func (f *fakeExecutor) Execute(_ context.Context, _ string, args map[string]any) (tools.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, args)
	f.mu.Unlock()
	if f.run != nil {
		return f.run(args)
	}
	return tools.Result{Success: true, Result: "ok"}, nil
}

func searchExecutor() *fakeExecutor {
	return &fakeExecutor{
		defs: []chat.ToolDefinition{{ID: "web_search", Name: "web_search", Description: "search"}},
		run: func(args map[string]any) (tools.Result, error) {
			return tools.Result{Success: true, Result: "results for " + args["query"].(string)}, nil
		},
	}
}

type recordingSink struct {
	mu     sync.Mutex
	events []notify.Event
	chunks chan struct{}
}

func (r *recordingSink) Publish(e notify.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
	if e.Kind == notify.ChunkReceived && r.chunks != nil {
		select {
		case r.chunks <- struct{}{}:
		default:
		}
	}
}

func (r *recordingSink) count(kind notify.Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

type memoryStore struct {
	mu     sync.Mutex
	writes int
	last   map[string]chat.Message
}

func (m *memoryStore) Update(_ context.Context, msg *chat.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.last == nil {
		m.last = map[string]chat.Message{}
	}
	if prev, ok := m.last[msg.ID]; ok && prev.Status.Terminal() && prev.Status != msg.Status {
		return chat.ErrStatusRegression
	}
	m.writes++
	m.last[msg.ID] = *msg
	return nil
}

func (m *memoryStore) get(id string) chat.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last[id]
}

var testModel = &chat.Model{
	ID:            "gpt",
	Code:          "gpt-4o",
	Provider:      "openai",
	Family:        chat.FamilyOpenAI,
	SupportsTools: true,
}

func testRequest(prompt string) Request {
	return Request{
		MessageID: "m1",
		ChatID:    "c1",
		Context: chat.NewRequestContext(chat.Options{
			UserID:  "u1",
			Model:   testModel,
			History: []chat.Turn{{Role: chat.RoleUser, Content: prompt}},
		}),
	}
}

func newTestRunner(tr *scriptedTransport, exec tools.Executor, st *memoryStore, sink notify.Sink, opts ...RunnerOption) *Runner {
	var store MessageStore
	if st != nil {
		store = st
	}
	return NewRunner(payload.NewBuilder(params.Default()), tr, exec, store, sink, opts...)
}

func TestRun_TextResponse(t *testing.T) {
	tr := &scriptedTransport{sources: []func() stream.Source{
		fixed(textChunk("Hel"), textChunk("lo"), stopChunk, `{"choices":[],"usage":{"prompt_tokens":9,"completion_tokens":2}}`),
	}}
	st := &memoryStore{}
	sink := &recordingSink{}

	res, err := newTestRunner(tr, nil, st, sink).Run(context.Background(), testRequest("hi"))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.State != StateCompleted || res.Turns != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Message.Content != "Hello" || res.Message.Status != chat.StatusCompleted {
		t.Fatalf("unexpected message %+v", res.Message)
	}
	if res.Message.InputTokens != 9 || res.Message.OutputTokens != 2 {
		t.Fatalf("tokens = %d/%d", res.Message.InputTokens, res.Message.OutputTokens)
	}
	if got := st.get("m1"); got.Status != chat.StatusCompleted || got.Content != "Hello" {
		t.Fatalf("stored message %+v", got)
	}
	if sink.count(notify.ChunkReceived) != 2 || sink.count(notify.ResponseCompleted) != 1 || sink.count(notify.ResponseStopped) != 0 {
		t.Fatalf("unexpected events %+v", sink.events)
	}
}

func TestRun_ToolRoundTrip(t *testing.T) {
	tr := &scriptedTransport{sources: []func() stream.Source{
		fixed(textChunk("Let me look. "), toolChunk("call_1", "web_search", `{"query":"cats"}`), toolStop),
		fixed(textChunk("Cats are great."), stopChunk),
	}}
	exec := searchExecutor()

	res, err := newTestRunner(tr, exec, &memoryStore{}, nil).Run(context.Background(), testRequest("tell me about cats"))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.State != StateCompleted || res.Turns != 2 {
		t.Fatalf("unexpected result state=%s turns=%d", res.State, res.Turns)
	}
	if res.Message.Content != "Let me look. Cats are great." {
		t.Fatalf("content should accumulate across sub-turns, got %q", res.Message.Content)
	}
	if len(res.Message.ToolCalls) != 1 || res.Message.ToolCalls[0].Name != "web_search" {
		t.Fatalf("tool calls = %+v", res.Message.ToolCalls)
	}
	if len(exec.calls) != 1 || exec.calls[0]["query"] != "cats" {
		t.Fatalf("executor calls = %+v", exec.calls)
	}

	body, err := tr.payloads[1].MarshalJSON()
	if err != nil {
		t.Fatalf("marshal second payload: %v", err)
	}
	for _, want := range []string{`"tool_call_id":"call_1"`, "results for cats", `"name":"web_search"`} {
		if !strings.Contains(string(body), want) {
			t.Errorf("second payload missing %s: %s", want, body)
		}
	}
}

func TestRun_AnthropicThinkingReplayedWithToolCall(t *testing.T) {
	tr := &scriptedTransport{sources: []func() stream.Source{
		fixed(
			`{"type":"content_block_start","index":0,"content_block":{"type":"thinking","thinking":""}}`,
			`{"type":"content_block_delta","index":0,"delta":{"type":"thinking_delta","thinking":"search first"}}`,
			`{"type":"content_block_delta","index":0,"delta":{"type":"signature_delta","signature":"sig-1"}}`,
			`{"type":"content_block_stop","index":0}`,
			`{"type":"content_block_start","index":1,"content_block":{"type":"tool_use","id":"toolu_1","name":"web_search","input":{"query":"cats"}}}`,
			`{"type":"content_block_stop","index":1}`,
			`{"type":"message_delta","delta":{"stop_reason":"tool_use"},"usage":{"output_tokens":9}}`,
		),
		fixed(
			`{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`,
			`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Cats are great."}}`,
			`{"type":"content_block_stop","index":0}`,
			`{"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":4}}`,
		),
	}}
	model := &chat.Model{
		ID:               "claude",
		Code:             "claude-sonnet-4-5",
		Provider:         "anthropic",
		Family:           chat.FamilyAnthropic,
		SupportsTools:    true,
		SupportsThinking: true,
		MaxOutputTokens:  8192,
	}
	on := true
	req := Request{
		MessageID: "m1",
		ChatID:    "c1",
		Context: chat.NewRequestContext(chat.Options{
			Model:    model,
			History:  []chat.Turn{{Role: chat.RoleUser, Content: "tell me about cats"}},
			Thinking: &on,
		}),
	}

	res, err := newTestRunner(tr, searchExecutor(), &memoryStore{}, nil).Run(context.Background(), req)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.State != StateCompleted || res.Turns != 2 {
		t.Fatalf("unexpected result state=%s turns=%d", res.State, res.Turns)
	}

	body, err := tr.payloads[1].MarshalJSON()
	if err != nil {
		t.Fatalf("marshal second payload: %v", err)
	}
	assistant := gjson.GetBytes(body, "messages.1")
	if got := assistant.Get("content.#.type").String(); got != `["thinking","tool_use"]` {
		t.Fatalf("assistant content types = %s", got)
	}
	if assistant.Get("content.0.signature").String() != "sig-1" || assistant.Get("content.0.thinking").String() != "search first" {
		t.Fatalf("thinking block = %s", assistant.Get("content.0").Raw)
	}
}

func TestRun_TurnCapCompletes(t *testing.T) {
	tr := &scriptedTransport{repeat: fixed(toolChunk("call", "web_search", `{"query":"again"}`), toolStop)}
	exec := searchExecutor()
	sink := &recordingSink{}

	res, err := newTestRunner(tr, exec, &memoryStore{}, sink).Run(context.Background(), testRequest("loop forever"))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.State != StateCompleted || res.Turns != MaxTurns {
		t.Fatalf("state=%s turns=%d", res.State, res.Turns)
	}
	if tr.calls() != MaxTurns {
		t.Fatalf("expected %d provider calls, got %d", MaxTurns, tr.calls())
	}
	if len(exec.calls) != MaxTurns-1 {
		t.Fatalf("tools from the final turn must not run, got %d executions", len(exec.calls))
	}
	if sink.count(notify.ResponseCompleted) != 1 {
		t.Fatalf("expected one completion event")
	}
}

func TestRun_WithMaxTurns(t *testing.T) {
	tr := &scriptedTransport{repeat: fixed(toolChunk("call", "web_search", `{"query":"x"}`), toolStop)}
	res, err := newTestRunner(tr, searchExecutor(), nil, nil, WithMaxTurns(2)).Run(context.Background(), testRequest("go"))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Turns != 2 || tr.calls() != 2 {
		t.Fatalf("turns=%d calls=%d", res.Turns, tr.calls())
	}
}

func TestRun_UnknownToolBecomesErrorResult(t *testing.T) {
	tr := &scriptedTransport{sources: []func() stream.Source{
		fixed(toolChunk("call_1", "frobnicate", `{}`), toolStop),
		fixed(textChunk("sorry"), stopChunk),
	}}
	exec := searchExecutor()

	res, err := newTestRunner(tr, exec, nil, nil).Run(context.Background(), testRequest("frob it"))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.State != StateCompleted {
		t.Fatalf("state = %s", res.State)
	}
	if len(exec.calls) != 0 {
		t.Fatalf("unknown tool must not execute")
	}
	body, _ := tr.payloads[1].MarshalJSON()
	if !strings.Contains(string(body), `tool \"frobnicate\" not found. Available tools: web_search`) {
		t.Fatalf("expected not found result in payload: %s", body)
	}
}

func TestRun_InvalidArgumentsBecomeErrorResult(t *testing.T) {
	tr := &scriptedTransport{sources: []func() stream.Source{
		fixed(toolChunk("call_1", "web_search", `{"query":`), toolStop),
		fixed(textChunk("retrying"), stopChunk),
	}}
	exec := searchExecutor()

	if _, err := newTestRunner(tr, exec, nil, nil).Run(context.Background(), testRequest("q")); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(exec.calls) != 0 {
		t.Fatalf("invalid arguments must not execute")
	}
	body, _ := tr.payloads[1].MarshalJSON()
	if !strings.Contains(string(body), `invalid arguments for tool \"web_search\"`) {
		t.Fatalf("expected invalid arguments result in payload: %s", body)
	}
}

func TestRun_ToolFailureBecomesErrorResult(t *testing.T) {
	tr := &scriptedTransport{sources: []func() stream.Source{
		fixed(toolChunk("call_1", "web_search", `{"query":"x"}`), toolStop),
		fixed(textChunk("ok"), stopChunk),
	}}
	exec := searchExecutor()
	exec.run = func(map[string]any) (tools.Result, error) {
		return tools.Result{ErrorMessage: "rate limited"}, nil
	}

	if _, err := newTestRunner(tr, exec, nil, nil).Run(context.Background(), testRequest("q")); err != nil {
		t.Fatalf("run: %v", err)
	}
	body, _ := tr.payloads[1].MarshalJSON()
	if !strings.Contains(string(body), "tool execution error: rate limited") {
		t.Fatalf("expected failure result in payload: %s", body)
	}
}

func TestRun_DiscardedToolCallsComplete(t *testing.T) {
	tr := &scriptedTransport{sources: []func() stream.Source{
		fixed(textChunk("partial"), toolChunk("", "web_search", `{}`), toolStop),
	}}
	res, err := newTestRunner(tr, searchExecutor(), nil, nil).Run(context.Background(), testRequest("q"))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.State != StateCompleted || tr.calls() != 1 {
		t.Fatalf("state=%s calls=%d", res.State, tr.calls())
	}
}

func TestRun_ProviderErrorFails(t *testing.T) {
	tr := &scriptedTransport{sources: []func() stream.Source{
		fixed(textChunk("Part"), `{"error":{"message":"overloaded"}}`),
	}}
	st := &memoryStore{}
	sink := &recordingSink{}

	res, err := newTestRunner(tr, nil, st, sink).Run(context.Background(), testRequest("hi"))
	if !errors.Is(err, stream.ErrProviderError) {
		t.Fatalf("expected provider error, got %v", err)
	}
	if res.State != StateFailed || res.Message.Status != chat.StatusFailed {
		t.Fatalf("unexpected result %+v", res)
	}
	if !strings.HasPrefix(res.Message.Content, "Part\n\n[error: ") || !strings.Contains(res.Message.Content, "overloaded") {
		t.Fatalf("content = %q", res.Message.Content)
	}
	if st.get("m1").Status != chat.StatusFailed {
		t.Fatalf("stored status = %s", st.get("m1").Status)
	}
	if sink.count(notify.ResponseStopped) != 1 || sink.count(notify.ResponseCompleted) != 0 {
		t.Fatalf("expected exactly one stop event")
	}
}

func TestRun_SendErrorFails(t *testing.T) {
	tr := &scriptedTransport{sendErr: errors.New("connection refused")}
	res, err := newTestRunner(tr, nil, nil, nil).Run(context.Background(), testRequest("hi"))
	if err == nil || res.State != StateFailed {
		t.Fatalf("expected failure, got state=%s err=%v", res.State, err)
	}
	if !strings.Contains(res.Message.Content, "[error: connection refused]") {
		t.Fatalf("content = %q", res.Message.Content)
	}
}

func TestRun_EmptyHistoryFails(t *testing.T) {
	req := testRequest("hi")
	req.Context = chat.NewRequestContext(chat.Options{Model: testModel})
	res, err := newTestRunner(&scriptedTransport{}, nil, nil, nil).Run(context.Background(), req)
	if !errors.Is(err, payload.ErrPrecondition) {
		t.Fatalf("expected precondition error, got %v", err)
	}
	if res.State != StateFailed {
		t.Fatalf("state = %s", res.State)
	}
}

// blockingSource yields one text chunk and then blocks until released.
type blockingSource struct {
	first    bool
	released chan struct{}
}

func (b *blockingSource) Next() bool {
	if !b.first {
		b.first = true
		return true
	}
	<-b.released
	return false
}

func (b *blockingSource) Current() stream.RawEvent {
	return stream.RawEvent{Content: textChunk("partial")}
}

func (b *blockingSource) Err() error   { return context.Canceled }
func (b *blockingSource) Close() error { return nil }

func TestRun_CancellationInterrupts(t *testing.T) {
	released := make(chan struct{})
	tr := &scriptedTransport{sources: []func() stream.Source{
		func() stream.Source { return &blockingSource{released: released} },
	}}
	st := &memoryStore{}
	sink := &recordingSink{chunks: make(chan struct{}, 1)}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	type outcome struct {
		res Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := newTestRunner(tr, nil, st, sink).Run(ctx, testRequest("write a novel"))
		done <- outcome{res, err}
	}()

	select {
	case <-sink.chunks:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for first chunk")
	}
	cancel()
	close(released)

	var out outcome
	select {
	case out = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("run did not return after cancel")
	}
	if out.err != nil {
		t.Fatalf("interruption is not an error: %v", out.err)
	}
	if out.res.State != StateInterrupted || out.res.Message.Content != "partial" {
		t.Fatalf("unexpected result %+v", out.res)
	}
	if st.get("m1").Status != chat.StatusInterrupted {
		t.Fatalf("stored status = %s", st.get("m1").Status)
	}
	if sink.count(notify.ResponseStopped) != 1 || sink.count(notify.ResponseCompleted) != 0 {
		t.Fatalf("expected exactly one stop event, got %+v", sink.events)
	}
}

func TestRun_ToolsOmittedWithoutSupport(t *testing.T) {
	model := *testModel
	model.SupportsTools = false
	req := testRequest("hi")
	req.Context = chat.NewRequestContext(chat.Options{Model: &model, History: req.Context.History()})
	tr := &scriptedTransport{sources: []func() stream.Source{fixed(textChunk("hi"), stopChunk)}}

	if _, err := newTestRunner(tr, searchExecutor(), nil, nil).Run(context.Background(), req); err != nil {
		t.Fatalf("run: %v", err)
	}
	body, _ := tr.payloads[0].MarshalJSON()
	if strings.Contains(string(body), "web_search") {
		t.Fatalf("tools must be omitted: %s", body)
	}
}

type usageSpy struct{ got []costs.Usage }

func (u *usageSpy) Record(_ context.Context, usage costs.Usage) (costs.Record, error) {
	u.got = append(u.got, usage)
	return costs.Record{}, nil
}

func TestRun_RecordsUsage(t *testing.T) {
	tr := &scriptedTransport{sources: []func() stream.Source{
		fixed(textChunk("fine"), stopChunk, `{"choices":[],"usage":{"prompt_tokens":4,"completion_tokens":1}}`),
	}}
	spy := &usageSpy{}
	if _, err := newTestRunner(tr, nil, nil, nil, WithUsage(spy)).Run(context.Background(), testRequest("how are you")); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(spy.got) != 1 {
		t.Fatalf("expected one usage record, got %d", len(spy.got))
	}
	u := spy.got[0]
	if u.Model != "gpt-4o" || u.Provider != "openai" || u.InputTokens != 4 || u.OutputTokens != 1 || u.Completion != "fine" {
		t.Fatalf("unexpected usage %+v", u)
	}
}

func TestRun_ConcurrentRunsAreIndependent(t *testing.T) {
	tr := &scriptedTransport{repeat: fixed(textChunk("same"), stopChunk)}
	st := &memoryStore{}
	r := newTestRunner(tr, nil, st, nil)

	var wg sync.WaitGroup
	for _, id := range []string{"a", "b", "c", "d"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			req := testRequest("hi")
			req.MessageID = id
			res, err := r.Run(context.Background(), req)
			if err != nil || res.Message.Content != "same" {
				t.Errorf("%s: content=%q err=%v", id, res.Message.Content, err)
			}
		}(id)
	}
	wg.Wait()
	for _, id := range []string{"a", "b", "c", "d"} {
		if st.get(id).Status != chat.StatusCompleted {
			t.Fatalf("%s not completed", id)
		}
	}
}
