package chat

import "maps"

// Options describes a RequestContext at construction time.
type Options struct {
	UserID  string
	Model   *Model
	History []Turn
	Agent   *AgentOverride
	User    *UserSettings
	// Thinking explicitly overrides agent and user thinking preferences.
	Thinking *bool
}

// RequestContext is an immutable snapshot of everything needed to build one
// provider request. Use WithTurns to derive the context for the next sub-turn.
type RequestContext struct {
	userID   string
	model    *Model
	history  []Turn
	agent    *AgentOverride
	user     *UserSettings
	thinking *bool
}

// NewRequestContext copies opts into a new context.
func NewRequestContext(opts Options) *RequestContext {
	rc := &RequestContext{
		userID:   opts.UserID,
		history:  cloneTurns(opts.History),
		thinking: cloneBool(opts.Thinking),
	}
	if opts.Model != nil {
		m := *opts.Model
		rc.model = &m
	}
	if opts.Agent != nil {
		a := *opts.Agent
		a.Parameters = maps.Clone(a.Parameters)
		a.Thinking = cloneBool(a.Thinking)
		rc.agent = &a
	}
	if opts.User != nil {
		u := *opts.User
		u.Parameters = maps.Clone(u.Parameters)
		u.Thinking = cloneBool(u.Thinking)
		rc.user = &u
	}
	return rc
}

// WithTurns returns a new context whose history is extended by turns.
// The receiver is left untouched.
func (rc *RequestContext) WithTurns(turns ...Turn) *RequestContext {
	next := *rc
	next.history = make([]Turn, 0, len(rc.history)+len(turns))
	next.history = append(next.history, rc.history...)
	next.history = append(next.history, cloneTurns(turns)...)
	return &next
}

// UserID returns the requesting user.
func (rc *RequestContext) UserID() string { return rc.userID }

// Model returns a copy of the target model, or nil when none was set.
func (rc *RequestContext) Model() *Model {
	if rc.model == nil {
		return nil
	}
	m := *rc.model
	return &m
}

// History returns a copy of the conversation history.
func (rc *RequestContext) History() []Turn {
	return cloneTurns(rc.history)
}

// Agent returns a copy of the agent override, or nil.
func (rc *RequestContext) Agent() *AgentOverride {
	if rc.agent == nil {
		return nil
	}
	a := *rc.agent
	a.Parameters = maps.Clone(a.Parameters)
	return &a
}

// User returns a copy of the user default settings, or nil.
func (rc *RequestContext) User() *UserSettings {
	if rc.user == nil {
		return nil
	}
	u := *rc.user
	u.Parameters = maps.Clone(u.Parameters)
	return &u
}

// SystemPrompt returns the agent system instructions, if any.
func (rc *RequestContext) SystemPrompt() string {
	if rc.agent == nil {
		return ""
	}
	return rc.agent.SystemPrompt
}

// ThinkingRequested resolves the thinking preference: explicit override,
// then agent, then user defaults.
func (rc *RequestContext) ThinkingRequested() bool {
	switch {
	case rc.thinking != nil:
		return *rc.thinking
	case rc.agent != nil && rc.agent.Thinking != nil:
		return *rc.agent.Thinking
	case rc.user != nil && rc.user.Thinking != nil:
		return *rc.user.Thinking
	}
	return false
}

// NativeThinking reports whether thinking is requested and the model can
// surface reasoning through a native request parameter.
func (rc *RequestContext) NativeThinking() bool {
	return rc.ThinkingRequested() && rc.model != nil && rc.model.SupportsThinking
}

func cloneTurns(turns []Turn) []Turn {
	if turns == nil {
		return nil
	}
	out := make([]Turn, len(turns))
	for i, t := range turns {
		t.Attachments = append([]ContentPart(nil), t.Attachments...)
		t.ToolCalls = append([]ToolCall(nil), t.ToolCalls...)
		if t.ToolResult != nil {
			r := *t.ToolResult
			t.ToolResult = &r
		}
		out[i] = t
	}
	return out
}

func cloneBool(b *bool) *bool {
	if b == nil {
		return nil
	}
	v := *b
	return &v
}
