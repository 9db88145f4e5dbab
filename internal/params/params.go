// Package params resolves generation parameters for a request and maps them
// onto the request fields each provider family accepts.
package params

import (
	"fmt"

	"github.com/neoclaw-ai/turnrouter/internal/chat"
	"github.com/neoclaw-ai/turnrouter/internal/logging"
	"github.com/spf13/cast"
)

// Standard parameter names.
const (
	Temperature      = "temperature"
	TopP             = "top_p"
	TopK             = "top_k"
	FrequencyPenalty = "frequency_penalty"
	PresencePenalty  = "presence_penalty"
	MaxTokens        = "max_tokens"
	Stop             = "stop"
)

// Names lists the standard parameter names in resolution order.
var Names = []string{Temperature, TopP, TopK, FrequencyPenalty, PresencePenalty, MaxTokens, Stop}

// Parameters maps standard names to normalized values: float64 for sampling
// and penalty values, int64 for top_k and max_tokens, []string for stop.
// Absent parameters have no key.
type Parameters map[string]any

// Float returns a float parameter.
func (p Parameters) Float(name string) (float64, bool) {
	v, ok := p[name].(float64)
	return v, ok
}

// Int returns an integer parameter.
func (p Parameters) Int(name string) (int64, bool) {
	v, ok := p[name].(int64)
	return v, ok
}

// Strings returns a string list parameter.
func (p Parameters) Strings(name string) ([]string, bool) {
	v, ok := p[name].([]string)
	return v, ok
}

// Resolve applies the precedence chain for every standard parameter: agent
// custom parameters when the agent opts in, then user defaults, then the
// model's max output tokens for max_tokens. Values that cannot be coerced are
// logged and the next source is consulted.
func Resolve(rc *chat.RequestContext) Parameters {
	var sources []namedSource
	if agent := rc.Agent(); agent != nil && agent.UseCustomParameters {
		sources = append(sources, namedSource{name: "agent", values: agent.Parameters})
	}
	if user := rc.User(); user != nil {
		sources = append(sources, namedSource{name: "user", values: user.Parameters})
	}

	out := Parameters{}
	for _, name := range Names {
		for _, src := range sources {
			raw, ok := src.values[name]
			if !ok || raw == nil {
				continue
			}
			v, err := coerce(name, raw)
			if err != nil {
				logging.Logger().Warn("ignoring invalid generation parameter",
					"source", src.name, "param", name, "err", err)
				continue
			}
			out[name] = v
			break
		}
	}

	if _, ok := out[MaxTokens]; !ok {
		if m := rc.Model(); m != nil && m.MaxOutputTokens > 0 {
			out[MaxTokens] = m.MaxOutputTokens
		}
	}
	return out
}

type namedSource struct {
	name   string
	values map[string]any
}

func coerce(name string, raw any) (any, error) {
	switch name {
	case Temperature, TopP, FrequencyPenalty, PresencePenalty:
		return cast.ToFloat64E(raw)
	case TopK:
		return cast.ToInt64E(raw)
	case MaxTokens:
		v, err := cast.ToInt64E(raw)
		if err != nil {
			return nil, err
		}
		if v <= 0 {
			return nil, fmt.Errorf("max_tokens must be > 0, got %d", v)
		}
		return v, nil
	case Stop:
		if s, ok := raw.(string); ok {
			return []string{s}, nil
		}
		return cast.ToStringSliceE(raw)
	}
	return nil, fmt.Errorf("unknown parameter %q", name)
}
