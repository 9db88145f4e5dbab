package params

import (
	"maps"
	"slices"
	"strings"

	"github.com/neoclaw-ai/turnrouter/internal/chat"
	"github.com/neoclaw-ai/turnrouter/internal/logging"
)

// MaxCompletionTokens is the wire name reasoning models use instead of max_tokens.
const MaxCompletionTokens = "max_completion_tokens"

// Fields maps provider wire names to values, after mapping and filtering.
type Fields map[string]any

// ModelRule adjusts the fields sent for models whose code starts with Match.
type ModelRule struct {
	Match string
	// ForceTemperature pins the temperature regardless of settings.
	ForceTemperature *float64
	// MaxTokensField renames the max tokens wire field.
	MaxTokensField string
	// Drop lists wire names the model rejects.
	Drop []string
}

// Capabilities is the per-family wire-name and allow-list table plus model
// rules. Treat a value as read-only once built; Default returns a fresh copy.
type Capabilities struct {
	WireNames map[chat.Family]map[string]string
	Allowed   map[chat.Family]map[string]bool
	// ThinkingDrops lists wire names removed when native thinking is on.
	ThinkingDrops map[chat.Family][]string
	Rules         []ModelRule
}

func float(v float64) *float64 { return &v }

func set(names ...string) map[string]bool {
	out := make(map[string]bool, len(names))
	for _, n := range names {
		out[n] = true
	}
	return out
}

var samplingParams = []string{Temperature, TopP, FrequencyPenalty, PresencePenalty}

// Default returns the built-in capability table.
func Default() Capabilities {
	return Capabilities{
		WireNames: map[chat.Family]map[string]string{
			chat.FamilyAnthropic: {Stop: "stop_sequences"},
			chat.FamilyGemini: {
				TopP:             "topP",
				TopK:             "topK",
				FrequencyPenalty: "frequencyPenalty",
				PresencePenalty:  "presencePenalty",
				MaxTokens:        "maxOutputTokens",
				Stop:             "stopSequences",
			},
		},
		Allowed: map[chat.Family]map[string]bool{
			chat.FamilyOpenAI:    set(Temperature, TopP, FrequencyPenalty, PresencePenalty, MaxTokens, Stop),
			chat.FamilyAnthropic: set(Temperature, TopP, TopK, MaxTokens, "stop_sequences"),
			chat.FamilyGemini: set(Temperature, "topP", "topK", "frequencyPenalty", "presencePenalty",
				"maxOutputTokens", "stopSequences"),
			chat.FamilyDeepSeek: set(Temperature, TopP, FrequencyPenalty, PresencePenalty, MaxTokens, Stop),
			chat.FamilyImage:    set(),
		},
		ThinkingDrops: map[chat.Family][]string{
			chat.FamilyAnthropic: {Temperature, TopP, TopK},
			chat.FamilyDeepSeek:  slices.Clone(samplingParams),
		},
		Rules: []ModelRule{
			{Match: "kimi-k2.5", ForceTemperature: float(1.0)},
			{Match: "o1", MaxTokensField: MaxCompletionTokens, Drop: slices.Clone(samplingParams)},
			{Match: "o3", MaxTokensField: MaxCompletionTokens, Drop: slices.Clone(samplingParams)},
			{Match: "o4", MaxTokensField: MaxCompletionTokens, Drop: slices.Clone(samplingParams)},
			{Match: "gpt-5", MaxTokensField: MaxCompletionTokens, Drop: slices.Clone(samplingParams)},
			{Match: "deepseek-reasoner", Drop: slices.Clone(samplingParams)},
		},
	}
}

// WireName maps a standard parameter name for family.
func (c Capabilities) WireName(family chat.Family, name string) string {
	if wire, ok := c.WireNames[family][name]; ok {
		return wire
	}
	return name
}

// Rule returns the first rule matching the model code, if any.
func (c Capabilities) Rule(code string) (ModelRule, bool) {
	code = strings.ToLower(code)
	for _, r := range c.Rules {
		if strings.HasPrefix(code, strings.ToLower(r.Match)) {
			return r, true
		}
	}
	return ModelRule{}, false
}

// Fields maps p to wire names for family, drops anything outside the
// family's allow-list, then applies thinking drops and the model rule.
// Every dropped parameter is logged.
func (c Capabilities) Fields(family chat.Family, modelCode string, thinking bool, p Parameters) Fields {
	allowed := c.Allowed[family]
	out := Fields{}
	for _, name := range Names {
		v, ok := p[name]
		if !ok {
			continue
		}
		wire := c.WireName(family, name)
		if !allowed[wire] {
			logging.Logger().Info("dropping unsupported parameter", "family", family, "param", name, "wire", wire)
			continue
		}
		out[wire] = v
	}

	if thinking {
		for _, name := range c.ThinkingDrops[family] {
			c.drop(out, family, name, "thinking mode")
		}
	}

	rule, ok := c.Rule(modelCode)
	if !ok {
		return out
	}
	for _, name := range rule.Drop {
		c.drop(out, family, name, "model rule")
	}
	if rule.ForceTemperature != nil && allowed[c.WireName(family, Temperature)] {
		out[c.WireName(family, Temperature)] = *rule.ForceTemperature
	}
	if rule.MaxTokensField != "" {
		wire := c.WireName(family, MaxTokens)
		if v, ok := out[wire]; ok {
			delete(out, wire)
			out[rule.MaxTokensField] = v
		}
	}
	return out
}

func (c Capabilities) drop(out Fields, family chat.Family, name, reason string) {
	wire := c.WireName(family, name)
	if _, ok := out[wire]; !ok {
		return
	}
	delete(out, wire)
	logging.Logger().Info("dropping parameter", "family", family, "param", name, "reason", reason)
}

// Clone returns a deep copy, for callers that want to derive a variant table.
func (c Capabilities) Clone() Capabilities {
	out := Capabilities{
		WireNames:     make(map[chat.Family]map[string]string, len(c.WireNames)),
		Allowed:       make(map[chat.Family]map[string]bool, len(c.Allowed)),
		ThinkingDrops: make(map[chat.Family][]string, len(c.ThinkingDrops)),
		Rules:         slices.Clone(c.Rules),
	}
	for f, m := range c.WireNames {
		out.WireNames[f] = maps.Clone(m)
	}
	for f, m := range c.Allowed {
		out.Allowed[f] = maps.Clone(m)
	}
	for f, names := range c.ThinkingDrops {
		out.ThinkingDrops[f] = slices.Clone(names)
	}
	return out
}

// Float reads a float field.
func (f Fields) Float(name string) (float64, bool) {
	v, ok := f[name].(float64)
	return v, ok
}

// Int reads an integer field.
func (f Fields) Int(name string) (int64, bool) {
	v, ok := f[name].(int64)
	return v, ok
}

// Strings reads a string list field.
func (f Fields) Strings(name string) ([]string, bool) {
	v, ok := f[name].([]string)
	return v, ok
}
