package costs

import (
	"strings"

	"github.com/neoclaw-ai/turnrouter/internal/chat"
)

const perMillion = 1_000_000.0

// price is USD per million tokens.
type price struct {
	match  string
	input  float64
	output float64
}

// Checked in order; the first substring match of the model code wins, so
// more specific names come first.
var pricing = map[chat.Family][]price{
	chat.FamilyAnthropic: {
		{"haiku", 0.80, 4.00},
		{"sonnet", 3.00, 15.00},
		{"opus", 15.00, 75.00},
	},
	chat.FamilyOpenAI: {
		{"gpt-4o-mini", 0.15, 0.60},
		{"gpt-4o", 2.50, 10.00},
		{"gpt-4.1-mini", 0.40, 1.60},
		{"gpt-4.1", 2.00, 8.00},
		{"o3-mini", 1.10, 4.40},
		{"o4-mini", 1.10, 4.40},
	},
	chat.FamilyGemini: {
		{"flash", 0.30, 2.50},
		{"pro", 1.25, 10.00},
	},
	chat.FamilyDeepSeek: {
		{"reasoner", 0.55, 2.19},
		{"chat", 0.27, 1.10},
	},
}

// EstimateUSD returns the estimated USD cost of one response. ok is false
// when no pricing is known for the model.
func EstimateUSD(family chat.Family, model string, inputTokens, outputTokens int64) (usd float64, ok bool) {
	name := strings.ToLower(strings.TrimSpace(model))
	for _, p := range pricing[family] {
		if !strings.Contains(name, p.match) {
			continue
		}
		inputCost := (float64(inputTokens) / perMillion) * p.input
		outputCost := (float64(outputTokens) / perMillion) * p.output
		return inputCost + outputCost, true
	}
	return 0, false
}
