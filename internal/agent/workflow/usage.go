package workflow

import (
	"github.com/chative-core/workflow/internal/agent/graph"
	"github.com/chative-core/workflow/internal/agent/graph/parsers"
	"github.com/chative-core/workflow/internal/agent/model"
)

// UsageInfo is the aggregated usage of a run. All fields are nil when no step
// reported usage, so they are omitted rather than reported as zeros.
type UsageInfo struct {
	TokensUsed       *int     `json:"tokens_used,omitempty"`
	PromptTokens     *int     `json:"prompt_tokens,omitempty"`
	CompletionTokens *int     `json:"completion_tokens,omitempty"`
	Cost             *float64 `json:"cost,omitempty"`
}

// Map renders the present fields for chunk metadata.
func (u UsageInfo) Map() map[string]any {
	m := map[string]any{}
	if u.TokensUsed != nil {
		m["tokens_used"] = *u.TokensUsed
	}
	if u.PromptTokens != nil {
		m["prompt_tokens"] = *u.PromptTokens
	}
	if u.CompletionTokens != nil {
		m["completion_tokens"] = *u.CompletionTokens
	}
	if u.Cost != nil {
		m["cost"] = *u.Cost
	}
	return m
}

// UsageAggregator sums per-step usage records. Records are keyed by the step
// sequence number that produced them, so a snapshot delivered twice is
// counted once while two steps with equal counts are both counted.
type UsageAggregator struct {
	pricing    model.Pricing
	counted    map[int]struct{}
	prompt     int
	completion int
	total      int
}

func NewUsageAggregator(pricing model.Pricing) *UsageAggregator {
	return &UsageAggregator{pricing: pricing, counted: map[int]struct{}{}}
}

// Add counts the usage record of step seq. It reports whether the record was
// counted; empty, unparseable and already seen records are not.
func (a *UsageAggregator) Add(seq int, raw any) bool {
	if _, dup := a.counted[seq]; dup {
		return false
	}
	u, ok := parsers.ParseUsage(raw)
	if !ok {
		return false
	}
	a.counted[seq] = struct{}{}
	a.prompt += u.PromptTokens
	a.completion += u.CompletionTokens
	a.total += u.Tokens()
	return true
}

// AddSnapshot counts a committed step snapshot; partial snapshots carry no usage.
func (a *UsageAggregator) AddSnapshot(s graph.Snapshot) bool {
	if s.Partial || s.Usage == nil {
		return false
	}
	return a.Add(s.Seq, s.Usage)
}

// Info returns the totals and their cost.
func (a *UsageAggregator) Info() UsageInfo {
	if len(a.counted) == 0 {
		return UsageInfo{}
	}
	prompt, completion, total := a.prompt, a.completion, a.total
	_, _, cost := model.ComputeCost(prompt, completion, a.pricing)
	return UsageInfo{
		TokensUsed:       &total,
		PromptTokens:     &prompt,
		CompletionTokens: &completion,
		Cost:             &cost,
	}
}
