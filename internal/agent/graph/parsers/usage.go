package parsers

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/cloudwego/eino/schema"
)

// Usage is a normalized token usage record.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	// TotalTokens is zero when the provider did not report it.
	TotalTokens int
}

// Tokens is the reported total, or prompt+completion when no total was given.
func (u Usage) Tokens() int {
	if u.TotalTokens > 0 {
		return u.TotalTokens
	}
	return u.PromptTokens + u.CompletionTokens
}

// IsZero reports whether no token counts were recorded.
func (u Usage) IsZero() bool {
	return u.PromptTokens == 0 && u.CompletionTokens == 0 && u.TotalTokens == 0
}

// Map renders u with the prompt/completion naming.
func (u Usage) Map() map[string]any {
	m := map[string]any{
		"prompt_tokens":     u.PromptTokens,
		"completion_tokens": u.CompletionTokens,
	}
	if u.TotalTokens > 0 {
		m["total_tokens"] = u.TotalTokens
	}
	return m
}

// FromTokenUsage converts the eino usage record attached to model responses.
func FromTokenUsage(tu *schema.TokenUsage) (Usage, bool) {
	if tu == nil {
		return Usage{}, false
	}
	u := Usage{
		PromptTokens:     tu.PromptTokens,
		CompletionTokens: tu.CompletionTokens,
		TotalTokens:      tu.TotalTokens,
	}
	return u, !u.IsZero()
}

// MessageUsage extracts usage from a model response: ResponseMeta first, then
// a "usage" map in Extra, which some providers fill with input/output naming.
func MessageUsage(msg *schema.Message) (Usage, bool) {
	if msg == nil {
		return Usage{}, false
	}
	if msg.ResponseMeta != nil {
		if u, ok := FromTokenUsage(msg.ResponseMeta.Usage); ok {
			return u, true
		}
	}
	if msg.Extra != nil {
		if raw, ok := msg.Extra["usage"]; ok {
			return ParseUsage(raw)
		}
	}
	return Usage{}, false
}

// ParseUsage normalizes a usage record reported under either naming scheme:
// input_tokens/output_tokens or prompt_tokens/completion_tokens, with an
// optional total_tokens. Unknown shapes report false.
func ParseUsage(raw any) (Usage, bool) {
	var m map[string]any
	switch v := raw.(type) {
	case nil:
		return Usage{}, false
	case Usage:
		return v, !v.IsZero()
	case *schema.TokenUsage:
		return FromTokenUsage(v)
	case map[string]any:
		m = v
	case map[string]int:
		m = make(map[string]any, len(v))
		for k, n := range v {
			m[k] = n
		}
	case json.RawMessage:
		if err := json.Unmarshal(v, &m); err != nil {
			return Usage{}, false
		}
	default:
		return Usage{}, false
	}

	var u Usage
	var found bool
	if n, ok := firstInt(m, "prompt_tokens", "input_tokens"); ok {
		u.PromptTokens, found = n, true
	}
	if n, ok := firstInt(m, "completion_tokens", "output_tokens"); ok {
		u.CompletionTokens, found = n, true
	}
	if n, ok := firstInt(m, "total_tokens"); ok {
		u.TotalTokens, found = n, true
	}
	return u, found && !u.IsZero()
}

func firstInt(m map[string]any, keys ...string) (int, bool) {
	for _, k := range keys {
		v, ok := m[k]
		if !ok {
			continue
		}
		if n, ok := toInt(v); ok {
			return n, true
		}
	}
	return 0, false
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return int(n), true
	case float32:
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		return i, err == nil
	}
	return 0, false
}
