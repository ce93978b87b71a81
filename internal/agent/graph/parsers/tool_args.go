package parsers

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ArgRule describes how one tool argument is sanitized.
type ArgRule struct {
	// Kind is "string" or "int".
	Kind string
	// Min/Max clamp int arguments when Max > 0.
	Min, Max int
	// Drop removes values that cannot be coerced instead of stringifying them.
	Drop bool
}

// SanitizeArguments normalizes model-produced tool arguments. It never fails:
// non-JSON input is returned unchanged, uncoercible optional values are
// dropped, strings are trimmed and numbers clamped.
func SanitizeArguments(arguments string, rules map[string]ArgRule) string {
	if strings.TrimSpace(arguments) == "" {
		return "{}"
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(arguments), &m); err != nil {
		return arguments
	}

	for key, rule := range rules {
		v, ok := m[key]
		if !ok {
			continue
		}
		switch rule.Kind {
		case "string":
			switch vv := v.(type) {
			case string:
				m[key] = strings.TrimSpace(vv)
			default:
				if rule.Drop {
					delete(m, key)
				} else {
					m[key] = strings.TrimSpace(fmt.Sprint(v))
				}
			}
		case "int":
			var n int
			var ok bool
			switch vv := v.(type) {
			case float64:
				n, ok = int(vv), true
			case string:
				if i, err := strconv.Atoi(strings.TrimSpace(vv)); err == nil {
					n, ok = i, true
				}
			}
			if !ok {
				delete(m, key)
				continue
			}
			if rule.Max > 0 {
				n = clampInt(n, rule.Min, rule.Max)
			}
			m[key] = n
		}
	}

	b, err := json.Marshal(m)
	if err != nil {
		return arguments
	}
	return string(b)
}

// clampInt returns v limited to [min, max].
func clampInt(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
