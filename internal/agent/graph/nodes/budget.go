package nodes

import (
	"github.com/cloudwego/eino/schema"
)

const DefaultMaxToolCalls = 10

// normalizeMaxToolCalls returns a sane default when the provided value is invalid.
func normalizeMaxToolCalls(n int) int {
	if n <= 0 {
		return DefaultMaxToolCalls
	}
	return n
}

// splitByBudget separates the calls that may still execute from the ones
// that would exceed the remaining budget.
func splitByBudget(pending []schema.ToolCall, remaining int) (run, skipped []schema.ToolCall) {
	if remaining <= 0 {
		return nil, pending
	}
	if remaining >= len(pending) {
		return pending, nil
	}
	return pending[:remaining], pending[remaining:]
}
