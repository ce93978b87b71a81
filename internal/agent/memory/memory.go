// Package memory partitions conversation history into a verbatim recent window
// and a rolling summary of everything older.
package memory

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/chative-core/workflow/internal/agent/graph/parsers"
	"github.com/chative-core/workflow/internal/agent/graph/prompts"
)

// SummaryMarker prefixes every generated summary.
const SummaryMarker = "Summary:"

// maxFallbackChars bounds the extractive fallback summary.
const maxFallbackChars = 1200

// DefaultDenyList matches conversational filler that must never end up in a summary.
var DefaultDenyList = []string{
	`what would you like to (talk|chat) about`,
	`what (else )?can i help you with`,
	`how can i (help|assist) you`,
	`is there anything else`,
	`(feel free|don't hesitate) to ask`,
	`let me know if`,
	`no (previous |prior )?(conversation )?history (to summarize|available)`,
	`nothing to summari[sz]e`,
	`there (is|was) no (previous |prior )?conversation`,
	`i('m| am) (here|happy) to help`,
}

var sentenceSplit = regexp.MustCompile(`[^.!?]+[.!?]*`)

// Manager produces rolling summaries with one model call per condensation.
type Manager struct {
	chat einomodel.BaseChatModel
	deny []*regexp.Regexp
	opts []einomodel.Option
}

// Option configures a Manager.
type Option func(*Manager)

// WithDenyList replaces the filler phrases stripped from summaries.
func WithDenyList(patterns ...string) Option {
	return func(m *Manager) {
		m.deny = compile(patterns)
	}
}

// WithModelOptions passes call options (temperature, max tokens) to the summarizer.
func WithModelOptions(opts ...einomodel.Option) Option {
	return func(m *Manager) { m.opts = append(m.opts, opts...) }
}

func NewManager(chat einomodel.BaseChatModel, opts ...Option) *Manager {
	m := &Manager{chat: chat, deny: compile(DefaultDenyList)}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func compile(patterns []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, regexp.MustCompile(`(?i)`+p))
	}
	return out
}

// Result is the outcome of Condense.
type Result struct {
	Recent []*schema.Message
	// Summary is empty when nothing needed condensing.
	Summary string
	// Usage is the summarization call's usage, when reported.
	Usage *parsers.Usage
}

// Condense keeps the last window messages verbatim and summarizes the rest,
// extending previous. When the summarization call fails the recent window is
// still returned together with the error.
func (m *Manager) Condense(ctx context.Context, messages []*schema.Message, window int, previous string) (Result, error) {
	if window <= 0 {
		return Result{}, fmt.Errorf("condense: window must be positive, got %d", window)
	}
	if len(messages) <= window {
		return Result{Recent: messages}, nil
	}

	split := len(messages) - window
	older, recent := messages[:split], messages[split:]
	res := Result{Recent: recent}

	if m.chat == nil {
		return res, errors.New("condense: no summarization model configured")
	}

	transcript := Transcript(older)
	req, err := prompts.RenderSummary(ctx, strings.TrimSpace(previous), transcript)
	if err != nil {
		return res, err
	}
	out, err := m.chat.Generate(ctx, req, m.opts...)
	if err != nil {
		return res, fmt.Errorf("summarize %d messages: %w", len(older), err)
	}
	if u, ok := parsers.MessageUsage(out); ok {
		res.Usage = &u
	}

	var raw string
	if out != nil {
		raw = out.Content
	}
	cleaned := m.Clean(raw)
	if cleaned == "" {
		cleaned = m.Clean(fallbackSummary(older))
	}
	if cleaned == "" {
		cleaned = fmt.Sprintf("%d earlier messages were exchanged.", len(older))
	}
	res.Summary = SummaryMarker + " " + cleaned
	return res, nil
}

// Clean strips the summary marker, filler sentences and surrounding whitespace.
func (m *Manager) Clean(raw string) string {
	// Line breaks are whitespace, so a phrase wrapped across lines is matched
	// as one sentence.
	raw = strings.Join(strings.Fields(raw), " ")
	for strings.HasPrefix(strings.ToLower(raw), strings.ToLower(SummaryMarker)) {
		raw = strings.TrimSpace(raw[len(SummaryMarker):])
	}

	var kept []string
	for _, sentence := range sentenceSplit.FindAllString(raw, -1) {
		s := strings.TrimSpace(sentence)
		if s == "" || m.isFiller(s) {
			continue
		}
		kept = append(kept, s)
	}
	return strings.Join(kept, " ")
}

func (m *Manager) isFiller(sentence string) bool {
	for _, re := range m.deny {
		if re.MatchString(sentence) {
			return true
		}
	}
	return false
}

// Transcript renders messages as "role: content" lines, skipping empty entries.
func Transcript(messages []*schema.Message) string {
	var b strings.Builder
	for _, msg := range messages {
		if msg == nil {
			continue
		}
		content := strings.TrimSpace(msg.Content)
		if content == "" {
			if len(msg.ToolCalls) == 0 {
				continue
			}
			names := make([]string, 0, len(msg.ToolCalls))
			for _, tc := range msg.ToolCalls {
				names = append(names, tc.Function.Name)
			}
			content = "(called tools: " + strings.Join(names, ", ") + ")"
		}
		b.WriteString(string(msg.Role))
		b.WriteString(": ")
		b.WriteString(content)
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String())
}

// fallbackSummary is an extractive summary used when the model produced only filler.
func fallbackSummary(older []*schema.Message) string {
	var parts []string
	for _, msg := range older {
		if msg == nil || (msg.Role != schema.User && msg.Role != schema.Assistant) {
			continue
		}
		c := strings.Join(strings.Fields(msg.Content), " ")
		if c == "" {
			continue
		}
		c = truncateRunes(c, 160)
		parts = append(parts, fmt.Sprintf("%s said: %s", msg.Role, c))
	}
	return truncateRunes(strings.Join(parts, ". "), maxFallbackChars)
}

func truncateRunes(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}
