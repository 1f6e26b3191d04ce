package prompt

import (
	"fmt"
	"strings"

	"github.com/ngoclaw/scenegate/internal/domain/budget"
	"github.com/ngoclaw/scenegate/internal/domain/entity"
)

// ReplyCue ends every prompt so the model continues as the assistant.
const ReplyCue = "Assistant:"

const segmentSeparator = "\n\n"

var roleLabels = map[entity.Role]string{
	entity.RoleUser:      "User",
	entity.RoleAssistant: "Assistant",
	entity.RoleAdmin:     "Operator",
}

// Stats 记录各段 token 用量
type Stats struct {
	FixedTokens       int `json:"fixed_tokens"`
	HistoryTokens     int `json:"history_tokens"`
	ResponseAllowance int `json:"response_allowance"`
	Total             int `json:"total"`
	MessagesIncluded  int `json:"messages_included"`
	MessagesDropped   int `json:"messages_dropped"`
}

// Used is the sum the budget guarantees never exceeds Total.
func (s Stats) Used() int {
	return s.FixedTokens + s.HistoryTokens + s.ResponseAllowance
}

// Prompt is an assembled prompt ready for the inference engine.
type Prompt struct {
	Text   string
	Tier   DecodingTier
	Params DecodingParams
	Stats  Stats
}

// Assembler renders the persona head, scenario, rules and trimmed history
// into one prompt that fits a TokenBudget.
type Assembler struct {
	counter      budget.Counter
	includeAdmin bool
}

// AssemblerOption configures an Assembler.
type AssemblerOption func(*Assembler)

// WithAdminTurns includes operator messages in the rendered history.
func WithAdminTurns(include bool) AssemblerOption {
	return func(a *Assembler) { a.includeAdmin = include }
}

// NewAssembler creates an assembler measuring text with counter.
func NewAssembler(counter budget.Counter, opts ...AssemblerOption) *Assembler {
	if counter == nil {
		counter = budget.TokenizerFunc(budget.HeuristicCount)
	}
	a := &Assembler{counter: counter}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Assemble builds the prompt. The fixed segments (head, scenario, rules and
// the reply cue) are never trimmed; if they need more than the fixed
// allowance a *BudgetError is returned. History fills what remains after
// the response allowance, newest turns first.
func (a *Assembler) Assemble(
	profile *entity.SystemPromptProfile,
	scenario string,
	history []*entity.Message,
	b TokenBudget,
	tier DecodingTier,
) (*Prompt, error) {
	if profile == nil {
		return nil, entity.ErrNoActiveProfile
	}
	if err := b.Validate(); err != nil {
		return nil, fmt.Errorf("invalid token budget: %w", err)
	}

	fixed := renderFixed(profile.HeadText(), scenario, profile.RuleText())
	fixedTokens := a.counter.Count(fixed) + a.counter.Count(ReplyCue)
	if fixedTokens > b.FixedAllowance {
		return nil, &BudgetError{FixedTokens: fixedTokens, FixedAllowance: b.FixedAllowance}
	}

	lines := make([]string, 0, len(history))
	for _, m := range history {
		if m == nil || (m.Role() == entity.RoleAdmin && !a.includeAdmin) {
			continue
		}
		lines = append(lines, RenderTurn(m))
	}

	allowance := b.Total - b.ResponseAllowance - fixedTokens
	trimmed := budget.TrimHistory(lines, allowance, b.MaxMessages, a.counter)

	var sb strings.Builder
	sb.WriteString(fixed)
	for _, idx := range trimmed.Kept {
		sb.WriteString(lines[idx])
	}
	sb.WriteString(ReplyCue)

	params := tier.Params()
	if params.MaxNewTokens > b.ResponseAllowance {
		params.MaxNewTokens = b.ResponseAllowance
	}
	if _, ok := decodingTable[tier]; !ok {
		tier = DefaultTier
	}

	return &Prompt{
		Text:   sb.String(),
		Tier:   tier,
		Params: params,
		Stats: Stats{
			FixedTokens:       fixedTokens,
			HistoryTokens:     trimmed.Tokens,
			ResponseAllowance: b.ResponseAllowance,
			Total:             b.Total,
			MessagesIncluded:  len(trimmed.Kept),
			MessagesDropped:   trimmed.Dropped,
		},
	}, nil
}

// renderFixed joins the non-empty fixed segments, each followed by a blank
// line.
func renderFixed(segments ...string) string {
	var sb strings.Builder
	for _, s := range segments {
		if s = strings.TrimSpace(s); s != "" {
			sb.WriteString(s)
			sb.WriteString(segmentSeparator)
		}
	}
	return sb.String()
}

// RenderTurn renders one history line exactly as it appears in a prompt.
func RenderTurn(m *entity.Message) string {
	label, ok := roleLabels[m.Role()]
	if !ok {
		label = string(m.Role())
	}
	return label + ": " + strings.TrimSpace(m.Content()) + "\n"
}
