// Package contextwin keeps conversations inside the model's token
// budget. It estimates per-message token costs without tokenizing,
// selects the newest messages that fit, and condenses everything older
// into a rolling summary maintained in the background.
package contextwin

import (
	"log/slog"
	"math"
	"sync"

	"golang.org/x/text/width"

	"github.com/lanternai/lantern/internal/conversation"
	"github.com/lanternai/lantern/internal/prompts"
)

// Config tunes budgeting and summarization. Zero values take defaults.
type Config struct {
	// SystemPromptReserve is withheld from the window for the system
	// prompt and capability schema.
	SystemPromptReserve int `yaml:"system_prompt_reserve"`
	// SafetyMargin absorbs estimation error, since costs are heuristic
	// rather than tokenizer-exact.
	SafetyMargin int `yaml:"safety_margin"`
	// MinBudget is the floor for the history budget regardless of how
	// small the model's context is.
	MinBudget int `yaml:"min_budget"`
	// PerMessageOverhead covers role sentinels and separators.
	PerMessageOverhead int `yaml:"per_message_overhead"`
	// WideRuneCost and NarrowRuneCost weight the per-rune estimate.
	// Ideographic scripts run close to a token per character; alphabetic
	// text runs several characters per token.
	WideRuneCost   float64 `yaml:"wide_rune_cost"`
	NarrowRuneCost float64 `yaml:"narrow_rune_cost"`
	// MaxOutputTokens is reserved for the reply being generated.
	MaxOutputTokens int `yaml:"max_output_tokens"`
	// SummaryMaxTokens caps background summary generation.
	SummaryMaxTokens int `yaml:"summary_max_tokens"`
	// SummaryMinAdvance is how many messages must fall out of the
	// window beyond the current summary boundary before a new
	// summarization runs. Without it, the summary's own window cost
	// would re-trigger a one-message re-summarization on every fit.
	SummaryMinAdvance int `yaml:"summary_min_advance"`
	// SummaryTemperature is kept low so summaries stay factual.
	SummaryTemperature float64 `yaml:"summary_temperature"`
}

func (c *Config) applyDefaults() {
	if c.SystemPromptReserve <= 0 {
		c.SystemPromptReserve = 2000
	}
	if c.SafetyMargin <= 0 {
		c.SafetyMargin = 500
	}
	if c.MinBudget <= 0 {
		c.MinBudget = 1000
	}
	if c.PerMessageOverhead <= 0 {
		c.PerMessageOverhead = 4
	}
	if c.WideRuneCost <= 0 {
		c.WideRuneCost = 2.0
	}
	if c.NarrowRuneCost <= 0 {
		c.NarrowRuneCost = 0.3
	}
	if c.MaxOutputTokens <= 0 {
		c.MaxOutputTokens = 512
	}
	if c.SummaryMaxTokens <= 0 {
		c.SummaryMaxTokens = 256
	}
	if c.SummaryMinAdvance <= 0 {
		c.SummaryMinAdvance = 4
	}
	if c.SummaryTemperature <= 0 {
		c.SummaryTemperature = 0.2
	}
}

// Manager assembles token-budgeted context windows and owns the
// background summarization lifecycle for the conversations it serves.
type Manager struct {
	cfg    Config
	gen    Generator
	logger *slog.Logger

	mu   sync.Mutex
	jobs map[string]*summaryJob
}

// NewManager creates a manager over a generator (normally the engine).
func NewManager(cfg Config, gen Generator, logger *slog.Logger) *Manager {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg:    cfg,
		gen:    gen,
		logger: logger.With("component", "contextwin"),
		jobs:   map[string]*summaryJob{},
	}
}

// EstimateMessageCost approximates a message's token cost: a fixed
// per-message overhead plus a weighted rune count over content and
// thinking. Wide (ideographic) runes cost more than narrow ones.
func (m *Manager) EstimateMessageCost(msg *conversation.Message) int {
	return m.cfg.PerMessageOverhead + m.estimateText(msg.Content) + m.estimateText(msg.Thinking)
}

func (m *Manager) estimateText(s string) int {
	if s == "" {
		return 0
	}
	var wide, narrow int
	for _, r := range s {
		switch width.LookupRune(r).Kind() {
		case width.EastAsianWide, width.EastAsianFullwidth:
			wide++
		default:
			narrow++
		}
	}
	units := float64(wide)*m.cfg.WideRuneCost + float64(narrow)*m.cfg.NarrowRuneCost
	return int(math.Ceil(units))
}

// budget is the token allowance for history after reserving space for
// the system prompt, the reply, and estimation slack.
func (m *Manager) budget() int {
	b := m.gen.ContextLength() - m.cfg.SystemPromptReserve - m.cfg.MaxOutputTokens - m.cfg.SafetyMargin
	if b < m.cfg.MinBudget {
		b = m.cfg.MinBudget
	}
	return b
}

// FitToContext returns the window to prompt with: the newest messages
// whose combined estimated cost fits the budget, preceded by a
// synthetic system message carrying the history summary when older
// turns exist. Messages older than the window are scheduled for
// background summarization; the call itself never blocks on it.
func (m *Manager) FitToContext(conv *conversation.Conversation) []*conversation.Message {
	msgs := conv.Snapshot()
	summary, summarizedUpTo := conv.Summary()

	// The summary rides in the window as a message of its own, so its
	// full cost (header included) is reserved before filling.
	budget := m.budget()
	var summaryMsg *conversation.Message
	if summary != "" {
		summaryMsg = &conversation.Message{
			Role:    conversation.RoleSystem,
			Content: prompts.SummaryHeader + summary,
		}
		budget -= m.EstimateMessageCost(summaryMsg)
	}

	// Fill newest to oldest. Messages at or below the summary boundary
	// are already represented by the summary and never re-enter.
	boundary := len(msgs)
	used := 0
	for i := len(msgs) - 1; i >= summarizedUpTo; i-- {
		cost := m.EstimateMessageCost(msgs[i])
		if used+cost > budget && boundary < len(msgs) {
			break
		}
		used += cost
		boundary = i
	}
	if boundary < summarizedUpTo {
		boundary = summarizedUpTo
	}

	window := make([]*conversation.Message, 0, len(msgs)-boundary+1)
	if boundary > 0 && summaryMsg != nil {
		window = append(window, summaryMsg)
	}
	window = append(window, msgs[boundary:]...)

	if boundary > summarizedUpTo {
		m.logger.Debug("messages trimmed from window",
			"conversation", conv.ID, "trimmed", boundary-summarizedUpTo, "kept", len(msgs)-boundary)
		if boundary-summarizedUpTo >= m.cfg.SummaryMinAdvance {
			m.scheduleSummary(conv, boundary)
		}
	}
	return window
}
