package contextwin

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanternai/lantern/internal/conversation"
	"github.com/lanternai/lantern/internal/engine"
)

// fakeGenerator records summarization prompts and returns a canned
// summary.
type fakeGenerator struct {
	mu      sync.Mutex
	ctxLen  int
	summary string
	err     error
	prompts []string
}

func (f *fakeGenerator) Generate(ctx context.Context, prompt string, cfg engine.SamplingConfig, onToken engine.OnToken) (string, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	f.mu.Unlock()
	return f.summary, f.err
}

func (f *fakeGenerator) ContextLength() int { return f.ctxLen }

func (f *fakeGenerator) promptCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}

// tightConfig keeps reserves tiny so small test conversations overflow.
func tightConfig() Config {
	return Config{
		SystemPromptReserve: 10,
		SafetyMargin:        5,
		MinBudget:           1,
		PerMessageOverhead:  4,
		MaxOutputTokens:     10,
	}
}

func newTestManager(gen *fakeGenerator, cfg Config) *Manager {
	return NewManager(cfg, gen, nil)
}

func TestEstimateMessageCost(t *testing.T) {
	m := newTestManager(&fakeGenerator{ctxLen: 4096}, Config{})

	narrow := conversation.NewMessage(conversation.RoleUser, strings.Repeat("a", 100))
	// 100 narrow runes * 0.3 = 30, plus overhead 4.
	assert.Equal(t, 34, m.EstimateMessageCost(narrow))

	wide := conversation.NewMessage(conversation.RoleUser, strings.Repeat("日", 100))
	// 100 wide runes * 2.0 = 200, plus overhead 4.
	assert.Equal(t, 204, m.EstimateMessageCost(wide))

	empty := conversation.NewMessage(conversation.RoleUser, "")
	assert.Equal(t, 4, m.EstimateMessageCost(empty))
}

func TestEstimateMessageCost_IncludesThinking(t *testing.T) {
	m := newTestManager(&fakeGenerator{ctxLen: 4096}, Config{})
	msg := conversation.NewMessage(conversation.RoleAssistant, "short")
	base := m.EstimateMessageCost(msg)
	msg.Thinking = strings.Repeat("x", 200)
	assert.Greater(t, m.EstimateMessageCost(msg), base)
}

func TestFitToContext_AllFit(t *testing.T) {
	gen := &fakeGenerator{ctxLen: 4096}
	m := newTestManager(gen, Config{})
	conv := conversation.New()
	for i := 0; i < 10; i++ {
		conv.Append(conversation.NewMessage(conversation.RoleUser, "short message"))
	}

	window := m.FitToContext(conv)
	assert.Len(t, window, 10)
	assert.Equal(t, 0, gen.promptCount(), "no summarization when everything fits")
}

func TestFitToContext_KeepsNewest(t *testing.T) {
	gen := &fakeGenerator{ctxLen: 200, summary: "- earlier chat"}
	m := newTestManager(gen, tightConfig())
	conv := conversation.New()
	for i := 0; i < 50; i++ {
		conv.Append(conversation.NewMessage(conversation.RoleUser, strings.Repeat("a", 100)))
	}

	window := m.FitToContext(conv)
	m.Wait(conv.ID)

	require.NotEmpty(t, window)
	assert.Less(t, len(window), 50)
	// The window holds the tail of the conversation.
	snap := conv.Snapshot()
	assert.Equal(t, snap[len(snap)-1], window[len(window)-1])
	assert.Equal(t, snap[len(snap)-len(window)], window[0])
}

func TestFitToContext_AlwaysKeepsLatestMessage(t *testing.T) {
	gen := &fakeGenerator{ctxLen: 50}
	m := newTestManager(gen, tightConfig())
	conv := conversation.New()
	conv.Append(conversation.NewMessage(conversation.RoleUser, strings.Repeat("a", 5000)))

	window := m.FitToContext(conv)
	require.Len(t, window, 1, "the newest message survives even over budget")
}

func TestFitToContext_WindowCostWithinBudget(t *testing.T) {
	cases := []struct {
		name    string
		content func(i int) string
	}{
		{"narrow", func(i int) string { return strings.Repeat("a", 80+i) }},
		{"wide", func(i int) string { return strings.Repeat("日", 40+i%7) }},
		{"mixed", func(i int) string {
			if i%2 == 0 {
				return strings.Repeat("x", 150)
			}
			return strings.Repeat("語", 50)
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			gen := &fakeGenerator{ctxLen: 300, summary: "- condensed earlier turns"}
			m := newTestManager(gen, tightConfig())
			conv := conversation.New()
			for i := 0; i < 40; i++ {
				conv.Append(conversation.NewMessage(conversation.RoleUser, tc.content(i)))
			}

			// First without a summary, then again after one has landed.
			// The combined cost of the window, summary message included,
			// stays within the budget. The one exception is a lone newest
			// message that alone exceeds it, which is kept regardless.
			for pass := 0; pass < 2; pass++ {
				window := m.FitToContext(conv)
				require.NotEmpty(t, window)
				total, kept := 0, 0
				for _, msg := range window {
					total += m.EstimateMessageCost(msg)
					if msg.Role != conversation.RoleSystem {
						kept++
					}
				}
				if kept > 1 || total <= m.budget() {
					assert.LessOrEqual(t, total, m.budget(), "pass %d", pass)
				}
				m.Wait(conv.ID)
			}
		})
	}
}

// windowBoundary locates the window's first conversation message in the
// snapshot, skipping the synthetic summary message.
func windowBoundary(t *testing.T, conv *conversation.Conversation, window []*conversation.Message) int {
	t.Helper()
	require.NotEmpty(t, window)
	first := window[0]
	if first.Role == conversation.RoleSystem {
		require.Greater(t, len(window), 1)
		first = window[1]
	}
	for i, msg := range conv.Snapshot() {
		if msg == first {
			return i
		}
	}
	t.Fatal("window head not found in conversation")
	return -1
}

func TestFitToContext_UnsummarizedGapBounded(t *testing.T) {
	gen := &fakeGenerator{ctxLen: 200, summary: "- earlier chat"}
	m := newTestManager(gen, tightConfig())
	conv := conversation.New()
	for i := 0; i < 50; i++ {
		conv.Append(conversation.NewMessage(conversation.RoleUser, strings.Repeat("a", 100)))
	}
	m.FitToContext(conv)
	m.Wait(conv.ID)
	_, upTo := conv.Summary()
	require.Greater(t, upTo, 0)

	// Messages trimmed from the window but past the summary boundary are
	// absent from the prompt entirely until the gap reaches the
	// re-summarization threshold, so the gap never grows beyond it.
	for i := 0; i < 3*m.cfg.SummaryMinAdvance; i++ {
		conv.Append(conversation.NewMessage(conversation.RoleUser, strings.Repeat("a", 100)))
		window := m.FitToContext(conv)
		m.Wait(conv.ID)

		_, upTo := conv.Summary()
		gap := windowBoundary(t, conv, window) - upTo
		assert.GreaterOrEqual(t, gap, 0)
		assert.Less(t, gap, m.cfg.SummaryMinAdvance)
	}
}

func TestFitToContext_SchedulesSummaryOnce(t *testing.T) {
	gen := &fakeGenerator{ctxLen: 200, summary: "- earlier chat"}
	m := newTestManager(gen, tightConfig())
	conv := conversation.New()
	for i := 0; i < 50; i++ {
		conv.Append(conversation.NewMessage(conversation.RoleUser, strings.Repeat("a", 100)))
	}

	m.FitToContext(conv)
	m.Wait(conv.ID)
	require.Equal(t, 1, gen.promptCount())

	summary, upTo := conv.Summary()
	assert.Equal(t, "- earlier chat", summary)
	assert.Greater(t, upTo, 0)

	// Same boundary again: already covered, no new job.
	m.FitToContext(conv)
	m.Wait(conv.ID)
	assert.Equal(t, 1, gen.promptCount())
}

func TestFitToContext_SummaryPrefixedAfterCondensation(t *testing.T) {
	gen := &fakeGenerator{ctxLen: 200, summary: "- we talked at length"}
	m := newTestManager(gen, tightConfig())
	conv := conversation.New()
	for i := 0; i < 50; i++ {
		conv.Append(conversation.NewMessage(conversation.RoleUser, strings.Repeat("a", 100)))
	}

	m.FitToContext(conv)
	m.Wait(conv.ID)

	window := m.FitToContext(conv)
	m.Wait(conv.ID)
	require.NotEmpty(t, window)
	assert.Equal(t, conversation.RoleSystem, window[0].Role)
	assert.Contains(t, window[0].Content, "- we talked at length")
}

func TestSummaryFailureLeavesStateUntouched(t *testing.T) {
	gen := &fakeGenerator{ctxLen: 200, err: errors.New("model unavailable")}
	m := newTestManager(gen, tightConfig())
	conv := conversation.New()
	for i := 0; i < 50; i++ {
		conv.Append(conversation.NewMessage(conversation.RoleUser, strings.Repeat("a", 100)))
	}

	m.FitToContext(conv)
	m.Wait(conv.ID)

	summary, upTo := conv.Summary()
	assert.Empty(t, summary)
	assert.Equal(t, 0, upTo)

	// Recovery: the next fit schedules again once the model is back.
	gen.err = nil
	gen.summary = "- recovered"
	m.FitToContext(conv)
	m.Wait(conv.ID)
	summary, _ = conv.Summary()
	assert.Equal(t, "- recovered", summary)
}

func TestSummaryPromptCarriesExistingSummary(t *testing.T) {
	gen := &fakeGenerator{ctxLen: 200, summary: "- updated"}
	m := newTestManager(gen, tightConfig())
	conv := conversation.New()
	for i := 0; i < 30; i++ {
		conv.Append(conversation.NewMessage(conversation.RoleUser, strings.Repeat("a", 100)))
	}
	require.NoError(t, conv.SetSummary("- the old days", 10))

	m.FitToContext(conv)
	m.Wait(conv.ID)

	gen.mu.Lock()
	defer gen.mu.Unlock()
	require.NotEmpty(t, gen.prompts)
	assert.Contains(t, gen.prompts[0], "- the old days")
}

func TestWait_NoJob(t *testing.T) {
	m := newTestManager(&fakeGenerator{ctxLen: 4096}, Config{})
	done := make(chan struct{})
	go func() {
		m.Wait("nope")
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Wait on unknown conversation should return immediately")
	}
}
