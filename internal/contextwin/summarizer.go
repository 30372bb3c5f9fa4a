package contextwin

import (
	"context"
	"fmt"
	"strings"

	"github.com/lanternai/lantern/internal/conversation"
	"github.com/lanternai/lantern/internal/engine"
	"github.com/lanternai/lantern/internal/prompts"
)

// Generator produces text for summarization. The engine satisfies it.
type Generator interface {
	Generate(ctx context.Context, prompt string, cfg engine.SamplingConfig, onToken engine.OnToken) (string, error)
	ContextLength() int
}

// summaryJob tracks one in-flight background summarization.
type summaryJob struct {
	upTo   int
	cancel context.CancelFunc
	done   chan struct{}
}

// scheduleSummary starts a background job condensing messages [0, upTo)
// of the conversation. Scheduling is debounced latest-wins: a job
// already covering at least upTo is left alone, and a narrower one is
// cancelled and replaced. At most one job per conversation runs at a
// time, so summary writes are single-writer.
func (m *Manager) scheduleSummary(conv *conversation.Conversation, upTo int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if job, ok := m.jobs[conv.ID]; ok {
		if job.upTo >= upTo {
			return
		}
		job.cancel()
	}

	// Jobs outlive the request that triggered them; only a wider
	// replacement cancels one.
	ctx, cancel := context.WithCancel(context.Background())
	job := &summaryJob{upTo: upTo, cancel: cancel, done: make(chan struct{})}
	m.jobs[conv.ID] = job

	go func() {
		defer close(job.done)
		m.runSummary(ctx, conv, upTo)
		m.mu.Lock()
		if m.jobs[conv.ID] == job {
			delete(m.jobs, conv.ID)
		}
		m.mu.Unlock()
	}()
}

// runSummary generates the updated summary and commits it. Failures and
// cancellations leave the existing summary state untouched.
func (m *Manager) runSummary(ctx context.Context, conv *conversation.Conversation, upTo int) {
	existing, from := conv.Summary()
	if upTo <= from {
		return
	}
	msgs := conv.Snapshot()
	if upTo > len(msgs) {
		upTo = len(msgs)
	}

	prompt := prompts.SummaryPrompt(existing, renderSpan(msgs[from:upTo]))
	cfg := engine.DefaultSamplingConfig()
	cfg.Temperature = m.cfg.SummaryTemperature
	cfg.MaxTokens = m.cfg.SummaryMaxTokens

	text, err := m.gen.Generate(ctx, prompt, cfg, nil)
	if err != nil {
		m.logger.Warn("summarization failed", "conversation", conv.ID, "error", err)
		return
	}
	if ctx.Err() != nil || strings.TrimSpace(text) == "" {
		return
	}

	if err := conv.SetSummary(strings.TrimSpace(text), upTo); err != nil {
		m.logger.Warn("summary rejected", "conversation", conv.ID, "error", err)
		return
	}
	m.logger.Info("history summarized", "conversation", conv.ID, "up_to", upTo)
}

// Wait blocks until the conversation has no in-flight summary job.
// Intended for shutdown and tests.
func (m *Manager) Wait(convID string) {
	m.mu.Lock()
	job, ok := m.jobs[convID]
	m.mu.Unlock()
	if ok {
		<-job.done
	}
}

// renderSpan formats messages for the summarization prompt.
func renderSpan(msgs []*conversation.Message) string {
	var sb strings.Builder
	for _, msg := range msgs {
		fmt.Fprintf(&sb, "%s: %s\n", msg.Role, msg.Content)
	}
	return sb.String()
}
