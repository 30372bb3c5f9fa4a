// Package agent runs the tool-augmented response loop: prompt the
// model over the fitted context window, intercept capability calls,
// feed results back, and repeat until the model produces a plain
// answer or the iteration cap ends the turn.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/lanternai/lantern/internal/capability"
	"github.com/lanternai/lantern/internal/contextwin"
	"github.com/lanternai/lantern/internal/conversation"
	"github.com/lanternai/lantern/internal/engine"
	"github.com/lanternai/lantern/internal/parser"
	"github.com/lanternai/lantern/internal/prompts"
)

// ErrBusy is returned when a response is requested while another is
// still being produced. One response at a time; callers queue or
// reject upstream.
var ErrBusy = errors.New("agent: response already in progress")

// Config tunes the response loop. Zero values take defaults.
type Config struct {
	// MaxIterations caps generate/dispatch rounds per user turn so a
	// model stuck requesting tools cannot loop forever.
	MaxIterations int `yaml:"max_iterations"`
	// MaxToolResultLen caps the bytes of a tool result fed back to the
	// model; oversized results are truncated with a marker.
	MaxToolResultLen int `yaml:"max_tool_result_len"`
	// Persona is appended to the system prompt when set.
	Persona string `yaml:"persona"`
	// Sampling configures generation for user-facing responses.
	Sampling engine.SamplingConfig `yaml:"sampling"`
}

func (c *Config) applyDefaults() {
	if c.MaxIterations <= 0 {
		c.MaxIterations = 6
	}
	if c.MaxToolResultLen <= 0 {
		c.MaxToolResultLen = 4096
	}
	if c.Sampling.Temperature == 0 && c.Sampling.MaxTokens == 0 {
		c.Sampling = engine.DefaultSamplingConfig()
	}
}

// Agent orchestrates responses for conversations.
type Agent struct {
	cfg      Config
	eng      *engine.Engine
	window   *contextwin.Manager
	registry *capability.Registry
	logger   *slog.Logger

	busy atomic.Bool
}

// New creates an agent.
func New(cfg Config, eng *engine.Engine, window *contextwin.Manager, registry *capability.Registry, logger *slog.Logger) *Agent {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{
		cfg:      cfg,
		eng:      eng,
		window:   window,
		registry: registry,
		logger:   logger.With("component", "agent"),
	}
}

// Respond appends the user's message to the conversation and produces
// the assistant's reply, invoking capabilities as the model requests
// them. Progress is reported through onEvent. Cancellation ends the
// turn gracefully with whatever text was produced.
func (a *Agent) Respond(ctx context.Context, conv *conversation.Conversation, userText string, onEvent OnEvent) (*conversation.Message, error) {
	return a.RespondMessage(ctx, conv, conversation.NewMessage(conversation.RoleUser, userText), onEvent)
}

// RespondMessage is Respond for a caller-built user message, for turns
// carrying an image attachment or other pre-populated fields.
func (a *Agent) RespondMessage(ctx context.Context, conv *conversation.Conversation, userMsg *conversation.Message, onEvent OnEvent) (*conversation.Message, error) {
	if !a.busy.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer a.busy.Store(false)

	emit := func(ev Event) {
		if onEvent != nil {
			onEvent(ev)
		}
	}

	conv.Append(userMsg)
	working := a.window.FitToContext(conv)

	system := prompts.SystemPrompt(prompts.SystemPromptData{
		CapabilityBlock: a.registry.Describe(),
		Persona:         a.cfg.Persona,
		Now:             time.Now(),
	})

	var answer strings.Builder
	var thinking []string

	for iter := 1; iter <= a.cfg.MaxIterations; iter++ {
		raw, err := a.generate(ctx, system, working, emit, iter)
		if err != nil {
			return nil, err
		}

		calls := a.collect(raw, &answer, &thinking)
		if len(calls) == 0 || ctx.Err() != nil {
			break
		}

		// The model's own output joins the working transcript so it can
		// see what it asked for, followed by one tool turn per call.
		working = append(working, &conversation.Message{
			Role:    conversation.RoleAssistant,
			Content: raw,
		})
		for _, call := range calls {
			working = append(working, a.invoke(ctx, call, emit, iter))
		}

		if iter == a.cfg.MaxIterations {
			a.logger.Warn("iteration cap reached", "conversation", conv.ID)
		}
	}

	final := strings.TrimSpace(answer.String())
	if final == "" {
		final = prompts.EmptyResponseFallback
	}

	msg := conversation.NewMessage(conversation.RoleAssistant, final)
	msg.Thinking = strings.Join(thinking, "\n\n")
	conv.Append(msg)
	emit(Event{Kind: EventDone, Text: final})
	return msg, nil
}

// generate runs one model pass over the working transcript, streaming
// visible text and thinking as events.
func (a *Agent) generate(ctx context.Context, system string, working []*conversation.Message, emit func(Event), iter int) (string, error) {
	sp := &parser.StreamParser{
		OnText: func(text string) {
			emit(Event{Kind: EventToken, Text: text, Iteration: iter})
		},
		OnThinking: func(text string) {
			emit(Event{Kind: EventThinking, Text: text, Iteration: iter})
		},
	}

	// Copy before appending: cfg shares its slice header with the
	// agent's config, and appending in place could write through it.
	cfg := a.cfg.Sampling
	stops := make([]string, 0, len(cfg.StopSequences)+3)
	stops = append(stops, cfg.StopSequences...)
	cfg.StopSequences = append(stops, prompts.StopSequences()...)

	prompt := prompts.FormatTranscript(system, working)
	raw, err := a.eng.Generate(ctx, prompt, cfg, func(frag string) {
		sp.Feed(frag)
	})
	if err != nil {
		return "", fmt.Errorf("generation failed: %w", err)
	}
	sp.Flush()
	return raw, nil
}

// collect classifies one pass of raw output, accumulating visible text
// and thinking and returning any tool calls.
func (a *Agent) collect(raw string, answer *strings.Builder, thinking *[]string) []*parser.ToolCall {
	var calls []*parser.ToolCall
	for _, seg := range parser.Parse(raw) {
		switch seg.Kind {
		case parser.KindText:
			if answer.Len() > 0 {
				answer.WriteString("\n")
			}
			answer.WriteString(seg.Text)
		case parser.KindThinking:
			*thinking = append(*thinking, seg.Text)
		case parser.KindToolCall:
			calls = append(calls, seg.Call)
		}
	}
	return calls
}

// invoke dispatches one capability call and wraps the outcome as a tool
// turn. Dispatch errors become tool-result text so the model can adjust
// instead of the turn failing.
func (a *Agent) invoke(ctx context.Context, call *parser.ToolCall, emit func(Event), iter int) *conversation.Message {
	emit(Event{Kind: EventToolCallStart, Operation: call.Name, Iteration: iter})
	a.logger.Info("dispatching capability", "operation", call.Name)

	result, err := a.registry.Dispatch(ctx, call.Name, call.Arguments)
	if err != nil {
		a.logger.Warn("capability failed", "operation", call.Name, "error", err)
		result = fmt.Sprintf("Error: %v", err)
	}
	result = capability.TruncateResult(result, a.cfg.MaxToolResultLen)

	emit(Event{Kind: EventToolCallDone, Operation: call.Name, Text: result, Iteration: iter})
	return &conversation.Message{
		Role:    conversation.RoleTool,
		Content: fmt.Sprintf("Result of %s: %s", call.Name, result),
	}
}
