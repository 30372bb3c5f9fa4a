// Package prompts holds the prompt templates and transcript formatting
// used by the orchestration loop and the context window manager.
package prompts

import (
	"fmt"
	"strings"
	"time"

	"github.com/lanternai/lantern/internal/conversation"
)

// Role sentinels understood by chat-tuned models. The assistant
// sentinel ends the transcript so the model continues in that role.
const (
	sentinelSystem    = "<|system|>"
	sentinelUser      = "<|user|>"
	sentinelAssistant = "<|assistant|>"
	sentinelTool      = "<|tool|>"
)

// systemTemplate instructs the model how to request a capability
// invocation. The marker syntax must match what the parser recognizes.
const systemTemplate = `You are a helpful AI assistant. You have access to various tools to help accomplish tasks.

When you need to use a tool, output a tool call in this format:
<tool_call>
{"name": "tool_name", "arguments": {"arg1": "value1"}}
</tool_call>

Available tools:
%s`

// EmptyResponseFallback is returned to the user when the model produces
// no visible content after its final iteration.
const EmptyResponseFallback = "I processed your request but wasn't able to compose a response. Please try again."

// SystemPromptData carries everything that goes into the per-turn
// system prompt.
type SystemPromptData struct {
	// CapabilityBlock is the rendered operation listing from the
	// capability registry.
	CapabilityBlock string
	// Persona is appended after the tool instructions, if set.
	Persona string
	// Now is the current time, included as situational context.
	Now time.Time
	// RecentTitles lists recent conversation titles, if the embedding
	// application tracks them.
	RecentTitles []string
}

// SystemPrompt builds the system prompt: tool-call instructions and
// capability schema first, then persona and situational context.
func SystemPrompt(d SystemPromptData) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, systemTemplate, d.CapabilityBlock)
	if d.Persona != "" {
		sb.WriteString("\n\n")
		sb.WriteString(d.Persona)
	}
	if !d.Now.IsZero() {
		fmt.Fprintf(&sb, "\n\nCurrent time: %s", d.Now.Format(time.RFC1123))
	}
	if len(d.RecentTitles) > 0 {
		sb.WriteString("\nRecent conversations:\n")
		for _, t := range d.RecentTitles {
			fmt.Fprintf(&sb, "- %s\n", t)
		}
	}
	return sb.String()
}

// FormatTranscript renders the system prompt and messages with role
// sentinels, ending with an open assistant turn for the model to
// complete.
func FormatTranscript(system string, msgs []*conversation.Message) string {
	var sb strings.Builder
	if system != "" {
		sb.WriteString(sentinelSystem + "\n" + system + "\n")
	}
	for _, m := range msgs {
		switch m.Role {
		case conversation.RoleSystem:
			sb.WriteString(sentinelSystem)
		case conversation.RoleUser:
			sb.WriteString(sentinelUser)
		case conversation.RoleTool:
			sb.WriteString(sentinelTool)
		default:
			sb.WriteString(sentinelAssistant)
		}
		sb.WriteString("\n" + m.Content + "\n")
	}
	sb.WriteString(sentinelAssistant + "\n")
	return sb.String()
}

// StopSequences returns the sentinels that end an assistant turn. The
// engine stops as soon as the accumulated output ends with one of them.
func StopSequences() []string {
	return []string{sentinelUser, sentinelSystem, sentinelTool}
}

// summaryTemplate asks for a fresh condensation of a conversation span.
const summaryTemplate = `Summarize this conversation concisely. Focus on:
1. Key topics discussed
2. Decisions made or preferences expressed
3. Actions taken and their results
4. Any open items or things to remember

Keep the summary under 300 words. Use bullet points.

Conversation:
%s

Summary:`

// extendTemplate re-condenses an existing summary together with newer
// turns instead of restarting from scratch.
const extendTemplate = `Below is a summary of the earlier part of a conversation, followed by the turns that happened since. Produce a single updated summary that extends and re-condenses both. Keep it under 300 words. Use bullet points.

Earlier summary:
%s

New turns:
%s

Updated summary:`

// SummaryPrompt builds the summarization prompt. When a prior summary
// exists it is supplied as context so the model extends it rather than
// restarting.
func SummaryPrompt(existingSummary, transcript string) string {
	if existingSummary == "" {
		return fmt.Sprintf(summaryTemplate, transcript)
	}
	return fmt.Sprintf(extendTemplate, existingSummary, transcript)
}

// SummaryHeader prefixes the synthetic system message carrying the
// history summary into the bounded context.
const SummaryHeader = "Summary of the earlier conversation:\n"
