// Package parser classifies raw model output into a tagged sequence of
// segments: user-visible text, thinking side-channel content, and
// structured tool calls. Malformed markers are never fatal; they fall
// back to plain text so the caller can treat the output as a final
// answer.
package parser

import (
	"encoding/json"
	"strings"
)

const (
	tagToolOpen      = "<tool_call>"
	tagToolClose     = "</tool_call>"
	tagThinkOpen     = "<think>"
	tagThinkClose    = "</think>"
	tagThinkingOpen  = "<thinking>"
	tagThinkingClose = "</thinking>"
)

// Kind discriminates segment variants.
type Kind int

const (
	KindText Kind = iota
	KindThinking
	KindToolCall
)

// ToolCall is a parsed capability invocation request.
type ToolCall struct {
	Name      string
	Arguments map[string]any
	Raw       string
}

// Segment is one classified span of model output.
type Segment struct {
	Kind Kind
	Text string
	Call *ToolCall
}

// HasToolCall reports whether the output contains a complete tool-call
// marker pair.
func HasToolCall(s string) bool {
	open := strings.Index(s, tagToolOpen)
	if open < 0 {
		return false
	}
	return strings.Contains(s[open:], tagToolClose)
}

// HasIncompleteToolCall reports whether a tool-call marker has opened
// but not yet closed. Streaming consumers use this to stop forwarding
// text to the user mid-call.
func HasIncompleteToolCall(s string) bool {
	open := strings.Index(s, tagToolOpen)
	if open < 0 {
		return false
	}
	return !strings.Contains(s[open:], tagToolClose)
}

// Parse splits raw model output into ordered segments. Tool calls are
// recognized either inside <tool_call> tags or as bare JSON objects
// carrying "name" and "arguments" fields. Thinking sections are split
// out of text spans afterwards.
func Parse(raw string) []Segment {
	var segs []Segment
	rest := raw
	for rest != "" {
		open := strings.Index(rest, tagToolOpen)
		if open < 0 {
			segs = append(segs, parseUntagged(rest)...)
			break
		}

		if before := strings.TrimSpace(rest[:open]); before != "" {
			segs = append(segs, Segment{Kind: KindText, Text: before})
		}

		body := rest[open+len(tagToolOpen):]
		closeAt := strings.Index(body, tagToolClose)
		if closeAt < 0 {
			// Incomplete marker; drop the fragment rather than leaking
			// half a tool call to the user.
			break
		}
		if tc := parseToolCallJSON(body[:closeAt]); tc != nil {
			segs = append(segs, Segment{Kind: KindToolCall, Call: tc})
		}
		rest = body[closeAt+len(tagToolClose):]
	}

	return splitThinking(segs)
}

// parseUntagged handles output with no <tool_call> tags left: either a
// bare JSON tool call with surrounding text, or plain text.
func parseUntagged(s string) []Segment {
	var segs []Segment
	if tc, before, after, ok := findBareJSON(s); ok {
		if t := strings.TrimSpace(before); t != "" {
			segs = append(segs, Segment{Kind: KindText, Text: t})
		}
		segs = append(segs, Segment{Kind: KindToolCall, Call: tc})
		if t := strings.TrimSpace(after); t != "" {
			segs = append(segs, Segment{Kind: KindText, Text: t})
		}
		return segs
	}
	if t := strings.TrimSpace(s); t != "" {
		segs = append(segs, Segment{Kind: KindText, Text: t})
	}
	return segs
}

// parseToolCallJSON decodes the marker body. Returns nil for anything
// that is not an object with a string "name".
func parseToolCallJSON(body string) *ToolCall {
	body = strings.TrimSpace(body)
	var decoded struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	}
	if err := json.Unmarshal([]byte(body), &decoded); err != nil || decoded.Name == "" {
		return nil
	}
	args := decoded.Arguments
	if args == nil {
		args = map[string]any{}
	}
	return &ToolCall{Name: decoded.Name, Arguments: args, Raw: body}
}

// findBareJSON locates a {"name": ..., "arguments": ...} object emitted
// without marker tags. Models drop the tags often enough that this
// fallback meaningfully improves dispatch rates.
func findBareJSON(s string) (tc *ToolCall, before, after string, ok bool) {
	nameAt := strings.Index(s, `"name"`)
	if nameAt < 0 {
		return nil, "", "", false
	}

	// Scan backward for the opening brace; any non-whitespace in
	// between means "name" belongs to something else.
	start := -1
	for i := nameAt - 1; i >= 0; i-- {
		c := s[i]
		if c == '{' {
			start = i
			break
		}
		if c != ' ' && c != '\t' && c != '\n' && c != '\r' {
			break
		}
	}
	if start < 0 {
		return nil, "", "", false
	}

	end := matchingBrace(s[start:])
	if end < 0 {
		return nil, "", "", false
	}
	body := s[start : start+end+1]
	if !strings.Contains(body, `"arguments"`) {
		return nil, "", "", false
	}
	tc = parseToolCallJSON(body)
	if tc == nil {
		return nil, "", "", false
	}
	return tc, s[:start], s[start+end+1:], true
}

// matchingBrace returns the index of the brace closing s[0] (which must
// be '{'), honoring JSON string and escape rules, or -1.
func matchingBrace(s string) int {
	if s == "" || s[0] != '{' {
		return -1
	}
	depth := 0
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch {
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case !inString && c == '{':
			depth++
		case !inString && c == '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// splitThinking extracts <think>/<thinking> sections out of text
// segments, inserting a KindThinking segment before the remaining text.
func splitThinking(segs []Segment) []Segment {
	var out []Segment
	for _, seg := range segs {
		if seg.Kind != KindText {
			out = append(out, seg)
			continue
		}
		thinking, content := ExtractThinking(seg.Text)
		if thinking != "" {
			out = append(out, Segment{Kind: KindThinking, Text: thinking})
		}
		if content != "" {
			out = append(out, Segment{Kind: KindText, Text: content})
		}
	}
	return out
}

// ExtractThinking splits a reasoning section out of text. A closing tag
// with no opener means the opener was consumed by the prompt; everything
// before the close is thinking.
func ExtractThinking(s string) (thinking, content string) {
	for _, pair := range [][2]string{
		{tagThinkOpen, tagThinkClose},
		{tagThinkingOpen, tagThinkingClose},
	} {
		open := strings.Index(s, pair[0])
		if open < 0 {
			continue
		}
		rest := s[open+len(pair[0]):]
		closeAt := strings.Index(rest, pair[1])
		if closeAt < 0 {
			continue
		}
		thinking = strings.TrimSpace(rest[:closeAt])
		content = strings.TrimSpace(s[:open] + rest[closeAt+len(pair[1]):])
		return thinking, content
	}

	for _, closeTag := range []string{tagThinkClose, tagThinkingClose} {
		if closeAt := strings.Index(s, closeTag); closeAt >= 0 {
			return strings.TrimSpace(s[:closeAt]), strings.TrimSpace(s[closeAt+len(closeTag):])
		}
	}
	return "", strings.TrimSpace(s)
}
