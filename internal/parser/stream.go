package parser

import "strings"

type streamState int

const (
	stateText streamState = iota
	stateTag
	stateToolCall
	stateThinking
)

// maxTagLen bounds how long an unclosed "<..." run is treated as a
// potential tag before being flushed back out as plain text.
const maxTagLen = 15

// StreamParser classifies model output incrementally so that tool-call
// and thinking bytes never reach the user-visible stream. Feed it the
// UTF-8 fragments emitted by the generation engine; it invokes the
// callbacks in stream order.
type StreamParser struct {
	// OnText receives user-visible text as it is confirmed.
	OnText func(text string)
	// OnThinking receives a completed reasoning section.
	OnThinking func(text string)
	// OnToolCall receives a completed, well-formed tool call.
	OnToolCall func(call *ToolCall)

	state   streamState
	buf     strings.Builder
	tag     strings.Builder
	content strings.Builder
}

// Feed consumes one fragment.
func (p *StreamParser) Feed(fragment string) {
	for i := 0; i < len(fragment); i++ {
		c := fragment[i]
		switch p.state {
		case stateText:
			if c == '<' {
				p.state = stateTag
				p.tag.Reset()
				p.tag.WriteByte(c)
			} else {
				p.buf.WriteByte(c)
			}

		case stateTag:
			p.tag.WriteByte(c)
			if c == '>' {
				p.finishTag()
			} else if p.tag.Len() > maxTagLen {
				p.buf.WriteString(p.tag.String())
				p.tag.Reset()
				p.state = stateText
			}

		case stateToolCall:
			p.content.WriteByte(c)
			if body, ok := strings.CutSuffix(p.content.String(), tagToolClose); ok {
				if tc := parseToolCallJSON(body); tc != nil && p.OnToolCall != nil {
					p.OnToolCall(tc)
				}
				p.content.Reset()
				p.state = stateText
			}

		case stateThinking:
			p.content.WriteByte(c)
			s := p.content.String()
			for _, closeTag := range []string{tagThinkClose, tagThinkingClose} {
				if body, ok := strings.CutSuffix(s, closeTag); ok {
					if p.OnThinking != nil {
						p.OnThinking(strings.TrimSpace(body))
					}
					p.content.Reset()
					p.state = stateText
					break
				}
			}
		}
	}

	if p.state == stateText && p.buf.Len() > 0 {
		if p.OnText != nil {
			p.OnText(p.buf.String())
		}
		p.buf.Reset()
	}
}

func (p *StreamParser) finishTag() {
	switch p.tag.String() {
	case tagToolOpen:
		p.emitBuffered()
		p.state = stateToolCall
	case tagThinkOpen, tagThinkingOpen:
		p.emitBuffered()
		p.state = stateThinking
	default:
		p.buf.WriteString(p.tag.String())
		p.state = stateText
	}
	p.tag.Reset()
	p.content.Reset()
}

func (p *StreamParser) emitBuffered() {
	if p.buf.Len() > 0 && p.OnText != nil {
		p.OnText(p.buf.String())
	}
	p.buf.Reset()
}

// Flush emits any buffered text, including a partial tag that never
// closed. Call once after the stream ends.
func (p *StreamParser) Flush() {
	if p.state == stateTag {
		p.buf.WriteString(p.tag.String())
		p.tag.Reset()
		p.state = stateText
	}
	if p.state == stateText {
		p.emitBuffered()
	}
}

// InToolCall reports whether the parser is currently inside an unclosed
// tool-call marker.
func (p *StreamParser) InToolCall() bool {
	return p.state == stateToolCall
}
