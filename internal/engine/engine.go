package engine

import (
	"context"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/lanternai/lantern/internal/runtime"
)

// OnToken receives confirmed-valid UTF-8 fragments in generation order.
// Concatenating every fragment yields exactly the final returned text.
type OnToken func(fragment string)

// Engine drives the generation loop against a runtime session. All
// cancellation is cooperative through the context: a cancelled call
// returns the text produced so far with a nil error, never a failure.
type Engine struct {
	session *runtime.Session
	logger  *slog.Logger
}

// New creates an engine bound to a session.
func New(session *runtime.Session, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		session: session,
		logger:  logger.With("component", "engine"),
	}
}

// ContextLength reports the loaded model's context window.
func (e *Engine) ContextLength() int {
	return e.session.ContextLength()
}

// Generate turns a formatted prompt into text. Tokenization and
// context-overflow failures are reported as typed errors before any
// decoding begins; mid-generation backend failures degrade to the
// partial text produced so far.
func (e *Engine) Generate(ctx context.Context, prompt string, cfg SamplingConfig, onToken OnToken) (string, error) {
	be, release, err := e.session.Begin()
	if err != nil {
		return "", err
	}
	defer release()

	toks, err := be.Tokenize(prompt)
	if err != nil {
		return "", &TokenizationError{Reason: err.Error()}
	}
	if len(toks) == 0 {
		return "", &TokenizationError{Reason: "tokenizer produced no tokens"}
	}

	maxContext := be.ContextLength() - cfg.MaxTokens
	if len(toks) > maxContext {
		return "", &ContextOverflowError{TokenCount: len(toks), MaxContext: maxContext}
	}

	// Every call starts from a clean cache over its own prompt; there is
	// no cross-request cache reuse in this design.
	be.ClearCache()

	smp := newSampler(cfg)
	for _, tok := range toks {
		smp.observe(tok)
	}

	pos, ok := e.ingestPrompt(ctx, be, toks)
	if !ok {
		return "", nil
	}

	return e.decodeLoop(ctx, be, smp, cfg, pos, onToken)
}

// ingestPrompt feeds the prompt in batch-limit-sized chunks, yielding
// between chunks so cancellation can be observed during long prompts.
// It returns the next decode position and whether generation should
// proceed.
func (e *Engine) ingestPrompt(ctx context.Context, be runtime.Backend, toks []runtime.Token) (int, bool) {
	batch := be.BatchSize()
	pos := 0
	for start := 0; start < len(toks); start += batch {
		if ctx.Err() != nil {
			e.logger.Debug("generation cancelled during prompt ingestion", "position", pos)
			return 0, false
		}
		end := start + batch
		if end > len(toks) {
			end = len(toks)
		}
		if err := be.Decode(toks[start:end], pos); err != nil {
			e.logger.Error("prompt decode failed", "position", pos, "error", err)
			return 0, false
		}
		pos = end
	}
	return pos, true
}

func (e *Engine) decodeLoop(ctx context.Context, be runtime.Backend, smp *sampler, cfg SamplingConfig, pos int, onToken OnToken) (string, error) {
	var out strings.Builder
	var pending []byte
	var held string

	emit := func(frag string) {
		out.WriteString(frag)
		if onToken != nil {
			onToken(frag)
		}
	}

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = be.ContextLength() - pos
	}

	for n := 0; n < maxTokens; n++ {
		if ctx.Err() != nil {
			e.logger.Debug("generation cancelled", "tokens", n)
			break
		}

		tok := smp.pick(be.Logits())
		if tok < 0 || be.IsEOS(tok) {
			break
		}
		smp.observe(tok)

		// Token bytes may end mid-rune; hold incomplete trailing bytes
		// back until the next token completes them.
		pending = append(pending, be.TokenBytes(tok)...)
		if valid := completeBoundary(pending); valid > 0 {
			held += string(pending[:valid])
			pending = append(pending[:0], pending[valid:]...)
		}

		// A stop sequence ends generation without ever reaching the
		// caller; a partial match at the tail is withheld until the next
		// token decides it.
		if at, seq := findStop(held, cfg.StopSequences); at >= 0 {
			if at > 0 {
				emit(held[:at])
			}
			e.logger.Debug("stop sequence reached", "sequence", seq, "tokens", n+1)
			return out.String(), nil
		}
		if keep := stopPrefixLen(held, cfg.StopSequences); keep < len(held) {
			emit(held[:len(held)-keep])
			held = held[len(held)-keep:]
		}

		if err := be.Decode([]runtime.Token{tok}, pos); err != nil {
			e.logger.Error("decode step failed, returning partial text", "position", pos, "error", err)
			break
		}
		pos++
	}

	// Flush text that was withheld as a possible stop-sequence start,
	// plus any trailing bytes that happen to form complete runes.
	if valid := completeBoundary(pending); valid > 0 {
		held += string(pending[:valid])
	}
	if held != "" {
		emit(held)
	}
	return out.String(), nil
}

// completeBoundary returns the length of the longest prefix of b that
// ends on a complete UTF-8 sequence. Bytes that cannot begin a valid
// sequence are passed through rather than held forever.
func completeBoundary(b []byte) int {
	n := len(b)
	if n == 0 {
		return 0
	}
	start := n - 1
	for start > 0 && n-start < utf8.UTFMax && b[start]&0xC0 == 0x80 {
		start--
	}
	if b[start]&0xC0 == 0x80 {
		// Orphaned continuation bytes; nothing can complete them.
		return n
	}
	size := leadByteLen(b[start])
	if size == 0 || start+size <= n {
		return n
	}
	return start
}

func leadByteLen(lead byte) int {
	switch {
	case lead < 0x80:
		return 1
	case lead&0xE0 == 0xC0:
		return 2
	case lead&0xF0 == 0xE0:
		return 3
	case lead&0xF8 == 0xF0:
		return 4
	default:
		return 0
	}
}

// findStop returns the index of the earliest stop sequence in text, or
// -1 when none occurs.
func findStop(text string, stops []string) (int, string) {
	at, seq := -1, ""
	for _, s := range stops {
		if s == "" {
			continue
		}
		if i := strings.Index(text, s); i >= 0 && (at < 0 || i < at) {
			at, seq = i, s
		}
	}
	return at, seq
}

// stopPrefixLen returns the length of the longest suffix of text that
// is a proper prefix of some stop sequence. That suffix must be
// withheld from emission until more tokens resolve it.
func stopPrefixLen(text string, stops []string) int {
	keep := 0
	for _, s := range stops {
		max := len(s) - 1
		if max > len(text) {
			max = len(text)
		}
		for k := max; k > keep; k-- {
			if strings.HasSuffix(text, s[:k]) {
				keep = k
				break
			}
		}
	}
	return keep
}
