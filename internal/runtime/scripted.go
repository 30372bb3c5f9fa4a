package runtime

import (
	"errors"
	"fmt"
)

// Scripted is an inference backend that replays a canned reply one
// token at a time. It exists for development and tests: it honors the
// full Backend contract (batch limits, position bookkeeping, logits
// that favor the scripted continuation) without any native runtime.
//
// Reply bytes are deliberately chunked without regard for rune
// boundaries so multi-byte UTF-8 sequences get split across tokens,
// exercising the engine's reassembly buffer the way a real BPE
// vocabulary does.
type Scripted struct {
	vocab  [][]byte
	ids    map[string]Token
	output []Token
	eos    Token

	ctxLen int
	batch  int

	step   int
	prompt bool
	pos    int
	closed bool
}

const scriptedChunk = 3

// NewScripted builds a backend that emits reply and then end-of-sequence.
func NewScripted(reply string, contextLength, batchSize int) *Scripted {
	if contextLength <= 0 {
		contextLength = 4096
	}
	if batchSize <= 0 {
		batchSize = 512
	}
	s := &Scripted{
		ids:    make(map[string]Token),
		ctxLen: contextLength,
		batch:  batchSize,
		prompt: true,
	}
	for b := []byte(reply); len(b) > 0; {
		n := scriptedChunk
		if n > len(b) {
			n = len(b)
		}
		s.output = append(s.output, s.intern(b[:n]))
		b = b[n:]
	}
	s.eos = s.intern([]byte{})
	return s
}

func (s *Scripted) intern(piece []byte) Token {
	if id, ok := s.ids[string(piece)]; ok {
		return id
	}
	id := Token(len(s.vocab))
	s.vocab = append(s.vocab, append([]byte(nil), piece...))
	s.ids[string(piece)] = id
	return id
}

// Tokenize splits text into fixed-size byte chunks, interning each as a
// vocabulary entry. Only the token count matters to callers; the ids are
// stable within one backend instance.
func (s *Scripted) Tokenize(text string) ([]Token, error) {
	if s.closed {
		return nil, errors.New("scripted: backend closed")
	}
	var toks []Token
	for b := []byte(text); len(b) > 0; {
		n := scriptedChunk
		if n > len(b) {
			n = len(b)
		}
		toks = append(toks, s.intern(b[:n]))
		b = b[n:]
	}
	return toks, nil
}

func (s *Scripted) Decode(tokens []Token, pos int) error {
	if s.closed {
		return errors.New("scripted: backend closed")
	}
	if len(tokens) == 0 || len(tokens) > s.batch {
		return fmt.Errorf("scripted: decode batch %d out of range (max %d)", len(tokens), s.batch)
	}
	if pos+len(tokens) > s.ctxLen {
		return fmt.Errorf("scripted: position %d past context length %d", pos+len(tokens), s.ctxLen)
	}
	if !s.prompt && len(tokens) == 1 {
		s.step++
	}
	s.pos = pos + len(tokens)
	return nil
}

func (s *Scripted) Logits() []float32 {
	s.prompt = false
	logits := make([]float32, len(s.vocab))
	want := s.eos
	if s.step < len(s.output) {
		want = s.output[s.step]
	}
	logits[want] = 10
	return logits
}

func (s *Scripted) TokenBytes(tok Token) []byte {
	if int(tok) < 0 || int(tok) >= len(s.vocab) {
		return nil
	}
	return s.vocab[tok]
}

func (s *Scripted) IsEOS(tok Token) bool { return tok == s.eos }

func (s *Scripted) ContextLength() int { return s.ctxLen }

func (s *Scripted) BatchSize() int { return s.batch }

func (s *Scripted) ClearCache() {
	s.step = 0
	s.pos = 0
	s.prompt = true
}

func (s *Scripted) Close() error {
	s.closed = true
	return nil
}
