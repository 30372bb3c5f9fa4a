package runtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScripted_TokenizeRoundTrip(t *testing.T) {
	s := NewScripted("", 128, 8)
	toks, err := s.Tokenize("hello world")
	require.NoError(t, err)
	require.Len(t, toks, 4) // 11 bytes in 3-byte chunks

	var got []byte
	for _, tok := range toks {
		got = append(got, s.TokenBytes(tok)...)
	}
	assert.Equal(t, "hello world", string(got))
}

func TestScripted_ReplaysOutput(t *testing.T) {
	s := NewScripted("abcdef", 128, 8)

	var got []byte
	for i := 0; i < 10; i++ {
		logits := s.Logits()
		best := Token(0)
		for tok := range logits {
			if logits[tok] > logits[best] {
				best = Token(tok)
			}
		}
		if s.IsEOS(best) {
			break
		}
		got = append(got, s.TokenBytes(best)...)
		require.NoError(t, s.Decode([]Token{best}, i))
	}
	assert.Equal(t, "abcdef", string(got))
}

func TestScripted_DecodeValidation(t *testing.T) {
	s := NewScripted("abc", 16, 2)

	assert.Error(t, s.Decode(nil, 0), "empty batch")
	assert.Error(t, s.Decode([]Token{0, 0, 0}, 0), "batch above limit")
	assert.Error(t, s.Decode([]Token{0}, 16), "position past context")
	assert.NoError(t, s.Decode([]Token{0, 0}, 0))
}

func TestScripted_ClearCacheRestarts(t *testing.T) {
	s := NewScripted("abc", 128, 8)

	s.Logits()
	require.NoError(t, s.Decode([]Token{s.output[0]}, 0))
	s.ClearCache()

	// After reset the first scripted token is favored again.
	logits := s.Logits()
	assert.Equal(t, float32(10), logits[s.output[0]])
}

func TestScripted_Close(t *testing.T) {
	s := NewScripted("abc", 128, 8)
	require.NoError(t, s.Close())

	_, err := s.Tokenize("x")
	assert.Error(t, err)
	assert.Error(t, s.Decode([]Token{0}, 0))
}
