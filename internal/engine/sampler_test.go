package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lanternai/lantern/internal/runtime"
)

func TestSampler_GreedyPicksArgmax(t *testing.T) {
	s := newSampler(SamplingConfig{Temperature: 0})
	logits := []float32{0.1, 2.5, 0.3, 1.9}
	assert.Equal(t, runtime.Token(1), s.pick(logits))
}

func TestSampler_EmptyLogits(t *testing.T) {
	s := newSampler(DefaultSamplingConfig())
	assert.Equal(t, runtime.Token(-1), s.pick(nil))
}

func TestSampler_TopKOneIsDeterministic(t *testing.T) {
	cfg := DefaultSamplingConfig()
	cfg.TopK = 1
	cfg.Seed = 42
	s := newSampler(cfg)
	logits := []float32{0.1, 0.2, 5.0, 0.3}
	for i := 0; i < 10; i++ {
		assert.Equal(t, runtime.Token(2), s.pick(logits))
	}
}

func TestSampler_SeedReproducible(t *testing.T) {
	logits := []float32{1.0, 1.1, 0.9, 1.05, 0.95}
	run := func() []runtime.Token {
		cfg := DefaultSamplingConfig()
		cfg.Seed = 7
		s := newSampler(cfg)
		var out []runtime.Token
		for i := 0; i < 20; i++ {
			tok := s.pick(logits)
			s.observe(tok)
			out = append(out, tok)
		}
		return out
	}
	assert.Equal(t, run(), run())
}

func TestSampler_RepeatPenaltyDiscountsRecent(t *testing.T) {
	cfg := SamplingConfig{Temperature: 0.7, TopK: 2, TopP: 1, RepeatPenalty: 10, RepeatLastN: 8, Seed: 1}
	s := newSampler(cfg)

	// Token 0 slightly ahead, but heavily penalized once observed.
	logits := []float32{1.0, 0.9, -5, -5}
	s.observe(0)

	counts := map[runtime.Token]int{}
	for i := 0; i < 50; i++ {
		counts[s.pick(logits)]++
	}
	assert.Greater(t, counts[1], counts[0], "penalized token should lose its lead")
}

func TestSampler_ObserveWindow(t *testing.T) {
	cfg := DefaultSamplingConfig()
	cfg.RepeatLastN = 3
	s := newSampler(cfg)
	for i := 0; i < 10; i++ {
		s.observe(runtime.Token(i))
	}
	assert.Equal(t, []runtime.Token{7, 8, 9}, s.recent)
}
