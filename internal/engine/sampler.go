package engine

import (
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/lanternai/lantern/internal/runtime"
)

// SamplingConfig controls next-token selection. It is immutable per
// generation call.
type SamplingConfig struct {
	// Temperature scales the logit distribution. Values below the greedy
	// threshold select the highest-probability token deterministically.
	Temperature float64 `yaml:"temperature"`
	// TopP keeps the smallest set of tokens whose cumulative probability
	// reaches this value (nucleus sampling). Range (0, 1].
	TopP float64 `yaml:"top_p"`
	// TopK keeps only the K highest-probability tokens. 0 disables.
	TopK int `yaml:"top_k"`
	// RepeatPenalty discounts tokens seen in the recent window. Values
	// at or below 1.0 disable the penalty.
	RepeatPenalty float64 `yaml:"repeat_penalty"`
	// RepeatLastN is the size of the recent-token window the penalty
	// looks at.
	RepeatLastN int `yaml:"repeat_last_n"`
	// MaxTokens caps the generated output length.
	MaxTokens int `yaml:"max_tokens"`
	// StopSequences end generation when the accumulated text ends with
	// any of them. Already-emitted text is never truncated.
	StopSequences []string `yaml:"stop_sequences"`
	// Seed fixes the random draw for reproducibility. 0 seeds from the
	// clock.
	Seed int64 `yaml:"seed"`
}

// DefaultSamplingConfig mirrors the tuned defaults of the native
// runtime wrapper.
func DefaultSamplingConfig() SamplingConfig {
	return SamplingConfig{
		Temperature:   0.7,
		TopP:          0.9,
		TopK:          40,
		RepeatPenalty: 1.1,
		RepeatLastN:   64,
		MaxTokens:     512,
	}
}

// greedyThreshold is the temperature below which sampling degenerates
// to deterministic argmax selection.
const greedyThreshold = 0.05

// sampler applies the sampling chain to raw logits: repeat penalty,
// top-k filter, top-p filter, temperature scaling, weighted draw.
type sampler struct {
	cfg    SamplingConfig
	rng    *rand.Rand
	recent []runtime.Token
}

func newSampler(cfg SamplingConfig) *sampler {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &sampler{
		cfg: cfg,
		rng: rand.New(rand.NewSource(seed)),
	}
}

// observe records a token into the repeat-penalty window.
func (s *sampler) observe(tok runtime.Token) {
	if s.cfg.RepeatLastN <= 0 {
		return
	}
	s.recent = append(s.recent, tok)
	if len(s.recent) > s.cfg.RepeatLastN {
		s.recent = s.recent[len(s.recent)-s.cfg.RepeatLastN:]
	}
}

// pick selects the next token from the logits.
func (s *sampler) pick(logits []float32) runtime.Token {
	if len(logits) == 0 {
		return -1
	}
	if s.cfg.Temperature < greedyThreshold {
		return argmax(logits)
	}

	scores := make([]float64, len(logits))
	for i, l := range logits {
		scores[i] = float64(l)
	}

	if s.cfg.RepeatPenalty > 1.0 {
		for _, tok := range s.recent {
			i := int(tok)
			if i < 0 || i >= len(scores) {
				continue
			}
			if scores[i] > 0 {
				scores[i] /= s.cfg.RepeatPenalty
			} else {
				scores[i] *= s.cfg.RepeatPenalty
			}
		}
	}

	// Candidates sorted by score, best first.
	cands := make([]int, len(scores))
	for i := range cands {
		cands[i] = i
	}
	sort.Slice(cands, func(a, b int) bool {
		return scores[cands[a]] > scores[cands[b]]
	})

	if s.cfg.TopK > 0 && s.cfg.TopK < len(cands) {
		cands = cands[:s.cfg.TopK]
	}

	if s.cfg.TopP > 0 && s.cfg.TopP < 1 {
		probs := softmax(scores, cands, 1)
		cum := 0.0
		cut := len(cands)
		for i, p := range probs {
			cum += p
			if cum >= s.cfg.TopP {
				cut = i + 1
				break
			}
		}
		cands = cands[:cut]
	}

	weights := softmax(scores, cands, s.cfg.Temperature)
	r := s.rng.Float64()
	cum := 0.0
	for i, w := range weights {
		cum += w
		if r < cum {
			return runtime.Token(cands[i])
		}
	}
	return runtime.Token(cands[len(cands)-1])
}

func argmax(logits []float32) runtime.Token {
	best := 0
	for i, l := range logits {
		if l > logits[best] {
			best = i
		}
	}
	return runtime.Token(best)
}

// softmax returns normalized probabilities over the candidate indices
// at the given temperature.
func softmax(scores []float64, cands []int, temp float64) []float64 {
	if temp <= 0 {
		temp = 1
	}
	maxScore := math.Inf(-1)
	for _, i := range cands {
		if scores[i] > maxScore {
			maxScore = scores[i]
		}
	}
	out := make([]float64, len(cands))
	sum := 0.0
	for n, i := range cands {
		out[n] = math.Exp((scores[i] - maxScore) / temp)
		sum += out[n]
	}
	for n := range out {
		out[n] /= sum
	}
	return out
}
