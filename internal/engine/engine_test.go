package engine

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanternai/lantern/internal/runtime"
)

func newTestEngine(t *testing.T, reply string, contextLength int) *Engine {
	t.Helper()
	be := runtime.NewScripted(reply, contextLength, 8)
	session := runtime.NewSession(be)
	t.Cleanup(func() { session.Close() })
	return New(session, nil)
}

func greedy() SamplingConfig {
	cfg := DefaultSamplingConfig()
	cfg.Temperature = 0 // deterministic argmax
	return cfg
}

func TestGenerate_ReplaysScript(t *testing.T) {
	const reply = "Hello from the other side of the decode loop."
	e := newTestEngine(t, reply, 4096)

	got, err := e.Generate(context.Background(), "hi there", greedy(), nil)
	require.NoError(t, err)
	assert.Equal(t, reply, got)
}

func TestGenerate_FragmentsConcatenateToResult(t *testing.T) {
	const reply = "stream me in order please"
	e := newTestEngine(t, reply, 4096)

	var frags []string
	got, err := e.Generate(context.Background(), "prompt", greedy(), func(f string) {
		frags = append(frags, f)
	})
	require.NoError(t, err)
	assert.Equal(t, got, strings.Join(frags, ""))
	assert.Equal(t, reply, got)
}

func TestGenerate_FragmentsAreValidUTF8(t *testing.T) {
	// Multi-byte runes land mid-token because the scripted backend
	// chunks bytes without regard for rune boundaries.
	const reply = "héllo wörld — 日本語のテキスト and more"
	e := newTestEngine(t, reply, 4096)

	got, err := e.Generate(context.Background(), "prompt", greedy(), func(f string) {
		assert.True(t, utf8.ValidString(f), "fragment %q is not valid UTF-8", f)
	})
	require.NoError(t, err)
	assert.Equal(t, reply, got)
}

func TestGenerate_TokenizationError(t *testing.T) {
	e := newTestEngine(t, "reply", 4096)

	_, err := e.Generate(context.Background(), "", greedy(), nil)
	var terr *TokenizationError
	require.ErrorAs(t, err, &terr)
}

func TestGenerate_ContextOverflow(t *testing.T) {
	e := newTestEngine(t, "reply", 64)

	cfg := greedy()
	cfg.MaxTokens = 32
	// 3 bytes per prompt token; 200 bytes is 67 tokens > 64-32.
	_, err := e.Generate(context.Background(), strings.Repeat("x", 200), cfg, nil)

	var oerr *ContextOverflowError
	require.ErrorAs(t, err, &oerr)
	assert.Equal(t, 67, oerr.TokenCount)
	assert.Equal(t, 32, oerr.MaxContext)
}

func TestGenerate_NotLoaded(t *testing.T) {
	session := runtime.NewSession(nil)
	e := New(session, nil)

	_, err := e.Generate(context.Background(), "hi", greedy(), nil)
	require.ErrorIs(t, err, runtime.ErrNotLoaded)
}

func TestGenerate_CancelledBeforeStart(t *testing.T) {
	e := newTestEngine(t, "never emitted", 4096)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	got, err := e.Generate(ctx, "prompt", greedy(), nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestGenerate_CancelMidStream(t *testing.T) {
	const reply = "a somewhat longer reply that we will cut short part way through"
	e := newTestEngine(t, reply, 4096)

	ctx, cancel := context.WithCancel(context.Background())
	var streamed strings.Builder
	n := 0
	got, err := e.Generate(ctx, "prompt", greedy(), func(f string) {
		streamed.WriteString(f)
		n++
		if n == 4 {
			cancel()
		}
	})
	require.NoError(t, err)
	assert.Equal(t, streamed.String(), got)
	assert.True(t, strings.HasPrefix(reply, got), "partial %q is not a prefix of the script", got)
	assert.Less(t, len(got), len(reply))
}

func TestGenerate_StopSequence(t *testing.T) {
	e := newTestEngine(t, "visible textSTOPhidden tail", 4096)

	cfg := greedy()
	cfg.StopSequences = []string{"STOP"}
	var streamed strings.Builder
	got, err := e.Generate(context.Background(), "prompt", cfg, func(f string) {
		streamed.WriteString(f)
	})
	require.NoError(t, err)
	assert.Equal(t, "visible text", got)
	assert.Equal(t, got, streamed.String(), "stop sequence bytes must never reach the stream")
}

func TestGenerate_MaxTokens(t *testing.T) {
	e := newTestEngine(t, "abcdefghijklmnopqrstuvwxyz", 4096)

	cfg := greedy()
	cfg.MaxTokens = 4 // 3-byte scripted tokens
	got, err := e.Generate(context.Background(), "prompt", cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, "abcdefghijkl", got)
}

func TestGenerateStream(t *testing.T) {
	const reply = "channel delivery should match callback delivery"
	e := newTestEngine(t, reply, 4096)

	ch, wait := e.GenerateStream(context.Background(), "prompt", greedy())
	var streamed strings.Builder
	for frag := range ch {
		streamed.WriteString(frag)
	}
	got, err := wait()
	require.NoError(t, err)
	assert.Equal(t, reply, got)
	assert.Equal(t, reply, streamed.String())
}

func TestCompleteBoundary(t *testing.T) {
	full := []byte("日") // 3 bytes
	assert.Equal(t, 3, completeBoundary(full))
	assert.Equal(t, 0, completeBoundary(full[:2]))
	assert.Equal(t, 0, completeBoundary(full[:1]))
	assert.Equal(t, 2, completeBoundary([]byte("ab日"[:4])), "ascii prefix emits while the rune waits")
	assert.Equal(t, 0, completeBoundary(nil))
	// Orphaned continuation bytes pass through rather than wedging.
	assert.Equal(t, 2, completeBoundary([]byte{0x80, 0x80}))
}

func TestStopPrefixLen(t *testing.T) {
	stops := []string{"<|user|>"}
	assert.Equal(t, 0, stopPrefixLen("plain text", stops))
	assert.Equal(t, 4, stopPrefixLen("text<|us", stops))
	assert.Equal(t, 7, stopPrefixLen("<|user|", stops))
	// A full match is found by findStop, not held.
	at, seq := findStop("before<|user|>after", stops)
	assert.Equal(t, 6, at)
	assert.Equal(t, "<|user|>", seq)
}
