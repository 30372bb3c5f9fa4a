// Package runtime defines the boundary between the agent and the
// on-device inference backend. The backend (a llama.cpp-style native
// library, or the Scripted development backend) is opaque past this
// interface: tokenize, decode, read logits, convert tokens to bytes.
// Backend-specific types must not leak past this package.
package runtime

// Token is a model vocabulary token id.
type Token int32

// Backend is the narrow capability interface every inference backend
// implements. A Backend is not safe for concurrent use; Session
// serializes access.
type Backend interface {
	// Tokenize converts text into model tokens. A nil or empty result
	// for non-empty text means the tokenizer rejected the input.
	Tokenize(text string) ([]Token, error)

	// Decode feeds tokens into the model at the given position offset,
	// updating the internal attention cache. Callers must not pass more
	// than BatchSize tokens in a single call.
	Decode(tokens []Token, pos int) error

	// Logits returns the raw next-token logits produced by the most
	// recent Decode call. The slice is owned by the backend and is only
	// valid until the next Decode.
	Logits() []float32

	// TokenBytes returns the raw bytes for a token. Token bytes do not
	// align to rune boundaries; callers must reassemble UTF-8 themselves.
	TokenBytes(tok Token) []byte

	// IsEOS reports whether tok is the model's end-of-sequence marker.
	IsEOS(tok Token) bool

	// ContextLength is the model's trained context window in tokens.
	ContextLength() int

	// BatchSize is the maximum number of tokens a single Decode accepts.
	BatchSize() int

	// ClearCache resets the attention/KV cache to an empty state.
	ClearCache()

	// Close releases all backend resources. The backend is unusable
	// afterwards.
	Close() error
}
