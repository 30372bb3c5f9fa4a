// Package engine owns the streaming text-generation loop: it turns a
// formatted prompt into a token stream against the session's backend,
// applies the sampling chain, and reassembles valid UTF-8 text
// incrementally.
//
// This file defines the typed errors reported before any output is
// produced. Mid-generation failures never surface as errors; they
// degrade to a partial result.
package engine

import "fmt"

// TokenizationError reports a prompt the tokenizer rejected (typically
// an empty tokenization result).
type TokenizationError struct {
	Reason string
}

func (e *TokenizationError) Error() string {
	return fmt.Sprintf("engine: tokenization failed: %s", e.Reason)
}

// ContextOverflowError reports a prompt whose token count exceeds the
// space left in the context window after reserving the requested output
// length. It is raised before any decode work begins.
type ContextOverflowError struct {
	TokenCount int
	MaxContext int
}

func (e *ContextOverflowError) Error() string {
	return fmt.Sprintf("engine: prompt is %d tokens but only %d fit the context window", e.TokenCount, e.MaxContext)
}
