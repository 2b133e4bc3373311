// Package lm provides the narrow external language-model capability
// used by the pro-tier fallback path. The model is an opaque HTTP
// endpoint: one call, bounded tokens, bounded timeout, at most one
// retry, no streaming.
package lm

import "context"

// Translator synthesizes a translation for a phrase the store misses.
type Translator interface {
	// Translate returns the translated text, or an error when the model
	// is unreachable, times out, or returns nothing usable.
	Translate(ctx context.Context, text, srcLang, tgtLang string) (string, error)
}
