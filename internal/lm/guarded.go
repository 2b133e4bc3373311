package lm

import (
	"context"

	"github.com/nafisf/bhasha/internal/circuitbreaker"
)

// Guarded wraps a Translator with a circuit breaker so a dead model
// endpoint stops costing the full call budget on every pro-tier miss.
type Guarded struct {
	inner   Translator
	breaker *circuitbreaker.Breaker
}

// NewGuarded wraps t with a breaker using the given config.
func NewGuarded(t Translator, cfg circuitbreaker.Config) *Guarded {
	return &Guarded{inner: t, breaker: circuitbreaker.New(cfg)}
}

// Translate delegates to the wrapped translator unless the breaker is
// open, in which case it fails immediately with ErrOpen.
func (g *Guarded) Translate(ctx context.Context, text, srcLang, tgtLang string) (string, error) {
	if !g.breaker.Allow() {
		return "", circuitbreaker.ErrOpen
	}
	out, err := g.inner.Translate(ctx, text, srcLang, tgtLang)
	if err != nil {
		g.breaker.RecordError(circuitbreaker.Classify(err))
		return "", err
	}
	g.breaker.RecordSuccess()
	return out, nil
}

// State exposes the breaker state for logs and health output.
func (g *Guarded) State() circuitbreaker.State { return g.breaker.State() }
