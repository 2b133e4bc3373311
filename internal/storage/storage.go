// Package storage defines persistence interfaces for the translation service.
package storage

import (
	"context"

	bhasha "github.com/nafisf/bhasha/internal"
)

// LookupOpts narrows a phrase lookup. SafetyMax bounds the visible
// safety tier; Pack, when non-empty, restricts to a single pack.
type LookupOpts struct {
	SrcLang       string
	NormalizedSrc string
	TgtLang       string
	SafetyMax     int
	Pack          string
}

// CountFilter narrows a Count call. Zero values mean "any".
type CountFilter struct {
	SrcLang string
	Pack    string
}

// PhraseStore manages phrase persistence. Lookup resolves the best
// matching entry (lowest safety level, then the default pack, then the
// oldest row); Upsert is idempotent on the identity tuple.
type PhraseStore interface {
	Lookup(ctx context.Context, opts LookupOpts) (*bhasha.PhraseEntry, bool, error)
	Upsert(ctx context.Context, entry *bhasha.PhraseEntry) error
	Count(ctx context.Context, filter CountFilter) (int64, error)
	HealthCheck(ctx context.Context) error
	Close() error
}
