// Package testutil provides in-memory fakes for tests.
package testutil

import (
	"context"
	"sort"
	"sync"

	bhasha "github.com/nafisf/bhasha/internal"
	"github.com/nafisf/bhasha/internal/storage"
)

// FakePhraseStore is an in-memory implementation of storage.PhraseStore.
type FakePhraseStore struct {
	mu      sync.RWMutex
	entries []*bhasha.PhraseEntry

	// FailLookup forces Lookup to return this error when non-nil.
	FailLookup error
	// FailUpsert forces Upsert to return this error when non-nil.
	FailUpsert error

	upserts int
}

// NewFakePhraseStore returns an empty fake store.
func NewFakePhraseStore() *FakePhraseStore {
	return &FakePhraseStore{}
}

// Add inserts an entry directly, bypassing idempotence checks.
func (s *FakePhraseStore) Add(e *bhasha.PhraseEntry) {
	s.mu.Lock()
	s.entries = append(s.entries, e)
	s.mu.Unlock()
}

// Upserts reports how many Upsert calls succeeded.
func (s *FakePhraseStore) Upserts() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.upserts
}

// Lookup resolves the best match with the same preference order as the
// SQLite store: lowest safety level, then the default pack, then the
// oldest entry.
func (s *FakePhraseStore) Lookup(_ context.Context, opts storage.LookupOpts) (*bhasha.PhraseEntry, bool, error) {
	if s.FailLookup != nil {
		return nil, false, s.FailLookup
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matches []*bhasha.PhraseEntry
	for _, e := range s.entries {
		if e.SrcLang != opts.SrcLang || e.NormalizedSrc != opts.NormalizedSrc || e.TgtLang != opts.TgtLang {
			continue
		}
		if e.SafetyLevel > opts.SafetyMax {
			continue
		}
		if opts.Pack != "" && e.Pack != opts.Pack {
			continue
		}
		matches = append(matches, e)
	}
	if len(matches) == 0 {
		return nil, false, nil
	}
	sort.SliceStable(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.SafetyLevel != b.SafetyLevel {
			return a.SafetyLevel < b.SafetyLevel
		}
		if (a.Pack == bhasha.PackDefault) != (b.Pack == bhasha.PackDefault) {
			return a.Pack == bhasha.PackDefault
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
	return matches[0], true, nil
}

// Upsert stores the entry unless its identity tuple already exists.
func (s *FakePhraseStore) Upsert(_ context.Context, entry *bhasha.PhraseEntry) error {
	if s.FailUpsert != nil {
		return s.FailUpsert
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.SrcLang == entry.SrcLang && e.NormalizedSrc == entry.NormalizedSrc &&
			e.TgtLang == entry.TgtLang && e.Pack == entry.Pack {
			return nil
		}
	}
	s.entries = append(s.entries, entry)
	s.upserts++
	return nil
}

// Count returns the number of entries matching the filter.
func (s *FakePhraseStore) Count(_ context.Context, filter storage.CountFilter) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, e := range s.entries {
		if filter.SrcLang != "" && e.SrcLang != filter.SrcLang {
			continue
		}
		if filter.Pack != "" && e.Pack != filter.Pack {
			continue
		}
		n++
	}
	return n, nil
}

// HealthCheck mirrors Lookup failure injection.
func (s *FakePhraseStore) HealthCheck(context.Context) error { return s.FailLookup }

// Close is a no-op.
func (s *FakePhraseStore) Close() error { return nil }
