package testutil

import (
	"context"
	"sync"
	"time"

	bhasha "github.com/nafisf/bhasha/internal"
)

// FakeKeyStore is an in-memory implementation of keystore.Store. TTLs
// are accepted and ignored; tests never run long enough to expire.
type FakeKeyStore struct {
	mu       sync.Mutex
	keys     map[string]bool // hash -> enabled
	meta     map[string]bhasha.KeyMeta
	usage    map[string]int64 // hash:date -> count
	sessions map[string]string
	events   map[string]bool

	// Err, when non-nil, is returned by every method. Simulates an
	// unreachable KV store.
	Err error
}

// NewFakeKeyStore returns an empty fake.
func NewFakeKeyStore() *FakeKeyStore {
	return &FakeKeyStore{
		keys:     make(map[string]bool),
		meta:     make(map[string]bhasha.KeyMeta),
		usage:    make(map[string]int64),
		sessions: make(map[string]string),
		events:   make(map[string]bool),
	}
}

func (f *FakeKeyStore) KeyEnabled(_ context.Context, key string) (bool, error) {
	if f.Err != nil {
		return false, f.Err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.keys[bhasha.HashKey(key)], nil
}

func (f *FakeKeyStore) SetKey(_ context.Context, key string, meta bhasha.KeyMeta) error {
	if f.Err != nil {
		return f.Err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	h := bhasha.HashKey(key)
	f.keys[h] = true
	f.meta[h] = meta
	return nil
}

func (f *FakeKeyStore) RevokeKey(_ context.Context, key string) error {
	if f.Err != nil {
		return f.Err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys[bhasha.HashKey(key)] = false
	return nil
}

func (f *FakeKeyStore) IncAndCheck(_ context.Context, key, date string, limit int64) (int64, bool, error) {
	if f.Err != nil {
		return 0, false, f.Err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	k := bhasha.HashKey(key) + ":" + date
	f.usage[k]++
	n := f.usage[k]
	return n, n <= limit, nil
}

func (f *FakeKeyStore) PutSession(_ context.Context, sessionID, key string, _ time.Duration) error {
	if f.Err != nil {
		return f.Err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[sessionID] = key
	return nil
}

func (f *FakeKeyStore) TakeSession(_ context.Context, sessionID string) (string, bool, error) {
	if f.Err != nil {
		return "", false, f.Err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	key, ok := f.sessions[sessionID]
	if ok {
		delete(f.sessions, sessionID)
	}
	return key, ok, nil
}

func (f *FakeKeyStore) MarkEvent(_ context.Context, eventID string, _ time.Duration) (bool, error) {
	if f.Err != nil {
		return false, f.Err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.events[eventID] {
		return false, nil
	}
	f.events[eventID] = true
	return true, nil
}
