package testutil

import (
	"context"
	"sync/atomic"
)

// FakeTranslator is a scripted lm.Translator.
type FakeTranslator struct {
	// Result is returned on success.
	Result string
	// Err, when non-nil, is returned instead.
	Err error

	calls atomic.Int64
}

// Translate returns the scripted result or error and counts the call.
func (f *FakeTranslator) Translate(_ context.Context, _, _, _ string) (string, error) {
	f.calls.Add(1)
	if f.Err != nil {
		return "", f.Err
	}
	return f.Result, nil
}

// Calls reports how many times Translate was invoked.
func (f *FakeTranslator) Calls() int64 { return f.calls.Load() }
