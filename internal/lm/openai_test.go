package lm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tidwall/gjson"
)

func TestTranslateSuccess(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("auth header = %q", got)
		}
		body := make([]byte, r.ContentLength)
		r.Body.Read(body)
		if mt := gjson.GetBytes(body, "max_tokens").Int(); mt != 64 {
			t.Errorf("max_tokens = %d, want 64", mt)
		}
		w.Write([]byte(`{"choices":[{"message":{"content":" empty pocket, what to do "}}]}`))
	}))
	defer srv.Close()

	c := NewOpenAI(Options{APIKey: "sk-test", BaseURL: srv.URL, MaxTokens: 64}, nil)
	out, err := c.Translate(context.Background(), "pocket khali, ki korbo", "bn-rom", "en")
	if err != nil {
		t.Fatal(err)
	}
	if out != "empty pocket, what to do" {
		t.Errorf("out = %q", out)
	}
}

func TestTranslateEmptyCompletion(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"choices":[{"message":{"content":""}}]}`))
	}))
	defer srv.Close()

	c := NewOpenAI(Options{BaseURL: srv.URL}, nil)
	if _, err := c.Translate(context.Background(), "x", "bn-rom", "en"); err == nil {
		t.Error("empty completion should be an error")
	}
}

func TestTranslateHTTPErrorNotRetried(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewOpenAI(Options{BaseURL: srv.URL}, nil)
	if _, err := c.Translate(context.Background(), "x", "bn-rom", "en"); err == nil {
		t.Error("want error on 429")
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("calls = %d, HTTP errors must not retry", n)
	}
}

func TestTranslateRetriesNetworkError(t *testing.T) {
	t.Parallel()
	// A server that is immediately closed yields connection refused.
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	addr := srv.URL
	srv.Close()

	c := NewOpenAI(Options{BaseURL: addr, Timeout: 500 * time.Millisecond}, nil)
	if _, err := c.Translate(context.Background(), "x", "bn-rom", "en"); err == nil {
		t.Error("want error against closed server")
	}
}

func TestTranslateTimeout(t *testing.T) {
	t.Parallel()
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		<-block
	}))
	defer func() { close(block); srv.Close() }()

	c := NewOpenAI(Options{BaseURL: srv.URL, Timeout: 100 * time.Millisecond}, nil)
	start := time.Now()
	_, err := c.Translate(context.Background(), "x", "bn-rom", "en")
	if err == nil {
		t.Fatal("want timeout error")
	}
	if time.Since(start) > time.Second {
		t.Error("timeout not bounded")
	}
}
