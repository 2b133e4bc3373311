package lm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/dnscache"
	"github.com/tidwall/gjson"
)

const defaultBaseURL = "https://api.openai.com/v1"

// langNames maps language codes to the names used in the prompt.
var langNames = map[string]string{
	"bn-rom": "Banglish (Bengali written in Roman script)",
	"en":     "English",
}

// Options configures the OpenAI client. Zero values fall back to the
// documented defaults.
type Options struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
	Timeout   time.Duration
}

// OpenAI calls the chat completions API with a fixed translation prompt.
type OpenAI struct {
	apiKey    string
	baseURL   string
	model     string
	maxTokens int
	timeout   time.Duration
	http      *http.Client
}

// NewOpenAI creates an OpenAI client with a tuned transport. If
// resolver is non-nil, DNS lookups are cached across calls.
func NewOpenAI(opts Options, resolver *dnscache.Resolver) *OpenAI {
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	model := opts.Model
	if model == "" {
		model = "gpt-4o-mini"
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 128
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 2000 * time.Millisecond
	}

	t := &http.Transport{
		MaxIdleConnsPerHost: 20,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 5 * time.Second,
	}
	if resolver != nil {
		t.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, port, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, err
			}
			ips, err := resolver.LookupHost(ctx, host)
			if err != nil {
				return nil, err
			}
			var d net.Dialer
			return d.DialContext(ctx, network, net.JoinHostPort(ips[0], port))
		}
	}

	return &OpenAI{
		apiKey:    opts.APIKey,
		baseURL:   strings.TrimRight(baseURL, "/"),
		model:     model,
		maxTokens: maxTokens,
		timeout:   timeout,
		http:      &http.Client{Transport: t},
	}
}

// Translate sends one bounded chat completion request, retrying once on
// network error. Non-2xx responses and empty completions are terminal.
func (c *OpenAI) Translate(ctx context.Context, text, srcLang, tgtLang string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	out, err := c.call(ctx, text, srcLang, tgtLang)
	if err != nil && retryable(err) && ctx.Err() == nil {
		out, err = c.call(ctx, text, srcLang, tgtLang)
	}
	return out, err
}

func (c *OpenAI) call(ctx context.Context, text, srcLang, tgtLang string) (string, error) {
	src, ok := langNames[srcLang]
	if !ok {
		src = srcLang
	}
	tgt, ok := langNames[tgtLang]
	if !ok {
		tgt = tgtLang
	}

	payload := map[string]any{
		"model":       c.model,
		"max_tokens":  c.maxTokens,
		"temperature": 0,
		"messages": []map[string]string{
			{
				"role": "system",
				"content": fmt.Sprintf(
					"You translate short phrases from %s to %s. Reply with the translation only, no explanation.",
					src, tgt),
			},
			{"role": "user", "content": text},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("lm: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("lm: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("lm: do request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return "", fmt.Errorf("lm: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("lm: HTTP %d: %s", resp.StatusCode, truncate(respBody, 256))
	}

	out := strings.TrimSpace(gjson.GetBytes(respBody, "choices.0.message.content").String())
	if out == "" {
		return "", errors.New("lm: empty completion")
	}
	return out, nil
}

// retryable reports whether the error is a network-level failure worth
// one retry. HTTP-level errors are not retried.
func retryable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	// http.Client wraps dial errors in *url.Error, which implements
	// net.Error, so the assertion above covers connection refusals.
	return strings.Contains(err.Error(), "connection reset")
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
