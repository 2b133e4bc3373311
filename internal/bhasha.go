// Package bhasha defines domain types and interfaces for the Bhasha
// translation service. This package has no project imports -- it is the
// dependency root shared by the edge gateway and the origin translator.
package bhasha

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// --- Languages ---

// Supported language codes. Banglish is Bengali written in Roman script.
const (
	LangBanglish = "bn-rom"
	LangEnglish  = "en"
)

// ValidLang reports whether code is a supported language code.
func ValidLang(code string) bool {
	return code == LangBanglish || code == LangEnglish
}

// --- Phrase store domain ---

// Safety tiers. Entries at or below SafetyFree are visible to the free
// path; anything above requires a pro API key.
const (
	SafetyFree = 1
	SafetyPro  = 2
)

// PackDefault is the pack preferred when several entries match, and
// PackAuto marks entries synthesized by the LM fallback.
const (
	PackDefault = "default"
	PackAuto    = "auto"
)

// PhraseEntry is a single stored translation pair. Identity is the
// tuple (SrcLang, NormalizedSrc, TgtLang, Pack); everything else is
// payload. Entries are never mutated by the request path.
type PhraseEntry struct {
	SrcLang       string    `json:"src_lang"`
	SrcText       string    `json:"src"`
	NormalizedSrc string    `json:"-"`
	TgtLang       string    `json:"tgt_lang"`
	TgtText       string    `json:"tgt"`
	Pack          string    `json:"pack"`
	SafetyLevel   int       `json:"safety_level"`
	CreatedAt     time.Time `json:"created_at"`
}

// Translation is the response payload for both translate endpoints.
// Source is "db" for store hits and "gpt" for LM fallback results.
type Translation struct {
	Src     string `json:"src"`
	Tgt     string `json:"tgt"`
	SrcLang string `json:"src_lang"`
	TgtLang string `json:"tgt_lang"`
	Source  string `json:"source"`
	Pack    string `json:"pack,omitempty"`
}

// TranslateRequest is the validated input to a translate handler. Text
// carries the raw phrase; the q/text wire aliases are collapsed before
// this struct is built.
type TranslateRequest struct {
	Text    string `json:"text"`
	SrcLang string `json:"src_lang,omitempty"`
	TgtLang string `json:"tgt_lang,omitempty"`
	Pack    string `json:"pack,omitempty"`
}

// --- API keys ---

// APIKeyPrefix is the prefix for all Bhasha API keys.
const APIKeyPrefix = "bsk_"

// KeyMeta is the metadata persisted alongside an API key's enabled flag.
type KeyMeta struct {
	Plan          string    `json:"plan"`
	IssuedAt      time.Time `json:"issued_at"`
	SourceEventID string    `json:"source_event_id,omitempty"`
	Email         string    `json:"email,omitempty"`
}

// HashKey returns the hex-encoded SHA-256 hash of a raw API key. Only
// hashes appear in logs and audit records.
func HashKey(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}

// --- Response envelope ---

// Envelope is the uniform JSON wrapper for every public response:
// {ok:true, data:...} on success, {ok:false, error:"<code>"} otherwise.
type Envelope struct {
	OK    bool   `json:"ok"`
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

// OKEnvelope wraps a success payload.
func OKEnvelope(data any) Envelope { return Envelope{OK: true, Data: data} }

// ErrEnvelope wraps a canonical error code.
func ErrEnvelope(code string) Envelope { return Envelope{OK: false, Error: code} }

// --- Context keys ---

type contextKey int

const ctxKeyRequestID contextKey = 0

// ContextWithRequestID returns a context carrying the given request ID.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID, id)
}

// RequestIDFromContext extracts the request ID from context.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyRequestID).(string)
	return id
}
