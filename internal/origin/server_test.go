package origin

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	bhasha "github.com/nafisf/bhasha/internal"
	"github.com/nafisf/bhasha/internal/cache"
	"github.com/nafisf/bhasha/internal/ratelimit"
	"github.com/nafisf/bhasha/internal/testutil"
)

const testShield = "shield-secret"

func testDeps(store *testutil.FakePhraseStore) Deps {
	return Deps{
		Store:          store,
		ShieldToken:    testShield,
		ShieldEnforce:  true,
		CacheTTL:       time.Minute,
		HandlerTimeout: 3 * time.Second,
		FallbackSafety: bhasha.SafetyPro,
		DBPath:         "test.db",
	}
}

func seedStore() *testutil.FakePhraseStore {
	store := testutil.NewFakePhraseStore()
	store.Add(&bhasha.PhraseEntry{
		SrcLang:       bhasha.LangBanglish,
		SrcText:       "kemon acho",
		NormalizedSrc: "kemon acho",
		TgtLang:       bhasha.LangEnglish,
		TgtText:       "how are you",
		Pack:          bhasha.PackDefault,
		SafetyLevel:   bhasha.SafetyFree,
		CreatedAt:     time.Now(),
	})
	store.Add(&bhasha.PhraseEntry{
		SrcLang:       bhasha.LangBanglish,
		SrcText:       "gali",
		NormalizedSrc: "gali",
		TgtLang:       bhasha.LangEnglish,
		TgtText:       "swear word",
		Pack:          bhasha.PackDefault,
		SafetyLevel:   bhasha.SafetyPro,
		CreatedAt:     time.Now(),
	})
	return store
}

func doTranslate(t *testing.T, h http.Handler, path, body string, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(ShieldHeader, testShield)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) bhasha.Envelope {
	t.Helper()
	var env bhasha.Envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope: %v (body %q)", err, w.Body.String())
	}
	return env
}

func TestShieldRejectsMissingToken(t *testing.T) {
	t.Parallel()
	h := New(testDeps(seedStore()))

	req := httptest.NewRequest(http.MethodPost, "/translate", strings.NewReader(`{"text":"kemon acho"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", w.Code)
	}
	if env := decodeEnvelope(t, w); env.Error != bhasha.CodeForbidden {
		t.Errorf("error = %q", env.Error)
	}
}

func TestShieldWrongToken(t *testing.T) {
	t.Parallel()
	h := New(testDeps(seedStore()))
	w := doTranslate(t, h, "/translate", `{"text":"kemon acho"}`, map[string]string{ShieldHeader: "wrong"})
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", w.Code)
	}
}

func TestShieldExemptHealth(t *testing.T) {
	t.Parallel()
	h := New(testDeps(seedStore()))
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	env := decodeEnvelope(t, w)
	data := env.Data.(map[string]any)
	if data["db_path"] != "test.db" {
		t.Errorf("db_path = %v", data["db_path"])
	}
	if data["row_count"].(float64) != 2 {
		t.Errorf("row_count = %v", data["row_count"])
	}
}

func TestBodySizeBoundary(t *testing.T) {
	t.Parallel()
	h := New(testDeps(seedStore()))

	// Exactly at the cap: accepted (fails later on validation, not 413).
	pad := strings.Repeat("a", maxBody-len(`{"text":""}`))
	atCap := `{"text":"` + pad + `"}`
	if len(atCap) != maxBody {
		t.Fatalf("test body length = %d", len(atCap))
	}
	if w := doTranslate(t, h, "/translate", atCap, nil); w.Code == http.StatusRequestEntityTooLarge {
		t.Errorf("at-cap body rejected with 413")
	}

	// One byte over: 413.
	w := doTranslate(t, h, "/translate", atCap+" ", nil)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", w.Code)
	}
	if env := decodeEnvelope(t, w); env.Error != bhasha.CodePayloadTooLarge {
		t.Errorf("error = %q", env.Error)
	}
}

func TestContentTypeRequired(t *testing.T) {
	t.Parallel()
	h := New(testDeps(seedStore()))
	req := httptest.NewRequest(http.MethodPost, "/translate", strings.NewReader(`{"text":"hi"}`))
	req.Header.Set("Content-Type", "text/plain")
	req.Header.Set(ShieldHeader, testShield)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("status = %d, want 415", w.Code)
	}
}

func TestContentTypeCharsetAccepted(t *testing.T) {
	t.Parallel()
	h := New(testDeps(seedStore()))
	w := doTranslate(t, h, "/translate", `{"text":"kemon acho"}`,
		map[string]string{"Content-Type": "application/json; charset=utf-8"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}

func TestValidationErrors(t *testing.T) {
	t.Parallel()
	h := New(testDeps(seedStore()))

	tests := []struct {
		name string
		body string
		code string
	}{
		{"invalid json", `{"text":`, bhasha.CodeInvalidJSON},
		{"missing text", `{}`, bhasha.CodeMissingQuery},
		{"empty text", `{"text":"   "}`, bhasha.CodeMissingQuery},
		{"control chars only", "{\"text\":\"\\u0001\\u0002\"}", bhasha.CodeMissingQuery},
		{"too long", `{"text":"` + strings.Repeat("x", maxTextLen+1) + `"}`, bhasha.CodeBadRequest},
		{"script tag", `{"text":"<script>alert(1)</script>"}`, bhasha.CodeBadRequest},
		{"template marker", `{"text":"{{.Secret}}"}`, bhasha.CodeBadRequest},
		{"unknown lang", `{"text":"hi","src_lang":"fr"}`, bhasha.CodeBadRequest},
		{"same langs", `{"text":"hi","src_lang":"en","tgt_lang":"en"}`, bhasha.CodeBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doTranslate(t, h, "/translate", tt.body, nil)
			if env := decodeEnvelope(t, w); env.Error != tt.code {
				t.Errorf("error = %q, want %q (status %d)", env.Error, tt.code, w.Code)
			}
		})
	}
}

func TestTextLengthAtCap(t *testing.T) {
	t.Parallel()
	h := New(testDeps(seedStore()))
	// maxTextLen chars exactly: passes length validation (404 on miss,
	// not bad_request). Keep under the body cap with multibyte-free text.
	body := `{"text":"` + strings.Repeat("x", 1000) + `"}`
	if len(body) > maxBody {
		t.Fatal("test body exceeds the request cap")
	}
	w := doTranslate(t, h, "/translate", body, nil)
	if env := decodeEnvelope(t, w); env.Error != bhasha.CodeNotFound {
		t.Errorf("error = %q, want not_found", env.Error)
	}
}

func TestQueryAlias(t *testing.T) {
	t.Parallel()
	h := New(testDeps(seedStore()))
	w := doTranslate(t, h, "/translate", `{"q":"kemon acho"}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	env := decodeEnvelope(t, w)
	data := env.Data.(map[string]any)
	if data["tgt"] != "how are you" || data["source"] != "db" {
		t.Errorf("data = %v", data)
	}
}

func TestFreeTierSafetyGate(t *testing.T) {
	t.Parallel()
	h := New(testDeps(seedStore()))

	// A pro-tier entry is invisible on the free path.
	w := doTranslate(t, h, "/translate", `{"text":"gali"}`, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("free path status = %d, want 404", w.Code)
	}

	// The same phrase resolves on the pro path.
	w = doTranslate(t, h, "/translate/pro", `{"text":"gali"}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("pro path status = %d, want 200", w.Code)
	}
	if data := decodeEnvelope(t, w).Data.(map[string]any); data["tgt"] != "swear word" {
		t.Errorf("tgt = %v", data["tgt"])
	}
}

func TestFreeMissNeverCallsModel(t *testing.T) {
	t.Parallel()
	tr := &testutil.FakeTranslator{Result: "should not appear"}
	deps := testDeps(seedStore())
	deps.Translator = tr
	h := New(deps)

	w := doTranslate(t, h, "/translate", `{"text":"not in store"}`, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	if tr.Calls() != 0 {
		t.Errorf("model called %d times on the free path", tr.Calls())
	}
}

func TestProFallbackSynthesizesAndPersists(t *testing.T) {
	t.Parallel()
	store := seedStore()
	tr := &testutil.FakeTranslator{Result: "good night"}
	deps := testDeps(store)
	deps.Translator = tr
	h := New(deps)

	w := doTranslate(t, h, "/translate/pro", `{"text":"shubho ratri"}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	data := decodeEnvelope(t, w).Data.(map[string]any)
	if data["tgt"] != "good night" || data["source"] != "gpt" || data["pack"] != bhasha.PackAuto {
		t.Errorf("data = %v", data)
	}
	if store.Upserts() != 1 {
		t.Errorf("upserts = %d, want 1", store.Upserts())
	}

	// The synthesized entry now serves from the store.
	w = doTranslate(t, h, "/translate/pro", `{"text":"shubho ratri"}`, nil)
	data = decodeEnvelope(t, w).Data.(map[string]any)
	if data["source"] != "db" {
		t.Errorf("second call source = %v, want db", data["source"])
	}
	if tr.Calls() != 1 {
		t.Errorf("model calls = %d, want 1", tr.Calls())
	}
}

func TestProFallbackModelFailure(t *testing.T) {
	t.Parallel()
	tr := &testutil.FakeTranslator{Err: errors.New("model down")}
	deps := testDeps(seedStore())
	deps.Translator = tr
	h := New(deps)

	w := doTranslate(t, h, "/translate/pro", `{"text":"shubho ratri"}`, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestProFallbackInsertFailureStillResponds(t *testing.T) {
	t.Parallel()
	store := seedStore()
	store.FailUpsert = errors.New("disk full")
	deps := testDeps(store)
	deps.Translator = &testutil.FakeTranslator{Result: "good night"}
	h := New(deps)

	w := doTranslate(t, h, "/translate/pro", `{"text":"shubho ratri"}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if data := decodeEnvelope(t, w).Data.(map[string]any); data["tgt"] != "good night" {
		t.Errorf("tgt = %v", data["tgt"])
	}
}

func TestProPackFilter(t *testing.T) {
	t.Parallel()
	store := seedStore()
	store.Add(&bhasha.PhraseEntry{
		SrcLang:       bhasha.LangBanglish,
		SrcText:       "kemon acho",
		NormalizedSrc: "kemon acho",
		TgtLang:       bhasha.LangEnglish,
		TgtText:       "how do you do",
		Pack:          "formal",
		SafetyLevel:   bhasha.SafetyFree,
		CreatedAt:     time.Now().Add(time.Hour),
	})
	h := New(testDeps(store))

	w := doTranslate(t, h, "/translate/pro", `{"text":"kemon acho","pack":"formal"}`, nil)
	data := decodeEnvelope(t, w).Data.(map[string]any)
	if data["tgt"] != "how do you do" || data["pack"] != "formal" {
		t.Errorf("data = %v", data)
	}
}

func TestStoreFailure(t *testing.T) {
	t.Parallel()
	store := testutil.NewFakePhraseStore()
	store.FailLookup = errors.New("db locked")
	h := New(testDeps(store))

	w := doTranslate(t, h, "/translate", `{"text":"hi"}`, nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
	if env := decodeEnvelope(t, w); env.Error != bhasha.CodeStoreUnavailable {
		t.Errorf("error = %q", env.Error)
	}
}

func TestResponseCacheHit(t *testing.T) {
	t.Parallel()
	mem, err := cache.NewMemory(100, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	deps := testDeps(seedStore())
	deps.Cache = mem
	h := New(deps)

	w := doTranslate(t, h, "/translate", `{"text":"kemon acho"}`, nil)
	if got := w.Header().Get(BackendCacheHeader); got != "MISS" {
		t.Fatalf("first request %s = %q, want MISS", BackendCacheHeader, got)
	}

	w = doTranslate(t, h, "/translate", `{"text":"kemon acho"}`, nil)
	if got := w.Header().Get(BackendCacheHeader); got != "HIT" {
		t.Fatalf("second request %s = %q, want HIT", BackendCacheHeader, got)
	}
	if data := decodeEnvelope(t, w).Data.(map[string]any); data["tgt"] != "how are you" {
		t.Errorf("cached tgt = %v", data["tgt"])
	}
}

func TestResponseCacheBypass(t *testing.T) {
	t.Parallel()
	mem, err := cache.NewMemory(100, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	deps := testDeps(seedStore())
	deps.Cache = mem
	h := New(deps)

	doTranslate(t, h, "/translate", `{"text":"kemon acho"}`, nil)
	w := doTranslate(t, h, "/translate?cache=no", `{"text":"kemon acho"}`, nil)
	if got := w.Header().Get(BackendCacheHeader); got != "MISS" {
		t.Fatalf("bypass %s = %q, want MISS", BackendCacheHeader, got)
	}
}

func TestResponseCacheSkipsErrors(t *testing.T) {
	t.Parallel()
	mem, err := cache.NewMemory(100, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	deps := testDeps(seedStore())
	deps.Cache = mem
	h := New(deps)

	// A 404 miss must not be cached as a hit.
	doTranslate(t, h, "/translate", `{"text":"absent"}`, nil)
	w := doTranslate(t, h, "/translate", `{"text":"absent"}`, nil)
	if got := w.Header().Get(BackendCacheHeader); got != "MISS" {
		t.Fatalf("second 404 %s = %q, want MISS", BackendCacheHeader, got)
	}
}

func TestIPRateLimit(t *testing.T) {
	t.Parallel()
	deps := testDeps(seedStore())
	deps.RateLimiter = ratelimit.NewRegistry(1)
	h := New(deps)

	hdr := map[string]string{"X-Forwarded-For": "203.0.113.9"}
	if w := doTranslate(t, h, "/translate", `{"text":"kemon acho"}`, hdr); w.Code != http.StatusOK {
		t.Fatalf("first request status = %d", w.Code)
	}
	w := doTranslate(t, h, "/translate", `{"text":"kemon acho"}`, hdr)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After header")
	}
}

func TestShieldDisabledForDev(t *testing.T) {
	t.Parallel()
	deps := testDeps(seedStore())
	deps.ShieldEnforce = false
	h := New(deps)

	req := httptest.NewRequest(http.MethodPost, "/translate", strings.NewReader(`{"text":"kemon acho"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}
