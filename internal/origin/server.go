// Package origin implements the private translator service. It is only
// reachable through the edge gateway: every production request must
// carry the shield token, and responses flow back through the edge's
// own cache layer.
package origin

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	bhasha "github.com/nafisf/bhasha/internal"
	"github.com/nafisf/bhasha/internal/audit"
	"github.com/nafisf/bhasha/internal/cache"
	"github.com/nafisf/bhasha/internal/lm"
	"github.com/nafisf/bhasha/internal/ratelimit"
	"github.com/nafisf/bhasha/internal/storage"
	"github.com/nafisf/bhasha/internal/telemetry"
)

// maxBody is the request body cap. One byte over is a 413.
const maxBody = 2048

// maxTextLen is the phrase length cap in characters.
const maxTextLen = 1000

// Deps holds all dependencies for the origin HTTP server.
type Deps struct {
	Store          storage.PhraseStore
	Translator     lm.Translator      // nil = fallback disabled
	Cache          cache.Cache        // nil = no response caching
	Metrics        *telemetry.OriginMetrics
	MetricsHandler http.Handler       // mounted at /metrics
	Audit          audit.Appender     // nil = no auditing
	RateLimiter    *ratelimit.Registry // nil = no IP limiting
	ShieldToken    string
	ShieldEnforce  bool
	CacheTTL       time.Duration
	HandlerTimeout time.Duration
	FallbackSafety int
	DBPath         string
}

// New creates an http.Handler with all routes and middleware wired.
func New(deps Deps) http.Handler {
	if deps.Audit == nil {
		deps.Audit = audit.Nop{}
	}
	if deps.CacheTTL <= 0 {
		deps.CacheTTL = 180 * time.Second
	}
	if deps.FallbackSafety < bhasha.SafetyPro {
		deps.FallbackSafety = bhasha.SafetyPro
	}
	s := &server{deps: deps}

	r := chi.NewRouter()

	// Global middleware
	r.Use(s.recovery)
	r.Use(s.requestID)
	r.Use(s.logging)
	if deps.Metrics != nil {
		r.Use(s.metrics)
	}

	// System endpoints, shield-exempt so the edge health probe and the
	// scraper work without the secret.
	r.Get("/health", s.handleHealth)
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// Translate endpoints behind the full pipeline.
	r.Group(func(r chi.Router) {
		r.Use(s.shield)
		r.Use(s.bodyLimit)
		r.Use(s.contentType)
		r.Use(s.ipRateLimit)
		r.Use(s.timeout)
		r.Use(s.responseCache)
		r.Post("/translate", s.handleTranslateFree)
		r.Post("/translate/pro", s.handleTranslatePro)
	})

	return r
}

type server struct {
	deps Deps
}

// jsonCT is a pre-allocated Content-Type header value.
var jsonCT = []string{"application/json; charset=utf-8"}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header()["Content-Type"] = jsonCT
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeCode(w http.ResponseWriter, code string) {
	writeJSON(w, bhasha.StatusForCode(code), bhasha.ErrEnvelope(code))
}
