// Package edge implements the public gateway: CORS, API key auth and
// daily quotas, the edge response cache, the Stripe key lifecycle, and
// the shield-injecting proxy to the private origin translator.
package edge

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	bhasha "github.com/nafisf/bhasha/internal"
	"github.com/nafisf/bhasha/internal/audit"
	"github.com/nafisf/bhasha/internal/cache"
	"github.com/nafisf/bhasha/internal/keystore"
	"github.com/nafisf/bhasha/internal/telemetry"
)

// maxBody mirrors the origin's request body cap so oversized requests
// are rejected before they cross the network.
const maxBody = 2048

// Deps holds all dependencies for the edge HTTP server.
type Deps struct {
	Keys           keystore.Store
	Cache          cache.Cache // nil = no edge caching
	Metrics        *telemetry.EdgeMetrics
	MetricsHandler http.Handler // mounted behind the admin gate
	Audit          audit.Appender
	Client         *http.Client // upstream client; nil = defaults

	OriginBaseURL   string
	ShieldToken     string
	AdminKey        string
	WebhookSecret   string
	MintPrefix      string
	Env             string
	Version         string
	CORSOrigins     []string
	DailyQuota      int64
	CacheTTL        time.Duration
	UpstreamTimeout time.Duration
}

// New creates an http.Handler with all routes and middleware wired.
func New(deps Deps) http.Handler {
	if deps.Audit == nil {
		deps.Audit = audit.Nop{}
	}
	if deps.Client == nil {
		deps.Client = &http.Client{}
	}
	if deps.CacheTTL <= 0 {
		deps.CacheTTL = 300 * time.Second
	}
	if deps.UpstreamTimeout <= 0 {
		deps.UpstreamTimeout = 5 * time.Second
	}
	if deps.DailyQuota <= 0 {
		deps.DailyQuota = 1000
	}
	s := &server{deps: deps}

	r := chi.NewRouter()

	r.Use(s.recovery)
	r.Use(s.requestID)
	r.Use(s.logging)
	if deps.Metrics != nil {
		r.Use(s.metrics)
	}
	r.Use(s.corsAudit)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Api-Key"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/edge/health", s.handleHealth)
	r.Get("/version", s.handleVersion)

	r.Get("/api/translate", s.handleFreeGet)
	r.Post("/translate", s.handleFreePost)
	r.Post("/translate/pro", s.handleProPost)

	r.Get("/billing/key", s.handleBillingKey)
	r.Post("/webhook/stripe", s.handleStripeWebhook)

	r.Route("/admin", func(r chi.Router) {
		r.Use(s.adminGate)
		r.Get("/health", s.handleAdminHealth)
		r.Get("/cache_stats", s.handleCacheStats)
		r.Get("/whoami", s.handleWhoami)
		r.Get("/keys/add", s.handleKeyAdd)
		r.Get("/keys/check", s.handleKeyCheck)
		r.Get("/keys/del", s.handleKeyDel)
	})
	if deps.MetricsHandler != nil {
		r.Group(func(r chi.Router) {
			r.Use(s.adminGate)
			r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
		})
	}

	return r
}

type server struct {
	deps Deps
}

var jsonCT = []string{"application/json; charset=utf-8"}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header()["Content-Type"] = jsonCT
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeCode(w http.ResponseWriter, code string) {
	writeJSON(w, bhasha.StatusForCode(code), bhasha.ErrEnvelope(code))
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, bhasha.OKEnvelope(map[string]any{
		"ts":  time.Now().UTC().Format(time.RFC3339),
		"env": s.deps.Env,
	}))
}

func (s *server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, bhasha.OKEnvelope(map[string]any{
		"sha": s.deps.Version,
	}))
}
