package edge

import (
	"context"
	"net/http"
	"time"

	bhasha "github.com/nafisf/bhasha/internal"
	"github.com/nafisf/bhasha/internal/audit"
	"github.com/nafisf/bhasha/internal/cache"
)

// handleAdminHealth reports the edge's own state plus whether the
// origin's health endpoint answers.
func (s *server) handleAdminHealth(w http.ResponseWriter, r *http.Request) {
	origin := "ok"
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.deps.OriginBaseURL+"/health", nil)
	if err == nil {
		resp, err := s.deps.Client.Do(req)
		if err != nil || resp.StatusCode != http.StatusOK {
			origin = "unreachable"
		}
		if err == nil {
			resp.Body.Close()
		}
	} else {
		origin = "unreachable"
	}

	writeJSON(w, http.StatusOK, bhasha.OKEnvelope(map[string]any{
		"edge":   "ok",
		"origin": origin,
		"env":    s.deps.Env,
		"ts":     time.Now().UTC().Format(time.RFC3339),
	}))
}

func (s *server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	stats := cache.Stats{}
	if s.deps.Cache != nil {
		stats = s.deps.Cache.Stats(r.Context())
	}
	writeJSON(w, http.StatusOK, bhasha.OKEnvelope(stats))
}

func (s *server) handleWhoami(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, bhasha.OKEnvelope(map[string]any{
		"role": "admin",
		"ip":   clientIP(r),
	}))
}

func (s *server) handleKeyAdd(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		writeCode(w, bhasha.CodeBadRequest)
		return
	}
	meta := bhasha.KeyMeta{Plan: "admin", IssuedAt: time.Now().UTC()}
	if err := s.deps.Keys.SetKey(r.Context(), key, meta); err != nil {
		writeCode(w, bhasha.CodeQuotaUnavailable)
		return
	}
	s.deps.Audit.Append(audit.KindAdminAction, map[string]string{
		"action":   "keys_add",
		"key_hash": bhasha.HashKey(key),
		"ip":       clientIP(r),
	})
	writeJSON(w, http.StatusOK, bhasha.OKEnvelope(map[string]any{
		"enabled":  true,
		"key_hash": bhasha.HashKey(key),
	}))
}

func (s *server) handleKeyCheck(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		writeCode(w, bhasha.CodeBadRequest)
		return
	}
	enabled, err := s.deps.Keys.KeyEnabled(r.Context(), key)
	if err != nil {
		writeCode(w, bhasha.CodeQuotaUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, bhasha.OKEnvelope(map[string]any{"enabled": enabled}))
}

func (s *server) handleKeyDel(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		writeCode(w, bhasha.CodeBadRequest)
		return
	}
	if err := s.deps.Keys.RevokeKey(r.Context(), key); err != nil {
		writeCode(w, bhasha.CodeQuotaUnavailable)
		return
	}
	s.deps.Audit.Append(audit.KindAdminAction, map[string]string{
		"action":   "keys_del",
		"key_hash": bhasha.HashKey(key),
		"ip":       clientIP(r),
	})
	s.deps.Audit.Append(audit.KindKeyRevoked, map[string]string{
		"key_hash": bhasha.HashKey(key),
	})
	writeJSON(w, http.StatusOK, bhasha.OKEnvelope(map[string]any{"enabled": false}))
}
