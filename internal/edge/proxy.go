package edge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/tidwall/gjson"

	bhasha "github.com/nafisf/bhasha/internal"
	"github.com/nafisf/bhasha/internal/audit"
	"github.com/nafisf/bhasha/internal/cache"
)

// EdgeCacheHeader reports the edge cache disposition to clients.
const EdgeCacheHeader = "CF-Cache-Edge"

// maxUpstreamBody caps how much of an origin response the edge buffers.
const maxUpstreamBody = 1 << 20

func (s *server) handleFreeGet(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	text := q.Get("q")
	if text == "" {
		writeCode(w, bhasha.CodeMissingQuery)
		return
	}
	body, err := json.Marshal(bhasha.TranslateRequest{
		Text:    text,
		SrcLang: q.Get("src_lang"),
		TgtLang: q.Get("tgt_lang"),
	})
	if err != nil {
		writeCode(w, bhasha.CodeBadRequest)
		return
	}
	s.forward(w, r, "/translate", body)
}

func (s *server) handleFreePost(w http.ResponseWriter, r *http.Request) {
	body, code := s.canonicalBody(r, false)
	if code != "" {
		writeCode(w, code)
		return
	}
	s.forward(w, r, "/translate", body)
}

func (s *server) handleProPost(w http.ResponseWriter, r *http.Request) {
	key := r.Header.Get("X-Api-Key")
	if key == "" {
		s.deps.Audit.Append(audit.KindAuthFail, map[string]string{
			"reason": "missing_api_key",
			"ip":     clientIP(r),
		})
		writeCode(w, bhasha.CodeInvalidAPIKey)
		return
	}
	enabled, err := s.deps.Keys.KeyEnabled(r.Context(), key)
	if err != nil {
		// Fail closed: a pro request without a verifiable key is rejected.
		writeCode(w, bhasha.CodeQuotaUnavailable)
		return
	}
	if !enabled {
		s.deps.Audit.Append(audit.KindAuthFail, map[string]string{
			"reason":   "disabled_api_key",
			"key_hash": bhasha.HashKey(key),
			"ip":       clientIP(r),
		})
		writeCode(w, bhasha.CodeInvalidAPIKey)
		return
	}

	now := time.Now().UTC()
	_, allowed, err := s.deps.Keys.IncAndCheck(r.Context(), key, now.Format(time.DateOnly), s.deps.DailyQuota)
	if err != nil {
		writeCode(w, bhasha.CodeQuotaUnavailable)
		return
	}
	if !allowed {
		if s.deps.Metrics != nil {
			s.deps.Metrics.QuotaRejects.Inc()
		}
		s.deps.Audit.Append(audit.KindRateLimited, map[string]string{
			"key_hash": bhasha.HashKey(key),
		})
		midnight := now.Truncate(24 * time.Hour).Add(24 * time.Hour)
		w.Header().Set("Retry-After", strconv.Itoa(int(midnight.Sub(now).Seconds())+1))
		writeCode(w, bhasha.CodeRateLimited)
		return
	}

	body, code := s.canonicalBody(r, true)
	if code != "" {
		writeCode(w, code)
		return
	}
	s.forward(w, r, "/translate/pro", body)
}

// canonicalBody reads the client body and rebuilds it in canonical
// form: the q alias collapses into text, unknown fields drop out. Both
// cache layers then key identical requests identically.
func (s *server) canonicalBody(r *http.Request, allowPack bool) ([]byte, string) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBody+1))
	if err != nil {
		return nil, bhasha.CodeBadRequest
	}
	if len(raw) > maxBody {
		return nil, bhasha.CodePayloadTooLarge
	}
	if !gjson.ValidBytes(raw) {
		return nil, bhasha.CodeInvalidJSON
	}
	text := gjson.GetBytes(raw, "text").String()
	if text == "" {
		text = gjson.GetBytes(raw, "q").String()
	}
	if text == "" {
		return nil, bhasha.CodeMissingQuery
	}
	req := bhasha.TranslateRequest{
		Text:    text,
		SrcLang: gjson.GetBytes(raw, "src_lang").String(),
		TgtLang: gjson.GetBytes(raw, "tgt_lang").String(),
	}
	if allowPack {
		req.Pack = gjson.GetBytes(raw, "pack").String()
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, bhasha.CodeBadRequest
	}
	return body, ""
}

// forward proxies a canonicalized request to the origin, reading and
// filling the edge cache around the upstream call.
func (s *server) forward(w http.ResponseWriter, r *http.Request, upPath string, body []byte) {
	bypass := r.URL.Query().Get("cache") == "no"
	useCache := s.deps.Cache != nil && !bypass
	key := cache.Key(http.MethodPost, upPath, body)

	if useCache {
		if cached, ok := s.deps.Cache.Get(r.Context(), key); ok {
			if s.deps.Metrics != nil {
				s.deps.Metrics.CacheHits.Inc()
			}
			w.Header().Set(EdgeCacheHeader, "HIT")
			w.Header()["Content-Type"] = jsonCT
			w.WriteHeader(http.StatusOK)
			w.Write(cached) //nolint:errcheck
			return
		}
		if s.deps.Metrics != nil {
			s.deps.Metrics.CacheMisses.Inc()
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.deps.UpstreamTimeout)
	defer cancel()

	upURL := s.deps.OriginBaseURL + upPath
	if bypass {
		upURL += "?cache=no"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, upURL, bytes.NewReader(body))
	if err != nil {
		writeCode(w, bhasha.CodeUpstreamDown)
		return
	}
	// A fresh request is built from scratch, so a client-supplied shield
	// header never survives to this point.
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Edge-Shield", s.deps.ShieldToken)
	req.Header.Set("X-Forwarded-For", clientIP(r))
	req.Header.Set(requestIDHeader, bhasha.RequestIDFromContext(r.Context()))

	resp, err := s.deps.Client.Do(req)
	if err != nil {
		code := bhasha.CodeUpstreamDown
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
			code = bhasha.CodeUpstreamTimeout
		}
		if s.deps.Metrics != nil {
			s.deps.Metrics.UpstreamErrors.WithLabelValues("network").Inc()
		}
		writeCode(w, code)
		return
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxUpstreamBody))
	if err != nil {
		writeCode(w, bhasha.CodeUpstreamDown)
		return
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if useCache {
			s.deps.Cache.Set(r.Context(), key, respBody, s.deps.CacheTTL)
		}
		w.Header().Set(EdgeCacheHeader, "MISS")
		w.Header()["Content-Type"] = jsonCT
		w.WriteHeader(resp.StatusCode)
		w.Write(respBody) //nolint:errcheck
		return
	}

	if s.deps.Metrics != nil {
		s.deps.Metrics.UpstreamErrors.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()
	}
	// Pass a well-formed origin envelope through; normalize anything else.
	if gjson.GetBytes(respBody, "error").Exists() {
		w.Header()["Content-Type"] = jsonCT
		w.WriteHeader(resp.StatusCode)
		w.Write(respBody) //nolint:errcheck
		return
	}
	writeCode(w, bhasha.CodeForStatus(resp.StatusCode))
}
