package origin

import (
	"bytes"
	"context"
	"crypto/subtle"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	bhasha "github.com/nafisf/bhasha/internal"
	"github.com/nafisf/bhasha/internal/audit"
	"github.com/nafisf/bhasha/internal/cache"
)

// ShieldHeader carries the edge-to-origin bearer capability. Clients
// never see a valid value; the edge strips whatever they send.
const ShieldHeader = "X-Edge-Shield"

// statusWriterPool eliminates 1 alloc/req from &statusWriter{} escaping to heap.
var statusWriterPool = sync.Pool{
	New: func() any { return &statusWriter{} },
}

// recovery catches panics and returns 500.
func (s *server) recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				slog.LogAttrs(r.Context(), slog.LevelError, "panic recovered",
					slog.Any("error", rec),
					slog.String("path", r.URL.Path),
				)
				writeJSON(w, http.StatusInternalServerError, bhasha.ErrEnvelope("internal"))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

const requestIDHeader = "X-Request-Id"

// requestID adds a UUID v7 request ID to the context and response header.
func (s *server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var id string
		if vals := r.Header[requestIDHeader]; len(vals) > 0 {
			id = vals[0]
		} else {
			id = uuid.Must(uuid.NewV7()).String()
		}
		w.Header()[requestIDHeader] = []string{id}
		ctx := bhasha.ContextWithRequestID(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// logging logs each request with method, path, status, and duration.
func (s *server) logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := statusWriterPool.Get().(*statusWriter)
		sw.ResponseWriter = w
		sw.status = http.StatusOK
		sw.wroteHeader = false
		next.ServeHTTP(sw, r)
		slog.LogAttrs(r.Context(), slog.LevelInfo, "request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", sw.status),
			slog.Int64("duration_ms", time.Since(start).Milliseconds()),
			slog.String("request_id", bhasha.RequestIDFromContext(r.Context())),
		)
		sw.ResponseWriter = nil
		statusWriterPool.Put(sw)
	})
}

// metrics records request count and duration per chi route pattern.
func (s *server) metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := statusWriterPool.Get().(*statusWriter)
		sw.ResponseWriter = w
		sw.status = http.StatusOK
		sw.wroteHeader = false

		next.ServeHTTP(sw, r)

		elapsed := time.Since(start).Seconds()
		status := sw.status
		sw.ResponseWriter = nil
		statusWriterPool.Put(sw)

		pattern := routePattern(r)
		s.deps.Metrics.RequestsTotal.WithLabelValues(r.Method, pattern, strconv.Itoa(status)).Inc()
		s.deps.Metrics.RequestDuration.WithLabelValues(r.Method, pattern).Observe(elapsed)
	})
}

// routePattern returns the chi route pattern for bounded cardinality,
// falling back to the raw path for non-chi routes.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx != nil && rctx.RoutePattern() != "" {
		return rctx.RoutePattern()
	}
	return r.URL.Path
}

// shield rejects requests lacking the edge capability token. The
// compare is constant-time; enforcement can be switched off for dev.
func (s *server) shield(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.deps.ShieldEnforce {
			next.ServeHTTP(w, r)
			return
		}
		got := r.Header.Get(ShieldHeader)
		if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(s.deps.ShieldToken)) != 1 {
			s.audit(r, "auth_fail", map[string]string{"reason": "shield"})
			writeCode(w, bhasha.CodeForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type bodyKey struct{}

// bodyLimit reads and caps the request body. The raw bytes are stashed
// in the context so the cache layer and handlers do not re-read the
// stream.
func (s *server) bodyLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBody+1))
		if err != nil {
			writeCode(w, bhasha.CodeBadRequest)
			return
		}
		if len(body) > maxBody {
			writeCode(w, bhasha.CodePayloadTooLarge)
			return
		}
		ctx := context.WithValue(r.Context(), bodyKey{}, body)
		r.Body = io.NopCloser(bytes.NewReader(body))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestBody(r *http.Request) []byte {
	b, _ := r.Context().Value(bodyKey{}).([]byte)
	return b
}

// contentType requires application/json on POST bodies; charset is optional.
func (s *server) contentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			ct := r.Header.Get("Content-Type")
			if mt, _, _ := strings.Cut(ct, ";"); strings.TrimSpace(mt) != "application/json" {
				writeCode(w, bhasha.CodeUnsupportedMedia)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// ipRateLimit enforces the optional per-IP cap with temp-ban escalation.
func (s *server) ipRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rl := s.deps.RateLimiter
		if rl == nil || !rl.Enabled() {
			next.ServeHTTP(w, r)
			return
		}
		ip := clientIP(r)
		res := rl.Check(ip)
		if res.Allowed {
			next.ServeHTTP(w, r)
			return
		}
		switch {
		case res.BanStarted:
			s.audit(r, "temp_ban_set", map[string]string{"ip": ip})
		case res.Banned:
			s.audit(r, "temp_ban_hit", map[string]string{"ip": ip})
		default:
			s.audit(r, "rate_limited", map[string]string{"ip": ip})
		}
		if res.RetryAfterSeconds > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(res.RetryAfterSeconds)+1))
		}
		// Temp bans are silent: same 429 as an ordinary limit.
		writeCode(w, bhasha.CodeRateLimited)
	})
}

// clientIP prefers the edge-supplied X-Forwarded-For; the origin is
// private, so the header is trusted.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// timeout bounds handler work, excluding the LM call which carries its
// own budget inside the client.
func (s *server) timeout(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d := s.deps.HandlerTimeout
		if d <= 0 {
			next.ServeHTTP(w, r)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), d)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// BackendCacheHeader reports the origin cache disposition.
const BackendCacheHeader = "X-Backend-Cache"

// responseCache serves and fills the origin TTL cache. The canonical
// key hashes method, path, and body; ?cache=no suppresses both read
// and write.
func (s *server) responseCache(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c := s.deps.Cache
		if c == nil || r.URL.Query().Get("cache") == "no" {
			if c != nil {
				w.Header().Set(BackendCacheHeader, "MISS")
			}
			next.ServeHTTP(w, r)
			return
		}

		key := cacheKeyFor(r)
		if body, ok := c.Get(r.Context(), key); ok {
			if s.deps.Metrics != nil {
				s.deps.Metrics.CacheHits.Inc()
			}
			w.Header().Set(BackendCacheHeader, "HIT")
			w.Header()["Content-Type"] = jsonCT
			w.WriteHeader(http.StatusOK)
			w.Write(body) //nolint:errcheck
			return
		}
		if s.deps.Metrics != nil {
			s.deps.Metrics.CacheMisses.Inc()
		}

		w.Header().Set(BackendCacheHeader, "MISS")
		rec := &recordingWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		// Do not populate the cache on errors or after a deadline.
		if rec.status >= 200 && rec.status < 300 && r.Context().Err() == nil {
			c.Set(r.Context(), key, rec.buf.Bytes(), s.deps.CacheTTL)
		}
	})
}

func cacheKeyFor(r *http.Request) string {
	return cache.Key(r.Method, r.URL.Path, requestBody(r))
}

// recordingWriter tees the response body for the cache fill.
type recordingWriter struct {
	http.ResponseWriter
	buf         bytes.Buffer
	status      int
	wroteHeader bool
}

func (rw *recordingWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.status = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *recordingWriter) Write(b []byte) (int, error) {
	if !rw.wroteHeader {
		rw.wroteHeader = true
	}
	rw.buf.Write(b)
	return rw.ResponseWriter.Write(b)
}

// statusWriter wraps ResponseWriter to capture the HTTP status code.
// WriteHeader records only the first status code, matching net/http
// semantics where only the first WriteHeader takes effect.
type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (sw *statusWriter) WriteHeader(code int) {
	if !sw.wroteHeader {
		sw.status = code
		sw.wroteHeader = true
	}
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusWriter) Write(b []byte) (int, error) {
	if !sw.wroteHeader {
		sw.wroteHeader = true
	}
	return sw.ResponseWriter.Write(b)
}

// Unwrap returns the underlying ResponseWriter, allowing
// http.ResponseController to find interface implementations.
func (sw *statusWriter) Unwrap() http.ResponseWriter {
	return sw.ResponseWriter
}

func (s *server) audit(r *http.Request, kind string, fields map[string]string) {
	if fields == nil {
		fields = map[string]string{}
	}
	if _, ok := fields["ip"]; !ok {
		fields["ip"] = clientIP(r)
	}
	fields["route"] = r.URL.Path
	s.deps.Audit.Append(audit.Kind(kind), fields)
}
