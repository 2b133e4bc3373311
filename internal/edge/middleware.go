package edge

import (
	"crypto/subtle"
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
)

var statusWriterPool = sync.Pool{
	New: func() any { return &statusWriter{} },
}

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

func (s *server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.Must(uuid.NewV7()).String()
		w.Header()[requestIDHeader] = []string{id}
		ctx := bhasha.ContextWithRequestID(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

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

func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx != nil && rctx.RoutePattern() != "" {
		return rctx.RoutePattern()
	}
	return r.URL.Path
}

// corsAudit records disallowed origins. Enforcement itself is the CORS
// middleware's job; this only leaves an audit trail.
func (s *server) corsAudit(next http.Handler) http.Handler {
	allowed := make(map[string]bool, len(s.deps.CORSOrigins))
	wildcard := false
	for _, o := range s.deps.CORSOrigins {
		if o == "*" {
			wildcard = true
		}
		allowed[strings.ToLower(o)] = true
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && !wildcard && !allowed[strings.ToLower(origin)] {
			s.deps.Audit.Append(audit.KindCORSBlock, map[string]string{
				"origin": origin,
				"ip":     clientIP(r),
			})
		}
		next.ServeHTTP(w, r)
	})
}

// adminGate requires the x-admin-key header to match the configured
// secret. An empty configured secret disables admin access entirely.
func (s *server) adminGate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.Header.Get("X-Admin-Key")
		if s.deps.AdminKey == "" || got == "" ||
			subtle.ConstantTimeCompare([]byte(got), []byte(s.deps.AdminKey)) != 1 {
			s.deps.Audit.Append(audit.KindAuthFail, map[string]string{
				"reason": "admin_key",
				"ip":     clientIP(r),
				"route":  r.URL.Path,
			})
			writeCode(w, bhasha.CodeUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

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

func (sw *statusWriter) Unwrap() http.ResponseWriter {
	return sw.ResponseWriter
}
