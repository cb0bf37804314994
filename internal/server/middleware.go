package server

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

const (
	msgTooManyRequests = "Too many requests. Please try again later."
	msgAuthRequired    = "Authentication required"
)

// protectedPrefixes need an authenticated caller.
var protectedPrefixes = []string{"/api/projects"}

// statusRecorder keeps http.Flusher reachable for SSE handlers.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(b)
	r.bytes += n
	return n, err
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := ulid.Make().String()
		w.Header().Set("X-Request-ID", reqID)
		rec := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next.ServeHTTP(rec, r)
		s.logger.Info("http request",
			zap.String("request_id", reqID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Int("bytes", rec.bytes),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

// rateLimit runs before anything else so rejected requests cost nothing.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter == nil || r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		d := s.limiter.Check(r.Context(), clientID(r))
		if !d.FailOpen {
			w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(d.Limit, 10))
			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(d.Remaining, 10))
			if !d.Reset.IsZero() {
				w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.Reset.Unix(), 10))
			}
		}
		if !d.Allowed {
			if !d.Reset.IsZero() {
				secs := int(time.Until(d.Reset).Seconds() + 0.5)
				w.Header().Set("Retry-After", strconv.Itoa(max(secs, 1)))
			}
			writeError(w, http.StatusTooManyRequests, msgTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// authenticate attaches the caller when credentials check out. Bad
// credentials are treated like none.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.auth == nil {
			next.ServeHTTP(w, r)
			return
		}
		c, err := s.auth.Authenticate(r)
		if err != nil {
			s.logger.Debug("authentication failed", zap.String("path", r.URL.Path), zap.Error(err))
		}
		if c != nil && err == nil {
			r = r.WithContext(withCaller(r.Context(), c))
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isProtected(r.URL.Path) && CallerFromContext(r.Context()) == nil {
			writeError(w, http.StatusUnauthorized, msgAuthRequired)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func isProtected(path string) bool {
	for _, p := range protectedPrefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// clientID identifies the caller for the per-caller window: the first
// X-Forwarded-For hop, or "anonymous".
func clientID(r *http.Request) string {
	xff := r.Header.Get("X-Forwarded-For")
	if first, _, _ := strings.Cut(xff, ","); strings.TrimSpace(first) != "" {
		return strings.TrimSpace(first)
	}
	return "anonymous"
}

// csrfProtect rejects browser POSTs from origins outside allowed. Requests
// without an Origin header (CLI clients) pass.
func csrfProtect(next http.Handler, allowed []string) http.Handler {
	hosts := map[string]bool{"localhost": true, "127.0.0.1": true, "::1": true}
	for _, h := range allowed {
		if h = strings.TrimSpace(h); h != "" {
			hosts[strings.ToLower(h)] = true
		}
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			if origin := r.Header.Get("Origin"); origin != "" {
				u, err := url.Parse(origin)
				if err != nil {
					writeError(w, http.StatusForbidden, "invalid Origin header")
					return
				}
				if !hosts[strings.ToLower(u.Hostname())] {
					writeError(w, http.StatusForbidden, "cross-origin request blocked")
					return
				}
			}
		}
		next.ServeHTTP(w, r)
	})
}
