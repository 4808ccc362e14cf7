package server

import (
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// sourceLimiter keeps one token bucket per source identity. Buckets idle
// past the horizon are dropped on the next sweep.
type sourceLimiter struct {
	mu        sync.Mutex
	rps       rate.Limit
	burst     int
	buckets   map[string]*bucketEntry
	lastSweep time.Time
}

type bucketEntry struct {
	lim  *rate.Limiter
	seen time.Time
}

func newSourceLimiter(rps float64, burst int) *sourceLimiter {
	if rps <= 0 {
		rps = 100
	}
	if burst <= 0 {
		burst = 50
	}
	return &sourceLimiter{
		rps:       rate.Limit(rps),
		burst:     burst,
		buckets:   make(map[string]*bucketEntry),
		lastSweep: time.Now(),
	}
}

// Allow consumes one token for the source, sweeping stale buckets as a
// side effect.
func (l *sourceLimiter) Allow(source string) bool {
	now := time.Now()
	l.mu.Lock()
	if now.Sub(l.lastSweep) > time.Minute {
		for k, b := range l.buckets {
			if now.Sub(b.seen) > 10*time.Minute {
				delete(l.buckets, k)
			}
		}
		l.lastSweep = now
	}
	b, ok := l.buckets[source]
	if !ok {
		b = &bucketEntry{lim: rate.NewLimiter(l.rps, l.burst)}
		l.buckets[source] = b
	}
	b.seen = now
	l.mu.Unlock()
	return b.lim.Allow()
}

// sourceIdentity is the rate-limit key: the tenant header when present,
// the remote address otherwise.
func sourceIdentity(r *http.Request) string {
	if tenant := r.Header.Get("X-Org-Tenant"); tenant != "" {
		return "tenant:" + tenant
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// bodyLimit caps request bodies so a misbehaving client cannot balloon
// the decoder.
func (s *Server) bodyLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
		}
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the response code for the access log.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (s *Server) logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}
