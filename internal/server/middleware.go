package server

import (
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"csvsearch/internal/logging"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
	nbytes int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.nbytes += n
	return n, err
}

func (sr *statusRecorder) Unwrap() http.ResponseWriter { return sr.ResponseWriter }

// logMiddleware propagates or assigns X-Request-ID, stores a request-scoped
// logger in the context, and writes one access log line per request.
func logMiddleware(base *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", reqID)

		lg := base.With("req_id", reqID)
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r.WithContext(logging.WithLogger(r.Context(), lg)))

		lg.Info("http.req",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
			"bytes", rec.nbytes,
			"remote_ip", clientIP(r),
		)
	})
}

func recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				if v == http.ErrAbortHandler {
					panic(v)
				}
				logging.FromContext(r.Context(), slog.Default()).Error("handler panic",
					"panic", fmt.Sprint(v), "stack", string(debug.Stack()))
				writeError(w, http.StatusInternalServerError, "internal", "", "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// clientIP extracts the best-effort client IP from headers or RemoteAddr.
func clientIP(r *http.Request) string {
	if xff := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); xff != "" {
		if idx := strings.IndexByte(xff, ','); idx >= 0 {
			return strings.TrimSpace(xff[:idx])
		}
		return xff
	}
	if rip := strings.TrimSpace(r.Header.Get("X-Real-IP")); rip != "" {
		return rip
	}
	host := r.RemoteAddr
	if i := strings.LastIndexByte(host, ':'); i > 0 {
		return host[:i]
	}
	return host
}

// clientLimiter keeps one token bucket per client IP. Buckets unused for
// longer than idle are dropped on a later call; by then they have refilled,
// so a fresh bucket is equivalent.
type clientLimiter struct {
	mu        sync.Mutex
	rps       rate.Limit
	burst     int
	idle      time.Duration
	now       func() time.Time
	lastSweep time.Time
	limiters  map[string]*clientBucket
}

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newClientLimiter(rps float64, burst int) *clientLimiter {
	if burst < 1 {
		burst = 1
	}
	idle := time.Duration(float64(burst) / rps * float64(time.Second))
	return &clientLimiter{
		rps:       rate.Limit(rps),
		burst:     burst,
		idle:      max(idle, time.Minute),
		now:       time.Now,
		lastSweep: time.Now(),
		limiters:  make(map[string]*clientBucket),
	}
}

func (cl *clientLimiter) get(key string) *rate.Limiter {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	now := cl.now()
	if now.Sub(cl.lastSweep) >= cl.idle {
		cl.sweep(now)
	}

	b, ok := cl.limiters[key]
	if !ok {
		b = &clientBucket{limiter: rate.NewLimiter(cl.rps, cl.burst)}
		cl.limiters[key] = b
	}
	b.lastSeen = now
	return b.limiter
}

// sweep drops buckets idle since before now-idle. Callers hold mu.
func (cl *clientLimiter) sweep(now time.Time) {
	for key, b := range cl.limiters {
		if now.Sub(b.lastSeen) >= cl.idle {
			delete(cl.limiters, key)
		}
	}
	cl.lastSweep = now
}

// retryAfter is the whole number of seconds until one token is available.
func (cl *clientLimiter) retryAfter() int {
	return max(1, int(math.Ceil(1/float64(cl.rps))))
}

func (cl *clientLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !cl.get(clientIP(r)).Allow() {
			w.Header().Set("Retry-After", fmt.Sprintf("%d", cl.retryAfter()))
			writeError(w, http.StatusTooManyRequests, "rate_limited", "", "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// keyedMutex serialises work per key, here per collection name.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

// Lock blocks until key is free and returns the matching unlock.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
