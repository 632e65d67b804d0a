package api

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// corsMiddleware adds CORS headers to allow frontend requests
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")
		w.Header().Set("Access-Control-Allow-Credentials", "true")

		// Handle preflight OPTIONS request
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// bodyLimitMiddleware caps request bodies
func bodyLimitMiddleware(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, limit)
			}
			next.ServeHTTP(w, r)
		})
	}
}

/* =========================
   PER-IP RATE LIMITER
========================= */

type ipLimiter struct {
	limiter *rate.Limiter

	mu   sync.Mutex
	last time.Time
}

func (l *ipLimiter) touch(now time.Time) {
	l.mu.Lock()
	l.last = now
	l.mu.Unlock()
}

func (l *ipLimiter) idleSince(now time.Time) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return now.Sub(l.last)
}

// RateLimiter throttles requests per client IP
type RateLimiter struct {
	rps   rate.Limit
	burst int

	limiters    sync.Map // map[string]*ipLimiter
	cleanupOnce sync.Once
	idleTTL     time.Duration
}

// NewRateLimiter returns a limiter allowing rps requests per second with the
// given burst per IP. rps <= 0 disables limiting.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{rps: rate.Limit(rps), burst: burst, idleTTL: 30 * time.Minute}
}

func (rl *RateLimiter) forIP(ip string) *ipLimiter {
	if v, ok := rl.limiters.Load(ip); ok {
		return v.(*ipLimiter)
	}
	lim := &ipLimiter{limiter: rate.NewLimiter(rl.rps, rl.burst), last: time.Now()}
	v, _ := rl.limiters.LoadOrStore(ip, lim)

	rl.cleanupOnce.Do(func() {
		go rl.cleanupLoop()
	})
	return v.(*ipLimiter)
}

func (rl *RateLimiter) cleanupLoop() {
	t := time.NewTicker(5 * time.Minute)
	defer t.Stop()
	for now := range t.C {
		rl.limiters.Range(func(key, val any) bool {
			if val.(*ipLimiter).idleSince(now) > rl.idleTTL {
				rl.limiters.Delete(key)
			}
			return true
		})
	}
}

// Middleware answers 429 once an IP exceeds its budget
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rl.rps <= 0 {
			next.ServeHTTP(w, r)
			return
		}

		ip := remoteIP(r)
		lim := rl.forIP(ip)
		if !lim.limiter.Allow() {
			logrus.WithField("ip", ip).Warn("⚠️  Claim rate limit exceeded")
			sendError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		lim.touch(time.Now())
		next.ServeHTTP(w, r)
	})
}

// remoteIP keys on the connection address only. Forwarding headers are
// applied to RemoteAddr upstream by middleware.RealIP when the router is
// told it sits behind a trusted proxy.
func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
