package httpx

import (
	"golang.org/x/time/rate"
	"net"
	"net/http"
	"sync"
	"time"
)

type ipLimiter struct {
	limiter *rate.Limiter
	last    time.Time
}

// RateLimiter throttles per client IP. Run middleware.RealIP before it so
// RemoteAddr is the client, not the proxy.
type RateLimiter struct {
	RPS   float64
	Burst int
	Idle  time.Duration // limiters unused this long are dropped

	mu       sync.Mutex
	visitors map[string]*ipLimiter
	swept    time.Time
}

func NewRateLimiter(rps float64, burst int) *RateLimiter {
	return &RateLimiter{RPS: rps, Burst: burst, Idle: 10 * time.Minute, visitors: map[string]*ipLimiter{}}
}

func (rl *RateLimiter) Allow(ip string, now time.Time) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if now.Sub(rl.swept) > rl.Idle {
		for k, v := range rl.visitors {
			if now.Sub(v.last) > rl.Idle {
				delete(rl.visitors, k)
			}
		}
		rl.swept = now
	}
	v, ok := rl.visitors[ip]
	if !ok {
		v = &ipLimiter{limiter: rate.NewLimiter(rate.Limit(rl.RPS), rl.Burst)}
		rl.visitors[ip] = v
	}
	v.last = now
	return v.limiter.AllowN(now, 1)
}

func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			ip = r.RemoteAddr
		}
		if !rl.Allow(ip, time.Now()) {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "Too many checkout attempts. Please wait a moment.")
			return
		}
		next.ServeHTTP(w, r)
	})
}
