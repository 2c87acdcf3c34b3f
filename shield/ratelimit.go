package shield

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Rule limits requests per client IP within a fixed window.
type Rule struct {
	MaxRequests int
	Window      time.Duration
}

type bucket struct {
	mu      sync.Mutex
	count   int
	resetAt time.Time
}

// RateLimiter applies fixed-window limits per client IP and route prefix.
// The longest matching prefix wins; unmatched paths are not limited.
type RateLimiter struct {
	rules   map[string]Rule
	buckets sync.Map
	now     func() time.Time
}

// NewRateLimiter creates a limiter for rules keyed by path prefix.
func NewRateLimiter(rules map[string]Rule) *RateLimiter {
	return &RateLimiter{rules: rules, now: time.Now}
}

func (rl *RateLimiter) match(path string) (string, Rule, bool) {
	var (
		best string
		rule Rule
	)
	for prefix, r := range rl.rules {
		if strings.HasPrefix(path, prefix) && len(prefix) > len(best) {
			best, rule = prefix, r
		}
	}
	return best, rule, best != "" && rule.MaxRequests > 0 && rule.Window > 0
}

// allow reports whether the request is admitted and, if not, how long until
// the window resets.
func (rl *RateLimiter) allow(ip, path string) (bool, time.Duration) {
	prefix, rule, ok := rl.match(path)
	if !ok {
		return true, 0
	}
	now := rl.now()
	val, _ := rl.buckets.LoadOrStore(ip+"|"+prefix, &bucket{resetAt: now.Add(rule.Window)})
	b := val.(*bucket)

	b.mu.Lock()
	defer b.mu.Unlock()
	if !now.Before(b.resetAt) {
		b.count = 0
		b.resetAt = now.Add(rule.Window)
	}
	b.count++
	if b.count > rule.MaxRequests {
		return false, b.resetAt.Sub(now)
	}
	return true, 0
}

// GC drops buckets whose window has ended.
func (rl *RateLimiter) GC() {
	now := rl.now()
	rl.buckets.Range(func(key, value any) bool {
		b := value.(*bucket)
		b.mu.Lock()
		expired := !now.Before(b.resetAt)
		b.mu.Unlock()
		if expired {
			rl.buckets.Delete(key)
		}
		return true
	})
}

// StartGC runs GC every interval until done is closed.
func (rl *RateLimiter) StartGC(interval time.Duration, done <-chan struct{}) {
	t := time.NewTicker(interval)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-t.C:
				rl.GC()
			}
		}
	}()
}

// Middleware answers 429 with a JSON error once a client exceeds its rule.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := ExtractIP(r)
		ok, wait := rl.allow(ip, r.URL.Path)
		if ok {
			next.ServeHTTP(w, r)
			return
		}

		GetLogger(r.Context()).Warn("ratelimit: request blocked", "ip", ip)
		secs := int(wait.Seconds())
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		if err := json.NewEncoder(w).Encode(map[string]string{"error": "rate limit exceeded"}); err != nil {
			slog.Debug("ratelimit: write response", "error", err)
		}
	})
}

// ExtractIP returns the first X-Forwarded-For address or the RemoteAddr host.
func ExtractIP(r *http.Request) string {
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
