package httpx

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

const rateLimiterSweepInterval = 5 * time.Minute

// RateLimiter counts requests per key in fixed windows.
type RateLimiter interface {
	Allow(key string, limit int, window time.Duration) rateDecision
	Close()
}

type rateDecision struct {
	allowed   bool
	count     int
	windowEnd time.Time
}

// ratePolicy bounds how often one caller may hit a route.
type ratePolicy struct {
	route  string
	limit  int
	window time.Duration
}

func (p ratePolicy) key(caller string) string {
	return p.route + "|" + caller
}

type windowCounter struct {
	count int
	end   time.Time
}

// fixedWindowLimiter keeps counters in process memory and drops expired ones lazily.
type fixedWindowLimiter struct {
	mu        sync.Mutex
	now       func() time.Time
	counters  map[string]windowCounter
	nextSweep time.Time
}

// NewMemoryRateLimiter returns a process-local RateLimiter.
func NewMemoryRateLimiter() RateLimiter {
	return newFixedWindowLimiter(time.Now)
}

func newFixedWindowLimiter(now func() time.Time) *fixedWindowLimiter {
	return &fixedWindowLimiter{
		now:       now,
		counters:  make(map[string]windowCounter),
		nextSweep: now().Add(rateLimiterSweepInterval),
	}
}

func (l *fixedWindowLimiter) Allow(key string, limit int, window time.Duration) rateDecision {
	if limit <= 0 {
		return rateDecision{allowed: true}
	}
	if window <= 0 {
		window = time.Minute
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()
	if now.After(l.nextSweep) {
		l.sweep(now)
	}

	c, ok := l.counters[key]
	if !ok || now.After(c.end) {
		c = windowCounter{end: now.Add(window)}
	}
	if c.count >= limit {
		return rateDecision{allowed: false, count: c.count, windowEnd: c.end}
	}
	c.count++
	l.counters[key] = c
	return rateDecision{allowed: true, count: c.count, windowEnd: c.end}
}

// sweep must be called with mu held.
func (l *fixedWindowLimiter) sweep(now time.Time) {
	for key, c := range l.counters {
		if now.After(c.end) {
			delete(l.counters, key)
		}
	}
	l.nextSweep = now.Add(rateLimiterSweepInterval)
}

func (l *fixedWindowLimiter) Close() {}

// limit rejects callers that exceeded policy with 429 and reports the window in X-RateLimit headers.
func (r *Router) limit(policy ratePolicy, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if policy.limit <= 0 || r.limiter == nil {
			next(w, req)
			return
		}
		caller := callerKey(req)
		decision := r.limiter.Allow(policy.key(caller), policy.limit, policy.window)
		r.applyRateHeaders(w, policy.limit, decision)
		if !decision.allowed {
			r.recordRateLimitHit(policy.route, rateMetricKey(caller))
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next(w, req)
	}
}

// protected authenticates the caller and then applies policy.
func (r *Router) protected(policy ratePolicy, next http.HandlerFunc) http.HandlerFunc {
	return r.requireAuth(r.limit(policy, next))
}

// callerKey identifies the caller by token subject, falling back to the client address.
func callerKey(req *http.Request) string {
	if principal, ok := principalFromContext(req.Context()); ok && principal.Subject != "" {
		return "user:" + principal.Subject
	}
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		host = req.RemoteAddr
	}
	if host == "" {
		host = "unknown"
	}
	return "ip:" + host
}

func rateMetricKey(key string) string {
	if kind, _, ok := strings.Cut(key, ":"); ok && kind != "" {
		return kind
	}
	return "unknown"
}
