package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/healthtrack/healthtrack/internal/platform/auth"
)

type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
	// IdleTTL drops the bucket of a client that has been quiet this long.
	IdleTTL time.Duration
	// OnThrottle is called with the bucket kind ("clinician" or "ip") of
	// every rejected request.
	OnThrottle func(kind string)
	Now        func() time.Time
}

func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 100,
		BurstSize:         200,
	}
}

func (cfg RateLimitConfig) withDefaults() RateLimitConfig {
	def := DefaultRateLimitConfig()
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = def.RequestsPerSecond
	}
	if cfg.BurstSize <= 0 {
		cfg.BurstSize = def.BurstSize
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 10 * time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return cfg
}

// bucket is a token bucket refilled at rate tokens per second up to burst.
type bucket struct {
	mu       sync.Mutex
	tokens   float64
	lastSeen time.Time
}

// take consumes one token if available. It reports the tokens left and, when
// refused, how long until the next token.
func (b *bucket) take(now time.Time, rate, burst float64) (ok bool, remaining int, wait time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.tokens = math.Min(burst, b.tokens+now.Sub(b.lastSeen).Seconds()*rate)
	b.lastSeen = now
	if b.tokens >= 1 {
		b.tokens--
		return true, int(b.tokens), 0
	}
	return false, 0, time.Duration((1 - b.tokens) / rate * float64(time.Second))
}

func (b *bucket) idleSince(now time.Time) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return now.Sub(b.lastSeen)
}

// limiter keeps one bucket per client key and sweeps idle ones.
type limiter struct {
	cfg RateLimitConfig

	mu        sync.Mutex
	buckets   map[string]*bucket
	lastSweep time.Time
}

func newLimiter(cfg RateLimitConfig) *limiter {
	cfg = cfg.withDefaults()
	return &limiter{cfg: cfg, buckets: make(map[string]*bucket), lastSweep: cfg.Now()}
}

func (l *limiter) bucket(key string, now time.Time) *bucket {
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastSweep) >= l.cfg.IdleTTL {
		for k, b := range l.buckets {
			if b.idleSince(now) >= l.cfg.IdleTTL {
				delete(l.buckets, k)
			}
		}
		l.lastSweep = now
	}

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: float64(l.cfg.BurstSize), lastSeen: now}
		l.buckets[key] = b
	}
	return b
}

func (l *limiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// RateLimit throttles /api traffic per clinician, or per client IP before
// authentication, answering 429 with Retry-After once a bucket is empty.
func RateLimit(cfg RateLimitConfig) echo.MiddlewareFunc {
	return newLimiter(cfg).middleware()
}

func (l *limiter) middleware() echo.MiddlewareFunc {
	limit := strconv.FormatFloat(l.cfg.RequestsPerSecond, 'f', -1, 64)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			kind, key := rateLimitKey(c)
			now := l.cfg.Now()
			ok, remaining, wait := l.bucket(kind+":"+key, now).take(now, l.cfg.RequestsPerSecond, float64(l.cfg.BurstSize))

			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", limit)
			h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			if !ok {
				h.Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
				if l.cfg.OnThrottle != nil {
					l.cfg.OnThrottle(kind)
				}
				return echo.NewHTTPError(http.StatusTooManyRequests, map[string]string{"detail": "Request was throttled."})
			}
			return next(c)
		}
	}
}

// rateLimitKey buckets authenticated traffic per clinician and anonymous
// traffic per client IP.
func rateLimitKey(c echo.Context) (kind, key string) {
	if id, ok := auth.IdentityFromContext(c.Request().Context()); ok {
		return "clinician", id.ClinicianID.String()
	}
	return "ip", c.RealIP()
}
