package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/healthtrack/healthtrack/internal/platform/auth"
)

type fakeClock struct{ now time.Time }

func (f *fakeClock) Now() time.Time { return f.now }

func (f *fakeClock) advance(d time.Duration) { f.now = f.now.Add(d) }

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)}
}

func hit(t *testing.T, mw echo.MiddlewareFunc, opts ...func(*http.Request)) (*httptest.ResponseRecorder, error) {
	t.Helper()
	c, rec := newTestContext(http.MethodGet, "/api/patient/", opts...)
	err := mw(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})(c)
	return rec, err
}

func fromIP(ip string) func(*http.Request) {
	return func(req *http.Request) { req.RemoteAddr = ip + ":1234" }
}

func requireThrottled(t *testing.T, err error) {
	t.Helper()
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %v", err)
	}
}

func TestRateLimit_BurstThenThrottle(t *testing.T) {
	clock := newClock()
	mw := RateLimit(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 3, Now: clock.Now})

	for i, wantRemaining := range []string{"2", "1", "0"} {
		rec, err := hit(t, mw)
		if err != nil {
			t.Fatalf("request %d: unexpected error %v", i+1, err)
		}
		if got := rec.Header().Get("X-RateLimit-Remaining"); got != wantRemaining {
			t.Errorf("request %d: remaining %q, want %q", i+1, got, wantRemaining)
		}
		if got := rec.Header().Get("X-RateLimit-Limit"); got != "1" {
			t.Errorf("request %d: limit %q", i+1, got)
		}
	}

	rec, err := hit(t, mw)
	requireThrottled(t, err)
	if got := rec.Header().Get("Retry-After"); got != "1" {
		t.Errorf("expected Retry-After 1, got %q", got)
	}
}

func TestRateLimit_Refills(t *testing.T) {
	clock := newClock()
	mw := RateLimit(RateLimitConfig{RequestsPerSecond: 2, BurstSize: 1, Now: clock.Now})

	if _, err := hit(t, mw); err != nil {
		t.Fatal(err)
	}
	_, err := hit(t, mw)
	requireThrottled(t, err)

	clock.advance(500 * time.Millisecond)
	if _, err := hit(t, mw); err != nil {
		t.Fatalf("expected a refilled token, got %v", err)
	}
}

func TestRateLimit_RetryAfterRoundsUp(t *testing.T) {
	clock := newClock()
	mw := RateLimit(RateLimitConfig{RequestsPerSecond: 0.25, BurstSize: 1, Now: clock.Now})

	hit(t, mw)
	rec, err := hit(t, mw)
	requireThrottled(t, err)
	if got := rec.Header().Get("Retry-After"); got != "4" {
		t.Errorf("expected Retry-After 4, got %q", got)
	}
}

func TestRateLimit_PerClinicianAndIP(t *testing.T) {
	clock := newClock()
	var throttled []string
	mw := RateLimit(RateLimitConfig{
		RequestsPerSecond: 1,
		BurstSize:         1,
		Now:               clock.Now,
		OnThrottle:        func(kind string) { throttled = append(throttled, kind) },
	})

	a, b := withClinician(uuid.New()), withClinician(uuid.New())
	if _, err := hit(t, mw, a); err != nil {
		t.Fatal(err)
	}
	if _, err := hit(t, mw, b); err != nil {
		t.Fatalf("second clinician must have its own bucket: %v", err)
	}
	_, err := hit(t, mw, a)
	requireThrottled(t, err)

	if _, err := hit(t, mw, fromIP("10.0.0.1")); err != nil {
		t.Fatal(err)
	}
	if _, err := hit(t, mw, fromIP("10.0.0.2")); err != nil {
		t.Fatalf("second IP must have its own bucket: %v", err)
	}
	_, err = hit(t, mw, fromIP("10.0.0.1"))
	requireThrottled(t, err)

	if len(throttled) != 2 || throttled[0] != "clinician" || throttled[1] != "ip" {
		t.Errorf("unexpected throttle callbacks %v", throttled)
	}
}

func TestLimiter_SweepsIdleBuckets(t *testing.T) {
	clock := newClock()
	l := newLimiter(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1, IdleTTL: time.Minute, Now: clock.Now})

	l.bucket("ip:a", clock.Now())
	l.bucket("ip:b", clock.Now())
	if l.size() != 2 {
		t.Fatalf("expected 2 buckets, got %d", l.size())
	}

	clock.advance(2 * time.Minute)
	l.bucket("ip:c", clock.Now())
	if l.size() != 1 {
		t.Errorf("expected idle buckets swept, got %d", l.size())
	}
}

func TestRateLimitConfig_Defaults(t *testing.T) {
	cfg := RateLimitConfig{}.withDefaults()
	if cfg.RequestsPerSecond != 100 || cfg.BurstSize != 200 {
		t.Errorf("unexpected defaults %+v", cfg)
	}
	if cfg.IdleTTL != 10*time.Minute || cfg.Now == nil {
		t.Errorf("expected idle ttl and clock defaults, got %+v", cfg)
	}
}

func TestRateLimitKey(t *testing.T) {
	id := uuid.New()
	c, _ := newTestContext(http.MethodGet, "/api/patient/", func(req *http.Request) {
		*req = *req.WithContext(auth.WithIdentity(req.Context(), auth.Identity{ClinicianID: id}))
	})
	if kind, key := rateLimitKey(c); kind != "clinician" || key != id.String() {
		t.Errorf("got %s:%s", kind, key)
	}

	c, _ = newTestContext(http.MethodGet, "/api/patient/", fromIP("192.0.2.7"))
	if kind, key := rateLimitKey(c); kind != "ip" || key != "192.0.2.7" {
		t.Errorf("got %s:%s", kind, key)
	}
}
