package middleware

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
)

// SecurityHeadersConfig controls the optional parts of SecurityHeaders.
type SecurityHeadersConfig struct {
	// HSTS enables Strict-Transport-Security. Leave it off when the server
	// is reached over plain HTTP, as in local development.
	HSTS       bool
	HSTSMaxAge time.Duration
}

// apiHeaders are sent on every response. Patient records must never be
// cached by browsers or intermediaries.
var apiHeaders = [][2]string{
	{"X-Content-Type-Options", "nosniff"},
	{"X-Frame-Options", "DENY"},
	{"X-XSS-Protection", "0"},
	{"Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'"},
	{"Referrer-Policy", "no-referrer"},
	{"Permissions-Policy", "camera=(), microphone=(), geolocation=()"},
	{"Cache-Control", "no-store"},
}

func SecurityHeaders(cfg SecurityHeadersConfig) echo.MiddlewareFunc {
	maxAge := cfg.HSTSMaxAge
	if maxAge <= 0 {
		maxAge = 365 * 24 * time.Hour
	}
	hsts := "max-age=" + strconv.Itoa(int(maxAge.Seconds())) + "; includeSubDomains"

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			for _, kv := range apiHeaders {
				h.Set(kv[0], kv[1])
			}
			if cfg.HSTS {
				h.Set("Strict-Transport-Security", hsts)
			}
			return next(c)
		}
	}
}
