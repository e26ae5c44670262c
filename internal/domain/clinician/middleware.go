package clinician

import (
	"net/http"
	"sync"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/healthtrack/healthtrack/internal/platform/auth"
	"github.com/healthtrack/healthtrack/internal/platform/db"
)

// Sync mirrors the authenticated identity into the clinician table. Each
// clinician is written once per process, and again whenever the token
// carries a different email.
type Sync struct {
	repo   Repository
	logger zerolog.Logger

	mu   sync.RWMutex
	seen map[string]string // clinician id -> email last written
}

func NewSync(repo Repository, logger zerolog.Logger) *Sync {
	return &Sync{repo: repo, logger: logger, seen: make(map[string]string)}
}

func (s *Sync) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			id, ok := auth.IdentityFromContext(ctx)
			if !ok {
				return echo.NewHTTPError(http.StatusUnauthorized, map[string]string{"detail": "Authentication credentials were not provided."})
			}
			if id.Email == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, map[string]string{"detail": "Token contained no email claim."})
			}

			key := id.ClinicianID.String()
			s.mu.RLock()
			email, known := s.seen[key]
			s.mu.RUnlock()
			if known && email == id.Email {
				return next(c)
			}

			row := &Clinician{ID: id.ClinicianID, Email: id.Email}
			if id.FirstName != "" {
				row.FirstName = &id.FirstName
			}
			if id.LastName != "" {
				row.LastName = &id.LastName
			}
			if err := s.repo.Upsert(ctx, row); err != nil {
				if _, dup := db.UniqueViolation(err); dup {
					return echo.NewHTTPError(http.StatusForbidden, map[string]string{"detail": "Email is already registered to another clinician."})
				}
				s.logger.Error().Err(err).Str("clinician_id", key).Msg("clinician sync failed")
				return echo.NewHTTPError(http.StatusInternalServerError, map[string]string{"detail": "internal server error"}).SetInternal(err)
			}

			s.mu.Lock()
			s.seen[key] = id.Email
			s.mu.Unlock()
			s.logger.Debug().Str("clinician_id", key).Msg("clinician synced")

			return next(c)
		}
	}
}
