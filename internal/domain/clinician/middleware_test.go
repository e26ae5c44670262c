package clinician

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/healthtrack/healthtrack/internal/platform/auth"
)

type mockRepo struct {
	mu      sync.Mutex
	rows    map[uuid.UUID]*Clinician
	upserts int
	err     error
}

func newMockRepo() *mockRepo {
	return &mockRepo{rows: make(map[uuid.UUID]*Clinician)}
}

func (m *mockRepo) Upsert(_ context.Context, c *Clinician) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upserts++
	if m.err != nil {
		return m.err
	}
	cp := *c
	m.rows[c.ID] = &cp
	return nil
}

func (m *mockRepo) get(id uuid.UUID) *Clinician {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rows[id]
}

func serve(t *testing.T, s *Sync, id *auth.Identity) (bool, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/patient/", nil)
	if id != nil {
		req = req.WithContext(auth.WithIdentity(req.Context(), *id))
	}
	rec := httptest.NewRecorder()
	called := false
	err := s.Middleware()(func(c echo.Context) error {
		called = true
		return c.NoContent(http.StatusOK)
	})(e.NewContext(req, rec))
	return called, err
}

func statusOf(t *testing.T, err error) int {
	t.Helper()
	var he *echo.HTTPError
	require.ErrorAs(t, err, &he)
	return he.Code
}

func TestSync_UpsertsOncePerIdentity(t *testing.T) {
	repo := newMockRepo()
	s := NewSync(repo, zerolog.Nop())
	id := auth.Identity{ClinicianID: uuid.New(), Email: "a@clinic.example", FirstName: "Ada"}

	for i := 0; i < 3; i++ {
		called, err := serve(t, s, &id)
		require.NoError(t, err)
		assert.True(t, called)
	}
	assert.Equal(t, 1, repo.upserts)

	stored := repo.get(id.ClinicianID)
	require.NotNil(t, stored)
	assert.Equal(t, "a@clinic.example", stored.Email)
	require.NotNil(t, stored.FirstName)
	assert.Equal(t, "Ada", *stored.FirstName)
	assert.Nil(t, stored.LastName)
}

func TestSync_EmailChangeTriggersUpsert(t *testing.T) {
	repo := newMockRepo()
	s := NewSync(repo, zerolog.Nop())
	id := auth.Identity{ClinicianID: uuid.New(), Email: "old@clinic.example"}

	_, err := serve(t, s, &id)
	require.NoError(t, err)
	id.Email = "new@clinic.example"
	_, err = serve(t, s, &id)
	require.NoError(t, err)

	assert.Equal(t, 2, repo.upserts)
	stored := repo.get(id.ClinicianID)
	require.NotNil(t, stored)
	assert.Equal(t, "new@clinic.example", stored.Email)
}

func TestSync_RequiresIdentity(t *testing.T) {
	s := NewSync(newMockRepo(), zerolog.Nop())

	called, err := serve(t, s, nil)
	assert.Equal(t, http.StatusUnauthorized, statusOf(t, err))
	assert.False(t, called)

	called, err = serve(t, s, &auth.Identity{ClinicianID: uuid.New()})
	assert.Equal(t, http.StatusUnauthorized, statusOf(t, err))
	assert.False(t, called)
}

func TestSync_DuplicateEmailIsForbidden(t *testing.T) {
	repo := newMockRepo()
	repo.err = &pgconn.PgError{Code: "23505", ConstraintName: "clinician_email_key"}
	s := NewSync(repo, zerolog.Nop())

	called, err := serve(t, s, &auth.Identity{ClinicianID: uuid.New(), Email: "taken@clinic.example"})
	assert.Equal(t, http.StatusForbidden, statusOf(t, err))
	assert.False(t, called)
}

func TestSync_RepoFailureIs500AndRetried(t *testing.T) {
	repo := newMockRepo()
	repo.err = errors.New("connection refused")
	s := NewSync(repo, zerolog.Nop())
	id := auth.Identity{ClinicianID: uuid.New(), Email: "a@clinic.example"}

	_, err := serve(t, s, &id)
	assert.Equal(t, http.StatusInternalServerError, statusOf(t, err))

	repo.err = nil
	called, err := serve(t, s, &id)
	require.NoError(t, err)
	assert.True(t, called)
	assert.Equal(t, 2, repo.upserts)
}
