package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddleware_CountsByRoute(t *testing.T) {
	m := New(prometheus.NewRegistry())
	e := echo.New()
	e.Use(m.Middleware())
	e.GET("/api/patient/:id/", func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})
	e.GET("/api/assessment/:id/", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusNotFound, "missing")
	})

	for _, path := range []string{"/api/patient/a/", "/api/patient/b/", "/api/assessment/c/"} {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("GET", "/api/patient/:id/", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("GET", "/api/assessment/:id/", "404")))
}

func TestDomainCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.IncPatientsCreated()
	m.IncPatientsCreated()
	m.IncPatientsDeleted()
	m.IncAssessmentsCreated("cognitive")
	m.IncRateLimited("ip")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.PatientsCreated))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PatientsDeleted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AssessmentsCreated.WithLabelValues("cognitive")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RateLimited.WithLabelValues("ip")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.IncPatientsCreated()
		m.IncPatientsDeleted()
		m.IncAssessmentsCreated("mental")
		m.IncRateLimited("clinician")
	})
}

func TestHandler_ExposesCollectors(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.IncPatientsCreated()

	e := echo.New()
	e.GET("/metrics", m.Handler())
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "healthtrack_patients_created_total 1"))
}
