package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for the service. All methods are
// safe on a nil receiver so domain code can run without metrics.
type Metrics struct {
	gatherer prometheus.Gatherer

	HTTPRequests       *prometheus.CounterVec
	HTTPDuration       *prometheus.HistogramVec
	PatientsCreated    prometheus.Counter
	PatientsDeleted    prometheus.Counter
	AssessmentsCreated *prometheus.CounterVec
	RateLimited        *prometheus.CounterVec
}

// New registers the collectors on reg. Pass a fresh prometheus.NewRegistry()
// in tests to avoid duplicate registration panics.
func New(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		gatherer: reg,
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "healthtrack_http_requests_total",
			Help: "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "status"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "healthtrack_http_request_duration_seconds",
			Help:    "HTTP request latency by method and route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		PatientsCreated: f.NewCounter(prometheus.CounterOpts{
			Name: "healthtrack_patients_created_total",
			Help: "Patients created.",
		}),
		PatientsDeleted: f.NewCounter(prometheus.CounterOpts{
			Name: "healthtrack_patients_deleted_total",
			Help: "Patients deleted.",
		}),
		AssessmentsCreated: f.NewCounterVec(prometheus.CounterOpts{
			Name: "healthtrack_assessments_created_total",
			Help: "Assessments created by assessment type.",
		}, []string{"assessment_type"}),
		RateLimited: f.NewCounterVec(prometheus.CounterOpts{
			Name: "healthtrack_rate_limited_total",
			Help: "Requests rejected by the rate limiter, by bucket kind.",
		}, []string{"kind"}),
	}
}

func (m *Metrics) IncRateLimited(kind string) {
	if m == nil {
		return
	}
	m.RateLimited.WithLabelValues(kind).Inc()
}

func (m *Metrics) IncPatientsCreated() {
	if m == nil {
		return
	}
	m.PatientsCreated.Inc()
}

func (m *Metrics) IncPatientsDeleted() {
	if m == nil {
		return
	}
	m.PatientsDeleted.Inc()
}

func (m *Metrics) IncAssessmentsCreated(assessmentType string) {
	if m == nil {
		return
	}
	m.AssessmentsCreated.WithLabelValues(assessmentType).Inc()
}

// Middleware records request count and latency labelled by the matched
// route template, never the raw path.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if err != nil && !c.Response().Committed {
				status = http.StatusInternalServerError
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				}
			}

			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			method := c.Request().Method
			m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
			m.HTTPDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

func (m *Metrics) Handler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{}))
}
