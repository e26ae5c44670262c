package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/healthtrack/healthtrack/internal/platform/auth"
)

// auditEntry describes one access to patient data: who, what, when, outcome.
type auditEntry struct {
	ClinicianID  string
	ResourceType string // patient, assessment
	PatientID    string
	AssessmentID string
	Action       string // read, search, create, update, delete
	IPAddress    string
	UserAgent    string
	Path         string
	Method       string
	Timestamp    time.Time
	RequestID    string
	StatusCode   int
}

// Audit emits a structured "phi_access" log line for every /api request
// after the handler has run.
func Audit(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			path := req.URL.Path

			if !isAuditablePath(path) {
				return next(c)
			}

			err := next(c)

			status := c.Response().Status
			if err != nil && !c.Response().Committed {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				} else {
					status = http.StatusInternalServerError
				}
			}

			entry := auditEntry{
				Timestamp:  time.Now().UTC(),
				Path:       path,
				Method:     req.Method,
				IPAddress:  c.RealIP(),
				UserAgent:  req.UserAgent(),
				StatusCode: status,
			}

			if id, ok := auth.IdentityFromContext(req.Context()); ok {
				entry.ClinicianID = id.ClinicianID.String()
			}
			if rid, ok := c.Get("request_id").(string); ok {
				entry.RequestID = rid
			}

			entry.ResourceType, entry.PatientID, entry.AssessmentID = parseResourcePath(path)
			entry.Action = httpMethodToAction(req.Method, entry.ResourceType, entry.PatientID, entry.AssessmentID)

			logger.Info().
				Str("type", "audit").
				Str("request_id", entry.RequestID).
				Str("clinician_id", entry.ClinicianID).
				Str("resource_type", entry.ResourceType).
				Str("patient_id", entry.PatientID).
				Str("assessment_id", entry.AssessmentID).
				Str("action", entry.Action).
				Str("method", entry.Method).
				Str("path", entry.Path).
				Str("remote_ip", entry.IPAddress).
				Str("user_agent", entry.UserAgent).
				Int("status", entry.StatusCode).
				Time("at", entry.Timestamp).
				Msg("phi_access")

			return err
		}
	}
}

func isAuditablePath(path string) bool {
	return strings.HasPrefix(path, "/api/")
}

// httpMethodToAction distinguishes collection reads (search) from reads of a
// single record.
func httpMethodToAction(method, resourceType, patientID, assessmentID string) string {
	switch method {
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	}
	if resourceType == "assessment" && assessmentID == "" {
		return "search"
	}
	if resourceType == "patient" && patientID == "" {
		return "search"
	}
	return "read"
}

// parseResourcePath recognizes:
//
//	/api/patient/                          -> patient
//	/api/patient/<id>/                     -> patient, id
//	/api/patient/<id>/assessment/          -> assessment, patient id
//	/api/patient/<id>/assessment/create    -> assessment, patient id
//	/api/patient/<id>/assessment/<aid>/    -> assessment, patient id, aid
//	/api/assessment/<aid>/                 -> assessment, "", aid
func parseResourcePath(path string) (resourceType, patientID, assessmentID string) {
	segments := strings.FieldsFunc(strings.TrimPrefix(path, "/api/"), func(r rune) bool { return r == '/' })
	if len(segments) == 0 {
		return "unknown", "", ""
	}

	switch segments[0] {
	case "patient":
		resourceType = "patient"
		if len(segments) > 1 && isUUIDLike(segments[1]) {
			patientID = segments[1]
		}
		if len(segments) > 2 && segments[2] == "assessment" {
			resourceType = "assessment"
			if len(segments) > 3 && isUUIDLike(segments[3]) {
				assessmentID = segments[3]
			}
		}
	case "assessment":
		resourceType = "assessment"
		if len(segments) > 1 && isUUIDLike(segments[1]) {
			assessmentID = segments[1]
		}
	default:
		resourceType = segments[0]
	}
	return resourceType, patientID, assessmentID
}

func isUUIDLike(s string) bool {
	if s == "" {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}
