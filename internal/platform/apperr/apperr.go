package apperr

import (
	"errors"
	"net/http"
	"sort"
	"strings"

	"github.com/labstack/echo/v4"
)

// Kind classifies a domain error for the boundary layer.
type Kind int

const (
	KindUnknown Kind = iota
	KindUnauthenticated
	KindForbidden
	KindNotFound
	KindValidation
)

func (k Kind) String() string {
	switch k {
	case KindUnauthenticated:
		return "unauthenticated"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindValidation:
		return "validation"
	default:
		return "unknown"
	}
}

// Error is the error type returned by the domain layer. Fields is only
// populated for KindValidation and maps a field (or query parameter) name to
// the messages describing what is wrong with it.
type Error struct {
	Kind    Kind
	Message string
	Fields  map[string][]string
}

func (e *Error) Error() string {
	if e.Kind != KindValidation || len(e.Fields) == 0 {
		return e.Message
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+strings.Join(e.Fields[k], "; "))
	}
	return e.Message + ": " + strings.Join(parts, ", ")
}

// Is matches any *Error of the same kind, so errors.Is(err, apperr.ErrNotFound)
// works regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinels for errors.Is comparisons.
var (
	ErrUnauthenticated = &Error{Kind: KindUnauthenticated, Message: "authentication credentials were not provided"}
	ErrForbidden       = &Error{Kind: KindForbidden, Message: "permission denied"}
	ErrNotFound        = &Error{Kind: KindNotFound, Message: "not found"}
	ErrValidation      = &Error{Kind: KindValidation, Message: "validation failed"}
)

func Unauthenticated() *Error {
	return &Error{Kind: KindUnauthenticated, Message: ErrUnauthenticated.Message}
}

func Forbidden(msg string) *Error {
	return &Error{Kind: KindForbidden, Message: msg}
}

func NotFound(msg string) *Error {
	return &Error{Kind: KindNotFound, Message: msg}
}

// Validation starts an empty validation error. Callers Add field messages and
// return Err(), which is nil when nothing was added.
func Validation() *Error {
	return &Error{Kind: KindValidation, Message: ErrValidation.Message, Fields: map[string][]string{}}
}

// Invalid is shorthand for a validation error on a single field.
func Invalid(field, msg string) *Error {
	return Validation().Add(field, msg)
}

func (e *Error) Add(field, msg string) *Error {
	if e.Fields == nil {
		e.Fields = map[string][]string{}
	}
	e.Fields[field] = append(e.Fields[field], msg)
	return e
}

// Merge copies the field messages of other under prefix ("address.city").
func (e *Error) Merge(prefix string, other *Error) *Error {
	if other == nil {
		return e
	}
	for f, msgs := range other.Fields {
		key := f
		if prefix != "" {
			key = prefix + "." + f
		}
		for _, m := range msgs {
			e.Add(key, m)
		}
	}
	return e
}

// HasErrors reports whether any field message was recorded.
func (e *Error) HasErrors() bool {
	return len(e.Fields) > 0
}

// Err returns e as an error when it carries field messages, otherwise nil.
func (e *Error) Err() error {
	if e.Kind == KindValidation && !e.HasErrors() {
		return nil
	}
	return e
}

// KindOf extracts the Kind of err, or KindUnknown when err is not an *Error.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindUnknown
}

// HTTPStatus maps a Kind to its response status.
func HTTPStatus(k Kind) int {
	switch k {
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// ToHTTP converts err into an *echo.HTTPError. Validation errors carry the
// field map as the response body; other domain errors carry {"detail": msg}.
// Unknown errors become a 500 with a generic message and the original error
// kept as the internal cause for logging.
func ToHTTP(err error) error {
	if err == nil {
		return nil
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he
	}
	var ae *Error
	if !errors.As(err, &ae) {
		return echo.NewHTTPError(http.StatusInternalServerError, map[string]string{"detail": "internal server error"}).SetInternal(err)
	}
	status := HTTPStatus(ae.Kind)
	if ae.Kind == KindValidation && len(ae.Fields) > 0 {
		return echo.NewHTTPError(status, ae.Fields).SetInternal(err)
	}
	return echo.NewHTTPError(status, map[string]string{"detail": ae.Message}).SetInternal(err)
}

// HTTPErrorHandler renders every error through ToHTTP and rewrites echo's
// plain string messages (unknown route, body too large) as {"detail": msg}.
func HTTPErrorHandler(e *echo.Echo) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		he, ok := ToHTTP(err).(*echo.HTTPError)
		if !ok {
			e.DefaultHTTPErrorHandler(err, c)
			return
		}
		if msg, isString := he.Message.(string); isString {
			he = &echo.HTTPError{Code: he.Code, Message: map[string]string{"detail": msg}, Internal: he.Internal}
		}
		e.DefaultHTTPErrorHandler(he, c)
	}
}
