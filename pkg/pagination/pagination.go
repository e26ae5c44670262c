package pagination

import (
	"fmt"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/healthtrack/healthtrack/internal/platform/apperr"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

type Params struct {
	Limit  int
	Offset int
}

// FromContext reads ?limit= and ?offset=. Limits above MaxLimit are clamped;
// non-numeric or negative values are a validation error.
func FromContext(c echo.Context) (Params, error) {
	p := Params{Limit: DefaultLimit}
	verr := apperr.Validation()

	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		switch {
		case err != nil:
			verr.Add("limit", "A valid integer is required.")
		case n <= 0:
			verr.Add("limit", "Ensure this value is greater than or equal to 1.")
		case n > MaxLimit:
			p.Limit = MaxLimit
		default:
			p.Limit = n
		}
	}

	if raw := c.QueryParam("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		switch {
		case err != nil:
			verr.Add("offset", "A valid integer is required.")
		case n < 0:
			verr.Add("offset", "Ensure this value is greater than or equal to 0.")
		default:
			p.Offset = n
		}
	}

	if err := verr.Err(); err != nil {
		return Params{}, err
	}
	return p, nil
}

// Response is the list envelope returned by every collection endpoint.
type Response struct {
	Data    interface{} `json:"data"`
	Total   int         `json:"total"`
	Limit   int         `json:"limit"`
	Offset  int         `json:"offset"`
	HasMore bool        `json:"has_more"`
}

func NewResponse(data interface{}, total int, p Params) *Response {
	return &Response{
		Data:    data,
		Total:   total,
		Limit:   p.Limit,
		Offset:  p.Offset,
		HasMore: p.HasNext(total),
	}
}

// SQL returns the LIMIT and OFFSET clause for SQL queries.
func (p Params) SQL() string {
	return fmt.Sprintf("LIMIT %d OFFSET %d", p.Limit, p.Offset)
}

func (p Params) HasNext(total int) bool {
	return p.Offset+p.Limit < total
}
