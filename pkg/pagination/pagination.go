package pagination

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// Params is a validated limit/offset pair taken from query parameters.
type Params struct {
	Limit  int
	Offset int
}

// FromContext reads limit and offset from the request query. Out-of-range
// values fall back to the defaults rather than erroring; list endpoints
// should never fail on a sloppy page size.
func FromContext(c echo.Context) Params {
	p := Params{Limit: DefaultLimit}
	if n, err := strconv.Atoi(c.QueryParam("limit")); err == nil && n > 0 {
		if n > MaxLimit {
			n = MaxLimit
		}
		p.Limit = n
	}
	if n, err := strconv.Atoi(c.QueryParam("offset")); err == nil && n > 0 {
		p.Offset = n
	}
	return p
}

// Response is the envelope every paginated list endpoint returns.
type Response struct {
	Data    interface{} `json:"data"`
	Total   int         `json:"total"`
	Limit   int         `json:"limit"`
	Offset  int         `json:"offset"`
	HasMore bool        `json:"has_more"`
}

// NewResponse wraps a page of results with its position in the full set.
func NewResponse(data interface{}, total, limit, offset int) *Response {
	return &Response{
		Data:    data,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
		HasMore: offset+limit < total,
	}
}
