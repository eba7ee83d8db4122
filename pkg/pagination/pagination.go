package pagination

import (
	"fmt"
	"strconv"

	"github.com/labstack/echo/v4"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// Params holds pagination parameters extracted from a request.
type Params struct {
	Limit  int
	Offset int
}

// FromContext extracts limit and offset query parameters, clamping the limit
// to MaxLimit and negative offsets to zero.
func FromContext(c echo.Context) Params {
	return Normalize(atoi(c.QueryParam("limit")), atoi(c.QueryParam("offset")))
}

// Normalize applies the defaults and bounds FromContext uses.
func Normalize(limit, offset int) Params {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	if offset < 0 {
		offset = 0
	}
	return Params{Limit: limit, Offset: offset}
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

// Response wraps a paginated API response.
type Response struct {
	Data       interface{} `json:"data"`
	Total      int         `json:"total"`
	Limit      int         `json:"limit"`
	Offset     int         `json:"offset"`
	HasMore    bool        `json:"has_more"`
	NextOffset *int        `json:"next_offset,omitempty"`
}

func NewResponse(data interface{}, total, limit, offset int) *Response {
	r := &Response{
		Data:    data,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
		HasMore: offset+limit < total,
	}
	if r.HasMore {
		next := offset + limit
		r.NextOffset = &next
	}
	return r
}

// SQL returns the LIMIT and OFFSET clause for SQL queries.
func (p Params) SQL() string {
	return fmt.Sprintf("LIMIT %d OFFSET %d", p.Limit, p.Offset)
}

// HasNext returns true if there are more results after the current page.
func (p Params) HasNext(total int) bool {
	return p.Offset+p.Limit < total
}

// Slice returns the page of items selected by limit and offset. A
// non-positive limit returns everything from offset on.
func Slice[T any](items []T, limit, offset int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []T{}
	}
	end := len(items)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return items[offset:end]
}
