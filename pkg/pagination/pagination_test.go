package pagination

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func paramsFor(t *testing.T, target string) Params {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	return FromContext(e.NewContext(req, httptest.NewRecorder()))
}

func TestFromContext(t *testing.T) {
	tests := []struct {
		name       string
		target     string
		wantLimit  int
		wantOffset int
	}{
		{"defaults", "/", DefaultLimit, 0},
		{"custom", "/?limit=50&offset=10", 50, 10},
		{"max limit", "/?limit=500", MaxLimit, 0},
		{"negative offset", "/?offset=-5", DefaultLimit, 0},
		{"garbage", "/?limit=abc&offset=xyz", DefaultLimit, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := paramsFor(t, tt.target)
			if p.Limit != tt.wantLimit {
				t.Errorf("expected limit %d, got %d", tt.wantLimit, p.Limit)
			}
			if p.Offset != tt.wantOffset {
				t.Errorf("expected offset %d, got %d", tt.wantOffset, p.Offset)
			}
		})
	}
}

func TestSQL(t *testing.T) {
	p := Params{Limit: 20, Offset: 40}
	expected := "LIMIT 20 OFFSET 40"
	if p.SQL() != expected {
		t.Errorf("expected %q, got %q", expected, p.SQL())
	}
}

func TestNewResponse(t *testing.T) {
	data := []string{"a", "b", "c"}
	r := NewResponse(data, 10, 3, 0)

	if r.Total != 10 {
		t.Errorf("expected total 10, got %d", r.Total)
	}
	if !r.HasMore {
		t.Error("expected has_more to be true when offset+limit < total")
	}
	if r.NextOffset == nil || *r.NextOffset != 3 {
		t.Errorf("expected next offset 3, got %v", r.NextOffset)
	}

	r2 := NewResponse(data, 3, 3, 0)
	if r2.HasMore || r2.NextOffset != nil {
		t.Error("expected no further page when offset+limit >= total")
	}
}

func TestParams_HasNext(t *testing.T) {
	tests := []struct {
		name   string
		params Params
		total  int
		want   bool
	}{
		{"more results", Params{Limit: 10, Offset: 0}, 25, true},
		{"exact end", Params{Limit: 10, Offset: 15}, 25, false},
		{"past end", Params{Limit: 10, Offset: 30}, 25, false},
		{"no results", Params{Limit: 10, Offset: 0}, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.params.HasNext(tt.total); got != tt.want {
				t.Errorf("HasNext() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSlice(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}
	tests := []struct {
		name          string
		limit, offset int
		want          int
	}{
		{"first page", 2, 0, 2},
		{"last partial page", 2, 4, 1},
		{"past end", 2, 9, 0},
		{"no limit", 0, 1, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Slice(items, tt.limit, tt.offset); len(got) != tt.want {
				t.Errorf("expected %d items, got %d", tt.want, len(got))
			}
		})
	}
}
