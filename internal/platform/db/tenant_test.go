package db

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestExtractHospitalID(t *testing.T) {
	tests := []struct {
		name   string
		url    string
		header string
		jwt    string
		want   string
	}{
		{"header", "/", "st_marys", "", "st_marys"},
		{"query", "/?hospital_id=clinic_xyz", "", "", "clinic_xyz"},
		{"jwt", "/", "", "jwt_hospital", "jwt_hospital"},
		{"default", "/", "", "", "default"},
		{"jwt beats header and query", "/?hospital_id=query", "header", "jwt", "jwt"},
		{"header beats query", "/?hospital_id=query", "header", "", "header"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, tt.url, nil)
			if tt.header != "" {
				req.Header.Set(HospitalHeader, tt.header)
			}
			c := e.NewContext(req, httptest.NewRecorder())
			c.Set("jwt_hospital_id", tt.jwt)

			if got := extractHospitalID(c, "default"); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestHospitalIDPattern(t *testing.T) {
	tests := []struct {
		input string
		valid bool
	}{
		{"abc", true},
		{"hospital_1", true},
		{"A1B2C3", true},
		{"a-b", false},
		{"a.b", false},
		{"a b", false},
		{"'; DROP TABLE", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := hospitalIDPattern.MatchString(tt.input); got != tt.valid {
			t.Errorf("hospitalIDPattern.MatchString(%q) = %v, want %v", tt.input, got, tt.valid)
		}
	}
}

func TestSchemaName(t *testing.T) {
	if got := SchemaName("general"); got != "hospital_general" {
		t.Errorf("expected hospital_general, got %s", got)
	}
}

func TestStaticHospitalMiddleware(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HospitalHeader, "north")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	var seen string
	h := StaticHospitalMiddleware("default")(func(c echo.Context) error {
		seen = HospitalFromContext(c.Request().Context())
		return c.NoContent(http.StatusOK)
	})
	if err := h(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seen != "north" {
		t.Errorf("expected north, got %q", seen)
	}
}

func TestStaticHospitalMiddleware_RejectsInvalidID(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HospitalHeader, "bad-id")
	c := e.NewContext(req, httptest.NewRecorder())

	err := StaticHospitalMiddleware("default")(func(c echo.Context) error { return nil })(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Errorf("expected 400 HTTPError, got %v", err)
	}
}

func TestContextAccessors_Empty(t *testing.T) {
	ctx := context.Background()
	if ConnFromContext(ctx) != nil {
		t.Error("expected nil conn from empty context")
	}
	if TxFromContext(ctx) != nil {
		t.Error("expected nil tx from empty context")
	}
	if HospitalFromContext(ctx) != "" {
		t.Error("expected empty hospital from empty context")
	}
}

func TestContextAccessors_WrongType(t *testing.T) {
	ctx := context.WithValue(context.Background(), DBConnKey, "not-a-conn")
	ctx = context.WithValue(ctx, DBTxKey, "not-a-tx")
	ctx = context.WithValue(ctx, HospitalIDKey, 12345)
	if ConnFromContext(ctx) != nil {
		t.Error("expected nil conn for wrong type")
	}
	if TxFromContext(ctx) != nil {
		t.Error("expected nil tx for wrong type")
	}
	if HospitalFromContext(ctx) != "" {
		t.Error("expected empty hospital for wrong type")
	}
}

func TestWithTx_NoConnection(t *testing.T) {
	_, _, err := WithTx(context.Background())
	if err == nil {
		t.Fatal("expected error when no connection in context")
	}
	if err.Error() != "no database connection in context" {
		t.Errorf("unexpected error message: %s", err.Error())
	}
}

func TestCreateHospitalSchema_InvalidIDs(t *testing.T) {
	for _, id := range []string{"with-dash", "with.dot", "sp ace", "drop;table"} {
		if err := CreateHospitalSchema(context.Background(), nil, id, nil); err == nil {
			t.Errorf("expected error for invalid hospital ID %q", id)
		}
	}
}

func TestAcquireHospital_InvalidID(t *testing.T) {
	if _, err := AcquireHospital(context.Background(), nil, "x;y"); err == nil {
		t.Error("expected error for invalid hospital ID")
	}
}
