package db

import (
	"context"
	"fmt"
	"io/fs"
	"net/http"
	"regexp"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	HospitalIDKey contextKey = "hospital_id"
	DBConnKey     contextKey = "db_conn"
	DBTxKey       contextKey = "db_tx"
)

// HospitalHeader selects the hospital schema a request operates on.
const HospitalHeader = "X-Hospital-ID"

var hospitalIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// SchemaName returns the Postgres schema holding a hospital's tables.
func SchemaName(hospitalID string) string {
	return "hospital_" + hospitalID
}

// HospitalMiddleware pins a pooled connection to the request and points its
// search_path at the caller's hospital schema. Repositories pick the
// connection up through ConnFromContext.
func HospitalMiddleware(pool *pgxpool.Pool, defaultHospital string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			hospitalID := extractHospitalID(c, defaultHospital)

			if !hospitalIDPattern.MatchString(hospitalID) {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid hospital identifier")
			}

			ctx := c.Request().Context()
			conn, err := pool.Acquire(ctx)
			if err != nil {
				return echo.NewHTTPError(http.StatusServiceUnavailable, "database unavailable")
			}
			defer conn.Release()

			_, err = conn.Exec(ctx, fmt.Sprintf("SET search_path TO %s, public", SchemaName(hospitalID)))
			if err != nil {
				return echo.NewHTTPError(http.StatusInternalServerError, "hospital resolution failed")
			}

			ctx = context.WithValue(ctx, HospitalIDKey, hospitalID)
			ctx = context.WithValue(ctx, DBConnKey, conn)
			c.SetRequest(c.Request().WithContext(ctx))
			c.Set("hospital_id", hospitalID)

			return next(c)
		}
	}
}

// StaticHospitalMiddleware stamps the hospital id without touching a
// database. Used when the engine runs on an embedded store.
func StaticHospitalMiddleware(defaultHospital string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			hospitalID := extractHospitalID(c, defaultHospital)
			if !hospitalIDPattern.MatchString(hospitalID) {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid hospital identifier")
			}
			ctx := context.WithValue(c.Request().Context(), HospitalIDKey, hospitalID)
			c.SetRequest(c.Request().WithContext(ctx))
			c.Set("hospital_id", hospitalID)
			return next(c)
		}
	}
}

func extractHospitalID(c echo.Context, defaultHospital string) string {
	// 1. Check JWT claim (set by auth middleware)
	if hid, ok := c.Get("jwt_hospital_id").(string); ok && hid != "" {
		return hid
	}

	// 2. Check X-Hospital-ID header
	if hid := c.Request().Header.Get(HospitalHeader); hid != "" {
		return hid
	}

	// 3. Check query parameter
	if hid := c.QueryParam("hospital_id"); hid != "" {
		return hid
	}

	return defaultHospital
}

// ConnFromContext retrieves the hospital-scoped database connection from context.
func ConnFromContext(ctx context.Context) *pgxpool.Conn {
	conn, _ := ctx.Value(DBConnKey).(*pgxpool.Conn)
	return conn
}

// HospitalFromContext retrieves the hospital ID from context.
func HospitalFromContext(ctx context.Context) string {
	hid, _ := ctx.Value(HospitalIDKey).(string)
	return hid
}

// WithConn returns a context carrying conn, for callers outside the HTTP
// middleware such as the CLI and the outbox relay.
func WithConn(ctx context.Context, conn *pgxpool.Conn, hospitalID string) context.Context {
	ctx = context.WithValue(ctx, HospitalIDKey, hospitalID)
	return context.WithValue(ctx, DBConnKey, conn)
}

// AcquireHospital acquires a pooled connection with its search_path set to the
// hospital's schema. The caller releases it.
func AcquireHospital(ctx context.Context, pool *pgxpool.Pool, hospitalID string) (*pgxpool.Conn, error) {
	if !hospitalIDPattern.MatchString(hospitalID) {
		return nil, fmt.Errorf("invalid hospital identifier: %s", hospitalID)
	}
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	if _, err := conn.Exec(ctx, fmt.Sprintf("SET search_path TO %s, public", SchemaName(hospitalID))); err != nil {
		conn.Release()
		return nil, fmt.Errorf("set search_path: %w", err)
	}
	return conn, nil
}

// CreateHospitalSchema creates a hospital's schema and applies the migrations
// in fsys to it. A nil fsys skips migrations.
func CreateHospitalSchema(ctx context.Context, pool *pgxpool.Pool, hospitalID string, fsys fs.FS) error {
	if !hospitalIDPattern.MatchString(hospitalID) {
		return fmt.Errorf("invalid hospital identifier: %s", hospitalID)
	}

	schema := SchemaName(hospitalID)

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", schema))
	if err != nil {
		return fmt.Errorf("create schema %s: %w", schema, err)
	}

	if fsys != nil {
		migrator := NewMigratorFS(pool, fsys)
		if _, err := migrator.Up(ctx, schema); err != nil {
			return fmt.Errorf("run migrations for %s: %w", schema, err)
		}
	}

	return nil
}
