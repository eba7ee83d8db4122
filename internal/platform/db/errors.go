package db

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNotFound is returned by repositories when a row does not exist.
var ErrNotFound = errors.New("record not found")

// IsNotFound reports whether err means the row is absent, from any backend.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, pgx.ErrNoRows)
}

// UniqueViolation is the non-Postgres form of a unique constraint failure.
type UniqueViolation struct {
	Constraint string
}

func (e *UniqueViolation) Error() string {
	return "unique constraint violated: " + e.Constraint
}

// IsUniqueViolation reports whether err is a unique constraint violation,
// optionally on the named constraint.
func IsUniqueViolation(err error, constraint string) bool {
	var uv *UniqueViolation
	if errors.As(err, &uv) {
		return constraint == "" || uv.Constraint == constraint
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}
