package db

import (
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestIsNotFound(t *testing.T) {
	if !IsNotFound(ErrNotFound) {
		t.Error("expected ErrNotFound to match")
	}
	if !IsNotFound(fmt.Errorf("get bed: %w", pgx.ErrNoRows)) {
		t.Error("expected wrapped pgx.ErrNoRows to match")
	}
	if IsNotFound(fmt.Errorf("boom")) {
		t.Error("plain error should not match")
	}
}

func TestIsUniqueViolation(t *testing.T) {
	err := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505", ConstraintName: "bed_ward_number_key"})
	if !IsUniqueViolation(err, "") {
		t.Error("expected any-constraint match")
	}
	if !IsUniqueViolation(err, "bed_ward_number_key") {
		t.Error("expected named constraint match")
	}
	if IsUniqueViolation(err, "other") {
		t.Error("expected mismatch on other constraint")
	}
	if IsUniqueViolation(&pgconn.PgError{Code: "23503"}, "") {
		t.Error("foreign key violation is not a unique violation")
	}
}

func TestIsUniqueViolation_Portable(t *testing.T) {
	err := fmt.Errorf("create bill: %w", &UniqueViolation{Constraint: "bill_admission_key"})
	if !IsUniqueViolation(err, "") || !IsUniqueViolation(err, "bill_admission_key") {
		t.Error("expected portable violation to match")
	}
	if IsUniqueViolation(err, "bed_ward_number_key") {
		t.Error("expected mismatch on other constraint")
	}
}
