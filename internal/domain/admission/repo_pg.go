package admission

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/careflow/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

func connFor(ctx context.Context, pool *pgxpool.Pool) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return pool
}

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

const cols = `id, patient_id, ward_id, bed_id, doctor_id, admitted_by, reason, admission_date,
	expected_discharge, discharge_date, discharge_summary`

func scan(row pgx.Row) (*Admission, error) {
	var a Admission
	err := row.Scan(&a.ID, &a.PatientID, &a.WardID, &a.BedID, &a.DoctorID, &a.AdmittedBy, &a.Reason,
		&a.AdmissionDate, &a.ExpectedDischarge, &a.DischargeDate, &a.DischargeSummary)
	return &a, err
}

func (r *repoPG) list(ctx context.Context, sql string, args ...interface{}) ([]*Admission, error) {
	rows, err := connFor(ctx, r.pool).Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Admission
	for rows.Next() {
		a, err := scan(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

func (r *repoPG) Create(ctx context.Context, a *Admission) error {
	a.ID = uuid.New()
	if a.AdmissionDate.IsZero() {
		a.AdmissionDate = time.Now().UTC()
	}
	_, err := connFor(ctx, r.pool).Exec(ctx, `
		INSERT INTO admission (id, patient_id, ward_id, bed_id, doctor_id, admitted_by, reason,
			admission_date, expected_discharge)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		a.ID, a.PatientID, a.WardID, a.BedID, a.DoctorID, a.AdmittedBy, a.Reason,
		a.AdmissionDate, a.ExpectedDischarge)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Admission, error) {
	return scan(connFor(ctx, r.pool).QueryRow(ctx, `SELECT `+cols+` FROM admission WHERE id = $1`, id))
}

func (r *repoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Admission, error) {
	return scan(connFor(ctx, r.pool).QueryRow(ctx, `SELECT `+cols+` FROM admission WHERE id = $1 FOR UPDATE`, id))
}

func (r *repoPG) FindOpenByPatient(ctx context.Context, patientID uuid.UUID) (*Admission, error) {
	return scan(connFor(ctx, r.pool).QueryRow(ctx, `
		SELECT `+cols+` FROM admission
		WHERE patient_id = $1 AND discharge_date IS NULL
		FOR UPDATE`, patientID))
}

func (r *repoPG) MoveBed(ctx context.Context, id, wardID, bedID uuid.UUID) error {
	tag, err := connFor(ctx, r.pool).Exec(ctx, `
		UPDATE admission SET ward_id = $2, bed_id = $3
		WHERE id = $1 AND discharge_date IS NULL`, id, wardID, bedID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return db.ErrNotFound
	}
	return nil
}

func (r *repoPG) Discharge(ctx context.Context, id uuid.UUID, at time.Time, summary *string) error {
	tag, err := connFor(ctx, r.pool).Exec(ctx, `
		UPDATE admission SET discharge_date = $2, discharge_summary = $3
		WHERE id = $1 AND discharge_date IS NULL`, id, at, summary)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return db.ErrNotFound
	}
	return nil
}

func (r *repoPG) ListOpenByWard(ctx context.Context, wardID uuid.UUID) ([]*Admission, error) {
	return r.list(ctx, `
		SELECT `+cols+` FROM admission
		WHERE ward_id = $1 AND discharge_date IS NULL
		ORDER BY admission_date`, wardID)
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Admission, error) {
	return r.list(ctx, `
		SELECT `+cols+` FROM admission
		WHERE patient_id = $1
		ORDER BY admission_date DESC`, patientID)
}
