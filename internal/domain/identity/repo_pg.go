package identity

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

// -- Patient --

type patientRepoPG struct{ pool *pgxpool.Pool }

func NewPatientRepoPG(pool *pgxpool.Pool) PatientRepository {
	return &patientRepoPG{pool: pool}
}

const patientCols = `id, mrn, first_name, last_name, birth_date, gender, serious_case, created_at`

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.MRN, &p.FirstName, &p.LastName, &p.BirthDate, &p.Gender, &p.SeriousCase, &p.CreatedAt)
	return &p, err
}

func (r *patientRepoPG) Create(ctx context.Context, p *Patient) error {
	p.ID = uuid.New()
	return connFor(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO patient (id, mrn, first_name, last_name, birth_date, gender, serious_case)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at`,
		p.ID, p.MRN, p.FirstName, p.LastName, p.BirthDate, p.Gender, p.SeriousCase).Scan(&p.CreatedAt)
}

func (r *patientRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return scanPatient(connFor(ctx, r.pool).QueryRow(ctx, `SELECT `+patientCols+` FROM patient WHERE id = $1`, id))
}

func (r *patientRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return scanPatient(connFor(ctx, r.pool).QueryRow(ctx, `SELECT `+patientCols+` FROM patient WHERE id = $1 FOR UPDATE`, id))
}

func (r *patientRepoPG) List(ctx context.Context, limit, offset int) ([]*Patient, int, error) {
	q := connFor(ctx, r.pool)
	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM patient`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := q.Query(ctx, `SELECT `+patientCols+` FROM patient ORDER BY last_name, first_name LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}

// -- Staff --

type staffRepoPG struct{ pool *pgxpool.Pool }

func NewStaffRepoPG(pool *pgxpool.Pool) StaffRepository {
	return &staffRepoPG{pool: pool}
}

const staffCols = `id, name, role, specialization, active, created_at`

func scanStaff(row pgx.Row) (*Staff, error) {
	var s Staff
	err := row.Scan(&s.ID, &s.Name, &s.Role, &s.Specialization, &s.Active, &s.CreatedAt)
	return &s, err
}

func (r *staffRepoPG) Create(ctx context.Context, s *Staff) error {
	s.ID = uuid.New()
	return connFor(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO staff (id, name, role, specialization, active)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`,
		s.ID, s.Name, s.Role, s.Specialization, s.Active).Scan(&s.CreatedAt)
}

func (r *staffRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Staff, error) {
	return scanStaff(connFor(ctx, r.pool).QueryRow(ctx, `SELECT `+staffCols+` FROM staff WHERE id = $1`, id))
}

func (r *staffRepoPG) ListByRole(ctx context.Context, role string, limit, offset int) ([]*Staff, int, error) {
	q := connFor(ctx, r.pool)
	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM staff WHERE ($1 = '' OR role = $1)`, role).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := q.Query(ctx, `SELECT `+staffCols+` FROM staff WHERE ($1 = '' OR role = $1) ORDER BY name LIMIT $2 OFFSET $3`, role, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Staff
	for rows.Next() {
		s, err := scanStaff(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, s)
	}
	return items, total, rows.Err()
}

// -- NurseAssignment --

type assignmentRepoPG struct{ pool *pgxpool.Pool }

func NewAssignmentRepoPG(pool *pgxpool.Pool) AssignmentRepository {
	return &assignmentRepoPG{pool: pool}
}

const assignmentCols = `id, nurse_id, ward_id, shift, active, started_at, ended_at`

func scanAssignment(row pgx.Row) (*NurseAssignment, error) {
	var a NurseAssignment
	err := row.Scan(&a.ID, &a.NurseID, &a.WardID, &a.Shift, &a.Active, &a.StartedAt, &a.EndedAt)
	return &a, err
}

func (r *assignmentRepoPG) Create(ctx context.Context, a *NurseAssignment) error {
	a.ID = uuid.New()
	_, err := connFor(ctx, r.pool).Exec(ctx, `
		INSERT INTO nurse_assignment (id, nurse_id, ward_id, shift, active, started_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		a.ID, a.NurseID, a.WardID, a.Shift, a.Active, a.StartedAt)
	return err
}

func (r *assignmentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*NurseAssignment, error) {
	return scanAssignment(connFor(ctx, r.pool).QueryRow(ctx, `SELECT `+assignmentCols+` FROM nurse_assignment WHERE id = $1 FOR UPDATE`, id))
}

func (r *assignmentRepoPG) FindActive(ctx context.Context, nurseID, wardID uuid.UUID) (*NurseAssignment, error) {
	return scanAssignment(connFor(ctx, r.pool).QueryRow(ctx, `
		SELECT `+assignmentCols+` FROM nurse_assignment
		WHERE nurse_id = $1 AND ward_id = $2 AND active
		LIMIT 1`, nurseID, wardID))
}

func (r *assignmentRepoPG) End(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := connFor(ctx, r.pool).Exec(ctx,
		`UPDATE nurse_assignment SET active = FALSE, ended_at = $2 WHERE id = $1 AND active`, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return db.ErrNotFound
	}
	return nil
}

func (r *assignmentRepoPG) ListActiveByWard(ctx context.Context, wardID uuid.UUID) ([]*NurseAssignment, error) {
	rows, err := connFor(ctx, r.pool).Query(ctx, `
		SELECT `+assignmentCols+` FROM nurse_assignment
		WHERE ward_id = $1 AND active ORDER BY started_at`, wardID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*NurseAssignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}
