package ward

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

// -- Ward --

type wardRepoPG struct{ pool *pgxpool.Pool }

func NewWardRepoPG(pool *pgxpool.Pool) WardRepository {
	return &wardRepoPG{pool: pool}
}

const wardCols = `id, name, category, bed_capacity, daily_rate, created_at`

func scanWard(row pgx.Row) (*Ward, error) {
	var w Ward
	err := row.Scan(&w.ID, &w.Name, &w.Category, &w.BedCapacity, &w.DailyRate, &w.CreatedAt)
	return &w, err
}

func (r *wardRepoPG) Create(ctx context.Context, w *Ward) error {
	w.ID = uuid.New()
	return connFor(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO ward (id, name, category, bed_capacity, daily_rate)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`,
		w.ID, w.Name, w.Category, w.BedCapacity, w.DailyRate).Scan(&w.CreatedAt)
}

func (r *wardRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Ward, error) {
	return scanWard(connFor(ctx, r.pool).QueryRow(ctx, `SELECT `+wardCols+` FROM ward WHERE id = $1`, id))
}

func (r *wardRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Ward, error) {
	return scanWard(connFor(ctx, r.pool).QueryRow(ctx, `SELECT `+wardCols+` FROM ward WHERE id = $1 FOR UPDATE`, id))
}

func (r *wardRepoPG) List(ctx context.Context, limit, offset int) ([]*Ward, int, error) {
	q := connFor(ctx, r.pool)
	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM ward`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := q.Query(ctx, `SELECT `+wardCols+` FROM ward ORDER BY name LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Ward
	for rows.Next() {
		w, err := scanWard(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, w)
	}
	return items, total, rows.Err()
}

// -- Bed --

type bedRepoPG struct{ pool *pgxpool.Pool }

func NewBedRepoPG(pool *pgxpool.Pool) BedRepository {
	return &bedRepoPG{pool: pool}
}

const bedCols = `id, ward_id, bed_number, status, current_patient_id, updated_at`

func scanBed(row pgx.Row) (*Bed, error) {
	var b Bed
	err := row.Scan(&b.ID, &b.WardID, &b.BedNumber, &b.Status, &b.CurrentPatientID, &b.UpdatedAt)
	return &b, err
}

func (r *bedRepoPG) Create(ctx context.Context, b *Bed) error {
	b.ID = uuid.New()
	return connFor(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO bed (id, ward_id, bed_number, status)
		VALUES ($1, $2, $3, $4)
		RETURNING updated_at`,
		b.ID, b.WardID, b.BedNumber, b.Status).Scan(&b.UpdatedAt)
}

func (r *bedRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Bed, error) {
	return scanBed(connFor(ctx, r.pool).QueryRow(ctx, `SELECT `+bedCols+` FROM bed WHERE id = $1`, id))
}

func (r *bedRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Bed, error) {
	return scanBed(connFor(ctx, r.pool).QueryRow(ctx, `SELECT `+bedCols+` FROM bed WHERE id = $1 FOR UPDATE`, id))
}

func (r *bedRepoPG) ListByWard(ctx context.Context, wardID uuid.UUID) ([]*Bed, error) {
	rows, err := connFor(ctx, r.pool).Query(ctx, `SELECT `+bedCols+` FROM bed WHERE ward_id = $1 ORDER BY bed_number`, wardID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Bed
	for rows.Next() {
		b, err := scanBed(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, b)
	}
	return items, rows.Err()
}

func (r *bedRepoPG) CountByWard(ctx context.Context, wardID uuid.UUID) (int, error) {
	var n int
	err := connFor(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*) FROM bed WHERE ward_id = $1`, wardID).Scan(&n)
	return n, err
}

func (r *bedRepoPG) NumberExists(ctx context.Context, wardID uuid.UUID, number string) (bool, error) {
	var exists bool
	err := connFor(ctx, r.pool).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM bed WHERE ward_id = $1 AND bed_number = $2)`, wardID, number).Scan(&exists)
	return exists, err
}

func (r *bedRepoPG) NumbersWithPrefix(ctx context.Context, wardID uuid.UUID, prefix string) ([]string, error) {
	rows, err := connFor(ctx, r.pool).Query(ctx,
		`SELECT bed_number FROM bed WHERE ward_id = $1 AND starts_with(bed_number, $2)`, wardID, prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (r *bedRepoPG) UpdateStatus(ctx context.Context, id uuid.UUID, status string) error {
	tag, err := connFor(ctx, r.pool).Exec(ctx,
		`UPDATE bed SET status = $2, updated_at = $3 WHERE id = $1`, id, status, time.Now().UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return db.ErrNotFound
	}
	return nil
}

func (r *bedRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := connFor(ctx, r.pool).Exec(ctx, `DELETE FROM bed WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return db.ErrNotFound
	}
	return nil
}

func (r *bedRepoPG) Occupy(ctx context.Context, id, patientID uuid.UUID) error {
	tag, err := connFor(ctx, r.pool).Exec(ctx, `
		UPDATE bed SET status = 'occupied', current_patient_id = $2, updated_at = $3
		WHERE id = $1 AND status = 'available' AND current_patient_id IS NULL`,
		id, patientID, time.Now().UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrBedUnavailable
	}
	return nil
}

func (r *bedRepoPG) Release(ctx context.Context, id uuid.UUID) error {
	tag, err := connFor(ctx, r.pool).Exec(ctx, `
		UPDATE bed SET status = 'available', current_patient_id = NULL, updated_at = $2
		WHERE id = $1`, id, time.Now().UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return db.ErrNotFound
	}
	return nil
}
