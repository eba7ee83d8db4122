package nursing

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

type vitalsRepoPG struct{ pool *pgxpool.Pool }

func NewVitalsRepoPG(pool *pgxpool.Pool) VitalsRepository {
	return &vitalsRepoPG{pool: pool}
}

func (r *vitalsRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const vitalCols = `id, patient_id, admission_id, nurse_id, recorded_at, temperature_c, pulse,
	respiratory_rate, systolic, diastolic, spo2, notes`

func (r *vitalsRepoPG) Create(ctx context.Context, v *VitalSign) error {
	v.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO vital_sign (`+vitalCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		v.ID, v.PatientID, v.AdmissionID, v.NurseID, v.RecordedAt, v.TemperatureC, v.Pulse,
		v.RespiratoryRate, v.Systolic, v.Diastolic, v.SpO2, v.Notes)
	return err
}

func (r *vitalsRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*VitalSign, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM vital_sign WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+vitalCols+` FROM vital_sign
		WHERE patient_id = $1
		ORDER BY recorded_at DESC
		LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*VitalSign
	for rows.Next() {
		var v VitalSign
		if err := rows.Scan(&v.ID, &v.PatientID, &v.AdmissionID, &v.NurseID, &v.RecordedAt, &v.TemperatureC, &v.Pulse,
			&v.RespiratoryRate, &v.Systolic, &v.Diastolic, &v.SpO2, &v.Notes); err != nil {
			return nil, 0, err
		}
		items = append(items, &v)
	}
	return items, total, rows.Err()
}

func (r *vitalsRepoPG) CountInWindow(ctx context.Context, patientID uuid.UUID, from, to time.Time) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FROM vital_sign
		WHERE patient_id = $1 AND recorded_at BETWEEN $2 AND $3`, patientID, from, to).Scan(&n)
	return n, err
}
