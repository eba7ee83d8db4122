package encounter

import (
	"context"
	"encoding/json"
	"fmt"
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

// -- MedicalRecord --

type recordRepoPG struct{ pool *pgxpool.Pool }

func NewRecordRepoPG(pool *pgxpool.Pool) RecordRepository {
	return &recordRepoPG{pool: pool}
}

const recordCols = `id, patient_id, doctor_id, diagnosis, prescription, notes, created_at`

func scanRecord(row pgx.Row) (*MedicalRecord, error) {
	var r MedicalRecord
	var notes []byte
	if err := row.Scan(&r.ID, &r.PatientID, &r.DoctorID, &r.Diagnosis, &r.Prescription, &notes, &r.CreatedAt); err != nil {
		return nil, err
	}
	if len(notes) > 0 {
		if err := json.Unmarshal(notes, &r.Notes); err != nil {
			return nil, fmt.Errorf("decode notes: %w", err)
		}
	}
	r.Notes.NursingNotes = nil
	return &r, nil
}

func (r *recordRepoPG) Create(ctx context.Context, rec *MedicalRecord) error {
	rec.ID = uuid.New()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	doc := rec.Notes
	doc.NursingNotes = nil
	notes, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode notes: %w", err)
	}
	_, err = connFor(ctx, r.pool).Exec(ctx, `
		INSERT INTO medical_record (`+recordCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.ID, rec.PatientID, rec.DoctorID, rec.Diagnosis, rec.Prescription, notes, rec.CreatedAt)
	return err
}

func (r *recordRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*MedicalRecord, error) {
	return scanRecord(connFor(ctx, r.pool).QueryRow(ctx, `SELECT `+recordCols+` FROM medical_record WHERE id = $1`, id))
}

func (r *recordRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*MedicalRecord, int, error) {
	q := connFor(ctx, r.pool)
	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM medical_record WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := q.Query(ctx, `
		SELECT `+recordCols+` FROM medical_record WHERE patient_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*MedicalRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, rec)
	}
	return items, total, rows.Err()
}

func (r *recordRepoPG) CountByPatient(ctx context.Context, patientID uuid.UUID) (int, error) {
	var n int
	err := connFor(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*) FROM medical_record WHERE patient_id = $1`, patientID).Scan(&n)
	return n, err
}

func (r *recordRepoPG) CountInWindow(ctx context.Context, patientID uuid.UUID, from, to time.Time) (int, error) {
	var n int
	err := connFor(ctx, r.pool).QueryRow(ctx, `
		SELECT COUNT(*) FROM medical_record
		WHERE patient_id = $1 AND created_at BETWEEN $2 AND $3`, patientID, from, to).Scan(&n)
	return n, err
}

// -- NursingNote --

type noteRepoPG struct{ pool *pgxpool.Pool }

func NewNoteRepoPG(pool *pgxpool.Pool) NoteRepository {
	return &noteRepoPG{pool: pool}
}

func (r *noteRepoPG) Create(ctx context.Context, n *NursingNote) error {
	n.ID = uuid.New()
	return connFor(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO nursing_note (id, record_id, nurse_id, text)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`,
		n.ID, n.RecordID, n.NurseID, n.Text,
	).Scan(&n.CreatedAt)
}

func (r *noteRepoPG) ListByRecord(ctx context.Context, recordID uuid.UUID) ([]*NursingNote, error) {
	rows, err := connFor(ctx, r.pool).Query(ctx, `
		SELECT id, record_id, nurse_id, text, created_at FROM nursing_note
		WHERE record_id = $1 ORDER BY created_at, id`, recordID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*NursingNote
	for rows.Next() {
		var n NursingNote
		if err := rows.Scan(&n.ID, &n.RecordID, &n.NurseID, &n.Text, &n.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, &n)
	}
	return items, rows.Err()
}

// -- PrescriptionItem --

type prescriptionRepoPG struct{ pool *pgxpool.Pool }

func NewPrescriptionRepoPG(pool *pgxpool.Pool) PrescriptionRepository {
	return &prescriptionRepoPG{pool: pool}
}

const prescriptionCols = `p.id, p.record_id, p.item_id, p.medicine_name, p.dosage, p.frequency, p.duration,
	p.quantity, p.instructions, p.unit_price, p.created_at`

func (r *prescriptionRepoPG) Create(ctx context.Context, p *PrescriptionItem) error {
	p.ID = uuid.New()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	_, err := connFor(ctx, r.pool).Exec(ctx, `
		INSERT INTO prescription_item (id, record_id, item_id, medicine_name, dosage, frequency, duration,
			quantity, instructions, unit_price, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		p.ID, p.RecordID, p.ItemID, p.MedicineName, p.Dosage, p.Frequency, p.Duration,
		p.Quantity, p.Instructions, p.UnitPrice, p.CreatedAt)
	return err
}

func (r *prescriptionRepoPG) collect(rows pgx.Rows, err error) ([]*PrescriptionItem, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*PrescriptionItem
	for rows.Next() {
		var p PrescriptionItem
		if err := rows.Scan(&p.ID, &p.RecordID, &p.ItemID, &p.MedicineName, &p.Dosage, &p.Frequency, &p.Duration,
			&p.Quantity, &p.Instructions, &p.UnitPrice, &p.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, &p)
	}
	return items, rows.Err()
}

func (r *prescriptionRepoPG) ListByRecord(ctx context.Context, recordID uuid.UUID) ([]*PrescriptionItem, error) {
	return r.collect(connFor(ctx, r.pool).Query(ctx, `
		SELECT `+prescriptionCols+` FROM prescription_item p
		WHERE p.record_id = $1 ORDER BY p.created_at, p.id`, recordID))
}

func (r *prescriptionRepoPG) ListForPatient(ctx context.Context, patientID uuid.UUID, from, to time.Time) ([]*PrescriptionItem, error) {
	return r.collect(connFor(ctx, r.pool).Query(ctx, `
		SELECT `+prescriptionCols+` FROM prescription_item p
		JOIN medical_record m ON m.id = p.record_id
		WHERE m.patient_id = $1 AND m.created_at BETWEEN $2 AND $3
		ORDER BY p.created_at, p.id`, patientID, from, to))
}
