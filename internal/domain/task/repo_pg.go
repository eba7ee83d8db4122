package task

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

func updated(tag pgconn.CommandTag, err error) error {
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return db.ErrNotFound
	}
	return nil
}

// -- NurseTask --

type nurseTaskRepoPG struct{ pool *pgxpool.Pool }

func NewNurseTaskRepoPG(pool *pgxpool.Pool) NurseTaskRepository {
	return &nurseTaskRepoPG{pool: pool}
}

const nurseTaskCols = `id, record_id, patient_id, doctor_id, priority, status, assigned_nurse_id, notes,
	created_at, claimed_at, completed_at`

func scanNurseTask(row pgx.Row) (*NurseTask, error) {
	var t NurseTask
	err := row.Scan(&t.ID, &t.RecordID, &t.PatientID, &t.DoctorID, &t.Priority, &t.Status,
		&t.AssignedNurseID, &t.Notes, &t.CreatedAt, &t.ClaimedAt, &t.CompletedAt)
	return &t, err
}

func collectNurseTasks(rows pgx.Rows) ([]*NurseTask, error) {
	defer rows.Close()
	var items []*NurseTask
	for rows.Next() {
		t, err := scanNurseTask(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, t)
	}
	return items, rows.Err()
}

func (r *nurseTaskRepoPG) Create(ctx context.Context, t *NurseTask) error {
	t.ID = uuid.New()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	_, err := connFor(ctx, r.pool).Exec(ctx, `
		INSERT INTO nurse_task (`+nurseTaskCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		t.ID, t.RecordID, t.PatientID, t.DoctorID, t.Priority, t.Status, t.AssignedNurseID, t.Notes,
		t.CreatedAt, t.ClaimedAt, t.CompletedAt)
	return err
}

func (r *nurseTaskRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*NurseTask, error) {
	return scanNurseTask(connFor(ctx, r.pool).QueryRow(ctx, `SELECT `+nurseTaskCols+` FROM nurse_task WHERE id = $1`, id))
}

func (r *nurseTaskRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*NurseTask, error) {
	return scanNurseTask(connFor(ctx, r.pool).QueryRow(ctx, `SELECT `+nurseTaskCols+` FROM nurse_task WHERE id = $1 FOR UPDATE`, id))
}

func (r *nurseTaskRepoPG) Update(ctx context.Context, t *NurseTask) error {
	return updated(connFor(ctx, r.pool).Exec(ctx, `
		UPDATE nurse_task SET status = $2, assigned_nurse_id = $3, notes = $4, claimed_at = $5, completed_at = $6
		WHERE id = $1`,
		t.ID, t.Status, t.AssignedNurseID, t.Notes, t.ClaimedAt, t.CompletedAt))
}

func (r *nurseTaskRepoPG) ListPending(ctx context.Context, limit, offset int) ([]*NurseTask, int, error) {
	q := connFor(ctx, r.pool)
	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM nurse_task WHERE status = 'PENDING'`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := q.Query(ctx, `
		SELECT `+nurseTaskCols+` FROM nurse_task
		WHERE status = 'PENDING'
		ORDER BY CASE priority WHEN 'URGENT' THEN 0 ELSE 1 END, created_at
		LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	items, err := collectNurseTasks(rows)
	return items, total, err
}

func (r *nurseTaskRepoPG) ListByNurse(ctx context.Context, nurseID uuid.UUID) ([]*NurseTask, error) {
	rows, err := connFor(ctx, r.pool).Query(ctx,
		`SELECT `+nurseTaskCols+` FROM nurse_task WHERE assigned_nurse_id = $1 ORDER BY created_at DESC`, nurseID)
	if err != nil {
		return nil, err
	}
	return collectNurseTasks(rows)
}

func (r *nurseTaskRepoPG) ListByRecord(ctx context.Context, recordID uuid.UUID) ([]*NurseTask, error) {
	rows, err := connFor(ctx, r.pool).Query(ctx,
		`SELECT `+nurseTaskCols+` FROM nurse_task WHERE record_id = $1 ORDER BY created_at`, recordID)
	if err != nil {
		return nil, err
	}
	return collectNurseTasks(rows)
}

// -- LabOrder --

type labOrderRepoPG struct{ pool *pgxpool.Pool }

func NewLabOrderRepoPG(pool *pgxpool.Pool) LabOrderRepository {
	return &labOrderRepoPG{pool: pool}
}

const labOrderCols = `id, record_id, patient_id, doctor_id, urgency, status, assigned_technician_id, notes,
	created_at, claimed_at, completed_at`

func scanLabOrder(row pgx.Row) (*LabOrder, error) {
	var o LabOrder
	err := row.Scan(&o.ID, &o.RecordID, &o.PatientID, &o.DoctorID, &o.Urgency, &o.Status,
		&o.AssignedTechnicianID, &o.Notes, &o.CreatedAt, &o.ClaimedAt, &o.CompletedAt)
	return &o, err
}

func collectLabOrders(rows pgx.Rows) ([]*LabOrder, error) {
	defer rows.Close()
	var items []*LabOrder
	for rows.Next() {
		o, err := scanLabOrder(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, o)
	}
	return items, rows.Err()
}

func (r *labOrderRepoPG) Create(ctx context.Context, o *LabOrder) error {
	o.ID = uuid.New()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}
	_, err := connFor(ctx, r.pool).Exec(ctx, `
		INSERT INTO lab_order (`+labOrderCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		o.ID, o.RecordID, o.PatientID, o.DoctorID, o.Urgency, o.Status, o.AssignedTechnicianID, o.Notes,
		o.CreatedAt, o.ClaimedAt, o.CompletedAt)
	return err
}

func (r *labOrderRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*LabOrder, error) {
	return scanLabOrder(connFor(ctx, r.pool).QueryRow(ctx, `SELECT `+labOrderCols+` FROM lab_order WHERE id = $1`, id))
}

func (r *labOrderRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*LabOrder, error) {
	return scanLabOrder(connFor(ctx, r.pool).QueryRow(ctx, `SELECT `+labOrderCols+` FROM lab_order WHERE id = $1 FOR UPDATE`, id))
}

func (r *labOrderRepoPG) Update(ctx context.Context, o *LabOrder) error {
	return updated(connFor(ctx, r.pool).Exec(ctx, `
		UPDATE lab_order SET status = $2, assigned_technician_id = $3, notes = $4, claimed_at = $5, completed_at = $6
		WHERE id = $1`,
		o.ID, o.Status, o.AssignedTechnicianID, o.Notes, o.ClaimedAt, o.CompletedAt))
}

func (r *labOrderRepoPG) ListPending(ctx context.Context, limit, offset int) ([]*LabOrder, int, error) {
	q := connFor(ctx, r.pool)
	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM lab_order WHERE status = 'PENDING'`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := q.Query(ctx, `
		SELECT `+labOrderCols+` FROM lab_order
		WHERE status = 'PENDING'
		ORDER BY CASE urgency WHEN 'STAT' THEN 0 WHEN 'URGENT' THEN 1 ELSE 2 END, created_at
		LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	items, err := collectLabOrders(rows)
	return items, total, err
}

func (r *labOrderRepoPG) ListByRecord(ctx context.Context, recordID uuid.UUID) ([]*LabOrder, error) {
	rows, err := connFor(ctx, r.pool).Query(ctx,
		`SELECT `+labOrderCols+` FROM lab_order WHERE record_id = $1 ORDER BY created_at`, recordID)
	if err != nil {
		return nil, err
	}
	return collectLabOrders(rows)
}

// -- LabOrderTest --

type labTestRepoPG struct{ pool *pgxpool.Pool }

func NewLabTestRepoPG(pool *pgxpool.Pool) LabTestRepository {
	return &labTestRepoPG{pool: pool}
}

const labTestCols = `id, lab_order_id, lab_test_id, status, result, abnormal, completed_at`

func scanLabTest(row pgx.Row) (*LabOrderTest, error) {
	var t LabOrderTest
	err := row.Scan(&t.ID, &t.LabOrderID, &t.LabTestID, &t.Status, &t.Result, &t.Abnormal, &t.CompletedAt)
	return &t, err
}

func (r *labTestRepoPG) Create(ctx context.Context, t *LabOrderTest) error {
	t.ID = uuid.New()
	_, err := connFor(ctx, r.pool).Exec(ctx, `
		INSERT INTO lab_order_test (`+labTestCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		t.ID, t.LabOrderID, t.LabTestID, t.Status, t.Result, t.Abnormal, t.CompletedAt)
	return err
}

func (r *labTestRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*LabOrderTest, error) {
	return scanLabTest(connFor(ctx, r.pool).QueryRow(ctx, `SELECT `+labTestCols+` FROM lab_order_test WHERE id = $1 FOR UPDATE`, id))
}

func (r *labTestRepoPG) Update(ctx context.Context, t *LabOrderTest) error {
	return updated(connFor(ctx, r.pool).Exec(ctx, `
		UPDATE lab_order_test SET status = $2, result = $3, abnormal = $4, completed_at = $5
		WHERE id = $1`,
		t.ID, t.Status, t.Result, t.Abnormal, t.CompletedAt))
}

func (r *labTestRepoPG) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]*LabOrderTest, error) {
	rows, err := connFor(ctx, r.pool).Query(ctx,
		`SELECT `+labTestCols+` FROM lab_order_test WHERE lab_order_id = $1 ORDER BY id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*LabOrderTest
	for rows.Next() {
		t, err := scanLabTest(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, t)
	}
	return items, rows.Err()
}

func (r *labTestRepoPG) CountCompletedForPatient(ctx context.Context, patientID uuid.UUID, from, to time.Time) (int, error) {
	var n int
	err := connFor(ctx, r.pool).QueryRow(ctx, `
		SELECT COUNT(*) FROM lab_order_test t
		JOIN lab_order o ON o.id = t.lab_order_id
		WHERE o.patient_id = $1 AND t.status = 'COMPLETED'
			AND o.created_at BETWEEN $2 AND $3`,
		patientID, from, to).Scan(&n)
	return n, err
}
