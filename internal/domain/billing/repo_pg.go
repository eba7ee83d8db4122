package billing

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

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

type billRepoPG struct{ pool *pgxpool.Pool }

func NewBillRepoPG(pool *pgxpool.Pool) BillRepository {
	return &billRepoPG{pool: pool}
}

const billCols = `id, admission_id, patient_id, subtotal, tax, discount_pct, discount, total, paid_amount,
	status, payment_method, generated_by, created_at`

func scanBill(row pgx.Row) (*Bill, error) {
	var b Bill
	err := row.Scan(&b.ID, &b.AdmissionID, &b.PatientID, &b.Subtotal, &b.Tax, &b.DiscountPct, &b.Discount,
		&b.Total, &b.PaidAmount, &b.Status, &b.PaymentMethod, &b.GeneratedBy, &b.CreatedAt)
	return &b, err
}

func (r *billRepoPG) Create(ctx context.Context, b *Bill) error {
	b.ID = uuid.New()
	return connFor(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO bill (id, admission_id, patient_id, subtotal, tax, discount_pct, discount, total,
			paid_amount, status, payment_method, generated_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at`,
		b.ID, b.AdmissionID, b.PatientID, b.Subtotal, b.Tax, b.DiscountPct, b.Discount, b.Total,
		b.PaidAmount, b.Status, b.PaymentMethod, b.GeneratedBy,
	).Scan(&b.CreatedAt)
}

func (r *billRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Bill, error) {
	return scanBill(connFor(ctx, r.pool).QueryRow(ctx, `SELECT `+billCols+` FROM bill WHERE id = $1`, id))
}

func (r *billRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Bill, error) {
	return scanBill(connFor(ctx, r.pool).QueryRow(ctx, `SELECT `+billCols+` FROM bill WHERE id = $1 FOR UPDATE`, id))
}

func (r *billRepoPG) GetByAdmission(ctx context.Context, admissionID uuid.UUID) (*Bill, error) {
	return scanBill(connFor(ctx, r.pool).QueryRow(ctx, `SELECT `+billCols+` FROM bill WHERE admission_id = $1`, admissionID))
}

func (r *billRepoPG) UpdatePayment(ctx context.Context, id uuid.UUID, paid decimal.Decimal, status string) error {
	tag, err := connFor(ctx, r.pool).Exec(ctx, `
		UPDATE bill SET paid_amount = $2, status = $3
		WHERE id = $1 AND $2 <= total`, id, paid, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return db.ErrNotFound
	}
	return nil
}

func (r *billRepoPG) CreateItem(ctx context.Context, item *BillItem) error {
	item.ID = uuid.New()
	_, err := connFor(ctx, r.pool).Exec(ctx, `
		INSERT INTO bill_item (id, bill_id, category, description, quantity, unit_price, amount)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		item.ID, item.BillID, item.Category, item.Description, item.Quantity, item.UnitPrice, item.Amount)
	return err
}

func (r *billRepoPG) ListItems(ctx context.Context, billID uuid.UUID) ([]*BillItem, error) {
	rows, err := connFor(ctx, r.pool).Query(ctx, `
		SELECT id, bill_id, category, description, quantity, unit_price, amount
		FROM bill_item WHERE bill_id = $1
		ORDER BY CASE category
			WHEN 'room' THEN 0 WHEN 'consultation' THEN 1 WHEN 'lab' THEN 2
			WHEN 'medicine' THEN 3 WHEN 'nursing' THEN 4 ELSE 5 END`, billID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*BillItem
	for rows.Next() {
		var i BillItem
		if err := rows.Scan(&i.ID, &i.BillID, &i.Category, &i.Description, &i.Quantity, &i.UnitPrice, &i.Amount); err != nil {
			return nil, err
		}
		items = append(items, &i)
	}
	return items, rows.Err()
}

func (r *billRepoPG) CreatePayment(ctx context.Context, p *Payment) error {
	p.ID = uuid.New()
	return connFor(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO payment (id, bill_id, amount, method, reference, received_by)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`,
		p.ID, p.BillID, p.Amount, p.Method, p.Reference, p.ReceivedBy,
	).Scan(&p.CreatedAt)
}

func (r *billRepoPG) ListPayments(ctx context.Context, billID uuid.UUID) ([]*Payment, error) {
	rows, err := connFor(ctx, r.pool).Query(ctx, `
		SELECT id, bill_id, amount, method, reference, received_by, created_at
		FROM payment WHERE bill_id = $1
		ORDER BY created_at`, billID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Payment
	for rows.Next() {
		var p Payment
		if err := rows.Scan(&p.ID, &p.BillID, &p.Amount, &p.Method, &p.Reference, &p.ReceivedBy, &p.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, &p)
	}
	return items, rows.Err()
}
