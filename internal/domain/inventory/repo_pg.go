package inventory

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

// -- Item --

type itemRepoPG struct{ pool *pgxpool.Pool }

func NewItemRepoPG(pool *pgxpool.Pool) ItemRepository {
	return &itemRepoPG{pool: pool}
}

const itemCols = `id, name, category, unit, quantity_in_stock, reorder_level, unit_price, expiry_date, created_at, updated_at`

func scanItem(row pgx.Row) (*Item, error) {
	var i Item
	err := row.Scan(&i.ID, &i.Name, &i.Category, &i.Unit, &i.QuantityInStock, &i.ReorderLevel,
		&i.UnitPrice, &i.ExpiryDate, &i.CreatedAt, &i.UpdatedAt)
	return &i, err
}

func (r *itemRepoPG) Create(ctx context.Context, i *Item) error {
	i.ID = uuid.New()
	return connFor(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO inventory_item (id, name, category, unit, quantity_in_stock, reorder_level, unit_price, expiry_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at`,
		i.ID, i.Name, i.Category, i.Unit, i.QuantityInStock, i.ReorderLevel, i.UnitPrice, i.ExpiryDate,
	).Scan(&i.CreatedAt, &i.UpdatedAt)
}

func (r *itemRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Item, error) {
	return scanItem(connFor(ctx, r.pool).QueryRow(ctx, `SELECT `+itemCols+` FROM inventory_item WHERE id = $1`, id))
}

func (r *itemRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Item, error) {
	return scanItem(connFor(ctx, r.pool).QueryRow(ctx, `SELECT `+itemCols+` FROM inventory_item WHERE id = $1 FOR UPDATE`, id))
}

func (r *itemRepoPG) SetQuantity(ctx context.Context, id uuid.UUID, before, after int) error {
	tag, err := connFor(ctx, r.pool).Exec(ctx, `
		UPDATE inventory_item SET quantity_in_stock = $3, updated_at = $4
		WHERE id = $1 AND quantity_in_stock = $2 AND $3 >= 0`,
		id, before, after, time.Now().UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return db.ErrNotFound
	}
	return nil
}

func (r *itemRepoPG) List(ctx context.Context, limit, offset int) ([]*Item, int, error) {
	q := connFor(ctx, r.pool)
	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM inventory_item`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := q.Query(ctx, `SELECT `+itemCols+` FROM inventory_item ORDER BY name LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Item
	for rows.Next() {
		i, err := scanItem(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, i)
	}
	return items, total, rows.Err()
}

func (r *itemRepoPG) ListLowStock(ctx context.Context) ([]*Item, error) {
	rows, err := connFor(ctx, r.pool).Query(ctx, `
		SELECT `+itemCols+` FROM inventory_item
		WHERE quantity_in_stock <= reorder_level
		ORDER BY quantity_in_stock, name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Item
	for rows.Next() {
		i, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

// -- Transaction --

type transactionRepoPG struct{ pool *pgxpool.Pool }

func NewTransactionRepoPG(pool *pgxpool.Pool) TransactionRepository {
	return &transactionRepoPG{pool: pool}
}

const txCols = `id, item_id, type, quantity_delta, quantity_before, quantity_after, reason, reference_id, performed_by, created_at`

func (r *transactionRepoPG) Create(ctx context.Context, t *Transaction) error {
	t.ID = uuid.New()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	_, err := connFor(ctx, r.pool).Exec(ctx, `
		INSERT INTO inventory_transaction (`+txCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		t.ID, t.ItemID, t.Type, t.QuantityDelta, t.QuantityBefore, t.QuantityAfter,
		t.Reason, t.ReferenceID, t.PerformedBy, t.CreatedAt)
	return err
}

func (r *transactionRepoPG) ListByItem(ctx context.Context, itemID uuid.UUID) ([]*Transaction, error) {
	rows, err := connFor(ctx, r.pool).Query(ctx,
		`SELECT `+txCols+` FROM inventory_transaction WHERE item_id = $1 ORDER BY created_at, id`, itemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Transaction
	for rows.Next() {
		var t Transaction
		if err := rows.Scan(&t.ID, &t.ItemID, &t.Type, &t.QuantityDelta, &t.QuantityBefore, &t.QuantityAfter,
			&t.Reason, &t.ReferenceID, &t.PerformedBy, &t.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, &t)
	}
	return items, rows.Err()
}

func (r *transactionRepoPG) SumDeltas(ctx context.Context, itemID uuid.UUID) (int, error) {
	var sum int
	err := connFor(ctx, r.pool).QueryRow(ctx,
		`SELECT COALESCE(SUM(quantity_delta), 0) FROM inventory_transaction WHERE item_id = $1`, itemID).Scan(&sum)
	return sum, err
}
