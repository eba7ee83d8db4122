package inventory

import (
	"context"

	"github.com/google/uuid"
)

type ItemRepository interface {
	Create(ctx context.Context, i *Item) error
	GetByID(ctx context.Context, id uuid.UUID) (*Item, error)
	// GetForUpdate reads the item and locks it for the rest of the unit of
	// work.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Item, error)
	// SetQuantity writes after only when the stored quantity still equals
	// before; otherwise it returns db.ErrNotFound.
	SetQuantity(ctx context.Context, id uuid.UUID, before, after int) error
	List(ctx context.Context, limit, offset int) ([]*Item, int, error)
	ListLowStock(ctx context.Context) ([]*Item, error)
}

type TransactionRepository interface {
	Create(ctx context.Context, t *Transaction) error
	ListByItem(ctx context.Context, itemID uuid.UUID) ([]*Transaction, error)
	SumDeltas(ctx context.Context, itemID uuid.UUID) (int, error)
}
