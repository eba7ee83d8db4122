package memory

import (
	"context"

	"github.com/google/uuid"

	"github.com/ehr/careflow/internal/domain/inventory"
	"github.com/ehr/careflow/internal/platform/db"
	"github.com/ehr/careflow/pkg/pagination"
)

func (s *Store) Items() inventory.ItemRepository               { return itemRepo{s} }
func (s *Store) StockLedger() inventory.TransactionRepository { return ledgerRepo{s} }

type itemRepo struct{ s *Store }

func (r itemRepo) Create(ctx context.Context, i *inventory.Item) error {
	return r.s.write(ctx, func(st *Snapshot) error {
		newID(&i.ID)
		r.s.stamp(&i.CreatedAt)
		i.UpdatedAt = i.CreatedAt
		stored := *i
		stored.Status = ""
		st.Items[i.ID] = stored
		return nil
	})
}

func (r itemRepo) GetByID(ctx context.Context, id uuid.UUID) (i *inventory.Item, err error) {
	err = r.s.read(ctx, func(st *Snapshot) error {
		i, err = get(st.Items, id)
		return err
	})
	return i, err
}

func (r itemRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*inventory.Item, error) {
	return r.GetByID(ctx, id)
}

func (r itemRepo) SetQuantity(ctx context.Context, id uuid.UUID, before, after int) error {
	return r.s.write(ctx, func(st *Snapshot) error {
		i, ok := st.Items[id]
		if !ok || i.QuantityInStock != before || after < 0 {
			return db.ErrNotFound
		}
		i.QuantityInStock = after
		i.UpdatedAt = r.s.now()
		st.Items[id] = i
		return nil
	})
}

func (r itemRepo) List(ctx context.Context, limit, offset int) (items []*inventory.Item, total int, err error) {
	err = r.s.read(ctx, func(st *Snapshot) error {
		all := filter(st.Items, func(*inventory.Item) bool { return true })
		sortBy(all, func(a, b *inventory.Item) bool { return a.Name < b.Name })
		total = len(all)
		items = pagination.Slice(all, limit, offset)
		return nil
	})
	return items, total, err
}

func (r itemRepo) ListLowStock(ctx context.Context) (items []*inventory.Item, err error) {
	err = r.s.read(ctx, func(st *Snapshot) error {
		items = filter(st.Items, func(i *inventory.Item) bool { return i.QuantityInStock <= i.ReorderLevel })
		sortBy(items, func(a, b *inventory.Item) bool { return a.QuantityInStock < b.QuantityInStock })
		return nil
	})
	return items, err
}

type ledgerRepo struct{ s *Store }

func (r ledgerRepo) Create(ctx context.Context, t *inventory.Transaction) error {
	return r.s.write(ctx, func(st *Snapshot) error {
		newID(&t.ID)
		r.s.stamp(&t.CreatedAt)
		st.StockLedger[t.ID] = *t
		return nil
	})
}

func (r ledgerRepo) ListByItem(ctx context.Context, itemID uuid.UUID) (items []*inventory.Transaction, err error) {
	err = r.s.read(ctx, func(st *Snapshot) error {
		items = filter(st.StockLedger, func(t *inventory.Transaction) bool { return t.ItemID == itemID })
		sortBy(items, func(a, b *inventory.Transaction) bool { return a.CreatedAt.Before(b.CreatedAt) })
		return nil
	})
	return items, err
}

func (r ledgerRepo) SumDeltas(ctx context.Context, itemID uuid.UUID) (sum int, err error) {
	err = r.s.read(ctx, func(st *Snapshot) error {
		for _, t := range st.StockLedger {
			if t.ItemID == itemID {
				sum += t.QuantityDelta
			}
		}
		return nil
	})
	return sum, err
}
