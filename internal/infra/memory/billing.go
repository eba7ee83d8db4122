package memory

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ehr/careflow/internal/domain/billing"
	"github.com/ehr/careflow/internal/platform/db"
)

func (s *Store) Bills() billing.BillRepository { return billRepo{s} }

type billRepo struct{ s *Store }

func (r billRepo) Create(ctx context.Context, b *billing.Bill) error {
	return r.s.write(ctx, func(st *Snapshot) error {
		for _, other := range st.Bills {
			if other.AdmissionID == b.AdmissionID {
				return errDuplicate("bill_admission_id_key")
			}
		}
		newID(&b.ID)
		r.s.stamp(&b.CreatedAt)
		stored := *b
		stored.Items, stored.Payments = nil, nil
		st.Bills[b.ID] = stored
		return nil
	})
}

func (r billRepo) GetByID(ctx context.Context, id uuid.UUID) (b *billing.Bill, err error) {
	err = r.s.read(ctx, func(st *Snapshot) error {
		b, err = get(st.Bills, id)
		return err
	})
	return b, err
}

func (r billRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*billing.Bill, error) {
	return r.GetByID(ctx, id)
}

func (r billRepo) GetByAdmission(ctx context.Context, admissionID uuid.UUID) (b *billing.Bill, err error) {
	err = r.s.read(ctx, func(st *Snapshot) error {
		for _, v := range st.Bills {
			if v.AdmissionID == admissionID {
				v := v
				b = &v
				return nil
			}
		}
		return db.ErrNotFound
	})
	return b, err
}

func (r billRepo) UpdatePayment(ctx context.Context, id uuid.UUID, paid decimal.Decimal, status string) error {
	return r.s.write(ctx, func(st *Snapshot) error {
		b, ok := st.Bills[id]
		if !ok {
			return db.ErrNotFound
		}
		b.PaidAmount = paid
		b.Status = status
		st.Bills[id] = b
		return nil
	})
}

func (r billRepo) CreateItem(ctx context.Context, item *billing.BillItem) error {
	return r.s.write(ctx, func(st *Snapshot) error {
		newID(&item.ID)
		st.BillItems[item.ID] = *item
		return nil
	})
}

var categoryOrder = map[string]int{
	billing.CategoryRoom:         0,
	billing.CategoryConsultation: 1,
	billing.CategoryLab:          2,
	billing.CategoryMedicine:     3,
	billing.CategoryNursing:      4,
	billing.CategoryEmergency:    5,
}

func (r billRepo) ListItems(ctx context.Context, billID uuid.UUID) (items []*billing.BillItem, err error) {
	err = r.s.read(ctx, func(st *Snapshot) error {
		items = filter(st.BillItems, func(i *billing.BillItem) bool { return i.BillID == billID })
		sortBy(items, func(a, b *billing.BillItem) bool { return categoryOrder[a.Category] < categoryOrder[b.Category] })
		return nil
	})
	return items, err
}

func (r billRepo) CreatePayment(ctx context.Context, p *billing.Payment) error {
	return r.s.write(ctx, func(st *Snapshot) error {
		newID(&p.ID)
		r.s.stamp(&p.CreatedAt)
		st.Payments[p.ID] = *p
		return nil
	})
}

func (r billRepo) ListPayments(ctx context.Context, billID uuid.UUID) (items []*billing.Payment, err error) {
	err = r.s.read(ctx, func(st *Snapshot) error {
		items = filter(st.Payments, func(p *billing.Payment) bool { return p.BillID == billID })
		sortBy(items, func(a, b *billing.Payment) bool { return a.CreatedAt.Before(b.CreatedAt) })
		return nil
	})
	return items, err
}
