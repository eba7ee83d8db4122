package memory

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/ehr/careflow/internal/domain/ward"
	"github.com/ehr/careflow/internal/platform/db"
	"github.com/ehr/careflow/pkg/pagination"
)

func (s *Store) Wards() ward.WardRepository { return wardRepo{s} }
func (s *Store) Beds() ward.BedRepository   { return bedRepo{s} }

type wardRepo struct{ s *Store }

func (r wardRepo) Create(ctx context.Context, w *ward.Ward) error {
	return r.s.write(ctx, func(st *Snapshot) error {
		newID(&w.ID)
		r.s.stamp(&w.CreatedAt)
		st.Wards[w.ID] = *w
		return nil
	})
}

func (r wardRepo) GetByID(ctx context.Context, id uuid.UUID) (w *ward.Ward, err error) {
	err = r.s.read(ctx, func(st *Snapshot) error {
		w, err = get(st.Wards, id)
		return err
	})
	return w, err
}

func (r wardRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*ward.Ward, error) {
	return r.GetByID(ctx, id)
}

func (r wardRepo) List(ctx context.Context, limit, offset int) (items []*ward.Ward, total int, err error) {
	err = r.s.read(ctx, func(st *Snapshot) error {
		all := filter(st.Wards, func(*ward.Ward) bool { return true })
		sortBy(all, func(a, b *ward.Ward) bool { return a.Name < b.Name })
		total = len(all)
		items = pagination.Slice(all, limit, offset)
		return nil
	})
	return items, total, err
}

type bedRepo struct{ s *Store }

func (r bedRepo) Create(ctx context.Context, b *ward.Bed) error {
	return r.s.write(ctx, func(st *Snapshot) error {
		for _, other := range st.Beds {
			if other.WardID == b.WardID && other.BedNumber == b.BedNumber {
				return errDuplicate("bed_ward_number")
			}
		}
		newID(&b.ID)
		r.s.stamp(&b.UpdatedAt)
		st.Beds[b.ID] = *b
		return nil
	})
}

func (r bedRepo) GetByID(ctx context.Context, id uuid.UUID) (b *ward.Bed, err error) {
	err = r.s.read(ctx, func(st *Snapshot) error {
		b, err = get(st.Beds, id)
		return err
	})
	return b, err
}

func (r bedRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*ward.Bed, error) {
	return r.GetByID(ctx, id)
}

func (r bedRepo) ListByWard(ctx context.Context, wardID uuid.UUID) (items []*ward.Bed, err error) {
	err = r.s.read(ctx, func(st *Snapshot) error {
		items = filter(st.Beds, func(b *ward.Bed) bool { return b.WardID == wardID })
		sortBy(items, func(a, b *ward.Bed) bool { return a.BedNumber < b.BedNumber })
		return nil
	})
	return items, err
}

func (r bedRepo) CountByWard(ctx context.Context, wardID uuid.UUID) (n int, err error) {
	err = r.s.read(ctx, func(st *Snapshot) error {
		for _, b := range st.Beds {
			if b.WardID == wardID {
				n++
			}
		}
		return nil
	})
	return n, err
}

func (r bedRepo) NumberExists(ctx context.Context, wardID uuid.UUID, number string) (exists bool, err error) {
	err = r.s.read(ctx, func(st *Snapshot) error {
		for _, b := range st.Beds {
			if b.WardID == wardID && b.BedNumber == number {
				exists = true
				break
			}
		}
		return nil
	})
	return exists, err
}

func (r bedRepo) NumbersWithPrefix(ctx context.Context, wardID uuid.UUID, prefix string) (out []string, err error) {
	err = r.s.read(ctx, func(st *Snapshot) error {
		for _, b := range st.Beds {
			if b.WardID == wardID && strings.HasPrefix(b.BedNumber, prefix) {
				out = append(out, b.BedNumber)
			}
		}
		return nil
	})
	return out, err
}

func (r bedRepo) update(ctx context.Context, id uuid.UUID, fn func(b *ward.Bed) error) error {
	return r.s.write(ctx, func(st *Snapshot) error {
		b, ok := st.Beds[id]
		if !ok {
			return db.ErrNotFound
		}
		if err := fn(&b); err != nil {
			return err
		}
		b.UpdatedAt = r.s.now()
		st.Beds[id] = b
		return nil
	})
}

func (r bedRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status string) error {
	return r.update(ctx, id, func(b *ward.Bed) error {
		b.Status = status
		return nil
	})
}

func (r bedRepo) Delete(ctx context.Context, id uuid.UUID) error {
	return r.s.write(ctx, func(st *Snapshot) error {
		if _, ok := st.Beds[id]; !ok {
			return db.ErrNotFound
		}
		delete(st.Beds, id)
		return nil
	})
}

func (r bedRepo) Occupy(ctx context.Context, id, patientID uuid.UUID) error {
	return r.update(ctx, id, func(b *ward.Bed) error {
		if b.Status != ward.BedAvailable || b.CurrentPatientID != nil {
			return ward.ErrBedUnavailable
		}
		b.Status = ward.BedOccupied
		b.CurrentPatientID = &patientID
		return nil
	})
}

func (r bedRepo) Release(ctx context.Context, id uuid.UUID) error {
	return r.update(ctx, id, func(b *ward.Bed) error {
		b.Status = ward.BedAvailable
		b.CurrentPatientID = nil
		return nil
	})
}
