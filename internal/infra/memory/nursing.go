package memory

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/careflow/internal/domain/nursing"
	"github.com/ehr/careflow/pkg/pagination"
)

func (s *Store) Vitals() nursing.VitalsRepository { return vitalsRepo{s} }

type vitalsRepo struct{ s *Store }

func (r vitalsRepo) Create(ctx context.Context, v *nursing.VitalSign) error {
	return r.s.write(ctx, func(st *Snapshot) error {
		newID(&v.ID)
		r.s.stamp(&v.RecordedAt)
		st.Vitals[v.ID] = *v
		return nil
	})
}

func (r vitalsRepo) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) (items []*nursing.VitalSign, total int, err error) {
	err = r.s.read(ctx, func(st *Snapshot) error {
		all := filter(st.Vitals, func(v *nursing.VitalSign) bool { return v.PatientID == patientID })
		sortBy(all, func(a, b *nursing.VitalSign) bool { return a.RecordedAt.After(b.RecordedAt) })
		total = len(all)
		items = pagination.Slice(all, limit, offset)
		return nil
	})
	return items, total, err
}

func (r vitalsRepo) CountInWindow(ctx context.Context, patientID uuid.UUID, from, to time.Time) (n int, err error) {
	err = r.s.read(ctx, func(st *Snapshot) error {
		for _, v := range st.Vitals {
			if v.PatientID == patientID && within(v.RecordedAt, from, to) {
				n++
			}
		}
		return nil
	})
	return n, err
}
