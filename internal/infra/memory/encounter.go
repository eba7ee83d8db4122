package memory

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/careflow/internal/domain/encounter"
	"github.com/ehr/careflow/pkg/pagination"
)

func (s *Store) Records() encounter.RecordRepository             { return recordRepo{s} }
func (s *Store) NursingNotes() encounter.NoteRepository          { return noteRepo{s} }
func (s *Store) Prescriptions() encounter.PrescriptionRepository { return prescriptionRepo{s} }

type recordRepo struct{ s *Store }

func (r recordRepo) Create(ctx context.Context, rec *encounter.MedicalRecord) error {
	return r.s.write(ctx, func(st *Snapshot) error {
		newID(&rec.ID)
		r.s.stamp(&rec.CreatedAt)
		stored := *rec
		stored.Notes.NursingNotes = nil
		st.Records[rec.ID] = stored
		return nil
	})
}

func (r recordRepo) GetByID(ctx context.Context, id uuid.UUID) (rec *encounter.MedicalRecord, err error) {
	err = r.s.read(ctx, func(st *Snapshot) error {
		rec, err = get(st.Records, id)
		return err
	})
	return rec, err
}

func (r recordRepo) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) (items []*encounter.MedicalRecord, total int, err error) {
	err = r.s.read(ctx, func(st *Snapshot) error {
		all := filter(st.Records, func(rec *encounter.MedicalRecord) bool { return rec.PatientID == patientID })
		sortBy(all, func(a, b *encounter.MedicalRecord) bool { return a.CreatedAt.After(b.CreatedAt) })
		total = len(all)
		items = pagination.Slice(all, limit, offset)
		return nil
	})
	return items, total, err
}

func (r recordRepo) CountByPatient(ctx context.Context, patientID uuid.UUID) (n int, err error) {
	err = r.s.read(ctx, func(st *Snapshot) error {
		for _, rec := range st.Records {
			if rec.PatientID == patientID {
				n++
			}
		}
		return nil
	})
	return n, err
}

func (r recordRepo) CountInWindow(ctx context.Context, patientID uuid.UUID, from, to time.Time) (n int, err error) {
	err = r.s.read(ctx, func(st *Snapshot) error {
		for _, rec := range st.Records {
			if rec.PatientID == patientID && within(rec.CreatedAt, from, to) {
				n++
			}
		}
		return nil
	})
	return n, err
}

type noteRepo struct{ s *Store }

func (r noteRepo) Create(ctx context.Context, n *encounter.NursingNote) error {
	return r.s.write(ctx, func(st *Snapshot) error {
		newID(&n.ID)
		r.s.stamp(&n.CreatedAt)
		st.NursingNotes[n.ID] = *n
		return nil
	})
}

func (r noteRepo) ListByRecord(ctx context.Context, recordID uuid.UUID) (items []*encounter.NursingNote, err error) {
	err = r.s.read(ctx, func(st *Snapshot) error {
		items = filter(st.NursingNotes, func(n *encounter.NursingNote) bool { return n.RecordID == recordID })
		sortBy(items, func(a, b *encounter.NursingNote) bool { return a.CreatedAt.Before(b.CreatedAt) })
		return nil
	})
	return items, err
}

type prescriptionRepo struct{ s *Store }

func (r prescriptionRepo) Create(ctx context.Context, p *encounter.PrescriptionItem) error {
	return r.s.write(ctx, func(st *Snapshot) error {
		newID(&p.ID)
		r.s.stamp(&p.CreatedAt)
		st.Prescriptions[p.ID] = *p
		return nil
	})
}

func (r prescriptionRepo) ListByRecord(ctx context.Context, recordID uuid.UUID) (items []*encounter.PrescriptionItem, err error) {
	err = r.s.read(ctx, func(st *Snapshot) error {
		items = filter(st.Prescriptions, func(p *encounter.PrescriptionItem) bool { return p.RecordID == recordID })
		sortBy(items, func(a, b *encounter.PrescriptionItem) bool { return a.CreatedAt.Before(b.CreatedAt) })
		return nil
	})
	return items, err
}

func (r prescriptionRepo) ListForPatient(ctx context.Context, patientID uuid.UUID, from, to time.Time) (items []*encounter.PrescriptionItem, err error) {
	err = r.s.read(ctx, func(st *Snapshot) error {
		items = filter(st.Prescriptions, func(p *encounter.PrescriptionItem) bool {
			rec, ok := st.Records[p.RecordID]
			return ok && rec.PatientID == patientID && within(rec.CreatedAt, from, to)
		})
		sortBy(items, func(a, b *encounter.PrescriptionItem) bool { return a.CreatedAt.Before(b.CreatedAt) })
		return nil
	})
	return items, err
}
