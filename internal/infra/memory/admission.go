package memory

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/careflow/internal/domain/admission"
	"github.com/ehr/careflow/internal/platform/db"
)

func (s *Store) Admissions() admission.Repository { return admissionRepo{s} }

type admissionRepo struct{ s *Store }

func (r admissionRepo) Create(ctx context.Context, a *admission.Admission) error {
	return r.s.write(ctx, func(st *Snapshot) error {
		for _, other := range st.Admissions {
			if !other.IsOpen() {
				continue
			}
			if other.PatientID == a.PatientID {
				return errDuplicate("admission_open_patient")
			}
			if other.BedID == a.BedID {
				return errDuplicate("admission_open_bed")
			}
		}
		newID(&a.ID)
		r.s.stamp(&a.AdmissionDate)
		st.Admissions[a.ID] = *a
		return nil
	})
}

func (r admissionRepo) GetByID(ctx context.Context, id uuid.UUID) (a *admission.Admission, err error) {
	err = r.s.read(ctx, func(st *Snapshot) error {
		a, err = get(st.Admissions, id)
		return err
	})
	return a, err
}

func (r admissionRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*admission.Admission, error) {
	return r.GetByID(ctx, id)
}

func (r admissionRepo) FindOpenByPatient(ctx context.Context, patientID uuid.UUID) (a *admission.Admission, err error) {
	err = r.s.read(ctx, func(st *Snapshot) error {
		for _, v := range st.Admissions {
			if v.PatientID == patientID && v.IsOpen() {
				v := v
				a = &v
				return nil
			}
		}
		return db.ErrNotFound
	})
	return a, err
}

func (r admissionRepo) MoveBed(ctx context.Context, id, wardID, bedID uuid.UUID) error {
	return r.s.write(ctx, func(st *Snapshot) error {
		a, ok := st.Admissions[id]
		if !ok || !a.IsOpen() {
			return db.ErrNotFound
		}
		a.WardID = wardID
		a.BedID = bedID
		st.Admissions[id] = a
		return nil
	})
}

func (r admissionRepo) Discharge(ctx context.Context, id uuid.UUID, at time.Time, summary *string) error {
	return r.s.write(ctx, func(st *Snapshot) error {
		a, ok := st.Admissions[id]
		if !ok || !a.IsOpen() {
			return db.ErrNotFound
		}
		a.DischargeDate = &at
		a.DischargeSummary = summary
		st.Admissions[id] = a
		return nil
	})
}

func (r admissionRepo) ListOpenByWard(ctx context.Context, wardID uuid.UUID) (items []*admission.Admission, err error) {
	err = r.s.read(ctx, func(st *Snapshot) error {
		items = filter(st.Admissions, func(a *admission.Admission) bool { return a.WardID == wardID && a.IsOpen() })
		sortBy(items, func(a, b *admission.Admission) bool { return a.AdmissionDate.Before(b.AdmissionDate) })
		return nil
	})
	return items, err
}

func (r admissionRepo) ListByPatient(ctx context.Context, patientID uuid.UUID) (items []*admission.Admission, err error) {
	err = r.s.read(ctx, func(st *Snapshot) error {
		items = filter(st.Admissions, func(a *admission.Admission) bool { return a.PatientID == patientID })
		sortBy(items, func(a, b *admission.Admission) bool { return a.AdmissionDate.After(b.AdmissionDate) })
		return nil
	})
	return items, err
}
