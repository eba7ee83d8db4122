package memory

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/careflow/internal/domain/identity"
	"github.com/ehr/careflow/internal/platform/db"
	"github.com/ehr/careflow/pkg/pagination"
)

func (s *Store) Patients() identity.PatientRepository       { return patientRepo{s} }
func (s *Store) Staff() identity.StaffRepository             { return staffRepo{s} }
func (s *Store) Assignments() identity.AssignmentRepository { return assignmentRepo{s} }

type patientRepo struct{ s *Store }

func (r patientRepo) Create(ctx context.Context, p *identity.Patient) error {
	return r.s.write(ctx, func(st *Snapshot) error {
		newID(&p.ID)
		r.s.stamp(&p.CreatedAt)
		st.Patients[p.ID] = *p
		return nil
	})
}

func (r patientRepo) GetByID(ctx context.Context, id uuid.UUID) (p *identity.Patient, err error) {
	err = r.s.read(ctx, func(st *Snapshot) error {
		p, err = get(st.Patients, id)
		return err
	})
	return p, err
}

func (r patientRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*identity.Patient, error) {
	return r.GetByID(ctx, id)
}

func (r patientRepo) List(ctx context.Context, limit, offset int) (items []*identity.Patient, total int, err error) {
	err = r.s.read(ctx, func(st *Snapshot) error {
		all := filter(st.Patients, func(*identity.Patient) bool { return true })
		sortBy(all, func(a, b *identity.Patient) bool {
			if a.LastName != b.LastName {
				return a.LastName < b.LastName
			}
			return a.FirstName < b.FirstName
		})
		total = len(all)
		items = pagination.Slice(all, limit, offset)
		return nil
	})
	return items, total, err
}

type staffRepo struct{ s *Store }

func (r staffRepo) Create(ctx context.Context, m *identity.Staff) error {
	return r.s.write(ctx, func(st *Snapshot) error {
		newID(&m.ID)
		r.s.stamp(&m.CreatedAt)
		st.Staff[m.ID] = *m
		return nil
	})
}

func (r staffRepo) GetByID(ctx context.Context, id uuid.UUID) (m *identity.Staff, err error) {
	err = r.s.read(ctx, func(st *Snapshot) error {
		m, err = get(st.Staff, id)
		return err
	})
	return m, err
}

func (r staffRepo) ListByRole(ctx context.Context, role string, limit, offset int) (items []*identity.Staff, total int, err error) {
	err = r.s.read(ctx, func(st *Snapshot) error {
		all := filter(st.Staff, func(m *identity.Staff) bool { return role == "" || m.Role == role })
		sortBy(all, func(a, b *identity.Staff) bool { return a.Name < b.Name })
		total = len(all)
		items = pagination.Slice(all, limit, offset)
		return nil
	})
	return items, total, err
}

type assignmentRepo struct{ s *Store }

func (r assignmentRepo) Create(ctx context.Context, a *identity.NurseAssignment) error {
	return r.s.write(ctx, func(st *Snapshot) error {
		newID(&a.ID)
		r.s.stamp(&a.StartedAt)
		st.Assignments[a.ID] = *a
		return nil
	})
}

func (r assignmentRepo) GetByID(ctx context.Context, id uuid.UUID) (a *identity.NurseAssignment, err error) {
	err = r.s.read(ctx, func(st *Snapshot) error {
		a, err = get(st.Assignments, id)
		return err
	})
	return a, err
}

func (r assignmentRepo) FindActive(ctx context.Context, nurseID, wardID uuid.UUID) (a *identity.NurseAssignment, err error) {
	err = r.s.read(ctx, func(st *Snapshot) error {
		for _, v := range st.Assignments {
			if v.NurseID == nurseID && v.WardID == wardID && v.Active {
				v := v
				a = &v
				return nil
			}
		}
		return db.ErrNotFound
	})
	return a, err
}

func (r assignmentRepo) End(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.s.write(ctx, func(st *Snapshot) error {
		a, ok := st.Assignments[id]
		if !ok || !a.Active {
			return db.ErrNotFound
		}
		a.Active = false
		a.EndedAt = &at
		st.Assignments[id] = a
		return nil
	})
}

func (r assignmentRepo) ListActiveByWard(ctx context.Context, wardID uuid.UUID) (items []*identity.NurseAssignment, err error) {
	err = r.s.read(ctx, func(st *Snapshot) error {
		items = filter(st.Assignments, func(a *identity.NurseAssignment) bool { return a.WardID == wardID && a.Active })
		sortBy(items, func(a, b *identity.NurseAssignment) bool { return a.StartedAt.Before(b.StartedAt) })
		return nil
	})
	return items, err
}
