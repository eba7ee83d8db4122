package memory

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/careflow/internal/domain/task"
	"github.com/ehr/careflow/internal/platform/db"
	"github.com/ehr/careflow/pkg/pagination"
)

func (s *Store) NurseTasks() task.NurseTaskRepository { return nurseTaskRepo{s} }
func (s *Store) LabOrders() task.LabOrderRepository   { return labOrderRepo{s} }
func (s *Store) LabTests() task.LabTestRepository     { return labTestRepo{s} }

type nurseTaskRepo struct{ s *Store }

func (r nurseTaskRepo) Create(ctx context.Context, t *task.NurseTask) error {
	return r.s.write(ctx, func(st *Snapshot) error {
		newID(&t.ID)
		r.s.stamp(&t.CreatedAt)
		st.NurseTasks[t.ID] = *t
		return nil
	})
}

func (r nurseTaskRepo) GetByID(ctx context.Context, id uuid.UUID) (t *task.NurseTask, err error) {
	err = r.s.read(ctx, func(st *Snapshot) error {
		t, err = get(st.NurseTasks, id)
		return err
	})
	return t, err
}

func (r nurseTaskRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*task.NurseTask, error) {
	return r.GetByID(ctx, id)
}

func (r nurseTaskRepo) Update(ctx context.Context, t *task.NurseTask) error {
	return r.s.write(ctx, func(st *Snapshot) error {
		if _, ok := st.NurseTasks[t.ID]; !ok {
			return db.ErrNotFound
		}
		st.NurseTasks[t.ID] = *t
		return nil
	})
}

var priorityRank = map[string]int{task.PriorityUrgent: 0, task.PriorityRoutine: 1}

var urgencyRank = map[string]int{task.UrgencyStat: 0, task.PriorityUrgent: 1, task.PriorityRoutine: 2}

func (r nurseTaskRepo) ListPending(ctx context.Context, limit, offset int) (items []*task.NurseTask, total int, err error) {
	err = r.s.read(ctx, func(st *Snapshot) error {
		all := filter(st.NurseTasks, func(t *task.NurseTask) bool { return t.Status == task.StatusPending })
		sortBy(all, func(a, b *task.NurseTask) bool {
			if priorityRank[a.Priority] != priorityRank[b.Priority] {
				return priorityRank[a.Priority] < priorityRank[b.Priority]
			}
			return a.CreatedAt.Before(b.CreatedAt)
		})
		total = len(all)
		items = pagination.Slice(all, limit, offset)
		return nil
	})
	return items, total, err
}

func (r nurseTaskRepo) ListByNurse(ctx context.Context, nurseID uuid.UUID) (items []*task.NurseTask, err error) {
	err = r.s.read(ctx, func(st *Snapshot) error {
		items = filter(st.NurseTasks, func(t *task.NurseTask) bool {
			return t.AssignedNurseID != nil && *t.AssignedNurseID == nurseID
		})
		sortBy(items, func(a, b *task.NurseTask) bool { return a.CreatedAt.After(b.CreatedAt) })
		return nil
	})
	return items, err
}

func (r nurseTaskRepo) ListByRecord(ctx context.Context, recordID uuid.UUID) (items []*task.NurseTask, err error) {
	err = r.s.read(ctx, func(st *Snapshot) error {
		items = filter(st.NurseTasks, func(t *task.NurseTask) bool { return t.RecordID == recordID })
		sortBy(items, func(a, b *task.NurseTask) bool { return a.CreatedAt.Before(b.CreatedAt) })
		return nil
	})
	return items, err
}

type labOrderRepo struct{ s *Store }

func (r labOrderRepo) Create(ctx context.Context, o *task.LabOrder) error {
	return r.s.write(ctx, func(st *Snapshot) error {
		newID(&o.ID)
		r.s.stamp(&o.CreatedAt)
		stored := *o
		stored.Tests = nil
		st.LabOrders[o.ID] = stored
		return nil
	})
}

func (r labOrderRepo) GetByID(ctx context.Context, id uuid.UUID) (o *task.LabOrder, err error) {
	err = r.s.read(ctx, func(st *Snapshot) error {
		o, err = get(st.LabOrders, id)
		return err
	})
	return o, err
}

func (r labOrderRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*task.LabOrder, error) {
	return r.GetByID(ctx, id)
}

func (r labOrderRepo) Update(ctx context.Context, o *task.LabOrder) error {
	return r.s.write(ctx, func(st *Snapshot) error {
		if _, ok := st.LabOrders[o.ID]; !ok {
			return db.ErrNotFound
		}
		stored := *o
		stored.Tests = nil
		st.LabOrders[o.ID] = stored
		return nil
	})
}

func (r labOrderRepo) ListPending(ctx context.Context, limit, offset int) (items []*task.LabOrder, total int, err error) {
	err = r.s.read(ctx, func(st *Snapshot) error {
		all := filter(st.LabOrders, func(o *task.LabOrder) bool { return o.Status == task.StatusPending })
		sortBy(all, func(a, b *task.LabOrder) bool {
			if urgencyRank[a.Urgency] != urgencyRank[b.Urgency] {
				return urgencyRank[a.Urgency] < urgencyRank[b.Urgency]
			}
			return a.CreatedAt.Before(b.CreatedAt)
		})
		total = len(all)
		items = pagination.Slice(all, limit, offset)
		return nil
	})
	return items, total, err
}

func (r labOrderRepo) ListByRecord(ctx context.Context, recordID uuid.UUID) (items []*task.LabOrder, err error) {
	err = r.s.read(ctx, func(st *Snapshot) error {
		items = filter(st.LabOrders, func(o *task.LabOrder) bool { return o.RecordID == recordID })
		sortBy(items, func(a, b *task.LabOrder) bool { return a.CreatedAt.Before(b.CreatedAt) })
		return nil
	})
	return items, err
}

type labTestRepo struct{ s *Store }

func (r labTestRepo) Create(ctx context.Context, t *task.LabOrderTest) error {
	return r.s.write(ctx, func(st *Snapshot) error {
		if _, ok := st.LabOrders[t.LabOrderID]; !ok {
			return db.ErrNotFound
		}
		newID(&t.ID)
		st.LabTests[t.ID] = *t
		return nil
	})
}

func (r labTestRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (t *task.LabOrderTest, err error) {
	err = r.s.read(ctx, func(st *Snapshot) error {
		t, err = get(st.LabTests, id)
		return err
	})
	return t, err
}

func (r labTestRepo) Update(ctx context.Context, t *task.LabOrderTest) error {
	return r.s.write(ctx, func(st *Snapshot) error {
		if _, ok := st.LabTests[t.ID]; !ok {
			return db.ErrNotFound
		}
		st.LabTests[t.ID] = *t
		return nil
	})
}

func (r labTestRepo) ListByOrder(ctx context.Context, orderID uuid.UUID) (items []*task.LabOrderTest, err error) {
	err = r.s.read(ctx, func(st *Snapshot) error {
		items = filter(st.LabTests, func(t *task.LabOrderTest) bool { return t.LabOrderID == orderID })
		sortBy(items, func(a, b *task.LabOrderTest) bool { return a.ID.String() < b.ID.String() })
		return nil
	})
	return items, err
}

func (r labTestRepo) CountCompletedForPatient(ctx context.Context, patientID uuid.UUID, from, to time.Time) (n int, err error) {
	err = r.s.read(ctx, func(st *Snapshot) error {
		for _, t := range st.LabTests {
			if t.Status != task.TestCompleted {
				continue
			}
			o, ok := st.LabOrders[t.LabOrderID]
			if ok && o.PatientID == patientID && within(o.CreatedAt, from, to) {
				n++
			}
		}
		return nil
	})
	return n, err
}
