package task

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/careflow/internal/platform/apperr"
	"github.com/ehr/careflow/internal/platform/db"
	"github.com/ehr/careflow/internal/platform/metrics"
	"github.com/ehr/careflow/internal/platform/outbox"
)

var validPriorities = map[string]bool{PriorityRoutine: true, PriorityUrgent: true}

var validUrgencies = map[string]bool{PriorityRoutine: true, PriorityUrgent: true, UrgencyStat: true}

// Service runs the nurse task and lab order queues. Both follow the same
// lifecycle: PENDING, claimed to IN_PROGRESS by one actor, then COMPLETED.
// Every decision is taken with the row locked inside a unit of work.
type Service struct {
	tx     db.Transactor
	tasks  NurseTaskRepository
	orders LabOrderRepository
	tests  LabTestRepository
	events outbox.Recorder
	now    func() time.Time
}

func NewService(tx db.Transactor, tasks NurseTaskRepository, orders LabOrderRepository, tests LabTestRepository) *Service {
	return &Service{
		tx:     tx,
		tasks:  tasks,
		orders: orders,
		tests:  tests,
		events: outbox.Discard{},
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetOutbox attaches the recorder domain events are written to.
func (s *Service) SetOutbox(r outbox.Recorder) { s.events = r }

// checkTransition allows forward moves only.
func checkTransition(current, next string) error {
	nextRank, ok := statusRank[next]
	if !ok {
		return apperr.Validation("invalid status: %s", next)
	}
	if nextRank <= statusRank[current] {
		return apperr.New(apperr.CodeInvalidTransition, "cannot move from %s to %s", current, next).
			With("from", current).
			With("to", next)
	}
	return nil
}

func alreadyClaimed(id uuid.UUID, status string) error {
	return apperr.New(apperr.CodeTaskAlreadyClaimed, "task is %s", status).
		With("id", id.String()).
		With("status", status)
}

func notAssignee(id uuid.UUID) error {
	return apperr.New(apperr.CodeAccessDenied, "task is assigned to another staff member").With("id", id.String())
}

// -- Nurse tasks --

// CreateNurseTask enqueues a pending task. It joins the caller's unit of work.
func (s *Service) CreateNurseTask(ctx context.Context, t *NurseTask) error {
	if t.Priority == "" {
		t.Priority = PriorityRoutine
	}
	if !validPriorities[t.Priority] {
		return apperr.Validation("invalid priority: %s", t.Priority)
	}
	t.Status = StatusPending
	t.AssignedNurseID = nil
	t.ClaimedAt = nil
	t.CompletedAt = nil
	if t.CreatedAt.IsZero() {
		t.CreatedAt = s.now()
	}
	if err := s.tasks.Create(ctx, t); err != nil {
		return fmt.Errorf("create nurse task: %w", err)
	}
	return nil
}

func (s *Service) getNurseTask(ctx context.Context, id uuid.UUID, lock bool) (*NurseTask, error) {
	get := s.tasks.GetByID
	if lock {
		get = s.tasks.GetForUpdate
	}
	t, err := get(ctx, id)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, apperr.NotFound(apperr.CodeTaskNotFound, id)
		}
		return nil, fmt.Errorf("get nurse task: %w", err)
	}
	return t, nil
}

func (s *Service) GetNurseTask(ctx context.Context, id uuid.UUID) (*NurseTask, error) {
	return s.getNurseTask(ctx, id, false)
}

// ClaimNurseTask binds a pending task to the nurse. Of several concurrent
// claims exactly one succeeds; the rest see TASK_ALREADY_CLAIMED.
func (s *Service) ClaimNurseTask(ctx context.Context, id, nurseID uuid.UUID) (t *NurseTask, err error) {
	defer metrics.Observe("task.claim_nurse_task", time.Now(), &err)

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		t, err = s.getNurseTask(ctx, id, true)
		if err != nil {
			return err
		}
		if t.Status != StatusPending {
			return alreadyClaimed(id, t.Status)
		}
		now := s.now()
		t.Status = StatusInProgress
		t.AssignedNurseID = &nurseID
		t.ClaimedAt = &now
		if err := s.tasks.Update(ctx, t); err != nil {
			return fmt.Errorf("claim nurse task: %w", err)
		}
		return outbox.Emit(ctx, s.events, "nurse_task", t.ID, outbox.TaskClaimed, t)
	})
	if err != nil {
		return nil, err
	}
	zerolog.Ctx(ctx).Info().Str("task_id", id.String()).Str("nurse_id", nurseID.String()).Msg("nurse task claimed")
	return t, nil
}

// UpdateNurseTaskStatus moves a task forward. A pending task is bound to the
// actor on its first move; a bound task can only be moved by its nurse.
func (s *Service) UpdateNurseTaskStatus(ctx context.Context, id, actorID uuid.UUID, status string, notes *string) (t *NurseTask, err error) {
	defer metrics.Observe("task.update_nurse_task", time.Now(), &err)

	status = strings.ToUpper(strings.TrimSpace(status))
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		t, err = s.getNurseTask(ctx, id, true)
		if err != nil {
			return err
		}
		if t.AssignedNurseID != nil && *t.AssignedNurseID != actorID {
			return notAssignee(id)
		}
		if err := checkTransition(t.Status, status); err != nil {
			return err
		}
		now := s.now()
		if t.AssignedNurseID == nil {
			t.AssignedNurseID = &actorID
			t.ClaimedAt = &now
		}
		t.Status = status
		if status == StatusCompleted {
			t.CompletedAt = &now
		}
		if notes != nil {
			t.Notes = notes
		}
		if err := s.tasks.Update(ctx, t); err != nil {
			return fmt.Errorf("update nurse task: %w", err)
		}
		return outbox.Emit(ctx, s.events, "nurse_task", t.ID, outbox.TaskStatusChanged, t)
	})
	if err != nil {
		return nil, err
	}
	zerolog.Ctx(ctx).Info().Str("task_id", id.String()).Str("status", status).Msg("nurse task updated")
	return t, nil
}

func (s *Service) ListPendingNurseTasks(ctx context.Context, limit, offset int) ([]*NurseTask, int, error) {
	return s.tasks.ListPending(ctx, limit, offset)
}

func (s *Service) ListNurseTasksByNurse(ctx context.Context, nurseID uuid.UUID) ([]*NurseTask, error) {
	return s.tasks.ListByNurse(ctx, nurseID)
}

func (s *Service) ListNurseTasksByRecord(ctx context.Context, recordID uuid.UUID) ([]*NurseTask, error) {
	return s.tasks.ListByRecord(ctx, recordID)
}

// -- Lab orders --

// CreateLabOrder enqueues a pending order with one pending test per id. It
// joins the caller's unit of work.
func (s *Service) CreateLabOrder(ctx context.Context, o *LabOrder, labTestIDs []uuid.UUID) error {
	if len(labTestIDs) == 0 {
		return apperr.Validation("at least one lab test is required")
	}
	if o.Urgency == "" {
		o.Urgency = PriorityRoutine
	}
	o.Urgency = strings.ToUpper(o.Urgency)
	if !validUrgencies[o.Urgency] {
		return apperr.Validation("invalid urgency: %s", o.Urgency)
	}
	o.Status = StatusPending
	o.AssignedTechnicianID = nil
	o.ClaimedAt = nil
	o.CompletedAt = nil
	if o.CreatedAt.IsZero() {
		o.CreatedAt = s.now()
	}

	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.orders.Create(ctx, o); err != nil {
			return fmt.Errorf("create lab order: %w", err)
		}
		o.Tests = make([]*LabOrderTest, 0, len(labTestIDs))
		for _, testID := range labTestIDs {
			lt := &LabOrderTest{LabOrderID: o.ID, LabTestID: testID, Status: TestPending}
			if err := s.tests.Create(ctx, lt); err != nil {
				return fmt.Errorf("create lab order test: %w", err)
			}
			o.Tests = append(o.Tests, lt)
		}
		return nil
	})
}

func (s *Service) getLabOrder(ctx context.Context, id uuid.UUID, lock bool) (*LabOrder, error) {
	get := s.orders.GetByID
	if lock {
		get = s.orders.GetForUpdate
	}
	o, err := get(ctx, id)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, apperr.NotFound(apperr.CodeTaskNotFound, id)
		}
		return nil, fmt.Errorf("get lab order: %w", err)
	}
	return o, nil
}

// GetLabOrder returns the order with its tests.
func (s *Service) GetLabOrder(ctx context.Context, id uuid.UUID) (*LabOrder, error) {
	o, err := s.getLabOrder(ctx, id, false)
	if err != nil {
		return nil, err
	}
	if o.Tests, err = s.tests.ListByOrder(ctx, id); err != nil {
		return nil, fmt.Errorf("list lab order tests: %w", err)
	}
	return o, nil
}

func (s *Service) ClaimLabOrder(ctx context.Context, id, technicianID uuid.UUID) (o *LabOrder, err error) {
	defer metrics.Observe("task.claim_lab_order", time.Now(), &err)

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		o, err = s.getLabOrder(ctx, id, true)
		if err != nil {
			return err
		}
		if o.Status != StatusPending {
			return alreadyClaimed(id, o.Status)
		}
		now := s.now()
		o.Status = StatusInProgress
		o.AssignedTechnicianID = &technicianID
		o.ClaimedAt = &now
		if err := s.orders.Update(ctx, o); err != nil {
			return fmt.Errorf("claim lab order: %w", err)
		}
		return outbox.Emit(ctx, s.events, "lab_order", o.ID, outbox.TaskClaimed, o)
	})
	if err != nil {
		return nil, err
	}
	zerolog.Ctx(ctx).Info().Str("lab_order_id", id.String()).Str("technician_id", technicianID.String()).Msg("lab order claimed")
	return o, nil
}

func (s *Service) UpdateLabOrderStatus(ctx context.Context, id, actorID uuid.UUID, status string, notes *string) (o *LabOrder, err error) {
	defer metrics.Observe("task.update_lab_order", time.Now(), &err)

	status = strings.ToUpper(strings.TrimSpace(status))
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		o, err = s.getLabOrder(ctx, id, true)
		if err != nil {
			return err
		}
		if o.AssignedTechnicianID != nil && *o.AssignedTechnicianID != actorID {
			return notAssignee(id)
		}
		if err := checkTransition(o.Status, status); err != nil {
			return err
		}
		now := s.now()
		if o.AssignedTechnicianID == nil {
			o.AssignedTechnicianID = &actorID
			o.ClaimedAt = &now
		}
		o.Status = status
		if status == StatusCompleted {
			o.CompletedAt = &now
		}
		if notes != nil {
			o.Notes = notes
		}
		if err := s.orders.Update(ctx, o); err != nil {
			return fmt.Errorf("update lab order: %w", err)
		}
		return outbox.Emit(ctx, s.events, "lab_order", o.ID, outbox.TaskStatusChanged, o)
	})
	if err != nil {
		return nil, err
	}
	zerolog.Ctx(ctx).Info().Str("lab_order_id", id.String()).Str("status", status).Msg("lab order updated")
	return o, nil
}

// RecordLabResult completes one test of an in-progress order claimed by the
// technician. The order completes with its last test.
func (s *Service) RecordLabResult(ctx context.Context, orderTestID, technicianID uuid.UUID, result string, abnormal bool) (o *LabOrder, err error) {
	defer metrics.Observe("task.record_lab_result", time.Now(), &err)

	result = strings.TrimSpace(result)
	if result == "" {
		return nil, apperr.Validation("result is required")
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		lt, err := s.tests.GetForUpdate(ctx, orderTestID)
		if err != nil {
			if db.IsNotFound(err) {
				return apperr.NotFound(apperr.CodeTaskNotFound, orderTestID)
			}
			return fmt.Errorf("get lab order test: %w", err)
		}
		o, err = s.getLabOrder(ctx, lt.LabOrderID, true)
		if err != nil {
			return err
		}
		if o.Status != StatusInProgress {
			return apperr.New(apperr.CodeInvalidTransition, "lab order is %s", o.Status).With("status", o.Status)
		}
		if o.AssignedTechnicianID == nil || *o.AssignedTechnicianID != technicianID {
			return notAssignee(o.ID)
		}
		if lt.Status == TestCompleted {
			return apperr.New(apperr.CodeInvalidTransition, "result already recorded").With("id", orderTestID.String())
		}

		now := s.now()
		lt.Status = TestCompleted
		lt.Result = &result
		lt.Abnormal = abnormal
		lt.CompletedAt = &now
		if err := s.tests.Update(ctx, lt); err != nil {
			return fmt.Errorf("update lab order test: %w", err)
		}
		if err := outbox.Emit(ctx, s.events, "lab_order", o.ID, outbox.LabResultRecorded, lt); err != nil {
			return err
		}

		if o.Tests, err = s.tests.ListByOrder(ctx, o.ID); err != nil {
			return fmt.Errorf("list lab order tests: %w", err)
		}
		for _, t := range o.Tests {
			if t.Status != TestCompleted {
				return nil
			}
		}
		o.Status = StatusCompleted
		o.CompletedAt = &now
		if err := s.orders.Update(ctx, o); err != nil {
			return fmt.Errorf("complete lab order: %w", err)
		}
		return outbox.Emit(ctx, s.events, "lab_order", o.ID, outbox.TaskStatusChanged, o)
	})
	if err != nil {
		return nil, err
	}
	zerolog.Ctx(ctx).Info().
		Str("lab_order_id", o.ID.String()).
		Str("test_id", orderTestID.String()).
		Bool("abnormal", abnormal).
		Msg("lab result recorded")
	return o, nil
}

func (s *Service) ListPendingLabOrders(ctx context.Context, limit, offset int) ([]*LabOrder, int, error) {
	return s.orders.ListPending(ctx, limit, offset)
}

func (s *Service) ListLabOrdersByRecord(ctx context.Context, recordID uuid.UUID) ([]*LabOrder, error) {
	return s.orders.ListByRecord(ctx, recordID)
}
