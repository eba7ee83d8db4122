package task_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/careflow/internal/domain/task"
	"github.com/ehr/careflow/internal/infra/memory"
	"github.com/ehr/careflow/internal/platform/apperr"
)

func newService(t *testing.T) (*task.Service, *memory.Store) {
	t.Helper()
	store := memory.New()
	svc := task.NewService(store, store.NurseTasks(), store.LabOrders(), store.LabTests())
	svc.SetOutbox(store.Outbox())
	return svc, store
}

func mustNurseTask(t *testing.T, svc *task.Service, priority string) *task.NurseTask {
	t.Helper()
	nt := &task.NurseTask{RecordID: uuid.New(), PatientID: uuid.New(), DoctorID: uuid.New(), Priority: priority}
	if err := svc.CreateNurseTask(context.Background(), nt); err != nil {
		t.Fatalf("CreateNurseTask: %v", err)
	}
	return nt
}

func mustLabOrder(t *testing.T, svc *task.Service, urgency string, tests int) *task.LabOrder {
	t.Helper()
	ids := make([]uuid.UUID, tests)
	for i := range ids {
		ids[i] = uuid.New()
	}
	o := &task.LabOrder{RecordID: uuid.New(), PatientID: uuid.New(), DoctorID: uuid.New(), Urgency: urgency}
	if err := svc.CreateLabOrder(context.Background(), o, ids); err != nil {
		t.Fatalf("CreateLabOrder: %v", err)
	}
	return o
}

func TestClaimNurseTask_ConcurrentClaimsHaveOneWinner(t *testing.T) {
	svc, _ := newService(t)
	nt := mustNurseTask(t, svc, task.PriorityRoutine)

	const claimers = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []uuid.UUID
		losses  int
	)
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			nurse := uuid.New()
			_, err := svc.ClaimNurseTask(context.Background(), nt.ID, nurse)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners = append(winners, nurse)
			case apperr.HasCode(err, apperr.CodeTaskAlreadyClaimed):
				losses++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if len(winners) != 1 || losses != claimers-1 {
		t.Fatalf("expected 1 winner and %d losses, got %d and %d", claimers-1, len(winners), losses)
	}
	got, _ := svc.GetNurseTask(context.Background(), nt.ID)
	if got.Status != task.StatusInProgress || got.AssignedNurseID == nil || *got.AssignedNurseID != winners[0] {
		t.Errorf("task not bound to the winner: %+v", got)
	}
	if got.ClaimedAt == nil {
		t.Error("expected claimed_at to be stamped")
	}
}

func TestClaimNurseTask_NotFound(t *testing.T) {
	svc, _ := newService(t)
	if _, err := svc.ClaimNurseTask(context.Background(), uuid.New(), uuid.New()); !apperr.HasCode(err, apperr.CodeTaskNotFound) {
		t.Errorf("expected TASK_NOT_FOUND, got %v", err)
	}
}

func TestUpdateNurseTaskStatus_Transitions(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	nurse := uuid.New()
	nt := mustNurseTask(t, svc, task.PriorityUrgent)

	if _, err := svc.ClaimNurseTask(ctx, nt.ID, nurse); err != nil {
		t.Fatalf("ClaimNurseTask: %v", err)
	}
	if _, err := svc.UpdateNurseTaskStatus(ctx, nt.ID, nurse, task.StatusInProgress, nil); !apperr.HasCode(err, apperr.CodeInvalidTransition) {
		t.Errorf("same state: expected INVALID_TRANSITION, got %v", err)
	}
	if _, err := svc.UpdateNurseTaskStatus(ctx, nt.ID, nurse, task.StatusPending, nil); !apperr.HasCode(err, apperr.CodeInvalidTransition) {
		t.Errorf("backwards: expected INVALID_TRANSITION, got %v", err)
	}
	if _, err := svc.UpdateNurseTaskStatus(ctx, nt.ID, uuid.New(), task.StatusCompleted, nil); !apperr.HasCode(err, apperr.CodeAccessDenied) {
		t.Errorf("other nurse: expected ACCESS_DENIED, got %v", err)
	}
	if _, err := svc.UpdateNurseTaskStatus(ctx, nt.ID, nurse, "DONE", nil); !apperr.HasCode(err, apperr.CodeValidation) {
		t.Errorf("unknown status: expected VALIDATION_ERROR, got %v", err)
	}

	notes := "dressing changed"
	done, err := svc.UpdateNurseTaskStatus(ctx, nt.ID, nurse, "completed", &notes)
	if err != nil {
		t.Fatalf("UpdateNurseTaskStatus: %v", err)
	}
	if done.Status != task.StatusCompleted || done.CompletedAt == nil {
		t.Errorf("expected completed with timestamp, got %+v", done)
	}
	if done.Notes == nil || *done.Notes != notes {
		t.Errorf("expected notes to be kept")
	}
}

func TestUpdateNurseTaskStatus_BindsActorFromPending(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	nurse := uuid.New()
	nt := mustNurseTask(t, svc, task.PriorityRoutine)

	got, err := svc.UpdateNurseTaskStatus(ctx, nt.ID, nurse, task.StatusCompleted, nil)
	if err != nil {
		t.Fatalf("UpdateNurseTaskStatus: %v", err)
	}
	if got.AssignedNurseID == nil || *got.AssignedNurseID != nurse || got.ClaimedAt == nil {
		t.Errorf("expected the acting nurse to be bound, got %+v", got)
	}
	if _, err := svc.ClaimNurseTask(ctx, nt.ID, uuid.New()); !apperr.HasCode(err, apperr.CodeTaskAlreadyClaimed) {
		t.Errorf("expected TASK_ALREADY_CLAIMED on completed task, got %v", err)
	}
}

func TestListPendingNurseTasks_UrgentFirst(t *testing.T) {
	svc, _ := newService(t)
	routine := mustNurseTask(t, svc, task.PriorityRoutine)
	time.Sleep(time.Millisecond)
	urgent := mustNurseTask(t, svc, task.PriorityUrgent)
	claimed := mustNurseTask(t, svc, task.PriorityUrgent)
	_, _ = svc.ClaimNurseTask(context.Background(), claimed.ID, uuid.New())

	items, total, err := svc.ListPendingNurseTasks(context.Background(), 10, 0)
	if err != nil {
		t.Fatalf("ListPendingNurseTasks: %v", err)
	}
	if total != 2 || len(items) != 2 {
		t.Fatalf("expected 2 pending tasks, got %d", total)
	}
	if items[0].ID != urgent.ID || items[1].ID != routine.ID {
		t.Error("expected the urgent task first")
	}
}

func TestCreateLabOrder_Validation(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	if err := svc.CreateLabOrder(ctx, &task.LabOrder{PatientID: uuid.New()}, nil); !apperr.HasCode(err, apperr.CodeValidation) {
		t.Errorf("no tests: expected VALIDATION_ERROR, got %v", err)
	}
	o := &task.LabOrder{PatientID: uuid.New(), Urgency: "whenever"}
	if err := svc.CreateLabOrder(ctx, o, []uuid.UUID{uuid.New()}); !apperr.HasCode(err, apperr.CodeValidation) {
		t.Errorf("bad urgency: expected VALIDATION_ERROR, got %v", err)
	}

	def := mustLabOrder(t, svc, "", 1)
	if def.Urgency != task.PriorityRoutine || def.Status != task.StatusPending {
		t.Errorf("expected ROUTINE PENDING defaults, got %s %s", def.Urgency, def.Status)
	}
}

func TestListPendingLabOrders_ByUrgency(t *testing.T) {
	svc, _ := newService(t)
	routine := mustLabOrder(t, svc, task.PriorityRoutine, 1)
	urgent := mustLabOrder(t, svc, task.PriorityUrgent, 1)
	stat := mustLabOrder(t, svc, task.UrgencyStat, 1)

	items, _, err := svc.ListPendingLabOrders(context.Background(), 10, 0)
	if err != nil {
		t.Fatalf("ListPendingLabOrders: %v", err)
	}
	want := []uuid.UUID{stat.ID, urgent.ID, routine.ID}
	for i, id := range want {
		if items[i].ID != id {
			t.Fatalf("position %d: expected %s, got %s", i, id, items[i].ID)
		}
	}
}

func TestRecordLabResult_CompletesOrderWithLastTest(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()
	tech := uuid.New()
	o := mustLabOrder(t, svc, task.UrgencyStat, 2)

	if _, err := svc.RecordLabResult(ctx, o.Tests[0].ID, tech, "4.2 mmol/L", false); !apperr.HasCode(err, apperr.CodeInvalidTransition) {
		t.Errorf("unclaimed order: expected INVALID_TRANSITION, got %v", err)
	}
	if _, err := svc.ClaimLabOrder(ctx, o.ID, tech); err != nil {
		t.Fatalf("ClaimLabOrder: %v", err)
	}
	if _, err := svc.RecordLabResult(ctx, o.Tests[0].ID, uuid.New(), "4.2 mmol/L", false); !apperr.HasCode(err, apperr.CodeAccessDenied) {
		t.Errorf("other technician: expected ACCESS_DENIED, got %v", err)
	}
	if _, err := svc.RecordLabResult(ctx, o.Tests[0].ID, tech, " ", false); !apperr.HasCode(err, apperr.CodeValidation) {
		t.Errorf("empty result: expected VALIDATION_ERROR, got %v", err)
	}

	got, err := svc.RecordLabResult(ctx, o.Tests[0].ID, tech, "4.2 mmol/L", false)
	if err != nil {
		t.Fatalf("RecordLabResult: %v", err)
	}
	if got.Status != task.StatusInProgress {
		t.Errorf("expected order to stay in progress, got %s", got.Status)
	}
	if _, err := svc.RecordLabResult(ctx, o.Tests[0].ID, tech, "again", false); !apperr.HasCode(err, apperr.CodeInvalidTransition) {
		t.Errorf("repeat result: expected INVALID_TRANSITION, got %v", err)
	}

	got, err = svc.RecordLabResult(ctx, o.Tests[1].ID, tech, "high", true)
	if err != nil {
		t.Fatalf("RecordLabResult: %v", err)
	}
	if got.Status != task.StatusCompleted || got.CompletedAt == nil {
		t.Errorf("expected order completed, got %+v", got)
	}

	n, err := store.LabTests().CountCompletedForPatient(ctx, o.PatientID, o.CreatedAt.Add(-time.Minute), time.Now().Add(time.Minute))
	if err != nil || n != 2 {
		t.Errorf("expected 2 completed tests, got %d (%v)", n, err)
	}
}

func TestClaimLabOrder_Twice(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	o := mustLabOrder(t, svc, task.PriorityRoutine, 1)
	if _, err := svc.ClaimLabOrder(ctx, o.ID, uuid.New()); err != nil {
		t.Fatalf("ClaimLabOrder: %v", err)
	}
	if _, err := svc.ClaimLabOrder(ctx, o.ID, uuid.New()); !apperr.HasCode(err, apperr.CodeTaskAlreadyClaimed) {
		t.Errorf("expected TASK_ALREADY_CLAIMED, got %v", err)
	}
}
