package task

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type NurseTaskRepository interface {
	Create(ctx context.Context, t *NurseTask) error
	GetByID(ctx context.Context, id uuid.UUID) (*NurseTask, error)
	// GetForUpdate reads the task and locks its row, so concurrent claims
	// observe each other's result.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*NurseTask, error)
	// Update writes status, assignment, notes and timestamps.
	Update(ctx context.Context, t *NurseTask) error
	// ListPending returns pending tasks, urgent first then oldest.
	ListPending(ctx context.Context, limit, offset int) ([]*NurseTask, int, error)
	ListByNurse(ctx context.Context, nurseID uuid.UUID) ([]*NurseTask, error)
	ListByRecord(ctx context.Context, recordID uuid.UUID) ([]*NurseTask, error)
}

type LabOrderRepository interface {
	Create(ctx context.Context, o *LabOrder) error
	GetByID(ctx context.Context, id uuid.UUID) (*LabOrder, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*LabOrder, error)
	Update(ctx context.Context, o *LabOrder) error
	// ListPending returns pending orders, STAT first, then URGENT, then
	// ROUTINE, oldest first within each.
	ListPending(ctx context.Context, limit, offset int) ([]*LabOrder, int, error)
	ListByRecord(ctx context.Context, recordID uuid.UUID) ([]*LabOrder, error)
}

type LabTestRepository interface {
	Create(ctx context.Context, t *LabOrderTest) error
	GetForUpdate(ctx context.Context, id uuid.UUID) (*LabOrderTest, error)
	Update(ctx context.Context, t *LabOrderTest) error
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]*LabOrderTest, error)
	// CountCompletedForPatient counts completed tests on the patient's orders
	// created within [from, to].
	CountCompletedForPatient(ctx context.Context, patientID uuid.UUID, from, to time.Time) (int, error)
}
