package identity

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type PatientRepository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	// GetForUpdate reads the patient and locks the row for the rest of the
	// unit of work.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Patient, error)
	List(ctx context.Context, limit, offset int) ([]*Patient, int, error)
}

type StaffRepository interface {
	Create(ctx context.Context, s *Staff) error
	GetByID(ctx context.Context, id uuid.UUID) (*Staff, error)
	ListByRole(ctx context.Context, role string, limit, offset int) ([]*Staff, int, error)
}

type AssignmentRepository interface {
	Create(ctx context.Context, a *NurseAssignment) error
	// GetByID locks the assignment row.
	GetByID(ctx context.Context, id uuid.UUID) (*NurseAssignment, error)
	// FindActive returns the nurse's active assignment to the ward, or
	// db.ErrNotFound.
	FindActive(ctx context.Context, nurseID, wardID uuid.UUID) (*NurseAssignment, error)
	End(ctx context.Context, id uuid.UUID, at time.Time) error
	ListActiveByWard(ctx context.Context, wardID uuid.UUID) ([]*NurseAssignment, error)
}
