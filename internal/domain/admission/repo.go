package admission

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, a *Admission) error
	GetByID(ctx context.Context, id uuid.UUID) (*Admission, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Admission, error)
	// FindOpenByPatient returns the patient's open admission or
	// db.ErrNotFound.
	FindOpenByPatient(ctx context.Context, patientID uuid.UUID) (*Admission, error)
	MoveBed(ctx context.Context, id, wardID, bedID uuid.UUID) error
	// Discharge closes an open admission; a closed one yields
	// db.ErrNotFound.
	Discharge(ctx context.Context, id uuid.UUID, at time.Time, summary *string) error
	ListOpenByWard(ctx context.Context, wardID uuid.UUID) ([]*Admission, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Admission, error)
}
