package ward

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrBedUnavailable is returned by BedRepository.Occupy when the bed is no
// longer available at write time.
var ErrBedUnavailable = errors.New("bed is not available")

type WardRepository interface {
	Create(ctx context.Context, w *Ward) error
	GetByID(ctx context.Context, id uuid.UUID) (*Ward, error)
	// GetForUpdate reads the ward and locks it for the rest of the unit of
	// work, serialising capacity decisions.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Ward, error)
	List(ctx context.Context, limit, offset int) ([]*Ward, int, error)
}

type BedRepository interface {
	Create(ctx context.Context, b *Bed) error
	GetByID(ctx context.Context, id uuid.UUID) (*Bed, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Bed, error)
	ListByWard(ctx context.Context, wardID uuid.UUID) ([]*Bed, error)
	CountByWard(ctx context.Context, wardID uuid.UUID) (int, error)
	NumberExists(ctx context.Context, wardID uuid.UUID, number string) (bool, error)
	// NumbersWithPrefix returns every bed number in the ward starting with
	// prefix.
	NumbersWithPrefix(ctx context.Context, wardID uuid.UUID, prefix string) ([]string, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status string) error
	Delete(ctx context.Context, id uuid.UUID) error

	// Occupy marks an available bed occupied by the patient. It fails with
	// ErrBedUnavailable when the bed is not available at write time.
	Occupy(ctx context.Context, id, patientID uuid.UUID) error
	// Release marks the bed available and detaches its patient.
	Release(ctx context.Context, id uuid.UUID) error
}
