package nursing

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type VitalsRepository interface {
	Create(ctx context.Context, v *VitalSign) error
	// ListByPatient returns recordings newest first.
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*VitalSign, int, error)
	// CountInWindow counts the patient's recordings taken within [from, to].
	CountInWindow(ctx context.Context, patientID uuid.UUID, from, to time.Time) (int, error)
}
