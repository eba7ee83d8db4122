package encounter

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type RecordRepository interface {
	Create(ctx context.Context, r *MedicalRecord) error
	GetByID(ctx context.Context, id uuid.UUID) (*MedicalRecord, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*MedicalRecord, int, error)
	CountByPatient(ctx context.Context, patientID uuid.UUID) (int, error)
	// CountInWindow counts the patient's records created within [from, to].
	CountInWindow(ctx context.Context, patientID uuid.UUID, from, to time.Time) (int, error)
}

type NoteRepository interface {
	Create(ctx context.Context, n *NursingNote) error
	// ListByRecord returns the record's notes oldest first.
	ListByRecord(ctx context.Context, recordID uuid.UUID) ([]*NursingNote, error)
}

type PrescriptionRepository interface {
	Create(ctx context.Context, p *PrescriptionItem) error
	ListByRecord(ctx context.Context, recordID uuid.UUID) ([]*PrescriptionItem, error)
	// ListForPatient returns items on the patient's records created within
	// [from, to].
	ListForPatient(ctx context.Context, patientID uuid.UUID, from, to time.Time) ([]*PrescriptionItem, error)
}
