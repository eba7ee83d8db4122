package encounter

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Notes is the structured notes document of a medical record. NursingNotes
// is assembled on read from the nursing_note table and is never written
// back with the record.
type Notes struct {
	ChiefComplaint  string         `json:"chief_complaint"`
	Symptoms        string         `json:"symptoms"`
	Diagnosis       string         `json:"diagnosis"`
	AdditionalNotes string         `json:"additional_notes"`
	NursingNotes    []NursingEntry `json:"nursing_notes"`
}

// NursingEntry is one line of the rendered nursing_notes list.
type NursingEntry struct {
	Nurse     uuid.UUID `json:"nurse"`
	Timestamp time.Time `json:"timestamp"`
	Text      string    `json:"text"`
}

// MedicalRecord maps to the medical_record table. Records are append-only.
type MedicalRecord struct {
	ID           uuid.UUID `db:"id" json:"id"`
	PatientID    uuid.UUID `db:"patient_id" json:"patient_id"`
	DoctorID     uuid.UUID `db:"doctor_id" json:"doctor_id"`
	Diagnosis    string    `db:"diagnosis" json:"diagnosis"`
	Prescription string    `db:"prescription" json:"prescription"`
	Notes        Notes     `db:"notes" json:"notes"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// NursingNote maps to the nursing_note table.
type NursingNote struct {
	ID        uuid.UUID `db:"id" json:"id"`
	RecordID  uuid.UUID `db:"record_id" json:"record_id"`
	NurseID   uuid.UUID `db:"nurse_id" json:"nurse_id"`
	Text      string    `db:"text" json:"text"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// PrescriptionItem maps to the prescription_item table. UnitPrice is the
// inventory price at the moment of prescribing.
type PrescriptionItem struct {
	ID           uuid.UUID       `db:"id" json:"id"`
	RecordID     uuid.UUID       `db:"record_id" json:"record_id"`
	ItemID       uuid.UUID       `db:"item_id" json:"item_id"`
	MedicineName string          `db:"medicine_name" json:"medicine_name"`
	Dosage       string          `db:"dosage" json:"dosage"`
	Frequency    string          `db:"frequency" json:"frequency"`
	Duration     string          `db:"duration" json:"duration"`
	Quantity     int             `db:"quantity" json:"quantity"`
	Instructions string          `db:"instructions" json:"instructions"`
	UnitPrice    decimal.Decimal `db:"unit_price" json:"unit_price"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
}

// ReportInput is what a doctor submits at the end of a visit.
type ReportInput struct {
	DoctorID         uuid.UUID   `json:"-"`
	PatientID        uuid.UUID   `json:"patient_id"`
	ChiefComplaint   string      `json:"chief_complaint"`
	Symptoms         string      `json:"symptoms"`
	Diagnosis        string      `json:"diagnosis"`
	Prescription     string      `json:"prescription"`
	AdditionalNotes  string      `json:"additional_notes"`
	RequiresLabTests bool        `json:"requires_lab_tests"`
	LabTestIDs       []uuid.UUID `json:"lab_test_ids"`
	LabUrgency       string      `json:"lab_urgency"`
}

// ReportResult identifies what CreateMedicalReport wrote.
type ReportResult struct {
	RecordID        uuid.UUID  `json:"record_id"`
	NurseTaskID     uuid.UUID  `json:"nurse_task_id"`
	LabOrderID      *uuid.UUID `json:"lab_order_id,omitempty"`
	LabOrderCreated bool       `json:"lab_order_created"`
}

// MedicineLine is one requested medicine of a prescription.
type MedicineLine struct {
	ItemID       uuid.UUID `json:"item_id"`
	MedicineName string    `json:"medicine_name"`
	Dosage       string    `json:"dosage"`
	Frequency    string    `json:"frequency"`
	Duration     string    `json:"duration"`
	Quantity     int       `json:"quantity"`
	Instructions string    `json:"instructions"`
}
