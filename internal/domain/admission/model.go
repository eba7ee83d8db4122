package admission

import (
	"time"

	"github.com/google/uuid"
)

// Admission maps to the admission table. DischargeDate is nil while the
// admission is open.
type Admission struct {
	ID                uuid.UUID  `db:"id" json:"id"`
	PatientID         uuid.UUID  `db:"patient_id" json:"patient_id"`
	WardID            uuid.UUID  `db:"ward_id" json:"ward_id"`
	BedID             uuid.UUID  `db:"bed_id" json:"bed_id"`
	DoctorID          uuid.UUID  `db:"doctor_id" json:"doctor_id"`
	AdmittedBy        uuid.UUID  `db:"admitted_by" json:"admitted_by"`
	Reason            string     `db:"reason" json:"reason"`
	AdmissionDate     time.Time  `db:"admission_date" json:"admission_date"`
	ExpectedDischarge *time.Time `db:"expected_discharge" json:"expected_discharge,omitempty"`
	DischargeDate     *time.Time `db:"discharge_date" json:"discharge_date,omitempty"`
	DischargeSummary  *string    `db:"discharge_summary" json:"discharge_summary,omitempty"`
}

func (a *Admission) IsOpen() bool { return a.DischargeDate == nil }

// AdmitRequest carries the inputs of Admit.
type AdmitRequest struct {
	NurseID           uuid.UUID  `json:"-"`
	PatientID         uuid.UUID  `json:"patient_id"`
	WardID            uuid.UUID  `json:"ward_id"`
	BedID             uuid.UUID  `json:"bed_id"`
	DoctorID          uuid.UUID  `json:"doctor_id"`
	Reason            string     `json:"reason"`
	ExpectedDischarge *time.Time `json:"expected_discharge,omitempty"`
}

// AdmitResult reports which admission now holds the patient and whether an
// existing admission was moved to a new bed.
type AdmitResult struct {
	AdmissionID   uuid.UUID  `json:"admission_id"`
	Reassigned    bool       `json:"reassigned"`
	PreviousBedID *uuid.UUID `json:"previous_bed_id,omitempty"`
}
