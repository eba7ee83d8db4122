package nursing

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// VitalSign maps to the vital_sign table. Each row is one bedside recording
// and is billed as one nursing action.
type VitalSign struct {
	ID              uuid.UUID        `db:"id" json:"id"`
	PatientID       uuid.UUID        `db:"patient_id" json:"patient_id"`
	AdmissionID     *uuid.UUID       `db:"admission_id" json:"admission_id,omitempty"`
	NurseID         uuid.UUID        `db:"nurse_id" json:"nurse_id"`
	RecordedAt      time.Time        `db:"recorded_at" json:"recorded_at"`
	TemperatureC    *decimal.Decimal `db:"temperature_c" json:"temperature_c,omitempty"`
	Pulse           *int             `db:"pulse" json:"pulse,omitempty"`
	RespiratoryRate *int             `db:"respiratory_rate" json:"respiratory_rate,omitempty"`
	Systolic        *int             `db:"systolic" json:"systolic,omitempty"`
	Diastolic       *int             `db:"diastolic" json:"diastolic,omitempty"`
	SpO2            *int             `db:"spo2" json:"spo2,omitempty"`
	Notes           *string          `db:"notes" json:"notes,omitempty"`
}

// HasMeasurement reports whether at least one value was recorded.
func (v *VitalSign) HasMeasurement() bool {
	return v.TemperatureC != nil || v.Pulse != nil || v.RespiratoryRate != nil ||
		v.Systolic != nil || v.Diastolic != nil || v.SpO2 != nil
}
