package ward

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Bed statuses.
const (
	BedAvailable   = "available"
	BedOccupied    = "occupied"
	BedMaintenance = "maintenance"
	BedReserved    = "reserved"
)

// Ward maps to the ward table.
type Ward struct {
	ID          uuid.UUID       `db:"id" json:"id"`
	Name        string          `db:"name" json:"name"`
	Category    string          `db:"category" json:"category"`
	BedCapacity int             `db:"bed_capacity" json:"bed_capacity"`
	DailyRate   decimal.Decimal `db:"daily_rate" json:"daily_rate"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
}

// Bed maps to the bed table. Status and CurrentPatientID move together:
// a bed is occupied exactly when a patient is attached.
type Bed struct {
	ID               uuid.UUID  `db:"id" json:"id"`
	WardID           uuid.UUID  `db:"ward_id" json:"ward_id"`
	BedNumber        string     `db:"bed_number" json:"bed_number"`
	Status           string     `db:"status" json:"status"`
	CurrentPatientID *uuid.UUID `db:"current_patient_id" json:"current_patient_id,omitempty"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updated_at"`
}

// Occupancy is a ward together with its bed counts.
type Occupancy struct {
	*Ward
	TotalBeds   int `json:"total_beds"`
	Occupied    int `json:"occupied"`
	Available   int `json:"available"`
	Maintenance int `json:"maintenance"`
	Reserved    int `json:"reserved"`
}
