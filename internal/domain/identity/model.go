package identity

import (
	"time"

	"github.com/google/uuid"
)

// Staff roles.
const (
	RoleDoctor        = "doctor"
	RoleNurse         = "nurse"
	RoleLabTechnician = "lab_technician"
	RoleBillingClerk  = "billing_clerk"
	RoleAdmin         = "admin"
)

// Patient maps to the patient table.
type Patient struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	MRN         string     `db:"mrn" json:"mrn"`
	FirstName   string     `db:"first_name" json:"first_name"`
	LastName    string     `db:"last_name" json:"last_name"`
	BirthDate   *time.Time `db:"birth_date" json:"birth_date,omitempty"`
	Gender      *string    `db:"gender" json:"gender,omitempty"`
	SeriousCase bool       `db:"serious_case" json:"serious_case"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
}

func (p *Patient) FullName() string {
	return p.FirstName + " " + p.LastName
}

// Staff maps to the staff table.
type Staff struct {
	ID             uuid.UUID `db:"id" json:"id"`
	Name           string    `db:"name" json:"name"`
	Role           string    `db:"role" json:"role"`
	Specialization *string   `db:"specialization" json:"specialization,omitempty"`
	Active         bool      `db:"active" json:"active"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// NurseAssignment binds a nurse to a ward for a shift.
type NurseAssignment struct {
	ID        uuid.UUID  `db:"id" json:"id"`
	NurseID   uuid.UUID  `db:"nurse_id" json:"nurse_id"`
	WardID    uuid.UUID  `db:"ward_id" json:"ward_id"`
	Shift     *string    `db:"shift" json:"shift,omitempty"`
	Active    bool       `db:"active" json:"active"`
	StartedAt time.Time  `db:"started_at" json:"started_at"`
	EndedAt   *time.Time `db:"ended_at" json:"ended_at,omitempty"`
}
