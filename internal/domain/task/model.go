package task

import (
	"time"

	"github.com/google/uuid"
)

// Lifecycle shared by nurse tasks and lab orders.
const (
	StatusPending    = "PENDING"
	StatusInProgress = "IN_PROGRESS"
	StatusCompleted  = "COMPLETED"
)

// Nurse task priorities and lab order urgencies.
const (
	PriorityRoutine = "ROUTINE"
	PriorityUrgent  = "URGENT"
	UrgencyStat     = "STAT"
)

// Lab order test statuses.
const (
	TestPending   = "PENDING"
	TestCompleted = "COMPLETED"
)

var statusRank = map[string]int{
	StatusPending:    0,
	StatusInProgress: 1,
	StatusCompleted:  2,
}

// NurseTask maps to the nurse_task table.
type NurseTask struct {
	ID              uuid.UUID  `db:"id" json:"id"`
	RecordID        uuid.UUID  `db:"record_id" json:"record_id"`
	PatientID       uuid.UUID  `db:"patient_id" json:"patient_id"`
	DoctorID        uuid.UUID  `db:"doctor_id" json:"doctor_id"`
	Priority        string     `db:"priority" json:"priority"`
	Status          string     `db:"status" json:"status"`
	AssignedNurseID *uuid.UUID `db:"assigned_nurse_id" json:"assigned_nurse_id,omitempty"`
	Notes           *string    `db:"notes" json:"notes,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	ClaimedAt       *time.Time `db:"claimed_at" json:"claimed_at,omitempty"`
	CompletedAt     *time.Time `db:"completed_at" json:"completed_at,omitempty"`
}

// LabOrder maps to the lab_order table.
type LabOrder struct {
	ID                   uuid.UUID       `db:"id" json:"id"`
	RecordID             uuid.UUID       `db:"record_id" json:"record_id"`
	PatientID            uuid.UUID       `db:"patient_id" json:"patient_id"`
	DoctorID             uuid.UUID       `db:"doctor_id" json:"doctor_id"`
	Urgency              string          `db:"urgency" json:"urgency"`
	Status               string          `db:"status" json:"status"`
	AssignedTechnicianID *uuid.UUID      `db:"assigned_technician_id" json:"assigned_technician_id,omitempty"`
	Notes                *string         `db:"notes" json:"notes,omitempty"`
	CreatedAt            time.Time       `db:"created_at" json:"created_at"`
	ClaimedAt            *time.Time      `db:"claimed_at" json:"claimed_at,omitempty"`
	CompletedAt          *time.Time      `db:"completed_at" json:"completed_at,omitempty"`
	Tests                []*LabOrderTest `db:"-" json:"tests,omitempty"`
}

// LabOrderTest maps to the lab_order_test table.
type LabOrderTest struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	LabOrderID  uuid.UUID  `db:"lab_order_id" json:"lab_order_id"`
	LabTestID   uuid.UUID  `db:"lab_test_id" json:"lab_test_id"`
	Status      string     `db:"status" json:"status"`
	Result      *string    `db:"result" json:"result,omitempty"`
	Abnormal    bool       `db:"abnormal" json:"abnormal"`
	CompletedAt *time.Time `db:"completed_at" json:"completed_at,omitempty"`
}
