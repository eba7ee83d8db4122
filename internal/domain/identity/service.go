package identity

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/careflow/internal/platform/apperr"
	"github.com/ehr/careflow/internal/platform/db"
	"github.com/ehr/careflow/internal/platform/metrics"
	"github.com/ehr/careflow/internal/platform/outbox"
)

// WardFinder reports whether a ward exists. Satisfied by the ward service.
type WardFinder interface {
	WardExists(ctx context.Context, id uuid.UUID) (bool, error)
}

type Service struct {
	tx          db.Transactor
	patients    PatientRepository
	staff       StaffRepository
	assignments AssignmentRepository
	wards       WardFinder
	events      outbox.Recorder
	now         func() time.Time
}

func NewService(tx db.Transactor, patients PatientRepository, staff StaffRepository, assignments AssignmentRepository) *Service {
	return &Service{
		tx:          tx,
		patients:    patients,
		staff:       staff,
		assignments: assignments,
		events:      outbox.Discard{},
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// SetWardFinder enables ward existence checks on assignment.
func (s *Service) SetWardFinder(w WardFinder) { s.wards = w }

// SetOutbox attaches the recorder domain events are written to.
func (s *Service) SetOutbox(r outbox.Recorder) { s.events = r }

var validRoles = map[string]bool{
	RoleDoctor:        true,
	RoleNurse:         true,
	RoleLabTechnician: true,
	RoleBillingClerk:  true,
	RoleAdmin:         true,
}

var validGenders = map[string]bool{
	"male":    true,
	"female":  true,
	"other":   true,
	"unknown": true,
}

// -- Patients --

func (s *Service) RegisterPatient(ctx context.Context, p *Patient) error {
	if strings.TrimSpace(p.FirstName) == "" || strings.TrimSpace(p.LastName) == "" {
		return apperr.Validation("first_name and last_name are required")
	}
	if p.Gender != nil && !validGenders[*p.Gender] {
		return apperr.Validation("invalid gender: %s", *p.Gender)
	}
	if p.MRN == "" {
		p.MRN = "MRN-" + strings.ToUpper(uuid.NewString()[:8])
	}
	if err := s.patients.Create(ctx, p); err != nil {
		return fmt.Errorf("create patient: %w", err)
	}
	return nil
}

func (s *Service) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	p, err := s.patients.GetByID(ctx, id)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, apperr.NotFound(apperr.CodePatientNotFound, id)
		}
		return nil, fmt.Errorf("get patient: %w", err)
	}
	return p, nil
}

func (s *Service) ListPatients(ctx context.Context, limit, offset int) ([]*Patient, int, error) {
	return s.patients.List(ctx, limit, offset)
}

// -- Staff --

func (s *Service) RegisterStaff(ctx context.Context, st *Staff) error {
	if strings.TrimSpace(st.Name) == "" {
		return apperr.Validation("name is required")
	}
	if !validRoles[st.Role] {
		return apperr.Validation("invalid role: %s", st.Role)
	}
	st.Active = true
	if err := s.staff.Create(ctx, st); err != nil {
		return fmt.Errorf("create staff: %w", err)
	}
	return nil
}

func (s *Service) GetStaff(ctx context.Context, id uuid.UUID) (*Staff, error) {
	st, err := s.staff.GetByID(ctx, id)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, apperr.NotFound(apperr.CodeStaffNotFound, id)
		}
		return nil, fmt.Errorf("get staff: %w", err)
	}
	return st, nil
}

func (s *Service) ListStaff(ctx context.Context, role string, limit, offset int) ([]*Staff, int, error) {
	if role != "" && !validRoles[role] {
		return nil, 0, apperr.Validation("invalid role: %s", role)
	}
	return s.staff.ListByRole(ctx, role, limit, offset)
}

// -- Nurse assignments --

// AssignNurseToWard starts an active assignment of the nurse to the ward.
func (s *Service) AssignNurseToWard(ctx context.Context, nurseID, wardID uuid.UUID, shift *string) (a *NurseAssignment, err error) {
	defer metrics.Observe("identity.assign_nurse", time.Now(), &err)

	if nurseID == uuid.Nil || wardID == uuid.Nil {
		return nil, apperr.Validation("nurse_id and ward_id are required")
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		nurse, err := s.GetStaff(ctx, nurseID)
		if err != nil {
			return err
		}
		if nurse.Role != RoleNurse {
			return apperr.Validation("staff %s is a %s, not a nurse", nurseID, nurse.Role)
		}
		if !nurse.Active {
			return apperr.Validation("staff %s is inactive", nurseID)
		}

		if s.wards != nil {
			ok, err := s.wards.WardExists(ctx, wardID)
			if err != nil {
				return err
			}
			if !ok {
				return apperr.NotFound(apperr.CodeWardNotFound, wardID)
			}
		}

		existing, err := s.assignments.FindActive(ctx, nurseID, wardID)
		if err != nil && !db.IsNotFound(err) {
			return fmt.Errorf("find active assignment: %w", err)
		}
		if existing != nil && err == nil {
			return apperr.New(apperr.CodeAlreadyAssigned, "nurse already assigned to this ward").
				With("assignment_id", existing.ID.String())
		}

		a = &NurseAssignment{
			NurseID:   nurseID,
			WardID:    wardID,
			Shift:     shift,
			Active:    true,
			StartedAt: s.now(),
		}
		if err := s.assignments.Create(ctx, a); err != nil {
			return fmt.Errorf("create assignment: %w", err)
		}
		return outbox.Emit(ctx, s.events, "nurse_assignment", a.ID, outbox.AssignmentCreated, a)
	})
	if err != nil {
		return nil, err
	}

	zerolog.Ctx(ctx).Info().
		Str("nurse_id", nurseID.String()).
		Str("ward_id", wardID.String()).
		Msg("nurse assigned to ward")
	return a, nil
}

// EndAssignment closes an active assignment.
func (s *Service) EndAssignment(ctx context.Context, id uuid.UUID) (err error) {
	defer metrics.Observe("identity.end_assignment", time.Now(), &err)

	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		a, err := s.assignments.GetByID(ctx, id)
		if err != nil {
			if db.IsNotFound(err) {
				return apperr.NotFound(apperr.CodeAssignmentNotFound, id)
			}
			return fmt.Errorf("get assignment: %w", err)
		}
		if !a.Active {
			return apperr.New(apperr.CodeAssignmentNotFound, "assignment %s is not active", id).With("id", id.String())
		}
		at := s.now()
		if err := s.assignments.End(ctx, id, at); err != nil {
			if db.IsNotFound(err) {
				return apperr.NotFound(apperr.CodeAssignmentNotFound, id)
			}
			return fmt.Errorf("end assignment: %w", err)
		}
		a.Active = false
		a.EndedAt = &at
		return outbox.Emit(ctx, s.events, "nurse_assignment", a.ID, outbox.AssignmentEnded, a)
	})
}

// HasActiveAssignment reports whether the nurse currently works the ward.
func (s *Service) HasActiveAssignment(ctx context.Context, nurseID, wardID uuid.UUID) (bool, error) {
	_, err := s.assignments.FindActive(ctx, nurseID, wardID)
	if err != nil {
		if db.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("find active assignment: %w", err)
	}
	return true, nil
}

func (s *Service) ListWardNurses(ctx context.Context, wardID uuid.UUID) ([]*NurseAssignment, error) {
	return s.assignments.ListActiveByWard(ctx, wardID)
}
