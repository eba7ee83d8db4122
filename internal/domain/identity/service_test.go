package identity

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/careflow/internal/platform/apperr"
	"github.com/ehr/careflow/internal/platform/db"
)

// -- Mock Repositories --

type directTx struct{}

func (directTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type mockPatientRepo struct {
	store map[uuid.UUID]*Patient
}

func newMockPatientRepo() *mockPatientRepo {
	return &mockPatientRepo{store: make(map[uuid.UUID]*Patient)}
}

func (m *mockPatientRepo) Create(_ context.Context, p *Patient) error {
	p.ID = uuid.New()
	p.CreatedAt = time.Now()
	m.store[p.ID] = p
	return nil
}

func (m *mockPatientRepo) GetByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	p, ok := m.store[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	return p, nil
}

func (m *mockPatientRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return m.GetByID(ctx, id)
}

func (m *mockPatientRepo) List(_ context.Context, limit, offset int) ([]*Patient, int, error) {
	var r []*Patient
	for _, p := range m.store {
		r = append(r, p)
	}
	return r, len(r), nil
}

type mockStaffRepo struct {
	store map[uuid.UUID]*Staff
}

func newMockStaffRepo() *mockStaffRepo {
	return &mockStaffRepo{store: make(map[uuid.UUID]*Staff)}
}

func (m *mockStaffRepo) Create(_ context.Context, s *Staff) error {
	s.ID = uuid.New()
	m.store[s.ID] = s
	return nil
}

func (m *mockStaffRepo) GetByID(_ context.Context, id uuid.UUID) (*Staff, error) {
	s, ok := m.store[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	return s, nil
}

func (m *mockStaffRepo) ListByRole(_ context.Context, role string, limit, offset int) ([]*Staff, int, error) {
	var r []*Staff
	for _, s := range m.store {
		if role == "" || s.Role == role {
			r = append(r, s)
		}
	}
	return r, len(r), nil
}

type mockAssignmentRepo struct {
	store map[uuid.UUID]*NurseAssignment
}

func newMockAssignmentRepo() *mockAssignmentRepo {
	return &mockAssignmentRepo{store: make(map[uuid.UUID]*NurseAssignment)}
}

func (m *mockAssignmentRepo) Create(_ context.Context, a *NurseAssignment) error {
	a.ID = uuid.New()
	m.store[a.ID] = a
	return nil
}

func (m *mockAssignmentRepo) GetByID(_ context.Context, id uuid.UUID) (*NurseAssignment, error) {
	a, ok := m.store[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	return a, nil
}

func (m *mockAssignmentRepo) FindActive(_ context.Context, nurseID, wardID uuid.UUID) (*NurseAssignment, error) {
	for _, a := range m.store {
		if a.NurseID == nurseID && a.WardID == wardID && a.Active {
			return a, nil
		}
	}
	return nil, db.ErrNotFound
}

func (m *mockAssignmentRepo) End(_ context.Context, id uuid.UUID, at time.Time) error {
	a, ok := m.store[id]
	if !ok || !a.Active {
		return db.ErrNotFound
	}
	a.Active = false
	a.EndedAt = &at
	return nil
}

func (m *mockAssignmentRepo) ListActiveByWard(_ context.Context, wardID uuid.UUID) ([]*NurseAssignment, error) {
	var r []*NurseAssignment
	for _, a := range m.store {
		if a.WardID == wardID && a.Active {
			r = append(r, a)
		}
	}
	return r, nil
}

type stubWards map[uuid.UUID]bool

func (s stubWards) WardExists(_ context.Context, id uuid.UUID) (bool, error) {
	return s[id], nil
}

func newTestService() *Service {
	return NewService(directTx{}, newMockPatientRepo(), newMockStaffRepo(), newMockAssignmentRepo())
}

func mustStaff(t *testing.T, svc *Service, role string) *Staff {
	t.Helper()
	s := &Staff{Name: "Staff " + role, Role: role}
	if err := svc.RegisterStaff(context.Background(), s); err != nil {
		t.Fatalf("RegisterStaff: %v", err)
	}
	return s
}

// -- Service Tests --

func TestRegisterPatient_Success(t *testing.T) {
	svc := newTestService()
	p := &Patient{FirstName: "Asha", LastName: "Rao", SeriousCase: true}
	if err := svc.RegisterPatient(context.Background(), p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.ID == uuid.Nil {
		t.Error("expected ID to be set")
	}
	if p.MRN == "" {
		t.Error("expected generated MRN")
	}
}

func TestRegisterPatient_Validation(t *testing.T) {
	svc := newTestService()
	bad := "robot"
	tests := []struct {
		name string
		p    *Patient
	}{
		{"missing first name", &Patient{LastName: "Rao"}},
		{"missing last name", &Patient{FirstName: "Asha"}},
		{"invalid gender", &Patient{FirstName: "Asha", LastName: "Rao", Gender: &bad}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := svc.RegisterPatient(context.Background(), tt.p)
			if !apperr.HasCode(err, apperr.CodeValidation) {
				t.Errorf("expected VALIDATION_ERROR, got %v", err)
			}
		})
	}
}

func TestGetPatient_NotFound(t *testing.T) {
	svc := newTestService()
	_, err := svc.GetPatient(context.Background(), uuid.New())
	if !apperr.HasCode(err, apperr.CodePatientNotFound) {
		t.Errorf("expected PATIENT_NOT_FOUND, got %v", err)
	}
}

func TestRegisterStaff_InvalidRole(t *testing.T) {
	svc := newTestService()
	err := svc.RegisterStaff(context.Background(), &Staff{Name: "X", Role: "janitor"})
	if !apperr.HasCode(err, apperr.CodeValidation) {
		t.Errorf("expected VALIDATION_ERROR, got %v", err)
	}
}

func TestAssignNurseToWard_Success(t *testing.T) {
	svc := newTestService()
	nurse := mustStaff(t, svc, RoleNurse)
	wardID := uuid.New()

	a, err := svc.AssignNurseToWard(context.Background(), nurse.ID, wardID, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !a.Active {
		t.Error("expected active assignment")
	}
	ok, err := svc.HasActiveAssignment(context.Background(), nurse.ID, wardID)
	if err != nil || !ok {
		t.Errorf("expected active assignment, got %v, %v", ok, err)
	}
}

func TestAssignNurseToWard_AlreadyAssigned(t *testing.T) {
	svc := newTestService()
	nurse := mustStaff(t, svc, RoleNurse)
	wardID := uuid.New()

	if _, err := svc.AssignNurseToWard(context.Background(), nurse.ID, wardID, nil); err != nil {
		t.Fatalf("first assignment: %v", err)
	}
	_, err := svc.AssignNurseToWard(context.Background(), nurse.ID, wardID, nil)
	if !apperr.HasCode(err, apperr.CodeAlreadyAssigned) {
		t.Errorf("expected ALREADY_ASSIGNED, got %v", err)
	}
}

func TestAssignNurseToWard_Failures(t *testing.T) {
	svc := newTestService()
	svc.SetWardFinder(stubWards{})
	doctor := mustStaff(t, svc, RoleDoctor)
	nurse := mustStaff(t, svc, RoleNurse)

	tests := []struct {
		name    string
		nurseID uuid.UUID
		code    apperr.Code
	}{
		{"unknown staff", uuid.New(), apperr.CodeStaffNotFound},
		{"not a nurse", doctor.ID, apperr.CodeValidation},
		{"unknown ward", nurse.ID, apperr.CodeWardNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.AssignNurseToWard(context.Background(), tt.nurseID, uuid.New(), nil)
			if !apperr.HasCode(err, tt.code) {
				t.Errorf("expected %s, got %v", tt.code, err)
			}
		})
	}
}

func TestEndAssignment(t *testing.T) {
	svc := newTestService()
	nurse := mustStaff(t, svc, RoleNurse)
	wardID := uuid.New()
	a, err := svc.AssignNurseToWard(context.Background(), nurse.ID, wardID, nil)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}

	if err := svc.EndAssignment(context.Background(), a.ID); err != nil {
		t.Fatalf("EndAssignment: %v", err)
	}
	ok, _ := svc.HasActiveAssignment(context.Background(), nurse.ID, wardID)
	if ok {
		t.Error("expected no active assignment after ending")
	}

	err = svc.EndAssignment(context.Background(), a.ID)
	if !apperr.HasCode(err, apperr.CodeAssignmentNotFound) {
		t.Errorf("expected ASSIGNMENT_NOT_FOUND on second end, got %v", err)
	}
	err = svc.EndAssignment(context.Background(), uuid.New())
	if !apperr.HasCode(err, apperr.CodeAssignmentNotFound) {
		t.Errorf("expected ASSIGNMENT_NOT_FOUND, got %v", err)
	}

	// Ending frees the nurse to be reassigned to the same ward.
	if _, err := svc.AssignNurseToWard(context.Background(), nurse.ID, wardID, nil); err != nil {
		t.Errorf("reassign after end: %v", err)
	}
}
