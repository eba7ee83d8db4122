package admission

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/careflow/internal/domain/identity"
	"github.com/ehr/careflow/internal/domain/ward"
	"github.com/ehr/careflow/internal/platform/apperr"
	"github.com/ehr/careflow/internal/platform/db"
	"github.com/ehr/careflow/internal/platform/metrics"
	"github.com/ehr/careflow/internal/platform/outbox"
)

// PatientLocker locks a patient row for the admission decision.
// identity.PatientRepository satisfies it.
type PatientLocker interface {
	GetForUpdate(ctx context.Context, id uuid.UUID) (*identity.Patient, error)
}

// RecordCounter reports how many medical records a patient has.
type RecordCounter interface {
	CountByPatient(ctx context.Context, patientID uuid.UUID) (int, error)
}

// AssignmentChecker reports whether a nurse is on duty in a ward.
type AssignmentChecker interface {
	HasActiveAssignment(ctx context.Context, nurseID, wardID uuid.UUID) (bool, error)
}

// Service owns the admission lifecycle and is the only writer of bed
// occupancy.
type Service struct {
	tx          db.Transactor
	admissions  Repository
	beds        ward.BedRepository
	patients    PatientLocker
	records     RecordCounter
	assignments AssignmentChecker
	events      outbox.Recorder
	now         func() time.Time
}

func NewService(tx db.Transactor, admissions Repository, beds ward.BedRepository, patients PatientLocker,
	records RecordCounter, assignments AssignmentChecker) *Service {
	return &Service{
		tx:          tx,
		admissions:  admissions,
		beds:        beds,
		patients:    patients,
		records:     records,
		assignments: assignments,
		events:      outbox.Discard{},
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// SetOutbox attaches the recorder domain events are written to.
func (s *Service) SetOutbox(r outbox.Recorder) { s.events = r }

func missingFields(req AdmitRequest) []string {
	var missing []string
	if req.NurseID == uuid.Nil {
		missing = append(missing, "nurse_id")
	}
	if req.PatientID == uuid.Nil {
		missing = append(missing, "patient_id")
	}
	if req.WardID == uuid.Nil {
		missing = append(missing, "ward_id")
	}
	if req.BedID == uuid.Nil {
		missing = append(missing, "bed_id")
	}
	if req.DoctorID == uuid.Nil {
		missing = append(missing, "doctor_id")
	}
	if strings.TrimSpace(req.Reason) == "" {
		missing = append(missing, "reason")
	}
	return missing
}

func bedNotAvailable(id uuid.UUID) error {
	return apperr.New(apperr.CodeBedNotAvailable, "bed is not available").With("bed_id", id.String())
}

// Admit places the patient in the bed. A patient who already has an open
// admission is moved to the new bed instead, freeing the old one in the
// same unit of work.
func (s *Service) Admit(ctx context.Context, req AdmitRequest) (res *AdmitResult, err error) {
	defer metrics.Observe("admission.admit", time.Now(), &err)

	if missing := missingFields(req); len(missing) > 0 {
		return nil, apperr.New(apperr.CodeMissingFields, "missing required fields: %s", strings.Join(missing, ", ")).
			With("fields", missing)
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := s.patients.GetForUpdate(ctx, req.PatientID); err != nil {
			if db.IsNotFound(err) {
				return apperr.NotFound(apperr.CodePatientNotFound, req.PatientID)
			}
			return fmt.Errorf("lock patient: %w", err)
		}
		n, err := s.records.CountByPatient(ctx, req.PatientID)
		if err != nil {
			return fmt.Errorf("count medical records: %w", err)
		}
		if n == 0 {
			return apperr.New(apperr.CodeNoMedicalRecord, "patient has not been assessed by a doctor").
				With("patient_id", req.PatientID.String())
		}
		onDuty, err := s.assignments.HasActiveAssignment(ctx, req.NurseID, req.WardID)
		if err != nil {
			return fmt.Errorf("check nurse assignment: %w", err)
		}
		if !onDuty {
			return apperr.New(apperr.CodeAccessDenied, "nurse is not assigned to this ward").
				With("nurse_id", req.NurseID.String()).
				With("ward_id", req.WardID.String())
		}

		bed, err := s.beds.GetForUpdate(ctx, req.BedID)
		if err != nil {
			if db.IsNotFound(err) {
				return apperr.NotFound(apperr.CodeBedNotFound, req.BedID)
			}
			return fmt.Errorf("lock bed: %w", err)
		}
		if bed.WardID != req.WardID {
			return apperr.NotFound(apperr.CodeBedNotFound, req.BedID)
		}
		if bed.Status != ward.BedAvailable || bed.CurrentPatientID != nil {
			return bedNotAvailable(bed.ID)
		}

		open, err := s.OpenAdmissionForPatient(ctx, req.PatientID)
		if err != nil {
			return err
		}
		if open != nil {
			res, err = s.reassign(ctx, open, req)
		} else {
			res, err = s.admit(ctx, req)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	zerolog.Ctx(ctx).Info().
		Str("admission_id", res.AdmissionID.String()).
		Str("patient_id", req.PatientID.String()).
		Str("bed_id", req.BedID.String()).
		Bool("reassigned", res.Reassigned).
		Msg("patient admitted")
	return res, nil
}

func (s *Service) occupy(ctx context.Context, bedID, patientID uuid.UUID) error {
	if err := s.beds.Occupy(ctx, bedID, patientID); err != nil {
		if errors.Is(err, ward.ErrBedUnavailable) || db.IsNotFound(err) {
			return bedNotAvailable(bedID)
		}
		return fmt.Errorf("occupy bed: %w", err)
	}
	return nil
}

func (s *Service) reassign(ctx context.Context, open *Admission, req AdmitRequest) (*AdmitResult, error) {
	previous := open.BedID
	if err := s.beds.Release(ctx, previous); err != nil && !db.IsNotFound(err) {
		return nil, fmt.Errorf("release bed: %w", err)
	}
	if err := s.occupy(ctx, req.BedID, req.PatientID); err != nil {
		return nil, err
	}
	if err := s.admissions.MoveBed(ctx, open.ID, req.WardID, req.BedID); err != nil {
		return nil, fmt.Errorf("move admission: %w", err)
	}
	res := &AdmitResult{AdmissionID: open.ID, Reassigned: true, PreviousBedID: &previous}
	if err := outbox.Emit(ctx, s.events, "admission", open.ID, outbox.AdmissionReassigned, res); err != nil {
		return nil, err
	}
	return res, nil
}

func (s *Service) admit(ctx context.Context, req AdmitRequest) (*AdmitResult, error) {
	a := &Admission{
		PatientID:         req.PatientID,
		WardID:            req.WardID,
		BedID:             req.BedID,
		DoctorID:          req.DoctorID,
		AdmittedBy:        req.NurseID,
		Reason:            strings.TrimSpace(req.Reason),
		AdmissionDate:     s.now(),
		ExpectedDischarge: req.ExpectedDischarge,
	}
	if err := s.admissions.Create(ctx, a); err != nil {
		if db.IsUniqueViolation(err, "") {
			return nil, bedNotAvailable(req.BedID)
		}
		return nil, fmt.Errorf("create admission: %w", err)
	}
	if err := s.occupy(ctx, req.BedID, req.PatientID); err != nil {
		return nil, err
	}
	if err := outbox.Emit(ctx, s.events, "admission", a.ID, outbox.AdmissionAdmitted, a); err != nil {
		return nil, err
	}
	return &AdmitResult{AdmissionID: a.ID}, nil
}

// Discharge closes the admission at the given time (now when zero) and frees
// its bed. It joins the caller's unit of work.
func (s *Service) Discharge(ctx context.Context, id uuid.UUID, summary *string, at time.Time) (a *Admission, err error) {
	defer metrics.Observe("admission.discharge", time.Now(), &err)

	if at.IsZero() {
		at = s.now()
	}
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		a, err = s.admissions.GetForUpdate(ctx, id)
		if err != nil {
			if db.IsNotFound(err) {
				return apperr.NotFound(apperr.CodeAdmissionNotFound, id)
			}
			return fmt.Errorf("lock admission: %w", err)
		}
		if !a.IsOpen() {
			return apperr.New(apperr.CodeAlreadyDischarged, "admission was discharged at %s", a.DischargeDate.Format(time.RFC3339)).
				With("admission_id", id.String())
		}
		if at.Before(a.AdmissionDate) {
			return apperr.Validation("discharge date precedes admission date")
		}
		if err := s.admissions.Discharge(ctx, id, at, summary); err != nil {
			return fmt.Errorf("discharge admission: %w", err)
		}
		if err := s.beds.Release(ctx, a.BedID); err != nil && !db.IsNotFound(err) {
			return fmt.Errorf("release bed: %w", err)
		}
		a.DischargeDate = &at
		a.DischargeSummary = summary
		return outbox.Emit(ctx, s.events, "admission", id, outbox.AdmissionDischarged, a)
	})
	if err != nil {
		return nil, err
	}
	zerolog.Ctx(ctx).Info().Str("admission_id", id.String()).Str("bed_id", a.BedID.String()).Msg("patient discharged")
	return a, nil
}

func (s *Service) GetAdmission(ctx context.Context, id uuid.UUID) (*Admission, error) {
	a, err := s.admissions.GetByID(ctx, id)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, apperr.NotFound(apperr.CodeAdmissionNotFound, id)
		}
		return nil, fmt.Errorf("get admission: %w", err)
	}
	return a, nil
}

// OpenAdmissionForPatient returns the patient's open admission, or nil when
// the patient is not admitted.
func (s *Service) OpenAdmissionForPatient(ctx context.Context, patientID uuid.UUID) (*Admission, error) {
	a, err := s.admissions.FindOpenByPatient(ctx, patientID)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("find open admission: %w", err)
	}
	return a, nil
}

func (s *Service) ListOpenByWard(ctx context.Context, wardID uuid.UUID) ([]*Admission, error) {
	return s.admissions.ListOpenByWard(ctx, wardID)
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Admission, error) {
	return s.admissions.ListByPatient(ctx, patientID)
}
