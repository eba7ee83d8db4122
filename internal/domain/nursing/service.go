package nursing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/ehr/careflow/internal/domain/admission"
	"github.com/ehr/careflow/internal/domain/identity"
	"github.com/ehr/careflow/internal/platform/apperr"
	"github.com/ehr/careflow/internal/platform/db"
	"github.com/ehr/careflow/internal/platform/metrics"
)

// PatientFinder resolves patients. identity.PatientRepository satisfies it.
type PatientFinder interface {
	GetByID(ctx context.Context, id uuid.UUID) (*identity.Patient, error)
}

// AdmissionFinder returns a patient's open admission, nil when none.
// *admission.Service satisfies it.
type AdmissionFinder interface {
	OpenAdmissionForPatient(ctx context.Context, patientID uuid.UUID) (*admission.Admission, error)
}

var (
	minTemperature = decimal.NewFromInt(30)
	maxTemperature = decimal.NewFromInt(45)
)

type Service struct {
	tx         db.Transactor
	vitals     VitalsRepository
	patients   PatientFinder
	admissions AdmissionFinder
	now        func() time.Time
}

func NewService(tx db.Transactor, vitals VitalsRepository, patients PatientFinder, admissions AdmissionFinder) *Service {
	return &Service{
		tx:         tx,
		vitals:     vitals,
		patients:   patients,
		admissions: admissions,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func checkRange(name string, v *int, lo, hi int) error {
	if v != nil && (*v < lo || *v > hi) {
		return apperr.Validation("%s must be between %d and %d", name, lo, hi)
	}
	return nil
}

// Validate rejects empty recordings and implausible values.
func Validate(v *VitalSign) error {
	if !v.HasMeasurement() {
		return apperr.Validation("at least one measurement is required")
	}
	if t := v.TemperatureC; t != nil && (t.LessThan(minTemperature) || t.GreaterThan(maxTemperature)) {
		return apperr.Validation("temperature_c must be between %s and %s", minTemperature, maxTemperature)
	}
	checks := []error{
		checkRange("pulse", v.Pulse, 20, 250),
		checkRange("respiratory_rate", v.RespiratoryRate, 4, 80),
		checkRange("systolic", v.Systolic, 50, 300),
		checkRange("diastolic", v.Diastolic, 20, 200),
		checkRange("spo2", v.SpO2, 50, 100),
	}
	for _, err := range checks {
		if err != nil {
			return err
		}
	}
	if v.Systolic != nil && v.Diastolic != nil && *v.Diastolic >= *v.Systolic {
		return apperr.Validation("diastolic must be lower than systolic")
	}
	return nil
}

// RecordVitals stores one bedside recording, linking it to the patient's
// open admission when there is one.
func (s *Service) RecordVitals(ctx context.Context, nurseID, patientID uuid.UUID, v *VitalSign) (err error) {
	defer metrics.Observe("nursing.record_vitals", time.Now(), &err)

	if err := Validate(v); err != nil {
		return err
	}
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := s.patients.GetByID(ctx, patientID); err != nil {
			if db.IsNotFound(err) {
				return apperr.NotFound(apperr.CodePatientNotFound, patientID)
			}
			return fmt.Errorf("get patient: %w", err)
		}
		open, err := s.admissions.OpenAdmissionForPatient(ctx, patientID)
		if err != nil {
			return err
		}
		v.PatientID = patientID
		v.NurseID = nurseID
		v.AdmissionID = nil
		if open != nil {
			v.AdmissionID = &open.ID
		}
		if v.RecordedAt.IsZero() {
			v.RecordedAt = s.now()
		}
		if err := s.vitals.Create(ctx, v); err != nil {
			return fmt.Errorf("create vital sign: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	zerolog.Ctx(ctx).Info().Str("patient_id", patientID.String()).Str("vital_id", v.ID.String()).Msg("vitals recorded")
	return nil
}

func (s *Service) ListVitals(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*VitalSign, int, error) {
	return s.vitals.ListByPatient(ctx, patientID, limit, offset)
}

// CountInWindow counts recordings for billing.
func (s *Service) CountInWindow(ctx context.Context, patientID uuid.UUID, from, to time.Time) (int, error) {
	return s.vitals.CountInWindow(ctx, patientID, from, to)
}
