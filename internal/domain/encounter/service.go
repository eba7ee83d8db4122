package encounter

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/careflow/internal/domain/identity"
	"github.com/ehr/careflow/internal/domain/inventory"
	"github.com/ehr/careflow/internal/domain/task"
	"github.com/ehr/careflow/internal/platform/apperr"
	"github.com/ehr/careflow/internal/platform/db"
	"github.com/ehr/careflow/internal/platform/metrics"
	"github.com/ehr/careflow/internal/platform/outbox"
)

// PatientFinder resolves patients. identity.PatientRepository satisfies it.
type PatientFinder interface {
	GetByID(ctx context.Context, id uuid.UUID) (*identity.Patient, error)
}

// TaskScheduler enqueues the work a visit produces. *task.Service satisfies it.
type TaskScheduler interface {
	CreateNurseTask(ctx context.Context, t *task.NurseTask) error
	CreateLabOrder(ctx context.Context, o *task.LabOrder, labTestIDs []uuid.UUID) error
}

// StockLedger deducts dispensed medicine. *inventory.Service satisfies it.
type StockLedger interface {
	Deduct(ctx context.Context, itemID uuid.UUID, quantity int, reason string, referenceID *uuid.UUID, actor uuid.UUID) (*inventory.Item, *inventory.Transaction, error)
}

// Service orchestrates a clinical visit: the medical record, the nursing
// and lab work it spawns, prescriptions and nursing notes.
type Service struct {
	tx            db.Transactor
	records       RecordRepository
	notes         NoteRepository
	prescriptions PrescriptionRepository
	patients      PatientFinder
	tasks         TaskScheduler
	stock         StockLedger
	events        outbox.Recorder
	now           func() time.Time
}

func NewService(tx db.Transactor, records RecordRepository, notes NoteRepository, prescriptions PrescriptionRepository,
	patients PatientFinder, tasks TaskScheduler, stock StockLedger) *Service {
	return &Service{
		tx:            tx,
		records:       records,
		notes:         notes,
		prescriptions: prescriptions,
		patients:      patients,
		tasks:         tasks,
		stock:         stock,
		events:        outbox.Discard{},
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// SetOutbox attaches the recorder domain events are written to.
func (s *Service) SetOutbox(r outbox.Recorder) { s.events = r }

// CreateMedicalReport writes the record, exactly one nurse task and, when
// lab tests were requested, a lab order with one test per id. Nothing is
// written unless every step succeeds.
func (s *Service) CreateMedicalReport(ctx context.Context, in ReportInput) (res *ReportResult, err error) {
	defer metrics.Observe("encounter.create_medical_report", time.Now(), &err)

	if in.PatientID == uuid.Nil {
		return nil, apperr.Validation("patient_id is required")
	}
	if strings.TrimSpace(in.ChiefComplaint) == "" {
		return nil, apperr.Validation("chief_complaint is required")
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		patient, err := s.patients.GetByID(ctx, in.PatientID)
		if err != nil {
			if db.IsNotFound(err) {
				return apperr.NotFound(apperr.CodePatientNotFound, in.PatientID)
			}
			return fmt.Errorf("get patient: %w", err)
		}

		now := s.now()
		rec := &MedicalRecord{
			PatientID:    patient.ID,
			DoctorID:     in.DoctorID,
			Diagnosis:    in.Diagnosis,
			Prescription: in.Prescription,
			Notes: Notes{
				ChiefComplaint:  in.ChiefComplaint,
				Symptoms:        in.Symptoms,
				Diagnosis:       in.Diagnosis,
				AdditionalNotes: in.AdditionalNotes,
			},
			CreatedAt: now,
		}
		if err := s.records.Create(ctx, rec); err != nil {
			return fmt.Errorf("create medical record: %w", err)
		}

		priority := task.PriorityRoutine
		if patient.SeriousCase {
			priority = task.PriorityUrgent
		}
		nt := &task.NurseTask{
			RecordID:  rec.ID,
			PatientID: patient.ID,
			DoctorID:  in.DoctorID,
			Priority:  priority,
			CreatedAt: now,
		}
		if err := s.tasks.CreateNurseTask(ctx, nt); err != nil {
			return err
		}
		res = &ReportResult{RecordID: rec.ID, NurseTaskID: nt.ID}

		if in.RequiresLabTests && len(in.LabTestIDs) > 0 {
			order := &task.LabOrder{
				RecordID:  rec.ID,
				PatientID: patient.ID,
				DoctorID:  in.DoctorID,
				Urgency:   in.LabUrgency,
				CreatedAt: now,
			}
			if err := s.tasks.CreateLabOrder(ctx, order, in.LabTestIDs); err != nil {
				return err
			}
			res.LabOrderID = &order.ID
			res.LabOrderCreated = true
		}
		return outbox.Emit(ctx, s.events, "medical_record", rec.ID, outbox.RecordCreated, res)
	})
	if err != nil {
		return nil, err
	}
	zerolog.Ctx(ctx).Info().
		Str("record_id", res.RecordID.String()).
		Str("patient_id", in.PatientID.String()).
		Bool("lab_order", res.LabOrderCreated).
		Msg("medical report created")
	return res, nil
}

func (s *Service) getRecord(ctx context.Context, id uuid.UUID) (*MedicalRecord, error) {
	rec, err := s.records.GetByID(ctx, id)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, apperr.NotFound(apperr.CodeRecordNotFound, id)
		}
		return nil, fmt.Errorf("get medical record: %w", err)
	}
	return rec, nil
}

// PrescribeMedicines dispenses every line through the inventory ledger and
// stores the prescription with the unit price at the time of prescribing.
// The first failing line rolls back the whole prescription.
func (s *Service) PrescribeMedicines(ctx context.Context, doctorID, recordID uuid.UUID, lines []MedicineLine) (items []*PrescriptionItem, err error) {
	defer metrics.Observe("encounter.prescribe_medicines", time.Now(), &err)

	if len(lines) == 0 {
		return nil, apperr.Validation("at least one medicine is required")
	}
	for i, l := range lines {
		if l.ItemID == uuid.Nil {
			return nil, apperr.Validation("medicines[%d]: item_id is required", i)
		}
		if l.Quantity <= 0 {
			return nil, apperr.Validation("medicines[%d]: quantity must be positive", i)
		}
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		rec, err := s.getRecord(ctx, recordID)
		if err != nil {
			return err
		}
		items = make([]*PrescriptionItem, 0, len(lines))
		for _, l := range lines {
			item, _, err := s.stock.Deduct(ctx, l.ItemID, l.Quantity, "prescription", &rec.ID, doctorID)
			if err != nil {
				if apperr.HasCode(err, apperr.CodeItemNotFound) {
					name := l.MedicineName
					if name == "" {
						name = l.ItemID.String()
					}
					return apperr.New(apperr.CodeMedicineNotFound, "medicine %s not found", name).
						With("item", name).
						With("item_id", l.ItemID.String())
				}
				return err
			}
			name := l.MedicineName
			if name == "" {
				name = item.Name
			}
			p := &PrescriptionItem{
				RecordID:     rec.ID,
				ItemID:       item.ID,
				MedicineName: name,
				Dosage:       l.Dosage,
				Frequency:    l.Frequency,
				Duration:     l.Duration,
				Quantity:     l.Quantity,
				Instructions: l.Instructions,
				UnitPrice:    item.UnitPrice,
				CreatedAt:    s.now(),
			}
			if err := s.prescriptions.Create(ctx, p); err != nil {
				return fmt.Errorf("create prescription item: %w", err)
			}
			items = append(items, p)
		}
		return outbox.Emit(ctx, s.events, "medical_record", rec.ID, outbox.PrescriptionCreated, items)
	})
	if err != nil {
		return nil, err
	}
	zerolog.Ctx(ctx).Info().Str("record_id", recordID.String()).Int("items", len(items)).Msg("medicines prescribed")
	return items, nil
}

// AddNursingNotes appends one entry to the record's nursing notes.
func (s *Service) AddNursingNotes(ctx context.Context, recordID, nurseID uuid.UUID, text string) (*NursingNote, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, apperr.Validation("text is required")
	}
	var note *NursingNote
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := s.getRecord(ctx, recordID); err != nil {
			return err
		}
		note = &NursingNote{RecordID: recordID, NurseID: nurseID, Text: text, CreatedAt: s.now()}
		if err := s.notes.Create(ctx, note); err != nil {
			return fmt.Errorf("create nursing note: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return note, nil
}

// GetMedicalRecord returns the record with its nursing notes rendered into
// the notes document.
func (s *Service) GetMedicalRecord(ctx context.Context, id uuid.UUID) (*MedicalRecord, error) {
	rec, err := s.getRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	notes, err := s.notes.ListByRecord(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list nursing notes: %w", err)
	}
	rec.Notes.NursingNotes = make([]NursingEntry, 0, len(notes))
	for _, n := range notes {
		rec.Notes.NursingNotes = append(rec.Notes.NursingNotes, NursingEntry{Nurse: n.NurseID, Timestamp: n.CreatedAt, Text: n.Text})
	}
	return rec, nil
}

func (s *Service) ListRecordsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*MedicalRecord, int, error) {
	return s.records.ListByPatient(ctx, patientID, limit, offset)
}

func (s *Service) ListPrescriptionItems(ctx context.Context, recordID uuid.UUID) ([]*PrescriptionItem, error) {
	if _, err := s.getRecord(ctx, recordID); err != nil {
		return nil, err
	}
	return s.prescriptions.ListByRecord(ctx, recordID)
}
