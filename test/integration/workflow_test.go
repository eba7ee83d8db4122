//go:build integration

package integration

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ehr/careflow/internal/domain/admission"
	"github.com/ehr/careflow/internal/domain/billing"
	"github.com/ehr/careflow/internal/domain/encounter"
	"github.com/ehr/careflow/internal/domain/inventory"
	"github.com/ehr/careflow/internal/domain/nursing"
	"github.com/ehr/careflow/internal/domain/ward"
	"github.com/ehr/careflow/internal/platform/apperr"
)

func TestAdmissionToPaidBill(t *testing.T) {
	hospital := uniqueHospitalID("flow")
	createHospital(t, hospital)
	e := newEngine()

	withHospital(t, hospital, func(ctx context.Context) {
		s := e.seed(t, ctx, 3)
		patient, report := e.assessedPatient(t, ctx, s.doctor.ID, "MRN-FLOW-1")

		res, err := e.admission.Admit(ctx, admission.AdmitRequest{
			NurseID:   s.nurse.ID,
			PatientID: patient.ID,
			WardID:    s.ward.ID,
			BedID:     s.beds[0].ID,
			DoctorID:  s.doctor.ID,
			Reason:    "observation",
		})
		if err != nil {
			t.Fatalf("Admit: %v", err)
		}
		bed, err := e.ward.GetBed(ctx, s.beds[0].ID)
		if err != nil {
			t.Fatalf("GetBed: %v", err)
		}
		if bed.Status != ward.BedOccupied || bed.CurrentPatientID == nil || *bed.CurrentPatientID != patient.ID {
			t.Fatalf("bed not occupied by patient: %+v", bed)
		}

		pulse := 88
		if err := e.nursing.RecordVitals(ctx, s.nurse.ID, patient.ID, &nursing.VitalSign{Pulse: &pulse}); err != nil {
			t.Fatalf("RecordVitals: %v", err)
		}

		item := &inventory.Item{Name: "Aspirin", Category: "medicine", Unit: "tablet", QuantityInStock: 50, ReorderLevel: 10, UnitPrice: decimal.RequireFromString("2.50")}
		if err := e.inventory.CreateItem(ctx, item, s.doctor.ID); err != nil {
			t.Fatalf("CreateItem: %v", err)
		}
		if _, err := e.encounter.PrescribeMedicines(ctx, s.doctor.ID, report.RecordID, []encounter.MedicineLine{
			{ItemID: item.ID, Dosage: "75mg", Frequency: "daily", Duration: "10 days", Quantity: 10},
		}); err != nil {
			t.Fatalf("PrescribeMedicines: %v", err)
		}
		item, err = e.inventory.GetItem(ctx, item.ID)
		if err != nil {
			t.Fatalf("GetItem: %v", err)
		}
		if item.QuantityInStock != 40 {
			t.Errorf("expected 40 in stock, got %d", item.QuantityInStock)
		}

		bill, err := e.billing.GenerateBill(ctx, billing.GenerateRequest{
			AdmissionID:   res.AdmissionID,
			DischargeDate: time.Now().UTC().Add(48 * time.Hour),
			PaymentMethod: "cash",
			ClerkID:       s.clerk.ID,
		})
		if err != nil {
			t.Fatalf("GenerateBill: %v", err)
		}
		if !bill.Total.IsPositive() || bill.Status != billing.StatusPending {
			t.Fatalf("unexpected bill: total %s status %s", bill.Total, bill.Status)
		}

		adm, err := e.admission.GetAdmission(ctx, res.AdmissionID)
		if err != nil {
			t.Fatalf("GetAdmission: %v", err)
		}
		if adm.DischargeDate == nil {
			t.Error("expected admission to be discharged with the bill")
		}
		if bed, _ = e.ward.GetBed(ctx, s.beds[0].ID); bed.Status != ward.BedAvailable {
			t.Errorf("expected bed released, got %s", bed.Status)
		}

		if _, err := e.billing.ProcessPayment(ctx, bill.ID, bill.Total.Add(decimal.NewFromInt(1)), "cash", "", s.clerk.ID); !apperr.HasCode(err, apperr.CodePaymentExceedsAmount) {
			t.Fatalf("expected overpayment rejection, got %v", err)
		}
		paid, err := e.billing.ProcessPayment(ctx, bill.ID, bill.Total, "card", "txn-1", s.clerk.ID)
		if err != nil {
			t.Fatalf("ProcessPayment: %v", err)
		}
		if paid.Status != billing.StatusPaid {
			t.Errorf("expected paid, got %s", paid.Status)
		}

		pending, err := e.outbox.PendingCount(ctx)
		if err != nil {
			t.Fatalf("PendingCount: %v", err)
		}
		if pending == 0 {
			t.Error("expected domain events in the outbox")
		}
	})
}

func TestReassignmentMovesPatient(t *testing.T) {
	hospital := uniqueHospitalID("move")
	createHospital(t, hospital)
	e := newEngine()

	withHospital(t, hospital, func(ctx context.Context) {
		s := e.seed(t, ctx, 2)
		patient, _ := e.assessedPatient(t, ctx, s.doctor.ID, "MRN-MOVE-1")

		req := admission.AdmitRequest{NurseID: s.nurse.ID, PatientID: patient.ID, WardID: s.ward.ID, BedID: s.beds[0].ID, DoctorID: s.doctor.ID}
		first, err := e.admission.Admit(ctx, req)
		if err != nil {
			t.Fatalf("first Admit: %v", err)
		}
		req.BedID = s.beds[1].ID
		second, err := e.admission.Admit(ctx, req)
		if err != nil {
			t.Fatalf("second Admit: %v", err)
		}
		if !second.Reassigned || second.AdmissionID != first.AdmissionID {
			t.Fatalf("expected reassignment of the same admission, got %+v", second)
		}

		old, _ := e.ward.GetBed(ctx, s.beds[0].ID)
		now, _ := e.ward.GetBed(ctx, s.beds[1].ID)
		if old.Status != ward.BedAvailable || old.CurrentPatientID != nil {
			t.Errorf("old bed not released: %+v", old)
		}
		if now.Status != ward.BedOccupied {
			t.Errorf("new bed not occupied: %+v", now)
		}
	})
}

func TestConcurrentNurseTaskClaim(t *testing.T) {
	hospital := uniqueHospitalID("claim")
	createHospital(t, hospital)
	e := newEngine()

	var taskID uuid.UUID
	var nurses []uuid.UUID
	withHospital(t, hospital, func(ctx context.Context) {
		s := e.seed(t, ctx, 1)
		_, report := e.assessedPatient(t, ctx, s.doctor.ID, "MRN-CLAIM-1")
		taskID = report.NurseTaskID
		nurses = append(nurses, s.nurse.ID)
	})

	const workers = 8
	var wg sync.WaitGroup
	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			withHospital(t, hospital, func(ctx context.Context) {
				_, err := e.task.ClaimNurseTask(ctx, taskID, nurses[0])
				results <- err
			})
		}()
	}
	wg.Wait()
	close(results)

	won := 0
	for err := range results {
		switch {
		case err == nil:
			won++
		case apperr.HasCode(err, apperr.CodeTaskAlreadyClaimed):
		default:
			t.Errorf("unexpected claim error: %v", err)
		}
	}
	if won != 1 {
		t.Fatalf("expected exactly one successful claim, got %d", won)
	}
}

func TestPrescriptionIsAllOrNothing(t *testing.T) {
	hospital := uniqueHospitalID("rx")
	createHospital(t, hospital)
	e := newEngine()

	withHospital(t, hospital, func(ctx context.Context) {
		s := e.seed(t, ctx, 1)
		_, report := e.assessedPatient(t, ctx, s.doctor.ID, "MRN-RX-1")

		plenty := &inventory.Item{Name: "Saline", Category: "medicine", Unit: "bag", QuantityInStock: 20, UnitPrice: decimal.NewFromInt(5)}
		scarce := &inventory.Item{Name: "Insulin", Category: "medicine", Unit: "vial", QuantityInStock: 1, UnitPrice: decimal.NewFromInt(40)}
		for _, it := range []*inventory.Item{plenty, scarce} {
			if err := e.inventory.CreateItem(ctx, it, s.doctor.ID); err != nil {
				t.Fatalf("CreateItem: %v", err)
			}
		}

		_, err := e.encounter.PrescribeMedicines(ctx, s.doctor.ID, report.RecordID, []encounter.MedicineLine{
			{ItemID: plenty.ID, Quantity: 5},
			{ItemID: scarce.ID, Quantity: 3},
		})
		if !apperr.HasCode(err, apperr.CodeInsufficientStock) {
			t.Fatalf("expected INSUFFICIENT_STOCK, got %v", err)
		}

		got, err := e.inventory.GetItem(ctx, plenty.ID)
		if err != nil {
			t.Fatalf("GetItem: %v", err)
		}
		if got.QuantityInStock != 20 {
			t.Errorf("first line was not rolled back: %d in stock", got.QuantityInStock)
		}
		items, err := e.encounter.ListPrescriptionItems(ctx, report.RecordID)
		if err != nil {
			t.Fatalf("ListPrescriptionItems: %v", err)
		}
		if len(items) != 0 {
			t.Errorf("expected no prescription items, got %d", len(items))
		}
	})
}

func TestHospitalIsolation(t *testing.T) {
	a := uniqueHospitalID("a")
	b := uniqueHospitalID("b")
	createHospital(t, a)
	createHospital(t, b)
	e := newEngine()

	var wardID uuid.UUID
	withHospital(t, a, func(ctx context.Context) {
		w := &ward.Ward{Name: "Only in A", BedCapacity: 1, DailyRate: decimal.NewFromInt(100)}
		if err := e.ward.CreateWard(ctx, w); err != nil {
			t.Fatalf("CreateWard: %v", err)
		}
		wardID = w.ID
	})

	withHospital(t, b, func(ctx context.Context) {
		if _, err := e.ward.GetWard(ctx, wardID); !apperr.HasCode(err, apperr.CodeWardNotFound) {
			t.Fatalf("expected WARD_NOT_FOUND in hospital b, got %v", err)
		}
		_, total, err := e.ward.ListWards(ctx, 10, 0)
		if err != nil {
			t.Fatalf("ListWards: %v", err)
		}
		if total != 0 {
			t.Errorf("expected no wards in hospital b, got %d", total)
		}
	})
}
