package billing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/ehr/careflow/internal/domain/admission"
	"github.com/ehr/careflow/internal/domain/encounter"
	"github.com/ehr/careflow/internal/domain/identity"
	"github.com/ehr/careflow/internal/platform/apperr"
	"github.com/ehr/careflow/internal/platform/db"
	"github.com/ehr/careflow/internal/platform/metrics"
	"github.com/ehr/careflow/internal/platform/outbox"
)

// AdmissionLedger reads and closes admissions. *admission.Service satisfies it.
type AdmissionLedger interface {
	GetAdmission(ctx context.Context, id uuid.UUID) (*admission.Admission, error)
	Discharge(ctx context.Context, id uuid.UUID, summary *string, at time.Time) (*admission.Admission, error)
}

// RoomRates resolves a ward's daily rate. *ward.Service satisfies it.
type RoomRates interface {
	DailyRate(ctx context.Context, wardID uuid.UUID) (decimal.Decimal, error)
}

type PatientFinder interface {
	GetByID(ctx context.Context, id uuid.UUID) (*identity.Patient, error)
}

// WindowCounter counts a patient's rows created within [from, to].
type WindowCounter interface {
	CountInWindow(ctx context.Context, patientID uuid.UUID, from, to time.Time) (int, error)
}

type LabCounter interface {
	CountCompletedForPatient(ctx context.Context, patientID uuid.UUID, from, to time.Time) (int, error)
}

type PrescriptionSource interface {
	ListForPatient(ctx context.Context, patientID uuid.UUID, from, to time.Time) ([]*encounter.PrescriptionItem, error)
}

// Sources are the histories a bill is priced from.
type Sources struct {
	Admissions    AdmissionLedger
	Rates         RoomRates
	Patients      PatientFinder
	Visits        WindowCounter
	Labs          LabCounter
	Prescriptions PrescriptionSource
	Vitals        WindowCounter
}

var paymentMethods = map[string]bool{
	"cash":          true,
	"card":          true,
	"insurance":     true,
	"bank_transfer": true,
}

var hundred = decimal.NewFromInt(100)

type Service struct {
	tx     db.Transactor
	bills  BillRepository
	src    Sources
	tariff Tariff
	events outbox.Recorder
	now    func() time.Time
}

func NewService(tx db.Transactor, bills BillRepository, src Sources, tariff Tariff) *Service {
	return &Service{
		tx:     tx,
		bills:  bills,
		src:    src,
		tariff: tariff,
		events: outbox.Discard{},
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetOutbox attaches the recorder domain events are written to.
func (s *Service) SetOutbox(r outbox.Recorder) { s.events = r }

// InclusiveDays counts the calendar days touched by [from, to], at least one.
func InclusiveDays(from, to time.Time) int {
	from, to = from.UTC(), to.UTC()
	start := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
	end := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, time.UTC)
	days := int(end.Sub(start).Hours()/24) + 1
	if days < 1 {
		return 1
	}
	return days
}

func line(category, description string, qty int, unit decimal.Decimal) Line {
	return Line{
		Category:    category,
		Description: description,
		Quantity:    qty,
		UnitPrice:   unit,
		Amount:      unit.Mul(decimal.NewFromInt(int64(qty))).Round(2),
	}
}

func validDiscount(pct decimal.Decimal) error {
	if pct.IsNegative() || pct.GreaterThan(hundred) {
		return apperr.Validation("discount_pct must be between 0 and 100")
	}
	return nil
}

// windowEnd picks the end of the billing window: the recorded discharge of a
// closed admission, else the requested date, else now.
func (s *Service) windowEnd(a *admission.Admission, requested time.Time) time.Time {
	if a.DischargeDate != nil {
		return *a.DischargeDate
	}
	if requested.IsZero() {
		return s.now()
	}
	return requested.UTC()
}

// Calculate prices the admission window without writing anything. The same
// inputs over the same history always give the same result.
func (s *Service) Calculate(ctx context.Context, admissionID uuid.UUID, dischargeDate time.Time, discountPct decimal.Decimal) (calc *Calculation, err error) {
	defer metrics.Observe("billing.calculate", time.Now(), &err)

	if err := validDiscount(discountPct); err != nil {
		return nil, err
	}
	a, err := s.src.Admissions.GetAdmission(ctx, admissionID)
	if err != nil {
		return nil, err
	}
	return s.calculate(ctx, a, s.windowEnd(a, dischargeDate), discountPct)
}

func (s *Service) calculate(ctx context.Context, a *admission.Admission, to time.Time, discountPct decimal.Decimal) (*Calculation, error) {
	from := a.AdmissionDate
	if to.Before(from) {
		return nil, apperr.Validation("discharge date precedes admission date")
	}

	patient, err := s.src.Patients.GetByID(ctx, a.PatientID)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, apperr.NotFound(apperr.CodePatientNotFound, a.PatientID)
		}
		return nil, fmt.Errorf("get patient: %w", err)
	}
	rate, err := s.src.Rates.DailyRate(ctx, a.WardID)
	if err != nil {
		return nil, err
	}
	visits, err := s.src.Visits.CountInWindow(ctx, a.PatientID, from, to)
	if err != nil {
		return nil, fmt.Errorf("count consultations: %w", err)
	}
	labs, err := s.src.Labs.CountCompletedForPatient(ctx, a.PatientID, from, to)
	if err != nil {
		return nil, fmt.Errorf("count lab tests: %w", err)
	}
	prescribed, err := s.src.Prescriptions.ListForPatient(ctx, a.PatientID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list prescriptions: %w", err)
	}
	vitals, err := s.src.Vitals.CountInWindow(ctx, a.PatientID, from, to)
	if err != nil {
		return nil, fmt.Errorf("count vitals: %w", err)
	}

	days := InclusiveDays(from, to)
	medQty := 0
	medAmount := decimal.Zero
	for _, p := range prescribed {
		medQty += p.Quantity
		medAmount = medAmount.Add(p.UnitPrice.Mul(decimal.NewFromInt(int64(p.Quantity))))
	}
	medicine := Line{
		Category:    CategoryMedicine,
		Description: fmt.Sprintf("Medicines (%d items)", len(prescribed)),
		Quantity:    medQty,
		Amount:      medAmount.Round(2),
	}
	if medQty > 0 {
		medicine.UnitPrice = medAmount.Div(decimal.NewFromInt(int64(medQty))).Round(2)
	}
	emergency := 0
	if patient.SeriousCase {
		emergency = 1
	}

	calc := &Calculation{
		AdmissionID: a.ID,
		PatientID:   a.PatientID,
		From:        from,
		To:          to,
		Days:        days,
		Lines: []Line{
			line(CategoryRoom, fmt.Sprintf("Room charges (%d days)", days), days, rate),
			line(CategoryConsultation, "Doctor consultations", visits, s.tariff.Consultation),
			line(CategoryLab, "Laboratory tests", labs, s.tariff.LabTest),
			medicine,
			line(CategoryNursing, "Nursing care", vitals, s.tariff.Nursing),
			line(CategoryEmergency, "Emergency surcharge", emergency, s.tariff.EmergencySurcharge),
		},
		DiscountPct: discountPct,
	}
	subtotal := decimal.Zero
	for _, l := range calc.Lines {
		subtotal = subtotal.Add(l.Amount)
	}
	calc.Subtotal = subtotal
	calc.Tax = subtotal.Mul(s.tariff.TaxRate).Round(2)
	calc.Discount = subtotal.Mul(discountPct).Div(hundred).Round(2)
	calc.Total = calc.Subtotal.Add(calc.Tax).Sub(calc.Discount)
	return calc, nil
}

// GenerateRequest carries the inputs of GenerateBill.
type GenerateRequest struct {
	AdmissionID   uuid.UUID       `json:"-"`
	DischargeDate time.Time       `json:"discharge_date"`
	DiscountPct   decimal.Decimal `json:"discount_pct"`
	PaymentMethod string          `json:"payment_method"`
	Summary       *string         `json:"discharge_summary,omitempty"`
	ClerkID       uuid.UUID       `json:"-"`
}

// GenerateBill prices the admission, stores the bill with one item per
// charged category and discharges the admission, all in one unit of work.
func (s *Service) GenerateBill(ctx context.Context, req GenerateRequest) (bill *Bill, err error) {
	defer metrics.Observe("billing.generate_bill", time.Now(), &err)

	if err := validDiscount(req.DiscountPct); err != nil {
		return nil, err
	}
	method := strings.ToLower(strings.TrimSpace(req.PaymentMethod))
	if !paymentMethods[method] {
		return nil, apperr.Validation("invalid payment_method: %q", req.PaymentMethod)
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if existing, err := s.bills.GetByAdmission(ctx, req.AdmissionID); err == nil {
			return alreadyBilled(req.AdmissionID, existing.ID)
		} else if !db.IsNotFound(err) {
			return fmt.Errorf("find bill: %w", err)
		}

		a, err := s.src.Admissions.GetAdmission(ctx, req.AdmissionID)
		if err != nil {
			return err
		}
		to := s.windowEnd(a, req.DischargeDate)
		calc, err := s.calculate(ctx, a, to, req.DiscountPct)
		if err != nil {
			return err
		}

		bill = &Bill{
			AdmissionID:   a.ID,
			PatientID:     a.PatientID,
			Subtotal:      calc.Subtotal,
			Tax:           calc.Tax,
			DiscountPct:   calc.DiscountPct,
			Discount:      calc.Discount,
			Total:         calc.Total,
			PaidAmount:    decimal.Zero,
			Status:        StatusPending,
			PaymentMethod: method,
			GeneratedBy:   req.ClerkID,
			CreatedAt:     s.now(),
		}
		if err := s.bills.Create(ctx, bill); err != nil {
			if db.IsUniqueViolation(err, "") {
				return alreadyBilled(req.AdmissionID, uuid.Nil)
			}
			return fmt.Errorf("create bill: %w", err)
		}
		for _, l := range calc.Lines {
			if l.Amount.IsZero() {
				continue
			}
			item := &BillItem{
				BillID:      bill.ID,
				Category:    l.Category,
				Description: l.Description,
				Quantity:    l.Quantity,
				UnitPrice:   l.UnitPrice,
				Amount:      l.Amount,
			}
			if err := s.bills.CreateItem(ctx, item); err != nil {
				return fmt.Errorf("create bill item: %w", err)
			}
			bill.Items = append(bill.Items, item)
		}

		if a.IsOpen() {
			if _, err := s.src.Admissions.Discharge(ctx, a.ID, req.Summary, to); err != nil {
				return err
			}
		}
		return outbox.Emit(ctx, s.events, "bill", bill.ID, outbox.BillGenerated, bill)
	})
	if err != nil {
		return nil, err
	}
	zerolog.Ctx(ctx).Info().
		Str("bill_id", bill.ID.String()).
		Str("admission_id", req.AdmissionID.String()).
		Str("total", bill.Total.StringFixed(2)).
		Msg("bill generated")
	return bill, nil
}

func alreadyBilled(admissionID, billID uuid.UUID) error {
	e := apperr.New(apperr.CodeBillAlreadyExists, "admission already has a bill").
		With("admission_id", admissionID.String())
	if billID != uuid.Nil {
		e = e.With("bill_id", billID.String())
	}
	return e
}

func (s *Service) getBill(ctx context.Context, id uuid.UUID, lock bool) (*Bill, error) {
	get := s.bills.GetByID
	if lock {
		get = s.bills.GetForUpdate
	}
	b, err := get(ctx, id)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, apperr.NotFound(apperr.CodeBillNotFound, id)
		}
		return nil, fmt.Errorf("get bill: %w", err)
	}
	return b, nil
}

// ProcessPayment records a payment against the bill's outstanding balance.
func (s *Service) ProcessPayment(ctx context.Context, billID uuid.UUID, amount decimal.Decimal, method, reference string, clerkID uuid.UUID) (bill *Bill, err error) {
	defer metrics.Observe("billing.process_payment", time.Now(), &err)

	amount = amount.Round(2)
	if !amount.IsPositive() {
		return nil, apperr.Validation("amount must be at least 0.01")
	}
	method = strings.ToLower(strings.TrimSpace(method))
	if !paymentMethods[method] {
		return nil, apperr.Validation("invalid payment method: %q", method)
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		bill, err = s.getBill(ctx, billID, true)
		if err != nil {
			return err
		}
		balance := bill.Balance()
		if amount.GreaterThan(balance) {
			return apperr.New(apperr.CodePaymentExceedsAmount, "payment of %s exceeds balance of %s", amount.StringFixed(2), balance.StringFixed(2)).
				With("balance", balance.StringFixed(2)).
				With("amount", amount.StringFixed(2))
		}
		p := &Payment{
			BillID:     bill.ID,
			Amount:     amount,
			Method:     method,
			Reference:  reference,
			ReceivedBy: clerkID,
			CreatedAt:  s.now(),
		}
		if err := s.bills.CreatePayment(ctx, p); err != nil {
			return fmt.Errorf("create payment: %w", err)
		}
		bill.PaidAmount = bill.PaidAmount.Add(amount)
		bill.Status = StatusPartial
		if !bill.PaidAmount.LessThan(bill.Total) {
			bill.Status = StatusPaid
		}
		if err := s.bills.UpdatePayment(ctx, bill.ID, bill.PaidAmount, bill.Status); err != nil {
			return fmt.Errorf("update bill: %w", err)
		}
		return outbox.Emit(ctx, s.events, "bill", bill.ID, outbox.PaymentReceived, p)
	})
	if err != nil {
		return nil, err
	}
	zerolog.Ctx(ctx).Info().
		Str("bill_id", billID.String()).
		Str("amount", amount.StringFixed(2)).
		Str("status", bill.Status).
		Msg("payment received")
	return bill, nil
}

// GetBill returns the bill with its items and payments.
func (s *Service) GetBill(ctx context.Context, id uuid.UUID) (*Bill, error) {
	b, err := s.getBill(ctx, id, false)
	if err != nil {
		return nil, err
	}
	if b.Items, err = s.bills.ListItems(ctx, id); err != nil {
		return nil, fmt.Errorf("list bill items: %w", err)
	}
	if b.Payments, err = s.bills.ListPayments(ctx, id); err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	return b, nil
}

// GetBillForAdmission returns the admission's bill with items and payments.
func (s *Service) GetBillForAdmission(ctx context.Context, admissionID uuid.UUID) (*Bill, error) {
	b, err := s.bills.GetByAdmission(ctx, admissionID)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, apperr.NotFound(apperr.CodeBillNotFound, admissionID)
		}
		return nil, fmt.Errorf("get bill: %w", err)
	}
	return s.GetBill(ctx, b.ID)
}
