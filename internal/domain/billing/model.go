package billing

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Bill statuses.
const (
	StatusPending = "pending"
	StatusPartial = "partial"
	StatusPaid    = "paid"
)

// Charge categories.
const (
	CategoryRoom         = "room"
	CategoryConsultation = "consultation"
	CategoryLab          = "lab"
	CategoryMedicine     = "medicine"
	CategoryNursing      = "nursing"
	CategoryEmergency    = "emergency"
)

// Tariff holds the configured prices. Room rates come from the ward.
type Tariff struct {
	Consultation       decimal.Decimal
	LabTest            decimal.Decimal
	Nursing            decimal.Decimal
	EmergencySurcharge decimal.Decimal
	TaxRate            decimal.Decimal
}

// Line is one priced category of a calculation.
type Line struct {
	Category    string          `json:"category"`
	Description string          `json:"description"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Amount      decimal.Decimal `json:"amount"`
}

// Calculation is the read-only pricing of an admission window.
type Calculation struct {
	AdmissionID uuid.UUID       `json:"admission_id"`
	PatientID   uuid.UUID       `json:"patient_id"`
	From        time.Time       `json:"from"`
	To          time.Time       `json:"to"`
	Days        int             `json:"days"`
	Lines       []Line          `json:"lines"`
	Subtotal    decimal.Decimal `json:"subtotal"`
	Tax         decimal.Decimal `json:"tax"`
	DiscountPct decimal.Decimal `json:"discount_pct"`
	Discount    decimal.Decimal `json:"discount"`
	Total       decimal.Decimal `json:"total"`
}

// Bill maps to the bill table.
type Bill struct {
	ID            uuid.UUID       `db:"id" json:"id"`
	AdmissionID   uuid.UUID       `db:"admission_id" json:"admission_id"`
	PatientID     uuid.UUID       `db:"patient_id" json:"patient_id"`
	Subtotal      decimal.Decimal `db:"subtotal" json:"subtotal"`
	Tax           decimal.Decimal `db:"tax" json:"tax"`
	DiscountPct   decimal.Decimal `db:"discount_pct" json:"discount_pct"`
	Discount      decimal.Decimal `db:"discount" json:"discount"`
	Total         decimal.Decimal `db:"total" json:"total"`
	PaidAmount    decimal.Decimal `db:"paid_amount" json:"paid_amount"`
	Status        string          `db:"status" json:"status"`
	PaymentMethod string          `db:"payment_method" json:"payment_method"`
	GeneratedBy   uuid.UUID       `db:"generated_by" json:"generated_by"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
	Items         []*BillItem     `db:"-" json:"items,omitempty"`
	Payments      []*Payment      `db:"-" json:"payments,omitempty"`
}

// Balance is what remains to be paid.
func (b *Bill) Balance() decimal.Decimal {
	return b.Total.Sub(b.PaidAmount)
}

// BillItem maps to the bill_item table.
type BillItem struct {
	ID          uuid.UUID       `db:"id" json:"id"`
	BillID      uuid.UUID       `db:"bill_id" json:"bill_id"`
	Category    string          `db:"category" json:"category"`
	Description string          `db:"description" json:"description"`
	Quantity    int             `db:"quantity" json:"quantity"`
	UnitPrice   decimal.Decimal `db:"unit_price" json:"unit_price"`
	Amount      decimal.Decimal `db:"amount" json:"amount"`
}

// Payment maps to the payment table.
type Payment struct {
	ID         uuid.UUID       `db:"id" json:"id"`
	BillID     uuid.UUID       `db:"bill_id" json:"bill_id"`
	Amount     decimal.Decimal `db:"amount" json:"amount"`
	Method     string          `db:"method" json:"method"`
	Reference  string          `db:"reference" json:"reference"`
	ReceivedBy uuid.UUID       `db:"received_by" json:"received_by"`
	CreatedAt  time.Time       `db:"created_at" json:"created_at"`
}
