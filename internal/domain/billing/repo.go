package billing

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type BillRepository interface {
	Create(ctx context.Context, b *Bill) error
	GetByID(ctx context.Context, id uuid.UUID) (*Bill, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Bill, error)
	// GetByAdmission returns the admission's bill or db.ErrNotFound.
	GetByAdmission(ctx context.Context, admissionID uuid.UUID) (*Bill, error)
	UpdatePayment(ctx context.Context, id uuid.UUID, paid decimal.Decimal, status string) error
	CreateItem(ctx context.Context, item *BillItem) error
	ListItems(ctx context.Context, billID uuid.UUID) ([]*BillItem, error)
	CreatePayment(ctx context.Context, p *Payment) error
	ListPayments(ctx context.Context, billID uuid.UUID) ([]*Payment, error)
}
