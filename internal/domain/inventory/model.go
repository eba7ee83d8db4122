package inventory

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Derived item statuses.
const (
	StatusNormal     = "normal"
	StatusLowStock   = "low_stock"
	StatusOutOfStock = "out_of_stock"
	StatusExpired    = "expired"
)

// Ledger transaction types.
const (
	TxInitial    = "initial"
	TxRestock    = "restock"
	TxUsage      = "usage"
	TxAdjustment = "adjustment"
	TxBreakage   = "breakage"
	TxExpired    = "expired"
	TxReturn     = "return"
)

// Item maps to the inventory_item table. Status is never persisted; it is
// filled by WithStatus on every read.
type Item struct {
	ID              uuid.UUID       `db:"id" json:"id"`
	Name            string          `db:"name" json:"name"`
	Category        string          `db:"category" json:"category"`
	Unit            string          `db:"unit" json:"unit"`
	QuantityInStock int             `db:"quantity_in_stock" json:"quantity_in_stock"`
	ReorderLevel    int             `db:"reorder_level" json:"reorder_level"`
	UnitPrice       decimal.Decimal `db:"unit_price" json:"unit_price"`
	ExpiryDate      *time.Time      `db:"expiry_date" json:"expiry_date,omitempty"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updated_at"`
	Status          string          `db:"-" json:"status"`
}

// DeriveStatus computes the item's status at now. Expiry wins over stock
// level.
func (i *Item) DeriveStatus(now time.Time) string {
	switch {
	case i.ExpiryDate != nil && !i.ExpiryDate.After(now):
		return StatusExpired
	case i.QuantityInStock <= 0:
		return StatusOutOfStock
	case i.QuantityInStock <= i.ReorderLevel:
		return StatusLowStock
	default:
		return StatusNormal
	}
}

// WithStatus sets Status from DeriveStatus and returns the item.
func (i *Item) WithStatus(now time.Time) *Item {
	i.Status = i.DeriveStatus(now)
	return i
}

// Transaction is one immutable ledger row.
type Transaction struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	ItemID         uuid.UUID  `db:"item_id" json:"item_id"`
	Type           string     `db:"type" json:"type"`
	QuantityDelta  int        `db:"quantity_delta" json:"quantity_delta"`
	QuantityBefore int        `db:"quantity_before" json:"quantity_before"`
	QuantityAfter  int        `db:"quantity_after" json:"quantity_after"`
	Reason         string     `db:"reason" json:"reason"`
	ReferenceID    *uuid.UUID `db:"reference_id" json:"reference_id,omitempty"`
	PerformedBy    uuid.UUID  `db:"performed_by" json:"performed_by"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
}

// Adjustment is a request to move stock through the ledger.
type Adjustment struct {
	ItemID      uuid.UUID  `json:"item_id"`
	Delta       int        `json:"delta"`
	Type        string     `json:"type"`
	Reason      string     `json:"reason"`
	ReferenceID *uuid.UUID `json:"reference_id,omitempty"`
	Actor       uuid.UUID  `json:"-"`
}

// Reconciliation compares an item's stock with the sum of its ledger.
type Reconciliation struct {
	ItemID          uuid.UUID `json:"item_id"`
	QuantityInStock int       `json:"quantity_in_stock"`
	LedgerSum       int       `json:"ledger_sum"`
	Drift           int       `json:"drift"`
	Balanced        bool      `json:"balanced"`
}
