package inventory_test

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ehr/careflow/internal/domain/inventory"
	"github.com/ehr/careflow/internal/infra/memory"
	"github.com/ehr/careflow/internal/platform/apperr"
)

var clerk = uuid.MustParse("00000000-0000-0000-0000-0000000000aa")

func newService(t *testing.T) (*inventory.Service, *memory.Store) {
	t.Helper()
	store := memory.New()
	svc := inventory.NewService(store, store.Items(), store.StockLedger())
	svc.SetOutbox(store.Outbox())
	return svc, store
}

func mustItem(t *testing.T, svc *inventory.Service, name string, qty, reorder int) *inventory.Item {
	t.Helper()
	item := &inventory.Item{
		Name:            name,
		Category:        "medicine",
		Unit:            "tablet",
		QuantityInStock: qty,
		ReorderLevel:    reorder,
		UnitPrice:       decimal.RequireFromString("2.50"),
	}
	if err := svc.CreateItem(context.Background(), item, clerk); err != nil {
		t.Fatalf("CreateItem: %v", err)
	}
	return item
}

func TestCreateItem_RecordsOpeningStock(t *testing.T) {
	svc, _ := newService(t)
	item := mustItem(t, svc, "Paracetamol", 100, 10)

	txns, err := svc.ListTransactions(context.Background(), item.ID)
	if err != nil {
		t.Fatalf("ListTransactions: %v", err)
	}
	if len(txns) != 1 || txns[0].Type != inventory.TxInitial || txns[0].QuantityDelta != 100 {
		t.Fatalf("expected one initial transaction of 100, got %+v", txns)
	}
	if item.Status != inventory.StatusNormal {
		t.Errorf("expected normal status, got %s", item.Status)
	}
}

func TestAdjustStock(t *testing.T) {
	svc, store := newService(t)
	item := mustItem(t, svc, "Gauze", 10, 2)

	tx, err := svc.AdjustStock(context.Background(), inventory.Adjustment{
		ItemID: item.ID, Delta: 5, Type: inventory.TxRestock, Reason: "delivery", Actor: clerk,
	})
	if err != nil {
		t.Fatalf("AdjustStock: %v", err)
	}
	if tx.QuantityBefore != 10 || tx.QuantityAfter != 15 {
		t.Errorf("expected 10 -> 15, got %d -> %d", tx.QuantityBefore, tx.QuantityAfter)
	}

	got, _ := svc.GetItem(context.Background(), item.ID)
	if got.QuantityInStock != 15 {
		t.Errorf("expected 15 in stock, got %d", got.QuantityInStock)
	}
	if len(store.Events()) != 1 {
		t.Errorf("expected one stock.adjusted event, got %d", len(store.Events()))
	}
}

func TestAdjustStock_Validation(t *testing.T) {
	svc, _ := newService(t)
	item := mustItem(t, svc, "Gauze", 10, 2)

	tests := []struct {
		name string
		adj  inventory.Adjustment
		code apperr.Code
	}{
		{"zero delta", inventory.Adjustment{ItemID: item.ID, Delta: 0, Type: inventory.TxAdjustment}, apperr.CodeValidation},
		{"unknown type", inventory.Adjustment{ItemID: item.ID, Delta: 1, Type: "gift"}, apperr.CodeValidation},
		{"initial not allowed", inventory.Adjustment{ItemID: item.ID, Delta: 1, Type: inventory.TxInitial}, apperr.CodeValidation},
		{"negative restock", inventory.Adjustment{ItemID: item.ID, Delta: -1, Type: inventory.TxRestock}, apperr.CodeValidation},
		{"positive breakage", inventory.Adjustment{ItemID: item.ID, Delta: 1, Type: inventory.TxBreakage}, apperr.CodeValidation},
		{"unknown item", inventory.Adjustment{ItemID: uuid.New(), Delta: 1, Type: inventory.TxRestock}, apperr.CodeItemNotFound},
		{"below zero", inventory.Adjustment{ItemID: item.ID, Delta: -11, Type: inventory.TxBreakage}, apperr.CodeInsufficientStock},
		{"delta beyond column range", inventory.Adjustment{ItemID: item.ID, Delta: math.MaxInt64, Type: inventory.TxRestock}, apperr.CodeValidation},
		{"negative delta beyond column range", inventory.Adjustment{ItemID: item.ID, Delta: math.MinInt64, Type: inventory.TxBreakage}, apperr.CodeValidation},
		{"stock beyond column range", inventory.Adjustment{ItemID: item.ID, Delta: inventory.MaxQuantity, Type: inventory.TxRestock}, apperr.CodeValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.AdjustStock(context.Background(), tt.adj)
			if !apperr.HasCode(err, tt.code) {
				t.Errorf("expected %s, got %v", tt.code, err)
			}
		})
	}

	got, _ := svc.GetItem(context.Background(), item.ID)
	if got.QuantityInStock != 10 {
		t.Errorf("rejected adjustments must not change stock, got %d", got.QuantityInStock)
	}
}

func TestDeduct_InsufficientStockDetails(t *testing.T) {
	svc, _ := newService(t)
	item := mustItem(t, svc, "Amoxicillin", 3, 1)

	_, _, err := svc.Deduct(context.Background(), item.ID, 5, "prescription", nil, clerk)
	e, ok := apperr.As(err)
	if !ok || e.Code != apperr.CodeInsufficientStock {
		t.Fatalf("expected INSUFFICIENT_STOCK, got %v", err)
	}
	if e.Details["available"] != 3 || e.Details["required"] != 5 || e.Details["item"] != "Amoxicillin" {
		t.Errorf("unexpected details: %v", e.Details)
	}
}

func TestDeduct_ExactStockReachesZero(t *testing.T) {
	svc, _ := newService(t)
	item := mustItem(t, svc, "Amoxicillin", 3, 1)

	before, tx, err := svc.Deduct(context.Background(), item.ID, 3, "prescription", nil, clerk)
	if err != nil {
		t.Fatalf("Deduct: %v", err)
	}
	if before.QuantityInStock != 3 || tx.QuantityAfter != 0 || tx.Type != inventory.TxUsage {
		t.Errorf("unexpected deduction: before=%d tx=%+v", before.QuantityInStock, tx)
	}
	got, _ := svc.GetItem(context.Background(), item.ID)
	if got.Status != inventory.StatusOutOfStock {
		t.Errorf("expected out_of_stock, got %s", got.Status)
	}
}

func TestReconcile_BalancedAfterMovements(t *testing.T) {
	svc, _ := newService(t)
	item := mustItem(t, svc, "Saline", 20, 5)
	ctx := context.Background()

	_, _ = svc.AdjustStock(ctx, inventory.Adjustment{ItemID: item.ID, Delta: 10, Type: inventory.TxRestock, Actor: clerk})
	_, _ = svc.AdjustStock(ctx, inventory.Adjustment{ItemID: item.ID, Delta: -4, Type: inventory.TxExpired, Actor: clerk})
	_, _, _ = svc.Deduct(ctx, item.ID, 6, "usage", nil, clerk)
	_, _ = svc.AdjustStock(ctx, inventory.Adjustment{ItemID: item.ID, Delta: -100, Type: inventory.TxBreakage, Actor: clerk})

	rec, err := svc.Reconcile(ctx, item.ID)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if !rec.Balanced || rec.QuantityInStock != 20 || rec.LedgerSum != 20 {
		t.Errorf("expected balanced ledger at 20, got %+v", rec)
	}
}

func TestDeriveStatus(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(24 * time.Hour)

	tests := []struct {
		name string
		item inventory.Item
		want string
	}{
		{"normal", inventory.Item{QuantityInStock: 50, ReorderLevel: 10}, inventory.StatusNormal},
		{"at reorder level", inventory.Item{QuantityInStock: 10, ReorderLevel: 10}, inventory.StatusLowStock},
		{"empty", inventory.Item{QuantityInStock: 0, ReorderLevel: 10}, inventory.StatusOutOfStock},
		{"expired wins", inventory.Item{QuantityInStock: 50, ReorderLevel: 10, ExpiryDate: &past}, inventory.StatusExpired},
		{"not yet expired", inventory.Item{QuantityInStock: 50, ReorderLevel: 10, ExpiryDate: &future}, inventory.StatusNormal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.item.DeriveStatus(now); got != tt.want {
				t.Errorf("DeriveStatus() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestListLowStock(t *testing.T) {
	svc, _ := newService(t)
	mustItem(t, svc, "Plenty", 100, 10)
	low := mustItem(t, svc, "Scarce", 2, 10)

	items, err := svc.ListLowStock(context.Background())
	if err != nil {
		t.Fatalf("ListLowStock: %v", err)
	}
	if len(items) != 1 || items[0].ID != low.ID {
		t.Fatalf("expected only the scarce item, got %d items", len(items))
	}
	if items[0].Status != inventory.StatusLowStock {
		t.Errorf("expected low_stock, got %s", items[0].Status)
	}
}
