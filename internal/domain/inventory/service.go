package inventory

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/careflow/internal/platform/apperr"
	"github.com/ehr/careflow/internal/platform/db"
	"github.com/ehr/careflow/internal/platform/metrics"
	"github.com/ehr/careflow/internal/platform/outbox"
)

// MaxQuantity bounds stock levels and deltas to the range of the INTEGER
// columns that store them.
const MaxQuantity = math.MaxInt32

// Sign each transaction type's delta must carry: +1 positive, -1 negative,
// 0 either.
var typeSign = map[string]int{
	TxRestock:    1,
	TxReturn:     1,
	TxUsage:      -1,
	TxBreakage:   -1,
	TxExpired:    -1,
	TxAdjustment: 0,
}

// Service is the inventory ledger. Every change to an item's stock goes
// through adjust, which locks the item, refuses negative results and
// appends a ledger row in the same unit of work.
type Service struct {
	tx     db.Transactor
	items  ItemRepository
	ledger TransactionRepository
	events outbox.Recorder
	now    func() time.Time
}

func NewService(tx db.Transactor, items ItemRepository, ledger TransactionRepository) *Service {
	return &Service{
		tx:     tx,
		items:  items,
		ledger: ledger,
		events: outbox.Discard{},
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetOutbox attaches the recorder domain events are written to.
func (s *Service) SetOutbox(r outbox.Recorder) { s.events = r }

// CreateItem stores a new item and records its opening quantity as an
// initial ledger row.
func (s *Service) CreateItem(ctx context.Context, item *Item, actor uuid.UUID) error {
	if strings.TrimSpace(item.Name) == "" {
		return apperr.Validation("name is required")
	}
	if item.QuantityInStock < 0 {
		return apperr.Validation("quantity_in_stock must not be negative")
	}
	if item.QuantityInStock > MaxQuantity {
		return apperr.Validation("quantity_in_stock must not exceed %d", MaxQuantity)
	}
	if item.ReorderLevel < 0 {
		return apperr.Validation("reorder_level must not be negative")
	}
	if item.UnitPrice.IsNegative() {
		return apperr.Validation("unit_price must not be negative")
	}
	item.UnitPrice = item.UnitPrice.Round(2)

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.items.Create(ctx, item); err != nil {
			return fmt.Errorf("create item: %w", err)
		}
		if item.QuantityInStock == 0 {
			return nil
		}
		t := &Transaction{
			ItemID:         item.ID,
			Type:           TxInitial,
			QuantityDelta:  item.QuantityInStock,
			QuantityBefore: 0,
			QuantityAfter:  item.QuantityInStock,
			Reason:         "opening stock",
			PerformedBy:    actor,
			CreatedAt:      s.now(),
		}
		if err := s.ledger.Create(ctx, t); err != nil {
			return fmt.Errorf("record opening stock: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	item.WithStatus(s.now())
	return nil
}

func (s *Service) GetItem(ctx context.Context, id uuid.UUID) (*Item, error) {
	item, err := s.items.GetByID(ctx, id)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, apperr.NotFound(apperr.CodeItemNotFound, id)
		}
		return nil, fmt.Errorf("get item: %w", err)
	}
	return item.WithStatus(s.now()), nil
}

func (s *Service) ListItems(ctx context.Context, limit, offset int) ([]*Item, int, error) {
	items, total, err := s.items.List(ctx, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	now := s.now()
	for _, i := range items {
		i.WithStatus(now)
	}
	return items, total, nil
}

// ListLowStock returns items at or below their reorder level.
func (s *Service) ListLowStock(ctx context.Context) ([]*Item, error) {
	items, err := s.items.ListLowStock(ctx)
	if err != nil {
		return nil, err
	}
	now := s.now()
	for _, i := range items {
		i.WithStatus(now)
	}
	return items, nil
}

func (s *Service) ListTransactions(ctx context.Context, itemID uuid.UUID) ([]*Transaction, error) {
	if _, err := s.GetItem(ctx, itemID); err != nil {
		return nil, err
	}
	return s.ledger.ListByItem(ctx, itemID)
}

// AdjustStock applies a signed delta of the given type.
func (s *Service) AdjustStock(ctx context.Context, adj Adjustment) (t *Transaction, err error) {
	defer metrics.Observe("inventory.adjust_stock", time.Now(), &err)

	if adj.Delta == 0 {
		return nil, apperr.Validation("delta must not be zero")
	}
	if adj.Delta > MaxQuantity || adj.Delta < -MaxQuantity {
		return nil, apperr.Validation("delta must be within ±%d", MaxQuantity)
	}
	sign, ok := typeSign[adj.Type]
	if !ok {
		return nil, apperr.Validation("invalid transaction type: %s", adj.Type)
	}
	if sign > 0 && adj.Delta < 0 {
		return nil, apperr.Validation("%s requires a positive delta", adj.Type)
	}
	if sign < 0 && adj.Delta > 0 {
		return nil, apperr.Validation("%s requires a negative delta", adj.Type)
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		_, t, err = s.adjust(ctx, adj)
		return err
	})
	if err != nil {
		return nil, err
	}
	zerolog.Ctx(ctx).Info().
		Str("item_id", adj.ItemID.String()).
		Str("type", adj.Type).
		Int("delta", adj.Delta).
		Int("after", t.QuantityAfter).
		Msg("stock adjusted")
	return t, nil
}

// Deduct removes quantity units of an item as usage. It joins the caller's
// unit of work and returns the item as it was before the deduction along
// with the ledger row.
func (s *Service) Deduct(ctx context.Context, itemID uuid.UUID, quantity int, reason string, referenceID *uuid.UUID, actor uuid.UUID) (item *Item, t *Transaction, err error) {
	if quantity <= 0 || quantity > MaxQuantity {
		return nil, nil, apperr.Validation("quantity must be between 1 and %d", MaxQuantity)
	}
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		item, t, err = s.adjust(ctx, Adjustment{
			ItemID:      itemID,
			Delta:       -quantity,
			Type:        TxUsage,
			Reason:      reason,
			ReferenceID: referenceID,
			Actor:       actor,
		})
		return err
	})
	return item, t, err
}

func (s *Service) adjust(ctx context.Context, adj Adjustment) (*Item, *Transaction, error) {
	item, err := s.items.GetForUpdate(ctx, adj.ItemID)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, nil, apperr.NotFound(apperr.CodeItemNotFound, adj.ItemID)
		}
		return nil, nil, fmt.Errorf("lock item: %w", err)
	}

	before := item.QuantityInStock
	after := before + adj.Delta
	if after > MaxQuantity {
		return nil, nil, apperr.Validation("stock of %s would exceed %d", item.Name, MaxQuantity)
	}
	if after < 0 {
		return nil, nil, apperr.New(apperr.CodeInsufficientStock, "insufficient stock for %s", item.Name).
			With("item", item.Name).
			With("item_id", item.ID.String()).
			With("available", before).
			With("required", -adj.Delta)
	}
	if err := s.items.SetQuantity(ctx, item.ID, before, after); err != nil {
		if db.IsNotFound(err) {
			return nil, nil, apperr.New(apperr.CodeInsufficientStock, "stock for %s changed concurrently", item.Name).
				With("item", item.Name).
				With("item_id", item.ID.String())
		}
		return nil, nil, fmt.Errorf("update stock: %w", err)
	}

	t := &Transaction{
		ItemID:         item.ID,
		Type:           adj.Type,
		QuantityDelta:  adj.Delta,
		QuantityBefore: before,
		QuantityAfter:  after,
		Reason:         adj.Reason,
		ReferenceID:    adj.ReferenceID,
		PerformedBy:    adj.Actor,
		CreatedAt:      s.now(),
	}
	if err := s.ledger.Create(ctx, t); err != nil {
		return nil, nil, fmt.Errorf("record stock transaction: %w", err)
	}
	if err := outbox.Emit(ctx, s.events, "inventory_item", item.ID, outbox.StockAdjusted, t); err != nil {
		return nil, nil, err
	}
	return item, t, nil
}

// Reconcile compares the item's stock with the sum of its ledger deltas.
func (s *Service) Reconcile(ctx context.Context, itemID uuid.UUID) (*Reconciliation, error) {
	var rec *Reconciliation
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		item, err := s.items.GetByID(ctx, itemID)
		if err != nil {
			if db.IsNotFound(err) {
				return apperr.NotFound(apperr.CodeItemNotFound, itemID)
			}
			return fmt.Errorf("get item: %w", err)
		}
		sum, err := s.ledger.SumDeltas(ctx, itemID)
		if err != nil {
			return fmt.Errorf("sum ledger: %w", err)
		}
		rec = &Reconciliation{
			ItemID:          itemID,
			QuantityInStock: item.QuantityInStock,
			LedgerSum:       sum,
			Drift:           item.QuantityInStock - sum,
			Balanced:        item.QuantityInStock == sum,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !rec.Balanced {
		zerolog.Ctx(ctx).Warn().
			Str("item_id", itemID.String()).
			Int("drift", rec.Drift).
			Msg("inventory ledger drift")
	}
	return rec, nil
}
