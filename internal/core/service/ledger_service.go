package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/stockledger/stockledger/internal/core/domain"
	"github.com/stockledger/stockledger/internal/port"
)

// LedgerLockKey serializes every writer of the items collection.
const LedgerLockKey = "ledger:items"

// LedgerService is the only path through which an item's stock changes and
// the only writer of purchases and sales.
type LedgerService struct {
	data   collections
	locker port.Locker
	guard  port.IdempotencyGuard
	clock  func() time.Time
	log    logrus.FieldLogger
}

func NewLedgerService(store port.CollectionStore, locker port.Locker, logger logrus.FieldLogger, opts ...Option) *LedgerService {
	o := buildOptions(opts)
	log := logger.WithField("module", "ledger")
	return &LedgerService{
		data:   collections{store: store, log: log},
		locker: locker,
		guard:  o.guard,
		clock:  o.clock,
		log:    log,
	}
}

func IsLowStock(item domain.Item) bool {
	return item.IsLowStock()
}

func (s *LedgerService) RecordPurchase(ctx context.Context, supplierID, date string, inputs []domain.LineInput, notes string) (domain.Purchase, error) {
	supplierID = strings.TrimSpace(supplierID)
	lines, day, err := s.parse(supplierID, date, inputs)
	if err != nil {
		return domain.Purchase{}, err
	}

	unlock, err := s.locker.Lock(ctx, LedgerLockKey)
	if err != nil {
		return domain.Purchase{}, fmt.Errorf("acquire ledger lock: %w", err)
	}
	defer unlock()

	suppliers, err := readCollection[domain.Supplier](ctx, s.data, port.KeySuppliers)
	if err != nil {
		return domain.Purchase{}, err
	}
	if !hasParty(suppliers, supplierID, func(p domain.Supplier) string { return p.ID }) {
		return domain.Purchase{}, &domain.ReferenceError{Kind: "supplier", ID: supplierID, Err: domain.ErrSupplierNotFound}
	}

	items, err := readCollection[domain.Item](ctx, s.data, port.KeyItems)
	if err != nil {
		return domain.Purchase{}, err
	}
	index := indexItems(items)
	if err := snapshotNames(lines, items, index); err != nil {
		return domain.Purchase{}, err
	}

	now := s.clock()
	purchase, err := domain.NewPurchase(supplierID, day, lines, notes, now)
	if err != nil {
		return domain.Purchase{}, err
	}

	purchases, err := readCollection[domain.Purchase](ctx, s.data, port.KeyPurchases)
	if err != nil {
		return domain.Purchase{}, err
	}
	release, err := s.claim(ctx, "purchase")
	if err != nil {
		return domain.Purchase{}, err
	}

	for _, l := range lines {
		i := index[l.ItemID]
		items[i].CurrentStock = items[i].CurrentStock.Add(l.Quantity)
		items[i].UpdatedAt = now
	}

	if err := applyThenAppend(ctx, s, items, port.KeyPurchases, purchases, purchase, release); err != nil {
		return domain.Purchase{}, err
	}

	s.log.WithFields(logrus.Fields{
		"op":          "record_purchase",
		"purchase_id": purchase.ID,
		"supplier_id": supplierID,
		"lines":       len(lines),
		"total":       purchase.Total.String(),
	}).Info("purchase recorded")
	return purchase, nil
}

func (s *LedgerService) RecordSale(ctx context.Context, customerID, date string, inputs []domain.LineInput, notes string) (domain.Sale, error) {
	customerID = strings.TrimSpace(customerID)
	lines, day, err := s.parse(customerID, date, inputs)
	if err != nil {
		return domain.Sale{}, err
	}

	unlock, err := s.locker.Lock(ctx, LedgerLockKey)
	if err != nil {
		return domain.Sale{}, fmt.Errorf("acquire ledger lock: %w", err)
	}
	defer unlock()

	customers, err := readCollection[domain.Customer](ctx, s.data, port.KeyCustomers)
	if err != nil {
		return domain.Sale{}, err
	}
	if !hasParty(customers, customerID, func(p domain.Customer) string { return p.ID }) {
		return domain.Sale{}, &domain.ReferenceError{Kind: "customer", ID: customerID, Err: domain.ErrCustomerNotFound}
	}

	items, err := readCollection[domain.Item](ctx, s.data, port.KeyItems)
	if err != nil {
		return domain.Sale{}, err
	}
	index := indexItems(items)
	if err := snapshotNames(lines, items, index); err != nil {
		return domain.Sale{}, err
	}

	// Lines naming the same item draw from one stock figure.
	requested := make(map[string]decimal.Decimal, len(lines))
	for _, l := range lines {
		requested[l.ItemID] = requested[l.ItemID].Add(l.Quantity)
	}
	for _, l := range lines {
		item := items[index[l.ItemID]]
		if requested[l.ItemID].GreaterThan(item.CurrentStock) {
			return domain.Sale{}, &domain.InsufficientStockError{
				ItemID:    item.ID,
				ItemName:  item.Name,
				Available: item.CurrentStock,
				Requested: requested[l.ItemID],
			}
		}
	}

	now := s.clock()
	sale, err := domain.NewSale(customerID, day, lines, notes, now)
	if err != nil {
		return domain.Sale{}, err
	}

	sales, err := readCollection[domain.Sale](ctx, s.data, port.KeySales)
	if err != nil {
		return domain.Sale{}, err
	}
	release, err := s.claim(ctx, "sale")
	if err != nil {
		return domain.Sale{}, err
	}

	for _, l := range lines {
		i := index[l.ItemID]
		items[i].CurrentStock = items[i].CurrentStock.Sub(l.Quantity)
		items[i].UpdatedAt = now
	}

	if err := applyThenAppend(ctx, s, items, port.KeySales, sales, sale, release); err != nil {
		return domain.Sale{}, err
	}

	s.log.WithFields(logrus.Fields{
		"op":          "record_sale",
		"sale_id":     sale.ID,
		"customer_id": customerID,
		"lines":       len(lines),
		"total":       sale.Total.String(),
	}).Info("sale recorded")
	return sale, nil
}

func (s *LedgerService) AdjustStock(ctx context.Context, itemID string, direction domain.AdjustmentType, quantity, reason string) (domain.Item, error) {
	itemID = strings.TrimSpace(itemID)
	reason = strings.TrimSpace(reason)
	if itemID == "" {
		return domain.Item{}, &domain.ValidationError{Err: domain.ErrMissingField, Field: "itemId"}
	}
	if !direction.Valid() {
		return domain.Item{}, &domain.ValidationError{Err: domain.ErrInvalidDirection, Field: "type", Details: string(direction)}
	}
	qty, err := decimal.NewFromString(strings.TrimSpace(quantity))
	if err != nil || !qty.IsPositive() {
		return domain.Item{}, &domain.ValidationError{Err: domain.ErrInvalidQuantity, Field: "quantity", Details: quantity}
	}
	if reason == "" {
		return domain.Item{}, &domain.ValidationError{Err: domain.ErrMissingField, Field: "reason"}
	}

	unlock, err := s.locker.Lock(ctx, LedgerLockKey)
	if err != nil {
		return domain.Item{}, fmt.Errorf("acquire ledger lock: %w", err)
	}
	defer unlock()

	items, err := readCollection[domain.Item](ctx, s.data, port.KeyItems)
	if err != nil {
		return domain.Item{}, err
	}
	i, ok := indexItems(items)[itemID]
	if !ok {
		return domain.Item{}, &domain.ReferenceError{Kind: "item", ID: itemID, Err: domain.ErrItemNotFound}
	}

	item := items[i]
	if direction == domain.AdjustmentSubtract && qty.GreaterThan(item.CurrentStock) {
		return domain.Item{}, &domain.InsufficientStockError{
			ItemID:    item.ID,
			ItemName:  item.Name,
			Available: item.CurrentStock,
			Requested: qty,
		}
	}

	now := s.clock()
	if direction == domain.AdjustmentAdd {
		item.CurrentStock = item.CurrentStock.Add(qty)
	} else {
		item.CurrentStock = item.CurrentStock.Sub(qty)
	}
	item.LastAdjustment = &domain.StockAdjustment{
		Date:     now,
		Type:     direction,
		Quantity: qty,
		Reason:   reason,
	}
	item.UpdatedAt = now
	items[i] = item

	if err := writeCollection(ctx, s.data, port.KeyItems, items); err != nil {
		s.log.WithFields(logrus.Fields{"op": "adjust_stock", "item_id": itemID}).WithError(err).Error("stock adjustment not saved")
		return domain.Item{}, err
	}

	s.log.WithFields(logrus.Fields{
		"op":       "adjust_stock",
		"item_id":  itemID,
		"type":     direction,
		"quantity": qty.String(),
		"stock":    item.CurrentStock.String(),
	}).Info("stock adjusted")
	return item, nil
}

// CommitPurchase appends an already built purchase without touching stock.
// It is the retry path after a PersistenceError with StockApplied set and is
// a no-op if the purchase id is already recorded.
func (s *LedgerService) CommitPurchase(ctx context.Context, p domain.Purchase) error {
	return commit(ctx, s, port.KeyPurchases, p, func(x domain.Purchase) string { return x.ID }, domain.Purchase.Validate)
}

// CommitSale is the sale counterpart of CommitPurchase.
func (s *LedgerService) CommitSale(ctx context.Context, sale domain.Sale) error {
	return commit(ctx, s, port.KeySales, sale, func(x domain.Sale) string { return x.ID }, domain.Sale.Validate)
}

func commit[T any](ctx context.Context, s *LedgerService, key string, record T, id func(T) string, validate func(T) error) error {
	if id(record) == "" {
		return &domain.ValidationError{Err: domain.ErrMissingField, Field: "id"}
	}
	if err := validate(record); err != nil {
		return err
	}

	unlock, err := s.locker.Lock(ctx, LedgerLockKey)
	if err != nil {
		return fmt.Errorf("acquire ledger lock: %w", err)
	}
	defer unlock()

	existing, err := readCollection[T](ctx, s.data, key)
	if err != nil {
		return err
	}
	for _, r := range existing {
		if id(r) == id(record) {
			return nil
		}
	}
	if err := writeCollection(ctx, s.data, key, append(existing, record)); err != nil {
		return err
	}

	s.log.WithFields(logrus.Fields{"op": "commit", "key": key, "id": id(record)}).Info("pending transaction recorded")
	return nil
}

func (s *LedgerService) parse(partyID, date string, inputs []domain.LineInput) ([]domain.Line, string, error) {
	if partyID == "" {
		return nil, "", &domain.ValidationError{Err: domain.ErrMissingParty, Field: "party"}
	}
	if len(inputs) == 0 {
		return nil, "", &domain.ValidationError{Err: domain.ErrEmptyLineSet, Field: "items"}
	}

	day := strings.TrimSpace(date)
	if day == "" {
		day = s.clock().Format(domain.DayLayout)
	}
	day, err := domain.ParseDay(day)
	if err != nil {
		return nil, "", err
	}

	lines := make([]domain.Line, 0, len(inputs))
	for i, in := range inputs {
		l, err := domain.ParseLine(i+1, in)
		if err != nil {
			return nil, "", err
		}
		lines = append(lines, l)
	}
	return lines, day, nil
}

// claim takes the request's idempotency key, if any. The returned func
// gives the key back and is called when nothing was persisted.
func (s *LedgerService) claim(ctx context.Context, op string) (func(), error) {
	noop := func() {}
	if s.guard == nil {
		return noop, nil
	}
	requestID, ok := RequestIDFromContext(ctx)
	if !ok {
		return noop, nil
	}

	key := fmt.Sprintf("idempotency:%s:%s", op, requestID)
	claimed, err := s.guard.Claim(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("idempotency check failed: %w", err)
	}
	if !claimed {
		return nil, domain.ErrDuplicateRequest
	}

	return func() {
		if err := s.guard.Release(context.WithoutCancel(ctx), key); err != nil {
			s.log.WithFields(logrus.Fields{"key": key}).WithError(err).Warn("idempotency key not released")
		}
	}, nil
}

// applyThenAppend writes the updated items first and only then appends the
// transaction record. A failed items write aborts before the record is
// touched and releases the idempotency claim. A failed append leaves the
// stock change in place and reports StockApplied with the unsaved record so
// the caller can retry the append.
func applyThenAppend[T any](ctx context.Context, s *LedgerService, items []domain.Item, key string, existing []T, record T, release func()) error {
	if err := writeCollection(ctx, s.data, port.KeyItems, items); err != nil {
		release()
		s.log.WithFields(logrus.Fields{"op": "apply_stock", "key": key}).WithError(err).Error("stock update not saved, transaction discarded")
		return err
	}

	if err := writeCollection(ctx, s.data, key, append(existing, record)); err != nil {
		var perr *domain.PersistenceError
		if errors.As(err, &perr) {
			perr.StockApplied = true
			perr.Record = record
		}
		s.log.WithFields(logrus.Fields{"op": "append_record", "key": key}).WithError(err).Error("stock updated but transaction not recorded")
		return err
	}
	return nil
}

func snapshotNames(lines []domain.Line, items []domain.Item, index map[string]int) error {
	for i := range lines {
		idx, ok := index[lines[i].ItemID]
		if !ok {
			return &domain.ReferenceError{Kind: "item", ID: lines[i].ItemID, Line: i + 1, Err: domain.ErrItemNotFound}
		}
		lines[i].ItemName = items[idx].Name
	}
	return nil
}

func hasParty[T any](parties []T, id string, idOf func(T) string) bool {
	for _, p := range parties {
		if idOf(p) == id {
			return true
		}
	}
	return false
}
