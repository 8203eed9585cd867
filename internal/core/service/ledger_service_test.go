package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/stockledger/stockledger/internal/core/domain"
	"github.com/stockledger/stockledger/internal/port"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func stockItem(id, name, stock string, minStock int) domain.Item {
	return domain.Item{
		ID:           id,
		Name:         name,
		Code:         strings.ToUpper(id),
		Price:        dec("1"),
		MinStock:     minStock,
		CurrentStock: dec(stock),
		CreatedAt:    fixedClock(),
		UpdatedAt:    fixedClock(),
	}
}

type ledgerEnv struct {
	store  *mockStore
	locker *mockLocker
	ledger *LedgerService
	data   collections
}

func newLedgerEnv(t *testing.T, items ...domain.Item) *ledgerEnv {
	t.Helper()
	store := newMockStore()
	locker := &mockLocker{}
	logger := quietLogger()
	env := &ledgerEnv{
		store:  store,
		locker: locker,
		ledger: NewLedgerService(store, locker, logger, WithClock(fixedClock)),
		data:   collections{store: store, log: logger},
	}

	ctx := context.Background()
	if err := writeCollection(ctx, env.data, port.KeyItems, items); err != nil {
		t.Fatalf("seed items: %v", err)
	}
	suppliers := []domain.Supplier{{Party: domain.Party{ID: "sup-1", Name: "Acme Wholesale"}}}
	if err := writeCollection(ctx, env.data, port.KeySuppliers, suppliers); err != nil {
		t.Fatalf("seed suppliers: %v", err)
	}
	customers := []domain.Customer{{Party: domain.Party{ID: "cus-1", Name: "Walk-in"}}}
	if err := writeCollection(ctx, env.data, port.KeyCustomers, customers); err != nil {
		t.Fatalf("seed customers: %v", err)
	}
	store.writes = nil
	return env
}

func (e *ledgerEnv) item(t *testing.T, id string) domain.Item {
	t.Helper()
	items, err := readCollection[domain.Item](context.Background(), e.data, port.KeyItems)
	if err != nil {
		t.Fatalf("read items: %v", err)
	}
	for _, item := range items {
		if item.ID == id {
			return item
		}
	}
	t.Fatalf("item %s not found", id)
	return domain.Item{}
}

func (e *ledgerEnv) sales(t *testing.T) []domain.Sale {
	t.Helper()
	sales, err := readCollection[domain.Sale](context.Background(), e.data, port.KeySales)
	if err != nil {
		t.Fatalf("read sales: %v", err)
	}
	return sales
}

func (e *ledgerEnv) purchases(t *testing.T) []domain.Purchase {
	t.Helper()
	purchases, err := readCollection[domain.Purchase](context.Background(), e.data, port.KeyPurchases)
	if err != nil {
		t.Fatalf("read purchases: %v", err)
	}
	return purchases
}

func line(itemID, qty, price string) domain.LineInput {
	return domain.LineInput{ItemID: itemID, Quantity: qty, Price: price}
}

func TestRecordPurchase_IncreasesStockAndAppends(t *testing.T) {
	env := newLedgerEnv(t, stockItem("a", "Apples", "10", 5), stockItem("b", "Bread", "0", 0))
	ctx := context.Background()

	purchase, err := env.ledger.RecordPurchase(ctx, "sup-1", "2024-03-14", []domain.LineInput{
		line("a", "3", "0.1"),
		line("b", "1.2", "2.5"),
	}, "  weekly restock ")
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}

	if !purchase.Total.Equal(dec("3.3")) {
		t.Errorf("expected total 3.3, got %s", purchase.Total)
	}
	if purchase.Items[0].ItemName != "Apples" || purchase.Items[1].ItemName != "Bread" {
		t.Errorf("expected item name snapshots, got %+v", purchase.Items)
	}
	if purchase.Notes != "weekly restock" {
		t.Errorf("expected trimmed notes, got %q", purchase.Notes)
	}
	if purchase.Date != "2024-03-14" {
		t.Errorf("expected date kept, got %s", purchase.Date)
	}

	if got := env.item(t, "a").CurrentStock; !got.Equal(dec("13")) {
		t.Errorf("expected stock 13, got %s", got)
	}
	if got := env.item(t, "b").CurrentStock; !got.Equal(dec("1.2")) {
		t.Errorf("expected stock 1.2, got %s", got)
	}

	stored := env.purchases(t)
	if len(stored) != 1 || stored[0].ID != purchase.ID {
		t.Fatalf("expected purchase appended, got %+v", stored)
	}

	// items are written before the purchase record
	if !reflect.DeepEqual(env.store.writes, []string{port.KeyItems, port.KeyPurchases}) {
		t.Errorf("unexpected write order %v", env.store.writes)
	}
}

func TestRecordPurchase_DefaultsDateToToday(t *testing.T) {
	env := newLedgerEnv(t, stockItem("a", "Apples", "0", 0))

	purchase, err := env.ledger.RecordPurchase(context.Background(), "sup-1", "", []domain.LineInput{line("a", "1", "1")}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if purchase.Date != "2024-03-15" {
		t.Errorf("expected today's date, got %s", purchase.Date)
	}
}

func TestRecordPurchase_Validation(t *testing.T) {
	tests := []struct {
		name       string
		supplierID string
		date       string
		lines      []domain.LineInput
		wantErr    error
		wantLine   int
	}{
		{
			name:       "missing supplier",
			supplierID: "  ",
			lines:      []domain.LineInput{line("a", "1", "1")},
			wantErr:    domain.ErrMissingParty,
		},
		{
			name:       "no lines",
			supplierID: "sup-1",
			wantErr:    domain.ErrEmptyLineSet,
		},
		{
			name:       "non numeric quantity on second line",
			supplierID: "sup-1",
			lines:      []domain.LineInput{line("a", "1", "1"), line("a", "two", "1")},
			wantErr:    domain.ErrInvalidQuantity,
			wantLine:   2,
		},
		{
			name:       "zero quantity",
			supplierID: "sup-1",
			lines:      []domain.LineInput{line("a", "0", "1")},
			wantErr:    domain.ErrInvalidQuantity,
			wantLine:   1,
		},
		{
			name:       "negative price on third line",
			supplierID: "sup-1",
			lines:      []domain.LineInput{line("a", "1", "1"), line("a", "1", "1"), line("a", "1", "-4")},
			wantErr:    domain.ErrInvalidPrice,
			wantLine:   3,
		},
		{
			name:       "malformed date",
			supplierID: "sup-1",
			date:       "15/03/2024",
			lines:      []domain.LineInput{line("a", "1", "1")},
			wantErr:    domain.ErrInvalidDate,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newLedgerEnv(t, stockItem("a", "Apples", "10", 0))
			before := env.store.snapshot()

			_, err := env.ledger.RecordPurchase(context.Background(), tt.supplierID, tt.date, tt.lines, "")
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}

			var verr *domain.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %T", err)
			}
			if verr.Line != tt.wantLine {
				t.Errorf("expected line %d, got %d", tt.wantLine, verr.Line)
			}
			if tt.wantLine > 0 && !strings.Contains(err.Error(), fmt.Sprintf("line %d", tt.wantLine)) {
				t.Errorf("expected line index in message, got %q", err.Error())
			}
			if !reflect.DeepEqual(before, env.store.snapshot()) {
				t.Error("validation failure must not write")
			}
			if env.locker.calls != 0 {
				t.Error("validation happens before the lock is taken")
			}
		})
	}
}

func TestRecordPurchase_UnknownReferences(t *testing.T) {
	env := newLedgerEnv(t, stockItem("a", "Apples", "10", 0))
	ctx := context.Background()

	_, err := env.ledger.RecordPurchase(ctx, "sup-404", "", []domain.LineInput{line("a", "1", "1")}, "")
	if !errors.Is(err, domain.ErrSupplierNotFound) {
		t.Errorf("expected ErrSupplierNotFound, got %v", err)
	}

	_, err = env.ledger.RecordPurchase(ctx, "sup-1", "", []domain.LineInput{line("a", "1", "1"), line("ghost", "1", "1")}, "")
	if !errors.Is(err, domain.ErrItemNotFound) {
		t.Fatalf("expected ErrItemNotFound, got %v", err)
	}
	var rerr *domain.ReferenceError
	if !errors.As(err, &rerr) || rerr.Line != 2 || rerr.ID != "ghost" {
		t.Errorf("expected reference error on line 2 for ghost, got %+v", rerr)
	}

	if got := env.item(t, "a").CurrentStock; !got.Equal(dec("10")) {
		t.Errorf("expected stock untouched, got %s", got)
	}
}

func TestRecordSale_DecreasesStock(t *testing.T) {
	env := newLedgerEnv(t, stockItem("a", "Apples", "10", 0))

	sale, err := env.ledger.RecordSale(context.Background(), "cus-1", "2024-03-15", []domain.LineInput{line("a", "2.5", "4")}, "")
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if !sale.Total.Equal(dec("10")) {
		t.Errorf("expected total 10, got %s", sale.Total)
	}
	if got := env.item(t, "a").CurrentStock; !got.Equal(dec("7.5")) {
		t.Errorf("expected stock 7.5, got %s", got)
	}
	if len(env.sales(t)) != 1 {
		t.Error("expected one sale recorded")
	}
}

func TestRecordSale_InsufficientStockLeavesStateIdentical(t *testing.T) {
	env := newLedgerEnv(t, stockItem("a", "Apples", "10", 0), stockItem("b", "Bread", "1", 0))
	before := env.store.snapshot()

	_, err := env.ledger.RecordSale(context.Background(), "cus-1", "", []domain.LineInput{
		line("a", "1", "1"),
		line("b", "2", "1"),
	}, "")
	if !errors.Is(err, domain.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}

	var serr *domain.InsufficientStockError
	if !errors.As(err, &serr) {
		t.Fatalf("expected InsufficientStockError, got %T", err)
	}
	if serr.ItemName != "Bread" || !serr.Available.Equal(dec("1")) {
		t.Errorf("unexpected error details %+v", serr)
	}
	if err.Error() != "insufficient stock for Bread. Available: 1" {
		t.Errorf("unexpected message %q", err.Error())
	}

	if !reflect.DeepEqual(before, env.store.snapshot()) {
		t.Error("state changed after failed sale")
	}
}

func TestRecordSale_RepeatedItemLinesShareStock(t *testing.T) {
	env := newLedgerEnv(t, stockItem("a", "Apples", "5", 0))

	_, err := env.ledger.RecordSale(context.Background(), "cus-1", "", []domain.LineInput{
		line("a", "3", "1"),
		line("a", "3", "1"),
	}, "")
	if !errors.Is(err, domain.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
	if got := env.item(t, "a").CurrentStock; !got.Equal(dec("5")) {
		t.Errorf("expected stock 5, got %s", got)
	}
}

func TestRecordSale_ExactStockDrainsToZero(t *testing.T) {
	env := newLedgerEnv(t, stockItem("a", "Apples", "2.5", 0))

	if _, err := env.ledger.RecordSale(context.Background(), "cus-1", "", []domain.LineInput{line("a", "2.5", "1")}, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := env.item(t, "a").CurrentStock; !got.IsZero() {
		t.Errorf("expected stock 0, got %s", got)
	}
}

func TestRecordSale_UnknownCustomer(t *testing.T) {
	env := newLedgerEnv(t, stockItem("a", "Apples", "5", 0))

	_, err := env.ledger.RecordSale(context.Background(), "cus-404", "", []domain.LineInput{line("a", "1", "1")}, "")
	var rerr *domain.ReferenceError
	if !errors.As(err, &rerr) || rerr.Kind != "customer" {
		t.Fatalf("expected customer reference error, got %v", err)
	}
}

func TestAdjustStock(t *testing.T) {
	env := newLedgerEnv(t, stockItem("a", "Apples", "10", 0))
	ctx := context.Background()

	item, err := env.ledger.AdjustStock(ctx, "a", domain.AdjustmentAdd, "4.5", " found in back room ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !item.CurrentStock.Equal(dec("14.5")) {
		t.Errorf("expected 14.5, got %s", item.CurrentStock)
	}
	adj := item.LastAdjustment
	if adj == nil || adj.Type != domain.AdjustmentAdd || !adj.Quantity.Equal(dec("4.5")) || adj.Reason != "found in back room" {
		t.Fatalf("unexpected last adjustment %+v", adj)
	}
	if !adj.Date.Equal(fixedClock()) {
		t.Errorf("expected adjustment dated now, got %v", adj.Date)
	}

	item, err = env.ledger.AdjustStock(ctx, "a", domain.AdjustmentSubtract, "0.5", "spoiled")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !item.CurrentStock.Equal(dec("14")) || item.LastAdjustment.Reason != "spoiled" {
		t.Errorf("expected overwrite of last adjustment, got %+v", item.LastAdjustment)
	}

	if stored := env.item(t, "a"); !stored.CurrentStock.Equal(dec("14")) {
		t.Errorf("expected persisted stock 14, got %s", stored.CurrentStock)
	}
}

func TestAdjustStock_SubtractBeyondStockLeavesItemUnchanged(t *testing.T) {
	env := newLedgerEnv(t, stockItem("a", "Apples", "10", 0))
	ctx := context.Background()

	if _, err := env.ledger.AdjustStock(ctx, "a", domain.AdjustmentAdd, "1", "recount"); err != nil {
		t.Fatalf("setup failed: %v", err)
	}
	before := env.item(t, "a")

	_, err := env.ledger.AdjustStock(ctx, "a", domain.AdjustmentSubtract, "12", "theft")
	if !errors.Is(err, domain.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}

	after := env.item(t, "a")
	if !after.CurrentStock.Equal(before.CurrentStock) {
		t.Errorf("stock changed from %s to %s", before.CurrentStock, after.CurrentStock)
	}
	if after.LastAdjustment.Reason != "recount" {
		t.Errorf("last adjustment overwritten: %+v", after.LastAdjustment)
	}
}

func TestAdjustStock_Validation(t *testing.T) {
	tests := []struct {
		name      string
		itemID    string
		direction domain.AdjustmentType
		quantity  string
		reason    string
		wantErr   error
	}{
		{"missing item", "", domain.AdjustmentAdd, "1", "r", domain.ErrMissingField},
		{"unknown item", "ghost", domain.AdjustmentAdd, "1", "r", domain.ErrItemNotFound},
		{"bad direction", "a", domain.AdjustmentType("set"), "1", "r", domain.ErrInvalidDirection},
		{"zero quantity", "a", domain.AdjustmentAdd, "0", "r", domain.ErrInvalidQuantity},
		{"text quantity", "a", domain.AdjustmentSubtract, "lots", "r", domain.ErrInvalidQuantity},
		{"blank reason", "a", domain.AdjustmentAdd, "1", "   ", domain.ErrMissingField},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newLedgerEnv(t, stockItem("a", "Apples", "10", 0))
			_, err := env.ledger.AdjustStock(context.Background(), tt.itemID, tt.direction, tt.quantity, tt.reason)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
			if got := env.item(t, "a"); got.LastAdjustment != nil {
				t.Error("expected no adjustment recorded")
			}
		})
	}
}

func TestIsLowStock(t *testing.T) {
	tests := []struct {
		stock    string
		minStock int
		want     bool
	}{
		{"7", 5, false},
		{"5", 5, true},
		{"2", 5, true},
		{"0", 0, true},
		{"0.5", 0, false},
	}
	for _, tt := range tests {
		item := stockItem("a", "Apples", tt.stock, tt.minStock)
		if got := IsLowStock(item); got != tt.want {
			t.Errorf("stock=%s min=%d: expected %v, got %v", tt.stock, tt.minStock, tt.want, got)
		}
	}
}

func TestLedger_ItemAScenario(t *testing.T) {
	env := newLedgerEnv(t, stockItem("a", "Item A", "10", 5))
	ctx := context.Background()

	if _, err := env.ledger.RecordSale(ctx, "cus-1", "", []domain.LineInput{line("a", "3", "2")}, ""); err != nil {
		t.Fatalf("sale failed: %v", err)
	}
	item := env.item(t, "a")
	if !item.CurrentStock.Equal(dec("7")) || IsLowStock(item) {
		t.Fatalf("expected stock 7 not low, got %s low=%v", item.CurrentStock, IsLowStock(item))
	}

	item, err := env.ledger.AdjustStock(ctx, "a", domain.AdjustmentSubtract, "5", "damaged")
	if err != nil {
		t.Fatalf("adjust failed: %v", err)
	}
	if !item.CurrentStock.Equal(dec("2")) {
		t.Errorf("expected stock 2, got %s", item.CurrentStock)
	}
	adj := item.LastAdjustment
	if adj.Type != domain.AdjustmentSubtract || !adj.Quantity.Equal(dec("5")) || adj.Reason != "damaged" {
		t.Errorf("unexpected adjustment %+v", adj)
	}
	if !IsLowStock(item) {
		t.Error("expected item to be low (2 <= 5)")
	}

	_, err = env.ledger.RecordSale(ctx, "cus-1", "", []domain.LineInput{line("a", "5", "2")}, "")
	var serr *domain.InsufficientStockError
	if !errors.As(err, &serr) || !serr.Available.Equal(dec("2")) {
		t.Fatalf("expected insufficient stock with 2 available, got %v", err)
	}
	if got := env.item(t, "a").CurrentStock; !got.Equal(dec("2")) {
		t.Errorf("expected stock to remain 2, got %s", got)
	}
}

func TestLedger_ItemsWriteFailureAbortsBeforeRecord(t *testing.T) {
	env := newLedgerEnv(t, stockItem("a", "Apples", "10", 0))
	env.store.failWrite[port.KeyItems] = true

	_, err := env.ledger.RecordPurchase(context.Background(), "sup-1", "", []domain.LineInput{line("a", "1", "1")}, "")
	if !errors.Is(err, domain.ErrStoreWriteFailed) || !errors.Is(err, errDiskFull) {
		t.Fatalf("expected store write failure, got %v", err)
	}
	var perr *domain.PersistenceError
	if !errors.As(err, &perr) || perr.StockApplied {
		t.Errorf("expected StockApplied=false, got %+v", perr)
	}
	if len(env.purchases(t)) != 0 {
		t.Error("purchase must not be appended when stock write fails")
	}
}

func TestLedger_ItemsWriteFailureReleasesRequestID(t *testing.T) {
	env := newLedgerEnv(t, stockItem("a", "Apples", "10", 0))
	env.ledger = NewLedgerService(env.store, env.locker, quietLogger(), WithClock(fixedClock), WithIdempotencyGuard(&mockGuard{}))
	ctx := WithRequestID(context.Background(), "req-1")
	env.store.failWrite[port.KeyItems] = true

	_, err := env.ledger.RecordSale(ctx, "cus-1", "", []domain.LineInput{line("a", "4", "1")}, "")
	if !errors.Is(err, domain.ErrStoreWriteFailed) {
		t.Fatalf("expected store write failure, got %v", err)
	}

	env.store.failWrite[port.KeyItems] = false
	if _, err := env.ledger.RecordSale(ctx, "cus-1", "", []domain.LineInput{line("a", "4", "1")}, ""); err != nil {
		t.Fatalf("retry with the same request id failed: %v", err)
	}
	if got := env.item(t, "a").CurrentStock; !got.Equal(dec("6")) {
		t.Errorf("expected stock 6, got %s", got)
	}
	if len(env.sales(t)) != 1 {
		t.Errorf("expected one sale, got %d", len(env.sales(t)))
	}
}

func TestLedger_AppendFailureKeepsRequestID(t *testing.T) {
	env := newLedgerEnv(t, stockItem("a", "Apples", "10", 0))
	env.ledger = NewLedgerService(env.store, env.locker, quietLogger(), WithClock(fixedClock), WithIdempotencyGuard(&mockGuard{}))
	ctx := WithRequestID(context.Background(), "req-1")
	env.store.failWrite[port.KeyPurchases] = true

	if _, err := env.ledger.RecordPurchase(ctx, "sup-1", "", []domain.LineInput{line("a", "1", "1")}, ""); err == nil {
		t.Fatal("expected append failure")
	}

	env.store.failWrite[port.KeyPurchases] = false
	_, err := env.ledger.RecordPurchase(ctx, "sup-1", "", []domain.LineInput{line("a", "1", "1")}, "")
	if !errors.Is(err, domain.ErrDuplicateRequest) {
		t.Fatalf("stock was applied, expected ErrDuplicateRequest, got %v", err)
	}
	if got := env.item(t, "a").CurrentStock; !got.Equal(dec("11")) {
		t.Errorf("expected stock applied once, got %s", got)
	}
}

func TestLedger_AppendFailureKeepsStockAndAllowsRetry(t *testing.T) {
	env := newLedgerEnv(t, stockItem("a", "Apples", "10", 0))
	ctx := context.Background()
	env.store.failWrite[port.KeySales] = true

	_, err := env.ledger.RecordSale(ctx, "cus-1", "", []domain.LineInput{line("a", "4", "1")}, "")
	var perr *domain.PersistenceError
	if !errors.As(err, &perr) {
		t.Fatalf("expected PersistenceError, got %v", err)
	}
	if !perr.StockApplied || perr.Key != port.KeySales {
		t.Errorf("expected stock applied on sales append failure, got %+v", perr)
	}
	if got := env.item(t, "a").CurrentStock; !got.Equal(dec("6")) {
		t.Errorf("expected stock mutation to stand at 6, got %s", got)
	}

	pending, ok := perr.Record.(domain.Sale)
	if !ok {
		t.Fatalf("expected pending sale, got %T", perr.Record)
	}

	env.store.failWrite[port.KeySales] = false
	if err := env.ledger.CommitSale(ctx, pending); err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if err := env.ledger.CommitSale(ctx, pending); err != nil {
		t.Fatalf("second retry failed: %v", err)
	}

	sales := env.sales(t)
	if len(sales) != 1 || sales[0].ID != pending.ID {
		t.Errorf("expected exactly the pending sale, got %+v", sales)
	}
	if got := env.item(t, "a").CurrentStock; !got.Equal(dec("6")) {
		t.Errorf("commit must not touch stock, got %s", got)
	}
}

func TestLedger_AppendFailureIsLogged(t *testing.T) {
	logger, hook := newHookedLogger()
	store := newMockStore()
	data := collections{store: store, log: logger}
	ctx := context.Background()
	writeCollection(ctx, data, port.KeyItems, []domain.Item{stockItem("a", "Apples", "1", 0)})
	writeCollection(ctx, data, port.KeySuppliers, []domain.Supplier{{Party: domain.Party{ID: "sup-1", Name: "Acme"}}})
	store.failWrite[port.KeyPurchases] = true

	ledger := NewLedgerService(store, &mockLocker{}, logger, WithClock(fixedClock))
	if _, err := ledger.RecordPurchase(ctx, "sup-1", "", []domain.LineInput{line("a", "1", "1")}, ""); err == nil {
		t.Fatal("expected failure")
	}

	entry := hook.LastEntry()
	if entry == nil || entry.Level != logrus.ErrorLevel {
		t.Fatalf("expected error log, got %+v", entry)
	}
	if entry.Message != "stock updated but transaction not recorded" {
		t.Errorf("unexpected message %q", entry.Message)
	}
}

func TestLedger_CommitPurchaseRequiresID(t *testing.T) {
	env := newLedgerEnv(t)
	err := env.ledger.CommitPurchase(context.Background(), domain.Purchase{})
	if !errors.Is(err, domain.ErrMissingField) {
		t.Errorf("expected ErrMissingField, got %v", err)
	}
}

func TestLedger_DuplicateRequest(t *testing.T) {
	store := newMockStore()
	logger := quietLogger()
	data := collections{store: store, log: logger}
	ctx := context.Background()
	writeCollection(ctx, data, port.KeyItems, []domain.Item{stockItem("a", "Apples", "10", 0)})
	writeCollection(ctx, data, port.KeyCustomers, []domain.Customer{{Party: domain.Party{ID: "cus-1", Name: "Walk-in"}}})

	ledger := NewLedgerService(store, &mockLocker{}, logger, WithClock(fixedClock), WithIdempotencyGuard(&mockGuard{}))
	reqCtx := WithRequestID(ctx, "req-1")

	if _, err := ledger.RecordSale(reqCtx, "cus-1", "", []domain.LineInput{line("a", "1", "1")}, ""); err != nil {
		t.Fatalf("first sale failed: %v", err)
	}
	_, err := ledger.RecordSale(reqCtx, "cus-1", "", []domain.LineInput{line("a", "1", "1")}, "")
	if !errors.Is(err, domain.ErrDuplicateRequest) {
		t.Fatalf("expected ErrDuplicateRequest, got %v", err)
	}

	// A request without an id is never deduplicated.
	if _, err := ledger.RecordSale(ctx, "cus-1", "", []domain.LineInput{line("a", "1", "1")}, ""); err != nil {
		t.Fatalf("sale without request id failed: %v", err)
	}

	items, _ := readCollection[domain.Item](ctx, data, port.KeyItems)
	if !items[0].CurrentStock.Equal(dec("8")) {
		t.Errorf("expected stock 8, got %s", items[0].CurrentStock)
	}
}

func TestLedger_ConcurrentSalesNeverOverdraw(t *testing.T) {
	initialStock := 20
	totalRequests := 50

	env := newLedgerEnv(t, stockItem("a", "Apples", fmt.Sprint(initialStock), 0))

	var successCount atomic.Int32
	var failCount atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.ledger.RecordSale(context.Background(), "cus-1", "", []domain.LineInput{line("a", "1", "1")}, "")
			if err == nil {
				successCount.Add(1)
			} else if errors.Is(err, domain.ErrInsufficientStock) {
				failCount.Add(1)
			} else {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}

	wg.Wait()

	if successCount.Load() != int32(initialStock) {
		t.Errorf("expected %d successes, got %d", initialStock, successCount.Load())
	}
	if failCount.Load() != int32(totalRequests-initialStock) {
		t.Errorf("expected %d failures, got %d", totalRequests-initialStock, failCount.Load())
	}
	if got := env.item(t, "a").CurrentStock; !got.IsZero() {
		t.Errorf("expected stock 0, got %s", got)
	}
	if len(env.sales(t)) != initialStock {
		t.Errorf("expected %d sales, got %d", initialStock, len(env.sales(t)))
	}
}

func TestLedger_StockConservation(t *testing.T) {
	env := newLedgerEnv(t, stockItem("a", "Apples", "5", 0), stockItem("b", "Bread", "0", 0))
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))

	expected := map[string]decimal.Decimal{"a": dec("5"), "b": dec("0")}
	quantities := []string{"0.5", "1", "2", "3.25", "7"}
	ids := []string{"a", "b"}

	for i := 0; i < 200; i++ {
		id := ids[rng.Intn(len(ids))]
		qty := quantities[rng.Intn(len(quantities))]
		q := dec(qty)

		switch rng.Intn(4) {
		case 0:
			if _, err := env.ledger.RecordPurchase(ctx, "sup-1", "", []domain.LineInput{line(id, qty, "1")}, ""); err == nil {
				expected[id] = expected[id].Add(q)
			}
		case 1:
			if _, err := env.ledger.RecordSale(ctx, "cus-1", "", []domain.LineInput{line(id, qty, "1")}, ""); err == nil {
				expected[id] = expected[id].Sub(q)
			} else if !errors.Is(err, domain.ErrInsufficientStock) {
				t.Fatalf("unexpected sale error: %v", err)
			}
		case 2:
			if _, err := env.ledger.AdjustStock(ctx, id, domain.AdjustmentAdd, qty, "recount"); err == nil {
				expected[id] = expected[id].Add(q)
			}
		case 3:
			if _, err := env.ledger.AdjustStock(ctx, id, domain.AdjustmentSubtract, qty, "recount"); err == nil {
				expected[id] = expected[id].Sub(q)
			}
		}
	}

	for _, id := range ids {
		got := env.item(t, id).CurrentStock
		if !got.Equal(expected[id]) {
			t.Errorf("item %s: expected %s, got %s", id, expected[id], got)
		}
		if got.IsNegative() {
			t.Errorf("item %s went negative: %s", id, got)
		}
	}
}

func TestReadCollection_MalformedDegradesToEmpty(t *testing.T) {
	logger, hook := newHookedLogger()
	store := newMockStore()
	store.data[port.KeyItems] = []byte(`{not json`)
	data := collections{store: store, log: logger}

	items, err := readCollection[domain.Item](context.Background(), data, port.KeyItems)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if items == nil || len(items) != 0 {
		t.Errorf("expected empty non-nil collection, got %#v", items)
	}
	if entry := hook.LastEntry(); entry == nil || entry.Level != logrus.WarnLevel {
		t.Errorf("expected warning to be logged, got %+v", entry)
	}
}

func TestReadCollection_StoreFailureSurfaces(t *testing.T) {
	store := newMockStore()
	store.failRead[port.KeySales] = true
	data := collections{store: store, log: quietLogger()}

	_, err := readCollection[domain.Sale](context.Background(), data, port.KeySales)
	if !errors.Is(err, domain.ErrStoreReadFailed) {
		t.Errorf("expected ErrStoreReadFailed, got %v", err)
	}
}
