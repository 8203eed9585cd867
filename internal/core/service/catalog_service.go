package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/ttacon/libphonenumber"

	"github.com/stockledger/stockledger/internal/core/domain"
	"github.com/stockledger/stockledger/internal/port"
)

const (
	suppliersLockKey = "catalog:suppliers"
	customersLockKey = "catalog:customers"
)

type PurchaseView struct {
	domain.Purchase
	SupplierName string `json:"supplierName"`
}

type SaleView struct {
	domain.Sale
	CustomerName string `json:"customerName"`
}

type StockView struct {
	domain.Item
	LowStock bool `json:"lowStock"`
}

// CatalogService manages items, suppliers and customers. Item writes share
// the ledger lock because they rewrite the same collection.
type CatalogService struct {
	data   collections
	locker port.Locker
	clock  func() time.Time
	region string
	log    logrus.FieldLogger
}

func NewCatalogService(store port.CollectionStore, locker port.Locker, logger logrus.FieldLogger, opts ...Option) *CatalogService {
	o := buildOptions(opts)
	log := logger.WithField("module", "catalog")
	return &CatalogService{
		data:   collections{store: store, log: log},
		locker: locker,
		clock:  o.clock,
		region: o.region,
		log:    log,
	}
}

func (c *CatalogService) ListItems(ctx context.Context, query string) ([]domain.Item, error) {
	items, err := readCollection[domain.Item](ctx, c.data, port.KeyItems)
	if err != nil {
		return nil, err
	}
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return items, nil
	}
	matched := make([]domain.Item, 0, len(items))
	for _, item := range items {
		if strings.Contains(strings.ToLower(item.Name), query) || strings.Contains(strings.ToLower(item.Code), query) {
			matched = append(matched, item)
		}
	}
	return matched, nil
}

func (c *CatalogService) ListStock(ctx context.Context) ([]StockView, error) {
	items, err := readCollection[domain.Item](ctx, c.data, port.KeyItems)
	if err != nil {
		return nil, err
	}
	views := make([]StockView, 0, len(items))
	for _, item := range items {
		views = append(views, StockView{Item: item, LowStock: item.IsLowStock()})
	}
	return views, nil
}

func (c *CatalogService) GetItem(ctx context.Context, id string) (domain.Item, error) {
	items, err := readCollection[domain.Item](ctx, c.data, port.KeyItems)
	if err != nil {
		return domain.Item{}, err
	}
	i, ok := indexItems(items)[id]
	if !ok {
		return domain.Item{}, &domain.ReferenceError{Kind: "item", ID: id, Err: domain.ErrItemNotFound}
	}
	return items[i], nil
}

func (c *CatalogService) CreateItem(ctx context.Context, in domain.ItemInput) (domain.Item, error) {
	item, err := domain.NewItem(in, c.clock())
	if err != nil {
		return domain.Item{}, err
	}

	unlock, err := c.locker.Lock(ctx, LedgerLockKey)
	if err != nil {
		return domain.Item{}, fmt.Errorf("acquire ledger lock: %w", err)
	}
	defer unlock()

	items, err := readCollection[domain.Item](ctx, c.data, port.KeyItems)
	if err != nil {
		return domain.Item{}, err
	}
	if err := writeCollection(ctx, c.data, port.KeyItems, append(items, item)); err != nil {
		return domain.Item{}, err
	}
	c.log.WithFields(logrus.Fields{"op": "create_item", "item_id": item.ID, "code": item.Code}).Info("item created")
	return item, nil
}

// UpdateItem changes descriptive fields only, stock is owned by the ledger.
func (c *CatalogService) UpdateItem(ctx context.Context, id string, in domain.ItemInput) (domain.Item, error) {
	unlock, err := c.locker.Lock(ctx, LedgerLockKey)
	if err != nil {
		return domain.Item{}, fmt.Errorf("acquire ledger lock: %w", err)
	}
	defer unlock()

	items, err := readCollection[domain.Item](ctx, c.data, port.KeyItems)
	if err != nil {
		return domain.Item{}, err
	}
	i, ok := indexItems(items)[id]
	if !ok {
		return domain.Item{}, &domain.ReferenceError{Kind: "item", ID: id, Err: domain.ErrItemNotFound}
	}
	updated, err := items[i].WithDetails(in, c.clock())
	if err != nil {
		return domain.Item{}, err
	}
	items[i] = updated
	if err := writeCollection(ctx, c.data, port.KeyItems, items); err != nil {
		return domain.Item{}, err
	}
	return updated, nil
}

// DeleteItem removes the item. Past transactions keep their item name
// snapshots.
func (c *CatalogService) DeleteItem(ctx context.Context, id string) error {
	unlock, err := c.locker.Lock(ctx, LedgerLockKey)
	if err != nil {
		return fmt.Errorf("acquire ledger lock: %w", err)
	}
	defer unlock()

	items, err := readCollection[domain.Item](ctx, c.data, port.KeyItems)
	if err != nil {
		return err
	}
	i, ok := indexItems(items)[id]
	if !ok {
		return &domain.ReferenceError{Kind: "item", ID: id, Err: domain.ErrItemNotFound}
	}
	return writeCollection(ctx, c.data, port.KeyItems, append(items[:i], items[i+1:]...))
}

func (c *CatalogService) ListSuppliers(ctx context.Context) ([]domain.Supplier, error) {
	return readCollection[domain.Supplier](ctx, c.data, port.KeySuppliers)
}

func (c *CatalogService) GetSupplier(ctx context.Context, id string) (domain.Supplier, error) {
	return getParty(ctx, c, port.KeySuppliers, id, supplierID, &domain.ReferenceError{Kind: "supplier", ID: id, Err: domain.ErrSupplierNotFound})
}

func (c *CatalogService) CreateSupplier(ctx context.Context, in domain.PartyInput) (domain.Supplier, error) {
	s, err := domain.NewSupplier(c.normalize(in), c.clock())
	if err != nil {
		return domain.Supplier{}, err
	}
	if err := appendParty(ctx, c, port.KeySuppliers, suppliersLockKey, s); err != nil {
		return domain.Supplier{}, err
	}
	return s, nil
}

func (c *CatalogService) UpdateSupplier(ctx context.Context, id string, in domain.PartyInput) (domain.Supplier, error) {
	return updateParty(ctx, c, port.KeySuppliers, suppliersLockKey, id, supplierID,
		func(s domain.Supplier) (domain.Supplier, error) { return s.WithDetails(c.normalize(in), c.clock()) },
		&domain.ReferenceError{Kind: "supplier", ID: id, Err: domain.ErrSupplierNotFound})
}

// DeleteSupplier does not cascade, purchases keep the dangling id and
// resolve it to a placeholder name.
func (c *CatalogService) DeleteSupplier(ctx context.Context, id string) error {
	return deleteParty(ctx, c, port.KeySuppliers, suppliersLockKey, id, supplierID,
		&domain.ReferenceError{Kind: "supplier", ID: id, Err: domain.ErrSupplierNotFound})
}

func (c *CatalogService) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	return readCollection[domain.Customer](ctx, c.data, port.KeyCustomers)
}

func (c *CatalogService) GetCustomer(ctx context.Context, id string) (domain.Customer, error) {
	return getParty(ctx, c, port.KeyCustomers, id, customerID, &domain.ReferenceError{Kind: "customer", ID: id, Err: domain.ErrCustomerNotFound})
}

func (c *CatalogService) CreateCustomer(ctx context.Context, in domain.PartyInput) (domain.Customer, error) {
	cu, err := domain.NewCustomer(c.normalize(in), c.clock())
	if err != nil {
		return domain.Customer{}, err
	}
	if err := appendParty(ctx, c, port.KeyCustomers, customersLockKey, cu); err != nil {
		return domain.Customer{}, err
	}
	return cu, nil
}

func (c *CatalogService) UpdateCustomer(ctx context.Context, id string, in domain.PartyInput) (domain.Customer, error) {
	return updateParty(ctx, c, port.KeyCustomers, customersLockKey, id, customerID,
		func(cu domain.Customer) (domain.Customer, error) { return cu.WithDetails(c.normalize(in), c.clock()) },
		&domain.ReferenceError{Kind: "customer", ID: id, Err: domain.ErrCustomerNotFound})
}

func (c *CatalogService) DeleteCustomer(ctx context.Context, id string) error {
	return deleteParty(ctx, c, port.KeyCustomers, customersLockKey, id, customerID,
		&domain.ReferenceError{Kind: "customer", ID: id, Err: domain.ErrCustomerNotFound})
}

// ListPurchases returns purchases newest first with supplier names resolved.
func (c *CatalogService) ListPurchases(ctx context.Context) ([]PurchaseView, error) {
	purchases, err := readCollection[domain.Purchase](ctx, c.data, port.KeyPurchases)
	if err != nil {
		return nil, err
	}
	suppliers, err := readCollection[domain.Supplier](ctx, c.data, port.KeySuppliers)
	if err != nil {
		return nil, err
	}
	names := make(map[string]string, len(suppliers))
	for _, s := range suppliers {
		names[s.ID] = s.Name
	}

	views := make([]PurchaseView, 0, len(purchases))
	for _, p := range purchases {
		views = append(views, PurchaseView{Purchase: p, SupplierName: nameOr(names, p.SupplierID, domain.UnknownSupplier)})
	}
	sort.SliceStable(views, func(i, j int) bool {
		return newer(views[i].Date, views[i].CreatedAt, views[j].Date, views[j].CreatedAt)
	})
	return views, nil
}

func (c *CatalogService) ListSales(ctx context.Context) ([]SaleView, error) {
	sales, err := readCollection[domain.Sale](ctx, c.data, port.KeySales)
	if err != nil {
		return nil, err
	}
	customers, err := readCollection[domain.Customer](ctx, c.data, port.KeyCustomers)
	if err != nil {
		return nil, err
	}
	names := make(map[string]string, len(customers))
	for _, cu := range customers {
		names[cu.ID] = cu.Name
	}

	views := make([]SaleView, 0, len(sales))
	for _, s := range sales {
		views = append(views, SaleView{Sale: s, CustomerName: nameOr(names, s.CustomerID, domain.UnknownCustomer)})
	}
	sort.SliceStable(views, func(i, j int) bool {
		return newer(views[i].Date, views[i].CreatedAt, views[j].Date, views[j].CreatedAt)
	})
	return views, nil
}

// normalize rewrites a parseable phone number to E.164, anything else is
// kept as typed.
func (c *CatalogService) normalize(in domain.PartyInput) domain.PartyInput {
	raw := strings.TrimSpace(in.Contact)
	if raw == "" {
		return in
	}
	num, err := libphonenumber.Parse(raw, c.region)
	if err != nil || !libphonenumber.IsValidNumber(num) {
		return in
	}
	in.Contact = libphonenumber.Format(num, libphonenumber.E164)
	return in
}

func supplierID(s domain.Supplier) string { return s.ID }
func customerID(c domain.Customer) string { return c.ID }

func nameOr(names map[string]string, id, placeholder string) string {
	if name, ok := names[id]; ok {
		return name
	}
	return placeholder
}

func newer(dayA string, createdA time.Time, dayB string, createdB time.Time) bool {
	if dayA != dayB {
		return dayA > dayB
	}
	return createdA.After(createdB)
}

func getParty[T any](ctx context.Context, c *CatalogService, key, id string, idOf func(T) string, notFound error) (T, error) {
	var zero T
	parties, err := readCollection[T](ctx, c.data, key)
	if err != nil {
		return zero, err
	}
	for _, p := range parties {
		if idOf(p) == id {
			return p, nil
		}
	}
	return zero, notFound
}

func appendParty[T any](ctx context.Context, c *CatalogService, key, lockKey string, party T) error {
	unlock, err := c.locker.Lock(ctx, lockKey)
	if err != nil {
		return fmt.Errorf("acquire %s lock: %w", key, err)
	}
	defer unlock()

	parties, err := readCollection[T](ctx, c.data, key)
	if err != nil {
		return err
	}
	return writeCollection(ctx, c.data, key, append(parties, party))
}

func updateParty[T any](ctx context.Context, c *CatalogService, key, lockKey, id string, idOf func(T) string, update func(T) (T, error), notFound error) (T, error) {
	var zero T
	unlock, err := c.locker.Lock(ctx, lockKey)
	if err != nil {
		return zero, fmt.Errorf("acquire %s lock: %w", key, err)
	}
	defer unlock()

	parties, err := readCollection[T](ctx, c.data, key)
	if err != nil {
		return zero, err
	}
	for i, p := range parties {
		if idOf(p) != id {
			continue
		}
		updated, err := update(p)
		if err != nil {
			return zero, err
		}
		parties[i] = updated
		if err := writeCollection(ctx, c.data, key, parties); err != nil {
			return zero, err
		}
		return updated, nil
	}
	return zero, notFound
}

func deleteParty[T any](ctx context.Context, c *CatalogService, key, lockKey, id string, idOf func(T) string, notFound error) error {
	unlock, err := c.locker.Lock(ctx, lockKey)
	if err != nil {
		return fmt.Errorf("acquire %s lock: %w", key, err)
	}
	defer unlock()

	parties, err := readCollection[T](ctx, c.data, key)
	if err != nil {
		return err
	}
	for i, p := range parties {
		if idOf(p) == id {
			return writeCollection(ctx, c.data, key, append(parties[:i], parties[i+1:]...))
		}
	}
	return notFound
}
