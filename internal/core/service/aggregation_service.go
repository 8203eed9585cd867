package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/stockledger/stockledger/internal/core/domain"
	"github.com/stockledger/stockledger/internal/port"
)

// TotalFor sums the totals of the transactions matching pred. A nil pred
// matches everything.
func TotalFor[T domain.Totaled](txs []T, pred func(T) bool) decimal.Decimal {
	total := decimal.Zero
	for _, tx := range txs {
		if pred == nil || pred(tx) {
			total = total.Add(tx.Amount())
		}
	}
	return total
}

// OnDate matches transactions dated exactly day.
func OnDate[T domain.Totaled](day string) func(T) bool {
	return func(tx T) bool { return tx.Day() == day }
}

// Since matches transactions dated day or later. Days are YYYY-MM-DD so
// string order is calendar order.
func Since[T domain.Totaled](day string) func(T) bool {
	return func(tx T) bool { return tx.Day() >= day }
}

func LowStockItems(items []domain.Item) []domain.Item {
	low := make([]domain.Item, 0)
	for _, item := range items {
		if item.IsLowStock() {
			low = append(low, item)
		}
	}
	return low
}

type AggregationService struct {
	data  collections
	clock func() time.Time
}

func NewAggregationService(store port.CollectionStore, logger logrus.FieldLogger, opts ...Option) *AggregationService {
	o := buildOptions(opts)
	return &AggregationService{
		data:  collections{store: store, log: logger.WithField("module", "aggregation")},
		clock: o.clock,
	}
}

func (a *AggregationService) Today() string {
	return a.clock().Format(domain.DayLayout)
}

func (a *AggregationService) MonthStart() string {
	now := a.clock()
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location()).Format(domain.DayLayout)
}

func (a *AggregationService) LowStock(ctx context.Context) ([]domain.Item, error) {
	items, err := readCollection[domain.Item](ctx, a.data, port.KeyItems)
	if err != nil {
		return nil, err
	}
	return LowStockItems(items), nil
}

func (a *AggregationService) Dashboard(ctx context.Context) (domain.Dashboard, error) {
	purchases, err := readCollection[domain.Purchase](ctx, a.data, port.KeyPurchases)
	if err != nil {
		return domain.Dashboard{}, err
	}
	sales, err := readCollection[domain.Sale](ctx, a.data, port.KeySales)
	if err != nil {
		return domain.Dashboard{}, err
	}
	items, err := readCollection[domain.Item](ctx, a.data, port.KeyItems)
	if err != nil {
		return domain.Dashboard{}, err
	}

	today := a.Today()
	monthStart := a.MonthStart()
	return domain.Dashboard{
		Today:          today,
		MonthStart:     monthStart,
		TodaySales:     TotalFor(sales, OnDate[domain.Sale](today)),
		TodayPurchases: TotalFor(purchases, OnDate[domain.Purchase](today)),
		MonthSales:     TotalFor(sales, Since[domain.Sale](monthStart)),
		MonthPurchases: TotalFor(purchases, Since[domain.Purchase](monthStart)),
		LowStockCount:  len(LowStockItems(items)),
		TotalItems:     len(items),
	}, nil
}
