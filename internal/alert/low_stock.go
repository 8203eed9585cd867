package alert

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/stockledger/stockledger/internal/core/domain"
)

type LowStockSource interface {
	LowStock(ctx context.Context) ([]domain.Item, error)
}

// LowStockJob periodically logs the items at or below their minimum stock.
type LowStockJob struct {
	source  LowStockSource
	log     logrus.FieldLogger
	timeout time.Duration
}

func NewLowStockJob(source LowStockSource, logger logrus.FieldLogger) *LowStockJob {
	return &LowStockJob{
		source:  source,
		log:     logger.WithField("module", "low_stock_alert"),
		timeout: 30 * time.Second,
	}
}

// Run performs one check. It satisfies cron.Job.
func (j *LowStockJob) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	if _, err := j.Check(ctx); err != nil {
		j.log.WithError(err).Error("low stock check failed")
	}
}

func (j *LowStockJob) Check(ctx context.Context) ([]domain.Item, error) {
	items, err := j.source.LowStock(ctx)
	if err != nil {
		return nil, err
	}

	if len(items) == 0 {
		j.log.Debug("no items low on stock")
		return items, nil
	}
	for _, item := range items {
		j.log.WithFields(logrus.Fields{
			"item_id":   item.ID,
			"code":      item.Code,
			"stock":     item.CurrentStock.String(),
			"min_stock": item.MinStock,
		}).Warn("item low on stock")
	}
	j.log.WithField("count", len(items)).Warn("low stock items found")
	return items, nil
}

// Schedule registers the job on a new cron scheduler. The caller starts and
// stops the returned scheduler.
func Schedule(spec string, job *LowStockJob) (*cron.Cron, error) {
	c := cron.New()
	if _, err := c.AddJob(spec, job); err != nil {
		return nil, fmt.Errorf("schedule low stock job %q: %w", spec, err)
	}
	return c, nil
}
