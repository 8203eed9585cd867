package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type AdjustmentType string

const (
	AdjustmentAdd      AdjustmentType = "add"
	AdjustmentSubtract AdjustmentType = "subtract"
)

func (t AdjustmentType) Valid() bool {
	return t == AdjustmentAdd || t == AdjustmentSubtract
}

// StockAdjustment is the most recent manual correction of an item. Only one
// is retained per item.
type StockAdjustment struct {
	Date     time.Time       `json:"date"`
	Type     AdjustmentType  `json:"type"`
	Quantity decimal.Decimal `json:"quantity"`
	Reason   string          `json:"reason"`
}

type Item struct {
	ID             string           `json:"id"`
	Name           string           `json:"name" validate:"required"`
	Code           string           `json:"code" validate:"required"`
	Description    string           `json:"description"`
	Price          decimal.Decimal  `json:"price"`
	MinStock       int              `json:"minStock" validate:"gte=0"`
	CurrentStock   decimal.Decimal  `json:"currentStock"`
	LastAdjustment *StockAdjustment `json:"lastAdjustment,omitempty"`
	CreatedAt      time.Time        `json:"createdAt"`
	UpdatedAt      time.Time        `json:"updatedAt"`
}

type ItemInput struct {
	Name         string
	Code         string
	Description  string
	Price        decimal.Decimal
	MinStock     int
	OpeningStock decimal.Decimal
}

func NewItem(in ItemInput, now time.Time) (Item, error) {
	if in.OpeningStock.IsNegative() {
		return Item{}, invalid(ErrInvalidQuantity, "currentStock")
	}
	item := Item{
		ID:           NewID(),
		CurrentStock: in.OpeningStock,
		CreatedAt:    now,
	}
	if err := item.apply(in, now); err != nil {
		return Item{}, err
	}
	return item, nil
}

// WithDetails returns a copy carrying the descriptive fields of in. Stock
// and the last adjustment are left alone; only the ledger changes those.
func (i Item) WithDetails(in ItemInput, now time.Time) (Item, error) {
	if err := i.apply(in, now); err != nil {
		return Item{}, err
	}
	return i, nil
}

func (i *Item) apply(in ItemInput, now time.Time) error {
	i.Name = strings.TrimSpace(in.Name)
	i.Code = strings.TrimSpace(in.Code)
	i.Description = strings.TrimSpace(in.Description)
	i.Price = in.Price
	i.MinStock = in.MinStock
	i.UpdatedAt = now
	if err := validateStruct(i); err != nil {
		return err
	}
	if i.Price.IsNegative() {
		return invalid(ErrInvalidPrice, "price")
	}
	return nil
}

func (i Item) IsLowStock() bool {
	return i.CurrentStock.LessThanOrEqual(decimal.NewFromInt(int64(i.MinStock)))
}
