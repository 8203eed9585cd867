package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const DayLayout = "2006-01-02"

// LineInput is a transaction line as entered by the user, before parsing.
type LineInput struct {
	ItemID   string `json:"itemId"`
	Quantity string `json:"quantity"`
	Price    string `json:"price"`
}

// Line is one item entry of a purchase or sale. ItemName is copied from the
// item when the transaction is recorded and never follows later renames.
type Line struct {
	ItemID   string          `json:"itemId"`
	ItemName string          `json:"itemName"`
	Quantity decimal.Decimal `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
}

func (l Line) Subtotal() decimal.Decimal {
	return l.Quantity.Mul(l.Price)
}

// ParseLine validates in as the n-th (1-based) line of a transaction.
func ParseLine(n int, in LineInput) (Line, error) {
	itemID := strings.TrimSpace(in.ItemID)
	if itemID == "" {
		return Line{}, &ValidationError{Err: ErrMissingField, Field: "itemId", Line: n}
	}
	qty, err := decimal.NewFromString(strings.TrimSpace(in.Quantity))
	if err != nil || !qty.IsPositive() {
		return Line{}, &ValidationError{Err: ErrInvalidQuantity, Field: "quantity", Line: n, Details: in.Quantity}
	}
	price, err := decimal.NewFromString(strings.TrimSpace(in.Price))
	if err != nil || !price.IsPositive() {
		return Line{}, &ValidationError{Err: ErrInvalidPrice, Field: "price", Line: n, Details: in.Price}
	}
	return Line{ItemID: itemID, Quantity: qty, Price: price}, nil
}

func LinesTotal(lines []Line) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.Subtotal())
	}
	return total
}

// ParseDay checks that s is a calendar date in DayLayout.
func ParseDay(s string) (string, error) {
	s = strings.TrimSpace(s)
	if _, err := time.Parse(DayLayout, s); err != nil {
		return "", &ValidationError{Err: ErrInvalidDate, Field: "date", Details: s}
	}
	return s, nil
}

// Totaled is implemented by Purchase and Sale.
type Totaled interface {
	Day() string
	Amount() decimal.Decimal
}

type Purchase struct {
	ID         string          `json:"id"`
	SupplierID string          `json:"supplierId"`
	Date       string          `json:"date"`
	Items      []Line          `json:"items"`
	Total      decimal.Decimal `json:"total"`
	Notes      string          `json:"notes"`
	CreatedAt  time.Time       `json:"createdAt"`
}

type Sale struct {
	ID         string          `json:"id"`
	CustomerID string          `json:"customerId"`
	Date       string          `json:"date"`
	Items      []Line          `json:"items"`
	Total      decimal.Decimal `json:"total"`
	Notes      string          `json:"notes"`
	CreatedAt  time.Time       `json:"createdAt"`
}

func (p Purchase) Day() string             { return p.Date }
func (p Purchase) Amount() decimal.Decimal { return p.Total }
func (s Sale) Day() string                 { return s.Date }
func (s Sale) Amount() decimal.Decimal     { return s.Total }

// Validate checks a purchase built outside NewPurchase, such as one handed
// back for a retried append.
func (p Purchase) Validate() error {
	return checkTransaction(p.SupplierID, p.Date, p.Items)
}

func (s Sale) Validate() error {
	return checkTransaction(s.CustomerID, s.Date, s.Items)
}

func checkTransaction(partyID, date string, lines []Line) error {
	if strings.TrimSpace(partyID) == "" {
		return invalid(ErrMissingParty, "party")
	}
	if len(lines) == 0 {
		return invalid(ErrEmptyLineSet, "items")
	}
	if _, err := ParseDay(date); err != nil {
		return err
	}
	for i, l := range lines {
		if l.ItemID == "" {
			return &ValidationError{Err: ErrMissingField, Field: "itemId", Line: i + 1}
		}
		if !l.Quantity.IsPositive() {
			return &ValidationError{Err: ErrInvalidQuantity, Field: "quantity", Line: i + 1}
		}
		if !l.Price.IsPositive() {
			return &ValidationError{Err: ErrInvalidPrice, Field: "price", Line: i + 1}
		}
	}
	return nil
}

func NewPurchase(supplierID, date string, lines []Line, notes string, now time.Time) (Purchase, error) {
	if err := checkTransaction(supplierID, date, lines); err != nil {
		return Purchase{}, err
	}
	return Purchase{
		ID:         NewID(),
		SupplierID: supplierID,
		Date:       strings.TrimSpace(date),
		Items:      append([]Line(nil), lines...),
		Total:      LinesTotal(lines),
		Notes:      strings.TrimSpace(notes),
		CreatedAt:  now,
	}, nil
}

func NewSale(customerID, date string, lines []Line, notes string, now time.Time) (Sale, error) {
	if err := checkTransaction(customerID, date, lines); err != nil {
		return Sale{}, err
	}
	return Sale{
		ID:         NewID(),
		CustomerID: customerID,
		Date:       strings.TrimSpace(date),
		Items:      append([]Line(nil), lines...),
		Total:      LinesTotal(lines),
		Notes:      strings.TrimSpace(notes),
		CreatedAt:  now,
	}, nil
}
