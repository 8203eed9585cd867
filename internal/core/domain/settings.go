package domain

import "github.com/shopspring/decimal"

const DefaultCurrency = "$"

// Settings is persisted under the settings key. PIN holds a bcrypt hash of
// the lock PIN, never the digits; a plain digit string from older data is
// still accepted on verify.
type Settings struct {
	Currency   string  `json:"currency"`
	GSTEnabled bool    `json:"gstEnabled"`
	PIN        *string `json:"pin"`
}

func DefaultSettings() Settings {
	return Settings{Currency: DefaultCurrency}
}

// Locked reports whether a PIN lock is configured.
func (s Settings) Locked() bool {
	return s.PIN != nil && *s.PIN != ""
}

type Dashboard struct {
	Today          string          `json:"today"`
	MonthStart     string          `json:"monthStart"`
	TodaySales     decimal.Decimal `json:"todaySales"`
	TodayPurchases decimal.Decimal `json:"todayPurchases"`
	MonthSales     decimal.Decimal `json:"monthSales"`
	MonthPurchases decimal.Decimal `json:"monthPurchases"`
	LowStockCount  int             `json:"lowStockCount"`
	TotalItems     int             `json:"totalItems"`
}
