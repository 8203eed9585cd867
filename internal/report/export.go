package report

import (
	"context"
	"fmt"
	"io"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/stockledger/stockledger/internal/core/domain"
	"github.com/stockledger/stockledger/internal/core/service"
)

const (
	SheetSummary   = "Summary"
	SheetStock     = "Stock"
	SheetPurchases = "Purchases"
	SheetSales     = "Sales"
)

type Catalog interface {
	ListStock(ctx context.Context) ([]service.StockView, error)
	ListPurchases(ctx context.Context) ([]service.PurchaseView, error)
	ListSales(ctx context.Context) ([]service.SaleView, error)
}

type Summary interface {
	Dashboard(ctx context.Context) (domain.Dashboard, error)
}

type Settings interface {
	Get(ctx context.Context) (domain.Settings, error)
}

// Exporter writes the ledger out as an xlsx workbook, one sheet per
// collection plus a summary of the dashboard figures.
type Exporter struct {
	catalog  Catalog
	summary  Summary
	settings Settings
}

func NewExporter(catalog Catalog, summary Summary, settings Settings) *Exporter {
	return &Exporter{catalog: catalog, summary: summary, settings: settings}
}

func (e *Exporter) Write(ctx context.Context, w io.Writer) error {
	f, err := e.build(ctx)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func (e *Exporter) SaveAs(ctx context.Context, path string) error {
	f, err := e.build(ctx)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save workbook %s: %w", path, err)
	}
	return nil
}

func (e *Exporter) build(ctx context.Context) (*excelize.File, error) {
	settings, err := e.settings.Get(ctx)
	if err != nil {
		return nil, err
	}
	dash, err := e.summary.Dashboard(ctx)
	if err != nil {
		return nil, err
	}
	stock, err := e.catalog.ListStock(ctx)
	if err != nil {
		return nil, err
	}
	purchases, err := e.catalog.ListPurchases(ctx)
	if err != nil {
		return nil, err
	}
	sales, err := e.catalog.ListSales(ctx)
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", SheetSummary); err != nil {
		f.Close()
		return nil, err
	}
	for _, name := range []string{SheetStock, SheetPurchases, SheetSales} {
		if _, err := f.NewSheet(name); err != nil {
			f.Close()
			return nil, err
		}
	}

	summary := [][]any{
		{"Figure", "Value"},
		{"Currency", settings.Currency},
		{"Today", dash.Today},
		{"Today's Sales", dash.TodaySales.InexactFloat64()},
		{"Today's Purchases", dash.TodayPurchases.InexactFloat64()},
		{"Month Start", dash.MonthStart},
		{"Month Sales", dash.MonthSales.InexactFloat64()},
		{"Month Purchases", dash.MonthPurchases.InexactFloat64()},
		{"Low Stock Items", dash.LowStockCount},
		{"Total Items", dash.TotalItems},
	}

	rows := [][]any{{"Code", "Name", "Price", "Current Stock", "Min Stock", "Low Stock", "Last Adjustment"}}
	for _, s := range stock {
		adjustment := ""
		if a := s.LastAdjustment; a != nil {
			adjustment = fmt.Sprintf("%s %s (%s) %s", a.Type, a.Quantity, a.Reason, a.Date.Format(domain.DayLayout))
		}
		rows = append(rows, []any{s.Code, s.Name, s.Price.InexactFloat64(), s.CurrentStock.InexactFloat64(), s.MinStock, s.LowStock, adjustment})
	}

	purchaseRows := [][]any{{"Date", "Supplier", "Item", "Quantity", "Price", "Subtotal", "Total", "Notes"}}
	for _, p := range purchases {
		purchaseRows = append(purchaseRows, lineRows(p.Date, p.SupplierName, p.Items, p.Total, p.Notes)...)
	}

	saleRows := [][]any{{"Date", "Customer", "Item", "Quantity", "Price", "Subtotal", "Total", "Notes"}}
	for _, s := range sales {
		saleRows = append(saleRows, lineRows(s.Date, s.CustomerName, s.Items, s.Total, s.Notes)...)
	}

	for sheet, data := range map[string][][]any{
		SheetSummary:   summary,
		SheetStock:     rows,
		SheetPurchases: purchaseRows,
		SheetSales:     saleRows,
	} {
		if err := setRows(f, sheet, data); err != nil {
			f.Close()
			return nil, err
		}
	}
	return f, nil
}

// lineRows flattens a transaction into one row per line. The total and notes
// only appear on the first row.
func lineRows(date, party string, lines []domain.Line, total decimal.Decimal, notes string) [][]any {
	out := make([][]any, 0, len(lines))
	for i, l := range lines {
		row := []any{date, party, l.ItemName, l.Quantity.InexactFloat64(), l.Price.InexactFloat64(), l.Subtotal().InexactFloat64()}
		if i == 0 {
			row = append(row, total.InexactFloat64(), notes)
		}
		out = append(out, row)
	}
	return out
}

func setRows(f *excelize.File, sheet string, rows [][]any) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("sheet %s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}
