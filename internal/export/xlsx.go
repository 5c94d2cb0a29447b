// Package export renders price history reports as xlsx workbooks.
package export

import (
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"
)

// HistoryRow is one product history record flattened for the report.
type HistoryRow struct {
	ProductName    string
	ProductURL     string
	CrawlTimestamp time.Time
	PriceCents     *int64
	Currency       string
	StockStatus    string
	PriceChanged   bool
	StockChanged   bool
	PriceChangePct *float64
}

const sheetName = "Price History"

var headerRow = []string{
	"Product", "URL", "Crawled At", "Price", "Currency",
	"Stock Status", "Price Changed", "Stock Changed", "Change %",
}

// BuildHistoryWorkbook renders rows into a single-sheet workbook. The caller
// owns closing the returned file.
func BuildHistoryWorkbook(websiteName string, rows []HistoryRow) (*excelize.File, error) {
	f := excelize.NewFile()

	index, err := f.NewSheet(sheetName)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to drop default sheet: %w", err)
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	if err := f.SetSheetRow(sheetName, "A1", &headerRow); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write header: %w", err)
	}
	if err := f.SetRowStyle(sheetName, 1, 1, bold); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to style header: %w", err)
	}

	for i, row := range rows {
		cell := fmt.Sprintf("A%d", i+2)
		values := []any{
			row.ProductName,
			row.ProductURL,
			row.CrawlTimestamp.UTC().Format(time.RFC3339),
			formatPrice(row.PriceCents),
			row.Currency,
			row.StockStatus,
			row.PriceChanged,
			row.StockChanged,
			formatPct(row.PriceChangePct),
		}
		if err := f.SetSheetRow(sheetName, cell, &values); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to write row %d: %w", i+2, err)
		}
	}

	if err := f.SetColWidth(sheetName, "A", "B", 40); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to set column width: %w", err)
	}
	if err := f.SetColWidth(sheetName, "C", "I", 16); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to set column width: %w", err)
	}

	props := &excelize.DocProperties{Title: websiteName + " price history"}
	if err := f.SetDocProps(props); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to set document properties: %w", err)
	}

	return f, nil
}

func formatPrice(cents *int64) string {
	if cents == nil {
		return ""
	}
	c := *cents
	sign := ""
	if c < 0 {
		sign = "-"
		c = -c
	}
	return fmt.Sprintf("%s%d.%02d", sign, c/100, c%100)
}

func formatPct(pct *float64) string {
	if pct == nil {
		return ""
	}
	return fmt.Sprintf("%.2f", *pct)
}
