package main

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/obsrv/monitor-service/internal/database"
	"github.com/obsrv/monitor-service/internal/export"
)

var (
	exportFrom string
	exportTo   string
	exportOut  string
)

// exportCmd represents the export command
var exportCmd = &cobra.Command{
	Use:   "export <websiteId>",
	Short: "Export a website's price history as an xlsx report",
	Long: `Export the price and stock history of a monitored website into an xlsx
workbook, one row per crawl observation.`,
	Example: `  monitor-service export 6a1f0e9c-8f2d-4c1b-9a57-2f90b3a4d8e1
  monitor-service export 6a1f0e9c-8f2d-4c1b-9a57-2f90b3a4d8e1 --from 2026-07-01 --to 2026-08-01 --out report.xlsx`,
	Args: cobra.ExactArgs(1),
	RunE: runExport,
}

func init() {
	rootCmd.AddCommand(exportCmd)

	exportCmd.Flags().StringVar(&exportFrom, "from", "", "Start date (YYYY-MM-DD), default 30 days ago")
	exportCmd.Flags().StringVar(&exportTo, "to", "", "End date (YYYY-MM-DD, inclusive), default today")
	exportCmd.Flags().StringVar(&exportOut, "out", "", "Output file (default price-history-<websiteId>.xlsx)")
}

func runExport(cmd *cobra.Command, args []string) error {
	websiteID, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid website id %q: %w", args[0], err)
	}

	now := time.Now().UTC()
	from := now.AddDate(0, 0, -30)
	to := now
	if exportFrom != "" {
		from, err = time.Parse("2006-01-02", exportFrom)
		if err != nil {
			return fmt.Errorf("invalid --from date: %w", err)
		}
	}
	if exportTo != "" {
		to, err = time.Parse("2006-01-02", exportTo)
		if err != nil {
			return fmt.Errorf("invalid --to date: %w", err)
		}
		to = to.AddDate(0, 0, 1)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
	defer cancel()

	pool := database.Pool()

	var websiteName string
	err = pool.QueryRow(ctx,
		"SELECT name FROM monitored_websites WHERE id = $1", websiteID,
	).Scan(&websiteName)
	if err != nil {
		return fmt.Errorf("failed to load website: %w", err)
	}

	rows, err := pool.Query(ctx, `
		SELECT p.product_name, p.original_url, h.crawl_timestamp, h.price,
		       h.currency, h.stock_status, h.price_changed, h.stock_changed,
		       h.price_change_pct
		FROM product_history h
		JOIN products p ON p.id = h.product_id
		WHERE h.website_id = $1
		  AND h.crawl_timestamp >= $2
		  AND h.crawl_timestamp < $3
		ORDER BY h.crawl_timestamp DESC
	`, websiteID, from, to)
	if err != nil {
		return fmt.Errorf("failed to fetch history: %w", err)
	}
	defer rows.Close()

	var history []export.HistoryRow
	for rows.Next() {
		var r export.HistoryRow
		if err := rows.Scan(
			&r.ProductName, &r.ProductURL, &r.CrawlTimestamp, &r.PriceCents,
			&r.Currency, &r.StockStatus, &r.PriceChanged, &r.StockChanged,
			&r.PriceChangePct,
		); err != nil {
			return fmt.Errorf("failed to scan history row: %w", err)
		}
		history = append(history, r)
	}
	if rows.Err() != nil {
		return fmt.Errorf("error iterating history: %w", rows.Err())
	}

	workbook, err := export.BuildHistoryWorkbook(websiteName, history)
	if err != nil {
		return fmt.Errorf("failed to build workbook: %w", err)
	}
	defer workbook.Close()

	out := exportOut
	if out == "" {
		out = fmt.Sprintf("price-history-%s.xlsx", websiteID)
	}
	if err := workbook.SaveAs(out); err != nil {
		return fmt.Errorf("failed to save workbook: %w", err)
	}

	fmt.Printf("Exported %d history rows to %s\n", len(history), out)
	return nil
}
