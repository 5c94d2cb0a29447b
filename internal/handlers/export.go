package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/obsrv/monitor-service/internal/database"
	"github.com/obsrv/monitor-service/internal/export"
)

// ExportHistoryRequest represents query parameters for the history export
type ExportHistoryRequest struct {
	From string `form:"from" json:"from"` // YYYY-MM-DD, default 30 days ago
	To   string `form:"to" json:"to"`     // YYYY-MM-DD, default today
}

// ExportHistory streams a website's price history as an xlsx workbook
func ExportHistory(c *gin.Context) {
	websiteID, err := uuid.Parse(c.Param("websiteId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid website id"})
		return
	}

	var req ExportHistoryRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	now := time.Now().UTC()
	from := now.AddDate(0, 0, -30)
	to := now
	if req.From != "" {
		from, err = time.Parse("2006-01-02", req.From)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid from date, expected YYYY-MM-DD"})
			return
		}
	}
	if req.To != "" {
		to, err = time.Parse("2006-01-02", req.To)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid to date, expected YYYY-MM-DD"})
			return
		}
		// Inclusive end date.
		to = to.AddDate(0, 0, 1)
	}

	pool := database.Pool()
	ctx := c.Request.Context()

	var websiteName string
	err = pool.QueryRow(ctx,
		"SELECT name FROM monitored_websites WHERE id = $1", websiteID,
	).Scan(&websiteName)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "website not found"})
		return
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
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch history"})
		return
	}
	defer rows.Close()

	var history []export.HistoryRow
	for rows.Next() {
		var r export.HistoryRow
		err := rows.Scan(
			&r.ProductName, &r.ProductURL, &r.CrawlTimestamp, &r.PriceCents,
			&r.Currency, &r.StockStatus, &r.PriceChanged, &r.StockChanged,
			&r.PriceChangePct,
		)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to scan history row"})
			return
		}
		history = append(history, r)
	}
	if rows.Err() != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error iterating history"})
		return
	}

	workbook, err := export.BuildHistoryWorkbook(websiteName, history)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to build workbook"})
		return
	}
	defer workbook.Close()

	filename := fmt.Sprintf("price-history-%s-%s.xlsx", websiteID, now.Format("2006-01-02"))
	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))

	if err := workbook.Write(c.Writer); err != nil {
		log.Error().Err(err).Str("website_id", websiteID.String()).Msg("Failed to stream export")
	}
}
