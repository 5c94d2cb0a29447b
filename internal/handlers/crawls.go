package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/obsrv/monitor-service/internal/database"
)

// ListCrawlsRequest represents query parameters for listing crawl runs
type ListCrawlsRequest struct {
	WebsiteID string `form:"websiteId" json:"websiteId"`
	Status    string `form:"status" json:"status" jsonschema:"enum=pending,enum=running,enum=success,enum=partial_success,enum=failed"`
	Limit     int    `form:"limit" json:"limit" binding:"min=0,max=100" jsonschema:"minimum=1,maximum=100"`
	Offset    int    `form:"offset" json:"offset" binding:"min=0" jsonschema:"minimum=0"`
}

// ListCrawlsResponse represents the response for listing crawl runs
type ListCrawlsResponse struct {
	Crawls []CrawlRun `json:"crawls" jsonschema:"required"`
	Total  int        `json:"total" jsonschema:"required"`
}

// CrawlRun represents a crawl execution response
type CrawlRun struct {
	ID                string     `json:"id" jsonschema:"required"`
	WebsiteID         string     `json:"websiteId" jsonschema:"required"`
	Status            string     `json:"status" jsonschema:"required,enum=pending,enum=running,enum=success,enum=partial_success,enum=failed"`
	StartedAt         time.Time  `json:"startedAt" jsonschema:"required"`
	CompletedAt       *time.Time `json:"completedAt"`
	DurationSeconds   *int       `json:"durationSeconds"`
	ProductsProcessed int        `json:"productsProcessed"`
	ChangesDetected   int        `json:"changesDetected"`
	ErrorsCount       int        `json:"errorsCount"`
	ErrorDetails      *string    `json:"errorDetails"`
	TriggeredBy       string     `json:"triggeredBy" jsonschema:"required,enum=scheduled,enum=manual,enum=discovery,enum=retry"`
}

const crawlColumns = `id, website_id, status, started_at, completed_at,
       duration_seconds, products_processed, changes_detected,
       errors_count, error_details, triggered_by`

// ListCrawls returns a paginated list of crawl runs with optional filters
func ListCrawls(c *gin.Context) {
	var req ListCrawlsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Limit == 0 {
		req.Limit = 20
	}

	pool := database.Pool()
	ctx := c.Request.Context()

	filter := ""
	args := []any{}
	argIdx := 1

	if req.WebsiteID != "" {
		websiteID, err := uuid.Parse(req.WebsiteID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid websiteId"})
			return
		}
		filter += fmt.Sprintf(" AND website_id = $%d", argIdx)
		args = append(args, websiteID)
		argIdx++
	}
	if req.Status != "" {
		filter += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, req.Status)
		argIdx++
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM crawl_execution_logs WHERE 1=1" + filter
	if err := pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to count crawls"})
		return
	}

	query := "SELECT " + crawlColumns + " FROM crawl_execution_logs WHERE 1=1" + filter +
		fmt.Sprintf(" ORDER BY started_at DESC LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, req.Limit, req.Offset)

	rows, err := pool.Query(ctx, query, args...)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch crawls"})
		return
	}
	defer rows.Close()

	crawls := []CrawlRun{}
	for rows.Next() {
		var run CrawlRun
		err := rows.Scan(
			&run.ID, &run.WebsiteID, &run.Status, &run.StartedAt, &run.CompletedAt,
			&run.DurationSeconds, &run.ProductsProcessed, &run.ChangesDetected,
			&run.ErrorsCount, &run.ErrorDetails, &run.TriggeredBy,
		)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to scan crawl"})
			return
		}
		crawls = append(crawls, run)
	}
	if rows.Err() != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error iterating crawls"})
		return
	}

	c.JSON(http.StatusOK, ListCrawlsResponse{Crawls: crawls, Total: total})
}

// GetCrawl returns a single crawl run by ID
func GetCrawl(c *gin.Context) {
	crawlID, err := uuid.Parse(c.Param("crawlId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid crawl id"})
		return
	}

	pool := database.Pool()

	var run CrawlRun
	err = pool.QueryRow(c.Request.Context(),
		"SELECT "+crawlColumns+" FROM crawl_execution_logs WHERE id = $1", crawlID,
	).Scan(
		&run.ID, &run.WebsiteID, &run.Status, &run.StartedAt, &run.CompletedAt,
		&run.DurationSeconds, &run.ProductsProcessed, &run.ChangesDetected,
		&run.ErrorsCount, &run.ErrorDetails, &run.TriggeredBy,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		c.JSON(http.StatusNotFound, gin.H{"error": "crawl not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch crawl"})
		return
	}

	c.JSON(http.StatusOK, run)
}
