package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/obsrv/monitor-service/internal/database"
)

// ListDeliveriesRequest represents query parameters for listing webhook deliveries
type ListDeliveriesRequest struct {
	WebsiteID string `form:"websiteId" json:"websiteId"`
	Status    string `form:"status" json:"status" jsonschema:"enum=pending,enum=success,enum=failed,enum=retrying,enum=exhausted"`
	EventType string `form:"eventType" json:"eventType" jsonschema:"enum=product.price_changed,enum=product.stock_changed"`
	Limit     int    `form:"limit" json:"limit" binding:"min=0,max=100" jsonschema:"minimum=1,maximum=100"`
	Offset    int    `form:"offset" json:"offset" binding:"min=0" jsonschema:"minimum=0"`
}

// ListDeliveriesResponse represents the response for listing webhook deliveries
type ListDeliveriesResponse struct {
	Deliveries []DeliveryAttempt `json:"deliveries" jsonschema:"required"`
	Total      int               `json:"total" jsonschema:"required"`
}

// DeliveryAttempt represents one webhook delivery attempt, without the
// payload and secret
type DeliveryAttempt struct {
	ID                string     `json:"id" jsonschema:"required"`
	ProductHistoryID  string     `json:"productHistoryId" jsonschema:"required"`
	WebsiteID         string     `json:"websiteId" jsonschema:"required"`
	TargetURL         string     `json:"targetUrl" jsonschema:"required"`
	EventType         string     `json:"eventType" jsonschema:"required"`
	AttemptNumber     int        `json:"attemptNumber" jsonschema:"required"`
	Status            string     `json:"status" jsonschema:"required,enum=pending,enum=success,enum=failed,enum=retrying,enum=exhausted"`
	DeliveryTimestamp *time.Time `json:"deliveryTimestamp"`
	HTTPStatusCode    *int       `json:"httpStatusCode"`
	ErrorMessage      *string    `json:"errorMessage"`
	NextRetryAt       *time.Time `json:"nextRetryAt"`
	CreatedAt         time.Time  `json:"createdAt" jsonschema:"required"`
}

// ListDeliveries returns a paginated list of webhook delivery attempts
func ListDeliveries(c *gin.Context) {
	var req ListDeliveriesRequest
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
	if req.EventType != "" {
		filter += fmt.Sprintf(" AND event_type = $%d", argIdx)
		args = append(args, req.EventType)
		argIdx++
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM webhook_delivery_logs WHERE 1=1" + filter
	if err := pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to count deliveries"})
		return
	}

	query := `
		SELECT id, product_history_id, website_id, target_url, event_type,
		       attempt_number, status, delivery_timestamp, http_status_code,
		       error_message, next_retry_at, created_at
		FROM webhook_delivery_logs
		WHERE 1=1` + filter +
		fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, req.Limit, req.Offset)

	rows, err := pool.Query(ctx, query, args...)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch deliveries"})
		return
	}
	defer rows.Close()

	deliveries := []DeliveryAttempt{}
	for rows.Next() {
		var d DeliveryAttempt
		err := rows.Scan(
			&d.ID, &d.ProductHistoryID, &d.WebsiteID, &d.TargetURL, &d.EventType,
			&d.AttemptNumber, &d.Status, &d.DeliveryTimestamp, &d.HTTPStatusCode,
			&d.ErrorMessage, &d.NextRetryAt, &d.CreatedAt,
		)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to scan delivery"})
			return
		}
		deliveries = append(deliveries, d)
	}
	if rows.Err() != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error iterating deliveries"})
		return
	}

	c.JSON(http.StatusOK, ListDeliveriesResponse{Deliveries: deliveries, Total: total})
}
