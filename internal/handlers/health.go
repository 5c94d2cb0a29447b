package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/obsrv/monitor-service/internal/database"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status            string `json:"status"`
	Database          string `json:"database"`
	PendingDeliveries *int   `json:"pending_deliveries,omitempty"`
}

// HealthCheck handles the health check endpoint
func HealthCheck(c *gin.Context) {
	response := HealthResponse{
		Status: "ok",
	}

	pool := database.Pool()
	if pool == nil {
		response.Database = "not configured"
		c.JSON(http.StatusOK, response)
		return
	}

	ctx := c.Request.Context()
	if err := database.Status(ctx); err != nil {
		response.Database = "disconnected"
		c.JSON(http.StatusServiceUnavailable, response)
		return
	}
	response.Database = "connected"

	var pending int
	err := pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM webhook_delivery_logs
		WHERE status = 'pending' AND delivery_timestamp IS NULL
	`).Scan(&pending)
	if err == nil {
		response.PendingDeliveries = &pending
	}

	c.JSON(http.StatusOK, response)
}
