package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/obsrv/monitor-service/internal/database"
)

// CrawlTrigger starts an immediate crawl for one website.
type CrawlTrigger interface {
	TriggerWebsite(ctx context.Context, website *database.MonitoredWebsite)
}

// WebsiteHandler serves website listing and manual crawl triggers.
type WebsiteHandler struct {
	store   *database.Store
	trigger CrawlTrigger
}

// NewWebsiteHandler wires the handler to the store and the scheduler.
func NewWebsiteHandler(store *database.Store, trigger CrawlTrigger) *WebsiteHandler {
	return &WebsiteHandler{store: store, trigger: trigger}
}

// ListWebsitesResponse represents the response for listing monitored websites
type ListWebsitesResponse struct {
	Websites []database.MonitoredWebsite `json:"websites" jsonschema:"required"`
	Total    int                         `json:"total" jsonschema:"required"`
}

// List returns all active monitored websites
func (h *WebsiteHandler) List(c *gin.Context) {
	websites, err := h.store.ListActiveWebsites(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch websites"})
		return
	}
	c.JSON(http.StatusOK, ListWebsitesResponse{Websites: websites, Total: len(websites)})
}

// Get returns one monitored website by ID
func (h *WebsiteHandler) Get(c *gin.Context) {
	websiteID, err := uuid.Parse(c.Param("websiteId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid website id"})
		return
	}

	website, err := h.store.GetWebsite(c.Request.Context(), websiteID)
	if errors.Is(err, database.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "website not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch website"})
		return
	}

	c.JSON(http.StatusOK, website)
}

// TriggerCrawl starts a manual crawl for a website. The crawl runs in the
// background; the response only acknowledges the dispatch.
func (h *WebsiteHandler) TriggerCrawl(c *gin.Context) {
	websiteID, err := uuid.Parse(c.Param("websiteId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid website id"})
		return
	}

	website, err := h.store.GetWebsite(c.Request.Context(), websiteID)
	if errors.Is(err, database.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "website not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch website"})
		return
	}
	if website.Status != database.WebsiteStatusActive && website.Status != database.WebsiteStatusPaused {
		c.JSON(http.StatusConflict, gin.H{"error": "website is not crawlable in status " + website.Status})
		return
	}

	log.Info().
		Str("website_id", website.ID.String()).
		Msg("Manual crawl triggered via API")

	// Detached from the request context so the crawl survives the response.
	go h.trigger.TriggerWebsite(context.Background(), website)

	c.JSON(http.StatusAccepted, gin.H{
		"status":     "crawl dispatched",
		"website_id": website.ID,
	})
}
