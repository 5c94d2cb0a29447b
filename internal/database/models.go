package database

import (
	"time"

	"github.com/google/uuid"
)

// Website status values
const (
	WebsiteStatusPendingApproval = "pending_approval"
	WebsiteStatusActive          = "active"
	WebsiteStatusPaused          = "paused"
	WebsiteStatusFailed          = "failed"
)

// Stock status values
const (
	StockInStock             = "in_stock"
	StockOutOfStock          = "out_of_stock"
	StockLimitedAvailability = "limited_availability"
	StockUnknown             = "unknown"
)

// Crawl log status values
const (
	CrawlStatusPending        = "pending"
	CrawlStatusRunning        = "running"
	CrawlStatusSuccess        = "success"
	CrawlStatusPartialSuccess = "partial_success"
	CrawlStatusFailed         = "failed"
)

// Crawl trigger values
const (
	TriggeredByScheduled = "scheduled"
	TriggeredByManual    = "manual"
	TriggeredByDiscovery = "discovery"
	TriggeredByRetry     = "retry"
)

// Webhook delivery status values
const (
	DeliveryStatusPending   = "pending"
	DeliveryStatusSuccess   = "success"
	DeliveryStatusFailed    = "failed"
	DeliveryStatusRetrying  = "retrying"
	DeliveryStatusExhausted = "exhausted"
)

// Websites are auto-paused after this many consecutive failed crawls.
const MaxConsecutiveFailures = 3

// Client represents a tenant client that owns monitored websites
type Client struct {
	ID                      uuid.UUID  `json:"id"`
	WebhookSecretCurrent    string     `json:"-"`
	WebhookSecretPrevious   *string    `json:"-"`
	SecretRotationExpiresAt *time.Time `json:"secret_rotation_expires_at"`
	MaxWebsites             int        `json:"max_websites"`
	MaxProductsPerWebsite   int        `json:"max_products_per_website"`
	CreatedAt               time.Time  `json:"created_at"`
	UpdatedAt               time.Time  `json:"updated_at"`
}

// MonitoredWebsite represents a website registered for monitoring
type MonitoredWebsite struct {
	ID                      uuid.UUID  `json:"id"`
	ClientID                uuid.UUID  `json:"client_id"`
	Name                    string     `json:"name"`
	BaseURL                 string     `json:"base_url"` // normalized
	SeedURLs                []string   `json:"seed_urls"`
	Status                  string     `json:"status"` // pending_approval | active | paused | failed
	CrawlFrequencyMinutes   int        `json:"crawl_frequency_minutes"`
	PriceChangeThresholdPct float64    `json:"price_change_threshold_pct"`
	RetentionDays           int        `json:"retention_days"`
	ApprovedProductCount    int        `json:"approved_product_count"`
	LastSuccessfulCrawlAt   *time.Time `json:"last_successful_crawl_at"`
	LastCrawlStatus         *string    `json:"last_crawl_status"`
	WebhookEndpointURL      *string    `json:"webhook_endpoint_url"`
	WebhookEnabled          bool       `json:"webhook_enabled"`
	ConsecutiveFailures     int        `json:"consecutive_failures"`
	CreatedAt               time.Time  `json:"created_at"`
	UpdatedAt               time.Time  `json:"updated_at"`
}

// Product represents an approved product under monitoring.
// Prices are stored in integer cents.
type Product struct {
	ID                 uuid.UUID  `json:"id"`
	WebsiteID          uuid.UUID  `json:"website_id"`
	OriginalURL        string     `json:"original_url"`
	NormalizedURL      string     `json:"normalized_url"` // unique per website
	ExtractedProductID *string    `json:"extracted_product_id"`
	ExtractionMethod   string     `json:"extraction_method"`
	ProductName        string     `json:"product_name"`
	CurrentPrice       *int64     `json:"current_price"`    // cents
	CurrentCurrency    string     `json:"current_currency"` // ISO 4217, default USD
	CurrentStockStatus string     `json:"current_stock_status"`
	LastCrawledAt      *time.Time `json:"last_crawled_at"`
	IsActive           bool       `json:"is_active"`
	DelistedAt         *time.Time `json:"delisted_at"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// ProductHistoryRecord is an immutable point-in-time product snapshot.
// Partitioned by month on crawl_timestamp.
type ProductHistoryRecord struct {
	ID             uuid.UUID         `json:"id"`
	ProductID      uuid.UUID         `json:"product_id"`
	WebsiteID      uuid.UUID         `json:"website_id"` // denormalized for partition pruning
	CrawlLogID     uuid.UUID         `json:"crawl_log_id"`
	CrawlTimestamp time.Time         `json:"crawl_timestamp"`
	Price          *int64            `json:"price"` // cents
	Currency       string            `json:"currency"`
	StockStatus    string            `json:"stock_status"`
	PriceChanged   bool              `json:"price_changed"`
	StockChanged   bool              `json:"stock_changed"`
	PriceChangePct *float64          `json:"price_change_pct"`
	RawCrawlData   map[string]string `json:"raw_crawl_data"`
}

// CrawlExecutionLog records a single crawl run for a website
type CrawlExecutionLog struct {
	ID                uuid.UUID  `json:"id"`
	WebsiteID         uuid.UUID  `json:"website_id"`
	StartedAt         time.Time  `json:"started_at"`
	CompletedAt       *time.Time `json:"completed_at"`
	DurationSeconds   *int       `json:"duration_seconds"`
	Status            string     `json:"status"` // pending | running | success | partial_success | failed
	ProductsProcessed int        `json:"products_processed"`
	ChangesDetected   int        `json:"changes_detected"`
	ErrorsCount       int        `json:"errors_count"`
	ErrorDetails      *string    `json:"error_details"` // JSON array of per-product errors
	RetryCount        int        `json:"retry_count"`
	TriggeredBy       string     `json:"triggered_by"` // scheduled | manual | discovery | retry
}

// WebhookDeliveryLog records one webhook delivery attempt.
// Rows double as the durable delivery queue: pending rows are claimed by the
// delivery workers, retrying rows with a due next_retry_at are promoted into
// a fresh pending row by the retry sweeper.
type WebhookDeliveryLog struct {
	ID                uuid.UUID  `json:"id"`
	ProductHistoryID  uuid.UUID  `json:"product_history_id"`
	WebsiteID         uuid.UUID  `json:"website_id"`
	TargetURL         string     `json:"target_url"`
	EventType         string     `json:"event_type"`
	Payload           []byte     `json:"payload"`
	SecretSnapshot    string     `json:"-"`
	Signature         *string    `json:"signature"`
	TimestampHeader   *time.Time `json:"timestamp_header"`
	AttemptNumber     int        `json:"attempt_number"` // 1..3
	DeliveryTimestamp *time.Time `json:"delivery_timestamp"`
	HTTPStatusCode    *int       `json:"http_status_code"`
	Status            string     `json:"status"`        // pending | success | failed | retrying | exhausted
	ResponseBody      *string    `json:"response_body"` // truncated to 1024 bytes
	ErrorMessage      *string    `json:"error_message"`
	NextRetryAt       *time.Time `json:"next_retry_at"`
	CreatedAt         time.Time  `json:"created_at"`
}
