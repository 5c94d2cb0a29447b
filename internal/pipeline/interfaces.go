package pipeline

import (
	"context"

	"github.com/google/uuid"

	"github.com/obsrv/monitor-service/internal/crawler"
	"github.com/obsrv/monitor-service/internal/database"
	"github.com/obsrv/monitor-service/internal/taskqueue"
)

// Store is the persistence capability the pipeline needs. *database.Store
// satisfies it; tests substitute an in-memory fake.
type Store interface {
	ListActiveProducts(ctx context.Context, websiteID uuid.UUID) ([]database.Product, error)
	LatestHistory(ctx context.Context, productID uuid.UUID) (*database.ProductHistoryRecord, error)
	RecordCrawlResult(ctx context.Context, res database.CrawlResult) error
	MarkProductDelisted(ctx context.Context, productID uuid.UUID) error
	CreateProduct(ctx context.Context, p *database.Product) error
	OpenCrawlLog(ctx context.Context, websiteID uuid.UUID, triggeredBy string) (*database.CrawlExecutionLog, error)
	CloseCrawlLog(ctx context.Context, log *database.CrawlExecutionLog) error
	FinishWebsiteCrawl(ctx context.Context, websiteID uuid.UUID, status string) (bool, error)
	ActivateWebsite(ctx context.Context, websiteID uuid.UUID, approvedCount int, crawlStatus string) error
	ClientSecrets(ctx context.Context, clientID uuid.UUID) (string, *string, error)
}

// Fetcher is the HTTP fetch capability.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*crawler.Result, error)
}

// Enqueuer pushes webhook deliveries onto the durable queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, input taskqueue.EnqueueInput) (uuid.UUID, error)
}

// ParseFunc turns fetched HTML into a product observation.
type ParseFunc func(html string) crawler.ParseResult
