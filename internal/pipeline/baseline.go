package pipeline

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/obsrv/monitor-service/internal/database"
	"github.com/obsrv/monitor-service/internal/extract"
	"github.com/obsrv/monitor-service/internal/urlutil"
)

// BaselineStats summarizes a baseline crawl.
type BaselineStats struct {
	Attempted int
	Created   int
	Errors    int
}

// RunBaseline performs the one-shot crawl over a freshly approved URL set:
// each URL is fetched, parsed and turned into a product row seeded with its
// first observed state. Per-URL failures never abort the batch. On
// completion the website is activated with approved_product_count set to
// the number of products created.
func (p *Pipeline) RunBaseline(ctx context.Context, website *database.MonitoredWebsite, productURLs []string) (BaselineStats, error) {
	crawlLog, err := p.store.OpenCrawlLog(ctx, website.ID, database.TriggeredByDiscovery)
	if err != nil {
		return BaselineStats{}, err
	}

	log.Info().
		Str("website_id", website.ID.String()).
		Str("crawl_id", crawlLog.ID.String()).
		Int("url_count", len(productURLs)).
		Msg("baseline crawl started")

	stats := BaselineStats{Attempted: len(productURLs)}
	var errs []productError

	for _, rawURL := range productURLs {
		if ctx.Err() != nil {
			errs = append(errs, productError{URL: rawURL, Error: "baseline cancelled: " + ctx.Err().Error()})
			break
		}
		if err := p.baselineProduct(ctx, website, rawURL); err != nil {
			errs = append(errs, productError{URL: rawURL, Error: err.Error()})
			continue
		}
		stats.Created++
		crawlLog.ProductsProcessed++
	}

	stats.Errors = len(errs)
	crawlLog.ErrorsCount = len(errs)
	crawlLog.Status = terminalStatus(crawlLog.ProductsProcessed, len(errs))
	if len(errs) > 0 {
		if detail, err := json.Marshal(errs); err == nil {
			s := string(detail)
			crawlLog.ErrorDetails = &s
		}
	}

	if err := p.store.CloseCrawlLog(ctx, crawlLog); err != nil {
		log.Error().Err(err).Str("crawl_id", crawlLog.ID.String()).Msg("failed to close baseline crawl log")
	}

	if stats.Created > 0 {
		if err := p.store.ActivateWebsite(ctx, website.ID, stats.Created, crawlLog.Status); err != nil {
			return stats, err
		}
	}

	log.Info().
		Str("website_id", website.ID.String()).
		Int("created", stats.Created).
		Int("errors", stats.Errors).
		Str("status", crawlLog.Status).
		Msg("baseline crawl finished")

	return stats, nil
}

func (p *Pipeline) baselineProduct(ctx context.Context, website *database.MonitoredWebsite, rawURL string) error {
	res, err := p.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		return err
	}

	parsed := p.parse(string(res.Body))
	id, method := extract.Extract(rawURL, string(res.Body))

	now := p.now().UTC()
	product := &database.Product{
		WebsiteID:          website.ID,
		OriginalURL:        rawURL,
		NormalizedURL:      urlutil.Normalize(rawURL, false),
		ExtractionMethod:   method,
		ProductName:        parsed.Name,
		CurrentPrice:       parsed.Price,
		CurrentCurrency:    parsed.Currency,
		CurrentStockStatus: parsed.StockStatus,
		LastCrawledAt:      &now,
	}
	if id != "" {
		product.ExtractedProductID = &id
	}

	return p.store.CreateProduct(ctx, product)
}
