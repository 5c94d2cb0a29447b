// Package pipeline orchestrates one website's crawl: fetch, parse, change
// detection, transactional history write and webhook enqueue. It also runs
// the one-shot baseline crawl that activates a website.
package pipeline

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/obsrv/monitor-service/internal/crawler"
	"github.com/obsrv/monitor-service/internal/database"
	"github.com/obsrv/monitor-service/internal/detector"
	"github.com/obsrv/monitor-service/internal/metrics"
	"github.com/obsrv/monitor-service/internal/taskqueue"
	"github.com/obsrv/monitor-service/internal/webhook"
)

// rawHTMLLimit caps how much page HTML lands in raw_crawl_data.
const rawHTMLLimit = 10000

// Pipeline crawls a website's products and persists the results.
type Pipeline struct {
	store     Store
	fetcher   Fetcher
	parse     ParseFunc
	queue     Enqueuer
	detect    *detector.Detector
	httpsOnly bool
	now       func() time.Time
}

// New assembles a Pipeline. queue may be nil when webhook delivery is not
// wired (baseline-only runs).
func New(store Store, fetcher Fetcher, parse ParseFunc, queue Enqueuer) *Pipeline {
	if parse == nil {
		parse = crawler.Parse
	}
	return &Pipeline{
		store:   store,
		fetcher: fetcher,
		parse:   parse,
		queue:   queue,
		detect:  detector.New(store),
		now:     time.Now,
	}
}

// RequireHTTPS restricts webhook emission to https endpoints. Enabled in
// production; plain-http endpoints are skipped with a warning.
func (p *Pipeline) RequireHTTPS(enabled bool) {
	p.httpsOnly = enabled
}

type productError struct {
	ProductID string `json:"product_id,omitempty"`
	URL       string `json:"url"`
	Error     string `json:"error"`
}

// CrawlWebsite runs one crawl over a website's active products. Products are
// processed sequentially so the per-domain rate limit holds trivially.
// Returns the closed crawl log and whether the website was auto-paused.
func (p *Pipeline) CrawlWebsite(ctx context.Context, website *database.MonitoredWebsite, triggeredBy string) (*database.CrawlExecutionLog, bool, error) {
	crawlLog, err := p.store.OpenCrawlLog(ctx, website.ID, triggeredBy)
	if err != nil {
		return nil, false, err
	}
	crawlLog.Status = database.CrawlStatusRunning
	started := p.now()

	log.Info().
		Str("website_id", website.ID.String()).
		Str("crawl_id", crawlLog.ID.String()).
		Str("triggered_by", triggeredBy).
		Msg("website crawl started")

	products, err := p.store.ListActiveProducts(ctx, website.ID)
	var errs []productError
	if err != nil {
		errs = append(errs, productError{URL: website.BaseURL, Error: err.Error()})
	}

	for i := range products {
		if ctx.Err() != nil {
			errs = append(errs, productError{URL: website.BaseURL, Error: "crawl cancelled: " + ctx.Err().Error()})
			break
		}
		product := &products[i]
		changed, perr := p.processProduct(ctx, website, crawlLog, product)
		if perr != nil {
			errs = append(errs, productError{
				ProductID: product.ID.String(),
				URL:       product.OriginalURL,
				Error:     perr.Error(),
			})
			continue
		}
		crawlLog.ProductsProcessed++
		if changed {
			crawlLog.ChangesDetected++
		}
	}

	crawlLog.ErrorsCount = len(errs)
	crawlLog.Status = terminalStatus(crawlLog.ProductsProcessed, len(errs))
	if len(errs) > 0 {
		if detail, err := json.Marshal(errs); err == nil {
			s := string(detail)
			crawlLog.ErrorDetails = &s
		}
	}

	if err := p.store.CloseCrawlLog(ctx, crawlLog); err != nil {
		log.Error().Err(err).Str("crawl_id", crawlLog.ID.String()).Msg("failed to close crawl log")
	}

	paused, err := p.store.FinishWebsiteCrawl(ctx, website.ID, crawlLog.Status)
	if err != nil {
		log.Error().Err(err).Str("website_id", website.ID.String()).Msg("failed to update website after crawl")
	}
	if paused {
		metrics.RecordWebsitePaused()
		log.Warn().
			Str("website_id", website.ID.String()).
			Msg("website auto-paused after consecutive failures")
	}

	metrics.RecordCrawl(crawlLog.Status, crawlLog.ProductsProcessed, crawlLog.ErrorsCount, p.now().Sub(started))

	log.Info().
		Str("website_id", website.ID.String()).
		Str("crawl_id", crawlLog.ID.String()).
		Str("status", crawlLog.Status).
		Int("products_processed", crawlLog.ProductsProcessed).
		Int("changes_detected", crawlLog.ChangesDetected).
		Int("errors_count", crawlLog.ErrorsCount).
		Msg("website crawl finished")

	return crawlLog, paused, nil
}

// terminalStatus maps a crawl's counters onto its closing status. An empty
// run with no errors is a success: a website with nothing to crawl is
// healthy and must not accumulate consecutive failures.
func terminalStatus(processed, errCount int) string {
	switch {
	case errCount == 0:
		return database.CrawlStatusSuccess
	case processed == 0:
		return database.CrawlStatusFailed
	default:
		return database.CrawlStatusPartialSuccess
	}
}

// processProduct runs one product through fetch, parse, detect and persist.
// Returns whether a change was detected. A permanent 404/410 delists the
// product and still counts as an error for the crawl summary.
func (p *Pipeline) processProduct(ctx context.Context, website *database.MonitoredWebsite, crawlLog *database.CrawlExecutionLog, product *database.Product) (bool, error) {
	fetchStart := time.Now()
	res, err := p.fetcher.Fetch(ctx, product.OriginalURL)
	metrics.RecordFetch(time.Since(fetchStart))
	if err != nil {
		if crawler.IsPermanentNotFound(err) {
			if derr := p.store.MarkProductDelisted(ctx, product.ID); derr != nil {
				log.Error().Err(derr).Str("product_id", product.ID.String()).Msg("failed to delist product")
			} else {
				log.Info().
					Str("product_id", product.ID.String()).
					Str("url", product.OriginalURL).
					Msg("product delisted after permanent not-found")
			}
		}
		return false, err
	}

	parsed := p.parse(string(res.Body))

	change, err := p.detect.Detect(ctx, product, website, parsed.Price, parsed.StockStatus)
	if err != nil {
		return false, err
	}

	now := p.now().UTC()
	history := &database.ProductHistoryRecord{
		ProductID:      product.ID,
		WebsiteID:      website.ID,
		CrawlLogID:     crawlLog.ID,
		CrawlTimestamp: now,
		Price:          parsed.Price,
		Currency:       parsed.Currency,
		StockStatus:    parsed.StockStatus,
		PriceChanged:   change.PriceChanged,
		StockChanged:   change.StockChanged,
		PriceChangePct: change.PriceChangePct,
		RawCrawlData:   rawCrawlData(res, parsed),
	}

	product.CurrentPrice = parsed.Price
	product.CurrentCurrency = parsed.Currency
	product.CurrentStockStatus = parsed.StockStatus
	if parsed.Name != "" {
		product.ProductName = parsed.Name
	}
	product.LastCrawledAt = &now

	if err := p.store.RecordCrawlResult(ctx, database.CrawlResult{Product: product, History: history}); err != nil {
		return false, err
	}

	if change.PriceChanged {
		metrics.RecordChange("price")
	}
	if change.StockChanged {
		metrics.RecordChange("stock")
	}

	p.emitWebhooks(ctx, website, crawlLog, product, history, change)

	return change.PriceChanged || change.StockChanged, nil
}

func rawCrawlData(res *crawler.Result, parsed crawler.ParseResult) map[string]string {
	html := string(res.Body)
	if len(html) > rawHTMLLimit {
		html = html[:rawHTMLLimit]
	}
	data := map[string]string{
		"final_url":    res.FinalURL,
		"status_code":  strconv.Itoa(res.StatusCode),
		"fetched_at":   res.FetchedAt.UTC().Format(time.RFC3339),
		"name":         parsed.Name,
		"currency":     parsed.Currency,
		"stock_status": parsed.StockStatus,
		"raw_html":     html,
	}
	if parsed.Price != nil {
		data["price_cents"] = strconv.FormatInt(*parsed.Price, 10)
	}
	return data
}

// emitWebhooks enqueues the qualifying events for a persisted change: price
// events only above the threshold, stock events on any transition. A failed
// enqueue is logged, never rolled back into the crawl.
func (p *Pipeline) emitWebhooks(ctx context.Context, website *database.MonitoredWebsite, crawlLog *database.CrawlExecutionLog, product *database.Product, history *database.ProductHistoryRecord, change detector.ChangeResult) {
	if p.queue == nil || !website.WebhookEnabled || website.WebhookEndpointURL == nil {
		return
	}
	if p.httpsOnly && !strings.HasPrefix(strings.ToLower(*website.WebhookEndpointURL), "https://") {
		log.Warn().
			Str("website_id", website.ID.String()).
			Str("endpoint", *website.WebhookEndpointURL).
			Msg("skipping webhook emission to non-https endpoint")
		return
	}
	emitPrice := change.PriceChanged && change.ExceededThreshold
	emitStock := change.StockChanged
	if !emitPrice && !emitStock {
		return
	}

	secret, _, err := p.store.ClientSecrets(ctx, website.ClientID)
	if err != nil {
		log.Error().Err(err).Str("website_id", website.ID.String()).Msg("failed to load webhook secret")
		return
	}

	if emitPrice {
		event := buildPriceEvent(website, crawlLog, product, history, change)
		p.enqueueEvent(ctx, website, history, webhook.EventPriceChanged, event, secret)
	}
	if emitStock {
		event := buildStockEvent(website, crawlLog, product, history, change)
		p.enqueueEvent(ctx, website, history, webhook.EventStockChanged, event, secret)
	}
}

func (p *Pipeline) enqueueEvent(ctx context.Context, website *database.MonitoredWebsite, history *database.ProductHistoryRecord, eventType string, event any, secret string) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("event_type", eventType).Msg("failed to marshal webhook payload")
		return
	}

	_, err = p.queue.Enqueue(ctx, taskqueue.EnqueueInput{
		ProductHistoryID: history.ID,
		WebsiteID:        website.ID,
		TargetURL:        *website.WebhookEndpointURL,
		EventType:        eventType,
		Payload:          payload,
		Secret:           secret,
	})
	if err != nil {
		log.Error().Err(err).
			Str("event_type", eventType).
			Str("history_id", history.ID.String()).
			Msg("failed to enqueue webhook delivery")
		return
	}

	log.Info().
		Str("event_type", eventType).
		Str("history_id", history.ID.String()).
		Str("website_id", website.ID.String()).
		Msg("webhook delivery enqueued")
}

// buildPriceEvent assembles the product.price_changed payload. EventID is
// the history row id, the receiver-side deduplication key across retries.
// Null price transitions emit a null change_pct and a zero absolute change.
func buildPriceEvent(website *database.MonitoredWebsite, crawlLog *database.CrawlExecutionLog, product *database.Product, history *database.ProductHistoryRecord, change detector.ChangeResult) webhook.PriceChangeEvent {
	return webhook.PriceChangeEvent{
		EventType: webhook.EventPriceChanged,
		EventID:   history.ID,
		Timestamp: history.CrawlTimestamp,
		Website:   websiteInfo(website),
		Product:   productInfo(product),
		Change: webhook.PriceChangeDetails{
			Type:           "price",
			OldValue:       webhook.MoneyPtr(change.OldPrice),
			NewValue:       webhook.MoneyPtr(change.NewPrice),
			Currency:       history.Currency,
			ChangePct:      change.PriceChangePct,
			AbsoluteChange: webhook.Money(change.AbsoluteChangeCents()),
			DetectedAt:     history.CrawlTimestamp,
		},
		Metadata: webhook.PriceChangeMetadata{
			CrawlID:           crawlLog.ID,
			ThresholdPct:      website.PriceChangeThresholdPct,
			ExceededThreshold: change.ExceededThreshold,
		},
	}
}

func buildStockEvent(website *database.MonitoredWebsite, crawlLog *database.CrawlExecutionLog, product *database.Product, history *database.ProductHistoryRecord, change detector.ChangeResult) webhook.StockChangeEvent {
	return webhook.StockChangeEvent{
		EventType: webhook.EventStockChanged,
		EventID:   history.ID,
		Timestamp: history.CrawlTimestamp,
		Website:   websiteInfo(website),
		Product:   productInfo(product),
		Change: webhook.StockChangeDetails{
			Type:       "stock",
			OldValue:   change.OldStock,
			NewValue:   change.NewStock,
			DetectedAt: history.CrawlTimestamp,
		},
		Metadata: webhook.StockChangeMetadata{
			CrawlID:       crawlLog.ID,
			PriceAtChange: webhook.MoneyPtr(history.Price),
			Currency:      history.Currency,
		},
	}
}

func websiteInfo(website *database.MonitoredWebsite) webhook.WebsiteInfo {
	return webhook.WebsiteInfo{
		ID:      website.ID,
		BaseURL: website.BaseURL,
		Name:    website.Name,
	}
}

func productInfo(product *database.Product) webhook.ProductInfo {
	return webhook.ProductInfo{
		ID:                 product.ID,
		URL:                product.OriginalURL,
		Name:               product.ProductName,
		ExtractedProductID: product.ExtractedProductID,
	}
}
