package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Store provides the persistence operations the monitoring pipeline consumes.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const websiteColumns = `
	id, client_id, name, base_url, seed_urls, status, crawl_frequency_minutes,
	price_change_threshold_pct, retention_days, approved_product_count,
	last_successful_crawl_at, last_crawl_status, webhook_endpoint_url,
	webhook_enabled, consecutive_failures, created_at, updated_at`

func scanWebsite(row pgx.Row) (*MonitoredWebsite, error) {
	var w MonitoredWebsite
	err := row.Scan(
		&w.ID, &w.ClientID, &w.Name, &w.BaseURL, &w.SeedURLs, &w.Status, &w.CrawlFrequencyMinutes,
		&w.PriceChangeThresholdPct, &w.RetentionDays, &w.ApprovedProductCount,
		&w.LastSuccessfulCrawlAt, &w.LastCrawlStatus, &w.WebhookEndpointURL,
		&w.WebhookEnabled, &w.ConsecutiveFailures, &w.CreatedAt, &w.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// ListActiveWebsites returns all websites in status 'active'.
func (s *Store) ListActiveWebsites(ctx context.Context) ([]MonitoredWebsite, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+websiteColumns+`
		FROM monitored_websites
		WHERE status = 'active'
		ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("list active websites: %w", err)
	}
	defer rows.Close()

	websites := make([]MonitoredWebsite, 0)
	for rows.Next() {
		w, err := scanWebsite(rows)
		if err != nil {
			return nil, fmt.Errorf("scan website: %w", err)
		}
		websites = append(websites, *w)
	}
	return websites, rows.Err()
}

// GetWebsite returns a single website by id.
func (s *Store) GetWebsite(ctx context.Context, id uuid.UUID) (*MonitoredWebsite, error) {
	w, err := scanWebsite(s.pool.QueryRow(ctx, `
		SELECT `+websiteColumns+`
		FROM monitored_websites
		WHERE id = $1
	`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get website: %w", err)
	}
	return w, nil
}

// ClientSecrets returns the current and (if a rotation is in progress)
// previous webhook secret for a client.
func (s *Store) ClientSecrets(ctx context.Context, clientID uuid.UUID) (current string, previous *string, err error) {
	err = s.pool.QueryRow(ctx, `
		SELECT webhook_secret_current, webhook_secret_previous
		FROM clients
		WHERE id = $1
	`, clientID).Scan(&current, &previous)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil, ErrNotFound
	}
	if err != nil {
		return "", nil, fmt.Errorf("client secrets: %w", err)
	}
	return current, previous, nil
}

// ListActiveProducts returns the active products for a website, ordered by
// creation time so crawl order is stable.
func (s *Store) ListActiveProducts(ctx context.Context, websiteID uuid.UUID) ([]Product, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, website_id, original_url, normalized_url, extracted_product_id,
		       extraction_method, product_name, current_price, current_currency,
		       current_stock_status, last_crawled_at, is_active, delisted_at,
		       created_at, updated_at
		FROM products
		WHERE website_id = $1 AND is_active = true
		ORDER BY created_at
	`, websiteID)
	if err != nil {
		return nil, fmt.Errorf("list active products: %w", err)
	}
	defer rows.Close()

	products := make([]Product, 0)
	for rows.Next() {
		var p Product
		if err := rows.Scan(
			&p.ID, &p.WebsiteID, &p.OriginalURL, &p.NormalizedURL, &p.ExtractedProductID,
			&p.ExtractionMethod, &p.ProductName, &p.CurrentPrice, &p.CurrentCurrency,
			&p.CurrentStockStatus, &p.LastCrawledAt, &p.IsActive, &p.DelistedAt,
			&p.CreatedAt, &p.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

// CreateProduct inserts a new product row. The (website_id, normalized_url)
// pair is unique; duplicates return an error.
func (s *Store) CreateProduct(ctx context.Context, p *Product) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO products (
			id, website_id, original_url, normalized_url, extracted_product_id,
			extraction_method, product_name, current_price, current_currency,
			current_stock_status, last_crawled_at, is_active, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, true, NOW(), NOW())
	`, p.ID, p.WebsiteID, p.OriginalURL, p.NormalizedURL, p.ExtractedProductID,
		p.ExtractionMethod, p.ProductName, p.CurrentPrice, p.CurrentCurrency,
		p.CurrentStockStatus, p.LastCrawledAt)
	if err != nil {
		return fmt.Errorf("create product: %w", err)
	}
	return nil
}

// MarkProductDelisted logically deletes a product after a permanent not-found.
func (s *Store) MarkProductDelisted(ctx context.Context, productID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE products
		SET is_active = false, delisted_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND is_active = true
	`, productID)
	if err != nil {
		return fmt.Errorf("delist product: %w", err)
	}
	return nil
}

// LatestHistory returns the most recent history record for a product, or nil
// when the product has never been crawled.
func (s *Store) LatestHistory(ctx context.Context, productID uuid.UUID) (*ProductHistoryRecord, error) {
	var h ProductHistoryRecord
	var raw []byte
	err := s.pool.QueryRow(ctx, `
		SELECT id, product_id, website_id, crawl_log_id, crawl_timestamp,
		       price, currency, stock_status, price_changed, stock_changed,
		       price_change_pct, raw_crawl_data
		FROM product_history
		WHERE product_id = $1
		ORDER BY crawl_timestamp DESC
		LIMIT 1
	`, productID).Scan(
		&h.ID, &h.ProductID, &h.WebsiteID, &h.CrawlLogID, &h.CrawlTimestamp,
		&h.Price, &h.Currency, &h.StockStatus, &h.PriceChanged, &h.StockChanged,
		&h.PriceChangePct, &raw,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest history: %w", err)
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &h.RawCrawlData); err != nil {
			h.RawCrawlData = nil
		}
	}
	return &h, nil
}

// CrawlResult is the unit of work persisted after one product crawl.
type CrawlResult struct {
	Product *Product
	History *ProductHistoryRecord
}

// RecordCrawlResult updates the product's current fields and appends the
// history record in a single transaction. On failure, neither persists.
func (s *Store) RecordCrawlResult(ctx context.Context, res CrawlResult) error {
	if res.History.ID == uuid.Nil {
		res.History.ID = uuid.New()
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin crawl result tx: %w", err)
	}
	defer tx.Rollback(ctx)

	p := res.Product
	_, err = tx.Exec(ctx, `
		UPDATE products
		SET current_price = $1, current_currency = $2, current_stock_status = $3,
		    product_name = $4, last_crawled_at = $5, updated_at = NOW()
		WHERE id = $6
	`, p.CurrentPrice, p.CurrentCurrency, p.CurrentStockStatus,
		p.ProductName, p.LastCrawledAt, p.ID)
	if err != nil {
		return fmt.Errorf("update product current state: %w", err)
	}

	h := res.History
	raw, err := json.Marshal(h.RawCrawlData)
	if err != nil {
		return fmt.Errorf("marshal raw crawl data: %w", err)
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO product_history (
			id, product_id, website_id, crawl_log_id, crawl_timestamp,
			price, currency, stock_status, price_changed, stock_changed,
			price_change_pct, raw_crawl_data
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, h.ID, h.ProductID, h.WebsiteID, h.CrawlLogID, h.CrawlTimestamp,
		h.Price, h.Currency, h.StockStatus, h.PriceChanged, h.StockChanged,
		h.PriceChangePct, raw)
	if err != nil {
		return fmt.Errorf("insert history record: %w", err)
	}

	return tx.Commit(ctx)
}

// OpenCrawlLog creates a running crawl execution log for a website.
func (s *Store) OpenCrawlLog(ctx context.Context, websiteID uuid.UUID, triggeredBy string) (*CrawlExecutionLog, error) {
	log := &CrawlExecutionLog{
		ID:          uuid.New(),
		WebsiteID:   websiteID,
		StartedAt:   time.Now().UTC(),
		Status:      CrawlStatusRunning,
		TriggeredBy: triggeredBy,
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO crawl_execution_logs (id, website_id, started_at, status, triggered_by)
		VALUES ($1, $2, $3, $4, $5)
	`, log.ID, log.WebsiteID, log.StartedAt, log.Status, log.TriggeredBy)
	if err != nil {
		return nil, fmt.Errorf("open crawl log: %w", err)
	}
	return log, nil
}

// CloseCrawlLog finalizes a crawl log with its terminal status and counters.
func (s *Store) CloseCrawlLog(ctx context.Context, log *CrawlExecutionLog) error {
	now := time.Now().UTC()
	duration := int(now.Sub(log.StartedAt).Seconds())
	log.CompletedAt = &now
	log.DurationSeconds = &duration

	_, err := s.pool.Exec(ctx, `
		UPDATE crawl_execution_logs
		SET completed_at = $1, duration_seconds = $2, status = $3,
		    products_processed = $4, changes_detected = $5,
		    errors_count = $6, error_details = $7
		WHERE id = $8
	`, log.CompletedAt, log.DurationSeconds, log.Status,
		log.ProductsProcessed, log.ChangesDetected,
		log.ErrorsCount, log.ErrorDetails, log.ID)
	if err != nil {
		return fmt.Errorf("close crawl log: %w", err)
	}
	return nil
}

// FinishWebsiteCrawl updates the website's crawl bookkeeping after a run.
// last_successful_crawl_at only moves forward on success or partial_success.
// Returns true when the website was auto-paused.
func (s *Store) FinishWebsiteCrawl(ctx context.Context, websiteID uuid.UUID, status string) (paused bool, err error) {
	var consecutiveFailures int
	if status == CrawlStatusFailed {
		err = s.pool.QueryRow(ctx, `
			UPDATE monitored_websites
			SET last_crawl_status = $1,
			    consecutive_failures = consecutive_failures + 1,
			    updated_at = NOW()
			WHERE id = $2
			RETURNING consecutive_failures
		`, status, websiteID).Scan(&consecutiveFailures)
	} else {
		err = s.pool.QueryRow(ctx, `
			UPDATE monitored_websites
			SET last_crawl_status = $1,
			    last_successful_crawl_at = NOW(),
			    consecutive_failures = 0,
			    updated_at = NOW()
			WHERE id = $2
			RETURNING consecutive_failures
		`, status, websiteID).Scan(&consecutiveFailures)
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("finish website crawl: %w", err)
	}

	if consecutiveFailures >= MaxConsecutiveFailures {
		_, err = s.pool.Exec(ctx, `
			UPDATE monitored_websites
			SET status = 'paused', updated_at = NOW()
			WHERE id = $1
		`, websiteID)
		if err != nil {
			return false, fmt.Errorf("auto-pause website: %w", err)
		}
		return true, nil
	}
	return false, nil
}

// ActivateWebsite marks a website active after its baseline crawl and records
// how many products were approved.
func (s *Store) ActivateWebsite(ctx context.Context, websiteID uuid.UUID, approvedCount int, crawlStatus string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE monitored_websites
		SET status = 'active', approved_product_count = $1,
		    last_successful_crawl_at = NOW(), last_crawl_status = $2,
		    updated_at = NOW()
		WHERE id = $3
	`, approvedCount, crawlStatus, websiteID)
	if err != nil {
		return fmt.Errorf("activate website: %w", err)
	}
	return nil
}

// FailInterruptedCrawls marks crawl logs left 'running' by a dead process as
// failed. Called once at startup.
func (s *Store) FailInterruptedCrawls(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE crawl_execution_logs
		SET status = 'failed', completed_at = NOW(),
		    error_details = '[{"error":"service restarted during crawl"}]'
		WHERE status = 'running'
	`)
	if err != nil {
		return 0, fmt.Errorf("fail interrupted crawls: %w", err)
	}
	return tag.RowsAffected(), nil
}

// PurgeExpiredHistory deletes history rows older than each website's
// retention window. A zero retention_days falls back to defaultDays and the
// effective window is clamped to maxDays. Returns the number of rows removed.
func (s *Store) PurgeExpiredHistory(ctx context.Context, defaultDays, maxDays int) (int64, error) {
	if defaultDays <= 0 {
		defaultDays = 90
	}
	if maxDays <= 0 {
		maxDays = 365
	}
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM product_history h
		USING monitored_websites w
		WHERE h.website_id = w.id
		  AND h.crawl_timestamp < NOW() - make_interval(
		        days => LEAST(COALESCE(NULLIF(w.retention_days, 0), $1::int), $2::int))
	`, defaultDays, maxDays)
	if err != nil {
		return 0, fmt.Errorf("purge expired history: %w", err)
	}
	return tag.RowsAffected(), nil
}

// EnsureHistoryPartitions creates the monthly product_history partitions for
// the current and next month when they do not exist yet. Run at startup and
// from the maintenance pass so inserts never fall through to the default
// partition.
func (s *Store) EnsureHistoryPartitions(ctx context.Context) error {
	now := time.Now().UTC()
	for i := 0; i < 2; i++ {
		start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, i, 0)
		end := start.AddDate(0, 1, 0)
		name := fmt.Sprintf("product_history_y%dm%02d", start.Year(), int(start.Month()))
		_, err := s.pool.Exec(ctx, fmt.Sprintf(
			`CREATE TABLE IF NOT EXISTS %s PARTITION OF product_history
			 FOR VALUES FROM ('%s') TO ('%s')`,
			name, start.Format("2006-01-02"), end.Format("2006-01-02")))
		if err != nil {
			return fmt.Errorf("ensure history partition %s: %w", name, err)
		}
	}
	return nil
}

// ClearExpiredPreviousSecrets drops previous webhook secrets whose rotation
// grace period has passed.
func (s *Store) ClearExpiredPreviousSecrets(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE clients
		SET webhook_secret_previous = NULL, secret_rotation_expires_at = NULL,
		    updated_at = NOW()
		WHERE webhook_secret_previous IS NOT NULL
		  AND secret_rotation_expires_at < NOW()
	`)
	if err != nil {
		return 0, fmt.Errorf("clear expired previous secrets: %w", err)
	}
	return tag.RowsAffected(), nil
}
