package database

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

// setupTestDB starts a throwaway Postgres container and applies the schema.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		postgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, container)
	require.NoError(t, err)

	connString, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connString)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	schema, err := os.ReadFile("../../migrations/000001_initial_schema.up.sql")
	require.NoError(t, err)
	_, err = pool.Exec(ctx, string(schema))
	require.NoError(t, err)

	return pool
}

func seedTestWebsite(t *testing.T, pool *pgxpool.Pool) *MonitoredWebsite {
	t.Helper()
	ctx := context.Background()

	var clientID string
	err := pool.QueryRow(ctx, `
		INSERT INTO clients (webhook_secret_current, webhook_secret_previous)
		VALUES ('whsec_current', 'whsec_previous')
		RETURNING id
	`).Scan(&clientID)
	require.NoError(t, err)

	var w MonitoredWebsite
	err = pool.QueryRow(ctx, `
		INSERT INTO monitored_websites (
			client_id, name, base_url, seed_urls, status,
			crawl_frequency_minutes, price_change_threshold_pct,
			webhook_endpoint_url, webhook_enabled
		) VALUES ($1, 'Example Shop', 'https://shop.example.com', '{}', 'active',
			360, 1.0, 'https://hooks.example.com/obsrv', true)
		RETURNING id, client_id
	`, clientID).Scan(&w.ID, &w.ClientID)
	require.NoError(t, err)

	store := NewStore(pool)
	website, err := store.GetWebsite(ctx, w.ID)
	require.NoError(t, err)
	return website
}

func TestStoreProductLifecycle(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	store := NewStore(pool)
	website := seedTestWebsite(t, pool)

	productID := "B0TEST1234"
	product := &Product{
		WebsiteID:          website.ID,
		OriginalURL:        "https://shop.example.com/products/mouse?utm_source=x",
		NormalizedURL:      "https://shop.example.com/products/mouse",
		ExtractedProductID: &productID,
		ExtractionMethod:   "url_pattern_shopify",
		ProductName:        "Wireless Mouse",
		CurrentCurrency:    "USD",
		CurrentStockStatus: StockUnknown,
		IsActive:           true,
	}
	require.NoError(t, store.CreateProduct(ctx, product))
	require.NotEqual(t, uuid.Nil, product.ID)

	products, err := store.ListActiveProducts(ctx, website.ID)
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.Equal(t, "Wireless Mouse", products[0].ProductName)

	// No history yet.
	prev, err := store.LatestHistory(ctx, product.ID)
	require.NoError(t, err)
	assert.Nil(t, prev)

	crawlLog, err := store.OpenCrawlLog(ctx, website.ID, TriggeredByScheduled)
	require.NoError(t, err)

	price := int64(9999)
	now := time.Now().UTC()
	product.CurrentPrice = &price
	product.CurrentStockStatus = StockInStock
	product.LastCrawledAt = &now

	history := &ProductHistoryRecord{
		ProductID:      product.ID,
		WebsiteID:      website.ID,
		CrawlLogID:     crawlLog.ID,
		CrawlTimestamp: now,
		Price:          &price,
		Currency:       "USD",
		StockStatus:    StockInStock,
	}
	require.NoError(t, store.RecordCrawlResult(ctx, CrawlResult{Product: product, History: history}))

	latest, err := store.LatestHistory(ctx, product.ID)
	require.NoError(t, err)
	require.NotNil(t, latest)
	require.NotNil(t, latest.Price)
	assert.Equal(t, int64(9999), *latest.Price)
	assert.Equal(t, StockInStock, latest.StockStatus)

	// Delisting removes the product from the active set.
	require.NoError(t, store.MarkProductDelisted(ctx, product.ID))
	products, err = store.ListActiveProducts(ctx, website.ID)
	require.NoError(t, err)
	assert.Empty(t, products)
}

func TestStoreClientSecrets(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	store := NewStore(pool)
	website := seedTestWebsite(t, pool)

	current, previous, err := store.ClientSecrets(ctx, website.ClientID)
	require.NoError(t, err)
	assert.Equal(t, "whsec_current", current)
	require.NotNil(t, previous)
	assert.Equal(t, "whsec_previous", *previous)
}

func TestStoreAutoPauseAfterConsecutiveFailures(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	store := NewStore(pool)
	website := seedTestWebsite(t, pool)

	for i := 1; i <= MaxConsecutiveFailures; i++ {
		paused, err := store.FinishWebsiteCrawl(ctx, website.ID, CrawlStatusFailed)
		require.NoError(t, err)
		if i < MaxConsecutiveFailures {
			assert.False(t, paused, "crawl %d must not pause yet", i)
		} else {
			assert.True(t, paused, "crawl %d must pause the website", i)
		}
	}

	reloaded, err := store.GetWebsite(ctx, website.ID)
	require.NoError(t, err)
	assert.Equal(t, WebsiteStatusPaused, reloaded.Status)
	assert.Equal(t, MaxConsecutiveFailures, reloaded.ConsecutiveFailures)
}

func TestStoreSuccessResetsFailureCount(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	store := NewStore(pool)
	website := seedTestWebsite(t, pool)

	_, err := store.FinishWebsiteCrawl(ctx, website.ID, CrawlStatusFailed)
	require.NoError(t, err)
	_, err = store.FinishWebsiteCrawl(ctx, website.ID, CrawlStatusFailed)
	require.NoError(t, err)

	paused, err := store.FinishWebsiteCrawl(ctx, website.ID, CrawlStatusPartialSuccess)
	require.NoError(t, err)
	assert.False(t, paused)

	reloaded, err := store.GetWebsite(ctx, website.ID)
	require.NoError(t, err)
	assert.Equal(t, WebsiteStatusActive, reloaded.Status)
	assert.Zero(t, reloaded.ConsecutiveFailures)
	assert.NotNil(t, reloaded.LastSuccessfulCrawlAt)
}

func insertHistoryRowAged(t *testing.T, pool *pgxpool.Pool, websiteID uuid.UUID, ageDays int) uuid.UUID {
	t.Helper()
	var id uuid.UUID
	err := pool.QueryRow(context.Background(), `
		INSERT INTO product_history (product_id, website_id, crawl_log_id, crawl_timestamp, price, currency, stock_status)
		VALUES ($1, $2, $3, NOW() - make_interval(days => $4), 1000, 'USD', $5)
		RETURNING id
	`, uuid.New(), websiteID, uuid.New(), ageDays, StockInStock).Scan(&id)
	require.NoError(t, err)
	return id
}

func TestStoreEnsureHistoryPartitions(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	store := NewStore(pool)
	website := seedTestWebsite(t, pool)

	require.NoError(t, store.EnsureHistoryPartitions(ctx))
	// Idempotent on a second pass.
	require.NoError(t, store.EnsureHistoryPartitions(ctx))

	now := time.Now().UTC()
	current := fmt.Sprintf("product_history_y%dm%02d", now.Year(), int(now.Month()))
	next := now.AddDate(0, 1, 0)
	upcoming := fmt.Sprintf("product_history_y%dm%02d", next.Year(), int(next.Month()))

	for _, name := range []string{current, upcoming} {
		var reg *string
		require.NoError(t, pool.QueryRow(ctx, "SELECT to_regclass($1)::text", name).Scan(&reg))
		require.NotNil(t, reg, "partition %s must exist", name)
	}

	// A fresh row routes to the month partition, not the default one.
	id := insertHistoryRowAged(t, pool, website.ID, 0)
	var table string
	require.NoError(t, pool.QueryRow(ctx,
		"SELECT tableoid::regclass::text FROM product_history WHERE id = $1", id).Scan(&table))
	assert.Equal(t, current, table)
}

func TestStorePurgeExpiredHistoryClampsRetention(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	store := NewStore(pool)
	website := seedTestWebsite(t, pool)

	// Retention far beyond the allowed maximum gets clamped to maxDays.
	_, err := pool.Exec(ctx,
		"UPDATE monitored_websites SET retention_days = 3650 WHERE id = $1", website.ID)
	require.NoError(t, err)

	oldID := insertHistoryRowAged(t, pool, website.ID, 400)
	freshID := insertHistoryRowAged(t, pool, website.ID, 10)

	purged, err := store.PurgeExpiredHistory(ctx, 90, 365)
	require.NoError(t, err)
	assert.EqualValues(t, 1, purged)

	var count int
	require.NoError(t, pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM product_history WHERE id = $1", oldID).Scan(&count))
	assert.Zero(t, count)
	require.NoError(t, pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM product_history WHERE id = $1", freshID).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestStorePurgeExpiredHistoryZeroRetentionUsesDefault(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	store := NewStore(pool)
	website := seedTestWebsite(t, pool)

	_, err := pool.Exec(ctx,
		"UPDATE monitored_websites SET retention_days = 0 WHERE id = $1", website.ID)
	require.NoError(t, err)

	insertHistoryRowAged(t, pool, website.ID, 100)
	insertHistoryRowAged(t, pool, website.ID, 30)

	purged, err := store.PurgeExpiredHistory(ctx, 90, 365)
	require.NoError(t, err)
	assert.EqualValues(t, 1, purged, "only the row past the default window is purged")
}

func TestStoreFailInterruptedCrawls(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	store := NewStore(pool)
	website := seedTestWebsite(t, pool)

	crawlLog, err := store.OpenCrawlLog(ctx, website.ID, TriggeredByScheduled)
	require.NoError(t, err)

	failed, err := store.FailInterruptedCrawls(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, failed)

	var status string
	require.NoError(t, pool.QueryRow(ctx,
		"SELECT status FROM crawl_execution_logs WHERE id = $1", crawlLog.ID).Scan(&status))
	assert.Equal(t, CrawlStatusFailed, status)
}
