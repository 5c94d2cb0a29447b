package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/obsrv/monitor-service/internal/crawler"
	"github.com/obsrv/monitor-service/internal/database"
	"github.com/obsrv/monitor-service/internal/taskqueue"
	"github.com/obsrv/monitor-service/internal/webhook"
)

func int64p(v int64) *int64 { return &v }

// fakeStore is an in-memory Store for pipeline tests.
type fakeStore struct {
	products   []database.Product
	histories  map[uuid.UUID][]*database.ProductHistoryRecord
	delisted   []uuid.UUID
	created    []*database.Product
	crawlLogs  []*database.CrawlExecutionLog
	finished   []string
	activated  bool
	approved   int
	secret     string
	prevSecret *string

	consecutiveFailures int
	paused              bool

	recordErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		histories: make(map[uuid.UUID][]*database.ProductHistoryRecord),
		secret:    "whsec_test",
	}
}

func (s *fakeStore) ListActiveProducts(ctx context.Context, websiteID uuid.UUID) ([]database.Product, error) {
	return s.products, nil
}

func (s *fakeStore) LatestHistory(ctx context.Context, productID uuid.UUID) (*database.ProductHistoryRecord, error) {
	h := s.histories[productID]
	if len(h) == 0 {
		return nil, nil
	}
	return h[len(h)-1], nil
}

func (s *fakeStore) RecordCrawlResult(ctx context.Context, res database.CrawlResult) error {
	if s.recordErr != nil {
		return s.recordErr
	}
	if res.History.ID == uuid.Nil {
		res.History.ID = uuid.New()
	}
	s.histories[res.Product.ID] = append(s.histories[res.Product.ID], res.History)
	return nil
}

func (s *fakeStore) MarkProductDelisted(ctx context.Context, productID uuid.UUID) error {
	s.delisted = append(s.delisted, productID)
	return nil
}

func (s *fakeStore) CreateProduct(ctx context.Context, p *database.Product) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	s.created = append(s.created, p)
	return nil
}

func (s *fakeStore) OpenCrawlLog(ctx context.Context, websiteID uuid.UUID, triggeredBy string) (*database.CrawlExecutionLog, error) {
	l := &database.CrawlExecutionLog{
		ID:          uuid.New(),
		WebsiteID:   websiteID,
		StartedAt:   time.Now().UTC(),
		Status:      database.CrawlStatusRunning,
		TriggeredBy: triggeredBy,
	}
	s.crawlLogs = append(s.crawlLogs, l)
	return l, nil
}

func (s *fakeStore) CloseCrawlLog(ctx context.Context, log *database.CrawlExecutionLog) error {
	return nil
}

func (s *fakeStore) FinishWebsiteCrawl(ctx context.Context, websiteID uuid.UUID, status string) (bool, error) {
	s.finished = append(s.finished, status)
	if status == database.CrawlStatusFailed {
		s.consecutiveFailures++
	} else {
		s.consecutiveFailures = 0
	}
	if s.consecutiveFailures >= database.MaxConsecutiveFailures {
		s.paused = true
		return true, nil
	}
	return false, nil
}

func (s *fakeStore) ActivateWebsite(ctx context.Context, websiteID uuid.UUID, approvedCount int, crawlStatus string) error {
	s.activated = true
	s.approved = approvedCount
	return nil
}

func (s *fakeStore) ClientSecrets(ctx context.Context, clientID uuid.UUID) (string, *string, error) {
	return s.secret, s.prevSecret, nil
}

// fakeFetcher serves canned bodies keyed by URL.
type fakeFetcher struct {
	pages map[string]string
	errs  map[string]error
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) (*crawler.Result, error) {
	if err, ok := f.errs[url]; ok {
		return nil, err
	}
	body, ok := f.pages[url]
	if !ok {
		return nil, &crawler.CrawlError{Kind: crawler.ErrKindNetwork, URL: url}
	}
	return &crawler.Result{FinalURL: url, StatusCode: 200, Body: []byte(body), FetchedAt: time.Now()}, nil
}

// fakeQueue records enqueued deliveries.
type fakeQueue struct {
	entries []taskqueue.EnqueueInput
}

func (q *fakeQueue) Enqueue(ctx context.Context, input taskqueue.EnqueueInput) (uuid.UUID, error) {
	q.entries = append(q.entries, input)
	return uuid.New(), nil
}

func testWebsite() *database.MonitoredWebsite {
	endpoint := "https://client.example.com/hooks"
	return &database.MonitoredWebsite{
		ID:                      uuid.New(),
		ClientID:                uuid.New(),
		Name:                    "Example Shop",
		BaseURL:                 "https://shop.example.com",
		Status:                  database.WebsiteStatusActive,
		PriceChangeThresholdPct: 1.0,
		WebhookEndpointURL:      &endpoint,
		WebhookEnabled:          true,
	}
}

func seedProduct(store *fakeStore, url string, price *int64, stock string) *database.Product {
	p := database.Product{
		ID:                 uuid.New(),
		OriginalURL:        url,
		ProductName:        "Widget",
		CurrentPrice:       price,
		CurrentStockStatus: stock,
		CurrentCurrency:    "USD",
		IsActive:           true,
	}
	store.products = append(store.products, p)
	store.histories[p.ID] = []*database.ProductHistoryRecord{{
		ID:          uuid.New(),
		ProductID:   p.ID,
		Price:       price,
		Currency:    "USD",
		StockStatus: stock,
	}}
	return &store.products[len(store.products)-1]
}

func pageHTML(price string, stock string) string {
	return fmt.Sprintf(`<html><head><meta property="og:title" content="Widget"></head>
		<body>{"price": "%s"} <p>%s</p></body></html>`, price, stock)
}

func TestCrawlPriceChangeAboveThresholdEmitsWebhook(t *testing.T) {
	store := newFakeStore()
	product := seedProduct(store, "https://shop.example.com/products/widget", int64p(10000), database.StockInStock)

	fetcher := &fakeFetcher{pages: map[string]string{
		product.OriginalURL: pageHTML("98.00", "in stock"),
	}}
	queue := &fakeQueue{}
	website := testWebsite()

	p := New(store, fetcher, nil, queue)
	crawlLog, paused, err := p.CrawlWebsite(context.Background(), website, database.TriggeredByScheduled)
	require.NoError(t, err)
	assert.False(t, paused)
	assert.Equal(t, database.CrawlStatusSuccess, crawlLog.Status)
	assert.Equal(t, 1, crawlLog.ProductsProcessed)
	assert.Equal(t, 1, crawlLog.ChangesDetected)

	// History row reflects the change.
	hist := store.histories[product.ID]
	require.Len(t, hist, 2)
	latest := hist[1]
	assert.True(t, latest.PriceChanged)
	assert.False(t, latest.StockChanged)
	require.NotNil(t, latest.PriceChangePct)
	assert.InDelta(t, -2.0, *latest.PriceChangePct, 0.01)
	assert.EqualValues(t, 9800, *latest.Price)

	// Exactly one price webhook, event_id = history id.
	require.Len(t, queue.entries, 1)
	entry := queue.entries[0]
	assert.Equal(t, webhook.EventPriceChanged, entry.EventType)
	assert.Equal(t, latest.ID, entry.ProductHistoryID)
	assert.Equal(t, "whsec_test", entry.Secret)

	var event webhook.PriceChangeEvent
	require.NoError(t, json.Unmarshal(entry.Payload, &event))
	assert.Equal(t, latest.ID, event.EventID)
	assert.InDelta(t, -2.0, *event.Change.ChangePct, 0.01)
	assert.EqualValues(t, -200, event.Change.AbsoluteChange)
	assert.True(t, event.Metadata.ExceededThreshold)
}

func TestCrawlPriceChangeBelowThresholdSuppressed(t *testing.T) {
	store := newFakeStore()
	product := seedProduct(store, "https://shop.example.com/products/widget", int64p(10000), database.StockInStock)

	fetcher := &fakeFetcher{pages: map[string]string{
		product.OriginalURL: pageHTML("99.50", "in stock"),
	}}
	queue := &fakeQueue{}

	p := New(store, fetcher, nil, queue)
	crawlLog, _, err := p.CrawlWebsite(context.Background(), testWebsite(), database.TriggeredByScheduled)
	require.NoError(t, err)
	assert.Equal(t, 1, crawlLog.ChangesDetected)

	hist := store.histories[product.ID]
	require.Len(t, hist, 2)
	assert.True(t, hist[1].PriceChanged)
	assert.InDelta(t, -0.5, *hist[1].PriceChangePct, 0.01)

	assert.Empty(t, queue.entries, "below-threshold price change must not emit a webhook")
}

func TestCrawlStockChangeAlwaysEmits(t *testing.T) {
	store := newFakeStore()
	product := seedProduct(store, "https://shop.example.com/products/widget", int64p(10000), database.StockInStock)

	fetcher := &fakeFetcher{pages: map[string]string{
		product.OriginalURL: pageHTML("100.00", "sold out"),
	}}
	queue := &fakeQueue{}

	p := New(store, fetcher, nil, queue)
	_, _, err := p.CrawlWebsite(context.Background(), testWebsite(), database.TriggeredByScheduled)
	require.NoError(t, err)

	hist := store.histories[product.ID]
	require.Len(t, hist, 2)
	assert.True(t, hist[1].StockChanged)
	assert.False(t, hist[1].PriceChanged)

	require.Len(t, queue.entries, 1)
	assert.Equal(t, webhook.EventStockChanged, queue.entries[0].EventType)

	var event webhook.StockChangeEvent
	require.NoError(t, json.Unmarshal(queue.entries[0].Payload, &event))
	assert.Equal(t, database.StockInStock, event.Change.OldValue)
	assert.Equal(t, database.StockOutOfStock, event.Change.NewValue)
}

func TestCrawlFirstHistoryRowHasNoChanges(t *testing.T) {
	store := newFakeStore()
	p := database.Product{
		ID:          uuid.New(),
		OriginalURL: "https://shop.example.com/products/new",
		IsActive:    true,
	}
	store.products = append(store.products, p)

	fetcher := &fakeFetcher{pages: map[string]string{
		p.OriginalURL: pageHTML("49.99", "in stock"),
	}}
	queue := &fakeQueue{}

	pipe := New(store, fetcher, nil, queue)
	_, _, err := pipe.CrawlWebsite(context.Background(), testWebsite(), database.TriggeredByScheduled)
	require.NoError(t, err)

	hist := store.histories[p.ID]
	require.Len(t, hist, 1)
	assert.False(t, hist[0].PriceChanged)
	assert.False(t, hist[0].StockChanged)
	assert.Empty(t, queue.entries)
}

func TestCrawlWebhookDisabledSuppressesEmission(t *testing.T) {
	store := newFakeStore()
	product := seedProduct(store, "https://shop.example.com/products/widget", int64p(10000), database.StockInStock)

	fetcher := &fakeFetcher{pages: map[string]string{
		product.OriginalURL: pageHTML("50.00", "in stock"),
	}}
	queue := &fakeQueue{}

	website := testWebsite()
	website.WebhookEnabled = false

	p := New(store, fetcher, nil, queue)
	_, _, err := p.CrawlWebsite(context.Background(), website, database.TriggeredByScheduled)
	require.NoError(t, err)
	assert.Empty(t, queue.entries)
}

func TestCrawlPartialSuccess(t *testing.T) {
	store := newFakeStore()
	ok := seedProduct(store, "https://shop.example.com/products/ok", int64p(1000), database.StockInStock)
	seedProduct(store, "https://shop.example.com/products/broken", int64p(2000), database.StockInStock)

	fetcher := &fakeFetcher{
		pages: map[string]string{ok.OriginalURL: pageHTML("10.00", "in stock")},
	}
	p := New(store, fetcher, nil, &fakeQueue{})

	crawlLog, paused, err := p.CrawlWebsite(context.Background(), testWebsite(), database.TriggeredByScheduled)
	require.NoError(t, err)
	assert.False(t, paused)
	assert.Equal(t, database.CrawlStatusPartialSuccess, crawlLog.Status)
	assert.Equal(t, 1, crawlLog.ProductsProcessed)
	assert.Equal(t, 1, crawlLog.ErrorsCount)
	require.NotNil(t, crawlLog.ErrorDetails)
	assert.Contains(t, *crawlLog.ErrorDetails, "broken")
}

func TestCrawlEmptyProductSetSucceeds(t *testing.T) {
	store := newFakeStore() // no products seeded
	website := testWebsite()
	p := New(store, &fakeFetcher{}, nil, &fakeQueue{})

	// A website with nothing to crawl stays healthy across repeated runs.
	for i := 0; i < 3; i++ {
		crawlLog, paused, err := p.CrawlWebsite(context.Background(), website, database.TriggeredByScheduled)
		require.NoError(t, err)
		assert.Equal(t, database.CrawlStatusSuccess, crawlLog.Status)
		assert.Equal(t, 0, crawlLog.ProductsProcessed)
		assert.False(t, paused)
	}
	assert.False(t, store.paused)
	assert.Zero(t, store.consecutiveFailures)
	require.Len(t, store.finished, 3)
	assert.Equal(t, database.CrawlStatusSuccess, store.finished[0])
}

func TestCrawlHTTPSRequiredSkipsPlainEndpoint(t *testing.T) {
	store := newFakeStore()
	product := seedProduct(store, "https://shop.example.com/products/widget", int64p(10000), database.StockInStock)

	fetcher := &fakeFetcher{pages: map[string]string{
		product.OriginalURL: pageHTML("50.00", "in stock"),
	}}
	queue := &fakeQueue{}

	website := testWebsite()
	endpoint := "http://client.example.com/hooks"
	website.WebhookEndpointURL = &endpoint

	p := New(store, fetcher, nil, queue)
	p.RequireHTTPS(true)

	crawlLog, _, err := p.CrawlWebsite(context.Background(), website, database.TriggeredByScheduled)
	require.NoError(t, err)
	assert.Equal(t, database.CrawlStatusSuccess, crawlLog.Status)
	assert.Equal(t, 1, crawlLog.ChangesDetected, "change is still persisted")
	assert.Empty(t, queue.entries, "plain-http endpoint must not receive webhooks")
}

func TestCrawlHTTPSRequiredAllowsSecureEndpoint(t *testing.T) {
	store := newFakeStore()
	product := seedProduct(store, "https://shop.example.com/products/widget", int64p(10000), database.StockInStock)

	fetcher := &fakeFetcher{pages: map[string]string{
		product.OriginalURL: pageHTML("50.00", "in stock"),
	}}
	queue := &fakeQueue{}

	p := New(store, fetcher, nil, queue)
	p.RequireHTTPS(true)

	_, _, err := p.CrawlWebsite(context.Background(), testWebsite(), database.TriggeredByScheduled)
	require.NoError(t, err)
	require.Len(t, queue.entries, 1)
}

func TestCrawlAllFailedMarksFailed(t *testing.T) {
	store := newFakeStore()
	seedProduct(store, "https://shop.example.com/products/a", int64p(1000), database.StockInStock)

	fetcher := &fakeFetcher{} // every fetch errors
	p := New(store, fetcher, nil, &fakeQueue{})

	crawlLog, paused, err := p.CrawlWebsite(context.Background(), testWebsite(), database.TriggeredByScheduled)
	require.NoError(t, err)
	assert.False(t, paused)
	assert.Equal(t, database.CrawlStatusFailed, crawlLog.Status)
	require.Len(t, store.finished, 1)
	assert.Equal(t, database.CrawlStatusFailed, store.finished[0])
}

func TestCrawlAutoPauseAfterThreeFailures(t *testing.T) {
	store := newFakeStore()
	seedProduct(store, "https://shop.example.com/products/a", int64p(1000), database.StockInStock)

	fetcher := &fakeFetcher{}
	website := testWebsite()
	p := New(store, fetcher, nil, &fakeQueue{})

	var paused bool
	for i := 0; i < 3; i++ {
		var err error
		_, paused, err = p.CrawlWebsite(context.Background(), website, database.TriggeredByScheduled)
		require.NoError(t, err)
	}
	assert.True(t, paused)
	assert.True(t, store.paused)
	assert.Equal(t, 3, store.consecutiveFailures)
}

func TestCrawlDelistsOnPermanentNotFound(t *testing.T) {
	store := newFakeStore()
	gone := seedProduct(store, "https://shop.example.com/products/gone", int64p(1000), database.StockInStock)

	fetcher := &fakeFetcher{errs: map[string]error{
		gone.OriginalURL: &crawler.CrawlError{Kind: crawler.ErrKindHTTP4xx, URL: gone.OriginalURL, StatusCode: 404},
	}}
	p := New(store, fetcher, nil, &fakeQueue{})

	crawlLog, _, err := p.CrawlWebsite(context.Background(), testWebsite(), database.TriggeredByScheduled)
	require.NoError(t, err)
	assert.Equal(t, database.CrawlStatusFailed, crawlLog.Status)
	require.Len(t, store.delisted, 1)
	assert.Equal(t, gone.ID, store.delisted[0])
}

func TestCrawlHistoryWriteFailureCountsError(t *testing.T) {
	store := newFakeStore()
	product := seedProduct(store, "https://shop.example.com/products/widget", int64p(10000), database.StockInStock)
	store.recordErr = errors.New("tx aborted")

	fetcher := &fakeFetcher{pages: map[string]string{
		product.OriginalURL: pageHTML("50.00", "in stock"),
	}}
	queue := &fakeQueue{}

	p := New(store, fetcher, nil, queue)
	crawlLog, _, err := p.CrawlWebsite(context.Background(), testWebsite(), database.TriggeredByScheduled)
	require.NoError(t, err)
	assert.Equal(t, database.CrawlStatusFailed, crawlLog.Status)
	assert.Empty(t, queue.entries, "a failed history write must not emit a webhook")
}

func TestRunBaseline(t *testing.T) {
	store := newFakeStore()
	fetcher := &fakeFetcher{pages: map[string]string{
		"https://shop.example.com/products/one": pageHTML("10.00", "in stock"),
		"https://shop.example.com/products/two": pageHTML("20.00", "sold out"),
	}}

	website := testWebsite()
	p := New(store, fetcher, nil, nil)

	stats, err := p.RunBaseline(context.Background(), website, []string{
		"https://shop.example.com/products/one",
		"https://shop.example.com/products/two",
		"https://shop.example.com/products/missing",
	})
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Attempted)
	assert.Equal(t, 2, stats.Created)
	assert.Equal(t, 1, stats.Errors)

	assert.True(t, store.activated)
	assert.Equal(t, 2, store.approved)

	require.Len(t, store.created, 2)
	first := store.created[0]
	assert.Equal(t, "Widget", first.ProductName)
	require.NotNil(t, first.CurrentPrice)
	assert.EqualValues(t, 1000, *first.CurrentPrice)
	require.NotNil(t, first.ExtractedProductID)
	assert.Equal(t, "one", *first.ExtractedProductID)

	// Baseline crawl log is attributed to discovery.
	require.NotEmpty(t, store.crawlLogs)
	assert.Equal(t, database.TriggeredByDiscovery, store.crawlLogs[0].TriggeredBy)
}

func TestRunBaselineAllFailedDoesNotActivate(t *testing.T) {
	store := newFakeStore()
	p := New(store, &fakeFetcher{}, nil, nil)

	stats, err := p.RunBaseline(context.Background(), testWebsite(), []string{
		"https://shop.example.com/products/x",
	})
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Created)
	assert.False(t, store.activated)
}
