// Package metrics exposes Prometheus instrumentation for crawling and
// webhook delivery.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// crawlsTotal counts completed website crawls by terminal status.
	crawlsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "monitor_crawls_total",
		Help: "Total number of website crawls by terminal status",
	}, []string{"status"})

	// productsProcessed counts product pages crawled successfully.
	productsProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "monitor_products_processed_total",
		Help: "Total number of product pages processed successfully",
	})

	// crawlErrors counts per-product crawl failures.
	crawlErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "monitor_crawl_errors_total",
		Help: "Total number of per-product crawl errors",
	})

	// changesDetected counts detected changes by kind.
	changesDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "monitor_changes_detected_total",
		Help: "Total number of detected changes by kind",
	}, []string{"kind"}) // kind: price, stock

	// fetchDuration tracks product page fetch latency.
	fetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "monitor_fetch_duration_seconds",
		Help:    "Time taken to fetch a product page including retries",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	})

	// crawlDuration tracks whole-website crawl latency.
	crawlDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "monitor_crawl_duration_seconds",
		Help:    "Time taken to crawl all products of a website",
		Buckets: []float64{1, 5, 15, 60, 300, 900, 3600},
	})

	// webhookDeliveries counts delivery attempts by outcome status.
	webhookDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "monitor_webhook_deliveries_total",
		Help: "Total number of webhook delivery attempts by outcome",
	}, []string{"status"}) // status: success, retrying, exhausted

	// webhookQueueDepth tracks pending deliveries waiting for a worker.
	webhookQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "monitor_webhook_queue_depth",
		Help: "Number of pending webhook deliveries waiting for a worker",
	})

	// websitesPaused counts automatic pauses after repeated failures.
	websitesPaused = promauto.NewCounter(prometheus.CounterOpts{
		Name: "monitor_websites_paused_total",
		Help: "Total number of websites auto-paused after consecutive failures",
	})
)

// RecordCrawl records one finished website crawl.
func RecordCrawl(status string, processed, errors int, elapsed time.Duration) {
	crawlsTotal.WithLabelValues(status).Inc()
	productsProcessed.Add(float64(processed))
	crawlErrors.Add(float64(errors))
	crawlDuration.Observe(elapsed.Seconds())
}

// RecordChange records a detected price or stock change.
func RecordChange(kind string) {
	changesDetected.WithLabelValues(kind).Inc()
}

// RecordFetch records one product page fetch.
func RecordFetch(elapsed time.Duration) {
	fetchDuration.Observe(elapsed.Seconds())
}

// RecordWebhookDelivery records the outcome of one delivery attempt.
func RecordWebhookDelivery(status string) {
	webhookDeliveries.WithLabelValues(status).Inc()
}

// SetWebhookQueueDepth updates the pending-delivery gauge.
func SetWebhookQueueDepth(n int64) {
	webhookQueueDepth.Set(float64(n))
}

// RecordWebsitePaused records an automatic pause.
func RecordWebsitePaused() {
	websitesPaused.Inc()
}
