// Package scheduler drives the periodic crawl fanout: each tick it loads the
// active websites, decides which are due and runs their crawl jobs with
// bounded concurrency.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/obsrv/monitor-service/internal/database"
)

// DefaultTickInterval is how often the scheduler checks for due websites.
const DefaultTickInterval = time.Minute

// Store lists the websites eligible for scheduling.
type Store interface {
	ListActiveWebsites(ctx context.Context) ([]database.MonitoredWebsite, error)
}

// CrawlRunner executes one website's crawl job.
type CrawlRunner interface {
	CrawlWebsite(ctx context.Context, website *database.MonitoredWebsite, triggeredBy string) (*database.CrawlExecutionLog, bool, error)
}

// Scheduler fans out due website crawls. A single instance is assumed per
// deployment; per-domain fairness lives in the fetcher, not here.
type Scheduler struct {
	store         Store
	runner        CrawlRunner
	maxConcurrent int
	tickInterval  time.Duration
	now           func() time.Time
	stopChan      chan struct{}
	wg            sync.WaitGroup
}

// New creates a Scheduler with the given fanout width.
func New(store Store, runner CrawlRunner, maxConcurrent int) *Scheduler {
	if maxConcurrent <= 0 {
		maxConcurrent = 5
	}
	return &Scheduler{
		store:         store,
		runner:        runner,
		maxConcurrent: maxConcurrent,
		tickInterval:  DefaultTickInterval,
		now:           time.Now,
		stopChan:      make(chan struct{}),
	}
}

// Start runs the tick loop until the context is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	log.Info().
		Dur("tick_interval", s.tickInterval).
		Int("max_concurrent", s.maxConcurrent).
		Msg("Starting crawl scheduler")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.tickInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				log.Info().Msg("Crawl scheduler stopping (context cancelled)")
				return
			case <-s.stopChan:
				log.Info().Msg("Crawl scheduler stopping (stop signal)")
				return
			case <-ticker.C:
				if err := s.Tick(ctx); err != nil {
					log.Error().Err(err).Msg("Scheduler tick failed")
				}
			}
		}
	}()
}

// Stop signals the loop to exit and waits for in-flight jobs.
func (s *Scheduler) Stop() {
	close(s.stopChan)
	s.wg.Wait()
}

// Tick runs one scheduling pass: every due active website gets an
// independent crawl job. Job failures never abort the tick.
func (s *Scheduler) Tick(ctx context.Context) error {
	websites, err := s.store.ListActiveWebsites(ctx)
	if err != nil {
		return err
	}

	now := s.now().UTC()
	due := make([]database.MonitoredWebsite, 0, len(websites))
	for _, w := range websites {
		if s.isDue(&w, now) {
			due = append(due, w)
		}
	}
	if len(due) == 0 {
		return nil
	}

	log.Info().
		Int("due_count", len(due)).
		Int("active_count", len(websites)).
		Msg("Scheduler tick dispatching crawls")

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.maxConcurrent)
	for i := range due {
		website := due[i]
		g.Go(func() error {
			s.runWebsite(gctx, &website, database.TriggeredByScheduled)
			return nil
		})
	}
	return g.Wait()
}

// TriggerWebsite runs one website's crawl immediately, outside the tick
// cadence (manual trigger).
func (s *Scheduler) TriggerWebsite(ctx context.Context, website *database.MonitoredWebsite) {
	s.runWebsite(ctx, website, database.TriggeredByManual)
}

func (s *Scheduler) runWebsite(ctx context.Context, website *database.MonitoredWebsite, triggeredBy string) {
	jobCtx, cancel := context.WithTimeout(ctx, s.jobTimeout(website))
	defer cancel()

	_, paused, err := s.runner.CrawlWebsite(jobCtx, website, triggeredBy)
	if err != nil {
		log.Error().Err(err).
			Str("website_id", website.ID.String()).
			Msg("Website crawl job failed")
		return
	}
	if paused {
		log.Warn().
			Str("website_id", website.ID.String()).
			Msg("Website paused by scheduler after repeated failures")
	}
}

// isDue reports whether a website's crawl interval has elapsed since its
// last successful crawl. Never-crawled websites are always due.
func (s *Scheduler) isDue(w *database.MonitoredWebsite, now time.Time) bool {
	if w.Status != database.WebsiteStatusActive {
		return false
	}
	if w.LastSuccessfulCrawlAt == nil {
		return true
	}
	interval := time.Duration(w.CrawlFrequencyMinutes) * time.Minute
	return now.Sub(*w.LastSuccessfulCrawlAt) >= interval
}

// jobTimeout caps a website job at half its crawl interval, with a floor so
// tiny intervals still get a workable window.
func (s *Scheduler) jobTimeout(w *database.MonitoredWebsite) time.Duration {
	timeout := time.Duration(w.CrawlFrequencyMinutes) * time.Minute / 2
	if timeout < time.Minute {
		timeout = time.Minute
	}
	return timeout
}
