// Package sweepers contains the periodic maintenance loops: promoting due
// webhook retries and recovering deliveries orphaned by dead workers.
package sweepers

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/obsrv/monitor-service/internal/metrics"
	"github.com/obsrv/monitor-service/internal/taskqueue"
)

// Deliveries claimed this long ago without an outcome are considered
// orphaned and released back to the queue.
const orphanStaleAfter = 5 * time.Minute

// DeliverySweeper periodically promotes due retries into fresh pending
// attempts and recovers orphaned claims.
type DeliverySweeper struct {
	queue    *taskqueue.DeliveryQueue
	logger   *zerolog.Logger
	interval time.Duration
	stopChan chan struct{}
}

// NewDeliverySweeper creates a sweeper over the delivery queue.
func NewDeliverySweeper(queue *taskqueue.DeliveryQueue, logger *zerolog.Logger, interval time.Duration) *DeliverySweeper {
	return &DeliverySweeper{
		queue:    queue,
		logger:   logger,
		interval: interval,
		stopChan: make(chan struct{}),
	}
}

// Start begins the periodic sweep.
func (s *DeliverySweeper) Start(ctx context.Context) {
	s.logger.Info().
		Dur("interval", s.interval).
		Msg("Starting delivery sweeper")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("Delivery sweeper stopping (context cancelled)")
			return
		case <-s.stopChan:
			s.logger.Info().Msg("Delivery sweeper stopping (stop signal)")
			return
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				s.logger.Error().Err(err).Msg("Delivery sweep failed")
			}
		}
	}
}

// Stop signals the sweeper to stop.
func (s *DeliverySweeper) Stop() {
	close(s.stopChan)
}

// Sweep runs one promotion plus orphan recovery pass.
func (s *DeliverySweeper) Sweep(ctx context.Context) error {
	promoted, err := s.queue.PromoteDueRetries(ctx)
	if err != nil {
		return err
	}
	if promoted > 0 {
		s.logger.Info().Int("promoted", promoted).Msg("Promoted due webhook retries")
	}

	recovered, err := s.queue.RecoverOrphans(ctx, orphanStaleAfter)
	if err != nil {
		return err
	}
	if recovered > 0 {
		s.logger.Info().Int64("recovered", recovered).Msg("Recovered orphaned deliveries")
	}

	pending, err := s.queue.PendingCount(ctx)
	if err != nil {
		return err
	}
	metrics.SetWebhookQueueDepth(int64(pending))

	return nil
}
