// Package jobs runs the low-frequency maintenance work: keeping history
// partitions ahead of the clock, purging history past each website's
// retention window and clearing rotated-out webhook secrets whose grace
// period ended.
package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/obsrv/monitor-service/config"
)

// MaintenanceStore is the subset of the store maintenance needs.
type MaintenanceStore interface {
	EnsureHistoryPartitions(ctx context.Context) error
	PurgeExpiredHistory(ctx context.Context, defaultDays, maxDays int) (int64, error)
	ClearExpiredPreviousSecrets(ctx context.Context) (int64, error)
}

// Maintenance runs the daily cleanup pass.
type Maintenance struct {
	store     MaintenanceStore
	logger    *zerolog.Logger
	retention config.RetentionConfig
	interval  time.Duration
	stopChan  chan struct{}
}

// NewMaintenance creates the maintenance job runner.
func NewMaintenance(store MaintenanceStore, logger *zerolog.Logger, retention config.RetentionConfig, interval time.Duration) *Maintenance {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &Maintenance{
		store:     store,
		logger:    logger,
		retention: retention,
		interval:  interval,
		stopChan:  make(chan struct{}),
	}
}

// Start loops until the context is cancelled or Stop is called.
func (m *Maintenance) Start(ctx context.Context) {
	m.logger.Info().Dur("interval", m.interval).Msg("Starting maintenance job")

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopChan:
			return
		case <-ticker.C:
			if err := m.Run(ctx); err != nil {
				m.logger.Error().Err(err).Msg("Maintenance pass failed")
			}
		}
	}
}

// Stop signals the loop to exit.
func (m *Maintenance) Stop() {
	close(m.stopChan)
}

// Run executes one maintenance pass.
func (m *Maintenance) Run(ctx context.Context) error {
	if err := m.store.EnsureHistoryPartitions(ctx); err != nil {
		return err
	}

	purged, err := m.store.PurgeExpiredHistory(ctx, m.retention.DefaultDays, m.retention.MaxDays)
	if err != nil {
		return err
	}
	if purged > 0 {
		m.logger.Info().Int64("purged", purged).Msg("Purged expired history rows")
	}

	cleared, err := m.store.ClearExpiredPreviousSecrets(ctx)
	if err != nil {
		return err
	}
	if cleared > 0 {
		m.logger.Info().Int64("cleared", cleared).Msg("Cleared expired previous webhook secrets")
	}

	return nil
}
