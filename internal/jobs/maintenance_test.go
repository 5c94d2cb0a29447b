package jobs

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/obsrv/monitor-service/config"
)

type fakeMaintenanceStore struct {
	partitionCalls int
	partitionErr   error

	purgeDefault int
	purgeMax     int
	purged       int64

	cleared int64
}

func (s *fakeMaintenanceStore) EnsureHistoryPartitions(ctx context.Context) error {
	s.partitionCalls++
	return s.partitionErr
}

func (s *fakeMaintenanceStore) PurgeExpiredHistory(ctx context.Context, defaultDays, maxDays int) (int64, error) {
	s.purgeDefault = defaultDays
	s.purgeMax = maxDays
	return s.purged, nil
}

func (s *fakeMaintenanceStore) ClearExpiredPreviousSecrets(ctx context.Context) (int64, error) {
	return s.cleared, nil
}

func TestMaintenanceRunCreatesPartitionsAndPassesRetention(t *testing.T) {
	store := &fakeMaintenanceStore{purged: 5, cleared: 1}
	logger := zerolog.Nop()
	m := NewMaintenance(store, &logger, config.RetentionConfig{DefaultDays: 60, MaxDays: 180}, 0)

	require.NoError(t, m.Run(context.Background()))
	assert.Equal(t, 1, store.partitionCalls)
	assert.Equal(t, 60, store.purgeDefault)
	assert.Equal(t, 180, store.purgeMax)
}

func TestMaintenanceRunStopsOnPartitionError(t *testing.T) {
	store := &fakeMaintenanceStore{partitionErr: errors.New("permission denied")}
	logger := zerolog.Nop()
	m := NewMaintenance(store, &logger, config.RetentionConfig{}, 0)

	err := m.Run(context.Background())
	require.Error(t, err)
	assert.Zero(t, store.purgeDefault, "purge must not run after a partition failure")
}
