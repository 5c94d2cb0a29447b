package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/obsrv/monitor-service/internal/database"
)

type mockStore struct {
	websites []database.MonitoredWebsite
	err      error
}

func (m *mockStore) ListActiveWebsites(ctx context.Context) ([]database.MonitoredWebsite, error) {
	return m.websites, m.err
}

type mockRunner struct {
	mu       sync.Mutex
	ran      []uuid.UUID
	inFlight int
	maxSeen  int
	blockFor time.Duration
	pauseSet map[uuid.UUID]bool
	runErr   error
}

func (m *mockRunner) CrawlWebsite(ctx context.Context, website *database.MonitoredWebsite, triggeredBy string) (*database.CrawlExecutionLog, bool, error) {
	m.mu.Lock()
	m.ran = append(m.ran, website.ID)
	m.inFlight++
	if m.inFlight > m.maxSeen {
		m.maxSeen = m.inFlight
	}
	m.mu.Unlock()

	if m.blockFor > 0 {
		time.Sleep(m.blockFor)
	}

	m.mu.Lock()
	m.inFlight--
	m.mu.Unlock()

	if m.runErr != nil {
		return nil, false, m.runErr
	}
	return &database.CrawlExecutionLog{WebsiteID: website.ID, TriggeredBy: triggeredBy}, m.pauseSet[website.ID], nil
}

func activeWebsite(freqMinutes int, lastCrawl *time.Time) database.MonitoredWebsite {
	return database.MonitoredWebsite{
		ID:                    uuid.New(),
		Status:                database.WebsiteStatusActive,
		CrawlFrequencyMinutes: freqMinutes,
		LastSuccessfulCrawlAt: lastCrawl,
	}
}

func TestTickRunsDueWebsites(t *testing.T) {
	old := time.Now().Add(-24 * time.Hour)
	recent := time.Now().Add(-time.Minute)

	neverCrawled := activeWebsite(1440, nil)
	overdue := activeWebsite(1440, &old)
	fresh := activeWebsite(1440, &recent)

	store := &mockStore{websites: []database.MonitoredWebsite{neverCrawled, overdue, fresh}}
	runner := &mockRunner{}

	s := New(store, runner, 5)
	require.NoError(t, s.Tick(context.Background()))

	assert.ElementsMatch(t, []uuid.UUID{neverCrawled.ID, overdue.ID}, runner.ran)
}

func TestTickSkipsPausedWebsites(t *testing.T) {
	paused := activeWebsite(1440, nil)
	paused.Status = database.WebsiteStatusPaused

	store := &mockStore{websites: []database.MonitoredWebsite{paused}}
	runner := &mockRunner{}

	s := New(store, runner, 5)
	require.NoError(t, s.Tick(context.Background()))
	assert.Empty(t, runner.ran, "paused websites must not be scheduled")
}

func TestTickBoundedConcurrency(t *testing.T) {
	var websites []database.MonitoredWebsite
	for i := 0; i < 8; i++ {
		websites = append(websites, activeWebsite(1440, nil))
	}
	store := &mockStore{websites: websites}
	runner := &mockRunner{blockFor: 30 * time.Millisecond}

	s := New(store, runner, 2)
	require.NoError(t, s.Tick(context.Background()))

	assert.Len(t, runner.ran, 8)
	assert.LessOrEqual(t, runner.maxSeen, 2, "fanout must not exceed MAX_CONCURRENT_CRAWLS")
}

func TestTickJobErrorDoesNotAbortOthers(t *testing.T) {
	a := activeWebsite(1440, nil)
	b := activeWebsite(1440, nil)
	store := &mockStore{websites: []database.MonitoredWebsite{a, b}}
	runner := &mockRunner{runErr: errors.New("boom")}

	s := New(store, runner, 5)
	require.NoError(t, s.Tick(context.Background()))
	assert.Len(t, runner.ran, 2)
}

func TestTickStoreError(t *testing.T) {
	store := &mockStore{err: errors.New("db down")}
	s := New(store, &mockRunner{}, 5)
	assert.Error(t, s.Tick(context.Background()))
}

func TestTriggerWebsiteManual(t *testing.T) {
	runner := &mockRunner{}
	s := New(&mockStore{}, runner, 5)

	w := activeWebsite(1440, nil)
	s.TriggerWebsite(context.Background(), &w)
	require.Len(t, runner.ran, 1)
	assert.Equal(t, w.ID, runner.ran[0])
}

func TestIsDueBoundary(t *testing.T) {
	s := New(&mockStore{}, &mockRunner{}, 5)
	now := time.Now().UTC()

	exactly := now.Add(-360 * time.Minute)
	justUnder := now.Add(-359 * time.Minute)

	w := activeWebsite(360, &exactly)
	assert.True(t, s.isDue(&w, now))

	w = activeWebsite(360, &justUnder)
	assert.False(t, s.isDue(&w, now))
}

func TestJobTimeoutHalfInterval(t *testing.T) {
	s := New(&mockStore{}, &mockRunner{}, 5)

	w := activeWebsite(1440, nil)
	assert.Equal(t, 12*time.Hour, s.jobTimeout(&w))

	w = activeWebsite(1, nil)
	assert.Equal(t, time.Minute, s.jobTimeout(&w), "timeout floor applies to tiny intervals")
}
