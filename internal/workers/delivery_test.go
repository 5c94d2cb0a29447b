package workers

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/obsrv/monitor-service/internal/database"
	"github.com/obsrv/monitor-service/internal/webhook"
)

// fakeWorkerQueue hands out one batch of tasks, then nothing.
type fakeWorkerQueue struct {
	mu       sync.Mutex
	batch    []database.WebhookDeliveryLog
	claimed  bool
	outcomes []uuid.UUID
}

func (q *fakeWorkerQueue) ClaimPending(ctx context.Context, limit int) ([]database.WebhookDeliveryLog, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.claimed {
		return nil, nil
	}
	q.claimed = true
	return q.batch, nil
}

func (q *fakeWorkerQueue) RecordOutcome(ctx context.Context, id uuid.UUID, outcome *database.WebhookDeliveryLog) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.outcomes = append(q.outcomes, id)
	return nil
}

// blockingDeliverer parks the first delivery until released.
type blockingDeliverer struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
	count   atomic.Int32
}

func (d *blockingDeliverer) Deliver(ctx context.Context, req webhook.Request) *database.WebhookDeliveryLog {
	d.count.Add(1)
	d.once.Do(func() { close(d.started) })
	<-d.release
	now := time.Now().UTC()
	return &database.WebhookDeliveryLog{Status: database.DeliveryStatusSuccess, DeliveryTimestamp: &now}
}

func testTasks(n int) []database.WebhookDeliveryLog {
	tasks := make([]database.WebhookDeliveryLog, n)
	for i := range tasks {
		tasks[i] = database.WebhookDeliveryLog{
			ID:               uuid.New(),
			ProductHistoryID: uuid.New(),
			WebsiteID:        uuid.New(),
			TargetURL:        "https://hooks.example.com/obsrv",
			EventType:        "product.price_changed",
			Payload:          []byte(`{}`),
			SecretSnapshot:   "whsec_test",
			AttemptNumber:    1,
		}
	}
	return tasks
}

func TestStopWaitsForInFlightDeliveryAndSkipsRest(t *testing.T) {
	queue := &fakeWorkerQueue{batch: testTasks(3)}
	deliverer := &blockingDeliverer{
		started: make(chan struct{}),
		release: make(chan struct{}),
	}

	w := New(queue, deliverer, Config{
		WorkerID:   "test",
		NumWorkers: 1,
		PollDelay:  5 * time.Millisecond,
	})
	w.Start(context.Background())

	select {
	case <-deliverer.started:
	case <-time.After(2 * time.Second):
		t.Fatal("first delivery never started")
	}

	stopDone := make(chan struct{})
	go func() {
		w.Stop()
		close(stopDone)
	}()

	// Stop must block while a delivery is in flight.
	select {
	case <-stopDone:
		t.Fatal("Stop returned before the in-flight delivery finished")
	case <-time.After(50 * time.Millisecond):
	}

	close(deliverer.release)

	select {
	case <-stopDone:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after the delivery finished")
	}

	// The in-flight task completed and was recorded; the rest of the claimed
	// batch was abandoned for the orphan sweeper.
	assert.EqualValues(t, 1, deliverer.count.Load())
	queue.mu.Lock()
	defer queue.mu.Unlock()
	require.Len(t, queue.outcomes, 1)
	assert.Equal(t, queue.batch[0].ID, queue.outcomes[0])
}

func TestWorkerDrainsBatchWhenNotStopped(t *testing.T) {
	queue := &fakeWorkerQueue{batch: testTasks(2)}
	deliverer := &blockingDeliverer{
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	close(deliverer.release) // deliveries complete immediately

	w := New(queue, deliverer, Config{
		WorkerID:   "test",
		NumWorkers: 1,
		PollDelay:  5 * time.Millisecond,
	})
	w.Start(context.Background())

	require.Eventually(t, func() bool {
		queue.mu.Lock()
		defer queue.mu.Unlock()
		return len(queue.outcomes) == 2
	}, 2*time.Second, 10*time.Millisecond)

	w.Stop()
	assert.EqualValues(t, 2, deliverer.count.Load())
}
