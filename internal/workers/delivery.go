// Package workers runs the webhook delivery workers: polling goroutines that
// claim pending delivery rows and execute them.
package workers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/obsrv/monitor-service/internal/database"
	"github.com/obsrv/monitor-service/internal/metrics"
	"github.com/obsrv/monitor-service/internal/webhook"
)

// Deliverer executes one webhook delivery attempt.
type Deliverer interface {
	Deliver(ctx context.Context, req webhook.Request) *database.WebhookDeliveryLog
}

// Queue is the claim-and-record surface of the delivery queue.
// *taskqueue.DeliveryQueue satisfies it; tests substitute a fake.
type Queue interface {
	ClaimPending(ctx context.Context, limit int) ([]database.WebhookDeliveryLog, error)
	RecordOutcome(ctx context.Context, id uuid.UUID, outcome *database.WebhookDeliveryLog) error
}

type Config struct {
	WorkerID   string
	MaxTasks   int
	NumWorkers int
	PollDelay  time.Duration
}

// DeliveryWorker polls the delivery queue and posts claimed webhooks.
type DeliveryWorker struct {
	queue     Queue
	deliverer Deliverer
	config    Config
	stopChan  chan struct{}
	wg        sync.WaitGroup
}

func New(queue Queue, deliverer Deliverer, config Config) *DeliveryWorker {
	if config.MaxTasks <= 0 {
		config.MaxTasks = 10
	}
	if config.NumWorkers <= 0 {
		config.NumWorkers = 2
	}
	if config.PollDelay <= 0 {
		config.PollDelay = 5 * time.Second
	}
	return &DeliveryWorker{
		queue:     queue,
		deliverer: deliverer,
		config:    config,
		stopChan:  make(chan struct{}),
	}
}

func (w *DeliveryWorker) Start(ctx context.Context) {
	log.Info().
		Str("component", "delivery_worker").
		Str("worker_id", w.config.WorkerID).
		Int("num_workers", w.config.NumWorkers).
		Msg("Starting delivery workers")

	for i := 0; i < w.config.NumWorkers; i++ {
		w.wg.Add(1)
		go func(workerNum int) {
			defer w.wg.Done()
			w.workerLoop(ctx, workerNum)
		}(i)
	}
}

// Stop blocks until in-flight deliveries finish.
func (w *DeliveryWorker) Stop() {
	close(w.stopChan)
	log.Info().
		Str("component", "delivery_worker").
		Str("worker_id", w.config.WorkerID).
		Msg("Delivery worker stopping, waiting for in-flight deliveries")
	w.wg.Wait()
	log.Info().
		Str("component", "delivery_worker").
		Str("worker_id", w.config.WorkerID).
		Msg("Delivery worker stopped")
}

func (w *DeliveryWorker) workerLoop(ctx context.Context, workerNum int) {
	workerID := fmt.Sprintf("%s-%d", w.config.WorkerID, workerNum)

	ticker := time.NewTicker(w.config.PollDelay)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case <-ticker.C:
			w.processBatch(ctx, workerID)
		}
	}
}

func (w *DeliveryWorker) processBatch(ctx context.Context, workerID string) {
	tasks, err := w.queue.ClaimPending(ctx, w.config.MaxTasks)
	if err != nil {
		log.Error().Err(err).Str("worker_id", workerID).Msg("Failed to claim deliveries")
		return
	}
	if len(tasks) == 0 {
		return
	}

	log.Info().
		Str("component", "delivery_worker").
		Str("worker_id", workerID).
		Int("task_count", len(tasks)).
		Msg("Worker claimed deliveries")

	for _, task := range tasks {
		select {
		case <-w.stopChan:
			// Abandoned claims are released by the orphan sweeper.
			return
		default:
		}
		w.processTask(ctx, task)
	}
}

func (w *DeliveryWorker) processTask(ctx context.Context, task database.WebhookDeliveryLog) {
	outcome := w.deliverer.Deliver(ctx, webhook.Request{
		TargetURL:        task.TargetURL,
		Payload:          task.Payload,
		Secret:           task.SecretSnapshot,
		EventType:        task.EventType,
		WebsiteID:        task.WebsiteID,
		ProductHistoryID: task.ProductHistoryID,
		AttemptNumber:    task.AttemptNumber,
	})

	metrics.RecordWebhookDelivery(outcome.Status)

	if err := w.queue.RecordOutcome(ctx, task.ID, outcome); err != nil {
		// The row stays claimed; the orphan sweeper will release it.
		log.Error().Err(err).
			Str("delivery_id", task.ID.String()).
			Msg("Failed to record delivery outcome")
	}
}
