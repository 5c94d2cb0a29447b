// Package taskqueue is the durable webhook delivery queue. Delivery log rows
// in status 'pending' with no delivery_timestamp are the queue; claiming a
// row stamps delivery_timestamp so concurrent workers never double-send.
package taskqueue

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/obsrv/monitor-service/internal/database"
)

type DeliveryQueue struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *DeliveryQueue {
	return &DeliveryQueue{pool: pool}
}

// EnqueueInput carries everything a later delivery attempt needs. Secret is
// snapshotted here so rotations after enqueue don't change what the
// delivery signs with.
type EnqueueInput struct {
	ProductHistoryID uuid.UUID
	WebsiteID        uuid.UUID
	TargetURL        string
	EventType        string
	Payload          []byte
	Secret           string
}

// Enqueue inserts the first pending attempt for a history event.
func (q *DeliveryQueue) Enqueue(ctx context.Context, input EnqueueInput) (uuid.UUID, error) {
	id := uuid.New()
	_, err := q.pool.Exec(ctx, `
		INSERT INTO webhook_delivery_logs (
			id, product_history_id, website_id, target_url, event_type,
			payload, secret_snapshot, attempt_number, status, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, 1, 'pending', NOW())
	`, id, input.ProductHistoryID, input.WebsiteID, input.TargetURL,
		input.EventType, input.Payload, input.Secret)
	if err != nil {
		return uuid.Nil, fmt.Errorf("enqueue webhook delivery: %w", err)
	}
	return id, nil
}

// ClaimPending claims up to maxTasks unclaimed pending rows. The claim
// marker is delivery_timestamp; SKIP LOCKED keeps concurrent workers from
// blocking on each other.
func (q *DeliveryQueue) ClaimPending(ctx context.Context, maxTasks int) ([]database.WebhookDeliveryLog, error) {
	rows, err := q.pool.Query(ctx, `
		UPDATE webhook_delivery_logs
		SET delivery_timestamp = NOW()
		WHERE id IN (
			SELECT id FROM webhook_delivery_logs
			WHERE status = 'pending' AND delivery_timestamp IS NULL
			ORDER BY created_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, product_history_id, website_id, target_url, event_type,
		          payload, secret_snapshot, attempt_number, created_at
	`, maxTasks)
	if err != nil {
		return nil, fmt.Errorf("claim pending deliveries: %w", err)
	}
	defer rows.Close()

	tasks := make([]database.WebhookDeliveryLog, 0)
	for rows.Next() {
		var t database.WebhookDeliveryLog
		if err := rows.Scan(
			&t.ID, &t.ProductHistoryID, &t.WebsiteID, &t.TargetURL, &t.EventType,
			&t.Payload, &t.SecretSnapshot, &t.AttemptNumber, &t.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan claimed delivery: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// RecordOutcome writes the attempt result onto the claimed row. Terminal
// rows (success, exhausted) keep next_retry_at NULL.
func (q *DeliveryQueue) RecordOutcome(ctx context.Context, id uuid.UUID, outcome *database.WebhookDeliveryLog) error {
	_, err := q.pool.Exec(ctx, `
		UPDATE webhook_delivery_logs
		SET status = $1, signature = $2, timestamp_header = $3,
		    delivery_timestamp = $4, http_status_code = $5,
		    response_body = $6, error_message = $7, next_retry_at = $8
		WHERE id = $9
	`, outcome.Status, outcome.Signature, outcome.TimestampHeader,
		outcome.DeliveryTimestamp, outcome.HTTPStatusCode,
		outcome.ResponseBody, outcome.ErrorMessage, outcome.NextRetryAt, id)
	if err != nil {
		return fmt.Errorf("record delivery outcome: %w", err)
	}
	return nil
}

// PromoteDueRetries inserts a fresh pending attempt for each retrying row
// whose next_retry_at has passed, then clears the old row's next_retry_at so
// it is promoted exactly once. Returns the number of promoted rows.
func (q *DeliveryQueue) PromoteDueRetries(ctx context.Context) (int, error) {
	tx, err := q.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin retry promotion: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT id, product_history_id, website_id, target_url, event_type,
		       payload, secret_snapshot, attempt_number
		FROM webhook_delivery_logs
		WHERE status = 'retrying' AND next_retry_at IS NOT NULL AND next_retry_at <= NOW()
		FOR UPDATE SKIP LOCKED
	`)
	if err != nil {
		return 0, fmt.Errorf("select due retries: %w", err)
	}

	var due []database.WebhookDeliveryLog
	for rows.Next() {
		var t database.WebhookDeliveryLog
		if err := rows.Scan(
			&t.ID, &t.ProductHistoryID, &t.WebsiteID, &t.TargetURL, &t.EventType,
			&t.Payload, &t.SecretSnapshot, &t.AttemptNumber,
		); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan due retry: %w", err)
		}
		due = append(due, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, t := range due {
		_, err := tx.Exec(ctx, `
			INSERT INTO webhook_delivery_logs (
				id, product_history_id, website_id, target_url, event_type,
				payload, secret_snapshot, attempt_number, status, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'pending', NOW())
		`, uuid.New(), t.ProductHistoryID, t.WebsiteID, t.TargetURL, t.EventType,
			t.Payload, t.SecretSnapshot, t.AttemptNumber+1)
		if err != nil {
			return 0, fmt.Errorf("insert retry attempt: %w", err)
		}

		_, err = tx.Exec(ctx, `
			UPDATE webhook_delivery_logs SET next_retry_at = NULL WHERE id = $1
		`, t.ID)
		if err != nil {
			return 0, fmt.Errorf("clear promoted retry: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return len(due), nil
}

// RecoverOrphans releases pending rows claimed longer than staleAfter ago
// without an outcome, typically after a worker died mid-delivery. The next
// claim retries them.
func (q *DeliveryQueue) RecoverOrphans(ctx context.Context, staleAfter time.Duration) (int64, error) {
	tag, err := q.pool.Exec(ctx, `
		UPDATE webhook_delivery_logs
		SET delivery_timestamp = NULL
		WHERE status = 'pending'
		  AND delivery_timestamp IS NOT NULL
		  AND delivery_timestamp < NOW() - $1::interval
	`, fmt.Sprintf("%d seconds", int(staleAfter.Seconds())))
	if err != nil {
		return 0, fmt.Errorf("recover orphaned deliveries: %w", err)
	}
	return tag.RowsAffected(), nil
}

// PendingCount reports queue depth for health and metrics.
func (q *DeliveryQueue) PendingCount(ctx context.Context) (int, error) {
	var n int
	err := q.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM webhook_delivery_logs
		WHERE status = 'pending' AND delivery_timestamp IS NULL
	`).Scan(&n)
	return n, err
}
