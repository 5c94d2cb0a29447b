package webhook

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/obsrv/monitor-service/config"
	"github.com/obsrv/monitor-service/internal/database"
)

// Wire headers.
const (
	HeaderSignature  = "X-Obsrv-Signature"
	HeaderEvent      = "X-Obsrv-Event"
	HeaderDeliveryID = "X-Obsrv-Delivery-ID"

	deliveryUserAgent = "Obsrv-Webhook/1.0"
	maxResponseBytes  = 1024
)

// RetrySchedule maps a failed attempt number to the delay before the next
// attempt: attempt 1 retries after 5 minutes, attempt 2 after 30.
var RetrySchedule = []time.Duration{0, 5 * time.Minute, 30 * time.Minute}

// Request is one delivery attempt's input. Secret is the snapshot taken at
// enqueue time, not the client's live secret.
type Request struct {
	TargetURL        string
	Payload          []byte
	Secret           string
	EventType        string
	WebsiteID        uuid.UUID
	ProductHistoryID uuid.UUID
	AttemptNumber    int
}

// Deliverer posts signed webhook payloads and classifies the outcome.
type Deliverer struct {
	client      *http.Client
	signer      *Signer
	maxAttempts int
	now         func() time.Time
}

// NewDeliverer creates a Deliverer from webhook configuration.
func NewDeliverer(cfg config.WebhookConfig) *Deliverer {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	maxAttempts := cfg.MaxRetries
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Deliverer{
		client:      &http.Client{Timeout: timeout},
		signer:      NewSigner(cfg.SignatureToleranceSeconds),
		maxAttempts: maxAttempts,
		now:         time.Now,
	}
}

// Deliver signs and posts one attempt and returns the attempt's delivery log
// row, ready to persist. The returned log is always non-nil: HTTP 2xx maps
// to success, anything else to retrying (with next_retry_at per the
// schedule) or exhausted on the final attempt.
func (d *Deliverer) Deliver(ctx context.Context, req Request) *database.WebhookDeliveryLog {
	deliveryID := uuid.New()
	header, ts := d.signer.Sign(req.Payload, req.Secret)
	signedAt := time.Unix(ts, 0).UTC()
	now := d.now().UTC()

	entry := &database.WebhookDeliveryLog{
		ID:                deliveryID,
		ProductHistoryID:  req.ProductHistoryID,
		WebsiteID:         req.WebsiteID,
		TargetURL:         req.TargetURL,
		EventType:         req.EventType,
		Payload:           req.Payload,
		SecretSnapshot:    req.Secret,
		Signature:         &header,
		TimestampHeader:   &signedAt,
		AttemptNumber:     req.AttemptNumber,
		DeliveryTimestamp: &now,
		Status:            database.DeliveryStatusPending,
	}

	log.Info().
		Str("delivery_id", deliveryID.String()).
		Str("target_url", req.TargetURL).
		Str("event_type", req.EventType).
		Int("attempt_number", req.AttemptNumber).
		Msg("delivering webhook")

	statusCode, responseBody, err := d.post(ctx, req, header, deliveryID)
	if statusCode != 0 {
		entry.HTTPStatusCode = &statusCode
	}
	if responseBody != "" {
		entry.ResponseBody = &responseBody
	}

	switch {
	case err != nil:
		msg := err.Error()
		entry.ErrorMessage = &msg
		d.scheduleRetry(entry)
	case statusCode >= 200 && statusCode < 300:
		entry.Status = database.DeliveryStatusSuccess
		log.Info().
			Str("delivery_id", deliveryID.String()).
			Int("http_status", statusCode).
			Int("attempt_number", req.AttemptNumber).
			Msg("webhook delivered")
	default:
		msg := "HTTP " + http.StatusText(statusCode)
		entry.ErrorMessage = &msg
		d.scheduleRetry(entry)
	}

	return entry
}

func (d *Deliverer) post(ctx context.Context, req Request, signatureHeader string, deliveryID uuid.UUID) (int, string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.TargetURL, bytes.NewReader(req.Payload))
	if err != nil {
		return 0, "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", deliveryUserAgent)
	httpReq.Header.Set(HeaderSignature, signatureHeader)
	httpReq.Header.Set(HeaderEvent, req.EventType)
	httpReq.Header.Set(HeaderDeliveryID, deliveryID.String())

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	return resp.StatusCode, string(body), nil
}

// scheduleRetry transitions a failed attempt to retrying or exhausted.
func (d *Deliverer) scheduleRetry(entry *database.WebhookDeliveryLog) {
	if entry.AttemptNumber >= d.maxAttempts {
		entry.Status = database.DeliveryStatusExhausted
		log.Warn().
			Str("delivery_id", entry.ID.String()).
			Int("attempt_number", entry.AttemptNumber).
			Msg("webhook delivery exhausted")
		return
	}

	delay := RetrySchedule[len(RetrySchedule)-1]
	if entry.AttemptNumber < len(RetrySchedule) {
		delay = RetrySchedule[entry.AttemptNumber]
	}
	next := d.now().UTC().Add(delay)
	entry.Status = database.DeliveryStatusRetrying
	entry.NextRetryAt = &next

	log.Info().
		Str("delivery_id", entry.ID.String()).
		Int("attempt_number", entry.AttemptNumber).
		Time("next_retry_at", next).
		Msg("webhook delivery will be retried")
}
