package processor

import (
	"context"
	"encoding/json"
	"errors"

	gateway "github.com/roomly/payme-gateway/internal/gateways"
	"github.com/roomly/payme-gateway/internal/model"
	"github.com/roomly/payme-gateway/internal/queue"
	"github.com/roomly/payme-gateway/pkg/logger"
)

// PaidEventProcessor delivers guest notifications for paid bookings.
// Events are deduplicated on the provider transaction id: a webhook
// retry that re-publishes the same payment must not notify twice.
type PaidEventProcessor struct {
	client      *gateway.Client
	idempotency *IdempotencyService
}

func NewPaidEventProcessor(client *gateway.Client, idempotency *IdempotencyService) *PaidEventProcessor {
	return &PaidEventProcessor{
		client:      client,
		idempotency: idempotency,
	}
}

func (p *PaidEventProcessor) GetType() string {
	return "booking_paid"
}

func (p *PaidEventProcessor) Process(ctx context.Context, queueMessage *queue.Message) error {
	var event model.BookingPaidEvent
	if err := json.Unmarshal(queueMessage.Data, &event); err != nil {
		logger.Error("failed to unmarshal paid event", "error", err)
		return err // malformed payload goes to the DLQ after retries
	}
	if event.EventID == "" {
		logger.Error("paid event without event id", "booking_id", event.BookingID)
		return nil // nothing to dedup on, drop it
	}

	procCtx, err := p.idempotency.AcquireProcessingLock(ctx, event.EventID)
	if err != nil {
		if errors.Is(err, ErrAlreadyProcessed) {
			logger.Info("paid event already handled, skipping", "event_id", event.EventID)
			return nil
		}
		if errors.Is(err, ErrMaxRetriesExceeded) {
			logger.Error("giving up on paid event", "event_id", event.EventID)
			return nil // ACK, the DLQ keeps the payload for manual replay
		}
		if errors.Is(err, ErrLockAcquireFailed) {
			logger.Info("lock held by another consumer, will retry", "event_id", event.EventID)
			return errors.New("lock held by another consumer")
		}
		logger.Error("failed to acquire lock", "event_id", event.EventID, "error", err)
		return err
	}

	defer func() {
		if procCtx.lockAcquired {
			p.idempotency.ReleaseLock(ctx, procCtx)
		}
	}()

	logger.Info("processing paid event",
		"event_id", event.EventID,
		"booking_id", event.BookingID,
		"retry_count", procCtx.RetryCount,
		"is_retry", procCtx.IsRetry)

	req := &gateway.NotifyRequest{
		EventID:   event.EventID,
		BookingID: event.BookingID,
		UserID:    event.UserID,
		Phone:     event.GuestPhone,
		Amount:    event.Amount,
		PaidAt:    event.PaidAt.UnixMilli(),
	}

	if _, err := p.client.Notify(ctx, req); err != nil {
		logger.Error("failed to deliver notification", "event_id", event.EventID, "error", err)
		if markErr := p.idempotency.MarkFailure(ctx, procCtx, err); markErr != nil {
			logger.Error("failed to mark failure", "event_id", event.EventID, "error", markErr)
		}
		return err // NACK to retry from queue
	}

	logger.Info("notification delivered",
		"event_id", event.EventID,
		"booking_id", event.BookingID,
		"retry_count", procCtx.RetryCount)

	if markErr := p.idempotency.MarkSuccess(ctx, procCtx); markErr != nil {
		// the notification went out, a marker failure must not retry it
		logger.Error("failed to mark success", "event_id", event.EventID, "error", markErr)
	}

	return nil
}
