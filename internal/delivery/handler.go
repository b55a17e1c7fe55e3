// Package delivery implements the delivery worker's per-message
// algorithm: parse, idempotency short-circuit, soft-delete check, send,
// transition the delivery-log row, ack/nack. Failures are wrapped in
// three stage errors (PreDeliveryError/DeliveryError/PostDeliveryError)
// so the ack/nack decision can dispatch on where in the pipeline the
// failure happened.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	deliverylogdriver "github.com/daybreak-hq/daybreak/internal/deliverylog/driver"
	"github.com/daybreak-hq/daybreak/internal/idempotence"
	"github.com/daybreak-hq/daybreak/internal/logging"
	"github.com/daybreak-hq/daybreak/internal/metrics"
	"github.com/daybreak-hq/daybreak/internal/models"
	"github.com/daybreak-hq/daybreak/internal/mqs"
	"github.com/daybreak-hq/daybreak/internal/sendclient"
	usersdriver "github.com/daybreak-hq/daybreak/internal/users/driver"
	"go.uber.org/zap"
)

// PreDeliveryError wraps a failure before the send attempt: malformed
// payload, row lookup failure, user lookup failure.
type PreDeliveryError struct{ err error }

func (e *PreDeliveryError) Error() string { return fmt.Sprintf("pre-delivery error: %v", e.err) }
func (e *PreDeliveryError) Unwrap() error { return e.err }

// DeliveryError wraps a failure from the send client itself.
type DeliveryError struct{ err error }

func (e *DeliveryError) Error() string { return fmt.Sprintf("delivery error: %v", e.err) }
func (e *DeliveryError) Unwrap() error { return e.err }

// PostDeliveryError wraps a failure persisting the outcome: the
// TransitionStatus call or the DLQ publish.
type PostDeliveryError struct{ err error }

func (e *PostDeliveryError) Error() string { return fmt.Sprintf("post-delivery error: %v", e.err) }
func (e *PostDeliveryError) Unwrap() error { return e.err }

// DeadLetterPublisher routes a rejected message onto the DLQ directly,
// rather than depending on Nack exhausting the broker's
// x-delivery-limit.
type DeadLetterPublisher interface {
	Publish(ctx context.Context, routingKey string, msg mqs.IncomingMessage) error
}

// Handler is the delivery worker's consumer.MessageHandler
// implementation. One Handler is shared across every consumer goroutine
// in the process; it must not hold per-message mutable state.
type Handler struct {
	logger       *logging.Logger
	deliveries   deliverylogdriver.Store
	users        usersdriver.Store
	sendClients  *sendclient.Manager
	dlq          DeadLetterPublisher
	idempotence  *idempotence.Idempotence
	maxRetries   int
	retryBackoff backoffFunc
	now          func() time.Time
}

// backoffFunc computes the RETRYING -> next-scheduled-instant delay for a
// given retry count. Kept as a function type (not the backoff.Backoff
// interface) so callers can close over config without an extra wrapper.
type backoffFunc func(retryCount int) time.Duration

func New(
	logger *logging.Logger,
	deliveries deliverylogdriver.Store,
	users usersdriver.Store,
	sendClients *sendclient.Manager,
	dlq DeadLetterPublisher,
	idem *idempotence.Idempotence,
	maxRetries int,
	retryBackoff func(retryCount int) time.Duration,
) *Handler {
	return &Handler{
		logger:       logger,
		deliveries:   deliveries,
		users:        users,
		sendClients:  sendClients,
		dlq:          dlq,
		idempotence:  idem,
		maxRetries:   maxRetries,
		retryBackoff: retryBackoff,
		now:          time.Now,
	}
}

func idempotencyLockKey(deliveryLogID string) string {
	return "idempotence:delivery:" + deliveryLogID
}

// Handle implements consumer.MessageHandler.
func (h *Handler) Handle(ctx context.Context, msg *mqs.Message) error {
	task, err := models.DeliveryTaskFromMessage(msg)
	if err != nil {
		return h.handleMalformed(ctx, msg, err)
	}

	logger := h.logger.Ctx(ctx)
	logger.Info("processing delivery task",
		zap.String("delivery_log_id", task.DeliveryLogID()),
		zap.String("user_id", task.UserID),
		zap.String("event_type", string(task.MessageType)),
		zap.Int("retry_count", task.RetryCount))

	row, err := h.deliveries.Retrieve(ctx, task.DeliveryLogID())
	if err != nil {
		return h.handleError(msg, &PreDeliveryError{err: err})
	}

	// Idempotency short-circuit: a row already SENT means a
	// prior attempt succeeded and this delivery is a redelivery/duplicate.
	if row.Status == models.DeliveryStatusSent {
		logger.Info("delivery already sent, skipping", zap.String("delivery_log_id", row.ID))
		msg.Ack()
		return nil
	}
	if row.Status == models.DeliveryStatusFailed {
		msg.Ack()
		return nil
	}

	user, err := h.users.RetrieveUser(ctx, row.UserID)
	if err != nil {
		return h.handleError(msg, &PreDeliveryError{err: err})
	}
	if user.IsDeleted() {
		if err := h.deliveries.TransitionStatus(ctx, row.ID, row.Status, models.DeliveryStatusFailed, func(l *models.DeliveryLog) {
			l.ErrorMessage = "user-deleted"
		}); err != nil && !errors.Is(err, models.ErrInvalidTransition) {
			return h.handleError(msg, &PostDeliveryError{err: err})
		}
		logger.Info("user soft-deleted, marking failed", zap.String("delivery_log_id", row.ID), zap.String("user_id", user.ID))
		metrics.DeliveriesTotal.WithLabelValues(string(row.EventType), "user-deleted").Inc()
		msg.Ack()
		return nil
	}

	// The enqueue window stages messages into the broker ahead of their
	// scheduled instant; the send itself must not happen early. Held
	// messages are abandoned unacked on shutdown and redelivered later.
	if wait := row.ScheduledSendTime.Sub(h.now()); wait > 0 {
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			msg.Nack()
			return nil
		case <-timer.C:
		}
	}

	err = h.idempotence.Exec(ctx, idempotencyLockKey(row.ID), func() error {
		return h.doHandle(ctx, row, user)
	})
	if errors.Is(err, idempotence.ErrConflict) {
		// Another goroutine/process is (or was) handling this same row;
		// nack so the broker redelivers later instead of treating this as
		// our own failure.
		msg.Nack()
		return nil
	}
	return h.handleError(msg, err)
}

func (h *Handler) handleMalformed(ctx context.Context, msg *mqs.Message, parseErr error) error {
	h.logger.Ctx(ctx).Error("malformed delivery task payload", zap.Error(parseErr))
	dlqErr := h.dlq.Publish(ctx, "", mqs.NewRawMessage(msg.Body, mergeReason(msg.Metadata, "malformed")))
	msg.Ack()
	if dlqErr != nil {
		return &PostDeliveryError{err: fmt.Errorf("dead-letter malformed message: %w", dlqErr)}
	}
	return nil
}

func mergeReason(metadata map[string]string, reason string) map[string]string {
	out := make(map[string]string, len(metadata)+1)
	for k, v := range metadata {
		out[k] = v
	}
	out["x-dlq-reason"] = reason
	return out
}

// doHandle is the idempotence-guarded core: send, then persist the
// outcome. It runs at most once per delivery-log id at a time.
func (h *Handler) doHandle(ctx context.Context, row *models.DeliveryLog, user *models.User) error {
	client, err := h.sendClients.For(row.EventType)
	if err != nil {
		return &PreDeliveryError{err: err}
	}

	start := h.now()
	result, sendErr := client.Send(ctx, user.Email, row.MessageContent)
	metrics.SendDuration.WithLabelValues(string(row.EventType)).Observe(h.now().Sub(start).Seconds())

	if sendErr == nil {
		return h.markSent(ctx, row, result)
	}
	return h.handleSendFailure(ctx, row, sendErr)
}

func (h *Handler) markSent(ctx context.Context, row *models.DeliveryLog, result *sendclient.Result) error {
	now := h.now()
	err := h.deliveries.TransitionStatus(ctx, row.ID, row.Status, models.DeliveryStatusSent, func(l *models.DeliveryLog) {
		l.ActualSendTime = &now
		l.APIResponseCode = 200
		l.APIResponseBody = result.ProviderMessageID
	})
	if err != nil {
		if errors.Is(err, models.ErrInvalidTransition) {
			// Row already moved on (e.g. recovery marked it FAILED while
			// this send was in flight), not an error worth nacking over.
			return nil
		}
		return &PostDeliveryError{err: err}
	}
	metrics.DeliveriesTotal.WithLabelValues(string(row.EventType), "sent").Inc()
	ctxLogger := h.logger.Ctx(ctx)
	ctxLogger.Audit("delivery sent",
		zap.String("delivery_log_id", row.ID),
		zap.String("user_id", row.UserID),
		zap.String("event_type", string(row.EventType)))
	return nil
}

func (h *Handler) handleSendFailure(ctx context.Context, row *models.DeliveryLog, sendErr error) error {
	logger := h.logger.Ctx(ctx)

	var classified *sendclient.Error
	transient := true
	if errors.As(sendErr, &classified) {
		transient = classified.Class == sendclient.ClassTransient
	}
	// Unknown error shapes default to transient, the safer side of the
	// classification.

	if transient && row.RetryCount < h.maxRetries {
		delay := h.retryBackoff(row.RetryCount)
		nextAttempt := h.now().Add(delay)
		err := h.deliveries.TransitionStatus(ctx, row.ID, row.Status, models.DeliveryStatusRetrying, func(l *models.DeliveryLog) {
			l.RetryCount++
			l.ScheduledSendTime = nextAttempt
			l.ErrorMessage = sendErr.Error()
			if classified != nil {
				l.APIResponseCode = classified.StatusCode
				l.APIResponseBody = classified.ResponseBody
			}
		})
		if err != nil {
			if errors.Is(err, models.ErrInvalidTransition) {
				return nil
			}
			return &PostDeliveryError{err: err}
		}
		metrics.DeliveriesTotal.WithLabelValues(string(row.EventType), "retrying").Inc()
		logger.Audit("delivery retry scheduled",
			zap.String("delivery_log_id", row.ID),
			zap.Int("retry_count", row.RetryCount+1),
			zap.Duration("delay", delay))
		// Surface the send failure even though the retry is persisted: the
		// idempotence guard releases the key only on error, and a "done"
		// marker here would short-circuit the eventual redelivery.
		return &DeliveryError{err: sendErr}
	}

	// Retry ceiling reached, or a permanent error: FAILED + DLQ.
	err := h.deliveries.TransitionStatus(ctx, row.ID, row.Status, models.DeliveryStatusFailed, func(l *models.DeliveryLog) {
		l.ErrorMessage = sendErr.Error()
		if classified != nil {
			l.APIResponseCode = classified.StatusCode
			l.APIResponseBody = classified.ResponseBody
		}
	})
	if err != nil && !errors.Is(err, models.ErrInvalidTransition) {
		return &DeliveryError{err: errors.Join(sendErr, &PostDeliveryError{err: err})}
	}
	metrics.DeliveriesTotal.WithLabelValues(string(row.EventType), "failed").Inc()
	logger.Error("delivery failed permanently", zap.String("delivery_log_id", row.ID), zap.Error(sendErr))

	task := models.NewDeliveryTask(row, h.now())
	if dlqErr := h.dlq.Publish(ctx, "", &task); dlqErr != nil {
		return &PostDeliveryError{err: fmt.Errorf("dead-letter failed delivery: %w", dlqErr)}
	}
	return &DeliveryError{err: sendErr}
}

// handleError converts a Handle-stage error into an ack/nack decision and
// returns the error unchanged to the consumer loop (which only logs it;
// callers don't retry on the return value).
func (h *Handler) handleError(msg *mqs.Message, err error) error {
	if err == nil {
		msg.Ack()
		return nil
	}
	if h.shouldNackError(err) {
		msg.Nack()
	} else {
		msg.Ack()
	}
	return err
}

func (h *Handler) shouldNackError(err error) bool {
	var preErr *PreDeliveryError
	if errors.As(err, &preErr) {
		return true
	}
	var delErr *DeliveryError
	if errors.As(err, &delErr) {
		return false
	}
	var postErr *PostDeliveryError
	if errors.As(err, &postErr) {
		return true
	}
	return true
}
