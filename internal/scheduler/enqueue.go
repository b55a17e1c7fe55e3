package scheduler

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/daybreak-hq/daybreak/internal/deliverylog/driver"
	"github.com/daybreak-hq/daybreak/internal/logging"
	"github.com/daybreak-hq/daybreak/internal/metrics"
	"github.com/daybreak-hq/daybreak/internal/models"
	"github.com/daybreak-hq/daybreak/internal/mqs"
	"go.uber.org/zap"
)

// Publisher is the subset of mqs.Queue the enqueue scheduler needs: publish
// one DeliveryLog's BrokerMessage under its event type's routing key.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, msg mqs.IncomingMessage) error
}

// Enqueue is the per-minute enqueue scheduler: it selects mature
// SCHEDULED rows, advances them to QUEUED, and publishes a BrokerMessage for
// each, all inside the one DB transaction deliverylog/pgstore's
// SelectScheduledDue implements.
type Enqueue struct {
	logger     *logging.Logger
	deliveries driver.Store
	publisher  Publisher
	window     time.Duration
	interval   time.Duration
	batchSize  int
	now        func() time.Time

	running atomic.Bool
}

func NewEnqueue(logger *logging.Logger, deliveries driver.Store, publisher Publisher, window time.Duration) *Enqueue {
	return &Enqueue{
		logger:     logger,
		deliveries: deliveries,
		publisher:  publisher,
		window:     window,
		interval:   time.Minute,
		batchSize:  500,
		now:        time.Now,
	}
}

func (e *Enqueue) Name() string { return "enqueue-scheduler" }

func (e *Enqueue) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	e.runGuarded(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.runGuarded(ctx)
		}
	}
}

func (e *Enqueue) runGuarded(ctx context.Context) {
	if !e.running.CompareAndSwap(false, true) {
		e.logger.Warn("enqueue run skipped: previous run still active")
		return
	}
	defer e.running.Store(false)

	n, err := e.RunOnce(ctx)
	if err != nil {
		e.logger.Error("enqueue run failed", zap.Error(err))
		return
	}
	if n > 0 {
		e.logger.Audit("enqueue run completed", zap.Int("enqueued", n))
	}
}

// RunOnce advances one batch of due rows. It may need to be called
// repeatedly if the due set exceeds batchSize; the next tick picks up the
// remainder.
func (e *Enqueue) RunOnce(ctx context.Context) (int, error) {
	now := e.now().UTC()

	n, err := e.deliveries.SelectScheduledDue(ctx, now, e.window, e.batchSize, func(row *models.DeliveryLog) error {
		task := models.NewDeliveryTask(row, now)
		if err := e.publisher.Publish(ctx, row.EventType.RoutingKey(), &task); err != nil {
			return err
		}
		metrics.EnqueuedTotal.Inc()
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}
