package scheduler

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/daybreak-hq/daybreak/internal/deliverylog/driver"
	"github.com/daybreak-hq/daybreak/internal/logging"
	"github.com/daybreak-hq/daybreak/internal/metrics"
	"github.com/daybreak-hq/daybreak/internal/models"
	"go.uber.org/zap"
)

// RecoveryStats is the stat bundle each recovery run emits.
type RecoveryStats struct {
	TotalMissed int
	Recovered   int
	Failed      int
	Errors      int
}

// tooLateCutoff bounds how late a delivery may still be recovered: rows
// more than 48h past their scheduled instant are marked FAILED with
// reason "too-late" rather than recovered indefinitely.
const tooLateCutoff = 48 * time.Hour

// Recovery is the periodic recovery scheduler: it finds rows stuck
// in SCHEDULED past the grace period, or stuck in an in-flight status past
// the stuck-timeout, and either re-drives or fails them.
type Recovery struct {
	logger       *logging.Logger
	deliveries   driver.Store
	gracePeriod  time.Duration
	stuckTimeout time.Duration
	maxRetries   int
	batchSize    int
	now          func() time.Time

	running atomic.Bool
}

func NewRecovery(logger *logging.Logger, deliveries driver.Store, gracePeriod, stuckTimeout time.Duration, maxRetries int) *Recovery {
	return &Recovery{
		logger:       logger,
		deliveries:   deliveries,
		gracePeriod:  gracePeriod,
		stuckTimeout: stuckTimeout,
		maxRetries:   maxRetries,
		batchSize:    500,
		now:          time.Now,
	}
}

func (r *Recovery) Name() string { return "recovery-scheduler" }

func (r *Recovery) Run(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	r.runGuarded(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.runGuarded(ctx)
		}
	}
}

func (r *Recovery) runGuarded(ctx context.Context) {
	if !r.running.CompareAndSwap(false, true) {
		r.logger.Warn("recovery run skipped: previous run still active")
		return
	}
	defer r.running.Store(false)

	stats, err := r.RunOnce(ctx)
	if err != nil {
		r.logger.Error("recovery run failed", zap.Error(err))
		return
	}
	r.logger.Audit("recovery run completed",
		zap.Int("total_missed", stats.TotalMissed),
		zap.Int("recovered", stats.Recovered),
		zap.Int("failed", stats.Failed),
		zap.Int("errors", stats.Errors),
	)
}

func (r *Recovery) RunOnce(ctx context.Context) (RecoveryStats, error) {
	var stats RecoveryStats
	now := r.now().UTC()

	stale, err := r.deliveries.SelectStaleScheduled(ctx, now.Add(-r.gracePeriod), r.batchSize)
	if err != nil {
		return stats, err
	}
	stuck, err := r.deliveries.SelectStuckInFlight(ctx, now.Add(-r.stuckTimeout), r.batchSize)
	if err != nil {
		return stats, err
	}

	rows := append(stale, stuck...)
	stats.TotalMissed = len(rows)

	for _, row := range rows {
		failed, err := r.recoverOne(ctx, row, now)
		if err != nil {
			stats.Errors++
			metrics.RecoveryErrorsTotal.Inc()
			r.logger.Error("recovery: failed to recover row", zap.String("delivery_log_id", row.ID), zap.Error(err))
			continue
		}
		if failed {
			stats.Failed++
			metrics.RecoveryFailedTotal.Inc()
		} else {
			stats.Recovered++
			metrics.RecoveryRecoveredTotal.Inc()
		}
	}
	metrics.RecoveryMissedTotal.Add(float64(stats.TotalMissed))

	return stats, nil
}

func (r *Recovery) recoverOne(ctx context.Context, row *models.DeliveryLog, now time.Time) (bool, error) {
	fromStatus := row.Status

	tooLate := now.Sub(row.ScheduledSendTime) > tooLateCutoff
	shouldFail := row.RetryCount >= r.maxRetries || tooLate

	if shouldFail {
		reason := "retry-ceiling"
		if tooLate {
			reason = "too-late"
		}
		err := r.deliveries.TransitionStatus(ctx, row.ID, fromStatus, models.DeliveryStatusFailed, func(log *models.DeliveryLog) {
			log.ErrorMessage = reason
		})
		return true, err
	}

	err := r.deliveries.TransitionStatus(ctx, row.ID, fromStatus, models.DeliveryStatusScheduled, func(log *models.DeliveryLog) {
		log.ScheduledSendTime = now
		log.RetryCount++
	})
	return false, err
}
