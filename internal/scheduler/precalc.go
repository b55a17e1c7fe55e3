// Package scheduler implements the three time-driven components of the
// engine: daily pre-calculation, per-minute enqueue,
// and periodic recovery. Each is a worker.Worker so internal/app supervises
// them the same way it supervises delivery workers: a ticker loop guarded
// against overlapping runs by a process-local flag (correctness across
// processes comes from DB/broker invariants, never from this flag).
package scheduler

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/daybreak-hq/daybreak/internal/deliverylog/driver"
	"github.com/daybreak-hq/daybreak/internal/eventtype"
	"github.com/daybreak-hq/daybreak/internal/logging"
	"github.com/daybreak-hq/daybreak/internal/metrics"
	"github.com/daybreak-hq/daybreak/internal/models"
	usersdriver "github.com/daybreak-hq/daybreak/internal/users/driver"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/daybreak-hq/daybreak/internal/dateengine"
)

// PreCalcStats is the stat bundle each pre-calc run emits.
type PreCalcStats struct {
	TotalEligible     int
	MessagesScheduled int
	DuplicatesSkipped int
	Errors            int
}

// PreCalc is the daily pre-calculation scheduler: once per UTC day,
// for every registered event type, it walks eligible users and inserts
// SCHEDULED rows keyed by idempotency.
type PreCalc struct {
	logger     *logging.Logger
	users      usersdriver.Store
	deliveries driver.Store
	registry   *eventtype.Registry
	now        func() time.Time

	running atomic.Bool
}

func NewPreCalc(logger *logging.Logger, users usersdriver.Store, deliveries driver.Store, registry *eventtype.Registry) *PreCalc {
	return &PreCalc{
		logger:     logger,
		users:      users,
		deliveries: deliveries,
		registry:   registry,
		now:        time.Now,
	}
}

func (p *PreCalc) Name() string { return "precalc-scheduler" }

// Run fires once immediately (to catch a late start) and then once per UTC
// day, until ctx is cancelled.
func (p *PreCalc) Run(ctx context.Context) error {
	p.runGuarded(ctx)

	for {
		wait := time.Until(nextUTCMidnight(p.now()))
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			p.runGuarded(ctx)
		}
	}
}

func (p *PreCalc) runGuarded(ctx context.Context) {
	if !p.running.CompareAndSwap(false, true) {
		p.logger.Warn("precalc run skipped: previous run still active")
		return
	}
	defer p.running.Store(false)

	stats, err := p.RunOnce(ctx)
	if err != nil {
		p.logger.Error("precalc run failed", zap.Error(err))
		return
	}
	p.logger.Audit("precalc run completed",
		zap.Int("total_eligible", stats.TotalEligible),
		zap.Int("messages_scheduled", stats.MessagesScheduled),
		zap.Int("duplicates_skipped", stats.DuplicatesSkipped),
		zap.Int("errors", stats.Errors),
	)
}

// RunOnce evaluates every registered strategy against its eligible users and
// inserts SCHEDULED rows. Per-user errors are counted, never fatal to the
// batch.
func (p *PreCalc) RunOnce(ctx context.Context) (PreCalcStats, error) {
	var stats PreCalcStats
	nowUTC := p.now().UTC()

	for _, strategy := range p.registry.All() {
		eventType := strategy.EventType()
		labels := string(eventType)

		err := p.users.ListActiveUsersWithEventDate(ctx, eventType, func(user *models.User) error {
			if !strategy.ShouldSend(user, nowUTC) {
				return nil
			}
			stats.TotalEligible++
			metrics.PreCalcEligibleTotal.WithLabelValues(labels).Inc()

			if err := p.scheduleOne(ctx, strategy, user, nowUTC); err != nil {
				if err == models.ErrDuplicateIdempotencyKey {
					stats.DuplicatesSkipped++
					metrics.PreCalcDuplicatesSkippedTotal.WithLabelValues(labels).Inc()
					return nil
				}
				stats.Errors++
				metrics.PreCalcErrorsTotal.WithLabelValues(labels).Inc()
				p.logger.Error("precalc: failed to schedule user",
					zap.String("user_id", user.ID), zap.String("event_type", labels), zap.Error(err))
				return nil
			}
			stats.MessagesScheduled++
			metrics.PreCalcScheduledTotal.WithLabelValues(labels).Inc()
			return nil
		})
		if err != nil {
			stats.Errors++
			p.logger.Error("precalc: listing users failed", zap.String("event_type", labels), zap.Error(err))
		}
	}

	return stats, nil
}

func (p *PreCalc) scheduleOne(ctx context.Context, strategy eventtype.Strategy, user *models.User, nowUTC time.Time) error {
	loc, err := dateengine.ResolveZone(user.Timezone)
	if err != nil {
		loc = time.UTC
	}
	localDate := dateengine.TodayLocalDate(loc, nowUTC)
	localDateTime := time.Date(localDate.Year, localDate.Month, localDate.Day, 0, 0, 0, 0, time.UTC)

	sendTime, err := strategy.CalculateSendTime(user, localDateTime)
	if err != nil {
		return err
	}

	message, err := strategy.ComposeMessage(user, eventtype.MessageContext{
		LocalEventDate: localDateTime,
		Year:           localDate.Year,
	})
	if err != nil {
		return err
	}

	row := &models.DeliveryLog{
		ID:                uuid.NewString(),
		UserID:            user.ID,
		EventType:         strategy.EventType(),
		ScheduledSendTime: sendTime,
		Status:            models.DeliveryStatusScheduled,
		RetryCount:        0,
		IdempotencyKey:    models.IdempotencyKey(strategy.EventType(), user.ID, localDateTime),
		MessageContent:    message,
	}

	return p.deliveries.Insert(ctx, row)
}

func nextUTCMidnight(from time.Time) time.Time {
	from = from.UTC()
	return time.Date(from.Year(), from.Month(), from.Day()+1, 0, 0, 0, 0, time.UTC)
}
