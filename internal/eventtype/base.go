package eventtype

import (
	"fmt"
	"time"

	"github.com/daybreak-hq/daybreak/internal/dateengine"
	"github.com/daybreak-hq/daybreak/internal/models"
)

// baseStrategy implements the timezone plumbing every event type shares
// (resolve zone, ask dateengine whether today matches, compute 09:00
// local), leaving only date-field access and message text to each
// concrete strategy.
type baseStrategy struct {
	eventType models.EventType
	dateFor   func(user *models.User) (time.Month, int, bool)
}

func (b *baseStrategy) EventType() models.EventType { return b.eventType }

func (b *baseStrategy) ShouldSend(user *models.User, nowUTC time.Time) bool {
	month, day, ok := b.dateFor(user)
	if !ok || user.IsDeleted() {
		return false
	}
	loc, err := dateengine.ResolveZone(user.Timezone)
	if err != nil {
		loc = time.UTC
	}
	return dateengine.IsEventTodayAt(loc, month, day, nowUTC)
}

func (b *baseStrategy) CalculateSendTime(user *models.User, localDate time.Time) (time.Time, error) {
	loc, err := dateengine.ResolveZone(user.Timezone)
	if err != nil {
		loc = time.UTC
	}
	y, m, d := localDate.Date()
	return dateengine.CalculateSendTime(loc, dateengine.LocalDate{Year: y, Month: m, Day: d}), nil
}

func (b *baseStrategy) Validate(user *models.User) []error {
	var errs []error
	if _, err := dateengine.ResolveZone(user.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("%s: %w (%q)", b.eventType, dateengine.ErrInvalidZone, user.Timezone))
	}
	if _, _, ok := b.dateFor(user); !ok {
		errs = append(errs, fmt.Errorf("%s: missing event date", b.eventType))
	}
	return errs
}
