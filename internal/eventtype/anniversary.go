package eventtype

import (
	"fmt"
	"time"

	"github.com/daybreak-hq/daybreak/internal/models"
)

// Anniversary is the second concrete event-type strategy.
type Anniversary struct {
	base baseStrategy
}

func NewAnniversary() *Anniversary {
	a := &Anniversary{}
	a.base = baseStrategy{
		eventType: models.EventTypeAnniversary,
		dateFor: func(user *models.User) (time.Month, int, bool) {
			d, ok := user.EventDateFor(models.EventTypeAnniversary)
			if !ok || d.IsZero() {
				return 0, 0, false
			}
			return d.Month, d.Day, true
		},
	}
	return a
}

var _ Strategy = &Anniversary{}

func (a *Anniversary) EventType() models.EventType { return a.base.EventType() }

func (a *Anniversary) ShouldSend(user *models.User, nowUTC time.Time) bool {
	return a.base.ShouldSend(user, nowUTC)
}

func (a *Anniversary) CalculateSendTime(user *models.User, localDate time.Time) (time.Time, error) {
	return a.base.CalculateSendTime(user, localDate)
}

func (a *Anniversary) Validate(user *models.User) []error {
	return a.base.Validate(user)
}

func (a *Anniversary) ComposeMessage(user *models.User, ctx MessageContext) (string, error) {
	d, ok := user.EventDateFor(models.EventTypeAnniversary)
	if ok && d.Year > 0 && ctx.Year > d.Year {
		years := ctx.Year - d.Year
		return fmt.Sprintf("Happy %d-year Anniversary, %s!", years, user.FirstName), nil
	}
	return fmt.Sprintf("Happy Anniversary, %s!", user.FirstName), nil
}

func (a *Anniversary) Schedule() ScheduleMeta {
	return ScheduleMeta{Cadence: "daily@00:00 UTC", TriggerField: "anniversaryDate"}
}
