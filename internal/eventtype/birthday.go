package eventtype

import (
	"fmt"
	"time"

	"github.com/daybreak-hq/daybreak/internal/models"
)

// Birthday is the first concrete event-type strategy.
type Birthday struct {
	base baseStrategy
}

func NewBirthday() *Birthday {
	b := &Birthday{}
	b.base = baseStrategy{
		eventType: models.EventTypeBirthday,
		dateFor: func(user *models.User) (time.Month, int, bool) {
			d, ok := user.EventDateFor(models.EventTypeBirthday)
			if !ok || d.IsZero() {
				return 0, 0, false
			}
			return d.Month, d.Day, true
		},
	}
	return b
}

var _ Strategy = &Birthday{}

func (b *Birthday) EventType() models.EventType { return b.base.EventType() }

func (b *Birthday) ShouldSend(user *models.User, nowUTC time.Time) bool {
	return b.base.ShouldSend(user, nowUTC)
}

func (b *Birthday) CalculateSendTime(user *models.User, localDate time.Time) (time.Time, error) {
	return b.base.CalculateSendTime(user, localDate)
}

func (b *Birthday) Validate(user *models.User) []error {
	return b.base.Validate(user)
}

func (b *Birthday) ComposeMessage(user *models.User, ctx MessageContext) (string, error) {
	return fmt.Sprintf("Happy Birthday, %s! Wishing you a wonderful day.", user.FirstName), nil
}

func (b *Birthday) Schedule() ScheduleMeta {
	return ScheduleMeta{Cadence: "daily@00:00 UTC", TriggerField: "birthdayDate"}
}
