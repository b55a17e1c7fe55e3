package models

import "time"

// User is a read-only projection of the externally-owned user record;
// the user CRUD surface lives in another service. The core never writes a
// User; it only observes the fields needed for scheduling.
type User struct {
	ID        string `json:"id"`
	FirstName string `json:"first_name"`
	Email     string `json:"email"`
	Timezone  string `json:"timezone"`

	// EventDates holds one calendar date per registered event type, e.g.
	// {"BIRTHDAY": 1990-06-14, "ANNIVERSARY": 2015-09-02}. Absent key means
	// the user has no date for that event type.
	EventDates map[EventType]EventDate `json:"event_dates"`

	DeletedAt *time.Time `json:"deleted_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// EventDate is a calendar date without time-of-day or year significance
// beyond "the year this was originally recorded" (kept for display, e.g.
// "10th anniversary").
type EventDate struct {
	Month time.Month
	Day   int
	Year  int // 0 if unknown/unused
}

func (d EventDate) IsZero() bool {
	return d.Month == 0 && d.Day == 0
}

// IsDeleted reports the user's soft-deletion state.
func (u *User) IsDeleted() bool {
	return u.DeletedAt != nil
}

// EventDateFor returns the user's date for the given event type, and
// whether one is set.
func (u *User) EventDateFor(eventType EventType) (EventDate, bool) {
	d, ok := u.EventDates[eventType]
	return d, ok
}
