// Package eventtype is the pluggable per-event-type strategy registry:
// adding a new anniversary-style event type is one new Strategy
// registration plus one new user field, with no change to any scheduler
// or worker.
package eventtype

import (
	"fmt"
	"time"

	"github.com/daybreak-hq/daybreak/internal/models"
)

// ScheduleMeta describes a strategy's cadence, for introspection and
// metrics only; the schedulers themselves are generic over every
// registered type.
type ScheduleMeta struct {
	Cadence      string
	TriggerField string
}

// Strategy is the behavior one event type plugs into the engine.
// Implementations must never share mutable state across calls; each call
// receives everything it needs as arguments.
type Strategy interface {
	EventType() models.EventType
	ShouldSend(user *models.User, nowUTC time.Time) bool
	CalculateSendTime(user *models.User, localDate time.Time) (time.Time, error)
	ComposeMessage(user *models.User, ctx MessageContext) (string, error)
	Validate(user *models.User) []error
	Schedule() ScheduleMeta
}

// MessageContext carries the information composeMessage needs beyond the
// user record itself (e.g. which year's anniversary this is).
type MessageContext struct {
	LocalEventDate time.Time
	Year           int
}

// Registry holds every registered Strategy, keyed by event type. A
// strategy is registered once at process startup; the daily
// pre-calc scheduler iterates registry.All(), so a new event type needs no
// scheduler change.
type Registry struct {
	strategies map[models.EventType]Strategy
	order      []models.EventType
}

func NewRegistry() *Registry {
	return &Registry{strategies: make(map[models.EventType]Strategy)}
}

var ErrAlreadyRegistered = fmt.Errorf("eventtype: strategy already registered")

// Register adds a strategy for its event type. Registering the same event
// type twice is a startup-time programming error, not a runtime condition
// to recover from.
func (r *Registry) Register(s Strategy) error {
	if _, exists := r.strategies[s.EventType()]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, s.EventType())
	}
	r.strategies[s.EventType()] = s
	r.order = append(r.order, s.EventType())
	return nil
}

// MustRegister panics on a duplicate registration. Used at process
// bootstrap where a duplicate registration is always a programming bug.
func (r *Registry) MustRegister(s Strategy) {
	if err := r.Register(s); err != nil {
		panic(err)
	}
}

// Get returns the strategy for an event type, or false if none is
// registered.
func (r *Registry) Get(eventType models.EventType) (Strategy, bool) {
	s, ok := r.strategies[eventType]
	return s, ok
}

// All returns every registered strategy in registration order. The daily
// pre-calc scheduler's iteration contract walks this slice.
func (r *Registry) All() []Strategy {
	out := make([]Strategy, 0, len(r.order))
	for _, t := range r.order {
		out = append(out, r.strategies[t])
	}
	return out
}
