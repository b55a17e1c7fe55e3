package sendclient

import (
	"fmt"
	"sync"

	"github.com/daybreak-hq/daybreak/internal/models"
	"github.com/sony/gobreaker"
)

// StateChangeFunc is invoked whenever a named breaker changes state,
// letting the caller audit-log the transition and update a metric.
type StateChangeFunc func(eventType models.EventType, from, to gobreaker.State)

// Manager holds one Client per event type, each with its own circuit
// breaker, so a failing provider path for one event type (e.g. a
// birthday-specific template endpoint) cannot trip the breaker for another.
type Manager struct {
	mu      sync.RWMutex
	clients map[models.EventType]*Client
}

func NewManager() *Manager {
	return &Manager{clients: map[models.EventType]*Client{}}
}

// Register builds and stores a Client for eventType. onStateChange may be
// nil.
func (m *Manager) Register(eventType models.EventType, cfg Config, onStateChange StateChangeFunc) {
	var cb func(name string, from, to gobreaker.State)
	if onStateChange != nil {
		cb = func(name string, from, to gobreaker.State) {
			onStateChange(eventType, from, to)
		}
	}

	client := NewClient(string(eventType), cfg, cb)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.clients[eventType] = client
}

// For returns the Client registered for eventType.
func (m *Manager) For(eventType models.EventType) (*Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	client, ok := m.clients[eventType]
	if !ok {
		return nil, fmt.Errorf("sendclient: no client registered for event type %q", eventType)
	}
	return client, nil
}
