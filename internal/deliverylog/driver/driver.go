// Package driver defines the DeliveryLog store interface.
// Concrete stores enforce the idempotency-key uniqueness and the
// status-transition serialization invariants the rest of the engine
// relies on.
package driver

import (
	"context"
	"time"

	"github.com/daybreak-hq/daybreak/internal/models"
)

// Store is the durable DeliveryLog persistence contract.
type Store interface {
	Init(ctx context.Context) error

	// Insert creates a SCHEDULED row. Returns models.ErrDuplicateIdempotencyKey
	// if any row already owns the idempotency key; callers
	// must treat that as duplicatesSkipped, never as a failed insert.
	Insert(ctx context.Context, row *models.DeliveryLog) error

	// Retrieve fetches a row by id. Returns models.ErrDeliveryLogNotFound if
	// absent.
	Retrieve(ctx context.Context, id string) (*models.DeliveryLog, error)

	// SelectScheduledDue selects SCHEDULED rows with scheduled_send_time in
	// [now, now+window], and RETRYING rows with scheduled_send_time at or
	// before now+window (including ones whose instant has already passed);
	// transitions them to QUEUED, and invokes
	// publish for each before committing, the enqueue scheduler's
	// single-transaction publish+advance contract. If publish
	// returns an error for any row, the whole transaction rolls back and
	// every selected row keeps its prior status.
	SelectScheduledDue(ctx context.Context, now time.Time, window time.Duration, limit int, publish func(*models.DeliveryLog) error) (int, error)

	// TransitionStatus performs `UPDATE ... WHERE id = $1 AND status = $2`,
	// applying mutate to the row before writing it back. Returns
	// models.ErrInvalidTransition if no row matched the expected `from`
	// status (already moved by another process, or a stale caller view).
	TransitionStatus(ctx context.Context, id string, from, to models.DeliveryStatus, mutate func(*models.DeliveryLog)) error

	// SelectStaleScheduled finds SCHEDULED rows older than `olderThan`
	// (the recovery scheduler's missed-pickup detection).
	SelectStaleScheduled(ctx context.Context, olderThan time.Time, limit int) ([]*models.DeliveryLog, error)

	// SelectStuckInFlight finds QUEUED/SENDING/RETRYING rows whose
	// updated_at predates `olderThan` (the recovery scheduler's stuck-row
	// detection).
	SelectStuckInFlight(ctx context.Context, olderThan time.Time, limit int) ([]*models.DeliveryLog, error)
}
