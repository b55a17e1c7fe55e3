// Package driver defines the read-only user store interface the scheduler
// consumes. The core never writes a User (the user CRUD surface is an
// external collaborator); this package only declares how the core reads
// them.
package driver

import (
	"context"
	"errors"

	"github.com/daybreak-hq/daybreak/internal/models"
)

var ErrUserNotFound = errors.New("users: not found")

// Store is the read-only projection of the externally-owned user table the
// core depends on.
type Store interface {
	Init(ctx context.Context) error

	// RetrieveUser fetches a single user by id, including soft-deleted ones
	// (the worker needs to observe deletion).
	RetrieveUser(ctx context.Context, userID string) (*models.User, error)

	// ListActiveUsersWithEventDate streams every non-soft-deleted user that
	// has a date set for eventType, for the daily pre-calc scheduler
	// to evaluate against the strategy's ShouldSend. Implementations should
	// page internally; callers see one logical stream through fn, called
	// once per user.
	ListActiveUsersWithEventDate(ctx context.Context, eventType models.EventType, fn func(*models.User) error) error
}
