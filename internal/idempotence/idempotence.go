// Package idempotence is the worker-side dedup guard layered on top of the
// delivery log's unique idempotency_key constraint. The constraint is the
// source of truth for "has this event already been delivered"; this package
// only protects against a single worker process retrying a send concurrently
// with itself while a prior attempt for the same key is still in flight.
package idempotence

import (
	"context"
	"errors"
	"time"

	"github.com/daybreak-hq/daybreak/internal/redis"
)

// ErrConflict is returned when a concurrent Exec for the same key was
// observed to fail while this caller was waiting on it. The caller's own
// outcome is unknown, so it must not silently retry on our behalf.
var ErrConflict = errors.New("idempotence: conflicting execution in progress")

const (
	stateProcessing = "processing"
	stateDone       = "done"
)

const defaultPollInterval = 50 * time.Millisecond

type Idempotence struct {
	client        redis.Cmdable
	timeout       time.Duration
	successfulTTL time.Duration
	pollInterval  time.Duration
}

type Option func(*Idempotence)

// WithTimeout bounds how long a single Exec call may hold the lock before
// it expires, unblocking anyone waiting behind a crashed or wedged caller.
func WithTimeout(d time.Duration) Option {
	return func(i *Idempotence) { i.timeout = d }
}

// WithSuccessfulTTL is how long a successful result is cached so that a
// late-arriving duplicate is answered without re-running the side effect.
func WithSuccessfulTTL(d time.Duration) Option {
	return func(i *Idempotence) { i.successfulTTL = d }
}

// WithPollInterval controls how often a blocked Exec call re-checks the
// lock while waiting for the in-flight attempt to resolve.
func WithPollInterval(d time.Duration) Option {
	return func(i *Idempotence) { i.pollInterval = d }
}

func New(client redis.Cmdable, opts ...Option) *Idempotence {
	i := &Idempotence{
		client:       client,
		timeout:      30 * time.Second,
		pollInterval: defaultPollInterval,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Exec runs fn at most once per key within SuccessfulTTL of a prior success.
//
//   - If this call acquires the key, it runs fn. A nil result is cached as
//     "done" for SuccessfulTTL; a non-nil result releases the key
//     immediately so the next caller may retry.
//   - If another call currently holds the key, this call blocks until that
//     attempt resolves: a cached "done" is reported as success (fn is not
//     re-run); an attempt that turns out to have failed is reported as
//     ErrConflict, since this caller's own fn was never run and the prior
//     outcome is not something we can safely infer from here.
func (i *Idempotence) Exec(ctx context.Context, key string, fn func() error) error {
	acquired, err := i.client.SetNX(ctx, key, stateProcessing, i.timeout).Result()
	if err != nil {
		return err
	}
	if acquired {
		result := fn()
		if result == nil {
			i.client.Set(ctx, key, stateDone, i.successfulTTL)
		} else {
			i.client.Del(ctx, key)
		}
		return result
	}

	val, err := i.client.Get(ctx, key).Result()
	if err == nil && val == stateDone {
		return nil
	}

	return i.waitForResolution(ctx, key)
}

// waitForResolution polls key until it resolves to "done" (success, caller
// should not re-run fn) or disappears without ever reaching "done"
// (conflict: the in-flight attempt failed while we waited on it).
func (i *Idempotence) waitForResolution(ctx context.Context, key string) error {
	ticker := time.NewTicker(i.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			val, err := i.client.Get(ctx, key).Result()
			switch {
			case err == redis.Nil:
				return ErrConflict
			case err != nil:
				return err
			case val == stateDone:
				return nil
			default:
				// still "processing"; keep waiting
			}
		}
	}
}
