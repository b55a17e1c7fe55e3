// Package pgstore implements deliverylog/driver.Store against the
// `message_logs` table: a pgxpool.Pool, hand-written SQL, explicit
// transactions for multi-step invariants, and pgconn unique-violation
// translation instead of a select-then-insert race.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/daybreak-hq/daybreak/internal/deliverylog/driver"
	"github.com/daybreak-hq/daybreak/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

type store struct {
	db *pgxpool.Pool
}

func New(db *pgxpool.Pool) driver.Store {
	return &store{db: db}
}

func (s *store) Init(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func (s *store) Insert(ctx context.Context, row *models.DeliveryLog) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO message_logs (
			id, user_id, message_type, scheduled_send_time, status,
			retry_count, idempotency_key, message_content, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now())
	`,
		row.ID, row.UserID, row.EventType, row.ScheduledSendTime, row.Status,
		row.RetryCount, row.IdempotencyKey, row.MessageContent,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return models.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("deliverylog: insert failed: %w", err)
	}
	return nil
}

const selectColumns = `
	id, user_id, message_type, scheduled_send_time, actual_send_time,
	status, retry_count, idempotency_key, message_content, error_message,
	api_response_code, api_response_body, created_at, updated_at
`

func (s *store) Retrieve(ctx context.Context, id string) (*models.DeliveryLog, error) {
	row := s.db.QueryRow(ctx, fmt.Sprintf(`SELECT %s FROM message_logs WHERE id = $1`, selectColumns), id)
	log, err := scanRow(row)
	if err == pgx.ErrNoRows {
		return nil, models.ErrDeliveryLogNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("deliverylog: retrieve failed: %w", err)
	}
	return log, nil
}

// SelectScheduledDue implements the enqueue scheduler's single-transaction
// publish+advance contract. RETRYING rows whose rescheduled instant has
// matured ride the same path as fresh SCHEDULED rows, so every -> QUEUED
// edge goes through one publisher-confirmed transaction. Publish failure
// for any row rolls back the whole batch, leaving every row in its prior
// status for the next run to retry.
func (s *store) SelectScheduledDue(ctx context.Context, now time.Time, window time.Duration, limit int, publish func(*models.DeliveryLog) error) (int, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("deliverylog: begin tx failed: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, fmt.Sprintf(`
		SELECT %s FROM message_logs
		WHERE (status = $1 AND scheduled_send_time BETWEEN $3 AND $4)
		   OR (status = $2 AND scheduled_send_time <= $4)
		ORDER BY scheduled_send_time
		LIMIT $5
		FOR UPDATE SKIP LOCKED
	`, selectColumns), models.DeliveryStatusScheduled, models.DeliveryStatusRetrying,
		now, now.Add(window), limit)
	if err != nil {
		return 0, fmt.Errorf("deliverylog: select due failed: %w", err)
	}

	var due []*models.DeliveryLog
	for rows.Next() {
		log, err := scanRow(rows)
		if err != nil {
			rows.Close()
			return 0, fmt.Errorf("deliverylog: scan failed: %w", err)
		}
		due = append(due, log)
	}
	rowsErr := rows.Err()
	rows.Close()
	if rowsErr != nil {
		return 0, fmt.Errorf("deliverylog: rows error: %w", rowsErr)
	}

	for _, log := range due {
		if err := publish(log); err != nil {
			return 0, fmt.Errorf("deliverylog: publish failed for %s: %w", log.ID, err)
		}
		if _, err := tx.Exec(ctx, `
			UPDATE message_logs SET status = $1, updated_at = now() WHERE id = $2
		`, models.DeliveryStatusQueued, log.ID); err != nil {
			return 0, fmt.Errorf("deliverylog: advance to queued failed for %s: %w", log.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("deliverylog: commit failed: %w", err)
	}
	return len(due), nil
}

// TransitionStatus is the `UPDATE ... WHERE status = $from` serialization
// point every concurrent writer relies on.
func (s *store) TransitionStatus(ctx context.Context, id string, from, to models.DeliveryStatus, mutate func(*models.DeliveryLog)) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("deliverylog: begin tx failed: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, fmt.Sprintf(`
		SELECT %s FROM message_logs WHERE id = $1 AND status = $2 FOR UPDATE
	`, selectColumns), id, from)
	log, err := scanRow(row)
	if err == pgx.ErrNoRows {
		return models.ErrInvalidTransition
	}
	if err != nil {
		return fmt.Errorf("deliverylog: transition select failed: %w", err)
	}

	log.Status = to
	if mutate != nil {
		mutate(log)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE message_logs SET
			status = $1, retry_count = $2, actual_send_time = $3,
			error_message = $4, api_response_code = $5, api_response_body = $6,
			scheduled_send_time = $7, updated_at = now()
		WHERE id = $8
	`,
		log.Status, log.RetryCount, log.ActualSendTime,
		log.ErrorMessage, log.APIResponseCode, log.APIResponseBody,
		log.ScheduledSendTime, log.ID,
	); err != nil {
		return fmt.Errorf("deliverylog: transition update failed: %w", err)
	}

	return tx.Commit(ctx)
}

// SelectStaleScheduled finds rows still SCHEDULED whose scheduled_send_time
// has passed olderThan (the grace period cutoff), meaning the enqueue
// scheduler's window missed them. The window only looks forward from now,
// so a row whose instant already passed without being picked up needs this
// separate rescue path rather than the updated_at check SelectStuckInFlight
// uses for in-flight statuses.
func (s *store) SelectStaleScheduled(ctx context.Context, olderThan time.Time, limit int) ([]*models.DeliveryLog, error) {
	rows, err := s.db.Query(ctx, fmt.Sprintf(`
		SELECT %s FROM message_logs
		WHERE status = $1 AND scheduled_send_time < $2
		ORDER BY scheduled_send_time
		LIMIT $3
	`, selectColumns), models.DeliveryStatusScheduled, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("deliverylog: select stale scheduled failed: %w", err)
	}
	defer rows.Close()

	var results []*models.DeliveryLog
	for rows.Next() {
		log, err := scanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("deliverylog: scan failed: %w", err)
		}
		results = append(results, log)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("deliverylog: rows error: %w", err)
	}
	return results, nil
}

func (s *store) SelectStuckInFlight(ctx context.Context, olderThan time.Time, limit int) ([]*models.DeliveryLog, error) {
	return s.selectByStatusAndAge(ctx, []models.DeliveryStatus{
		models.DeliveryStatusQueued, models.DeliveryStatusSending, models.DeliveryStatusRetrying,
	}, olderThan, limit)
}

func (s *store) selectByStatusAndAge(ctx context.Context, statuses []models.DeliveryStatus, olderThan time.Time, limit int) ([]*models.DeliveryLog, error) {
	rows, err := s.db.Query(ctx, fmt.Sprintf(`
		SELECT %s FROM message_logs
		WHERE status = ANY($1) AND updated_at < $2
		ORDER BY updated_at
		LIMIT $3
	`, selectColumns), statuses, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("deliverylog: select stale failed: %w", err)
	}
	defer rows.Close()

	var results []*models.DeliveryLog
	for rows.Next() {
		log, err := scanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("deliverylog: scan failed: %w", err)
		}
		results = append(results, log)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("deliverylog: rows error: %w", err)
	}
	return results, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRow(row rowScanner) (*models.DeliveryLog, error) {
	log := &models.DeliveryLog{}
	var errorMessage, apiResponseBody *string
	var apiResponseCode *int

	if err := row.Scan(
		&log.ID, &log.UserID, &log.EventType, &log.ScheduledSendTime, &log.ActualSendTime,
		&log.Status, &log.RetryCount, &log.IdempotencyKey, &log.MessageContent, &errorMessage,
		&apiResponseCode, &apiResponseBody, &log.CreatedAt, &log.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if errorMessage != nil {
		log.ErrorMessage = *errorMessage
	}
	if apiResponseBody != nil {
		log.APIResponseBody = *apiResponseBody
	}
	if apiResponseCode != nil {
		log.APIResponseCode = *apiResponseCode
	}
	return log, nil
}
