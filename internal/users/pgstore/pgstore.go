// Package pgstore implements the read-only users.driver.Store against
// the `users` table (partial indexes on active rows): a pgxpool.Pool,
// hand-written SQL, and pgx.Rows scanning rather than an ORM.
package pgstore

import (
	"context"
	"fmt"
	"time"

	"github.com/daybreak-hq/daybreak/internal/models"
	"github.com/daybreak-hq/daybreak/internal/users/driver"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type store struct {
	db *pgxpool.Pool
}

func New(db *pgxpool.Pool) driver.Store {
	return &store{db: db}
}

func (s *store) Init(ctx context.Context) error {
	return s.db.Ping(ctx)
}

const selectColumns = `
	id, first_name, email, timezone,
	birthday_date, anniversary_date,
	deleted_at, created_at, updated_at
`

func (s *store) RetrieveUser(ctx context.Context, userID string) (*models.User, error) {
	row := s.db.QueryRow(ctx, fmt.Sprintf(`SELECT %s FROM users WHERE id = $1`, selectColumns), userID)
	u, err := scanUser(row)
	if err == pgx.ErrNoRows {
		return nil, driver.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("users: retrieve: %w", err)
	}
	return u, nil
}

// ListActiveUsersWithEventDate pages through non-soft-deleted users that
// have a non-null date for eventType, invoking fn for each. It keeps a
// bounded batch size in memory rather than loading the whole table, since
// the daily pre-calc scheduler runs over the entire active user base
// (potentially millions of rows).
func (s *store) ListActiveUsersWithEventDate(ctx context.Context, eventType models.EventType, fn func(*models.User) error) error {
	dateColumn, err := dateColumnFor(eventType)
	if err != nil {
		return err
	}

	const batchSize = 1000
	var lastID string

	for {
		query := fmt.Sprintf(`
			SELECT %s FROM users
			WHERE deleted_at IS NULL
			  AND %s IS NOT NULL
			  AND id > $1
			ORDER BY id
			LIMIT $2
		`, selectColumns, dateColumn)

		rows, err := s.db.Query(ctx, query, lastID, batchSize)
		if err != nil {
			return fmt.Errorf("users: list query failed: %w", err)
		}

		var n int
		for rows.Next() {
			u, err := scanUser(rows)
			if err != nil {
				rows.Close()
				return fmt.Errorf("users: scan failed: %w", err)
			}
			if err := fn(u); err != nil {
				rows.Close()
				return err
			}
			lastID = u.ID
			n++
		}
		rowsErr := rows.Err()
		rows.Close()
		if rowsErr != nil {
			return fmt.Errorf("users: rows error: %w", rowsErr)
		}
		if n < batchSize {
			return nil
		}
	}
}

func dateColumnFor(eventType models.EventType) (string, error) {
	switch eventType {
	case models.EventTypeBirthday:
		return "birthday_date", nil
	case models.EventTypeAnniversary:
		return "anniversary_date", nil
	default:
		return "", fmt.Errorf("users: no date column registered for event type %q", eventType)
	}
}

// rowScanner abstracts over pgx.Row and pgx.Rows, both of which expose Scan.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*models.User, error) {
	var (
		id, firstName, email, timezone string
		birthdayDate, anniversaryDate  *time.Time
		deletedAt                      *time.Time
		createdAt, updatedAt           time.Time
	)

	if err := row.Scan(
		&id, &firstName, &email, &timezone,
		&birthdayDate, &anniversaryDate,
		&deletedAt, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	u := &models.User{
		ID:         id,
		FirstName:  firstName,
		Email:      email,
		Timezone:   timezone,
		EventDates: map[models.EventType]models.EventDate{},
		DeletedAt:  deletedAt,
		CreatedAt:  createdAt,
		UpdatedAt:  updatedAt,
	}
	if birthdayDate != nil {
		u.EventDates[models.EventTypeBirthday] = models.EventDate{
			Month: birthdayDate.Month(), Day: birthdayDate.Day(), Year: birthdayDate.Year(),
		}
	}
	if anniversaryDate != nil {
		u.EventDates[models.EventTypeAnniversary] = models.EventDate{
			Month: anniversaryDate.Month(), Day: anniversaryDate.Day(), Year: anniversaryDate.Year(),
		}
	}
	return u, nil
}
