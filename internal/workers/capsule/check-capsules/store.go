// internal/workers/capsule/check-capsules/store.go
package checkcapsules

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	dueCapsulesQuery = `SELECT id, title, recipient_id, created_by
		FROM time_capsules
		WHERE unlock_date <= $1 AND notification_sent = false AND is_locked = true
		ORDER BY unlock_date ASC`

	profileQuery = `SELECT username, apns_token FROM profiles WHERE id = $1`

	// is_locked is left alone; the app unlocks on open.
	markNotifiedQuery = `UPDATE time_capsules SET notification_sent = true
		WHERE id = $1 AND notification_sent = false`
)

// Store is the capsule data access used by a run.
type Store interface {
	DueCapsules(ctx context.Context, now time.Time, limit int) ([]DueCapsule, error)
	Profile(ctx context.Context, id uuid.UUID) (*Profile, error)
	// MarkNotified reports false when the flag was already set.
	MarkNotified(ctx context.Context, id uuid.UUID) (bool, error)
}

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DueCapsules(ctx context.Context, now time.Time, limit int) ([]DueCapsule, error) {
	query := dueCapsulesQuery
	args := []interface{}{now}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query due capsules: %w", err)
	}
	defer rows.Close()

	var capsules []DueCapsule
	for rows.Next() {
		var c DueCapsule
		if err := rows.Scan(&c.ID, &c.Title, &c.RecipientID, &c.CreatedBy); err != nil {
			return nil, fmt.Errorf("scan due capsule: %w", err)
		}
		capsules = append(capsules, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate due capsules: %w", err)
	}
	return capsules, nil
}

// Profile returns sql.ErrNoRows when the profile does not exist.
func (s *PostgresStore) Profile(ctx context.Context, id uuid.UUID) (*Profile, error) {
	var p Profile
	if err := s.db.QueryRowContext(ctx, profileQuery, id).Scan(&p.Username, &p.APNsToken); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PostgresStore) MarkNotified(ctx context.Context, id uuid.UUID) (bool, error) {
	res, err := s.db.ExecContext(ctx, markNotifiedQuery, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
