package callback

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/leadline-ai/leadline/internal/models"
	"github.com/leadline-ai/leadline/internal/monitoring"
)

// ErrCallbackNotFound is returned when a callback id does not exist
var ErrCallbackNotFound = errors.New("callback not found")

// Store persists scheduled callbacks and owns their status transitions.
// A callback leaves pending exactly once; terminal states are final.
type Store struct {
	db *pgxpool.Pool
}

// NewStore creates a callback store
func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// Schedule creates a pending callback for a client
func (s *Store) Schedule(ctx context.Context, clientID, phone string, scheduledAt int64, payload string) (*models.Callback, error) {
	var cb models.Callback
	err := s.db.QueryRow(ctx, `
		INSERT INTO callbacks (client_id, phone, scheduled_at, status, attempts, payload)
		VALUES ($1, $2, $3, 'pending', 0, $4)
		RETURNING id, client_id, phone, scheduled_at, status, attempts, payload, created_at
	`, clientID, phone, scheduledAt, payload).Scan(
		&cb.ID, &cb.ClientID, &cb.Phone, &cb.ScheduledAt,
		&cb.Status, &cb.Attempts, &cb.Payload, &cb.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to schedule callback: %w", err)
	}

	monitoring.RecordCallbackScheduled()
	return &cb, nil
}

// DuePending returns up to limit pending callbacks due at or before now,
// earliest due first
func (s *Store) DuePending(ctx context.Context, now int64, limit int) ([]models.Callback, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, client_id, phone, scheduled_at, status, attempts, payload, created_at
		FROM callbacks
		WHERE status = 'pending' AND scheduled_at <= $1
		ORDER BY scheduled_at ASC
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query due callbacks: %w", err)
	}
	defer rows.Close()

	var callbacks []models.Callback
	for rows.Next() {
		var cb models.Callback
		err := rows.Scan(
			&cb.ID, &cb.ClientID, &cb.Phone, &cb.ScheduledAt,
			&cb.Status, &cb.Attempts, &cb.Payload, &cb.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan callback: %w", err)
		}
		callbacks = append(callbacks, cb)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating callbacks: %w", err)
	}
	return callbacks, nil
}

// MarkDone transitions a callback pending -> done and counts the attempt.
// The update is gated on status = 'pending', so only one worker can claim
// the transition; it reports whether this call won the claim.
func (s *Store) MarkDone(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE callbacks
		SET status = 'done', attempts = attempts + 1
		WHERE id = $1 AND status = 'pending'
	`, id)
	if err != nil {
		return false, fmt.Errorf("failed to mark callback done: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkAttemptFailed counts a failed attempt. The callback stays pending and
// eligible for the next poll until the attempt ceiling is reached, at which
// point it transitions to failed terminally.
func (s *Store) MarkAttemptFailed(ctx context.Context, id uuid.UUID, maxAttempts int) (models.CallbackStatus, error) {
	var status models.CallbackStatus
	err := s.db.QueryRow(ctx, `
		UPDATE callbacks
		SET attempts = attempts + 1,
		    status = CASE WHEN attempts + 1 >= $2 THEN 'failed' ELSE 'pending' END
		WHERE id = $1 AND status = 'pending'
		RETURNING status
	`, id, maxAttempts).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Already terminal; nothing to do
			return "", ErrCallbackNotFound
		}
		return "", fmt.Errorf("failed to record callback attempt: %w", err)
	}
	return status, nil
}

// Get returns a callback by id
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*models.Callback, error) {
	var cb models.Callback
	err := s.db.QueryRow(ctx, `
		SELECT id, client_id, phone, scheduled_at, status, attempts, payload, created_at
		FROM callbacks
		WHERE id = $1
	`, id).Scan(
		&cb.ID, &cb.ClientID, &cb.Phone, &cb.ScheduledAt,
		&cb.Status, &cb.Attempts, &cb.Payload, &cb.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCallbackNotFound
		}
		return nil, fmt.Errorf("failed to get callback: %w", err)
	}
	return &cb, nil
}
