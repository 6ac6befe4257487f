package admission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/leadline-ai/leadline/internal/config"
	"github.com/leadline-ai/leadline/internal/models"
	"github.com/leadline-ai/leadline/internal/monitoring"
)

// Admission errors
var (
	ErrRateLimited    = errors.New("rate limit exceeded")
	ErrQuotaExhausted = errors.New("trial quota exhausted")
)

// Controller gates authenticated requests: a fixed-window per-minute rate
// limit followed by a trial-quota check. The rate gate mutates its bucket on
// every check; the quota gate only reads — the decrement happens after a
// reply is produced, via ConsumeQuota.
type Controller struct {
	db    *pgxpool.Pool
	limit int
}

// NewController creates a new admission controller
func NewController(db *pgxpool.Pool, cfg *config.RateLimitConfig) *Controller {
	return &Controller{
		db:    db,
		limit: cfg.RequestsPerMinute,
	}
}

// MinuteBucket returns the minute-aligned window start for a unix timestamp
func MinuteBucket(unix int64) int64 {
	return unix / 60 * 60
}

// Admit evaluates both gates in order for an authenticated client.
// Returns ErrRateLimited or ErrQuotaExhausted on denial.
func (c *Controller) Admit(ctx context.Context, client *models.Client) error {
	if err := c.checkRate(ctx, client.ID); err != nil {
		if errors.Is(err, ErrRateLimited) {
			monitoring.RecordAdmissionDenial("rate_limited")
		}
		return err
	}
	if client.RemainingCalls <= 0 {
		monitoring.RecordAdmissionDenial("quota_exhausted")
		return ErrQuotaExhausted
	}
	return nil
}

// checkRate counts this request against the client's current minute window.
// The whole read-check-increment runs as one conditional upsert so concurrent
// requests for the same client cannot both claim the last slot. A bucket from
// a previous minute is reset to 1; within the window the count increments up
// to the ceiling.
func (c *Controller) checkRate(ctx context.Context, clientID string) error {
	bucket := MinuteBucket(time.Now().Unix())

	var requests int
	err := c.db.QueryRow(ctx, `
		INSERT INTO rate_buckets (client_id, minute_ts, requests)
		VALUES ($1, $2, 1)
		ON CONFLICT (client_id) DO UPDATE SET
			requests = CASE
				WHEN rate_buckets.minute_ts = EXCLUDED.minute_ts THEN rate_buckets.requests + 1
				ELSE 1
			END,
			minute_ts = EXCLUDED.minute_ts
		WHERE rate_buckets.minute_ts <> EXCLUDED.minute_ts
		   OR rate_buckets.requests < $3
		RETURNING requests
	`, clientID, bucket, c.limit).Scan(&requests)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// The WHERE guard rejected the increment: window full
			return ErrRateLimited
		}
		return fmt.Errorf("rate gate update failed: %w", err)
	}
	return nil
}

// ConsumeQuota decrements the client's remaining trial calls by one.
// Called exactly once per completed request, after a reply (real or
// fallback) has been produced. The conditional update never drives the
// counter negative and never loses concurrent decrements.
func (c *Controller) ConsumeQuota(ctx context.Context, clientID string) (int, error) {
	var remaining int
	err := c.db.QueryRow(ctx, `
		UPDATE clients
		SET remaining_calls = remaining_calls - 1
		WHERE id = $1 AND remaining_calls > 0
		RETURNING remaining_calls
	`, clientID).Scan(&remaining)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Already at zero: a concurrent request consumed the last call
			// after this one was admitted. The counter stays at zero.
			log.Warn().Str("client_id", clientID).Msg("Quota already exhausted at consume time")
			monitoring.SetQuotaRemaining(clientID, 0)
			return 0, nil
		}
		return 0, fmt.Errorf("quota decrement failed: %w", err)
	}

	monitoring.SetQuotaRemaining(clientID, float64(remaining))
	return remaining, nil
}

// RateStatus reports the client's current window, for admin inspection
func (c *Controller) RateStatus(ctx context.Context, clientID string) (*models.RateBucket, error) {
	var b models.RateBucket
	err := c.db.QueryRow(ctx, `
		SELECT client_id, minute_ts, requests FROM rate_buckets WHERE client_id = $1
	`, clientID).Scan(&b.ClientID, &b.MinuteTS, &b.Requests)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &models.RateBucket{ClientID: clientID}, nil
		}
		return nil, fmt.Errorf("failed to read rate bucket: %w", err)
	}
	return &b, nil
}

// Limit returns the configured per-minute ceiling
func (c *Controller) Limit() int {
	return c.limit
}
