package usage

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/leadline-ai/leadline/internal/config"
	"github.com/leadline-ai/leadline/internal/models"
)

// Per-call price by plan tag, used for estimated spend in admin summaries
var planCallPrice = map[string]decimal.Decimal{
	"SME":        decimal.NewFromFloat(0.02),
	"Business":   decimal.NewFromFloat(0.015),
	"Enterprise": decimal.NewFromFloat(0.01),
}

var defaultCallPrice = decimal.NewFromFloat(0.02)

// CallPrice returns the per-call price for a plan tag
func CallPrice(plan string) decimal.Decimal {
	if p, ok := planCallPrice[plan]; ok {
		return p
	}
	return defaultCallPrice
}

// Recorder writes and reads the append-only usage log
type Recorder struct {
	db            *pgxpool.Pool
	truncateChars int
	listLimit     int
}

// NewRecorder creates a new usage recorder
func NewRecorder(db *pgxpool.Pool, cfg *config.UsageConfig) *Recorder {
	return &Recorder{
		db:            db,
		truncateChars: cfg.TruncateChars,
		listLimit:     cfg.ListLimit,
	}
}

// Record appends one usage entry. Request and response text are truncated
// to the configured bound before storage.
func (r *Recorder) Record(ctx context.Context, clientID, endpoint, reqText, respText string, tokensEst int, duration time.Duration) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO usage_records (client_id, endpoint, request_text, response_text, tokens_est, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, clientID, endpoint, truncate(reqText, r.truncateChars), truncate(respText, r.truncateChars),
		tokensEst, duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("failed to record usage: %w", err)
	}
	return nil
}

// ListByClient returns a client's usage history, newest first, bounded
func (r *Recorder) ListByClient(ctx context.Context, clientID string) ([]models.UsageRecord, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, client_id, endpoint, request_text, response_text, tokens_est, duration_ms, created_at
		FROM usage_records
		WHERE client_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, clientID, r.listLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to list usage: %w", err)
	}
	defer rows.Close()

	var records []models.UsageRecord
	for rows.Next() {
		var rec models.UsageRecord
		err := rows.Scan(
			&rec.ID, &rec.ClientID, &rec.Endpoint, &rec.RequestText,
			&rec.ResponseText, &rec.TokensEst, &rec.DurationMs, &rec.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan usage record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating usage records: %w", err)
	}
	return records, nil
}

// Summary aggregates a client's usage and estimates spend from the plan's
// per-call price
func (r *Recorder) Summary(ctx context.Context, clientID, plan string) (*models.UsageSummary, error) {
	var s models.UsageSummary
	s.ClientID = clientID
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*), COALESCE(SUM(tokens_est), 0), MIN(created_at), MAX(created_at)
		FROM usage_records
		WHERE client_id = $1
	`, clientID).Scan(&s.Calls, &s.TokensEst, &s.FirstCallAt, &s.LastCallAt)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize usage: %w", err)
	}

	s.CostEstUSD = CallPrice(plan).Mul(decimal.NewFromInt(s.Calls))
	return &s, nil
}

// truncate bounds s to at most maxLen bytes without splitting a rune;
// invalid UTF-8 would be rejected by the TEXT columns at insert time.
func truncate(s string, maxLen int) string {
	if maxLen <= 0 || len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
