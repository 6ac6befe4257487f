package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// UsageRecord is an append-only log entry for one handled request
type UsageRecord struct {
	ID           uuid.UUID `json:"id" db:"id"`
	ClientID     string    `json:"client_id" db:"client_id"`
	Endpoint     string    `json:"endpoint" db:"endpoint"`
	RequestText  string    `json:"request_text" db:"request_text"`
	ResponseText string    `json:"response_text" db:"response_text"`
	TokensEst    int       `json:"tokens_est" db:"tokens_est"`
	DurationMs   int       `json:"duration_ms" db:"duration_ms"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// UsageSummary aggregates a client's usage with an estimated spend
type UsageSummary struct {
	ClientID    string          `json:"client_id"`
	Calls       int64           `json:"calls"`
	TokensEst   int64           `json:"tokens_est"`
	CostEstUSD  decimal.Decimal `json:"cost_est_usd"`
	FirstCallAt *time.Time      `json:"first_call_at,omitempty"`
	LastCallAt  *time.Time      `json:"last_call_at,omitempty"`
}

// RateBucket is the per-client fixed-window counter.
// At most one bucket exists per client; a new minute resets the count.
type RateBucket struct {
	ClientID string `json:"client_id" db:"client_id"`
	MinuteTS int64  `json:"minute_ts" db:"minute_ts"`
	Requests int    `json:"requests" db:"requests"`
}
