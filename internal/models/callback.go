package models

import (
	"time"

	"github.com/google/uuid"
)

// CallbackStatus represents the lifecycle state of a scheduled callback
type CallbackStatus string

const (
	CallbackStatusPending CallbackStatus = "pending"
	CallbackStatusDone    CallbackStatus = "done"
	CallbackStatusFailed  CallbackStatus = "failed"
)

// Callback represents a deferred outbound call attempt.
// Status only ever moves pending -> done or pending -> failed; terminal
// states are final.
type Callback struct {
	ID          uuid.UUID      `json:"id" db:"id"`
	ClientID    string         `json:"client_id" db:"client_id"`
	Phone       string         `json:"phone" db:"phone"`
	ScheduledAt int64          `json:"scheduled_at" db:"scheduled_at"`
	Status      CallbackStatus `json:"status" db:"status"`
	Attempts    int            `json:"attempts" db:"attempts"`
	Payload     string         `json:"payload,omitempty" db:"payload"`
	CreatedAt   time.Time      `json:"created_at" db:"created_at"`
}
