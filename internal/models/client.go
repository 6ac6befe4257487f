package models

import (
	"time"
)

// Client represents a tenant of the assistant gateway
type Client struct {
	ID             string    `json:"id" db:"id"`
	Name           string    `json:"name" db:"name"`
	Email          *string   `json:"email,omitempty" db:"email"`
	Plan           string    `json:"plan" db:"plan"`
	APIToken       string    `json:"-" db:"api_token"`
	KnowledgeRef   *string   `json:"knowledge_ref,omitempty" db:"knowledge_ref"`
	CRMURL         *string   `json:"crm_url,omitempty" db:"crm_url"`
	CRMKey         *string   `json:"-" db:"crm_key"`
	RemainingCalls int       `json:"remaining_calls" db:"remaining_calls"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// NumberMapping maps an inbound phone number to a client
type NumberMapping struct {
	Number   string `json:"number" db:"number"`
	ClientID string `json:"client_id" db:"client_id"`
}
