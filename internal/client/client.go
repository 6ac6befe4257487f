package client

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/leadline-ai/leadline/internal/config"
	"github.com/leadline-ai/leadline/internal/models"
)

// Service errors
var (
	ErrClientNotFound = errors.New("client not found")
	ErrTokenNotFound  = errors.New("no client matches this token")
	ErrNumberNotFound = errors.New("no client mapped to this number")
)

// TokenPrefix identifies LeadLine API tokens
const TokenPrefix = "lk_"

// Provisioner creates or resets knowledge sources for new clients.
// A nil Provisioner disables knowledge provisioning.
type Provisioner interface {
	ProvisionSource(ctx context.Context, clientID, name, email string) (string, error)
}

// Service handles client identity, tokens and number mappings
type Service struct {
	db          *pgxpool.Pool
	trialCalls  int
	provisioner Provisioner
}

// NewService creates a new client service
func NewService(db *pgxpool.Pool, quotaCfg *config.QuotaConfig, provisioner Provisioner) *Service {
	return &Service{
		db:          db,
		trialCalls:  quotaCfg.FreeTrialCalls,
		provisioner: provisioner,
	}
}

// OnboardRequest represents an admin onboarding request
type OnboardRequest struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Plan  string `json:"plan"`
}

// OnboardResponse is returned once at onboarding; it is the only time
// the raw token leaves the system.
type OnboardResponse struct {
	ClientID     string  `json:"client_id"`
	APIToken     string  `json:"api_token"`
	KnowledgeRef *string `json:"knowledge_ref,omitempty"`
}

// Onboard provisions a client. Reusing an existing identifier overwrites the
// record (token and trial quota are reset), so operators can re-onboard.
func (s *Service) Onboard(ctx context.Context, req *OnboardRequest) (*OnboardResponse, error) {
	clientID := req.ID
	if clientID == "" {
		clientID = fmt.Sprintf("c%d", time.Now().Unix())
	}
	name := req.Name
	if name == "" {
		name = clientID
	}
	plan := req.Plan
	if plan == "" {
		plan = "SME"
	}

	token, err := generateToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}

	var knowledgeRef *string
	if s.provisioner != nil {
		ref, provErr := s.provisioner.ProvisionSource(ctx, clientID, name, req.Email)
		if provErr != nil {
			// Onboarding proceeds without a knowledge source
			log.Warn().Err(provErr).Str("client_id", clientID).Msg("Knowledge source provisioning failed")
		} else if ref != "" {
			knowledgeRef = &ref
		}
	}

	var email *string
	if req.Email != "" {
		email = &req.Email
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO clients (id, name, email, api_token, plan, knowledge_ref, remaining_calls, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			email = EXCLUDED.email,
			api_token = EXCLUDED.api_token,
			plan = EXCLUDED.plan,
			knowledge_ref = COALESCE(EXCLUDED.knowledge_ref, clients.knowledge_ref),
			remaining_calls = EXCLUDED.remaining_calls
	`, clientID, name, email, token, plan, knowledgeRef, s.trialCalls)
	if err != nil {
		return nil, fmt.Errorf("failed to persist client: %w", err)
	}

	log.Info().Str("client_id", clientID).Str("plan", plan).Msg("Client onboarded")

	return &OnboardResponse{
		ClientID:     clientID,
		APIToken:     token,
		KnowledgeRef: knowledgeRef,
	}, nil
}

// ResolveToken resolves an opaque API token to a client record.
// A single keyed read; no side effects.
func (s *Service) ResolveToken(ctx context.Context, token string) (*models.Client, error) {
	var c models.Client
	err := s.db.QueryRow(ctx, `
		SELECT id, name, email, api_token, plan, knowledge_ref, crm_url, crm_key, remaining_calls, created_at
		FROM clients
		WHERE api_token = $1
	`, token).Scan(
		&c.ID, &c.Name, &c.Email, &c.APIToken, &c.Plan,
		&c.KnowledgeRef, &c.CRMURL, &c.CRMKey, &c.RemainingCalls, &c.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTokenNotFound
		}
		return nil, fmt.Errorf("failed to resolve token: %w", err)
	}
	return &c, nil
}

// Get returns a client by identifier
func (s *Service) Get(ctx context.Context, clientID string) (*models.Client, error) {
	var c models.Client
	err := s.db.QueryRow(ctx, `
		SELECT id, name, email, api_token, plan, knowledge_ref, crm_url, crm_key, remaining_calls, created_at
		FROM clients
		WHERE id = $1
	`, clientID).Scan(
		&c.ID, &c.Name, &c.Email, &c.APIToken, &c.Plan,
		&c.KnowledgeRef, &c.CRMURL, &c.CRMKey, &c.RemainingCalls, &c.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrClientNotFound
		}
		return nil, fmt.Errorf("failed to get client: %w", err)
	}
	return &c, nil
}

// MapNumber assigns an inbound phone number to a client (upsert)
func (s *Service) MapNumber(ctx context.Context, number, clientID string) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO number_mappings (number, client_id)
		VALUES ($1, $2)
		ON CONFLICT (number) DO UPDATE SET client_id = EXCLUDED.client_id
	`, number, clientID)
	if err != nil {
		return fmt.Errorf("failed to map number: %w", err)
	}
	return nil
}

// ResolveNumber resolves a called phone number to its client record.
// Used only on the telephony inbound path when no token is present.
func (s *Service) ResolveNumber(ctx context.Context, number string) (*models.Client, error) {
	var clientID string
	err := s.db.QueryRow(ctx, `
		SELECT client_id FROM number_mappings WHERE number = $1
	`, number).Scan(&clientID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNumberNotFound
		}
		return nil, fmt.Errorf("failed to resolve number: %w", err)
	}
	return s.Get(ctx, clientID)
}

// SetCRM sets or clears a client's CRM push endpoint
func (s *Service) SetCRM(ctx context.Context, clientID, crmURL, crmKey string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE clients SET crm_url = NULLIF($1, ''), crm_key = NULLIF($2, '') WHERE id = $3
	`, crmURL, crmKey, clientID)
	if err != nil {
		return fmt.Errorf("failed to set CRM link: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrClientNotFound
	}
	return nil
}

// List returns all clients, newest first, without token material
func (s *Service) List(ctx context.Context) ([]models.Client, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, name, email, '', plan, knowledge_ref, crm_url, NULL, remaining_calls, created_at
		FROM clients
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list clients: %w", err)
	}
	defer rows.Close()

	var clients []models.Client
	for rows.Next() {
		var c models.Client
		err := rows.Scan(
			&c.ID, &c.Name, &c.Email, &c.APIToken, &c.Plan,
			&c.KnowledgeRef, &c.CRMURL, &c.CRMKey, &c.RemainingCalls, &c.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan client: %w", err)
		}
		clients = append(clients, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating clients: %w", err)
	}
	return clients, nil
}

// generateToken produces a high-entropy opaque API token
func generateToken() (string, error) {
	randomBytes := make([]byte, 24)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", err
	}
	return TokenPrefix + hex.EncodeToString(randomBytes), nil
}
