package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/leadline-ai/leadline/internal/logging"
	"github.com/leadline-ai/leadline/internal/models"
)

// Lead is the record pushed to a client's CRM after a telephony exchange
type Lead struct {
	Caller     string `json:"caller"`
	Transcript string `json:"transcript"`
	Reply      string `json:"reply"`
}

// Pusher posts leads to per-client CRM endpoints. Strictly best-effort:
// failures are logged and never surfaced to the caller.
type Pusher struct {
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewPusher creates a CRM pusher
func NewPusher() *Pusher {
	return &Pusher{
		httpClient: &http.Client{Timeout: 5 * time.Second},
		logger:     logging.NewLogger("crm"),
	}
}

// Push sends the lead to the client's CRM endpoint, if one is configured
func (p *Pusher) Push(ctx context.Context, client *models.Client, lead *Lead) {
	if client.CRMURL == nil || *client.CRMURL == "" {
		return
	}

	body, err := json.Marshal(lead)
	if err != nil {
		p.logger.Error().Err(err).Str("client_id", client.ID).Msg("CRM lead encoding failed")
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, *client.CRMURL, bytes.NewReader(body))
	if err != nil {
		p.logger.Error().Err(err).Str("client_id", client.ID).Msg("CRM request build failed")
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if client.CRMKey != nil && *client.CRMKey != "" {
		req.Header.Set("Authorization", "Bearer "+*client.CRMKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		p.logger.Warn().Err(err).Str("client_id", client.ID).Msg("CRM push failed")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		p.logger.Warn().
			Str("client_id", client.ID).
			Int("status", resp.StatusCode).
			Msg("CRM endpoint rejected lead")
		return
	}

	p.logger.Debug().Str("client_id", client.ID).Msg("Lead pushed to CRM")
}
