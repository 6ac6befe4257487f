package knowledge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/leadline-ai/leadline/internal/config"
	"github.com/leadline-ai/leadline/internal/logging"
)

// Provider fetches a bounded block of business Q/A text for a knowledge
// source reference. Implementations must respect the context deadline;
// callers treat any failure as an empty context.
type Provider interface {
	FetchContext(ctx context.Context, sourceRef string) (string, error)
}

// QAPair is one question/answer row from a knowledge source
type QAPair struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// FormatPairs renders Q/A rows as the context block injected into prompts,
// capped at maxPairs
func FormatPairs(pairs []QAPair, maxPairs int) string {
	if maxPairs > 0 && len(pairs) > maxPairs {
		pairs = pairs[:maxPairs]
	}
	var lines []string
	for _, p := range pairs {
		if p.Question == "" || p.Answer == "" {
			continue
		}
		lines = append(lines, fmt.Sprintf("Q: %s\nA: %s", p.Question, p.Answer))
	}
	return strings.Join(lines, "\n")
}

// HTTPProvider reads Q/A rows from a sheet-backed knowledge service
type HTTPProvider struct {
	baseURL    string
	apiKey     string
	templateID string
	maxPairs   int
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewHTTPProvider creates a provider against the configured knowledge service
func NewHTTPProvider(cfg *config.KnowledgeConfig) *HTTPProvider {
	return &HTTPProvider{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		templateID: cfg.TemplateID,
		maxPairs:   cfg.MaxPairs,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logging.NewLogger("knowledge"),
	}
}

// FetchContext fetches the source's rows and renders them as a context block
func (p *HTTPProvider) FetchContext(ctx context.Context, sourceRef string) (string, error) {
	if p.baseURL == "" || sourceRef == "" {
		return "", nil
	}

	url := fmt.Sprintf("%s/sources/%s/rows?limit=%d", p.baseURL, sourceRef, p.maxPairs)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build knowledge request: %w", err)
	}
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("knowledge fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("knowledge service returned status %d", resp.StatusCode)
	}

	var payload struct {
		Rows []QAPair `json:"rows"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("failed to decode knowledge rows: %w", err)
	}

	return FormatPairs(payload.Rows, p.maxPairs), nil
}

// ProvisionSource copies the configured template into a fresh source for a
// new client and returns its reference. Satisfies client.Provisioner.
func (p *HTTPProvider) ProvisionSource(ctx context.Context, clientID, name, email string) (string, error) {
	if p.baseURL == "" {
		return "", nil
	}

	body, err := json.Marshal(map[string]string{
		"template_id": p.templateID,
		"name":        fmt.Sprintf("LeadLine_%s_%s", name, clientID),
		"share_with":  email,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode provisioning request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/sources", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build provisioning request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("source provisioning failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("knowledge service returned status %d", resp.StatusCode)
	}

	var payload struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("failed to decode provisioned source: %w", err)
	}

	p.logger.Info().Str("client_id", clientID).Str("source", payload.ID).Msg("Knowledge source provisioned")
	return payload.ID, nil
}
