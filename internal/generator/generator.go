package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/leadline-ai/leadline/internal/config"
)

// ErrUnavailable is returned when the generator cannot produce a reply
// (transport failure, non-2xx upstream, timeout or open circuit). Callers
// substitute the fallback reply and continue.
var ErrUnavailable = errors.New("reply generator unavailable")

// FallbackReply is returned to callers when the generator fails
const FallbackReply = "Sorry, I'm having trouble right now."

const systemPrompt = "You are a polite professional AI receptionist. Keep replies concise and don't use foul language."

// Reply is one generated answer with its token accounting
type Reply struct {
	Text      string
	TokensEst int
}

// Generator produces a reply for a user query, optionally grounded in a
// business-context block
type Generator interface {
	Generate(ctx context.Context, query, businessContext string) (*Reply, error)
}

// Estimator approximates token cost for a reply when the upstream does not
// report usage. Pluggable so the heuristic never leaks into callers.
type Estimator func(text string) int

// WordCountEstimator is the default heuristic carried over from the
// deployed system: roughly 1.4 tokens per word.
func WordCountEstimator(text string) int {
	words := len(strings.Fields(text))
	return int(float64(words) / 0.7)
}

// ChatMessage is one message in a chat-completions request
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// OpenAIGenerator calls an OpenAI-compatible chat-completions endpoint
type OpenAIGenerator struct {
	apiKey     string
	baseURL    string
	model      string
	maxTokens  int
	httpClient *http.Client
	estimate   Estimator
}

// NewOpenAIGenerator creates a generator against the configured endpoint.
// A nil estimator falls back to WordCountEstimator.
func NewOpenAIGenerator(cfg *config.GeneratorConfig, estimate Estimator) *OpenAIGenerator {
	if estimate == nil {
		estimate = WordCountEstimator
	}
	return &OpenAIGenerator{
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		model:      cfg.Model,
		maxTokens:  cfg.MaxTokens,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		estimate:   estimate,
	}
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []ChatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message ChatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// Generate sends the query (and business context, when present) to the
// chat-completions endpoint
func (g *OpenAIGenerator) Generate(ctx context.Context, query, businessContext string) (*Reply, error) {
	if g.apiKey == "" {
		return nil, fmt.Errorf("%w: no API key configured", ErrUnavailable)
	}

	messages := []ChatMessage{{Role: "system", Content: systemPrompt}}
	if businessContext != "" {
		messages = append(messages, ChatMessage{
			Role:    "system",
			Content: "Business context:\n" + businessContext,
		})
	}
	messages = append(messages, ChatMessage{Role: "user", Content: query})

	body, err := json.Marshal(chatRequest{
		Model:     g.model,
		Messages:  messages,
		MaxTokens: g.maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.apiKey)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: upstream status %d", ErrUnavailable, resp.StatusCode)
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("%w: bad upstream payload: %v", ErrUnavailable, err)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("%w: empty upstream response", ErrUnavailable)
	}

	text := strings.TrimSpace(parsed.Choices[0].Message.Content)
	tokens := parsed.Usage.TotalTokens
	if tokens == 0 {
		tokens = g.estimate(text)
	}

	return &Reply{Text: text, TokensEst: tokens}, nil
}
