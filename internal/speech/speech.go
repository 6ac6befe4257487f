package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/leadline-ai/leadline/internal/config"
	"github.com/leadline-ai/leadline/internal/logging"
)

// Transcriber converts audio bytes to text. Failures degrade to "".
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (string, error)
}

// Synthesizer converts text to audio bytes. Failures degrade to nil audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// HTTPSpeech talks to external STT/TTS services. Either endpoint may be
// unset, which disables the respective direction.
type HTTPSpeech struct {
	sttEndpoint string
	ttsEndpoint string
	apiKey      string
	voice       string
	httpClient  *http.Client
	logger      zerolog.Logger
}

// New creates the speech collaborator from configuration
func New(cfg *config.SpeechConfig) *HTTPSpeech {
	return &HTTPSpeech{
		sttEndpoint: cfg.STTEndpoint,
		ttsEndpoint: cfg.TTSEndpoint,
		apiKey:      cfg.APIKey,
		voice:       cfg.DefaultVoice,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		logger:      logging.NewLogger("speech"),
	}
}

// Transcribe posts raw audio to the STT endpoint and returns the transcript
func (s *HTTPSpeech) Transcribe(ctx context.Context, audio []byte) (string, error) {
	if s.sttEndpoint == "" {
		return "", nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.sttEndpoint, bytes.NewReader(audio))
	if err != nil {
		return "", fmt.Errorf("failed to build STT request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("STT request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("STT service returned status %d", resp.StatusCode)
	}

	var payload struct {
		Transcript string `json:"transcript"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("failed to decode STT response: %w", err)
	}
	return payload.Transcript, nil
}

// Synthesize posts text to the TTS endpoint and returns audio bytes
func (s *HTTPSpeech) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if s.ttsEndpoint == "" {
		return nil, nil
	}

	body, err := json.Marshal(map[string]string{
		"text":  text,
		"voice": s.voice,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode TTS request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.ttsEndpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build TTS request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("TTS request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("TTS service returned status %d", resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}

// FetchRecording downloads a call recording from the telephony provider.
// Best-effort: callers degrade to any inline transcript on failure.
func (s *HTTPSpeech) FetchRecording(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build recording request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("recording download failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("recording fetch returned status %d", resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}
