package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/leadline-ai/leadline/internal/admission"
	"github.com/leadline-ai/leadline/internal/client"
	"github.com/leadline-ai/leadline/internal/crm"
	apierrors "github.com/leadline-ai/leadline/internal/errors"
	"github.com/leadline-ai/leadline/internal/middleware"
	"github.com/leadline-ai/leadline/internal/models"
	"github.com/leadline-ai/leadline/internal/orchestrator"
)

// webhookRequest accepts Dialogflow-style and plain-text payloads
type webhookRequest struct {
	QueryResult struct {
		QueryText string `json:"queryText"`
	} `json:"queryResult"`
	Text    string `json:"text"`
	Message string `json:"message"`
}

func (r *webhookRequest) query() string {
	if r.QueryResult.QueryText != "" {
		return r.QueryResult.QueryText
	}
	if r.Text != "" {
		return r.Text
	}
	return r.Message
}

// handleWebhook answers a text query for an authenticated client
func (s *APIServer) handleWebhook(c *gin.Context) {
	cl := middleware.GetClientFromContext(c)
	if cl == nil {
		middleware.RespondWithError(c, apierrors.ErrUnauthorizedError)
		return
	}

	var req webhookRequest
	_ = c.ShouldBindJSON(&req)

	result, err := s.orchestrator.HandleForClient(c.Request.Context(), cl, req.query(), "/webhook")
	if err != nil {
		s.respondRequestError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"fulfillmentText": result.ReplyText})
}

// handleAudioRequest answers an uploaded audio query, returning text and,
// when synthesis is available, base64 audio
func (s *APIServer) handleAudioRequest(c *gin.Context) {
	cl := middleware.GetClientFromContext(c)
	if cl == nil {
		middleware.RespondWithError(c, apierrors.ErrUnauthorizedError)
		return
	}

	file, err := c.FormFile("audio")
	if err != nil {
		middleware.RespondWithError(c, apierrors.NewInvalidRequestError("upload audio file field named 'audio' (wav/pcm)"))
		return
	}

	f, err := file.Open()
	if err != nil {
		middleware.RespondWithError(c, apierrors.ErrInternalServerError)
		return
	}
	defer f.Close()

	buf, err := io.ReadAll(f)
	if err != nil {
		middleware.RespondWithError(c, apierrors.ErrInternalServerError)
		return
	}

	userText := s.transcribe(c.Request.Context(), buf)

	result, err := s.orchestrator.HandleForClient(c.Request.Context(), cl, userText, "/webrtc_offer")
	if err != nil {
		s.respondRequestError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"text":      result.ReplyText,
		"audio_b64": s.synthesizeB64(c.Request.Context(), result.ReplyText),
	})
}

// sipInboundRequest accepts the field spellings used by telephony providers
type sipInboundRequest struct {
	To           string `form:"To" json:"To"`
	Called       string `form:"called" json:"called"`
	CalledNumber string `form:"called_number" json:"called_number"`
	From         string `form:"From" json:"From"`
	APIToken     string `form:"api_token" json:"api_token"`
	RecordingURL string `form:"RecordingUrl" json:"RecordingUrl"`
	RecordingAlt string `form:"recording_url" json:"recording_url"`
	SpeechText   string `form:"speech_text" json:"speech_text"`
	Text         string `form:"text" json:"text"`
}

func (r *sipInboundRequest) calledNumber() string {
	if r.To != "" {
		return r.To
	}
	if r.Called != "" {
		return r.Called
	}
	return r.CalledNumber
}

func (r *sipInboundRequest) recordingURL() string {
	if r.RecordingURL != "" {
		return r.RecordingURL
	}
	return r.RecordingAlt
}

// handleSIPInbound answers a telephony provider webhook. The client is
// resolved by token when present, else by the called-number mapping.
func (s *APIServer) handleSIPInbound(c *gin.Context) {
	var req sipInboundRequest
	if err := c.ShouldBind(&req); err != nil {
		_ = c.ShouldBindJSON(&req)
	}

	token := req.APIToken
	if token == "" {
		token = c.GetHeader(middleware.HeaderClientKey)
	}

	cl, err := s.orchestrator.Resolve(c.Request.Context(), &orchestrator.Request{
		Token:        token,
		CalledNumber: req.calledNumber(),
	})
	if err != nil {
		s.respondRequestError(c, err)
		return
	}

	userText := s.inboundTranscript(c.Request.Context(), &req)

	result, err := s.orchestrator.HandleForClient(c.Request.Context(), cl, userText, "/sip_inbound")
	if err != nil {
		s.respondRequestError(c, err)
		return
	}

	// Lead push is best-effort and must not hold up the PBX response
	go s.pushLead(cl, req.From, userText, result.ReplyText)

	c.JSON(http.StatusOK, gin.H{
		"text":      result.ReplyText,
		"audio_b64": s.synthesizeB64(c.Request.Context(), result.ReplyText),
	})
}

// inboundTranscript prefers the call recording, then inline text, then a
// default greeting; every degradation is silent to the caller
func (s *APIServer) inboundTranscript(ctx context.Context, req *sipInboundRequest) string {
	if url := req.recordingURL(); url != "" {
		audio, err := s.speech.FetchRecording(ctx, url)
		if err != nil {
			log.Warn().Err(err).Msg("Recording download failed")
		} else if text := s.transcribe(ctx, audio); text != "" {
			return text
		}
	}
	if req.SpeechText != "" {
		return req.SpeechText
	}
	if req.Text != "" {
		return req.Text
	}
	return "Hello"
}

// scheduleCallbackRequest is a client request for a deferred callback
type scheduleCallbackRequest struct {
	Phone   string          `json:"phone"`
	WhenTS  int64           `json:"when_ts"`
	Payload json.RawMessage `json:"payload"`
}

// handleScheduleCallback records a callback for the background scheduler
func (s *APIServer) handleScheduleCallback(c *gin.Context) {
	cl := middleware.GetClientFromContext(c)
	if cl == nil {
		middleware.RespondWithError(c, apierrors.ErrUnauthorizedError)
		return
	}

	var req scheduleCallbackRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Phone == "" {
		middleware.RespondWithError(c, apierrors.NewInvalidRequestError("phone required"))
		return
	}

	whenTS := req.WhenTS
	if whenTS == 0 {
		whenTS = time.Now().Unix() + 60
	}

	cb, err := s.callbacks.Schedule(c.Request.Context(), cl.ID, req.Phone, whenTS, string(req.Payload))
	if err != nil {
		log.Error().Err(err).Str("client_id", cl.ID).Msg("Callback scheduling failed")
		middleware.RespondWithError(c, apierrors.ErrStoreUnavailableError)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ok":           true,
		"callback_id":  cb.ID,
		"scheduled_at": cb.ScheduledAt,
	})
}

// transcribe degrades to "" on any speech failure
func (s *APIServer) transcribe(ctx context.Context, audio []byte) string {
	if len(audio) == 0 {
		return ""
	}
	text, err := s.speech.Transcribe(ctx, audio)
	if err != nil {
		log.Warn().Err(err).Msg("Transcription degraded")
		return ""
	}
	return text
}

// synthesizeB64 degrades to "" when synthesis is unavailable
func (s *APIServer) synthesizeB64(ctx context.Context, text string) string {
	audio, err := s.speech.Synthesize(ctx, text)
	if err != nil {
		log.Warn().Err(err).Msg("Synthesis degraded")
		return ""
	}
	if len(audio) == 0 {
		return ""
	}
	return base64.StdEncoding.EncodeToString(audio)
}

func (s *APIServer) pushLead(cl *models.Client, caller, transcript, reply string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.crm.Push(ctx, cl, &crm.Lead{
		Caller:     caller,
		Transcript: transcript,
		Reply:      reply,
	})
}

// respondRequestError maps request-cycle failures onto the stable error
// taxonomy; internal causes are logged, never surfaced
func (s *APIServer) respondRequestError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, admission.ErrRateLimited):
		middleware.RespondWithError(c, apierrors.ErrRateLimitedError)
	case errors.Is(err, admission.ErrQuotaExhausted):
		middleware.RespondWithError(c, apierrors.ErrQuotaExhaustedError)
	case errors.Is(err, client.ErrTokenNotFound):
		middleware.RespondWithError(c, apierrors.ErrForbiddenError)
	case errors.Is(err, orchestrator.ErrNoIdentity):
		middleware.RespondWithError(c, apierrors.ErrForbiddenError)
	default:
		log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("Request failed")
		middleware.RespondWithError(c, apierrors.ErrStoreUnavailableError)
	}
}
