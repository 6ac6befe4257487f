package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/leadline-ai/leadline/internal/client"
	apierrors "github.com/leadline-ai/leadline/internal/errors"
	"github.com/leadline-ai/leadline/internal/middleware"
)

// handleOnboardClient provisions a client and returns its token. Reusing an
// identifier overwrites the record (token and trial quota reset).
func (s *APIServer) handleOnboardClient(c *gin.Context) {
	var req client.OnboardRequest
	_ = c.ShouldBindJSON(&req)

	resp, err := s.clients.Onboard(c.Request.Context(), &req)
	if err != nil {
		log.Error().Err(err).Msg("Client onboarding failed")
		middleware.RespondWithError(c, apierrors.ErrStoreUnavailableError)
		return
	}

	c.JSON(http.StatusOK, resp)
}

type addNumberRequest struct {
	Number   string `json:"number"`
	ClientID string `json:"client_id"`
}

// handleAddNumber maps an inbound phone number to a client
func (s *APIServer) handleAddNumber(c *gin.Context) {
	var req addNumberRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Number == "" || req.ClientID == "" {
		middleware.RespondWithError(c, apierrors.NewInvalidRequestError("number & client_id required"))
		return
	}

	if err := s.clients.MapNumber(c.Request.Context(), req.Number, req.ClientID); err != nil {
		log.Error().Err(err).Msg("Number mapping failed")
		middleware.RespondWithError(c, apierrors.ErrStoreUnavailableError)
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true})
}

type setCRMRequest struct {
	ClientID string `json:"client_id"`
	CRMURL   string `json:"crm_url"`
	CRMKey   string `json:"crm_key"`
}

// handleSetCRM sets or clears a client's CRM push endpoint
func (s *APIServer) handleSetCRM(c *gin.Context) {
	var req setCRMRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.ClientID == "" {
		middleware.RespondWithError(c, apierrors.NewInvalidRequestError("client_id required"))
		return
	}

	if err := s.clients.SetCRM(c.Request.Context(), req.ClientID, req.CRMURL, req.CRMKey); err != nil {
		if errors.Is(err, client.ErrClientNotFound) {
			middleware.RespondWithError(c, apierrors.ErrClientNotFoundError)
			return
		}
		log.Error().Err(err).Msg("CRM update failed")
		middleware.RespondWithError(c, apierrors.ErrStoreUnavailableError)
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// handleListClients returns all clients without token material
func (s *APIServer) handleListClients(c *gin.Context) {
	clients, err := s.clients.List(c.Request.Context())
	if err != nil {
		log.Error().Err(err).Msg("Client listing failed")
		middleware.RespondWithError(c, apierrors.ErrStoreUnavailableError)
		return
	}

	c.JSON(http.StatusOK, gin.H{"clients": clients})
}

// handleClientUsage returns a client's usage history, newest first, bounded
func (s *APIServer) handleClientUsage(c *gin.Context) {
	clientID := c.Param("client_id")

	records, err := s.usage.ListByClient(c.Request.Context(), clientID)
	if err != nil {
		log.Error().Err(err).Str("client_id", clientID).Msg("Usage listing failed")
		middleware.RespondWithError(c, apierrors.ErrStoreUnavailableError)
		return
	}

	c.JSON(http.StatusOK, gin.H{"usage": records})
}

// handleClientUsageSummary aggregates a client's calls, tokens and
// estimated spend
func (s *APIServer) handleClientUsageSummary(c *gin.Context) {
	clientID := c.Param("client_id")

	cl, err := s.clients.Get(c.Request.Context(), clientID)
	if err != nil {
		if errors.Is(err, client.ErrClientNotFound) {
			middleware.RespondWithError(c, apierrors.ErrClientNotFoundError)
			return
		}
		log.Error().Err(err).Str("client_id", clientID).Msg("Client lookup failed")
		middleware.RespondWithError(c, apierrors.ErrStoreUnavailableError)
		return
	}

	summary, err := s.usage.Summary(c.Request.Context(), clientID, cl.Plan)
	if err != nil {
		log.Error().Err(err).Str("client_id", clientID).Msg("Usage summary failed")
		middleware.RespondWithError(c, apierrors.ErrStoreUnavailableError)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"summary":         summary,
		"remaining_calls": cl.RemainingCalls,
		"plan":            cl.Plan,
	})
}
