package middleware

import (
	"context"
	"crypto/subtle"
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/leadline-ai/leadline/internal/client"
	apierrors "github.com/leadline-ai/leadline/internal/errors"
	"github.com/leadline-ai/leadline/internal/models"
)

// Context keys
const (
	ContextKeyClient    = "client"
	ContextKeyRequestID = "request_id"
)

// Header and query names for credentials
const (
	HeaderAdminKey  = "X-ADMIN-KEY"
	HeaderClientKey = "X-API-KEY"
	QueryAdminKey   = "admin_key"
	QueryClientKey  = "api_key"
)

// TokenResolver resolves a raw API token to a client record
type TokenResolver interface {
	ResolveToken(ctx context.Context, token string) (*models.Client, error)
}

// RequestID adds a unique request ID to each request
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Set(ContextKeyRequestID, requestID)
		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

// AdminAuth guards admin routes with the shared admin key, accepted from
// header or query parameter
func AdminAuth(adminKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(HeaderAdminKey)
		if key == "" {
			key = c.Query(QueryAdminKey)
		}
		if key == "" || subtle.ConstantTimeCompare([]byte(key), []byte(adminKey)) != 1 {
			RespondWithError(c, apierrors.ErrAdminForbiddenError)
			c.Abort()
			return
		}
		c.Next()
	}
}

// ClientAuth resolves the per-client API token and stores the client record
// in the request context. Missing token is Unauthorized; an unknown token
// is Forbidden.
func ClientAuth(resolver TokenResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.GetHeader(HeaderClientKey)
		if token == "" {
			token = c.Query(QueryClientKey)
		}
		if token == "" {
			RespondWithError(c, apierrors.ErrUnauthorizedError)
			c.Abort()
			return
		}

		resolved, err := resolver.ResolveToken(c.Request.Context(), token)
		if err != nil {
			if errors.Is(err, client.ErrTokenNotFound) {
				RespondWithError(c, apierrors.ErrForbiddenError)
			} else {
				log.Error().Err(err).Msg("Token resolution failed")
				RespondWithError(c, apierrors.ErrStoreUnavailableError)
			}
			c.Abort()
			return
		}

		c.Set(ContextKeyClient, resolved)
		c.Next()
	}
}

// GetClientFromContext extracts the authenticated client, or nil
func GetClientFromContext(c *gin.Context) *models.Client {
	v, exists := c.Get(ContextKeyClient)
	if !exists {
		return nil
	}
	resolved, ok := v.(*models.Client)
	if !ok {
		return nil
	}
	return resolved
}

// GetRequestIDFromContext extracts the request ID, or ""
func GetRequestIDFromContext(c *gin.Context) string {
	return c.GetString(ContextKeyRequestID)
}

// RespondWithError sends a standardized error response
func RespondWithError(c *gin.Context, err *apierrors.APIError) {
	c.JSON(err.HTTPStatus, apierrors.NewErrorResponse(err, GetRequestIDFromContext(c)))
}

// CORS configures CORS headers for browser-based dashboards
func CORS(allowedOrigins []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")

		allowed := false
		for _, o := range allowedOrigins {
			if o == origin || o == "*" {
				allowed = true
				break
			}
		}

		if allowed {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Content-Type, X-Request-ID, X-API-KEY, X-ADMIN-KEY")
			c.Header("Access-Control-Expose-Headers", "X-Request-ID")
			c.Header("Access-Control-Max-Age", "43200")
		}

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
