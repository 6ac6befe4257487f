package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/leadline-ai/leadline/internal/client"
	"github.com/leadline-ai/leadline/internal/models"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeResolver maps raw tokens to client records
type fakeResolver struct {
	clients map[string]*models.Client
	err     error
}

func (f *fakeResolver) ResolveToken(ctx context.Context, token string) (*models.Client, error) {
	if f.err != nil {
		return nil, f.err
	}
	c, ok := f.clients[token]
	if !ok {
		return nil, client.ErrTokenNotFound
	}
	return c, nil
}

func newClientAuthRouter(resolver TokenResolver) *gin.Engine {
	router := gin.New()
	router.Use(RequestID())
	router.Use(ClientAuth(resolver))
	router.GET("/protected", func(c *gin.Context) {
		resolved := GetClientFromContext(c)
		c.JSON(http.StatusOK, gin.H{"client_id": resolved.ID})
	})
	return router
}

func TestClientAuth_ValidToken(t *testing.T) {
	resolver := &fakeResolver{clients: map[string]*models.Client{
		"lk_abc123": {ID: "c1", Name: "Acme"},
	}}
	router := newClientAuthRouter(resolver)

	req := httptest.NewRequest("GET", "/protected", nil)
	req.Header.Set(HeaderClientKey, "lk_abc123")
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
}

func TestClientAuth_TokenFromQuery(t *testing.T) {
	resolver := &fakeResolver{clients: map[string]*models.Client{
		"lk_abc123": {ID: "c1", Name: "Acme"},
	}}
	router := newClientAuthRouter(resolver)

	req := httptest.NewRequest("GET", "/protected?api_key=lk_abc123", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
}

func TestClientAuth_MissingToken(t *testing.T) {
	router := newClientAuthRouter(&fakeResolver{clients: map[string]*models.Client{}})

	req := httptest.NewRequest("GET", "/protected", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", w.Code)
	}
}

func TestClientAuth_UnknownToken(t *testing.T) {
	router := newClientAuthRouter(&fakeResolver{clients: map[string]*models.Client{}})

	req := httptest.NewRequest("GET", "/protected", nil)
	req.Header.Set(HeaderClientKey, "lk_wrong")
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("Expected status 403, got %d", w.Code)
	}
}

func TestClientAuth_StoreError(t *testing.T) {
	router := newClientAuthRouter(&fakeResolver{err: errors.New("connection refused")})

	req := httptest.NewRequest("GET", "/protected", nil)
	req.Header.Set(HeaderClientKey, "lk_abc123")
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("Expected status 500, got %d", w.Code)
	}
}

func newAdminAuthRouter(adminKey string) *gin.Engine {
	router := gin.New()
	router.Use(RequestID())
	router.Use(AdminAuth(adminKey))
	router.GET("/admin", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "success"})
	})
	return router
}

func TestAdminAuth_ValidKey(t *testing.T) {
	router := newAdminAuthRouter("secret-admin-key")

	req := httptest.NewRequest("GET", "/admin", nil)
	req.Header.Set(HeaderAdminKey, "secret-admin-key")
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
}

func TestAdminAuth_KeyFromQuery(t *testing.T) {
	router := newAdminAuthRouter("secret-admin-key")

	req := httptest.NewRequest("GET", "/admin?admin_key=secret-admin-key", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
}

func TestAdminAuth_WrongKey(t *testing.T) {
	router := newAdminAuthRouter("secret-admin-key")

	req := httptest.NewRequest("GET", "/admin", nil)
	req.Header.Set(HeaderAdminKey, "not-the-key")
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("Expected status 403, got %d", w.Code)
	}
}

func TestAdminAuth_MissingKey(t *testing.T) {
	router := newAdminAuthRouter("secret-admin-key")

	req := httptest.NewRequest("GET", "/admin", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("Expected status 403, got %d", w.Code)
	}
}

func TestProperty_RequestID_GeneratedWhenMissing(t *testing.T) {
	router := gin.New()
	router.Use(RequestID())
	router.GET("/test", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"request_id": GetRequestIDFromContext(c)})
	})

	req := httptest.NewRequest("GET", "/test", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	requestID := w.Header().Get("X-Request-ID")
	if requestID == "" {
		t.Fatal("PROPERTY VIOLATION: Request ID should be generated when not provided")
	}
	if len(requestID) != 36 {
		t.Fatalf("PROPERTY VIOLATION: Request ID should be UUID format, got length %d", len(requestID))
	}
}

func TestProperty_RequestID_PropagatedFromHeader(t *testing.T) {
	router := gin.New()
	router.Use(RequestID())
	router.GET("/test", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"request_id": GetRequestIDFromContext(c)})
	})

	expectedRequestID := "test-request-id-12345"
	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("X-Request-ID", expectedRequestID)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	requestID := w.Header().Get("X-Request-ID")
	if requestID != expectedRequestID {
		t.Fatalf("PROPERTY VIOLATION: Request ID should be propagated, expected %s, got %s",
			expectedRequestID, requestID)
	}
}
