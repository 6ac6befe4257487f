package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/leadline-ai/leadline/internal/admission"
	"github.com/leadline-ai/leadline/internal/callback"
	"github.com/leadline-ai/leadline/internal/client"
	"github.com/leadline-ai/leadline/internal/config"
	"github.com/leadline-ai/leadline/internal/crm"
	"github.com/leadline-ai/leadline/internal/database"
	"github.com/leadline-ai/leadline/internal/logging"
	"github.com/leadline-ai/leadline/internal/middleware"
	"github.com/leadline-ai/leadline/internal/monitoring"
	"github.com/leadline-ai/leadline/internal/orchestrator"
	"github.com/leadline-ai/leadline/internal/speech"
	"github.com/leadline-ai/leadline/internal/usage"
)

// APIServer represents the main API server
type APIServer struct {
	config       *config.Config
	router       *gin.Engine
	db           *database.DB
	clients      *client.Service
	admission    *admission.Controller
	usage        *usage.Recorder
	callbacks    *callback.Store
	orchestrator *orchestrator.Orchestrator
	speech       *speech.HTTPSpeech
	crm          *crm.Pusher
}

// Deps bundles the constructed collaborators injected at startup
type Deps struct {
	DB           *database.DB
	Clients      *client.Service
	Admission    *admission.Controller
	Usage        *usage.Recorder
	Callbacks    *callback.Store
	Orchestrator *orchestrator.Orchestrator
	Speech       *speech.HTTPSpeech
	CRM          *crm.Pusher
}

// NewAPIServer creates a new API server instance
func NewAPIServer(cfg *config.Config, deps *Deps) *APIServer {
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.CORS(cfg.Server.CORSOrigins))
	router.Use(monitoring.MetricsMiddleware())
	router.Use(logging.RequestLogger())

	srv := &APIServer{
		config:       cfg,
		router:       router,
		db:           deps.DB,
		clients:      deps.Clients,
		admission:    deps.Admission,
		usage:        deps.Usage,
		callbacks:    deps.Callbacks,
		orchestrator: deps.Orchestrator,
		speech:       deps.Speech,
		crm:          deps.CRM,
	}

	srv.setupRoutes()
	return srv
}

// Router returns the gin router
func (s *APIServer) Router() http.Handler {
	return s.router
}

// setupRoutes configures all routes
func (s *APIServer) setupRoutes() {
	s.router.GET("/", s.handleRoot)
	s.router.GET("/health", s.handleHealth)

	// Client-facing routes (token-authenticated)
	clientAuth := middleware.ClientAuth(s.clients)
	s.router.POST("/webhook", clientAuth, s.handleWebhook)
	s.router.POST("/webrtc_offer", clientAuth, s.handleAudioRequest)
	s.router.POST("/schedule_callback", clientAuth, s.handleScheduleCallback)

	// Telephony inbound (resolved by token or called-number mapping)
	s.router.POST("/sip_inbound", s.handleSIPInbound)

	// Admin routes (shared admin key)
	adminAuth := middleware.AdminAuth(s.config.Admin.APIKey)
	s.router.POST("/onboard_client", adminAuth, s.handleOnboardClient)
	s.router.POST("/add_number", adminAuth, s.handleAddNumber)
	s.router.POST("/set_crm", adminAuth, s.handleSetCRM)

	admin := s.router.Group("/admin")
	admin.Use(adminAuth)
	{
		admin.GET("/clients", s.handleListClients)
		admin.GET("/usage/:client_id", s.handleClientUsage)
		admin.GET("/usage/:client_id/summary", s.handleClientUsageSummary)
	}
}

func (s *APIServer) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "leadline",
		"status":  "ok",
		"endpoints": []string{
			"/onboard_client", "/webhook", "/webrtc_offer", "/sip_inbound", "/schedule_callback",
		},
	})
}

func (s *APIServer) handleHealth(c *gin.Context) {
	if err := s.db.Health(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "database": "unreachable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "database": "ok"})
}
