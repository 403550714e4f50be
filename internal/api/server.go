package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"capital-trading-bot/config"
	"capital-trading-bot/internal/circuit"
	"capital-trading-bot/internal/database"
	"capital-trading-bot/internal/events"
	"capital-trading-bot/internal/ledger"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// BotAPI defines the control surface the trading bot exposes to the HTTP
// layer. The setters apply runtime-tunable settings to the live loop.
type BotAPI interface {
	Status() map[string]interface{}
	OpenPositions() []ledger.Position
	Start() error
	Stop()
	ForceCycle()
	EmergencyStop(ctx context.Context) error
	SetMinConfidence(v float64)
	SetMaxDailyTrades(n int)
	SetReversalPolicy(policy string)
}

// Server represents the HTTP API server
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	cfg        *config.Config
	cfgMu      sync.RWMutex // guards cfg fields touched by PUT /config
	bot        BotAPI
	breaker    *circuit.CircuitBreaker
	repo       *database.Repository // nil when the archive is disabled
	eventBus   *events.EventBus
	hub        *WSHub
}

// NewServer creates a new API server
func NewServer(
	cfg *config.Config,
	bot BotAPI,
	breaker *circuit.CircuitBreaker,
	repo *database.Repository,
	eventBus *events.EventBus,
) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	origins := strings.Split(cfg.ServerConfig.AllowedOrigins, ",")
	for i := range origins {
		origins[i] = strings.TrimSpace(origins[i])
	}
	if len(origins) == 1 && origins[0] == "*" {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = origins
		corsConfig.AllowCredentials = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	router.Use(cors.New(corsConfig))

	server := &Server{
		router:   router,
		cfg:      cfg,
		bot:      bot,
		breaker:  breaker,
		repo:     repo,
		eventBus: eventBus,
	}

	server.hub = NewWSHub(eventBus)
	go server.hub.Run()

	server.setupRoutes()

	return server
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/metrics", s.handleMetrics())

	api := s.router.Group("/api")
	{
		api.GET("/status", s.handleStatus)

		api.POST("/bot/start", s.handleBotStart)
		api.POST("/bot/stop", s.handleBotStop)
		api.POST("/bot/force-cycle", s.handleForceCycle)
		api.POST("/bot/emergency-stop", s.handleEmergencyStop)

		api.GET("/positions", s.handleGetPositions)
		api.GET("/trades", s.handleGetTrades)
		api.GET("/report/daily", s.handleDailyReport)

		api.GET("/circuit-breaker", s.handleBreakerStatus)
		api.POST("/circuit-breaker/reset", s.handleBreakerReset)

		api.GET("/config", s.handleGetConfig)
		api.PUT("/config", s.handleUpdateConfig)
	}

	s.router.GET("/ws", s.handleWebSocket)
}

// Start starts the HTTP server
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.ServerConfig.Host, s.cfg.ServerConfig.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.cfg.ServerConfig.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.cfg.ServerConfig.WriteTimeout) * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log.Printf("Starting HTTP server on %s", addr)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("Shutting down HTTP server...")

	s.hub.Close()

	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// errorResponse is a helper to send error responses
func errorResponse(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, gin.H{
		"error":   true,
		"message": message,
	})
}

// successResponse is a helper to send success responses
func successResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    data,
	})
}
