// Package api exposes the trading engine over HTTP and streams its events over WebSocket.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"whale-spot-bot/config"
	"whale-spot-bot/internal/auth"
	"whale-spot-bot/internal/bot"
	"whale-spot-bot/internal/events"
	"whale-spot-bot/internal/logging"
	"whale-spot-bot/internal/market"
	"whale-spot-bot/internal/risk"
	"whale-spot-bot/internal/whale"
)

// RateLimiter is a sliding-window request counter per client key
type RateLimiter struct {
	requests map[string][]time.Time
	mu       sync.Mutex
	limit    int
	window   time.Duration
	now      func() time.Time
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
		now:      time.Now,
	}
}

// Allow records a request for key and reports whether it fits in the window
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	windowStart := now.Add(-r.window)

	recent := r.requests[key][:0]
	for _, t := range r.requests[key] {
		if t.After(windowStart) {
			recent = append(recent, t)
		}
	}
	if len(recent) >= r.limit {
		r.requests[key] = recent
		return false
	}
	r.requests[key] = append(recent, now)
	return true
}

// Engine is the set of trading operations the API drives
type Engine interface {
	Start(ctx context.Context) error
	Stop(timeout time.Duration) error
	Status() bot.Status
	Settings() config.TradingSettings
	SetOption(name, value string) (config.TradingSettings, error)
	CreateTrade(ctx context.Context, req bot.Request) (bot.Trade, error)
	CloseTrade(ctx context.Context, id string) (bot.Trade, error)
	OpenTrades() []bot.Trade
	CompletedTrades(limit int) []bot.Trade
	DailyStats() risk.DailyStats
	RecentEvents(limit int) []whale.Event
	FollowWhale(ctx context.Context, whaleID, chatID int64) error
	IgnoreWhale(whaleID int64) error
}

// PairSource is the market snapshot the API lists
type PairSource interface {
	Query(filter market.Filter, limit int) []market.PairSnapshot
	LastUpdate() time.Time
}

// Server represents the HTTP API server
type Server struct {
	router      *gin.Engine
	httpServer  *http.Server
	engine      Engine
	pairs       PairSource
	hub         *WSHub
	authService *auth.Service
	rateLimiter *RateLimiter
	config      config.ServerConfig
	logger      zerolog.Logger
	startedAt   time.Time
}

// NewServer builds the router. authService is nil when auth is disabled.
func NewServer(cfg config.ServerConfig, engine Engine, pairs PairSource, bus *events.EventBus, authService *auth.Service, logger zerolog.Logger) *Server {
	logger = logging.Component(logger, "api")
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(logging.GinMiddleware(logger))

	origins := splitOrigins(cfg.AllowedOrigins)
	corsConfig := cors.DefaultConfig()
	if len(origins) == 0 || origins[0] == "*" {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = origins
		corsConfig.AllowCredentials = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	corsConfig.ExposeHeaders = []string{"Content-Length", "X-Trace-ID"}
	router.Use(cors.New(corsConfig))

	limit := cfg.RateLimit
	if limit <= 0 {
		limit = 120
	}

	s := &Server{
		router:      router,
		engine:      engine,
		pairs:       pairs,
		hub:         NewWSHub(origins, logger),
		authService: authService,
		rateLimiter: NewRateLimiter(limit, time.Minute),
		config:      cfg,
		logger:      logger,
		startedAt:   time.Now(),
	}
	if bus != nil {
		s.hub.Attach(bus)
	}
	go s.hub.Run()

	s.setupRoutes()
	return s
}

func splitOrigins(raw string) []string {
	var out []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// rateLimitMiddleware limits each client IP to the configured requests per minute
func (s *Server) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.rateLimiter.Allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   auth.ErrRateLimited.Code,
				"message": auth.ErrRateLimited.Message,
			})
			return
		}
		c.Next()
	}
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	api := s.router.Group("/api")
	api.Use(s.rateLimitMiddleware())

	api.GET("/auth/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"auth_enabled": s.authService != nil})
	})
	if s.authService != nil {
		api.POST("/auth/login", auth.NewHandlers(s.authService).Login)
	}

	protected := api.Group("")
	if s.authService != nil {
		protected.Use(auth.Middleware(s.authService.JWT()))
	}
	{
		protected.GET("/status", s.handleStatus)
		protected.POST("/engine/start", s.handleEngineStart)
		protected.POST("/engine/stop", s.handleEngineStop)

		protected.GET("/trades", s.handleListTrades)
		protected.POST("/trades", s.handleCreateTrade)
		protected.GET("/trades/:id", s.handleGetTrade)
		protected.POST("/trades/:id/close", s.handleCloseTrade)

		protected.GET("/stats", s.handleStats)

		protected.GET("/whales", s.handleListWhales)
		protected.POST("/whales/:id/follow", s.handleFollowWhale)
		protected.POST("/whales/:id/ignore", s.handleIgnoreWhale)

		protected.GET("/config", s.handleGetConfig)
		protected.POST("/config", s.handleSetConfig)

		protected.GET("/pairs", s.handleListPairs)
	}

	ws := s.router.Group("/ws")
	if s.authService != nil {
		ws.Use(auth.Middleware(s.authService.JWT()))
	}
	ws.GET("", func(c *gin.Context) {
		s.hub.ServeWS(c, auth.GetUsername(c))
	})
}

// Handler returns the router, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Shutdown; it returns nil after a graceful shutdown
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  seconds(s.config.ReadTimeout, 15),
		WriteTimeout: seconds(s.config.WriteTimeout, 15),
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info().Str("addr", addr).Bool("auth", s.authService != nil).Msg("Starting HTTP server")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests and disconnects websocket clients
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Shutting down HTTP server")
	s.hub.Close()
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

func seconds(v, fallback int) time.Duration {
	if v <= 0 {
		v = fallback
	}
	return time.Duration(v) * time.Second
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":            "healthy",
		"engine_running":    s.engine.Status().Running,
		"websocket_clients": s.hub.ClientCount(),
		"uptime_seconds":    int64(time.Since(s.startedAt).Seconds()),
	})
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

func principal(c *gin.Context) string {
	if p := auth.GetUsername(c); p != "" {
		return p
	}
	return "anonymous"
}
