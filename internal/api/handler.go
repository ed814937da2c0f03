package api

import (
	"log/slog"
	"net/http"
	"time"

	"copier-core/internal/engine"
	"copier-core/internal/monitor"
	"copier-core/pkg/identity"

	"github.com/gin-gonic/gin"
)

// Server wires HTTP endpoints around the engine service.
type Server struct {
	Router   *gin.Engine
	Engine   engine.Service
	Metrics  *monitor.SystemMetrics
	Verifier *identity.Verifier
	Logger   *slog.Logger
}

// Options configures NewServer.
type Options struct {
	Engine    engine.Service
	Metrics   *monitor.SystemMetrics
	Owner     string
	JWTSecret string
	Logger    *slog.Logger

	RateLimit      float64 // requests per second per IP; 0 means 20
	RateBurst      int     // 0 means 50
	RequestTimeout time.Duration
}

func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}

	r := gin.New()

	// Middleware stack (order matters!): recovery first, logging after the
	// request ID is set, CORS last before routes.
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger(logger, opts.Metrics))
	r.Use(RateLimitMiddleware(newIPRateLimiter(opts.RateLimit, opts.RateBurst), logger))
	r.Use(TimeoutMiddleware(opts.RequestTimeout))
	r.Use(CORSMiddleware())

	s := &Server{
		Router:   r,
		Engine:   opts.Engine,
		Metrics:  opts.Metrics,
		Verifier: identity.NewVerifier(opts.JWTSecret, opts.Owner),
		Logger:   logger,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/ws", AuthMiddleware(s.Verifier), s.websocket)

	api := s.Router.Group("/api")
	{
		api.GET("/system/status", s.getSystemStatus)
		api.GET("/metrics", s.getMetrics)
		api.GET("/metrics/prom", s.getPromMetrics)

		// Protected API, bound to the engine's owner key
		protected := api.Group("")
		protected.Use(AuthMiddleware(s.Verifier))
		{
			protected.GET("/accounts", s.getAccounts)
			protected.GET("/accounts/:id", s.getAccount)
			protected.DELETE("/accounts/:id", s.deleteAccount)

			// Role and connection graph
			protected.POST("/accounts/:id/promote", s.promoteAccount)
			protected.POST("/accounts/:id/pending", s.convertToPending)
			protected.POST("/accounts/:id/connect", s.connectSlave)
			protected.POST("/accounts/:id/disconnect", s.disconnectSlave)
			protected.POST("/masters/:id/disconnect", s.disconnectMaster)
			protected.PUT("/accounts/:id/config", s.updateConfig)

			// Copier control
			protected.PUT("/accounts/:id/enabled", s.setAccountEnabled)
			protected.PUT("/copier/global", s.setGlobalEnabled)
			protected.GET("/copier/status", s.getCopierStatus)

			// On-demand cycles
			protected.POST("/cycles/ingest", s.runIngestCycle)
			protected.POST("/cycles/evaluate", s.runEvaluateCycle)
		}
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// HTTPServer returns an http.Server serving the router on addr, for callers
// that need graceful shutdown.
func (s *Server) HTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}
}
