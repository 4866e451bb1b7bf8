// Package http implements the REST API of the reading engine on gin.
package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/alem-hub/reading-engine/internal/application/command"
	"github.com/alem-hub/reading-engine/internal/application/query"
	"github.com/alem-hub/reading-engine/internal/infrastructure/scheduler"
	"github.com/alem-hub/reading-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// SERVER CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config contains HTTP server configuration.
type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	AllowedOrigins []string

	// MaxBodyBytes caps request bodies.
	MaxBodyBytes int64

	// RequestDeadline bounds handler execution.
	RequestDeadline time.Duration

	// ServiceName is reported by the tracing middleware; empty disables it.
	ServiceName string

	// Debug switches gin to debug mode.
	Debug bool
}

// DefaultConfig returns default server configuration.
func DefaultConfig() Config {
	return Config{
		Addr:            ":8080",
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    15 * time.Second,
		IdleTimeout:     60 * time.Second,
		AllowedOrigins:  []string{"*"},
		MaxBodyBytes:    64 << 10,
		RequestDeadline: 10 * time.Second,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES
// ══════════════════════════════════════════════════════════════════════════════

// JobRunner exposes the background scheduler to admins.
type JobRunner interface {
	ListJobs() []scheduler.JobInfo
	RunNow(ctx context.Context, jobName string) (*scheduler.JobResult, error)
}

// Dependencies contains everything the handlers call.
type Dependencies struct {
	// Commands
	SubmitEvent       *command.SubmitEventHandler
	ReverseEvent      *command.ReverseEventHandler
	SyncMember        *command.SyncMemberHandler
	AcknowledgeBadges *command.AcknowledgeBadgesHandler
	CreateChallenge   *command.CreateChallengeHandler

	// Queries
	GetLeaderboard       *query.GetLeaderboardHandler
	GetUserProgress      *query.GetUserProgressHandler
	GetChallengeProgress *query.GetChallengeProgressHandler
	ListUserChallenges   *query.ListUserChallengesHandler

	Auth   *Authenticator
	Health *HealthChecker

	// Jobs is optional.
	Jobs JobRunner

	Logger *logger.Logger
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER
// ══════════════════════════════════════════════════════════════════════════════

// Server represents the HTTP server.
type Server struct {
	config     Config
	deps       Dependencies
	engine     *gin.Engine
	httpServer *http.Server
	validate   *requestValidator
	log        *logger.Logger
}

// NewServer creates the server and registers routes.
func NewServer(cfg Config, deps Dependencies) *Server {
	if deps.Logger == nil {
		deps.Logger = logger.Nop()
	}
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		config:   cfg,
		deps:     deps,
		engine:   gin.New(),
		validate: newRequestValidator(),
		log:      deps.Logger.With(logger.Component("http")),
	}
	s.setupMiddleware()
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.engine,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

// Handler returns the root handler (used by tests).
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) setupMiddleware() {
	s.engine.Use(s.requestID(), s.recovery(), s.accessLog())
	if s.config.ServiceName != "" {
		s.engine.Use(otelgin.Middleware(s.config.ServiceName))
	}
	s.engine.Use(cors.New(cors.Config{
		AllowOrigins:     s.config.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "Idempotency-Key", headerRequestID, headerServiceKey, headerServiceName},
		ExposeHeaders:    []string{headerRequestID},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))
	s.engine.Use(s.limits())
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	// ─────────────────────────────────────────────────────────────────────────
	// Health
	// ─────────────────────────────────────────────────────────────────────────
	s.engine.GET("/health/live", s.handleLive)
	s.engine.GET("/health/ready", s.handleReady)

	s.engine.NoRoute(func(c *gin.Context) {
		writeError(c, http.StatusNotFound, "not_found", "route not found")
	})

	// ─────────────────────────────────────────────────────────────────────────
	// API v1
	// ─────────────────────────────────────────────────────────────────────────
	api := s.engine.Group("/api/v1", s.deps.Auth.Middleware())
	{
		api.POST("/events", s.handleSubmitEvent)

		api.GET("/users/:user_id/progress", s.handleUserProgress)
		api.GET("/users/:user_id/challenges", s.handleListUserChallenges)
		api.POST("/users/:user_id/badges/ack", s.handleAcknowledgeBadges)

		api.POST("/challenges", s.handleCreateChallenge)
		api.GET("/challenges/:challenge_id/progress/:user_id", s.handleChallengeProgress)

		api.GET("/leaderboards/:scope", s.handleLeaderboard)

		admin := api.Group("/admin", RequireRoles(roleAdmin, roleService))
		admin.POST("/events/:event_id/reverse", s.handleReverseEvent)
		if s.deps.Jobs != nil {
			admin.GET("/jobs", s.handleListJobs)
			admin.POST("/jobs/:name/run", s.handleRunJob)
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// Internal (trusted collaborators only)
	// ─────────────────────────────────────────────────────────────────────────
	internal := s.engine.Group("/internal", s.deps.Auth.Middleware(), RequireRoles(roleService))
	internal.PUT("/members/:user_id", s.handleSyncMember)
}

// ══════════════════════════════════════════════════════════════════════════════
// LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", logger.String("addr", s.config.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()
	s.log.Info("http server shutting down")
	return s.httpServer.Shutdown(shutdownCtx)
}
