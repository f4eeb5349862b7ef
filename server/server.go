package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/xhad/docchat/internal/types"
	"github.com/xhad/docchat/pkg/chat"
	"github.com/xhad/docchat/pkg/ingest"
	"github.com/xhad/docchat/pkg/logging"
	"github.com/xhad/docchat/pkg/metrics"
)

// UserHeader carries the caller's identity. Authentication happens upstream.
const UserHeader = "X-User-ID"

type Config struct {
	Addr string
	// StreamTimeout bounds a single chat turn. Zero means no limit.
	StreamTimeout  time.Duration
	MaxUploadBytes int64
}

type Dependencies struct {
	Records     types.RecordStore
	Pipeline    *ingest.Pipeline
	Coordinator *chat.Coordinator
	Metrics     *metrics.Metrics
}

type Server struct {
	config Config
	deps   Dependencies
	router *gin.Engine
	logger *slog.Logger
}

func New(config Config, deps Dependencies) (*Server, error) {
	if deps.Records == nil || deps.Pipeline == nil || deps.Coordinator == nil {
		return nil, fmt.Errorf("server needs records, pipeline and coordinator")
	}
	if config.Addr == "" {
		config.Addr = ":8080"
	}
	if config.MaxUploadBytes <= 0 {
		config.MaxUploadBytes = ingest.DefaultMaxUploadBytes
	}

	s := &Server{
		config: config,
		deps:   deps,
		router: gin.New(),
		logger: logging.NewModuleLogger("server", "http"),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s, nil
}

func (s *Server) setupMiddleware() {
	s.router.Use(gin.Recovery())
	s.router.Use(s.requestLogger())
	if s.deps.Metrics != nil {
		s.router.Use(s.deps.Metrics.Middleware())
	}
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})
	if s.deps.Metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.deps.Metrics.Handler()))
	}

	api := s.router.Group("/api", requireUser())
	{
		documents := api.Group("/documents")
		documents.GET("", s.listDocuments)
		documents.POST("", s.uploadDocument)
		documents.DELETE("/:id", s.deleteDocument)

		sessions := api.Group("/sessions")
		sessions.GET("", s.listSessions)
		sessions.POST("", s.createSession)
		sessions.GET("/:id", s.getSession)
		sessions.PUT("/:id", s.replaceObjects)
		sessions.DELETE("/:id", s.deleteSession)
		sessions.GET("/:id/messages", s.listMessages)

		api.POST("/chat", s.chat)
	}

	s.router.GET("/ws", requireUser(), s.handleWebSocket)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Run serves until ctx is canceled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.config.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", s.config.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		s.logger.Debug("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

func requireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader(UserHeader) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		c.Next()
	}
}

func userID(c *gin.Context) string {
	return c.GetHeader(UserHeader)
}
