// Package api serves the HTTP/JSON interface: search, document upload and
// management, and service status.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/Aman-CERP/hybridrag/internal/graph"
	"github.com/Aman-CERP/hybridrag/internal/health"
	"github.com/Aman-CERP/hybridrag/internal/ingest"
	"github.com/Aman-CERP/hybridrag/internal/search"
	"github.com/Aman-CERP/hybridrag/internal/store"
)

// DefaultShutdownTimeout bounds graceful shutdown.
const DefaultShutdownTimeout = 10 * time.Second

// multipartOverhead is allowed on top of MaxBytes for form framing.
const multipartOverhead = 1 << 20

// Searcher runs hybrid searches.
type Searcher interface {
	Search(ctx context.Context, p search.Params) (*search.ResultSet, error)
}

// Ingester ingests and removes documents.
type Ingester interface {
	Ingest(ctx context.Context, doc ingest.Document) ingest.Report
	Delete(ctx context.Context, docID string) error
}

// DocumentStore reads the document registry.
type DocumentStore interface {
	ListDocuments(ctx context.Context) ([]*store.Document, error)
	GetDocument(ctx context.Context, id string) (*store.Document, error)
}

// StatusReporter reports service health.
type StatusReporter interface {
	Status(ctx context.Context) health.Report
}

// Deps are the services behind the routes. All are required except
// Status and Graph; without Graph the neighbour route answers 503.
type Deps struct {
	Search    Searcher
	Ingest    Ingester
	Documents DocumentStore
	Status    StatusReporter
	Graph     graph.Expander
}

// Config configures the HTTP server.
type Config struct {
	Addr        string
	CORSOrigins []string

	// UploadRate is uploads per second across all clients; zero disables
	// limiting.
	UploadRate  float64
	UploadBurst int

	// MaxBytes caps an uploaded document.
	MaxBytes int64

	ShutdownTimeout time.Duration
}

// Server is the HTTP API server.
type Server struct {
	cfg     Config
	deps    Deps
	router  *gin.Engine
	limiter *rate.Limiter
	logger  *slog.Logger
}

// New creates a server and its routes.
func New(deps Deps, cfg Config, logger *slog.Logger) (*Server, error) {
	if deps.Search == nil || deps.Ingest == nil || deps.Documents == nil {
		return nil, errors.New("api: search, ingest and documents are required")
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = ingest.DefaultMaxBytes
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{cfg: cfg, deps: deps, logger: logger}
	if cfg.UploadRate > 0 {
		burst := cfg.UploadBurst
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.UploadRate), burst)
	}

	s.router = gin.New()
	s.router.Use(gin.Recovery())
	s.router.Use(requestIDMiddleware())
	s.router.Use(accessLogMiddleware(logger))
	s.router.Use(corsMiddleware(cfg.CORSOrigins))
	s.setupRoutes()
	return s, nil
}

func (s *Server) setupRoutes() {
	s.router.GET("/healthz", s.healthz)

	api := s.router.Group("/api")
	{
		api.POST("/search", s.search)
		api.GET("/status", s.status)

		docs := api.Group("/documents")
		{
			docs.GET("", s.listDocuments)
			docs.GET("/:id", s.getDocument)
			docs.POST("", rateLimitMiddleware(s.limiter), s.uploadDocument)
			docs.DELETE("/:id", s.deleteDocument)
		}

		api.GET("/graph/nodes/:id/neighbors", s.graphNeighbors)
	}
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http_server_starting", slog.String("addr", s.cfg.Addr))
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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info("http_server_stopped")
	return nil
}
