// Package api exposes the upload, search and job endpoints over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"knowledge-api/internal/config"
	"knowledge-api/internal/db"
	"knowledge-api/internal/models"
	"knowledge-api/internal/worker"
)

// Submitter hands work to the background pool without blocking.
type Submitter interface {
	Submit(task func(ctx context.Context)) error
}

// Runner processes one uploaded document.
type Runner interface {
	Run(ctx context.Context, t worker.Task)
}

type Searcher interface {
	Search(ctx context.Context, query string, limit *int) ([]models.SearchResult, error)
}

// Deps are the services the handlers call. All are required.
type Deps struct {
	Config   *config.Config
	Pool     Submitter
	Pipeline Runner
	Search   Searcher
	Jobs     db.JobStore
}

type Server struct {
	echo     *echo.Echo
	cfg      *config.Config
	pool     Submitter
	pipeline Runner
	search   Searcher
	jobs     db.JobStore
}

func NewServer(deps Deps) (*Server, error) {
	switch {
	case deps.Config == nil:
		return nil, errors.New("config is required")
	case deps.Pool == nil || deps.Pipeline == nil:
		return nil, errors.New("worker pool and pipeline are required")
	case deps.Search == nil:
		return nil, errors.New("search service is required")
	case deps.Jobs == nil:
		return nil, errors.New("job store is required")
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler

	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(middleware.RequestID())
	e.Use(requestLogger)
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	s := &Server{
		echo:     e,
		cfg:      deps.Config,
		pool:     deps.Pool,
		pipeline: deps.Pipeline,
		search:   deps.Search,
		jobs:     deps.Jobs,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group(s.cfg.APIPrefix)
	v1.POST("/documents/upload", s.handleUpload, s.uploadMiddleware()...)
	v1.GET("/documents/jobs/:id", s.handleGetJob)
	v1.POST("/search", s.handleSearch)
}

// uploadMiddleware applies the optional body size and rate limits.
func (s *Server) uploadMiddleware() []echo.MiddlewareFunc {
	var mw []echo.MiddlewareFunc
	if mb := s.cfg.Server.MaxUploadMB; mb > 0 {
		mw = append(mw, middleware.BodyLimit(fmt.Sprintf("%dM", mb)))
	}
	if r := s.cfg.Server.UploadRateLimit; r > 0 {
		store := middleware.NewRateLimiterMemoryStore(rate.Limit(r))
		mw = append(mw, middleware.RateLimiter(store))
	}
	return mw
}

// ServeHTTP lets the server be mounted or tested as a plain http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Start blocks until the server stops. http.ErrServerClosed is not an error.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	log.Info().Str("addr", addr).Msgf("Starting %s %s", s.cfg.ProjectName, s.cfg.Version)
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("Shutting down http server")
	return s.echo.Shutdown(ctx)
}
