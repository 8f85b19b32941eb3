package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/slipstream/searchd/internal/api/handlers"
	apimw "github.com/slipstream/searchd/internal/api/middleware"
	"github.com/slipstream/searchd/internal/api/ratelimit"
	"github.com/slipstream/searchd/internal/indexer"
	"github.com/slipstream/searchd/internal/indexer/cardigann"
	"github.com/slipstream/searchd/internal/indexer/search"
	"github.com/slipstream/searchd/internal/indexer/status"
	"github.com/slipstream/searchd/internal/indexer/types"
)

// Indexers is the configured indexer set.
type Indexers interface {
	Indexers() []*types.IndexerDefinition
	Test(ctx context.Context, id int64) error
}

// Statuses exposes the persisted indexer health.
type Statuses interface {
	All(ctx context.Context) ([]*types.IndexerStatus, error)
}

// Definitions lists the available Cardigann definitions.
type Definitions interface {
	SearchDefinitions(query string, filters cardigann.DefinitionFilters) ([]*cardigann.DefinitionMetadata, error)
}

// Deps are the services the API serves. Nil optional services leave
// their routes unregistered.
type Deps struct {
	Searcher    search.Searcher
	Indexers    Indexers
	Statuses    Statuses                 // optional
	Definitions Definitions              // optional
	Scheduler   handlers.TaskRunner      // optional
	Gatherer    prometheus.Gatherer      // optional, serves /metrics
	Limiter     *ratelimit.ClientLimiter // optional, guards search
}

// Server handles HTTP requests for the searchd API.
type Server struct {
	echo    *echo.Echo
	deps    Deps
	logger  zerolog.Logger
	started time.Time
}

// NewServer creates a new API server instance.
func NewServer(deps Deps, logger zerolog.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:    e,
		deps:    deps,
		logger:  logger.With().Str("component", "api").Logger(),
		started: time.Now(),
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// setupMiddleware configures Echo middleware.
func (s *Server) setupMiddleware() {
	s.echo.Use(middleware.Recover())
	s.echo.Use(middleware.RequestID())
	s.echo.Use(apimw.SecurityHeaders())

	s.echo.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogMethod:    true,
		LogError:     true,
		LogRequestID: true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			if v.Error != nil {
				s.logger.Error().
					Str("method", v.Method).
					Str("uri", v.URI).
					Str("requestId", v.RequestID).
					Int("status", v.Status).
					Dur("latency", v.Latency).
					Err(v.Error).
					Msg("request error")
			} else {
				s.logger.Info().
					Str("method", v.Method).
					Str("uri", v.URI).
					Str("requestId", v.RequestID).
					Int("status", v.Status).
					Dur("latency", v.Latency).
					Msg("request")
			}
			return nil
		},
	}))

	s.echo.Use(middleware.GzipWithConfig(middleware.GzipConfig{Level: 5}))
}

// setupRoutes configures API routes.
func (s *Server) setupRoutes() {
	s.echo.GET("/health", s.healthCheck)
	if s.deps.Gatherer != nil {
		s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})))
	}

	api := s.echo.Group("/api/v1")
	api.GET("/status", s.getStatus)

	var searchMW []echo.MiddlewareFunc
	if s.deps.Limiter != nil {
		searchMW = append(searchMW, s.deps.Limiter.Middleware())
	}
	search.NewHandlers(s.deps.Searcher).RegisterRoutes(api.Group("/search", searchMW...))

	indexers := api.Group("/indexers")
	indexers.GET("", s.listIndexers)
	indexers.POST("/:id/test", s.testIndexer)

	if s.deps.Definitions != nil {
		api.GET("/definitions", s.listDefinitions)
	}
	if s.deps.Scheduler != nil {
		handlers.NewSchedulerHandler(s.deps.Scheduler).RegisterRoutes(api.Group("/scheduler"))
	}
}

// Start begins listening for HTTP requests. It returns nil after Shutdown.
func (s *Server) Start(address string) error {
	s.logger.Info().Str("address", address).Msg("starting HTTP server")
	if err := s.echo.Start(address); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("shutting down HTTP server")
	return s.echo.Shutdown(ctx)
}

// Echo returns the underlying Echo instance.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

func (s *Server) healthCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) getStatus(c echo.Context) error {
	all := s.deps.Indexers.Indexers()
	enabled := 0
	for _, ix := range all {
		if ix.Enabled {
			enabled++
		}
	}
	return c.JSON(http.StatusOK, map[string]any{
		"startTime":       s.started.Format(time.RFC3339),
		"uptime":          time.Since(s.started).Round(time.Second).String(),
		"indexerCount":    len(all),
		"enabledIndexers": enabled,
	})
}

// indexerView is one configured indexer with its health.
type indexerView struct {
	ID             int64                `json:"id"`
	Name           string               `json:"name"`
	Implementation types.Implementation `json:"implementation"`
	Protocol       types.Protocol       `json:"protocol"`
	Privacy        types.Privacy        `json:"privacy"`
	Enabled        bool                 `json:"enabled"`
	Priority       int                  `json:"priority"`
	Health         status.IndexerHealth `json:"health"`
}

// listIndexers returns every configured indexer with its health. Settings
// are omitted since they hold credentials.
// GET /api/v1/indexers
func (s *Server) listIndexers(c echo.Context) error {
	ctx := c.Request().Context()

	statuses := make(map[int64]*types.IndexerStatus)
	if s.deps.Statuses != nil {
		all, err := s.deps.Statuses.All(ctx)
		if err != nil {
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
		}
		for _, st := range all {
			statuses[st.IndexerID] = st
		}
	}

	now := time.Now()
	out := make([]indexerView, 0)
	for _, ix := range s.deps.Indexers.Indexers() {
		st, ok := statuses[ix.ID]
		if !ok {
			st = &types.IndexerStatus{IndexerID: ix.ID}
		}
		out = append(out, indexerView{
			ID:             ix.ID,
			Name:           ix.Name,
			Implementation: ix.Implementation,
			Protocol:       ix.Protocol,
			Privacy:        ix.Privacy,
			Enabled:        ix.Enabled,
			Priority:       ix.Priority,
			Health:         status.HealthOf(st, now),
		})
	}
	return c.JSON(http.StatusOK, out)
}

// testIndexer runs an indexer's connectivity check.
// POST /api/v1/indexers/:id/test
func (s *Server) testIndexer(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid indexer id"})
	}

	if err := s.deps.Indexers.Test(c.Request().Context(), id); err != nil {
		if errors.Is(err, indexer.ErrIndexerNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": err.Error()})
		}
		return c.JSON(http.StatusOK, map[string]any{
			"success": false,
			"kind":    types.KindOf(err),
			"message": err.Error(),
		})
	}
	return c.JSON(http.StatusOK, map[string]any{"success": true})
}

// listDefinitions searches the definition catalog.
// GET /api/v1/definitions?q=...&protocol=...&privacy=...&language=...
func (s *Server) listDefinitions(c echo.Context) error {
	defs, err := s.deps.Definitions.SearchDefinitions(c.QueryParam("q"), cardigann.DefinitionFilters{
		Protocol: c.QueryParam("protocol"),
		Privacy:  c.QueryParam("privacy"),
		Language: c.QueryParam("language"),
	})
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	if defs == nil {
		defs = []*cardigann.DefinitionMetadata{}
	}
	return c.JSON(http.StatusOK, defs)
}
