// Package statusserver exposes read-only loop status over HTTP.
package statusserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"gata/internal/logging"
	"gata/internal/rewards"
	"gata/internal/taskloop"
)

// LoopStatus is the slice of the controller the server reads.
type LoopStatus interface {
	State() taskloop.State
	LastCycle() (taskloop.CycleResult, bool)
	Cycles() int64
}

// StatsSource returns the latest reward snapshot.
type StatsSource interface {
	Current() rewards.Snapshot
}

// HistorySource reads the cycle ledger.
type HistorySource interface {
	Recent(ctx context.Context, limit int) ([]taskloop.CycleResult, error)
	CountByOutcome(ctx context.Context) (map[taskloop.Outcome]int64, error)
}

// APIResponse wraps every JSON payload.
type APIResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Uptime    string    `json:"uptime"`
}

type StatusResponse struct {
	State     taskloop.State        `json:"state"`
	Cycles    int64                 `json:"cycles"`
	LastCycle *taskloop.CycleResult `json:"last_cycle,omitempty"`
}

type HistoryResponse struct {
	Cycles []taskloop.CycleResult     `json:"cycles"`
	Counts map[taskloop.Outcome]int64 `json:"counts"`
}

// Server serves /healthz, /metrics and the /api status endpoints.
type Server struct {
	loop     LoopStatus
	stats    StatsSource
	history  HistorySource
	gatherer prometheus.Gatherer
	origins  []string
	logger   logging.Logger

	engine     *gin.Engine
	httpServer *http.Server
	startTime  time.Time
}

// Option customises a Server.
type Option func(*Server)

func WithHistory(h HistorySource) Option {
	return func(s *Server) { s.history = h }
}

// WithGatherer selects the registry served on /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		if g != nil {
			s.gatherer = g
		}
	}
}

// WithCORSOrigins allows browser dashboards on origins to read the API.
func WithCORSOrigins(origins ...string) Option {
	return func(s *Server) { s.origins = origins }
}

func WithLogger(l logging.Logger) Option {
	return func(s *Server) { s.logger = logging.OrNop(l) }
}

// New builds a server listening on addr.
func New(addr string, loop LoopStatus, stats StatsSource, opts ...Option) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		loop:      loop,
		stats:     stats,
		gatherer:  prometheus.DefaultGatherer,
		logger:    logging.NewComponentLogger("status"),
		engine:    gin.New(),
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.engine.Use(gin.Recovery())
	s.engine.Use(s.requestLogger())
	if len(s.origins) > 0 {
		corsConfig := cors.DefaultConfig()
		corsConfig.AllowOrigins = s.origins
		corsConfig.AllowMethods = []string{http.MethodGet, http.MethodOptions}
		s.engine.Use(cors.New(corsConfig))
	}

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
	}

	s.setupRoutes()
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) setupRoutes() {
	s.engine.GET("/healthz", s.handleHealth)
	s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))

	api := s.engine.Group("/api")
	{
		api.GET("/stats", s.handleStats)
		api.GET("/status", s.handleStatus)
		api.GET("/history", s.handleHistory)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, APIResponse{
		Success: true,
		Data: HealthResponse{
			Status:    "ok",
			Timestamp: time.Now().UTC(),
			Uptime:    time.Since(s.startTime).Round(time.Second).String(),
		},
	})
}

func (s *Server) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, APIResponse{Success: true, Data: s.stats.Current()})
}

func (s *Server) handleStatus(c *gin.Context) {
	resp := StatusResponse{
		State:  s.loop.State(),
		Cycles: s.loop.Cycles(),
	}
	if last, ok := s.loop.LastCycle(); ok {
		resp.LastCycle = &last
	}
	c.JSON(http.StatusOK, APIResponse{Success: true, Data: resp})
}

func (s *Server) handleHistory(c *gin.Context) {
	if s.history == nil {
		c.JSON(http.StatusNotFound, APIResponse{Error: "history is disabled"})
		return
	}
	limit := 20
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 500 {
			c.JSON(http.StatusBadRequest, APIResponse{Error: "limit must be between 1 and 500"})
			return
		}
		limit = n
	}

	ctx := c.Request.Context()
	cycles, err := s.history.Recent(ctx, limit)
	if err != nil {
		s.logger.Warn("history query failed: %v", err)
		c.JSON(http.StatusInternalServerError, APIResponse{Error: "history unavailable"})
		return
	}
	counts, err := s.history.CountByOutcome(ctx)
	if err != nil {
		s.logger.Warn("history count failed: %v", err)
		c.JSON(http.StatusInternalServerError, APIResponse{Error: "history unavailable"})
		return
	}
	if cycles == nil {
		cycles = []taskloop.CycleResult{}
	}
	c.JSON(http.StatusOK, APIResponse{Success: true, Data: HistoryResponse{Cycles: cycles, Counts: counts}})
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("%s %s %d %s", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.httpServer.Addr, err)
	}
	s.logger.Info("Status server listening on %s", ln.Addr())

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("status server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown status server: %w", err)
	}
	return nil
}
