// Package server exposes the status of a running generation over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vampirenirmal/novelgen/internal/core"
	"github.com/vampirenirmal/novelgen/internal/output"
)

// StatusSource is what the server reports on. *core.Orchestrator satisfies it.
type StatusSource interface {
	Status() core.GenerationStatus
	Sections() []core.Section
}

type Server struct {
	engine  *gin.Engine
	source  StatusSource
	history *output.HistoryStore
	logger  *slog.Logger
}

type Option func(*Server)

// WithHistory adds the /runs endpoints backed by h.
func WithHistory(h *output.HistoryStore) Option {
	return func(s *Server) {
		s.history = h
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func New(source StatusSource, opts ...Option) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		engine: gin.New(),
		source: source,
		logger: slog.Default().With("component", "server"),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.engine.Use(s.recovery(), s.requestLogger())
	s.routes()
	return s
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() {
	s.engine.GET("/healthz", s.health)
	s.engine.GET("/status", s.status)
	s.engine.GET("/sections", s.sections)
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if s.history != nil {
		s.engine.GET("/runs", s.runs)
		s.engine.GET("/runs/:id", s.run)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) status(c *gin.Context) {
	c.JSON(http.StatusOK, s.source.Status())
}

type sectionView struct {
	Index     int       `json:"index"`
	Length    int       `json:"length"`
	Attempt   int       `json:"attempt"`
	Truncated bool      `json:"truncated,omitempty"`
	Summary   string    `json:"summary,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	Text      string    `json:"text,omitempty"`
}

// sections lists the accepted sections; ?text=true includes their text.
func (s *Server) sections(c *gin.Context) {
	withText := c.Query("text") == "true"

	secs := s.source.Sections()
	views := make([]sectionView, 0, len(secs))
	for _, sec := range secs {
		v := sectionView{
			Index:     sec.Index,
			Length:    len([]rune(sec.Text)),
			Attempt:   sec.Attempt,
			Truncated: sec.Truncated,
			Summary:   sec.Summary,
			CreatedAt: sec.CreatedAt,
		}
		if withText {
			v.Text = sec.Text
		}
		views = append(views, v)
	}
	c.JSON(http.StatusOK, gin.H{"sections": views})
}

func (s *Server) runs(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit <= 0 || limit > 500 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 500"})
		return
	}

	runs, err := s.history.RecentRuns(c.Request.Context(), limit)
	if err != nil {
		s.logger.Error("Listing runs failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "listing runs failed"})
		return
	}
	if runs == nil {
		runs = []output.RunRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (s *Server) run(c *gin.Context) {
	id := c.Param("id")

	run, err := s.history.Run(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("run %q not found", id)})
		return
	}
	events, err := s.history.Events(c.Request.Context(), id)
	if err != nil {
		s.logger.Error("Loading run events failed", "run_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "loading events failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"run": run, "events": len(events)})
}

func (s *Server) recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("Panic recovered", "panic", r, "path", c.Request.URL.Path)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
			}
		}()
		c.Next()
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("Request served",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

// ListenAndServe serves on addr until ctx is done, then shuts down.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Status server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("status server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down status server: %w", err)
		}
		return nil
	}
}
