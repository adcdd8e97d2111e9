package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"icdcoder/internal/agent"
	"icdcoder/internal/corpus"
	"icdcoder/internal/logger"
	"icdcoder/internal/metrics"
	"icdcoder/internal/service"
)

// Asker is the coding agent surface used by the HTTP layer.
type Asker interface {
	Ask(ctx context.Context, question string) (*agent.Outcome, error)
	Resume(ctx context.Context, id string, decision agent.Decision) (*agent.Outcome, error)
}

// Server exposes the coding agent over HTTP.
type Server struct {
	router  *gin.Engine
	agent   Asker
	search  agent.Searcher
	metrics *metrics.Metrics
	log     logger.Logger
}

type askRequest struct {
	Question string `json:"question" binding:"required"`
}

type resumeRequest struct {
	Decision agent.Decision `json:"decision" binding:"required"`
}

type searchRequest struct {
	Symptoms string `json:"symptoms" binding:"required"`
}

// New builds the router. A nil asker disables the /ask routes.
func New(asker Asker, search agent.Searcher, m *metrics.Metrics, log logger.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{router: gin.New(), agent: asker, search: search, metrics: m, log: log}
	s.router.Use(gin.Recovery(), s.requestLogger(), m.GinMiddleware())
	s.router.GET("/", s.handleRoot)
	s.router.POST("/search", s.handleSearch)
	if asker != nil {
		s.router.POST("/ask", s.handleAsk)
		s.router.POST("/ask/:id/resume", s.handleResume)
	}
	s.router.GET("/metrics", gin.WrapH(m.Handler()))
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("Starting HTTP server", "address", fmt.Sprintf("http://%s", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	s.log.Info("Server shutdown completed successfully")
	return nil
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Request = c.Request.WithContext(logger.ContextWithLogger(c.Request.Context(), s.log))
		c.Next()
		s.log.Debug("Request handled",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

func (s *Server) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "icdcoder API is running!"})
}

func (s *Server) handleSearch(c *gin.Context) {
	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}
	result, err := s.search.Search(c.Request.Context(), req.Symptoms)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleAsk(c *gin.Context) {
	var req askRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}
	out, err := s.agent.Ask(c.Request.Context(), req.Question)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.respond(c, out)
}

func (s *Server) handleResume(c *gin.Context) {
	var req resumeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}
	out, err := s.agent.Resume(c.Request.Context(), c.Param("id"), req.Decision)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.respond(c, out)
}

func (s *Server) respond(c *gin.Context, out *agent.Outcome) {
	switch {
	case out.Interrupt != nil:
		c.JSON(http.StatusOK, gin.H{
			"interrupt_id": out.Interrupt.ID,
			"tool_call":    out.Interrupt.ToolCall,
		})
	case out.Rejected:
		c.JSON(http.StatusOK, gin.H{"status": "rejected"})
	default:
		c.JSON(http.StatusOK, gin.H{"response": out.Result})
	}
}

func (s *Server) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, agent.ErrEmptyQuestion),
		errors.Is(err, service.ErrEmptySymptoms),
		errors.Is(err, agent.ErrInvalidDecision):
		status = http.StatusBadRequest
	case errors.Is(err, agent.ErrInterruptNotFound):
		status = http.StatusNotFound
	case corpus.IsRetrievalError(err):
		s.log.Error("Retrieval failed", "error", err)
	default:
		s.log.Error("Request failed", "error", err)
	}
	c.JSON(status, gin.H{"detail": err.Error()})
}
