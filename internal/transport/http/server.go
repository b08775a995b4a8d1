// Package httpapi exposes the task trigger/read surface and the agent
// reporting endpoints over gin.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"tradesim/internal/logger"
	"tradesim/internal/task"
)

type Server struct {
	addr   string
	router *gin.Engine
	srv    *http.Server
}

type ServerConfig struct {
	Addr   string
	Tasks  *task.Service
	Runner *task.Runner
	Logs   LogStore
	Agents AgentReader
}

func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Tasks == nil || cfg.Runner == nil {
		return nil, errors.New("http server requires the task service and runner")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	h := &handlers{tasks: cfg.Tasks, runner: cfg.Runner, logs: cfg.Logs, agents: cfg.Agents}
	h.register(router.Group("/api"))

	return &Server{addr: cfg.Addr, router: router}, nil
}

// Start serves until ctx is cancelled, then drains with a short
// shutdown grace period.
func (s *Server) Start(ctx context.Context) error {
	s.srv = &http.Server{Addr: s.addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		logger.Infof("[http] listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debugf("[http] %s %s -> %d (%s, %s)",
			c.Request.Method, c.Request.URL.Path, c.Writer.Status(),
			time.Since(start), c.ClientIP())
	}
}
