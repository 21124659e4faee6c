package obs

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// HTTPServer exposes the liveness/metrics surface as a process external to
// the core engine: two JSON routes an operator actually polls.
type HTTPServer struct {
	server *http.Server
	log    *Log

	mu      sync.RWMutex
	metrics map[string]Metric
	handler HandlerID
}

// NewHTTPServer builds the server bound to addr ("" disables it). Every
// emitted metric is cached by name so /api/metrics can report the latest
// value without the hot path blocking on HTTP.
func NewHTTPServer(addr string, log *Log) *HTTPServer {
	if addr == "" {
		return nil
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &HTTPServer{
		log:     log,
		metrics: make(map[string]Metric),
		server: &http.Server{
			Addr:    addr,
			Handler: router,
		},
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/api/metrics", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.snapshot())
	})

	s.handler = RegisterMetricHandler(s.record)
	return s
}

func (s *HTTPServer) record(m Metric) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics[m.Component+"."+m.Name] = m
}

func (s *HTTPServer) snapshot() map[string]Metric {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Metric, len(s.metrics))
	for k, v := range s.metrics {
		out[k] = v
	}
	return out
}

// Run starts the server and blocks until ctx is cancelled, then shuts down
// gracefully with a 5s timeout.
func (s *HTTPServer) Run(ctx context.Context) {
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.WithComponent("httpserver").WithError(err).Error("server exited unexpectedly")
		}
	}()

	<-ctx.Done()
	UnregisterMetricHandler(s.handler)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		s.log.WithComponent("httpserver").WithError(err).Warn("graceful shutdown failed")
	}
}
