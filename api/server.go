// Package api is the operator HTTP surface: health, run status, manual
// triggers, the kill switch and Prometheus metrics.
package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"filingbot/lake"
	"filingbot/orchestrator"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Runner is the orchestrator as the API sees it.
type Runner interface {
	RunPlan(ctx context.Context, name, trigger string) (orchestrator.RunSummary, error)
	Plans() []string
	Status() orchestrator.Status
}

// Switch is the runtime kill switch.
type Switch interface {
	Enabled() bool
	Set(enabled bool)
}

// BufferStats reports the parser buffer, when this process runs one.
type BufferStats interface {
	Stats() lake.Stats
}

// Deps are the components the handlers serve.
type Deps struct {
	Runner Runner
	Kill   Switch
	Buffer BufferStats
}

// NewRouter constructs a Gin engine with registered routes.
func NewRouter(d Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	RegisterHealthRoutes(r)
	RegisterRunRoutes(r, d)
	RegisterKillSwitchRoutes(r, d.Kill)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return r
}

// Server is the operator HTTP server
type Server struct {
	httpServer *http.Server
}

// NewServer creates a server listening on addr.
func NewServer(addr string, d Deps) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           NewRouter(d),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		log.Printf("Starting operator API on %s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
			return
		}
		errc <- nil
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	log.Println("Shutting down operator API...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errc
}
