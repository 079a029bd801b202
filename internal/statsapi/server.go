// Package statsapi exposes the operator HTTP surface: health, a JSON
// occupancy snapshot, and prometheus metrics. It is read-only; nothing here
// can mutate the slot table.
package statsapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"rigrelay/internal/relay"
)

// Registry is the read-only view the API serves.
type Registry interface {
	Snapshot() []relay.SlotInfo
	NumClients() int
	Capacity() int
	DescribeOccupancy() string
}

// Server wraps the gin router and its http.Server.
type Server struct {
	log  *zerolog.Logger
	http *http.Server
}

// New builds the stats server on addr.
func New(addr string, reg Registry, gatherer prometheus.Gatherer, logger *zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	router.GET("/stats", func(c *gin.Context) {
		snapshot := reg.Snapshot()
		c.JSON(http.StatusOK, gin.H{
			"capacity": reg.Capacity(),
			"clients":  len(snapshot),
			"slots":    snapshot,
		})
	})
	router.GET("/occupancy", func(c *gin.Context) {
		c.String(http.StatusOK, reg.DescribeOccupancy())
	})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	return &Server{
		log: logger,
		http: &http.Server{
			Addr:              addr,
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Run serves until Shutdown is called.
func (s *Server) Run() error {
	s.log.Info().Str("addr", s.http.Addr).Msg("stats api listening")
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the HTTP server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
