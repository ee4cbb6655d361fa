// Package server holds the HTTP plumbing every binary shares: the gin engine
// with logging and recovery, the /health and /metrics endpoints, and the
// serve-until-cancelled loop.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/eaglebank/orderflow/shared/middleware"
	"github.com/eaglebank/orderflow/shared/utils"
)

func NewRouter(logger *slog.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(middleware.Recovery(logger), middleware.LoggingMiddleware(logger))
	return router
}

// Probe reports the current state of one component, e.g. "connected".
type Probe func() string

// MountOps adds GET /health and GET /metrics. Health always answers 200 while
// the process serves HTTP; probes only describe the messaging side.
func MountOps(router gin.IRouter, service string, probes map[string]Probe, gatherer prometheus.Gatherer) {
	router.GET("/health", func(c *gin.Context) {
		components := make(map[string]string, len(probes))
		for name, probe := range probes {
			components[name] = probe()
		}
		c.JSON(http.StatusOK, gin.H{
			"status":     "ok",
			"service":    service,
			"components": components,
			"timestamp":  utils.Now(),
		})
	})
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
}

func NewHTTPServer(port int, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// ErrListen marks a server that stopped because its listener failed, as
// opposed to a requested shutdown.
var ErrListen = errors.New("http listener failed")

// ExitCode maps the result of Run to a process exit status: 1 when the
// listener failed, 0 otherwise.
func ExitCode(runErr error) int {
	if errors.Is(runErr, ErrListen) {
		return 1
	}
	return 0
}

// Run serves until ctx is cancelled or the listener fails, then drains
// in-flight requests for at most shutdownTimeout.
func Run(ctx context.Context, srv *http.Server, shutdownTimeout time.Duration, logger *slog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("%w: %w", ErrListen, err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		logger.Error("http server failed", "error", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Join(runErr, fmt.Errorf("http shutdown: %w", err))
	}
	return runErr
}
