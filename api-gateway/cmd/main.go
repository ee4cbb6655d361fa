package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/eaglebank/orderflow/api-gateway/internal/gateway"
	"github.com/eaglebank/orderflow/shared/config"
	"github.com/eaglebank/orderflow/shared/logging"
	"github.com/eaglebank/orderflow/shared/server"
)

func main() {
	cfg, err := config.LoadConfig(os.Getenv("CONFIG_FILE"), config.Defaults("api-gateway", 3000))
	if err != nil {
		fmt.Fprintf(os.Stderr, "api-gateway: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.ServiceName, cfg.LogLevel)
	logger.Info("configuration loaded", "config", cfg.String())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	router := server.NewRouter(logger)
	server.MountOps(router, cfg.ServiceName, map[string]server.Probe{
		"users":  func() string { return cfg.UserServiceURL },
		"orders": func() string { return cfg.OrderServiceURL },
	}, prometheus.DefaultGatherer)
	gateway.New(cfg.UserServiceURL, cfg.OrderServiceURL, nil, logger).Register(router)

	srv := server.NewHTTPServer(cfg.HTTPPort, router)
	runErr := server.Run(ctx, srv, cfg.ShutdownTimeout, logger)
	if runErr != nil {
		logger.Error("http server stopped with error", "error", runErr)
	}
	logger.Info("api gateway stopped")

	if code := server.ExitCode(runErr); code != 0 {
		stop()
		os.Exit(code)
	}
}
