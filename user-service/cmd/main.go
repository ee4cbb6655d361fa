package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/eaglebank/orderflow/shared/broker"
	"github.com/eaglebank/orderflow/shared/config"
	"github.com/eaglebank/orderflow/shared/events"
	"github.com/eaglebank/orderflow/shared/lifecycle"
	"github.com/eaglebank/orderflow/shared/logging"
	"github.com/eaglebank/orderflow/shared/metrics"
	"github.com/eaglebank/orderflow/shared/server"
	usercmd "github.com/eaglebank/orderflow/user-service/internal/command"
	"github.com/eaglebank/orderflow/user-service/internal/handler"
	userqry "github.com/eaglebank/orderflow/user-service/internal/query"
	"github.com/eaglebank/orderflow/user-service/internal/repository"
)

func main() {
	cfg, err := config.LoadConfig(os.Getenv("CONFIG_FILE"), config.Defaults("user-service", 3001))
	if err != nil {
		fmt.Fprintf(os.Stderr, "user-service: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.ServiceName, cfg.LogLevel)
	logger.Info("configuration loaded", "config", cfg.String())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	collector := metrics.NewCollector(prometheus.DefaultRegisterer, cfg.ServiceName)
	if err := collector.Register(); err != nil {
		logger.Error("failed to register metrics", "error", err)
		os.Exit(1)
	}

	// --- messaging ---
	manager := broker.NewManager(broker.Config{
		URL:               cfg.RabbitMQURL,
		ConnectionName:    cfg.ServiceName,
		Queues:            []broker.QueueDescriptor{broker.UserEventsQueue},
		PublisherConfirms: cfg.PublisherConfirms,
	}, logger, broker.WithStateObserver(func(s broker.ConnectionState) {
		collector.SetConnectionState(s.String(), broker.AllStates()...)
	}))
	publisher := events.NewPublisher(manager, events.PublisherConfig{
		AppID:          cfg.ServiceName,
		ConfirmTimeout: cfg.ConfirmTimeout,
	}, logger, collector)
	controller := lifecycle.New(cfg.ServiceName, manager, logger)

	// --- CQRS wiring ---
	repo := repository.NewUserRepository(repository.SampleUsers())
	commandSvc := usercmd.NewUserCommandService(repo, publisher, logger)
	querySvc := userqry.NewUserQueryService(repo)
	userHandler := handler.NewUserHandler(commandSvc, querySvc)

	router := server.NewRouter(logger)
	userHandler.Register(router)
	server.MountOps(router, cfg.ServiceName, map[string]server.Probe{
		"broker":    func() string { return manager.State().String() },
		"lifecycle": func() string { return controller.State().String() },
	}, prometheus.DefaultGatherer)

	// HTTP comes up even if the broker is unreachable; publishes then report
	// messagePublished=false.
	go func() {
		if err := controller.Start(ctx); err != nil {
			logger.Error("messaging unavailable", "error", err)
		}
	}()

	srv := server.NewHTTPServer(cfg.HTTPPort, router)
	runErr := server.Run(ctx, srv, cfg.ShutdownTimeout, logger)
	if runErr != nil {
		logger.Error("http server stopped with error", "error", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	if err := controller.Shutdown(shutdownCtx); err != nil {
		logger.Error("messaging shutdown incomplete", "error", err)
	}
	cancel()
	logger.Info("user service stopped")

	if code := server.ExitCode(runErr); code != 0 {
		stop()
		os.Exit(code)
	}
}
