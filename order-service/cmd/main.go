package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	ordercmd "github.com/eaglebank/orderflow/order-service/internal/command"
	"github.com/eaglebank/orderflow/order-service/internal/handler"
	orderqry "github.com/eaglebank/orderflow/order-service/internal/query"
	"github.com/eaglebank/orderflow/order-service/internal/repository"
	"github.com/eaglebank/orderflow/shared/broker"
	"github.com/eaglebank/orderflow/shared/config"
	"github.com/eaglebank/orderflow/shared/events"
	"github.com/eaglebank/orderflow/shared/lifecycle"
	"github.com/eaglebank/orderflow/shared/logging"
	"github.com/eaglebank/orderflow/shared/metrics"
	redisClient "github.com/eaglebank/orderflow/shared/redis"
	"github.com/eaglebank/orderflow/shared/server"
)

func main() {
	defaults := config.Defaults("order-service", 3002)
	defaults.ProcessedEventsLimit = 1000
	cfg, err := config.LoadConfig(os.Getenv("CONFIG_FILE"), defaults)
	if err != nil {
		fmt.Fprintf(os.Stderr, "order-service: %v\n", err)
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

	// Redis is optional; without it attempt counts reset on restart.
	var consumerOpts []events.ConsumerOption
	if cfg.RedisAddr != "" {
		rdb, err := redisClient.NewClient(ctx, cfg.RedisAddr, "", 0)
		if err != nil {
			logger.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer rdb.Close()
		tracker := redisClient.NewAttemptTracker(rdb, "orderflow:attempts:"+cfg.ServiceName, redisClient.DefaultAttemptTTL)
		consumerOpts = append(consumerOpts, events.WithAttemptTracker(tracker))
	}

	// --- messaging ---
	manager := broker.NewManager(broker.Config{
		URL:            cfg.RabbitMQURL,
		ConnectionName: cfg.ServiceName,
		Queues: []broker.QueueDescriptor{
			broker.UserEventsQueue,
			broker.DeadLetterQueue(broker.UserEventsQueue),
			broker.OrderEventsQueue,
		},
		PublisherConfirms: cfg.PublisherConfirms,
	}, logger, broker.WithStateObserver(func(s broker.ConnectionState) {
		collector.SetConnectionState(s.String(), broker.AllStates()...)
	}))
	publisher := events.NewPublisher(manager, events.PublisherConfig{
		AppID:          cfg.ServiceName,
		ConfirmTimeout: cfg.ConfirmTimeout,
	}, logger, collector)
	consumer := events.NewConsumer(manager, events.ConsumerConfig{
		Prefetch:       cfg.PrefetchCount,
		MaxDeliveries:  cfg.MaxDeliveries,
		RetryDelay:     cfg.RetryDelay,
		ConsumerTag:    cfg.ServiceName,
		ConfirmTimeout: cfg.ConfirmTimeout,
	}, logger, collector, consumerOpts...)

	// --- CQRS wiring ---
	orders := repository.NewOrderRepository()
	processed := repository.NewProcessedEventRepository(cfg.ProcessedEventsLimit)
	commandSvc := ordercmd.NewOrderCommandService(orders, processed, publisher, logger)
	querySvc := orderqry.NewOrderQueryService(orders, processed)
	orderHandler := handler.NewOrderHandler(commandSvc, querySvc)

	controller := lifecycle.New(cfg.ServiceName, manager, logger,
		lifecycle.WithStartupStep("subscribe "+broker.UserEventsQueue.Name, func(ctx context.Context) error {
			return consumer.Subscribe(ctx, broker.UserEventsQueue.Name, commandSvc.HandleUserEvent)
		}),
		lifecycle.WithStopper(consumer),
	)

	router := server.NewRouter(logger)
	orderHandler.Register(router)
	server.MountOps(router, cfg.ServiceName, map[string]server.Probe{
		"broker":    func() string { return manager.State().String() },
		"lifecycle": func() string { return controller.State().String() },
	}, prometheus.DefaultGatherer)

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
	logger.Info("order service stopped")

	if code := server.ExitCode(runErr); code != 0 {
		stop()
		os.Exit(code)
	}
}
