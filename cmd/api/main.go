package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"slotbook/internal/api"
	"slotbook/internal/config"
	"slotbook/internal/database"
	"slotbook/internal/events"
	"slotbook/internal/logging"
	"slotbook/internal/metrics"
	"slotbook/internal/notify"
	"slotbook/internal/payment"
	"slotbook/internal/promo"
	"slotbook/internal/repository"
	"slotbook/internal/service"
	"slotbook/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := initDatabase(ctx, cfg, &logger)
	if err != nil {
		return err
	}
	defer db.Close()

	if cfg.Backup.Enabled {
		go database.NewBackupService(db, cfg.Backup, &logger).Start(ctx)
	}

	redisClient := initRedis(ctx, cfg, &logger)
	if redisClient != nil {
		defer repository.Close(redisClient)
	}
	memoryStore := repository.NewMemoryStore()
	var store repository.Store = memoryStore
	if redisClient != nil {
		store = repository.NewFailoverStore(repository.NewRedisStore(redisClient), memoryStore, &logger)
	}

	eventBus := events.NewEventBus()
	dispatcher := initDispatcher(cfg, redisClient, &logger)
	if dispatcher != nil {
		eventBus.Subscribe(events.Wildcard, dispatcher.Handle)
		dispatcher.Start(ctx, 2)
	}

	provider := payment.NewClient(cfg.Payment, nil, &logger)
	services := service.New(cfg, service.Deps{
		Store:       db,
		Provider:    provider,
		Events:      eventBus,
		Promos:      promo.NewStaticResolver(cfg.PromoCodes),
		Idempotency: store,
		Logger:      &logger,
	})

	limiter := api.NewRateLimiter(cfg.API.RateLimit)
	jobs := append(services.Sweeps.Jobs(),
		worker.Job{
			Name:     "purge_idempotency",
			Interval: time.Hour,
			Run: func(context.Context) (int, error) {
				return memoryStore.Purge(), nil
			},
		},
		worker.Job{
			Name:     "prune_rate_limiters",
			Interval: 10 * time.Minute,
			Run: func(context.Context) (int, error) {
				return limiter.Prune(30 * time.Minute), nil
			},
		},
	)
	sweeper := worker.NewSweeper(logging.Component(&logger, "sweeper"), jobs...)
	sweeper.Start(ctx)

	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := api.NewRouter(cfg.API, api.RouterDeps{
		Services:    services,
		Limits:      store,
		DB:          db,
		Logger:      &logger,
		RateLimiter: limiter,
	})
	httpServer := api.NewHTTPServer(cfg.API.HTTP, router, &logger)

	grpcServer, err := api.NewGRPCServer(cfg.API.GRPC, &logger)
	if err != nil {
		logger.Error().Err(err).Msg("create grpc server")
		return err
	}

	startMetrics(ctx, cfg, &logger)

	err = startServers(ctx, grpcServer, httpServer, cfg, &logger)

	waits := []func(){sweeper.Wait}
	if dispatcher != nil {
		waits = append(waits, dispatcher.Wait)
	}
	drain(stop, waits...)
	return err
}

// drain stops the background workers and waits for them. The servers may
// have returned on their own error, so the root context can still be live.
func drain(cancel context.CancelFunc, waits ...func()) {
	cancel()
	for _, wait := range waits {
		wait()
	}
}

func loadConfigAndLogger() (*config.Config, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("init logger: %w", err)
	}
	logger := baseLogger.With().Str("component", "api-main").Logger()

	return cfg, logger, closer, nil
}

func initDatabase(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*database.DB, error) {
	db, err := database.NewDB(cfg.Database, logger)
	if err != nil {
		logger.Error().Err(err).Str("driver", cfg.Database.Driver).Msg("init database")
		return nil, err
	}

	catalogPath := cfg.CatalogPath
	if env := os.Getenv("CATALOG_PATH"); env != "" {
		catalogPath = env
	}
	if catalogPath == "" {
		return db, nil
	}

	cat, err := database.LoadCatalog(catalogPath)
	if err != nil {
		db.Close()
		logger.Error().Err(err).Str("catalog_path", catalogPath).Msg("load catalog")
		return nil, err
	}
	if err := db.SeedCatalog(ctx, cat); err != nil {
		db.Close()
		return nil, fmt.Errorf("seed catalog: %w", err)
	}
	return db, nil
}

func initRedis(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		logger.Warn().Msg("redis not configured, webhook idempotency is process-local")
		return nil
	}

	client := repository.NewRedisClient(cfg.Redis)
	if err := repository.Ping(ctx, client); err != nil {
		// the failover store keeps probing, so the client stays
		logger.Warn().Err(err).Msg("redis connection failed, starting on memory fallback")
		return client
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return client
}

func initDispatcher(cfg *config.Config, redisClient *redis.Client, logger *zerolog.Logger) *worker.Dispatcher {
	var sinks []worker.Sink

	if len(cfg.Kafka.Brokers) > 0 {
		sinks = append(sinks, notify.NewKafkaSink(notify.NewKafkaWriter(cfg.Kafka)))
		logger.Info().Strs("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.Topic).Msg("kafka sink enabled")
	}

	if cfg.Telegram.BotToken != "" && cfg.Telegram.ChatID != 0 {
		bot, err := notify.NewTelegramBot(cfg.Telegram.BotToken)
		if err != nil {
			logger.Warn().Err(err).Msg("telegram init failed, continuing without operator notifications")
		} else {
			sinks = append(sinks, notify.NewTelegramSink(bot, cfg.Telegram.ChatID))
			logger.Info().Int64("chat_id", cfg.Telegram.ChatID).Msg("telegram sink enabled")
		}
	}

	if len(sinks) == 0 {
		return nil
	}

	retry := worker.RetryPolicy{
		MaxRetries:    cfg.Worker.Retry.MaxRetries,
		InitialDelay:  cfg.Worker.Retry.InitialDelay,
		MaxDelay:      cfg.Worker.Retry.MaxDelay,
		BackoffFactor: cfg.Worker.Retry.BackoffFactor,
		Jitter:        cfg.Worker.Retry.Jitter,
	}
	return worker.NewDispatcher(sinks, cfg.Worker.QueueSize, retry, redisClient, logging.Component(logger, "dispatcher"))
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	port := cfg.Monitoring.PrometheusPort
	if port == 0 {
		port = 9090
	}
	go startMetricsServer(ctx, port, logger)
}

func startServers(
	ctx context.Context,
	grpcServer *api.GRPCServer,
	httpServer *api.HTTPServer,
	cfg *config.Config,
	logger *zerolog.Logger,
) error {
	go func() {
		if err := grpcServer.Serve(); err != nil {
			logger.Error().Err(err).Msg("grpc server stopped")
		}
	}()

	httpErr := make(chan error, 1)
	go func() {
		httpErr <- httpServer.Start()
	}()

	grpcServer.SetServing(true)
	logger.Info().Str("grpc_addr", grpcServer.Addr()).Int("http_port", cfg.API.HTTP.Port).Msg("API server started")

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-httpErr:
		if err != nil {
			runErr = fmt.Errorf("http server: %w", err)
			logger.Error().Err(err).Msg("http server stopped")
		}
	}
	grpcServer.SetServing(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.API.HTTP.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http shutdown")
	}
	grpcServer.Shutdown(shutdownCtx)

	logger.Info().Msg("API server stopped")
	return runErr
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
