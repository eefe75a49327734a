package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/matheusmosca/gym-wallet-ledger/internal/alert"
	"github.com/matheusmosca/gym-wallet-ledger/internal/booking"
	"github.com/matheusmosca/gym-wallet-ledger/internal/config"
	"github.com/matheusmosca/gym-wallet-ledger/internal/logger"
	"github.com/matheusmosca/gym-wallet-ledger/internal/notify"
	"github.com/matheusmosca/gym-wallet-ledger/internal/revenue"
	"github.com/matheusmosca/gym-wallet-ledger/internal/storage"
	"github.com/matheusmosca/gym-wallet-ledger/internal/telemetry"
	"github.com/matheusmosca/gym-wallet-ledger/internal/wallet"
)

const (
	catalogTimeout  = 5 * time.Second
	shutdownTimeout = 15 * time.Second
)

// repositories is the storage backend selected by DATABASE_DRIVER.
type repositories struct {
	wallets  wallet.Repository
	bookings booking.Repository
	ping     func(context.Context) error
	close    func()
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zapLogger := logger.New(cfg.LogLevel, cfg.IsProduction())
	defer func() { _ = zapLogger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	providers, err := telemetry.Setup(ctx, telemetry.Config{
		Enabled:     cfg.OtelEnabled,
		Endpoint:    cfg.OtelEndpoint,
		ServiceName: cfg.ServiceName,
	})
	if err != nil {
		zapLogger.Fatal("failed to initialize telemetry", zap.Error(err))
	}
	defer func() {
		if err := providers.Shutdown(context.Background()); err != nil {
			zapLogger.Warn("error shutting down telemetry", zap.Error(err))
		}
	}()

	repos, err := openRepositories(ctx, cfg, zapLogger)
	if err != nil {
		zapLogger.Fatal("failed to initialize database", zap.Error(err))
	}
	defer repos.close()

	alerts, closeAlerts := initAlerts(cfg, zapLogger)
	defer closeAlerts()

	deliverer, closeDeliverer := initDeliverer(cfg, zapLogger)
	defer closeDeliverer()
	dispatcher := notify.NewDispatcher(deliverer, zapLogger, notify.DispatcherConfig{
		Workers:   cfg.NotifyWorkers,
		QueueSize: cfg.NotifyQueueSize,
	})

	if cfg.PlatformUserID == "" {
		zapLogger.Warn("PLATFORM_USER_ID is not set, commission will be credited to the trainer")
	}

	// Initialize dependencies
	tracer := providers.TracerProvider.Tracer("wallet-ledger")
	ledger := wallet.NewLedger(
		repos.wallets,
		wallet.StaticPlatformAccount(cfg.PlatformUserID),
		alerts,
		zapLogger,
		wallet.LedgerConfig{
			OpTimeout:  cfg.LedgerOpTimeout,
			MaxRetries: cfg.LedgerMaxRetries,
		},
	)
	coordinator := booking.NewCoordinator(
		booking.NewHTTPCatalog(cfg.CatalogURL, catalogTimeout),
		ledger,
		repos.bookings,
		dispatcher,
		zapLogger,
	)
	aggregator := revenue.NewAggregator(ledger, repos.bookings, zapLogger)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(cfg.ServiceName, otelgin.WithTracerProvider(providers.TracerProvider)))

	r.GET("/health", healthCheck(repos.ping))

	api := r.Group("/api")
	admin := api.Group("/admin")
	wallet.NewHandler(ledger, tracer).RegisterRoutes(api, admin)
	booking.NewHandler(coordinator, tracer).RegisterRoutes(api)
	revenue.NewHandler(aggregator, zapLogger).RegisterRoutes(admin)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  30 * time.Second,
	}

	go func() {
		zapLogger.Info("wallet ledger listening",
			zap.String("port", cfg.Port),
			zap.String("database", cfg.DatabaseDriver),
			zap.String("notify", cfg.NotifyDriver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLogger.Fatal("failed to start server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	zapLogger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("error shutting down server", zap.Error(err))
	}
	if err := dispatcher.Close(shutdownCtx); err != nil {
		zapLogger.Error("notifications left undelivered", zap.Error(err))
	}
}

func openRepositories(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*repositories, error) {
	if cfg.DatabaseDriver == config.DriverSQLite {
		db, err := storage.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		logger.Info("connected to sqlite database", zap.String("path", cfg.SQLitePath))
		return &repositories{
			wallets:  wallet.NewSQLiteRepository(db),
			bookings: booking.NewSQLiteRepository(db),
			ping:     db.PingContext,
			close:    func() { _ = db.Close() },
		}, nil
	}

	pool, err := storage.OpenPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		return nil, err
	}
	return &repositories{
		wallets:  wallet.NewPostgresRepository(pool, cfg.LedgerLockTimeout),
		bookings: booking.NewPostgresRepository(pool),
		ping:     pool.Ping,
		close:    pool.Close,
	}, nil
}

func initAlerts(cfg *config.Config, logger *zap.Logger) (alert.Publisher, func()) {
	publishers := alert.Multi{alert.NewLogPublisher(logger)}
	if cfg.RedisAddr == "" {
		return publishers, func() {}
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	publishers = append(publishers, alert.NewRedisPublisher(client, cfg.RedisAlertChannel))
	logger.Info("publishing ledger alerts to redis",
		zap.String("addr", cfg.RedisAddr),
		zap.String("channel", cfg.RedisAlertChannel))
	return publishers, func() { _ = client.Close() }
}

func initDeliverer(cfg *config.Config, logger *zap.Logger) (notify.Deliverer, func()) {
	switch cfg.NotifyDriver {
	case config.NotifyHTTP:
		return notify.NewHTTPDeliverer(cfg.NotifyURL, catalogTimeout), func() {}
	case config.NotifyKafka:
		writer := notify.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaNotifyTopic, logger)
		return notify.NewKafkaDeliverer(writer), func() {
			if err := writer.Close(); err != nil {
				logger.Warn("error closing kafka writer", zap.Error(err))
			}
		}
	default:
		return notify.NewLogDeliverer(logger), func() {}
	}
}

func healthCheck(ping func(context.Context) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		if err := ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "time": time.Now().UTC()})
	}
}

