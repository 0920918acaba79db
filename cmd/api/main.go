package main

import (
	"context"
	"crypto/tls"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/lucasdmc/atendeai-lify-admin-sub001/cmd/mainconfig"
	"github.com/lucasdmc/atendeai-lify-admin-sub001/internal/api/router"
	"github.com/lucasdmc/atendeai-lify-admin-sub001/internal/booking"
	"github.com/lucasdmc/atendeai-lify-admin-sub001/internal/catalog"
	appconfig "github.com/lucasdmc/atendeai-lify-admin-sub001/internal/config"
	"github.com/lucasdmc/atendeai-lify-admin-sub001/internal/events"
	"github.com/lucasdmc/atendeai-lify-admin-sub001/internal/messaging"
	"github.com/lucasdmc/atendeai-lify-admin-sub001/internal/notify"
	"github.com/lucasdmc/atendeai-lify-admin-sub001/internal/observability/metrics"
	"github.com/lucasdmc/atendeai-lify-admin-sub001/internal/scheduling"
	"github.com/lucasdmc/atendeai-lify-admin-sub001/pkg/logging"
)

func main() {
	// .env is optional; real deployments inject environment directly.
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting atendeai booking API",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loc, err := time.LoadLocation(cfg.ClinicTimezone)
	if err != nil {
		logger.Error("invalid clinic timezone", "error", err, "tz", cfg.ClinicTimezone)
		os.Exit(1)
	}

	if cfg.DatabaseURL == "" {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}
	dbPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()

	redisOpts := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOpts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	calendarAPI, err := scheduling.NewGoogleCalendar(ctx, cfg.CalendarID, cfg.CalendarCredentials, loc)
	if err != nil {
		logger.Error("failed to create calendar client", "error", err)
		os.Exit(1)
	}

	m := metrics.NewBookingMetrics(nil)

	directory := catalog.NewPostgresDirectory(dbPool)
	sessions := booking.NewRedisSessionStore(redisClient)
	appointments := scheduling.NewRepository(dbPool)
	reserver := scheduling.NewAdapter(appointments, calendarAPI, cfg.CalendarTimeout, logger.WithComponent("scheduling"))
	extractor := booking.NewExtractor(directory, loc)
	engine := booking.NewEngine(sessions, extractor, directory, reserver, cfg.SessionTTL, loc, logger.WithComponent("booking"), m)

	emailSender := notify.NewSendGridSender(notify.SendGridConfig{
		APIKey:    cfg.SendGridAPIKey,
		FromEmail: cfg.SendGridFromEmail,
		FromName:  cfg.SendGridFromName,
	}, logger.WithComponent("notify"))
	if emailSender != nil {
		notifier := notify.NewService(emailSender, cfg.OperatorEmail, loc, logger.WithComponent("notify"))
		if notifier.Enabled() {
			engine.SetNotifier(notifier)
		}
	}

	sender := messaging.NewGatewaySender(cfg.GatewayBaseURL, cfg.GatewayAPIKey, cfg.GatewaySenderNumber, logger.WithComponent("gateway"))
	deliverer := messaging.NewBookingNotifier(sender, m, logger.WithComponent("gateway"))

	var dispatcher *booking.Dispatcher
	if cfg.UseMemoryQueue {
		dispatcher = booking.NewDispatcher(engine, booking.NewMemoryQueue(256), deliverer,
			logger.WithComponent("dispatcher"), booking.WithWorkerCount(cfg.WorkerCount))
	} else {
		awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
		if err != nil {
			logger.Error("failed to load AWS config", "error", err)
			os.Exit(1)
		}
		sqsQueue := booking.NewSQSQueue(sqs.NewFromConfig(awsCfg), cfg.BookingQueueURL)
		dispatcher = booking.NewDispatcher(engine, sqsQueue, deliverer,
			logger.WithComponent("dispatcher"), booking.WithWorkerCount(cfg.WorkerCount))
	}
	dispatcher.Start(ctx)

	if cfg.CalendarSyncEnabled {
		window := time.Duration(cfg.CalendarSyncWindowDay) * 24 * time.Hour
		syncWorker := scheduling.NewSyncWorker(appointments, calendarAPI, cfg.CalendarSyncInterval, window, logger.WithComponent("calendar_sync"))
		go syncWorker.Run(ctx)
	}

	dedup := events.NewProcessedStore(dbPool)
	webhook := messaging.NewHandler(cfg.GatewayWebhookSecret, dispatcher, dedup, m, logger.WithComponent("webhook"))

	r := router.New(&router.Config{
		Logger:         logger,
		WebhookHandler: webhook,
		MetricsHandler: promhttp.Handler(),
		Pingers: map[string]router.Pinger{
			"postgres": dbPool.Ping,
			"redis": func(ctx context.Context) error {
				return redisClient.Ping(ctx).Err()
			},
		},
		WebhookRateLimit: 25,
		WebhookBurst:     50,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	if err := dispatcher.Shutdown(shutdownCtx); err != nil {
		logger.Error("dispatcher forced to shutdown", "error", err)
	}

	logger.Info("server stopped")
}
