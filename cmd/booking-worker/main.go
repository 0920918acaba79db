// The booking worker consumes inbound fragments from SQS without
// serving HTTP. Deploy it separately from the API when webhook intake
// and dialogue processing need to scale independently.
package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/lucasdmc/atendeai-lify-admin-sub001/cmd/mainconfig"
	"github.com/lucasdmc/atendeai-lify-admin-sub001/internal/booking"
	"github.com/lucasdmc/atendeai-lify-admin-sub001/internal/catalog"
	appconfig "github.com/lucasdmc/atendeai-lify-admin-sub001/internal/config"
	"github.com/lucasdmc/atendeai-lify-admin-sub001/internal/messaging"
	"github.com/lucasdmc/atendeai-lify-admin-sub001/internal/scheduling"
	"github.com/lucasdmc/atendeai-lify-admin-sub001/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("booking worker failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) error {
	if cfg.UseMemoryQueue {
		return fmt.Errorf("booking worker cannot run when USE_MEMORY_QUEUE=true; run inline workers via the API process instead")
	}
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	logger.Info("starting atendeai booking worker", "env", cfg.Env)

	loc, err := time.LoadLocation(cfg.ClinicTimezone)
	if err != nil {
		return fmt.Errorf("invalid clinic timezone %q: %w", cfg.ClinicTimezone, err)
	}

	dbPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("worker failed to connect to postgres: %w", err)
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
		return fmt.Errorf("worker failed to create calendar client: %w", err)
	}

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to load AWS config: %w", err)
	}
	queue := booking.NewSQSQueue(sqs.NewFromConfig(awsCfg), cfg.BookingQueueURL)

	directory := catalog.NewPostgresDirectory(dbPool)
	sessions := booking.NewRedisSessionStore(redisClient)
	appointments := scheduling.NewRepository(dbPool)
	reserver := scheduling.NewAdapter(appointments, calendarAPI, cfg.CalendarTimeout, logger.WithComponent("scheduling"))
	extractor := booking.NewExtractor(directory, loc)
	engine := booking.NewEngine(sessions, extractor, directory, reserver, cfg.SessionTTL, loc, logger.WithComponent("booking"), nil)

	sender := messaging.NewGatewaySender(cfg.GatewayBaseURL, cfg.GatewayAPIKey, cfg.GatewaySenderNumber, logger.WithComponent("gateway"))
	deliverer := messaging.NewBookingNotifier(sender, nil, logger.WithComponent("gateway"))

	dispatcher := booking.NewDispatcher(engine, queue, deliverer,
		logger.WithComponent("dispatcher"), booking.WithWorkerCount(cfg.WorkerCount))
	dispatcher.Start(ctx)

	if cfg.CalendarSyncEnabled {
		window := time.Duration(cfg.CalendarSyncWindowDay) * 24 * time.Hour
		syncWorker := scheduling.NewSyncWorker(appointments, calendarAPI, cfg.CalendarSyncInterval, window, logger.WithComponent("calendar_sync"))
		go syncWorker.Run(ctx)
	}

	<-ctx.Done()
	logger.Info("shutting down booking worker...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return dispatcher.Shutdown(shutdownCtx)
}
