// cmd/botd/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"summarybot/internal/ai"
	"summarybot/internal/analytics"
	"summarybot/internal/api"
	"summarybot/internal/bot"
	"summarybot/internal/common/alert"
	"summarybot/internal/common/config"
	"summarybot/internal/common/database"
	"summarybot/internal/common/logger"
	"summarybot/internal/common/observability"
	"summarybot/internal/enforcement"
	"summarybot/internal/entitlement"
	"summarybot/internal/quota"
	"summarybot/internal/reconciler"
	"summarybot/internal/scheduler"
	"summarybot/pkg/telegram"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2 // Exponential backoff
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting entitlement engine...",
		zap.String("app", cfg.App.Name),
		zap.String("version", cfg.App.Version),
	)

	obs := observability.New(cfg.App.Name)
	defer obs.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loc, err := time.LoadLocation(cfg.Quota.ResetTimezone)
	if err != nil {
		zapLog.Fatal("invalid reset timezone", zap.Error(err))
	}

	// --- Init PostgreSQL with retry ---
	var pg *database.PostgresClient
	err = retryWithBackoff(func() error {
		var err error
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		return pg.Ping(ctx)
	}, 15, 2*time.Second, zapLog, "PostgreSQL connection")
	if err != nil {
		zapLog.Fatal("postgres failed after retries", zap.Error(err))
	}
	defer pg.Close()
	zapLog.Info("PostgreSQL connected successfully")

	// --- Init Redis with retry ---
	var rdb *database.RedisClient
	err = retryWithBackoff(func() error {
		var err error
		rdb, err = database.NewRedis(cfg.Database.Redis)
		if err != nil {
			return err
		}
		return rdb.Ping(ctx)
	}, 10, 2*time.Second, zapLog, "Redis connection")
	if err != nil {
		zapLog.Fatal("redis failed after retries", zap.Error(err))
	}
	defer rdb.Close()
	zapLog.Info("Redis connected successfully")

	// --- Init Elasticsearch (optional audit trail) ---
	var audit analytics.Recorder = analytics.NopRecorder{}
	if cfg.Database.Elasticsearch.Enabled {
		var esClient *database.ElasticsearchClient
		err = retryWithBackoff(func() error {
			var err error
			esClient, err = database.NewElasticsearch(cfg.Database.Elasticsearch)
			if err != nil {
				return err
			}
			return esClient.Ping()
		}, 15, 2*time.Second, zapLog, "Elasticsearch connection")
		if err != nil {
			zapLog.Fatal("elasticsearch failed after retries", zap.Error(err))
		}
		audit = analytics.NewESRecorder(esClient.Client, log)
		zapLog.Info("Elasticsearch connected successfully")
	}

	// --- Alerting ---
	alerts, err := alert.NewSink(ctx, cfg.Alerting, log)
	if err != nil {
		zapLog.Fatal("alert sink init failed", zap.Error(err))
	}

	// --- Domain components ---
	store := entitlement.NewPostgresStore(pg.DB, log)
	cache := quota.NewRedisCache(rdb.Client, loc, log)

	tg := telegram.NewClient(cfg.Telegram.Token)
	messenger := bot.NewMessenger(tg)

	notifier := enforcement.NewNotifier(cache, messenger,
		time.Duration(cfg.Quota.NotifyWindow)*time.Second, log)

	pipeline := enforcement.NewPipeline(store, cache, notifier, alerts, obs, audit,
		enforcement.Config{
			Limits: quota.Limits{
				Daily:   cfg.Quota.DailyLimit,
				Monthly: cfg.Quota.MonthlyLimit,
				Groups:  cfg.Quota.GroupLimit,
			},
			StoreTimeout:   time.Duration(cfg.Quota.StoreTimeout) * time.Millisecond,
			CommitAttempts: cfg.Quota.CommitAttempts,
		}, log)

	provider, err := ai.NewProvider(cfg.AI)
	if err != nil {
		zapLog.Fatal("ai provider init failed", zap.Error(err))
	}

	// --- Billing webhook + reconciler ---
	verifier := reconciler.NewVerifier(cfg.Billing.WebhookSecret,
		time.Duration(cfg.Billing.SignatureTolerance)*time.Second)
	queue := reconciler.NewQueue(rdb.Client, cfg.Billing.QueueKey, log)

	rec := reconciler.New(store, cache, queue, rdb.Client, messenger, alerts, audit,
		reconciler.Config{
			MaxAttempts:  cfg.Billing.MaxAttempts,
			RetryBackoff: time.Duration(cfg.Billing.RetryBackoff) * time.Millisecond,
			DedupWindow:  time.Duration(cfg.Billing.DedupWindow) * time.Second,
		}, log)
	go rec.Run(ctx)

	// --- Reset scheduler ---
	resets, err := scheduler.NewResetScheduler(cache, store, loc, log)
	if err != nil {
		zapLog.Fatal("reset scheduler init failed", zap.Error(err))
	}
	resets.Start()
	defer resets.Stop()

	// --- HTTP server ---
	webhook := api.NewWebhookHandler(verifier, queue, alerts, log)
	server := api.NewServer(cfg.App.ListenAddr, webhook, rdb, pg, log)
	go func() {
		if err := server.Start(); err != nil {
			zapLog.Error("http server failed", zap.Error(err))
			stop()
		}
	}()

	// --- Bot ---
	b := bot.New(tg, pipeline, provider, log)
	go b.Run(ctx)

	zapLog.Info("All components started")

	<-ctx.Done()
	zapLog.Info("Shutdown signal received, stopping...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("http shutdown failed", zap.Error(err))
	}

	zapLog.Info("Entitlement engine stopped gracefully")
}
