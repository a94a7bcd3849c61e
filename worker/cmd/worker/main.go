package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"provenancePoster/worker/bluesky"
	"provenancePoster/worker/cdn"
	"provenancePoster/worker/config"
	"provenancePoster/worker/kafka"
	"provenancePoster/worker/pipeline"
	"provenancePoster/worker/progress"
	"provenancePoster/worker/render"
	"provenancePoster/worker/repository"
	"provenancePoster/worker/storage"
	"provenancePoster/worker/vault"
	"provenancePoster/worker/watermark"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg := config.Load()
	logger.Info("Worker Service starting",
		zap.String("topic", cfg.KafkaTopic),
		zap.String("group", cfg.KafkaGroupID),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("Failed to connect to postgres", zap.Error(err))
	}
	defer db.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal("Failed to connect to redis", zap.Error(err))
	}
	defer redisClient.Close()

	credVault, err := vault.New(cfg.VaultKeyID, cfg.VaultKey)
	if err != nil {
		logger.Fatal("Failed to initialize credential vault", zap.Error(err))
	}

	store := storage.NewClient(cfg.StorageURL, cfg.StorageServiceKey)
	tracker := progress.NewTracker(progress.NewRedisKV(redisClient), logger)

	orch := pipeline.NewOrchestrator(pipeline.Options{
		Store:   store,
		Tracker: tracker,
		Repo:    repository.NewPostgresRepo(db),
		Vault:   credVault,
		NewSocial: func() pipeline.SocialClient {
			return bluesky.NewClient(cfg.BlueskyPDS)
		},
		Embedder:     watermark.NewHTTPEmbedder(cfg.EmbedderURL),
		Renderer:     render.NewRenderer(),
		CDN:          cdn.NewInvalidator(cfg.CDNPurgeURL),
		PublicBucket: cfg.PublicBucket,
		AppName:      "brw",
		Timeout:      cfg.PipelineTimeout,
	}, logger)

	trigger := pipeline.NewTrigger(store, tracker, orch, logger)

	consumer, err := kafka.NewConsumer(strings.Split(cfg.KafkaBrokers, ","), cfg.KafkaGroupID, logger)
	if err != nil {
		logger.Fatal("Failed to create kafka consumer", zap.Error(err))
	}
	defer consumer.Close()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("Received signal, shutting down", zap.String("signal", sig.String()))
		cancel()
	}()

	if err := consumer.Consume(ctx, cfg.KafkaTopic, trigger.Handle); err != nil && ctx.Err() == nil {
		logger.Fatal("Consumer exited", zap.Error(err))
	}
	logger.Info("Worker stopped")
}
