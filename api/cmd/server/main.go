package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"provenancePoster/api/config"
	"provenancePoster/api/database"
	"provenancePoster/api/handlers"
	"provenancePoster/api/kafka"
	"provenancePoster/api/middleware"
	"provenancePoster/api/progress"
	"provenancePoster/api/service"
	"provenancePoster/api/storage"
	"provenancePoster/api/watermark"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg := config.Load()
	logger.Info("API Service starting", zap.String("port", cfg.Port), zap.String("env", cfg.Env))

	cache, err := database.ConnectCache(cfg.RedisAddr)
	if err != nil {
		logger.Fatal("Failed to connect to redis", zap.Error(err))
	}
	defer cache.Close()

	producer, err := kafka.NewProducer(strings.Split(cfg.KafkaBrokers, ","))
	if err != nil {
		logger.Fatal("Failed to create kafka producer", zap.Error(err))
	}
	defer producer.Close()

	store := storage.NewClient(cfg.StorageURL, cfg.StorageServiceKey)
	submissions := service.NewSubmissionService(store, producer, cfg.PostsBucket, cfg.KafkaTopic)
	verifications := service.NewVerificationService(watermark.NewHTTPExtractor(cfg.EmbedderURL), store, cfg.PublicBucket)

	postHandler := handlers.NewPostHandler(submissions, cfg.MaxImageSize, logger)
	progressHandler := handlers.NewProgressHandler(progress.NewReader(cache), logger)
	verifyHandler := handlers.NewVerifyHandler(verifications, cfg.MaxImageSize, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /posts", postHandler.Submit)
	mux.HandleFunc("GET /progress/", progressHandler.Status)
	mux.HandleFunc("POST /verify", verifyHandler.Verify)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	handler := middleware.TraceID(
		middleware.Recovery(logger)(
			middleware.Logging(logger)(mux),
		),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()
	logger.Info("Server started", zap.String("address", server.Addr))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("Shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("Shutdown error", zap.Error(err))
	}
}
