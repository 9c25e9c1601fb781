package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-grader/internal/bootstrap"
	"github.com/noah-isme/gema-grader/internal/config"
	"github.com/noah-isme/gema-grader/internal/jobs"
	"github.com/noah-isme/gema-grader/internal/observability"
	"github.com/noah-isme/gema-grader/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", cfg.AppName+" worker").Logger()

	infra, err := bootstrap.Connect(cfg, logger)
	if err != nil {
		log.Fatalf("failed to initialise infrastructure: %v", err)
	}
	defer infra.Close()

	queue := infra.Queue(cfg, logger)
	if queue == nil {
		log.Fatalf("worker requires redis: set GEMA_REDIS_URL")
	}

	grader := service.NewGradingService(infra.Repositories(), infra.Executor, infra.Events(cfg, logger), infra.Validator, logger)
	worker := jobs.NewWorker(queue, infra.Statuses(cfg), grader.HandleJob, jobs.WorkerConfig{
		Concurrency: cfg.WorkerConcurrency,
		OnExhausted: grader.AbandonJob,
		Logger:      logger,
	})

	metricsServer := &http.Server{
		Addr:              cfg.HTTPAddress(),
		Handler:           observability.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("metrics server failed")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info().Str("queue", cfg.QueueName).Int("concurrency", cfg.WorkerConcurrency).Msg("grading worker started")
	if err := worker.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("grading worker stopped with error")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = metricsServer.Shutdown(shutdownCtx)

	logger.Info().Msg("grading worker stopped")
}
