package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-grader/internal/bootstrap"
	"github.com/noah-isme/gema-grader/internal/config"
	"github.com/noah-isme/gema-grader/internal/handler"
	"github.com/noah-isme/gema-grader/internal/jobs"
	"github.com/noah-isme/gema-grader/internal/middleware"
	"github.com/noah-isme/gema-grader/internal/observability"
	"github.com/noah-isme/gema-grader/internal/router"
	"github.com/noah-isme/gema-grader/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", cfg.AppName).Logger()

	infra, err := bootstrap.Connect(cfg, logger)
	if err != nil {
		log.Fatalf("failed to initialise infrastructure: %v", err)
	}
	defer infra.Close()

	validate := infra.Validator
	repos := infra.Repositories()
	grader := service.NewGradingService(repos, infra.Executor, infra.Events(cfg, logger), validate, logger)
	statuses := infra.Statuses(cfg)

	// a nil *RedisQueue must not become a non-nil interface
	var queue jobs.Queue
	redisQueue := infra.Queue(cfg, logger)
	if redisQueue != nil {
		queue = redisQueue
	}

	submissionService := service.NewSubmissionService(repos.Submissions, repos.Assignments, grader, queue, statuses, validate, logger)
	assignmentService := service.NewAssignmentService(repos.Assignments, validate, logger)
	gradeService := service.NewGradeService(repos.Grades, validate, logger)
	leaderboardService := service.NewLeaderboardService(repos.Leaderboard, infra.Redis, cfg.LeaderboardCacheTTL, logger)

	probes := map[string]handler.HealthProbe{
		"database": func(ctx context.Context) error {
			sqlDB, err := infra.DB.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	}
	if redisQueue != nil {
		probes["queue"] = func(ctx context.Context) error {
			if !redisQueue.Ready(ctx) {
				return jobs.ErrQueueUnavailable
			}
			return nil
		}
	}

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
	})

	middleware.Register(app, middleware.Config{Logger: &logger})
	router.Register(app, cfg, router.Dependencies{
		AssignmentHandler:  handler.NewAssignmentHandler(assignmentService, logger),
		SubmissionHandler:  handler.NewSubmissionHandler(submissionService, logger),
		GradingHandler:     handler.NewGradingHandler(grader, middleware.RateLimit("run-public", cfg.RunPublicRateLimit, cfg.RunPublicRateWindow), logger),
		GradeHandler:       handler.NewGradeHandler(gradeService, logger),
		LeaderboardHandler: handler.NewLeaderboardHandler(leaderboardService, logger),
		HealthProbes:       probes,
		MetricsHandler:     observability.MetricsHandler(),
		JWTMiddleware:      middleware.JWTProtected(cfg.JWTSecret),
	})

	workerCtx, stopWorker := context.WithCancel(context.Background())
	workerDone := make(chan struct{})
	if cfg.WorkerEnabled && redisQueue != nil {
		worker := jobs.NewWorker(redisQueue, statuses, grader.HandleJob, jobs.WorkerConfig{
			Concurrency: cfg.WorkerConcurrency,
			OnExhausted: grader.AbandonJob,
			Logger:      logger,
		})
		go func() {
			defer close(workerDone)
			if err := worker.Run(workerCtx); err != nil {
				logger.Error().Err(err).Msg("grading worker stopped")
			}
		}()
		logger.Info().Int("concurrency", cfg.WorkerConcurrency).Msg("in-process grading worker started")
	} else {
		close(workerDone)
	}

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	waitForShutdown(app, logger)

	stopWorker()
	<-workerDone
}

func waitForShutdown(app *fiber.App, logger zerolog.Logger) {
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-shutdownCtx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	logger.Info().Msg("server stopped")
}
