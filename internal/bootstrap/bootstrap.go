// Package bootstrap connects the infrastructure shared by the API and worker binaries.
package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-grader/internal/config"
	"github.com/noah-isme/gema-grader/internal/database"
	"github.com/noah-isme/gema-grader/internal/jobs"
	"github.com/noah-isme/gema-grader/internal/repository"
	"github.com/noah-isme/gema-grader/internal/sandbox"
	"github.com/noah-isme/gema-grader/internal/service"
	dockerrun "github.com/noah-isme/gema-grader/pkg/docker"
)

// Infrastructure holds live connections. Redis and NATS are optional and nil
// when unreachable.
type Infrastructure struct {
	DB        *gorm.DB
	Redis     *redis.Client
	NATS      *nats.Conn
	Executor  sandbox.Executor
	Validator *validator.Validate
	closers   []func() error
}

// Connect opens the database and the optional brokers and builds the sandbox executor.
func Connect(cfg config.Config, logger zerolog.Logger) (*Infrastructure, error) {
	db, err := database.ConnectPostgres(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(db); err != nil {
		return nil, err
	}

	infra := &Infrastructure{
		DB:        db,
		Validator: validator.New(validator.WithRequiredStructEnabled()),
	}
	if sqlDB, err := db.DB(); err == nil {
		infra.closers = append(infra.closers, sqlDB.Close)
	}

	if cfg.RedisURL != "" {
		client, err := database.ConnectRedis(cfg.RedisURL)
		if err != nil {
			logger.Warn().Err(err).Msg("redis unavailable, submissions will be graded synchronously")
		} else {
			infra.Redis = client
			infra.closers = append(infra.closers, client.Close)
		}
	}

	if cfg.NATSURL != "" {
		conn, err := database.ConnectNATS(cfg.NATSURL, cfg.AppName)
		if err != nil {
			logger.Warn().Err(err).Msg("nats unavailable, grading events will only go to redis")
		} else {
			infra.NATS = conn
			infra.closers = append(infra.closers, func() error {
				return conn.Drain()
			})
		}
	}

	executor, closeExecutor, err := newExecutor(cfg, logger)
	if err != nil {
		infra.Close()
		return nil, err
	}
	infra.Executor = executor
	if closeExecutor != nil {
		infra.closers = append(infra.closers, closeExecutor)
	}

	return infra, nil
}

func newExecutor(cfg config.Config, logger zerolog.Logger) (sandbox.Executor, func() error, error) {
	switch cfg.SandboxDriver {
	case config.SandboxDriverDocker:
		runner, err := dockerrun.NewContainerRunner(dockerrun.Config{
			Host:      cfg.DockerHost,
			CPUShares: int64(cfg.CodeRunCPUShares),
			Logger:    logger,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("docker sandbox: %w", err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := runner.Ping(ctx); err != nil {
			_ = runner.Close()
			return nil, nil, fmt.Errorf("docker sandbox: %w", err)
		}

		return sandbox.NewDockerExecutor(runner, sandbox.DockerConfig{
			TimeoutBuffer: cfg.SandboxTimeoutBuffer,
			CPUShares:     int64(cfg.CodeRunCPUShares),
			Logger:        logger,
		}), runner.Close, nil
	default:
		return sandbox.NewPistonExecutor(sandbox.PistonConfig{
			URL:           cfg.SandboxURL,
			TimeoutBuffer: cfg.SandboxTimeoutBuffer,
			HTTPClient:    &http.Client{},
			Logger:        logger,
		}), nil, nil
	}
}

// Repositories builds the grading repositories on the shared database.
func (i *Infrastructure) Repositories() service.GradingRepositories {
	return service.GradingRepositories{
		Assignments: repository.NewAssignmentRepository(i.DB),
		Submissions: repository.NewSubmissionRepository(i.DB),
		Grades:      repository.NewGradeRepository(i.DB),
		Leaderboard: repository.NewLeaderboardRepository(i.DB),
	}
}

// Events returns the broker publisher, or a no-op one when no broker is connected.
func (i *Infrastructure) Events(cfg config.Config, logger zerolog.Logger) service.EventPublisher {
	if i.Redis == nil && i.NATS == nil {
		return service.NewNoopEventPublisher()
	}
	return service.NewEventPublisher(i.Redis, cfg.EventsChannel, i.NATS, logger)
}

// Queue returns the Redis queue, or nil when Redis is not connected.
func (i *Infrastructure) Queue(cfg config.Config, logger zerolog.Logger) *jobs.RedisQueue {
	if i.Redis == nil {
		return nil
	}
	return jobs.NewRedisQueue(i.Redis, jobs.RedisQueueConfig{Name: cfg.QueueName, Logger: logger})
}

// Statuses returns the Redis status store, falling back to process memory.
func (i *Infrastructure) Statuses(cfg config.Config) jobs.StatusStore {
	if i.Redis == nil {
		return jobs.NewMemoryStatusStore()
	}
	return jobs.NewRedisStatusStore(i.Redis, cfg.StatusTTL)
}

// Close releases every connection in reverse order of opening.
func (i *Infrastructure) Close() {
	for idx := len(i.closers) - 1; idx >= 0; idx-- {
		_ = i.closers[idx]()
	}
}
