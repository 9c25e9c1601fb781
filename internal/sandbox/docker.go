package sandbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	dockerrun "github.com/noah-isme/gema-grader/pkg/docker"
)

const dockerDriver = "docker"

// DockerConfig configures the container-backed executor.
type DockerConfig struct {
	WorkspaceRoot string
	TimeoutBuffer time.Duration
	CPUShares     int64
	Logger        zerolog.Logger
}

// DockerExecutor runs submissions in local containers using the same
// language table as the HTTP executor.
type DockerExecutor struct {
	runner dockerrun.Runner
	cfg    DockerConfig
	logger zerolog.Logger
}

// NewDockerExecutor wraps a container runner.
func NewDockerExecutor(runner dockerrun.Runner, cfg DockerConfig) *DockerExecutor {
	if cfg.WorkspaceRoot == "" {
		cfg.WorkspaceRoot = os.TempDir()
	}
	if cfg.TimeoutBuffer <= 0 {
		cfg.TimeoutBuffer = DefaultTimeoutBuffer
	}

	return &DockerExecutor{
		runner: runner,
		cfg:    cfg,
		logger: cfg.Logger.With().Str("component", "docker_executor").Logger(),
	}
}

// Execute writes the source into a scratch workspace and runs it in a container.
func (e *DockerExecutor) Execute(ctx context.Context, req Request) Result {
	rt, ok := lookupRuntime(req.Language)
	if !ok {
		executionFailures.WithLabelValues(dockerDriver, "unsupported_language").Inc()
		return Failure(fmt.Sprintf("unsupported language: %s", req.Language))
	}

	workspace, err := os.MkdirTemp(e.cfg.WorkspaceRoot, "submission-")
	if err != nil {
		executionFailures.WithLabelValues(dockerDriver, "workspace").Inc()
		return Failure(fmt.Sprintf("create workspace: %v", err))
	}
	defer os.RemoveAll(workspace)

	if err := os.WriteFile(filepath.Join(workspace, rt.FileName), []byte(req.Code), 0o644); err != nil {
		executionFailures.WithLabelValues(dockerDriver, "workspace").Inc()
		return Failure(fmt.Sprintf("write source: %v", err))
	}

	start := time.Now()
	outcome, err := e.runner.Run(ctx, dockerrun.Spec{
		Image:            rt.Image,
		Cmd:              []string{"sh", "-c", rt.Command},
		Stdin:            req.Input,
		Workspace:        workspace,
		Timeout:          req.deadline(e.cfg.TimeoutBuffer),
		MemoryLimitBytes: req.memoryLimitBytes(),
		CPUShares:        e.cfg.CPUShares,
	})
	elapsed := time.Since(start)
	executionDuration.WithLabelValues(dockerDriver, string(req.Language)).Observe(elapsed.Seconds())

	if err != nil {
		reason := "runtime"
		message := err.Error()
		if errors.Is(err, dockerrun.ErrTimedOut) {
			reason = "timeout"
			message = "code execution timed out"
		}
		executionFailures.WithLabelValues(dockerDriver, reason).Inc()
		e.logger.Warn().Err(err).Str("language", string(req.Language)).Msg("container execution failed")
		return Failure(message)
	}

	return Result{
		Success:         true,
		Stdout:          outcome.Stdout,
		Stderr:          outcome.Stderr,
		ExitCode:        outcome.ExitCode,
		ExecutionTimeMs: float64(elapsed.Milliseconds()),
		RunTimeMs:       float64(outcome.Duration.Milliseconds()),
		Memory:          outcome.MemoryUsageBytes,
	}
}
