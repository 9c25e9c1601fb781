// Package docker runs one-shot commands in throwaway containers with stdin
// piped in and stdout/stderr captured separately.
package docker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrTimedOut is returned when the container outlives its deadline.
var ErrTimedOut = errors.New("container execution timed out")

var (
	runDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "gema",
		Subsystem: "container",
		Name:      "run_duration_seconds",
		Help:      "Duration of container runs",
		Buckets:   prometheus.DefBuckets,
	}, []string{"image"})

	runTimeouts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gema",
		Subsystem: "container",
		Name:      "run_timeouts_total",
		Help:      "Container runs killed at the deadline",
	}, []string{"image"})
)

// Runner executes a Spec inside a container.
type Runner interface {
	Run(ctx context.Context, spec Spec) (Outcome, error)
}

// Spec describes a single container run. Workspace is bind-mounted at WorkingDir.
type Spec struct {
	Image            string
	Cmd              []string
	Stdin            string
	Workspace        string
	Timeout          time.Duration
	MemoryLimitBytes int64
	CPUShares        int64
}

// Outcome is what the container produced.
type Outcome struct {
	Stdout           string
	Stderr           string
	ExitCode         int
	Duration         time.Duration
	MemoryUsageBytes int64
}

// Config groups runner defaults.
type Config struct {
	Host       string
	WorkingDir string
	CPUShares  int64
	Logger     zerolog.Logger
}

// ContainerRunner implements Runner on the Docker engine API.
type ContainerRunner struct {
	client *client.Client
	cfg    Config
	tracer trace.Tracer
	logger zerolog.Logger
}

// NewContainerRunner connects to the Docker engine.
func NewContainerRunner(cfg Config) (*ContainerRunner, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if cfg.Host != "" {
		opts = append(opts, client.WithHost(cfg.Host))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}

	if cfg.WorkingDir == "" {
		cfg.WorkingDir = "/workspace"
	}

	return &ContainerRunner{
		client: cli,
		cfg:    cfg,
		tracer: otel.Tracer("github.com/noah-isme/gema-grader/pkg/docker"),
		logger: cfg.Logger.With().Str("component", "container_runner").Logger(),
	}, nil
}

// Run creates the container, feeds stdin, waits for exit or the deadline and
// collects logs. The container is always removed.
func (r *ContainerRunner) Run(parent context.Context, spec Spec) (Outcome, error) {
	if spec.Image == "" {
		return Outcome{}, errors.New("image is required")
	}

	ctx, span := r.tracer.Start(parent, "docker.container.run", trace.WithAttributes(
		attribute.String("docker.image", spec.Image),
	))
	defer span.End()

	if spec.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	cpuShares := spec.CPUShares
	if cpuShares == 0 {
		cpuShares = r.cfg.CPUShares
	}

	hostCfg := &container.HostConfig{
		NetworkMode: "none",
		Resources: container.Resources{
			Memory:    spec.MemoryLimitBytes,
			CPUShares: cpuShares,
		},
	}
	if spec.Workspace != "" {
		hostCfg.Mounts = []mount.Mount{{
			Type:   mount.TypeBind,
			Source: spec.Workspace,
			Target: r.cfg.WorkingDir,
		}}
	}

	withStdin := spec.Stdin != ""
	containerCfg := &container.Config{
		Image:           spec.Image,
		Cmd:             spec.Cmd,
		WorkingDir:      r.cfg.WorkingDir,
		AttachStdout:    true,
		AttachStderr:    true,
		AttachStdin:     withStdin,
		OpenStdin:       withStdin,
		StdinOnce:       withStdin,
		NetworkDisabled: true,
	}

	fail := func(stage string, err error) (Outcome, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Outcome{}, fmt.Errorf("container %s: %w", stage, err)
	}

	created, err := r.client.ContainerCreate(ctx, containerCfg, hostCfg, &network.NetworkingConfig{}, nil, "")
	if err != nil {
		return fail("create", err)
	}
	containerID := created.ID
	defer r.remove(containerID)

	var attached *types.HijackedResponse
	if withStdin {
		hijacked, err := r.client.ContainerAttach(ctx, containerID, container.AttachOptions{Stream: true, Stdin: true})
		if err != nil {
			return fail("attach", err)
		}
		attached = &hijacked
		defer attached.Close()
	}

	start := time.Now()
	if err := r.client.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return fail("start", err)
	}

	if attached != nil {
		if _, err := io.Copy(attached.Conn, strings.NewReader(spec.Stdin)); err != nil {
			r.logger.Warn().Err(err).Str("container_id", containerID).Msg("failed to write container stdin")
		}
		if err := attached.CloseWrite(); err != nil {
			r.logger.Warn().Err(err).Str("container_id", containerID).Msg("failed to close container stdin")
		}
	}

	outcome := Outcome{}
	statusCh, errCh := r.client.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)

	var waitErr error
	select {
	case err := <-errCh:
		waitErr = err
	case status := <-statusCh:
		outcome.ExitCode = int(status.StatusCode)
	case <-ctx.Done():
		waitErr = ctx.Err()
	}

	outcome.Duration = time.Since(start)
	runDuration.WithLabelValues(spec.Image).Observe(outcome.Duration.Seconds())

	if waitErr != nil {
		if errors.Is(waitErr, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			runTimeouts.WithLabelValues(spec.Image).Inc()
			r.kill(containerID)
			span.SetStatus(codes.Error, "execution timed out")
			return outcome, ErrTimedOut
		}
		return fail("wait", waitErr)
	}

	logsCtx, cancelLogs := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelLogs()
	logs, err := r.client.ContainerLogs(logsCtx, containerID, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return fail("logs", err)
	}
	defer logs.Close()

	stdout, stderr, err := splitLogs(logs)
	if err != nil {
		return fail("logs", err)
	}
	outcome.Stdout = stdout
	outcome.Stderr = stderr
	outcome.MemoryUsageBytes = r.memoryUsage(containerID)

	return outcome, nil
}

func (r *ContainerRunner) memoryUsage(containerID string) int64 {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	stats, err := r.client.ContainerStatsOneShot(ctx, containerID)
	if err != nil {
		return 0
	}
	defer stats.Body.Close()

	var data types.StatsJSON
	if err := json.NewDecoder(stats.Body).Decode(&data); err != nil {
		return 0
	}
	return int64(data.MemoryStats.MaxUsage)
}

func (r *ContainerRunner) kill(containerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.client.ContainerKill(ctx, containerID, "KILL"); err != nil {
		r.logger.Error().Err(err).Str("container_id", containerID).Msg("failed to kill timed out container")
	}
}

func (r *ContainerRunner) remove(containerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.client.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true}); err != nil {
		r.logger.Error().Err(err).Str("container_id", containerID).Msg("failed to remove container")
	}
}

func splitLogs(reader io.Reader) (string, string, error) {
	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, reader); err != nil {
		return "", "", err
	}
	return stdout.String(), stderr.String(), nil
}

// Ping reports whether the engine is reachable.
func (r *ContainerRunner) Ping(ctx context.Context) error {
	_, err := r.client.Ping(ctx)
	return err
}

// Close releases the engine client.
func (r *ContainerRunner) Close() error {
	if r.client == nil {
		return nil
	}
	return r.client.Close()
}
