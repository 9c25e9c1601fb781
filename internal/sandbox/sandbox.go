// Package sandbox runs untrusted submissions in an external execution service.
// Every executor normalises failures into a Result instead of returning errors.
package sandbox

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/noah-isme/gema-grader/internal/models"
)

const (
	// DefaultTimeoutBuffer is added to the time limit to form the hard wall-clock cutoff.
	DefaultTimeoutBuffer = 10 * time.Second
	// maxCompileTimeoutMs bounds the compile stage regardless of the run limit.
	maxCompileTimeoutMs = 10000
)

var (
	executionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "gema",
		Subsystem: "sandbox",
		Name:      "execution_duration_seconds",
		Help:      "Wall-clock duration of sandbox executions",
		Buckets:   prometheus.DefBuckets,
	}, []string{"driver", "language"})

	executionFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gema",
		Subsystem: "sandbox",
		Name:      "execution_failures_total",
		Help:      "Sandbox executions that produced a failure record",
	}, []string{"driver", "reason"})
)

// Request describes one execution of a program against one input.
type Request struct {
	Code          string
	Language      models.Language
	Input         string
	TimeLimitMs   int
	MemoryLimitMB int
}

// Result is the normalised outcome of an execution. ExecutionTimeMs is the
// wall-clock time observed by the caller.
type Result struct {
	Success         bool
	Stdout          string
	Stderr          string
	ExitCode        int
	ExecutionTimeMs float64
	CompileTimeMs   float64
	RunTimeMs       float64
	Memory          int64
}

// Executor runs code. Implementations never return errors: any failure is
// reported as a Result with Success=false.
type Executor interface {
	Execute(ctx context.Context, req Request) Result
}

// Failure builds the failure record carrying the cause in Stderr.
func Failure(cause string) Result {
	return Result{
		Success:         false,
		Stdout:          "",
		Stderr:          cause,
		ExitCode:        -1,
		ExecutionTimeMs: 0,
	}
}

func (r Request) timeLimitMs() int {
	if r.TimeLimitMs <= 0 {
		return models.DefaultTimeLimitMs
	}
	return r.TimeLimitMs
}

func (r Request) memoryLimitBytes() int64 {
	mb := r.MemoryLimitMB
	if mb <= 0 {
		mb = models.DefaultMemoryLimitMB
	}
	return int64(mb) * 1024 * 1024
}

func (r Request) compileTimeoutMs() int {
	return min(r.timeLimitMs(), maxCompileTimeoutMs)
}

func (r Request) deadline(buffer time.Duration) time.Duration {
	return time.Duration(r.timeLimitMs())*time.Millisecond + buffer
}
