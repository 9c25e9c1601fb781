package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultPistonURL is the public Piston execute endpoint.
const DefaultPistonURL = "https://emkc.org/api/v2/piston/execute"

const pistonDriver = "piston"

var errMissingRunStage = errors.New("malformed sandbox response: missing run stage")

// PistonConfig configures the Piston-compatible HTTP executor.
type PistonConfig struct {
	URL           string
	TimeoutBuffer time.Duration
	HTTPClient    *http.Client
	Logger        zerolog.Logger
}

// PistonExecutor calls a Piston-compatible execution service over HTTP.
type PistonExecutor struct {
	url    string
	buffer time.Duration
	client *http.Client
	tracer trace.Tracer
	logger zerolog.Logger
	now    func() time.Time
}

type pistonFile struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

type pistonRequest struct {
	Language           string       `json:"language"`
	Version            string       `json:"version"`
	Files              []pistonFile `json:"files"`
	Stdin              string       `json:"stdin"`
	CompileTimeout     int          `json:"compile_timeout"`
	RunTimeout         int          `json:"run_timeout"`
	CompileMemoryLimit int64        `json:"compile_memory_limit"`
	RunMemoryLimit     int64        `json:"run_memory_limit"`
}

type pistonStage struct {
	Stdout string  `json:"stdout"`
	Stderr string  `json:"stderr"`
	Code   *int    `json:"code"`
	Signal *string `json:"signal"`
	Time   float64 `json:"time"`
	Memory int64   `json:"memory"`
}

type pistonResponse struct {
	Run     *pistonStage `json:"run"`
	Compile *pistonStage `json:"compile"`
	Message string       `json:"message"`
}

// NewPistonExecutor constructs the HTTP executor.
func NewPistonExecutor(cfg PistonConfig) *PistonExecutor {
	if cfg.URL == "" {
		cfg.URL = DefaultPistonURL
	}
	if cfg.TimeoutBuffer <= 0 {
		cfg.TimeoutBuffer = DefaultTimeoutBuffer
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}

	return &PistonExecutor{
		url:    cfg.URL,
		buffer: cfg.TimeoutBuffer,
		client: cfg.HTTPClient,
		tracer: otel.Tracer("github.com/noah-isme/gema-grader/internal/sandbox"),
		logger: cfg.Logger.With().Str("component", "piston_executor").Logger(),
		now:    time.Now,
	}
}

// Execute sends the program and input to the sandbox service.
func (e *PistonExecutor) Execute(parent context.Context, req Request) Result {
	rt, ok := lookupRuntime(req.Language)
	if !ok {
		executionFailures.WithLabelValues(pistonDriver, "unsupported_language").Inc()
		return Failure(fmt.Sprintf("unsupported language: %s", req.Language))
	}

	ctx, span := e.tracer.Start(parent, "sandbox.piston.execute", trace.WithAttributes(
		attribute.String("sandbox.language", string(req.Language)),
		attribute.Int("sandbox.time_limit_ms", req.timeLimitMs()),
	))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, req.deadline(e.buffer))
	defer cancel()

	start := e.now()
	result, reason, err := e.call(ctx, rt, req)
	elapsed := e.now().Sub(start)
	executionDuration.WithLabelValues(pistonDriver, string(req.Language)).Observe(elapsed.Seconds())

	if err != nil {
		executionFailures.WithLabelValues(pistonDriver, reason).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.logger.Warn().Err(err).Str("language", string(req.Language)).Str("reason", reason).Msg("sandbox execution failed")
		return Failure(err.Error())
	}

	result.ExecutionTimeMs = float64(elapsed.Milliseconds())
	return result
}

func (e *PistonExecutor) call(ctx context.Context, rt runtime, req Request) (Result, string, error) {
	memoryLimit := req.memoryLimitBytes()
	body, err := json.Marshal(pistonRequest{
		Language:           rt.Runtime,
		Version:            "*",
		Files:              []pistonFile{{Name: rt.FileName, Content: req.Code}},
		Stdin:              req.Input,
		CompileTimeout:     req.compileTimeoutMs(),
		RunTimeout:         req.timeLimitMs(),
		CompileMemoryLimit: memoryLimit,
		RunMemoryLimit:     memoryLimit,
	})
	if err != nil {
		return Result{}, "encode", fmt.Errorf("encode sandbox request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(body))
	if err != nil {
		return Result{}, "request", fmt.Errorf("build sandbox request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Result{}, "timeout", errors.New("code execution timed out")
		}
		return Result{}, "transport", fmt.Errorf("failed to connect to sandbox: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Result{}, "timeout", errors.New("code execution timed out")
		}
		return Result{}, "transport", fmt.Errorf("read sandbox response: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		detail := string(bytes.TrimSpace(payload))
		if detail == "" {
			detail = http.StatusText(resp.StatusCode)
		}
		return Result{}, "status", fmt.Errorf("sandbox execution failed: %d %s", resp.StatusCode, detail)
	}

	var decoded pistonResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return Result{}, "decode", fmt.Errorf("failed to parse sandbox response: %w", err)
	}
	if decoded.Run == nil && !decoded.compileFailed() {
		return Result{}, "decode", errMissingRunStage
	}

	return decoded.toResult(), "", nil
}

func (r pistonResponse) compileFailed() bool {
	return r.Compile != nil && r.Compile.Code != nil && *r.Compile.Code != 0
}

func (r pistonResponse) toResult() Result {
	result := Result{Success: true}

	if r.Compile != nil {
		result.CompileTimeMs = r.Compile.Time
		if r.compileFailed() {
			result.Stderr = firstNonEmpty(r.Compile.Stderr, r.Compile.Stdout)
			result.ExitCode = *r.Compile.Code
			return result
		}
	}

	if r.Run != nil {
		result.Stdout = r.Run.Stdout
		result.Stderr = r.Run.Stderr
		result.RunTimeMs = r.Run.Time
		result.Memory = r.Run.Memory
		if r.Run.Code != nil {
			result.ExitCode = *r.Run.Code
		}
	}

	return result
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
