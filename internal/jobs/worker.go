package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/noah-isme/gema-grader/internal/observability"
)

const (
	// DefaultConcurrency is the number of jobs a worker grades at once.
	DefaultConcurrency = 3

	defaultPollTimeout  = 2 * time.Second
	defaultErrorBackoff = time.Second
)

// Handler grades one delivered job.
type Handler func(ctx context.Context, delivery Delivery, progress *Progress) error

// ExhaustedHandler settles a job that stalled on its last attempt.
type ExhaustedHandler func(ctx context.Context, delivery Delivery, cause error)

// WorkerConfig tunes the worker loop. StalledAfter is the heartbeat lease of
// an active job; OnExhausted may be nil.
type WorkerConfig struct {
	Concurrency  int
	PollTimeout  time.Duration
	ErrorBackoff time.Duration
	StalledAfter time.Duration
	OnExhausted  ExhaustedHandler
	Logger       zerolog.Logger
}

// Worker pulls jobs from a Broker and runs the handler with bounded concurrency.
type Worker struct {
	broker   Broker
	statuses StatusStore
	handler  Handler
	limit    int64
	poll     time.Duration
	backoff  time.Duration
	lease    time.Duration
	onStall  ExhaustedHandler
	logger   zerolog.Logger
}

// NewWorker constructs a worker. statuses may be nil.
func NewWorker(broker Broker, statuses StatusStore, handler Handler, cfg WorkerConfig) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = defaultPollTimeout
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = defaultErrorBackoff
	}
	if cfg.StalledAfter <= 0 {
		cfg.StalledAfter = DefaultStalledAfter
	}

	return &Worker{
		broker:   broker,
		statuses: statuses,
		handler:  handler,
		limit:    int64(cfg.Concurrency),
		poll:     cfg.PollTimeout,
		backoff:  cfg.ErrorBackoff,
		lease:    cfg.StalledAfter,
		onStall:  cfg.OnExhausted,
		logger:   cfg.Logger.With().Str("component", "grading_worker").Logger(),
	}
}

// Run consumes jobs until ctx is cancelled, then waits for in-flight jobs to finish.
func (w *Worker) Run(ctx context.Context) error {
	slots := semaphore.NewWeighted(w.limit)
	jobCtx := context.WithoutCancel(ctx)

	w.logger.Info().Int64("concurrency", w.limit).Msg("grading worker started")

	var lastReclaim time.Time
	for {
		if time.Since(lastReclaim) >= w.lease/2 {
			w.reclaim(jobCtx)
			lastReclaim = time.Now()
		}

		if err := slots.Acquire(ctx, 1); err != nil {
			break
		}

		delivery, err := w.broker.Dequeue(ctx, w.poll)
		if err != nil || delivery == nil {
			slots.Release(1)
			if ctx.Err() != nil {
				break
			}
			if err != nil {
				w.logger.Error().Err(err).Msg("failed to dequeue grading job")
				if !sleep(ctx, w.backoff) {
					break
				}
			}
			continue
		}

		go func(delivery Delivery) {
			defer slots.Release(1)
			w.process(jobCtx, delivery)
		}(*delivery)
	}

	// Reacquiring every slot waits for in-flight jobs.
	if err := slots.Acquire(jobCtx, w.limit); err == nil {
		slots.Release(w.limit)
	}

	w.logger.Info().Msg("grading worker stopped")
	return nil
}

func (w *Worker) reclaim(ctx context.Context) {
	exhausted, err := w.broker.ReclaimStalled(ctx, w.lease)
	if err != nil {
		w.logger.Error().Err(err).Msg("failed to reclaim stalled jobs")
	}

	for _, delivery := range exhausted {
		w.setStatus(ctx, delivery.ID, Status{State: StateFailed, Error: ErrJobStalled.Error()})
		observability.WorkerJobs().WithLabelValues("failed").Inc()
		w.logger.Error().Str("job_id", delivery.ID).Int("attempts", delivery.Attempt).Msg("grading job stalled")
		if w.onStall != nil {
			w.onStall(ctx, delivery, ErrJobStalled)
		}
	}
}

// heartbeat keeps the job's lease alive until stop is closed.
func (w *Worker) heartbeat(ctx context.Context, id string, stop <-chan struct{}, logger zerolog.Logger) {
	ticker := time.NewTicker(w.lease / 3)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := w.broker.Heartbeat(ctx, id); err != nil {
				logger.Warn().Err(err).Msg("job heartbeat failed")
			}
		}
	}
}

func (w *Worker) process(ctx context.Context, delivery Delivery) {
	logger := w.logger.With().
		Str("job_id", delivery.ID).
		Str("submission_id", delivery.Job.SubmissionID).
		Int("attempt", delivery.Attempt).
		Logger()

	observability.WorkerJobsInFlight().Inc()
	defer observability.WorkerJobsInFlight().Dec()

	w.setStatus(ctx, delivery.ID, Status{State: StateProcessing, Progress: 0})

	stop := make(chan struct{})
	go w.heartbeat(ctx, delivery.ID, stop, logger)

	progress := &Progress{broker: w.broker, statuses: w.statuses, jobID: delivery.ID, logger: logger}
	err := w.handler(ctx, delivery, progress)
	close(stop)
	if err == nil {
		if completeErr := w.broker.Complete(ctx, delivery.ID); completeErr != nil {
			logger.Error().Err(completeErr).Msg("failed to mark job completed")
		}
		w.setStatus(ctx, delivery.ID, Status{State: StateCompleted, Progress: 100})
		observability.WorkerJobs().WithLabelValues("completed").Inc()
		logger.Info().Msg("grading job completed")
		return
	}

	outcome, failErr := w.broker.Fail(ctx, delivery.ID, err)
	if failErr != nil {
		logger.Error().Err(failErr).AnErr("cause", err).Msg("failed to record job failure")
	}

	if outcome.Retrying {
		w.setStatus(ctx, delivery.ID, Status{State: StateQueued, Progress: 0, Error: err.Error()})
		observability.WorkerJobs().WithLabelValues("retrying").Inc()
		logger.Warn().Err(err).Dur("retry_in", outcome.Delay).Msg("grading job failed, retry scheduled")
		return
	}

	w.setStatus(ctx, delivery.ID, Status{State: StateFailed, Error: err.Error()})
	observability.WorkerJobs().WithLabelValues("failed").Inc()
	logger.Error().Err(err).Bool("permanent", IsPermanent(err)).Msg("grading job failed")
}

func (w *Worker) setStatus(ctx context.Context, id string, status Status) {
	if w.statuses == nil {
		return
	}
	if err := w.statuses.Set(ctx, id, status); err != nil {
		w.logger.Warn().Err(err).Str("job_id", id).Msg("failed to store job status")
	}
}

// Progress reports grading progress for one job to the broker and status store.
type Progress struct {
	broker   Broker
	statuses StatusStore
	jobID    string
	logger   zerolog.Logger
}

// ReportProgress records percent. Failures are logged and otherwise ignored.
func (p *Progress) ReportProgress(ctx context.Context, percent int) {
	if err := p.broker.UpdateProgress(ctx, p.jobID, percent); err != nil {
		p.logger.Warn().Err(err).Int("progress", percent).Msg("failed to update job progress")
	}
	if p.statuses != nil {
		if err := p.statuses.Set(ctx, p.jobID, Status{State: StateProcessing, Progress: percent}); err != nil {
			p.logger.Warn().Err(err).Int("progress", percent).Msg("failed to store job progress")
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
