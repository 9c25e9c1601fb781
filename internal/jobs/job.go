// Package jobs carries grading jobs from the API to workers over Redis and
// tracks their advisory status.
package jobs

import (
	"errors"
	"time"

	"github.com/noah-isme/gema-grader/internal/models"
)

const (
	// DefaultAttempts is the number of tries a grading job gets.
	DefaultAttempts = 3
	// DefaultBackoff is the base delay of the exponential retry schedule.
	DefaultBackoff = 2 * time.Second
	// CompletedRetention is how long finished jobs stay inspectable.
	CompletedRetention = time.Hour
	// FailedRetention is how long failed jobs stay inspectable.
	FailedRetention = 24 * time.Hour
	// DefaultStalledAfter is how long an active job may go without a heartbeat.
	DefaultStalledAfter = 5 * time.Minute
)

var (
	// ErrQueueUnavailable indicates the queue backend cannot accept work.
	ErrQueueUnavailable = errors.New("job queue unavailable")
	// ErrConnectionClosed indicates the queue connection was closed underneath us.
	ErrConnectionClosed = errors.New("job queue connection closed")
	// ErrJobStalled marks a job whose worker stopped heartbeating on every attempt.
	ErrJobStalled = errors.New("job stalled")
)

// GradeJob is the payload of a grading job.
type GradeJob struct {
	SubmissionID string          `json:"submission_id"`
	AssignmentID string          `json:"assignment_id"`
	Code         string          `json:"code"`
	Language     models.Language `json:"language"`
	StudentID    string          `json:"student_id"`
}

// EnqueueOptions controls deduplication and retries.
type EnqueueOptions struct {
	JobID    string
	Attempts int
	Backoff  time.Duration
}

// DefaultEnqueueOptions keys the job by submission id with the standard retry schedule.
func DefaultEnqueueOptions(submissionID string) EnqueueOptions {
	return EnqueueOptions{
		JobID:    submissionID,
		Attempts: DefaultAttempts,
		Backoff:  DefaultBackoff,
	}
}

// Delivery is a dequeued job together with its attempt bookkeeping.
type Delivery struct {
	ID          string
	Job         GradeJob
	Attempt     int
	MaxAttempts int
}

// FailOutcome tells the caller what happened to a failed job.
type FailOutcome struct {
	Retrying bool
	Delay    time.Duration
	Attempts int
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err so the worker fails the job without retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var target *permanentError
	return errors.As(err, &target)
}

// ComputeBackoff doubles base once per previous retry, capped at max when max > 0.
func ComputeBackoff(retryCount int, base, max time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	delay := base
	for i := 0; i < retryCount; i++ {
		if max > 0 && delay > max/2 {
			return max
		}
		delay *= 2
	}
	if max > 0 && delay > max {
		return max
	}
	return delay
}
