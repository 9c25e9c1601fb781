package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-grader/internal/dto"
	"github.com/noah-isme/gema-grader/internal/jobs"
	"github.com/noah-isme/gema-grader/internal/middleware"
	"github.com/noah-isme/gema-grader/internal/models"
	"github.com/noah-isme/gema-grader/internal/observability"
	"github.com/noah-isme/gema-grader/internal/repository"
)

// Fallback reasons recorded on the fallback metric.
const (
	fallbackNoQueue         = "no_queue"
	fallbackNotReady        = "not_ready"
	fallbackEnqueueFailed   = "enqueue_failed"
	fallbackConnectionClose = "connection_closed"
)

// SubmissionService accepts submissions and gets them graded, through the job
// queue when it is usable and synchronously otherwise.
type SubmissionService interface {
	Submit(ctx context.Context, payload dto.SubmissionCreateRequest) (dto.SubmissionStatusResponse, error)
	Status(ctx context.Context, id string, revealHidden bool) (dto.SubmissionStatusResponse, error)
	ListByAssignment(ctx context.Context, assignmentID string) ([]dto.SubmissionResponse, error)
	ListByStudent(ctx context.Context, studentID string) ([]dto.SubmissionResponse, error)
}

type submissionService struct {
	submissions repository.SubmissionRepository
	assignments repository.AssignmentRepository
	grader      GradingService
	queue       jobs.Queue
	statuses    jobs.StatusStore
	validator   *validator.Validate
	logger      zerolog.Logger
	tracer      trace.Tracer
}

// NewSubmissionService constructs the coordinator. queue may be nil, in which
// case every submission is graded synchronously. statuses may be nil.
func NewSubmissionService(subRepo repository.SubmissionRepository, assignmentRepo repository.AssignmentRepository, grader GradingService, queue jobs.Queue, statuses jobs.StatusStore, validate *validator.Validate, logger zerolog.Logger) SubmissionService {
	return &submissionService{
		submissions: subRepo,
		assignments: assignmentRepo,
		grader:      grader,
		queue:       queue,
		statuses:    statuses,
		validator:   validate,
		logger:      logger.With().Str("component", "submission_service").Logger(),
		tracer:      otel.Tracer("github.com/noah-isme/gema-grader/internal/service/submission"),
	}
}

func (s *submissionService) Submit(ctx context.Context, payload dto.SubmissionCreateRequest) (dto.SubmissionStatusResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.SubmissionStatusResponse{}, err
	}

	_, language, err := resolveAssignmentLanguage(ctx, s.assignments, payload.AssignmentID, payload.Language)
	if err != nil {
		return dto.SubmissionStatusResponse{}, err
	}

	submission := models.Submission{
		ID:           uuid.NewString(),
		AssignmentID: payload.AssignmentID,
		StudentID:    payload.StudentID,
		StudentName:  studentName(payload.StudentName),
		Language:     language,
		Code:         payload.Code,
		Status:       models.SubmissionStatusPending,
	}
	if err := s.submissions.Create(ctx, &submission); err != nil {
		return dto.SubmissionStatusResponse{}, err
	}

	s.logger.Info().
		Str("submission_id", submission.ID).
		Str("assignment_id", submission.AssignmentID).
		Str("student_id", submission.StudentID).
		Msg("submission created")

	s.dispatch(ctx, submission)

	return s.Status(ctx, submission.ID, false)
}

// dispatch hands the submission to the queue, or grades it in the caller's
// context when the queue cannot take it.
func (s *submissionService) dispatch(ctx context.Context, submission models.Submission) {
	logger := middleware.LoggerWithCorrelation(ctx, s.logger).With().Str("submission_id", submission.ID).Logger()

	job := jobs.GradeJob{
		SubmissionID: submission.ID,
		AssignmentID: submission.AssignmentID,
		Code:         submission.Code,
		Language:     submission.Language,
		StudentID:    submission.StudentID,
	}

	reason, err := s.enqueue(ctx, job)
	if reason == "" {
		s.setStatus(ctx, submission.ID, jobs.Status{State: jobs.StateQueued})
		logger.Info().Msg("submission queued for grading")
		return
	}

	observability.FallbackRuns().WithLabelValues(reason).Inc()
	logger.Warn().Err(err).Str("reason", reason).Msg("job queue unavailable, grading synchronously")

	s.setStatus(ctx, submission.ID, jobs.Status{State: jobs.StateProcessing})
	reporter := &statusProgress{statuses: s.statuses, jobID: submission.ID, logger: logger}

	_, gradeErr := s.grader.Grade(ctx, GradeRequest{
		SubmissionID: submission.ID,
		AssignmentID: submission.AssignmentID,
		StudentID:    submission.StudentID,
		StudentName:  submission.StudentName,
		Code:         submission.Code,
		Language:     submission.Language,
	}, reporter)
	if gradeErr != nil {
		s.setStatus(ctx, submission.ID, jobs.Status{State: jobs.StateFailed, Error: gradeErr.Error()})
		if markErr := s.submissions.MarkError(ctx, submission.ID, gradeErr.Error()); markErr != nil {
			logger.Error().Err(markErr).Msg("failed to mark submission as errored")
		}
		logger.Error().Err(gradeErr).Msg("synchronous grading failed")
		return
	}

	s.setStatus(ctx, submission.ID, jobs.Status{State: jobs.StateCompleted, Progress: 100})
}

// enqueue returns an empty reason when the job was accepted, or the fallback
// reason otherwise.
func (s *submissionService) enqueue(ctx context.Context, job jobs.GradeJob) (string, error) {
	if s.queue == nil {
		observability.JobsEnqueued().WithLabelValues("skipped").Inc()
		return fallbackNoQueue, jobs.ErrQueueUnavailable
	}

	ctx, span := s.tracer.Start(ctx, "grading.enqueue", trace.WithAttributes(
		attribute.String("submission.id", job.SubmissionID),
	))
	defer span.End()

	if !s.queue.Ready(ctx) {
		observability.JobsEnqueued().WithLabelValues("skipped").Inc()
		return fallbackNotReady, jobs.ErrQueueUnavailable
	}

	if _, err := s.queue.Enqueue(ctx, job, jobs.DefaultEnqueueOptions(job.SubmissionID)); err != nil {
		span.RecordError(err)
		observability.JobsEnqueued().WithLabelValues("failed").Inc()
		if errors.Is(err, jobs.ErrConnectionClosed) {
			return fallbackConnectionClose, err
		}
		return fallbackEnqueueFailed, err
	}

	observability.JobsEnqueued().WithLabelValues("queued").Inc()
	return "", nil
}

func (s *submissionService) Status(ctx context.Context, id string, revealHidden bool) (dto.SubmissionStatusResponse, error) {
	submission, err := s.submissions.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.SubmissionStatusResponse{}, ErrSubmissionNotFound
		}
		return dto.SubmissionStatusResponse{}, err
	}

	progress := 0
	if s.statuses != nil {
		status, err := s.statuses.Get(ctx, id)
		if err != nil {
			s.logger.Warn().Err(err).Str("submission_id", id).Msg("failed to read job status")
		} else {
			progress = status.Progress
		}
	}
	if submission.Status == models.SubmissionStatusGraded {
		progress = 100
	}

	return dto.NewSubmissionStatusResponse(submission, progress, revealHidden), nil
}

func (s *submissionService) ListByAssignment(ctx context.Context, assignmentID string) ([]dto.SubmissionResponse, error) {
	if strings.TrimSpace(assignmentID) == "" {
		return nil, fmt.Errorf("%w: assignment id is required", ErrInvalidIdentifier)
	}

	submissions, err := s.submissions.List(ctx, repository.SubmissionFilter{AssignmentID: assignmentID})
	if err != nil {
		return nil, err
	}
	return dto.NewSubmissionResponseSlice(submissions), nil
}

func (s *submissionService) ListByStudent(ctx context.Context, studentID string) ([]dto.SubmissionResponse, error) {
	if strings.TrimSpace(studentID) == "" {
		return nil, fmt.Errorf("%w: student id is required", ErrInvalidIdentifier)
	}

	submissions, err := s.submissions.List(ctx, repository.SubmissionFilter{StudentID: studentID})
	if err != nil {
		return nil, err
	}
	return dto.NewSubmissionResponseSlice(submissions), nil
}

func (s *submissionService) setStatus(ctx context.Context, id string, status jobs.Status) {
	if s.statuses == nil {
		return
	}
	if err := s.statuses.Set(ctx, id, status); err != nil {
		s.logger.Warn().Err(err).Str("submission_id", id).Msg("failed to store job status")
	}
}

// statusProgress reports synchronous grading progress to the status store.
type statusProgress struct {
	statuses jobs.StatusStore
	jobID    string
	logger   zerolog.Logger
}

func (p *statusProgress) ReportProgress(ctx context.Context, percent int) {
	if p.statuses == nil {
		return
	}
	if err := p.statuses.Set(ctx, p.jobID, jobs.Status{State: jobs.StateProcessing, Progress: percent}); err != nil {
		p.logger.Warn().Err(err).Int("progress", percent).Msg("failed to store job progress")
	}
}
