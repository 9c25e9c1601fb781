package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-grader/internal/dto"
	"github.com/noah-isme/gema-grader/internal/jobs"
	"github.com/noah-isme/gema-grader/internal/middleware"
	"github.com/noah-isme/gema-grader/internal/models"
	"github.com/noah-isme/gema-grader/internal/observability"
	"github.com/noah-isme/gema-grader/internal/repository"
	"github.com/noah-isme/gema-grader/internal/sandbox"
	"github.com/noah-isme/gema-grader/internal/scoring"
)

var (
	// ErrAssignmentNotFound indicates the requested assignment does not exist.
	ErrAssignmentNotFound = errors.New("assignment not found")
	// ErrSubmissionNotFound indicates a submission could not be found.
	ErrSubmissionNotFound = errors.New("submission not found")
	// ErrUnsupportedLanguage indicates the language has no sandbox runtime.
	ErrUnsupportedLanguage = errors.New("unsupported language")
	// ErrLanguageNotAllowed indicates the assignment does not accept the language.
	ErrLanguageNotAllowed = errors.New("language not allowed for this assignment")
	// ErrNoPublicTests indicates the assignment has nothing to dry-run against.
	ErrNoPublicTests = errors.New("assignment has no public test cases")
	// ErrInvalidIdentifier indicates an empty id in a lookup.
	ErrInvalidIdentifier = errors.New("invalid identifier")
)

const defaultStudentName = "Student"

// GradeRequest identifies the code to grade and the submission it belongs to.
type GradeRequest struct {
	SubmissionID string
	AssignmentID string
	StudentID    string
	StudentName  string
	Code         string
	Language     models.Language
}

// ProgressReporter receives grading progress from 0 to 100.
type ProgressReporter interface {
	ReportProgress(ctx context.Context, percent int)
}

type noopProgress struct{}

func (noopProgress) ReportProgress(context.Context, int) {}

// GradingService runs submissions against their assignment's tests and scores them.
// The queue worker and the synchronous fallback both grade through it.
type GradingService interface {
	Grade(ctx context.Context, req GradeRequest, progress ProgressReporter) (models.GradingResult, error)
	RunPublicTests(ctx context.Context, payload dto.RunPublicTestsRequest) (dto.RunPublicTestsResponse, error)
	HandleJob(ctx context.Context, delivery jobs.Delivery, progress *jobs.Progress) error
	AbandonJob(ctx context.Context, delivery jobs.Delivery, cause error)
}

// GradingRepositories groups the stores a grading run reads and writes.
type GradingRepositories struct {
	Assignments repository.AssignmentRepository
	Submissions repository.SubmissionRepository
	Grades      repository.GradeRepository
	Leaderboard repository.LeaderboardRepository
}

type gradingService struct {
	assignments repository.AssignmentRepository
	submissions repository.SubmissionRepository
	grades      repository.GradeRepository
	leaderboard repository.LeaderboardRepository
	executor    sandbox.Executor
	events      EventPublisher
	validator   *validator.Validate
	logger      zerolog.Logger
	tracer      trace.Tracer
	now         func() time.Time
}

// NewGradingService constructs the grading orchestrator. events may be nil.
func NewGradingService(repos GradingRepositories, executor sandbox.Executor, events EventPublisher, validate *validator.Validate, logger zerolog.Logger) GradingService {
	if events == nil {
		events = NewNoopEventPublisher()
	}

	return &gradingService{
		assignments: repos.Assignments,
		submissions: repos.Submissions,
		grades:      repos.Grades,
		leaderboard: repos.Leaderboard,
		executor:    executor,
		events:      events,
		validator:   validate,
		logger:      logger.With().Str("component", "grading_service").Logger(),
		tracer:      otel.Tracer("github.com/noah-isme/gema-grader/internal/service/grading"),
		now:         time.Now,
	}
}

func (s *gradingService) Grade(ctx context.Context, req GradeRequest, progress ProgressReporter) (models.GradingResult, error) {
	if progress == nil {
		progress = noopProgress{}
	}

	started := s.now()
	ctx, span := s.tracer.Start(ctx, "grading.grade", trace.WithAttributes(
		attribute.String("submission.id", req.SubmissionID),
		attribute.String("assignment.id", req.AssignmentID),
		attribute.String("submission.language", req.Language.String()),
	))
	defer span.End()

	logger := middleware.LoggerWithCorrelation(ctx, s.logger).With().
		Str("submission_id", req.SubmissionID).
		Str("assignment_id", req.AssignmentID).
		Str("student_id", req.StudentID).
		Str("language", req.Language.String()).
		Logger()

	if err := s.submissions.MarkProcessing(ctx, req.SubmissionID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			err = ErrSubmissionNotFound
		}
		span.RecordError(err)
		observability.GradingRuns().WithLabelValues("error").Inc()
		return models.GradingResult{}, fmt.Errorf("mark submission processing: %w", err)
	}
	progress.ReportProgress(ctx, 10)

	result, err := s.grade(ctx, req, progress)
	if err != nil {
		span.RecordError(err)
		observability.GradingRuns().WithLabelValues("error").Inc()
		if markErr := s.submissions.MarkError(ctx, req.SubmissionID, err.Error()); markErr != nil {
			logger.Error().Err(markErr).Msg("failed to mark submission as errored")
		}
		logger.Error().Err(err).Msg("grading failed")
		return models.GradingResult{}, err
	}

	observability.GradingRuns().WithLabelValues("graded").Inc()
	observability.GradingDuration().Observe(s.now().Sub(started).Seconds())
	logger.Info().
		Float64("total", result.Scores.Total).
		Str("complexity", result.Complexity).
		Msg("submission graded")

	return result, nil
}

func (s *gradingService) grade(ctx context.Context, req GradeRequest, progress ProgressReporter) (models.GradingResult, error) {
	assignment, err := s.assignments.GetByID(ctx, req.AssignmentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.GradingResult{}, ErrAssignmentNotFound
		}
		return models.GradingResult{}, fmt.Errorf("load assignment: %w", err)
	}
	progress.ReportProgress(ctx, 20)

	public := s.runCases(ctx, assignment, req.Code, req.Language, assignment.PublicTestCases, func(done, total int) {
		progress.ReportProgress(ctx, 20+done*30/total)
	})
	hidden := s.runCases(ctx, assignment, req.Code, req.Language, assignment.HiddenTestCases, func(done, total int) {
		progress.ReportProgress(ctx, 50+done*30/total)
	})
	progress.ReportProgress(ctx, 80)

	all := make([]models.TestResult, 0, len(public)+len(hidden))
	all = append(all, public...)
	all = append(all, hidden...)

	complexity := scoring.EstimateComplexity(all)
	correctness := scoring.Correctness(public, hidden)
	efficiency := scoring.Efficiency(complexity, all, nil)
	quality := scoring.CodeQuality(req.Code, req.Language)
	total := scoring.Total(correctness, efficiency.Score, quality.Score)
	progress.ReportProgress(ctx, 90)

	result := models.GradingResult{
		PublicTestResults: public,
		HiddenTestResults: hidden,
		Complexity:        string(complexity),
		Scores: models.Scores{
			Correctness: correctness,
			Efficiency:  efficiency.Score,
			CodeQuality: quality.Score,
			Total:       total,
		},
		Feedback: models.Feedback{
			Correctness: scoring.CorrectnessFeedback(public, hidden),
			Efficiency:  scoring.EfficiencyFeedback(complexity),
			CodeQuality: quality.FeedbackText(),
		},
		Status:   models.GradingResultCompleted,
		GradedAt: s.now().UTC(),
	}

	runtime := scoring.AverageExecutionTime(all)
	grade := scoring.Grade(total)

	if err := s.persist(ctx, req, assignment, result, runtime, grade); err != nil {
		return models.GradingResult{}, err
	}

	s.events.Publish(ctx, GradingEvent{
		Type:         EventSubmissionGraded,
		SubmissionID: req.SubmissionID,
		AssignmentID: req.AssignmentID,
		StudentID:    req.StudentID,
		Grade:        grade,
		Complexity:   result.Complexity,
		Message:      fmt.Sprintf("%s scored %.1f on %s", studentName(req.StudentName), grade, assignment.Title),
	})
	progress.ReportProgress(ctx, 100)

	return result, nil
}

func (s *gradingService) persist(ctx context.Context, req GradeRequest, assignment models.Assignment, result models.GradingResult, runtime, grade float64) error {
	if err := s.submissions.MarkGraded(ctx, req.SubmissionID, result, runtime, grade); err != nil {
		return fmt.Errorf("store grading result: %w", err)
	}

	feedback, err := json.Marshal(result.Feedback)
	if err != nil {
		return fmt.Errorf("encode feedback: %w", err)
	}

	record := models.Grade{
		AssignmentID: req.AssignmentID,
		SubmissionID: req.SubmissionID,
		StudentID:    req.StudentID,
		TeacherID:    assignment.TeacherID,
		Grade:        grade,
		Runtime:      runtime,
		Feedback:     datatypes.JSON(feedback),
		GradedAt:     result.GradedAt,
	}
	if err := s.grades.Upsert(ctx, &record); err != nil {
		return fmt.Errorf("upsert grade: %w", err)
	}

	student := models.Student{ID: req.StudentID, Name: studentName(req.StudentName)}
	if _, err := s.leaderboard.ReplaceAssignmentScore(ctx, student, req.AssignmentID, grade); err != nil {
		// an errored submission keeps no grade row
		if deleteErr := s.grades.Delete(ctx, req.AssignmentID, req.SubmissionID); deleteErr != nil {
			s.logger.Error().Err(deleteErr).Str("submission_id", req.SubmissionID).Msg("failed to discard grade")
		}
		return fmt.Errorf("update leaderboard: %w", err)
	}

	return nil
}

// runCases executes cases in order, one sandbox call at a time. A failed call
// only fails its own test case.
func (s *gradingService) runCases(ctx context.Context, assignment models.Assignment, code string, language models.Language, cases []models.TestCase, onDone func(done, total int)) []models.TestResult {
	results := make([]models.TestResult, 0, len(cases))

	for i, testCase := range cases {
		execution := s.executor.Execute(ctx, sandbox.Request{
			Code:          code,
			Language:      language,
			Input:         testCase.Input,
			TimeLimitMs:   assignment.EffectiveTimeLimitMs(),
			MemoryLimitMB: assignment.EffectiveMemoryLimitMB(),
		})

		scale := testCase.Scale
		if scale <= 0 {
			scale = 1
		}

		results = append(results, models.TestResult{
			Index:          i,
			Input:          testCase.Input,
			ExpectedOutput: testCase.ExpectedOutput,
			ActualOutput:   execution.Stdout,
			Passed:         execution.Success && scoring.Compare(execution.Stdout, testCase.ExpectedOutput),
			ExecutionTime:  execution.ExecutionTimeMs,
			Stderr:         execution.Stderr,
			ExitCode:       execution.ExitCode,
			Scale:          scale,
		})

		if onDone != nil {
			onDone(i+1, len(cases))
		}
	}

	return results
}

func (s *gradingService) RunPublicTests(ctx context.Context, payload dto.RunPublicTestsRequest) (dto.RunPublicTestsResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.RunPublicTestsResponse{}, err
	}

	assignment, language, err := resolveAssignmentLanguage(ctx, s.assignments, payload.AssignmentID, payload.Language)
	if err != nil {
		return dto.RunPublicTestsResponse{}, err
	}
	if len(assignment.PublicTestCases) == 0 {
		return dto.RunPublicTestsResponse{}, ErrNoPublicTests
	}

	ctx, span := s.tracer.Start(ctx, "grading.run_public", trace.WithAttributes(
		attribute.String("assignment.id", assignment.ID),
		attribute.String("submission.language", language.String()),
	))
	defer span.End()

	results := s.runCases(ctx, assignment, payload.Code, language, assignment.PublicTestCases, nil)
	return dto.NewRunPublicTestsResponse(results), nil
}

// HandleJob adapts Grade to the queue worker. Errors that a retry cannot fix
// are marked permanent.
func (s *gradingService) HandleJob(ctx context.Context, delivery jobs.Delivery, progress *jobs.Progress) error {
	job := delivery.Job
	ctx = middleware.ContextWithCorrelation(ctx, "job:"+delivery.ID)
	req := GradeRequest{
		SubmissionID: job.SubmissionID,
		AssignmentID: job.AssignmentID,
		StudentID:    job.StudentID,
		Code:         job.Code,
		Language:     job.Language,
	}
	if submission, err := s.submissions.GetByID(ctx, job.SubmissionID); err == nil {
		req.StudentName = submission.StudentName
	}

	var reporter ProgressReporter = noopProgress{}
	if progress != nil {
		reporter = progress
	}

	_, err := s.Grade(ctx, req, reporter)
	if errors.Is(err, ErrAssignmentNotFound) || errors.Is(err, ErrSubmissionNotFound) {
		return jobs.Permanent(err)
	}
	return err
}

// AbandonJob marks the submission of a job that stalled on its last attempt as
// errored. Submissions that already reached a final state are left alone.
func (s *gradingService) AbandonJob(ctx context.Context, delivery jobs.Delivery, cause error) {
	logger := s.logger.With().
		Str("job_id", delivery.ID).
		Str("submission_id", delivery.Job.SubmissionID).
		Logger()

	submission, err := s.submissions.GetByID(ctx, delivery.Job.SubmissionID)
	if err != nil {
		logger.Warn().Err(err).Msg("cannot load abandoned submission")
		return
	}
	if submission.Status == models.SubmissionStatusGraded || submission.Status == models.SubmissionStatusError {
		return
	}

	message := "grading abandoned"
	if cause != nil {
		message = cause.Error()
	}
	if err := s.submissions.MarkError(ctx, submission.ID, message); err != nil {
		logger.Error().Err(err).Msg("failed to mark abandoned submission as errored")
		return
	}
	observability.GradingRuns().WithLabelValues("error").Inc()
	logger.Warn().Str("cause", message).Msg("grading abandoned")
}

// resolveAssignmentLanguage loads the assignment and checks it accepts the language.
func resolveAssignmentLanguage(ctx context.Context, assignments repository.AssignmentRepository, assignmentID, rawLanguage string) (models.Assignment, models.Language, error) {
	language, ok := models.ParseLanguage(rawLanguage)
	if !ok {
		return models.Assignment{}, "", fmt.Errorf("%w: %s", ErrUnsupportedLanguage, rawLanguage)
	}

	assignment, err := assignments.GetByID(ctx, assignmentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Assignment{}, "", ErrAssignmentNotFound
		}
		return models.Assignment{}, "", err
	}

	if !assignment.AllowsLanguage(language) {
		allowed := make([]string, 0, len(assignment.Languages))
		for _, l := range assignment.Languages {
			allowed = append(allowed, l.String())
		}
		return models.Assignment{}, "", fmt.Errorf("%w: allowed languages are %s", ErrLanguageNotAllowed, strings.Join(allowed, ", "))
	}

	return assignment, language, nil
}

func studentName(name string) string {
	if trimmed := strings.TrimSpace(name); trimmed != "" {
		return trimmed
	}
	return defaultStudentName
}
