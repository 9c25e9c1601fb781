package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-grader/internal/dto"
	"github.com/noah-isme/gema-grader/internal/jobs"
	"github.com/noah-isme/gema-grader/internal/models"
)

type stubQueue struct {
	ready    bool
	err      error
	enqueued []jobs.GradeJob
	options  []jobs.EnqueueOptions
}

func (q *stubQueue) Ready(context.Context) bool {
	return q.ready
}

func (q *stubQueue) Enqueue(_ context.Context, job jobs.GradeJob, opts jobs.EnqueueOptions) (string, error) {
	if q.err != nil {
		return "", q.err
	}
	q.enqueued = append(q.enqueued, job)
	q.options = append(q.options, opts)
	return opts.JobID, nil
}

type failingGrader struct {
	GradingService
	calls int
}

func (g *failingGrader) Grade(context.Context, GradeRequest, ProgressReporter) (models.GradingResult, error) {
	g.calls++
	return models.GradingResult{}, errors.New("sandbox pool exhausted")
}

func newSubmissionPayload(assignmentID string) dto.SubmissionCreateRequest {
	return dto.SubmissionCreateRequest{
		AssignmentID: assignmentID,
		StudentID:    "student-1",
		StudentName:  "Ana",
		Code:         echoProgram,
		Language:     "python",
	}
}

func TestSubmissionServiceQueuesWhenQueueReady(t *testing.T) {
	f := newGradingFixture(t)
	ctx := context.Background()
	f.seedAssignment(t, "a-1")
	queue := &stubQueue{ready: true}
	statuses := jobs.NewMemoryStatusStore()
	svc := NewSubmissionService(f.repos.Submissions, f.repos.Assignments, f.grader, queue, statuses, validator.New(), zerolog.Nop())

	response, err := svc.Submit(ctx, newSubmissionPayload("a-1"))
	require.NoError(t, err)
	require.Equal(t, models.SubmissionStatusPending, response.Status)
	require.Nil(t, response.Results)

	require.Len(t, queue.enqueued, 1)
	job := queue.enqueued[0]
	require.Equal(t, response.ID, job.SubmissionID)
	require.Equal(t, "a-1", job.AssignmentID)
	require.Equal(t, models.LanguagePython, job.Language)
	require.Equal(t, jobs.DefaultEnqueueOptions(response.ID), queue.options[0])
	require.Zero(t, f.executor.calls())

	status, err := statuses.Get(ctx, response.ID)
	require.NoError(t, err)
	require.Equal(t, jobs.StateQueued, status.State)
}

func TestSubmissionServiceFallsBackToSynchronousGrading(t *testing.T) {
	tests := []struct {
		name  string
		queue jobs.Queue
	}{
		{name: "no queue", queue: nil},
		{name: "queue not ready", queue: &stubQueue{ready: false}},
		{name: "enqueue fails", queue: &stubQueue{ready: true, err: errors.New("READONLY You can't write against a read only replica")}},
		{name: "connection closed", queue: &stubQueue{ready: true, err: fmt.Errorf("enqueue job: %w", jobs.ErrConnectionClosed)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newGradingFixture(t)
			ctx := context.Background()
			f.seedAssignment(t, "a-1")
			statuses := jobs.NewMemoryStatusStore()
			svc := NewSubmissionService(f.repos.Submissions, f.repos.Assignments, f.grader, tt.queue, statuses, validator.New(), zerolog.Nop())

			response, err := svc.Submit(ctx, newSubmissionPayload("a-1"))
			require.NoError(t, err)
			require.Equal(t, models.SubmissionStatusGraded, response.Status)
			require.Equal(t, 100, response.Progress)
			require.NotNil(t, response.Results)
			require.Equal(t, 4, f.executor.calls())

			status, err := statuses.Get(ctx, response.ID)
			require.NoError(t, err)
			require.Equal(t, jobs.StateCompleted, status.State)
		})
	}
}

func TestSubmissionServiceMarksErrorWhenFallbackFails(t *testing.T) {
	f := newGradingFixture(t)
	ctx := context.Background()
	f.seedAssignment(t, "a-1")
	grader := &failingGrader{}
	statuses := jobs.NewMemoryStatusStore()
	svc := NewSubmissionService(f.repos.Submissions, f.repos.Assignments, grader, &stubQueue{ready: true, err: jobs.ErrConnectionClosed}, statuses, validator.New(), zerolog.Nop())

	response, err := svc.Submit(ctx, newSubmissionPayload("a-1"))
	require.NoError(t, err)
	require.Equal(t, 1, grader.calls)
	require.Equal(t, models.SubmissionStatusError, response.Status)
	require.Equal(t, "sandbox pool exhausted", response.Error)

	status, err := statuses.Get(ctx, response.ID)
	require.NoError(t, err)
	require.Equal(t, jobs.StateFailed, status.State)
}

func TestSubmissionServiceRejectsInvalidSubmissions(t *testing.T) {
	f := newGradingFixture(t)
	ctx := context.Background()
	f.seedAssignment(t, "a-1")
	queue := &stubQueue{ready: true}
	svc := NewSubmissionService(f.repos.Submissions, f.repos.Assignments, f.grader, queue, nil, validator.New(), zerolog.Nop())

	tests := []struct {
		name     string
		mutate   func(p *dto.SubmissionCreateRequest)
		expected error
	}{
		{name: "unsupported language", mutate: func(p *dto.SubmissionCreateRequest) { p.Language = "brainfuck" }, expected: ErrUnsupportedLanguage},
		{name: "language not allowed", mutate: func(p *dto.SubmissionCreateRequest) { p.Language = "cpp" }, expected: ErrLanguageNotAllowed},
		{name: "assignment missing", mutate: func(p *dto.SubmissionCreateRequest) { p.AssignmentID = "nope" }, expected: ErrAssignmentNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := newSubmissionPayload("a-1")
			tt.mutate(&payload)
			_, err := svc.Submit(ctx, payload)
			require.ErrorIs(t, err, tt.expected)
		})
	}

	_, err := svc.Submit(ctx, dto.SubmissionCreateRequest{AssignmentID: "a-1", Language: "python"})
	require.Error(t, err)

	require.Empty(t, queue.enqueued)
	var count int64
	require.NoError(t, f.db.Model(&models.Submission{}).Count(&count).Error)
	require.Zero(t, count)
}

func TestSubmissionServiceStatusHidesHiddenTestsFromStudents(t *testing.T) {
	f := newGradingFixture(t)
	ctx := context.Background()
	f.seedAssignment(t, "a-1")
	svc := NewSubmissionService(f.repos.Submissions, f.repos.Assignments, f.grader, nil, jobs.NewMemoryStatusStore(), validator.New(), zerolog.Nop())

	created, err := svc.Submit(ctx, newSubmissionPayload("a-1"))
	require.NoError(t, err)

	studentView, err := svc.Status(ctx, created.ID, false)
	require.NoError(t, err)
	require.NotNil(t, studentView.Results)
	summaries, ok := studentView.Results.HiddenTestResults.([]dto.HiddenTestSummary)
	require.True(t, ok)
	require.Len(t, summaries, 2)
	require.True(t, summaries[0].Passed)
	require.Len(t, studentView.Results.PublicTestResults, 2)

	teacherView, err := svc.Status(ctx, created.ID, true)
	require.NoError(t, err)
	full, ok := teacherView.Results.HiddenTestResults.([]models.TestResult)
	require.True(t, ok)
	require.Equal(t, "3", full[0].Input)

	_, err = svc.Status(ctx, "missing", false)
	require.ErrorIs(t, err, ErrSubmissionNotFound)
}

func TestSubmissionServiceListings(t *testing.T) {
	f := newGradingFixture(t)
	ctx := context.Background()
	f.seedAssignment(t, "a-1")
	svc := NewSubmissionService(f.repos.Submissions, f.repos.Assignments, f.grader, &stubQueue{ready: true}, nil, validator.New(), zerolog.Nop())

	first, err := svc.Submit(ctx, newSubmissionPayload("a-1"))
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	second, err := svc.Submit(ctx, newSubmissionPayload("a-1"))
	require.NoError(t, err)

	byAssignment, err := svc.ListByAssignment(ctx, "a-1")
	require.NoError(t, err)
	require.Len(t, byAssignment, 2)
	require.Equal(t, second.ID, byAssignment[0].ID)
	require.Equal(t, first.ID, byAssignment[1].ID)

	byStudent, err := svc.ListByStudent(ctx, "student-1")
	require.NoError(t, err)
	require.Len(t, byStudent, 2)

	_, err = svc.ListByStudent(ctx, " ")
	require.Error(t, err)
}

func TestSubmissionServiceEnqueuesOnRedisAndWorkerGrades(t *testing.T) {
	f := newGradingFixture(t)
	ctx := context.Background()
	f.seedAssignment(t, "a-1")

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	queue := jobs.NewRedisQueue(client, jobs.RedisQueueConfig{Name: "submissions", Logger: zerolog.Nop()})
	statuses := jobs.NewRedisStatusStore(client, time.Hour)
	svc := NewSubmissionService(f.repos.Submissions, f.repos.Assignments, f.grader, queue, statuses, validator.New(), zerolog.Nop())

	created, err := svc.Submit(ctx, newSubmissionPayload("a-1"))
	require.NoError(t, err)
	require.Equal(t, models.SubmissionStatusPending, created.Status)
	require.Zero(t, f.executor.calls())

	worker := jobs.NewWorker(queue, statuses, f.grader.HandleJob, jobs.WorkerConfig{Concurrency: 1, Logger: zerolog.Nop()})
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = worker.Run(runCtx)
	}()

	require.Eventually(t, func() bool {
		polled, err := svc.Status(ctx, created.ID, false)
		return err == nil && polled.Status == models.SubmissionStatusGraded
	}, 5*time.Second, 20*time.Millisecond)
	cancel()
	<-done

	polled, err := svc.Status(ctx, created.ID, false)
	require.NoError(t, err)
	require.Equal(t, 100, polled.Progress)
	require.Equal(t, 4, f.executor.calls())

	status, err := statuses.Get(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, jobs.StateCompleted, status.State)
}
