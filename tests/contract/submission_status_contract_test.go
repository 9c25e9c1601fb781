package contract_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-grader/internal/dto"
	"github.com/noah-isme/gema-grader/internal/handler"
	"github.com/noah-isme/gema-grader/internal/models"
)

type stubSubmissionService struct {
	submission models.Submission
}

func (s stubSubmissionService) Submit(context.Context, dto.SubmissionCreateRequest) (dto.SubmissionStatusResponse, error) {
	return dto.NewSubmissionStatusResponse(s.submission, 0, false), nil
}

func (s stubSubmissionService) Status(_ context.Context, _ string, revealHidden bool) (dto.SubmissionStatusResponse, error) {
	return dto.NewSubmissionStatusResponse(s.submission, 100, revealHidden), nil
}

func (s stubSubmissionService) ListByAssignment(context.Context, string) ([]dto.SubmissionResponse, error) {
	return nil, nil
}

func (s stubSubmissionService) ListByStudent(context.Context, string) ([]dto.SubmissionResponse, error) {
	return nil, nil
}

func compileSchema(t *testing.T, name string) *jsonschema.Schema {
	t.Helper()
	schemaPath, err := filepath.Abs(filepath.Join("..", "contracts", name))
	require.NoError(t, err)

	compiler := jsonschema.NewCompiler()
	compiler.AssertFormat = true
	schema, err := compiler.Compile("file://" + schemaPath)
	require.NoError(t, err)
	return schema
}

func gradedSubmission() models.Submission {
	now := time.Now().UTC()
	grade := 86.0
	return models.Submission{
		ID:           "5f0c2c4e-8d1f-4c59-9a7e-1f6f2b3c4d5e",
		AssignmentID: "a-1",
		StudentID:    "student-1",
		StudentName:  "Ana",
		Language:     models.LanguagePython,
		Code:         "print(input())",
		Status:       models.SubmissionStatusGraded,
		Grade:        &grade,
		Runtime:      12.5,
		SubmittedAt:  now.Add(-time.Minute),
		UpdatedAt:    now,
		Results: &models.GradingResult{
			PublicTestResults: []models.TestResult{
				{Index: 0, Input: "1", ExpectedOutput: "1", ActualOutput: "1", Passed: true, ExecutionTime: 12, Scale: 1},
			},
			HiddenTestResults: []models.TestResult{
				{Index: 0, Input: "secret", ExpectedOutput: "secret", ActualOutput: "secret", Passed: true, ExecutionTime: 13, Scale: 1},
				{Index: 1, Input: "secret-2", ExpectedOutput: "x", ActualOutput: "", Passed: false, ExecutionTime: 0, Stderr: "timeout", ExitCode: -1, Scale: 1000},
			},
			Complexity: "O(n)",
			Scores:     models.Scores{Correctness: 3.9, Efficiency: 3, CodeQuality: 1, Total: 7.9},
			Feedback: models.Feedback{
				Correctness: "Passed 1/1 public tests and 1/2 hidden tests.",
				Efficiency:  "Detected O(n) complexity.",
				CodeQuality: "Code looks clean.",
			},
			Status:   models.GradingResultCompleted,
			GradedAt: now,
		},
	}
}

func TestSubmissionStatusContractForStudents(t *testing.T) {
	schema := compileSchema(t, "submission_status.schema.json")

	tests := []struct {
		name       string
		submission models.Submission
	}{
		{name: "graded", submission: gradedSubmission()},
		{name: "pending", submission: models.Submission{ID: "p-1", Status: models.SubmissionStatusPending, SubmittedAt: time.Now().UTC()}},
		{name: "error", submission: models.Submission{ID: "e-1", Status: models.SubmissionStatusError, Error: "assignment not found", SubmittedAt: time.Now().UTC()}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := handler.NewSubmissionHandler(stubSubmissionService{submission: tt.submission}, zerolog.Nop())

			app := fiber.New()
			group := app.Group("/api/v2/grading/submissions", func(c *fiber.Ctx) error {
				c.Locals("user_id", "student-1")
				c.Locals("user_role", "student")
				return c.Next()
			})
			h.Register(group)

			req := httptest.NewRequest(http.MethodGet, "/api/v2/grading/submissions/"+tt.submission.ID, nil)
			resp, err := app.Test(req)
			require.NoError(t, err)
			require.Equal(t, http.StatusOK, resp.StatusCode)

			body, err := io.ReadAll(resp.Body)
			require.NoError(t, err)
			resp.Body.Close()

			var payload interface{}
			require.NoError(t, json.Unmarshal(body, &payload))
			require.NoError(t, schema.Validate(payload))
			require.NotContains(t, string(body), "secret")
		})
	}
}

func TestSubmissionStatusContractRejectsTeacherView(t *testing.T) {
	schema := compileSchema(t, "submission_status.schema.json")

	response := dto.NewSubmissionStatusResponse(gradedSubmission(), 100, true)
	raw, err := json.Marshal(map[string]interface{}{"success": true, "message": "ok", "data": response})
	require.NoError(t, err)

	var payload interface{}
	require.NoError(t, json.Unmarshal(raw, &payload))
	require.Error(t, schema.Validate(payload))
}
