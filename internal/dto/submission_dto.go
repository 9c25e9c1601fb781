package dto

import (
	"time"

	"github.com/noah-isme/gema-grader/internal/models"
)

// SubmissionCreateRequest is the payload for submitting code for grading.
type SubmissionCreateRequest struct {
	AssignmentID string `json:"assignment_id" validate:"required"`
	StudentID    string `json:"student_id" validate:"required"`
	StudentName  string `json:"student_name" validate:"omitempty,max=255"`
	Code         string `json:"code" validate:"required"`
	Language     string `json:"language" validate:"required"`
}

// HiddenTestSummary is all a non-teacher viewer learns about a hidden test.
type HiddenTestSummary struct {
	Passed        bool    `json:"passed"`
	ExecutionTime float64 `json:"execution_time"`
}

// GradingResultResponse mirrors models.GradingResult. HiddenTestResults holds
// either []models.TestResult or []HiddenTestSummary depending on the viewer.
type GradingResultResponse struct {
	PublicTestResults []models.TestResult `json:"public_test_results"`
	HiddenTestResults interface{}         `json:"hidden_test_results"`
	Complexity        string              `json:"complexity"`
	Scores            models.Scores       `json:"scores"`
	Feedback          models.Feedback     `json:"feedback"`
	Status            string              `json:"status"`
	GradedAt          time.Time           `json:"graded_at"`
}

// SubmissionStatusResponse is returned to clients polling a submission.
type SubmissionStatusResponse struct {
	ID          string                 `json:"id"`
	Status      string                 `json:"status"`
	SubmittedAt time.Time              `json:"submitted_at"`
	Progress    int                    `json:"progress"`
	Results     *GradingResultResponse `json:"results,omitempty"`
	Error       string                 `json:"error,omitempty"`
}

// SubmissionResponse summarizes a submission in listings.
type SubmissionResponse struct {
	ID           string          `json:"id"`
	AssignmentID string          `json:"assignment_id"`
	StudentID    string          `json:"student_id"`
	StudentName  string          `json:"student_name"`
	Language     models.Language `json:"language"`
	Code         string          `json:"code"`
	Status       string          `json:"status"`
	Grade        *float64        `json:"grade"`
	Runtime      float64         `json:"runtime"`
	Complexity   string          `json:"complexity,omitempty"`
	Error        string          `json:"error,omitempty"`
	SubmittedAt  time.Time       `json:"submitted_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// NewSubmissionStatusResponse builds the polling view of a submission. Results
// are only attached once graded, and hidden test bodies are reduced unless
// revealHidden is set.
func NewSubmissionStatusResponse(model models.Submission, progress int, revealHidden bool) SubmissionStatusResponse {
	response := SubmissionStatusResponse{
		ID:          model.ID,
		Status:      model.Status,
		SubmittedAt: model.SubmittedAt,
		Progress:    progress,
		Error:       model.Error,
	}

	if model.Status == models.SubmissionStatusGraded && model.Results != nil {
		results := newGradingResultResponse(*model.Results, revealHidden)
		response.Results = &results
	}

	return response
}

func newGradingResultResponse(result models.GradingResult, revealHidden bool) GradingResultResponse {
	public := result.PublicTestResults
	if public == nil {
		public = []models.TestResult{}
	}

	var hidden interface{}
	if revealHidden {
		full := result.HiddenTestResults
		if full == nil {
			full = []models.TestResult{}
		}
		hidden = full
	} else {
		summaries := make([]HiddenTestSummary, 0, len(result.HiddenTestResults))
		for _, test := range result.HiddenTestResults {
			summaries = append(summaries, HiddenTestSummary{Passed: test.Passed, ExecutionTime: test.ExecutionTime})
		}
		hidden = summaries
	}

	return GradingResultResponse{
		PublicTestResults: public,
		HiddenTestResults: hidden,
		Complexity:        result.Complexity,
		Scores:            result.Scores,
		Feedback:          result.Feedback,
		Status:            result.Status,
		GradedAt:          result.GradedAt,
	}
}

// NewSubmissionResponse converts a model into a listing DTO.
func NewSubmissionResponse(model models.Submission) SubmissionResponse {
	response := SubmissionResponse{
		ID:           model.ID,
		AssignmentID: model.AssignmentID,
		StudentID:    model.StudentID,
		StudentName:  model.StudentName,
		Language:     model.Language,
		Code:         model.Code,
		Status:       model.Status,
		Grade:        model.Grade,
		Runtime:      model.Runtime,
		Error:        model.Error,
		SubmittedAt:  model.SubmittedAt,
		UpdatedAt:    model.UpdatedAt,
	}
	if model.Results != nil {
		response.Complexity = model.Results.Complexity
	}
	return response
}

// NewSubmissionResponseSlice converts a slice of models into DTOs.
func NewSubmissionResponseSlice(submissions []models.Submission) []SubmissionResponse {
	responses := make([]SubmissionResponse, 0, len(submissions))
	for _, submission := range submissions {
		responses = append(responses, NewSubmissionResponse(submission))
	}
	return responses
}
