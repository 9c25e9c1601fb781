package dto

import (
	"time"

	"github.com/noah-isme/gema-grader/internal/models"
)

// TestCaseRequest describes one test case in an assignment payload.
type TestCaseRequest struct {
	Input          string `json:"input" validate:"required"`
	ExpectedOutput string `json:"expected_output" validate:"required"`
	Scale          int    `json:"scale" validate:"omitempty,gt=0"`
}

// AssignmentRequest describes the payload for creating or replacing an assignment.
type AssignmentRequest struct {
	Title           string            `json:"title" validate:"required,max=200"`
	Description     string            `json:"description" validate:"required"`
	Languages       []string          `json:"languages" validate:"required,min=1,dive,oneof=python javascript java cpp c"`
	TimeLimitMs     int               `json:"time_limit_ms" validate:"omitempty,gt=0"`
	MemoryLimitMB   int               `json:"memory_limit_mb" validate:"omitempty,gt=0"`
	PublicTestCases []TestCaseRequest `json:"public_test_cases" validate:"required,min=1,dive"`
	HiddenTestCases []TestCaseRequest `json:"hidden_test_cases" validate:"omitempty,dive"`
	DueDate         *time.Time        `json:"due_date"`
}

// AssignmentResponse is the serialized representation returned to API clients.
type AssignmentResponse struct {
	ID              string            `json:"id"`
	Title           string            `json:"title"`
	Description     string            `json:"description"`
	TeacherID       string            `json:"teacher_id"`
	Languages       []models.Language `json:"languages"`
	TimeLimitMs     int               `json:"time_limit_ms"`
	MemoryLimitMB   int               `json:"memory_limit_mb"`
	PublicTestCases []models.TestCase `json:"public_test_cases"`
	HiddenTestCases []models.TestCase `json:"hidden_test_cases"`
	DueDate         *time.Time        `json:"due_date"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// NewTestCases converts request test cases into models with the given visibility.
// A missing scale defaults to 1.
func NewTestCases(requests []TestCaseRequest, visibility string) []models.TestCase {
	cases := make([]models.TestCase, 0, len(requests))
	for _, req := range requests {
		scale := req.Scale
		if scale <= 0 {
			scale = 1
		}
		cases = append(cases, models.TestCase{
			Input:          req.Input,
			ExpectedOutput: req.ExpectedOutput,
			Visibility:     visibility,
			Scale:          scale,
		})
	}
	return cases
}

// NewAssignmentResponse converts a model into a DTO. Hidden test cases are
// only included when revealHidden is set.
func NewAssignmentResponse(model models.Assignment, revealHidden bool) AssignmentResponse {
	hidden := []models.TestCase{}
	if revealHidden && model.HiddenTestCases != nil {
		hidden = model.HiddenTestCases
	}

	public := model.PublicTestCases
	if public == nil {
		public = []models.TestCase{}
	}

	return AssignmentResponse{
		ID:              model.ID,
		Title:           model.Title,
		Description:     model.Description,
		TeacherID:       model.TeacherID,
		Languages:       model.Languages,
		TimeLimitMs:     model.EffectiveTimeLimitMs(),
		MemoryLimitMB:   model.EffectiveMemoryLimitMB(),
		PublicTestCases: public,
		HiddenTestCases: hidden,
		DueDate:         model.DueDate,
		CreatedAt:       model.CreatedAt,
		UpdatedAt:       model.UpdatedAt,
	}
}

// NewAssignmentResponseSlice converts a slice of models into DTOs.
func NewAssignmentResponseSlice(assignments []models.Assignment, revealHidden bool) []AssignmentResponse {
	responses := make([]AssignmentResponse, 0, len(assignments))
	for _, assignment := range assignments {
		responses = append(responses, NewAssignmentResponse(assignment, revealHidden))
	}

	return responses
}
