package dto

import (
	"encoding/json"
	"time"

	"github.com/noah-isme/gema-grader/internal/models"
)

// RunPublicTestsRequest asks for a dry run of a draft against the public tests.
type RunPublicTestsRequest struct {
	AssignmentID string `json:"assignment_id" validate:"required"`
	Code         string `json:"code" validate:"required"`
	Language     string `json:"language" validate:"required"`
}

// RunSummary aggregates a dry run.
type RunSummary struct {
	Passed   int     `json:"passed"`
	Total    int     `json:"total"`
	PassRate float64 `json:"pass_rate"`
}

// RunPublicTestsResponse carries per-case results of a dry run.
type RunPublicTestsResponse struct {
	Results []models.TestResult `json:"results"`
	Summary RunSummary          `json:"summary"`
}

// NewRunPublicTestsResponse summarizes results.
func NewRunPublicTestsResponse(results []models.TestResult) RunPublicTestsResponse {
	passed := 0
	for _, result := range results {
		if result.Passed {
			passed++
		}
	}

	summary := RunSummary{Passed: passed, Total: len(results)}
	if summary.Total > 0 {
		summary.PassRate = float64(passed) / float64(summary.Total)
	}

	return RunPublicTestsResponse{Results: results, Summary: summary}
}

// GradeUpsertRequest lets a teacher record or override a grade by hand.
type GradeUpsertRequest struct {
	AssignmentID string          `json:"assignment_id" validate:"required"`
	SubmissionID string          `json:"submission_id" validate:"required"`
	StudentID    string          `json:"student_id" validate:"required"`
	Grade        *float64        `json:"grade" validate:"required,gte=0,lte=100"`
	Runtime      float64         `json:"runtime" validate:"gte=0"`
	Feedback     json.RawMessage `json:"feedback"`
}

// GradeResponse is the serialized Grade record.
type GradeResponse struct {
	ID           string          `json:"id"`
	AssignmentID string          `json:"assignment_id"`
	SubmissionID string          `json:"submission_id"`
	StudentID    string          `json:"student_id"`
	TeacherID    string          `json:"teacher_id"`
	Grade        float64         `json:"grade"`
	Runtime      float64         `json:"runtime"`
	Feedback     json.RawMessage `json:"feedback"`
	GradedAt     time.Time       `json:"graded_at"`
}

// NewGradeResponse converts a model into a DTO.
func NewGradeResponse(model models.Grade) GradeResponse {
	feedback := json.RawMessage(model.Feedback)
	if len(feedback) == 0 {
		feedback = json.RawMessage("null")
	}

	return GradeResponse{
		ID:           model.ID,
		AssignmentID: model.AssignmentID,
		SubmissionID: model.SubmissionID,
		StudentID:    model.StudentID,
		TeacherID:    model.TeacherID,
		Grade:        model.Grade,
		Runtime:      model.Runtime,
		Feedback:     feedback,
		GradedAt:     model.GradedAt,
	}
}

// NewGradeResponseSlice converts a slice of models into DTOs.
func NewGradeResponseSlice(grades []models.Grade) []GradeResponse {
	responses := make([]GradeResponse, 0, len(grades))
	for _, grade := range grades {
		responses = append(responses, NewGradeResponse(grade))
	}
	return responses
}

// LeaderboardEntry is one ranked student.
type LeaderboardEntry struct {
	Rank             int                `json:"rank"`
	StudentID        string             `json:"student_id"`
	Name             string             `json:"name"`
	Score            float64            `json:"score"`
	AssignmentScores map[string]float64 `json:"assignment_scores"`
}

// LeaderboardStatistics summarizes the leaderboard.
type LeaderboardStatistics struct {
	TotalStudents int     `json:"total_students"`
	AverageScore  float64 `json:"average_score"`
	TopScore      float64 `json:"top_score"`
}

// LeaderboardResponse is the ranked leaderboard with statistics.
type LeaderboardResponse struct {
	Entries    []LeaderboardEntry    `json:"leaderboard"`
	Statistics LeaderboardStatistics `json:"statistics"`
	CacheHit   bool                  `json:"cache_hit"`
}
