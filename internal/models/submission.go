package models

import "time"

const (
	// SubmissionStatusPending indicates the submission is waiting to be graded.
	SubmissionStatusPending = "pending"
	// SubmissionStatusProcessing indicates a grading run is in progress.
	SubmissionStatusProcessing = "processing"
	// SubmissionStatusGraded indicates grading completed and results are stored.
	SubmissionStatusGraded = "graded"
	// SubmissionStatusError indicates grading aborted.
	SubmissionStatusError = "error"
)

// Submission is one attempt by a student at an assignment. Submissions are never deleted.
type Submission struct {
	ID           string         `gorm:"primaryKey;size:36" json:"id"`
	AssignmentID string         `gorm:"size:36;not null;index" json:"assignment_id"`
	StudentID    string         `gorm:"size:64;not null;index" json:"student_id"`
	StudentName  string         `gorm:"size:255" json:"student_name"`
	Language     Language       `gorm:"size:32;not null" json:"language"`
	Code         string         `gorm:"type:text;not null" json:"code"`
	Status       string         `gorm:"size:32;not null" json:"status"`
	Results      *GradingResult `gorm:"type:json;serializer:json" json:"results"`
	Runtime      float64        `json:"runtime"`
	Grade        *float64       `json:"grade"`
	Error        string         `gorm:"type:text" json:"error"`
	SubmittedAt  time.Time      `gorm:"autoCreateTime" json:"submitted_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// IsTerminal reports whether the submission reached graded or error.
func (s Submission) IsTerminal() bool {
	return s.Status == SubmissionStatusGraded || s.Status == SubmissionStatusError
}

// TestResult records the outcome of running one test case.
type TestResult struct {
	Index          int     `json:"index"`
	Input          string  `json:"input"`
	ExpectedOutput string  `json:"expected_output"`
	ActualOutput   string  `json:"actual_output"`
	Passed         bool    `json:"passed"`
	ExecutionTime  float64 `json:"execution_time"`
	Stderr         string  `json:"stderr"`
	ExitCode       int     `json:"exit_code"`
	Scale          int     `json:"scale"`
}

// Scores holds the three scoring components and their sum.
type Scores struct {
	Correctness float64 `json:"correctness"`
	Efficiency  float64 `json:"efficiency"`
	CodeQuality float64 `json:"code_quality"`
	Total       float64 `json:"total"`
}

// Feedback holds one human-readable message per scoring component.
type Feedback struct {
	Correctness string `json:"correctness"`
	Efficiency  string `json:"efficiency"`
	CodeQuality string `json:"code_quality"`
}

// GradingResultCompleted is the status stamped on every finished grading result.
const GradingResultCompleted = "completed"

// GradingResult is the full outcome of a grading run.
type GradingResult struct {
	PublicTestResults []TestResult `json:"public_test_results"`
	HiddenTestResults []TestResult `json:"hidden_test_results"`
	Complexity        string       `json:"complexity"`
	Scores            Scores       `json:"scores"`
	Feedback          Feedback     `json:"feedback"`
	Status            string       `json:"status"`
	GradedAt          time.Time    `json:"graded_at"`
}
