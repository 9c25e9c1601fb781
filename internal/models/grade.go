package models

import (
	"time"

	"gorm.io/datatypes"
)

// Grade is the persisted grading outcome, unique per (assignment, submission).
type Grade struct {
	ID           string         `gorm:"primaryKey;size:36" json:"id"`
	AssignmentID string         `gorm:"size:36;not null;uniqueIndex:idx_grades_assignment_submission" json:"assignment_id"`
	SubmissionID string         `gorm:"size:36;not null;uniqueIndex:idx_grades_assignment_submission" json:"submission_id"`
	StudentID    string         `gorm:"size:64;not null;index" json:"student_id"`
	TeacherID    string         `gorm:"size:64" json:"teacher_id"`
	Grade        float64        `gorm:"not null" json:"grade"`
	Runtime      float64        `json:"runtime"`
	Feedback     datatypes.JSON `json:"feedback"`
	GradedAt     time.Time      `json:"graded_at"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}
