package models

import "time"

// Student is a leaderboard participant. Score is the sum of the student's AssignmentScore rows.
type Student struct {
	ID        string    `gorm:"primaryKey;size:64" json:"id"`
	Name      string    `gorm:"size:255" json:"name"`
	Email     string    `gorm:"size:255" json:"email"`
	Score     float64   `gorm:"not null;default:0" json:"score"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AssignmentScore is the latest grade a student earned for one assignment.
type AssignmentScore struct {
	StudentID    string    `gorm:"primaryKey;size:64" json:"student_id"`
	AssignmentID string    `gorm:"primaryKey;size:36" json:"assignment_id"`
	Score        float64   `gorm:"not null" json:"score"`
	UpdatedAt    time.Time `json:"updated_at"`
}
