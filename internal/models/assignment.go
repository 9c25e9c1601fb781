package models

import (
	"time"

	mapset "github.com/deckarep/golang-set/v2"
)

const (
	// DefaultTimeLimitMs is applied when an assignment does not set its own limit.
	DefaultTimeLimitMs = 5000
	// DefaultMemoryLimitMB is applied when an assignment does not set its own limit.
	DefaultMemoryLimitMB = 256
)

// TestCase visibility values.
const (
	VisibilityPublic = "public"
	VisibilityHidden = "hidden"
)

// TestCase is a single input/expected-output pair.
type TestCase struct {
	Input          string `json:"input"`
	ExpectedOutput string `json:"expected_output"`
	Visibility     string `json:"visibility"`
	Scale          int    `json:"scale"`
}

// Assignment represents a coding exercise graded against public and hidden tests.
type Assignment struct {
	ID              string     `gorm:"primaryKey;size:36" json:"id"`
	Title           string     `gorm:"size:255;not null" json:"title"`
	Description     string     `gorm:"type:text" json:"description"`
	TeacherID       string     `gorm:"size:64;index" json:"teacher_id"`
	TimeLimitMs     int        `gorm:"not null;default:5000" json:"time_limit_ms"`
	MemoryLimitMB   int        `gorm:"not null;default:256" json:"memory_limit_mb"`
	PublicTestCases []TestCase `gorm:"type:json;serializer:json" json:"public_test_cases"`
	HiddenTestCases []TestCase `gorm:"type:json;serializer:json" json:"hidden_test_cases"`
	Languages       []Language `gorm:"type:json;serializer:json" json:"languages"`
	DueDate         *time.Time `json:"due_date"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// AllowsLanguage reports whether submissions in the given language are accepted.
func (a Assignment) AllowsLanguage(language Language) bool {
	return mapset.NewSet(a.Languages...).Contains(language)
}

// EffectiveTimeLimitMs returns the configured time limit or the default.
func (a Assignment) EffectiveTimeLimitMs() int {
	if a.TimeLimitMs <= 0 {
		return DefaultTimeLimitMs
	}
	return a.TimeLimitMs
}

// EffectiveMemoryLimitMB returns the configured memory limit or the default.
func (a Assignment) EffectiveMemoryLimitMB() int {
	if a.MemoryLimitMB <= 0 {
		return DefaultMemoryLimitMB
	}
	return a.MemoryLimitMB
}
