package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/noah-isme/gema-grader/internal/models"
)

// SubmissionFilter allows narrowing submission queries.
type SubmissionFilter struct {
	AssignmentID string
	StudentID    string
	Status       string
}

// SubmissionRepository defines data operations for code submissions.
type SubmissionRepository interface {
	Create(ctx context.Context, submission *models.Submission) error
	GetByID(ctx context.Context, id string) (models.Submission, error)
	List(ctx context.Context, filter SubmissionFilter) ([]models.Submission, error)
	MarkProcessing(ctx context.Context, id string) error
	MarkGraded(ctx context.Context, id string, results models.GradingResult, runtime, grade float64) error
	MarkError(ctx context.Context, id string, message string) error
}

type submissionRepository struct {
	db *gorm.DB
}

// NewSubmissionRepository instantiates the repository.
func NewSubmissionRepository(db *gorm.DB) SubmissionRepository {
	return &submissionRepository{db: db}
}

func (r *submissionRepository) Create(ctx context.Context, submission *models.Submission) error {
	return r.db.WithContext(ctx).Create(submission).Error
}

func (r *submissionRepository) GetByID(ctx context.Context, id string) (models.Submission, error) {
	var submission models.Submission
	if err := r.db.WithContext(ctx).First(&submission, "id = ?", id).Error; err != nil {
		return models.Submission{}, err
	}
	return submission, nil
}

func (r *submissionRepository) List(ctx context.Context, filter SubmissionFilter) ([]models.Submission, error) {
	query := r.db.WithContext(ctx).Model(&models.Submission{})

	if filter.AssignmentID != "" {
		query = query.Where("assignment_id = ?", filter.AssignmentID)
	}
	if filter.StudentID != "" {
		query = query.Where("student_id = ?", filter.StudentID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}

	var submissions []models.Submission
	if err := query.Order("submitted_at DESC").Find(&submissions).Error; err != nil {
		return nil, err
	}
	return submissions, nil
}

func (r *submissionRepository) MarkProcessing(ctx context.Context, id string) error {
	return r.update(ctx, id, map[string]interface{}{
		"status": models.SubmissionStatusProcessing,
		"error":  "",
	})
}

// MarkGraded stores the full result. Regrading overwrites the previous result.
func (r *submissionRepository) MarkGraded(ctx context.Context, id string, results models.GradingResult, runtime, grade float64) error {
	submission := models.Submission{
		Status:  models.SubmissionStatusGraded,
		Results: &results,
		Runtime: runtime,
		Grade:   &grade,
	}

	result := r.db.WithContext(ctx).Model(&models.Submission{}).
		Where("id = ?", id).
		Select("status", "results", "runtime", "grade", "error").
		Updates(&submission)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// MarkError records the failure and drops any results, grade and runtime
// written by an earlier step of the same run.
func (r *submissionRepository) MarkError(ctx context.Context, id string, message string) error {
	return r.update(ctx, id, map[string]interface{}{
		"status":  models.SubmissionStatusError,
		"error":   message,
		"results": gorm.Expr("NULL"),
		"grade":   gorm.Expr("NULL"),
		"runtime": 0,
	})
}

func (r *submissionRepository) update(ctx context.Context, id string, values map[string]interface{}) error {
	result := r.db.WithContext(ctx).Model(&models.Submission{}).Where("id = ?", id).Updates(values)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
