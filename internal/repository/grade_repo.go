package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noah-isme/gema-grader/internal/models"
)

// GradeRepository persists grading outcomes.
type GradeRepository interface {
	Upsert(ctx context.Context, grade *models.Grade) error
	ListByAssignment(ctx context.Context, assignmentID string) ([]models.Grade, error)
	ListByStudent(ctx context.Context, studentID string) ([]models.Grade, error)
	Delete(ctx context.Context, assignmentID, submissionID string) error
}

type gradeRepository struct {
	db *gorm.DB
}

// NewGradeRepository instantiates the repository.
func NewGradeRepository(db *gorm.DB) GradeRepository {
	return &gradeRepository{db: db}
}

// Upsert inserts the grade or overwrites the one stored for the same
// (assignment, submission) pair, keeping its id.
func (r *gradeRepository) Upsert(ctx context.Context, grade *models.Grade) error {
	if grade.ID == "" {
		grade.ID = uuid.NewString()
	}

	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "assignment_id"}, {Name: "submission_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"student_id", "teacher_id", "grade", "runtime", "feedback", "graded_at", "updated_at",
		}),
	}).Create(grade).Error
	if err != nil {
		return err
	}

	var stored models.Grade
	if err := r.db.WithContext(ctx).
		Where("assignment_id = ? AND submission_id = ?", grade.AssignmentID, grade.SubmissionID).
		First(&stored).Error; err != nil {
		return err
	}

	*grade = stored
	return nil
}

func (r *gradeRepository) ListByAssignment(ctx context.Context, assignmentID string) ([]models.Grade, error) {
	var grades []models.Grade
	if err := r.db.WithContext(ctx).
		Where("assignment_id = ?", assignmentID).
		Order("graded_at DESC").
		Find(&grades).Error; err != nil {
		return nil, err
	}
	return grades, nil
}

func (r *gradeRepository) ListByStudent(ctx context.Context, studentID string) ([]models.Grade, error) {
	var grades []models.Grade
	if err := r.db.WithContext(ctx).
		Where("student_id = ?", studentID).
		Order("graded_at DESC").
		Find(&grades).Error; err != nil {
		return nil, err
	}
	return grades, nil
}

// Delete removes the grade stored for the (assignment, submission) pair, if any.
func (r *gradeRepository) Delete(ctx context.Context, assignmentID, submissionID string) error {
	return r.db.WithContext(ctx).
		Where("assignment_id = ? AND submission_id = ?", assignmentID, submissionID).
		Delete(&models.Grade{}).Error
}
