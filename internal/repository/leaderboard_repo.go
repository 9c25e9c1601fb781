package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noah-isme/gema-grader/internal/models"
)

// LeaderboardRepository maintains per-student running scores.
type LeaderboardRepository interface {
	ReplaceAssignmentScore(ctx context.Context, student models.Student, assignmentID string, score float64) (float64, error)
	ListStudents(ctx context.Context) ([]models.Student, error)
	ListAssignmentScores(ctx context.Context) ([]models.AssignmentScore, error)
}

type leaderboardRepository struct {
	db *gorm.DB
}

// NewLeaderboardRepository instantiates the repository.
func NewLeaderboardRepository(db *gorm.DB) LeaderboardRepository {
	return &leaderboardRepository{db: db}
}

// ReplaceAssignmentScore stores score as the student's result for the
// assignment, replacing any earlier one, and recomputes the student's total.
// The student row is created on first use. Returns the new total.
func (r *leaderboardRepository) ReplaceAssignmentScore(ctx context.Context, student models.Student, assignmentID string, score float64) (float64, error) {
	var total float64

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&student).Error; err != nil {
			return err
		}

		entry := models.AssignmentScore{
			StudentID:    student.ID,
			AssignmentID: assignmentID,
			Score:        score,
			UpdatedAt:    time.Now().UTC(),
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "student_id"}, {Name: "assignment_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"score", "updated_at"}),
		}).Create(&entry).Error; err != nil {
			return err
		}

		if err := tx.Model(&models.AssignmentScore{}).
			Where("student_id = ?", student.ID).
			Select("COALESCE(SUM(score), 0)").
			Scan(&total).Error; err != nil {
			return err
		}

		return tx.Model(&models.Student{}).
			Where("id = ?", student.ID).
			Update("score", total).Error
	})
	if err != nil {
		return 0, err
	}

	return total, nil
}

func (r *leaderboardRepository) ListStudents(ctx context.Context) ([]models.Student, error) {
	var students []models.Student
	if err := r.db.WithContext(ctx).
		Order("score DESC").
		Order("name ASC").
		Find(&students).Error; err != nil {
		return nil, err
	}
	return students, nil
}

func (r *leaderboardRepository) ListAssignmentScores(ctx context.Context) ([]models.AssignmentScore, error) {
	var scores []models.AssignmentScore
	if err := r.db.WithContext(ctx).Find(&scores).Error; err != nil {
		return nil, err
	}
	return scores, nil
}
