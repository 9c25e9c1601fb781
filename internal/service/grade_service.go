package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"gorm.io/datatypes"

	"github.com/noah-isme/gema-grader/internal/dto"
	"github.com/noah-isme/gema-grader/internal/models"
	"github.com/noah-isme/gema-grader/internal/repository"
)

// ErrInvalidFeedback indicates a feedback payload that is not valid JSON.
var ErrInvalidFeedback = errors.New("feedback must be valid json")

// GradeService exposes persisted grades.
type GradeService interface {
	Save(ctx context.Context, teacherID string, payload dto.GradeUpsertRequest) (dto.GradeResponse, error)
	ListByAssignment(ctx context.Context, assignmentID string) ([]dto.GradeResponse, error)
	ListByStudent(ctx context.Context, studentID string) ([]dto.GradeResponse, error)
}

type gradeService struct {
	repo      repository.GradeRepository
	validator *validator.Validate
	logger    zerolog.Logger
	now       func() time.Time
}

// NewGradeService constructs a GradeService.
func NewGradeService(repo repository.GradeRepository, validate *validator.Validate, logger zerolog.Logger) GradeService {
	return &gradeService{
		repo:      repo,
		validator: validate,
		logger:    logger.With().Str("component", "grade_service").Logger(),
		now:       time.Now,
	}
}

// Save records a manual grade, replacing any grade stored for the same
// (assignment, submission) pair.
func (s *gradeService) Save(ctx context.Context, teacherID string, payload dto.GradeUpsertRequest) (dto.GradeResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.GradeResponse{}, err
	}

	var feedback datatypes.JSON
	if len(payload.Feedback) > 0 {
		if !json.Valid(payload.Feedback) {
			return dto.GradeResponse{}, ErrInvalidFeedback
		}
		feedback = datatypes.JSON(payload.Feedback)
	}

	grade := models.Grade{
		AssignmentID: payload.AssignmentID,
		SubmissionID: payload.SubmissionID,
		StudentID:    payload.StudentID,
		TeacherID:    teacherID,
		Grade:        *payload.Grade,
		Runtime:      payload.Runtime,
		Feedback:     feedback,
		GradedAt:     s.now().UTC(),
	}
	if err := s.repo.Upsert(ctx, &grade); err != nil {
		return dto.GradeResponse{}, err
	}

	s.logger.Info().
		Str("assignment_id", grade.AssignmentID).
		Str("submission_id", grade.SubmissionID).
		Str("teacher_id", teacherID).
		Msg("grade saved")

	return dto.NewGradeResponse(grade), nil
}

func (s *gradeService) ListByAssignment(ctx context.Context, assignmentID string) ([]dto.GradeResponse, error) {
	if strings.TrimSpace(assignmentID) == "" {
		return nil, fmt.Errorf("%w: assignment id is required", ErrInvalidIdentifier)
	}

	grades, err := s.repo.ListByAssignment(ctx, assignmentID)
	if err != nil {
		return nil, err
	}
	return dto.NewGradeResponseSlice(grades), nil
}

func (s *gradeService) ListByStudent(ctx context.Context, studentID string) ([]dto.GradeResponse, error) {
	if strings.TrimSpace(studentID) == "" {
		return nil, fmt.Errorf("%w: student id is required", ErrInvalidIdentifier)
	}

	grades, err := s.repo.ListByStudent(ctx, studentID)
	if err != nil {
		return nil, err
	}
	return dto.NewGradeResponseSlice(grades), nil
}
