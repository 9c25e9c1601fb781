package service

import (
	"context"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-grader/internal/dto"
	"github.com/noah-isme/gema-grader/internal/models"
	"github.com/noah-isme/gema-grader/internal/repository"
)

// AssignmentService exposes assignment domain use cases.
type AssignmentService interface {
	List(ctx context.Context, teacherID string, revealHidden bool) ([]dto.AssignmentResponse, error)
	Get(ctx context.Context, id string, revealHidden bool) (dto.AssignmentResponse, error)
	Create(ctx context.Context, teacherID string, payload dto.AssignmentRequest) (dto.AssignmentResponse, error)
	Update(ctx context.Context, id string, payload dto.AssignmentRequest) (dto.AssignmentResponse, error)
}

type assignmentService struct {
	repo      repository.AssignmentRepository
	validator *validator.Validate
	logger    zerolog.Logger
	now       func() time.Time
}

// NewAssignmentService builds a new assignment service.
func NewAssignmentService(repo repository.AssignmentRepository, validate *validator.Validate, logger zerolog.Logger) AssignmentService {
	return &assignmentService{
		repo:      repo,
		validator: validate,
		logger:    logger.With().Str("component", "assignment_service").Logger(),
		now:       time.Now,
	}
}

func (s *assignmentService) List(ctx context.Context, teacherID string, revealHidden bool) ([]dto.AssignmentResponse, error) {
	assignments, err := s.repo.ListByTeacher(ctx, teacherID)
	if err != nil {
		return nil, err
	}

	return dto.NewAssignmentResponseSlice(assignments, revealHidden), nil
}

func (s *assignmentService) Get(ctx context.Context, id string, revealHidden bool) (dto.AssignmentResponse, error) {
	assignment, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.AssignmentResponse{}, ErrAssignmentNotFound
		}
		return dto.AssignmentResponse{}, err
	}

	return dto.NewAssignmentResponse(assignment, revealHidden), nil
}

func (s *assignmentService) Create(ctx context.Context, teacherID string, payload dto.AssignmentRequest) (dto.AssignmentResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.AssignmentResponse{}, err
	}

	assignment := models.Assignment{
		ID:        uuid.NewString(),
		TeacherID: teacherID,
	}
	applyAssignmentRequest(&assignment, payload)

	if err := s.repo.Create(ctx, &assignment); err != nil {
		return dto.AssignmentResponse{}, err
	}

	s.logger.Info().Str("assignment_id", assignment.ID).Str("teacher_id", teacherID).Msg("assignment created")

	return dto.NewAssignmentResponse(assignment, true), nil
}

// Update replaces the assignment's definition. Existing submissions keep
// the results they were graded with.
func (s *assignmentService) Update(ctx context.Context, id string, payload dto.AssignmentRequest) (dto.AssignmentResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.AssignmentResponse{}, err
	}

	assignment, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.AssignmentResponse{}, ErrAssignmentNotFound
		}
		return dto.AssignmentResponse{}, err
	}

	applyAssignmentRequest(&assignment, payload)
	assignment.UpdatedAt = s.now().UTC()

	if err := s.repo.Update(ctx, &assignment); err != nil {
		return dto.AssignmentResponse{}, err
	}

	s.logger.Info().Str("assignment_id", assignment.ID).Msg("assignment updated")

	return dto.NewAssignmentResponse(assignment, true), nil
}

func applyAssignmentRequest(assignment *models.Assignment, payload dto.AssignmentRequest) {
	languages := make([]models.Language, 0, len(payload.Languages))
	for _, raw := range payload.Languages {
		if language, ok := models.ParseLanguage(raw); ok {
			languages = append(languages, language)
		}
	}

	timeLimit := payload.TimeLimitMs
	if timeLimit <= 0 {
		timeLimit = models.DefaultTimeLimitMs
	}
	memoryLimit := payload.MemoryLimitMB
	if memoryLimit <= 0 {
		memoryLimit = models.DefaultMemoryLimitMB
	}

	assignment.Title = payload.Title
	assignment.Description = payload.Description
	assignment.Languages = languages
	assignment.TimeLimitMs = timeLimit
	assignment.MemoryLimitMB = memoryLimit
	assignment.PublicTestCases = dto.NewTestCases(payload.PublicTestCases, models.VisibilityPublic)
	assignment.HiddenTestCases = dto.NewTestCases(payload.HiddenTestCases, models.VisibilityHidden)
	assignment.DueDate = payload.DueDate
}
