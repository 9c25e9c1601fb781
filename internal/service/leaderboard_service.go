package service

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/gema-grader/internal/dto"
	"github.com/noah-isme/gema-grader/internal/models"
	"github.com/noah-isme/gema-grader/internal/repository"
)

const leaderboardCacheKey = "gema:leaderboard"

// LeaderboardService ranks students by their summed assignment scores.
type LeaderboardService interface {
	Get(ctx context.Context) (dto.LeaderboardResponse, error)
}

type leaderboardService struct {
	repo     repository.LeaderboardRepository
	cache    *redis.Client
	cacheTTL time.Duration
	logger   zerolog.Logger
	tracer   trace.Tracer
}

// NewLeaderboardService constructs the leaderboard service. cache may be nil.
// Cached boards are not invalidated on regrade; they expire after ttl.
func NewLeaderboardService(repo repository.LeaderboardRepository, cache *redis.Client, ttl time.Duration, logger zerolog.Logger) LeaderboardService {
	return &leaderboardService{
		repo:     repo,
		cache:    cache,
		cacheTTL: ttl,
		logger:   logger.With().Str("component", "leaderboard_service").Logger(),
		tracer:   otel.Tracer("github.com/noah-isme/gema-grader/internal/service/leaderboard"),
	}
}

func (s *leaderboardService) Get(ctx context.Context) (dto.LeaderboardResponse, error) {
	ctx, span := s.tracer.Start(ctx, "leaderboard.get")
	span.SetAttributes(attribute.String("leaderboard.cache_key", leaderboardCacheKey))
	defer span.End()

	if s.cache != nil && s.cacheTTL > 0 {
		cached, err := s.cache.Get(ctx, leaderboardCacheKey).Result()
		if err == nil {
			var response dto.LeaderboardResponse
			if unmarshalErr := json.Unmarshal([]byte(cached), &response); unmarshalErr == nil {
				response.CacheHit = true
				span.SetAttributes(attribute.Bool("leaderboard.cache_hit", true))
				return response, nil
			}
		} else if !errors.Is(err, redis.Nil) {
			s.logger.Warn().Err(err).Msg("failed to read leaderboard cache")
			span.RecordError(err)
		}
	}

	students, err := s.repo.ListStudents(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list_students_failed")
		return dto.LeaderboardResponse{}, err
	}

	scores, err := s.repo.ListAssignmentScores(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list_assignment_scores_failed")
		return dto.LeaderboardResponse{}, err
	}

	response := buildLeaderboard(students, scores)
	span.SetAttributes(attribute.Int("leaderboard.students", len(students)))

	if s.cache != nil && s.cacheTTL > 0 {
		payload, err := json.Marshal(response)
		if err == nil {
			if err := s.cache.Set(ctx, leaderboardCacheKey, payload, s.cacheTTL).Err(); err != nil {
				s.logger.Warn().Err(err).Msg("failed to store leaderboard cache")
				span.RecordError(err)
			}
		}
	}

	return response, nil
}

// buildLeaderboard expects students ordered by score descending. Students
// with equal scores share a rank.
func buildLeaderboard(students []models.Student, scores []models.AssignmentScore) dto.LeaderboardResponse {
	perStudent := make(map[string]map[string]float64, len(students))
	for _, score := range scores {
		if perStudent[score.StudentID] == nil {
			perStudent[score.StudentID] = make(map[string]float64)
		}
		perStudent[score.StudentID][score.AssignmentID] = score.Score
	}

	entries := make([]dto.LeaderboardEntry, 0, len(students))
	var sum, top float64
	rank := 0
	for i, student := range students {
		if i == 0 || student.Score != students[i-1].Score {
			rank = i + 1
		}

		assignmentScores := perStudent[student.ID]
		if assignmentScores == nil {
			assignmentScores = map[string]float64{}
		}

		entries = append(entries, dto.LeaderboardEntry{
			Rank:             rank,
			StudentID:        student.ID,
			Name:             student.Name,
			Score:            student.Score,
			AssignmentScores: assignmentScores,
		})

		sum += student.Score
		if i == 0 || student.Score > top {
			top = student.Score
		}
	}

	stats := dto.LeaderboardStatistics{TotalStudents: len(students), TopScore: top}
	if len(students) > 0 {
		stats.AverageScore = math.Round(sum / float64(len(students)))
	}

	return dto.LeaderboardResponse{Entries: entries, Statistics: stats}
}
