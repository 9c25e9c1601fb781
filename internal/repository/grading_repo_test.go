package repository

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-grader/internal/models"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.Assignment{},
		&models.Submission{},
		&models.Grade{},
		&models.Student{},
		&models.AssignmentScore{},
	))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	return db
}

func TestAssignmentRepositoryStoresTestCases(t *testing.T) {
	db := setupTestDB(t)
	repo := NewAssignmentRepository(db)
	ctx := context.Background()

	assignment := models.Assignment{
		ID:              "a-1",
		Title:           "Sum",
		TeacherID:       "teacher-1",
		TimeLimitMs:     2000,
		MemoryLimitMB:   128,
		PublicTestCases: []models.TestCase{{Input: "1 2", ExpectedOutput: "3", Visibility: models.VisibilityPublic, Scale: 1}},
		HiddenTestCases: []models.TestCase{{Input: "5 5", ExpectedOutput: "10", Visibility: models.VisibilityHidden, Scale: 10}},
		Languages:       []models.Language{models.LanguagePython, models.LanguageC},
	}
	require.NoError(t, repo.Create(ctx, &assignment))

	stored, err := repo.GetByID(ctx, "a-1")
	require.NoError(t, err)
	require.Equal(t, assignment.PublicTestCases, stored.PublicTestCases)
	require.Equal(t, assignment.HiddenTestCases, stored.HiddenTestCases)
	require.True(t, stored.AllowsLanguage(models.LanguageC))
	require.False(t, stored.AllowsLanguage(models.LanguageJava))

	listed, err := repo.ListByTeacher(ctx, "teacher-1")
	require.NoError(t, err)
	require.Len(t, listed, 1)

	_, err = repo.GetByID(ctx, "missing")
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestSubmissionRepositoryLifecycle(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSubmissionRepository(db)
	ctx := context.Background()

	submission := models.Submission{
		ID:           "s-1",
		AssignmentID: "a-1",
		StudentID:    "student-1",
		Language:     models.LanguagePython,
		Code:         "print(1)",
		Status:       models.SubmissionStatusPending,
	}
	require.NoError(t, repo.Create(ctx, &submission))

	require.NoError(t, repo.MarkProcessing(ctx, "s-1"))
	require.NoError(t, repo.MarkError(ctx, "s-1", "sandbox exploded"))

	stored, err := repo.GetByID(ctx, "s-1")
	require.NoError(t, err)
	require.Equal(t, models.SubmissionStatusError, stored.Status)
	require.Equal(t, "sandbox exploded", stored.Error)
	require.Nil(t, stored.Results)

	results := models.GradingResult{
		Complexity: "O(n)",
		Scores:     models.Scores{Correctness: 6, Efficiency: 2.2, CodeQuality: 1, Total: 9.2},
		Status:     models.GradingResultCompleted,
		GradedAt:   time.Now().UTC(),
	}
	require.NoError(t, repo.MarkGraded(ctx, "s-1", results, 42, 92))

	stored, err = repo.GetByID(ctx, "s-1")
	require.NoError(t, err)
	require.Equal(t, models.SubmissionStatusGraded, stored.Status)
	require.Empty(t, stored.Error)
	require.NotNil(t, stored.Results)
	require.Equal(t, "O(n)", stored.Results.Complexity)
	require.InDelta(t, 92, *stored.Grade, 1e-9)
	require.InDelta(t, 42, stored.Runtime, 1e-9)

	require.ErrorIs(t, repo.MarkProcessing(ctx, "missing"), gorm.ErrRecordNotFound)

	listed, err := repo.List(ctx, SubmissionFilter{StudentID: "student-1"})
	require.NoError(t, err)
	require.Len(t, listed, 1)
}

func TestGradeRepositoryUpsertIsIdempotent(t *testing.T) {
	db := setupTestDB(t)
	repo := NewGradeRepository(db)
	ctx := context.Background()

	first := models.Grade{
		AssignmentID: "a-1",
		SubmissionID: "s-1",
		StudentID:    "student-1",
		Grade:        55,
		Feedback:     datatypes.JSON(`{"correctness":"first"}`),
		GradedAt:     time.Now().UTC(),
	}
	require.NoError(t, repo.Upsert(ctx, &first))
	originalID := first.ID

	second := models.Grade{
		AssignmentID: "a-1",
		SubmissionID: "s-1",
		StudentID:    "student-1",
		Grade:        80,
		Feedback:     datatypes.JSON(`{"correctness":"second"}`),
		GradedAt:     time.Now().UTC(),
	}
	require.NoError(t, repo.Upsert(ctx, &second))
	require.Equal(t, originalID, second.ID)

	var count int64
	require.NoError(t, db.Model(&models.Grade{}).Count(&count).Error)
	require.EqualValues(t, 1, count)

	grades, err := repo.ListByAssignment(ctx, "a-1")
	require.NoError(t, err)
	require.Len(t, grades, 1)
	require.InDelta(t, 80, grades[0].Grade, 1e-9)
	require.JSONEq(t, `{"correctness":"second"}`, string(grades[0].Feedback))

	byStudent, err := repo.ListByStudent(ctx, "student-1")
	require.NoError(t, err)
	require.Len(t, byStudent, 1)
}

func TestLeaderboardRepositoryReplacesPerAssignmentScore(t *testing.T) {
	db := setupTestDB(t)
	repo := NewLeaderboardRepository(db)
	ctx := context.Background()
	student := models.Student{ID: "student-1", Name: "Ana"}

	total, err := repo.ReplaceAssignmentScore(ctx, student, "a-1", 60)
	require.NoError(t, err)
	require.InDelta(t, 60, total, 1e-9)

	total, err = repo.ReplaceAssignmentScore(ctx, student, "a-1", 90)
	require.NoError(t, err)
	require.InDelta(t, 90, total, 1e-9)

	total, err = repo.ReplaceAssignmentScore(ctx, student, "a-2", 40)
	require.NoError(t, err)
	require.InDelta(t, 130, total, 1e-9)

	_, err = repo.ReplaceAssignmentScore(ctx, models.Student{ID: "student-2", Name: "Ben"}, "a-1", 100)
	require.NoError(t, err)

	students, err := repo.ListStudents(ctx)
	require.NoError(t, err)
	require.Len(t, students, 2)
	require.Equal(t, "student-1", students[0].ID)
	require.InDelta(t, 130, students[0].Score, 1e-9)
	require.Equal(t, "Ana", students[0].Name)

	scores, err := repo.ListAssignmentScores(ctx)
	require.NoError(t, err)
	require.Len(t, scores, 3)
}

func TestSubmissionRepositoryMarkErrorDropsPartialResults(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSubmissionRepository(db)
	ctx := context.Background()

	submission := models.Submission{
		ID:           "s-1",
		AssignmentID: "a-1",
		StudentID:    "student-1",
		Language:     models.LanguagePython,
		Code:         "print(1)",
		Status:       models.SubmissionStatusProcessing,
	}
	require.NoError(t, repo.Create(ctx, &submission))
	require.NoError(t, repo.MarkGraded(ctx, "s-1", models.GradingResult{Complexity: "O(1)", Status: models.GradingResultCompleted}, 12, 70))

	require.NoError(t, repo.MarkError(ctx, "s-1", "update leaderboard: connection refused"))

	stored, err := repo.GetByID(ctx, "s-1")
	require.NoError(t, err)
	require.Equal(t, models.SubmissionStatusError, stored.Status)
	require.Equal(t, "update leaderboard: connection refused", stored.Error)
	require.Nil(t, stored.Results)
	require.Nil(t, stored.Grade)
	require.Zero(t, stored.Runtime)
}

func TestGradeRepositoryDelete(t *testing.T) {
	db := setupTestDB(t)
	repo := NewGradeRepository(db)
	ctx := context.Background()

	for _, submissionID := range []string{"s-1", "s-2"} {
		grade := models.Grade{AssignmentID: "a-1", SubmissionID: submissionID, StudentID: "student-1", Grade: 60, GradedAt: time.Now().UTC()}
		require.NoError(t, repo.Upsert(ctx, &grade))
	}

	require.NoError(t, repo.Delete(ctx, "a-1", "s-1"))
	require.NoError(t, repo.Delete(ctx, "a-1", "missing"))

	grades, err := repo.ListByAssignment(ctx, "a-1")
	require.NoError(t, err)
	require.Len(t, grades, 1)
	require.Equal(t, "s-2", grades[0].SubmissionID)
}
