package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/examtrail/examtrail/internal/config"
	"github.com/examtrail/examtrail/internal/model"
	"github.com/examtrail/examtrail/internal/repository"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
)

// Domain Errors
var (
	ErrInvalidAccessCode = errors.New("invalid exam access code")
	ErrExamNotAvailable  = errors.New("exam is not available")
	ErrNoQuestions       = errors.New("exam has no questions")
)

// ExamService handles exam definition lookup and Redis caching.
type ExamService struct {
	examRepo     *repository.ExamRepository
	questionRepo *repository.QuestionRepository
	rdb          *redis.Client
	log          zerolog.Logger
}

// NewExamService creates a new ExamService.
func NewExamService(
	examRepo *repository.ExamRepository,
	questionRepo *repository.QuestionRepository,
	rdb *redis.Client,
	log zerolog.Logger,
) *ExamService {
	return &ExamService{
		examRepo:     examRepo,
		questionRepo: questionRepo,
		rdb:          rdb,
		log:          log.With().Str("component", "exam_service").Logger(),
	}
}

// ValidateAccessCode checks an exam access code and returns exam metadata.
// The metadata's exam type tells the device whether the personality phase runs.
func (s *ExamService) ValidateAccessCode(ctx context.Context, code string) (*model.ExamMetadata, error) {
	// Codes are stored bcrypt-hashed, so the lookup compares against every
	// open exam. A venue runs a handful of exams at a time.
	exams, err := s.examRepo.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active exams: %w", err)
	}

	var exam *model.Exam
	for i := range exams {
		if bcrypt.CompareHashAndPassword([]byte(exams[i].AccessCodeHash), []byte(code)) == nil {
			exam = &exams[i]
			break
		}
	}
	if exam == nil {
		return nil, ErrInvalidAccessCode
	}

	now := time.Now()
	if exam.ScheduledStart != nil && now.Before(*exam.ScheduledStart) {
		return nil, ErrExamNotAvailable
	}
	if exam.ScheduledEnd != nil && now.After(*exam.ScheduledEnd) {
		return nil, ErrExamNotAvailable
	}

	return &model.ExamMetadata{
		ExamID:          exam.ID,
		RefNo:           exam.RefNo,
		Title:           exam.Title,
		ExamType:        exam.ExamType,
		DurationMinutes: exam.DurationMinutes,
		QuestionCount:   exam.QuestionCount,
	}, nil
}

// GetByRefNo retrieves an exam definition by reference number.
func (s *ExamService) GetByRefNo(ctx context.Context, refNo string) (*model.Exam, error) {
	return s.examRepo.GetByRefNo(ctx, refNo)
}

// GetPaper retrieves the cached ordered question set for one phase.
func (s *ExamService) GetPaper(ctx context.Context, refNo string, phase model.Phase) (*model.ExamPaper, error) {
	key := config.CacheKey.ExamPayloadKey(refNo, string(phase))
	data, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		// Cache miss — rebuild from PostgreSQL and self-heal.
		exam, dbErr := s.examRepo.GetByRefNo(ctx, refNo)
		if dbErr != nil {
			return nil, fmt.Errorf("exam not found: %w", dbErr)
		}
		if warmErr := s.WarmExamCache(ctx, exam); warmErr != nil {
			return nil, warmErr
		}
		data, err = s.rdb.Get(ctx, key).Bytes()
	}
	if err != nil {
		return nil, fmt.Errorf("get paper: %w", err)
	}

	var paper model.ExamPaper
	if err := json.Unmarshal(data, &paper); err != nil {
		return nil, fmt.Errorf("unmarshal paper: %w", err)
	}
	return &paper, nil
}

// GetScoringQuestions returns the full question set (with correct options and
// categories) for grading. Served from the Redis scoring cache with a
// PostgreSQL fallback.
func (s *ExamService) GetScoringQuestions(ctx context.Context, exam *model.Exam) ([]model.Question, error) {
	key := config.CacheKey.ExamAnswerKey(exam.RefNo)
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var questions []model.Question
		if err := json.Unmarshal(data, &questions); err == nil {
			return questions, nil
		}
		// Corrupt cache entry falls through to the database.
	}

	questions, err := s.questionRepo.ListByExam(ctx, exam.ID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	if len(questions) == 0 {
		return nil, ErrNoQuestions
	}
	return questions, nil
}

// WarmExamCache loads an exam's per-phase papers, scoring questions, and
// duration from PostgreSQL into Redis.
func (s *ExamService) WarmExamCache(ctx context.Context, exam *model.Exam) error {
	questions, err := s.questionRepo.ListByExam(ctx, exam.ID)
	if err != nil {
		return fmt.Errorf("list questions: %w", err)
	}
	if len(questions) == 0 {
		return ErrNoQuestions
	}

	// Build device-facing papers per phase (without correct answers).
	papers := map[model.Phase]*model.ExamPaper{
		model.PhasePersonality: {ExamRefNo: exam.RefNo, Phase: model.PhasePersonality},
		model.PhaseAcademic:    {ExamRefNo: exam.RefNo, Phase: model.PhaseAcademic},
	}
	for _, q := range questions {
		paper := papers[q.Phase]
		paper.Questions = append(paper.Questions, model.QuestionForExaminee{
			ID:           q.ID,
			Phase:        q.Phase,
			Category:     q.Category,
			QuestionText: q.QuestionText,
			Options:      q.Options,
			OrderNum:     q.OrderNum,
		})
	}

	scoringJSON, err := json.Marshal(questions)
	if err != nil {
		return fmt.Errorf("marshal scoring questions: %w", err)
	}

	pipe := s.rdb.Pipeline()
	for phase, paper := range papers {
		paperJSON, err := json.Marshal(paper)
		if err != nil {
			return fmt.Errorf("marshal paper: %w", err)
		}
		pipe.Set(ctx, config.CacheKey.ExamPayloadKey(exam.RefNo, string(phase)), paperJSON, 0)
	}
	pipe.Set(ctx, config.CacheKey.ExamAnswerKey(exam.RefNo), scoringJSON, 0)
	pipe.Set(ctx, config.CacheKey.ExamDurationKey(exam.RefNo), exam.DurationMinutes, 0)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache to redis: %w", err)
	}

	s.log.Debug().
		Str("exam_ref_no", exam.RefNo).
		Int("questions", len(questions)).
		Msg("Cache warmed")
	return nil
}

// PrewarmAllCaches loads all active exams into Redis on application startup.
// This prevents any lazy-loading race conditions under thundering herd traffic.
func (s *ExamService) PrewarmAllCaches(ctx context.Context) error {
	exams, err := s.examRepo.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("list active exams: %w", err)
	}

	if len(exams) == 0 {
		s.log.Info().Msg("No active exams to prewarm")
		return nil
	}

	s.log.Info().Int("count", len(exams)).Msg("Prewarming active exams...")

	warmed := 0
	for i := range exams {
		if err := s.WarmExamCache(ctx, &exams[i]); err != nil {
			s.log.Warn().
				Err(err).
				Str("exam_ref_no", exams[i].RefNo).
				Msg("Failed to warm exam, skipping")
			continue
		}
		warmed++
	}

	s.log.Info().
		Int("warmed", warmed).
		Int("total", len(exams)).
		Msg("Prewarming complete")
	return nil
}
