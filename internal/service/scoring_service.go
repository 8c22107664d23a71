package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/examtrail/examtrail/internal/config"
	"github.com/examtrail/examtrail/internal/model"
	"github.com/examtrail/examtrail/internal/repository"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ScoringService consumes final answer sets, computes results, and clears the
// progress ledger. Submission is idempotent at session granularity: the
// unique (examinee, exam reference) constraint on exam_results plus a
// pre-check make resubmission return the prior result, never a duplicate row.
type ScoringService struct {
	examService     *ExamService
	resultRepo      *repository.ResultRepository
	progressService *ProgressService
	monitorService  *MonitorService
	rdb             *redis.Client
	log             zerolog.Logger
}

// NewScoringService creates a new ScoringService.
func NewScoringService(
	examService *ExamService,
	resultRepo *repository.ResultRepository,
	progressService *ProgressService,
	monitorService *MonitorService,
	rdb *redis.Client,
	log zerolog.Logger,
) *ScoringService {
	return &ScoringService{
		examService:     examService,
		resultRepo:      resultRepo,
		progressService: progressService,
		monitorService:  monitorService,
		rdb:             rdb,
		log:             log.With().Str("component", "scoring_service").Logger(),
	}
}

// Submit grades the answer set and persists exactly one result for the
// (examinee, exam reference) pair. Returns the result and a flag indicating
// whether it came from an earlier submission.
func (s *ScoringService) Submit(ctx context.Context, examineeID int, examRefNo string, req *model.SubmitRequest) (*model.ExamResult, bool, error) {
	// Fast path: already completed — hand back the stored result.
	existing, err := s.resultRepo.GetByExamineeAndRef(ctx, examineeID, examRefNo)
	if err == nil {
		return existing, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("check existing result: %w", err)
	}

	exam, err := s.examService.GetByRefNo(ctx, examRefNo)
	if err != nil {
		return nil, false, fmt.Errorf("get exam: %w", err)
	}

	questions, err := s.examService.GetScoringQuestions(ctx, exam)
	if err != nil {
		return nil, false, err
	}

	answers := make(map[string]string, len(req.Answers))
	for _, a := range req.Answers {
		answers[a.QuestionID] = a.SelectedAnswer
	}

	summary := Grade(questions, answers, exam.PassingThreshold)

	finishedAt := time.Now()
	startedAt := s.sessionStart(ctx, examineeID, examRefNo, finishedAt)

	result := &model.ExamResult{
		ExamineeID:        examineeID,
		ExamRefNo:         examRefNo,
		ExamID:            exam.ID,
		TotalItems:        summary.TotalItems,
		CorrectItems:      summary.CorrectItems,
		ScorePercentage:   summary.ScorePercentage,
		CategoryBreakdown: summary.CategoryBreakdown,
		Remarks:           summary.Remarks,
		StartedAt:         startedAt,
		FinishedAt:        finishedAt,
		ElapsedSeconds:    int(finishedAt.Sub(startedAt).Seconds()),
	}

	created, err := s.resultRepo.Create(ctx, result)
	if err != nil {
		return nil, false, fmt.Errorf("persist result: %w", err)
	}
	if !created {
		// A concurrent submission won the insert race.
		prior, fetchErr := s.resultRepo.GetByExamineeAndRef(ctx, examineeID, examRefNo)
		if fetchErr != nil {
			return nil, false, fmt.Errorf("duplicate detected, fetch prior failed: %w", fetchErr)
		}
		return prior, true, nil
	}

	// The attempt is durable — progress for this pair is no longer needed.
	if err := s.progressService.Clear(ctx, examineeID, examRefNo); err != nil {
		s.log.Warn().Err(err).
			Int("examinee_id", examineeID).
			Str("exam_ref_no", examRefNo).
			Msg("Progress clear after submit failed")
	}
	s.rdb.Del(ctx, config.CacheKey.ExamineeStartedKey(examRefNo, examineeID))

	s.monitorService.PublishSubmitted(ctx, examRefNo, examineeID, result.ScorePercentage)

	s.log.Info().
		Int("examinee_id", examineeID).
		Str("exam_ref_no", examRefNo).
		Float64("score", result.ScorePercentage).
		Str("remarks", result.Remarks).
		Msg("Exam submitted and scored")

	return result, false, nil
}

// sessionStart reads the start timestamp recorded by the started-notify.
// Falls back to the finish time when no start was observed (result rows are
// still written; elapsed is simply zero).
func (s *ScoringService) sessionStart(ctx context.Context, examineeID int, examRefNo string, fallback time.Time) time.Time {
	val, err := s.rdb.Get(ctx, config.CacheKey.ExamineeStartedKey(examRefNo, examineeID)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.log.Warn().Err(err).Str("exam_ref_no", examRefNo).Msg("Session start read failed")
		}
		return fallback
	}
	unix, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return fallback
	}
	return time.Unix(unix, 0)
}
