package service

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"

	"github.com/examtrail/examtrail/internal/config"
	"github.com/examtrail/examtrail/internal/model"
	"github.com/examtrail/examtrail/internal/repository"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ProgressService is the autosave write path and the resume read path.
//
// Writes go to the Redis hot cache plus the persist queue; the AutosaveWorker
// drains the queue into PostgreSQL. Losing one autosave must never interrupt
// an exam, so SaveAnswer reports a success flag instead of returning errors.
type ProgressService struct {
	repo *repository.ProgressRepository
	rdb  *redis.Client
	log  zerolog.Logger
}

// NewProgressService creates a new ProgressService.
func NewProgressService(repo *repository.ProgressRepository, rdb *redis.Client, log zerolog.Logger) *ProgressService {
	return &ProgressService{
		repo: repo,
		rdb:  rdb,
		log:  log.With().Str("component", "progress_service").Logger(),
	}
}

// ProgressPayload is the queue item consumed by the AutosaveWorker.
type ProgressPayload struct {
	ExamineeID       int     `json:"examinee_id"`
	ExamRefNo        string  `json:"exam_ref_no"`
	QuestionID       string  `json:"question_id"`
	SelectedAnswer   *string `json:"selected_answer"`
	RemainingSeconds int     `json:"remaining_seconds"`
}

// SaveAnswer records one answer selection. Best-effort: failures are logged
// with the exam reference and swallowed.
func (s *ProgressService) SaveAnswer(ctx context.Context, examineeID int, req *model.AutosaveRequest) bool {
	answersKey := config.CacheKey.ExamineeAnswersKey(req.ExamRefNo, examineeID)
	remainingKey := config.CacheKey.ExamineeRemainingKey(req.ExamRefNo, examineeID)

	answer := ""
	if req.SelectedAnswer != nil {
		answer = *req.SelectedAnswer
	}

	pipe := s.rdb.Pipeline()
	pipe.HSet(ctx, answersKey, req.QuestionID, answer)
	pipe.Set(ctx, remainingKey, req.RemainingSeconds, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		s.log.Error().Err(err).
			Int("examinee_id", examineeID).
			Str("exam_ref_no", req.ExamRefNo).
			Msg("Autosave cache write failed")
		return false
	}

	payload, err := json.Marshal(ProgressPayload{
		ExamineeID:       examineeID,
		ExamRefNo:        req.ExamRefNo,
		QuestionID:       req.QuestionID,
		SelectedAnswer:   req.SelectedAnswer,
		RemainingSeconds: req.RemainingSeconds,
	})
	if err != nil {
		s.log.Error().Err(err).Str("exam_ref_no", req.ExamRefNo).Msg("Autosave marshal failed")
		return false
	}

	if err := s.rdb.RPush(ctx, config.WorkerKey.PersistProgressQueue, payload).Err(); err != nil {
		s.log.Error().Err(err).
			Int("examinee_id", examineeID).
			Str("exam_ref_no", req.ExamRefNo).
			Msg("Autosave enqueue failed")
		return false
	}

	return true
}

// Fetch recovers the saved answers and latest remaining-seconds for an
// (examinee, exam reference) pair. Empty progress, not an error, when nothing
// was saved. Reads the Redis cache first and falls back to PostgreSQL,
// self-healing the cache on the way back.
func (s *ProgressService) Fetch(ctx context.Context, examineeID int, examRefNo string) (*model.ExamProgress, error) {
	answersKey := config.CacheKey.ExamineeAnswersKey(examRefNo, examineeID)

	cached, err := s.rdb.HGetAll(ctx, answersKey).Result()
	if err != nil {
		return nil, err
	}

	if len(cached) > 0 {
		progress := &model.ExamProgress{Answers: make([]model.SavedAnswer, 0, len(cached))}
		for qid, ans := range cached {
			progress.Answers = append(progress.Answers, model.SavedAnswer{
				QuestionID:     qid,
				SelectedAnswer: ans,
			})
		}
		progress.RemainingSeconds = s.remainingSeconds(ctx, examineeID, examRefNo)
		return progress, nil
	}

	// Cache miss — the device may have been gone long enough for eviction,
	// or the process restarted. PostgreSQL is the source of truth.
	records, err := s.repo.FetchByExamRef(ctx, examineeID, examRefNo)
	if err != nil {
		return nil, err
	}

	progress := &model.ExamProgress{Answers: make([]model.SavedAnswer, 0, len(records))}
	if len(records) == 0 {
		return progress, nil
	}

	pipe := s.rdb.Pipeline()
	latest := records[0]
	for _, rec := range records {
		answer := ""
		if rec.SelectedAnswer != nil {
			answer = *rec.SelectedAnswer
		}
		progress.Answers = append(progress.Answers, model.SavedAnswer{
			QuestionID:     rec.QuestionID.String(),
			SelectedAnswer: answer,
		})
		pipe.HSet(ctx, answersKey, rec.QuestionID.String(), answer)
		if rec.UpdatedAt.After(latest.UpdatedAt) {
			latest = rec
		}
	}
	progress.RemainingSeconds = latest.RemainingSeconds
	pipe.Set(ctx, config.CacheKey.ExamineeRemainingKey(examRefNo, examineeID), latest.RemainingSeconds, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		s.log.Warn().Err(err).Str("exam_ref_no", examRefNo).Msg("Cache self-heal failed")
	}

	return progress, nil
}

// Clear removes all progress for the (examinee, exam reference) pair — both
// the Redis cache and the durable ledger. Rows for other exam references or
// other examinees are untouched.
func (s *ProgressService) Clear(ctx context.Context, examineeID int, examRefNo string) error {
	pipe := s.rdb.Pipeline()
	pipe.Del(ctx, config.CacheKey.ExamineeAnswersKey(examRefNo, examineeID))
	pipe.Del(ctx, config.CacheKey.ExamineeRemainingKey(examRefNo, examineeID))
	if _, err := pipe.Exec(ctx); err != nil {
		s.log.Warn().Err(err).Str("exam_ref_no", examRefNo).Msg("Progress cache clear failed")
	}

	if _, err := s.repo.Clear(ctx, examineeID, examRefNo); err != nil {
		return err
	}
	return nil
}

func (s *ProgressService) remainingSeconds(ctx context.Context, examineeID int, examRefNo string) int {
	val, err := s.rdb.Get(ctx, config.CacheKey.ExamineeRemainingKey(examRefNo, examineeID)).Result()
	if err == nil {
		if n, convErr := strconv.Atoi(val); convErr == nil {
			return n
		}
	} else if !errors.Is(err, redis.Nil) {
		s.log.Warn().Err(err).Str("exam_ref_no", examRefNo).Msg("Remaining-seconds cache read failed")
	}

	remaining, found, err := s.repo.LatestRemainingSeconds(ctx, examineeID, examRefNo)
	if err != nil || !found {
		return 0
	}
	return remaining
}
