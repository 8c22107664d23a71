package repository

import (
	"context"
	"errors"
	"time"

	"github.com/examtrail/examtrail/internal/model"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ProgressRepository handles the durable per-question answer ledger.
// The unique index on (examinee_id, exam_ref_no, question_id) is the sole
// correctness mechanism under concurrent autosaves.
type ProgressRepository struct {
	pool *pgxpool.Pool
}

// NewProgressRepository creates a new ProgressRepository.
func NewProgressRepository(pool *pgxpool.Pool) *ProgressRepository {
	return &ProgressRepository{pool: pool}
}

// Upsert creates or updates the record for one question. Last write wins.
func (r *ProgressRepository) Upsert(ctx context.Context, examineeID int, examRefNo string, questionID uuid.UUID, selectedAnswer *string, remainingSeconds int) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO progress_records (examinee_id, exam_ref_no, question_id, selected_answer, remaining_seconds)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (examinee_id, exam_ref_no, question_id) DO UPDATE
		 SET selected_answer = EXCLUDED.selected_answer,
		     remaining_seconds = EXCLUDED.remaining_seconds,
		     updated_at = NOW()`,
		examineeID, examRefNo, questionID, selectedAnswer, remainingSeconds,
	)
	return err
}

// FetchByExamRef returns all saved answers for the (examinee, exam reference)
// pair. An empty slice, not an error, when nothing has been saved.
func (r *ProgressRepository) FetchByExamRef(ctx context.Context, examineeID int, examRefNo string) ([]model.ProgressRecord, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, examinee_id, exam_ref_no, question_id, selected_answer, remaining_seconds, updated_at
		 FROM progress_records
		 WHERE examinee_id = $1 AND exam_ref_no = $2
		 ORDER BY updated_at`, examineeID, examRefNo,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []model.ProgressRecord
	for rows.Next() {
		var rec model.ProgressRecord
		if err := rows.Scan(&rec.ID, &rec.ExamineeID, &rec.ExamRefNo, &rec.QuestionID,
			&rec.SelectedAnswer, &rec.RemainingSeconds, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// LatestRemainingSeconds returns the remaining-seconds of the most recently
// written record. Remaining time only decreases within a session, so the
// latest write is authoritative. Returns (0, false) when no records exist.
func (r *ProgressRepository) LatestRemainingSeconds(ctx context.Context, examineeID int, examRefNo string) (int, bool, error) {
	var remaining int
	err := r.pool.QueryRow(ctx,
		`SELECT remaining_seconds FROM progress_records
		 WHERE examinee_id = $1 AND exam_ref_no = $2
		 ORDER BY updated_at DESC, remaining_seconds ASC
		 LIMIT 1`, examineeID, examRefNo,
	).Scan(&remaining)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return remaining, true, nil
}

// Clear deletes all records for the (examinee, exam reference) pair only.
func (r *ProgressRepository) Clear(ctx context.Context, examineeID int, examRefNo string) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM progress_records WHERE examinee_id = $1 AND exam_ref_no = $2`,
		examineeID, examRefNo,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ClearAll wipes the whole ledger. Used by the daily sweep.
func (r *ProgressRepository) ClearAll(ctx context.Context) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM progress_records`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ClearOlderThan removes records whose last write is older than the cutoff.
func (r *ProgressRepository) ClearOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM progress_records WHERE updated_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
