package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/examtrail/examtrail/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ResultRepository handles exam result data access. The unique index on
// (examinee_id, exam_ref_no) guarantees a single result row per attempt.
type ResultRepository struct {
	pool *pgxpool.Pool
}

// NewResultRepository creates a new ResultRepository.
func NewResultRepository(pool *pgxpool.Pool) *ResultRepository {
	return &ResultRepository{pool: pool}
}

// Create inserts a result row. Returns (false, nil) without modifying the row
// when a result for the (examinee, exam reference) pair already exists.
func (r *ResultRepository) Create(ctx context.Context, res *model.ExamResult) (bool, error) {
	breakdown, err := json.Marshal(res.CategoryBreakdown)
	if err != nil {
		return false, fmt.Errorf("marshal breakdown: %w", err)
	}

	err = r.pool.QueryRow(ctx,
		`INSERT INTO exam_results
		 (examinee_id, exam_ref_no, exam_id, total_items, correct_items, score_percentage,
		  category_breakdown, remarks, started_at, finished_at, elapsed_seconds)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (examinee_id, exam_ref_no) DO NOTHING
		 RETURNING id`,
		res.ExamineeID, res.ExamRefNo, res.ExamID, res.TotalItems, res.CorrectItems,
		res.ScorePercentage, breakdown, res.Remarks, res.StartedAt, res.FinishedAt,
		res.ElapsedSeconds,
	).Scan(&res.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		// Conflict — a concurrent or earlier submission won.
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// GetByExamineeAndRef retrieves the stored result for an attempt.
func (r *ResultRepository) GetByExamineeAndRef(ctx context.Context, examineeID int, examRefNo string) (*model.ExamResult, error) {
	res := &model.ExamResult{}
	var breakdown []byte
	err := r.pool.QueryRow(ctx,
		`SELECT id, examinee_id, exam_ref_no, exam_id, total_items, correct_items,
		        score_percentage, category_breakdown, remarks, started_at, finished_at,
		        elapsed_seconds, archived
		 FROM exam_results
		 WHERE examinee_id = $1 AND exam_ref_no = $2`, examineeID, examRefNo,
	).Scan(&res.ID, &res.ExamineeID, &res.ExamRefNo, &res.ExamID, &res.TotalItems,
		&res.CorrectItems, &res.ScorePercentage, &breakdown, &res.Remarks,
		&res.StartedAt, &res.FinishedAt, &res.ElapsedSeconds, &res.Archived)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(breakdown, &res.CategoryBreakdown); err != nil {
		return nil, fmt.Errorf("unmarshal breakdown: %w", err)
	}
	return res, nil
}
