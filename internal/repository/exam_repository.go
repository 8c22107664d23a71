package repository

import (
	"context"

	"github.com/examtrail/examtrail/internal/model"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ExamRepository handles exam definition data access.
type ExamRepository struct {
	pool *pgxpool.Pool
}

// NewExamRepository creates a new ExamRepository.
func NewExamRepository(pool *pgxpool.Pool) *ExamRepository {
	return &ExamRepository{pool: pool}
}

const examColumns = `id, title, exam_ref_no, access_code_hash, exam_type, duration_minutes,
	 passing_threshold, question_count, scheduled_start, scheduled_end, status,
	 created_at, updated_at`

func scanExam(row interface{ Scan(...any) error }) (*model.Exam, error) {
	e := &model.Exam{}
	err := row.Scan(
		&e.ID, &e.Title, &e.RefNo, &e.AccessCodeHash, &e.ExamType, &e.DurationMinutes,
		&e.PassingThreshold, &e.QuestionCount, &e.ScheduledStart, &e.ScheduledEnd,
		&e.Status, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return e, nil
}

// GetByRefNo retrieves an exam by its external reference number.
func (r *ExamRepository) GetByRefNo(ctx context.Context, refNo string) (*model.Exam, error) {
	return scanExam(r.pool.QueryRow(ctx,
		`SELECT `+examColumns+` FROM exams WHERE exam_ref_no = $1`, refNo))
}

// ListActive retrieves all exams currently open to examinees.
func (r *ExamRepository) ListActive(ctx context.Context) ([]model.Exam, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+examColumns+` FROM exams WHERE status IN ($1, $2) ORDER BY created_at DESC`,
		model.ExamStatusPublished, model.ExamStatusInProgress,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var exams []model.Exam
	for rows.Next() {
		e, err := scanExam(rows)
		if err != nil {
			return nil, err
		}
		exams = append(exams, *e)
	}
	return exams, rows.Err()
}
