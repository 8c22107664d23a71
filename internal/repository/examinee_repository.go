package repository

import (
	"context"

	"github.com/examtrail/examtrail/internal/model"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ExamineeRepository handles examinee data access.
type ExamineeRepository struct {
	pool *pgxpool.Pool
}

// NewExamineeRepository creates a new ExamineeRepository.
func NewExamineeRepository(pool *pgxpool.Pool) *ExamineeRepository {
	return &ExamineeRepository{pool: pool}
}

// GetByExamineeNo retrieves an examinee by their registration number.
func (r *ExamineeRepository) GetByExamineeNo(ctx context.Context, examineeNo string) (*model.Examinee, error) {
	e := &model.Examinee{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, examinee_no, name, password_hash, created_at, updated_at
		 FROM examinees WHERE examinee_no = $1`, examineeNo,
	).Scan(&e.ID, &e.ExamineeNo, &e.Name, &e.PasswordHash, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return e, nil
}

// GetByID retrieves an examinee by primary key.
func (r *ExamineeRepository) GetByID(ctx context.Context, id int) (*model.Examinee, error) {
	e := &model.Examinee{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, examinee_no, name, password_hash, created_at, updated_at
		 FROM examinees WHERE id = $1`, id,
	).Scan(&e.ID, &e.ExamineeNo, &e.Name, &e.PasswordHash, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return e, nil
}

// ProctorRepository handles proctor data access.
type ProctorRepository struct {
	pool *pgxpool.Pool
}

// NewProctorRepository creates a new ProctorRepository.
func NewProctorRepository(pool *pgxpool.Pool) *ProctorRepository {
	return &ProctorRepository{pool: pool}
}

// Create inserts a new proctor account.
func (r *ProctorRepository) Create(ctx context.Context, p *model.Proctor) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO proctors (name, email, password_hash)
		 VALUES ($1, $2, $3) RETURNING id, created_at`,
		p.Name, p.Email, p.PasswordHash,
	).Scan(&p.ID, &p.CreatedAt)
}

// GetByEmail retrieves a proctor by email.
func (r *ProctorRepository) GetByEmail(ctx context.Context, email string) (*model.Proctor, error) {
	p := &model.Proctor{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, email, password_hash, created_at
		 FROM proctors WHERE email = $1`, email,
	).Scan(&p.ID, &p.Name, &p.Email, &p.PasswordHash, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	return p, nil
}
