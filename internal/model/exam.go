package model

import (
	"time"

	"github.com/google/uuid"
)

// ExamStatus enumerates the possible states of an exam.
type ExamStatus string

const (
	ExamStatusDraft      ExamStatus = "DRAFT"
	ExamStatusPublished  ExamStatus = "PUBLISHED"
	ExamStatusInProgress ExamStatus = "IN_PROGRESS"
	ExamStatusCompleted  ExamStatus = "COMPLETED"
	ExamStatusArchived   ExamStatus = "ARCHIVED"
)

// ExamType determines whether an exam includes the personality inventory phase.
type ExamType string

const (
	ExamTypeAcademicOnly    ExamType = "ACADEMIC_ONLY"
	ExamTypeWithPersonality ExamType = "WITH_PERSONALITY"
)

// Exam represents an exam definition shared by all examinees taking it.
type Exam struct {
	ID               uuid.UUID  `json:"id"`
	Title            string     `json:"title"`
	RefNo            string     `json:"exam_ref_no"`
	AccessCodeHash   string     `json:"-"`
	ExamType         ExamType   `json:"exam_type"`
	DurationMinutes  int        `json:"duration_minutes"`
	PassingThreshold float64    `json:"passing_threshold"`
	QuestionCount    int        `json:"question_count"`
	ScheduledStart   *time.Time `json:"scheduled_start,omitempty"`
	ScheduledEnd     *time.Time `json:"scheduled_end,omitempty"`
	Status           ExamStatus `json:"status"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// ExamMetadata is returned to the device after successful code validation.
type ExamMetadata struct {
	ExamID          uuid.UUID `json:"exam_id"`
	RefNo           string    `json:"exam_ref_no"`
	Title           string    `json:"title"`
	ExamType        ExamType  `json:"exam_type"`
	DurationMinutes int       `json:"duration_minutes"`
	QuestionCount   int       `json:"question_count"`
}

// ValidateCodeRequest is the payload for exam access code validation.
type ValidateCodeRequest struct {
	ExamCode string `json:"exam_code" binding:"required,min=4,max=20"`
}

// StartedRequest is the best-effort phase notification payload.
type StartedRequest struct {
	ExamType ExamType `json:"exam_type" binding:"required,oneof=ACADEMIC_ONLY WITH_PERSONALITY"`
	Phase    Phase    `json:"phase" binding:"required,oneof=PERSONALITY ACADEMIC"`
}
