package model

import (
	"time"

	"github.com/google/uuid"
)

// ProgressRecord is one row of the per-question answer ledger. At most one
// record exists per (examinee, exam reference, question) — enforced by a
// unique index, so concurrent autosaves are last-write-wins.
type ProgressRecord struct {
	ID               int64     `json:"id"`
	ExamineeID       int       `json:"examinee_id"`
	ExamRefNo        string    `json:"exam_ref_no"`
	QuestionID       uuid.UUID `json:"question_id"`
	SelectedAnswer   *string   `json:"selected_answer"`
	RemainingSeconds int       `json:"remaining_seconds"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// SavedAnswer is the wire form of a recovered answer.
type SavedAnswer struct {
	QuestionID     string `json:"question_id"`
	SelectedAnswer string `json:"selected_answer"`
}

// ExamProgress is the full recoverable state for one (examinee, exam) pair.
type ExamProgress struct {
	Answers          []SavedAnswer `json:"answers"`
	RemainingSeconds int           `json:"remaining_seconds"`
}

// AutosaveRequest is the fire-and-forget per-question progress write.
type AutosaveRequest struct {
	ExamRefNo        string  `json:"exam_ref_no" binding:"required,max=40"`
	QuestionID       string  `json:"question_id" binding:"required,uuid"`
	SelectedAnswer   *string `json:"selected_answer"`
	RemainingSeconds int     `json:"remaining_seconds" binding:"min=0"`
}
