package model

import (
	"time"

	"github.com/google/uuid"
)

// CategoryScore is the per-category correct/total aggregation.
type CategoryScore struct {
	Correct int `json:"correct"`
	Total   int `json:"total"`
}

// Remarks values derived from score against the exam's passing threshold.
const (
	RemarksPass = "Pass"
	RemarksFail = "Fail"
)

// ExamResult is one completed attempt. Created exactly once per
// (examinee, exam reference); immutable afterwards except the archived flag.
type ExamResult struct {
	ID                uuid.UUID                `json:"id"`
	ExamineeID        int                      `json:"examinee_id"`
	ExamRefNo         string                   `json:"exam_ref_no"`
	ExamID            uuid.UUID                `json:"exam_id"`
	TotalItems        int                      `json:"total_items"`
	CorrectItems      int                      `json:"correct_items"`
	ScorePercentage   float64                  `json:"score_percentage"`
	CategoryBreakdown map[string]CategoryScore `json:"category_breakdown"`
	Remarks           string                   `json:"remarks"`
	StartedAt         time.Time                `json:"started_at"`
	FinishedAt        time.Time                `json:"finished_at"`
	ElapsedSeconds    int                      `json:"elapsed_seconds"`
	Archived          bool                     `json:"archived"`
}

// SubmittedAnswer is one answer in the final submission payload.
type SubmittedAnswer struct {
	QuestionID     string `json:"question_id" binding:"required,uuid"`
	SelectedAnswer string `json:"selected_answer" binding:"required,max=10"`
	Phase          Phase  `json:"phase" binding:"required,oneof=PERSONALITY ACADEMIC"`
}

// SubmitRequest is the final submission payload for an exam reference.
type SubmitRequest struct {
	Answers  []SubmittedAnswer `json:"answers" binding:"dive"`
	ExamType ExamType          `json:"exam_type" binding:"required,oneof=ACADEMIC_ONLY WITH_PERSONALITY"`
}

// SubmitResponse wraps the result with the duplicate-submission marker.
type SubmitResponse struct {
	Result           *ExamResult `json:"result"`
	AlreadySubmitted bool        `json:"already_submitted"`
}
