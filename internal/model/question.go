package model

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Phase identifies which question set a question belongs to.
type Phase string

const (
	PhasePersonality Phase = "PERSONALITY"
	PhaseAcademic    Phase = "ACADEMIC"
)

// Question represents a single exam question with its answer key.
type Question struct {
	ID            uuid.UUID       `json:"id"`
	ExamID        uuid.UUID       `json:"exam_id"`
	Phase         Phase           `json:"phase"`
	Category      string          `json:"category"`
	QuestionText  string          `json:"question_text"`
	Options       json.RawMessage `json:"options"`
	CorrectOption string          `json:"correct_option"`
	OrderNum      int             `json:"order_num"`
}

// QuestionForExaminee is a question without the correct answer, sent to devices.
type QuestionForExaminee struct {
	ID           uuid.UUID       `json:"id"`
	Phase        Phase           `json:"phase"`
	Category     string          `json:"category"`
	QuestionText string          `json:"question_text"`
	Options      json.RawMessage `json:"options"`
	OrderNum     int             `json:"order_num"`
}

// ExamPaper is the Redis-cached ordered question set for one phase.
type ExamPaper struct {
	ExamRefNo string                `json:"exam_ref_no"`
	Phase     Phase                 `json:"phase"`
	Questions []QuestionForExaminee `json:"questions"`
}
