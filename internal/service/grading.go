package service

import (
	"math"

	"github.com/examtrail/examtrail/internal/model"
)

// GradeSummary is the outcome of grading one submitted answer set.
type GradeSummary struct {
	TotalItems        int
	CorrectItems      int
	ScorePercentage   float64
	CategoryBreakdown map[string]model.CategoryScore
	Remarks           string
}

// Grade computes correctness for a submitted answer set against the exam's
// question list. Only academic-phase questions count toward the score;
// personality items are recorded with the submission but carry no correct
// answer. Remarks derive from the score against the passing threshold.
func Grade(questions []model.Question, answers map[string]string, passingThreshold float64) GradeSummary {
	summary := GradeSummary{
		CategoryBreakdown: make(map[string]model.CategoryScore),
	}

	for _, q := range questions {
		if q.Phase != model.PhaseAcademic {
			continue
		}

		summary.TotalItems++
		cat := summary.CategoryBreakdown[q.Category]
		cat.Total++

		if selected, ok := answers[q.ID.String()]; ok && selected == q.CorrectOption {
			summary.CorrectItems++
			cat.Correct++
		}
		summary.CategoryBreakdown[q.Category] = cat
	}

	if summary.TotalItems > 0 {
		pct := (float64(summary.CorrectItems) / float64(summary.TotalItems)) * 100
		summary.ScorePercentage = math.Round(pct*100) / 100
	}

	if summary.ScorePercentage >= passingThreshold {
		summary.Remarks = model.RemarksPass
	} else {
		summary.Remarks = model.RemarksFail
	}

	return summary
}
