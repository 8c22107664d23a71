package handler

import (
	"errors"
	"net/http"

	"github.com/examtrail/examtrail/internal/middleware"
	"github.com/examtrail/examtrail/internal/model"
	"github.com/examtrail/examtrail/internal/response"
	"github.com/examtrail/examtrail/internal/service"
	"github.com/examtrail/examtrail/internal/validator"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// SessionHandler handles the examinee exam session flow: access code
// validation, question delivery, autosave, progress recovery, lifecycle
// notifications, and final submission.
type SessionHandler struct {
	examService     *service.ExamService
	progressService *service.ProgressService
	scoringService  *service.ScoringService
	monitorService  *service.MonitorService
	log             zerolog.Logger
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(
	examService *service.ExamService,
	progressService *service.ProgressService,
	scoringService *service.ScoringService,
	monitorService *service.MonitorService,
	log zerolog.Logger,
) *SessionHandler {
	return &SessionHandler{
		examService:     examService,
		progressService: progressService,
		scoringService:  scoringService,
		monitorService:  monitorService,
		log:             log.With().Str("component", "session_handler").Logger(),
	}
}

// ValidateCode godoc
// POST /api/v1/session/validate-code
func (h *SessionHandler) ValidateCode(c *gin.Context) {
	var req model.ValidateCodeRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	meta, err := h.examService.ValidateAccessCode(c.Request.Context(), req.ExamCode)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidAccessCode):
			response.Fail(c, http.StatusUnauthorized, response.ErrInvalidExamCode)
		case errors.Is(err, service.ErrExamNotAvailable):
			response.Fail(c, http.StatusForbidden, response.ErrExamNotAvailable)
		default:
			response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		}
		return
	}

	response.Success(c, http.StatusOK, gin.H{"exam": meta})
}

// GetQuestions godoc
// GET /api/v1/session/exams/:ref_no/questions?phase=ACADEMIC
func (h *SessionHandler) GetQuestions(c *gin.Context) {
	refNo := c.Param("ref_no")

	phase := model.Phase(c.DefaultQuery("phase", string(model.PhaseAcademic)))
	if phase != model.PhasePersonality && phase != model.PhaseAcademic {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidPayload)
		return
	}

	paper, err := h.examService.GetPaper(c.Request.Context(), refNo, phase)
	if err != nil {
		if errors.Is(err, service.ErrNoQuestions) {
			response.Fail(c, http.StatusNotFound, response.ErrNoQuestions)
			return
		}
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"paper": paper})
}

// Autosave godoc
// POST /api/v1/session/progress
//
// Fire-and-forget from the device's perspective: the handler acknowledges
// with a saved flag either way, and a false flag never carries an error body.
func (h *SessionHandler) Autosave(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var req model.AutosaveRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	saved := h.progressService.SaveAnswer(c.Request.Context(), claims.UserID, &req)
	response.Success(c, http.StatusOK, gin.H{"saved": saved})
}

// FetchProgress godoc
// GET /api/v1/session/exams/:ref_no/progress
func (h *SessionHandler) FetchProgress(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	progress, err := h.progressService.Fetch(c.Request.Context(), claims.UserID, c.Param("ref_no"))
	if err != nil {
		h.log.Error().Err(err).
			Int("examinee_id", claims.UserID).
			Str("exam_ref_no", c.Param("ref_no")).
			Msg("Progress fetch failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"progress": progress})
}

// ClearProgress godoc
// DELETE /api/v1/session/exams/:ref_no/progress
func (h *SessionHandler) ClearProgress(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	if err := h.progressService.Clear(c.Request.Context(), claims.UserID, c.Param("ref_no")); err != nil {
		h.log.Error().Err(err).
			Int("examinee_id", claims.UserID).
			Str("exam_ref_no", c.Param("ref_no")).
			Msg("Progress clear failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"cleared": true})
}

// NotifyStarted godoc
// POST /api/v1/session/exams/:ref_no/started
func (h *SessionHandler) NotifyStarted(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var req model.StartedRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	h.monitorService.PublishStarted(c.Request.Context(), c.Param("ref_no"), claims.UserID, req.Phase)
	response.Success(c, http.StatusOK, gin.H{"acknowledged": true})
}

// NotifyStopped godoc
// POST /api/v1/session/exams/:ref_no/stopped
func (h *SessionHandler) NotifyStopped(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	h.monitorService.PublishStopped(c.Request.Context(), c.Param("ref_no"), claims.UserID)
	response.Success(c, http.StatusOK, gin.H{"acknowledged": true})
}

// Submit godoc
// POST /api/v1/session/exams/:ref_no/submit
func (h *SessionHandler) Submit(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var req model.SubmitRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	result, already, err := h.scoringService.Submit(c.Request.Context(), claims.UserID, c.Param("ref_no"), &req)
	if err != nil {
		if errors.Is(err, service.ErrNoQuestions) {
			response.Fail(c, http.StatusConflict, response.ErrNoQuestions)
			return
		}
		h.log.Error().Err(err).
			Int("examinee_id", claims.UserID).
			Str("exam_ref_no", c.Param("ref_no")).
			Msg("Submission failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	status := http.StatusCreated
	if already {
		status = http.StatusOK
	}
	response.Success(c, status, model.SubmitResponse{
		Result:           result,
		AlreadySubmitted: already,
	})
}
