package handler

import (
	"errors"
	"net/http"

	"github.com/examtrail/examtrail/internal/middleware"
	"github.com/examtrail/examtrail/internal/model"
	"github.com/examtrail/examtrail/internal/repository"
	"github.com/examtrail/examtrail/internal/response"
	"github.com/examtrail/examtrail/internal/service"
	"github.com/examtrail/examtrail/internal/validator"
	"github.com/gin-gonic/gin"
)

// AuthHandler handles examinee and proctor authentication.
type AuthHandler struct {
	authService  *service.AuthService
	examineeRepo *repository.ExamineeRepository
	proctorRepo  *repository.ProctorRepository
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(
	authService *service.AuthService,
	examineeRepo *repository.ExamineeRepository,
	proctorRepo *repository.ProctorRepository,
) *AuthHandler {
	return &AuthHandler{
		authService:  authService,
		examineeRepo: examineeRepo,
		proctorRepo:  proctorRepo,
	}
}

// ExamineeLogin godoc
// POST /api/v1/auth/examinee/login
func (h *AuthHandler) ExamineeLogin(c *gin.Context) {
	var req model.ExamineeLoginRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	examinee, err := h.examineeRepo.GetByExamineeNo(c.Request.Context(), req.ExamineeNo)
	if err != nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrInvalidCredentials)
		return
	}

	if err := h.authService.CheckPassword(examinee.PasswordHash, req.Password); err != nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrInvalidCredentials)
		return
	}

	token, err := h.authService.GenerateExamineeToken(c.Request.Context(), examinee.ID)
	if err != nil {
		if errors.Is(err, service.ErrSessionAlreadyActive) {
			response.Fail(c, http.StatusConflict, response.ErrSessionActive)
			return
		}
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"token":    token,
		"examinee": examinee,
	})
}

// ExamineeLogout godoc
// POST /api/v1/auth/examinee/logout
func (h *AuthHandler) ExamineeLogout(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	if err := h.authService.ResetExamineeSession(c.Request.Context(), claims.UserID); err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"status": "logged_out"})
}

// GetExamineeProfile godoc
// GET /api/v1/auth/examinee/me
func (h *AuthHandler) GetExamineeProfile(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	examinee, err := h.examineeRepo.GetByID(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"examinee": examinee})
}

// ProctorLogin godoc
// POST /api/v1/auth/proctor/login
func (h *AuthHandler) ProctorLogin(c *gin.Context) {
	var req model.ProctorLoginRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	proctor, err := h.proctorRepo.GetByEmail(c.Request.Context(), req.Email)
	if err != nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrInvalidCredentials)
		return
	}

	if err := h.authService.CheckPassword(proctor.PasswordHash, req.Password); err != nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrInvalidCredentials)
		return
	}

	token, err := h.authService.GenerateProctorToken(proctor.ID)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"token":   token,
		"proctor": proctor,
	})
}
