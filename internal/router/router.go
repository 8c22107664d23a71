package router

import (
	"net/http"
	"time"

	"github.com/examtrail/examtrail/internal/config"
	"github.com/examtrail/examtrail/internal/handler"
	"github.com/examtrail/examtrail/internal/middleware"
	"github.com/examtrail/examtrail/internal/response"
	"github.com/examtrail/examtrail/internal/service"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// Handlers bundles all HTTP handlers for route registration.
type Handlers struct {
	Auth    *handler.AuthHandler
	Session *handler.SessionHandler
	Monitor *handler.MonitorHandler
}

// New builds the Gin engine with all routes and middleware wired.
func New(cfg *config.Config, h *Handlers, authService *service.AuthService) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(response.RequestIDMiddleware())

	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) == 0 {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	}
	corsConfig.AllowHeaders = append(corsConfig.AllowHeaders, "Authorization")
	r.Use(cors.New(corsConfig))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Login endpoints get a tight per-IP budget to slow credential stuffing.
	loginLimiter := middleware.NewRateLimiter(10, time.Minute)

	api := r.Group("/api/v1")
	{
		auth := api.Group("/auth")
		{
			auth.POST("/examinee/login", loginLimiter.Middleware(), h.Auth.ExamineeLogin)
			auth.POST("/proctor/login", loginLimiter.Middleware(), h.Auth.ProctorLogin)

			examinee := auth.Group("/examinee")
			examinee.Use(middleware.RequireExamineeJWT(authService))
			{
				examinee.POST("/logout", h.Auth.ExamineeLogout)
				examinee.GET("/me", h.Auth.GetExamineeProfile)
			}
		}

		session := api.Group("/session")
		session.Use(
			middleware.RequireExamineeJWT(authService),
			middleware.CheckSingleDeviceSession(authService),
		)
		{
			session.POST("/validate-code", h.Session.ValidateCode)
			session.POST("/progress", h.Session.Autosave)

			exams := session.Group("/exams/:ref_no")
			{
				exams.GET("/questions", h.Session.GetQuestions)
				exams.GET("/progress", h.Session.FetchProgress)
				exams.DELETE("/progress", h.Session.ClearProgress)
				exams.POST("/started", h.Session.NotifyStarted)
				exams.POST("/stopped", h.Session.NotifyStopped)
				exams.POST("/submit", h.Session.Submit)
			}
		}
	}

	ws := r.Group("/ws/v1/proctor")
	ws.Use(middleware.RequireProctorWSAuth(authService))
	{
		ws.GET("/exams/:ref_no/monitor", h.Monitor.Stream)
	}

	return r
}
