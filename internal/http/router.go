package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"vcopcoach/internal/auth"
	httpH "vcopcoach/internal/http/handlers"
	httpMW "vcopcoach/internal/http/middleware"
	"vcopcoach/internal/http/response"
	"vcopcoach/internal/logger"
)

type RouterConfig struct {
	Log         *logger.Logger
	CORSOrigins []string
	Auth        *auth.Authenticator

	AnalyzeHandler    *httpH.AnalyzeHandler
	ProfileHandler    *httpH.ProfileHandler
	GradingHandler    *httpH.GradingHandler
	AuthHandler       *httpH.AuthHandler
	SessionHandler    *httpH.SessionHandler
	SubmissionHandler *httpH.SubmissionHandler
	HealthHandler     *httpH.HealthHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Recovery())
	r.Use(httpMW.RequestLogger(cfg.Log))
	if len(cfg.CORSOrigins) > 0 {
		r.Use(httpMW.CORS(cfg.CORSOrigins))
	}
	r.NoMethod(func(c *gin.Context) {
		response.RespondError(c, http.StatusMethodNotAllowed, "Method not allowed")
	})
	r.NoRoute(func(c *gin.Context) {
		response.RespondError(c, http.StatusNotFound, "Not found")
	})

	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	}

	api := r.Group("/api")
	{
		if cfg.AnalyzeHandler != nil {
			api.POST("/analyze", cfg.AnalyzeHandler.Analyze)
		}
		if cfg.ProfileHandler != nil {
			api.POST("/update-profile", cfg.ProfileHandler.UpdateProfile)
		}
		if cfg.GradingHandler != nil {
			api.POST("/grade", cfg.GradingHandler.Grade)
			api.POST("/grammar-check", cfg.GradingHandler.GrammarCheck)
		}
		if cfg.AuthHandler != nil {
			api.POST("/auth", cfg.AuthHandler.Login)
		}
		if cfg.SessionHandler != nil {
			api.GET("/sessions/active", cfg.SessionHandler.Active)
		}
		if cfg.SubmissionHandler != nil {
			api.GET("/submissions/:id", cfg.SubmissionHandler.Get)
		}
	}

	teacher := api.Group("/")
	{
		if cfg.Auth != nil {
			teacher.Use(cfg.Auth.RequireTeacher())
		}
		if cfg.AuthHandler != nil {
			teacher.GET("/students", cfg.AuthHandler.ListStudents)
			teacher.POST("/students", cfg.AuthHandler.CreateStudent)
			teacher.DELETE("/students", cfg.AuthHandler.DeleteStudent)
		}
		if cfg.SessionHandler != nil {
			teacher.POST("/sessions", cfg.SessionHandler.Create)
		}
		if cfg.SubmissionHandler != nil {
			teacher.GET("/students/:id/submissions", cfg.SubmissionHandler.ListByStudent)
			teacher.POST("/submissions/:id/comment", cfg.SubmissionHandler.Comment)
		}
	}

	return r
}
