package router

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/handler"
	"github.com/stemsi/exstem-proctor/internal/metrics"
	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Health       *handler.HealthHandler
	Session      *handler.SessionHandler
	WS           *handler.WSHandler
	Policy       *handler.PolicyHandler
	Monitor      *handler.MonitorHandler
	Intervention *handler.InterventionHandler
	History      *handler.HistoryHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	authService *service.AuthService,
	handlers *Handlers,
	limiter *middleware.RateLimiter,
	m *metrics.Metrics,
	cfg *config.Config,
	log zerolog.Logger,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.New()
	router.Use(gin.Recovery())

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())
	router.Use(middleware.RequestLogger(log))

	if cfg.MetricsEnabled && m != nil {
		router.Use(m.Middleware())
		router.GET("/metrics", gin.WrapH(m.Handler()))
	}

	router.Use(middleware.Brotli())

	if handlers.Health != nil {
		router.GET("/health", handlers.Health.Health)
	}

	// ─── 1. Student Group (JWT + rate limit) ───────────────────────────
	studentAPI := router.Group("/api/v1/student")
	studentAPI.Use(
		middleware.RequireStudentJWT(authService),
		limiter.Middleware(),
	)
	{
		studentAPI.POST("/quizzes/:quiz_id/sessions", handlers.Session.StartSession)
		studentAPI.GET("/sessions/:session_id", handlers.Session.GetSession)
		studentAPI.POST("/sessions/:session_id/events", handlers.Session.RecordEvent)
		studentAPI.PUT("/sessions/:session_id/answers/:index", handlers.Session.SaveAnswer)
		studentAPI.POST("/sessions/:session_id/submit", handlers.Session.Submit)
		studentAPI.GET("/history", handlers.Session.MyHistory)
	}

	// ─── 2. WebSocket Group (Student WS Auth) ──────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireStudentWSAuth(authService))
	{
		ws.GET("/student/sessions/:session_id/stream", handlers.WS.SessionStream)
	}

	// ─── 3. Teacher Group (JWT + RBAC) ─────────────────────────────────
	teacherAPI := router.Group("/api/v1/teacher")
	teacherAPI.Use(middleware.RequireTeacherJWT(authService))
	{
		quizzes := teacherAPI.Group("/quizzes/:quiz_id")
		{
			quizzes.GET("/policy", middleware.RequirePermission(model.PermissionPolicyRead), handlers.Policy.GetPolicy)
			quizzes.PUT("/policy", middleware.RequirePermission(model.PermissionPolicyWrite), handlers.Policy.UpdatePolicy)
			quizzes.POST("/answer-key/refresh", middleware.RequirePermission(model.PermissionPolicyWrite), handlers.Policy.RefreshAnswerKey)

			quizzes.GET("/live", middleware.RequirePermission(model.PermissionMonitor), handlers.Monitor.Live)
			quizzes.GET("/live/stream", middleware.RequirePermission(model.PermissionMonitor), handlers.Monitor.LiveStream)

			quizzes.GET("/history", middleware.RequirePermission(model.PermissionAttemptsRead), handlers.History.QuizHistory)
		}

		sessions := teacherAPI.Group("/sessions/:session_id")
		{
			sessions.GET("/violations", middleware.RequireAnyPermission(model.PermissionMonitor, model.PermissionAttemptsRead), handlers.Monitor.ViolationLog)
			sessions.POST("/force-submit", middleware.RequirePermission(model.PermissionSessionsIntervene), handlers.Intervention.ForceSubmit)
			sessions.POST("/disqualify", middleware.RequirePermission(model.PermissionSessionsIntervene), handlers.Intervention.Disqualify)
		}

		teacherAPI.GET("/students/:user_id/history", middleware.RequirePermission(model.PermissionAttemptsRead), handlers.History.StudentHistory)
	}

	return router
}
