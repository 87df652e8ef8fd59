package routes

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/taskforge/taskforge/config"
	"github.com/taskforge/taskforge/controllers"
	"github.com/taskforge/taskforge/middleware"
	"github.com/taskforge/taskforge/utils"
	"github.com/taskforge/taskforge/ws"
)

// Deps carries the constructed application services the routes wire up.
type Deps struct {
	Auth          *controllers.AuthController
	Habits        *controllers.HabitController
	Notifications *controllers.NotificationController
	Activity      *controllers.ActivityController
	Telegram      *controllers.TelegramController
	Hub           *ws.Hub
}

// SetupRouter wires routes, middlewares, and controllers.
func SetupRouter(deps Deps) *gin.Engine {
	cfg := config.Get()
	switch strings.ToLower(cfg.GinMode) {
	case "debug":
		gin.SetMode(gin.DebugMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	// Replace default console logger with file-based zap logger
	gl, err := utils.NewRollingFileLogger(cfg.GinPath, cfg.LogLevel, cfg.LogMaxSizeMB, cfg.LogMaxBackups, cfg.LogMaxAgeDays, cfg.LogCompress)
	if err == nil {
		r.Use(utils.Ginzap(gl, time.RFC3339, true))
		r.Use(utils.RecoveryWithZap(gl, false))
	} else {
		// fallback to default recovery if logger failed to init
		r.Use(gin.Recovery())
	}

	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(cfg.AllowedOrigins) == 1 && cfg.AllowedOrigins[0] == "*" {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = cfg.AllowedOrigins
	}
	r.Use(cors.New(corsCfg))

	r.GET("/health", func(ctx *gin.Context) {
		utils.Success(ctx, gin.H{"status": "ok"})
	})

	api := r.Group("/api/v1")

	authGroup := api.Group("/auth")
	authGroup.Use(middleware.RateLimitMiddleware())
	authGroup.POST("/register", deps.Auth.Register)
	authGroup.POST("/login", deps.Auth.Login)
	authGroup.POST("/login/status", deps.Auth.LoginStatus)
	authGroup.GET("/me", middleware.AuthRequired(), deps.Auth.Me)
	authGroup.PATCH("/settings", middleware.AuthRequired(), deps.Auth.UpdateSettings)

	protected := api.Group("")
	protected.Use(middleware.AuthRequired(), middleware.RateLimitMiddleware())

	protected.GET("/habits", deps.Habits.ListHabits)
	protected.POST("/habits/checkin", deps.Habits.Checkin)

	protected.GET("/notifications", deps.Notifications.Recent)
	protected.GET("/notifications/unread", deps.Notifications.Unread)
	protected.POST("/notifications/:id/read", deps.Notifications.MarkRead)
	protected.POST("/notifications/read-all", deps.Notifications.MarkAllRead)

	protected.GET("/activity/weekly", deps.Activity.Weekly)

	protected.POST("/telegram/bind-code", deps.Telegram.BindCode)
	protected.GET("/telegram/status", deps.Telegram.Status)

	// live notification socket; authenticated like any API route
	protected.GET("/ws", func(ctx *gin.Context) {
		userID, exists := ctx.Get(middleware.ContextUserIDKey)
		id, ok := userID.(uint)
		if !exists || !ok {
			utils.Error(ctx, http.StatusUnauthorized, 40110, "unauthorized")
			return
		}
		deps.Hub.Serve(ctx.Writer, ctx.Request, id)
	})

	r.NoRoute(func(ctx *gin.Context) {
		if strings.HasPrefix(ctx.Request.URL.Path, "/api/") {
			utils.Error(ctx, http.StatusNotFound, 40400, "api route not found")
			return
		}
		ctx.JSON(http.StatusNotFound, gin.H{"message": "not found"})
	})

	return r
}
