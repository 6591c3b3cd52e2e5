package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"notifyqueue/internal/handler"
	"notifyqueue/pkg/rbac"
)

// Pinger reports whether a dependency is ready.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Router struct {
	Engine *gin.Engine
}

func NewRouter(
	log *zap.Logger,
	notificationHandler *handler.NotificationHandler,
	monitoringHandler *handler.MonitoringHandler,
	consolidationHandler *handler.ConsolidationHandler,
	contactHandler *handler.ContactHandler,
	jwtSecret string,
	db Pinger,
) *Router {
	r := gin.New()
	r.Use(gin.Recovery(), TraceMiddleware(), AccessLogMiddleware(log))

	// Health endpoints
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.HEAD("/healthz", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	r.GET("/readyz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 1*time.Second)
		defer cancel()

		if err := db.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "db_not_ready", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/v1")
	api.Use(AuthMiddleware(jwtSecret))
	{
		api.POST("/notifications", RequirePermission(rbac.PermissionCreateNotification), notificationHandler.Create)
		api.GET("/notifications/:id", RequirePermission(rbac.PermissionReadNotification), notificationHandler.Get)
		api.POST("/notifications/:id/cancel", RequirePermission(rbac.PermissionCancelNotification), notificationHandler.Cancel)
		api.GET("/monitoring/summary", RequirePermission(rbac.PermissionReadMonitoring), monitoringHandler.Summary)
		api.POST("/consolidation/run", RequirePermission(rbac.PermissionRunConsolidation), consolidationHandler.Run)
		api.PUT("/contacts/:recipient_key", RequirePermission(rbac.PermissionWriteContact), contactHandler.Upsert)
	}

	return &Router{Engine: r}
}
