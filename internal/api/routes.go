package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"usermanagement/internal/api/middleware"
	v1 "usermanagement/internal/api/v1"
	"usermanagement/internal/service"
)

const defaultAllowOrigin = "http://localhost:5173"

// RouterOptions carries what the HTTP surface needs from process wiring.
// Ready reports whether the storage backend can serve requests.
type RouterOptions struct {
	Logger       *zap.Logger
	AllowOrigins []string
	Ready        func(ctx context.Context) error
	ReadyTimeout time.Duration
}

func NewRouter(opts RouterOptions, userService *service.UserService, auditService *service.AuditService) *gin.Engine {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(buildCORSMiddleware(opts.AllowOrigins))
	router.Use(middleware.RequestLogger(logger))

	healthHandler := func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
	readyHandler := func(c *gin.Context) {
		if opts.Ready != nil {
			timeout := opts.ReadyTimeout
			if timeout <= 0 {
				timeout = 3 * time.Second
			}
			ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
			defer cancel()

			if err := opts.Ready(ctx); err != nil {
				logger.Warn("readiness check failed", zap.Error(err))
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"status": "not_ready",
					"error":  "storage unavailable",
				})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	}

	router.GET("/healthz", healthHandler)
	router.GET("/health/ready", readyHandler)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	apiV1 := router.Group("/api/v1")
	v1.RegisterUserRoutes(apiV1, userService)
	v1.RegisterAuditRoutes(apiV1, auditService)

	return router
}

func buildCORSMiddleware(allowOrigins []string) gin.HandlerFunc {
	origins := make([]string, 0, len(allowOrigins))
	for _, origin := range allowOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		origins = append(origins, trimmed)
	}
	if len(origins) == 0 {
		origins = []string{defaultAllowOrigin}
	}

	return cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Authorization", middleware.RequestIDHeader},
		ExposeHeaders:    []string{"Content-Type", middleware.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
}
