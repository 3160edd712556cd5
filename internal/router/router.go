package router

import (
	"net/http"
	"time"

	"clipfactory/internal/handler"
	"clipfactory/log"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

func SetupRouter(r *gin.Engine, hdl handler.Handler) {
	r.Use(requestLogger())

	jobs := r.Group("/jobs")
	{
		jobs.POST("/pipeline", hdl.SubmitPipeline)
		jobs.POST("/export", hdl.RequestExport)
		jobs.GET("/:id/status", hdl.GetStatus)
		jobs.GET("/:id/stream", hdl.StreamEvents)
		jobs.GET("/:id/ws", hdl.StreamEventsWS)
		jobs.GET("/:id/artifacts", hdl.ListArtifacts)
	}
	r.GET("/artifacts/*key", hdl.DownloadArtifact)
	r.HEAD("/artifacts/*key", hdl.DownloadArtifact)

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}

// requestLogger tags every request with an id and logs it once finished.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		c.Header("X-Request-Id", id)
		start := time.Now()
		c.Next()
		log.GetLogger().Info("http request",
			zap.String("request_id", id),
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}
