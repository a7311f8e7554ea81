package handlers

import (
	"net/http"

	"netguard-console/internal/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter builds the console API.
func NewRouter(console *ConsoleHandler, ws *WebSocketHandler) *gin.Engine {
	router := gin.New()
	router.Use(
		middleware.RecoveryMiddleware(),
		middleware.RequestIDMiddleware(),
		middleware.LoggerMiddleware(),
		middleware.MetricsMiddleware(),
		middleware.CORSMiddleware(),
	)

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/ws", ws.HandleConnection)

	v1 := router.Group("/api/v1")
	{
		v1.GET("/alerts", console.ListAlerts)
		v1.POST("/alerts/:id/acknowledge", console.Acknowledge)
		v1.GET("/statistics", console.GetStatistics)
		v1.POST("/statistics/refresh", console.RefreshStatistics)
		v1.GET("/status", console.GetStatus)
	}

	return router
}
