package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/campusbridge/alumni-connect/internal/database"
	"github.com/gin-gonic/gin"
)

// Health reports database and redis status. Redis is optional, so its absence is not degraded.
func Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	dbStatus := "ok"
	if err := database.Ping(); err != nil {
		dbStatus = "error"
	}
	redisStatus := database.PingRedis(ctx)

	status := "ok"
	code := http.StatusOK
	if dbStatus != "ok" {
		status = "down"
		code = http.StatusServiceUnavailable
	} else if redisStatus == "error" {
		status = "degraded"
	}

	c.JSON(code, gin.H{
		"status":  status,
		"message": "Alumni Connect chat is running",
		"checks": gin.H{
			"database": dbStatus,
			"redis":    redisStatus,
		},
	})
}
