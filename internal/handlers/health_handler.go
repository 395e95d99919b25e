package handlers

import (
	"time"

	"github.com/gin-gonic/gin"
)

var startedAt = time.Now()

// HealthHandler reports liveness and basic runtime info.
func HealthHandler(c *gin.Context) {
	ok(c, gin.H{
		"status": "healthy",
		"uptime": time.Since(startedAt).String(),
		"time":   time.Now().UTC(),
	})
}
