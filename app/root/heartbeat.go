// Package root contains handlers that don't belong to any resource
package root

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Heartbeat answers HEAD /api/heartbeat so load balancers can check the server is alive
func Heartbeat(c *gin.Context) {
	c.Status(http.StatusOK)
}
