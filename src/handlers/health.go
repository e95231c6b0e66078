package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cipherpad/engine/src/session"
)

// Health reports whether the store is reachable and what state the
// session is in. Unlike most commands it never requires the vault to be
// unlocked — a Fresh or Locked session still reports its state. A Fresh
// session reports status "unconfigured" without pinging anything; otherwise
// a store ping failure reports "unhealthy".
func Health(sess *session.Session) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		state := sess.State()
		status := gin.H{
			"status":    "ok",
			"timestamp": time.Now().Format(time.RFC3339),
			"service":   "cipherpad",
			"state":     state,
		}

		if state == session.Fresh {
			status["status"] = "unconfigured"
			c.JSON(http.StatusOK, status)
			return
		}

		if err := sess.HealthCheck(ctx); err != nil {
			status["status"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, status)
			return
		}

		c.JSON(http.StatusOK, status)
	}
}
