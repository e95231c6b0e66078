package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cipherpad/engine/src/session"
)

// RequireUnlocked blocks requests when the session is not Unlocked. Applied
// to every command-surface route except open/unlock themselves.
func RequireUnlocked(sess *session.Session) gin.HandlerFunc {
	return func(c *gin.Context) {
		if sess.State() != session.Unlocked {
			c.JSON(http.StatusLocked, gin.H{
				"error": "vault is locked",
				"code":  "VAULT_LOCKED",
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

// RequireStoreOpen blocks requests that need an opened store (unlock)
// before open_or_create has run.
func RequireStoreOpen(sess *session.Session) gin.HandlerFunc {
	return func(c *gin.Context) {
		if sess.State() == session.Fresh {
			c.JSON(http.StatusPreconditionFailed, gin.H{
				"error": "store is not open",
				"code":  "STORE_NOT_OPEN",
			})
			c.Abort()
			return
		}
		c.Next()
	}
}
