package middleware

import (
	"log"
	"net/http"

	"github.com/emplant2000/piphp/internal/auth"
	"github.com/emplant2000/piphp/internal/payment"
	"github.com/emplant2000/piphp/internal/util"

	"github.com/gin-gonic/gin"
)

// Lifecycle runs the passive per-request checks before any handler touches the
// session: idle timeout first, then payment slot retention.
//
// An expired session is redirected to the entry page, except on webhook
// deliveries, which carry no browser session and must always get an acknowledgement.
func Lifecycle(am *auth.Manager, pm *payment.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		sid := SessionID(c)

		expired, err := am.CheckTimeout(ctx, sid)
		if err != nil {
			log.Printf("middleware: check timeout: %v", err)
			util.Error(c, http.StatusInternalServerError, util.CodeServerErr, "session check failed")
			c.Abort()
			return
		}
		if expired && !IsWebhook(c) {
			c.Redirect(http.StatusSeeOther, "/")
			c.Abort()
			return
		}

		if _, err := pm.ExpireStale(ctx, sid); err != nil {
			// a failed sweep does not fail the request
			log.Printf("middleware: expire payment slot: %v", err)
		}
		c.Next()
	}
}

// IsWebhook reports whether the request is a provider callback (POST /?webhook=pi_callback).
func IsWebhook(c *gin.Context) bool {
	return c.Request.Method == http.MethodPost && c.Query("webhook") == "pi_callback"
}
