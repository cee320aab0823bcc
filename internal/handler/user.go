package handler

import (
	"net/http"

	"github.com/emplant2000/piphp/internal/middleware"
	"github.com/emplant2000/piphp/internal/util"

	"github.com/gin-gonic/gin"
)

// GetMe returns the logged-in user and last payment. Mount behind RequireAuth.
func GetMe(c *gin.Context) {
	sess, ok := middleware.CurrentSession(c)
	if !ok {
		util.Error(c, http.StatusUnauthorized, util.CodeAuth, "not logged in")
		return
	}

	data := util.Response{
		"user": gin.H{
			"uid":        sess.UserID,
			"username":   sess.Username,
			"login_time": sess.LoginTime,
		},
	}
	if sess.LastPayment != nil {
		data["last_payment"] = paymentView(sess.LastPayment)
	}
	util.Success(c, data)
}

// Healthz is the liveness probe.
func Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
