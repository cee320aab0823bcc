package handler

import (
	"net/http"

	"github.com/emplant2000/piphp/internal/middleware"
	"github.com/emplant2000/piphp/internal/util"

	"github.com/gin-gonic/gin"
)

// ActionHandler dispatches POST / by the webhook query or the action form field.
type ActionHandler struct {
	Auth    *AuthHandler
	Cashout *CashoutHandler
	Webhook *WebhookHandler
}

func (h *ActionHandler) Post(c *gin.Context) {
	if middleware.IsWebhook(c) {
		h.Webhook.Receive(c)
		return
	}

	switch c.PostForm("action") {
	case "login":
		h.Auth.Login(c)
	case "logout":
		h.Auth.Logout(c)
	case "cashout":
		h.Cashout.Cashout(c)
	default:
		util.Error(c, http.StatusBadRequest, util.CodeInvalidParam, "unknown action")
	}
}
