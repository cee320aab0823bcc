package handler

import (
	"errors"
	"log"
	"net/http"

	"github.com/emplant2000/piphp/internal/auth"
	"github.com/emplant2000/piphp/internal/middleware"
	"github.com/emplant2000/piphp/internal/util"

	"github.com/gin-gonic/gin"
)

// AuthHandler serves the login and logout actions.
type AuthHandler struct {
	Auth *auth.Manager
}

func NewAuthHandler(am *auth.Manager) *AuthHandler {
	return &AuthHandler{Auth: am}
}

// Login handles action=login with pi_username and optional pi_uid.
func (h *AuthHandler) Login(c *gin.Context) {
	sess, err := h.Auth.LoginNewSession(c.Request.Context(), middleware.SessionID(c), c.PostForm("pi_username"), c.PostForm("pi_uid"))
	switch {
	case err == nil:
		if err := middleware.RotateSession(c, sess.ID); err != nil {
			log.Printf("handler: rotate session cookie: %v", err)
			util.Error(c, http.StatusInternalServerError, util.CodeServerErr, "session unavailable")
			return
		}
		c.Redirect(http.StatusSeeOther, "/?page=dashboard")
	case errors.Is(err, auth.ErrProviderRejected):
		util.Error(c, http.StatusUnauthorized, util.CodeAuth, "Pi authentication failed")
	case errors.Is(err, auth.ErrUsernameRequired):
		util.Error(c, http.StatusBadRequest, util.CodeInvalidParam, "Pi username is required")
	default:
		log.Printf("handler: login: %v", err)
		util.Error(c, http.StatusBadRequest, util.CodeInvalidParam, err.Error())
	}
}

// Logout handles action=logout. It always succeeds.
func (h *AuthHandler) Logout(c *gin.Context) {
	if err := h.Auth.Logout(c.Request.Context(), middleware.SessionID(c)); err != nil {
		log.Printf("handler: logout: %v", err)
	}
	c.Redirect(http.StatusSeeOther, "/")
}
