package middleware

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/emplant2000/piphp/internal/auth"
	"github.com/emplant2000/piphp/internal/models"
	"github.com/emplant2000/piphp/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// context keys
const (
	CtxSessionID = "sessionID"
	CtxSession   = "currentSession"

	ctxIssueCookie = "issueSessionCookie"
)

// SessionCookie binds the browser to a session id carried in a signed cookie.
// Visitors without a valid cookie get a fresh id; the session row itself is
// only created on login.
func SessionCookie(cookieName, secret string, ttl time.Duration, secure bool) gin.HandlerFunc {
	issue := func(c *gin.Context, sid string) error {
		tok, err := util.GenerateSessionToken(secret, sid, ttl)
		if err != nil {
			return err
		}
		c.SetSameSite(http.SameSiteLaxMode)
		c.SetCookie(cookieName, tok, int(ttl/time.Second), "/", "", secure, true)
		c.Set(CtxSessionID, sid)
		return nil
	}

	return func(c *gin.Context) {
		c.Set(ctxIssueCookie, issue)

		// 1) cookie
		if tok, err := c.Cookie(cookieName); err == nil && tok != "" {
			if claims, err := util.ParseSessionToken(secret, tok); err == nil && claims.SessionID != "" {
				c.Set(CtxSessionID, claims.SessionID)
				c.Next()
				return
			}
		}

		// 2) new visitor
		if err := issue(c, uuid.NewString()); err != nil {
			log.Printf("middleware: sign session cookie: %v", err)
			util.Error(c, http.StatusInternalServerError, util.CodeServerErr, "session unavailable")
			c.Abort()
			return
		}
		c.Next()
	}
}

// RotateSession rebinds the request to sid and sends a freshly signed cookie for it.
// Requires SessionCookie earlier in the chain.
func RotateSession(c *gin.Context, sid string) error {
	v, ok := c.Get(ctxIssueCookie)
	if !ok {
		return errors.New("middleware: no session cookie binding")
	}
	return v.(func(*gin.Context, string) error)(c, sid)
}

// SessionID returns the id bound by SessionCookie.
func SessionID(c *gin.Context) string {
	return c.GetString(CtxSessionID)
}

// RequireAuth rejects requests without an authenticated session and puts the
// session into the context.
func RequireAuth(am *auth.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, err := am.Session(c.Request.Context(), SessionID(c))
		if err != nil {
			util.Error(c, http.StatusInternalServerError, util.CodeServerErr, "load session failed")
			c.Abort()
			return
		}
		if !sess.IsAuthenticated() {
			util.Error(c, http.StatusUnauthorized, util.CodeAuth, "not logged in")
			c.Abort()
			return
		}

		c.Set(CtxSession, sess)
		c.Next()
	}
}

// CurrentSession returns the session set by RequireAuth.
func CurrentSession(c *gin.Context) (*models.Session, bool) {
	v, ok := c.Get(CtxSession)
	if !ok {
		return nil, false
	}
	sess, ok := v.(*models.Session)
	return sess, ok && sess != nil
}
