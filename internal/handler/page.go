package handler

import (
	"log"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/emplant2000/piphp/internal/auth"
	"github.com/emplant2000/piphp/internal/middleware"
	"github.com/emplant2000/piphp/internal/models"
	"github.com/emplant2000/piphp/internal/payment"
	"github.com/emplant2000/piphp/internal/session"
	"github.com/emplant2000/piphp/internal/util"

	"github.com/gin-gonic/gin"
)

// PageHandler renders the view model for GET /?page=dashboard|cashout.
// It changes no state except consuming the one-shot flash message.
type PageHandler struct {
	Auth     *auth.Manager
	Store    session.Store
	Payments *payment.Manager
	AppName  string
	Provider string
	APIBase  string
	now      func() time.Time
}

func NewPageHandler(am *auth.Manager, store session.Store, pm *payment.Manager, appName, providerName, apiBase string) *PageHandler {
	return &PageHandler{
		Auth:     am,
		Store:    store,
		Payments: pm,
		AppName:  appName,
		Provider: providerName,
		APIBase:  strings.TrimRight(apiBase, "/"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (h *PageHandler) View(c *gin.Context) {
	ctx := c.Request.Context()
	sid := middleware.SessionID(c)

	sess, err := h.Auth.Session(ctx, sid)
	if err != nil {
		log.Printf("handler: load session: %v", err)
		util.Error(c, http.StatusInternalServerError, util.CodeServerErr, "load session failed")
		return
	}

	lo, hi := h.Payments.Limits()
	data := util.Response{
		"app_name":      h.AppName,
		"testnet":       true,
		"provider":      h.Provider,
		"authenticated": sess.IsAuthenticated(),
		"page":          "login",
		"limits":        gin.H{"min": lo.String(), "max": hi.String()},
		"webhook_url":   webhookURL(c),
		"endpoints": gin.H{
			"api":      h.APIBase,
			"auth":     h.APIBase + "/auth",
			"payments": h.APIBase + "/payments",
		},
	}

	if sess.IsAuthenticated() {
		page := c.DefaultQuery("page", "dashboard")
		if page != "cashout" {
			page = "dashboard"
		}
		data["page"] = page
		data["user"] = gin.H{
			"uid":                 sess.UserID,
			"username":            sess.Username,
			"login_time":          sess.LoginTime,
			"minutes_since_login": int(math.Floor(sess.Age(h.now()).Minutes())),
			"session_timeout_sec": int(h.Auth.Timeout() / time.Second),
		}
		if p := sess.LastPayment; p != nil {
			data["last_payment"] = paymentView(p)
		}

		msg, err := h.Store.TakeFlash(ctx, sid)
		if err != nil {
			log.Printf("handler: take flash: %v", err)
		}
		if msg != "" {
			data["message"] = msg
		}
	}

	util.Success(c, data)
}

func paymentView(p *models.Payment) gin.H {
	v := gin.H{
		"payment_id": p.PaymentID,
		"amount":     p.Amount.String(),
		"status":     p.Status,
		"memo":       p.Memo,
		"created_at": p.CreatedAt,
	}
	if p.TxID != "" {
		v["txid"] = p.TxID
	}
	if p.Reason != "" {
		v["reason"] = p.Reason
	}
	return v
}

func webhookURL(c *gin.Context) string {
	scheme := "http"
	if c.Request.TLS != nil || c.GetHeader("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	return scheme + "://" + c.Request.Host + "/?webhook=pi_callback"
}
