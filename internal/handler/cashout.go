package handler

import (
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/emplant2000/piphp/internal/middleware"
	"github.com/emplant2000/piphp/internal/payment"
	"github.com/emplant2000/piphp/internal/session"
	"github.com/emplant2000/piphp/internal/util"

	"github.com/gin-gonic/gin"
)

// CashoutHandler handles action=cashout.
type CashoutHandler struct {
	Payments *payment.Manager
	Store    session.Store
}

func NewCashoutHandler(pm *payment.Manager, store session.Store) *CashoutHandler {
	return &CashoutHandler{Payments: pm, Store: store}
}

// invalidAmountMessage is shown for both unparsable and out-of-range amounts.
func (h *CashoutHandler) invalidAmountMessage() string {
	lo, hi := h.Payments.Limits()
	return fmt.Sprintf("Invalid amount. Testnet limit: %s-%s π", lo, hi)
}

// Cashout validates the form and creates the payment. The outcome is reported
// through the flash message on the next page view.
func (h *CashoutHandler) Cashout(c *gin.Context) {
	ctx := c.Request.Context()
	sid := middleware.SessionID(c)

	if !h.authenticated(c) {
		util.Error(c, http.StatusUnauthorized, util.CodeAuth, "Not authenticated")
		return
	}

	amount, err := util.ParseAmount(c.PostForm("amount"))
	if err != nil {
		h.flashAndRedirect(c, sid, h.invalidAmountMessage())
		return
	}

	p, err := h.Payments.RequestCashout(ctx, sid, amount, c.PostForm("memo"))
	var invalid *payment.InvalidAmountError
	switch {
	case err == nil:
		h.flashAndRedirect(c, sid, "Testnet cashout initiated! Payment ID: "+p.PaymentID)
	case errors.Is(err, payment.ErrUnauthenticated):
		util.Error(c, http.StatusUnauthorized, util.CodeAuth, "Not authenticated")
	case errors.As(err, &invalid):
		h.flashAndRedirect(c, sid, h.invalidAmountMessage())
	default:
		log.Printf("handler: cashout: %v", err)
		h.flashAndRedirect(c, sid, "Error: cashout failed")
	}
}

func (h *CashoutHandler) flashAndRedirect(c *gin.Context, sid, msg string) {
	if err := h.Store.SetFlash(c.Request.Context(), sid, msg); err != nil {
		log.Printf("handler: set flash: %v", err)
	}
	c.Redirect(http.StatusSeeOther, "/?page=cashout")
}

func (h *CashoutHandler) authenticated(c *gin.Context) bool {
	sess, err := h.Store.Get(c.Request.Context(), middleware.SessionID(c))
	return err == nil && sess.IsAuthenticated()
}
