package handler

import (
	"io"
	"net/http"

	"github.com/emplant2000/piphp/internal/webhook"

	"github.com/gin-gonic/gin"
)

const maxWebhookBody = 1 << 20

// WebhookHandler answers POST /?webhook=pi_callback. Every response is JSON.
type WebhookHandler struct {
	Ingestor *webhook.Ingestor
	Secret   string
}

func NewWebhookHandler(in *webhook.Ingestor, secret string) *WebhookHandler {
	return &WebhookHandler{Ingestor: in, Secret: secret}
}

func (h *WebhookHandler) Receive(c *gin.Context) {
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusOK, webhook.Response{Status: webhook.StatusInvalidPayload})
		return
	}
	if !webhook.VerifySignature(h.Secret, raw, c.GetHeader(webhook.SignatureHeader)) {
		c.JSON(http.StatusUnauthorized, webhook.Response{Status: webhook.StatusInvalidSignature})
		return
	}
	c.JSON(http.StatusOK, h.Ingestor.Ingest(c.Request.Context(), raw))
}
