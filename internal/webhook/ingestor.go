// Package webhook parses provider callbacks and routes them to the payment manager.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/emplant2000/piphp/internal/audit"
	"github.com/emplant2000/piphp/internal/metrics"
	"github.com/emplant2000/piphp/internal/models"
	"github.com/emplant2000/piphp/internal/payment"

	"github.com/shopspring/decimal"
)

// Event types understood by the ingestor.
const (
	TypePaymentApproved  = "payment_approved"
	TypePaymentCompleted = "payment_completed"
	TypeTest             = "test"
	TypeUnknown          = "unknown"
)

// Response statuses.
const (
	StatusOK               = "ok"
	StatusReceived         = "received"
	StatusInvalidPayload   = "invalid_payload"
	StatusInvalidSignature = "invalid_signature"
)

// Response is the acknowledgement body returned to the provider.
type Response struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// StatusApplier is the part of the payment manager the ingestor drives.
type StatusApplier interface {
	ApplyStatus(ctx context.Context, paymentID string, status models.PaymentStatus, extra payment.Extra) (payment.Outcome, error)
}

// Ingestor turns raw callback bodies into payment status updates.
type Ingestor struct {
	payments StatusApplier
	audit    audit.Logger
	metrics  *metrics.Recorder
	now      func() time.Time
}

func NewIngestor(payments StatusApplier, al audit.Logger, m *metrics.Recorder) *Ingestor {
	if al == nil {
		al = audit.NewRecorder()
	}
	return &Ingestor{
		payments: payments,
		audit:    al,
		metrics:  m,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Ingest processes one callback body. It never returns an error: malformed
// input yields an invalid_payload acknowledgement and no side effects.
func (in *Ingestor) Ingest(ctx context.Context, raw []byte) Response {
	payload, err := decodeObject(raw)
	if err != nil {
		in.metrics.Webhook(ctx, TypeUnknown, StatusInvalidPayload)
		return Response{Status: StatusInvalidPayload}
	}

	typ, _ := payload["type"].(string)
	if typ == "" {
		typ = TypeUnknown
	}
	paymentID, _ := payload["payment_id"].(string)

	in.audit.Log(ctx, audit.Event{Action: audit.ActionWebhookReceived, Payload: payload})

	resp := Response{Status: StatusReceived}
	switch typ {
	case TypeTest:
		resp = Response{Status: StatusOK, Message: "Webhook working"}

	case TypePaymentApproved:
		amount := amountField(payload["amount"])
		ev := map[string]any{
			"payment_id":   paymentID,
			"processed_at": in.now().Format(time.RFC3339),
		}
		if amount.Valid {
			ev["amount"] = amount.Decimal.String()
		}
		in.audit.Log(ctx, audit.Event{Action: audit.ActionPaymentApproved, Payload: ev})
		in.apply(ctx, paymentID, models.PaymentApproved, payment.Extra{Amount: amount})

	case TypePaymentCompleted:
		txid, _ := payload["txid"].(string)
		in.audit.Log(ctx, audit.Event{
			Action: audit.ActionPaymentCompleted,
			Payload: map[string]any{
				"payment_id": paymentID,
				"txid":       txid,
			},
		})
		in.apply(ctx, paymentID, models.PaymentCompleted, payment.Extra{TxID: txid})
	}

	in.metrics.Webhook(ctx, metricType(typ), resp.Status)
	return resp
}

// apply forwards the update. Unmatched and rejected outcomes are audited by
// the payment manager; store failures are logged and still acknowledged.
func (in *Ingestor) apply(ctx context.Context, paymentID string, status models.PaymentStatus, extra payment.Extra) {
	if _, err := in.payments.ApplyStatus(ctx, paymentID, status, extra); err != nil {
		log.Printf("webhook: apply %s to %q: %v", status, paymentID, err)
	}
}

func metricType(typ string) string {
	switch typ {
	case TypePaymentApproved, TypePaymentCompleted, TypeTest:
		return typ
	}
	return TypeUnknown
}

// decodeObject requires raw to hold exactly one JSON object.
func decodeObject(raw []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, errors.New("webhook: payload is not an object")
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("webhook: trailing data after payload")
	}
	return obj, nil
}

// amountField accepts a JSON number or a numeric string.
func amountField(v any) decimal.NullDecimal {
	var s string
	switch x := v.(type) {
	case json.Number:
		s = x.String()
	case string:
		s = strings.TrimSpace(x)
	default:
		return decimal.NullDecimal{}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}
