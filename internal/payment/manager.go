// Package payment validates cashout requests and applies provider-confirmed
// status transitions to the session's payment slot.
package payment

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/emplant2000/piphp/internal/audit"
	"github.com/emplant2000/piphp/internal/config"
	"github.com/emplant2000/piphp/internal/metrics"
	"github.com/emplant2000/piphp/internal/models"
	"github.com/emplant2000/piphp/internal/provider"
	"github.com/emplant2000/piphp/internal/session"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrUnauthenticated is returned when a cashout is requested without a live session.
var ErrUnauthenticated = errors.New("payment: not authenticated")

var (
	errRejected = errors.New("payment: transition rejected")
	errExpired  = errors.New("payment: past retention")
)

// InvalidAmountError carries the bound a cashout amount violated.
type InvalidAmountError struct {
	Amount decimal.Decimal
	Bound  decimal.Decimal
	Kind   string // "min" (exclusive) or "max" (inclusive)
}

func (e *InvalidAmountError) Error() string {
	if e.Kind == "min" {
		return fmt.Sprintf("payment: amount %s must be greater than %s", e.Amount, e.Bound)
	}
	return fmt.Sprintf("payment: amount %s must not exceed %s", e.Amount, e.Bound)
}

// Outcome is the result of ApplyStatus.
type Outcome int

const (
	Applied Outcome = iota + 1
	Unmatched
	Rejected
)

func (o Outcome) String() string {
	switch o {
	case Applied:
		return "applied"
	case Unmatched:
		return "unmatched"
	case Rejected:
		return "rejected"
	}
	return "unknown"
}

// Extra holds optional data accompanying a status update.
type Extra struct {
	Amount decimal.NullDecimal
	TxID   string
	Reason string
}

// Options are the cashout limits and timings.
type Options struct {
	MinAmount       decimal.Decimal // exclusive
	MaxAmount       decimal.Decimal // inclusive
	DefaultMemo     string
	Retention       time.Duration
	ProviderTimeout time.Duration
}

// OptionsFromConfig reads Options from the loaded configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		MinAmount:       cfg.MinAmount(),
		MaxAmount:       cfg.MaxAmount(),
		DefaultMemo:     cfg.Payment.DefaultMemo,
		Retention:       cfg.PaymentRetention(),
		ProviderTimeout: cfg.ProviderTimeout(),
	}
}

// Manager owns the payment slot lifecycle.
type Manager struct {
	store    session.Store
	provider provider.Provider
	audit    audit.Logger
	metrics  *metrics.Recorder
	opts     Options
	now      func() time.Time

	wg sync.WaitGroup
}

func NewManager(store session.Store, p provider.Provider, al audit.Logger, m *metrics.Recorder, opts Options) *Manager {
	if al == nil {
		al = audit.NewRecorder()
	}
	if opts.ProviderTimeout <= 0 {
		opts.ProviderTimeout = 10 * time.Second
	}
	return &Manager{
		store:    store,
		provider: p,
		audit:    al,
		metrics:  m,
		opts:     opts,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source.
func (m *Manager) SetClock(now func() time.Time) { m.now = now }

// Limits returns the exclusive minimum and inclusive maximum amount.
func (m *Manager) Limits() (decimal.Decimal, decimal.Decimal) {
	return m.opts.MinAmount, m.opts.MaxAmount
}

// ValidateAmount checks min < amount <= max.
func (m *Manager) ValidateAmount(amount decimal.Decimal) error {
	if amount.LessThanOrEqual(m.opts.MinAmount) {
		return &InvalidAmountError{Amount: amount, Bound: m.opts.MinAmount, Kind: "min"}
	}
	if amount.GreaterThan(m.opts.MaxAmount) {
		return &InvalidAmountError{Amount: amount, Bound: m.opts.MaxAmount, Kind: "max"}
	}
	return nil
}

// RequestCashout creates a pending payment in the session's slot and submits it
// to the provider in the background. The returned record is the stored one.
func (m *Manager) RequestCashout(ctx context.Context, sid string, amount decimal.Decimal, memo string) (*models.Payment, error) {
	sess, err := m.store.Get(ctx, sid)
	if errors.Is(err, session.ErrNotFound) || (err == nil && !sess.IsAuthenticated()) {
		m.metrics.Cashout(ctx, "unauthenticated")
		return nil, ErrUnauthenticated
	}
	if err != nil {
		return nil, fmt.Errorf("payment: load session: %w", err)
	}

	if err := m.ValidateAmount(amount); err != nil {
		m.metrics.Cashout(ctx, "invalid_amount")
		return nil, err
	}

	memo = strings.TrimSpace(memo)
	if memo == "" {
		memo = m.opts.DefaultMemo
	}

	p := &models.Payment{
		SessionID: sid,
		PaymentID: "test_pay_" + uuid.NewString(),
		UserID:    sess.UserID,
		Amount:    amount,
		Status:    models.PaymentPending,
		Memo:      memo,
		CreatedAt: m.now(),
	}
	if err := m.store.SetLastPayment(ctx, sid, p); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, ErrUnauthenticated
		}
		return nil, fmt.Errorf("payment: store payment: %w", err)
	}

	m.metrics.Cashout(ctx, "ok")
	m.audit.Log(ctx, audit.Event{
		Action:    audit.ActionCashoutInitiated,
		SessionID: sid,
		UserID:    p.UserID,
		Payload:   paymentPayload(p),
	})

	m.submit(ctx, p.Clone())
	return p, nil
}

// submit hands p to the provider without holding any session lock. A provider
// error, cancellation or timeout fails the payment.
func (m *Manager) submit(ctx context.Context, p *models.Payment) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.opts.ProviderTimeout)
		defer cancel()

		res := provider.AwaitPayment(cctx, m.provider.CreatePayment(cctx, provider.PaymentRequest{
			PaymentID: p.PaymentID,
			UID:       p.UserID,
			Amount:    p.Amount,
			Memo:      p.Memo,
		}))

		bg := context.WithoutCancel(ctx)
		switch {
		case res.Err != nil || res.Status == "cancelled":
			reason := "cancelled by provider"
			if res.Err != nil {
				reason = res.Err.Error()
			}
			log.Printf("payment: provider submission of %s failed: %s", p.PaymentID, reason)
			m.audit.Log(bg, audit.Event{
				Action:    audit.ActionPaymentFailed,
				SessionID: p.SessionID,
				UserID:    p.UserID,
				Payload: map[string]any{
					"payment_id": p.PaymentID,
					"reason":     reason,
					"provider":   m.provider.Name(),
				},
			})
			m.apply(bg, p.PaymentID, models.PaymentFailed, Extra{Reason: reason})
		case res.Status == string(models.PaymentApproved) || res.Status == string(models.PaymentCompleted):
			m.apply(bg, p.PaymentID, models.PaymentStatus(res.Status), Extra{})
		}
	}()
}

func (m *Manager) apply(ctx context.Context, paymentID string, status models.PaymentStatus, extra Extra) {
	if _, err := m.ApplyStatus(ctx, paymentID, status, extra); err != nil {
		log.Printf("payment: apply %s to %s: %v", status, paymentID, err)
	}
}

// Wait blocks until every background provider submission has finished.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// ApplyStatus moves the payment identified by paymentID to status. A payment
// not held in any slot, or held past the retention window, is Unmatched; a
// non-forward edge is Rejected. Neither is an error.
func (m *Manager) ApplyStatus(ctx context.Context, paymentID string, status models.PaymentStatus, extra Extra) (Outcome, error) {
	if !status.Valid() {
		return 0, fmt.Errorf("payment: unknown status %q", status)
	}

	cutoff := m.now().Add(-m.opts.Retention)
	var from models.PaymentStatus
	var sid, uid string
	err := m.store.UpdatePayment(ctx, paymentID, func(p *models.Payment) error {
		from, sid, uid = p.Status, p.SessionID, p.UserID
		// webhooks never carry the owner's cookie, so the per-request sweep may not have run
		if p.CreatedAt.Before(cutoff) {
			return errExpired
		}
		if !p.Status.CanTransitionTo(status) {
			return errRejected
		}
		p.Status = status
		switch status {
		case models.PaymentCompleted:
			if extra.TxID != "" {
				p.TxID = extra.TxID
			}
		case models.PaymentFailed:
			p.Reason = extra.Reason
		}
		return nil
	})

	if errors.Is(err, errExpired) {
		cleared, cerr := m.store.ClearLastPaymentBefore(ctx, sid, cutoff)
		if cerr != nil {
			return 0, fmt.Errorf("payment: expire %s: %w", paymentID, cerr)
		}
		if cleared {
			m.logExpired(ctx, sid, uid, paymentID)
		}
		err = session.ErrPaymentNotFound
	}

	switch {
	case errors.Is(err, session.ErrPaymentNotFound):
		m.metrics.Transition(ctx, Unmatched.String(), string(status))
		m.audit.Log(ctx, audit.Event{
			Action: audit.ActionPaymentUnmatched,
			Payload: map[string]any{
				"payment_id": paymentID,
				"status":     string(status),
			},
		})
		return Unmatched, nil
	case errors.Is(err, errRejected):
		m.metrics.Transition(ctx, Rejected.String(), string(status))
		m.audit.Log(ctx, audit.Event{
			Action:    audit.ActionTransitionRejected,
			SessionID: sid,
			UserID:    uid,
			Payload: map[string]any{
				"payment_id": paymentID,
				"from":       string(from),
				"to":         string(status),
			},
		})
		return Rejected, nil
	case err != nil:
		return 0, fmt.Errorf("payment: update %s: %w", paymentID, err)
	}

	m.metrics.Transition(ctx, Applied.String(), string(status))
	payload := map[string]any{
		"payment_id": paymentID,
		"from":       string(from),
		"to":         string(status),
	}
	if extra.Amount.Valid {
		payload["amount"] = extra.Amount.Decimal.String()
	}
	if extra.TxID != "" && status == models.PaymentCompleted {
		payload["txid"] = extra.TxID
	}
	if extra.Reason != "" {
		payload["reason"] = extra.Reason
	}
	m.audit.Log(ctx, audit.Event{
		Action:    audit.ActionStatusChanged,
		SessionID: sid,
		UserID:    uid,
		Payload:   payload,
	})
	return Applied, nil
}

// ExpireStale drops the session's payment slot once it is older than the
// retention window. It is a passive check run per request.
func (m *Manager) ExpireStale(ctx context.Context, sid string) (bool, error) {
	p, err := m.store.GetLastPayment(ctx, sid)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if p == nil {
		return false, nil
	}

	cleared, err := m.store.ClearLastPaymentBefore(ctx, sid, m.now().Add(-m.opts.Retention))
	if err != nil || !cleared {
		return false, err
	}
	m.logExpired(ctx, sid, p.UserID, p.PaymentID)
	return true, nil
}

func (m *Manager) logExpired(ctx context.Context, sid, uid, paymentID string) {
	m.audit.Log(ctx, audit.Event{
		Action:    audit.ActionPaymentExpired,
		SessionID: sid,
		UserID:    uid,
		Payload: map[string]any{
			"payment_id":        paymentID,
			"retention_seconds": int64(m.opts.Retention / time.Second),
		},
	})
}

func paymentPayload(p *models.Payment) map[string]any {
	return map[string]any{
		"payment_id": p.PaymentID,
		"uid":        p.UserID,
		"amount":     p.Amount.String(),
		"memo":       p.Memo,
		"status":     string(p.Status),
		"created_at": p.CreatedAt.Format(time.RFC3339),
		"testnet":    true,
	}
}
