// Package provider is the capability boundary to the payment network.
//
// Calls are asynchronous: each returns a channel that delivers exactly one
// result and is then closed, so a network-bound implementation can replace
// the mock without changing callers.
package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/emplant2000/piphp/internal/config"

	"github.com/shopspring/decimal"
)

// ErrNotAuthenticated is reported when the provider refuses the credential.
var ErrNotAuthenticated = errors.New("provider: user not authenticated")

// AuthResult is the outcome of Authenticate.
type AuthResult struct {
	Authenticated bool
	UID           string
	Username      string
	Testnet       bool
	Err           error
}

// PaymentRequest describes an app-to-user payment.
type PaymentRequest struct {
	PaymentID string
	UID       string
	Amount    decimal.Decimal
	Memo      string
}

// PaymentResult is the outcome of CreatePayment.
type PaymentResult struct {
	ProviderPaymentID string
	Status            string
	Testnet           bool
	Err               error
}

// Provider is the payment network.
type Provider interface {
	Name() string
	Authenticate(ctx context.Context, credential string) <-chan AuthResult
	CreatePayment(ctx context.Context, req PaymentRequest) <-chan PaymentResult
}

// New selects the implementation configured by provider.mode.
func New(cfg config.ProviderConfig) (Provider, error) {
	switch cfg.Mode {
	case "", "mock":
		return NewMock(), nil
	case "pi":
		return NewPiClient(cfg.BaseURL, cfg.APIKey, nil)
	default:
		return nil, fmt.Errorf("provider: unknown mode %q", cfg.Mode)
	}
}

// AwaitAuth waits for an auth result or ctx cancellation.
func AwaitAuth(ctx context.Context, ch <-chan AuthResult) AuthResult {
	select {
	case res, ok := <-ch:
		if !ok {
			return AuthResult{Err: errors.New("provider: auth channel closed without result")}
		}
		return res
	case <-ctx.Done():
		return AuthResult{Err: ctx.Err()}
	}
}

// AwaitPayment waits for a payment result or ctx cancellation.
func AwaitPayment(ctx context.Context, ch <-chan PaymentResult) PaymentResult {
	select {
	case res, ok := <-ch:
		if !ok {
			return PaymentResult{Err: errors.New("provider: payment channel closed without result")}
		}
		return res
	case <-ctx.Done():
		return PaymentResult{Err: ctx.Err()}
	}
}
