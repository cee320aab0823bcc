package provider

import (
	"context"

	"github.com/google/uuid"
)

// Mock is the testnet stand-in for the Pi SDK: every credential authenticates
// and every payment is accepted as pending.
type Mock struct{}

func NewMock() *Mock { return &Mock{} }

func (*Mock) Name() string { return "mock" }

func (*Mock) Authenticate(ctx context.Context, credential string) <-chan AuthResult {
	ch := make(chan AuthResult, 1)
	if err := ctx.Err(); err != nil {
		ch <- AuthResult{Err: err}
	} else {
		ch <- AuthResult{Authenticated: true, UID: credential, Testnet: true}
	}
	close(ch)
	return ch
}

func (*Mock) CreatePayment(ctx context.Context, req PaymentRequest) <-chan PaymentResult {
	ch := make(chan PaymentResult, 1)
	if err := ctx.Err(); err != nil {
		ch <- PaymentResult{Err: err}
	} else {
		ch <- PaymentResult{
			ProviderPaymentID: "test_" + uuid.NewString(),
			Status:            "pending",
			Testnet:           true,
		}
	}
	close(ch)
	return ch
}
