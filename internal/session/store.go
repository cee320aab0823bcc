// Package session holds per-browser authentication state and the single payment slot.
//
// Every operation is keyed by the session id the transport layer binds to a cookie;
// the store itself never looks at requests.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/emplant2000/piphp/internal/models"
)

var (
	// ErrNotFound is returned when no session exists for the id.
	ErrNotFound = errors.New("session: not found")
	// ErrPaymentNotFound is returned when no session slot holds the payment id.
	ErrPaymentNotFound = errors.New("session: payment not found")
)

// Store is the Session Store. Implementations serialize read-modify-write of a
// session's payment slot so concurrent requests of one session cannot lose updates.
type Store interface {
	Get(ctx context.Context, id string) (*models.Session, error)
	// Create replaces any session already bound to id, dropping its payment slot.
	Create(ctx context.Context, id, userID, username string, loginTime time.Time) (*models.Session, error)
	// Destroy is idempotent.
	Destroy(ctx context.Context, id string) error
	// PruneBefore removes sessions logged in before cutoff, with their slots,
	// and reports how many it removed.
	PruneBefore(ctx context.Context, cutoff time.Time) (int, error)

	SetLastPayment(ctx context.Context, id string, p *models.Payment) error
	// GetLastPayment returns nil, nil when the slot is empty.
	GetLastPayment(ctx context.Context, id string) (*models.Payment, error)
	// UpdatePayment runs fn on a copy of the slot holding paymentID under that
	// session's lock and stores the copy when fn returns nil.
	UpdatePayment(ctx context.Context, paymentID string, fn func(p *models.Payment) error) error
	// ClearLastPaymentBefore drops the slot when it was created before cutoff.
	ClearLastPaymentBefore(ctx context.Context, id string, cutoff time.Time) (bool, error)

	SetFlash(ctx context.Context, id, msg string) error
	// TakeFlash returns the pending message and clears it.
	TakeFlash(ctx context.Context, id string) (string, error)
}
