package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentStatus is the lifecycle state of a cashout.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentApproved  PaymentStatus = "approved"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
)

// forward-only edges; completed and failed are terminal
var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentPending:  {PaymentApproved, PaymentCompleted, PaymentFailed},
	PaymentApproved: {PaymentCompleted, PaymentFailed},
}

// Valid reports whether s is one of the known statuses.
func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentPending, PaymentApproved, PaymentCompleted, PaymentFailed:
		return true
	}
	return false
}

// Terminal reports whether no transition may leave s.
func (s PaymentStatus) Terminal() bool {
	return s == PaymentCompleted || s == PaymentFailed
}

// CanTransitionTo reports whether moving from s to next is a forward edge.
func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	for _, allowed := range paymentTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Payment is the single payment slot retained on a session.
// Amount is stored as text so the submitted precision survives a round trip.
type Payment struct {
	ID        uint            `gorm:"primaryKey"`
	SessionID string          `gorm:"size:64;uniqueIndex;not null"`
	PaymentID string          `gorm:"size:64;uniqueIndex;not null"`
	UserID    string          `gorm:"size:128;index"`
	Amount    decimal.Decimal `gorm:"type:text;not null"`
	Status    PaymentStatus   `gorm:"size:16;index;not null"`
	Memo      string          `gorm:"size:255"`
	TxID      string          `gorm:"size:128"` // set only once completed
	Reason    string          `gorm:"size:255"` // failure reason, if any
	CreatedAt time.Time       `gorm:"index"`
	UpdatedAt time.Time
}

// Clone returns a copy of p, or nil.
func (p *Payment) Clone() *Payment {
	if p == nil {
		return nil
	}
	out := *p
	return &out
}
