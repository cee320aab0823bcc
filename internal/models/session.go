package models

import "time"

// Session is the server-held state bound to one browser context.
// A row only exists for an authenticated context; anonymous visitors just carry a cookie.
type Session struct {
	ID            string     `gorm:"primaryKey;size:64"` // cookie-bound session id (UUID)
	UserID        string     `gorm:"size:128;index"`
	Username      string     `gorm:"size:128"`
	Authenticated bool       `gorm:"not null;default:false"`
	LoginTime     *time.Time `gorm:"index"`
	Flash         string     `gorm:"size:512"` // one-shot message shown on the next view
	CreatedAt     time.Time
	UpdatedAt     time.Time

	LastPayment *Payment `gorm:"foreignKey:SessionID;references:ID;constraint:OnDelete:CASCADE"`
}

// IsAuthenticated reports whether the session satisfies the login invariant:
// authenticated iff user id and login time are both set.
func (s *Session) IsAuthenticated() bool {
	return s != nil && s.Authenticated && s.UserID != "" && s.LoginTime != nil
}

// Age returns how long ago the user logged in. Zero for anonymous sessions.
func (s *Session) Age(now time.Time) time.Duration {
	if s == nil || s.LoginTime == nil {
		return 0
	}
	return now.Sub(*s.LoginTime)
}

// Clone returns a deep copy so callers never share the stored slot.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	if s.LoginTime != nil {
		t := *s.LoginTime
		out.LoginTime = &t
	}
	out.LastPayment = s.LastPayment.Clone()
	return &out
}
