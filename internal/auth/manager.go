// Package auth gates every payment operation behind a live, non-expired session.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/emplant2000/piphp/internal/audit"
	"github.com/emplant2000/piphp/internal/metrics"
	"github.com/emplant2000/piphp/internal/models"
	"github.com/emplant2000/piphp/internal/provider"
	"github.com/emplant2000/piphp/internal/session"
	"github.com/emplant2000/piphp/internal/util"

	"github.com/google/uuid"
)

var (
	ErrUsernameRequired = errors.New("auth: username is required")
	ErrProviderRejected = errors.New("auth: provider rejected the credential")
)

// Manager creates and destroys sessions and enforces the idle timeout.
type Manager struct {
	store    session.Store
	provider provider.Provider
	audit    audit.Logger
	metrics  *metrics.Recorder
	timeout  time.Duration
	now      func() time.Time
}

// NewManager builds a Manager. timeout is measured from login time.
func NewManager(store session.Store, p provider.Provider, al audit.Logger, m *metrics.Recorder, timeout time.Duration) *Manager {
	if al == nil {
		al = audit.NewRecorder()
	}
	return &Manager{
		store:    store,
		provider: p,
		audit:    al,
		metrics:  m,
		timeout:  timeout,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source.
func (m *Manager) SetClock(now func() time.Time) { m.now = now }

// Timeout returns the configured idle timeout.
func (m *Manager) Timeout() time.Duration { return m.timeout }

// Session returns the stored session for sid, or nil for anonymous visitors.
func (m *Manager) Session(ctx context.Context, sid string) (*models.Session, error) {
	sess, err := m.store.Get(ctx, sid)
	if errors.Is(err, session.ErrNotFound) {
		return nil, nil
	}
	return sess, err
}

// IsAuthenticated is true iff a session exists for sid and satisfies the login invariant.
func (m *Manager) IsAuthenticated(ctx context.Context, sid string) bool {
	sess, err := m.Session(ctx, sid)
	if err != nil {
		log.Printf("auth: load session: %v", err)
		return false
	}
	return sess.IsAuthenticated()
}

// CheckTimeout destroys an authenticated session older than the timeout and
// reports whether it did. Must run before any other session logic.
func (m *Manager) CheckTimeout(ctx context.Context, sid string) (bool, error) {
	sess, err := m.Session(ctx, sid)
	if err != nil {
		return false, err
	}
	if !sess.IsAuthenticated() {
		return false, nil
	}
	age := sess.Age(m.now())
	if age <= m.timeout {
		return false, nil
	}
	if err := m.store.Destroy(ctx, sid); err != nil {
		return false, fmt.Errorf("auth: destroy expired session: %w", err)
	}
	m.audit.Log(ctx, audit.Event{
		Action:    audit.ActionSessionExpired,
		SessionID: sid,
		UserID:    sess.UserID,
		Payload: map[string]any{
			"uid":         sess.UserID,
			"age_seconds": int64(age / time.Second),
		},
	})
	return true, nil
}

// Login authenticates username/uid with the provider and creates the session.
// An empty uid is replaced by a generated test uid. Nothing is stored on failure.
func (m *Manager) Login(ctx context.Context, sid, username, uid string) (*models.Session, error) {
	username = strings.TrimSpace(username)
	uid = strings.TrimSpace(uid)
	if username == "" {
		m.metrics.Login(ctx, "invalid")
		return nil, ErrUsernameRequired
	}
	if err := util.ValidateUsername(username); err != nil {
		m.metrics.Login(ctx, "invalid")
		return nil, fmt.Errorf("auth: %w", err)
	}
	if uid == "" {
		uid = "test_uid_" + uuid.NewString()
	}

	res := provider.AwaitAuth(ctx, m.provider.Authenticate(ctx, uid))
	if res.Err != nil || !res.Authenticated {
		m.metrics.Login(ctx, "rejected")
		if res.Err != nil {
			return nil, fmt.Errorf("%w: %v", ErrProviderRejected, res.Err)
		}
		return nil, ErrProviderRejected
	}
	if res.UID != "" {
		uid = res.UID
	}

	sess, err := m.store.Create(ctx, sid, uid, username, m.now())
	if err != nil {
		m.metrics.Login(ctx, "error")
		return nil, fmt.Errorf("auth: create session: %w", err)
	}
	m.metrics.Login(ctx, "ok")
	// sessions whose browser never came back are only reclaimed here
	if n, err := m.store.PruneBefore(ctx, m.now().Add(-m.timeout)); err != nil {
		log.Printf("auth: prune expired sessions: %v", err)
	} else if n > 0 {
		log.Printf("auth: pruned %d expired sessions", n)
	}
	m.audit.Log(ctx, audit.Event{
		Action:    audit.ActionLogin,
		SessionID: sid,
		UserID:    uid,
		Payload: map[string]any{
			"uid":      uid,
			"username": username,
			"provider": m.provider.Name(),
		},
	})
	return sess, nil
}

// LoginNewSession logs in under a freshly generated session id and discards
// prevSID, so an id handed out before login never becomes authenticated.
// The returned session carries the new id.
func (m *Manager) LoginNewSession(ctx context.Context, prevSID, username, uid string) (*models.Session, error) {
	sess, err := m.Login(ctx, uuid.NewString(), username, uid)
	if err != nil {
		return nil, err
	}
	if prevSID != "" && prevSID != sess.ID {
		if err := m.store.Destroy(ctx, prevSID); err != nil {
			log.Printf("auth: discard pre-login session: %v", err)
		}
	}
	return sess, nil
}

// Logout destroys the session unconditionally.
func (m *Manager) Logout(ctx context.Context, sid string) error {
	sess, _ := m.Session(ctx, sid)
	if err := m.store.Destroy(ctx, sid); err != nil {
		return fmt.Errorf("auth: destroy session: %w", err)
	}
	ev := audit.Event{Action: audit.ActionLogout, SessionID: sid, Payload: map[string]any{}}
	if sess != nil {
		ev.UserID = sess.UserID
		ev.Payload["uid"] = sess.UserID
	}
	m.audit.Log(ctx, ev)
	return nil
}
