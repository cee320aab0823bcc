package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/emplant2000/piphp/internal/audit"
	"github.com/emplant2000/piphp/internal/models"
	"github.com/emplant2000/piphp/internal/provider"
	"github.com/emplant2000/piphp/internal/session"

	"github.com/shopspring/decimal"
)

type rejectingProvider struct{ *provider.Mock }

func (rejectingProvider) Authenticate(context.Context, string) <-chan provider.AuthResult {
	ch := make(chan provider.AuthResult, 1)
	ch <- provider.AuthResult{Err: provider.ErrNotAuthenticated}
	close(ch)
	return ch
}

func newTestManager(t *testing.T, p provider.Provider) (*Manager, session.Store, *audit.MemorySink) {
	t.Helper()
	store := session.NewMemoryStore()
	sink := &audit.MemorySink{}
	if p == nil {
		p = provider.NewMock()
	}
	return NewManager(store, p, audit.NewRecorder(sink), nil, time.Hour), store, sink
}

func TestLogin_GeneratesUID(t *testing.T) {
	m, _, sink := newTestManager(t, nil)
	ctx := context.Background()

	sess, err := m.Login(ctx, "sid", "  alice ", "")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if !strings.HasPrefix(sess.UserID, "test_uid_") {
		t.Errorf("UserID = %q, want generated test_uid_ prefix", sess.UserID)
	}
	if sess.Username != "alice" {
		t.Errorf("Username = %q, want alice", sess.Username)
	}
	if !m.IsAuthenticated(ctx, "sid") {
		t.Error("IsAuthenticated = false after login")
	}

	evs := sink.Events()
	if len(evs) != 1 || evs[0].Action != audit.ActionLogin {
		t.Fatalf("audit = %v, want one login", sink.Actions())
	}
	if evs[0].Payload["uid"] != sess.UserID || evs[0].Payload["username"] != "alice" {
		t.Errorf("login payload = %v", evs[0].Payload)
	}
}

func TestLogin_KeepsProvidedUID(t *testing.T) {
	m, _, _ := newTestManager(t, nil)
	sess, err := m.Login(context.Background(), "sid", "bob", "uid-42")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if sess.UserID != "uid-42" {
		t.Errorf("UserID = %q, want uid-42", sess.UserID)
	}
}

func TestLogin_EmptyUsername(t *testing.T) {
	m, store, sink := newTestManager(t, nil)
	ctx := context.Background()

	for _, name := range []string{"", "   "} {
		if _, err := m.Login(ctx, "sid", name, "uid"); !errors.Is(err, ErrUsernameRequired) {
			t.Errorf("Login(%q) err = %v, want ErrUsernameRequired", name, err)
		}
	}
	if _, err := store.Get(ctx, "sid"); !errors.Is(err, session.ErrNotFound) {
		t.Errorf("session created on failed login: %v", err)
	}
	if len(sink.Events()) != 0 {
		t.Errorf("failed login audited: %v", sink.Actions())
	}
}

func TestLogin_ProviderRejects(t *testing.T) {
	m, store, _ := newTestManager(t, rejectingProvider{provider.NewMock()})
	ctx := context.Background()

	if _, err := m.Login(ctx, "sid", "alice", "token"); !errors.Is(err, ErrProviderRejected) {
		t.Fatalf("err = %v, want ErrProviderRejected", err)
	}
	if _, err := store.Get(ctx, "sid"); !errors.Is(err, session.ErrNotFound) {
		t.Errorf("session created after provider rejection: %v", err)
	}
}

func TestCheckTimeout(t *testing.T) {
	m, _, sink := newTestManager(t, nil)
	ctx := context.Background()
	loginAt := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	m.SetClock(func() time.Time { return loginAt })

	if _, err := m.Login(ctx, "sid", "alice", ""); err != nil {
		t.Fatalf("Login: %v", err)
	}

	m.SetClock(func() time.Time { return loginAt.Add(3600 * time.Second) })
	expired, err := m.CheckTimeout(ctx, "sid")
	if err != nil || expired {
		t.Fatalf("at exactly the timeout: expired=%v err=%v", expired, err)
	}

	m.SetClock(func() time.Time { return loginAt.Add(3601 * time.Second) })
	expired, err = m.CheckTimeout(ctx, "sid")
	if err != nil || !expired {
		t.Fatalf("after the timeout: expired=%v err=%v", expired, err)
	}
	if m.IsAuthenticated(ctx, "sid") {
		t.Error("session still authenticated after timeout")
	}
	if sink.Count(audit.ActionSessionExpired) != 1 {
		t.Errorf("audit = %v, want one session_expired", sink.Actions())
	}

	expired, err = m.CheckTimeout(ctx, "sid")
	if err != nil || expired {
		t.Errorf("second check: expired=%v err=%v", expired, err)
	}
}

func TestCheckTimeout_Anonymous(t *testing.T) {
	m, _, _ := newTestManager(t, nil)
	expired, err := m.CheckTimeout(context.Background(), "nobody")
	if err != nil || expired {
		t.Errorf("anonymous: expired=%v err=%v", expired, err)
	}
}

func TestLogout_RoundTrip(t *testing.T) {
	m, store, sink := newTestManager(t, nil)
	ctx := context.Background()

	sess, _ := m.Login(ctx, "sid", "alice", "")
	store.SetLastPayment(ctx, "sid", &models.Payment{
		PaymentID: "pay-1",
		UserID:    sess.UserID,
		Amount:    decimal.NewFromInt(5),
		Status:    models.PaymentPending,
		CreatedAt: time.Now().UTC(),
	})

	if err := m.Logout(ctx, "sid"); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if m.IsAuthenticated(ctx, "sid") {
		t.Error("IsAuthenticated = true after logout")
	}
	if _, err := store.GetLastPayment(ctx, "sid"); !errors.Is(err, session.ErrNotFound) {
		t.Errorf("GetLastPayment after logout: err = %v, want ErrNotFound", err)
	}
	if err := m.Logout(ctx, "sid"); err != nil {
		t.Errorf("second Logout: %v", err)
	}
	if sink.Count(audit.ActionLogout) != 2 {
		t.Errorf("audit = %v, want two logout entries", sink.Actions())
	}
}

func TestLoginNewSession_DiscardsPreviousID(t *testing.T) {
	m, store, _ := newTestManager(t, nil)
	ctx := context.Background()

	// an earlier login bound to the id the browser presents
	m.Login(ctx, "pre", "mallory", "")

	sess, err := m.LoginNewSession(ctx, "pre", "alice", "")
	if err != nil {
		t.Fatalf("LoginNewSession: %v", err)
	}
	if sess.ID == "" || sess.ID == "pre" {
		t.Fatalf("session id = %q, want a fresh id", sess.ID)
	}
	if !m.IsAuthenticated(ctx, sess.ID) {
		t.Error("new id is not authenticated")
	}
	if _, err := store.Get(ctx, "pre"); !errors.Is(err, session.ErrNotFound) {
		t.Errorf("previous id survived: err = %v", err)
	}

	if _, err := m.LoginNewSession(ctx, sess.ID, "", ""); !errors.Is(err, ErrUsernameRequired) {
		t.Fatalf("empty username: err = %v", err)
	}
	if !m.IsAuthenticated(ctx, sess.ID) {
		t.Error("failed login discarded the current session")
	}
}

func TestLogin_PrunesAbandonedSessions(t *testing.T) {
	m, store, _ := newTestManager(t, nil)
	ctx := context.Background()
	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	m.SetClock(func() time.Time { return start })
	m.Login(ctx, "abandoned", "bob", "")

	m.SetClock(func() time.Time { return start.Add(2 * time.Hour) })
	if _, err := m.Login(ctx, "sid", "alice", ""); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if _, err := store.Get(ctx, "abandoned"); !errors.Is(err, session.ErrNotFound) {
		t.Errorf("abandoned session kept: err = %v", err)
	}
	if !m.IsAuthenticated(ctx, "sid") {
		t.Error("new session pruned")
	}
}
