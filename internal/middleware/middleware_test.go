package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/emplant2000/piphp/internal/audit"
	"github.com/emplant2000/piphp/internal/auth"
	"github.com/emplant2000/piphp/internal/payment"
	"github.com/emplant2000/piphp/internal/provider"
	"github.com/emplant2000/piphp/internal/session"
	"github.com/emplant2000/piphp/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

const testSecret = "middleware-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

func TestSessionCookie_IssuesAndReuses(t *testing.T) {
	r := gin.New()
	r.Use(SessionCookie("pi_session", testSecret, time.Hour, false))
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, SessionID(c)) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	cookies := w.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != "pi_session" {
		t.Fatalf("cookies = %+v", cookies)
	}
	sid := w.Body.String()
	if sid == "" {
		t.Fatal("no session id bound")
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookies[0])
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Body.String() != sid {
		t.Errorf("sid = %q, want %q", w.Body.String(), sid)
	}
	if len(w.Result().Cookies()) != 0 {
		t.Error("valid cookie should not be reissued")
	}
}

func TestSessionCookie_ReplacesForgedToken(t *testing.T) {
	r := gin.New()
	r.Use(SessionCookie("pi_session", testSecret, time.Hour, false))
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, SessionID(c)) })

	forged, _ := util.GenerateSessionToken("other-secret", "victim-sid", time.Hour)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "pi_session", Value: forged})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Body.String() == "victim-sid" {
		t.Error("forged cookie accepted")
	}
	if len(w.Result().Cookies()) != 1 {
		t.Error("forged cookie should be replaced")
	}
}

func newManagers(t *testing.T) (*auth.Manager, *payment.Manager) {
	t.Helper()
	store := session.NewMemoryStore()
	rec := audit.NewRecorder(&audit.MemorySink{})
	prov := provider.NewMock()
	am := auth.NewManager(store, prov, rec, nil, time.Hour)
	pm := payment.NewManager(store, prov, rec, nil, payment.Options{
		MinAmount: decimal.Zero,
		MaxAmount: decimal.NewFromInt(100),
		Retention: 24 * time.Hour,
	})
	t.Cleanup(pm.Wait)
	return am, pm
}

// fixedSession binds a known session id in place of SessionCookie.
func fixedSession(sid string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(CtxSessionID, sid)
		c.Next()
	}
}

func TestRequireAuth(t *testing.T) {
	am, _ := newManagers(t)
	r := gin.New()
	r.Use(fixedSession("sid"), RequireAuth(am))
	r.GET("/me", func(c *gin.Context) {
		sess, ok := CurrentSession(c)
		if !ok {
			c.Status(http.StatusTeapot)
			return
		}
		c.String(http.StatusOK, sess.Username)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/me", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous = %d, want 401", w.Code)
	}

	if _, err := am.Login(context.Background(), "sid", "alice", ""); err != nil {
		t.Fatalf("Login: %v", err)
	}
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/me", nil))
	if w.Code != http.StatusOK || w.Body.String() != "alice" {
		t.Errorf("authenticated = %d %q", w.Code, w.Body.String())
	}
}

func TestLifecycle_ExpiredSession(t *testing.T) {
	am, pm := newManagers(t)
	r := gin.New()
	r.Use(fixedSession("sid"), Lifecycle(am, pm))
	r.Any("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	login := func() {
		am.SetClock(func() time.Time { return time.Now().UTC() })
		if _, err := am.Login(context.Background(), "sid", "alice", ""); err != nil {
			t.Fatalf("Login: %v", err)
		}
		am.SetClock(func() time.Time { return time.Now().UTC().Add(2 * time.Hour) })
	}

	login()
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/?page=dashboard", nil))
	if w.Code != http.StatusSeeOther || w.Header().Get("Location") != "/" {
		t.Errorf("expired page view = %d %q", w.Code, w.Header().Get("Location"))
	}

	login()
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/?webhook=pi_callback", nil))
	if w.Code != http.StatusOK {
		t.Errorf("webhook after expiry = %d, want 200", w.Code)
	}
	if am.IsAuthenticated(context.Background(), "sid") {
		t.Error("expired session survived the webhook request")
	}
}
