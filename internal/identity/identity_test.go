package identity

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ashureev/prestador-desk/internal/domain"
	"github.com/ashureev/prestador-desk/internal/locale"
)

type fakeGate struct {
	session *domain.Session
}

func (g *fakeGate) IsAuthenticated() bool { return g.session.Complete() }
func (g *fakeGate) Session() *domain.Session { return g.session.Snapshot() }

func TestRequireSessionRejectsAnonymous(t *testing.T) {
	called := false
	h := RequireSession(&fakeGate{}, locale.MustNew("en"))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/chats", nil))

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
	if called {
		t.Error("next handler ran without a session")
	}
}

func TestRequireSessionAttachesContext(t *testing.T) {
	gate := &fakeGate{session: &domain.Session{Identity: domain.Identity{"id": "42"}, Token: "tok"}}

	var userID, token, screen string
	h := RequireSession(gate, locale.MustNew(""))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID = UserIDFromContext(r.Context())
		token = TokenFromContext(r.Context())
		screen = ScreenIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/ws/chats/1?screen_id=tab-2", nil)
	h.ServeHTTP(httptest.NewRecorder(), req)
	if userID != "42" || token != "tok" || screen != "tab-2" {
		t.Errorf("userID=%q token=%q screen=%q", userID, token, screen)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/chats", nil)
	req.Header.Set(ScreenHeaderName, "tab-9")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if screen != "tab-9" {
		t.Errorf("header screen = %q", screen)
	}
}

func TestScreenIDSanitised(t *testing.T) {
	for _, raw := range []string{"", "   ", "bad id!", string(make([]byte, 200))} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(ScreenHeaderName, raw)
		if got := ScreenIDFromRequest(req); got != DefaultScreenID {
			t.Errorf("ScreenIDFromRequest(%q) = %q, want default", raw, got)
		}
	}
}
