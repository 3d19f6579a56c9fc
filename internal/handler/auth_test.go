package handler

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/dukerupert/debrief/internal/auth"
	"github.com/dukerupert/debrief/internal/middleware"
	"github.com/dukerupert/debrief/internal/store"
)

func newAuthHandler(env *testEnv) (*AuthHandler, *auth.Signer) {
	signer := auth.NewSigner("test-secret")
	return NewAuthHandler(
		store.NewIdentityStore(env.db),
		store.NewUserStore(env.db),
		store.NewSessionStore(env.db),
		store.NewMagicLinkStore(env.db),
		signer,
		false,
		env.logger,
	), signer
}

func postForm(path string, form url.Values) *http.Request {
	req := httptest.NewRequest("POST", path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func TestLoginUnknownEmail(t *testing.T) {
	env := setupEnv(t)
	h, _ := newAuthHandler(env)

	rec := httptest.NewRecorder()
	h.Login(rec, postForm("/login", url.Values{"email": {"nobody@example.com"}}))
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnprocessableEntity)
	}
}

// login runs the sign-in step and returns the code from the redirect.
func login(t *testing.T, h *AuthHandler, email string) string {
	t.Helper()
	rec := httptest.NewRecorder()
	h.Login(rec, postForm("/login", url.Values{"email": {email}}))
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("login status = %d, want %d: %s", rec.Code, http.StatusSeeOther, rec.Body.String())
	}
	loc, err := url.Parse(rec.Header().Get("Location"))
	if err != nil {
		t.Fatalf("parse location: %v", err)
	}
	if loc.Path != "/login/verify" {
		t.Fatalf("redirect path = %q, want /login/verify", loc.Path)
	}
	code := loc.Query().Get("code")
	if len(code) != 6 {
		t.Fatalf("code = %q, want 6 digits", code)
	}
	return code
}

func TestLoginAndVerify(t *testing.T) {
	env := setupEnv(t)
	h, signer := newAuthHandler(env)

	code := login(t, h, "  IVOR@example.com ")

	rec := httptest.NewRecorder()
	h.Verify(rec, postForm("/login/verify", url.Values{"email": {"ivor@example.com"}, "code": {code}}))
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("verify status = %d, want %d: %s", rec.Code, http.StatusSeeOther, rec.Body.String())
	}
	if loc := rec.Header().Get("Location"); loc != "/" {
		t.Errorf("Location = %q, want /", loc)
	}

	var cookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == middleware.SessionCookieName {
			cookie = c
		}
	}
	if cookie == nil {
		t.Fatal("session cookie not set")
	}
	token, err := signer.Verify(cookie.Value)
	if err != nil {
		t.Fatalf("verify cookie: %v", err)
	}
	sess, err := store.NewSessionStore(env.db).GetByToken(token)
	if err != nil || sess == nil {
		t.Fatalf("session lookup = %v, %v", sess, err)
	}
	if sess.IdentityID != env.identity.ID {
		t.Errorf("identity = %d, want %d", sess.IdentityID, env.identity.ID)
	}

	// codes are single use
	rec = httptest.NewRecorder()
	h.Verify(rec, postForm("/login/verify", url.Values{"email": {"ivor@example.com"}, "code": {code}}))
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("reuse status = %d, want %d", rec.Code, http.StatusUnprocessableEntity)
	}
}

func TestVerifyInvalidCode(t *testing.T) {
	env := setupEnv(t)
	h, _ := newAuthHandler(env)
	code := login(t, h, "ivor@example.com")

	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}
	rec := httptest.NewRecorder()
	h.Verify(rec, postForm("/login/verify", url.Values{"email": {"ivor@example.com"}, "code": {wrong}}))
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnprocessableEntity)
	}
	if len(rec.Result().Cookies()) != 0 {
		t.Error("no cookie expected on failure")
	}
}

func TestLogout(t *testing.T) {
	env := setupEnv(t)
	h, _ := newAuthHandler(env)
	sessions := store.NewSessionStore(env.db)
	sess, err := sessions.Create(env.identity.ID, "test", "127.0.0.1")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	req := httptest.NewRequest("DELETE", "/logout", nil)
	req = req.WithContext(auth.WithAuth(req.Context(), auth.AuthContext{
		UserID:    env.user.ID,
		SessionID: sess.ID,
	}))
	rec := httptest.NewRecorder()
	h.Logout(rec, req)

	if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != "/login" {
		t.Errorf("got %d %q, want 303 /login", rec.Code, rec.Header().Get("Location"))
	}
	if got, _ := sessions.GetByToken(sess.Token); got != nil {
		t.Error("session should be deleted")
	}
}
