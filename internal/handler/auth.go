package handler

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/dukerupert/debrief/internal/auth"
	"github.com/dukerupert/debrief/internal/middleware"
	"github.com/dukerupert/debrief/internal/store"
)

type AuthHandler struct {
	identityStore  *store.IdentityStore
	userStore      *store.UserStore
	sessionStore   *store.SessionStore
	magicLinkStore *store.MagicLinkStore
	signer         *auth.Signer
	secureCookies  bool
	logger         *slog.Logger
}

func NewAuthHandler(
	is *store.IdentityStore,
	us *store.UserStore,
	ss *store.SessionStore,
	mls *store.MagicLinkStore,
	signer *auth.Signer,
	secureCookies bool,
	logger *slog.Logger,
) *AuthHandler {
	return &AuthHandler{
		identityStore:  is,
		userStore:      us,
		sessionStore:   ss,
		magicLinkStore: mls,
		signer:         signer,
		secureCookies:  secureCookies,
		logger:         logger,
	}
}

// Login handles POST /login. There is no mail delivery, so the code is
// handed straight to the verify step.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	emailAddr := store.NormalizeEmail(r.FormValue("email"))
	if emailAddr == "" {
		writeError(w, http.StatusUnprocessableEntity, "email is required")
		return
	}

	identity, err := h.identityStore.GetByEmail(emailAddr)
	if err != nil {
		h.logger.Error("login lookup", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if identity == nil {
		writeError(w, http.StatusUnprocessableEntity, "unknown email address")
		return
	}

	ml, err := h.magicLinkStore.Create(identity.ID)
	if err != nil {
		h.logger.Error("create magic link", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	q := url.Values{"email": {identity.EmailAddress}, "code": {ml.Code}}
	http.Redirect(w, r, "/login/verify?"+q.Encode(), http.StatusSeeOther)
}

// Verify handles POST /login/verify
func (h *AuthHandler) Verify(w http.ResponseWriter, r *http.Request) {
	emailAddr := store.NormalizeEmail(r.FormValue("email"))
	code := strings.TrimSpace(r.FormValue("code"))
	if emailAddr == "" || code == "" {
		writeError(w, http.StatusUnprocessableEntity, "email and code are required")
		return
	}

	identity, err := h.identityStore.GetByEmail(emailAddr)
	if err != nil {
		h.logger.Error("verify lookup", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if identity == nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid or expired code")
		return
	}

	ml, err := h.magicLinkStore.Consume(identity.ID, code)
	if err != nil {
		h.logger.Error("consume magic link", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if ml == nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid or expired code")
		return
	}

	sess, err := h.sessionStore.Create(identity.ID, r.UserAgent(), middleware.RealIP(r))
	if err != nil {
		h.logger.Error("create session", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	value, err := h.signer.Sign(sess.Token, sess.ExpiresAt)
	if err != nil {
		h.logger.Error("sign session", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	middleware.SetSessionCookie(w, value, sess.ExpiresAt, h.secureCookies)

	h.logger.Info("signed in", "identity_id", identity.ID, "session_id", sess.ID)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// Logout handles DELETE /logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if id := auth.SessionID(r.Context()); id != 0 {
		if err := h.sessionStore.Delete(id); err != nil {
			h.logger.Error("delete session", "error", err)
		}
	}
	middleware.ClearSessionCookie(w)
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

// LoginPage handles GET /login
func (h *AuthHandler) LoginPage(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "sign in required"})
}

// VerifyPage handles GET /login/verify, echoing the values the verify form
// would be prefilled with.
func (h *AuthHandler) VerifyPage(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	writeJSON(w, http.StatusOK, map[string]string{
		"email": q.Get("email"),
		"code":  q.Get("code"),
	})
}
