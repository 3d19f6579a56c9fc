package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/debrief/internal/auth"
	"github.com/dukerupert/debrief/internal/model"
)

const SessionCookieName = "debrief_session"

type SessionLookup interface {
	GetByToken(token string) (*model.Session, error)
	Touch(id int64) error
}

type UserLookup interface {
	FirstForIdentity(identityID int64) (*model.User, error)
}

// RequireAuth verifies the signed session cookie, loads the session and its
// user, and populates AuthContext. Any failure redirects to /login.
func RequireAuth(signer *auth.Signer, sessions SessionLookup, users UserLookup, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(SessionCookieName)
			if err != nil || cookie.Value == "" {
				redirectToLogin(w, r)
				return
			}

			token, err := signer.Verify(cookie.Value)
			if err != nil {
				redirectToLogin(w, r)
				return
			}

			sess, err := sessions.GetByToken(token)
			if err != nil || sess == nil {
				redirectToLogin(w, r)
				return
			}

			user, err := users.FirstForIdentity(sess.IdentityID)
			if err != nil || user == nil {
				redirectToLogin(w, r)
				return
			}

			if err := sessions.Touch(sess.ID); err != nil {
				logger.Warn("touch session", "session_id", sess.ID, "error", err)
			}

			ac := auth.AuthContext{
				UserID:     user.ID,
				IdentityID: sess.IdentityID,
				SessionID:  sess.ID,
				UserName:   user.Name,
			}

			ctx := auth.WithAuth(r.Context(), ac)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// SetSessionCookie writes the signed session cookie.
func SetSessionCookie(w http.ResponseWriter, value string, expires time.Time, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    value,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func ClearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func redirectToLogin(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}
