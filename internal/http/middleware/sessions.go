package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/posuite/request-guard/internal/security"
)

// Sessions decodes the signed session cookie and stores the session id in the
// request context. A missing, forged or expired cookie leaves the request anonymous.
func Sessions(codec *security.SessionCookieCodec) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := security.GetCookie(r, security.SessionCookieName)
			if raw == "" {
				next.ServeHTTP(w, r)
				return
			}
			sessionID, err := codec.Decode(raw)
			if err != nil {
				slog.DebugContext(r.Context(), "ignoring invalid session cookie", "path", r.URL.Path)
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithSessionID(r.Context(), sessionID)))
		})
	}
}

func SetSessionCookie(w http.ResponseWriter, codec *security.SessionCookieCodec, sessionID string, ttl time.Duration, secure bool) error {
	value, err := codec.Encode(sessionID, ttl)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     security.SessionCookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}
