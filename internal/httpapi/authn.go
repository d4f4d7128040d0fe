package httpapi

import (
	"net/http"
	"strings"
	"time"

	"tessera.dev/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// sessionToken takes the session from the cookie, falling back to a bearer
// header for non-browser clients.
func (a *API) sessionToken(r *http.Request) string {
	if c, err := r.Cookie(a.opts.Cookie.Name); err == nil && strings.TrimSpace(c.Value) != "" {
		return strings.TrimSpace(c.Value)
	}
	header := strings.TrimSpace(r.Header.Get(authHeader))
	if len(header) > len(bearer) && strings.EqualFold(header[:len(bearer)], bearer) {
		return strings.TrimSpace(header[len(bearer):])
	}
	return ""
}

func (a *API) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := a.sessionToken(r)
		if raw == "" {
			writeError(w, r, http.StatusUnauthorized, codeUnauthorized, "authentication required")
			return
		}
		session, err := a.svc.VerifySession(r.Context(), raw)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.ContextWithSession(r.Context(), session)))
	})
}

func (a *API) setSessionCookie(w http.ResponseWriter, value string, expires time.Time) {
	c := a.baseCookie()
	c.Value = value
	c.Expires = expires.UTC()
	c.MaxAge = int(a.svc.SessionTTL().Seconds())
	http.SetCookie(w, c)
}

func (a *API) clearSessionCookie(w http.ResponseWriter) {
	c := a.baseCookie()
	c.MaxAge = -1
	c.Expires = time.Unix(0, 0)
	http.SetCookie(w, c)
}

func (a *API) baseCookie() *http.Cookie {
	c := &http.Cookie{
		Name:     a.opts.Cookie.Name,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   a.opts.Cookie.Secure,
	}
	if a.opts.Cookie.CrossSite {
		c.SameSite = http.SameSiteNoneMode
		c.Secure = true
	}
	return c
}
