package httpapi

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"tessera.dev/internal/auth"
	"tessera.dev/internal/claims"
	"tessera.dev/internal/ott"
)

type loginRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	NextURLBase string `json:"next_url_base,omitempty"`
}

type loginResponse struct {
	OK               bool   `json:"ok"`
	OTT              string `json:"ott"`
	ExpiresInSeconds int64  `json:"expires_in_seconds"`
	NextURL          string `json:"next_url"`
	Token            string `json:"token"`
}

type exchangeRequest struct {
	OTT string `json:"ott"`
}

type exchangeResponse struct {
	OK     bool          `json:"ok"`
	Claims claims.Claims `json:"claims"`
}

type registerRequest struct {
	Email           string `json:"email"`
	Password        string `json:"password"`
	FirstName       string `json:"first_name"`
	LastName        string `json:"last_name"`
	Role            string `json:"role,omitempty"`
	ApplicationName string `json:"application_name,omitempty"`
}

type changePasswordRequest struct {
	Email           string `json:"email"`
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, codeBadInput, err.Error())
		return
	}
	base, err := a.nextURLBase(req.NextURLBase)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, codeBadInput, err.Error())
		return
	}

	res, err := a.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrUnauthorized) {
			writeError(w, r, http.StatusUnauthorized, codeAuthFailed, "invalid email or password")
			return
		}
		handleAuthError(w, r, err)
		return
	}

	a.setSessionCookie(w, res.Session, res.SessionExpiresAt)
	writeJSON(w, http.StatusOK, loginResponse{
		OK:               true,
		OTT:              res.Ticket.Token,
		ExpiresInSeconds: res.Ticket.ExpiresInSeconds,
		NextURL:          withOTT(base, res.Ticket.Token),
		Token:            res.Session,
	})
}

// nextURLBase accepts a caller-supplied redirect base only when its origin is
// one of the allowed front ends.
func (a *API) nextURLBase(requested string) (*url.URL, error) {
	requested = strings.TrimSpace(requested)
	if requested == "" {
		requested = a.opts.NextURLBase
		u, err := url.Parse(requested)
		if err != nil {
			return nil, errors.New("configured next url base is invalid")
		}
		return u, nil
	}
	u, err := url.Parse(requested)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, errors.New("next_url_base must be an absolute URL")
	}
	origin := u.Scheme + "://" + u.Host
	for _, o := range a.opts.AllowedOrigins {
		if strings.TrimRight(o, "/") == origin {
			return u, nil
		}
	}
	if def, err := url.Parse(a.opts.NextURLBase); err == nil && def.Scheme+"://"+def.Host == origin {
		return u, nil
	}
	return nil, errors.New("next_url_base origin is not allowed")
}

func withOTT(base *url.URL, token string) string {
	u := *base
	q := u.Query()
	q.Set("ott", token)
	u.RawQuery = q.Encode()
	return u.String()
}

func (a *API) handleExchange(w http.ResponseWriter, r *http.Request) {
	var req exchangeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, codeBadInput, err.Error())
		return
	}
	c, err := a.svc.Exchange(r.Context(), req.OTT)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, exchangeResponse{OK: true, Claims: c})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	raw := a.sessionToken(r)
	if raw == "" {
		writeError(w, r, http.StatusUnauthorized, codeUnauthorized, "authentication required")
		return
	}
	profile, err := a.svc.Me(r.Context(), raw, r.URL.Query().Get("application_name"))
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	a.clearSessionCookie(w)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (a *API) handleCheckEmail(w http.ResponseWriter, r *http.Request) {
	exists, err := a.svc.CheckEmail(r.Context(), r.URL.Query().Get("email"))
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "exists": exists})
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, codeBadInput, err.Error())
		return
	}
	u, err := a.svc.Register(r.Context(), auth.RegisterInput{
		Email:           req.Email,
		Password:        req.Password,
		FirstName:       req.FirstName,
		LastName:        req.LastName,
		Role:            req.Role,
		ApplicationName: req.ApplicationName,
	})
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"ok":      true,
		"user_id": u.ID,
		"email":   u.Email,
	})
}

func (a *API) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, codeBadInput, err.Error())
		return
	}
	if err := a.svc.ChangePassword(r.Context(), req.Email, req.CurrentPassword, req.NewPassword); err != nil {
		if errors.Is(err, auth.ErrUnauthorized) {
			writeError(w, r, http.StatusUnauthorized, codeAuthFailed, "invalid email or password")
			return
		}
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (a *API) handleListUsers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := optionalInt(q.Get("page"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, codeBadInput, "page must be an integer")
		return
	}
	size, err := optionalInt(q.Get("page_size"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, codeBadInput, "page_size must be an integer")
		return
	}
	res, err := a.svc.ListUsers(r.Context(), page, size)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	w.Header().Set("X-Total-Count", strconv.Itoa(res.Total))
	w.Header().Set("X-Page", strconv.Itoa(res.Page))
	w.Header().Set("X-Page-Size", strconv.Itoa(res.PageSize))
	writeJSON(w, http.StatusOK, res.Users)
}

func optionalInt(v string) (int, error) {
	if strings.TrimSpace(v) == "" {
		return 0, nil
	}
	return strconv.Atoi(strings.TrimSpace(v))
}

func handleAuthError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, codeBadInput, err.Error())
	case errors.Is(err, ott.ErrNotFoundOrExpired):
		writeError(w, r, http.StatusBadRequest, codeOTTExpired, "invalid or expired one-time token")
	case errors.Is(err, auth.ErrUnauthorized):
		writeError(w, r, http.StatusUnauthorized, codeUnauthorized, "invalid or expired session")
	case errors.Is(err, auth.ErrConflict):
		writeError(w, r, http.StatusConflict, codeEmailExists, "email is already registered")
	case errors.Is(err, auth.ErrApplicationNotFound):
		writeError(w, r, http.StatusBadRequest, codeAppNotFound, err.Error())
	case errors.Is(err, auth.ErrActionsNotFound):
		writeError(w, r, http.StatusBadRequest, codeActionsNotFound, err.Error())
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, codeNotFound, "resource not found")
	default:
		writeError(w, r, http.StatusInternalServerError, codeInternal, "internal error")
	}
}
