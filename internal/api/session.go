package api

import (
	"net/http"

	"github.com/ashureev/prestador-desk/internal/backend"
	"github.com/ashureev/prestador-desk/internal/domain"
	"github.com/ashureev/prestador-desk/internal/locale"
)

// sessionResponse is what the browser sees of the session. The bearer
// token never leaves the daemon.
type sessionResponse struct {
	State         string          `json:"state"`
	Authenticated bool            `json:"authenticated"`
	User          domain.Identity `json:"user,omitempty"`
	Message       string          `json:"message,omitempty"`
}

func (h *Handler) sessionView(message string) sessionResponse {
	resp := sessionResponse{
		State:         h.auth.State().String(),
		Authenticated: h.auth.IsAuthenticated(),
		Message:       message,
	}
	if s := h.auth.Session(); s != nil {
		resp.User = s.Identity
	}
	return resp
}

// GetSession reports the current authentication state.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, h.sessionView(""))
}

// Login signs in with login and password.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var creds domain.Credentials
	if err := decodeBody(w, r, &creds); err != nil {
		h.fail(r.Context(), w, err, locale.InvalidInput)
		return
	}
	result, err := h.backend.Login(r.Context(), creds)
	if err != nil {
		h.logger.Warn("Login failed", "error", err)
		h.fail(r.Context(), w, err, locale.LoginFailed)
		return
	}
	h.signIn(w, r, result, "")
}

// LoginWithCode signs in with a one-off service code.
func (h *Handler) LoginWithCode(w http.ResponseWriter, r *http.Request) {
	var body domain.ServiceCode
	if err := decodeBody(w, r, &body); err != nil {
		h.fail(r.Context(), w, err, locale.InvalidInput)
		return
	}
	result, err := h.backend.LoginWithCode(r.Context(), body.Code)
	if err != nil {
		h.logger.Warn("Login with code failed", "error", err)
		h.fail(r.Context(), w, err, locale.LoginFailed)
		return
	}
	h.signIn(w, r, result, "")
}

// Register creates a provider account, signing in when the backend
// returns a session straight away.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var payload map[string]any
	if err := decodeBody(w, r, &payload); err != nil {
		h.fail(r.Context(), w, err, locale.InvalidInput)
		return
	}
	result, err := h.backend.Register(r.Context(), payload)
	if err != nil {
		h.logger.Warn("Registration failed", "error", err)
		h.fail(r.Context(), w, err, locale.ServerError)
		return
	}
	message := h.catalog.Or(result.Message, locale.RegisterDone)
	if result.Session == nil {
		JSON(w, http.StatusCreated, h.sessionView(message))
		return
	}
	h.signIn(w, r, result.Session, message)
}

func (h *Handler) signIn(w http.ResponseWriter, r *http.Request, result *backend.LoginResult, message string) {
	if err := h.auth.SignIn(r.Context(), result.Identity, result.Token); err != nil {
		h.fail(r.Context(), w, err, locale.LoginFailed)
		return
	}
	JSON(w, http.StatusOK, h.sessionView(message))
}

// Logout closes every open conversation and clears the session.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	h.views.CloseAll()
	if err := h.auth.SignOut(r.Context()); err != nil {
		h.fail(r.Context(), w, err, locale.ServerError)
		return
	}
	JSON(w, http.StatusOK, h.sessionView(h.catalog.Lookup(locale.SignedOut)))
}

// ReloadSession re-reads the stored session.
func (h *Handler) ReloadSession(w http.ResponseWriter, r *http.Request) {
	if err := h.auth.ReloadUser(r.Context()); err != nil {
		h.fail(r.Context(), w, err, locale.ServerError)
		return
	}
	if !h.auth.IsAuthenticated() {
		h.views.CloseAll()
	}
	JSON(w, http.StatusOK, h.sessionView(""))
}
