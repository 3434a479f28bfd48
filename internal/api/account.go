package api

import (
	"net/http"

	"github.com/ashureev/prestador-desk/internal/domain"
	"github.com/ashureev/prestador-desk/internal/identity"
	"github.com/ashureev/prestador-desk/internal/locale"
)

type passwordRequest struct {
	CurrentPassword string `json:"senhaAtual"`
	NewPassword     string `json:"novaSenha"`
}

// ChangePassword updates the account password. E-mail and role come from
// the signed-in identity.
func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var body passwordRequest
	if err := decodeBody(w, r, &body); err != nil {
		h.fail(r.Context(), w, err, locale.InvalidInput)
		return
	}

	session := identity.SessionFromContext(r.Context())
	change := domain.PasswordChange{
		Email:           session.Identity.Email(),
		Role:            session.Identity.Role(),
		CurrentPassword: body.CurrentPassword,
		NewPassword:     body.NewPassword,
	}
	msg, err := h.backend.ChangePassword(r.Context(), session.Token, change)
	if err != nil {
		h.fail(r.Context(), w, err, locale.InvalidInput)
		return
	}
	Message(w, http.StatusOK, h.catalog.Or(msg, locale.PasswordChanged))
}

// UpdateProfile sends a partial profile update, then stores the merged
// identity so every screen sees the new values.
func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var patch map[string]string
	if err := decodeBody(w, r, &patch); err != nil {
		h.fail(r.Context(), w, err, locale.InvalidInput)
		return
	}

	session := identity.SessionFromContext(r.Context())
	msg, err := h.backend.UpdateProfile(r.Context(), session.Token, patch)
	if err != nil {
		h.fail(r.Context(), w, err, locale.InvalidInput)
		return
	}
	if err := h.auth.UpdateIdentity(r.Context(), session.Identity.Merge(patch)); err != nil {
		h.fail(r.Context(), w, err, locale.ServerError)
		return
	}
	h.logger.Info("Profile updated", "user_id", session.Identity.ID())
	JSON(w, http.StatusOK, h.sessionView(h.catalog.Or(msg, locale.ProfileUpdated)))
}
