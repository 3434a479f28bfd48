package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// RegisterRoutes mounts the public and session-protected API routes.
// requireSession guards everything that needs a signed-in provider.
func (h *Handler) RegisterRoutes(r chi.Router, requireSession func(http.Handler) http.Handler) {
	r.Get("/health", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Get("/session", h.GetSession)
		r.Post("/login", h.Login)
		r.Post("/login/code", h.LoginWithCode)
		r.Post("/register", h.Register)

		r.Group(func(r chi.Router) {
			r.Use(requireSession)

			r.Post("/logout", h.Logout)
			r.Post("/session/reload", h.ReloadSession)

			r.Get("/services/available", h.AvailableServices)
			r.Get("/services/mine", h.MyServices)
			r.Get("/services/{id}", h.GetService)
			r.Patch("/services/{id}/finalize", h.FinalizeService)
			r.Post("/services/{id}/offer", h.SendOffer)

			r.Get("/chats", h.MyChats)

			r.Post("/account/password", h.ChangePassword)
			r.Post("/account/profile", h.UpdateProfile)
		})
	})
}
