package api

import (
	"net/http"

	"github.com/ashureev/prestador-desk/internal/domain"
	"github.com/ashureev/prestador-desk/internal/locale"
)

// MyChats lists the provider's conversations.
func (h *Handler) MyChats(w http.ResponseWriter, r *http.Request) {
	chats, err := h.backend.MyChats(r.Context(), h.token())
	if err != nil {
		h.fail(r.Context(), w, err, locale.ServerError)
		return
	}
	if chats == nil {
		chats = []domain.ConversationSummary{}
	}
	JSON(w, http.StatusOK, chats)
}
