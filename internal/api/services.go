package api

import (
	"encoding/json"
	"net/http"

	"github.com/ashureev/prestador-desk/internal/domain"
	"github.com/ashureev/prestador-desk/internal/locale"
	"github.com/go-chi/chi/v5"
)

// AvailableServices lists open requests a provider can bid on.
func (h *Handler) AvailableServices(w http.ResponseWriter, r *http.Request) {
	items, err := h.backend.AvailableServices(r.Context(), h.token())
	if err != nil {
		h.fail(r.Context(), w, err, locale.ServerError)
		return
	}
	JSON(w, http.StatusOK, serviceList(items))
}

// MyServices lists requests assigned to the provider.
func (h *Handler) MyServices(w http.ResponseWriter, r *http.Request) {
	items, err := h.backend.MyServices(r.Context(), h.token())
	if err != nil {
		h.fail(r.Context(), w, err, locale.ServerError)
		return
	}
	JSON(w, http.StatusOK, serviceList(items))
}

func serviceList(items []domain.ServiceItem) []domain.ServiceItem {
	if items == nil {
		return []domain.ServiceItem{}
	}
	return items
}

// GetService returns one request.
func (h *Handler) GetService(w http.ResponseWriter, r *http.Request) {
	item, err := h.backend.Service(r.Context(), h.token(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(r.Context(), w, err, locale.ServerError)
		return
	}
	JSON(w, http.StatusOK, item)
}

// FinalizeService marks a request as completed.
func (h *Handler) FinalizeService(w http.ResponseWriter, r *http.Request) {
	msg, err := h.backend.FinalizeService(r.Context(), h.token(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(r.Context(), w, err, locale.ServerError)
		return
	}
	Message(w, http.StatusOK, h.catalog.Or(msg, locale.ServiceFinalized))
}

// SendOffer proposes a price for a request.
func (h *Handler) SendOffer(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Value json.Number `json:"valor"`
	}
	if err := decodeBody(w, r, &body); err != nil {
		h.fail(r.Context(), w, err, locale.OfferInvalid)
		return
	}
	value, err := body.Value.Float64()
	if err != nil {
		Error(w, http.StatusBadRequest, h.catalog.Lookup(locale.OfferInvalid))
		return
	}

	offer := domain.Offer{ServiceID: chi.URLParam(r, "id"), Value: value}
	msg, err := h.backend.SendOffer(r.Context(), h.token(), offer)
	if err != nil {
		h.fail(r.Context(), w, err, locale.OfferInvalid)
		return
	}
	h.logger.Info("Offer sent", "service_id", offer.ServiceID)
	Message(w, http.StatusOK, h.catalog.Or(msg, locale.OfferSent))
}
