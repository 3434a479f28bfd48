// Package api provides HTTP handlers for the local desk API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ashureev/prestador-desk/internal/auth"
	"github.com/ashureev/prestador-desk/internal/backend"
	"github.com/ashureev/prestador-desk/internal/chat"
	"github.com/ashureev/prestador-desk/internal/domain"
	"github.com/ashureev/prestador-desk/internal/locale"
	"github.com/ashureev/prestador-desk/internal/store"
)

// maxBodyBytes bounds request bodies accepted from the browser.
const maxBodyBytes = 1 << 20

// Handler provides common handler utilities.
type Handler struct {
	auth    *auth.Controller
	backend *backend.Client
	store   store.SessionStore
	views   *chat.ViewManager
	catalog *locale.Catalog
	logger  *slog.Logger
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(ctrl *auth.Controller, client *backend.Client, s store.SessionStore, views *chat.ViewManager, catalog *locale.Catalog, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		auth:    ctrl,
		backend: client,
		store:   s,
		views:   views,
		catalog: catalog,
		logger:  logger,
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// Message writes a JSON informational response.
func Message(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"message": message})
}

// decodeBody reads a JSON request body into v.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.Join(domain.ErrInvalidInput, err)
	}
	return nil
}

// fail maps err onto a response. Upstream credential rejections force a
// sign-out. Server text is shown verbatim; otherwise fallback is used.
func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, err error, fallback string) {
	var fe *domain.FetchError
	var se *domain.StorageError
	switch {
	case domain.IsAuthError(err):
		h.auth.HandleAuthError(ctx, err)
		h.views.CloseAll()
		Error(w, http.StatusUnauthorized, h.catalog.Lookup(locale.SessionExpired))
	case errors.Is(err, domain.ErrInvalidInput):
		Error(w, http.StatusBadRequest, h.catalog.Or(domain.ServerMessage(err), fallback))
	case errors.Is(err, backend.ErrNoToken):
		Error(w, http.StatusBadGateway, h.catalog.Or(domain.ServerMessage(err), locale.NoToken))
	case errors.As(err, &fe) && fe.Status == 0:
		h.logger.Warn("Backend unreachable", "error", err)
		Error(w, http.StatusBadGateway, h.catalog.Lookup(locale.ServerUnreachable))
	case errors.As(err, &fe) && fe.Status < 500:
		Error(w, fe.Status, h.catalog.Or(fe.Message, fallback))
	case errors.As(err, &fe):
		Error(w, http.StatusBadGateway, h.catalog.Or(fe.Message, locale.ServerError))
	case errors.As(err, &se):
		h.logger.Error("Session storage failed", "error", err)
		Error(w, http.StatusInternalServerError, h.catalog.Lookup(locale.ServerError))
	default:
		h.logger.Error("Request failed", "error", err)
		Error(w, http.StatusInternalServerError, h.catalog.Lookup(fallback))
	}
}

// token returns the current bearer token.
func (h *Handler) token() string {
	return h.auth.Token()
}
