// Package chatws streams a conversation view to the browser over WebSocket.
package chatws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ashureev/prestador-desk/internal/chat"
	"github.com/ashureev/prestador-desk/internal/domain"
	"github.com/ashureev/prestador-desk/internal/identity"
	"github.com/ashureev/prestador-desk/internal/locale"
	"github.com/ashureev/prestador-desk/internal/shared"
	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
)

// Frame types exchanged with the browser.
const (
	FrameSnapshot = "snapshot"
	FrameMessage  = "message"
	FrameStatus   = "status"
	FrameError    = "error"
	FramePong     = "pong"

	FrameSend    = "send"
	FrameRefresh = "refresh"
	FramePing    = "ping"
)

// Config wires the handler.
type Config struct {
	Views         *chat.ViewManager
	Deps          chat.Deps
	Optimistic    bool
	Limiter       *shared.RateLimiter
	Catalog       *locale.Catalog
	AllowedOrigin string
	IsDev         bool
	OutboxSize    int
	Logger        *slog.Logger
}

// Handler serves /ws/chats/{id}.
type Handler struct {
	cfg    Config
	logger *slog.Logger
}

// NewHandler creates a conversation stream handler.
func NewHandler(cfg Config) *Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Deps.Logger == nil {
		cfg.Deps.Logger = cfg.Logger
	}
	return &Handler{cfg: cfg, logger: cfg.Logger}
}

// serverFrame is sent to the browser.
type serverFrame struct {
	Type         string               `json:"type"`
	Conversation *domain.Conversation `json:"conversation,omitempty"`
	Room         string               `json:"room,omitempty"`
	Messages     []domain.Message     `json:"messages,omitempty"`
	History      string               `json:"history,omitempty"`
	Channel      string               `json:"channel,omitempty"`
	Degraded     *bool                `json:"degraded,omitempty"`
	Error        string               `json:"error,omitempty"`
}

// clientFrame is received from the browser.
type clientFrame struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
}

// ServeHTTP implements http.Handler for the WebSocket upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conversationID := strings.TrimSpace(chi.URLParam(r, "id"))
	screenID := identity.ScreenIDFromContext(r.Context())
	token := identity.TokenFromContext(r.Context())
	logger := h.logger.With("conversation_id", conversationID, "screen_id", screenID)
	logger.Info("Chat stream requested", "ip", identity.IPFromRequest(r))

	if conversationID == "" {
		http.Error(w, "conversation id required", http.StatusBadRequest)
		return
	}
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		logger.Error("Failed to accept WebSocket", "error", err)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "conversation closed"); closeErr != nil {
			logger.Debug("Failed to close websocket", "error", closeErr)
		}
	}()

	out := newOutbox(ws, h.cfg.OutboxSize, logger)
	defer out.close()

	view := chat.NewView(h.cfg.Deps, chat.Options{
		Optimistic: h.cfg.Optimistic,
		OnEvent: func(e chat.Event) {
			f := h.eventFrame(e)
			out.push(f.Type, f)
		},
	})

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if err := view.Mount(ctx, conversationID, token); err != nil {
		logger.Warn("Failed to mount conversation view", "error", err)
		out.push("", serverFrame{Type: FrameError, Error: h.message(err)})
		out.flush(time.Second)
		return
	}
	h.cfg.Views.Register(screenID, conversationID, view)
	defer func() {
		view.Unmount()
		h.cfg.Views.Unregister(screenID, conversationID, view)
	}()

	view.Sync(func(s chat.Status, conv domain.Conversation, msgs []domain.Message) {
		out.push(FrameSnapshot, h.snapshotFrame(s, conv, msgs))
	})

	// A replacement view for the same screen ends this stream.
	done := view.Done()
	go func() {
		select {
		case <-done:
			cancel()
		case <-ctx.Done():
		}
	}()

	h.inputLoop(ctx, ws, view, out, logger)
	logger.Info("Chat stream ended")
}

func (h *Handler) inputLoop(ctx context.Context, ws *websocket.Conn, view *chat.View, out *outbox, logger *slog.Logger) {
	userID := identity.UserIDFromContext(ctx)
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || ctx.Err() != nil {
				logger.Debug("WebSocket closed", "error", err)
			} else {
				logger.Warn("WebSocket read error", "error", err)
			}
			return
		}

		var frame clientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			out.push("", serverFrame{Type: FrameError, Error: h.cfg.Catalog.Lookup(locale.InvalidInput)})
			continue
		}

		switch frame.Type {
		case FrameSend:
			if h.cfg.Limiter != nil && !h.cfg.Limiter.Allow(userID) {
				out.push("", serverFrame{Type: FrameError, Error: h.cfg.Catalog.Lookup(locale.RateLimited)})
				continue
			}
			if err := view.Send(ctx, frame.Content); err != nil {
				logger.Warn("Send failed", "error", err)
				out.push("", serverFrame{Type: FrameError, Error: h.message(err)})
				if domain.IsAuthError(err) && h.cfg.Deps.Session != nil {
					h.cfg.Deps.Session.HandleAuthError(ctx, err)
					return
				}
			}
		case FrameRefresh:
			if err := view.Refresh(ctx); err != nil {
				out.push("", serverFrame{Type: FrameError, Error: h.message(err)})
			}
		case FramePing:
			out.push("", serverFrame{Type: FramePong})
		default:
			logger.Debug("Ignoring unknown frame", "type", frame.Type)
		}
	}
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.cfg.IsDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.cfg.AllowedOrigin == "*" {
		return true
	}
	if origin == h.cfg.AllowedOrigin {
		return true
	}
	h.logger.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.cfg.AllowedOrigin)
	return false
}

// message maps an error to user-visible text: the server's own message when
// present, otherwise a catalog fallback.
func (h *Handler) message(err error) string {
	c := h.cfg.Catalog
	var ce *domain.ChannelError
	switch {
	case domain.IsAuthError(err):
		return c.Lookup(locale.SessionExpired)
	case errors.Is(err, domain.ErrInvalidInput):
		return c.Lookup(locale.InvalidInput)
	case errors.As(err, &ce):
		return c.Lookup(locale.SendFailed)
	default:
		return c.Or(domain.ServerMessage(err), locale.HistoryFailed)
	}
}

// eventFrame renders an event. Message frames carry the whole ordered
// sequence; the browser replaces its list with it.
func (h *Handler) eventFrame(e chat.Event) serverFrame {
	if e.Kind == chat.EventMessages {
		return serverFrame{Type: FrameMessage, Messages: e.All}
	}
	return h.statusFrame(FrameStatus, e.Status)
}

func (h *Handler) statusFrame(typ string, s chat.Status) serverFrame {
	degraded := s.Degraded
	f := serverFrame{
		Type:     typ,
		Room:     s.Room,
		History:  s.History.String(),
		Channel:  s.Channel.String(),
		Degraded: &degraded,
	}
	if s.HistoryErr != nil {
		f.Error = h.message(s.HistoryErr)
	}
	return f
}

func (h *Handler) snapshotFrame(s chat.Status, conv domain.Conversation, msgs []domain.Message) serverFrame {
	f := h.statusFrame(FrameSnapshot, s)
	f.Conversation = &conv
	f.Messages = msgs
	return f
}
