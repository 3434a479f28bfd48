// Package realtime maintains the live chat connection to the backend.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/prestador-desk/internal/auth"
	"github.com/ashureev/prestador-desk/internal/domain"
	"github.com/coder/websocket"
)

// State of a channel handle.
type State int

const (
	StateClosed State = iota
	StateConnecting
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	default:
		return "closed"
	}
}

const (
	emitTimeout  = 5 * time.Second
	maxFrameSize = 1 << 20
)

// Config controls dialing and reconnection.
type Config struct {
	URL string
	// MaxRetries bounds reconnect attempts after a failure; -1 retries forever.
	MaxRetries   int
	BackoffBase  time.Duration
	BackoffMax   time.Duration
	PingInterval time.Duration
	DialTimeout  time.Duration
	HTTPClient   *http.Client
	Metrics      *Metrics
	Logger       *slog.Logger
}

// Handlers receive channel events. Both run on the handle's reader
// goroutine, in receipt order, and must not block for long.
type Handlers struct {
	Message func(domain.Message)
	State   func(State)
}

// Dialer opens channel handles.
type Dialer struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

// NewDialer builds a Dialer, filling defaults.
func NewDialer(cfg Config) (*Dialer, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("realtime url is required")
	}
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, fmt.Errorf("parse realtime url: %w", err)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 500 * time.Millisecond
	}
	if cfg.BackoffMax < cfg.BackoffBase {
		cfg.BackoffMax = 30 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 25 * time.Second
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.MaxRetries < -1 {
		cfg.MaxRetries = -1
	}
	return &Dialer{cfg: cfg, logger: cfg.Logger, now: time.Now}, nil
}

// Handle is one conversation's live connection.
type Handle struct {
	conversationID string
	token          string
	dialer         *Dialer
	handlers       Handlers
	logger         *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	state   State
	conn    *websocket.Conn
	join    domain.JoinState
	closing bool

	closeOnce sync.Once
}

// Open connects, authenticates and joins conversationID.
//
// A missing or expired token, or a handshake rejected with 401/403, returns
// an AuthError and no handle. Any other connect failure returns the handle
// in StateConnecting together with a ChannelError; the handle keeps
// retrying in the background.
func (d *Dialer) Open(ctx context.Context, conversationID, token string, handlers Handlers) (*Handle, error) {
	if strings.TrimSpace(conversationID) == "" {
		return nil, &domain.ChannelError{Op: "open", Err: fmt.Errorf("%w: conversation id is required", domain.ErrInvalidInput)}
	}
	if err := auth.CheckToken(token, d.now()); err != nil {
		return nil, err
	}

	hctx, cancel := context.WithCancel(context.Background())
	h := &Handle{
		conversationID: conversationID,
		token:          token,
		dialer:         d,
		handlers:       handlers,
		logger:         d.logger.With("conversation_id", conversationID),
		ctx:            hctx,
		cancel:         cancel,
		done:           make(chan struct{}),
	}
	h.setState(StateConnecting)

	conn, err := d.dial(ctx, conversationID, token)
	if err == nil {
		if err = h.attach(conn); err != nil {
			_ = conn.CloseNow()
		}
	}
	if err != nil {
		if domain.IsAuthError(err) {
			cancel()
			close(h.done)
			h.setState(StateClosed)
			return nil, err
		}
		d.cfg.Metrics.RecordConnectFailure()
		h.logger.Warn("Realtime connect failed, retrying in background", "error", err)
		go h.run(nil)
		return h, &domain.ChannelError{Op: "open", Err: err}
	}

	go h.run(conn)
	return h, nil
}

func (d *Dialer) dial(ctx context.Context, conversationID, token string) (*websocket.Conn, error) {
	u, err := url.Parse(d.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse realtime url: %w", err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()

	dialCtx, cancel := context.WithTimeout(ctx, d.cfg.DialTimeout)
	defer cancel()

	conn, resp, err := websocket.Dial(dialCtx, u.String(), &websocket.DialOptions{
		HTTPClient: d.cfg.HTTPClient,
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + token}},
	})
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, &domain.AuthError{Op: "realtime handshake", Err: fmt.Errorf("status %d: %w", resp.StatusCode, err)}
		}
		return nil, fmt.Errorf("dial %s: %w", conversationID, err)
	}
	conn.SetReadLimit(maxFrameSize)
	return conn, nil
}

// attach installs conn and joins the room. The join is written under mu so
// Close observes either no join or a completed one.
func (h *Handle) attach(conn *websocket.Conn) error {
	h.mu.Lock()
	if h.closing {
		h.mu.Unlock()
		return errors.New("handle closed")
	}
	ctx, cancel := context.WithTimeout(h.ctx, emitTimeout)
	err := writeEvent(ctx, conn, EventJoin, h.conversationID)
	cancel()
	if err != nil {
		h.mu.Unlock()
		return fmt.Errorf("join %s: %w", h.conversationID, err)
	}
	h.conn = conn
	h.join = domain.Joined
	h.mu.Unlock()

	h.dialer.cfg.Metrics.channelOpened()
	h.logger.Info("Realtime channel joined")
	h.setState(StateOpen)
	return nil
}

// detach forgets conn after it dropped.
func (h *Handle) detach(conn *websocket.Conn) {
	h.mu.Lock()
	wasJoined := h.conn == conn && h.join == domain.Joined
	if h.conn == conn {
		h.conn = nil
		h.join = domain.NotJoined
	}
	h.mu.Unlock()
	if wasJoined {
		h.dialer.cfg.Metrics.channelLost()
	}
	_ = conn.CloseNow()
}

func (h *Handle) run(conn *websocket.Conn) {
	defer close(h.done)

	attempt := 0
	for {
		if conn != nil {
			attempt = 0
			h.serve(conn)
			h.detach(conn)
			conn = nil
			if h.isClosing() {
				return
			}
			h.logger.Warn("Realtime connection lost, reconnecting")
			h.setState(StateConnecting)
		}

		attempt++
		if limit := h.dialer.cfg.MaxRetries; limit >= 0 && attempt > limit {
			h.logger.Warn("Realtime reconnect attempts exhausted", "attempts", attempt-1)
			h.setState(StateClosed)
			return
		}
		if !h.sleep(h.dialer.backoff(attempt)) {
			return
		}

		h.dialer.cfg.Metrics.RecordReconnect()
		next, err := h.dialer.dial(h.ctx, h.conversationID, h.token)
		if err != nil {
			h.dialer.cfg.Metrics.RecordConnectFailure()
			if domain.IsAuthError(err) {
				h.logger.Warn("Realtime handshake rejected", "error", err)
				h.setState(StateClosed)
				return
			}
			h.logger.Debug("Realtime reconnect failed", "attempt", attempt, "error", err)
			continue
		}
		if err := h.attach(next); err != nil {
			_ = next.CloseNow()
			if h.isClosing() {
				return
			}
			h.logger.Debug("Realtime rejoin failed", "attempt", attempt, "error", err)
			continue
		}
		conn = next
	}
}

// serve reads frames until the connection fails or the handle closes.
func (h *Handle) serve(conn *websocket.Conn) {
	ctx, cancel := context.WithCancel(h.ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.keepalive(ctx, conn)
	}()

	h.readLoop(ctx, conn)
	cancel()
	wg.Wait()
}

func (h *Handle) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || ctx.Err() != nil {
				h.logger.Debug("Realtime connection closed", "error", err)
			} else {
				h.logger.Warn("Realtime read error", "error", err)
			}
			return
		}
		if typ != websocket.MessageText {
			continue
		}
		h.dispatch(data)
	}
}

func (h *Handle) dispatch(data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		h.dialer.cfg.Metrics.RecordDropped()
		h.logger.Debug("Ignoring malformed frame", "error", err)
		return
	}
	if env.Event != EventReceive {
		return
	}
	msg, err := domain.DecodeMessage(env.Data, h.conversationID, h.dialer.now)
	if err != nil {
		h.dialer.cfg.Metrics.RecordDropped()
		h.logger.Debug("Ignoring malformed message", "error", err)
		return
	}
	if msg.ConversationID != h.conversationID {
		h.dialer.cfg.Metrics.RecordDropped()
		return
	}
	h.dialer.cfg.Metrics.RecordReceived()
	if h.handlers.Message != nil {
		h.handlers.Message(msg)
	}
}

func (h *Handle) keepalive(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(h.dialer.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, emitTimeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				if ctx.Err() == nil {
					h.logger.Warn("Realtime ping failed", "error", err)
					_ = conn.CloseNow()
				}
				return
			}
		}
	}
}

func (h *Handle) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-h.ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// backoff returns the delay before reconnect attempt n (1-based).
func (d *Dialer) backoff(n int) time.Duration {
	delay := d.cfg.BackoffBase
	for i := 1; i < n; i++ {
		delay *= 2
		if delay >= d.cfg.BackoffMax {
			return d.cfg.BackoffMax
		}
	}
	return delay
}

func (h *Handle) isClosing() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closing
}

func (h *Handle) setState(s State) {
	h.mu.Lock()
	if h.state == s {
		h.mu.Unlock()
		return
	}
	h.state = s
	h.mu.Unlock()
	if h.handlers.State != nil {
		h.handlers.State(s)
	}
}

// ConversationID returns the joined room.
func (h *Handle) ConversationID() string { return h.conversationID }

// State returns the current connection state.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Send emits send_message. It fails with ErrNotConnected unless the
// channel is open; nothing is queued.
func (h *Handle) Send(ctx context.Context, out Outgoing) error {
	if strings.TrimSpace(out.Content) == "" {
		return &domain.ChannelError{Op: "send", Err: fmt.Errorf("%w: empty message", domain.ErrInvalidInput)}
	}
	if out.ServiceID == "" {
		out.ServiceID = h.conversationID
	}

	h.mu.Lock()
	conn := h.conn
	ready := h.state == StateOpen && !h.closing && conn != nil
	h.mu.Unlock()
	if !ready {
		h.dialer.cfg.Metrics.RecordSendFailure()
		return &domain.ChannelError{Op: "send", Err: domain.ErrNotConnected}
	}

	writeCtx, cancel := context.WithTimeout(ctx, emitTimeout)
	defer cancel()
	if err := writeEvent(writeCtx, conn, EventSend, out); err != nil {
		h.dialer.cfg.Metrics.RecordSendFailure()
		return &domain.ChannelError{Op: "send", Err: err}
	}
	h.dialer.cfg.Metrics.RecordSent()
	return nil
}

// Close leaves the room and tears the connection down. It returns after
// the background goroutines have stopped. Calling it again is a no-op.
func (h *Handle) Close() {
	h.closeOnce.Do(func() {
		h.mu.Lock()
		h.closing = true
		conn, join := h.conn, h.join
		h.mu.Unlock()

		if conn != nil && join == domain.Joined {
			ctx, cancel := context.WithTimeout(context.Background(), emitTimeout)
			if err := writeEvent(ctx, conn, EventLeave, h.conversationID); err != nil {
				h.logger.Debug("Failed to emit leave", "error", err)
			}
			cancel()
			if err := conn.Close(websocket.StatusNormalClosure, "leaving"); err != nil {
				h.logger.Debug("Failed to close realtime connection", "error", err)
			}
		}
		h.cancel()
		<-h.done
		h.setState(StateClosed)
		h.logger.Info("Realtime channel closed")
	})
}
