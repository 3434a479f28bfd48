package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/ashureev/prestador-desk/internal/domain"
	"github.com/ashureev/prestador-desk/internal/realtime"
)

// HistoryFetcher loads a conversation backlog.
type HistoryFetcher interface {
	FetchHistory(ctx context.Context, conversationID, token string) (domain.History, error)
}

// Channel is an open realtime handle.
type Channel interface {
	Send(ctx context.Context, out realtime.Outgoing) error
	State() realtime.State
	Close()
}

// OpenFunc opens a realtime channel. On a transport failure it returns a
// usable Channel together with the error.
type OpenFunc func(ctx context.Context, conversationID, token string, h realtime.Handlers) (Channel, error)

// DialerOpener adapts a realtime.Dialer to OpenFunc.
func DialerOpener(d *realtime.Dialer) OpenFunc {
	return func(ctx context.Context, conversationID, token string, h realtime.Handlers) (Channel, error) {
		handle, err := d.Open(ctx, conversationID, token, h)
		if handle == nil {
			return nil, err
		}
		return handle, err
	}
}

// SessionSource supplies the signed-in provider and handles credential
// failures.
type SessionSource interface {
	Session() *domain.Session
	HandleAuthError(ctx context.Context, err error) bool
}

// HistoryStatus is the state of the backlog fetch.
type HistoryStatus int

const (
	HistoryIdle HistoryStatus = iota
	HistoryLoading
	HistoryReady
	HistoryFailed
)

func (s HistoryStatus) String() string {
	switch s {
	case HistoryLoading:
		return "loading"
	case HistoryReady:
		return "ready"
	case HistoryFailed:
		return "failed"
	default:
		return "idle"
	}
}

// Status summarises a mounted view.
type Status struct {
	ConversationID string
	Room           string
	History        HistoryStatus
	HistoryErr     error
	Channel        realtime.State
	ChannelErr     error
	// Degraded is set while live updates are unavailable.
	Degraded bool
}

// EventKind distinguishes view events.
type EventKind int

const (
	EventMessages EventKind = iota
	EventStatus
)

// Event is pushed to the view observer. For EventMessages, Messages holds
// only what was just inserted and All the whole sequence after the insert,
// oldest first. Observers that render should draw All.
type Event struct {
	Kind     EventKind
	Messages []domain.Message
	All      []domain.Message
	Status   Status
}

// Deps are the collaborators a view needs.
type Deps struct {
	History HistoryFetcher
	Open    OpenFunc
	Session SessionSource
	Logger  *slog.Logger
}

// Options tune a view.
type Options struct {
	// Optimistic inserts sent messages locally before the server echoes them.
	Optimistic bool
	// OnEvent receives message and status updates. It must not block.
	OnEvent func(Event)
}

var errNotMounted = errors.New("conversation view not mounted")

// View binds one conversation's backlog fetch, realtime channel and
// reconciler to a mount lifetime.
type View struct {
	deps   Deps
	opts   Options
	logger *slog.Logger

	// lifeMu serialises Mount and Unmount.
	lifeMu sync.Mutex
	// emitMu orders observer callbacks: each event's snapshot is taken
	// under it, so the last event delivered always carries the latest state.
	emitMu sync.Mutex

	mu      sync.Mutex
	gen     uint64
	mounted bool
	token   string
	rec     *Reconciler
	channel Channel
	cancel  context.CancelFunc
	unsub   func()
	done    chan struct{}
	status  Status
}

// NewView creates an unmounted view.
func NewView(deps Deps, opts Options) *View {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &View{deps: deps, opts: opts, logger: deps.Logger}
}

// Mount starts the backlog fetch and opens the channel concurrently. It
// returns once the channel's first connect attempt settles; the fetch keeps
// running. A channel failure is not an error here, it only degrades the view.
func (v *View) Mount(ctx context.Context, conversationID, token string) error {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return fmt.Errorf("mount: %w: conversation id is required", domain.ErrInvalidInput)
	}

	v.lifeMu.Lock()
	defer v.lifeMu.Unlock()

	v.mu.Lock()
	if v.mounted {
		v.mu.Unlock()
		return fmt.Errorf("mount %s: view already mounted", conversationID)
	}
	v.gen++
	gen := v.gen
	rec := NewReconciler(conversationID)
	fetchCtx, cancel := context.WithCancel(context.Background())
	v.mounted = true
	v.done = make(chan struct{})
	v.token = token
	v.rec = rec
	v.cancel = cancel
	v.status = Status{
		ConversationID: conversationID,
		Room:           domain.DefaultRoomLabel,
		History:        HistoryLoading,
		Channel:        realtime.StateConnecting,
		Degraded:       true,
	}
	v.unsub = rec.OnChange(func(added []domain.Message) {
		v.emitMu.Lock()
		defer v.emitMu.Unlock()
		if v.current(gen) {
			v.emit(Event{Kind: EventMessages, Messages: added, All: rec.Messages()})
		}
	})
	v.mu.Unlock()

	v.logger.Info("Conversation view mounted", "conversation_id", conversationID)

	go func() {
		if err := v.load(fetchCtx, gen, rec, token); err != nil {
			v.logger.Warn("Backlog fetch failed", "conversation_id", conversationID, "error", err)
		}
	}()

	ch, err := v.deps.Open(ctx, conversationID, token, realtime.Handlers{
		Message: func(m domain.Message) {
			if v.current(gen) {
				rec.Insert(m)
			}
		},
		State: func(s realtime.State) { v.channelState(gen, s) },
	})

	v.mu.Lock()
	if v.gen != gen || !v.mounted {
		v.mu.Unlock()
		if ch != nil {
			ch.Close()
		}
		return nil
	}
	v.channel = ch
	if err != nil {
		v.status.ChannelErr = err
		v.status.Degraded = true
		if ch == nil {
			v.status.Channel = realtime.StateClosed
		}
	}
	v.mu.Unlock()

	if err != nil {
		v.logger.Warn("Realtime channel unavailable", "conversation_id", conversationID, "error", err)
		if domain.IsAuthError(err) && v.deps.Session != nil {
			v.deps.Session.HandleAuthError(ctx, err)
		}
	}
	v.emitStatus(gen)
	return nil
}

// load fetches the backlog and applies it only if gen is still mounted.
func (v *View) load(ctx context.Context, gen uint64, rec *Reconciler, token string) error {
	history, err := v.deps.History.FetchHistory(ctx, rec.ConversationID(), token)

	if !v.current(gen) {
		v.logger.Debug("Discarding backlog for unmounted view", "conversation_id", rec.ConversationID())
		return nil
	}
	if err == nil {
		rec.InsertBacklog(history.Messages)
	}

	v.mu.Lock()
	if v.gen != gen || !v.mounted {
		v.mu.Unlock()
		return nil
	}
	if err != nil {
		v.status.History = HistoryFailed
		v.status.HistoryErr = err
	} else {
		v.status.History = HistoryReady
		v.status.HistoryErr = nil
		v.status.Room = history.RoomLabel
	}
	v.mu.Unlock()

	if err != nil && domain.IsAuthError(err) && v.deps.Session != nil {
		v.deps.Session.HandleAuthError(ctx, err)
	}
	v.emitStatus(gen)
	return err
}

func (v *View) channelState(gen uint64, s realtime.State) {
	v.mu.Lock()
	if v.gen != gen || !v.mounted {
		v.mu.Unlock()
		return
	}
	v.status.Channel = s
	v.status.Degraded = s != realtime.StateOpen
	if s == realtime.StateOpen {
		v.status.ChannelErr = nil
	}
	v.mu.Unlock()

	v.emitStatus(gen)
}

// Refresh re-fetches the backlog and merges it idempotently.
func (v *View) Refresh(ctx context.Context) error {
	v.mu.Lock()
	if !v.mounted {
		v.mu.Unlock()
		return fmt.Errorf("refresh: %w", errNotMounted)
	}
	gen, rec, token := v.gen, v.rec, v.token
	v.status.History = HistoryLoading
	v.mu.Unlock()

	return v.load(ctx, gen, rec, token)
}

// Send emits body on the channel, attributed to the signed-in provider.
func (v *View) Send(ctx context.Context, body string) error {
	if strings.TrimSpace(body) == "" {
		return fmt.Errorf("send: %w: empty message", domain.ErrInvalidInput)
	}

	v.mu.Lock()
	mounted, ch, rec := v.mounted, v.channel, v.rec
	v.mu.Unlock()
	if !mounted || ch == nil {
		return &domain.ChannelError{Op: "send", Err: domain.ErrNotConnected}
	}

	var session *domain.Session
	if v.deps.Session != nil {
		session = v.deps.Session.Session()
	}
	if !session.Complete() {
		return &domain.AuthError{Op: "send", Err: domain.ErrTokenMissing}
	}

	out := realtime.Outgoing{
		ServiceID:  rec.ConversationID(),
		SenderID:   session.Identity.ID(),
		SenderName: session.Identity.SenderLabel(),
		Content:    body,
	}
	if err := ch.Send(ctx, out); err != nil {
		return err
	}
	if v.opts.Optimistic {
		rec.InsertLocal(out.SenderID, body)
	}
	return nil
}

// Unmount closes the channel before returning and discards any fetch still
// in flight. It is safe to call on an unmounted view.
func (v *View) Unmount() {
	v.lifeMu.Lock()
	defer v.lifeMu.Unlock()

	v.mu.Lock()
	if !v.mounted {
		v.mu.Unlock()
		return
	}
	v.mounted = false
	v.gen++
	ch, cancel, unsub, done := v.channel, v.cancel, v.unsub, v.done
	conversationID := v.status.ConversationID
	v.channel, v.cancel, v.unsub, v.rec = nil, nil, nil, nil
	v.mu.Unlock()

	close(done)
	if cancel != nil {
		cancel()
	}
	if unsub != nil {
		unsub()
	}
	if ch != nil {
		ch.Close()
	}
	v.logger.Info("Conversation view unmounted", "conversation_id", conversationID)
}

// Mounted reports whether the view is live.
func (v *View) Mounted() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.mounted
}

// Done is closed when the current mount ends. It returns nil before the
// first Mount.
func (v *View) Done() <-chan struct{} {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.done
}

// Conversation describes the mounted room.
func (v *View) Conversation() domain.Conversation {
	v.mu.Lock()
	defer v.mu.Unlock()
	c := domain.Conversation{ID: v.status.ConversationID, Label: v.status.Room}
	if v.mounted && v.status.Channel == realtime.StateOpen {
		c.Join = domain.Joined
	}
	return c
}

// Status returns the current status.
func (v *View) Status() Status {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.status
}

// Messages returns the reconciled sequence, oldest first.
func (v *View) Messages() []domain.Message {
	v.mu.Lock()
	rec := v.rec
	v.mu.Unlock()
	if rec == nil {
		return []domain.Message{}
	}
	return rec.Messages()
}

func (v *View) current(gen uint64) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.mounted && v.gen == gen
}

// Sync calls fn with the current status, conversation and messages. It is
// ordered with respect to events, so an observer that sends fn's snapshot
// first never has it overtake a newer event.
func (v *View) Sync(fn func(Status, domain.Conversation, []domain.Message)) {
	v.emitMu.Lock()
	defer v.emitMu.Unlock()
	fn(v.Status(), v.Conversation(), v.Messages())
}

// emitStatus reads the status under emitMu so status events reach the
// observer in the order the status changed.
func (v *View) emitStatus(gen uint64) {
	v.emitMu.Lock()
	defer v.emitMu.Unlock()

	v.mu.Lock()
	if v.gen != gen || !v.mounted {
		v.mu.Unlock()
		return
	}
	status := v.status
	v.mu.Unlock()

	v.emit(Event{Kind: EventStatus, Status: status})
}

// emit must be called with emitMu held.
func (v *View) emit(e Event) {
	if v.opts.OnEvent != nil {
		v.opts.OnEvent(e)
	}
}
