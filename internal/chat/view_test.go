package chat

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/prestador-desk/internal/domain"
	"github.com/ashureev/prestador-desk/internal/realtime"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// fakeFetcher blocks each call until release is closed, unless it is nil.
type fakeFetcher struct {
	mu      sync.Mutex
	history map[string]domain.History
	err     error
	release chan struct{}
	calls   int
}

func (f *fakeFetcher) FetchHistory(ctx context.Context, conversationID, token string) (domain.History, error) {
	f.mu.Lock()
	f.calls++
	release := f.release
	f.mu.Unlock()

	if release != nil {
		<-release
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return domain.History{}, f.err
	}
	return f.history[conversationID], nil
}

type fakeChannel struct {
	mu       sync.Mutex
	handlers realtime.Handlers
	state    realtime.State
	sent     []realtime.Outgoing
	sendErr  error
	closes   int
}

func (c *fakeChannel) Send(ctx context.Context, out realtime.Outgoing) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, out)
	return nil
}

func (c *fakeChannel) State() realtime.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *fakeChannel) Close() {
	c.mu.Lock()
	c.closes++
	c.state = realtime.StateClosed
	c.mu.Unlock()
}

func (c *fakeChannel) deliver(m domain.Message) {
	c.handlers.Message(m)
}

// fakeOpener hands out one fakeChannel per Open call.
type fakeOpener struct {
	mu       sync.Mutex
	err      error
	nilOnErr bool
	channels []*fakeChannel
}

func (o *fakeOpener) open(ctx context.Context, conversationID, token string, h realtime.Handlers) (Channel, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil && o.nilOnErr {
		return nil, o.err
	}
	ch := &fakeChannel{handlers: h, state: realtime.StateOpen}
	if o.err != nil {
		ch.state = realtime.StateConnecting
	}
	o.channels = append(o.channels, ch)
	h.State(ch.state)
	return ch, o.err
}

func (o *fakeOpener) channel(i int) *fakeChannel {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.channels[i]
}

type fakeSession struct {
	mu         sync.Mutex
	session    *domain.Session
	authErrors int
}

func (s *fakeSession) Session() *domain.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session.Snapshot()
}

func (s *fakeSession) HandleAuthError(ctx context.Context, err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !domain.IsAuthError(err) {
		return false
	}
	s.authErrors++
	return true
}

func signedIn() *fakeSession {
	return &fakeSession{session: &domain.Session{
		Identity: domain.Identity{"id": "7", "nome": "Ana"},
		Token:    "tok",
	}}
}

func newTestView(f *fakeFetcher, o *fakeOpener, s *fakeSession, opts Options) *View {
	return NewView(Deps{History: f, Open: o.open, Session: s, Logger: quietLogger()}, opts)
}

func TestViewBacklogThenLive(t *testing.T) {
	f := &fakeFetcher{history: map[string]domain.History{
		"C1": {Messages: []domain.Message{msg("m1", 1), msg("m2", 2)}, RoomLabel: "Oficina"},
	}}
	o := &fakeOpener{}
	v := newTestView(f, o, signedIn(), Options{})

	if err := v.Mount(context.Background(), "C1", "tok"); err != nil {
		t.Fatalf("Mount() error = %v", err)
	}
	defer v.Unmount()
	waitFor(t, "backlog", func() bool { return v.Status().History == HistoryReady })

	o.channel(0).deliver(msg("m3", 3))

	if got := ids(v.Messages()); got != "m1,m2,m3" {
		t.Errorf("Messages() = %s, want m1,m2,m3", got)
	}
	status := v.Status()
	if status.Room != "Oficina" || status.Degraded || status.Channel != realtime.StateOpen {
		t.Errorf("status = %+v", status)
	}
}

func TestViewLiveBeforeBacklog(t *testing.T) {
	f := &fakeFetcher{
		history: map[string]domain.History{"C1": {Messages: []domain.Message{msg("m1", 1), msg("m2", 2)}}},
		release: make(chan struct{}),
	}
	o := &fakeOpener{}
	v := newTestView(f, o, signedIn(), Options{})

	if err := v.Mount(context.Background(), "C1", "tok"); err != nil {
		t.Fatalf("Mount() error = %v", err)
	}
	defer v.Unmount()

	o.channel(0).deliver(msg("m2", 2))
	close(f.release)
	waitFor(t, "backlog", func() bool { return v.Status().History == HistoryReady })

	if got := ids(v.Messages()); got != "m1,m2" {
		t.Errorf("Messages() = %s, want m1,m2", got)
	}
}

func TestViewMessageEventsCarryOrderedSequence(t *testing.T) {
	f := &fakeFetcher{
		history: map[string]domain.History{"C1": {Messages: []domain.Message{msg("m1", 1), msg("m3", 3)}}},
		release: make(chan struct{}),
	}
	o := &fakeOpener{}
	var mu sync.Mutex
	var last []domain.Message
	v := newTestView(f, o, signedIn(), Options{OnEvent: func(e Event) {
		if e.Kind != EventMessages {
			return
		}
		mu.Lock()
		last = e.All
		mu.Unlock()
	}})

	if err := v.Mount(context.Background(), "C1", "tok"); err != nil {
		t.Fatalf("Mount() error = %v", err)
	}
	defer v.Unmount()

	o.channel(0).deliver(msg("m3", 3))
	close(f.release)
	waitFor(t, "backlog", func() bool { return v.Status().History == HistoryReady })
	o.channel(0).deliver(msg("m2", 2))

	mu.Lock()
	defer mu.Unlock()
	if got := ids(last); got != "m1,m2,m3" {
		t.Errorf("last event sequence = %s, want m1,m2,m3", got)
	}
}

func TestViewUnmountDiscardsLateBacklog(t *testing.T) {
	f := &fakeFetcher{
		history: map[string]domain.History{
			"C1": {Messages: []domain.Message{msg("m1", 1)}},
			"C2": {},
		},
		release: make(chan struct{}),
	}
	o := &fakeOpener{}
	var mu sync.Mutex
	var events []Event
	v := newTestView(f, o, signedIn(), Options{OnEvent: func(e Event) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	}})

	if err := v.Mount(context.Background(), "C1", "tok"); err != nil {
		t.Fatalf("Mount(C1) error = %v", err)
	}
	v.Unmount()

	f.mu.Lock()
	pending := f.release
	f.release = nil
	f.mu.Unlock()
	if err := v.Mount(context.Background(), "C2", "tok"); err != nil {
		t.Fatalf("Mount(C2) error = %v", err)
	}
	defer v.Unmount()
	waitFor(t, "C2 backlog", func() bool { return v.Status().History == HistoryReady })

	close(pending)
	waitFor(t, "both fetches", func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.calls == 2
	})
	time.Sleep(20 * time.Millisecond)

	if got := v.Messages(); len(got) != 0 {
		t.Errorf("C2 view holds %s; late C1 backlog leaked", ids(got))
	}
	if v.Status().ConversationID != "C2" {
		t.Errorf("status conversation = %q", v.Status().ConversationID)
	}
	mu.Lock()
	defer mu.Unlock()
	for _, e := range events {
		if e.Kind == EventMessages {
			t.Errorf("unexpected message event %s", ids(e.Messages))
		}
	}
}

func TestViewChannelFailureStillRendersBacklog(t *testing.T) {
	f := &fakeFetcher{history: map[string]domain.History{
		"C1": {Messages: []domain.Message{msg("m1", 1), msg("m2", 2)}},
	}}
	o := &fakeOpener{err: &domain.ChannelError{Op: "open", Err: errors.New("connection refused")}}
	v := newTestView(f, o, signedIn(), Options{})

	if err := v.Mount(context.Background(), "C1", "tok"); err != nil {
		t.Fatalf("Mount() error = %v, channel failures must not fail the mount", err)
	}
	defer v.Unmount()
	waitFor(t, "backlog", func() bool { return v.Status().History == HistoryReady })

	if got := ids(v.Messages()); got != "m1,m2" {
		t.Errorf("Messages() = %s", got)
	}
	status := v.Status()
	if !status.Degraded || status.ChannelErr == nil {
		t.Errorf("status = %+v, want degraded with channel error", status)
	}

	// Once the background retry succeeds the view recovers.
	ch := o.channel(0)
	ch.handlers.State(realtime.StateOpen)
	if v.Status().Degraded {
		t.Error("still degraded after channel opened")
	}
}

func TestViewChannelAuthFailureSignsOut(t *testing.T) {
	f := &fakeFetcher{history: map[string]domain.History{"C1": {}}}
	o := &fakeOpener{err: &domain.AuthError{Op: "open", Err: domain.ErrTokenExpired}, nilOnErr: true}
	s := signedIn()
	v := newTestView(f, o, s, Options{})

	if err := v.Mount(context.Background(), "C1", "tok"); err != nil {
		t.Fatalf("Mount() error = %v", err)
	}
	defer v.Unmount()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.authErrors != 1 {
		t.Errorf("HandleAuthError calls = %d, want 1", s.authErrors)
	}
}

func TestViewHistoryFailure(t *testing.T) {
	f := &fakeFetcher{err: &domain.FetchError{Op: "fetch history", Status: 500, Message: "falhou"}}
	v := newTestView(f, &fakeOpener{}, signedIn(), Options{})

	if err := v.Mount(context.Background(), "C1", "tok"); err != nil {
		t.Fatalf("Mount() error = %v", err)
	}
	defer v.Unmount()
	waitFor(t, "failure", func() bool { return v.Status().History == HistoryFailed })

	if domain.ServerMessage(v.Status().HistoryErr) != "falhou" {
		t.Errorf("HistoryErr = %v", v.Status().HistoryErr)
	}

	f.mu.Lock()
	f.err = nil
	f.history = map[string]domain.History{"C1": {Messages: []domain.Message{msg("m1", 1)}}}
	f.mu.Unlock()
	if err := v.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if v.Status().History != HistoryReady || v.Messages()[0].ID != "m1" {
		t.Errorf("after refresh: status=%v messages=%s", v.Status().History, ids(v.Messages()))
	}
}

func TestViewSend(t *testing.T) {
	f := &fakeFetcher{history: map[string]domain.History{"C1": {}}}
	o := &fakeOpener{}
	v := newTestView(f, o, signedIn(), Options{})

	if err := v.Send(context.Background(), "antes"); !errors.Is(err, domain.ErrNotConnected) {
		t.Errorf("send before mount: %v", err)
	}
	if err := v.Mount(context.Background(), "C1", "tok"); err != nil {
		t.Fatalf("Mount() error = %v", err)
	}
	defer v.Unmount()

	if err := v.Send(context.Background(), "olá"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	ch := o.channel(0)
	ch.mu.Lock()
	sent := ch.sent
	ch.mu.Unlock()
	want := realtime.Outgoing{ServiceID: "C1", SenderID: "7", SenderName: "Ana", Content: "olá"}
	if len(sent) != 1 || sent[0] != want {
		t.Errorf("sent = %+v, want %+v", sent, want)
	}
	if v.Status().ConversationID != "C1" || len(v.Messages()) != 0 {
		t.Error("non-optimistic send must not insert locally")
	}
	if err := v.Send(context.Background(), "   "); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("blank send: %v", err)
	}
}

func TestViewOptimisticSend(t *testing.T) {
	f := &fakeFetcher{history: map[string]domain.History{"C1": {}}}
	o := &fakeOpener{}
	v := newTestView(f, o, signedIn(), Options{Optimistic: true})

	if err := v.Mount(context.Background(), "C1", "tok"); err != nil {
		t.Fatalf("Mount() error = %v", err)
	}
	defer v.Unmount()

	if err := v.Send(context.Background(), "olá"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	got := v.Messages()
	if len(got) != 1 || !got[0].Local || got[0].SenderID != "7" {
		t.Errorf("Messages() = %+v", got)
	}

	o.channel(0).sendErr = &domain.ChannelError{Op: "send", Err: domain.ErrNotConnected}
	if err := v.Send(context.Background(), "falha"); err == nil {
		t.Fatal("Send() error = nil")
	}
	if len(v.Messages()) != 1 {
		t.Error("failed send was inserted")
	}
}

func TestViewUnmountTwiceClosesOnce(t *testing.T) {
	f := &fakeFetcher{history: map[string]domain.History{"C1": {}}}
	o := &fakeOpener{}
	v := newTestView(f, o, signedIn(), Options{})

	if err := v.Mount(context.Background(), "C1", "tok"); err != nil {
		t.Fatalf("Mount() error = %v", err)
	}
	v.Unmount()
	v.Unmount()

	ch := o.channel(0)
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.closes != 1 {
		t.Errorf("Close calls = %d, want 1", ch.closes)
	}
	if v.Mounted() {
		t.Error("Mounted() = true after unmount")
	}
}

func TestViewLiveAfterUnmountIgnored(t *testing.T) {
	f := &fakeFetcher{history: map[string]domain.History{"C1": {}}}
	o := &fakeOpener{}
	v := newTestView(f, o, signedIn(), Options{})

	if err := v.Mount(context.Background(), "C1", "tok"); err != nil {
		t.Fatalf("Mount() error = %v", err)
	}
	ch := o.channel(0)
	v.Unmount()
	ch.deliver(msg("late", 9))

	if got := v.Messages(); len(got) != 0 {
		t.Errorf("Messages() = %s after unmount", ids(got))
	}
}

func TestViewMountValidation(t *testing.T) {
	v := newTestView(&fakeFetcher{}, &fakeOpener{}, signedIn(), Options{})
	if err := v.Mount(context.Background(), "", "tok"); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("empty id: %v", err)
	}
	if err := v.Mount(context.Background(), "C1", "tok"); err != nil {
		t.Fatalf("Mount() error = %v", err)
	}
	defer v.Unmount()
	if err := v.Mount(context.Background(), "C1", "tok"); err == nil {
		t.Error("second Mount() without Unmount succeeded")
	}
}
