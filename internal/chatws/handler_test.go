package chatws

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/prestador-desk/internal/chat"
	"github.com/ashureev/prestador-desk/internal/domain"
	"github.com/ashureev/prestador-desk/internal/identity"
	"github.com/ashureev/prestador-desk/internal/locale"
	"github.com/ashureev/prestador-desk/internal/realtime"
	"github.com/ashureev/prestador-desk/internal/shared"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
)

type stubSession struct {
	session *domain.Session
}

func (s *stubSession) IsAuthenticated() bool { return s.session.Complete() }
func (s *stubSession) Session() *domain.Session { return s.session.Snapshot() }
func (s *stubSession) HandleAuthError(ctx context.Context, err error) bool {
	return domain.IsAuthError(err)
}

type stubFetcher struct{}

func (stubFetcher) FetchHistory(ctx context.Context, conversationID, token string) (domain.History, error) {
	return domain.History{
		RoomLabel: "Oficina",
		Messages: []domain.Message{
			{ID: "m1", ConversationID: conversationID, Body: "oi", Timestamp: time.Unix(1, 0).UTC()},
		},
	}, nil
}

type stubChannel struct {
	mu   sync.Mutex
	sent []realtime.Outgoing
}

func (c *stubChannel) Send(ctx context.Context, out realtime.Outgoing) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, out)
	return nil
}

func (c *stubChannel) State() realtime.State { return realtime.StateOpen }
func (c *stubChannel) Close() {}

func (c *stubChannel) sentCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

// gatedFetcher returns its backlog once release is closed.
type gatedFetcher struct {
	history domain.History
	release chan struct{}
}

func (f *gatedFetcher) FetchHistory(ctx context.Context, conversationID, token string) (domain.History, error) {
	select {
	case <-f.release:
		return f.history, nil
	case <-ctx.Done():
		return domain.History{}, ctx.Err()
	}
}

type testServer struct {
	url   string
	views *chat.ViewManager
	ch    *stubChannel

	mu       sync.Mutex
	handlers realtime.Handlers
}

// live delivers m as if it arrived on the realtime channel.
func (ts *testServer) live(m domain.Message) {
	ts.mu.Lock()
	deliver := ts.handlers.Message
	ts.mu.Unlock()
	deliver(m)
}

func newTestServer(t *testing.T, limit int) *testServer {
	t.Helper()
	return newTestServerWithHistory(t, limit, stubFetcher{})
}

func newTestServerWithHistory(t *testing.T, limit int, history chat.HistoryFetcher) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	session := &stubSession{session: &domain.Session{Identity: domain.Identity{"id": "7", "nome": "Ana"}, Token: "tok"}}
	ch := &stubChannel{}
	views := chat.NewViewManager(logger)
	limiter := shared.NewRateLimiter(limit, time.Minute)
	t.Cleanup(limiter.Stop)
	catalog := locale.MustNew("en")

	ts := &testServer{views: views, ch: ch}

	h := NewHandler(Config{
		Views: views,
		Deps: chat.Deps{
			History: history,
			Open: func(ctx context.Context, id, token string, hs realtime.Handlers) (chat.Channel, error) {
				ts.mu.Lock()
				ts.handlers = hs
				ts.mu.Unlock()
				hs.State(realtime.StateOpen)
				return ch, nil
			},
			Session: session,
		},
		Limiter: limiter,
		Catalog: catalog,
		IsDev:   true,
		Logger:  logger,
	})

	r := chi.NewRouter()
	r.With(identity.RequireSession(session, catalog)).Get("/ws/chats/{id}", h.ServeHTTP)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	ts.url = "ws" + strings.TrimPrefix(srv.URL, "http")
	return ts
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	return conn
}

func readUntil(t *testing.T, conn *websocket.Conn, typ string) serverFrame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		var f serverFrame
		if err := wsjson.Read(ctx, conn, &f); err != nil {
			t.Fatalf("waiting for %q frame: %v", typ, err)
		}
		if f.Type == typ {
			return f
		}
	}
}

func write(t *testing.T, conn *websocket.Conn, f clientFrame) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := wsjson.Write(ctx, conn, f); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

func TestStreamSnapshotAndSend(t *testing.T) {
	ts := newTestServer(t, 10)
	conn := dial(t, ts.url+"/ws/chats/C1?screen_id=tab-1")
	defer func() { _ = conn.CloseNow() }()

	snap := readUntil(t, conn, FrameSnapshot)
	if snap.Conversation == nil || snap.Conversation.ID != "C1" {
		t.Fatalf("snapshot conversation = %+v", snap.Conversation)
	}
	if snap.Channel != "open" {
		t.Errorf("snapshot channel = %q", snap.Channel)
	}

	write(t, conn, clientFrame{Type: FramePing})
	readUntil(t, conn, FramePong)

	write(t, conn, clientFrame{Type: FrameSend, Content: "olá"})
	deadline := time.Now().Add(2 * time.Second)
	for ts.ch.sentCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if ts.ch.sentCount() != 1 {
		t.Fatalf("sent = %d, want 1", ts.ch.sentCount())
	}
	if ts.views.Get("tab-1", "C1") == nil {
		t.Error("view not registered under its screen")
	}
}

func TestStreamRateLimitsSends(t *testing.T) {
	ts := newTestServer(t, 1)
	conn := dial(t, ts.url+"/ws/chats/C1")
	defer func() { _ = conn.CloseNow() }()
	readUntil(t, conn, FrameSnapshot)

	write(t, conn, clientFrame{Type: FrameSend, Content: "um"})
	write(t, conn, clientFrame{Type: FrameSend, Content: "dois"})

	f := readUntil(t, conn, FrameError)
	if f.Error != "Too many messages. Please wait a moment." {
		t.Errorf("error = %q", f.Error)
	}
}

func TestStreamRejectsBlankSend(t *testing.T) {
	ts := newTestServer(t, 10)
	conn := dial(t, ts.url+"/ws/chats/C1")
	defer func() { _ = conn.CloseNow() }()
	readUntil(t, conn, FrameSnapshot)

	write(t, conn, clientFrame{Type: FrameSend, Content: "   "})
	f := readUntil(t, conn, FrameError)
	if f.Error != "Invalid input." {
		t.Errorf("error = %q", f.Error)
	}
}

func TestStreamReplacedByNewScreenConnection(t *testing.T) {
	ts := newTestServer(t, 10)
	first := dial(t, ts.url+"/ws/chats/C1?screen_id=tab-1")
	defer func() { _ = first.CloseNow() }()
	readUntil(t, first, FrameSnapshot)

	second := dial(t, ts.url+"/ws/chats/C1?screen_id=tab-1")
	defer func() { _ = second.CloseNow() }()
	readUntil(t, second, FrameSnapshot)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		if _, _, err := first.Read(ctx); err != nil {
			if ctx.Err() != nil {
				t.Fatal("first stream was not closed after replacement")
			}
			return
		}
	}
}

// rendered applies the browser's rule: snapshot and message frames replace
// the list. It reads until the list has want entries.
func rendered(t *testing.T, conn *websocket.Conn, list []string, want int) []string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for len(list) != want {
		var f serverFrame
		if err := wsjson.Read(ctx, conn, &f); err != nil {
			t.Fatalf("reading frames (have %v): %v", list, err)
		}
		if f.Type != FrameSnapshot && f.Type != FrameMessage {
			continue
		}
		list = list[:0]
		for _, m := range f.Messages {
			list = append(list, m.ID)
		}
	}
	return list
}

func at(id string, sec int64) domain.Message {
	return domain.Message{ID: id, ConversationID: "C1", SenderID: "9", Body: id, Timestamp: time.Unix(sec, 0).UTC()}
}

func TestStreamShowsReconciledOrder(t *testing.T) {
	f := &gatedFetcher{
		history: domain.History{Messages: []domain.Message{at("m1", 1), at("m2", 2)}},
		release: make(chan struct{}),
	}
	ts := newTestServerWithHistory(t, 10, f)
	conn := dial(t, ts.url+"/ws/chats/C1")
	defer func() { _ = conn.CloseNow() }()

	// The channel is open by the time the snapshot is sent.
	if snap := readUntil(t, conn, FrameSnapshot); len(snap.Messages) != 0 {
		t.Fatalf("snapshot messages = %v, want none while loading", snap.Messages)
	}
	var list []string

	// Live m2 lands before the backlog that also holds it.
	ts.live(at("m2", 2))
	list = rendered(t, conn, list, 1)
	close(f.release)
	list = rendered(t, conn, list, 2)
	if strings.Join(list, ",") != "m1,m2" {
		t.Fatalf("after backlog list = %v, want m1,m2", list)
	}

	// A live message older than the newest one shown goes in its place.
	ts.live(at("m4", 4))
	list = rendered(t, conn, list, 3)
	ts.live(at("m3", 3))
	list = rendered(t, conn, list, 4)
	if got := strings.Join(list, ","); got != "m1,m2,m3,m4" {
		t.Errorf("list = %s, want m1,m2,m3,m4", got)
	}
}
