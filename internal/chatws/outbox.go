package chatws

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
)

const (
	defaultOutboxSize = 100
	writeTimeout      = 5 * time.Second
)

type queued struct {
	key  string
	data []byte
}

// outbox writes frames to a browser socket from one goroutine.
//
// Frames pushed with a key carry complete state (snapshot, message list,
// status). A newer frame with the same key replaces the queued one and moves
// to the tail, so state frames are never lost, only superseded. When the
// queue is full the oldest keyless frame is dropped first.
type outbox struct {
	conn   *websocket.Conn
	size   int
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger
	wake   chan struct{}

	mu       sync.Mutex
	queue    []queued
	dropped  int
	replaced int
}

func newOutbox(conn *websocket.Conn, size int, logger *slog.Logger) *outbox {
	o := newIdleOutbox(conn, size, logger)
	o.wg.Add(1)
	go o.run()
	return o
}

// newIdleOutbox builds an outbox without starting its writer.
func newIdleOutbox(conn *websocket.Conn, size int, logger *slog.Logger) *outbox {
	if logger == nil {
		logger = slog.Default()
	}
	if size <= 0 {
		size = defaultOutboxSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &outbox{
		conn:   conn,
		size:   size,
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
		wake:   make(chan struct{}, 1),
	}
}

// push queues v without blocking. key is empty for one-off frames.
func (o *outbox) push(key string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		o.logger.Error("Failed to encode frame", "error", err)
		return
	}
	if o.ctx.Err() != nil {
		return
	}

	o.mu.Lock()
	if key != "" {
		for i, q := range o.queue {
			if q.key == key {
				o.queue = append(o.queue[:i], o.queue[i+1:]...)
				o.replaced++
				break
			}
		}
	}
	if len(o.queue) >= o.size {
		o.dropLocked()
	}
	o.queue = append(o.queue, queued{key: key, data: data})
	o.mu.Unlock()

	select {
	case o.wake <- struct{}{}:
	default:
	}
}

// dropLocked removes the oldest keyless frame, or the oldest frame when
// every queued frame carries state.
func (o *outbox) dropLocked() {
	victim := 0
	for i, q := range o.queue {
		if q.key == "" {
			victim = i
			break
		}
	}
	o.queue = append(o.queue[:victim], o.queue[victim+1:]...)
	o.dropped++
	o.logger.Warn("Outbound queue full, dropped frame", "queue_len", len(o.queue))
}

func (o *outbox) next() ([]byte, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.queue) == 0 {
		return nil, false
	}
	q := o.queue[0]
	o.queue = o.queue[1:]
	return q.data, true
}

func (o *outbox) pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.queue)
}

func (o *outbox) run() {
	defer o.wg.Done()
	for {
		data, ok := o.next()
		if !ok {
			select {
			case <-o.ctx.Done():
				return
			case <-o.wake:
			}
			continue
		}

		ctx, cancel := context.WithTimeout(o.ctx, writeTimeout)
		err := o.conn.Write(ctx, websocket.MessageText, data)
		cancel()
		if err != nil {
			if o.ctx.Err() == nil {
				o.logger.Debug("WebSocket write error", "error", err)
			}
			return
		}
	}
}

// flush waits up to timeout for queued frames to drain.
func (o *outbox) flush(timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for o.pending() > 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
}

func (o *outbox) close() {
	o.cancel()
	o.wg.Wait()
}

func (o *outbox) droppedCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.dropped
}
