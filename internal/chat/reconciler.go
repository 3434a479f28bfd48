// Package chat merges the message backlog with the live stream and drives
// conversation views.
package chat

import (
	"sort"
	"sync"
	"time"

	"github.com/ashureev/prestador-desk/internal/domain"
	"github.com/google/uuid"
)

// Reconciler holds one conversation's de-duplicated, time-ordered messages.
// It is safe for concurrent use; readers always get copies.
type Reconciler struct {
	conversationID string
	now            func() time.Time

	mu   sync.Mutex
	ids  map[string]struct{}
	msgs []domain.Message

	subMu   sync.Mutex
	subs    map[int]func([]domain.Message)
	nextSub int
}

// NewReconciler creates an empty reconciler for conversationID.
func NewReconciler(conversationID string) *Reconciler {
	return &Reconciler{
		conversationID: conversationID,
		now:            time.Now,
		ids:            make(map[string]struct{}),
		subs:           make(map[int]func([]domain.Message)),
	}
}

// ConversationID returns the conversation this reconciler belongs to.
func (r *Reconciler) ConversationID() string { return r.conversationID }

// InsertBacklog merges a fetched page and returns how many messages were new.
func (r *Reconciler) InsertBacklog(msgs []domain.Message) int {
	r.mu.Lock()
	added := make([]domain.Message, 0, len(msgs))
	for _, m := range msgs {
		if stored, ok := r.insertLocked(m); ok {
			added = append(added, stored)
		}
	}
	r.mu.Unlock()

	r.notify(added)
	return len(added)
}

// Insert adds one live message. It reports false for duplicates and for
// messages that belong to another conversation.
func (r *Reconciler) Insert(m domain.Message) bool {
	r.mu.Lock()
	stored, ok := r.insertLocked(m)
	r.mu.Unlock()

	if ok {
		r.notify([]domain.Message{stored})
	}
	return ok
}

// InsertLocal records an optimistic send under a client-generated id.
func (r *Reconciler) InsertLocal(senderID, body string) domain.Message {
	m := domain.Message{
		ID:             "local-" + uuid.NewString(),
		ConversationID: r.conversationID,
		SenderID:       senderID,
		Body:           body,
		Timestamp:      r.now().UTC(),
		Local:          true,
	}
	r.Insert(m)
	return m
}

func (r *Reconciler) insertLocked(m domain.Message) (domain.Message, bool) {
	if m.ID == "" {
		return m, false
	}
	if m.ConversationID != "" && m.ConversationID != r.conversationID {
		return m, false
	}
	if _, dup := r.ids[m.ID]; dup {
		return m, false
	}
	if m.ConversationID == "" {
		m.ConversationID = r.conversationID
	}

	i := sort.Search(len(r.msgs), func(i int) bool { return m.Before(r.msgs[i]) })
	r.msgs = append(r.msgs, domain.Message{})
	copy(r.msgs[i+1:], r.msgs[i:])
	r.msgs[i] = m
	r.ids[m.ID] = struct{}{}
	return m, true
}

// Messages returns the sequence oldest first.
func (r *Reconciler) Messages() []domain.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Message, len(r.msgs))
	copy(out, r.msgs)
	return out
}

// Newest returns the sequence newest first.
func (r *Reconciler) Newest() []domain.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Message, len(r.msgs))
	for i, m := range r.msgs {
		out[len(r.msgs)-1-i] = m
	}
	return out
}

// Len returns the number of messages held.
func (r *Reconciler) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

// Contains reports whether id has been seen.
func (r *Reconciler) Contains(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.ids[id]
	return ok
}

// OnChange registers fn to receive newly inserted messages. fn runs on the
// inserting goroutine after the lock is released.
func (r *Reconciler) OnChange(fn func(added []domain.Message)) (unsubscribe func()) {
	r.subMu.Lock()
	id := r.nextSub
	r.nextSub++
	r.subs[id] = fn
	r.subMu.Unlock()

	return func() {
		r.subMu.Lock()
		delete(r.subs, id)
		r.subMu.Unlock()
	}
}

func (r *Reconciler) notify(added []domain.Message) {
	if len(added) == 0 {
		return
	}
	r.subMu.Lock()
	fns := make([]func([]domain.Message), 0, len(r.subs))
	for _, fn := range r.subs {
		fns = append(fns, fn)
	}
	r.subMu.Unlock()

	for _, fn := range fns {
		batch := make([]domain.Message, len(added))
		copy(batch, added)
		fn(batch)
	}
}
