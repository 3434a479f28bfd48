package domain

import (
	"time"
)

// Message is a single chat entry within a conversation.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	SenderID       string    `json:"senderId"`
	Body           string    `json:"content"`
	Timestamp      time.Time `json:"timestamp"`
	Local          bool      `json:"local,omitempty"`
}

// Before reports whether m sorts ahead of other: timestamp ascending, ties by id.
func (m Message) Before(other Message) bool {
	if !m.Timestamp.Equal(other.Timestamp) {
		return m.Timestamp.Before(other.Timestamp)
	}
	return m.ID < other.ID
}

// JoinState tracks whether a conversation's realtime room is joined.
type JoinState int

const (
	// NotJoined is the initial state.
	NotJoined JoinState = iota
	// Joined means a join event was emitted on an open connection.
	Joined
)

func (s JoinState) String() string {
	if s == Joined {
		return "joined"
	}
	return "not_joined"
}

// Conversation is one chat room tied to a service request.
type Conversation struct {
	ID    string    `json:"id"`
	Label string    `json:"label"`
	Join  JoinState `json:"-"`
}

// ConversationSummary is a chat-list entry. It is read-only.
type ConversationSummary struct {
	ID           string `json:"id"`
	Label        string `json:"shopName"`
	LastMessage  string `json:"lastMessage"`
	LastActivity string `json:"timestamp"`
	UnreadCount  int    `json:"unreadCount"`
}

// DefaultRoomLabel is used when the backend does not name the counterparty.
const DefaultRoomLabel = "Chat"

// History is the backlog of a conversation as returned by the backend.
type History struct {
	Messages  []Message `json:"messages"`
	RoomLabel string    `json:"room"`
}
