package realtime

import (
	"context"
	"encoding/json"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// Event names of the backend chat protocol.
const (
	EventJoin    = "join_service_chat"
	EventLeave   = "leave_service_chat"
	EventSend    = "send_message"
	EventReceive = "receive_message"
)

// Envelope is one frame on the wire.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Outgoing is the payload of send_message.
type Outgoing struct {
	ServiceID  string `json:"serviceId"`
	SenderID   string `json:"senderId"`
	SenderName string `json:"senderName"`
	Content    string `json:"content"`
}

func writeEvent(ctx context.Context, conn *websocket.Conn, event string, data any) error {
	return wsjson.Write(ctx, conn, struct {
		Event string `json:"event"`
		Data  any    `json:"data"`
	}{Event: event, Data: data})
}
