package domain

import (
	"bytes"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Field aliases seen on the wire, most specific first.
var (
	messageIDKeys       = []string{"menID", "id", "_id"}
	messageSenderKeys   = []string{"senderId", "fk_remetente_usuID", "sender"}
	messageBodyKeys     = []string{"content", "menConteudo", "body"}
	messageTimeKeys     = []string{"menData", "timestamp", "createdAt"}
	messageRoomKeys     = []string{"serviceId", "chatId", "conversationId", "fk_chat_chatID"}
	timestampLayouts    = []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02 15:04:05.000"}
	unixMillisThreshold = int64(1e12)
)

// DecodeMessage normalises a loosely shaped message payload into a Message.
// conversationID is used when the payload does not name its room; now supplies
// the receipt time for payloads without a usable timestamp.
func DecodeMessage(raw json.RawMessage, conversationID string, now func() time.Time) (Message, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}
	if fields == nil {
		return Message{}, fmt.Errorf("decode message: %w: null payload", ErrInvalidInput)
	}
	return MessageFromFields(fields, conversationID, now), nil
}

// MessageFromFields normalises an already decoded payload.
func MessageFromFields(fields map[string]any, conversationID string, now func() time.Time) Message {
	msg := Message{
		ID:             firstField(fields, messageIDKeys),
		SenderID:       firstField(fields, messageSenderKeys),
		Body:           firstRawField(fields, messageBodyKeys),
		ConversationID: firstField(fields, messageRoomKeys),
	}
	if msg.ConversationID == "" {
		msg.ConversationID = conversationID
	}

	rawTime := firstAny(fields, messageTimeKeys)
	if msg.ID == "" {
		msg.ID = syntheticID(msg, rawTime)
	}

	ts, ok := parseTimestamp(rawTime)
	if !ok {
		if now == nil {
			now = time.Now
		}
		ts = now()
	}
	msg.Timestamp = ts.UTC()
	return msg
}

// syntheticID derives a stable id so that a replayed id-less payload still
// de-duplicates. It hashes the payload as received, never the receipt time.
func syntheticID(m Message, rawTime any) string {
	h := sha1.New()
	fmt.Fprintf(h, "%s|%s|%v|%s", m.ConversationID, m.SenderID, rawTime, m.Body)
	return "syn-" + hex.EncodeToString(h.Sum(nil))[:20]
}

func firstAny(fields map[string]any, keys []string) any {
	for _, k := range keys {
		if v, ok := fields[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func firstField(fields map[string]any, keys []string) string {
	for _, k := range keys {
		if s := stringValue(fields[k]); s != "" {
			return s
		}
	}
	return ""
}

// firstRawField is firstField without trimming, for message bodies.
func firstRawField(fields map[string]any, keys []string) string {
	for _, k := range keys {
		switch v := fields[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case nil:
		default:
			if s := stringValue(v); s != "" {
				return s
			}
		}
	}
	return ""
}

func parseTimestamp(v any) (time.Time, bool) {
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return time.Time{}, false
		}
		for _, layout := range timestampLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts, true
			}
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return unixTime(n), true
		}
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return unixTime(n), true
		}
		if f, err := t.Float64(); err == nil {
			return unixTime(int64(f)), true
		}
	case float64:
		return unixTime(int64(t)), true
	}
	return time.Time{}, false
}

// unixTime accepts both seconds and milliseconds since the epoch.
func unixTime(n int64) time.Time {
	if n >= unixMillisThreshold || n <= -unixMillisThreshold {
		return time.UnixMilli(n)
	}
	return time.Unix(n, 0)
}

// DecodeSummaries decodes the chat-list payload. Non-array bodies yield an
// empty list.
func DecodeSummaries(raw json.RawMessage) ([]ConversationSummary, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var items []map[string]any
	if err := dec.Decode(&items); err != nil {
		var decoded any
		if json.Unmarshal(raw, &decoded) == nil {
			if _, isArray := decoded.([]any); !isArray {
				return []ConversationSummary{}, nil
			}
		}
		return nil, fmt.Errorf("decode chat list: %w", err)
	}
	out := make([]ConversationSummary, 0, len(items))
	for _, it := range items {
		unread, _ := strconv.Atoi(stringValue(it["unreadCount"]))
		out = append(out, ConversationSummary{
			ID:           firstField(it, []string{"id", "chatID"}),
			Label:        firstField(it, []string{"shopName", "name"}),
			LastMessage:  firstRawField(it, []string{"lastMessage"}),
			LastActivity: firstField(it, []string{"timestamp", "lastActivity"}),
			UnreadCount:  unread,
		})
	}
	return out, nil
}
