package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/ashureev/prestador-desk/internal/domain"
)

type historyResponse struct {
	Messages []json.RawMessage `json:"messages"`
	ShopName string            `json:"shopName"`
}

// FetchHistory retrieves the message backlog and room label of a
// conversation. It performs no I/O when the token is missing or expired.
// A malformed entry fails the whole fetch; there is no partial result.
func (c *Client) FetchHistory(ctx context.Context, conversationID, token string) (domain.History, error) {
	escaped, err := pathID(conversationID)
	if err != nil {
		return domain.History{}, fmt.Errorf("fetch history: %w", err)
	}
	data, err := c.do(ctx, request{
		op:     "fetch history",
		method: http.MethodGet,
		path:   "/chats/" + escaped + "/messages",
		token:  token,
		authed: true,
	})
	if err != nil {
		return domain.History{}, err
	}

	var resp historyResponse
	if err := decode("fetch history", data, &resp); err != nil {
		return domain.History{}, err
	}

	history := domain.History{
		Messages:  make([]domain.Message, 0, len(resp.Messages)),
		RoomLabel: strings.TrimSpace(resp.ShopName),
	}
	if history.RoomLabel == "" {
		history.RoomLabel = domain.DefaultRoomLabel
	}
	for i, raw := range resp.Messages {
		msg, err := domain.DecodeMessage(raw, conversationID, c.now)
		if err != nil {
			return domain.History{}, &domain.FetchError{Op: "fetch history", Err: fmt.Errorf("message %d: %w", i, err)}
		}
		history.Messages = append(history.Messages, msg)
	}
	return history, nil
}

// MyChats lists the provider's conversations.
func (c *Client) MyChats(ctx context.Context, token string) ([]domain.ConversationSummary, error) {
	data, err := c.do(ctx, request{op: "my chats", method: http.MethodGet, path: "/cliente/meus-chats", token: token, authed: true})
	if err != nil {
		return nil, err
	}
	summaries, err := domain.DecodeSummaries(data)
	if err != nil {
		return nil, &domain.FetchError{Op: "my chats", Err: err}
	}
	return summaries, nil
}
