package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"

	"github.com/ashureev/prestador-desk/internal/domain"
)

// AvailableServices lists open requests the provider can bid on.
func (c *Client) AvailableServices(ctx context.Context, token string) ([]domain.ServiceItem, error) {
	return c.serviceList(ctx, "available services", "/prestador/servicos/disponiveis", token)
}

// MyServices lists requests assigned to the provider.
func (c *Client) MyServices(ctx context.Context, token string) ([]domain.ServiceItem, error) {
	return c.serviceList(ctx, "my services", "/prestador/servicos/meus", token)
}

func (c *Client) serviceList(ctx context.Context, op, path, token string) ([]domain.ServiceItem, error) {
	data, err := c.do(ctx, request{op: op, method: http.MethodGet, path: path, token: token, authed: true})
	if err != nil {
		return nil, err
	}
	if !isArray(data) {
		c.logger.Warn("Service list was not an array", "op", op)
		return []domain.ServiceItem{}, nil
	}
	var items []domain.ServiceItem
	if err := decodeNumbers(data, &items); err != nil {
		return nil, &domain.FetchError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	out := items[:0]
	for _, it := range items {
		if it != nil {
			out = append(out, it)
		}
	}
	return out, nil
}

// Service fetches one service request.
func (c *Client) Service(ctx context.Context, token, id string) (domain.ServiceItem, error) {
	escaped, err := pathID(id)
	if err != nil {
		return nil, fmt.Errorf("service: %w", err)
	}
	data, err := c.do(ctx, request{op: "service", method: http.MethodGet, path: "/services/" + escaped, token: token, authed: true})
	if err != nil {
		return nil, err
	}
	var item domain.ServiceItem
	if err := decodeNumbers(data, &item); err != nil {
		return nil, &domain.FetchError{Op: "service", Err: fmt.Errorf("decode response: %w", err)}
	}
	if item == nil {
		return nil, &domain.FetchError{Op: "service", Status: http.StatusNotFound, Err: fmt.Errorf("empty service %q", id)}
	}
	return item, nil
}

// FinalizeService marks a request as completed.
func (c *Client) FinalizeService(ctx context.Context, token, id string) (string, error) {
	escaped, err := pathID(id)
	if err != nil {
		return "", fmt.Errorf("finalize service: %w", err)
	}
	data, err := c.do(ctx, request{op: "finalize service", method: http.MethodPatch, path: "/services/" + escaped + "/finalize", token: token, authed: true})
	if err != nil {
		return "", err
	}
	return infoMessage(data), nil
}

// SendOffer proposes a price for a request. The value must be positive.
func (c *Client) SendOffer(ctx context.Context, token string, offer domain.Offer) (string, error) {
	escaped, err := pathID(offer.ServiceID)
	if err != nil {
		return "", fmt.Errorf("send offer: %w", err)
	}
	if math.IsNaN(offer.Value) || math.IsInf(offer.Value, 0) || offer.Value <= 0 {
		return "", fmt.Errorf("send offer: %w: value must be a positive number", domain.ErrInvalidInput)
	}
	data, err := c.do(ctx, request{
		op:     "send offer",
		method: http.MethodPost,
		path:   "/prestador/servicos/" + escaped + "/proposta",
		token:  token,
		authed: true,
		body:   offer,
	})
	if err != nil {
		return "", err
	}
	return infoMessage(data), nil
}

func decodeNumbers(data []byte, out any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(out)
}
