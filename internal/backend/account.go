package backend

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/ashureev/prestador-desk/internal/domain"
)

// ChangePassword updates the account password.
func (c *Client) ChangePassword(ctx context.Context, token string, change domain.PasswordChange) (string, error) {
	if change.CurrentPassword == "" || change.NewPassword == "" {
		return "", fmt.Errorf("change password: %w: both passwords are required", domain.ErrInvalidInput)
	}
	data, err := c.do(ctx, request{
		op:     "change password",
		method: http.MethodPost,
		path:   "/password/change",
		token:  token,
		authed: true,
		body:   change,
	})
	if err != nil {
		return "", err
	}
	return infoMessage(data), nil
}

// UpdateProfile sends the non-empty fields of patch.
func (c *Client) UpdateProfile(ctx context.Context, token string, patch map[string]string) (string, error) {
	body := make(map[string]string, len(patch))
	for k, v := range patch {
		if strings.TrimSpace(v) != "" {
			body[k] = v
		}
	}
	if len(body) == 0 {
		return "", fmt.Errorf("update profile: %w: nothing to update", domain.ErrInvalidInput)
	}
	data, err := c.do(ctx, request{
		op:     "update profile",
		method: http.MethodPost,
		path:   "/cliente/update",
		token:  token,
		authed: true,
		body:   body,
	})
	if err != nil {
		return "", err
	}
	return infoMessage(data), nil
}
