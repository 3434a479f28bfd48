package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/ashureev/prestador-desk/internal/domain"
)

// LoginResult is a successful sign-in: both halves are always present.
type LoginResult struct {
	Token    string
	Identity domain.Identity
}

// RegisterResult reports a registration. Session is set only when the
// backend signed the new provider in directly.
type RegisterResult struct {
	Message string
	Session *LoginResult
}

type loginResponse struct {
	Token   string          `json:"token"`
	User    json.RawMessage `json:"user"`
	Message string          `json:"message"`
}

// Login authenticates with login and password.
func (c *Client) Login(ctx context.Context, creds domain.Credentials) (*LoginResult, error) {
	if strings.TrimSpace(creds.Login) == "" || creds.Password == "" {
		return nil, fmt.Errorf("login: %w: login and password are required", domain.ErrInvalidInput)
	}
	return c.login(ctx, "login", creds)
}

// LoginWithCode authenticates with a service code.
func (c *Client) LoginWithCode(ctx context.Context, code string) (*LoginResult, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, fmt.Errorf("login with code: %w: code is required", domain.ErrInvalidInput)
	}
	return c.login(ctx, "login with code", domain.ServiceCode{Code: code})
}

func (c *Client) login(ctx context.Context, op string, body any) (*LoginResult, error) {
	data, err := c.do(ctx, request{op: op, method: http.MethodPost, path: "/prestador/login", body: body})
	if err != nil {
		return nil, err
	}
	var resp loginResponse
	if err := decode(op, data, &resp); err != nil {
		return nil, err
	}
	result, err := resp.result(op)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// result validates that both the token and the identity were returned.
func (r loginResponse) result(op string) (*LoginResult, error) {
	trimmed := bytes.TrimSpace(r.User)
	if r.Token == "" || len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, &domain.FetchError{Op: op, Message: r.Message, Err: ErrNoToken}
	}
	identity, err := domain.ParseIdentity(r.User)
	if err != nil {
		return nil, &domain.FetchError{Op: op, Err: err}
	}
	return &LoginResult{Token: r.Token, Identity: identity}, nil
}

// Register creates a provider account.
func (c *Client) Register(ctx context.Context, payload map[string]any) (*RegisterResult, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("register: %w: empty payload", domain.ErrInvalidInput)
	}
	data, err := c.do(ctx, request{op: "register", method: http.MethodPost, path: "/prestador/cadastro", body: payload})
	if err != nil {
		return nil, err
	}
	var resp loginResponse
	if err := decode("register", data, &resp); err != nil {
		return nil, err
	}
	out := &RegisterResult{Message: strings.TrimSpace(resp.Message)}
	if resp.Token != "" {
		session, err := resp.result("register")
		if err != nil {
			return nil, err
		}
		out.Session = session
	}
	return out, nil
}
