// Package backend is the REST client for the marketplace API.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ashureev/prestador-desk/internal/auth"
	"github.com/ashureev/prestador-desk/internal/domain"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// maxResponseBytes caps how much of a response body is read.
const maxResponseBytes = 4 << 20

// Client calls the marketplace REST API.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
	now     func() time.Time
}

// NewClient creates a client for baseURL. timeout bounds each request.
func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: logger,
		now:    time.Now,
	}
}

// request describes one REST call.
type request struct {
	op     string
	method string
	path   string
	token  string
	authed bool
	body   any
}

// messageEnvelope is the error/info body most endpoints return.
type messageEnvelope struct {
	Message string `json:"message"`
}

// do performs req and returns the raw 2xx body. Failures are FetchErrors;
// authenticated calls rejected with 401/403 are AuthErrors.
func (c *Client) do(ctx context.Context, req request) ([]byte, error) {
	if req.authed {
		if err := auth.CheckToken(req.token, c.now()); err != nil {
			return nil, err
		}
	}

	var body io.Reader
	if req.body != nil {
		payload, err := json.Marshal(req.body)
		if err != nil {
			return nil, &domain.FetchError{Op: req.op, Err: fmt.Errorf("encode body: %w", err)}
		}
		body = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, c.baseURL+req.path, body)
	if err != nil {
		return nil, &domain.FetchError{Op: req.op, Err: fmt.Errorf("build request: %w", err)}
	}
	httpReq.Header.Set("Accept", "application/json")
	if req.body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if req.authed {
		httpReq.Header.Set("Authorization", "Bearer "+req.token)
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		c.logger.Warn("Backend request failed", "op", req.op, "error", err)
		return nil, &domain.FetchError{Op: req.op, Err: err}
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Debug("Failed to close response body", "op", req.op, "error", closeErr)
		}
	}()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &domain.FetchError{Op: req.op, Status: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}

	c.logger.Debug("Backend request completed",
		"op", req.op,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		fe := &domain.FetchError{
			Op:      req.op,
			Status:  resp.StatusCode,
			Message: serverMessage(resp.Header.Get("Content-Type"), data),
			Err:     fmt.Errorf("unexpected status %d", resp.StatusCode),
		}
		if req.authed && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, &domain.AuthError{Op: req.op, Err: fe}
		}
		return nil, fe
	}
	return data, nil
}

// decode unmarshals a 2xx body, reporting failures as FetchErrors.
func decode(op string, data []byte, out any) error {
	if err := json.Unmarshal(data, out); err != nil {
		return &domain.FetchError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// serverMessage extracts the "message" field from JSON error bodies.
func serverMessage(contentType string, data []byte) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil || mediaType != "application/json" {
		return ""
	}
	var env messageEnvelope
	if json.Unmarshal(data, &env) != nil {
		return ""
	}
	return strings.TrimSpace(env.Message)
}

// infoMessage reads an optional "message" from a 2xx body.
func infoMessage(data []byte) string {
	var env messageEnvelope
	if json.Unmarshal(data, &env) != nil {
		return ""
	}
	return strings.TrimSpace(env.Message)
}

func pathID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", fmt.Errorf("%w: id is required", domain.ErrInvalidInput)
	}
	return url.PathEscape(id), nil
}

// isArray reports whether a JSON document is an array.
func isArray(data []byte) bool {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	return len(trimmed) > 0 && trimmed[0] == '['
}

// ErrNoToken means a login response lacked the token or the user record.
var ErrNoToken = errors.New("token not received from server")
