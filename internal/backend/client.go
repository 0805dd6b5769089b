// Package backend is the typed client of the flight-school REST API.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/flightdeck/flightdeck/internal/auth"
	"github.com/flightdeck/flightdeck/internal/platform/httpx"
)

// ErrUnauthorized is returned when the backend rejects the bearer token or
// credentials.
var ErrUnauthorized = auth.ErrUnauthorized

// Error is a failed backend call. Message is the envelope message, safe to
// show to the user.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend: status %d", e.Status)
	}
	return fmt.Sprintf("backend: status %d: %s", e.Status, e.Message)
}

// UserMessage returns the backend's explanation of the failure.
func (e *Error) UserMessage() string {
	return e.Message
}

// Unwrap maps the status onto the shared error taxonomy.
func (e *Error) Unwrap() error {
	switch {
	case e.Status == http.StatusUnauthorized:
		return ErrUnauthorized
	case e.Status == http.StatusForbidden:
		return httpx.ErrForbidden
	case e.Status == http.StatusNotFound:
		return httpx.ErrNotFound
	case e.Status == http.StatusUnprocessableEntity || e.Status == http.StatusBadRequest:
		return httpx.ErrValidation
	case e.Status >= 500:
		return httpx.ErrUnavailable
	default:
		return nil
	}
}

// envelope is the shape of every backend response.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Status  int             `json:"status"`
}

// Client wraps interactions with the backend API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient constructs a new client. timeout of zero uses 15 seconds.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Ping checks if the backend is reachable.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("backend: ping: %w", httpx.ErrUnavailable)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 400 {
		return &Error{Status: resp.StatusCode}
	}
	return nil
}

// do sends body as JSON and decodes the envelope's data into out. out may be
// nil when the data is not needed.
func (c *Client) do(ctx context.Context, method, path, token string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("backend: encode %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("backend: %s %s: %w: %v", method, path, httpx.ErrUnavailable, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("backend: read %s %s: %w", method, path, err)
	}

	var env envelope
	if len(bytes.TrimSpace(payload)) > 0 {
		if err := json.Unmarshal(payload, &env); err != nil {
			if resp.StatusCode >= 400 {
				return &Error{Status: resp.StatusCode}
			}
			return fmt.Errorf("backend: decode %s %s: %w", method, path, err)
		}
	}
	if resp.StatusCode >= 400 {
		return &Error{Status: resp.StatusCode, Message: env.Message}
	}
	if !env.Success {
		status := env.Status
		if status == 0 {
			status = http.StatusUnprocessableEntity
		}
		return &Error{Status: status, Message: env.Message}
	}
	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("backend: decode %s %s data: %w", method, path, err)
	}
	return nil
}

// IsUnauthorized reports whether err means the session is no longer valid.
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}
