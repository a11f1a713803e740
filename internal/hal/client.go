// Package hal talks to the hardware abstraction service, the privileged
// sidecar that owns the radio, the GPIO lines and the power controls of
// the board. The daemon itself runs unprivileged and reaches them over
// plain HTTP on localhost.
package hal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	// DefaultHALURL is where the service listens on the board.
	DefaultHALURL = "http://127.0.0.1:6005"
	// DefaultTimeout bounds every request except event streams.
	DefaultTimeout = 30 * time.Second
)

// Client calls the HAL service. It is safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	breaker    *breaker
}

// NewClient creates a client for the service at baseURL, or DefaultHALURL
// when empty.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultHALURL
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: DefaultTimeout},
		breaker:    newBreaker(),
	}
}

// Error is a non-2xx answer from the service.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return "HAL error: " + e.Message
	}
	return fmt.Sprintf("HAL error: status %d", e.Status)
}

func responseError(status int, body []byte) error {
	var payload struct {
		Error string `json:"error"`
	}
	json.Unmarshal(body, &payload)
	return &Error{Status: status, Message: payload.Error}
}

// Health returns nil when the service answers its health route.
func (c *Client) Health(ctx context.Context) error {
	return c.call(ctx, http.MethodGet, "/health", nil, nil)
}

// Reboot power-cycles the board.
func (c *Client) Reboot(ctx context.Context) error {
	return c.call(ctx, http.MethodPost, "/system/reboot", nil, nil)
}

// GPIOPinRequest drives one GPIO line.
type GPIOPinRequest struct {
	Pin   int `json:"pin"`
	Value int `json:"value"`
}

// SetGPIOPin drives pin to value (0 or 1).
func (c *Client) SetGPIOPin(ctx context.Context, pin, value int) error {
	return c.call(ctx, http.MethodPost, "/gpio/pin", GPIOPinRequest{Pin: pin, Value: value}, nil)
}

// call sends in as JSON (when non-nil) and decodes the answer into out
// (when non-nil). Calls are refused with ErrUnavailable while the breaker
// is open.
func (c *Client) call(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if err := c.breaker.allow(); err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			c.breaker.release()
		} else {
			c.breaker.record(true)
		}
		return fmt.Errorf("HAL %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	c.breaker.record(err != nil || resp.StatusCode >= 500)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return responseError(resp.StatusCode, data)
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return nil
}
