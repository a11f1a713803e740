// Package client talks to the HTTP API of an AirBox device.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultTimeout is the timeout of non-streaming requests.
const DefaultTimeout = 10 * time.Second

// Client is an AirBox API client.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a client for address, which may be a host, host:port
// or a full URL. token is sent as a bearer token when not empty.
func NewClient(address, token string) *Client {
	base := strings.TrimRight(address, "/")
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &Client{
		baseURL: base,
		token:   token,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
}

// BaseURL returns the device URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// APIError is a non-2xx answer from the device.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("device returned %d: %s", e.StatusCode, strings.TrimSpace(e.Body))
}

// State is the relay snapshot.
type State struct {
	In1 int `json:"in1"`
	In2 int `json:"in2"`
	In3 int `json:"in3"`
	In4 int `json:"in4"`
}

// On reports whether relay index is on.
func (s State) On(index int) bool {
	switch index {
	case 0:
		return s.In1 != 0
	case 1:
		return s.In2 != 0
	case 2:
		return s.In3 != 0
	case 3:
		return s.In4 != 0
	}
	return false
}

// WiFiStatus is the station state reported by the device.
type WiFiStatus struct {
	Connected int    `json:"connected"`
	SSID      string `json:"ssid"`
	IP        string `json:"ip"`
	RSSI      int    `json:"rssi"`
}

// Result is the body of mutating endpoints.
type Result struct {
	Success int    `json:"success"`
	Message string `json:"message,omitempty"`
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) do(httpClient *http.Client, req *http.Request, result interface{}) error {
	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	if result != nil {
		if err := json.Unmarshal(body, result); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return nil
}

func (c *Client) doGet(ctx context.Context, path string, result interface{}) error {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	return c.do(c.httpClient, req, result)
}

func (c *Client) doPost(ctx context.Context, path string, reqBody, result interface{}) error {
	var body io.Reader
	if reqBody != nil {
		data, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("failed to marshal body: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := c.newRequest(ctx, http.MethodPost, path, body)
	if err != nil {
		return err
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(c.httpClient, req, result)
}

// State returns the relay snapshot.
func (c *Client) State(ctx context.Context) (State, error) {
	var s State
	err := c.doGet(ctx, "/state", &s)
	return s, err
}

// Control switches one relay through /relay/control.
func (c *Client) Control(ctx context.Context, relay int, on bool) (State, error) {
	q := url.Values{}
	q.Set("relay", strconv.Itoa(relay))
	q.Set("state", boolParam(on))

	var s State
	err := c.doGet(ctx, "/relay/control?"+q.Encode(), &s)
	return s, err
}

// Multi switches several relays in one request. relays and states pair
// by position.
func (c *Client) Multi(ctx context.Context, relays []int, states []bool) (State, error) {
	rs := make([]string, len(relays))
	for i, r := range relays {
		rs[i] = strconv.Itoa(r)
	}
	ss := make([]string, len(states))
	for i, on := range states {
		ss[i] = boolParam(on)
	}
	q := url.Values{}
	q.Set("relay", strings.Join(rs, ","))
	q.Set("state", strings.Join(ss, ","))

	var s State
	err := c.doGet(ctx, "/relay/multi?"+q.Encode(), &s)
	return s, err
}

// Set switches one relay through POST /relay/set.
func (c *Client) Set(ctx context.Context, relay int, on bool) error {
	state := 0
	if on {
		state = 1
	}
	return c.doPost(ctx, "/relay/set", map[string]int{"relay": relay, "state": state}, nil)
}

// Names returns the relay display names.
func (c *Client) Names(ctx context.Context) ([]string, error) {
	var resp struct {
		Names []string `json:"names"`
	}
	if err := c.doGet(ctx, "/relay/names", &resp); err != nil {
		return nil, err
	}
	return resp.Names, nil
}

// SetNames replaces the display names by position.
func (c *Client) SetNames(ctx context.Context, names []string) error {
	return c.doPost(ctx, "/relay/names", map[string][]string{"names": names}, nil)
}

// WiFiStatus returns the station state.
func (c *Client) WiFiStatus(ctx context.Context) (*WiFiStatus, error) {
	var s WiFiStatus
	if err := c.doGet(ctx, "/wifi/status", &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// ConfigureWiFi stores station credentials. The device restarts afterwards.
func (c *Client) ConfigureWiFi(ctx context.Context, ssid, password string) error {
	return c.doPost(ctx, "/wifi/config", map[string]string{"ssid": ssid, "password": password}, nil)
}

// ResetWiFi clears the credentials. The device restarts into AP mode.
func (c *Client) ResetWiFi(ctx context.Context) error {
	return c.doPost(ctx, "/wifi/reset", nil, nil)
}

// UploadFirmware streams image as a multipart upload. sha256 may be empty.
func (c *Client) UploadFirmware(ctx context.Context, image io.Reader, filename, sha256 string) (*Result, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		part, err := mw.CreateFormFile("firmware", filename)
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, image); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(mw.Close())
	}()

	req, err := c.newRequest(ctx, http.MethodPost, "/firmware/upload", pr)
	if err != nil {
		pr.Close()
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if sha256 != "" {
		req.Header.Set("X-Firmware-SHA256", sha256)
	}

	// Uploads outlive DefaultTimeout; ctx bounds them instead.
	streamClient := &http.Client{Transport: c.httpClient.Transport}
	var res Result
	if err := c.do(streamClient, req, &res); err != nil {
		pr.Close()
		return nil, err
	}
	return &res, nil
}

func boolParam(on bool) string {
	if on {
		return "1"
	}
	return "0"
}
