package hal

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// WiFiStatus is the station link state of an interface.
type WiFiStatus struct {
	Interface string `json:"interface"`
	Connected bool   `json:"connected"`
	SSID      string `json:"ssid"`
	IPAddress string `json:"ip_address"`
	Signal    int    `json:"signal"` // dBm
}

// APConfig describes the access point to bring up.
type APConfig struct {
	Interface  string `json:"interface"`
	SSID       string `json:"ssid"`
	Passphrase string `json:"passphrase"`
	Address    string `json:"address"`
}

// WiFiEvent is one link event from the event stream.
type WiFiEvent struct {
	Type      string `json:"type"`
	Interface string `json:"interface"`
	IPAddress string `json:"ip_address,omitempty"`
}

// Link event types.
const (
	EventConnected    = "connected"
	EventDisconnected = "disconnected"
	EventGotIP        = "got_ip"
)

// ConnectWiFi starts associating iface with a network. It returns once the
// service accepts the request; poll GetWiFiStatus for the outcome.
func (c *Client) ConnectWiFi(ctx context.Context, iface, ssid, password string) error {
	req := map[string]string{
		"interface": iface,
		"ssid":      ssid,
		"password":  password,
	}
	return c.call(ctx, http.MethodPost, "/network/wifi/connect", req, nil)
}

// GetWiFiStatus returns the link state of iface.
func (c *Client) GetWiFiStatus(ctx context.Context, iface string) (*WiFiStatus, error) {
	var st WiFiStatus
	if err := c.call(ctx, http.MethodGet, "/network/wifi/status/"+url.PathEscape(iface), nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// StartAP brings up an access point.
func (c *Client) StartAP(ctx context.Context, cfg APConfig) error {
	return c.call(ctx, http.MethodPost, "/network/ap/start", cfg, nil)
}

// StreamWiFiEvents subscribes to link events of iface. The channel closes
// when ctx is done or the service ends the stream.
func (c *Client) StreamWiFiEvents(ctx context.Context, iface string) (<-chan WiFiEvent, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/network/wifi/events/"+url.PathEscape(iface), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	// The stream outlives DefaultTimeout.
	stream := &http.Client{Transport: c.httpClient.Transport}
	resp, err := stream.Do(req)
	if err != nil {
		return nil, fmt.Errorf("stream request failed: %w", err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return nil, responseError(resp.StatusCode, body)
	}

	events := make(chan WiFiEvent, 8)
	go func() {
		defer close(events)
		defer resp.Body.Close()
		readEvents(ctx, resp.Body, events)
	}()
	return events, nil
}

// readEvents parses server-sent event frames. An "event:" name overrides
// the type inside the JSON payload.
func readEvents(ctx context.Context, r io.Reader, out chan<- WiFiEvent) {
	scanner := bufio.NewScanner(r)
	var name string
	var data strings.Builder

	emit := func() bool {
		defer func() {
			name = ""
			data.Reset()
		}()
		if data.Len() == 0 {
			return true
		}
		var ev WiFiEvent
		if err := json.Unmarshal([]byte(data.String()), &ev); err != nil {
			return true
		}
		if name != "" {
			ev.Type = name
		}
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for scanner.Scan() {
		line := scanner.Text()
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimSpace(value)
		switch {
		case line == "":
			if !emit() {
				return
			}
		case field == "event":
			name = value
		case field == "data":
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(value)
		}
	}
	emit()
}
