package hal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestConnectWiFi(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/network/wifi/connect" {
			t.Errorf("request = %s %s", r.Method, r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	if err := c.ConnectWiFi(context.Background(), "wlan0", "home", "secret"); err != nil {
		t.Fatalf("ConnectWiFi() error = %v", err)
	}
	if got["ssid"] != "home" || got["password"] != "secret" || got["interface"] != "wlan0" {
		t.Errorf("request body = %v", got)
	}
}

func TestGetWiFiStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/network/wifi/status/wlan0" {
			t.Errorf("path = %s", r.URL.Path)
		}
		fmt.Fprint(w, `{"interface":"wlan0","connected":true,"ssid":"home","ip_address":"10.0.0.7","signal":-61}`)
	}))
	defer srv.Close()

	st, err := NewClient(srv.URL).GetWiFiStatus(context.Background(), "wlan0")
	if err != nil {
		t.Fatalf("GetWiFiStatus() error = %v", err)
	}
	if !st.Connected || st.IPAddress != "10.0.0.7" || st.Signal != -61 {
		t.Errorf("GetWiFiStatus() = %+v", st)
	}
}

func TestErrorResponses(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantMsg string
	}{
		{"json error", http.StatusBadRequest, `{"error":"interface busy"}`, "HAL error: interface busy"},
		{"plain status", http.StatusInternalServerError, `oops`, "HAL error: status 500"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			defer srv.Close()

			err := NewClient(srv.URL).Reboot(context.Background())
			if err == nil || err.Error() != tt.wantMsg {
				t.Errorf("Reboot() error = %v, want %q", err, tt.wantMsg)
			}
			var halErr *Error
			if !errors.As(err, &halErr) || halErr.Status != tt.status {
				t.Errorf("Reboot() error = %#v, want *Error with status %d", err, tt.status)
			}
		})
	}
}

func TestStreamWiFiEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") != "text/event-stream" {
			t.Errorf("Accept = %q", r.Header.Get("Accept"))
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: connected\ndata: {\"interface\":\"wlan0\"}\n\n")
		fmt.Fprint(w, ": keepalive\n\n")
		fmt.Fprint(w, "data: {\"type\":\"got_ip\",\"ip_address\":\"10.0.0.7\"}\n\n")
		fmt.Fprint(w, "data: not json\n\n")
		fmt.Fprint(w, "event: disconnected\ndata: {}\n\n")
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	events, err := NewClient(srv.URL).StreamWiFiEvents(ctx, "wlan0")
	if err != nil {
		t.Fatalf("StreamWiFiEvents() error = %v", err)
	}

	var got []WiFiEvent
	for ev := range events {
		got = append(got, ev)
	}

	want := []string{EventConnected, EventGotIP, EventDisconnected}
	if len(got) != len(want) {
		t.Fatalf("got %d events, want %d: %+v", len(got), len(want), got)
	}
	for i, typ := range want {
		if got[i].Type != typ {
			t.Errorf("event[%d].Type = %q, want %q", i, got[i].Type, typ)
		}
	}
	if got[1].IPAddress != "10.0.0.7" {
		t.Errorf("got_ip address = %q", got[1].IPAddress)
	}
}

func TestStreamWiFiEventsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"no such interface"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).StreamWiFiEvents(context.Background(), "wlan9")
	if err == nil || !strings.Contains(err.Error(), "no such interface") {
		t.Errorf("StreamWiFiEvents() error = %v", err)
	}
}

func TestSetGPIOPin(t *testing.T) {
	var got GPIOPinRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
	}))
	defer srv.Close()

	if err := NewClient(srv.URL).SetGPIOPin(context.Background(), 33, 0); err != nil {
		t.Fatalf("SetGPIOPin() error = %v", err)
	}
	if got.Pin != 33 || got.Value != 0 {
		t.Errorf("request = %+v", got)
	}
}
