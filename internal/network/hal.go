package network

import (
	"context"
	"math"

	"github.com/rs/zerolog/log"

	"github.com/nuclearlighters/airbox/internal/hal"
)

// HALClient is the subset of the hardware abstraction client the radio uses.
type HALClient interface {
	ConnectWiFi(ctx context.Context, iface, ssid, password string) error
	GetWiFiStatus(ctx context.Context, iface string) (*hal.WiFiStatus, error)
	StartAP(ctx context.Context, cfg hal.APConfig) error
	StreamWiFiEvents(ctx context.Context, iface string) (<-chan hal.WiFiEvent, error)
}

// HALRadio drives the Wi-Fi interface through the hardware abstraction service.
type HALRadio struct {
	client HALClient
	iface  string
}

// NewHALRadio creates a HALRadio for iface.
func NewHALRadio(client HALClient, iface string) *HALRadio {
	return &HALRadio{client: client, iface: iface}
}

func (r *HALRadio) StartStation(ctx context.Context, ssid, password string) error {
	return r.client.ConnectWiFi(ctx, r.iface, ssid, password)
}

func (r *HALRadio) Connected(ctx context.Context) (bool, error) {
	st, err := r.client.GetWiFiStatus(ctx, r.iface)
	if err != nil {
		return false, err
	}
	return st.Connected, nil
}

func (r *HALRadio) LocalIP(ctx context.Context) (string, error) {
	st, err := r.client.GetWiFiStatus(ctx, r.iface)
	if err != nil {
		return "", err
	}
	return st.IPAddress, nil
}

func (r *HALRadio) RSSI(ctx context.Context) (int8, error) {
	st, err := r.client.GetWiFiStatus(ctx, r.iface)
	if err != nil {
		return 0, err
	}
	return clampRSSI(st.Signal), nil
}

func (r *HALRadio) StartAccessPoint(ctx context.Context, ssid, passphrase, address string) error {
	return r.client.StartAP(ctx, hal.APConfig{
		Interface:  r.iface,
		SSID:       ssid,
		Passphrase: passphrase,
		Address:    address,
	})
}

// Events translates the HAL event stream. Unknown event types are dropped.
func (r *HALRadio) Events(ctx context.Context) (<-chan Event, error) {
	in, err := r.client.StreamWiFiEvents(ctx, r.iface)
	if err != nil {
		return nil, err
	}

	out := make(chan Event, 8)
	go func() {
		defer close(out)
		for ev := range in {
			var e Event
			switch ev.Type {
			case hal.EventConnected:
				e = Event{Type: EventConnected}
			case hal.EventDisconnected:
				e = Event{Type: EventDisconnected}
			case hal.EventGotIP:
				e = Event{Type: EventGotIP, IP: ev.IPAddress}
			default:
				log.Debug().Str("type", ev.Type).Msg("Ignoring HAL WiFi event")
				continue
			}
			select {
			case out <- e:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func clampRSSI(dbm int) int8 {
	if dbm < math.MinInt8 {
		return math.MinInt8
	}
	if dbm > 0 {
		return 0
	}
	return int8(dbm)
}
