package network

import "context"

// EventType identifies an asynchronous radio event.
type EventType int

// Radio events.
const (
	EventConnected EventType = iota + 1
	EventDisconnected
	EventGotIP
)

func (t EventType) String() string {
	switch t {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventGotIP:
		return "got_ip"
	default:
		return "unknown"
	}
}

// Event is a link change reported by the radio.
type Event struct {
	Type EventType
	IP   string // set for EventGotIP
}

// Radio is the Wi-Fi stack the manager drives.
type Radio interface {
	// StartStation switches to station mode and begins associating.
	// It does not wait for the association to complete.
	StartStation(ctx context.Context, ssid, password string) error
	Connected(ctx context.Context) (bool, error)
	LocalIP(ctx context.Context) (string, error)
	RSSI(ctx context.Context) (int8, error)
	StartAccessPoint(ctx context.Context, ssid, passphrase, address string) error
	// Events delivers link events until ctx is done.
	Events(ctx context.Context) (<-chan Event, error)
}
