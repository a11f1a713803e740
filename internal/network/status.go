package network

import "sync"

// Mode is the radio role.
type Mode string

// Radio roles.
const (
	ModeConnecting  Mode = "connecting"
	ModeStation     Mode = "station"
	ModeAccessPoint Mode = "access_point"
)

// InitialRSSI is reported until the first signal reading.
const InitialRSSI int8 = -100

// Status is the process-wide network state.
type Status struct {
	Mode      Mode   `json:"mode"`
	Connected bool   `json:"connected"`
	SSID      string `json:"ssid"`
	IP        string `json:"ip"`
	RSSI      int8   `json:"rssi"`
}

// statusCell guards Status. The connect sequence, the event goroutine and
// the RSSI ticker write it; handlers read copies.
type statusCell struct {
	mu     sync.RWMutex
	status Status
}

func (c *statusCell) get() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

func (c *statusCell) set(s Status) {
	c.mu.Lock()
	c.status = s
	c.mu.Unlock()
}

func (c *statusCell) update(fn func(s *Status)) Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(&c.status)
	return c.status
}
