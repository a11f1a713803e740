// Package discovery advertises the appliance over mDNS and finds it from
// the operator CLI.
package discovery

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
)

const (
	// ServiceType is the mDNS service type the appliance advertises
	ServiceType = "_http._tcp"

	// ServiceDomain is the mDNS domain (typically "local.")
	ServiceDomain = "local."

	// DeviceTag is the value of the "device" TXT record
	DeviceTag = "airbox"

	// DefaultScanTimeout is the default timeout for device discovery
	DefaultScanTimeout = 5 * time.Second

	// DefaultPort is the default HTTP port
	DefaultPort = 80
)

// Device is an appliance found on the network
type Device struct {
	Instance     string            `json:"instance" yaml:"instance"`
	Hostname     string            `json:"hostname" yaml:"hostname"`
	IP           string            `json:"ip" yaml:"ip"`
	Port         int               `json:"port" yaml:"port"`
	Version      string            `json:"version" yaml:"version"`
	Mode         string            `json:"mode" yaml:"mode"`
	Metadata     map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	DiscoveredAt time.Time         `json:"discovered_at" yaml:"discovered_at"`
}

// Address returns host:port of the device API.
func (d *Device) Address() string {
	return net.JoinHostPort(d.IP, strconv.Itoa(d.Port))
}

// TXT builds the TXT records for an advertisement.
func TXT(version, mode string) []string {
	return []string{"device=" + DeviceTag, "version=" + version, "mode=" + mode}
}

// Advertiser publishes the appliance until Shutdown.
type Advertiser struct {
	server *zeroconf.Server
}

// Advertise registers instance on port.
func Advertise(instance string, port int, version, mode string) (*Advertiser, error) {
	server, err := zeroconf.Register(instance, ServiceType, ServiceDomain, port, TXT(version, mode), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to register mDNS service: %w", err)
	}
	return &Advertiser{server: server}, nil
}

// Shutdown withdraws the advertisement.
func (a *Advertiser) Shutdown() {
	a.server.Shutdown()
}

// Scanner handles mDNS device discovery
type Scanner struct {
	// Timeout is the maximum time to wait for device discovery
	Timeout time.Duration
}

// NewScanner creates a new mDNS scanner with default settings
func NewScanner() *Scanner {
	return &Scanner{Timeout: DefaultScanTimeout}
}

// Scan browses for appliances until the timeout or ctx ends.
func (s *Scanner) Scan(ctx context.Context) ([]*Device, error) {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry)
	var (
		mu      sync.Mutex
		devices []*Device
		seen    = make(map[string]bool)
		done    = make(chan struct{})
	)
	go func() {
		defer close(done)
		for entry := range entries {
			d := parseServiceEntry(entry)
			if d == nil {
				continue
			}
			mu.Lock()
			if !seen[d.Instance] {
				seen[d.Instance] = true
				devices = append(devices, d)
			}
			mu.Unlock()
		}
	}()

	if err := resolver.Browse(ctx, ServiceType, ServiceDomain, entries); err != nil {
		return nil, fmt.Errorf("failed to browse for mDNS services: %w", err)
	}

	<-ctx.Done()
	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
	}

	mu.Lock()
	defer mu.Unlock()
	return append([]*Device(nil), devices...), nil
}

// parseServiceEntry converts a zeroconf service entry to a Device.
// Returns nil if the entry is not an appliance.
func parseServiceEntry(entry *zeroconf.ServiceEntry) *Device {
	metadata := make(map[string]string)
	for _, txt := range entry.Text {
		parts := strings.SplitN(txt, "=", 2)
		if len(parts) == 2 {
			metadata[parts[0]] = parts[1]
		} else {
			metadata[parts[0]] = ""
		}
	}
	if metadata["device"] != DeviceTag {
		return nil
	}

	// Prefer IPv4
	var ip string
	if len(entry.AddrIPv4) > 0 {
		ip = entry.AddrIPv4[0].String()
	} else if len(entry.AddrIPv6) > 0 {
		ip = entry.AddrIPv6[0].String()
	}
	if ip == "" {
		return nil
	}

	port := entry.Port
	if port == 0 {
		port = DefaultPort
	}

	return &Device{
		Instance:     entry.Instance,
		Hostname:     entry.HostName,
		IP:           ip,
		Port:         port,
		Version:      metadata["version"],
		Mode:         metadata["mode"],
		Metadata:     metadata,
		DiscoveredAt: time.Now(),
	}
}
