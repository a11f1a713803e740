// Package config provides application configuration from environment variables.
package config

import (
	"fmt"
	"sync"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Driver names accepted by the *_DRIVER settings.
const (
	GPIODriverChip   = "gpiod"
	GPIODriverHAL    = "hal"
	GPIODriverMemory = "memory"

	RadioDriverHAL = "hal"
	RadioDriverSim = "sim"

	RestartDriverExec = "exec"
	RestartDriverHAL  = "hal"
)

// RelayCount is the number of relay channels on the board.
const RelayCount = 4

// Settings holds all application configuration.
type Settings struct {
	// Application metadata
	Version  string `envconfig:"VERSION" default:"0.3.0"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// API server settings
	APIHost string `envconfig:"API_HOST" default:"0.0.0.0"`
	APIPort int    `envconfig:"API_PORT" default:"80"`

	// Storage
	DatabasePath     string `envconfig:"DATABASE_PATH" default:"/var/lib/airbox/airbox.db"`
	FirmwareDir      string `envconfig:"FIRMWARE_DIR" default:"/var/lib/airbox/firmware"`
	FirmwareMaxBytes int64  `envconfig:"FIRMWARE_MAX_BYTES" default:"16777216"`
	TranslationsDir  string `envconfig:"TRANSLATIONS_DIR" default:""` // empty = embedded catalogs

	// Relay board (active-low)
	GPIODriver string `envconfig:"GPIO_DRIVER" default:"gpiod"` // gpiod | hal | memory
	GPIOChip   string `envconfig:"GPIO_CHIP" default:"gpiochip0"`
	RelayPins  []int  `envconfig:"RELAY_PINS" default:"33,25,26,27"`

	// Radio
	RadioDriver         string        `envconfig:"RADIO_DRIVER" default:"hal"`
	HALURL              string        `envconfig:"HAL_URL" default:"http://127.0.0.1:6005"`
	WiFiInterface       string        `envconfig:"WIFI_INTERFACE" default:"wlan0"`
	APSSID              string        `envconfig:"AP_SSID" default:"AirBox"`
	APPassword          string        `envconfig:"AP_PASSWORD" default:"12345678"`
	APAddress           string        `envconfig:"AP_ADDRESS" default:"192.168.4.1"`
	ConnectAttempts     int           `envconfig:"CONNECT_ATTEMPTS" default:"20"`
	ConnectPollInterval time.Duration `envconfig:"CONNECT_POLL_INTERVAL" default:"500ms"`
	RSSIInterval        time.Duration `envconfig:"RSSI_INTERVAL" default:"2s"`

	// Networks visible to the simulated radio, as ssid:password pairs
	SimNetworks map[string]string `envconfig:"SIM_NETWORKS"`

	// Restart
	RestartDriver     string        `envconfig:"RESTART_DRIVER" default:"exec"`
	RestartDelay      time.Duration `envconfig:"RESTART_DELAY" default:"2s"`
	UpdateSettleDelay time.Duration `envconfig:"UPDATE_SETTLE_DELAY" default:"1s"`

	// Optional features
	FeatureRelayNames   bool `envconfig:"FEATURE_RELAY_NAMES" default:"true"`
	FeatureTranslations bool `envconfig:"FEATURE_TRANSLATIONS" default:"true"`
	FeatureOTA          bool `envconfig:"FEATURE_OTA" default:"true"`
	FeatureCORS         bool `envconfig:"FEATURE_CORS" default:"true"`

	// Auth: an empty secret leaves the API open
	JWTSecret          string `envconfig:"JWT_SECRET" default:""`
	JWTExpirationHours int    `envconfig:"JWT_EXPIRATION_HOURS" default:"720"`

	// Discovery
	MDNSEnabled  bool   `envconfig:"MDNS_ENABLED" default:"true"`
	MDNSInstance string `envconfig:"MDNS_INSTANCE" default:"airbox"`

	// Websocket status feed
	StatusInterval time.Duration `envconfig:"STATUS_INTERVAL" default:"2s"`
}

// ListenAddr returns the address string for the HTTP server to bind to.
func (s *Settings) ListenAddr() string {
	return fmt.Sprintf("%s:%d", s.APIHost, s.APIPort)
}

// AuthEnabled reports whether mutating routes require a bearer token.
func (s *Settings) AuthEnabled() bool {
	return s.JWTSecret != ""
}

// TokenTTL is the lifetime of tokens minted for this device.
func (s *Settings) TokenTTL() time.Duration {
	return time.Duration(s.JWTExpirationHours) * time.Hour
}

// Validate checks option combinations envconfig cannot express.
func (s *Settings) Validate() error {
	if len(s.RelayPins) != RelayCount {
		return fmt.Errorf("RELAY_PINS must list %d pins, got %d", RelayCount, len(s.RelayPins))
	}
	if s.ConnectAttempts <= 0 {
		return fmt.Errorf("CONNECT_ATTEMPTS must be positive, got %d", s.ConnectAttempts)
	}
	if s.ConnectPollInterval <= 0 {
		return fmt.Errorf("CONNECT_POLL_INTERVAL must be positive")
	}
	switch s.GPIODriver {
	case GPIODriverChip, GPIODriverHAL, GPIODriverMemory:
	default:
		return fmt.Errorf("unknown GPIO_DRIVER %q", s.GPIODriver)
	}
	switch s.RadioDriver {
	case RadioDriverHAL, RadioDriverSim:
	default:
		return fmt.Errorf("unknown RADIO_DRIVER %q", s.RadioDriver)
	}
	switch s.RestartDriver {
	case RestartDriverExec, RestartDriverHAL:
	default:
		return fmt.Errorf("unknown RESTART_DRIVER %q", s.RestartDriver)
	}
	return nil
}

var (
	cfg  *Settings
	once sync.Once
)

// Get returns the singleton Settings instance.
func Get() *Settings {
	once.Do(func() {
		s, err := Load()
		if err != nil {
			panic(err.Error())
		}
		cfg = s
	})
	return cfg
}

// Load creates a new Settings instance from environment variables.
func Load() (*Settings, error) {
	s := &Settings{}
	if err := envconfig.Process("AIRBOX", s); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return s, nil
}
