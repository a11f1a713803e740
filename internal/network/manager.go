// Package network brings the radio up at boot and tracks its state.
//
// Connect tries station mode with the stored credentials for a bounded
// number of polls and falls back to a local access point. There is no way
// back to station mode short of a restart. After Connect, radio events and
// a periodic signal poll keep the status current.
package network

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nuclearlighters/airbox/internal/config"
	"github.com/nuclearlighters/airbox/internal/settings"
)

// Options tune the connect sequence and access point.
type Options struct {
	APSSID       string
	APPassword   string
	APAddress    string
	Attempts     int
	PollInterval time.Duration
	RSSIInterval time.Duration
	// ResubscribeDelay separates event subscription attempts after the
	// stream ends or fails. Zero means DefaultResubscribeDelay.
	ResubscribeDelay time.Duration
}

// DefaultResubscribeDelay is used when Options.ResubscribeDelay is zero.
const DefaultResubscribeDelay = 2 * time.Second

// OptionsFromConfig builds Options from the application settings.
func OptionsFromConfig(cfg *config.Settings) Options {
	return Options{
		APSSID:       cfg.APSSID,
		APPassword:   cfg.APPassword,
		APAddress:    cfg.APAddress,
		Attempts:     cfg.ConnectAttempts,
		PollInterval: cfg.ConnectPollInterval,
		RSSIInterval: cfg.RSSIInterval,
	}
}

// Manager owns the radio and the network status.
type Manager struct {
	radio Radio
	opts  Options
	cell  statusCell
}

// NewManager creates a Manager.
func NewManager(radio Radio, opts Options) *Manager {
	m := &Manager{radio: radio, opts: opts}
	m.cell.set(Status{Mode: ModeConnecting, RSSI: InitialRSSI})
	return m
}

// Status returns a copy of the current status.
func (m *Manager) Status() Status {
	return m.cell.get()
}

// Connect runs the boot-time connect sequence and returns the resulting
// status. It never fails: every error path ends in access-point mode.
// Event subscription lives as long as ctx.
func (m *Manager) Connect(ctx context.Context, creds *settings.Credentials) Status {
	events, err := m.radio.Events(ctx)
	go m.watchEvents(ctx, events, err)

	if creds.Present() {
		if m.joinStation(ctx, creds) {
			return m.Status()
		}
	} else {
		log.Info().Msg("No stored WiFi credentials")
	}

	m.startAccessPoint(ctx)
	return m.Status()
}

func (m *Manager) joinStation(ctx context.Context, creds *settings.Credentials) bool {
	log.Info().Str("ssid", creds.SSID).Int("attempts", m.opts.Attempts).Msg("Connecting to WiFi")

	if err := m.radio.StartStation(ctx, creds.SSID, creds.Password); err != nil {
		log.Warn().Err(err).Str("ssid", creds.SSID).Msg("Station mode failed")
		return false
	}
	m.cell.update(func(s *Status) {
		s.Mode = ModeStation
		s.SSID = creds.SSID
	})

	// One check right away, then one after each of Attempts waits.
	timer := time.NewTimer(m.opts.PollInterval)
	defer timer.Stop()

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return false
			case <-timer.C:
			}
		}

		ok, err := m.radio.Connected(ctx)
		if err != nil {
			log.Debug().Err(err).Int("attempt", attempt).Msg("WiFi status poll failed")
		}
		if ok {
			ip, err := m.radio.LocalIP(ctx)
			if err != nil {
				log.Warn().Err(err).Msg("Connected but no address yet")
			}
			st := m.cell.update(func(s *Status) {
				s.Connected = true
				if ip != "" {
					s.IP = ip
				}
			})
			log.Info().Str("ssid", st.SSID).Str("ip", st.IP).Int("attempt", attempt).Msg("WiFi connected")
			return true
		}
		if attempt == m.opts.Attempts {
			break
		}
		if attempt > 0 {
			timer.Reset(m.opts.PollInterval)
		}
	}

	log.Warn().Str("ssid", creds.SSID).Int("attempts", m.opts.Attempts).Msg("WiFi connect timed out")
	return false
}

func (m *Manager) startAccessPoint(ctx context.Context) {
	if err := m.radio.StartAccessPoint(ctx, m.opts.APSSID, m.opts.APPassword, m.opts.APAddress); err != nil {
		log.Warn().Err(err).Msg("Access point start failed")
	}
	m.cell.set(Status{
		Mode:      ModeAccessPoint,
		Connected: false,
		SSID:      m.opts.APSSID,
		IP:        m.opts.APAddress,
		RSSI:      InitialRSSI,
	})
	log.Info().Str("ssid", m.opts.APSSID).Str("ip", m.opts.APAddress).Msg("Access point mode")
}

// watchEvents applies radio events until ctx is done, subscribing again
// whenever the stream ends or a subscription fails.
func (m *Manager) watchEvents(ctx context.Context, events <-chan Event, err error) {
	delay := m.opts.ResubscribeDelay
	if delay <= 0 {
		delay = DefaultResubscribeDelay
	}
	for {
		if err != nil {
			log.Warn().Err(err).Dur("retry", delay).Msg("Radio events unavailable")
		} else {
			for ev := range events {
				m.apply(ev)
			}
			if ctx.Err() == nil {
				log.Warn().Dur("retry", delay).Msg("Radio event stream ended")
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		events, err = m.radio.Events(ctx)
	}
}

func (m *Manager) apply(ev Event) {
	st := m.cell.update(func(s *Status) {
		switch ev.Type {
		case EventConnected:
			s.Connected = true
		case EventDisconnected:
			s.Connected = false
		case EventGotIP:
			s.IP = ev.IP
		}
	})
	log.Debug().Stringer("event", ev.Type).Bool("connected", st.Connected).Str("ip", st.IP).Msg("Radio event")
}

// Run refreshes the signal strength every RSSIInterval while connected in
// station mode. It returns when ctx is done.
func (m *Manager) Run(ctx context.Context) {
	if m.opts.RSSIInterval <= 0 {
		return
	}
	ticker := time.NewTicker(m.opts.RSSIInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.refreshRSSI(ctx)
		}
	}
}

func (m *Manager) refreshRSSI(ctx context.Context) {
	st := m.cell.get()
	if st.Mode != ModeStation || !st.Connected {
		return
	}
	rssi, err := m.radio.RSSI(ctx)
	if err != nil {
		log.Debug().Err(err).Msg("RSSI read failed")
		return
	}
	m.cell.update(func(s *Status) { s.RSSI = rssi })
}
