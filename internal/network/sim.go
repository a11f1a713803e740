package network

import (
	"context"
	"errors"
	"sync"
)

// SimNetwork is a network the simulated radio can join.
type SimNetwork struct {
	Password string
	IP       string
	RSSI     int8
	// JoinAfter is the number of status polls before association completes.
	JoinAfter int
}

// SimRadio is an in-memory Radio.
type SimRadio struct {
	mu        sync.Mutex
	networks  map[string]SimNetwork
	target    *SimNetwork
	polls     int
	connected bool
	apSSID    string
	apAddress string
	apActive  bool
	subs      map[chan Event]struct{}
	failAP    error

	subscriptions int
}

// NewSimRadio creates a SimRadio that can see the given networks.
func NewSimRadio(networks map[string]SimNetwork) *SimRadio {
	if networks == nil {
		networks = make(map[string]SimNetwork)
	}
	return &SimRadio{networks: networks, subs: make(map[chan Event]struct{})}
}

// StartStation begins associating. Unknown networks and wrong passwords
// never complete.
func (r *SimRadio) StartStation(_ context.Context, ssid, password string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.polls = 0
	r.connected = false
	r.target = nil
	if n, ok := r.networks[ssid]; ok && n.Password == password {
		r.target = &n
	}
	return nil
}

// Connected counts a poll and reports whether association completed.
func (r *SimRadio) Connected(context.Context) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.polls++
	if !r.connected && r.target != nil && r.polls >= r.target.JoinAfter {
		r.connected = true
		r.emit(Event{Type: EventConnected})
		r.emit(Event{Type: EventGotIP, IP: r.target.IP})
	}
	return r.connected, nil
}

// LocalIP returns the station address.
func (r *SimRadio) LocalIP(context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.connected {
		return "", errors.New("not connected")
	}
	return r.target.IP, nil
}

// RSSI returns the joined network's signal strength.
func (r *SimRadio) RSSI(context.Context) (int8, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.connected {
		return 0, errors.New("not connected")
	}
	return r.target.RSSI, nil
}

// StartAccessPoint records the access point settings.
func (r *SimRadio) StartAccessPoint(_ context.Context, ssid, _ string, address string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAP != nil {
		return r.failAP
	}
	r.connected = false
	r.apActive = true
	r.apSSID = ssid
	r.apAddress = address
	return nil
}

// Events subscribes to link events until ctx is done.
func (r *SimRadio) Events(ctx context.Context) (<-chan Event, error) {
	ch := make(chan Event, 16)
	r.mu.Lock()
	r.subs[ch] = struct{}{}
	r.subscriptions++
	r.mu.Unlock()

	go func() {
		<-ctx.Done()
		r.mu.Lock()
		if _, ok := r.subs[ch]; ok {
			delete(r.subs, ch)
			close(ch)
		}
		r.mu.Unlock()
	}()
	return ch, nil
}

// EndStreams closes every open event subscription, as a restarting
// radio service would.
func (r *SimRadio) EndStreams() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for ch := range r.subs {
		delete(r.subs, ch)
		close(ch)
	}
}

// Subscriptions returns how many times Events was called.
func (r *SimRadio) Subscriptions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.subscriptions
}

// Drop simulates losing the station link.
func (r *SimRadio) Drop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.connected {
		r.connected = false
		r.emit(Event{Type: EventDisconnected})
	}
}

// SetRSSI changes the signal strength of the joined network.
func (r *SimRadio) SetRSSI(rssi int8) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.target != nil {
		r.target.RSSI = rssi
	}
}

// FailAccessPoint makes StartAccessPoint return err.
func (r *SimRadio) FailAccessPoint(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failAP = err
}

// Polls returns the number of status polls since the last StartStation.
func (r *SimRadio) Polls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.polls
}

// AccessPoint reports the access point state.
func (r *SimRadio) AccessPoint() (active bool, ssid, address string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.apActive, r.apSSID, r.apAddress
}

// emit must be called with r.mu held. Slow subscribers lose events.
func (r *SimRadio) emit(ev Event) {
	for ch := range r.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
