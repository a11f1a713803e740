package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/nuclearlighters/airbox/internal/network"
	"github.com/nuclearlighters/airbox/internal/relay"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins
	},
}

const writeWait = 5 * time.Second

// StatusMessage is pushed to websocket clients.
type StatusMessage struct {
	Type      string         `json:"type"`
	Timestamp string         `json:"timestamp"`
	State     relay.Snapshot `json:"state"`
	WiFi      network.Status `json:"wifi"`
}

// StatusFeed pushes relay and network state to websocket clients.
type StatusFeed struct {
	relays   RelayBank
	network  NetworkStatus
	interval time.Duration

	connections map[*websocket.Conn]bool
	lock        sync.RWMutex
}

// NewStatusFeed creates a feed pushing every interval.
func NewStatusFeed(relays RelayBank, net NetworkStatus, interval time.Duration) *StatusFeed {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &StatusFeed{
		relays:      relays,
		network:     net,
		interval:    interval,
		connections: make(map[*websocket.Conn]bool),
	}
}

// Connect adds a new connection
func (f *StatusFeed) Connect(conn *websocket.Conn) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.connections[conn] = true
	log.Info().Int("connections", len(f.connections)).Msg("WebSocket connected")
}

// Disconnect removes a connection
func (f *StatusFeed) Disconnect(conn *websocket.Conn) {
	f.lock.Lock()
	defer f.lock.Unlock()
	delete(f.connections, conn)
	conn.Close()
	log.Info().Int("connections", len(f.connections)).Msg("WebSocket disconnected")
}

// Count returns the number of active connections
func (f *StatusFeed) Count() int {
	f.lock.RLock()
	defer f.lock.RUnlock()
	return len(f.connections)
}

func (f *StatusFeed) message() StatusMessage {
	return StatusMessage{
		Type:      "status",
		Timestamp: time.Now().Format(time.RFC3339),
		State:     f.relays.Snapshot(),
		WiFi:      f.network.Status(),
	}
}

func (f *StatusFeed) send(conn *websocket.Conn) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(f.message())
}

// ServeWS handles GET /ws/status. The first message is sent immediately.
func (f *StatusFeed) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("WebSocket upgrade error")
		return
	}

	f.Connect(conn)
	defer f.Disconnect(conn)

	if err := f.send(conn); err != nil {
		return
	}

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	// Drain client frames so close and ping are processed
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if err := f.send(conn); err != nil {
				return
			}
		}
	}
}

// GetConnectionCount handles GET /ws/connections.
func (f *StatusFeed) GetConnectionCount(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"active_connections": f.Count(),
	})
}
