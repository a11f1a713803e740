// Package api provides the HTTP handlers of the AirBox device.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/semaphore"

	"github.com/nuclearlighters/airbox/internal/config"
	"github.com/nuclearlighters/airbox/internal/firmware"
	"github.com/nuclearlighters/airbox/internal/middleware"
	"github.com/nuclearlighters/airbox/internal/network"
	"github.com/nuclearlighters/airbox/internal/relay"
	"github.com/nuclearlighters/airbox/internal/settings"
	"github.com/nuclearlighters/airbox/internal/web"
)

// maxJSONBody caps the body of the small JSON endpoints.
const maxJSONBody = 4096

// RelayBank is the relay state the handlers drive.
type RelayBank interface {
	Set(index int, on bool) (relay.Snapshot, error)
	SetMulti(indices, states []int) relay.Snapshot
	Snapshot() relay.Snapshot
	Pins() []relay.PinLevel
}

// RelayNames holds the relay display names.
type RelayNames interface {
	List() []string
	Update(ctx context.Context, updates map[int]string) error
}

// CredentialStore persists Wi-Fi credentials.
type CredentialStore interface {
	Available() bool
	SaveCredentials(ctx context.Context, creds settings.Credentials) error
	ResetCredentials(ctx context.Context) error
}

// NetworkStatus reports the current radio state.
type NetworkStatus interface {
	Status() network.Status
}

// RestartScheduler arms a delayed restart.
type RestartScheduler interface {
	Schedule(reason string, delay time.Duration) bool
}

// FirmwareSink opens firmware upload sessions.
type FirmwareSink interface {
	Start(ctx context.Context, expectedSHA256 string) (*firmware.Session, error)
	Active() bool
}

// ImageStore reports the staged firmware image.
type ImageStore interface {
	Next() (*firmware.Image, error)
}

// HealthChecker checks a service the device depends on.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Deps are the components behind the handlers. Names, Catalogs, Firmware
// and Images may be nil when the matching feature is off. HAL is nil when
// no driver uses the hardware abstraction service.
type Deps struct {
	Relays   RelayBank
	Names    RelayNames
	Store    CredentialStore
	Network  NetworkStatus
	Restarts RestartScheduler
	Catalogs *web.Catalogs
	Firmware FirmwareSink
	Images   ImageStore
	HAL      HealthChecker
	DataDir  string
}

// Server owns the device routes.
type Server struct {
	cfg  *config.Settings
	deps Deps
	sem  *semaphore.Weighted
	feed *StatusFeed
}

// NewServer creates a Server.
func NewServer(cfg *config.Settings, deps Deps) *Server {
	s := &Server{
		cfg:  cfg,
		deps: deps,
		sem:  semaphore.NewWeighted(1),
	}
	s.feed = NewStatusFeed(deps.Relays, deps.Network, cfg.StatusInterval)
	return s
}

// Feed returns the websocket status feed.
func (s *Server) Feed() *StatusFeed {
	return s.feed
}

// Router builds the chi router. Every route except the websocket feed is
// served one request at a time.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(requestLogger)
	r.Use(chimw.Recoverer)
	if s.cfg.FeatureCORS {
		r.Use(corsMiddleware)
	}

	r.Get("/ws/status", s.feed.ServeWS)
	r.Get("/ws/connections", s.feed.GetConnectionCount)

	r.Group(func(r chi.Router) {
		r.Use(serialize(s.sem))

		r.Get("/", s.Index)
		r.Get("/state", s.GetState)
		r.Get("/wifi/status", s.GetWiFiStatus)
		r.Get("/health", s.Health)
		r.Get("/system/info", s.GetSystemInfo)
		r.Get("/system/pins", s.GetPins)

		if s.cfg.FeatureTranslations && s.deps.Catalogs != nil {
			r.Get("/api/translations", s.GetTranslations)
		}
		if s.cfg.FeatureRelayNames && s.deps.Names != nil {
			r.Get("/relay/names", s.GetRelayNames)
			r.Put("/relay/names", s.RejectRelayNames)
			r.Patch("/relay/names", s.RejectRelayNames)
			r.Delete("/relay/names", s.RejectRelayNames)
		}
		if s.otaEnabled() {
			r.Get("/firmware/status", s.GetFirmwareStatus)
		}

		// Mutating routes
		r.Group(func(r chi.Router) {
			if s.cfg.AuthEnabled() {
				auth := middleware.NewTokenAuth(s.cfg.JWTSecret, s.cfg.TokenTTL())
				r.Use(auth.Verify)
				r.Use(middleware.RequireRole(middleware.RoleOperator))
			}

			r.Get("/relay/control", s.RelayControl)
			r.Get("/relay/multi", s.RelayMulti)

			r.Group(func(r chi.Router) {
				r.Use(middleware.MaxBodySize(maxJSONBody))
				r.Post("/relay/set", s.RelaySet)
				r.Post("/wifi/config", s.SetWiFiConfig)
				r.Post("/wifi/reset", s.ResetWiFi)
				if s.cfg.FeatureRelayNames && s.deps.Names != nil {
					r.Post("/relay/names", s.SetRelayNames)
				}
			})

			if s.otaEnabled() {
				r.Post("/firmware/upload", s.UploadFirmware)
			}
		})
	})

	return r
}

func (s *Server) otaEnabled() bool {
	return s.cfg.FeatureOTA && s.deps.Firmware != nil
}

// Index serves the embedded control page.
func (s *Server) Index(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(web.IndexHTML())
}
