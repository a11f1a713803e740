// Package main is the entry point for the AirBox device daemon.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/nuclearlighters/airbox/internal/api"
	"github.com/nuclearlighters/airbox/internal/config"
	"github.com/nuclearlighters/airbox/internal/database"
	"github.com/nuclearlighters/airbox/internal/discovery"
	"github.com/nuclearlighters/airbox/internal/firmware"
	"github.com/nuclearlighters/airbox/internal/gpio"
	"github.com/nuclearlighters/airbox/internal/hal"
	"github.com/nuclearlighters/airbox/internal/network"
	"github.com/nuclearlighters/airbox/internal/relay"
	"github.com/nuclearlighters/airbox/internal/settings"
	"github.com/nuclearlighters/airbox/internal/system"
	"github.com/nuclearlighters/airbox/internal/web"
)

func main() {
	// Load configuration
	cfg := config.Get()

	// Setup logging
	setupLogging(cfg.LogLevel)

	log.Info().
		Str("version", cfg.Version).
		Str("listen", cfg.ListenAddr()).
		Msg("Starting AirBox")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	halClient := hal.NewClient(cfg.HALURL)

	// Settings storage; the device keeps running without it
	db, err := database.Open(cfg.DatabasePath)
	if err != nil {
		log.Warn().Err(err).Str("path", cfg.DatabasePath).Msg("Settings storage unavailable - running with defaults")
		db = nil
	}
	store := settings.New(db)

	// Relays start off
	driver, err := openGPIO(cfg, halClient)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.GPIODriver).Msg("Failed to open GPIO")
	}
	bank, err := relay.NewBank(driver, cfg.RelayPins)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize relays")
	}
	log.Info().Ints("pins", cfg.RelayPins).Msg("Relays initialized, all off")

	var names *relay.Names
	if cfg.FeatureRelayNames {
		names = relay.LoadNames(ctx, store)
	}

	var catalogs *web.Catalogs
	if cfg.FeatureTranslations {
		catalogs = web.LoadCatalogs(web.CatalogFS(cfg.TranslationsDir))
		log.Info().Int("languages", catalogs.Len()).Msg("Translations loaded")
	}

	// Network: station with stored credentials, else access point
	creds, err := store.LoadCredentials(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Stored WiFi credentials unavailable")
	}
	netManager := network.NewManager(newRadio(cfg, halClient), network.OptionsFromConfig(cfg))
	status := netManager.Connect(ctx, creds)
	log.Info().
		Str("mode", string(status.Mode)).
		Str("ssid", status.SSID).
		Str("ip", status.IP).
		Msg("Network up")
	go netManager.Run(ctx)

	// Firmware updates
	var sink *firmware.Sink
	var updater *firmware.FileUpdater
	if cfg.FeatureOTA {
		updater = firmware.NewFileUpdater(cfg.FirmwareDir, cfg.FirmwareMaxBytes)
		sink = firmware.NewSink(updater)
	}

	var installer system.ImageInstaller
	if updater != nil {
		installer = updater
	}
	scheduler := system.NewScheduler(newRestarter(cfg, halClient, installer))

	deps := api.Deps{
		Relays:   bank,
		Store:    store,
		Network:  netManager,
		Restarts: scheduler,
		Catalogs: catalogs,
		DataDir:  cfg.FirmwareDir,
	}
	if names != nil {
		deps.Names = names
	}
	if sink != nil {
		deps.Firmware = sink
		deps.Images = updater
	}
	if usesHAL(cfg) {
		deps.HAL = halClient
	}
	server := api.NewServer(cfg, deps)

	// Create HTTP server
	srv := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      server.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute, // firmware uploads
		IdleTimeout:  60 * time.Second,
	}

	var advertiser *discovery.Advertiser
	if cfg.MDNSEnabled {
		advertiser, err = discovery.Advertise(cfg.MDNSInstance, cfg.APIPort, cfg.Version, string(status.Mode))
		if err != nil {
			log.Warn().Err(err).Msg("mDNS advertisement failed")
		}
	}

	shutdown := func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("Server forced to shutdown")
		}
		cancel()
		if advertiser != nil {
			advertiser.Shutdown()
		}
		if err := driver.Close(); err != nil {
			log.Warn().Err(err).Msg("Error releasing GPIO lines")
		}
		closeDatabase(db)
	}
	scheduler.BeforeRestart(shutdown)

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", cfg.ListenAddr()).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")
	scheduler.Stop()

	// Give outstanding requests 10 seconds to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	shutdown(shutdownCtx)

	log.Info().Msg("Server stopped")
}

// setupLogging configures zerolog based on log level.
func setupLogging(level string) {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

func openGPIO(cfg *config.Settings, halClient *hal.Client) (gpio.Driver, error) {
	switch cfg.GPIODriver {
	case config.GPIODriverChip:
		return gpio.OpenChip(cfg.GPIOChip, cfg.RelayPins)
	case config.GPIODriverHAL:
		return gpio.NewRemote(halClient, 5*time.Second), nil
	case config.GPIODriverMemory:
		return gpio.NewMemory(cfg.RelayPins), nil
	}
	return nil, fmt.Errorf("unknown GPIO driver %q", cfg.GPIODriver)
}

func newRadio(cfg *config.Settings, halClient *hal.Client) network.Radio {
	if cfg.RadioDriver == config.RadioDriverSim {
		networks := make(map[string]network.SimNetwork, len(cfg.SimNetworks))
		host := 50
		for ssid, password := range cfg.SimNetworks {
			networks[ssid] = network.SimNetwork{
				Password:  password,
				IP:        fmt.Sprintf("192.168.1.%d", host),
				RSSI:      -55,
				JoinAfter: 3,
			}
			host++
		}
		log.Info().Int("networks", len(networks)).Msg("Using simulated radio")
		return network.NewSimRadio(networks)
	}
	return network.NewHALRadio(halClient, cfg.WiFiInterface)
}

func newRestarter(cfg *config.Settings, halClient *hal.Client, installer system.ImageInstaller) system.Restarter {
	if cfg.RestartDriver == config.RestartDriverHAL {
		return system.NewHALRestarter(halClient, installer)
	}
	return system.NewExecRestarter(installer)
}

func usesHAL(cfg *config.Settings) bool {
	return cfg.GPIODriver == config.GPIODriverHAL ||
		cfg.RadioDriver == config.RadioDriverHAL ||
		cfg.RestartDriver == config.RestartDriverHAL
}

func closeDatabase(db *sql.DB) {
	if db == nil {
		return
	}
	if err := database.Close(db); err != nil {
		log.Warn().Err(err).Msg("Error closing settings database")
	}
}
