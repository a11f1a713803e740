// Airboxctl controls AirBox relay boxes over their HTTP API.
//
// It finds devices with mDNS, switches relays, renames them, manages the
// Wi-Fi credentials and pushes firmware images.
//
// Usage:
//
//	airboxctl [command] [flags]
//
// The device address comes from --device, the config file
// (~/.config/airboxctl.yaml) or, when exactly one device answers, an mDNS scan.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
)

var version = "0.3.0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "airboxctl",
	Short:   "AirBox relay box control utility",
	Version: version,
	Long: `Control AirBox relay boxes from the command line.

Discovers boxes on the local network, switches and renames relays,
configures the box's WiFi connection and uploads firmware updates.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadCtlConfig(configPath)
		if err != nil {
			return err
		}
		ctlCfg = cfg
		return nil
	},
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath(), "Config file")
	rootCmd.PersistentFlags().StringVar(&deviceAddr, "device", "", "Device address (skips discovery)")
	rootCmd.PersistentFlags().StringVar(&authToken, "token", "", "Bearer token for devices with auth enabled")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "text", "Output format (text, json, yaml)")
}
