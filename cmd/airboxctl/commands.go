package main

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/nuclearlighters/airbox/internal/client"
	"github.com/nuclearlighters/airbox/internal/discovery"
	"github.com/nuclearlighters/airbox/internal/middleware"
)

// Global flags
var (
	configPath   string
	deviceAddr   string
	authToken    string
	outputFormat string

	ctlCfg = &ctlConfig{}
)

// Command flags
var (
	scanTimeout   int
	wifiPassword  string
	tokenSecret   string
	tokenUser     string
	tokenRole     string
	tokenHours    int
	uploadTimeout time.Duration
)

func init() {
	rootCmd.AddCommand(scanCmd, useCmd, stateCmd, relayCmd, namesCmd, wifiCmd, firmwareCmd, tokenCmd)

	scanCmd.Flags().IntVar(&scanTimeout, "timeout", 5, "Scan timeout in seconds")

	relayCmd.AddCommand(relaySetCmd, relayMultiCmd)
	namesCmd.AddCommand(namesGetCmd, namesSetCmd)

	wifiCmd.AddCommand(wifiStatusCmd, wifiConfigCmd, wifiResetCmd)
	wifiConfigCmd.Flags().StringVar(&wifiPassword, "password", "", "Network password (prompted when omitted)")

	firmwareCmd.AddCommand(firmwareUploadCmd)
	firmwareUploadCmd.Flags().DurationVar(&uploadTimeout, "timeout", 5*time.Minute, "Upload timeout")

	tokenCmd.Flags().StringVar(&tokenSecret, "secret", "", "Device JWT secret (defaults to the config file)")
	tokenCmd.Flags().StringVar(&tokenUser, "user", "airboxctl", "Token subject")
	tokenCmd.Flags().StringVar(&tokenRole, "role", middleware.RoleOperator, "Token role (viewer, operator, admin)")
	tokenCmd.Flags().IntVar(&tokenHours, "hours", 720, "Token lifetime in hours")
}

// =============================================================================
// Discovery
// =============================================================================

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for AirBox devices on the network",
	Example: `  airboxctl scan
  airboxctl scan --timeout 10 --format json`,
	RunE: runScan,
}

func runScan(cmd *cobra.Command, args []string) error {
	scanner := discovery.NewScanner()
	scanner.Timeout = time.Duration(scanTimeout) * time.Second

	if outputFormat != "json" {
		fmt.Printf("Scanning for AirBox devices (timeout: %ds)...\n\n", scanTimeout)
	}
	devices, err := scanner.Scan(cmd.Context())
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}

	if outputFormat == "json" {
		return printJSON(devices)
	}
	if len(devices) == 0 {
		fmt.Println("No devices found.")
		fmt.Println("\nA box without WiFi credentials runs its own network \"AirBox\" at 192.168.4.1.")
		return nil
	}

	fmt.Printf("Found %d device(s):\n\n", len(devices))
	for i, d := range devices {
		fmt.Printf("%d. %s\n", i+1, d.Instance)
		fmt.Printf("   Address: %s\n", d.Address())
		fmt.Printf("   Version: %s\n", d.Version)
		fmt.Printf("   Mode:    %s\n\n", d.Mode)
	}
	fmt.Println("Use 'airboxctl use <address>' to make one the default device")
	return nil
}

var useCmd = &cobra.Command{
	Use:   "use <address>",
	Short: "Save the default device address",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctlCfg.Device = args[0]
		if err := ctlCfg.save(configPath); err != nil {
			return err
		}
		fmt.Printf("Default device set to %s (%s)\n", args[0], configPath)
		return nil
	},
}

// resolveDevice picks the device address: flag, then config file, then a
// scan that must find exactly one device.
func resolveDevice(ctx context.Context) (string, error) {
	if deviceAddr != "" {
		return deviceAddr, nil
	}
	if ctlCfg.Device != "" {
		return ctlCfg.Device, nil
	}

	fmt.Fprintln(os.Stderr, "No device specified, attempting auto-discovery...")
	devices, err := discovery.NewScanner().Scan(ctx)
	if err != nil {
		return "", fmt.Errorf("discovery failed: %w", err)
	}
	return pickDevice(devices)
}

func pickDevice(devices []*discovery.Device) (string, error) {
	switch len(devices) {
	case 0:
		return "", fmt.Errorf("no devices found. Use --device to specify the address")
	case 1:
		return devices[0].Address(), nil
	}
	names := make([]string, len(devices))
	for i, d := range devices {
		names[i] = fmt.Sprintf("%s (%s)", d.Instance, d.Address())
	}
	return "", fmt.Errorf("multiple devices found: %s. Use --device to pick one", strings.Join(names, ", "))
}

func newDeviceClient(ctx context.Context) (*client.Client, error) {
	addr, err := resolveDevice(ctx)
	if err != nil {
		return nil, err
	}
	token := authToken
	if token == "" {
		token = ctlCfg.Token
	}
	return client.NewClient(addr, token), nil
}

// =============================================================================
// Relays
// =============================================================================

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Show relay states",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newDeviceClient(cmd.Context())
		if err != nil {
			return err
		}
		state, err := c.State(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to get state: %w", err)
		}
		names, err := c.Names(cmd.Context())
		if err != nil {
			names = nil // names are optional on the device
		}
		return printState(state, names)
	},
}

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Switch relays",
}

var relaySetCmd = &cobra.Command{
	Use:   "set <relay> <on|off>",
	Short: "Switch one relay (0-3)",
	Example: `  airboxctl relay set 1 on
  airboxctl relay set 3 0`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		index, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid relay %q", args[0])
		}
		on, err := parseOnOff(args[1])
		if err != nil {
			return err
		}
		c, err := newDeviceClient(cmd.Context())
		if err != nil {
			return err
		}
		state, err := c.Control(cmd.Context(), index, on)
		if err != nil {
			return fmt.Errorf("failed to switch relay: %w", err)
		}
		return printState(state, nil)
	},
}

var relayMultiCmd = &cobra.Command{
	Use:   "multi <relay=on|off>...",
	Short: "Switch several relays in one request",
	Example: `  airboxctl relay multi 0=on 2=off`,
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		relays, states, err := parseAssignments(args)
		if err != nil {
			return err
		}
		c, err := newDeviceClient(cmd.Context())
		if err != nil {
			return err
		}
		state, err := c.Multi(cmd.Context(), relays, states)
		if err != nil {
			return fmt.Errorf("failed to switch relays: %w", err)
		}
		return printState(state, nil)
	},
}

var namesCmd = &cobra.Command{
	Use:   "names",
	Short: "Show or change relay names",
}

var namesGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Show relay names",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newDeviceClient(cmd.Context())
		if err != nil {
			return err
		}
		names, err := c.Names(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to get names: %w", err)
		}
		if outputFormat == "json" {
			return printJSON(names)
		}
		for i, n := range names {
			fmt.Printf("%d  %s\n", i, n)
		}
		return nil
	},
}

var namesSetCmd = &cobra.Command{
	Use:   "set <name>...",
	Short: "Rename relays in order, up to four names",
	Example: `  airboxctl names set "Light" "Pump"`,
	Args:    cobra.RangeArgs(1, 4),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newDeviceClient(cmd.Context())
		if err != nil {
			return err
		}
		if err := c.SetNames(cmd.Context(), args); err != nil {
			return fmt.Errorf("failed to set names: %w", err)
		}
		fmt.Println("Names updated")
		return nil
	},
}

// =============================================================================
// WiFi
// =============================================================================

var wifiCmd = &cobra.Command{
	Use:   "wifi",
	Short: "Manage the device WiFi connection",
}

var wifiStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the WiFi link",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newDeviceClient(cmd.Context())
		if err != nil {
			return err
		}
		st, err := c.WiFiStatus(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to get WiFi status: %w", err)
		}
		if outputFormat == "json" {
			return printJSON(st)
		}
		if st.Connected == 0 {
			fmt.Println("Not connected (access point mode)")
			return nil
		}
		fmt.Printf("Connected to %s\n", st.SSID)
		fmt.Printf("  IP:   %s\n", st.IP)
		fmt.Printf("  RSSI: %d dBm\n", st.RSSI)
		return nil
	},
}

var wifiConfigCmd = &cobra.Command{
	Use:   "config <ssid>",
	Short: "Store WiFi credentials; the device restarts to join",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		password := wifiPassword
		if password == "" {
			p, err := readPassword(fmt.Sprintf("Password for %s: ", args[0]))
			if err != nil {
				return err
			}
			password = p
		}
		c, err := newDeviceClient(cmd.Context())
		if err != nil {
			return err
		}
		if err := c.ConfigureWiFi(cmd.Context(), args[0], password); err != nil {
			return fmt.Errorf("failed to configure WiFi: %w", err)
		}
		fmt.Println("Credentials saved. The device is restarting.")
		return nil
	},
}

var wifiResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Forget WiFi credentials; the device restarts as an access point",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newDeviceClient(cmd.Context())
		if err != nil {
			return err
		}
		if err := c.ResetWiFi(cmd.Context()); err != nil {
			return fmt.Errorf("failed to reset WiFi: %w", err)
		}
		fmt.Println("Credentials cleared. The device is restarting into access point mode.")
		return nil
	},
}

// readPassword prompts without echo on a terminal and reads a line otherwise.
func readPassword(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprint(os.Stderr, prompt)
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return string(b), nil
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// =============================================================================
// Firmware
// =============================================================================

var firmwareCmd = &cobra.Command{
	Use:   "firmware",
	Short: "Firmware updates",
}

var firmwareUploadCmd = &cobra.Command{
	Use:   "upload <image>",
	Short: "Upload a firmware image; the device restarts into it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		sum, err := fileSHA256(path)
		if err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("failed to open image: %w", err)
		}
		defer f.Close()

		c, err := newDeviceClient(cmd.Context())
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), uploadTimeout)
		defer cancel()

		fmt.Printf("Uploading %s (sha256 %s) to %s...\n", filepath.Base(path), sum[:12], c.BaseURL())
		res, err := c.UploadFirmware(ctx, f, filepath.Base(path), sum)
		if err != nil {
			return fmt.Errorf("upload failed: %w", err)
		}
		fmt.Println(res.Message)
		return nil
	},
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open image: %w", err)
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash image: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// =============================================================================
// Auth
// =============================================================================

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a bearer token for a device with JWT_SECRET set",
	RunE: func(cmd *cobra.Command, args []string) error {
		secret := tokenSecret
		if secret == "" {
			secret = ctlCfg.Secret
		}
		if secret == "" {
			return fmt.Errorf("no secret: pass --secret or set secret in %s", configPath)
		}
		auth := middleware.NewTokenAuth(secret, time.Duration(tokenHours)*time.Hour)
		token, err := auth.Issue(tokenUser, tokenRole)
		if err != nil {
			return fmt.Errorf("failed to sign token: %w", err)
		}
		fmt.Println(token)
		return nil
	},
}

// =============================================================================
// Helpers
// =============================================================================

func parseOnOff(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "on", "1", "true":
		return true, nil
	case "off", "0", "false":
		return false, nil
	}
	return false, fmt.Errorf("invalid state %q (want on or off)", s)
}

// parseAssignments parses "relay=state" arguments.
func parseAssignments(args []string) ([]int, []bool, error) {
	relays := make([]int, 0, len(args))
	states := make([]bool, 0, len(args))
	for _, a := range args {
		k, v, ok := strings.Cut(a, "=")
		if !ok {
			return nil, nil, fmt.Errorf("invalid assignment %q (want relay=on|off)", a)
		}
		index, err := strconv.Atoi(k)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid relay %q", k)
		}
		on, err := parseOnOff(v)
		if err != nil {
			return nil, nil, err
		}
		relays = append(relays, index)
		states = append(states, on)
	}
	return relays, states, nil
}

func printState(state client.State, names []string) error {
	switch outputFormat {
	case "json":
		return printJSON(state)
	case "yaml":
		return yaml.NewEncoder(os.Stdout).Encode(state)
	}
	for i := 0; i < 4; i++ {
		label := "off"
		if state.On(i) {
			label = "ON"
		}
		if i < len(names) {
			fmt.Printf("%d  %-3s  %s\n", i, label, names[i])
		} else {
			fmt.Printf("%d  %s\n", i, label)
		}
	}
	return nil
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	fmt.Println(string(data))
	return nil
}
