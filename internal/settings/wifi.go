package settings

import "context"

// NamespaceWiFi holds the station credentials.
const NamespaceWiFi = "wifi"

const (
	keySSID     = "ssid"
	keyPassword = "password"
)

// Credentials are the station-mode Wi-Fi credentials.
type Credentials struct {
	SSID     string `json:"ssid"`
	Password string `json:"password"`
}

// Present reports whether the credentials can be used to join a network.
// Both fields must be non-empty.
func (c *Credentials) Present() bool {
	return c != nil && c.SSID != "" && c.Password != ""
}

// LoadCredentials reads the stored credentials. Missing keys read as empty strings.
func (s *Store) LoadCredentials(ctx context.Context) (*Credentials, error) {
	creds := &Credentials{}
	err := s.With(ctx, NamespaceWiFi, true, func(h *Handle) error {
		var err error
		if creds.SSID, err = h.GetString(keySSID, ""); err != nil {
			return err
		}
		creds.Password, err = h.GetString(keyPassword, "")
		return err
	})
	if err != nil {
		return nil, err
	}
	return creds, nil
}

// SaveCredentials persists both fields verbatim.
func (s *Store) SaveCredentials(ctx context.Context, creds Credentials) error {
	return s.With(ctx, NamespaceWiFi, false, func(h *Handle) error {
		if err := h.PutString(keySSID, creds.SSID); err != nil {
			return err
		}
		return h.PutString(keyPassword, creds.Password)
	})
}

// ResetCredentials clears the wifi namespace.
func (s *Store) ResetCredentials(ctx context.Context) error {
	return s.With(ctx, NamespaceWiFi, false, func(h *Handle) error {
		return h.Clear()
	})
}
