package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// Config is the dbtsync configuration as read from dbtsync.json(c).
type Config struct {
	// Schema reference (for editor support)
	Schema string `json:"$schema,omitempty"`

	// Update server, http(s) or ws(s)
	ServerURL string `json:"serverURL,omitempty"`

	// Local durable cache directory
	DataDir string `json:"dataDir,omitempty"`

	LogLevel string `json:"logLevel,omitempty"`

	// Identity announced after connecting
	Identity *Identity `json:"identity,omitempty"`

	Sync  *SyncConfig  `json:"sync,omitempty"`
	Relay *RelayConfig `json:"relay,omitempty"`
}

// SyncConfig tunes the sync client.
type SyncConfig struct {
	ConnectTimeout       Duration `json:"connectTimeout,omitempty"`
	ReconnectDelay       Duration `json:"reconnectDelay,omitempty"`
	MaxReconnectAttempts int      `json:"maxReconnectAttempts,omitempty"`
	AutoReconnect        *bool    `json:"autoReconnect,omitempty"`
}

// RelayConfig configures the development relay server.
type RelayConfig struct {
	Port       int    `json:"port,omitempty"`
	Hostname   string `json:"hostname,omitempty"`
	EnableCORS *bool  `json:"enableCORS,omitempty"`
}

// Duration is a time.Duration written as a Go duration string ("1500ms")
// or a number of milliseconds.
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var ms float64
	if err := json.Unmarshal(data, &ms); err == nil {
		*d = Duration(time.Duration(ms * float64(time.Millisecond)))
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("duration must be a string or a number of milliseconds: %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}
