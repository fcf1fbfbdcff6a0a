package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

const (
	envServer      = "PAGEPULSE_SERVER"
	envSessionFile = "PAGEPULSE_SESSION_FILE"
)

type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// ClientConfig holds the settings of the terminal reader.
type ClientConfig struct {
	Server           string   `toml:"server"`
	SessionFile      string   `toml:"session_file"`
	Popups           bool     `toml:"popups"`
	PopupDuration    Duration `toml:"popup_duration"`
	AlertDuration    Duration `toml:"alert_duration"`
	PollInterval     Duration `toml:"poll_interval"`
	ActiveUsersDelay Duration `toml:"active_users_delay"`
	ReconnectMin     Duration `toml:"reconnect_min"`
	ReconnectMax     Duration `toml:"reconnect_max"`
	BatchSize        int      `toml:"batch_size"`
	PreloadThreshold int      `toml:"preload_threshold"`
	VisibleUsers     int      `toml:"visible_users"`
}

func GetDefaultConfigDir() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "pagepulse"), nil
}

func DefaultClientConfig() *ClientConfig {
	cfg := &ClientConfig{
		Server:           "http://localhost:8000",
		Popups:           true,
		PopupDuration:    Duration{5 * time.Second},
		AlertDuration:    Duration{5 * time.Second},
		PollInterval:     Duration{3 * time.Second},
		ActiveUsersDelay: Duration{300 * time.Millisecond},
		ReconnectMin:     Duration{500 * time.Millisecond},
		ReconnectMax:     Duration{30 * time.Second},
		BatchSize:        20,
		PreloadThreshold: 5,
		VisibleUsers:     5,
	}
	if dir, err := GetDefaultConfigDir(); err == nil {
		cfg.SessionFile = filepath.Join(dir, "session.json")
	}
	return cfg
}

// LoadClientConfig reads the TOML file at path on top of the defaults and
// applies environment overrides. A missing file is not an error.
func LoadClientConfig(path string) (*ClientConfig, error) {
	cfg := DefaultClientConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("reading config file: %w", err)
		default:
			if err := toml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("unmarshaling config: %w", err)
			}
		}
	}

	if v := os.Getenv(envServer); v != "" {
		cfg.Server = v
	}
	if v := os.Getenv(envSessionFile); v != "" {
		cfg.SessionFile = v
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *ClientConfig) validate() error {
	u, err := url.Parse(c.Server)
	if err != nil {
		return fmt.Errorf("invalid server url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("server url must be http or https, got %q", c.Server)
	}
	if c.SessionFile == "" {
		return fmt.Errorf("session file cannot be empty")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive")
	}
	if c.PreloadThreshold < 0 {
		return fmt.Errorf("preload threshold cannot be negative")
	}
	if c.ReconnectMin.Duration <= 0 || c.ReconnectMax.Duration < c.ReconnectMin.Duration {
		return fmt.Errorf("invalid reconnect backoff %s..%s", c.ReconnectMin, c.ReconnectMax)
	}
	return nil
}

// WebsocketURL returns the realtime endpoint of the configured server.
func (c *ClientConfig) WebsocketURL() string {
	u, err := url.Parse(c.Server)
	if err != nil {
		return ""
	}
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	return u.String()
}

func (c *ClientConfig) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	return os.WriteFile(path, data, 0644)
}
