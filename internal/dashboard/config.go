package dashboard

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dj-oyu/detection-dashboard/internal/session"
)

// Config defines the runtime configuration for the dashboard server.
type Config struct {
	Addr      string `yaml:"addr"`
	AssetsDir string `yaml:"assets_dir"`

	STUNServers       []string      `yaml:"stun_servers"`
	MaxDataChannels   int           `yaml:"max_data_channels"`
	KeepaliveInterval time.Duration `yaml:"keepalive_interval"`
	RelayIdleFrame    time.Duration `yaml:"relay_idle_frame"`
	RelayJPEGQuality  int           `yaml:"relay_jpeg_quality"`

	Session session.Config `yaml:"session"`
}

// DefaultConfig returns the settings used when no file or flag overrides them.
func DefaultConfig() Config {
	return Config{
		Addr:              ":8080",
		AssetsDir:         "./web_assets",
		STUNServers:       []string{"stun:stun.l.google.com:19302"},
		MaxDataChannels:   8,
		KeepaliveInterval: 30 * time.Second,
		RelayIdleFrame:    5 * time.Second,
		RelayJPEGQuality:  80,
		Session:           session.DefaultConfig(),
	}
}

// BackendURLEnv overrides Session.BackendURL when set.
const BackendURLEnv = "DASHBOARD_BACKEND_URL"

// LoadFile overlays the YAML file at path onto cfg. Keys missing from the
// file keep their current values.
func LoadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// ApplyEnv applies environment overrides.
func (c *Config) ApplyEnv() {
	if v := os.Getenv(BackendURLEnv); v != "" {
		c.Session.BackendURL = v
	}
}
