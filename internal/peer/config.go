package peer

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/IDisposable/mutegrid/internal/mute"
)

// Config is the conductor configuration.
type Config struct {
	InstanceName      string        `yaml:"instance_name"`
	ListenAddr        string        `yaml:"listen_addr"`
	Peers             []string      `yaml:"peers"`
	AutoReconnect     bool          `yaml:"auto_reconnect"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
	ResolveTimeout    time.Duration `yaml:"resolve_timeout"`
	FlashRate         int           `yaml:"flash_rate"`
}

// DefaultConfig returns the stock conductor configuration.
func DefaultConfig() Config {
	return Config{
		InstanceName:      "muteconductor",
		ListenAddr:        ":8631",
		AutoReconnect:     true,
		PollInterval:      time.Second,
		ReconnectInterval: 5 * time.Second,
		ResolveTimeout:    2 * time.Second,
		FlashRate:         mute.DefaultFlashRate,
	}
}

// LoadConfig reads a YAML config file over the defaults and validates the
// result. An empty path returns the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the configuration against the supported bounds.
func (c Config) Validate() error {
	if err := mute.ValidateInstanceName(c.InstanceName); err != nil {
		return err
	}
	if c.ListenAddr == "" {
		return mute.ErrInvalidListenAddr
	}
	if c.PollInterval <= 0 || c.ReconnectInterval <= 0 || c.ResolveTimeout <= 0 {
		return fmt.Errorf("intervals must be positive")
	}
	return mute.ValidateFlashRate(c.FlashRate)
}
