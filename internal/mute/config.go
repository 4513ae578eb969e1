package mute

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const (
	// MaxGroups bounds the configurable group count.
	MaxGroups = 8
	// MaxZonesPerGroup bounds the configurable zone count per group.
	MaxZonesPerGroup = 32

	// DefaultFlashRate is the stock flash rate parameter.
	DefaultFlashRate = 50
	// DefaultListenAddr is the stock control-surface listen address.
	DefaultListenAddr = ":8630"
)

// Config is the bank instance configuration. Zones beyond the configured
// counts are dormant, not absent: an instance always owns the full grid it
// was configured with for the session.
type Config struct {
	InstanceName  string      `yaml:"instance_name"`
	ListenAddr    string      `yaml:"listen_addr"`
	GroupCount    int         `yaml:"group_count"`
	ZonesPerGroup int         `yaml:"zones_per_group"`
	FlashRate     int         `yaml:"flash_rate"`
	GroupLabels   []string    `yaml:"group_labels,omitempty"`
	ZoneLabels    [][]string  `yaml:"zone_labels,omitempty"`
	Colors        ColorScheme `yaml:"colors"`
}

// DefaultConfig returns the stock configuration: one group of four zones.
func DefaultConfig() Config {
	return Config{
		InstanceName:  "mutegrid",
		ListenAddr:    DefaultListenAddr,
		GroupCount:    1,
		ZonesPerGroup: 4,
		FlashRate:     DefaultFlashRate,
		Colors:        DefaultColorScheme(),
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
	if err := ValidateInstanceName(c.InstanceName); err != nil {
		return err
	}
	if c.ListenAddr == "" {
		return ErrInvalidListenAddr
	}
	if err := ValidateGroupCount(c.GroupCount); err != nil {
		return err
	}
	if err := ValidateZoneCount(c.ZonesPerGroup); err != nil {
		return err
	}
	return ValidateFlashRate(c.FlashRate)
}

// GroupLabel returns the configured label for a group, or a generated one.
func (c Config) GroupLabel(g int) string {
	if g < len(c.GroupLabels) && c.GroupLabels[g] != "" {
		return c.GroupLabels[g]
	}
	return fmt.Sprintf("Group %d", g+1)
}

// ZoneLabel returns the configured label for a zone, or a generated one.
func (c Config) ZoneLabel(g, m int) string {
	if g < len(c.ZoneLabels) && m < len(c.ZoneLabels[g]) && c.ZoneLabels[g][m] != "" {
		return c.ZoneLabels[g][m]
	}
	return fmt.Sprintf("Zone %d-%d", g+1, m+1)
}
