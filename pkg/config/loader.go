package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"outage-tracker/pkg/types"
)

// LoadTrackerConfig reads and validates a tracker configuration file.
// Sweep intervals not present in the file fall back to their defaults.
func LoadTrackerConfig(path string) (*types.TrackerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg types.TrackerConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	cfg.Sweeps = cfg.Sweeps.WithDefaults()

	if cfg.Chat.AnnounceChannelID == "" {
		return nil, fmt.Errorf("config file %s: chat.announce_channel_id must be set", path)
	}
	return &cfg, nil
}
