package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

// LoadFile overlays settings from a TOML file onto cfg.
// Only keys present in the file are applied. A missing file is not an error.
func LoadFile(path string, cfg *Config) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	var raw Config
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("load config %s: %w", path, err)
	}

	if meta.IsDefined("refine_percent") {
		cfg.RefinePercent = raw.RefinePercent
	}
	if meta.IsDefined("import_interval_minutes") {
		cfg.ImportIntervalMinutes = raw.ImportIntervalMinutes
	}
	if meta.IsDefined("observer_interval_minutes") {
		cfg.ObserverIntervalMinutes = raw.ObserverIntervalMinutes
	}
	if meta.IsDefined("workers") {
		cfg.Workers = raw.Workers
	}
	if meta.IsDefined("http_port") {
		cfg.HTTPPort = raw.HTTPPort
	}
	if meta.IsDefined("sso_client_id") {
		cfg.SSOClientID = strings.TrimSpace(raw.SSOClientID)
	}
	if meta.IsDefined("sso_client_secret") {
		cfg.SSOClientSecret = strings.TrimSpace(raw.SSOClientSecret)
	}
	if meta.IsDefined("sso_callback_url") {
		cfg.SSOCallbackURL = strings.TrimSpace(raw.SSOCallbackURL)
	}
	if meta.IsDefined("material_feed_url") {
		cfg.MaterialFeedURL = strings.TrimSpace(raw.MaterialFeedURL)
	}

	cfg.Normalize()
	return nil
}
