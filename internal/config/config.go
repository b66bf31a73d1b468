package config

import "time"

// Config holds application settings (in-memory representation).
// Persistence is handled by internal/db; a moonwatch.toml file may
// overlay the defaults before env vars are applied.
type Config struct {
	// RefinePercent is the assumed reprocessing yield used for moon
	// valuation, as a fraction in (0,1]. Values above 1 are treated as
	// whole percentages and divided by 100 (so 87.6 == 0.876).
	RefinePercent float64 `json:"refine_percent" toml:"refine_percent"`

	// ImportIntervalMinutes is how often extraction imports are scheduled.
	ImportIntervalMinutes int `json:"import_interval_minutes" toml:"import_interval_minutes"`
	// ObserverIntervalMinutes is how often observer status is re-checked.
	ObserverIntervalMinutes int `json:"observer_interval_minutes" toml:"observer_interval_minutes"`
	// Workers is the size of the reconciliation worker pool.
	Workers int `json:"workers" toml:"workers"`

	HTTPPort int `json:"http_port" toml:"http_port"`

	// ESI SSO credentials. Usually supplied via env vars, see main.go.
	SSOClientID     string `json:"sso_client_id" toml:"sso_client_id"`
	SSOClientSecret string `json:"-" toml:"sso_client_secret"`
	SSOCallbackURL  string `json:"sso_callback_url" toml:"sso_callback_url"`

	// MaterialFeedURL is the reference feed for reprocessing materials
	// used by moon valuation. Empty disables valuation.
	MaterialFeedURL string `json:"material_feed_url" toml:"material_feed_url"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		RefinePercent:           0.876,
		ImportIntervalMinutes:   30,
		ObserverIntervalMinutes: 120,
		Workers:                 4,
		HTTPPort:                13380,
		SSOCallbackURL:          "http://localhost:13380/api/auth/callback",
		MaterialFeedURL:         "https://sde.zzeve.com",
	}
}

// Normalize clamps settings into their valid ranges.
// A RefinePercent above 1 is read as a whole percentage.
func (c *Config) Normalize() {
	if c.RefinePercent > 1 {
		c.RefinePercent = c.RefinePercent / 100
	}
	if c.RefinePercent <= 0 {
		c.RefinePercent = Default().RefinePercent
	}
	if c.ImportIntervalMinutes <= 0 {
		c.ImportIntervalMinutes = Default().ImportIntervalMinutes
	}
	if c.ObserverIntervalMinutes <= 0 {
		c.ObserverIntervalMinutes = Default().ObserverIntervalMinutes
	}
	if c.Workers <= 0 {
		c.Workers = Default().Workers
	}
	if c.HTTPPort <= 0 {
		c.HTTPPort = Default().HTTPPort
	}
}

// ImportInterval returns the import cadence as a duration.
func (c *Config) ImportInterval() time.Duration {
	return time.Duration(c.ImportIntervalMinutes) * time.Minute
}

// ObserverInterval returns the observer re-check cadence as a duration.
func (c *Config) ObserverInterval() time.Duration {
	return time.Duration(c.ObserverIntervalMinutes) * time.Minute
}
