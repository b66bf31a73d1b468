package db

import (
	"fmt"
	"strconv"

	"moonwatch/internal/config"
)

// LoadConfig reads config from SQLite. If empty, returns defaults.
func (d *DB) LoadConfig() *config.Config {
	cfg := config.Default()

	rows, err := d.sql.Query("SELECT key, value FROM config")
	if err != nil {
		return cfg
	}
	defer rows.Close()

	m := make(map[string]string)
	for rows.Next() {
		var k, v string
		rows.Scan(&k, &v)
		m[k] = v
	}

	if len(m) == 0 {
		return cfg
	}

	if v, ok := m["refine_percent"]; ok {
		cfg.RefinePercent, _ = strconv.ParseFloat(v, 64)
	}
	if v, ok := m["import_interval_minutes"]; ok {
		cfg.ImportIntervalMinutes, _ = strconv.Atoi(v)
	}
	if v, ok := m["observer_interval_minutes"]; ok {
		cfg.ObserverIntervalMinutes, _ = strconv.Atoi(v)
	}
	if v, ok := m["workers"]; ok {
		cfg.Workers, _ = strconv.Atoi(v)
	}
	if v, ok := m["http_port"]; ok {
		cfg.HTTPPort, _ = strconv.Atoi(v)
	}
	if v, ok := m["sso_client_id"]; ok {
		cfg.SSOClientID = v
	}
	if v, ok := m["sso_callback_url"]; ok {
		cfg.SSOCallbackURL = v
	}
	if v, ok := m["material_feed_url"]; ok {
		cfg.MaterialFeedURL = v
	}

	cfg.Normalize()
	return cfg
}

// SaveConfig writes config to SQLite (upsert all fields).
// The SSO client secret deliberately never touches the database.
func (d *DB) SaveConfig(cfg *config.Config) error {
	pairs := map[string]string{
		"refine_percent":            fmt.Sprintf("%g", cfg.RefinePercent),
		"import_interval_minutes":   strconv.Itoa(cfg.ImportIntervalMinutes),
		"observer_interval_minutes": strconv.Itoa(cfg.ObserverIntervalMinutes),
		"workers":                   strconv.Itoa(cfg.Workers),
		"http_port":                 strconv.Itoa(cfg.HTTPPort),
		"sso_client_id":             cfg.SSOClientID,
		"sso_callback_url":          cfg.SSOCallbackURL,
		"material_feed_url":         cfg.MaterialFeedURL,
	}

	tx, err := d.sql.Begin()
	if err != nil {
		return err
	}
	stmt, err := tx.Prepare("INSERT OR REPLACE INTO config (key, value) VALUES (?, ?)")
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for k, v := range pairs {
		if _, err := stmt.Exec(k, v); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}
