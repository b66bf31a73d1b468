package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"moonwatch/internal/logger"
	_ "modernc.org/sqlite"
)

// DB wraps a SQLite database connection.
type DB struct {
	sql *sql.DB
}

func dbPath() string {
	// Prefer working directory so the DB is stable across go run / go build.
	// Fall back to executable directory for deployed builds.
	if wd, err := os.Getwd(); err == nil {
		return filepath.Join(wd, "moonwatch.db")
	}
	exe, _ := os.Executable()
	return filepath.Join(filepath.Dir(exe), "moonwatch.db")
}

// Open opens (or creates) the SQLite database and runs migrations.
func Open() (*DB, error) {
	path := dbPath()
	sqlDB, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}
	d := &DB{sql: sqlDB}
	if err := d.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate db: %w", err)
	}
	logger.Success("DB", fmt.Sprintf("Opened %s", path))
	return d, nil
}

// OpenMemory opens a private in-memory database with the full schema.
// Used by tests in other packages.
func OpenMemory() (*DB, error) {
	sqlDB, err := sql.Open("sqlite", ":memory:?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// Each sqlite :memory: connection is its own database; pin the pool to
	// one connection so every caller sees the same schema.
	sqlDB.SetMaxOpenConns(1)
	d := &DB{sql: sqlDB}
	if err := d.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate db: %w", err)
	}
	return d, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.sql.Close()
}

func (d *DB) migrate() error {
	version := 0
	// Try to read current version
	d.sql.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)

	if version < 1 {
		_, err := d.sql.Exec(`
			CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY);

			CREATE TABLE IF NOT EXISTS config (
				key   TEXT PRIMARY KEY,
				value TEXT NOT NULL
			);

			CREATE TABLE IF NOT EXISTS moons (
				moon_id INTEGER PRIMARY KEY,
				name    TEXT NOT NULL DEFAULT ''
			);

			CREATE TABLE IF NOT EXISTS corporations (
				corporation_id INTEGER PRIMARY KEY,
				name           TEXT NOT NULL DEFAULT ''
			);

			CREATE TABLE IF NOT EXISTS refineries (
				structure_id   INTEGER PRIMARY KEY,
				name           TEXT,
				type_id        INTEGER NOT NULL,
				corporation_id INTEGER NOT NULL,
				observer       INTEGER NOT NULL DEFAULT 1
			);
			CREATE INDEX IF NOT EXISTS idx_refineries_corp ON refineries(corporation_id);

			CREATE TABLE IF NOT EXISTS extractions (
				id             INTEGER PRIMARY KEY AUTOINCREMENT,
				start_time     TEXT NOT NULL,
				arrival_time   TEXT NOT NULL,
				decay_time     TEXT NOT NULL,
				moon_id        INTEGER NOT NULL,
				structure_id   INTEGER NOT NULL,
				corporation_id INTEGER NOT NULL,
				cancelled      INTEGER NOT NULL DEFAULT 0,
				jackpot        INTEGER,
				depleted       INTEGER,
				total_volume   INTEGER,
				UNIQUE (start_time, moon_id)
			);
			CREATE INDEX IF NOT EXISTS idx_extractions_moon ON extractions(moon_id);
			CREATE INDEX IF NOT EXISTS idx_extractions_structure ON extractions(structure_id);
			CREATE INDEX IF NOT EXISTS idx_extractions_arrival ON extractions(arrival_time);

			CREATE TABLE IF NOT EXISTS resources (
				id       INTEGER PRIMARY KEY AUTOINCREMENT,
				moon_id  INTEGER NOT NULL,
				ore_id   INTEGER NOT NULL,
				quantity REAL NOT NULL,
				UNIQUE (moon_id, ore_id)
			);
			CREATE INDEX IF NOT EXISTS idx_resources_moon ON resources(moon_id);

			CREATE TABLE IF NOT EXISTS tracking_characters (
				character_id            INTEGER PRIMARY KEY,
				character_name          TEXT NOT NULL DEFAULT '',
				corporation_id          INTEGER NOT NULL DEFAULT 0,
				latest_notification_id  INTEGER NOT NULL DEFAULT 0,
				last_notification_check TEXT
			);

			CREATE TABLE IF NOT EXISTS user_notifications (
				id         INTEGER PRIMARY KEY AUTOINCREMENT,
				user_id    TEXT NOT NULL,
				title      TEXT NOT NULL,
				message    TEXT NOT NULL,
				severity   TEXT NOT NULL,
				created_at TEXT NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_user_notifications_user ON user_notifications(user_id);

			CREATE TABLE IF NOT EXISTS structure_cache (
				structure_id INTEGER PRIMARY KEY,
				name         TEXT NOT NULL
			);

			INSERT OR IGNORE INTO schema_version (version) VALUES (1);
		`)
		if err != nil {
			return fmt.Errorf("migration v1: %w", err)
		}
		logger.Info("DB", "Applied migration v1")
	}

	if version < 2 {
		_, err := d.sql.Exec(`
			CREATE TABLE IF NOT EXISTS auth_session (
				user_id         TEXT NOT NULL,
				character_id    INTEGER NOT NULL,
				character_name  TEXT NOT NULL,
				access_token    TEXT NOT NULL,
				refresh_token   TEXT NOT NULL,
				expires_at      INTEGER NOT NULL,
				PRIMARY KEY (user_id, character_id)
			);

			INSERT OR IGNORE INTO schema_version (version) VALUES (2);
		`)
		if err != nil {
			return fmt.Errorf("migration v2: %w", err)
		}
		logger.Info("DB", "Applied migration v2 (auth session)")
	}

	if version < 3 {
		_, err := d.sql.Exec(`
			CREATE TABLE IF NOT EXISTS materials (
				type_id          INTEGER NOT NULL,
				material_type_id INTEGER NOT NULL,
				quantity         INTEGER NOT NULL,
				PRIMARY KEY (type_id, material_type_id)
			);

			CREATE TABLE IF NOT EXISTS material_checksum (
				id       INTEGER PRIMARY KEY DEFAULT 1,
				checksum TEXT NOT NULL
			);

			CREATE TABLE IF NOT EXISTS material_prices (
				type_id       INTEGER PRIMARY KEY,
				average_price REAL NOT NULL,
				updated_at    TEXT NOT NULL
			);

			INSERT OR IGNORE INTO schema_version (version) VALUES (3);
		`)
		if err != nil {
			return fmt.Errorf("migration v3: %w", err)
		}
		logger.Info("DB", "Applied migration v3 (materials)")
	}

	if version < 4 {
		_, err := d.sql.Exec(`
			CREATE TABLE IF NOT EXISTS ore_types (
				type_id  INTEGER PRIMARY KEY,
				name     TEXT NOT NULL,
				group_id INTEGER NOT NULL
			);

			INSERT OR IGNORE INTO schema_version (version) VALUES (4);
		`)
		if err != nil {
			return fmt.Errorf("migration v4: %w", err)
		}
		logger.Info("DB", "Applied migration v4 (ore types)")
	}

	return nil
}

// SqlDB returns the underlying *sql.DB for use by other packages (e.g. auth store).
func (d *DB) SqlDB() *sql.DB {
	return d.sql
}

// Times are stored as RFC3339 UTC text so lexicographic comparison in SQL
// matches chronological order.
func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}
