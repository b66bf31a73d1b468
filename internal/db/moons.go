package db

import "database/sql"

// Moon is a cached reference entry for a mined celestial.
type Moon struct {
	MoonID int64  `json:"moon_id"`
	Name   string `json:"name"`
}

// GetMoon returns the cached moon, or nil if it has never been seen.
func (d *DB) GetMoon(moonID int64) *Moon {
	var m Moon
	err := d.sql.QueryRow(`SELECT moon_id, name FROM moons WHERE moon_id = ?`, moonID).
		Scan(&m.MoonID, &m.Name)
	if err != nil {
		return nil
	}
	return &m
}

// CreateMoonIfAbsent inserts a moon record unless one already exists.
// Returns true if a new row was created.
func (d *DB) CreateMoonIfAbsent(moonID int64, name string) (bool, error) {
	res, err := d.sql.Exec(`INSERT OR IGNORE INTO moons (moon_id, name) VALUES (?, ?)`, moonID, name)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	if n == 0 && name != "" {
		// Backfill a name learned after first sight.
		d.sql.Exec(`UPDATE moons SET name = ? WHERE moon_id = ? AND name = ''`, name, moonID)
	}
	return n > 0, nil
}

// ListMoonsWithResources returns all moons that have at least one stored
// resource row, ordered by name.
func (d *DB) ListMoonsWithResources() ([]Moon, error) {
	rows, err := d.sql.Query(`
		SELECT DISTINCT m.moon_id, m.name
		  FROM moons m
		  JOIN resources r ON r.moon_id = m.moon_id
		 ORDER BY m.name ASC, m.moon_id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Moon
	for rows.Next() {
		var m Moon
		if err := rows.Scan(&m.MoonID, &m.Name); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Corporation is a cached owning-corporation record.
type Corporation struct {
	CorporationID int64  `json:"corporation_id"`
	Name          string `json:"name"`
}

// CreateCorporationIfAbsent inserts a corporation record unless one exists.
func (d *DB) CreateCorporationIfAbsent(corporationID int64, name string) error {
	_, err := d.sql.Exec(`INSERT OR IGNORE INTO corporations (corporation_id, name) VALUES (?, ?)`,
		corporationID, name)
	return err
}

// GetCorporation returns the corporation, or nil if unknown.
func (d *DB) GetCorporation(corporationID int64) *Corporation {
	var c Corporation
	err := d.sql.QueryRow(`SELECT corporation_id, name FROM corporations WHERE corporation_id = ?`,
		corporationID).Scan(&c.CorporationID, &c.Name)
	if err == sql.ErrNoRows || err != nil {
		return nil
	}
	return &c
}
