package db

import "database/sql"

// Refinery is a moon-drilling structure keyed by its global structure id.
type Refinery struct {
	StructureID   int64  `json:"structure_id"`
	Name          string `json:"name"`
	TypeID        int32  `json:"type_id"`
	CorporationID int64  `json:"corporation_id"`
	// Observer reports whether the structure still shows up as a mining
	// observer under some live credential. Defaults to true at creation
	// and is only ever cleared, never re-set (see reconcile.UpdateObservers).
	Observer bool `json:"observer"`
}

// GetRefinery returns the refinery, or nil if the structure is unknown.
func (d *DB) GetRefinery(structureID int64) *Refinery {
	var r Refinery
	var name sql.NullString
	var observer int
	err := d.sql.QueryRow(`
		SELECT structure_id, name, type_id, corporation_id, observer
		  FROM refineries WHERE structure_id = ?`, structureID).
		Scan(&r.StructureID, &name, &r.TypeID, &r.CorporationID, &observer)
	if err != nil {
		return nil
	}
	r.Name = name.String
	r.Observer = observer == 1
	return &r
}

// CreateRefineryIfAbsent inserts a refinery unless the structure id exists.
// New refineries default to observer = true. Returns true on creation.
func (d *DB) CreateRefineryIfAbsent(r *Refinery) (bool, error) {
	res, err := d.sql.Exec(`
		INSERT OR IGNORE INTO refineries (structure_id, name, type_id, corporation_id, observer)
		VALUES (?, ?, ?, ?, 1)`,
		r.StructureID, r.Name, r.TypeID, r.CorporationID)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ListRefineriesByCorporation returns all refineries owned by a corporation.
func (d *DB) ListRefineriesByCorporation(corporationID int64) ([]Refinery, error) {
	rows, err := d.sql.Query(`
		SELECT structure_id, name, type_id, corporation_id, observer
		  FROM refineries
		 WHERE corporation_id = ?
		 ORDER BY structure_id ASC`, corporationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRefineries(rows)
}

// ListRefineryCorporations returns the distinct corporation ids that own at
// least one refinery.
func (d *DB) ListRefineryCorporations() ([]int64, error) {
	rows, err := d.sql.Query(`SELECT DISTINCT corporation_id FROM refineries ORDER BY corporation_id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// ClearRefineryObserver marks a refinery as no longer observed.
// The flag is monotonic: this is the only mutation, there is no setter back
// to true (re-activation requires operator intervention).
func (d *DB) ClearRefineryObserver(structureID int64) error {
	_, err := d.sql.Exec(`UPDATE refineries SET observer = 0 WHERE structure_id = ?`, structureID)
	return err
}

func scanRefineries(rows *sql.Rows) ([]Refinery, error) {
	var out []Refinery
	for rows.Next() {
		var r Refinery
		var name sql.NullString
		var observer int
		if err := rows.Scan(&r.StructureID, &name, &r.TypeID, &r.CorporationID, &observer); err != nil {
			return nil, err
		}
		r.Name = name.String
		r.Observer = observer == 1
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetStructureName implements the ESI client's structure-name cache (L2).
func (d *DB) GetStructureName(structureID int64) (string, bool) {
	var name string
	err := d.sql.QueryRow(`SELECT name FROM structure_cache WHERE structure_id = ?`, structureID).Scan(&name)
	if err != nil {
		return "", false
	}
	return name, true
}

// SetStructureName stores a resolved structure name in the persistent cache.
func (d *DB) SetStructureName(structureID int64, name string) {
	d.sql.Exec(`INSERT OR REPLACE INTO structure_cache (structure_id, name) VALUES (?, ?)`, structureID, name)
}
