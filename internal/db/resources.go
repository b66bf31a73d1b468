package db

// Resource is one entry of a moon's fractional ore composition.
// The quantities for a moon sum to 1.0.
type Resource struct {
	MoonID   int64   `json:"moon_id"`
	OreID    int32   `json:"ore_id"`
	Quantity float64 `json:"quantity"`
}

// Rarity buckets ores by their market group. Unknown groups map to 0.
// Mirrors the in-game R4/R8/R16/R32/R64 moon ore tiers.
var oreRarityByGroup = map[int32]int{
	1884: 4,
	1920: 8,
	1921: 16,
	1922: 32,
	1923: 64,
}

// OreRarity returns the rarity tier for an ore group id (0 if unknown).
func OreRarity(groupID int32) int {
	return oreRarityByGroup[groupID]
}

// OreType is the cached reference record for a moon ore (or any other type
// loaded from the static-data mirror).
type OreType struct {
	TypeID  int32  `json:"type_id"`
	Name    string `json:"name"`
	GroupID int32  `json:"group_id"`
}

// ReplaceOreTypes reloads the ore type reference table in one transaction.
func (d *DB) ReplaceOreTypes(types []OreType) error {
	tx, err := d.sql.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM ore_types`); err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT INTO ore_types (type_id, name, group_id) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, t := range types {
		if _, err := stmt.Exec(t.TypeID, t.Name, t.GroupID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetOreType returns the cached ore type, or nil if unknown.
func (d *DB) GetOreType(typeID int32) *OreType {
	var t OreType
	err := d.sql.QueryRow(`SELECT type_id, name, group_id FROM ore_types WHERE type_id = ?`, typeID).
		Scan(&t.TypeID, &t.Name, &t.GroupID)
	if err != nil {
		return nil
	}
	return &t
}

// MoonResources returns the stored composition for a moon, ordered by ore id.
func (d *DB) MoonResources(moonID int64) ([]Resource, error) {
	rows, err := d.sql.Query(`
		SELECT moon_id, ore_id, quantity
		  FROM resources
		 WHERE moon_id = ?
		 ORDER BY ore_id ASC`, moonID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Resource
	for rows.Next() {
		var r Resource
		if err := rows.Scan(&r.MoonID, &r.OreID, &r.Quantity); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ReplaceMoonResources swaps the full composition for a moon: the stored
// rows are deleted and the new set inserted in one transaction. Compositions
// are never partially patched.
func (d *DB) ReplaceMoonResources(moonID int64, resources []Resource) error {
	tx, err := d.sql.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM resources WHERE moon_id = ?`, moonID); err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT INTO resources (moon_id, ore_id, quantity) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range resources {
		if _, err := stmt.Exec(moonID, r.OreID, r.Quantity); err != nil {
			return err
		}
	}
	return tx.Commit()
}
