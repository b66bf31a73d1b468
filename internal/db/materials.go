package db

import (
	"database/sql"
	"time"
)

// Material is one reprocessing output of an ore type: refining one batch of
// type_id yields quantity units of material_type_id.
type Material struct {
	TypeID         int32 `json:"type_id"`
	MaterialTypeID int32 `json:"material_type_id"`
	Quantity       int64 `json:"quantity"`
}

// ReplaceMaterials clears and reloads the whole reprocessing table.
// The feed is versioned by checksum, so a reload is always a full swap.
func (d *DB) ReplaceMaterials(mats []Material) error {
	tx, err := d.sql.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM materials`); err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT INTO materials (type_id, material_type_id, quantity) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, m := range mats {
		if _, err := stmt.Exec(m.TypeID, m.MaterialTypeID, m.Quantity); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// MaterialsForType returns the reprocessing outputs of an ore type.
func (d *DB) MaterialsForType(typeID int32) ([]Material, error) {
	rows, err := d.sql.Query(`
		SELECT type_id, material_type_id, quantity
		  FROM materials
		 WHERE type_id = ?
		 ORDER BY material_type_id ASC`, typeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Material
	for rows.Next() {
		var m Material
		if err := rows.Scan(&m.TypeID, &m.MaterialTypeID, &m.Quantity); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// MaterialTypeIDs returns the distinct reprocessing output types across all
// loaded materials. Used to limit price storage to types we can value.
func (d *DB) MaterialTypeIDs() ([]int32, error) {
	rows, err := d.sql.Query(`SELECT DISTINCT material_type_id FROM materials ORDER BY material_type_id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int32
	for rows.Next() {
		var id int32
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// MaterialChecksum returns the checksum of the last loaded material feed,
// or "" if materials were never loaded.
func (d *DB) MaterialChecksum() string {
	var sum string
	err := d.sql.QueryRow(`SELECT checksum FROM material_checksum WHERE id = 1`).Scan(&sum)
	if err == sql.ErrNoRows || err != nil {
		return ""
	}
	return sum
}

// SetMaterialChecksum records the checksum of the loaded material feed.
func (d *DB) SetMaterialChecksum(sum string) error {
	_, err := d.sql.Exec(`INSERT OR REPLACE INTO material_checksum (id, checksum) VALUES (1, ?)`, sum)
	return err
}

// SetMaterialPrice stores the current adjusted price for a material type.
func (d *DB) SetMaterialPrice(typeID int32, averagePrice float64) error {
	_, err := d.sql.Exec(`
		INSERT OR REPLACE INTO material_prices (type_id, average_price, updated_at)
		VALUES (?, ?, ?)`, typeID, averagePrice, fmtTime(time.Now()))
	return err
}

// MaterialPrices returns all stored material prices keyed by type id.
func (d *DB) MaterialPrices() (map[int32]float64, error) {
	rows, err := d.sql.Query(`SELECT type_id, average_price FROM material_prices`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int32]float64)
	for rows.Next() {
		var id int32
		var price float64
		if err := rows.Scan(&id, &price); err != nil {
			return nil, err
		}
		out[id] = price
	}
	return out, rows.Err()
}
