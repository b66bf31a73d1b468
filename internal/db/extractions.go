package db

import (
	"database/sql"
	"time"
)

// Extraction is one scheduled ore-chunk mining cycle at a refinery.
// The (start_time, moon_id) pair is the sole de-duplication key; the unique
// index enforces it atomically so re-polls collapse into one row.
type Extraction struct {
	ID            int64     `json:"id"`
	StartTime     time.Time `json:"start_time"`
	ArrivalTime   time.Time `json:"arrival_time"`
	DecayTime     time.Time `json:"decay_time"`
	MoonID        int64     `json:"moon_id"`
	StructureID   int64     `json:"structure_id"`
	CorporationID int64     `json:"corporation_id"`
	Cancelled     bool      `json:"cancelled"`
	// TotalVolume is filled by notification reconciliation once the chunk
	// composition is known. Nil until then.
	TotalVolume *int64 `json:"total_volume,omitempty"`
	// Jackpot and Depleted are reserved for future classification and are
	// never set by the reconciliation core.
	Jackpot  *bool `json:"jackpot,omitempty"`
	Depleted *bool `json:"depleted,omitempty"`
}

const extractionCols = `id, start_time, arrival_time, decay_time, moon_id, structure_id,
	corporation_id, cancelled, jackpot, depleted, total_volume`

// CreateExtraction inserts an extraction unless one with the same
// (start_time, moon_id) already exists. Returns true if a row was created;
// a duplicate is the expected steady-state result of every re-poll, not an
// error.
func (d *DB) CreateExtraction(e *Extraction) (bool, error) {
	res, err := d.sql.Exec(`
		INSERT OR IGNORE INTO extractions
			(start_time, arrival_time, decay_time, moon_id, structure_id, corporation_id, cancelled)
		VALUES (?, ?, ?, ?, ?, ?, 0)`,
		fmtTime(e.StartTime), fmtTime(e.ArrivalTime), fmtTime(e.DecayTime),
		e.MoonID, e.StructureID, e.CorporationID)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// FindChunkMatches returns non-cancelled extractions for a moon whose
// arrival time equals the given chunk-ready timestamp.
func (d *DB) FindChunkMatches(moonID int64, arrival time.Time) ([]Extraction, error) {
	rows, err := d.sql.Query(`
		SELECT `+extractionCols+`
		  FROM extractions
		 WHERE moon_id = ? AND arrival_time = ? AND cancelled = 0
		 ORDER BY start_time ASC`, moonID, fmtTime(arrival))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanExtractions(rows)
}

// FindCancellationCandidates returns extractions at a refinery whose cycle
// window contains the cancellation timestamp (start < t < arrival), most
// recent cycle first.
func (d *DB) FindCancellationCandidates(structureID int64, t time.Time) ([]Extraction, error) {
	ts := fmtTime(t)
	rows, err := d.sql.Query(`
		SELECT `+extractionCols+`
		  FROM extractions
		 WHERE structure_id = ? AND start_time < ? AND arrival_time > ?
		 ORDER BY start_time DESC`, structureID, ts, ts)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanExtractions(rows)
}

// SetExtractionVolume attaches the reconciled chunk volume to an extraction.
func (d *DB) SetExtractionVolume(id int64, totalVolume int64) error {
	_, err := d.sql.Exec(`UPDATE extractions SET total_volume = ? WHERE id = ?`, totalVolume, id)
	return err
}

// CancelExtraction marks an extraction as cancelled.
func (d *DB) CancelExtraction(id int64) error {
	_, err := d.sql.Exec(`UPDATE extractions SET cancelled = 1 WHERE id = ?`, id)
	return err
}

// ListExtractionsArrivingAfter returns extractions with an arrival time at
// or after the given instant, soonest first.
func (d *DB) ListExtractionsArrivingAfter(t time.Time) ([]Extraction, error) {
	rows, err := d.sql.Query(`
		SELECT `+extractionCols+`
		  FROM extractions
		 WHERE arrival_time >= ?
		 ORDER BY arrival_time ASC`, fmtTime(t))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanExtractions(rows)
}

// ListExtractionsByMoon returns all extractions for a moon, newest first.
func (d *DB) ListExtractionsByMoon(moonID int64) ([]Extraction, error) {
	rows, err := d.sql.Query(`
		SELECT `+extractionCols+`
		  FROM extractions
		 WHERE moon_id = ?
		 ORDER BY start_time DESC`, moonID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanExtractions(rows)
}

func scanExtractions(rows *sql.Rows) ([]Extraction, error) {
	var out []Extraction
	for rows.Next() {
		var e Extraction
		var start, arrival, decay string
		var cancelled int
		var jackpot, depleted sql.NullBool
		var volume sql.NullInt64
		if err := rows.Scan(&e.ID, &start, &arrival, &decay, &e.MoonID, &e.StructureID,
			&e.CorporationID, &cancelled, &jackpot, &depleted, &volume); err != nil {
			return nil, err
		}
		e.StartTime = parseTime(start)
		e.ArrivalTime = parseTime(arrival)
		e.DecayTime = parseTime(decay)
		e.Cancelled = cancelled == 1
		if jackpot.Valid {
			v := jackpot.Bool
			e.Jackpot = &v
		}
		if depleted.Valid {
			v := depleted.Bool
			e.Depleted = &v
		}
		if volume.Valid {
			v := volume.Int64
			e.TotalVolume = &v
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
