package db

import (
	"database/sql"
	"time"
)

// TrackingCharacter is a monitored credential holder whose notification
// feed drives reconciliation.
type TrackingCharacter struct {
	CharacterID   int64  `json:"character_id"`
	CharacterName string `json:"character_name"`
	CorporationID int64  `json:"corporation_id"`
	// LatestNotificationID is the per-character cursor: the highest
	// notification id already accounted for. Non-decreasing.
	LatestNotificationID  int64      `json:"latest_notification_id"`
	LastNotificationCheck *time.Time `json:"last_notification_check,omitempty"`
}

// AddTrackingCharacter enrolls a character for monitoring. Re-enrolling an
// existing character refreshes its name but keeps the cursor.
func (d *DB) AddTrackingCharacter(characterID int64, name string) error {
	_, err := d.sql.Exec(`
		INSERT INTO tracking_characters (character_id, character_name)
		VALUES (?, ?)
		ON CONFLICT(character_id) DO UPDATE SET character_name = excluded.character_name`,
		characterID, name)
	return err
}

// GetTrackingCharacter returns the tracked character, or nil if not enrolled.
func (d *DB) GetTrackingCharacter(characterID int64) *TrackingCharacter {
	row := d.sql.QueryRow(`
		SELECT character_id, character_name, corporation_id, latest_notification_id, last_notification_check
		  FROM tracking_characters WHERE character_id = ?`, characterID)
	return scanTrackingCharacter(row)
}

// ListTrackingCharacters returns all tracked characters ordered by id.
func (d *DB) ListTrackingCharacters() ([]TrackingCharacter, error) {
	rows, err := d.sql.Query(`
		SELECT character_id, character_name, corporation_id, latest_notification_id, last_notification_check
		  FROM tracking_characters
		 ORDER BY character_id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TrackingCharacter
	for rows.Next() {
		var c TrackingCharacter
		var check sql.NullString
		if err := rows.Scan(&c.CharacterID, &c.CharacterName, &c.CorporationID,
			&c.LatestNotificationID, &check); err != nil {
			return nil, err
		}
		if check.Valid {
			t := parseTime(check.String)
			c.LastNotificationCheck = &t
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListTrackingCharactersByCorporation returns tracked characters belonging
// to the given corporation.
func (d *DB) ListTrackingCharactersByCorporation(corporationID int64) ([]TrackingCharacter, error) {
	rows, err := d.sql.Query(`
		SELECT character_id, character_name, corporation_id, latest_notification_id, last_notification_check
		  FROM tracking_characters
		 WHERE corporation_id = ?
		 ORDER BY character_id ASC`, corporationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TrackingCharacter
	for rows.Next() {
		var c TrackingCharacter
		var check sql.NullString
		if err := rows.Scan(&c.CharacterID, &c.CharacterName, &c.CorporationID,
			&c.LatestNotificationID, &check); err != nil {
			return nil, err
		}
		if check.Valid {
			t := parseTime(check.String)
			c.LastNotificationCheck = &t
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SetTrackingCorporation records which corporation a character belongs to.
func (d *DB) SetTrackingCorporation(characterID, corporationID int64) error {
	_, err := d.sql.Exec(`UPDATE tracking_characters SET corporation_id = ? WHERE character_id = ?`,
		corporationID, characterID)
	return err
}

// AdvanceNotificationCursor moves the cursor forward and stamps the check
// time. MAX() keeps the cursor monotonic even if a stale run writes late.
func (d *DB) AdvanceNotificationCursor(characterID, latestNotificationID int64, checkedAt time.Time) error {
	_, err := d.sql.Exec(`
		UPDATE tracking_characters
		   SET latest_notification_id = MAX(latest_notification_id, ?),
		       last_notification_check = ?
		 WHERE character_id = ?`,
		latestNotificationID, fmtTime(checkedAt), characterID)
	return err
}

func scanTrackingCharacter(row *sql.Row) *TrackingCharacter {
	var c TrackingCharacter
	var check sql.NullString
	err := row.Scan(&c.CharacterID, &c.CharacterName, &c.CorporationID,
		&c.LatestNotificationID, &check)
	if err != nil {
		return nil
	}
	if check.Valid {
		t := parseTime(check.String)
		c.LastNotificationCheck = &t
	}
	return &c
}
