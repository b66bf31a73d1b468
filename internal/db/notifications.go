package db

import "time"

// UserNotification is a user-facing message produced as a side effect of
// processing failures (e.g. a scan that would not parse).
type UserNotification struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Severity  string    `json:"severity"`
	CreatedAt time.Time `json:"created_at"`
}

// InsertUserNotification appends a notification to the user's log.
func (d *DB) InsertUserNotification(userID, title, message, severity string) error {
	_, err := d.sql.Exec(`
		INSERT INTO user_notifications (user_id, title, message, severity, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		userID, title, message, severity, fmtTime(time.Now()))
	return err
}

// ListUserNotifications returns the most recent notifications for a user,
// newest first, up to limit.
func (d *DB) ListUserNotifications(userID string, limit int) ([]UserNotification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.sql.Query(`
		SELECT id, user_id, title, message, severity, created_at
		  FROM user_notifications
		 WHERE user_id = ?
		 ORDER BY id DESC
		 LIMIT ?`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []UserNotification
	for rows.Next() {
		var n UserNotification
		var created string
		if err := rows.Scan(&n.ID, &n.UserID, &n.Title, &n.Message, &n.Severity, &created); err != nil {
			return nil, err
		}
		n.CreatedAt = parseTime(created)
		out = append(out, n)
	}
	return out, rows.Err()
}
