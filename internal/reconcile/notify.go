package reconcile

import "moonwatch/internal/db"

// Notification severities.
const (
	SeverityInfo   = "info"
	SeverityDanger = "danger"
)

// Notifier delivers a user-facing message as a side effect of processing.
type Notifier interface {
	Notify(userID, title, message, severity string)
}

// StoreNotifier appends notifications to the user_notifications log.
type StoreNotifier struct {
	DB *db.DB
}

func (n *StoreNotifier) Notify(userID, title, message, severity string) {
	if userID == "" {
		userID = "default"
	}
	// Best effort: a failed delivery must not fail the producing task.
	_ = n.DB.InsertUserNotification(userID, title, message, severity)
}
