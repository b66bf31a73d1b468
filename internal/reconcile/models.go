package reconcile

import (
	"context"

	"moonwatch/internal/db"
	"moonwatch/internal/esi"
)

// Remote is the slice of the ESI client the reconciliation engine consumes.
type Remote interface {
	GetCorporationExtractions(ctx context.Context, corporationID int64, accessToken string) ([]esi.ExtractionEvent, error)
	GetCorporationObservers(ctx context.Context, corporationID int64, accessToken string) ([]esi.MiningObserver, error)
	GetStructure(ctx context.Context, structureID int64, accessToken string) (*esi.Structure, error)
	GetCharacterNotifications(ctx context.Context, characterID int64, accessToken string) ([]esi.Notification, error)
	GetCharacterCorporationID(ctx context.Context, characterID int64) (int64, error)
	GetCorporationName(ctx context.Context, corporationID int64) (string, error)
	GetMoon(ctx context.Context, moonID int64) (*esi.Moon, error)
}

// TokenSource yields a valid access token for a tracked character.
type TokenSource interface {
	Token(characterID int64) (string, error)
}

// Enqueuer schedules follow-up reconciliation work. The importer uses it to
// chain a notification pass behind each character's successful import.
type Enqueuer interface {
	EnqueueReconcile(characterID int64)
}

// Engine runs the reconciliation passes over the store and the remote feed.
// It holds no state of its own between runs; everything durable lives in DB.
type Engine struct {
	DB     *db.DB
	Remote Remote
	Tokens TokenSource
	Queue  Enqueuer // optional; nil disables import→reconcile chaining
	Notify Notifier // optional; nil drops user-facing failure reports
}

// resolveMoon returns whether the moon row was newly created, creating it
// from the public reference feed on first sight. A failed reference lookup
// still creates the row (with an empty name) so dependent records can land.
func (e *Engine) resolveMoon(ctx context.Context, moonID int64) (bool, error) {
	if m := e.DB.GetMoon(moonID); m != nil {
		return false, nil
	}
	name := ""
	if m, err := e.Remote.GetMoon(ctx, moonID); err == nil {
		name = m.Name
	}
	return e.DB.CreateMoonIfAbsent(moonID, name)
}

func (e *Engine) notify(userID, title, message, severity string) {
	if e.Notify != nil {
		e.Notify.Notify(userID, title, message, severity)
	}
}
