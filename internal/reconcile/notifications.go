package reconcile

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"moonwatch/internal/db"
	"moonwatch/internal/esi"
	"moonwatch/internal/logger"

	"gopkg.in/yaml.v3"
)

// chunkPayload is the YAML body of a chunk-ready moon mining notification.
type chunkPayload struct {
	MoonID          int64             `yaml:"moonID"`
	StructureID     int64             `yaml:"structureID"`
	StructureTypeID int32             `yaml:"structureTypeID"`
	ReadyTime       int64             `yaml:"readyTime"` // epoch seconds
	OreVolumeByType map[int32]float64 `yaml:"oreVolumeByType"`
}

// cancelPayload is the YAML body of an extraction-cancelled notification.
type cancelPayload struct {
	StructureID int64 `yaml:"structureID"`
	CancelledBy int64 `yaml:"cancelledBy"`
}

func isExtractionNotification(typ string) bool {
	return strings.Contains(typ, "Extraction")
}

func isCancellation(typ string) bool {
	return strings.Contains(typ, "Cancelled")
}

// Reconcile pulls a character's notification feed and applies authoritative
// corrections to extraction and resource state.
//
// The cursor is advanced to the newest fetched notification id before any
// processing: the cursor follows the feed, not the processed subset, so one
// malformed payload can never wedge the pipeline into re-processing forever.
// The cost is that a notification which fails mid-batch is never retried.
func (e *Engine) Reconcile(ctx context.Context, characterID int64) error {
	char := e.DB.GetTrackingCharacter(characterID)
	if char == nil {
		return fmt.Errorf("character %d not tracked", characterID)
	}

	token, err := e.Tokens.Token(char.CharacterID)
	if err != nil {
		return fmt.Errorf("credential unavailable: %w", err)
	}

	notifications, err := e.Remote.GetCharacterNotifications(ctx, char.CharacterID, token)
	if err != nil {
		return fmt.Errorf("fetch notifications: %w", err)
	}

	// Oldest first; the newest id is the new cursor.
	sort.Slice(notifications, func(i, j int) bool {
		return notifications[i].NotificationID < notifications[j].NotificationID
	})

	prevCursor := char.LatestNotificationID
	newCursor := prevCursor
	if n := len(notifications); n > 0 && notifications[n-1].NotificationID > newCursor {
		newCursor = notifications[n-1].NotificationID
	}
	// Even a run with zero relevant notifications stamps the check time.
	if err := e.DB.AdvanceNotificationCursor(char.CharacterID, newCursor, time.Now()); err != nil {
		return fmt.Errorf("advance cursor: %w", err)
	}

	processed := 0
	for _, n := range notifications {
		if n.NotificationID <= prevCursor || !isExtractionNotification(n.Type) {
			continue
		}
		if isCancellation(n.Type) {
			e.applyCancellation(n)
		} else {
			e.applyChunkReady(ctx, n, token)
		}
		processed++
	}

	if processed > 0 {
		logger.Success("Reconcile", fmt.Sprintf("Character %d: processed %d notification(s), cursor %d", char.CharacterID, processed, newCursor))
	}
	return nil
}

// applyChunkReady handles a chunk-ready notification: attach total volume to
// the matching extraction and refresh the moon's resource composition when
// the stored data is clearly superseded.
func (e *Engine) applyChunkReady(ctx context.Context, n esi.Notification, token string) {
	var payload chunkPayload
	if err := yaml.Unmarshal([]byte(n.Text), &payload); err != nil {
		logger.Warn("Reconcile", fmt.Sprintf("Notification %d: unparseable payload: %v", n.NotificationID, err))
		return
	}
	if payload.MoonID == 0 || len(payload.OreVolumeByType) == 0 {
		logger.Warn("Reconcile", fmt.Sprintf("Notification %d: incomplete chunk payload", n.NotificationID))
		return
	}

	moonCreated, err := e.resolveMoon(ctx, payload.MoonID)
	if err != nil {
		logger.Warn("Reconcile", fmt.Sprintf("Moon %d: %v", payload.MoonID, err))
		return
	}
	if moonCreated && payload.StructureID != 0 {
		// First sight of this moon means the structure is unknown too.
		if s, err := e.Remote.GetStructure(ctx, payload.StructureID, token); err == nil {
			e.DB.CreateRefineryIfAbsent(&db.Refinery{
				StructureID:   payload.StructureID,
				Name:          s.Name,
				TypeID:        payload.StructureTypeID,
				CorporationID: s.OwnerID,
			})
		} else {
			logger.Warn("Reconcile", fmt.Sprintf("Structure %d: %v", payload.StructureID, err))
		}
	}

	var totalVolume float64
	for _, v := range payload.OreVolumeByType {
		totalVolume += v
	}

	arrival := time.Unix(payload.ReadyTime, 0).UTC()
	matches, err := e.DB.FindChunkMatches(payload.MoonID, arrival)
	if err != nil {
		logger.Warn("Reconcile", fmt.Sprintf("Match lookup moon %d: %v", payload.MoonID, err))
		return
	}
	switch len(matches) {
	case 1:
		if err := e.DB.SetExtractionVolume(matches[0].ID, int64(totalVolume)); err != nil {
			logger.Warn("Reconcile", fmt.Sprintf("Set volume on extraction %d: %v", matches[0].ID, err))
		}
	default:
		// Zero or several candidates: ambiguous, leave the volume unset.
		logger.Info("Reconcile", fmt.Sprintf("Moon %d arrival %s: %d match(es), volume left unset", payload.MoonID, arrival.Format(time.RFC3339), len(matches)))
	}

	e.reconcileResources(payload, totalVolume)
}

// reconcileResources replaces a moon's stored composition with the payload's
// fractions, but only when the stored data is mostly absent or entirely
// disjoint from the authoritative set. The asymmetric threshold keeps prior
// survey-scan data unless the notification clearly supersedes it.
func (e *Engine) reconcileResources(payload chunkPayload, totalVolume float64) {
	stored, err := e.DB.MoonResources(payload.MoonID)
	if err != nil {
		logger.Warn("Reconcile", fmt.Sprintf("Resources moon %d: %v", payload.MoonID, err))
		return
	}

	storedSet := make(map[int32]bool, len(stored))
	for _, r := range stored {
		storedSet[r.OreID] = true
	}
	missing := 0
	for oreID := range payload.OreVolumeByType {
		if !storedSet[oreID] {
			missing++
		}
	}

	if missing <= len(stored) && missing != len(payload.OreVolumeByType) {
		return
	}
	if totalVolume <= 0 {
		return
	}

	resources := make([]db.Resource, 0, len(payload.OreVolumeByType))
	for oreID, volume := range payload.OreVolumeByType {
		resources = append(resources, db.Resource{
			MoonID:   payload.MoonID,
			OreID:    oreID,
			Quantity: volume / totalVolume,
		})
	}
	sort.Slice(resources, func(i, j int) bool { return resources[i].OreID < resources[j].OreID })

	if err := e.DB.ReplaceMoonResources(payload.MoonID, resources); err != nil {
		logger.Warn("Reconcile", fmt.Sprintf("Replace resources moon %d: %v", payload.MoonID, err))
		return
	}
	logger.Info("Reconcile", fmt.Sprintf("Moon %d: composition replaced (%d ore type(s))", payload.MoonID, len(resources)))
}

// applyCancellation marks the extraction(s) whose cycle window contains the
// notification timestamp as cancelled.
func (e *Engine) applyCancellation(n esi.Notification) {
	var payload cancelPayload
	if err := yaml.Unmarshal([]byte(n.Text), &payload); err != nil {
		logger.Warn("Reconcile", fmt.Sprintf("Notification %d: unparseable cancellation: %v", n.NotificationID, err))
		return
	}

	if e.DB.GetRefinery(payload.StructureID) == nil {
		// Cannot cancel an extraction at a structure we have never seen.
		logger.Info("Reconcile", fmt.Sprintf("Cancellation for unknown structure %d, skipped", payload.StructureID))
		return
	}

	candidates, err := e.DB.FindCancellationCandidates(payload.StructureID, n.Timestamp)
	if err != nil {
		logger.Warn("Reconcile", fmt.Sprintf("Cancellation lookup structure %d: %v", payload.StructureID, err))
		return
	}
	if len(candidates) == 0 {
		logger.Info("Reconcile", fmt.Sprintf("Cancellation at structure %d matches no cycle window, skipped", payload.StructureID))
		return
	}

	// One candidate is the normal case. Several overlapping windows are
	// ambiguous; cancel them all rather than guess.
	for _, c := range candidates {
		if c.Cancelled {
			continue
		}
		if err := e.DB.CancelExtraction(c.ID); err != nil {
			logger.Warn("Reconcile", fmt.Sprintf("Cancel extraction %d: %v", c.ID, err))
		}
	}
	logger.Success("Reconcile", fmt.Sprintf("Structure %d: cancelled %d extraction(s)", payload.StructureID, len(candidates)))
}
