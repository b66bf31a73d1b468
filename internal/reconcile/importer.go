package reconcile

import (
	"context"
	"fmt"

	"moonwatch/internal/db"
	"moonwatch/internal/logger"
)

// ImportExtractions polls the extraction-event list of every tracked
// character's corporation and upserts Refinery/Extraction rows. The pass is
// idempotent: re-polls collapse on the (start_time, moon) unique key. One
// character's failure never aborts the others.
func (e *Engine) ImportExtractions(ctx context.Context) error {
	chars, err := e.DB.ListTrackingCharacters()
	if err != nil {
		return fmt.Errorf("list tracking characters: %w", err)
	}

	for _, char := range chars {
		if err := e.importForCharacter(ctx, char); err != nil {
			logger.Warn("Import", fmt.Sprintf("Character %d: %v", char.CharacterID, err))
			continue
		}
		if e.Queue != nil {
			e.Queue.EnqueueReconcile(char.CharacterID)
		}
	}
	return nil
}

func (e *Engine) importForCharacter(ctx context.Context, char db.TrackingCharacter) error {
	corpID, err := e.Remote.GetCharacterCorporationID(ctx, char.CharacterID)
	if err != nil {
		return fmt.Errorf("resolve corporation: %w", err)
	}
	if e.DB.GetCorporation(corpID) == nil {
		name, _ := e.Remote.GetCorporationName(ctx, corpID)
		if err := e.DB.CreateCorporationIfAbsent(corpID, name); err != nil {
			return fmt.Errorf("create corporation %d: %w", corpID, err)
		}
	}
	if char.CorporationID != corpID {
		if err := e.DB.SetTrackingCorporation(char.CharacterID, corpID); err != nil {
			return fmt.Errorf("set corporation: %w", err)
		}
	}

	token, err := e.Tokens.Token(char.CharacterID)
	if err != nil {
		return fmt.Errorf("credential unavailable: %w", err)
	}

	events, err := e.Remote.GetCorporationExtractions(ctx, corpID, token)
	if err != nil {
		return fmt.Errorf("fetch extractions: %w", err)
	}

	created := 0
	for _, ev := range events {
		if _, err := e.resolveMoon(ctx, ev.MoonID); err != nil {
			logger.Warn("Import", fmt.Sprintf("Moon %d: %v", ev.MoonID, err))
			continue
		}
		if e.DB.GetRefinery(ev.StructureID) == nil {
			s, err := e.Remote.GetStructure(ctx, ev.StructureID, token)
			if err != nil {
				logger.Warn("Import", fmt.Sprintf("Structure %d: %v", ev.StructureID, err))
				continue
			}
			if _, err := e.DB.CreateRefineryIfAbsent(&db.Refinery{
				StructureID:   ev.StructureID,
				Name:          s.Name,
				TypeID:        s.TypeID,
				CorporationID: s.OwnerID,
			}); err != nil {
				logger.Warn("Import", fmt.Sprintf("Refinery %d: %v", ev.StructureID, err))
				continue
			}
		}

		// A rejected duplicate is the steady-state path on every re-poll.
		ok, err := e.DB.CreateExtraction(&db.Extraction{
			StartTime:     ev.ExtractionStartTime,
			ArrivalTime:   ev.ChunkArrivalTime,
			DecayTime:     ev.NaturalDecayTime,
			MoonID:        ev.MoonID,
			StructureID:   ev.StructureID,
			CorporationID: corpID,
		})
		if err != nil {
			logger.Warn("Import", fmt.Sprintf("Extraction moon %d: %v", ev.MoonID, err))
			continue
		}
		if ok {
			created++
		}
	}

	if created > 0 {
		logger.Success("Import", fmt.Sprintf("Corporation %d: %d new extraction(s) from %d event(s)", corpID, created, len(events)))
	}
	return nil
}
