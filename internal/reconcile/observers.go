package reconcile

import (
	"context"
	"fmt"

	"moonwatch/internal/logger"
)

// UpdateObservers re-checks, per corporation, which refineries still report
// mining data under some live credential and clears the observer flag on
// those that do not.
//
// The flag only ever transitions true→false here. The observer list is a
// snapshot; absence proves staleness, but presence cannot prove a refinery
// is healthy beyond that snapshot, so re-activation is left to an operator.
func (e *Engine) UpdateObservers(ctx context.Context) error {
	corps, err := e.DB.ListRefineryCorporations()
	if err != nil {
		return fmt.Errorf("list refinery corporations: %w", err)
	}

	for _, corpID := range corps {
		if err := e.updateCorporationObservers(ctx, corpID); err != nil {
			logger.Warn("Observers", fmt.Sprintf("Corporation %d: %v", corpID, err))
		}
	}
	return nil
}

func (e *Engine) updateCorporationObservers(ctx context.Context, corpID int64) error {
	refineries, err := e.DB.ListRefineriesByCorporation(corpID)
	if err != nil {
		return fmt.Errorf("list refineries: %w", err)
	}

	chars, err := e.DB.ListTrackingCharactersByCorporation(corpID)
	if err != nil {
		return fmt.Errorf("list characters: %w", err)
	}

	if len(chars) == 0 {
		// No credential can verify these refineries; assume stale.
		for _, r := range refineries {
			if !r.Observer {
				continue
			}
			if err := e.DB.ClearRefineryObserver(r.StructureID); err != nil {
				return err
			}
		}
		logger.Info("Observers", fmt.Sprintf("Corporation %d: no credentials, %d refinery flag(s) cleared", corpID, len(refineries)))
		return nil
	}

	// First credential that produces the observer list wins.
	var observers map[int64]bool
	for _, char := range chars {
		token, err := e.Tokens.Token(char.CharacterID)
		if err != nil {
			logger.Info("Observers", fmt.Sprintf("Character %d: %v", char.CharacterID, err))
			continue
		}
		list, err := e.Remote.GetCorporationObservers(ctx, corpID, token)
		if err != nil {
			logger.Info("Observers", fmt.Sprintf("Character %d observer list: %v", char.CharacterID, err))
			continue
		}
		observers = make(map[int64]bool, len(list))
		for _, o := range list {
			observers[o.ObserverID] = true
		}
		break
	}
	if observers == nil {
		// Credentials exist but none produced a snapshot this run; leave
		// the flags alone rather than clear on a transient failure.
		return fmt.Errorf("no credential returned an observer list")
	}

	cleared := 0
	for _, r := range refineries {
		if r.Observer && !observers[r.StructureID] {
			if err := e.DB.ClearRefineryObserver(r.StructureID); err != nil {
				return err
			}
			cleared++
		}
	}
	if cleared > 0 {
		logger.Info("Observers", fmt.Sprintf("Corporation %d: %d refinery flag(s) cleared", corpID, cleared))
	}
	return nil
}
