package esi

import (
	"context"
	"fmt"
	"time"
)

// ExtractionEvent is one in-progress extraction reported by the
// corporation mining endpoint.
type ExtractionEvent struct {
	MoonID              int64     `json:"moon_id"`
	StructureID         int64     `json:"structure_id"`
	ExtractionStartTime time.Time `json:"extraction_start_time"`
	ChunkArrivalTime    time.Time `json:"chunk_arrival_time"`
	NaturalDecayTime    time.Time `json:"natural_decay_time"`
}

// Structure is the public metadata of an Upwell structure.
type Structure struct {
	Name    string `json:"name"`
	TypeID  int32  `json:"type_id"`
	OwnerID int64  `json:"owner_id"`
}

// Notification is one entry of a character's notification feed.
// Text is a YAML document whose shape depends on Type.
type Notification struct {
	NotificationID int64     `json:"notification_id"`
	Type           string    `json:"type"`
	Timestamp      time.Time `json:"timestamp"`
	Text           string    `json:"text"`
}

// MiningObserver is one entry of the corporation mining-observer list.
type MiningObserver struct {
	ObserverID   int64  `json:"observer_id"`
	ObserverType string `json:"observer_type"`
	LastUpdated  string `json:"last_updated"`
}

// Moon is the public reference record for a moon.
type Moon struct {
	MoonID   int64  `json:"moon_id"`
	Name     string `json:"name"`
	SystemID int32  `json:"system_id"`
}

// GetCorporationExtractions fetches the corporation's current extraction
// event list. Requires esi-industry.read_corporation_mining.v1 and the
// Station_Manager role.
func (c *Client) GetCorporationExtractions(ctx context.Context, corporationID int64, accessToken string) ([]ExtractionEvent, error) {
	url := fmt.Sprintf("%s/corporation/%d/mining/extractions/?datasource=tranquility", c.baseURL, corporationID)
	var events []ExtractionEvent
	if err := c.AuthGetJSON(ctx, url, accessToken, &events); err != nil {
		return nil, fmt.Errorf("corporation extractions: %w", err)
	}
	return events, nil
}

// GetCorporationObservers fetches the corporation's mining observer list.
func (c *Client) GetCorporationObservers(ctx context.Context, corporationID int64, accessToken string) ([]MiningObserver, error) {
	url := fmt.Sprintf("%s/corporation/%d/mining/observers/?datasource=tranquility", c.baseURL, corporationID)
	var observers []MiningObserver
	if err := c.AuthGetJSON(ctx, url, accessToken, &observers); err != nil {
		return nil, fmt.Errorf("corporation observers: %w", err)
	}
	return observers, nil
}

// GetStructure fetches structure metadata (name, type, owner).
// Requires the token's character to have docking access.
func (c *Client) GetStructure(ctx context.Context, structureID int64, accessToken string) (*Structure, error) {
	url := fmt.Sprintf("%s/universe/structures/%d/?datasource=tranquility", c.baseURL, structureID)
	var s Structure
	if err := c.AuthGetJSON(ctx, url, accessToken, &s); err != nil {
		return nil, fmt.Errorf("structure %d: %w", structureID, err)
	}
	if c.structureStore != nil && s.Name != "" {
		c.structureCache.Store(structureID, s.Name)
		c.structureStore.SetStructureName(structureID, s.Name)
	}
	return &s, nil
}

// StructureName returns a cached structure name, falling back to a
// placeholder when the structure has never been resolved.
func (c *Client) StructureName(structureID int64) string {
	if v, ok := c.structureCache.Load(structureID); ok {
		return v.(string)
	}
	if c.structureStore != nil {
		if name, ok := c.structureStore.GetStructureName(structureID); ok {
			c.structureCache.Store(structureID, name)
			return name
		}
	}
	return fmt.Sprintf("Structure %d", structureID)
}

// GetCharacterNotifications fetches a character's notification feed.
// ESI returns up to the last ~6 months of notifications; filtering by type
// and cursor is the caller's concern.
func (c *Client) GetCharacterNotifications(ctx context.Context, characterID int64, accessToken string) ([]Notification, error) {
	url := fmt.Sprintf("%s/characters/%d/notifications/?datasource=tranquility", c.baseURL, characterID)
	var notifications []Notification
	if err := c.AuthGetJSON(ctx, url, accessToken, &notifications); err != nil {
		return nil, fmt.Errorf("character notifications: %w", err)
	}
	return notifications, nil
}

// GetCharacterCorporationID fetches which corporation a character belongs to.
func (c *Client) GetCharacterCorporationID(ctx context.Context, characterID int64) (int64, error) {
	url := fmt.Sprintf("%s/characters/%d/?datasource=tranquility", c.baseURL, characterID)
	var info struct {
		CorporationID int64 `json:"corporation_id"`
	}
	if err := c.GetJSON(ctx, url, &info); err != nil {
		return 0, fmt.Errorf("character info: %w", err)
	}
	return info.CorporationID, nil
}

// GetCorporationName fetches a corporation's public name.
func (c *Client) GetCorporationName(ctx context.Context, corporationID int64) (string, error) {
	url := fmt.Sprintf("%s/corporations/%d/?datasource=tranquility", c.baseURL, corporationID)
	var info struct {
		Name string `json:"name"`
	}
	if err := c.GetJSON(ctx, url, &info); err != nil {
		return "", fmt.Errorf("corporation info: %w", err)
	}
	return info.Name, nil
}

// GetMoon fetches the public moon record (read-through source for the
// moon cache).
func (c *Client) GetMoon(ctx context.Context, moonID int64) (*Moon, error) {
	url := fmt.Sprintf("%s/universe/moons/%d/?datasource=tranquility", c.baseURL, moonID)
	var m Moon
	if err := c.GetJSON(ctx, url, &m); err != nil {
		return nil, fmt.Errorf("moon %d: %w", moonID, err)
	}
	m.MoonID = moonID
	return &m, nil
}
