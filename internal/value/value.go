// Package value prices moon ore compositions in ISK per cubic metre using
// the static reprocessing table and current market prices.
package value

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"moonwatch/internal/db"
	"moonwatch/internal/logger"
)

const (
	// Reprocessing consumes ore in batches of 100 units; moon ores are
	// 10 m3 per unit.
	batchSize = 100
	oreVolume = 10.0

	marketPricesURL = "https://esi.evetech.net/latest/markets/prices/?datasource=tranquility"
)

// jsonGetter fetches a public URL and decodes JSON. The ESI client satisfies
// it; tests substitute a stub.
type jsonGetter interface {
	GetJSON(ctx context.Context, url string, dst interface{}) error
}

// Valuer loads reference data and computes ore and moon values.
type Valuer struct {
	DB      *db.DB
	Client  jsonGetter
	FeedURL string // base URL of the static-data export mirror
	http    *http.Client
}

// New builds a Valuer over the given store and ESI client.
func New(database *db.DB, client jsonGetter, feedURL string) *Valuer {
	return &Valuer{
		DB:      database,
		Client:  client,
		FeedURL: strings.TrimRight(feedURL, "/"),
		http:    &http.Client{Timeout: 60 * time.Second},
	}
}

type feedMaterial struct {
	TypeID         int32 `json:"typeID"`
	MaterialTypeID int32 `json:"materialTypeID"`
	Quantity       int64 `json:"quantity"`
}

// RefreshMaterials reloads the reprocessing table when the mirror's checksum
// differs from the one stored with the last load. A matching checksum is a
// no-op, which keeps the periodic refresh cheap.
func (v *Valuer) RefreshMaterials(ctx context.Context) error {
	sum, err := v.feedChecksum(ctx)
	if err != nil {
		return fmt.Errorf("fetch checksum: %w", err)
	}
	if sum != "" && sum == v.DB.MaterialChecksum() {
		return nil
	}

	var feed []feedMaterial
	if err := v.Client.GetJSON(ctx, v.FeedURL+"/invTypeMaterials.json", &feed); err != nil {
		return fmt.Errorf("fetch materials: %w", err)
	}
	if len(feed) == 0 {
		return fmt.Errorf("material feed is empty")
	}

	mats := make([]db.Material, len(feed))
	for i, m := range feed {
		mats[i] = db.Material{TypeID: m.TypeID, MaterialTypeID: m.MaterialTypeID, Quantity: m.Quantity}
	}
	if err := v.DB.ReplaceMaterials(mats); err != nil {
		return fmt.Errorf("store materials: %w", err)
	}
	if err := v.DB.SetMaterialChecksum(sum); err != nil {
		return fmt.Errorf("store checksum: %w", err)
	}
	logger.Success("Value", fmt.Sprintf("Loaded %d reprocessing entries (checksum %s)", len(mats), sum))
	return nil
}

// feedChecksum returns the mirror's checksum line for the materials table,
// or "" if the mirror does not publish one.
func (v *Valuer) feedChecksum(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", v.FeedURL+"/checksum", nil)
	if err != nil {
		return "", err
	}
	resp, err := v.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		return "", fmt.Errorf("checksum endpoint returned %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	for _, line := range strings.Split(string(body), "\n") {
		if strings.Contains(line, "invTypeMaterials") {
			return strings.TrimSpace(line), nil
		}
	}
	return "", nil
}

type feedType struct {
	TypeID    int32   `json:"typeID"`
	GroupID   int32   `json:"groupID"`
	TypeName  string  `json:"typeName"`
	Published bool    `json:"published"`
	Volume    float64 `json:"volume"`
}

// RefreshOreTypes loads the type reference table from the mirror, keeping
// only published types in the moon ore rarity groups. Names and rarity tiers
// in the API come from here.
func (v *Valuer) RefreshOreTypes(ctx context.Context) error {
	var feed []feedType
	if err := v.Client.GetJSON(ctx, v.FeedURL+"/invTypes.json", &feed); err != nil {
		return fmt.Errorf("fetch types: %w", err)
	}

	var types []db.OreType
	for _, t := range feed {
		if !t.Published || db.OreRarity(t.GroupID) == 0 {
			continue
		}
		types = append(types, db.OreType{TypeID: t.TypeID, Name: t.TypeName, GroupID: t.GroupID})
	}
	if len(types) == 0 {
		return fmt.Errorf("type feed has no moon ores")
	}
	if err := v.DB.ReplaceOreTypes(types); err != nil {
		return fmt.Errorf("store types: %w", err)
	}
	logger.Success("Value", fmt.Sprintf("Loaded %d moon ore type(s)", len(types)))
	return nil
}

type marketPrice struct {
	TypeID       int32   `json:"type_id"`
	AveragePrice float64 `json:"average_price"`
}

// RefreshPrices pulls the global market price list and stores the entries for
// types that appear as reprocessing outputs.
func (v *Valuer) RefreshPrices(ctx context.Context) error {
	var prices []marketPrice
	if err := v.Client.GetJSON(ctx, marketPricesURL, &prices); err != nil {
		return fmt.Errorf("fetch market prices: %w", err)
	}

	matIDs, err := v.DB.MaterialTypeIDs()
	if err != nil {
		return fmt.Errorf("list material types: %w", err)
	}
	wanted := make(map[int32]bool, len(matIDs))
	for _, id := range matIDs {
		wanted[id] = true
	}

	stored := 0
	for _, p := range prices {
		if !wanted[p.TypeID] || p.AveragePrice <= 0 {
			continue
		}
		if err := v.DB.SetMaterialPrice(p.TypeID, p.AveragePrice); err != nil {
			return fmt.Errorf("store price for type %d: %w", p.TypeID, err)
		}
		stored++
	}
	logger.Info("Value", fmt.Sprintf("Stored %d material price(s)", stored))
	return nil
}

// OreValue returns the ISK per cubic metre of one ore type at the given
// refine yield, or 0 when reference data for it is missing.
func (v *Valuer) OreValue(oreID int32, refinePercent float64) (float64, error) {
	mats, err := v.DB.MaterialsForType(oreID)
	if err != nil {
		return 0, err
	}
	if len(mats) == 0 {
		return 0, nil
	}
	prices, err := v.DB.MaterialPrices()
	if err != nil {
		return 0, err
	}

	var batchValue float64
	for _, m := range mats {
		batchValue += float64(m.Quantity) * prices[m.MaterialTypeID]
	}
	return batchValue * refinePercent / (batchSize * oreVolume), nil
}

// MoonValue returns a moon's blended ISK per cubic metre: each ore's value
// weighted by its composition fraction.
func (v *Valuer) MoonValue(moonID int64, refinePercent float64) (float64, error) {
	resources, err := v.DB.MoonResources(moonID)
	if err != nil {
		return 0, err
	}

	var total float64
	for _, r := range resources {
		ore, err := v.OreValue(r.OreID, refinePercent)
		if err != nil {
			return 0, err
		}
		total += r.Quantity * ore
	}
	return total, nil
}
