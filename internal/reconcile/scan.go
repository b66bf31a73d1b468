package reconcile

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"moonwatch/internal/db"
	"moonwatch/internal/logger"
)

// scannedMoon is one moon's worth of parsed survey data.
type scannedMoon struct {
	MoonID    int64
	Name      string
	Resources []db.Resource
}

// parseMoonScan parses the tab-separated text pasted from the in-game moon
// survey window:
//
//	Moon	Moon Product	Quantity	Ore TypeID	SolarSystemID	PlanetID	MoonID
//	Auga V - Moon 1
//		Bitumens	0.3945178389	45492	30002542	40162085	40162086
//		Sylvite	0.6054821611	45491	30002542	40162085	40162086
//
// Moon header lines carry the display name; resource rows start with a tab
// and identify the moon by id in their last column.
func parseMoonScan(raw string) ([]scannedMoon, error) {
	var moons []scannedMoon
	byID := make(map[int64]int)
	currentName := ""

	for lineNo, line := range strings.Split(raw, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}

		if !strings.HasPrefix(line, "\t") {
			// Header row of the paste or a moon name line.
			if strings.HasPrefix(line, "Moon\t") || line == "Moon" {
				continue
			}
			currentName = strings.TrimSpace(line)
			continue
		}

		fields := strings.Split(strings.TrimPrefix(line, "\t"), "\t")
		if len(fields) != 6 {
			return nil, fmt.Errorf("line %d: expected 6 columns, got %d", lineNo+1, len(fields))
		}

		quantity, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: bad quantity %q: %w", lineNo+1, fields[1], err)
		}
		if quantity < 0 || quantity > 1 {
			return nil, fmt.Errorf("line %d: quantity %v outside [0,1]", lineNo+1, quantity)
		}
		oreID, err := strconv.ParseInt(fields[2], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("line %d: bad ore type id %q: %w", lineNo+1, fields[2], err)
		}
		moonID, err := strconv.ParseInt(fields[5], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: bad moon id %q: %w", lineNo+1, fields[5], err)
		}

		idx, ok := byID[moonID]
		if !ok {
			moons = append(moons, scannedMoon{MoonID: moonID, Name: currentName})
			idx = len(moons) - 1
			byID[moonID] = idx
		}
		moons[idx].Resources = append(moons[idx].Resources, db.Resource{
			MoonID:   moonID,
			OreID:    int32(oreID),
			Quantity: quantity,
		})
	}

	if len(moons) == 0 {
		return nil, fmt.Errorf("no moon survey rows found")
	}
	return moons, nil
}

// Ingest parses raw survey text submitted by a user and replaces the stored
// composition of every moon it names. Scan data is always authoritative for
// the moons it covers, unlike the threshold-gated notification path.
//
// Failures are reported back to the submitter and never propagate: a bad
// paste must not look like a task failure to the scheduler.
func (e *Engine) Ingest(ctx context.Context, rawText, submitterID string) {
	moons, err := parseMoonScan(rawText)
	if err != nil {
		e.reportScanFailure(rawText, submitterID, err)
		return
	}

	for _, m := range moons {
		if _, err := e.DB.CreateMoonIfAbsent(m.MoonID, m.Name); err != nil {
			e.reportScanFailure(rawText, submitterID, err)
			return
		}
		if err := e.DB.ReplaceMoonResources(m.MoonID, m.Resources); err != nil {
			e.reportScanFailure(rawText, submitterID, err)
			return
		}
	}

	logger.Success("Scan", fmt.Sprintf("Ingested survey data for %d moon(s)", len(moons)))
	e.notify(submitterID, "Moon scan processed",
		fmt.Sprintf("Updated resource data for %d moon(s).", len(moons)), SeverityInfo)
}

func (e *Engine) reportScanFailure(rawText, submitterID string, err error) {
	logger.Warn("Scan", fmt.Sprintf("Ingest failed for user %s: %v", submitterID, err))
	e.notify(submitterID, "Moon scan failed",
		fmt.Sprintf("Error: %v\n\nSubmitted input:\n%s", err, rawText), SeverityDanger)
}
