package db

import (
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

// openTestDB opens an in-memory SQLite DB and runs migrations (for testing only).
func openTestDB(t *testing.T) *DB {
	t.Helper()
	sqlDB, err := sql.Open("sqlite", ":memory:?_pragma=busy_timeout(5000)")
	if err != nil {
		t.Fatalf("open in-memory db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	d := &DB{sql: sqlDB}
	if err := d.migrate(); err != nil {
		sqlDB.Close()
		t.Fatalf("migrate: %v", err)
	}
	return d
}

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	tm, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t.Fatalf("parse time %q: %v", s, err)
	}
	return tm
}

func TestDB_CreateExtraction_DuplicateKeyCollapses(t *testing.T) {
	d := openTestDB(t)
	defer d.Close()

	e := &Extraction{
		StartTime:     mustTime(t, "2024-01-01T00:00:00Z"),
		ArrivalTime:   mustTime(t, "2024-01-08T00:00:00Z"),
		DecayTime:     mustTime(t, "2024-01-11T00:00:00Z"),
		MoonID:        40162086,
		StructureID:   1021975535893,
		CorporationID: 98000001,
	}
	created, err := d.CreateExtraction(e)
	if err != nil || !created {
		t.Fatalf("first CreateExtraction = %v, %v, want true, nil", created, err)
	}

	// Same (start_time, moon) from a re-poll must collapse silently.
	created, err = d.CreateExtraction(e)
	if err != nil {
		t.Fatalf("duplicate CreateExtraction err = %v", err)
	}
	if created {
		t.Error("duplicate CreateExtraction reported created = true")
	}

	// A different structure id but same key is still the same event.
	e2 := *e
	e2.StructureID = 999
	if created, _ := d.CreateExtraction(&e2); created {
		t.Error("same (start_time, moon) with different structure should not create a second row")
	}

	rows, err := d.ListExtractionsByMoon(40162086)
	if err != nil {
		t.Fatalf("ListExtractionsByMoon: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("extraction rows = %d, want 1", len(rows))
	}
	if rows[0].Cancelled {
		t.Error("new extraction should not be cancelled")
	}
	if rows[0].TotalVolume != nil || rows[0].Jackpot != nil || rows[0].Depleted != nil {
		t.Error("volume/jackpot/depleted should start unset")
	}
}

func TestDB_FindChunkMatches_FiltersCancelledAndArrival(t *testing.T) {
	d := openTestDB(t)
	defer d.Close()

	arrival := mustTime(t, "2024-01-08T00:00:00Z")
	a := &Extraction{
		StartTime:   mustTime(t, "2024-01-01T00:00:00Z"),
		ArrivalTime: arrival,
		DecayTime:   mustTime(t, "2024-01-11T00:00:00Z"),
		MoonID:      1, StructureID: 10, CorporationID: 100,
	}
	b := &Extraction{
		StartTime:   mustTime(t, "2024-02-01T00:00:00Z"),
		ArrivalTime: mustTime(t, "2024-02-08T00:00:00Z"),
		DecayTime:   mustTime(t, "2024-02-11T00:00:00Z"),
		MoonID:      1, StructureID: 10, CorporationID: 100,
	}
	d.CreateExtraction(a)
	d.CreateExtraction(b)

	got, err := d.FindChunkMatches(1, arrival)
	if err != nil {
		t.Fatalf("FindChunkMatches: %v", err)
	}
	if len(got) != 1 || !got[0].ArrivalTime.Equal(arrival) {
		t.Fatalf("FindChunkMatches = %+v, want single row at %v", got, arrival)
	}

	if err := d.CancelExtraction(got[0].ID); err != nil {
		t.Fatalf("CancelExtraction: %v", err)
	}
	got, _ = d.FindChunkMatches(1, arrival)
	if len(got) != 0 {
		t.Errorf("cancelled extraction still matched: %+v", got)
	}
}

func TestDB_FindCancellationCandidates_WindowAndOrder(t *testing.T) {
	d := openTestDB(t)
	defer d.Close()

	mk := func(moon int64, start, arrival string) {
		t.Helper()
		_, err := d.CreateExtraction(&Extraction{
			StartTime:   mustTime(t, start),
			ArrivalTime: mustTime(t, arrival),
			DecayTime:   mustTime(t, arrival),
			MoonID:      moon, StructureID: 77, CorporationID: 5,
		})
		if err != nil {
			t.Fatalf("CreateExtraction: %v", err)
		}
	}
	mk(1, "2024-01-01T00:00:00Z", "2024-01-08T00:00:00Z")
	mk(2, "2024-01-02T00:00:00Z", "2024-01-09T00:00:00Z")
	mk(3, "2024-01-05T00:00:00Z", "2024-01-12T00:00:00Z")

	// 2024-01-03 falls inside the first two windows only.
	got, err := d.FindCancellationCandidates(77, mustTime(t, "2024-01-03T00:00:00Z"))
	if err != nil {
		t.Fatalf("FindCancellationCandidates: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("candidates = %d, want 2", len(got))
	}
	// Most recent cycle first.
	if !got[0].StartTime.After(got[1].StartTime) {
		t.Errorf("candidates not ordered start desc: %v then %v", got[0].StartTime, got[1].StartTime)
	}

	// A timestamp before every start matches nothing.
	got, _ = d.FindCancellationCandidates(77, mustTime(t, "2023-12-31T00:00:00Z"))
	if len(got) != 0 {
		t.Errorf("candidates before any window = %d, want 0", len(got))
	}
	// A timestamp after every arrival matches nothing.
	got, _ = d.FindCancellationCandidates(77, mustTime(t, "2024-02-01T00:00:00Z"))
	if len(got) != 0 {
		t.Errorf("candidates after all windows = %d, want 0", len(got))
	}
}

func TestDB_SetExtractionVolume(t *testing.T) {
	d := openTestDB(t)
	defer d.Close()

	d.CreateExtraction(&Extraction{
		StartTime:   mustTime(t, "2024-01-01T00:00:00Z"),
		ArrivalTime: mustTime(t, "2024-01-08T00:00:00Z"),
		DecayTime:   mustTime(t, "2024-01-11T00:00:00Z"),
		MoonID:      1, StructureID: 10, CorporationID: 100,
	})
	rows, _ := d.ListExtractionsByMoon(1)
	if err := d.SetExtractionVolume(rows[0].ID, 1000); err != nil {
		t.Fatalf("SetExtractionVolume: %v", err)
	}
	rows, _ = d.ListExtractionsByMoon(1)
	if rows[0].TotalVolume == nil || *rows[0].TotalVolume != 1000 {
		t.Errorf("TotalVolume = %v, want 1000", rows[0].TotalVolume)
	}
}

func TestDB_ReplaceMoonResources_FullSwap(t *testing.T) {
	d := openTestDB(t)
	defer d.Close()

	first := []Resource{
		{MoonID: 1, OreID: 45490, Quantity: 0.4},
		{MoonID: 1, OreID: 45491, Quantity: 0.6},
	}
	if err := d.ReplaceMoonResources(1, first); err != nil {
		t.Fatalf("ReplaceMoonResources: %v", err)
	}

	second := []Resource{
		{MoonID: 1, OreID: 45492, Quantity: 1.0},
	}
	if err := d.ReplaceMoonResources(1, second); err != nil {
		t.Fatalf("ReplaceMoonResources swap: %v", err)
	}

	got, err := d.MoonResources(1)
	if err != nil {
		t.Fatalf("MoonResources: %v", err)
	}
	if len(got) != 1 || got[0].OreID != 45492 || got[0].Quantity != 1.0 {
		t.Errorf("MoonResources = %+v, want single 45492@1.0", got)
	}
}

func TestDB_RefineryLifecycle(t *testing.T) {
	d := openTestDB(t)
	defer d.Close()

	r := &Refinery{StructureID: 1021975535893, Name: "Auga - Hammer", TypeID: 35835, CorporationID: 98000001}
	created, err := d.CreateRefineryIfAbsent(r)
	if err != nil || !created {
		t.Fatalf("CreateRefineryIfAbsent = %v, %v", created, err)
	}
	if created, _ := d.CreateRefineryIfAbsent(r); created {
		t.Error("second CreateRefineryIfAbsent should be a no-op")
	}

	got := d.GetRefinery(1021975535893)
	if got == nil {
		t.Fatal("GetRefinery returned nil")
	}
	if !got.Observer {
		t.Error("new refinery should default to observer = true")
	}

	if err := d.ClearRefineryObserver(1021975535893); err != nil {
		t.Fatalf("ClearRefineryObserver: %v", err)
	}
	if d.GetRefinery(1021975535893).Observer {
		t.Error("observer should be cleared")
	}

	corps, err := d.ListRefineryCorporations()
	if err != nil || len(corps) != 1 || corps[0] != 98000001 {
		t.Errorf("ListRefineryCorporations = %v, %v", corps, err)
	}

	if d.GetRefinery(42) != nil {
		t.Error("GetRefinery(42) should return nil")
	}
}

func TestDB_TrackingCursorMonotonic(t *testing.T) {
	d := openTestDB(t)
	defer d.Close()

	if err := d.AddTrackingCharacter(95465499, "CCP Bartender"); err != nil {
		t.Fatalf("AddTrackingCharacter: %v", err)
	}
	c := d.GetTrackingCharacter(95465499)
	if c == nil || c.LatestNotificationID != 0 {
		t.Fatalf("fresh character = %+v, want cursor 0", c)
	}
	if c.LastNotificationCheck != nil {
		t.Error("fresh character should have no check timestamp")
	}

	now := mustTime(t, "2024-03-01T12:00:00Z")
	if err := d.AdvanceNotificationCursor(95465499, 500, now); err != nil {
		t.Fatalf("AdvanceNotificationCursor: %v", err)
	}
	// A stale writer with a lower id must not move the cursor back.
	later := mustTime(t, "2024-03-01T13:00:00Z")
	if err := d.AdvanceNotificationCursor(95465499, 400, later); err != nil {
		t.Fatalf("AdvanceNotificationCursor stale: %v", err)
	}

	c = d.GetTrackingCharacter(95465499)
	if c.LatestNotificationID != 500 {
		t.Errorf("cursor = %d, want 500 (non-decreasing)", c.LatestNotificationID)
	}
	if c.LastNotificationCheck == nil || !c.LastNotificationCheck.Equal(later) {
		t.Errorf("check timestamp = %v, want %v", c.LastNotificationCheck, later)
	}

	// Re-enrolling keeps the cursor.
	if err := d.AddTrackingCharacter(95465499, "CCP Bartender Renamed"); err != nil {
		t.Fatalf("re-enroll: %v", err)
	}
	c = d.GetTrackingCharacter(95465499)
	if c.LatestNotificationID != 500 {
		t.Errorf("cursor after re-enroll = %d, want 500", c.LatestNotificationID)
	}
	if c.CharacterName != "CCP Bartender Renamed" {
		t.Errorf("name after re-enroll = %q", c.CharacterName)
	}
}

func TestDB_TrackingByCorporation(t *testing.T) {
	d := openTestDB(t)
	defer d.Close()

	d.AddTrackingCharacter(1, "A")
	d.AddTrackingCharacter(2, "B")
	d.SetTrackingCorporation(1, 100)
	d.SetTrackingCorporation(2, 200)

	got, err := d.ListTrackingCharactersByCorporation(100)
	if err != nil {
		t.Fatalf("ListTrackingCharactersByCorporation: %v", err)
	}
	if len(got) != 1 || got[0].CharacterID != 1 {
		t.Errorf("corp 100 characters = %+v", got)
	}
}

func TestDB_UserNotificationsRoundTrip(t *testing.T) {
	d := openTestDB(t)
	defer d.Close()

	if err := d.InsertUserNotification("7", "Scan failed", "bad input", "danger"); err != nil {
		t.Fatalf("InsertUserNotification: %v", err)
	}
	got, err := d.ListUserNotifications("7", 10)
	if err != nil {
		t.Fatalf("ListUserNotifications: %v", err)
	}
	if len(got) != 1 || got[0].Title != "Scan failed" || got[0].Severity != "danger" {
		t.Errorf("notifications = %+v", got)
	}

	if other, _ := d.ListUserNotifications("8", 10); len(other) != 0 {
		t.Errorf("user 8 notifications = %d, want 0", len(other))
	}
}

func TestDB_StructureCache(t *testing.T) {
	d := openTestDB(t)
	defer d.Close()

	if _, ok := d.GetStructureName(1); ok {
		t.Error("empty cache should miss")
	}
	d.SetStructureName(1, "Test Athanor")
	name, ok := d.GetStructureName(1)
	if !ok || name != "Test Athanor" {
		t.Errorf("GetStructureName = %q, %v", name, ok)
	}
}

func TestDB_MaterialsRoundTrip(t *testing.T) {
	d := openTestDB(t)
	defer d.Close()

	mats := []Material{
		{TypeID: 45490, MaterialTypeID: 16633, Quantity: 400},
		{TypeID: 45490, MaterialTypeID: 16634, Quantity: 100},
	}
	if err := d.ReplaceMaterials(mats); err != nil {
		t.Fatalf("ReplaceMaterials: %v", err)
	}
	got, err := d.MaterialsForType(45490)
	if err != nil || len(got) != 2 {
		t.Fatalf("MaterialsForType = %+v, %v", got, err)
	}

	if d.MaterialChecksum() != "" {
		t.Error("checksum should start empty")
	}
	d.SetMaterialChecksum("abc123")
	if d.MaterialChecksum() != "abc123" {
		t.Errorf("checksum = %q", d.MaterialChecksum())
	}

	d.SetMaterialPrice(16633, 12.5)
	prices, err := d.MaterialPrices()
	if err != nil || prices[16633] != 12.5 {
		t.Errorf("MaterialPrices = %v, %v", prices, err)
	}
}

func TestDB_ConfigRoundTrip(t *testing.T) {
	d := openTestDB(t)
	defer d.Close()

	cfg := d.LoadConfig()
	if cfg.RefinePercent != 0.876 {
		t.Errorf("default RefinePercent = %v", cfg.RefinePercent)
	}

	cfg.RefinePercent = 0.9
	cfg.Workers = 8
	if err := d.SaveConfig(cfg); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}
	got := d.LoadConfig()
	if got.RefinePercent != 0.9 || got.Workers != 8 {
		t.Errorf("LoadConfig = refine %v workers %d", got.RefinePercent, got.Workers)
	}
}

func TestOreRarity(t *testing.T) {
	if OreRarity(1884) != 4 || OreRarity(1923) != 64 {
		t.Error("known rarity groups mis-mapped")
	}
	if OreRarity(18) != 0 {
		t.Error("unknown group should map to 0")
	}
}
