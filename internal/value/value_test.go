package value

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"moonwatch/internal/db"
)

type stubGetter struct {
	payloads map[string]interface{} // URL suffix -> decoded response
	calls    map[string]int
}

func (s *stubGetter) GetJSON(ctx context.Context, url string, dst interface{}) error {
	for suffix, payload := range s.payloads {
		if strings.HasSuffix(url, suffix) || strings.Contains(url, suffix) {
			if s.calls == nil {
				s.calls = map[string]int{}
			}
			s.calls[suffix]++
			raw, err := json.Marshal(payload)
			if err != nil {
				return err
			}
			return json.Unmarshal(raw, dst)
		}
	}
	return nil
}

func openTestDB(t *testing.T) *db.DB {
	t.Helper()
	database, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

func TestRefreshMaterials_ChecksumGuard(t *testing.T) {
	checksum := "abc123 invTypeMaterials.json"
	mirror := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/checksum" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("zzz999 invTypes.json\n" + checksum + "\n"))
	}))
	defer mirror.Close()

	getter := &stubGetter{payloads: map[string]interface{}{
		"invTypeMaterials.json": []feedMaterial{
			{TypeID: 45492, MaterialTypeID: 16634, Quantity: 40},
			{TypeID: 45492, MaterialTypeID: 16635, Quantity: 20},
		},
	}}
	database := openTestDB(t)
	valuer := New(database, getter, mirror.URL)

	if err := valuer.RefreshMaterials(context.Background()); err != nil {
		t.Fatalf("first refresh: %v", err)
	}
	mats, err := database.MaterialsForType(45492)
	if err != nil || len(mats) != 2 {
		t.Fatalf("materials not loaded: %v %v", mats, err)
	}
	if got := database.MaterialChecksum(); got != checksum {
		t.Fatalf("checksum = %q, want %q", got, checksum)
	}

	// Unchanged checksum must skip the feed download entirely.
	if err := valuer.RefreshMaterials(context.Background()); err != nil {
		t.Fatalf("second refresh: %v", err)
	}
	if getter.calls["invTypeMaterials.json"] != 1 {
		t.Fatalf("feed fetched %d times, want 1", getter.calls["invTypeMaterials.json"])
	}

	// New checksum forces a reload.
	checksum = "def456 invTypeMaterials.json"
	if err := valuer.RefreshMaterials(context.Background()); err != nil {
		t.Fatalf("third refresh: %v", err)
	}
	if getter.calls["invTypeMaterials.json"] != 2 {
		t.Fatalf("feed fetched %d times after checksum change, want 2", getter.calls["invTypeMaterials.json"])
	}
}

func TestRefreshOreTypes_FiltersToMoonOres(t *testing.T) {
	database := openTestDB(t)
	getter := &stubGetter{payloads: map[string]interface{}{
		"invTypes.json": []feedType{
			{TypeID: 45492, GroupID: 1884, TypeName: "Bitumens", Published: true},
			{TypeID: 45499, GroupID: 1920, TypeName: "Euxenite", Published: true},
			{TypeID: 34, GroupID: 18, TypeName: "Tritanium", Published: true}, // not a moon ore
			{TypeID: 99999, GroupID: 1884, TypeName: "Unpublished", Published: false},
		},
	}}
	valuer := New(database, getter, "http://mirror.invalid")

	if err := valuer.RefreshOreTypes(context.Background()); err != nil {
		t.Fatalf("refresh types: %v", err)
	}
	if got := database.GetOreType(45492); got == nil || got.Name != "Bitumens" || db.OreRarity(got.GroupID) != 4 {
		t.Fatalf("unexpected ore type: %+v", got)
	}
	if got := database.GetOreType(45499); got == nil || db.OreRarity(got.GroupID) != 8 {
		t.Fatalf("unexpected ore type: %+v", got)
	}
	for _, id := range []int32{34, 99999} {
		if database.GetOreType(id) != nil {
			t.Fatalf("type %d should have been filtered out", id)
		}
	}
}

func TestRefreshPrices_OnlyStoresMaterialTypes(t *testing.T) {
	database := openTestDB(t)
	if err := database.ReplaceMaterials([]db.Material{
		{TypeID: 45492, MaterialTypeID: 16634, Quantity: 40},
	}); err != nil {
		t.Fatalf("seed materials: %v", err)
	}

	getter := &stubGetter{payloads: map[string]interface{}{
		"/markets/prices/": []marketPrice{
			{TypeID: 16634, AveragePrice: 100},
			{TypeID: 34, AveragePrice: 5}, // not a reprocessing output here
			{TypeID: 16635, AveragePrice: 0},
		},
	}}
	valuer := New(database, getter, "http://mirror.invalid")

	if err := valuer.RefreshPrices(context.Background()); err != nil {
		t.Fatalf("refresh prices: %v", err)
	}
	prices, err := database.MaterialPrices()
	if err != nil {
		t.Fatalf("load prices: %v", err)
	}
	if len(prices) != 1 || prices[16634] != 100 {
		t.Fatalf("unexpected prices: %v", prices)
	}
}

func TestOreAndMoonValue(t *testing.T) {
	database := openTestDB(t)
	if err := database.ReplaceMaterials([]db.Material{
		{TypeID: 45492, MaterialTypeID: 16634, Quantity: 40},
		{TypeID: 45492, MaterialTypeID: 16635, Quantity: 20},
		{TypeID: 45491, MaterialTypeID: 16634, Quantity: 10},
	}); err != nil {
		t.Fatalf("seed materials: %v", err)
	}
	for id, price := range map[int32]float64{16634: 100, 16635: 50} {
		if err := database.SetMaterialPrice(id, price); err != nil {
			t.Fatalf("seed price: %v", err)
		}
	}
	valuer := New(database, &stubGetter{}, "http://mirror.invalid")

	// (40*100 + 20*50) * 0.876 / (100 * 10)
	got, err := valuer.OreValue(45492, 0.876)
	if err != nil {
		t.Fatalf("ore value: %v", err)
	}
	if want := 5000 * 0.876 / 1000; got != want {
		t.Fatalf("ore value = %v, want %v", got, want)
	}

	// Unknown ore is worth nothing rather than an error.
	if v, err := valuer.OreValue(99999, 0.876); err != nil || v != 0 {
		t.Fatalf("unknown ore: v=%v err=%v", v, err)
	}

	if _, err := database.CreateMoonIfAbsent(40162086, "Auga V - Moon 1"); err != nil {
		t.Fatalf("create moon: %v", err)
	}
	if err := database.ReplaceMoonResources(40162086, []db.Resource{
		{MoonID: 40162086, OreID: 45492, Quantity: 0.4},
		{MoonID: 40162086, OreID: 45491, Quantity: 0.6},
	}); err != nil {
		t.Fatalf("seed resources: %v", err)
	}

	oreA, _ := valuer.OreValue(45492, 0.876)
	oreB, _ := valuer.OreValue(45491, 0.876)
	want := 0.4*oreA + 0.6*oreB
	moon, err := valuer.MoonValue(40162086, 0.876)
	if err != nil {
		t.Fatalf("moon value: %v", err)
	}
	if moon != want {
		t.Fatalf("moon value = %v, want %v", moon, want)
	}
}
