package store

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"testing"

	"tradeup-scout/internal/items"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func f64(v float64) *float64 { return &v }

func testSkin(name string, rarity items.Rarity) Skin {
	p := items.ParseItemName(name)
	return Skin{
		MarketHashName: p.MarketHashName,
		BaseName:       p.BaseName,
		Exterior:       p.Exterior,
		Rarity:         rarity,
		IsStatTrak:     p.StatTrak,
		IsSouvenir:     p.Souvenir,
		SellListings:   5,
		LastKnownPrice: f64(1.23),
	}
}

func TestSyncCollectionRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	skins := []Skin{
		testSkin("AK-47 | Redline (Field-Tested)", items.Classified),
		testSkin("AK-47 | Redline (Minimal Wear)", items.Classified),
		testSkin("StatTrak™ AK-47 | Redline (Field-Tested)", items.Classified),
	}
	id, err := s.SyncCollection(ctx, "set_test", "The Test Collection", skins)
	if err != nil {
		t.Fatalf("SyncCollection: %v", err)
	}
	if id <= 0 {
		t.Fatalf("collection id = %d", id)
	}

	c, err := s.CollectionByTag(ctx, "set_test")
	if err != nil {
		t.Fatalf("CollectionByTag: %v", err)
	}
	if c.ID != id || c.Name != "The Test Collection" {
		t.Errorf("collection = %+v", c)
	}
	if c.NormalizedName != "the-test-collection" {
		t.Errorf("normalized = %q", c.NormalizedName)
	}

	got, err := s.CollectionSkins(ctx, id, items.Classified, false)
	if err != nil {
		t.Fatalf("CollectionSkins: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("skins = %d, want 3", len(got))
	}
	if got[0].LastKnownPrice == nil || *got[0].LastKnownPrice != 1.23 {
		t.Errorf("price = %v", got[0].LastKnownPrice)
	}

	normal, err := s.CollectionSkins(ctx, id, items.Classified, true)
	if err != nil {
		t.Fatalf("CollectionSkins normalOnly: %v", err)
	}
	if len(normal) != 2 {
		t.Errorf("normal skins = %d, want 2", len(normal))
	}
}

// A second sync must leave the store holding exactly the observed
// set: new rows added, stale rows deleted, surviving rows updated.
func TestSyncCollectionReconciles(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first := []Skin{
		testSkin("AK-47 | Redline (Field-Tested)", items.Classified),
		testSkin("AK-47 | Redline (Well-Worn)", items.Classified),
		testSkin("AWP | Corticera (Field-Tested)", items.Restricted),
	}
	id, err := s.SyncCollection(ctx, "set_test", "The Test Collection", first)
	if err != nil {
		t.Fatalf("first sync: %v", err)
	}

	second := []Skin{
		testSkin("AK-47 | Redline (Field-Tested)", items.Classified),
		testSkin("AK-47 | Redline (Battle-Scarred)", items.Classified),
	}
	second[0].SellListings = 99
	id2, err := s.SyncCollection(ctx, "set_test", "The Test Collection", second)
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if id2 != id {
		t.Errorf("collection id changed: %d -> %d", id, id2)
	}

	var names []string
	for _, r := range []items.Rarity{items.Restricted, items.Classified} {
		got, err := s.CollectionSkins(ctx, id, r, false)
		if err != nil {
			t.Fatalf("CollectionSkins(%s): %v", r, err)
		}
		for _, sk := range got {
			names = append(names, sk.MarketHashName)
		}
	}
	sort.Strings(names)
	want := []string{
		"AK-47 | Redline (Battle-Scarred)",
		"AK-47 | Redline (Field-Tested)",
	}
	if len(names) != len(want) {
		t.Fatalf("store holds %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("store holds %v, want %v", names, want)
		}
	}

	page, _, err := s.SkinsPage(ctx, items.Classified, 0, 10, false)
	if err != nil {
		t.Fatalf("SkinsPage: %v", err)
	}
	for _, sk := range page {
		if sk.MarketHashName == "AK-47 | Redline (Field-Tested)" && sk.SellListings != 99 {
			t.Errorf("surviving row not updated: listings = %d", sk.SellListings)
		}
	}
}

func TestSyncCollectionEmptySetClears(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.SyncCollection(ctx, "set_test", "The Test Collection", []Skin{
		testSkin("P250 | Sand Dune (Battle-Scarred)", items.Consumer),
	})
	if err != nil {
		t.Fatalf("first sync: %v", err)
	}
	if _, err := s.SyncCollection(ctx, "set_test", "The Test Collection", nil); err != nil {
		t.Fatalf("empty sync: %v", err)
	}
	got, err := s.CollectionSkins(ctx, id, items.Consumer, false)
	if err != nil {
		t.Fatalf("CollectionSkins: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("skins after empty sync = %d, want 0", len(got))
	}
}

func TestCountByRarity(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.SyncCollection(ctx, "set_test", "The Test Collection", []Skin{
		testSkin("AK-47 | Redline (Field-Tested)", items.Classified),
		testSkin("AK-47 | Redline (Minimal Wear)", items.Classified),
		testSkin("StatTrak™ AK-47 | Redline (Field-Tested)", items.Classified),
		testSkin("AWP | Corticera (Field-Tested)", items.Restricted),
	})
	if err != nil {
		t.Fatalf("sync: %v", err)
	}

	counts, err := s.CountByRarity(ctx, []items.Rarity{items.Classified, items.Restricted, items.Covert}, false)
	if err != nil {
		t.Fatalf("CountByRarity: %v", err)
	}
	if counts[items.Classified] != 3 || counts[items.Restricted] != 1 || counts[items.Covert] != 0 {
		t.Errorf("counts = %v", counts)
	}

	counts, err = s.CountByRarity(ctx, []items.Rarity{items.Classified}, true)
	if err != nil {
		t.Fatalf("CountByRarity normalOnly: %v", err)
	}
	if counts[items.Classified] != 2 {
		t.Errorf("normal count = %d, want 2", counts[items.Classified])
	}
}

func TestSkinsPageOrdersAndWindows(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.SyncCollection(ctx, "set_test", "The Test Collection", []Skin{
		testSkin("MP9 | Hot Rod (Factory New)", items.MilSpec),
		testSkin("AUG | Wings (Minimal Wear)", items.MilSpec),
		testSkin("FAMAS | Teardown (Field-Tested)", items.MilSpec),
	})
	if err != nil {
		t.Fatalf("sync: %v", err)
	}

	page, total, err := s.SkinsPage(ctx, items.MilSpec, 1, 1, false)
	if err != nil {
		t.Fatalf("SkinsPage: %v", err)
	}
	if total != 3 {
		t.Errorf("total = %d, want 3", total)
	}
	if len(page) != 1 || page[0].MarketHashName != "FAMAS | Teardown (Field-Tested)" {
		t.Errorf("page = %+v", page)
	}

	names, err := s.NamesByRarity(ctx, items.MilSpec, false)
	if err != nil {
		t.Fatalf("NamesByRarity: %v", err)
	}
	if len(names) != 3 || names[0] != "AUG | Wings (Minimal Wear)" {
		t.Errorf("names = %v", names)
	}
}

func TestCollectionByTagNotFound(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.CollectionByTag(context.Background(), "set_missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestHasCollections(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	ok, err := s.HasCollections(ctx)
	if err != nil || ok {
		t.Fatalf("empty store: ok=%v err=%v", ok, err)
	}
	if _, err := s.SyncCollection(ctx, "set_test", "The Test Collection", nil); err != nil {
		t.Fatalf("sync: %v", err)
	}
	ok, err = s.HasCollections(ctx)
	if err != nil || !ok {
		t.Errorf("after sync: ok=%v err=%v", ok, err)
	}
}

func TestCollectionSummaries(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.SyncCollection(ctx, "set_b", "Bravo", []Skin{
		testSkin("AK-47 | Fire Serpent (Field-Tested)", items.Covert),
		testSkin("Galil AR | Shattered (Field-Tested)", items.MilSpec),
	})
	if err != nil {
		t.Fatalf("sync b: %v", err)
	}
	_, err = s.SyncCollection(ctx, "set_a", "Alpha", []Skin{
		testSkin("M4A4 | Howl (Field-Tested)", items.Covert),
	})
	if err != nil {
		t.Fatalf("sync a: %v", err)
	}

	sums, err := s.CollectionSummaries(ctx)
	if err != nil {
		t.Fatalf("CollectionSummaries: %v", err)
	}
	if len(sums) != 2 {
		t.Fatalf("summaries = %d, want 2", len(sums))
	}
	if sums[0].Name != "Alpha" || sums[1].Name != "Bravo" {
		t.Errorf("order = %s, %s", sums[0].Name, sums[1].Name)
	}
	if sums[1].SkinCount != 2 || sums[1].CovertCount != 1 {
		t.Errorf("bravo counts = %+v", sums[1])
	}
	if sums[0].SkinCount != 1 || sums[0].CovertCount != 1 {
		t.Errorf("alpha counts = %+v", sums[0])
	}
}

func TestNormalizeName(t *testing.T) {
	cases := []struct{ in, want string }{
		{"The Huntsman Collection", "the-huntsman-collection"},
		{"The 2021 Dust 2 Collection", "the-2021-dust-2-collection"},
		{"  Operation Bravo!  ", "operation-bravo"},
		{"", ""},
	}
	for _, c := range cases {
		if got := NormalizeName(c.in); got != c.want {
			t.Errorf("NormalizeName(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
