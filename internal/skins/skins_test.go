package skins

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"

	"tradeup-scout/internal/floatdb"
	"tradeup-scout/internal/items"
	"tradeup-scout/internal/steam"
	"tradeup-scout/internal/store"
)

type fakeCatalog struct {
	probes    atomic.Int64
	has       bool
	probeErr  error
	counts    map[items.Rarity]int
	countsErr error
	pageRows  []store.Skin
	pageTotal int
	names     []string
	sums      []store.CollectionSummary
	col       *store.Collection
	colErr    error
	colSkins  []store.Skin
}

func (f *fakeCatalog) HasCollections(context.Context) (bool, error) {
	f.probes.Add(1)
	return f.has, f.probeErr
}

func (f *fakeCatalog) CountByRarity(_ context.Context, rarities []items.Rarity, _ bool) (map[items.Rarity]int, error) {
	return f.counts, f.countsErr
}

func (f *fakeCatalog) SkinsPage(context.Context, items.Rarity, int, int, bool) ([]store.Skin, int, error) {
	return f.pageRows, f.pageTotal, nil
}

func (f *fakeCatalog) NamesByRarity(context.Context, items.Rarity, bool) ([]string, error) {
	return f.names, nil
}

func (f *fakeCatalog) CollectionSummaries(context.Context) ([]store.CollectionSummary, error) {
	return f.sums, nil
}

func (f *fakeCatalog) CollectionByTag(context.Context, string) (*store.Collection, error) {
	return f.col, f.colErr
}

func (f *fakeCatalog) CollectionByID(context.Context, int64) (*store.Collection, error) {
	return f.col, f.colErr
}

func (f *fakeCatalog) CollectionSkins(context.Context, int64, items.Rarity, bool) ([]store.Skin, error) {
	return f.colSkins, nil
}

type fakeMarket struct {
	rarityCalls     atomic.Int64
	collectionCalls atomic.Int64
	page            *steam.SearchPage
	tags            []steam.CollectionTag
}

func (f *fakeMarket) SearchByRarity(context.Context, steam.RaritySearch) (*steam.SearchPage, error) {
	f.rarityCalls.Add(1)
	if f.page == nil {
		return &steam.SearchPage{}, nil
	}
	return f.page, nil
}

func (f *fakeMarket) SearchByCollection(context.Context, steam.CollectionSearch) (*steam.SearchPage, error) {
	f.collectionCalls.Add(1)
	if f.page == nil {
		return &steam.SearchPage{}, nil
	}
	return f.page, nil
}

func (f *fakeMarket) CollectionTags(context.Context) ([]steam.CollectionTag, error) {
	return f.tags, nil
}

type fakeRanges struct {
	ranges map[string]items.WearRange
	col    *floatdb.Collection
}

func (f *fakeRanges) RangeFor(_ context.Context, baseName string) (items.WearRange, bool) {
	r, ok := f.ranges[baseName]
	return r, ok
}

func (f *fakeRanges) CollectionByTag(string) (floatdb.Collection, bool) {
	if f.col == nil {
		return floatdb.Collection{}, false
	}
	return *f.col, true
}

func newTestService(t *testing.T, cat *fakeCatalog, mkt *fakeMarket, fr *fakeRanges) *Service {
	t.Helper()
	if fr == nil {
		fr = &fakeRanges{}
	}
	return NewService(cat, mkt, fr, t.TempDir(), 0)
}

func TestReadyProbeSharedAcrossCallers(t *testing.T) {
	cat := &fakeCatalog{has: true}
	svc := newTestService(t, cat, &fakeMarket{}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			svc.Ready(context.Background())
		}()
	}
	wg.Wait()

	if n := cat.probes.Load(); n != 1 {
		t.Errorf("probes = %d, want 1", n)
	}

	svc.InvalidateReady()
	svc.Ready(context.Background())
	if n := cat.probes.Load(); n != 2 {
		t.Errorf("probes after invalidate = %d, want 2", n)
	}
}

func TestReadyProbeErrorMeansNotReady(t *testing.T) {
	cat := &fakeCatalog{probeErr: errors.New("locked")}
	svc := newTestService(t, cat, &fakeMarket{}, nil)
	if svc.Ready(context.Background()) {
		t.Error("ready = true despite probe error")
	}
}

func TestTotalsPreferStore(t *testing.T) {
	cat := &fakeCatalog{has: true, counts: map[items.Rarity]int{
		items.MilSpec:    7,
		items.Restricted: 3,
	}}
	mkt := &fakeMarket{}
	svc := newTestService(t, cat, mkt, nil)

	res, err := svc.Totals(context.Background(), []items.Rarity{items.MilSpec, items.Restricted}, true)
	if err != nil {
		t.Fatalf("Totals: %v", err)
	}
	if res.Sum != 10 {
		t.Errorf("sum = %d, want 10", res.Sum)
	}
	if mkt.rarityCalls.Load() != 0 {
		t.Error("market consulted despite ready store")
	}
}

func TestTotalsStoreErrorFallsBackToLive(t *testing.T) {
	cat := &fakeCatalog{has: true, countsErr: errors.New("disk gone")}
	mkt := &fakeMarket{page: &steam.SearchPage{Total: 42}}
	svc := newTestService(t, cat, mkt, nil)

	res, err := svc.Totals(context.Background(), []items.Rarity{items.MilSpec}, true)
	if err != nil {
		t.Fatalf("Totals: %v", err)
	}
	if res.Totals[items.MilSpec] != 42 {
		t.Errorf("total = %d, want live 42", res.Totals[items.MilSpec])
	}
	if mkt.rarityCalls.Load() != 1 {
		t.Errorf("market calls = %d, want 1", mkt.rarityCalls.Load())
	}
}

func TestPageNotReadyUsesLive(t *testing.T) {
	cat := &fakeCatalog{has: false}
	mkt := &fakeMarket{page: &steam.SearchPage{
		Total: 2,
		Items: []steam.SearchItem{{MarketHashName: "A (Factory New)", SellListings: 5}},
	}}
	svc := newTestService(t, cat, mkt, nil)

	res, err := svc.Page(context.Background(), items.MilSpec, 0, 10, true)
	if err != nil {
		t.Fatalf("Page: %v", err)
	}
	if len(res.Items) != 1 || res.Items[0].MarketHashName != "A (Factory New)" {
		t.Errorf("items = %+v", res.Items)
	}
	if res.Total != 2 {
		t.Errorf("total = %d", res.Total)
	}
}

func TestPageFromStore(t *testing.T) {
	price := 4.2
	cat := &fakeCatalog{has: true, pageTotal: 9, pageRows: []store.Skin{
		{MarketHashName: "B (Minimal Wear)", SellListings: 3, LastKnownPrice: &price},
	}}
	svc := newTestService(t, cat, &fakeMarket{}, nil)

	res, err := svc.Page(context.Background(), items.MilSpec, 0, 10, true)
	if err != nil {
		t.Fatalf("Page: %v", err)
	}
	if res.Total != 9 || len(res.Items) != 1 {
		t.Fatalf("res = %+v", res)
	}
	if res.Items[0].Price == nil || *res.Items[0].Price != 4.2 {
		t.Errorf("price = %v", res.Items[0].Price)
	}
}

func TestNamesExportsFile(t *testing.T) {
	cat := &fakeCatalog{has: true, names: []string{"X (Field-Tested)", "Y (Well-Worn)"}}
	svc := newTestService(t, cat, &fakeMarket{}, nil)

	res, err := svc.Names(context.Background(), items.Restricted, true)
	if err != nil {
		t.Fatalf("Names: %v", err)
	}
	if res.Total != 2 || res.File == "" {
		t.Fatalf("res = %+v", res)
	}
	b, err := os.ReadFile(res.File)
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	var names []string
	if err := json.Unmarshal(b, &names); err != nil {
		t.Fatalf("unmarshal export: %v", err)
	}
	if len(names) != 2 || names[0] != "X (Field-Tested)" {
		t.Errorf("exported names = %v", names)
	}
}

func TestCollectionsLiveFallbackHasNoIDs(t *testing.T) {
	cat := &fakeCatalog{has: false}
	mkt := &fakeMarket{tags: []steam.CollectionTag{{Tag: "set_a", Name: "Alpha", Count: 12}}}
	svc := newTestService(t, cat, mkt, nil)

	out, err := svc.Collections(context.Background())
	if err != nil {
		t.Fatalf("Collections: %v", err)
	}
	if len(out) != 1 || out[0].CollectionID != nil {
		t.Errorf("out = %+v", out)
	}
}

func TestCollectionsFromStoreCarryIDs(t *testing.T) {
	cat := &fakeCatalog{has: true, sums: []store.CollectionSummary{{
		Collection: store.Collection{ID: 3, SteamTag: "set_a", Name: "Alpha"},
		SkinCount:  20,
	}}}
	svc := newTestService(t, cat, &fakeMarket{}, nil)

	out, err := svc.Collections(context.Background())
	if err != nil {
		t.Fatalf("Collections: %v", err)
	}
	if len(out) != 1 || out[0].CollectionID == nil || *out[0].CollectionID != 3 {
		t.Errorf("out = %+v", out)
	}
	if out[0].Count != 20 {
		t.Errorf("count = %d", out[0].Count)
	}
}

func TestCollectionTargetsGroupsAndSorts(t *testing.T) {
	cat := &fakeCatalog{
		has: true,
		col: &store.Collection{ID: 1, SteamTag: "set_a", Name: "Alpha"},
		colSkins: []store.Skin{
			{MarketHashName: "Rifle B (Battle-Scarred)", BaseName: "Rifle B", Exterior: items.BattleScarred},
			{MarketHashName: "Rifle A (Field-Tested)", BaseName: "Rifle A", Exterior: items.FieldTested},
			{MarketHashName: "Rifle A (Factory New)", BaseName: "Rifle A", Exterior: items.FactoryNew},
		},
	}
	fr := &fakeRanges{ranges: map[string]items.WearRange{
		"Rifle A": {Min: 0.05, Max: 0.7},
	}}
	svc := newTestService(t, cat, &fakeMarket{}, fr)

	res, err := svc.CollectionTargets(context.Background(), "tag_set_a", items.Classified)
	if err != nil {
		t.Fatalf("CollectionTargets: %v", err)
	}
	if res.Tag != "set_a" {
		t.Errorf("tag = %q", res.Tag)
	}
	if len(res.Targets) != 2 {
		t.Fatalf("groups = %d, want 2", len(res.Targets))
	}
	a := res.Targets[0]
	if a.BaseName != "Rifle A" {
		t.Fatalf("first group = %q, want Rifle A", a.BaseName)
	}
	if a.Items[0].Exterior != items.FactoryNew || a.Items[1].Exterior != items.FieldTested {
		t.Errorf("exterior order = %v, %v", a.Items[0].Exterior, a.Items[1].Exterior)
	}
	if a.MinFloat == nil || *a.MinFloat != 0.05 {
		t.Errorf("minFloat = %v", a.MinFloat)
	}
	if res.Targets[1].BaseName != "Rifle B" {
		t.Errorf("second group = %q", res.Targets[1].BaseName)
	}
}

func TestCollectionTargetsUnknownInStoreFallsToLive(t *testing.T) {
	cat := &fakeCatalog{has: true, colErr: store.ErrNotFound}
	mkt := &fakeMarket{page: &steam.SearchPage{
		Total: 2,
		Items: []steam.SearchItem{
			{MarketHashName: "Live Gun (Minimal Wear)"},
			{MarketHashName: "StatTrak™ Live Gun (Minimal Wear)"},
		},
	}}
	svc := newTestService(t, cat, mkt, nil)

	res, err := svc.CollectionTargets(context.Background(), "set_b", items.Covert)
	if err != nil {
		t.Fatalf("CollectionTargets: %v", err)
	}
	if mkt.collectionCalls.Load() == 0 {
		t.Fatal("live market never consulted")
	}
	// StatTrak listing filtered out.
	if len(res.Targets) != 1 || res.Targets[0].BaseName != "Live Gun" {
		t.Errorf("targets = %+v", res.Targets)
	}
}

func TestCollectionInputsRarityBelow(t *testing.T) {
	cat := &fakeCatalog{
		has: true,
		col: &store.Collection{ID: 1, SteamTag: "set_a", Name: "Alpha"},
		colSkins: []store.Skin{
			{MarketHashName: "P250 | X (Field-Tested)", BaseName: "P250 | X", Exterior: items.FieldTested, Rarity: items.Classified},
		},
	}
	svc := newTestService(t, cat, &fakeMarket{}, nil)

	res, err := svc.CollectionInputs(context.Background(), "set_a", items.Covert)
	if err != nil {
		t.Fatalf("CollectionInputs: %v", err)
	}
	if res.InputRarity != items.Classified {
		t.Errorf("inputRarity = %v, want Classified", res.InputRarity)
	}
	if len(res.Items) != 1 || res.Items[0].BaseName != "P250 | X" {
		t.Errorf("items = %+v", res.Items)
	}
}

func TestCollectionInputsNoRarityBelow(t *testing.T) {
	svc := newTestService(t, &fakeCatalog{}, &fakeMarket{}, nil)
	_, err := svc.CollectionInputs(context.Background(), "set_a", items.Consumer)
	if !errors.Is(err, ErrNoInputRarity) {
		t.Errorf("err = %v, want ErrNoInputRarity", err)
	}
}

func TestTargetCollectionPrefersFloatCatalog(t *testing.T) {
	fr := &fakeRanges{col: &floatdb.Collection{
		Name:     "Alpha",
		SteamTag: "set_a",
		Skins: []floatdb.Entry{
			{BaseName: "Big Gun", Rarity: items.Covert, MinFloat: 0.1, MaxFloat: 0.6},
			{BaseName: "Small Gun", Rarity: items.MilSpec, MinFloat: 0, MaxFloat: 1},
		},
	}}
	svc := newTestService(t, &fakeCatalog{}, &fakeMarket{}, fr)

	tc, ok := svc.TargetCollection(context.Background(), "set_a")
	if !ok {
		t.Fatal("not resolved")
	}
	if len(tc.Entries) != 1 || tc.Entries[0].BaseName != "Big Gun" {
		t.Errorf("entries = %+v", tc.Entries)
	}
	if tc.Entries[0].MinFloat != 0.1 || tc.Entries[0].MaxFloat != 0.6 {
		t.Errorf("range = (%v, %v)", tc.Entries[0].MinFloat, tc.Entries[0].MaxFloat)
	}
}

func TestTargetCollectionStoreFallback(t *testing.T) {
	cat := &fakeCatalog{
		has: true,
		col: &store.Collection{ID: 9, SteamTag: "set_b", Name: "Beta"},
		colSkins: []store.Skin{
			{MarketHashName: "Out (Factory New)", BaseName: "Out", Exterior: items.FactoryNew, Rarity: items.Covert},
			{MarketHashName: "Out (Field-Tested)", BaseName: "Out", Exterior: items.FieldTested, Rarity: items.Covert},
		},
	}
	fr := &fakeRanges{ranges: map[string]items.WearRange{"Out": {Min: 0.2, Max: 0.9}}}
	svc := newTestService(t, cat, &fakeMarket{}, fr)

	tc, ok := svc.TargetCollection(context.Background(), "set_b")
	if !ok {
		t.Fatal("not resolved")
	}
	if tc.ID != "set_b" || tc.Name != "Beta" {
		t.Errorf("collection = %q %q", tc.ID, tc.Name)
	}
	// Two exteriors of one base collapse into one entry.
	if len(tc.Entries) != 1 {
		t.Fatalf("entries = %+v", tc.Entries)
	}
	if tc.Entries[0].MinFloat != 0.2 || tc.Entries[0].MaxFloat != 0.9 {
		t.Errorf("range = (%v, %v)", tc.Entries[0].MinFloat, tc.Entries[0].MaxFloat)
	}
}

func TestTargetCollectionUnknownEverywhere(t *testing.T) {
	cat := &fakeCatalog{colErr: store.ErrNotFound}
	svc := newTestService(t, cat, &fakeMarket{}, nil)
	if _, ok := svc.TargetCollection(context.Background(), "ghost"); ok {
		t.Error("resolved a collection no source knows")
	}
}
