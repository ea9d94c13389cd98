// Package skins is the catalog read facade. Queries prefer the
// synced local store and fall back to the live market transparently
// when the store is empty or failing.
package skins

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"tradeup-scout/internal/floatdb"
	"tradeup-scout/internal/items"
	"tradeup-scout/internal/logger"
	"tradeup-scout/internal/steam"
	"tradeup-scout/internal/store"
)

// readyTTL bounds how often the readiness probe may hit the store.
const readyTTL = 30 * time.Second

// liveWindow caps how many names the live fallback pages through per
// rarity when the store cannot serve.
const defaultLiveWindow = 1200

// Catalog is the synced-store surface the facade reads.
type Catalog interface {
	HasCollections(ctx context.Context) (bool, error)
	CountByRarity(ctx context.Context, rarities []items.Rarity, normalOnly bool) (map[items.Rarity]int, error)
	SkinsPage(ctx context.Context, rarity items.Rarity, start, count int, normalOnly bool) ([]store.Skin, int, error)
	NamesByRarity(ctx context.Context, rarity items.Rarity, normalOnly bool) ([]string, error)
	CollectionSummaries(ctx context.Context) ([]store.CollectionSummary, error)
	CollectionByTag(ctx context.Context, tag string) (*store.Collection, error)
	CollectionByID(ctx context.Context, id int64) (*store.Collection, error)
	CollectionSkins(ctx context.Context, collectionID int64, rarity items.Rarity, normalOnly bool) ([]store.Skin, error)
}

// Market is the live-adapter surface the facade falls back to.
type Market interface {
	SearchByRarity(ctx context.Context, q steam.RaritySearch) (*steam.SearchPage, error)
	SearchByCollection(ctx context.Context, q steam.CollectionSearch) (*steam.SearchPage, error)
	CollectionTags(ctx context.Context) ([]steam.CollectionTag, error)
}

// Ranges answers float-range and collection lookups.
type Ranges interface {
	RangeFor(ctx context.Context, baseName string) (items.WearRange, bool)
	CollectionByTag(tag string) (floatdb.Collection, bool)
}

// Service answers read queries over the skin catalog.
type Service struct {
	store      Catalog
	market     Market
	floats     Ranges
	dataDir    string
	liveWindow int

	mu         sync.Mutex
	ready      bool
	readyUntil time.Time
	group      singleflight.Group
}

// NewService wires the facade. dataDir receives the names exports;
// liveWindow (0 for the default) caps live fallback paging.
func NewService(st Catalog, market Market, floats Ranges, dataDir string, liveWindow int) *Service {
	if liveWindow <= 0 {
		liveWindow = defaultLiveWindow
	}
	return &Service{
		store:      st,
		market:     market,
		floats:     floats,
		dataDir:    dataDir,
		liveWindow: liveWindow,
	}
}

// catalogReady reports whether the store holds a synced catalog. The
// verdict is memoised for readyTTL; concurrent first-callers share a
// single probe.
func (s *Service) catalogReady(ctx context.Context) bool {
	s.mu.Lock()
	if time.Now().Before(s.readyUntil) {
		ok := s.ready
		s.mu.Unlock()
		return ok
	}
	s.mu.Unlock()

	v, _, _ := s.group.Do("ready", func() (any, error) {
		s.mu.Lock()
		if time.Now().Before(s.readyUntil) {
			ok := s.ready
			s.mu.Unlock()
			return ok, nil
		}
		s.mu.Unlock()

		ok, err := s.store.HasCollections(ctx)
		if err != nil {
			logger.Warn("skins", fmt.Sprintf("readiness probe failed: %v", err))
			ok = false
		}
		s.mu.Lock()
		s.ready = ok
		s.readyUntil = time.Now().Add(readyTTL)
		s.mu.Unlock()
		return ok, nil
	})
	return v.(bool)
}

// Ready exposes the memoised readiness verdict.
func (s *Service) Ready(ctx context.Context) bool { return s.catalogReady(ctx) }

// InvalidateReady forces the next query to re-probe the store. Called
// after a sync lands.
func (s *Service) InvalidateReady() {
	s.mu.Lock()
	s.readyUntil = time.Time{}
	s.mu.Unlock()
}

// Item is one catalog row, shaped identically whether it came from
// the store or the live market.
type Item struct {
	MarketHashName string   `json:"marketHashName"`
	SellListings   int      `json:"sellListings"`
	Price          *float64 `json:"price"`
}

func storeItems(rows []store.Skin) []Item {
	out := make([]Item, len(rows))
	for i, r := range rows {
		out[i] = Item{MarketHashName: r.MarketHashName, SellListings: r.SellListings, Price: r.LastKnownPrice}
	}
	return out
}

func liveItems(results []steam.SearchItem) []Item {
	out := make([]Item, len(results))
	for i, r := range results {
		out[i] = Item{MarketHashName: r.MarketHashName, SellListings: r.SellListings, Price: r.Price}
	}
	return out
}

// TotalsResult reports per-rarity item counts.
type TotalsResult struct {
	Rarities []items.Rarity       `json:"rarities"`
	Totals   map[items.Rarity]int `json:"totals"`
	Sum      int                  `json:"sum"`
}

// Totals counts catalog items per rarity. An empty rarity list means
// all rarities.
func (s *Service) Totals(ctx context.Context, rarities []items.Rarity, normalOnly bool) (*TotalsResult, error) {
	if len(rarities) == 0 {
		rarities = items.Rarities
	}
	if s.catalogReady(ctx) {
		counts, err := s.store.CountByRarity(ctx, rarities, normalOnly)
		if err == nil {
			return totalsOf(rarities, counts), nil
		}
		logger.Warn("skins", fmt.Sprintf("store totals failed, using live market: %v", err))
	}

	counts := make(map[items.Rarity]int, len(rarities))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, r := range rarities {
		g.Go(func() error {
			page, err := s.market.SearchByRarity(gctx, steam.RaritySearch{Rarity: r, Count: 1, NormalOnly: normalOnly})
			if err != nil {
				return err
			}
			mu.Lock()
			counts[r] = page.Total
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return totalsOf(rarities, counts), nil
}

func totalsOf(rarities []items.Rarity, counts map[items.Rarity]int) *TotalsResult {
	res := &TotalsResult{Rarities: rarities, Totals: make(map[items.Rarity]int, len(rarities))}
	for _, r := range rarities {
		res.Totals[r] = counts[r]
		res.Sum += counts[r]
	}
	return res
}

// PageResult is one window of a rarity listing.
type PageResult struct {
	Rarity items.Rarity `json:"rarity"`
	Start  int          `json:"start"`
	Count  int          `json:"count"`
	Total  int          `json:"total"`
	Items  []Item       `json:"items"`
}

// Page returns one window of items for a rarity.
func (s *Service) Page(ctx context.Context, rarity items.Rarity, start, count int, normalOnly bool) (*PageResult, error) {
	if s.catalogReady(ctx) {
		rows, total, err := s.store.SkinsPage(ctx, rarity, start, count, normalOnly)
		if err == nil {
			return &PageResult{Rarity: rarity, Start: start, Count: count, Total: total, Items: storeItems(rows)}, nil
		}
		logger.Warn("skins", fmt.Sprintf("store page failed, using live market: %v", err))
	}
	page, err := s.market.SearchByRarity(ctx, steam.RaritySearch{Rarity: rarity, Start: start, Count: count, NormalOnly: normalOnly})
	if err != nil {
		return nil, err
	}
	return &PageResult{Rarity: rarity, Start: start, Count: count, Total: page.Total, Items: liveItems(page.Items)}, nil
}

// NamesResult lists every market hash name of one rarity, plus the
// file the list was exported to.
type NamesResult struct {
	Rarity items.Rarity `json:"rarity"`
	Total  int          `json:"total"`
	File   string       `json:"file"`
	Names  []string     `json:"names"`
}

// Names lists all names of a rarity and persists them under the data
// directory. An export failure downgrades to a warning; the listing
// itself still succeeds.
func (s *Service) Names(ctx context.Context, rarity items.Rarity, normalOnly bool) (*NamesResult, error) {
	var names []string
	if s.catalogReady(ctx) {
		var err error
		names, err = s.store.NamesByRarity(ctx, rarity, normalOnly)
		if err != nil {
			logger.Warn("skins", fmt.Sprintf("store names failed, using live market: %v", err))
			names = nil
		}
	}
	if names == nil {
		var err error
		names, err = s.liveNames(ctx, rarity, normalOnly)
		if err != nil {
			return nil, err
		}
	}

	file, err := s.exportNames(rarity, names)
	if err != nil {
		logger.Warn("skins", fmt.Sprintf("names export failed: %v", err))
		file = ""
	}
	return &NamesResult{Rarity: rarity, Total: len(names), File: file, Names: names}, nil
}

// liveNames pages the market search until the reported total or the
// live window is exhausted.
func (s *Service) liveNames(ctx context.Context, rarity items.Rarity, normalOnly bool) ([]string, error) {
	var names []string
	start := 0
	for start < s.liveWindow {
		page, err := s.market.SearchByRarity(ctx, steam.RaritySearch{Rarity: rarity, Start: start, Count: 30, NormalOnly: normalOnly})
		if err != nil {
			return nil, err
		}
		for _, it := range page.Items {
			names = append(names, it.MarketHashName)
		}
		if len(page.Items) == 0 || start+len(page.Items) >= page.Total {
			break
		}
		start += len(page.Items)
	}
	return names, nil
}

func (s *Service) exportNames(rarity items.Rarity, names []string) (string, error) {
	if err := os.MkdirAll(s.dataDir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(s.dataDir, raritySlug(rarity)+".json")
	b, err := json.MarshalIndent(names, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func raritySlug(r items.Rarity) string {
	return strings.ReplaceAll(strings.ToLower(string(r)), " ", "-")
}

// CollectionInfo is one row of the collections listing. CollectionID
// is nil until the collection has been synced into the store.
type CollectionInfo struct {
	Tag          string `json:"tag"`
	Name         string `json:"name"`
	Count        int    `json:"count"`
	CollectionID *int64 `json:"collectionId"`
}

// Collections lists every known collection, preferring synced store
// rows (which carry ids and exact counts) over the live facet.
func (s *Service) Collections(ctx context.Context) ([]CollectionInfo, error) {
	if s.catalogReady(ctx) {
		sums, err := s.store.CollectionSummaries(ctx)
		if err == nil {
			out := make([]CollectionInfo, len(sums))
			for i := range sums {
				id := sums[i].ID
				out[i] = CollectionInfo{
					Tag:          sums[i].SteamTag,
					Name:         sums[i].Name,
					Count:        sums[i].SkinCount,
					CollectionID: &id,
				}
			}
			return out, nil
		}
		logger.Warn("skins", fmt.Sprintf("store collections failed, using live market: %v", err))
	}
	tags, err := s.market.CollectionTags(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]CollectionInfo, len(tags))
	for i, t := range tags {
		out[i] = CollectionInfo{Tag: t.Tag, Name: t.Name, Count: t.Count}
	}
	return out, nil
}

// canonTag strips the search facet prefix; appfilters and the store
// both carry bare tags.
func canonTag(tag string) string {
	return strings.TrimPrefix(strings.TrimSpace(tag), "tag_")
}
