package skins

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"tradeup-scout/internal/engine"
	"tradeup-scout/internal/items"
	"tradeup-scout/internal/logger"
	"tradeup-scout/internal/steam"
	"tradeup-scout/internal/store"
)

// ErrNoInputRarity is returned when a target rarity has no rarity
// below it to draw inputs from.
var ErrNoInputRarity = errors.New("skins: target rarity has no input rarity below it")

// collectionLiveWindow caps how many collection items the live
// fallback assembles; collections top out well under this.
const collectionLiveWindow = 120

// collectionRow is the common shape both sources reduce a collection
// item to.
type collectionRow struct {
	name     string
	base     string
	exterior items.Exterior
	price    *float64
	listings int
	min, max *float64
}

// TargetItem is one concrete listing of a target group.
type TargetItem struct {
	MarketHashName string         `json:"marketHashName"`
	Exterior       items.Exterior `json:"exterior"`
	Price          *float64       `json:"price"`
	SellListings   int            `json:"sellListings"`
}

// TargetGroup collects one base skin's listings across exteriors.
type TargetGroup struct {
	BaseName string       `json:"baseName"`
	MinFloat *float64     `json:"minFloat"`
	MaxFloat *float64     `json:"maxFloat"`
	Items    []TargetItem `json:"items"`
}

// TargetsResult is the grouped target listing of one collection.
type TargetsResult struct {
	Tag     string        `json:"tag"`
	Rarity  items.Rarity  `json:"rarity"`
	Targets []TargetGroup `json:"targets"`
}

// CollectionTargets lists a collection's items of one rarity grouped
// by base name, exteriors in wear order.
func (s *Service) CollectionTargets(ctx context.Context, tag string, rarity items.Rarity) (*TargetsResult, error) {
	rows, err := s.collectionRows(ctx, tag, rarity)
	if err != nil {
		return nil, err
	}
	return &TargetsResult{Tag: canonTag(tag), Rarity: rarity, Targets: s.groupRows(ctx, rows)}, nil
}

// InputCandidate is one purchasable input listing.
type InputCandidate struct {
	MarketHashName string         `json:"marketHashName"`
	BaseName       string         `json:"baseName"`
	Exterior       items.Exterior `json:"exterior"`
	Price          *float64       `json:"price"`
	SellListings   int            `json:"sellListings"`
	MinFloat       *float64       `json:"minFloat"`
	MaxFloat       *float64       `json:"maxFloat"`
}

// InputsResult lists candidate inputs for trading up into a target
// rarity: the collection's items one rarity below.
type InputsResult struct {
	Tag          string           `json:"tag"`
	TargetRarity items.Rarity     `json:"targetRarity"`
	InputRarity  items.Rarity     `json:"inputRarity"`
	Items        []InputCandidate `json:"items"`
}

// CollectionInputs lists the collection's items one rarity below the
// target rarity, each with its float range where known.
func (s *Service) CollectionInputs(ctx context.Context, tag string, target items.Rarity) (*InputsResult, error) {
	input, ok := target.Below()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoInputRarity, target)
	}
	rows, err := s.collectionRows(ctx, tag, input)
	if err != nil {
		return nil, err
	}

	out := make([]InputCandidate, 0, len(rows))
	for _, r := range rows {
		c := InputCandidate{
			MarketHashName: r.name,
			BaseName:       r.base,
			Exterior:       r.exterior,
			Price:          r.price,
			SellListings:   r.listings,
		}
		c.MinFloat, c.MaxFloat = s.rangeOf(ctx, r)
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].BaseName != out[j].BaseName {
			return out[i].BaseName < out[j].BaseName
		}
		return wearIndex(out[i].Exterior) < wearIndex(out[j].Exterior)
	})
	return &InputsResult{Tag: canonTag(tag), TargetRarity: target, InputRarity: input, Items: out}, nil
}

// collectionRows loads one collection × rarity slice, store first.
// A collection the store has never seen falls through to the live
// market rather than 404ing; synced collections survive store errors
// the same way.
func (s *Service) collectionRows(ctx context.Context, tag string, rarity items.Rarity) ([]collectionRow, error) {
	if s.catalogReady(ctx) {
		rows, err := s.storeRows(ctx, tag, rarity)
		if err == nil {
			return rows, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			logger.Warn("skins", fmt.Sprintf("store collection read failed, using live market: %v", err))
		}
	}
	return s.liveRows(ctx, tag, rarity)
}

func (s *Service) storeRows(ctx context.Context, tag string, rarity items.Rarity) ([]collectionRow, error) {
	col, err := s.store.CollectionByTag(ctx, canonTag(tag))
	if err != nil {
		return nil, err
	}
	skins, err := s.store.CollectionSkins(ctx, col.ID, rarity, true)
	if err != nil {
		return nil, err
	}
	rows := make([]collectionRow, len(skins))
	for i, sk := range skins {
		rows[i] = collectionRow{
			name:     sk.MarketHashName,
			base:     sk.BaseName,
			exterior: sk.Exterior,
			price:    sk.LastKnownPrice,
			listings: sk.SellListings,
			min:      sk.FloatMin,
			max:      sk.FloatMax,
		}
	}
	return rows, nil
}

func (s *Service) liveRows(ctx context.Context, tag string, rarity items.Rarity) ([]collectionRow, error) {
	page, err := s.market.SearchByCollection(ctx, steam.CollectionSearch{
		Tag:        tag,
		Rarity:     rarity,
		Count:      collectionLiveWindow,
		NormalOnly: true,
	})
	if err != nil {
		return nil, err
	}
	rows := make([]collectionRow, 0, len(page.Items))
	for _, it := range page.Items {
		parsed := items.ParseItemName(it.MarketHashName)
		if !parsed.Normal() {
			continue
		}
		rows = append(rows, collectionRow{
			name:     it.MarketHashName,
			base:     parsed.BaseName,
			exterior: parsed.Exterior,
			price:    it.Price,
			listings: it.SellListings,
		})
	}
	return rows, nil
}

// groupRows buckets rows by base name, sorts each bucket's exteriors
// canonically and attaches the base's float range.
func (s *Service) groupRows(ctx context.Context, rows []collectionRow) []TargetGroup {
	byBase := make(map[string]*TargetGroup)
	var order []string
	for _, r := range rows {
		g, ok := byBase[r.base]
		if !ok {
			g = &TargetGroup{BaseName: r.base}
			g.MinFloat, g.MaxFloat = s.rangeOf(ctx, r)
			byBase[r.base] = g
			order = append(order, r.base)
		}
		g.Items = append(g.Items, TargetItem{
			MarketHashName: r.name,
			Exterior:       r.exterior,
			Price:          r.price,
			SellListings:   r.listings,
		})
	}
	sort.Strings(order)

	out := make([]TargetGroup, 0, len(order))
	for _, base := range order {
		g := byBase[base]
		sort.Slice(g.Items, func(i, j int) bool {
			return wearIndex(g.Items[i].Exterior) < wearIndex(g.Items[j].Exterior)
		})
		out = append(out, *g)
	}
	return out
}

// rangeOf resolves a row's float range: catalog first, synced row
// bounds second.
func (s *Service) rangeOf(ctx context.Context, r collectionRow) (*float64, *float64) {
	if wr, ok := s.floats.RangeFor(ctx, r.base); ok {
		mn, mx := wr.Min, wr.Max
		return &mn, &mx
	}
	return r.min, r.max
}

func wearIndex(e items.Exterior) int {
	for i, x := range items.Exteriors {
		if x == e {
			return i
		}
	}
	return len(items.Exteriors)
}

// TargetCollection resolves one collection into its covert output
// entries for the trade-up engine. The float catalog is
// authoritative; collections it lacks are served from the store with
// per-base ranges filled from whatever source knows them.
func (s *Service) TargetCollection(ctx context.Context, id string) (engine.TargetCollection, bool) {
	if c, ok := s.floats.CollectionByTag(id); ok {
		var entries []engine.TargetEntry
		for _, e := range c.SkinsOf(items.Covert) {
			entries = append(entries, engine.TargetEntry{BaseName: e.BaseName, MinFloat: e.MinFloat, MaxFloat: e.MaxFloat})
		}
		if len(entries) > 0 {
			return engine.TargetCollection{ID: c.SteamTag, Name: c.Name, Entries: entries}, true
		}
	}

	col, err := s.storeCollection(ctx, id)
	if err != nil {
		return engine.TargetCollection{}, false
	}
	rows, err := s.store.CollectionSkins(ctx, col.ID, items.Covert, true)
	if err != nil || len(rows) == 0 {
		return engine.TargetCollection{}, false
	}

	seen := make(map[string]bool, len(rows))
	var entries []engine.TargetEntry
	for _, r := range rows {
		if seen[r.BaseName] {
			continue
		}
		seen[r.BaseName] = true
		e := engine.TargetEntry{BaseName: r.BaseName, MinFloat: 0, MaxFloat: 1}
		if wr, ok := s.floats.RangeFor(ctx, r.BaseName); ok {
			e.MinFloat, e.MaxFloat = wr.Min, wr.Max
		} else if r.FloatMin != nil && r.FloatMax != nil {
			e.MinFloat, e.MaxFloat = *r.FloatMin, *r.FloatMax
		}
		entries = append(entries, e)
	}
	return engine.TargetCollection{ID: col.SteamTag, Name: col.Name, Entries: entries}, true
}

// storeCollection accepts either a numeric store id or a steam tag.
func (s *Service) storeCollection(ctx context.Context, id string) (*store.Collection, error) {
	if n, err := strconv.ParseInt(id, 10, 64); err == nil {
		return s.store.CollectionByID(ctx, n)
	}
	return s.store.CollectionByTag(ctx, canonTag(id))
}
