package worker

import (
	"context"
	"fmt"

	"tradeup-scout/internal/items"
	"tradeup-scout/internal/logger"
	"tradeup-scout/internal/metrics"
	"tradeup-scout/internal/steam"
	"tradeup-scout/internal/store"
)

// collectionCap is the hard per-collection item ceiling, regardless
// of how high the auto limit is configured.
const collectionCap = 600

// Market is the upstream surface the sync pulls from.
type Market interface {
	CollectionTags(ctx context.Context) ([]steam.CollectionTag, error)
	SearchByCollection(ctx context.Context, q steam.CollectionSearch) (*steam.SearchPage, error)
}

// Catalog is the store surface the sync writes to.
type Catalog interface {
	SyncCollection(ctx context.Context, tag, name string, skins []store.Skin) (int64, error)
}

// Ranges resolves float ranges for observed items.
type Ranges interface {
	RangeFor(ctx context.Context, baseName string) (items.WearRange, bool)
}

// Syncer walks every discovered collection, rarity by rarity, and
// reconciles the store against what the market reports.
type Syncer struct {
	market Market
	store  Catalog
	floats Ranges
	jobs   *JobStore

	pageSize     int
	maxAutoLimit int
}

// NewSyncer wires a syncer. pageSize and maxAutoLimit follow the
// fetch configuration; the 600-per-collection ceiling applies on top.
func NewSyncer(market Market, st Catalog, floats Ranges, jobs *JobStore, pageSize, maxAutoLimit int) *Syncer {
	if pageSize <= 0 {
		pageSize = 30
	}
	if maxAutoLimit <= 0 {
		maxAutoLimit = 1200
	}
	return &Syncer{
		market:       market,
		store:        st,
		floats:       floats,
		jobs:         jobs,
		pageSize:     pageSize,
		maxAutoLimit: maxAutoLimit,
	}
}

func (s *Syncer) limit() int {
	return min(s.maxAutoLimit, collectionCap)
}

// Run executes one sync pass, resuming after
// job.Progress.SyncedCollections collections on a retried job.
// Progress is flushed after every rarity and every collection; a
// flush failure never aborts the sync.
func (s *Syncer) Run(ctx context.Context, job *Job) error {
	tags, err := s.market.CollectionTags(ctx)
	if err != nil {
		return fmt.Errorf("discover collections: %w", err)
	}
	job.Progress.TotalCollections = len(tags)
	s.flush(ctx, job)

	skip := job.Progress.SyncedCollections
	for i, tag := range tags {
		if i < skip {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		job.Progress.CurrentCollectionTag = tag.Tag
		job.Progress.CurrentCollectionName = tag.Name
		s.flush(ctx, job)

		rows, err := s.collect(ctx, job, tag)
		if err != nil {
			return fmt.Errorf("collection %s: %w", tag.Tag, err)
		}
		if _, err := s.store.SyncCollection(ctx, tag.Tag, tag.Name, rows); err != nil {
			return fmt.Errorf("persist %s: %w", tag.Tag, err)
		}

		job.Progress.SyncedCollections = i + 1
		job.Progress.CurrentRarity = ""
		s.flush(ctx, job)
		metrics.SyncCollections.Inc()
		logger.Info("sync", fmt.Sprintf("%s: %d items (%d/%d collections)", tag.Name, len(rows), i+1, len(tags)))
	}

	job.Progress.CurrentCollectionTag = ""
	job.Progress.CurrentCollectionName = ""
	return nil
}

// collect pages one collection through every rarity until exhausted
// or capped.
func (s *Syncer) collect(ctx context.Context, job *Job, tag steam.CollectionTag) ([]store.Skin, error) {
	var rows []store.Skin
	seen := make(map[string]bool)
	limit := s.limit()

	for _, rarity := range items.Rarities {
		if len(rows) >= limit {
			break
		}
		job.Progress.CurrentRarity = string(rarity)
		s.flush(ctx, job)

		start := 0
		for len(rows) < limit {
			page, err := s.market.SearchByCollection(ctx, steam.CollectionSearch{
				Tag:    tag.Tag,
				Rarity: rarity,
				Start:  start,
				Count:  s.pageSize,
			})
			if err != nil {
				return nil, err
			}
			if len(page.Items) == 0 {
				break
			}
			for _, it := range page.Items {
				if seen[it.MarketHashName] || len(rows) >= limit {
					continue
				}
				seen[it.MarketHashName] = true
				rows = append(rows, s.skinRow(ctx, rarity, it))
			}
			start += len(page.Items)
			if start >= page.Total {
				break
			}
		}
	}
	return rows, nil
}

func (s *Syncer) skinRow(ctx context.Context, rarity items.Rarity, it steam.SearchItem) store.Skin {
	p := items.ParseItemName(it.MarketHashName)
	row := store.Skin{
		MarketHashName: it.MarketHashName,
		BaseName:       p.BaseName,
		Exterior:       p.Exterior,
		Rarity:         rarity,
		IsStatTrak:     p.StatTrak,
		IsSouvenir:     p.Souvenir,
		SellListings:   it.SellListings,
		LastKnownPrice: it.Price,
	}
	if wr, ok := s.floats.RangeFor(ctx, p.BaseName); ok {
		mn, mx := wr.Min, wr.Max
		row.FloatMin, row.FloatMax = &mn, &mx
	}
	return row
}

func (s *Syncer) flush(ctx context.Context, job *Job) {
	if err := s.jobs.Save(ctx, job); err != nil {
		logger.Warn("sync", fmt.Sprintf("progress flush failed: %v", err))
	}
}
