// Package floatdb is the reference table of collections and
// per-base-name float ranges. The embedded catalog covers the
// well-known collections; a remote JSON catalog can supplement
// ranges the table lacks. The remote fetch runs at most once per
// process, and a failure sticks so the hot path never waits on a
// dead source twice.
package floatdb

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"tradeup-scout/internal/items"
	"tradeup-scout/internal/logger"
)

//go:embed collections.json
var embeddedCatalog []byte

// Entry is one catalog skin with its float range.
type Entry struct {
	BaseName string       `json:"baseName"`
	Rarity   items.Rarity `json:"rarity"`
	MinFloat float64      `json:"minFloat"`
	MaxFloat float64      `json:"maxFloat"`
}

// Collection groups catalog entries under a market item-set tag.
type Collection struct {
	Name     string  `json:"name"`
	SteamTag string  `json:"steamTag"`
	Skins    []Entry `json:"skins"`
}

// SkinsOf returns the collection's entries of one rarity.
func (c Collection) SkinsOf(r items.Rarity) []Entry {
	var out []Entry
	for _, s := range c.Skins {
		if s.Rarity == r {
			out = append(out, s)
		}
	}
	return out
}

type catalogFile struct {
	Collections []Collection `json:"collections"`
}

// DB answers float-range lookups. Safe for concurrent use.
type DB struct {
	mu          sync.RWMutex
	ranges      map[string]items.WearRange
	collections []Collection
	remoteTried bool

	remoteURL string
	client    *http.Client
	group     singleflight.Group
}

// Load parses the embedded catalog and indexes its float ranges.
func Load() (*DB, error) {
	var cf catalogFile
	if err := json.Unmarshal(embeddedCatalog, &cf); err != nil {
		return nil, fmt.Errorf("floatdb: parse embedded catalog: %w", err)
	}
	d := &DB{
		ranges:      make(map[string]items.WearRange),
		collections: cf.Collections,
		client:      &http.Client{Timeout: 30 * time.Second},
	}
	for _, c := range cf.Collections {
		for _, s := range c.Skins {
			d.mergeRange(s.BaseName, items.WearRange{Min: s.MinFloat, Max: s.MaxFloat})
		}
	}
	logger.Section("Float Catalog")
	logger.Stats("Collections", len(d.collections))
	logger.Stats("Float ranges", len(d.ranges))
	return d, nil
}

// SetRemote points the lazy supplement at a remote skin catalog.
// An empty URL disables it.
func (d *DB) SetRemote(url string) {
	d.mu.Lock()
	d.remoteURL = url
	d.mu.Unlock()
}

// rangeKey canonicalises a lookup name: StatTrak/Souvenir prefixes
// and any wear suffix removed, case folded.
func rangeKey(name string) string {
	return strings.ToLower(items.ParseItemName(name).BaseName)
}

// RangeFor resolves a base name to its float range. Full market hash
// names and decorated variants resolve to the same entry as the
// plain base name. A miss triggers the one-time remote supplement
// before giving up.
func (d *DB) RangeFor(ctx context.Context, baseName string) (items.WearRange, bool) {
	key := rangeKey(baseName)
	d.mu.RLock()
	r, ok := d.ranges[key]
	d.mu.RUnlock()
	if ok {
		return r, true
	}
	d.ensureRemote(ctx)
	d.mu.RLock()
	r, ok = d.ranges[key]
	d.mu.RUnlock()
	return r, ok
}

// Collections returns the catalog's collection list.
func (d *DB) Collections() []Collection {
	out := make([]Collection, len(d.collections))
	copy(out, d.collections)
	return out
}

// CollectionByTag resolves a market item-set tag, ignoring case and
// a tag_ prefix.
func (d *DB) CollectionByTag(tag string) (Collection, bool) {
	tag = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(tag)), "tag_")
	for _, c := range d.collections {
		if strings.ToLower(c.SteamTag) == tag {
			return c, true
		}
	}
	return Collection{}, false
}

// mergeRange widens any existing range for baseName rather than
// replacing it; duplicate sources then agree on the broadest known
// interval. Degenerate ranges are dropped. Callers hold no lock
// during Load; later callers must hold mu.
func (d *DB) mergeRange(baseName string, r items.WearRange) bool {
	key := rangeKey(baseName)
	if key == "" || r.Min < 0 || r.Max > 1 || r.Min >= r.Max {
		return false
	}
	if cur, ok := d.ranges[key]; ok {
		r.Min = math.Min(cur.Min, r.Min)
		r.Max = math.Max(cur.Max, r.Max)
	}
	d.ranges[key] = r
	return true
}

// remoteSkin matches the shape of the public skin catalogs
// (csgo-api style): a flat array with snake_case float bounds.
type remoteSkin struct {
	Name     string   `json:"name"`
	MinFloat *float64 `json:"min_float"`
	MaxFloat *float64 `json:"max_float"`
}

func (d *DB) ensureRemote(ctx context.Context) {
	d.mu.RLock()
	tried, url := d.remoteTried, d.remoteURL
	d.mu.RUnlock()
	if tried || url == "" {
		return
	}
	d.group.Do("remote", func() (any, error) {
		d.fetchRemote(ctx, url)
		return nil, nil
	})
}

func (d *DB) fetchRemote(ctx context.Context, url string) {
	d.mu.Lock()
	if d.remoteTried {
		d.mu.Unlock()
		return
	}
	d.remoteTried = true
	d.mu.Unlock()

	skins, err := d.downloadRemote(ctx, url)
	if err != nil {
		logger.Warn("FloatDB", fmt.Sprintf("Remote float source unavailable: %v", err))
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	merged := 0
	for _, s := range skins {
		if s.MinFloat == nil || s.MaxFloat == nil {
			continue
		}
		if d.mergeRange(s.Name, items.WearRange{Min: *s.MinFloat, Max: *s.MaxFloat}) {
			merged++
		}
	}
	logger.Success("FloatDB", fmt.Sprintf("Merged %d remote float ranges", merged))
}

func (d *DB) downloadRemote(ctx context.Context, url string) ([]remoteSkin, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	var skins []remoteSkin
	if err := json.NewDecoder(resp.Body).Decode(&skins); err != nil {
		return nil, err
	}
	return skins, nil
}
