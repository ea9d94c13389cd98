// Package store is the persistent skin catalog: collections and
// skins synced from the market, one SQLite file.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"tradeup-scout/internal/items"
	"tradeup-scout/internal/logger"
)

// ErrNotFound reports a lookup that matched nothing.
var ErrNotFound = errors.New("store: not found")

// Collection is one synced market collection.
type Collection struct {
	ID             int64  `db:"id" json:"id"`
	SteamTag       string `db:"steam_tag" json:"tag"`
	Name           string `db:"name" json:"name"`
	NormalizedName string `db:"normalized_name" json:"normalizedName"`
	SyncedAt       string `db:"synced_at" json:"syncedAt"`
}

// Skin is one market item row.
type Skin struct {
	MarketHashName string         `db:"market_hash_name" json:"marketHashName"`
	CollectionID   int64          `db:"collection_id" json:"collectionId"`
	BaseName       string         `db:"base_name" json:"baseName"`
	Exterior       items.Exterior `db:"exterior" json:"exterior"`
	Rarity         items.Rarity   `db:"rarity" json:"rarity"`
	IsStatTrak     bool           `db:"is_stattrak" json:"isStatTrak"`
	IsSouvenir     bool           `db:"is_souvenir" json:"isSouvenir"`
	SellListings   int            `db:"sell_listings" json:"sellListings"`
	LastKnownPrice *float64       `db:"last_known_price" json:"lastKnownPrice"`
	FloatMin       *float64       `db:"float_min" json:"floatMin"`
	FloatMax       *float64       `db:"float_max" json:"floatMax"`
	UpdatedAt      string         `db:"updated_at" json:"updatedAt"`
}

// Store wraps the catalog database.
type Store struct {
	db *sqlx.DB
}

// Open opens (or creates) the SQLite catalog and runs migrations.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store: create %s: %w", dir, err)
		}
	}
	db, err := sqlx.Connect("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	logger.Success("DB", fmt.Sprintf("Opened %s", path))
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	version := 0
	s.db.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)

	if version < 1 {
		_, err := s.db.Exec(`
			CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY);

			CREATE TABLE IF NOT EXISTS collections (
				id              INTEGER PRIMARY KEY AUTOINCREMENT,
				steam_tag       TEXT NOT NULL UNIQUE,
				name            TEXT NOT NULL,
				normalized_name TEXT NOT NULL,
				synced_at       TEXT NOT NULL DEFAULT ''
			);
			CREATE INDEX IF NOT EXISTS idx_collections_name ON collections(name);

			CREATE TABLE IF NOT EXISTS skins (
				market_hash_name TEXT PRIMARY KEY,
				collection_id    INTEGER NOT NULL REFERENCES collections(id) ON DELETE CASCADE,
				base_name        TEXT NOT NULL,
				exterior         TEXT NOT NULL,
				rarity           TEXT NOT NULL,
				is_stattrak      INTEGER NOT NULL DEFAULT 0,
				is_souvenir      INTEGER NOT NULL DEFAULT 0,
				sell_listings    INTEGER NOT NULL DEFAULT 0,
				last_known_price REAL,
				float_min        REAL,
				float_max        REAL,
				updated_at       TEXT NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_skins_collection ON skins(collection_id);
			CREATE INDEX IF NOT EXISTS idx_skins_rarity ON skins(rarity);

			INSERT OR IGNORE INTO schema_version (version) VALUES (1);
		`)
		if err != nil {
			return fmt.Errorf("migration v1: %w", err)
		}
		logger.Info("DB", "Applied migration v1")
	}

	if version < 2 {
		_, err := s.db.Exec(`
			CREATE INDEX IF NOT EXISTS idx_skins_base ON skins(base_name);
			CREATE INDEX IF NOT EXISTS idx_skins_quality ON skins(is_stattrak, is_souvenir);

			INSERT OR IGNORE INTO schema_version (version) VALUES (2);
		`)
		if err != nil {
			return fmt.Errorf("migration v2: %w", err)
		}
		logger.Info("DB", "Applied migration v2 (lookup indexes)")
	}

	return nil
}

// NormalizeName turns a display name into a stable slug
// ("The Huntsman Collection" -> "the-huntsman-collection").
func NormalizeName(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		default:
			if !dash && b.Len() > 0 {
				b.WriteByte('-')
				dash = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

// SyncCollection replaces a collection's observed skin set in one
// transaction: upsert the collection row, upsert every skin, delete
// everything the sync no longer saw. Returns the collection id.
func (s *Store) SyncCollection(ctx context.Context, tag, name string, skins []Skin) (int64, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339)
	_, err = tx.ExecContext(ctx, `
		INSERT INTO collections (steam_tag, name, normalized_name, synced_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(steam_tag) DO UPDATE SET
			name            = excluded.name,
			normalized_name = excluded.normalized_name,
			synced_at       = excluded.synced_at
	`, tag, name, NormalizeName(name), now)
	if err != nil {
		return 0, fmt.Errorf("upsert collection %s: %w", tag, err)
	}

	var collectionID int64
	if err := tx.GetContext(ctx, &collectionID, "SELECT id FROM collections WHERE steam_tag = ?", tag); err != nil {
		return 0, err
	}

	seen := make([]string, 0, len(skins))
	for i := range skins {
		sk := skins[i]
		sk.CollectionID = collectionID
		sk.UpdatedAt = now
		_, err := tx.NamedExecContext(ctx, `
			INSERT INTO skins (
				market_hash_name, collection_id, base_name, exterior, rarity,
				is_stattrak, is_souvenir, sell_listings, last_known_price,
				float_min, float_max, updated_at
			) VALUES (
				:market_hash_name, :collection_id, :base_name, :exterior, :rarity,
				:is_stattrak, :is_souvenir, :sell_listings, :last_known_price,
				:float_min, :float_max, :updated_at
			)
			ON CONFLICT(market_hash_name) DO UPDATE SET
				collection_id    = excluded.collection_id,
				base_name        = excluded.base_name,
				exterior         = excluded.exterior,
				rarity           = excluded.rarity,
				is_stattrak      = excluded.is_stattrak,
				is_souvenir      = excluded.is_souvenir,
				sell_listings    = excluded.sell_listings,
				last_known_price = excluded.last_known_price,
				float_min        = excluded.float_min,
				float_max        = excluded.float_max,
				updated_at       = excluded.updated_at
		`, sk)
		if err != nil {
			return 0, fmt.Errorf("upsert skin %s: %w", sk.MarketHashName, err)
		}
		seen = append(seen, sk.MarketHashName)
	}

	// Reconcile: anything of this collection the sync did not see is
	// gone upstream.
	if len(seen) == 0 {
		if _, err := tx.ExecContext(ctx, "DELETE FROM skins WHERE collection_id = ?", collectionID); err != nil {
			return 0, err
		}
	} else {
		query, args, err := sqlx.In("DELETE FROM skins WHERE collection_id = ? AND market_hash_name NOT IN (?)", collectionID, seen)
		if err != nil {
			return 0, err
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return 0, fmt.Errorf("reconcile collection %s: %w", tag, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return collectionID, nil
}

// Collections lists every collection ordered by display name.
func (s *Store) Collections(ctx context.Context) ([]Collection, error) {
	var out []Collection
	err := s.db.SelectContext(ctx, &out, "SELECT * FROM collections ORDER BY name ASC")
	return out, err
}

// CollectionByTag resolves a steam item-set tag.
func (s *Store) CollectionByTag(ctx context.Context, tag string) (*Collection, error) {
	var c Collection
	err := s.db.GetContext(ctx, &c, "SELECT * FROM collections WHERE steam_tag = ?", tag)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// CollectionByID resolves a collection id.
func (s *Store) CollectionByID(ctx context.Context, id int64) (*Collection, error) {
	var c Collection
	err := s.db.GetContext(ctx, &c, "SELECT * FROM collections WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// HasCollections reports whether at least one collection was synced.
func (s *Store) HasCollections(ctx context.Context) (bool, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM collections"); err != nil {
		return false, err
	}
	return n > 0, nil
}

func qualityFilter(normalOnly bool) string {
	if normalOnly {
		return " AND is_stattrak = 0 AND is_souvenir = 0"
	}
	return ""
}

// CountByRarity groups skin counts for the requested rarities.
func (s *Store) CountByRarity(ctx context.Context, rarities []items.Rarity, normalOnly bool) (map[items.Rarity]int, error) {
	if len(rarities) == 0 {
		return map[items.Rarity]int{}, nil
	}
	query, args, err := sqlx.In(
		"SELECT rarity, COUNT(*) AS n FROM skins WHERE rarity IN (?)"+qualityFilter(normalOnly)+" GROUP BY rarity",
		rarities)
	if err != nil {
		return nil, err
	}
	rows := []struct {
		Rarity items.Rarity `db:"rarity"`
		N      int          `db:"n"`
	}{}
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	out := make(map[items.Rarity]int, len(rarities))
	for _, r := range rarities {
		out[r] = 0
	}
	for _, row := range rows {
		out[row.Rarity] = row.N
	}
	return out, nil
}

// SkinsPage returns one window of a rarity ordered by name, plus the
// total number of matches.
func (s *Store) SkinsPage(ctx context.Context, rarity items.Rarity, start, count int, normalOnly bool) ([]Skin, int, error) {
	var total int
	err := s.db.GetContext(ctx, &total,
		"SELECT COUNT(*) FROM skins WHERE rarity = ?"+qualityFilter(normalOnly), rarity)
	if err != nil {
		return nil, 0, err
	}
	var out []Skin
	err = s.db.SelectContext(ctx, &out,
		"SELECT * FROM skins WHERE rarity = ?"+qualityFilter(normalOnly)+
			" ORDER BY market_hash_name ASC LIMIT ? OFFSET ?",
		rarity, count, start)
	return out, total, err
}

// NamesByRarity returns every market hash name of a rarity, sorted.
func (s *Store) NamesByRarity(ctx context.Context, rarity items.Rarity, normalOnly bool) ([]string, error) {
	var out []string
	err := s.db.SelectContext(ctx, &out,
		"SELECT market_hash_name FROM skins WHERE rarity = ?"+qualityFilter(normalOnly)+
			" ORDER BY market_hash_name ASC", rarity)
	return out, err
}

// CollectionSkins returns a collection's skins of one rarity.
func (s *Store) CollectionSkins(ctx context.Context, collectionID int64, rarity items.Rarity, normalOnly bool) ([]Skin, error) {
	var out []Skin
	err := s.db.SelectContext(ctx, &out,
		"SELECT * FROM skins WHERE collection_id = ? AND rarity = ?"+qualityFilter(normalOnly)+
			" ORDER BY base_name ASC, market_hash_name ASC",
		collectionID, rarity)
	return out, err
}

// CollectionSummary is a collection row with its skin totals.
type CollectionSummary struct {
	Collection
	SkinCount   int `db:"skin_count" json:"skinCount"`
	CovertCount int `db:"covert_count" json:"covertCount"`
}

// CollectionSummaries lists all collections with aggregate counts,
// ordered by display name.
func (s *Store) CollectionSummaries(ctx context.Context) ([]CollectionSummary, error) {
	var out []CollectionSummary
	err := s.db.SelectContext(ctx, &out, `
		SELECT c.*,
		       COUNT(s.market_hash_name)                            AS skin_count,
		       COALESCE(SUM(CASE WHEN s.rarity = ? THEN 1 END), 0)  AS covert_count
		FROM collections c
		LEFT JOIN skins s ON s.collection_id = c.id
		GROUP BY c.id
		ORDER BY c.name ASC
	`, items.Covert)
	return out, err
}
