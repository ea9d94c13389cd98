package steam

import (
	"context"
	"fmt"

	"tradeup-scout/internal/items"
)

// SearchItem is one row of a market search page.
type SearchItem struct {
	MarketHashName string   `json:"marketHashName"`
	SellListings   int      `json:"sellListings"`
	Price          *float64 `json:"price"`
}

// SearchPage is a window of market search results plus the total
// number of matches upstream reported.
type SearchPage struct {
	Total int          `json:"total"`
	Items []SearchItem `json:"items"`
}

type searchResponse struct {
	Success    bool `json:"success"`
	TotalCount int  `json:"total_count"`
	Results    []struct {
		Name             string `json:"name"`
		HashName         string `json:"hash_name"`
		SellListings     int    `json:"sell_listings"`
		SellPrice        int    `json:"sell_price"`
		SellPriceText    string `json:"sell_price_text"`
		AssetDescription struct {
			MarketHashName string `json:"market_hash_name"`
		} `json:"asset_description"`
	} `json:"results"`
}

func (sr *searchResponse) page() *SearchPage {
	p := &SearchPage{Total: sr.TotalCount, Items: make([]SearchItem, 0, len(sr.Results))}
	for _, r := range sr.Results {
		name := r.HashName
		if name == "" {
			name = r.AssetDescription.MarketHashName
		}
		if name == "" {
			name = r.Name
		}
		it := SearchItem{MarketHashName: name, SellListings: r.SellListings}
		if r.SellPrice > 0 {
			v := float64(r.SellPrice) / 100
			it.Price = &v
		} else if v, ok := items.ParsePrice(r.SellPriceText); ok {
			it.Price = &v
		}
		p.Items = append(p.Items, it)
	}
	return p
}

// RaritySearch queries one page of a rarity, ordered by name.
type RaritySearch struct {
	Rarity     items.Rarity
	Start      int
	Count      int // 1..30
	NormalOnly bool
}

// SearchByRarity returns one market page for a rarity facet.
func (c *Client) SearchByRarity(ctx context.Context, q RaritySearch) (*SearchPage, error) {
	if !q.Rarity.Valid() {
		return nil, fmt.Errorf("steam: unknown rarity %q", q.Rarity)
	}
	start := max(q.Start, 0)
	count := clampInt(q.Count, 1, 30)
	u := c.searchURL(start, count, q.NormalOnly, q.Rarity, "")
	key := fmt.Sprintf("search:%s:%d:%d:%t", q.Rarity.SteamTag(), start, count, q.NormalOnly)

	var sr searchResponse
	if err := c.fetcher.GetJSON(ctx, u, &sr, Options{CacheKey: key}); err != nil {
		return nil, err
	}
	if !sr.Success {
		return nil, fmt.Errorf("steam: rarity search refused for %s", q.Rarity)
	}
	return sr.page(), nil
}

// CollectionSearch queries items of one collection, optionally
// narrowed to a single rarity.
type CollectionSearch struct {
	Tag        string
	Rarity     items.Rarity // empty for all rarities
	Start      int
	Count      int
	NormalOnly bool
}

// SearchByCollection pages through the ItemSet facet. The facet
// misbehaves beyond ten results per call, so wider windows are
// assembled from capped upstream pages, each cached on its own.
func (c *Client) SearchByCollection(ctx context.Context, q CollectionSearch) (*SearchPage, error) {
	if q.Tag == "" {
		return nil, fmt.Errorf("steam: empty collection tag")
	}
	if q.Rarity != "" && !q.Rarity.Valid() {
		return nil, fmt.Errorf("steam: unknown rarity %q", q.Rarity)
	}
	start := max(q.Start, 0)
	remaining := max(q.Count, 1)

	page := &SearchPage{}
	for remaining > 0 {
		width := min(remaining, collectionPageCap)
		u := c.searchURL(start, width, q.NormalOnly, q.Rarity, q.Tag)
		key := fmt.Sprintf("collection:%s:%s:%d:%d:%t", q.Tag, q.Rarity, start, width, q.NormalOnly)

		var sr searchResponse
		if err := c.fetcher.GetJSON(ctx, u, &sr, Options{CacheKey: key}); err != nil {
			return nil, err
		}
		if !sr.Success {
			return nil, fmt.Errorf("steam: collection search refused for %s", q.Tag)
		}
		chunk := sr.page()
		page.Total = chunk.Total
		page.Items = append(page.Items, chunk.Items...)
		if len(chunk.Items) == 0 {
			break
		}
		start += len(chunk.Items)
		remaining -= len(chunk.Items)
		if start >= page.Total {
			break
		}
	}
	return page, nil
}
