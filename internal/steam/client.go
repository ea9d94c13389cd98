package steam

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"tradeup-scout/internal/items"
	"tradeup-scout/internal/logger"
)

const (
	appID       = 730
	currencyUSD = 1

	// collectionPageCap is the widest page the ItemSet facet answers
	// reliably; wider windows are assembled from capped pages.
	collectionPageCap = 10

	// Listing endpoints run a stricter limiter than search, so they
	// get a short retry budget with a long fixed pause.
	listingAttempts = 3
	listingPause    = 16 * time.Second
)

// Client exposes the typed market endpoints on top of the Fetcher.
// All methods are idempotent and cached.
type Client struct {
	fetcher *Fetcher
	baseURL string
	totals  *ttlCache
}

// NewClient wraps f with the Steam Community Market endpoints.
func NewClient(f *Fetcher) *Client {
	return &Client{
		fetcher: f,
		baseURL: "https://steamcommunity.com",
		totals:  newTTLCache(totalsCacheSize, totalsCacheTTL),
	}
}

// Fetcher returns the underlying scheduler, for status reporting.
func (c *Client) Fetcher() *Fetcher { return c.fetcher }

type priceOverview struct {
	Success     bool   `json:"success"`
	LowestPrice string `json:"lowest_price"`
	MedianPrice string `json:"median_price"`
	Volume      string `json:"volume"`
}

// PriceUSD returns the lowest listed price for a market hash name.
// A nil price with nil error means the market answered but carried
// no usable number.
func (c *Client) PriceUSD(ctx context.Context, marketHashName string) (*float64, error) {
	v := url.Values{}
	v.Set("appid", strconv.Itoa(appID))
	v.Set("currency", strconv.Itoa(currencyUSD))
	v.Set("market_hash_name", marketHashName)
	u := c.baseURL + "/market/priceoverview/?" + v.Encode()

	var pv priceOverview
	err := c.fetcher.GetJSON(ctx, u, &pv, Options{CacheKey: "price:" + marketHashName})
	if err != nil {
		return nil, err
	}
	if !pv.Success {
		return nil, nil
	}
	for _, s := range []string{pv.LowestPrice, pv.MedianPrice} {
		if p, ok := items.ParsePrice(s); ok {
			return &p, nil
		}
	}
	logger.Debug("Steam", fmt.Sprintf("no parseable price for %q", marketHashName))
	return nil, nil
}

// CollectionTag is one entry of the ItemSet facet.
type CollectionTag struct {
	Tag   string `json:"tag"`
	Name  string `json:"name"`
	Count int    `json:"count"`
}

type appFilters struct {
	Success bool `json:"success"`
	Facets  map[string]struct {
		Tags map[string]struct {
			LocalizedName string          `json:"localized_name"`
			Matches       json.RawMessage `json:"matches"`
		} `json:"tags"`
	} `json:"facets"`
}

// CollectionTags lists every collection the market search can facet
// on, sorted by display name.
func (c *Client) CollectionTags(ctx context.Context) ([]CollectionTag, error) {
	u := fmt.Sprintf("%s/market/appfilters/%d", c.baseURL, appID)
	var af appFilters
	if err := c.fetcher.GetJSON(ctx, u, &af, Options{CacheKey: "appfilters"}); err != nil {
		return nil, err
	}
	facet, ok := af.Facets[fmt.Sprintf("%d_ItemSet", appID)]
	if !af.Success || !ok {
		return nil, fmt.Errorf("steam: appfilters response missing ItemSet facet")
	}
	tags := make([]CollectionTag, 0, len(facet.Tags))
	for tag, t := range facet.Tags {
		tags = append(tags, CollectionTag{
			Tag:   tag,
			Name:  t.LocalizedName,
			Count: parseCount(t.Matches),
		})
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i].Name < tags[j].Name })
	return tags, nil
}

// parseCount reads the facet match count, which Steam serves either
// as a number or a quoted string.
func parseCount(raw json.RawMessage) int {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if s == "" {
		return 0
	}
	n, err := strconv.Atoi(strings.ReplaceAll(s, ",", ""))
	if err != nil {
		return 0
	}
	return n
}

// facetTag normalises collection tags to the form the search facet
// expects; appfilters returns them without the tag_ prefix.
func facetTag(tag string) string {
	if strings.HasPrefix(tag, "tag_") {
		return tag
	}
	return "tag_" + tag
}

func (c *Client) searchURL(start, count int, normalOnly bool, rarity items.Rarity, collectionTag string) string {
	v := url.Values{}
	v.Set("query", "")
	v.Set("start", strconv.Itoa(start))
	v.Set("count", strconv.Itoa(count))
	v.Set("search_descriptions", "0")
	v.Set("sort_column", "name")
	v.Set("sort_dir", "asc")
	v.Set("appid", strconv.Itoa(appID))
	v.Set("norender", "1")
	if rarity != "" {
		v.Add(fmt.Sprintf("category_%d_Rarity[]", appID), rarity.SteamTag())
	}
	if normalOnly {
		v.Add(fmt.Sprintf("category_%d_Quality[]", appID), "tag_normal")
	}
	if collectionTag != "" {
		v.Add(fmt.Sprintf("category_%d_ItemSet[]", appID), facetTag(collectionTag))
	}
	return c.baseURL + "/market/search/render/?" + v.Encode()
}

func (c *Client) listingURL(name string, start, count int) string {
	v := url.Values{}
	v.Set("start", strconv.Itoa(start))
	v.Set("count", strconv.Itoa(count))
	v.Set("currency", strconv.Itoa(currencyUSD))
	v.Set("format", "json")
	return fmt.Sprintf("%s/market/listings/%d/%s/render/?%s", c.baseURL, appID, url.PathEscape(name), v.Encode())
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
