package steam

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// ListingTotalCount returns how many live listings a name has. A nil
// count without error means the endpoint answered but carried none.
func (c *Client) ListingTotalCount(ctx context.Context, marketHashName string) (*int, error) {
	key := "listingTotal:" + marketHashName
	if v, ok := c.totals.get(key); ok {
		n := v.(int)
		return &n, nil
	}

	var lr struct {
		Success    bool `json:"success"`
		TotalCount *int `json:"total_count"`
	}
	u := c.listingURL(marketHashName, 0, 1)
	err := c.fetcher.GetJSON(ctx, u, &lr, Options{
		MaxAttempts:    listingAttempts,
		RateLimitPause: listingPause,
	})
	if err != nil {
		return nil, err
	}
	if !lr.Success || lr.TotalCount == nil {
		return nil, nil
	}
	c.totals.add(key, *lr.TotalCount)
	return lr.TotalCount, nil
}

// InspectLink is one live listing's in-game preview link.
type InspectLink struct {
	ListingID   string `json:"listingId"`
	AssetID     string `json:"assetId"`
	InspectLink string `json:"inspectLink"`
}

type listingInfo struct {
	ListingID string `json:"listingid"`
	Asset     struct {
		ID            string `json:"id"`
		MarketActions []struct {
			Link string `json:"link"`
		} `json:"market_actions"`
	} `json:"asset"`
}

// ListingInspectLinks reads the inspect templates off live listings
// and fills in the listing and asset ids.
func (c *Client) ListingInspectLinks(ctx context.Context, marketHashName string, start, count int) ([]InspectLink, error) {
	start = max(start, 0)
	count = clampInt(count, 1, 100)
	u := c.listingURL(marketHashName, start, count)
	key := fmt.Sprintf("inspect:%s:%d:%d", marketHashName, start, count)

	var lr struct {
		Success     bool            `json:"success"`
		ListingInfo json.RawMessage `json:"listinginfo"`
	}
	err := c.fetcher.GetJSON(ctx, u, &lr, Options{
		CacheKey:       key,
		MaxAttempts:    listingAttempts,
		RateLimitPause: listingPause,
	})
	if err != nil {
		return nil, err
	}

	// Steam sends an empty array instead of an object when there are
	// no listings.
	infos := map[string]listingInfo{}
	if len(lr.ListingInfo) > 0 && lr.ListingInfo[0] == '{' {
		if err := json.Unmarshal(lr.ListingInfo, &infos); err != nil {
			return nil, fmt.Errorf("steam: decode listinginfo: %w", err)
		}
	}

	links := make([]InspectLink, 0, len(infos))
	for id, info := range infos {
		listingID := info.ListingID
		if listingID == "" {
			listingID = id
		}
		if len(info.Asset.MarketActions) == 0 {
			continue
		}
		link := info.Asset.MarketActions[0].Link
		link = strings.ReplaceAll(link, "%listingid%", listingID)
		link = strings.ReplaceAll(link, "%assetid%", info.Asset.ID)
		link = strings.ReplaceAll(link, "%owner_steamid%", "0")
		link = strings.ReplaceAll(link, "%amount%", "1")
		links = append(links, InspectLink{
			ListingID:   listingID,
			AssetID:     info.Asset.ID,
			InspectLink: link,
		})
	}
	sort.Slice(links, func(i, j int) bool { return links[i].ListingID < links[j].ListingID })
	return links, nil
}
