package api

import (
	"fmt"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"tradeup-scout/internal/items"
	"tradeup-scout/internal/logger"
	"tradeup-scout/internal/steam"
)

// GET /api/skins/totals?rarities=<csv>&normalOnly=
func (s *Server) handleTotals(w http.ResponseWriter, r *http.Request) {
	var rarities []items.Rarity
	if raw := r.URL.Query().Get("rarities"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			rarity, ok := items.ParseRarity(part)
			if !ok {
				writeError(w, http.StatusBadRequest, "unknown rarity: "+part)
				return
			}
			rarities = append(rarities, rarity)
		}
	}
	res, err := s.catalog.Totals(r.Context(), rarities, queryBool(r, "normalOnly", false))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, res)
}

// GET /api/skins/paged?rarity=&start=&count=&normalOnly=
func (s *Server) handlePaged(w http.ResponseWriter, r *http.Request) {
	rarity, ok := queryRarity(w, r)
	if !ok {
		return
	}
	start := max(queryInt(r, "start", 0), 0)
	count := clampInt(queryInt(r, "count", 30), 1, 30)
	res, err := s.catalog.Page(r.Context(), rarity, start, count, queryBool(r, "normalOnly", false))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, res)
}

// GET /api/skins/names?rarity=&normalOnly=
func (s *Server) handleNames(w http.ResponseWriter, r *http.Request) {
	rarity, ok := queryRarity(w, r)
	if !ok {
		return
	}
	res, err := s.catalog.Names(r.Context(), rarity, queryBool(r, "normalOnly", false))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, res)
}

type namesRequest struct {
	Names []string `json:"names"`
}

// decodeNames validates a batch body; ok=false means the response was
// already written.
func decodeNames(w http.ResponseWriter, r *http.Request, limit int) ([]string, bool) {
	var req namesRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return nil, false
	}
	if len(req.Names) == 0 {
		writeError(w, http.StatusBadRequest, "names is required")
		return nil, false
	}
	if len(req.Names) > limit {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("too many names: %d > %d", len(req.Names), limit))
		return nil, false
	}
	return req.Names, true
}

// POST /api/skins/listing-totals
func (s *Server) handleListingTotals(w http.ResponseWriter, r *http.Request) {
	names, ok := decodeNames(w, r, listingTotalsCap)
	if !ok {
		return
	}

	totals := make(map[string]*int, len(names))
	var mu sync.Mutex
	g, ctx := errgroup.WithContext(r.Context())
	for _, name := range names {
		g.Go(func() error {
			n, err := s.market.ListingTotalCount(ctx, name)
			if err != nil {
				if _, limited := steam.RetryAfter(err); limited {
					return err
				}
				logger.Warn("api", fmt.Sprintf("listing total %q: %v", name, err))
				n = nil
			}
			mu.Lock()
			totals[name] = n
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, map[string]interface{}{"totals": totals})
}

// POST /api/priceoverview/batch
func (s *Server) handlePriceBatch(w http.ResponseWriter, r *http.Request) {
	names, ok := decodeNames(w, r, priceBatchCap)
	if !ok {
		return
	}

	prices := make(map[string]*float64, len(names))
	var mu sync.Mutex
	g, ctx := errgroup.WithContext(r.Context())
	for _, name := range names {
		g.Go(func() error {
			p, err := s.market.PriceUSD(ctx, name)
			if err != nil {
				if _, limited := steam.RetryAfter(err); limited {
					return err
				}
				logger.Warn("api", fmt.Sprintf("price %q: %v", name, err))
				p = nil
			}
			mu.Lock()
			prices[name] = p
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, map[string]interface{}{"prices": prices})
}

// GET /api/skins/inspect-links?name=&start=&count=
func (s *Server) handleInspectLinks(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(r.URL.Query().Get("name"))
	if name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	start := max(queryInt(r, "start", 0), 0)
	count := clampInt(queryInt(r, "count", 10), 1, 100)

	links, err := s.market.ListingInspectLinks(r.Context(), name, start, count)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, map[string]interface{}{
		"name":  name,
		"start": start,
		"count": count,
		"links": links,
	})
}
