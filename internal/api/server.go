// Package api exposes the HTTP surface: catalog reads, market
// lookups, trade-up calculation and sync job control.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tradeup-scout/internal/engine"
	"tradeup-scout/internal/items"
	"tradeup-scout/internal/skins"
	"tradeup-scout/internal/steam"
	"tradeup-scout/internal/store"
	"tradeup-scout/internal/worker"
)

const (
	// listingTotalsCap bounds one listing-totals batch.
	listingTotalsCap = 150
	// priceBatchCap bounds one priceoverview batch.
	priceBatchCap = 200
)

// CatalogReader is the read facade the skin and collection handlers
// serve from.
type CatalogReader interface {
	Ready(ctx context.Context) bool
	Totals(ctx context.Context, rarities []items.Rarity, normalOnly bool) (*skins.TotalsResult, error)
	Page(ctx context.Context, rarity items.Rarity, start, count int, normalOnly bool) (*skins.PageResult, error)
	Names(ctx context.Context, rarity items.Rarity, normalOnly bool) (*skins.NamesResult, error)
	Collections(ctx context.Context) ([]skins.CollectionInfo, error)
	CollectionTargets(ctx context.Context, tag string, rarity items.Rarity) (*skins.TargetsResult, error)
	CollectionInputs(ctx context.Context, tag string, target items.Rarity) (*skins.InputsResult, error)
}

// MarketAPI is the slice of the live adapter the batch endpoints hit
// directly.
type MarketAPI interface {
	PriceUSD(ctx context.Context, name string) (*float64, error)
	ListingTotalCount(ctx context.Context, name string) (*int, error)
	ListingInspectLinks(ctx context.Context, name string, start, count int) ([]steam.InspectLink, error)
}

// Calculator runs trade-up computations.
type Calculator interface {
	Calculate(ctx context.Context, req engine.Request) (*engine.Result, error)
}

// SyncControl drives the catalog sync queue.
type SyncControl interface {
	Trigger(ctx context.Context) (*worker.Job, bool, error)
	Active(ctx context.Context) *worker.Job
	Job(ctx context.Context, id string) (*worker.Job, error)
	Jobs(ctx context.Context, n int) ([]worker.Job, error)
}

// Pacing exposes fetcher state for the status endpoint.
type Pacing interface {
	Status() steam.Status
}

// Server is the HTTP API server tying the read facade, live market,
// engine and sync worker together.
type Server struct {
	catalog CatalogReader
	market  MarketAPI
	calc    Calculator
	syncs   SyncControl
	pacing  Pacing
	version string
}

// NewServer creates a Server over its collaborators. pacing may be
// nil; /api/status then omits the fetcher block.
func NewServer(catalog CatalogReader, market MarketAPI, calc Calculator, syncs SyncControl, pacing Pacing, version string) *Server {
	return &Server{
		catalog: catalog,
		market:  market,
		calc:    calc,
		syncs:   syncs,
		pacing:  pacing,
		version: version,
	}
}

// Handler returns the routed handler with CORS applied.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)

	api.HandleFunc("/skins/totals", s.handleTotals).Methods(http.MethodGet)
	api.HandleFunc("/skins/paged", s.handlePaged).Methods(http.MethodGet)
	api.HandleFunc("/skins/names", s.handleNames).Methods(http.MethodGet)
	api.HandleFunc("/skins/listing-totals", s.handleListingTotals).Methods(http.MethodPost)
	api.HandleFunc("/skins/inspect-links", s.handleInspectLinks).Methods(http.MethodGet)
	api.HandleFunc("/priceoverview/batch", s.handlePriceBatch).Methods(http.MethodPost)

	api.HandleFunc("/tradeups/collections/steam", s.handleCollections).Methods(http.MethodGet)
	api.HandleFunc("/tradeups/collections/sync", s.handleTriggerSync).Methods(http.MethodPost)
	api.HandleFunc("/tradeups/collections/sync", s.handleSyncOverview).Methods(http.MethodGet)
	api.HandleFunc("/tradeups/collections/sync/{jobId}", s.handleSyncJob).Methods(http.MethodGet)
	api.HandleFunc("/tradeups/collections/{tag}/targets", s.handleTargets).Methods(http.MethodGet)
	api.HandleFunc("/tradeups/collections/{tag}/inputs", s.handleInputs).Methods(http.MethodGet)
	api.HandleFunc("/tradeups/calculate", s.handleCalculate).Methods(http.MethodPost)

	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	return corsMiddleware(r)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(204)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeJSONStatus(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func readJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// writeDomainError maps an error from the lower layers onto the
// wire: 503 with Retry-After for rate limits, 404 for unknown
// resources, 400 for rejected requests, 500 otherwise.
func writeDomainError(w http.ResponseWriter, err error) {
	if ra, ok := steam.RetryAfter(err); ok {
		secs := int(ra / time.Second)
		if ra%time.Second != 0 || secs < 1 {
			secs++
		}
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		writeError(w, http.StatusServiceUnavailable, "upstream rate limited")
		return
	}
	switch {
	case errors.Is(err, store.ErrNotFound) || errors.Is(err, worker.ErrJobNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, engine.ErrNoInputs) ||
		errors.Is(err, engine.ErrTooManyInputs) ||
		errors.Is(err, engine.ErrNoTargets) ||
		errors.Is(err, engine.ErrBadCommission) ||
		errors.Is(err, skins.ErrNoInputRarity):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	result := map[string]interface{}{
		"status":       "ok",
		"version":      s.version,
		"catalogReady": s.catalog.Ready(r.Context()),
	}
	if s.pacing != nil {
		result["fetcher"] = s.pacing.Status()
	}
	writeJSON(w, result)
}

// queryBool reads a boolean query param, defaulting on absence.
func queryBool(r *http.Request, name string, def bool) bool {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return v
}

// queryInt reads an integer query param, defaulting on absence or
// garbage.
func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

// queryRarity parses the required rarity param; ok=false means the
// 400 was already written.
func queryRarity(w http.ResponseWriter, r *http.Request) (items.Rarity, bool) {
	raw := r.URL.Query().Get("rarity")
	if raw == "" {
		writeError(w, http.StatusBadRequest, "rarity is required")
		return "", false
	}
	rarity, ok := items.ParseRarity(raw)
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown rarity: "+raw)
		return "", false
	}
	return rarity, true
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
