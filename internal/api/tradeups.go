package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"tradeup-scout/internal/engine"
	"tradeup-scout/internal/worker"
)

// jobHistoryWindow bounds the sync overview listing.
const jobHistoryWindow = 20

// GET /api/tradeups/collections/steam
func (s *Server) handleCollections(w http.ResponseWriter, r *http.Request) {
	out, err := s.catalog.Collections(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, out)
}

// POST /api/tradeups/collections/sync
func (s *Server) handleTriggerSync(w http.ResponseWriter, r *http.Request) {
	job, _, err := s.syncs.Trigger(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	code := http.StatusOK
	if job.Status == worker.StatusPending || job.Status == worker.StatusRunning {
		code = http.StatusAccepted
	}
	writeJSONStatus(w, code, map[string]interface{}{"job": job})
}

// GET /api/tradeups/collections/sync
func (s *Server) handleSyncOverview(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.syncs.Jobs(r.Context(), jobHistoryWindow)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if jobs == nil {
		jobs = []worker.Job{}
	}
	writeJSON(w, map[string]interface{}{
		"active": s.syncs.Active(r.Context()),
		"jobs":   jobs,
	})
}

// GET /api/tradeups/collections/sync/{jobId}
func (s *Server) handleSyncJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.syncs.Job(r.Context(), mux.Vars(r)["jobId"])
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, map[string]interface{}{"job": job})
}

// GET /api/tradeups/collections/{tag}/targets?rarity=
func (s *Server) handleTargets(w http.ResponseWriter, r *http.Request) {
	rarity, ok := queryRarity(w, r)
	if !ok {
		return
	}
	res, err := s.catalog.CollectionTargets(r.Context(), mux.Vars(r)["tag"], rarity)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, res)
}

// GET /api/tradeups/collections/{tag}/inputs?rarity=
func (s *Server) handleInputs(w http.ResponseWriter, r *http.Request) {
	rarity, ok := queryRarity(w, r)
	if !ok {
		return
	}
	res, err := s.catalog.CollectionInputs(r.Context(), mux.Vars(r)["tag"], rarity)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, res)
}

// POST /api/tradeups/calculate
func (s *Server) handleCalculate(w http.ResponseWriter, r *http.Request) {
	var req engine.Request
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	res, err := s.calc.Calculate(r.Context(), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, res)
}
