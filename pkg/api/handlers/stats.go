package handlers

import (
	"net/http"

	"github.com/mirrorq/mirrorq/pkg/queue"
)

// StatsHandler serves queue statistics from the in-memory ledger. Reads are
// O(1) in queue size; no request here touches the database.
type StatsHandler struct {
	store *queue.Store
}

// NewStatsHandler creates a new StatsHandler.
func NewStatsHandler(store *queue.Store) *StatsHandler {
	return &StatsHandler{store: store}
}

// StatsResponse is the per-status aggregate view.
type StatsResponse struct {
	Statuses queue.Stats `json:"statuses"`
	Total    int64       `json:"total"`
}

func statsToResponse(stats queue.Stats) StatsResponse {
	var total int64
	for _, s := range stats {
		total += s.Count
	}
	return StatsResponse{Statuses: stats, Total: total}
}

// Global handles GET /api/v1/stats.
func (h *StatsHandler) Global(w http.ResponseWriter, r *http.Request) {
	WriteJSONOK(w, statsToResponse(h.store.Stats(nil)))
}

// Bucket handles GET /api/v1/buckets/{bucketID}/stats.
func (h *StatsHandler) Bucket(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "bucketID")
	if !ok {
		return
	}

	if _, err := h.store.GetBucket(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	WriteJSONOK(w, statsToResponse(h.store.Stats(&id)))
}

// Folders handles GET /api/v1/buckets/{bucketID}/folders.
// Returns pending and in-progress counts grouped by source folder.
func (h *StatsHandler) Folders(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "bucketID")
	if !ok {
		return
	}

	if _, err := h.store.GetBucket(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}

	counts, err := h.store.FolderStats(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if counts == nil {
		counts = []queue.FolderActiveCounts{}
	}
	WriteJSONOK(w, counts)
}
