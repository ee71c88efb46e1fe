package handlers

import (
	"net/http"
	"time"

	"github.com/mirrorq/mirrorq/pkg/manager"
	"github.com/mirrorq/mirrorq/pkg/queue"
	"github.com/mirrorq/mirrorq/pkg/scanner"
)

// BucketHandler handles bucket CRUD and lifecycle API endpoints.
type BucketHandler struct {
	manager *manager.Manager
	scanner *scanner.Scanner
}

// NewBucketHandler creates a new BucketHandler.
func NewBucketHandler(mgr *manager.Manager, scn *scanner.Scanner) *BucketHandler {
	return &BucketHandler{manager: mgr, scanner: scn}
}

// BucketResponse is the API view of a bucket, combining the persisted row
// with the live scheduler state.
type BucketResponse struct {
	ID                int64     `json:"id"`
	Name              string    `json:"name"`
	SourceFolders     []string  `json:"source_folders"`
	DestinationFolder string    `json:"destination_folder"`
	WorkerCount       int       `json:"worker_count"`
	Status            string    `json:"status"`
	ActiveWorkers     int       `json:"active_workers"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// ScanResponse is the API view of one completed scan run.
type ScanResponse struct {
	RunID      string `json:"run_id"`
	FilesSeen  int64  `json:"files_seen"`
	FilesAdded int64  `json:"files_added"`
	DurationMs int64  `json:"duration_ms"`
}

func (h *BucketHandler) bucketToResponse(b *queue.Bucket) BucketResponse {
	status := b.Status
	if live, err := h.manager.SchedulerStatus(b.ID); err == nil {
		status = live
	}
	return BucketResponse{
		ID:                b.ID,
		Name:              b.Name,
		SourceFolders:     b.Sources(),
		DestinationFolder: b.DestinationFolder,
		WorkerCount:       b.WorkerCount,
		Status:            string(status),
		ActiveWorkers:     h.manager.ActiveWorkers(b.ID),
		CreatedAt:         b.CreatedAt,
		UpdatedAt:         b.UpdatedAt,
	}
}

// Create handles POST /api/v1/buckets.
func (h *BucketHandler) Create(w http.ResponseWriter, r *http.Request) {
	var params manager.BucketParams
	if !decodeJSONBody(w, r, &params) {
		return
	}

	b, err := h.manager.CreateBucket(r.Context(), params)
	if err != nil {
		writeError(w, err)
		return
	}
	WriteJSONCreated(w, h.bucketToResponse(b))
}

// List handles GET /api/v1/buckets.
func (h *BucketHandler) List(w http.ResponseWriter, r *http.Request) {
	buckets, err := h.manager.ListBuckets(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	response := make([]BucketResponse, len(buckets))
	for i := range buckets {
		response[i] = h.bucketToResponse(&buckets[i])
	}
	WriteJSONOK(w, response)
}

// Get handles GET /api/v1/buckets/{bucketID}.
func (h *BucketHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "bucketID")
	if !ok {
		return
	}

	b, err := h.manager.GetBucket(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	WriteJSONOK(w, h.bucketToResponse(b))
}

// Update handles PUT /api/v1/buckets/{bucketID}.
func (h *BucketHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "bucketID")
	if !ok {
		return
	}

	var params manager.BucketParams
	if !decodeJSONBody(w, r, &params) {
		return
	}

	b, err := h.manager.UpdateBucket(r.Context(), id, params)
	if err != nil {
		writeError(w, err)
		return
	}
	WriteJSONOK(w, h.bucketToResponse(b))
}

// Delete handles DELETE /api/v1/buckets/{bucketID}.
func (h *BucketHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "bucketID")
	if !ok {
		return
	}

	if err := h.manager.DeleteBucket(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	WriteNoContent(w)
}

// Start handles POST /api/v1/buckets/{bucketID}/start.
func (h *BucketHandler) Start(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, func(id int64) error {
		return h.manager.Start(id)
	})
}

// Pause handles POST /api/v1/buckets/{bucketID}/pause.
func (h *BucketHandler) Pause(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, func(id int64) error {
		return h.manager.Pause(r.Context(), id)
	})
}

// Resume handles POST /api/v1/buckets/{bucketID}/resume.
func (h *BucketHandler) Resume(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, func(id int64) error {
		return h.manager.Resume(r.Context(), id)
	})
}

// Stop handles POST /api/v1/buckets/{bucketID}/stop.
func (h *BucketHandler) Stop(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, func(id int64) error {
		return h.manager.Stop(r.Context(), id)
	})
}

// lifecycle applies a scheduler transition and returns the refreshed bucket.
func (h *BucketHandler) lifecycle(w http.ResponseWriter, r *http.Request, op func(id int64) error) {
	id, ok := pathID(w, r, "bucketID")
	if !ok {
		return
	}

	if err := op(id); err != nil {
		writeError(w, err)
		return
	}

	b, err := h.manager.GetBucket(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	WriteJSONOK(w, h.bucketToResponse(b))
}

// Scan handles POST /api/v1/buckets/{bucketID}/scan.
// Runs a synchronous scan of the bucket's source roots.
func (h *BucketHandler) Scan(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "bucketID")
	if !ok {
		return
	}

	b, err := h.manager.GetBucket(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	res, err := h.scanner.Scan(r.Context(), b)
	if err != nil {
		writeError(w, err)
		return
	}
	WriteJSONOK(w, ScanResponse{
		RunID:      res.RunID,
		FilesSeen:  res.FilesSeen,
		FilesAdded: res.FilesAdded,
		DurationMs: res.Duration.Milliseconds(),
	})
}
