package handlers

import (
	"net/http"
	"strconv"

	"github.com/mirrorq/mirrorq/pkg/queue"
)

// FileHandler handles queue entry API endpoints: listing, conflict
// resolution, and error retry.
type FileHandler struct {
	store *queue.Store
}

// NewFileHandler creates a new FileHandler.
func NewFileHandler(store *queue.Store) *FileHandler {
	return &FileHandler{store: store}
}

// ResolveRequest is the request body for resolve endpoints.
type ResolveRequest struct {
	Action string `json:"action"`
}

// ListFilesResponse pages a bucket's queue entries.
type ListFilesResponse struct {
	Files  []queue.FileEntry `json:"files"`
	Total  int64             `json:"total"`
	Limit  int               `json:"limit"`
	Offset int               `json:"offset"`
}

// BulkResponse reports how many entries a bulk operation transitioned.
type BulkResponse struct {
	Transitioned int64 `json:"transitioned"`
}

// List handles GET /api/v1/buckets/{bucketID}/files.
// Supports ?status=, ?limit=, and ?offset= query parameters.
func (h *FileHandler) List(w http.ResponseWriter, r *http.Request) {
	bucketID, ok := pathID(w, r, "bucketID")
	if !ok {
		return
	}

	opts := queue.ListFilesOptions{}
	if raw := r.URL.Query().Get("status"); raw != "" {
		status := queue.Status(raw)
		if !status.IsValid() {
			BadRequest(w, "Invalid status filter")
			return
		}
		opts.Status = status
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			BadRequest(w, "Invalid limit")
			return
		}
		opts.Limit = n
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			BadRequest(w, "Invalid offset")
			return
		}
		opts.Offset = n
	}

	files, total, err := h.store.ListFiles(r.Context(), bucketID, opts)
	if err != nil {
		writeError(w, err)
		return
	}
	if files == nil {
		files = []queue.FileEntry{}
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	WriteJSONOK(w, ListFilesResponse{
		Files:  files,
		Total:  total,
		Limit:  limit,
		Offset: opts.Offset,
	})
}

// Get handles GET /api/v1/files/{fileID}.
func (h *FileHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "fileID")
	if !ok {
		return
	}

	entry, err := h.store.GetFile(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	WriteJSONOK(w, entry)
}

// Resolve handles POST /api/v1/files/{fileID}/resolve.
// Applies an operator decision to one conflicted entry. An entry no longer in
// conflict is left untouched and returned as-is.
func (h *FileHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "fileID")
	if !ok {
		return
	}

	var req ResolveRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	action := queue.ResolveAction(req.Action)
	if !action.IsValid() {
		writeError(w, queue.ErrInvalidResolveAction)
		return
	}

	if _, err := h.store.GetFile(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	if err := h.store.ResolveConflict(r.Context(), 0, id, action); err != nil {
		writeError(w, err)
		return
	}

	entry, err := h.store.GetFile(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	WriteJSONOK(w, entry)
}

// Retry handles POST /api/v1/files/{fileID}/retry.
// Requeues one errored entry. An entry not in error is left untouched.
func (h *FileHandler) Retry(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "fileID")
	if !ok {
		return
	}

	if _, err := h.store.GetFile(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	if err := h.store.RetryError(r.Context(), 0, id); err != nil {
		writeError(w, err)
		return
	}

	entry, err := h.store.GetFile(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	WriteJSONOK(w, entry)
}

// ResolveBulk handles POST /api/v1/buckets/{bucketID}/resolve.
// Applies one action to every conflicted entry in the bucket.
func (h *FileHandler) ResolveBulk(w http.ResponseWriter, r *http.Request) {
	bucketID, ok := pathID(w, r, "bucketID")
	if !ok {
		return
	}

	var req ResolveRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	action := queue.ResolveAction(req.Action)
	if !action.IsValid() {
		writeError(w, queue.ErrInvalidResolveAction)
		return
	}

	n, err := h.store.ResolveConflictsBulk(r.Context(), bucketID, action)
	if err != nil {
		writeError(w, err)
		return
	}
	WriteJSONOK(w, BulkResponse{Transitioned: n})
}

// RetryBulk handles POST /api/v1/buckets/{bucketID}/retry.
// Requeues every errored entry in the bucket.
func (h *FileHandler) RetryBulk(w http.ResponseWriter, r *http.Request) {
	bucketID, ok := pathID(w, r, "bucketID")
	if !ok {
		return
	}

	n, err := h.store.RetryErrorsBulk(r.Context(), bucketID)
	if err != nil {
		writeError(w, err)
		return
	}
	WriteJSONOK(w, BulkResponse{Transitioned: n})
}
