package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/mirrorq/mirrorq/pkg/manager"
	"github.com/mirrorq/mirrorq/pkg/queue"
	"github.com/mirrorq/mirrorq/pkg/scheduler"
)

// decodeJSONBody decodes a JSON request body into the provided pointer.
// Returns true if successful, false if decoding fails (error response is
// written automatically).
func decodeJSONBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		BadRequest(w, "Invalid request body")
		return false
	}
	return true
}

// pathID parses a numeric URL parameter. Returns 0 and false after writing a
// 400 when the parameter is missing or not a positive integer.
func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		BadRequest(w, "Invalid "+name)
		return 0, false
	}
	return id, true
}

// writeError maps domain sentinels to HTTP problem responses. Validation
// failures map to 400, missing resources to 404, and lifecycle or uniqueness
// violations to 409.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, manager.ErrInvalidBucket),
		errors.Is(err, queue.ErrInvalidResolveAction):
		BadRequest(w, err.Error())
	case errors.Is(err, queue.ErrBucketNotFound),
		errors.Is(err, queue.ErrEntryNotFound):
		NotFound(w, err.Error())
	case errors.Is(err, queue.ErrDuplicateBucket),
		errors.Is(err, queue.ErrBucketNotStopped),
		errors.Is(err, scheduler.ErrAlreadyRunning),
		errors.Is(err, scheduler.ErrNotRunning),
		errors.Is(err, scheduler.ErrNotPaused):
		Conflict(w, err.Error())
	default:
		InternalServerError(w, err.Error())
	}
}
