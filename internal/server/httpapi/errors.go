package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dmitrijs2005/filevault/internal/common"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Code        int    `json:"code"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

var statusByError = []struct {
	err    error
	status int
}{
	{common.ErrInvalidToken, http.StatusUnauthorized},
	{common.ErrSessionExists, http.StatusConflict},
	{common.ErrFileStoreExists, http.StatusConflict},
	{common.ErrFileStoreDNE, http.StatusNotFound},
	{common.ErrorNotFound, http.StatusNotFound},
	{common.ErrFileIsBeingEncrypted, http.StatusLocked},
	{common.ErrFileIsBeingDecrypted, http.StatusLocked},
	{common.ErrMissingSessionName, http.StatusBadRequest},
	{common.ErrSessionNotInitialized, http.StatusBadRequest},
	{common.ErrSessionExpired, http.StatusBadRequest},
	{common.ErrInvalidPassword, http.StatusBadRequest},
	{common.ErrInvalidFileID, http.StatusBadRequest},
	{common.ErrInvalidTag, http.StatusBadRequest},
	{common.ErrNoFile, http.StatusBadRequest},
	{common.ErrNoJSONMetadata, http.StatusBadRequest},
	{common.ErrInvalidRequest, http.StatusBadRequest},
	{common.ErrFileUpload, http.StatusInternalServerError},
	{common.ErrJobFailed, http.StatusInternalServerError},
	{common.ErrFailedToWriteMetadata, http.StatusInternalServerError},
}

// statusFor maps err to an HTTP status and reports whether the error is
// one the client may see verbatim.
func statusFor(err error) (int, bool) {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return http.StatusRequestEntityTooLarge, true
	}
	for _, e := range statusByError {
		if errors.Is(err, e.err) {
			return e.status, true
		}
	}
	return http.StatusInternalServerError, false
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, known := statusFor(err)

	desc := err.Error()
	if !known {
		h.logger.Error(r.Context(), "request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		desc = "internal server error"
	}

	writeJSON(w, status, ErrorResponse{
		Code:        status,
		Name:        http.StatusText(status),
		Description: desc,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
