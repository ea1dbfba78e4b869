package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/filevault/internal/common"
	"github.com/dmitrijs2005/filevault/internal/server/filestore"
	"github.com/dmitrijs2005/filevault/internal/server/uploads"
)

// uploadMetadata is the optional "metadata" form field, an alternative to
// sending name, filetype and tags as separate fields.
type uploadMetadata struct {
	SessionName string    `json:"session_name"`
	Name        string    `json:"name"`
	Filetype    string    `json:"filetype"`
	Tags        *[]string `json:"tags"`
}

type uploadResponse struct {
	Status string `json:"status"`
	filestore.UploadResult
	UploadID string `json:"file_id"`
}

func (h *Handler) handleUploadChunk(w http.ResponseWriter, r *http.Request) {
	maxChunk := h.cfg.MaxChunkSize
	if maxChunk <= 0 {
		maxChunk = uploads.DefaultMaxChunkSize
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxChunk+multipartMemory)

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			h.writeError(w, r, err)
			return
		}
		h.writeError(w, r, fmt.Errorf("%w: %v", common.ErrInvalidRequest, err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	c, explicitSession, err := chunkFromForm(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		h.writeError(w, r, common.ErrNoFile)
		return
	}
	defer file.Close()
	c.Body = file

	name, err := h.sessionName(r, explicitSession)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	res, err := h.store.UploadChunk(r.Context(), name, c)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, uploadResponse{Status: "success", UploadResult: *res, UploadID: c.UploadID})
}

func chunkFromForm(r *http.Request) (filestore.Chunk, string, error) {
	form := r.MultipartForm.Value
	get := func(key string) string {
		if v := form[key]; len(v) > 0 {
			return v[0]
		}
		return ""
	}

	c := filestore.Chunk{
		UploadID: get("file_id"),
		Name:     get("name"),
		Filetype: get("filetype"),
	}
	session := get(common.SessionNameParam)

	if tags, ok := form["tags"]; ok {
		c.TagsSet = true
		c.Tags = splitTags(tags)
	}

	if raw := get("metadata"); raw != "" {
		var m uploadMetadata
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			return c, "", fmt.Errorf("%w: %v", common.ErrNoJSONMetadata, err)
		}
		if m.SessionName != "" {
			session = m.SessionName
		}
		if m.Name != "" {
			c.Name = m.Name
		}
		if m.Filetype != "" {
			c.Filetype = m.Filetype
		}
		if m.Tags != nil {
			c.TagsSet = true
			c.Tags = *m.Tags
		}
	}

	index, err := parseInt(form, "chunk", 0)
	if err != nil {
		return c, "", err
	}
	total, err := parseInt(form, "total_chunks", 1)
	if err != nil {
		return c, "", err
	}
	c.Offset, err = parseInt(form, "chunk_offset", 0)
	if err != nil {
		return c, "", err
	}
	c.FileSize, err = parseInt(form, "file_size", uploads.UnknownSize)
	if err != nil {
		return c, "", err
	}
	c.Index, c.Total = int(index), int(total)

	if c.UploadID == "" {
		if c.Total != 1 {
			return c, "", fmt.Errorf("%w: file_id is required for multi-chunk uploads", common.ErrInvalidRequest)
		}
		c.UploadID = uuid.NewString()
	}
	return c, session, nil
}

// splitTags accepts repeated fields as well as comma separated lists.
func splitTags(values []string) []string {
	tags := make([]string, 0, len(values))
	for _, v := range values {
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				tags = append(tags, t)
			}
		}
	}
	return tags
}
