// Package httpapi exposes the session and file store operations over HTTP.
package httpapi

import (
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"os"
	"strconv"
	"strings"

	"golang.org/x/time/rate"

	"github.com/dmitrijs2005/filevault/internal/common"
	"github.com/dmitrijs2005/filevault/internal/logging"
	"github.com/dmitrijs2005/filevault/internal/server/auth"
	"github.com/dmitrijs2005/filevault/internal/server/filestore"
	"github.com/dmitrijs2005/filevault/internal/server/metadata"
	"github.com/dmitrijs2005/filevault/internal/server/sessions"
)

// multipartMemory is how much of a chunk upload is buffered in memory
// before spilling to a temp file.
const multipartMemory = 8 << 20

type Config struct {
	SecretKey    []byte
	MaxChunkSize int64
	// SessionRate limits POST /session per client address. Zero disables.
	SessionRate  rate.Limit
	SessionBurst int
}

type Handler struct {
	cfg      Config
	sessions *sessions.Manager
	store    *filestore.Service
	logger   logging.Logger
	limiter  *ipRateLimiter
	mux      *http.ServeMux
}

func NewHandler(cfg Config, sm *sessions.Manager, store *filestore.Service, logger logging.Logger) *Handler {
	h := &Handler{
		cfg:      cfg,
		sessions: sm,
		store:    store,
		logger:   logger.With("module", "http"),
		mux:      http.NewServeMux(),
	}
	if cfg.SessionRate > 0 {
		burst := cfg.SessionBurst
		if burst < 1 {
			burst = 1
		}
		h.limiter = newIPRateLimiter(cfg.SessionRate, burst)
	}
	h.registerRoutes()
	return h
}

func (h *Handler) registerRoutes() {
	h.mux.HandleFunc("POST /session", h.limitRate(h.limiter, h.handleCreateSession))
	h.mux.HandleFunc("PUT /session/{name}/refresh", h.handleRefreshSession)
	h.mux.HandleFunc("GET /session/{name}/valid", h.handleSessionValid)
	h.mux.HandleFunc("DELETE /session/{name}", h.handleDeleteSession)

	h.mux.HandleFunc("POST /store", h.handleInitStore)
	h.mux.HandleFunc("GET /store/metadata/file", h.handleListFiles)
	h.mux.HandleFunc("GET /store/metadata/file/{id}", h.handleGetFile)
	h.mux.HandleFunc("PATCH /store/metadata/file/{id}", h.handlePatchFile)
	h.mux.HandleFunc("GET /store/metadata/tag", h.handleListTags)
	h.mux.HandleFunc("PUT /store/metadata/tag/{name}", h.handleRenameTag)
	h.mux.HandleFunc("DELETE /store/metadata/tag/{name}", h.handleDeleteTag)

	h.mux.HandleFunc("POST /store/file", h.handleUploadChunk)
	h.mux.HandleFunc("GET /store/file/{id}", h.handleDownload)
	h.mux.HandleFunc("GET /store/file/{id}/status", h.handleFileStatus)
	h.mux.HandleFunc("DELETE /store/file/{id}", h.handleDeleteFile)

	h.mux.HandleFunc("GET /heartbeat", h.handleHeartbeat)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// sessionName resolves the session of a request. A bearer token takes
// precedence; an explicit name that disagrees with it is rejected.
func (h *Handler) sessionName(r *http.Request, explicit string) (string, error) {
	header := r.Header.Get(common.AuthorizationHeaderName)
	if header == "" {
		return explicit, nil
	}

	token, ok := strings.CutPrefix(header, common.BearerPrefix)
	if !ok {
		return "", fmt.Errorf("%w: malformed authorization header", common.ErrInvalidToken)
	}
	name, err := auth.SessionFromToken(token, h.cfg.SecretKey)
	if err != nil {
		return "", err
	}
	if explicit != "" && explicit != name {
		return "", fmt.Errorf("%w: session token does not match %s", common.ErrInvalidRequest, common.SessionNameParam)
	}
	return name, nil
}

func (h *Handler) querySession(r *http.Request) (string, error) {
	return h.sessionName(r, r.URL.Query().Get(common.SessionNameParam))
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: %v", common.ErrInvalidRequest, err)
	}
	return nil
}

type sessionRequest struct {
	SessionName string `json:"session_name"`
}

// body session name, falling back to the query string.
func (h *Handler) bodySession(r *http.Request, req sessionRequest) (string, error) {
	if req.SessionName == "" {
		return h.querySession(r)
	}
	return h.sessionName(r, req.SessionName)
}

type createSessionRequest struct {
	Name     string `json:"name"`
	Password string `json:"password"`
}

type createSessionResponse struct {
	SessionName  string `json:"session_name"`
	SessionToken string `json:"session_token"`
}

func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.Password == "" {
		h.writeError(w, r, fmt.Errorf("%w: password is empty", common.ErrInvalidRequest))
		return
	}

	sess, err := h.sessions.Create(r.Context(), req.Name, []byte(req.Password))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	token, err := auth.GenerateToken(sess.Name(), h.cfg.SecretKey, h.sessions.MaxSessionTime())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, createSessionResponse{SessionName: sess.Name(), SessionToken: token})
}

func (h *Handler) pathSession(r *http.Request) (string, error) {
	return h.sessionName(r, r.PathValue("name"))
}

func (h *Handler) handleRefreshSession(w http.ResponseWriter, r *http.Request) {
	name, err := h.pathSession(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.sessions.Refresh(name); err != nil {
		h.writeError(w, r, err)
		return
	}

	token, err := auth.GenerateToken(name, h.cfg.SecretKey, h.sessions.MaxSessionTime())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, createSessionResponse{SessionName: name, SessionToken: token})
}

type sessionValidResponse struct {
	Active bool   `json:"active"`
	Reason string `json:"reason,omitempty"`
}

func (h *Handler) handleSessionValid(w http.ResponseWriter, r *http.Request) {
	active, reason := h.sessions.IsActive(r.PathValue("name"))
	if !active {
		writeJSON(w, http.StatusNotFound, sessionValidResponse{Reason: reason})
		return
	}
	writeJSON(w, http.StatusOK, sessionValidResponse{Active: true})
}

func (h *Handler) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	name, err := h.pathSession(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.sessions.Delete(r.Context(), name); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "success"})
}

type statusResponse struct {
	Status string `json:"status"`
}

func (h *Handler) handleInitStore(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			h.writeError(w, r, err)
			return
		}
	}
	name, err := h.bodySession(r, req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.store.InitStore(r.Context(), name); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "success"})
}

func (h *Handler) handleListFiles(w http.ResponseWriter, r *http.Request) {
	name, err := h.querySession(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	files, err := h.store.ListFiles(r.Context(), name)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, files)
}

func (h *Handler) handleGetFile(w http.ResponseWriter, r *http.Request) {
	name, err := h.querySession(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	f, err := h.store.GetFile(r.Context(), name, r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

type patchFileRequest struct {
	sessionRequest
	metadata.FilePatch
}

func (h *Handler) handlePatchFile(w http.ResponseWriter, r *http.Request) {
	var req patchFileRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	name, err := h.bodySession(r, req.sessionRequest)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	f, err := h.store.PatchFile(r.Context(), name, r.PathValue("id"), req.FilePatch)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (h *Handler) handleListTags(w http.ResponseWriter, r *http.Request) {
	name, err := h.querySession(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	tags, err := h.store.ListTags(r.Context(), name)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tags)
}

type renameTagRequest struct {
	sessionRequest
	NewTag string `json:"new_tag"`
}

func (h *Handler) handleRenameTag(w http.ResponseWriter, r *http.Request) {
	var req renameTagRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	name, err := h.bodySession(r, req.sessionRequest)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	old := r.PathValue("name")
	if err := h.store.RenameTag(r.Context(), name, old, req.NewTag); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: fmt.Sprintf("successfully updated tag %s to %s", old, req.NewTag)})
}

func (h *Handler) handleDeleteTag(w http.ResponseWriter, r *http.Request) {
	name, err := h.querySession(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.store.DeleteTag(r.Context(), name, r.PathValue("name")); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "success"})
}

func (h *Handler) handleDownload(w http.ResponseWriter, r *http.Request) {
	name, err := h.querySession(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	d, err := h.store.Download(r.Context(), name, r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	f, err := os.Open(d.Path)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": d.Filename}))
	http.ServeContent(w, r, "", info.ModTime(), f)
}

func (h *Handler) handleFileStatus(w http.ResponseWriter, r *http.Request) {
	name, err := h.querySession(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	st, err := h.store.FileStatus(r.Context(), name, r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *Handler) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	name, err := h.querySession(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.store.DeleteFile(r.Context(), name, r.PathValue("id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "success"})
}

func (h *Handler) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("heartbeat"))
}

func parseInt(form map[string][]string, key string, def int64) (int64, error) {
	vals := form[key]
	if len(vals) == 0 || vals[0] == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(vals[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", common.ErrInvalidRequest, key, err)
	}
	return n, nil
}
