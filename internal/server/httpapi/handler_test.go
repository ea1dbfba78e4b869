package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/filevault/internal/cryptox"
	"github.com/dmitrijs2005/filevault/internal/logging"
	"github.com/dmitrijs2005/filevault/internal/server/blobs"
	"github.com/dmitrijs2005/filevault/internal/server/filestore"
	"github.com/dmitrijs2005/filevault/internal/server/jobs"
	"github.com/dmitrijs2005/filevault/internal/server/layout"
	"github.com/dmitrijs2005/filevault/internal/server/metadata"
	"github.com/dmitrijs2005/filevault/internal/server/sessions"
	"github.com/dmitrijs2005/filevault/internal/server/uploads"
)

var testSecret = []byte("test-secret")

func newTestServer(t *testing.T, cfg Config) *httptest.Server {
	t.Helper()
	base := t.TempDir()
	l := layout.New(base)

	bs, err := blobs.NewFSStore(base)
	require.NoError(t, err)

	runner := jobs.NewRunner(2, logging.Nop())
	sm := sessions.NewManager(sessions.Config{
		Salt:      []byte("salt"),
		KDFParams: cryptox.Params{Time: 1, Memory: 8, Threads: 1},
	}, l, runner, logging.Nop())
	svc := filestore.NewService(sm, metadata.NewStore(l, logging.Nop()), uploads.NewAssembler(l, cfg.MaxChunkSize, logging.Nop()), bs, l, logging.Nop())

	if cfg.SecretKey == nil {
		cfg.SecretKey = testSecret
	}
	h := NewHandler(cfg, sm, svc, logging.Nop())
	srv := httptest.NewServer(AccessLog(logging.Nop())(h))

	t.Cleanup(func() {
		srv.Close()
		sm.Close()
		_ = runner.Shutdown(context.Background())
	})
	return srv
}

type apiResponse struct {
	status int
	header http.Header
	body   []byte
}

func (r apiResponse) decode(t *testing.T, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(r.body, v), string(r.body))
}

func do(t *testing.T, srv *httptest.Server, method, path string, body any, headers ...string) apiResponse {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, srv.URL+path, rd)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	return send(t, srv, req)
}

func send(t *testing.T, srv *httptest.Server, req *http.Request) apiResponse {
	t.Helper()
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return apiResponse{status: resp.StatusCode, header: resp.Header, body: data}
}

func uploadChunk(t *testing.T, srv *httptest.Server, fields map[string]string, data []byte) apiResponse {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if data != nil {
		fw, err := mw.CreateFormFile("file", "blob")
		require.NoError(t, err)
		_, err = fw.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/store/file", &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return send(t, srv, req)
}

func createSession(t *testing.T, srv *httptest.Server, name, password string) createSessionResponse {
	t.Helper()
	resp := do(t, srv, http.MethodPost, "/session", createSessionRequest{Name: name, Password: password})
	require.Equal(t, http.StatusCreated, resp.status, string(resp.body))
	var out createSessionResponse
	resp.decode(t, &out)
	return out
}

func initStore(t *testing.T, srv *httptest.Server, name string) {
	t.Helper()
	resp := do(t, srv, http.MethodPost, "/store", sessionRequest{SessionName: name})
	require.Equal(t, http.StatusOK, resp.status, string(resp.body))
}

func uploadWhole(t *testing.T, srv *httptest.Server, session, uploadID string, data []byte, chunks int, extra map[string]string) string {
	t.Helper()
	step := (len(data) + chunks - 1) / chunks
	var res uploadResponse
	for i := 0; i < chunks; i++ {
		lo, hi := i*step, min((i+1)*step, len(data))
		fields := map[string]string{
			"session_name": session,
			"file_id":      uploadID,
			"chunk":        strconv.Itoa(i),
			"chunk_offset": strconv.Itoa(lo),
			"total_chunks": strconv.Itoa(chunks),
			"file_size":    strconv.Itoa(len(data)),
		}
		for k, v := range extra {
			fields[k] = v
		}
		resp := uploadChunk(t, srv, fields, data[lo:hi])
		require.Equal(t, http.StatusOK, resp.status, string(resp.body))
		resp.decode(t, &res)
	}
	require.True(t, res.Complete)
	return res.FileID
}

func pollDownload(t *testing.T, srv *httptest.Server, session, id string) apiResponse {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp := do(t, srv, http.MethodGet, "/store/file/"+id+"?session_name="+session, nil)
		if resp.status != http.StatusLocked {
			return resp
		}
		require.True(t, time.Now().Before(deadline), "download still locked")
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHeartbeat(t *testing.T) {
	srv := newTestServer(t, Config{})
	resp := do(t, srv, http.MethodGet, "/heartbeat", nil)
	assert.Equal(t, http.StatusOK, resp.status)
	assert.Equal(t, "heartbeat", string(resp.body))
}

func TestEndToEnd_UploadAndDownload(t *testing.T) {
	srv := newTestServer(t, Config{})
	createSession(t, srv, "alice", "pw1")
	initStore(t, srv, "alice")

	data := []byte("0123456789")
	id := uploadWhole(t, srv, "alice", "upload-1", data, 2, map[string]string{"name": "digits", "filetype": "txt", "tags": "a,b"})

	resp := pollDownload(t, srv, "alice", id)
	require.Equal(t, http.StatusOK, resp.status, string(resp.body))
	assert.Equal(t, data, resp.body)

	_, params, err := mime.ParseMediaType(resp.header.Get("Content-Disposition"))
	require.NoError(t, err)
	assert.Equal(t, "digits.txt", params["filename"])

	var files map[string]metadata.FileEntry
	do(t, srv, http.MethodGet, "/store/metadata/file?session_name=alice", nil).decode(t, &files)
	require.Contains(t, files, id)
	assert.Equal(t, []string{"a", "b"}, files[id].Tags.Sorted())

	var st filestore.Status
	do(t, srv, http.MethodGet, "/store/file/"+id+"/status?session_name=alice", nil).decode(t, &st)
	assert.True(t, st.Cached)
	assert.Equal(t, jobs.StateDone, st.Decrypt)
}

func TestEndToEnd_DuplicateSession(t *testing.T) {
	srv := newTestServer(t, Config{})
	createSession(t, srv, "alice", "pw1")

	resp := do(t, srv, http.MethodPost, "/session", createSessionRequest{Name: "alice", Password: "pw1"})
	assert.Equal(t, http.StatusConflict, resp.status)
	var e ErrorResponse
	resp.decode(t, &e)
	assert.Equal(t, http.StatusConflict, e.Code)
	assert.Equal(t, "Conflict", e.Name)

	resp = do(t, srv, http.MethodPost, "/session", createSessionRequest{Name: "alice", Password: "pw2"})
	assert.Equal(t, http.StatusCreated, resp.status)
}

func TestEndToEnd_SizeMismatch(t *testing.T) {
	srv := newTestServer(t, Config{})
	createSession(t, srv, "alice", "pw1")
	initStore(t, srv, "alice")

	base := map[string]string{"session_name": "alice", "file_id": "up", "total_chunks": "2", "file_size": "10", "name": "n", "filetype": "bin"}
	first := map[string]string{"chunk": "0", "chunk_offset": "0"}
	last := map[string]string{"chunk": "1", "chunk_offset": "4"}
	for k, v := range base {
		first[k], last[k] = v, v
	}

	resp := uploadChunk(t, srv, first, []byte("1234"))
	require.Equal(t, http.StatusOK, resp.status)
	resp = uploadChunk(t, srv, last, []byte("5678"))
	assert.Equal(t, http.StatusInternalServerError, resp.status)
	assert.Contains(t, string(resp.body), "size mismatch")

	var files map[string]metadata.FileEntry
	do(t, srv, http.MethodGet, "/store/metadata/file?session_name=alice", nil).decode(t, &files)
	assert.Empty(t, files)
}

func TestSessionEndpoints(t *testing.T) {
	srv := newTestServer(t, Config{})

	var v sessionValidResponse
	resp := do(t, srv, http.MethodGet, "/session/alice/valid", nil)
	assert.Equal(t, http.StatusNotFound, resp.status)
	resp.decode(t, &v)
	assert.False(t, v.Active)
	assert.Contains(t, v.Reason, "not found")

	assert.Equal(t, http.StatusBadRequest, do(t, srv, http.MethodPut, "/session/alice/refresh", nil).status)
	assert.Equal(t, http.StatusBadRequest, do(t, srv, http.MethodPost, "/session", createSessionRequest{Name: "a b", Password: "x"}).status)
	assert.Equal(t, http.StatusBadRequest, do(t, srv, http.MethodPost, "/session", createSessionRequest{Name: "alice"}).status)

	createSession(t, srv, "alice", "pw1")
	resp = do(t, srv, http.MethodGet, "/session/alice/valid", nil)
	assert.Equal(t, http.StatusOK, resp.status)
	resp.decode(t, &v)
	assert.True(t, v.Active)

	resp = do(t, srv, http.MethodPut, "/session/alice/refresh", nil)
	require.Equal(t, http.StatusOK, resp.status)
	var refreshed createSessionResponse
	resp.decode(t, &refreshed)
	assert.NotEmpty(t, refreshed.SessionToken)

	assert.Equal(t, http.StatusOK, do(t, srv, http.MethodDelete, "/session/alice", nil).status)
	assert.Equal(t, http.StatusNotFound, do(t, srv, http.MethodGet, "/session/alice/valid", nil).status)
	assert.Equal(t, http.StatusBadRequest, do(t, srv, http.MethodDelete, "/session/alice", nil).status)
}

func TestStoreEndpoints_Errors(t *testing.T) {
	srv := newTestServer(t, Config{})

	assert.Equal(t, http.StatusBadRequest, do(t, srv, http.MethodPost, "/store", sessionRequest{SessionName: "ghost"}).status)
	assert.Equal(t, http.StatusBadRequest, do(t, srv, http.MethodPost, "/store", sessionRequest{}).status)

	createSession(t, srv, "alice", "pw1")
	assert.Equal(t, http.StatusNotFound, do(t, srv, http.MethodGet, "/store/metadata/file?session_name=alice", nil).status)

	initStore(t, srv, "alice")
	assert.Equal(t, http.StatusConflict, do(t, srv, http.MethodPost, "/store", sessionRequest{SessionName: "alice"}).status)

	assert.Equal(t, http.StatusBadRequest, do(t, srv, http.MethodGet, "/store/metadata/file/nope?session_name=alice", nil).status)
	assert.Equal(t, http.StatusBadRequest, do(t, srv, http.MethodGet, "/store/file/nope?session_name=alice", nil).status)
	assert.Equal(t, http.StatusBadRequest, do(t, srv, http.MethodDelete, "/store/metadata/tag/nope?session_name=alice", nil).status)
	assert.Equal(t, http.StatusBadRequest, do(t, srv, http.MethodPut, "/store/metadata/tag/nope", renameTagRequest{sessionRequest{"alice"}, "x"}).status)

	resp := uploadChunk(t, srv, map[string]string{"session_name": "alice", "file_id": "up"}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.status)
	resp = uploadChunk(t, srv, map[string]string{"session_name": "alice", "file_id": "up", "chunk_offset": "-5"}, []byte("x"))
	assert.Equal(t, http.StatusBadRequest, resp.status)
	resp = uploadChunk(t, srv, map[string]string{"session_name": "alice", "metadata": "{"}, []byte("x"))
	assert.Equal(t, http.StatusBadRequest, resp.status)
}

func TestMetadataEndpoints(t *testing.T) {
	srv := newTestServer(t, Config{})
	createSession(t, srv, "alice", "pw1")
	initStore(t, srv, "alice")

	id := uploadWhole(t, srv, "alice", "up", []byte("abc"), 1, map[string]string{
		"metadata": `{"name":"notes","filetype":"txt","tags":["old","keep"]}`,
	})

	var entry metadata.FileEntry
	resp := do(t, srv, http.MethodPatch, "/store/metadata/file/"+id, map[string]any{"session_name": "alice", "name": "renamed"})
	require.Equal(t, http.StatusOK, resp.status, string(resp.body))
	resp.decode(t, &entry)
	assert.Equal(t, "renamed", entry.Name)
	assert.Equal(t, "txt", entry.Filetype)

	resp = do(t, srv, http.MethodPut, "/store/metadata/tag/old", renameTagRequest{sessionRequest{"alice"}, "new"})
	require.Equal(t, http.StatusOK, resp.status, string(resp.body))
	resp = do(t, srv, http.MethodDelete, "/store/metadata/tag/keep?session_name=alice", nil)
	require.Equal(t, http.StatusOK, resp.status)

	var tags []string
	do(t, srv, http.MethodGet, "/store/metadata/tag?session_name=alice", nil).decode(t, &tags)
	assert.Equal(t, []string{"new"}, tags)

	do(t, srv, http.MethodGet, "/store/metadata/file/"+id+"?session_name=alice", nil).decode(t, &entry)
	assert.Equal(t, []string{"new"}, entry.Tags.Sorted())

	require.Equal(t, http.StatusOK, pollDownload(t, srv, "alice", id).status)
	assert.Equal(t, http.StatusOK, do(t, srv, http.MethodDelete, "/store/file/"+id+"?session_name=alice", nil).status)
	assert.Equal(t, http.StatusBadRequest, do(t, srv, http.MethodGet, "/store/metadata/file/"+id+"?session_name=alice", nil).status)
}

func TestBearerToken(t *testing.T) {
	srv := newTestServer(t, Config{})
	alice := createSession(t, srv, "alice", "pw1")
	createSession(t, srv, "bob", "pw1")

	bearer := "Bearer " + alice.SessionToken
	resp := do(t, srv, http.MethodPost, "/store", nil, "Authorization", bearer)
	require.Equal(t, http.StatusOK, resp.status, string(resp.body))

	resp = do(t, srv, http.MethodGet, "/store/metadata/file", nil, "Authorization", bearer)
	assert.Equal(t, http.StatusOK, resp.status)

	resp = do(t, srv, http.MethodGet, "/store/metadata/file?session_name=bob", nil, "Authorization", bearer)
	assert.Equal(t, http.StatusBadRequest, resp.status)

	resp = do(t, srv, http.MethodGet, "/store/metadata/file", nil, "Authorization", "Bearer garbage")
	assert.Equal(t, http.StatusUnauthorized, resp.status)

	resp = do(t, srv, http.MethodGet, "/store/metadata/file", nil, "Authorization", "Basic abc")
	assert.Equal(t, http.StatusUnauthorized, resp.status)
}

func TestCreateSession_RateLimited(t *testing.T) {
	srv := newTestServer(t, Config{SessionRate: 0.001, SessionBurst: 1})

	createSession(t, srv, "alice", "pw1")
	resp := do(t, srv, http.MethodPost, "/session", createSessionRequest{Name: "bob", Password: "pw"})
	assert.Equal(t, http.StatusTooManyRequests, resp.status)
	assert.True(t, strings.Contains(string(resp.body), "rate limit"))
}

func TestUpload_ChunkTooLarge(t *testing.T) {
	srv := newTestServer(t, Config{MaxChunkSize: 4})
	createSession(t, srv, "alice", "pw1")
	initStore(t, srv, "alice")

	resp := uploadChunk(t, srv, map[string]string{"session_name": "alice", "file_id": "up"}, []byte("too large"))
	assert.Equal(t, http.StatusBadRequest, resp.status)
}
