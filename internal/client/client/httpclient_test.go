package client

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/filevault/internal/client/models"
	"github.com/dmitrijs2005/filevault/internal/cryptox"
	"github.com/dmitrijs2005/filevault/internal/logging"
	"github.com/dmitrijs2005/filevault/internal/server/blobs"
	"github.com/dmitrijs2005/filevault/internal/server/filestore"
	"github.com/dmitrijs2005/filevault/internal/server/httpapi"
	"github.com/dmitrijs2005/filevault/internal/server/jobs"
	"github.com/dmitrijs2005/filevault/internal/server/layout"
	"github.com/dmitrijs2005/filevault/internal/server/metadata"
	"github.com/dmitrijs2005/filevault/internal/server/sessions"
	"github.com/dmitrijs2005/filevault/internal/server/uploads"
)

// newVaultServer runs the real HTTP API over a temp directory.
func newVaultServer(t *testing.T) *httptest.Server {
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
	svc := filestore.NewService(sm, metadata.NewStore(l, logging.Nop()), uploads.NewAssembler(l, 0, logging.Nop()), bs, l, logging.Nop())

	h := httpapi.NewHandler(httpapi.Config{SecretKey: []byte("secret")}, sm, svc, logging.Nop())
	srv := httptest.NewServer(h)
	t.Cleanup(func() {
		srv.Close()
		sm.Close()
		_ = runner.Shutdown(context.Background())
	})
	return srv
}

func newTestClient(t *testing.T, url string) *HTTPClient {
	return NewHTTPClient(url, WithChunkSize(4), WithPollInterval(10*time.Millisecond))
}

func TestHTTPClient_RoundTrip(t *testing.T) {
	srv := newVaultServer(t)
	c := newTestClient(t, srv.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, c.Ping(ctx))
	require.NoError(t, c.CreateSession(ctx, "alice", []byte("pw")))
	_, token := c.session()
	assert.NotEmpty(t, token)

	require.NoError(t, c.InitStore(ctx))
	assert.ErrorIs(t, c.InitStore(ctx), ErrConflict)

	content := []byte("the quick brown fox")
	id, err := c.UploadFile(ctx, bytes.NewReader(content), models.Upload{
		Name:     "fox",
		Filetype: "txt",
		Tags:     []string{"animals", "quotes"},
		Size:     int64(len(content)),
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	files, err := c.ListFiles(ctx)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, id, files[0].ID)
	assert.Equal(t, "fox.txt", files[0].DisplayName())
	assert.Equal(t, []string{"animals", "quotes"}, files[0].Tags)

	tags, err := c.ListTags(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"animals", "quotes"}, tags)

	d, err := c.Download(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "fox.txt", d.Filename)
	assert.Equal(t, content, d.Data)

	require.NoError(t, c.DeleteFile(ctx, id))
	files, err = c.ListFiles(ctx)
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestHTTPClient_EmptyFile(t *testing.T) {
	srv := newVaultServer(t)
	c := newTestClient(t, srv.URL)
	ctx := context.Background()

	require.NoError(t, c.CreateSession(ctx, "empty", []byte("pw")))
	require.NoError(t, c.InitStore(ctx))

	id, err := c.UploadFile(ctx, bytes.NewReader(nil), models.Upload{Name: "blank"})
	require.NoError(t, err)

	dctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	d, err := c.Download(dctx, id)
	require.NoError(t, err)
	assert.Equal(t, "blank", d.Filename)
	assert.Empty(t, d.Data)
}

func TestHTTPClient_Sessions(t *testing.T) {
	srv := newVaultServer(t)
	ctx := context.Background()

	c := newTestClient(t, srv.URL)
	require.NoError(t, c.CreateSession(ctx, "bob", []byte("pw")))

	ok, err := c.SessionValid(ctx, "bob")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.SessionValid(ctx, "nobody")
	require.NoError(t, err)
	assert.False(t, ok)

	// Same password on a live session conflicts; the session can be resumed by name.
	other := newTestClient(t, srv.URL)
	assert.ErrorIs(t, other.CreateSession(ctx, "bob", []byte("pw")), ErrConflict)
	other.UseSession("bob")
	require.NoError(t, other.RefreshSession(ctx))
	_, token := other.session()
	assert.NotEmpty(t, token)
	require.NoError(t, other.InitStore(ctx))

	require.NoError(t, c.DeleteSession(ctx))
	assert.ErrorIs(t, c.InitStore(ctx), ErrNoSession)

	ok, err = c.SessionValid(ctx, "bob")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHTTPClient_StoreMissing(t *testing.T) {
	srv := newVaultServer(t)
	c := newTestClient(t, srv.URL)
	ctx := context.Background()

	require.NoError(t, c.CreateSession(ctx, "carol", []byte("pw")))
	_, err := c.ListFiles(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.NotEmpty(t, apiErr.Description)
}

func TestHTTPClient_DownloadPollsWhileLocked(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusLocked)
			_, _ = w.Write([]byte(`{"code":423,"name":"Locked","description":"file is being decrypted"}`))
			return
		}
		w.Header().Set("Content-Disposition", `attachment; filename="notes.md"`)
		_, _ = w.Write([]byte("# notes"))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	c.UseSession("dave")

	d, err := c.Download(context.Background(), "f1")
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, "notes.md", d.Filename)
	assert.Equal(t, []byte("# notes"), d.Data)
}

func TestHTTPClient_DownloadGivesUpOnContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusLocked)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	c.UseSession("dave")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.Download(ctx, "f1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestHTTPClient_Unavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := newTestClient(t, url)
	assert.ErrorIs(t, c.Ping(context.Background()), ErrUnavailable)
}

func TestHTTPClient_RequiresSession(t *testing.T) {
	c := NewHTTPClient("http://127.0.0.1:1")
	ctx := context.Background()

	assert.ErrorIs(t, c.InitStore(ctx), ErrNoSession)
	_, err := c.ListFiles(ctx)
	assert.ErrorIs(t, err, ErrNoSession)
	_, err = c.UploadFile(ctx, bytes.NewReader(nil), models.Upload{Name: "x"})
	assert.ErrorIs(t, err, ErrNoSession)
	_, err = c.Download(ctx, "id")
	assert.ErrorIs(t, err, ErrNoSession)
	assert.ErrorIs(t, c.RefreshSession(ctx), ErrNoSession)
}

func TestAPIError_Unwrap(t *testing.T) {
	tests := []struct {
		code int
		want error
	}{
		{http.StatusUnauthorized, ErrUnauthorized},
		{http.StatusNotFound, ErrNotFound},
		{http.StatusConflict, ErrConflict},
		{http.StatusLocked, ErrLocked},
		{http.StatusServiceUnavailable, ErrUnavailable},
	}
	for _, tt := range tests {
		err := error(&APIError{StatusCode: tt.code})
		assert.ErrorIs(t, err, tt.want, "status %d", tt.code)
	}
	assert.Nil(t, (&APIError{StatusCode: http.StatusBadRequest}).Unwrap())
}
