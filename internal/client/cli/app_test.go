package cli

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/filevault/internal/client/client"
	"github.com/dmitrijs2005/filevault/internal/client/config"
	"github.com/dmitrijs2005/filevault/internal/client/models"
)

type fakeAPI struct {
	createErr  error
	calls      []string
	session    string
	password   string
	uploaded   models.Upload
	uploadData []byte
	files      []*models.File
	downloads  map[string]*models.Download
}

func (f *fakeAPI) Ping(ctx context.Context) error { return nil }
func (f *fakeAPI) CreateSession(ctx context.Context, name string, password []byte) error {
	f.calls = append(f.calls, "create")
	f.password = string(password)
	if f.createErr != nil {
		return f.createErr
	}
	f.session = name
	return nil
}
func (f *fakeAPI) UseSession(name string) {
	f.calls = append(f.calls, "use")
	f.session = name
}
func (f *fakeAPI) RefreshSession(ctx context.Context) error {
	f.calls = append(f.calls, "refresh")
	return nil
}
func (f *fakeAPI) SessionValid(ctx context.Context, name string) (bool, error) {
	return name == f.session, nil
}
func (f *fakeAPI) DeleteSession(ctx context.Context) error {
	f.calls = append(f.calls, "delete-session")
	f.session = ""
	return nil
}
func (f *fakeAPI) InitStore(ctx context.Context) error {
	f.calls = append(f.calls, "init")
	return nil
}
func (f *fakeAPI) ListFiles(ctx context.Context) ([]*models.File, error) { return f.files, nil }
func (f *fakeAPI) ListTags(ctx context.Context) ([]string, error) {
	return []string{"home", "work"}, nil
}
func (f *fakeAPI) UploadFile(ctx context.Context, r io.Reader, u models.Upload) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	f.uploaded, f.uploadData = u, data
	return "new-id", nil
}
func (f *fakeAPI) Download(ctx context.Context, fileID string) (*models.Download, error) {
	d, ok := f.downloads[fileID]
	if !ok {
		return nil, client.ErrNotFound
	}
	return d, nil
}
func (f *fakeAPI) DeleteFile(ctx context.Context, fileID string) error {
	f.calls = append(f.calls, "rm "+fileID)
	return nil
}

func stubPassword(t *testing.T, pw string) {
	t.Helper()
	old := readPassword
	readPassword = func(int) ([]byte, error) { return []byte(pw), nil }
	t.Cleanup(func() { readPassword = old })
}

func newTestApp(t *testing.T, api *fakeAPI, in string, args ...string) (*App, *bytes.Buffer) {
	t.Helper()
	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.SessionName = "alice"
	cfg.DownloadTimeout = time.Second
	cfg.Args = args

	var out bytes.Buffer
	return newApp(cfg, api, strings.NewReader(in), &out), &out
}

func TestLogin_PromptsForName(t *testing.T) {
	stubPassword(t, "pw")
	api := &fakeAPI{}
	app, out := newTestApp(t, api, "bob\n")
	app.config.SessionName = ""

	require.NoError(t, app.Login(context.Background()))
	assert.Equal(t, "bob", api.session)
	assert.Equal(t, "pw", api.password)
	assert.True(t, app.isLoggedIn())
	assert.Contains(t, out.String(), "Enter session name")
}

func TestLogin_ResumesLiveSession(t *testing.T) {
	stubPassword(t, "pw")
	api := &fakeAPI{createErr: &client.APIError{StatusCode: 409}}
	app, _ := newTestApp(t, api, "")

	require.NoError(t, app.Login(context.Background()))
	assert.Equal(t, []string{"create", "use", "refresh"}, api.calls)
	assert.Equal(t, "(alice)", app.status())
}

func TestLogin_Fails(t *testing.T) {
	stubPassword(t, "pw")
	api := &fakeAPI{createErr: errors.New("boom")}
	app, _ := newTestApp(t, api, "")

	err := app.Login(context.Background())
	require.Error(t, err)
	assert.False(t, app.isLoggedIn())
	assert.Equal(t, "(no session)", app.status())
}

func TestRun_OneShotPut(t *testing.T) {
	stubPassword(t, "pw")
	path := filepath.Join(t.TempDir(), "report.final.pdf")
	require.NoError(t, os.WriteFile(path, []byte("pdf bytes"), 0o600))

	api := &fakeAPI{}
	app, out := newTestApp(t, api, "", "put", path, "work,q3", "taxes")

	require.NoError(t, app.Run(context.Background()))
	assert.Equal(t, models.Upload{
		Name:     "report.final",
		Filetype: "pdf",
		Tags:     []string{"work", "q3", "taxes"},
		Size:     9,
	}, api.uploaded)
	assert.Equal(t, []byte("pdf bytes"), api.uploadData)
	assert.Contains(t, out.String(), "Uploaded report.final.pdf as new-id")
}

func TestRun_UnknownCommand(t *testing.T) {
	stubPassword(t, "pw")
	app, _ := newTestApp(t, &fakeAPI{}, "", "frobnicate")

	assert.ErrorIs(t, app.Run(context.Background()), errUnknownCommand)
}

func TestRun_Interactive(t *testing.T) {
	stubPassword(t, "pw")
	silence(t)
	api := &fakeAPI{}
	app, _ := newTestApp(t, api, "init\nrm f1\nlogout\n")

	require.NoError(t, app.Run(context.Background()))
	assert.Equal(t, []string{"create", "init", "rm f1", "delete-session"}, api.calls)
	assert.False(t, app.isLoggedIn())
}

func TestGet(t *testing.T) {
	api := &fakeAPI{downloads: map[string]*models.Download{
		"f1": {Filename: "notes.txt", Data: []byte("hello")},
		"f2": {Filename: "../escape.txt", Data: []byte("x")},
	}}
	app, out := newTestApp(t, api, "")
	dir := t.TempDir()
	ctx := context.Background()

	require.NoError(t, app.Get(ctx, []string{"f1", dir}))
	data, err := os.ReadFile(filepath.Join(dir, "notes.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	custom := filepath.Join(dir, "renamed.txt")
	require.NoError(t, app.Get(ctx, []string{"f1", custom}))
	data, err = os.ReadFile(custom)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	require.NoError(t, app.Get(ctx, []string{"f2", dir}))
	_, err = os.Stat(filepath.Join(dir, "escape.txt"))
	assert.NoError(t, err)

	assert.ErrorIs(t, app.Get(ctx, []string{"missing"}), client.ErrNotFound)
	assert.Error(t, app.Get(ctx, nil))
	assert.Contains(t, out.String(), "Saved")
}

func TestList(t *testing.T) {
	api := &fakeAPI{}
	app, out := newTestApp(t, api, "")
	ctx := context.Background()

	require.NoError(t, app.List(ctx))
	assert.Equal(t, "No files\n", out.String())

	out.Reset()
	api.files = []*models.File{
		{ID: "id-1", Name: "a", Filetype: "txt", Tags: []string{"x", "y"}},
		{ID: "id-2", Name: "b"},
	}
	require.NoError(t, app.List(ctx))

	sc := bufio.NewScanner(strings.NewReader(out.String()))
	var lines []string
	for sc.Scan() {
		lines = append(lines, strings.Fields(sc.Text())...)
		lines = append(lines, "|")
	}
	assert.Equal(t, []string{"ID", "NAME", "TAGS", "|", "id-1", "a.txt", "x,y", "|", "id-2", "b", "|"}, lines)
}

func TestTagsAndUsage(t *testing.T) {
	app, out := newTestApp(t, &fakeAPI{}, "")
	ctx := context.Background()

	require.NoError(t, app.Tags(ctx))
	assert.Equal(t, "home\nwork\n", out.String())

	assert.Error(t, app.Put(ctx, nil))
	assert.Error(t, app.Remove(ctx, nil))
	assert.Error(t, app.Put(ctx, []string{t.TempDir()}))
}

func TestSplitFilename(t *testing.T) {
	tests := []struct {
		in, name, filetype string
	}{
		{"a.txt", "a", "txt"},
		{"archive.tar.gz", "archive.tar", "gz"},
		{"README", "README", ""},
		{".bashrc", ".bashrc", ""},
	}
	for _, tt := range tests {
		name, ft := splitFilename(tt.in)
		if name != tt.name || ft != tt.filetype {
			t.Fatalf("splitFilename(%q) = %q, %q", tt.in, name, ft)
		}
	}
}
