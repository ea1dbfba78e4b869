package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/filevault/internal/client/models"
	"github.com/dmitrijs2005/filevault/internal/common"
)

const (
	DefaultChunkSize    = 4 << 20
	DefaultPollInterval = 500 * time.Millisecond
)

type HTTPClient struct {
	baseURL      string
	http         *http.Client
	chunkSize    int64
	pollInterval time.Duration

	mu          sync.RWMutex
	sessionName string
	token       string
}

type Option func(*HTTPClient)

// WithHTTPClient replaces http.DefaultClient.
func WithHTTPClient(c *http.Client) Option {
	return func(h *HTTPClient) { h.http = c }
}

// WithChunkSize sets the upload chunk size in bytes.
func WithChunkSize(n int64) Option {
	return func(h *HTTPClient) {
		if n > 0 {
			h.chunkSize = n
		}
	}
}

// WithPollInterval sets the delay between download attempts while the
// server reports the file as locked.
func WithPollInterval(d time.Duration) Option {
	return func(h *HTTPClient) {
		if d > 0 {
			h.pollInterval = d
		}
	}
}

func NewHTTPClient(baseURL string, opts ...Option) *HTTPClient {
	c := &HTTPClient{
		baseURL:      strings.TrimRight(baseURL, "/"),
		http:         http.DefaultClient,
		chunkSize:    DefaultChunkSize,
		pollInterval: DefaultPollInterval,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *HTTPClient) session() (string, string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionName, c.token
}

func (c *HTTPClient) setSession(name, token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionName = name
	c.token = token
}

// UseSession targets an existing session without a token. Requests then
// carry only the session name until RefreshSession obtains a token.
func (c *HTTPClient) UseSession(name string) {
	c.setSession(name, "")
}

// newRequest builds a request against path, adding the session name to the
// query string and the bearer token when one is held.
func (c *HTTPClient) newRequest(ctx context.Context, method, path string, query url.Values, body io.Reader) (*http.Request, error) {
	name, token := c.session()
	if query == nil {
		query = url.Values{}
	}
	if name != "" {
		query.Set(common.SessionNameParam, name)
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, err
	}
	if token != "" {
		req.Header.Set(common.AuthorizationHeaderName, common.BearerPrefix+token)
	}
	return req, nil
}

func (c *HTTPClient) send(req *http.Request) (*http.Response, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()
	return nil, decodeError(resp)
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode, Name: http.StatusText(resp.StatusCode)}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var body APIError
	if json.Unmarshal(data, &body) == nil && body.Description != "" {
		apiErr.Description = body.Description
		if body.Name != "" {
			apiErr.Name = body.Name
		}
	}
	return apiErr
}

// doJSON sends in (when non-nil) as a JSON body and decodes the response into out (when non-nil).
func (c *HTTPClient) doJSON(ctx context.Context, method, path string, query url.Values, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := c.newRequest(ctx, method, path, query, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.send(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}

func (c *HTTPClient) requireSession() error {
	if name, _ := c.session(); name == "" {
		return ErrNoSession
	}
	return nil
}

func (c *HTTPClient) Ping(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodGet, "/heartbeat", nil, nil, nil)
}

type sessionResponse struct {
	SessionName  string `json:"session_name"`
	SessionToken string `json:"session_token"`
}

// CreateSession opens a session and keeps its token for later requests.
func (c *HTTPClient) CreateSession(ctx context.Context, name string, password []byte) error {
	in := struct {
		Name     string `json:"name"`
		Password string `json:"password"`
	}{Name: name, Password: string(password)}

	c.setSession("", "")
	var out sessionResponse
	if err := c.doJSON(ctx, http.MethodPost, "/session", nil, in, &out); err != nil {
		return err
	}
	c.setSession(out.SessionName, out.SessionToken)
	return nil
}

// RefreshSession restarts the current session's lifetime and replaces the token.
func (c *HTTPClient) RefreshSession(ctx context.Context) error {
	if err := c.requireSession(); err != nil {
		return err
	}
	name, _ := c.session()

	var out sessionResponse
	if err := c.doJSON(ctx, http.MethodPut, "/session/"+url.PathEscape(name)+"/refresh", nil, nil, &out); err != nil {
		return err
	}
	c.setSession(out.SessionName, out.SessionToken)
	return nil
}

// SessionValid reports whether the named session is live. An unknown or
// expired session is not an error.
func (c *HTTPClient) SessionValid(ctx context.Context, name string) (bool, error) {
	var out struct {
		Active bool `json:"active"`
	}
	err := c.doJSON(ctx, http.MethodGet, "/session/"+url.PathEscape(name)+"/valid", nil, nil, &out)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return out.Active, nil
}

func (c *HTTPClient) DeleteSession(ctx context.Context) error {
	if err := c.requireSession(); err != nil {
		return err
	}
	name, _ := c.session()
	if err := c.doJSON(ctx, http.MethodDelete, "/session/"+url.PathEscape(name), nil, nil, nil); err != nil {
		return err
	}
	c.setSession("", "")
	return nil
}

func (c *HTTPClient) InitStore(ctx context.Context) error {
	if err := c.requireSession(); err != nil {
		return err
	}
	return c.doJSON(ctx, http.MethodPost, "/store", nil, nil, nil)
}

// ListFiles returns the store's files ordered by display name.
func (c *HTTPClient) ListFiles(ctx context.Context) ([]*models.File, error) {
	if err := c.requireSession(); err != nil {
		return nil, err
	}
	var byID map[string]*models.File
	if err := c.doJSON(ctx, http.MethodGet, "/store/metadata/file", nil, nil, &byID); err != nil {
		return nil, err
	}

	files := make([]*models.File, 0, len(byID))
	for id, f := range byID {
		if f.ID == "" {
			f.ID = id
		}
		files = append(files, f)
	}
	sort.Slice(files, func(i, j int) bool {
		if a, b := files[i].DisplayName(), files[j].DisplayName(); a != b {
			return a < b
		}
		return files[i].ID < files[j].ID
	})
	return files, nil
}

func (c *HTTPClient) ListTags(ctx context.Context) ([]string, error) {
	if err := c.requireSession(); err != nil {
		return nil, err
	}
	var tags []string
	if err := c.doJSON(ctx, http.MethodGet, "/store/metadata/tag", nil, nil, &tags); err != nil {
		return nil, err
	}
	return tags, nil
}

type uploadResponse struct {
	Complete bool   `json:"complete"`
	FileID   string `json:"id"`
}

// UploadFile sends r in chunks of the configured size and returns the id
// of the new file. Exactly u.Size bytes are read from r.
func (c *HTTPClient) UploadFile(ctx context.Context, r io.Reader, u models.Upload) (string, error) {
	if err := c.requireSession(); err != nil {
		return "", err
	}
	if u.Size < 0 {
		return "", fmt.Errorf("invalid upload size %d", u.Size)
	}

	total := int((u.Size + c.chunkSize - 1) / c.chunkSize)
	if total == 0 {
		total = 1
	}
	uploadID := uuid.NewString()
	buf := make([]byte, c.chunkSize)

	var offset int64
	for i := 0; i < total; i++ {
		n := min(c.chunkSize, u.Size-offset)
		if _, err := io.ReadFull(r, buf[:n]); err != nil {
			return "", fmt.Errorf("read chunk %d: %w", i, err)
		}

		res, err := c.sendChunk(ctx, uploadID, i, total, offset, buf[:n], u)
		if err != nil {
			return "", fmt.Errorf("upload chunk %d/%d: %w", i+1, total, err)
		}
		offset += n

		if i == total-1 {
			if !res.Complete || res.FileID == "" {
				return "", fmt.Errorf("upload of %s was not completed by the server", u.Name)
			}
			return res.FileID, nil
		}
	}
	return "", nil
}

func (c *HTTPClient) sendChunk(ctx context.Context, uploadID string, index, total int, offset int64, data []byte, u models.Upload) (*uploadResponse, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fields := [][2]string{
		{"file_id", uploadID},
		{"chunk", strconv.Itoa(index)},
		{"total_chunks", strconv.Itoa(total)},
		{"chunk_offset", strconv.FormatInt(offset, 10)},
		{"file_size", strconv.FormatInt(u.Size, 10)},
		{"name", u.Name},
		{"filetype", u.Filetype},
	}
	if len(u.Tags) > 0 {
		fields = append(fields, [2]string{"tags", strings.Join(u.Tags, ",")})
	}
	if name, _ := c.session(); name != "" {
		fields = append(fields, [2]string{common.SessionNameParam, name})
	}
	for _, f := range fields {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return nil, err
		}
	}

	part, err := mw.CreateFormFile("file", u.Name)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(data); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/store/file", nil, &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.send(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode upload response: %w", err)
	}
	return &out, nil
}

// Download fetches decrypted content, retrying while the server reports
// the file as locked. The wait is bounded by ctx.
func (c *HTTPClient) Download(ctx context.Context, fileID string) (*models.Download, error) {
	if err := c.requireSession(); err != nil {
		return nil, err
	}

	for {
		d, err := c.download(ctx, fileID)
		if !errors.Is(err, ErrLocked) {
			return d, err
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for %s: %w", fileID, ctx.Err())
		case <-time.After(c.pollInterval):
		}
	}
}

func (c *HTTPClient) download(ctx context.Context, fileID string) (*models.Download, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/store/file/"+url.PathEscape(fileID), nil, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.send(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", fileID, err)
	}

	filename := fileID
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil && params["filename"] != "" {
		filename = params["filename"]
	}
	return &models.Download{Filename: filename, Data: data}, nil
}

func (c *HTTPClient) DeleteFile(ctx context.Context, fileID string) error {
	if err := c.requireSession(); err != nil {
		return err
	}
	return c.doJSON(ctx, http.MethodDelete, "/store/file/"+url.PathEscape(fileID), nil, nil, nil)
}
