// Package uploads reassembles chunked uploads into staging files.
package uploads

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/dmitrijs2005/filevault/internal/common"
	"github.com/dmitrijs2005/filevault/internal/logging"
	"github.com/dmitrijs2005/filevault/internal/server/layout"
)

// UnknownSize marks an upload whose total size was not declared.
const UnknownSize int64 = -1

const sealedSuffix = ".sealed"

// DefaultMaxChunkSize bounds a single chunk when no limit is configured.
const DefaultMaxChunkSize int64 = 64 << 20

type Assembler struct {
	layout       layout.Layout
	maxChunkSize int64
	logger       logging.Logger

	mu sync.Mutex
	// progress of open uploads keyed by staging path.
	progress map[string]*progress
}

type progress struct {
	total    int
	received map[int]struct{}
}

func NewAssembler(l layout.Layout, maxChunkSize int64, logger logging.Logger) *Assembler {
	if maxChunkSize <= 0 {
		maxChunkSize = DefaultMaxChunkSize
	}
	return &Assembler{
		layout:       l,
		maxChunkSize: maxChunkSize,
		logger:       logger.With("module", "uploads"),
		progress:     make(map[string]*progress),
	}
}

func (a *Assembler) path(session, uploadID string) (string, error) {
	if !layout.ValidName(uploadID) {
		return "", common.InvalidFileID(uploadID)
	}
	return a.layout.StagingPath(session, uploadID), nil
}

// WriteChunk writes r into the staging file of uploadID starting at offset.
// Chunks may arrive in any order; each carries its absolute offset.
func (a *Assembler) WriteChunk(ctx context.Context, session, uploadID string, offset int64, r io.Reader) (int64, error) {
	if offset < 0 {
		return 0, fmt.Errorf("%w: negative chunk offset %d", common.ErrInvalidRequest, offset)
	}
	path, err := a.path(session, uploadID)
	if err != nil {
		return 0, err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return 0, fmt.Errorf("%w: open staging file: %v", common.ErrFileUpload, err)
	}
	defer f.Close()

	n, err := io.Copy(io.NewOffsetWriter(f, offset), io.LimitReader(r, a.maxChunkSize+1))
	if err != nil {
		return n, fmt.Errorf("%w: write chunk: %v", common.ErrFileUpload, err)
	}
	if n > a.maxChunkSize {
		return n, fmt.Errorf("%w: chunk exceeds %d bytes", common.ErrInvalidRequest, a.maxChunkSize)
	}

	a.logger.Debug(ctx, "chunk written", "session", session, "upload", uploadID, "offset", offset, "bytes", n)
	return n, nil
}

// MarkReceived records that chunk index of total was written for uploadID
// and reports whether all total chunks have arrived. The record lives until
// the upload is finalized or discarded, so a repeated chunk is counted once.
func (a *Assembler) MarkReceived(session, uploadID string, index, total int) (bool, error) {
	if total < 1 || index < 0 || index >= total {
		return false, fmt.Errorf("%w: chunk %d of %d", common.ErrInvalidRequest, index, total)
	}
	path, err := a.path(session, uploadID)
	if err != nil {
		return false, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	p := a.progress[path]
	if p == nil {
		p = &progress{total: total, received: make(map[int]struct{})}
		a.progress[path] = p
	}
	if p.total != total {
		return false, fmt.Errorf("%w: upload %s has %d chunks, got total %d", common.ErrInvalidRequest, uploadID, p.total, total)
	}
	p.received[index] = struct{}{}
	return len(p.received) == p.total, nil
}

func (a *Assembler) forget(path string) {
	a.mu.Lock()
	delete(a.progress, path)
	a.mu.Unlock()
}

// Finalize checks the staging file of uploadID against expectedSize and
// seals it: the file is moved aside, so later chunks for the same upload id
// start a new staging file. It returns the sealed path and the size. On a
// mismatch the staging file is discarded and an error wrapping
// common.ErrFileUpload is returned.
func (a *Assembler) Finalize(ctx context.Context, session, uploadID string, expectedSize int64) (string, int64, error) {
	path, err := a.path(session, uploadID)
	if err != nil {
		return "", 0, err
	}

	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		a.forget(path)
		return "", 0, fmt.Errorf("%w: no data received for %s", common.ErrFileUpload, uploadID)
	}
	if err != nil {
		return "", 0, fmt.Errorf("%w: %v", common.ErrFileUpload, err)
	}

	if expectedSize != UnknownSize && info.Size() != expectedSize {
		_ = os.Remove(path)
		a.forget(path)
		a.logger.Warn(ctx, "upload size mismatch", "session", session, "upload", uploadID,
			"declared", expectedSize, "received", info.Size())
		return "", 0, common.SizeMismatch(expectedSize, info.Size())
	}
	suffix, err := common.MakeRandHexString(6)
	if err != nil {
		return "", 0, err
	}
	sealed := path + "." + suffix + sealedSuffix
	if err := os.Rename(path, sealed); err != nil {
		return "", 0, fmt.Errorf("%w: seal staging file: %v", common.ErrFileUpload, err)
	}
	a.forget(path)
	return sealed, info.Size(), nil
}

// Discard removes the staging file of uploadID if present.
func (a *Assembler) Discard(session, uploadID string) error {
	path, err := a.path(session, uploadID)
	if err != nil {
		return err
	}
	a.forget(path)
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// DiscardSession removes every unfinished staging file of session. Sealed
// files belong to running encrypt jobs and are left alone.
func (a *Assembler) DiscardSession(ctx context.Context, session string) error {
	paths, err := filepath.Glob(a.layout.StagingGlob(session))
	if err != nil {
		return err
	}

	var errs []error
	for _, p := range paths {
		uploadID, ok := a.layout.StagingUploadID(p)
		if !ok {
			continue
		}
		if err := a.Discard(session, uploadID); err != nil {
			errs = append(errs, err)
			continue
		}
		a.logger.Debug(ctx, "staging file discarded", "session", session, "upload", uploadID)
	}

	dir := a.layout.SessionDir(session)
	a.mu.Lock()
	for path := range a.progress {
		if filepath.Dir(path) == dir {
			delete(a.progress, path)
		}
	}
	a.mu.Unlock()
	return errors.Join(errs...)
}
