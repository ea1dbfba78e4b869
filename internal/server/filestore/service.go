// Package filestore implements the per-session file store on top of the
// session table, the metadata document, the upload assembler and the
// background job runner.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/dmitrijs2005/filevault/internal/common"
	"github.com/dmitrijs2005/filevault/internal/logging"
	"github.com/dmitrijs2005/filevault/internal/server/blobs"
	"github.com/dmitrijs2005/filevault/internal/server/jobs"
	"github.com/dmitrijs2005/filevault/internal/server/layout"
	"github.com/dmitrijs2005/filevault/internal/server/metadata"
	"github.com/dmitrijs2005/filevault/internal/server/sessions"
	"github.com/dmitrijs2005/filevault/internal/server/uploads"
)

type Service struct {
	sessions *sessions.Manager
	meta     *metadata.Store
	uploads  *uploads.Assembler
	blobs    blobs.Store
	layout   layout.Layout
	logger   logging.Logger
}

func NewService(
	sm *sessions.Manager,
	meta *metadata.Store,
	up *uploads.Assembler,
	bs blobs.Store,
	l layout.Layout,
	logger logging.Logger,
) *Service {
	return &Service{
		sessions: sm,
		meta:     meta,
		uploads:  up,
		blobs:    bs,
		layout:   l,
		logger:   logger.With("module", "filestore"),
	}
}

func (s *Service) session(name string) (*sessions.Session, error) {
	if err := layout.CheckSessionName(name); err != nil {
		return nil, err
	}
	return s.sessions.Active(name)
}

// InitStore writes an empty metadata document for the session.
func (s *Service) InitStore(ctx context.Context, sessionName string) error {
	sess, err := s.session(sessionName)
	if err != nil {
		return err
	}
	return s.meta.Init(ctx, sess)
}

// ListFiles returns every file entry keyed by id.
func (s *Service) ListFiles(ctx context.Context, sessionName string) (map[string]*metadata.FileEntry, error) {
	sess, err := s.session(sessionName)
	if err != nil {
		return nil, err
	}
	doc, err := s.meta.Load(ctx, sess)
	if err != nil {
		return nil, err
	}
	return doc.Files, nil
}

func (s *Service) GetFile(ctx context.Context, sessionName, fileID string) (*metadata.FileEntry, error) {
	sess, err := s.session(sessionName)
	if err != nil {
		return nil, err
	}
	doc, err := s.meta.Load(ctx, sess)
	if err != nil {
		return nil, err
	}
	return doc.File(fileID)
}

// PatchFile updates the given fields of one entry. A changed filetype
// drops the decrypted copy stored under the old name.
func (s *Service) PatchFile(ctx context.Context, sessionName, fileID string, p metadata.FilePatch) (*metadata.FileEntry, error) {
	if p.Filetype != nil && !layout.ValidFiletype(*p.Filetype) {
		return nil, fmt.Errorf("%w: invalid filetype %q", common.ErrInvalidRequest, *p.Filetype)
	}
	sess, err := s.session(sessionName)
	if err != nil {
		return nil, err
	}

	var (
		patched  metadata.FileEntry
		oldCache string
	)
	_, err = s.meta.Update(ctx, sess, func(doc *metadata.Document) error {
		f, err := doc.File(fileID)
		if err != nil {
			return err
		}
		oldType := f.Filetype

		f, err = doc.PatchFile(fileID, p)
		if err != nil {
			return err
		}
		if f.Filetype != oldType {
			oldCache = s.layout.DecryptedPath(sess.Name(), fileID, oldType)
		}
		patched = *f
		return nil
	})
	if err != nil {
		return nil, err
	}

	if oldCache != "" {
		s.dropCached(ctx, sess, oldCache)
	}
	return &patched, nil
}

// ListTags returns the global tag set in sorted order.
func (s *Service) ListTags(ctx context.Context, sessionName string) ([]string, error) {
	sess, err := s.session(sessionName)
	if err != nil {
		return nil, err
	}
	doc, err := s.meta.Load(ctx, sess)
	if err != nil {
		return nil, err
	}
	return doc.Tags.Sorted(), nil
}

func (s *Service) RenameTag(ctx context.Context, sessionName, oldTag, newTag string) error {
	if newTag == "" {
		return fmt.Errorf("%w: new_tag is empty", common.ErrInvalidRequest)
	}
	sess, err := s.session(sessionName)
	if err != nil {
		return err
	}
	_, err = s.meta.Update(ctx, sess, func(doc *metadata.Document) error {
		return doc.RenameTag(oldTag, newTag)
	})
	return err
}

func (s *Service) DeleteTag(ctx context.Context, sessionName, tag string) error {
	sess, err := s.session(sessionName)
	if err != nil {
		return err
	}
	_, err = s.meta.Update(ctx, sess, func(doc *metadata.Document) error {
		return doc.DeleteTag(tag)
	})
	return err
}

// DeleteFile removes the entry, its encrypted content and any decrypted
// copy. It is refused while a job for the file is pending.
func (s *Service) DeleteFile(ctx context.Context, sessionName, fileID string) error {
	sess, err := s.session(sessionName)
	if err != nil {
		return err
	}

	var removed *metadata.FileEntry
	_, err = s.meta.Update(ctx, sess, func(doc *metadata.Document) error {
		if _, err := doc.File(fileID); err != nil {
			return err
		}
		if err := sess.Jobs().CheckLocked(fileID); err != nil {
			return err
		}
		var err error
		removed, err = doc.DeleteFile(fileID)
		return err
	})
	if err != nil {
		return err
	}

	if err := s.blobs.Delete(ctx, s.layout.ContentKey(sess.Name(), fileID)); err != nil {
		s.logger.Warn(ctx, "failed to delete content blob", "session", sess.Name(), "file_id", fileID, "error", err)
	}
	s.dropCached(ctx, sess, s.layout.DecryptedPath(sess.Name(), fileID, removed.Filetype))
	for _, dir := range []jobs.Direction{jobs.Encrypt, jobs.Decrypt} {
		if j := sess.Jobs().Get(dir, fileID); j != nil {
			sess.Jobs().Forget(j)
		}
	}

	s.logger.Info(ctx, "file deleted", "session", sess.Name(), "file_id", fileID)
	return nil
}

// Status is the job and cache state of one file.
type Status struct {
	Encrypt jobs.State `json:"encrypt"`
	Decrypt jobs.State `json:"decrypt"`
	Cached  bool       `json:"cached"`
}

func (s *Service) FileStatus(ctx context.Context, sessionName, fileID string) (*Status, error) {
	sess, err := s.session(sessionName)
	if err != nil {
		return nil, err
	}
	f, err := s.GetFile(ctx, sessionName, fileID)
	if err != nil {
		return nil, err
	}

	cached, err := s.cacheReady(s.layout.DecryptedPath(sess.Name(), fileID, f.Filetype))
	if err != nil {
		return nil, err
	}
	return &Status{
		Encrypt: sess.Jobs().State(jobs.Encrypt, fileID),
		Decrypt: sess.Jobs().State(jobs.Decrypt, fileID),
		Cached:  cached,
	}, nil
}

func (s *Service) cacheReady(path string) (bool, error) {
	info, err := os.Stat(path)
	if err == nil {
		return info.Mode().IsRegular(), nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

func (s *Service) dropCached(ctx context.Context, sess *sessions.Session, path string) {
	sess.RemoveCached(path)
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Warn(ctx, "failed to remove decrypted file", "session", sess.Name(), "path", path, "error", err)
	}
}
