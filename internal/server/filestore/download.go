package filestore

import (
	"context"
	"fmt"
	"io"

	"github.com/dmitrijs2005/filevault/internal/common"
	"github.com/dmitrijs2005/filevault/internal/filex"
	"github.com/dmitrijs2005/filevault/internal/server/jobs"
	"github.com/dmitrijs2005/filevault/internal/server/sessions"
)

// Download is a decrypted file ready to be served.
type Download struct {
	Path     string
	Filename string
}

// Download returns the decrypted copy of fileID if it is cached. Otherwise
// it starts a decrypt job and fails with common.ErrFileIsBeingDecrypted;
// the caller polls until the copy is ready. A job that failed since the
// last call is reported once as common.ErrJobFailed.
//
// The metadata lock is held from the lookup until the decrypt job is
// registered, so a concurrent replacement either sees the pending decrypt
// or has already started its encrypt job.
func (s *Service) Download(ctx context.Context, sessionName, fileID string) (*Download, error) {
	sess, err := s.session(sessionName)
	if err != nil {
		return nil, err
	}

	lock := sess.MetadataLock()
	lock.Lock()
	defer lock.Unlock()

	doc, err := s.meta.Load(ctx, sess)
	if err != nil {
		return nil, err
	}
	f, err := doc.File(fileID)
	if err != nil {
		return nil, err
	}

	path := s.layout.DecryptedPath(sess.Name(), fileID, f.Filetype)
	ready, err := s.cacheReady(path)
	if err != nil {
		return nil, err
	}
	if ready {
		return &Download{Path: path, Filename: f.DisplayName()}, nil
	}

	if err := sess.Jobs().CheckLocked(fileID); err != nil {
		return nil, err
	}
	for _, dir := range []jobs.Direction{jobs.Encrypt, jobs.Decrypt} {
		if j := sess.Jobs().Get(dir, fileID); j != nil && j.State() == jobs.StateFailed {
			sess.Jobs().Forget(j)
			return nil, fmt.Errorf("%w: %s: %v", common.ErrJobFailed, dir, j.Err())
		}
	}

	if err := s.startDecrypt(ctx, sess, fileID, path); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("%w: decryption started", common.ErrFileIsBeingDecrypted)
}

func (s *Service) startDecrypt(ctx context.Context, sess *sessions.Session, fileID, out string) error {
	if _, err := filex.EnsureDir(s.layout.DecryptedDir(sess.Name())); err != nil {
		return err
	}

	name := sess.Name()
	engine := sess.Engine()
	key := s.layout.ContentKey(name, fileID)

	sess.AddCached(out)
	sess.Jobs().Start(jobs.Decrypt, fileID, func(ctx context.Context) error {
		src, err := s.blobs.Get(ctx, key)
		if err != nil {
			sess.RemoveCached(out)
			return fmt.Errorf("load %s: %w", key, err)
		}
		defer src.Close()

		err = filex.WriteAtomic(out, func(w io.Writer) error {
			return engine.DecryptStream(w, src)
		})
		if err != nil {
			sess.RemoveCached(out)
			return fmt.Errorf("decrypt %s: %w", fileID, err)
		}
		return nil
	})
	s.logger.Debug(ctx, "decrypt job started", "session", name, "file_id", fileID)
	return nil
}
