package filestore

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/dmitrijs2005/filevault/internal/common"
	"github.com/dmitrijs2005/filevault/internal/filex"
	"github.com/dmitrijs2005/filevault/internal/server/jobs"
	"github.com/dmitrijs2005/filevault/internal/server/layout"
	"github.com/dmitrijs2005/filevault/internal/server/metadata"
	"github.com/dmitrijs2005/filevault/internal/server/sessions"
	"github.com/dmitrijs2005/filevault/internal/server/uploads"
)

// Chunk is one part of a chunked upload.
type Chunk struct {
	// UploadID identifies the upload. When it names an existing file, the
	// completed upload replaces that file's content.
	UploadID string
	Index    int
	Total    int
	Offset   int64
	// FileSize is the declared total size or uploads.UnknownSize.
	FileSize int64

	Name     string
	Filetype string
	Tags     []string
	// TagsSet distinguishes "no tags" from "tags not sent" on replacement.
	TagsSet bool

	Body io.Reader
}

func (c *Chunk) validate() error {
	if c.Total < 1 || c.Index < 0 || c.Index >= c.Total {
		return fmt.Errorf("%w: chunk %d of %d", common.ErrInvalidRequest, c.Index, c.Total)
	}
	if c.FileSize < 0 && c.FileSize != uploads.UnknownSize {
		return fmt.Errorf("%w: negative file_size", common.ErrInvalidRequest)
	}
	if !layout.ValidFiletype(c.Filetype) {
		return fmt.Errorf("%w: invalid filetype %q", common.ErrInvalidRequest, c.Filetype)
	}
	if c.Body == nil {
		return common.ErrNoFile
	}
	return nil
}

func (c *Chunk) patch() metadata.FilePatch {
	var p metadata.FilePatch
	if c.Name != "" {
		p.Name = &c.Name
	}
	if c.Filetype != "" {
		p.Filetype = &c.Filetype
	}
	if c.TagsSet {
		p.Tags = &c.Tags
	}
	return p
}

// UploadResult reports whether the upload is complete and, if so, which
// file it produced or replaced.
type UploadResult struct {
	Complete bool   `json:"complete"`
	FileID   string `json:"id,omitempty"`
}

// UploadChunk stores one chunk. Chunks may arrive in any order; the one
// that brings in the last missing index completes the upload: the size is
// checked, an encrypt job is started and the metadata document is updated.
// Encryption runs in the background.
func (s *Service) UploadChunk(ctx context.Context, sessionName string, c Chunk) (*UploadResult, error) {
	if err := c.validate(); err != nil {
		return nil, err
	}
	sess, err := s.session(sessionName)
	if err != nil {
		return nil, err
	}

	exists, err := filex.Exists(s.layout.MetadataPath(sess.Name()))
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, common.ErrFileStoreDNE
	}

	if _, err := s.uploads.WriteChunk(ctx, sess.Name(), c.UploadID, c.Offset, c.Body); err != nil {
		return nil, err
	}
	done, err := s.uploads.MarkReceived(sess.Name(), c.UploadID, c.Index, c.Total)
	if err != nil {
		return nil, err
	}
	if !done {
		return &UploadResult{}, nil
	}

	fileID, err := s.complete(ctx, sess, &c)
	if err != nil {
		return nil, err
	}
	return &UploadResult{Complete: true, FileID: fileID}, nil
}

func (s *Service) complete(ctx context.Context, sess *sessions.Session, c *Chunk) (string, error) {
	var (
		fileID   string
		oldCache string
	)
	_, err := s.meta.Update(ctx, sess, func(doc *metadata.Document) error {
		existing := doc.Files[c.UploadID]
		if existing != nil {
			if err := sess.Jobs().CheckLocked(existing.ID); err != nil {
				return err
			}
		}

		staged, _, err := s.uploads.Finalize(ctx, sess.Name(), c.UploadID, c.FileSize)
		if err != nil {
			return err
		}

		if existing != nil {
			fileID = existing.ID
			oldCache = s.layout.DecryptedPath(sess.Name(), fileID, existing.Filetype)
			if _, err := doc.PatchFile(fileID, c.patch()); err != nil {
				return err
			}
			s.dropCached(ctx, sess, oldCache)
		} else {
			fileID = doc.AddFile(c.Name, c.Filetype, c.Tags)
		}

		s.startEncrypt(ctx, sess, fileID, staged)
		return nil
	})
	if err != nil {
		return "", err
	}

	s.logger.Info(ctx, "upload complete", "session", sess.Name(), "file_id", fileID, "replaced", oldCache != "")
	return fileID, nil
}

// startEncrypt encrypts the sealed staging file into the blob store in the
// background and removes it afterwards.
func (s *Service) startEncrypt(ctx context.Context, sess *sessions.Session, fileID, staged string) {
	name := sess.Name()
	engine := sess.Engine()
	key := s.layout.ContentKey(name, fileID)

	sess.Jobs().Start(jobs.Encrypt, fileID, func(ctx context.Context) error {
		defer os.Remove(staged)

		encrypted := staged + ".enc"
		defer os.Remove(encrypted)

		if err := engine.EncryptFile(staged, encrypted); err != nil {
			return fmt.Errorf("encrypt %s: %w", fileID, err)
		}

		f, err := os.Open(encrypted)
		if err != nil {
			return err
		}
		defer f.Close()

		if err := s.blobs.Put(ctx, key, f); err != nil {
			return fmt.Errorf("store %s: %w", key, err)
		}
		return nil
	})
	s.logger.Debug(ctx, "encrypt job started", "session", name, "file_id", fileID)
}
