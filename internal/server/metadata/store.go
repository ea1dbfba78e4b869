package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sync"

	"github.com/dmitrijs2005/filevault/internal/common"
	"github.com/dmitrijs2005/filevault/internal/cryptox"
	"github.com/dmitrijs2005/filevault/internal/filex"
	"github.com/dmitrijs2005/filevault/internal/logging"
	"github.com/dmitrijs2005/filevault/internal/server/layout"
)

// Tenant is the part of a session the store needs.
type Tenant interface {
	Name() string
	Engine() *cryptox.Engine
	MetadataLock() sync.Locker
}

const plaintextSuffix = ".unencrypted"

type Store struct {
	layout layout.Layout
	logger logging.Logger
}

func NewStore(l layout.Layout, logger logging.Logger) *Store {
	return &Store{
		layout: l,
		logger: logger.With("module", "metadata"),
	}
}

// Init creates the session directory and writes an empty document. It fails
// with common.ErrFileStoreExists when a document is already there.
func (s *Store) Init(ctx context.Context, t Tenant) error {
	lock := t.MetadataLock()
	lock.Lock()
	defer lock.Unlock()

	path := s.layout.MetadataPath(t.Name())
	exists, err := filex.Exists(path)
	if err != nil {
		return fmt.Errorf("stat metadata: %w", err)
	}
	if exists {
		return common.ErrFileStoreExists
	}

	if _, err := filex.EnsureDir(s.layout.SessionDir(t.Name())); err != nil {
		return fmt.Errorf("%w: %v", common.ErrFailedToWriteMetadata, err)
	}

	if err := s.save(t, NewDocument()); err != nil {
		return err
	}
	s.logger.Info(ctx, "file store initialized", "session", t.Name())
	return nil
}

// Load decrypts the session's document. A missing document yields
// common.ErrFileStoreDNE; a wrong key or corrupt data yields
// common.ErrInvalidPassword.
func (s *Store) Load(ctx context.Context, t Tenant) (*Document, error) {
	f, err := os.Open(s.layout.MetadataPath(t.Name()))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, common.ErrFileStoreDNE
	}
	if err != nil {
		return nil, fmt.Errorf("open metadata: %w", err)
	}
	defer f.Close()

	doc := NewDocument()
	if err := t.Engine().DecryptDocument(f, doc); err != nil {
		return nil, err
	}
	doc.normalize()
	return doc, nil
}

// Save persists doc. Callers that loaded doc themselves race with other
// writers of the same session; use Update to serialize.
func (s *Store) Save(ctx context.Context, t Tenant, doc *Document) error {
	lock := t.MetadataLock()
	lock.Lock()
	defer lock.Unlock()

	return s.save(t, doc)
}

// save writes the plaintext side-file, encrypts it over the metadata path
// and removes the side-file. The metadata path is only replaced once the
// ciphertext is complete.
func (s *Store) save(t Tenant, doc *Document) error {
	path := s.layout.MetadataPath(t.Name())
	plain := path + plaintextSuffix
	defer os.Remove(plain)

	err := filex.WriteAtomic(plain, func(w io.Writer) error {
		return json.NewEncoder(w).Encode(doc)
	})
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrFailedToWriteMetadata, err)
	}

	if err := t.Engine().EncryptFile(plain, path); err != nil {
		return fmt.Errorf("%w: %v", common.ErrFailedToWriteMetadata, err)
	}
	return nil
}

// Update loads the document, applies fn and saves the result while holding
// the session's metadata lock. Nothing is written when fn fails.
func (s *Store) Update(ctx context.Context, t Tenant, fn func(*Document) error) (*Document, error) {
	lock := t.MetadataLock()
	lock.Lock()
	defer lock.Unlock()

	doc, err := s.Load(ctx, t)
	if err != nil {
		return nil, err
	}
	if err := fn(doc); err != nil {
		return nil, err
	}
	if err := s.save(t, doc); err != nil {
		s.logger.Error(ctx, "metadata write failed", "session", t.Name(), "error", err)
		return nil, err
	}
	return doc, nil
}
