// Package sessions keeps the in-memory table of active sessions. Each
// session owns its password-derived encryption engine, its job table and
// the set of decrypted files it has materialized.
package sessions

import (
	"sort"
	"sync"
	"time"

	"github.com/dmitrijs2005/filevault/internal/cryptox"
	"github.com/dmitrijs2005/filevault/internal/server/jobs"
)

type Session struct {
	name     string
	engine   *cryptox.Engine
	verifier []byte
	jobs     *jobs.Table

	mu        sync.Mutex
	createdAt time.Time
	cache     map[string]struct{}

	// metaMu serializes load -> mutate -> save of the metadata document.
	metaMu sync.Mutex
}

func (s *Session) Name() string {
	return s.name
}

func (s *Session) Engine() *cryptox.Engine {
	return s.engine
}

func (s *Session) Jobs() *jobs.Table {
	return s.jobs
}

// MetadataLock guards the session's metadata document against concurrent writers.
func (s *Session) MetadataLock() sync.Locker {
	return &s.metaMu
}

func (s *Session) CreatedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createdAt
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.createdAt = now
	s.mu.Unlock()
}

// AddCached records a decrypted cache path owned by this session.
func (s *Session) AddCached(path string) {
	s.mu.Lock()
	s.cache[path] = struct{}{}
	s.mu.Unlock()
}

// RemoveCached forgets a cache path, e.g. after its file was replaced.
func (s *Session) RemoveCached(path string) {
	s.mu.Lock()
	delete(s.cache, path)
	s.mu.Unlock()
}

func (s *Session) IsCached(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.cache[path]
	return ok
}

// CachedPaths returns the recorded cache paths in sorted order.
func (s *Session) CachedPaths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	paths := make([]string, 0, len(s.cache))
	for p := range s.cache {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}
