package sessions

import (
	"context"
	"crypto/subtle"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/dmitrijs2005/filevault/internal/common"
	"github.com/dmitrijs2005/filevault/internal/cryptox"
	"github.com/dmitrijs2005/filevault/internal/logging"
	"github.com/dmitrijs2005/filevault/internal/server/jobs"
	"github.com/dmitrijs2005/filevault/internal/server/layout"
)

// DefaultMaxSessionTime is how long a session lives without a refresh.
const DefaultMaxSessionTime = 10 * time.Minute

type Config struct {
	MaxSessionTime time.Duration
	SweepInterval  time.Duration
	// Salt is the per-installation key derivation salt.
	Salt      []byte
	KDFParams cryptox.Params
	// EngineOptions are passed to every session's cryptox.Engine.
	EngineOptions []cryptox.Option
	// Now defaults to time.Now.
	Now func() time.Time
	// OnPurge releases other per-session state, such as unfinished
	// uploads, when a session is deleted or swept.
	OnPurge func(ctx context.Context, name string) error
}

// Manager is the session registry. The table lock is held only for map
// access; key derivation and cache purging happen outside it.
type Manager struct {
	cfg    Config
	layout layout.Layout
	runner *jobs.Runner
	logger logging.Logger
	now    func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session

	stopOnce sync.Once
	stop     chan struct{}
	wg       sync.WaitGroup
}

func NewManager(cfg Config, l layout.Layout, runner *jobs.Runner, logger logging.Logger) *Manager {
	if cfg.MaxSessionTime <= 0 {
		cfg.MaxSessionTime = DefaultMaxSessionTime
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	if cfg.KDFParams == (cryptox.Params{}) {
		cfg.KDFParams = cryptox.DefaultParams
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Manager{
		cfg:      cfg,
		layout:   l,
		runner:   runner,
		logger:   logger.With("module", "sessions"),
		now:      cfg.Now,
		sessions: make(map[string]*Session),
		stop:     make(chan struct{}),
	}
}

// MaxSessionTime is the configured session lifetime.
func (m *Manager) MaxSessionTime() time.Duration {
	return m.cfg.MaxSessionTime
}

// Create registers a new session. It fails with common.ErrSessionExists
// when a live session with the same name and password is registered; a
// live session with the same name and another password is replaced.
func (m *Manager) Create(ctx context.Context, name string, password []byte) (*Session, error) {
	if err := layout.CheckSessionName(name); err != nil {
		return nil, err
	}

	key := cryptox.DeriveKey(password, m.cfg.Salt, m.cfg.KDFParams)
	defer common.WipeByteArray(key)

	engine, err := cryptox.NewEngine(key, m.cfg.EngineOptions...)
	if err != nil {
		return nil, fmt.Errorf("engine init: %w", err)
	}

	now := m.now()
	s := &Session{
		name:      name,
		engine:    engine,
		verifier:  cryptox.MakeVerifier(key),
		jobs:      jobs.NewTable(m.runner),
		createdAt: now,
		cache:     make(map[string]struct{}),
	}

	m.mu.Lock()
	if prev, ok := m.sessions[name]; ok && !m.expired(prev, now) &&
		subtle.ConstantTimeCompare(prev.verifier, s.verifier) == 1 {
		m.mu.Unlock()
		return nil, common.ErrSessionExists
	}
	_, replaced := m.sessions[name]
	m.sessions[name] = s
	m.mu.Unlock()

	m.logger.Info(ctx, "session created", "session", name, "replaced", replaced)
	return s, nil
}

// Get returns the session registered under name.
func (m *Manager) Get(name string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", common.ErrSessionNotInitialized, name)
	}
	return s, nil
}

// Active is Get for sessions that have not outlived MaxSessionTime. An
// expired session still waiting for the sweep yields common.ErrSessionExpired.
func (m *Manager) Active(name string) (*Session, error) {
	s, err := m.Get(name)
	if err != nil {
		return nil, err
	}
	if m.expired(s, m.now()) {
		return nil, fmt.Errorf("%w: %s", common.ErrSessionExpired, name)
	}
	return s, nil
}

// Refresh restarts the session's lifetime.
func (m *Manager) Refresh(name string) error {
	s, err := m.Get(name)
	if err != nil {
		return err
	}
	s.touch(m.now())
	return nil
}

// IsActive reports whether the session exists and has not outlived
// MaxSessionTime, with a reason when it is not active.
func (m *Manager) IsActive(name string) (bool, string) {
	s, err := m.Get(name)
	if err != nil {
		return false, fmt.Sprintf("Session %s not found", name)
	}
	if m.expired(s, m.now()) {
		return false, "Session timed out"
	}
	return true, ""
}

func (m *Manager) expired(s *Session, now time.Time) bool {
	return now.Sub(s.CreatedAt()) >= m.cfg.MaxSessionTime
}

// Delete removes the session now and purges its decrypted cache and
// unfinished uploads.
func (m *Manager) Delete(ctx context.Context, name string) error {
	m.mu.Lock()
	s, ok := m.sessions[name]
	delete(m.sessions, name)
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", common.ErrSessionNotInitialized, name)
	}
	m.purge(ctx, s)
	m.logger.Info(ctx, "session deleted", "session", name)
	return nil
}

// Sweep evicts every expired session and purges it like Delete.
// In-flight jobs of evicted sessions keep running. Returns the number of
// evicted sessions.
func (m *Manager) Sweep(ctx context.Context) int {
	now := m.now()

	m.mu.Lock()
	var expired []*Session
	for name, s := range m.sessions {
		if m.expired(s, now) {
			expired = append(expired, s)
			delete(m.sessions, name)
		}
	}
	m.mu.Unlock()

	for _, s := range expired {
		m.purge(ctx, s)
		m.logger.Info(ctx, "session expired", "session", s.Name())
	}
	return len(expired)
}

func (m *Manager) purge(ctx context.Context, s *Session) {
	name := s.Name()
	if n := len(s.Jobs().Pending()); n > 0 {
		m.logger.Info(ctx, "purging session with jobs in flight", "session", name, "pending", n)
	}
	if err := os.RemoveAll(m.layout.DecryptedDir(name)); err != nil {
		m.logger.Warn(ctx, "failed to purge decrypted cache", "session", name, "error", err)
	}
	if m.cfg.OnPurge != nil {
		if err := m.cfg.OnPurge(ctx, name); err != nil {
			m.logger.Warn(ctx, "failed to release session state", "session", name, "error", err)
		}
	}
}

// Start runs Sweep every SweepInterval until Close is called or ctx ends.
func (m *Manager) Start(ctx context.Context) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		ticker := time.NewTicker(m.cfg.SweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stop:
				return
			case <-ticker.C:
				if n := m.Sweep(ctx); n > 0 {
					m.logger.Info(ctx, "swept expired sessions", "count", n, "remaining", m.Len())
				}
			}
		}
	}()
}

// Close stops the sweep goroutine and waits for it.
func (m *Manager) Close() {
	m.stopOnce.Do(func() { close(m.stop) })
	m.wg.Wait()
}

// Len is the number of registered sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
