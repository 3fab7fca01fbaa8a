package session

import (
	"context"
	"sync"
	"time"

	"github.com/agentrelay/agentrelay/logging"
)

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	// DefaultProjectDir is the working directory for newly created sessions.
	DefaultProjectDir string
	// DirectInactivity applies to direct-message conversations.
	DirectInactivity time.Duration
	// ChannelInactivity applies to channel conversations.
	ChannelInactivity time.Duration
	// SweepInterval paces the Run loop.
	SweepInterval time.Duration
	// Logger defaults to NoOpLogger when nil.
	Logger logging.Logger
}

// Manager keeps at most one interactive Session per chat and hosts the
// periodic sweep that terminates and evicts sessions whose inactivity timeout
// elapsed. The sweep and pool/engine activity are independent; the only
// mutual-exclusion assumption is the per-Session single-owner rule.
type Manager struct {
	factory RuntimeFactory
	opts    ManagerOptions
	logger  logging.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager constructs a Manager with optional overrides.
func NewManager(factory RuntimeFactory, optFns ...func(o *ManagerOptions)) *Manager {
	opts := ManagerOptions{
		DirectInactivity:  DefaultDirectInactivity,
		ChannelInactivity: DefaultChannelInactivity,
		SweepInterval:     time.Minute,
		Logger:            logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Manager{
		factory:  factory,
		opts:     opts,
		logger:   opts.Logger,
		sessions: make(map[string]*Session),
	}
}

// GetOrCreate returns the chat's session, creating an idle one when absent.
// The boolean reports whether a new session was created; new sessions are not
// started, so the caller can register as event consumer first.
func (m *Manager) GetOrCreate(chatID string, direct bool) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sess, ok := m.sessions[chatID]; ok {
		return sess, false
	}
	timeout := m.opts.ChannelInactivity
	if direct {
		timeout = m.opts.DirectInactivity
	}
	sess := New(chatID, m.factory, func(o *Options) {
		o.ProjectDir = m.opts.DefaultProjectDir
		o.Direct = direct
		o.InactivityTimeout = timeout
		o.Logger = m.logger
	})
	m.sessions[chatID] = sess
	return sess, true
}

// Get returns the chat's session if one exists.
func (m *Manager) Get(chatID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[chatID]
	return sess, ok
}

// Remove evicts the chat's session without terminating it. Callers that want
// teardown use Terminate first (or SweepIdle, which does both).
func (m *Manager) Remove(chatID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, chatID)
}

// Len returns the number of tracked sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// SweepIdle terminates and evicts every session whose inactivity timeout has
// elapsed, returning the number of sessions removed.
func (m *Manager) SweepIdle(ctx context.Context) int {
	now := time.Now()

	m.mu.RLock()
	var stale []*Session
	for _, sess := range m.sessions {
		if sess.TimedOut(now) {
			stale = append(stale, sess)
		}
	}
	m.mu.RUnlock()

	for _, sess := range stale {
		if err := sess.Terminate(ctx); err != nil {
			m.logger.Warn("sweep terminate failed", "chat_id", sess.ChatID(), "error", err)
		}
		m.Remove(sess.ChatID())
	}
	if len(stale) > 0 {
		m.logger.Info("swept idle sessions", "count", len(stale))
	}
	return len(stale)
}

// Run executes SweepIdle at the configured interval until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.opts.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.SweepIdle(ctx)
		}
	}
}

// Shutdown terminates every tracked session and clears the registry.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		sessions = append(sessions, sess)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, sess := range sessions {
		if err := sess.Terminate(ctx); err != nil {
			m.logger.Warn("shutdown terminate failed", "chat_id", sess.ChatID(), "error", err)
		}
	}
}
