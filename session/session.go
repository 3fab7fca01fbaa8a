package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/agentrelay/agentrelay/core"
	"github.com/agentrelay/agentrelay/logging"
)

// RuntimeFactory produces a fresh runtime client. A Session dials one
// connection per Start; SwitchProject tears the connection down and dials a
// new one rooted at the new working directory.
type RuntimeFactory func(ctx context.Context) (core.RuntimeClient, error)

const (
	// DefaultChannelInactivity is the inactivity timeout for channel
	// conversations.
	DefaultChannelInactivity = 30 * time.Minute
	// DefaultDirectInactivity is the longer inactivity timeout for
	// direct-message conversations.
	DefaultDirectInactivity = 2 * time.Hour

	defaultEventBuffer = 256
	emitTimeout        = 5 * time.Second
)

// Options configures a Session.
type Options struct {
	// ProjectDir is the working directory the remote session is rooted at.
	ProjectDir string
	// Direct marks a direct-message conversation; it selects the longer
	// default inactivity timeout.
	Direct bool
	// InactivityTimeout overrides the Direct/channel default when non-zero.
	InactivityTimeout time.Duration
	// EventBuffer sets the outbound event channel capacity.
	EventBuffer int
	// Logger defaults to NoOpLogger when nil.
	Logger logging.Logger
}

// Session is a stateful conversation handle bound to one agent runtime
// connection. State machine:
//
//	idle --Start--> active --SendMessage--> busy --(runtime idle)--> active
//	--Terminate--> terminated
//
// terminated is absorbing. A Session is owned by whoever created it; only one
// concurrent caller may drive state transitions. The outbound event channel
// has exactly one consumer, registered (via Events) before Start.
type Session struct {
	chatID  string
	factory RuntimeFactory
	logger  logging.Logger

	mu           sync.Mutex
	state        core.SessionState
	projectDir   string
	direct       bool
	inactivity   time.Duration
	client       core.RuntimeClient
	remoteID     string
	accumulated  strings.Builder
	pending      map[string]*core.Permission
	pendingOrder []string
	created      time.Time
	lastActivity time.Time
	suppressTerm bool
	consumerDone chan struct{}

	emitMu       sync.RWMutex
	eventsClosed bool
	events       chan core.SessionEvent
}

// New constructs an idle Session for the given chat. The runtime connection
// is not opened until Start.
func New(chatID string, factory RuntimeFactory, optFns ...func(o *Options)) *Session {
	opts := Options{EventBuffer: defaultEventBuffer, Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.InactivityTimeout == 0 {
		if opts.Direct {
			opts.InactivityTimeout = DefaultDirectInactivity
		} else {
			opts.InactivityTimeout = DefaultChannelInactivity
		}
	}

	now := time.Now()
	return &Session{
		chatID:       chatID,
		factory:      factory,
		logger:       opts.Logger,
		state:        core.SessionIdle,
		projectDir:   opts.ProjectDir,
		direct:       opts.Direct,
		inactivity:   opts.InactivityTimeout,
		pending:      make(map[string]*core.Permission),
		created:      now,
		lastActivity: now,
		events:       make(chan core.SessionEvent, opts.EventBuffer),
	}
}

// Events returns the outbound event stream. The channel is closed after the
// terminated event is delivered.
func (s *Session) Events() <-chan core.SessionEvent { return s.events }

// ChatID returns the owning chat identifier.
func (s *Session) ChatID() string { return s.chatID }

// State returns the current lifecycle state.
func (s *Session) State() core.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ProjectDir returns the current working directory context.
func (s *Session) ProjectDir() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.projectDir
}

// RemoteID returns the runtime's own session id, empty before Start.
func (s *Session) RemoteID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remoteID
}

// LastActivity returns the time of the most recent observed activity.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// TimedOut reports whether the session's inactivity timeout has elapsed at
// the given instant. Nothing acts on this internally; the Manager's sweep
// consults it and terminates stale sessions.
func (s *Session) TimedOut(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state != core.SessionTerminated && now.Sub(s.lastActivity) > s.inactivity
}

// PendingPermissions returns a copy of the outstanding permission requests in
// registration order.
func (s *Session) PendingPermissions() []core.Permission {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Permission, 0, len(s.pendingOrder))
	for _, id := range s.pendingOrder {
		out = append(out, *s.pending[id])
	}
	return out
}

// Start opens the runtime connection, creates the remote session and begins
// consuming the event stream. It fails unless the session is idle.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != core.SessionIdle {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("cannot start session in state %q", state)
	}
	s.mu.Unlock()

	client, err := s.factory(ctx)
	if err != nil {
		return fmt.Errorf("runtime factory: %w", err)
	}
	if err := client.Connect(ctx); err != nil {
		_ = client.Close()
		return fmt.Errorf("runtime connect: %w", err)
	}
	remoteID, err := client.CreateSession(ctx, s.ProjectDir())
	if err != nil {
		_ = client.Close()
		return fmt.Errorf("create remote session: %w", err)
	}

	s.mu.Lock()
	s.client = client
	s.remoteID = remoteID
	s.state = core.SessionActive
	s.lastActivity = time.Now()
	s.consumerDone = make(chan struct{})
	done := s.consumerDone
	s.mu.Unlock()

	go s.consume(client.Events(), done)

	s.logger.Debug("session started", "chat_id", s.chatID, "remote_id", remoteID)
	s.emit(core.SessionEvent{Kind: core.SessionEventStatusChange, State: core.SessionActive})
	return nil
}

// SendMessage clears any in-flight accumulated text, transitions to busy and
// submits the prompt asynchronously. Completion is signaled by the runtime's
// idle event, which delivers the accumulated output and returns the session
// to active.
func (s *Session) SendMessage(ctx context.Context, text string) error {
	s.mu.Lock()
	if err := s.sendableLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	client, remoteID := s.client, s.remoteID
	s.accumulated.Reset()
	s.state = core.SessionBusy
	s.lastActivity = time.Now()
	s.mu.Unlock()

	s.emit(core.SessionEvent{Kind: core.SessionEventStatusChange, State: core.SessionBusy})

	if err := client.SendMessage(ctx, remoteID, text); err != nil {
		s.mu.Lock()
		if s.state == core.SessionBusy {
			s.state = core.SessionActive
		}
		s.mu.Unlock()
		return fmt.Errorf("submit prompt: %w", err)
	}
	return nil
}

// SendMessageSync submits the prompt and blocks until the runtime returns the
// complete response. It must not be invoked concurrently with SendMessage on
// the same session.
func (s *Session) SendMessageSync(ctx context.Context, text string) (string, error) {
	s.mu.Lock()
	if err := s.sendableLocked(); err != nil {
		s.mu.Unlock()
		return "", err
	}
	client, remoteID := s.client, s.remoteID
	s.accumulated.Reset()
	s.state = core.SessionBusy
	s.lastActivity = time.Now()
	s.mu.Unlock()

	reply, err := client.SendMessageSync(ctx, remoteID, text)

	s.mu.Lock()
	if s.state == core.SessionBusy {
		s.state = core.SessionActive
	}
	s.lastActivity = time.Now()
	s.mu.Unlock()

	if err != nil {
		return "", fmt.Errorf("synchronous prompt: %w", err)
	}
	return reply, nil
}

func (s *Session) sendableLocked() error {
	switch {
	case s.state == core.SessionTerminated:
		return core.ErrSessionTerminated
	case s.client == nil:
		return core.ErrSessionNotStarted
	case s.state == core.SessionBusy:
		return core.ErrSessionBusy
	}
	return nil
}

// Interrupt asks the runtime to abort the current prompt. The session returns
// to active regardless of prior state. Best-effort: output already produced
// may still arrive.
func (s *Session) Interrupt(ctx context.Context) error {
	s.mu.Lock()
	if s.state == core.SessionTerminated {
		s.mu.Unlock()
		return core.ErrSessionTerminated
	}
	if s.client == nil {
		s.mu.Unlock()
		return core.ErrSessionNotStarted
	}
	client, remoteID := s.client, s.remoteID
	s.mu.Unlock()

	if err := client.AbortSession(ctx, remoteID); err != nil {
		s.logger.Warn("abort request failed", "chat_id", s.chatID, "error", err)
	}

	s.mu.Lock()
	if s.state != core.SessionTerminated {
		s.state = core.SessionActive
	}
	s.lastActivity = time.Now()
	s.mu.Unlock()

	s.emit(core.SessionEvent{Kind: core.SessionEventStatusChange, State: core.SessionActive})
	return nil
}

// ReplyToPermission forwards the owner's decision for a pending request and
// removes it from the pending set.
func (s *Session) ReplyToPermission(ctx context.Context, id string, decision core.PermissionDecision) error {
	s.mu.Lock()
	if s.state == core.SessionTerminated {
		s.mu.Unlock()
		return core.ErrSessionTerminated
	}
	if _, ok := s.pending[id]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("permission %q: %w", id, core.ErrNoPendingPermission)
	}
	delete(s.pending, id)
	for i, pid := range s.pendingOrder {
		if pid == id {
			s.pendingOrder = append(s.pendingOrder[:i], s.pendingOrder[i+1:]...)
			break
		}
	}
	client, remoteID := s.client, s.remoteID
	s.lastActivity = time.Now()
	s.mu.Unlock()

	if err := client.ReplyToPermission(ctx, remoteID, id, decision); err != nil {
		return fmt.Errorf("reply to permission %q: %w", id, err)
	}
	return nil
}

// ReplyToLatestPermission resolves the most recently registered pending
// request. It fails when none exist and does not alter session state.
func (s *Session) ReplyToLatestPermission(ctx context.Context, decision core.PermissionDecision) error {
	s.mu.Lock()
	if len(s.pendingOrder) == 0 {
		s.mu.Unlock()
		return core.ErrNoPendingPermission
	}
	id := s.pendingOrder[len(s.pendingOrder)-1]
	s.mu.Unlock()
	return s.ReplyToPermission(ctx, id, decision)
}

// SwitchProject terminates the current runtime connection, suppressing the
// terminal event since this is not an end-of-conversation event, and
// immediately restarts with the new working directory.
func (s *Session) SwitchProject(ctx context.Context, dir string) error {
	s.mu.Lock()
	if s.state == core.SessionTerminated {
		s.mu.Unlock()
		return core.ErrSessionTerminated
	}
	s.suppressTerm = true
	s.mu.Unlock()

	if err := s.Terminate(ctx); err != nil {
		s.mu.Lock()
		s.suppressTerm = false
		s.mu.Unlock()
		return fmt.Errorf("tear down for project switch: %w", err)
	}

	s.mu.Lock()
	s.suppressTerm = false
	s.state = core.SessionIdle
	s.projectDir = dir
	s.mu.Unlock()

	return s.Start(ctx)
}

// Terminate is idempotent. It deletes the remote session best-effort, closes
// the connection, clears pending permissions and transitions to terminated.
// Unless suppressed by an in-progress project switch it emits the terminal
// event and closes the outbound stream.
func (s *Session) Terminate(ctx context.Context) error {
	s.mu.Lock()
	if s.state == core.SessionTerminated {
		s.mu.Unlock()
		return nil
	}
	client, remoteID := s.client, s.remoteID
	done := s.consumerDone
	s.client = nil
	s.remoteID = ""
	s.pending = make(map[string]*core.Permission)
	s.pendingOrder = nil
	s.state = core.SessionTerminated
	suppress := s.suppressTerm
	s.mu.Unlock()

	if client != nil {
		if err := client.DeleteSession(ctx, remoteID); err != nil {
			s.logger.Warn("remote session delete failed", "chat_id", s.chatID, "error", err)
		}
		_ = client.Close()
	}
	if done != nil {
		<-done
	}

	if !suppress {
		s.emit(core.SessionEvent{Kind: core.SessionEventTerminated, State: core.SessionTerminated})
		s.closeEvents()
	}
	s.logger.Debug("session terminated", "chat_id", s.chatID, "suppressed", suppress)
	return nil
}

// consume drains the runtime event stream until the connection closes.
// Deltas append in arrival order; the idle event always logically follows the
// deltas it summarizes for that turn.
func (s *Session) consume(events <-chan core.RuntimeEvent, done chan struct{}) {
	defer close(done)
	for ev := range events {
		s.handleRuntimeEvent(ev)
	}
}

func (s *Session) handleRuntimeEvent(ev core.RuntimeEvent) {
	s.mu.Lock()
	remoteID := s.remoteID
	s.mu.Unlock()

	// The runtime stream may be a server-global bus carrying every session's
	// events; only events addressed to this session's remote id may mutate
	// its state. Events without a session id are trusted as session-local.
	if ev.SessionID != "" && ev.SessionID != remoteID {
		s.logger.Debug("ignoring event for other session", "chat_id", s.chatID, "session_id", ev.SessionID, "kind", ev.Kind)
		return
	}

	switch ev.Kind {
	case core.RuntimeMessageDelta:
		s.mu.Lock()
		s.accumulated.WriteString(ev.Text)
		s.lastActivity = time.Now()
		s.mu.Unlock()
		s.emit(core.SessionEvent{Kind: core.SessionEventStreaming, Text: ev.Text})

	case core.RuntimeMessageUpdated:
		// Authoritative full text for the in-progress message; supersedes
		// previously accumulated deltas.
		s.mu.Lock()
		s.accumulated.Reset()
		s.accumulated.WriteString(ev.Text)
		s.lastActivity = time.Now()
		s.mu.Unlock()

	case core.RuntimeSessionIdle:
		s.mu.Lock()
		if s.state == core.SessionBusy {
			s.state = core.SessionActive
		}
		text := s.accumulated.String()
		s.lastActivity = time.Now()
		s.mu.Unlock()
		s.emit(core.SessionEvent{Kind: core.SessionEventOutput, Text: text})
		s.emit(core.SessionEvent{Kind: core.SessionEventStatusChange, State: core.SessionActive})

	case core.RuntimeSessionStatus:
		s.mu.Lock()
		s.lastActivity = time.Now()
		s.mu.Unlock()
		s.logger.Debug("runtime status", "chat_id", s.chatID, "status", ev.Status)

	case core.RuntimePermissionUpdated:
		if ev.Permission == nil {
			return
		}
		p := *ev.Permission
		if p.Requested.IsZero() {
			p.Requested = time.Now()
		}
		s.mu.Lock()
		if _, dup := s.pending[p.ID]; !dup {
			s.pending[p.ID] = &p
			s.pendingOrder = append(s.pendingOrder, p.ID)
		}
		s.lastActivity = time.Now()
		s.mu.Unlock()
		s.emit(core.SessionEvent{Kind: core.SessionEventPermission, Permission: &p})

	case core.RuntimeSessionError:
		// Surfaced to the consumer; a runtime error does not by itself
		// terminate the session.
		s.mu.Lock()
		s.lastActivity = time.Now()
		s.mu.Unlock()
		s.emit(core.SessionEvent{Kind: core.SessionEventError, Error: ev.Error})
	}
}

func (s *Session) emit(ev core.SessionEvent) {
	ev.ChatID = s.chatID
	ev.Time = time.Now()

	s.emitMu.RLock()
	defer s.emitMu.RUnlock()
	if s.eventsClosed {
		return
	}
	select {
	case s.events <- ev:
	case <-time.After(emitTimeout):
		s.logger.Warn("session event buffer full, dropping event", "chat_id", s.chatID, "kind", ev.Kind)
	}
}

func (s *Session) closeEvents() {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	if !s.eventsClosed {
		s.eventsClosed = true
		close(s.events)
	}
}
