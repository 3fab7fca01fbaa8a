// Package bridge wires chat platforms to the session layer. An Adapter is
// the narrow shim a platform integration implements; the Bridge routes
// inbound messages to sessions, renders session events back through
// rate-limited streaming buffers, records finished turns to history, and
// relays permission prompts. No platform wire formats live here.
package bridge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/agentrelay/agentrelay/core"
	"github.com/agentrelay/agentrelay/history"
	"github.com/agentrelay/agentrelay/logging"
	"github.com/agentrelay/agentrelay/metrics"
	"github.com/agentrelay/agentrelay/session"
	"github.com/agentrelay/agentrelay/streaming"
)

// Adapter is the surface a chat platform shim exposes to the bridge.
type Adapter interface {
	// NewTransport returns a streaming transport scoped to one in-flight
	// response in the given chat.
	NewTransport(chatID string) streaming.Transport
	// SendText posts a standalone message to the chat.
	SendText(ctx context.Context, chatID, text string) error
	// PromptPermission presents a permission request for the owner to resolve.
	PromptPermission(ctx context.Context, chatID string, perm core.Permission) error
}

// Options configures a Bridge.
type Options struct {
	// Store records finished turns. Defaults to an in-memory store.
	Store history.Store
	// StreamInterval is the minimum spacing between streamed edits.
	StreamInterval time.Duration
	// MaxDisplay caps streamed text length; 0 uses the streaming default.
	MaxDisplay int
	// Metrics instruments streaming flushes when set.
	Metrics *metrics.StreamingMetrics
	// Logger defaults to NoOpLogger when nil.
	Logger logging.Logger
}

// Bridge connects one chat adapter to the session manager.
type Bridge struct {
	manager  *session.Manager
	adapter  Adapter
	store    history.Store
	interval time.Duration
	maxShow  int
	metrics  *metrics.StreamingMetrics
	logger   logging.Logger

	mu      sync.Mutex
	buffers map[string]*streaming.Buffer
	wg      sync.WaitGroup
}

// New constructs a Bridge.
func New(manager *session.Manager, adapter Adapter, optFns ...func(o *Options)) *Bridge {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Store == nil {
		opts.Store = history.NewInMemoryStore()
	}
	return &Bridge{
		manager:  manager,
		adapter:  adapter,
		store:    opts.Store,
		interval: opts.StreamInterval,
		maxShow:  opts.MaxDisplay,
		metrics:  opts.Metrics,
		logger:   opts.Logger,
		buffers:  make(map[string]*streaming.Buffer),
	}
}

// HandleMessage routes one inbound chat message. A session is created and
// started lazily on the first message of a chat. The user turn is recorded
// before submission; a busy session surfaces core.ErrSessionBusy to the
// caller unchanged so the platform shim can phrase the refusal.
func (b *Bridge) HandleMessage(ctx context.Context, chatID string, direct bool, text string) error {
	sess, created := b.manager.GetOrCreate(chatID, direct)
	if created || sess.State() == core.SessionIdle {
		if err := sess.Start(ctx); err != nil {
			b.manager.Remove(chatID)
			return fmt.Errorf("start session: %w", err)
		}
		b.wg.Add(1)
		go b.consume(sess)
	}

	if err := b.store.Append(ctx, history.NewTurn(chatID, history.RoleUser, text)); err != nil {
		b.logger.Warn("record user turn failed", "chat_id", chatID, "error", err)
	}
	return sess.SendMessage(ctx, text)
}

// consume renders one session's event stream until it closes.
func (b *Bridge) consume(sess *session.Session) {
	defer b.wg.Done()
	chatID := sess.ChatID()
	ctx := context.Background()

	for ev := range sess.Events() {
		switch ev.Kind {
		case core.SessionEventStreaming:
			b.buffer(chatID).Append(ctx, ev.Text)

		case core.SessionEventOutput:
			b.finishResponse(ctx, chatID, ev.Text)

		case core.SessionEventPermission:
			if ev.Permission == nil {
				continue
			}
			if err := b.adapter.PromptPermission(ctx, chatID, *ev.Permission); err != nil {
				b.logger.Warn("permission prompt failed", "chat_id", chatID, "error", err)
			}

		case core.SessionEventError:
			b.discardBuffer(chatID)
			if err := b.adapter.SendText(ctx, chatID, "Agent error: "+ev.Error); err != nil {
				b.logger.Warn("error notice failed", "chat_id", chatID, "error", err)
			}

		case core.SessionEventStatusChange:
			b.logger.Debug("session status", "chat_id", chatID, "state", ev.State)

		case core.SessionEventTerminated:
			b.discardBuffer(chatID)
		}
	}
	b.logger.Debug("session event stream ended", "chat_id", chatID)
}

// finishResponse delivers the complete turn text and records it. The
// streaming buffer, when one exists, carries the delivery; otherwise the text
// goes out as a fresh message.
func (b *Bridge) finishResponse(ctx context.Context, chatID, text string) {
	b.mu.Lock()
	buf := b.buffers[chatID]
	delete(b.buffers, chatID)
	b.mu.Unlock()

	if buf != nil {
		if err := buf.Finalize(ctx); err != nil {
			b.logger.Warn("finalize response failed", "chat_id", chatID, "error", err)
		}
	} else if text != "" {
		if err := b.adapter.SendText(ctx, chatID, text); err != nil {
			b.logger.Warn("send response failed", "chat_id", chatID, "error", err)
		}
	}

	if text != "" {
		if err := b.store.Append(ctx, history.NewTurn(chatID, history.RoleAgent, text)); err != nil {
			b.logger.Warn("record agent turn failed", "chat_id", chatID, "error", err)
		}
	}
}

func (b *Bridge) buffer(chatID string) *streaming.Buffer {
	b.mu.Lock()
	defer b.mu.Unlock()
	buf, ok := b.buffers[chatID]
	if !ok {
		buf = streaming.New(b.adapter.NewTransport(chatID), func(o *streaming.Options) {
			if b.interval > 0 {
				o.MinInterval = b.interval
			}
			if b.maxShow > 0 {
				o.MaxDisplay = b.maxShow
			}
			o.Metrics = b.metrics
			o.Logger = b.logger
		})
		b.buffers[chatID] = buf
	}
	return buf
}

func (b *Bridge) discardBuffer(chatID string) {
	b.mu.Lock()
	buf := b.buffers[chatID]
	delete(b.buffers, chatID)
	b.mu.Unlock()
	if buf != nil {
		buf.Discard()
	}
}

// Interrupt aborts the chat's in-flight prompt, if any.
func (b *Bridge) Interrupt(ctx context.Context, chatID string) error {
	sess, ok := b.manager.Get(chatID)
	if !ok {
		return fmt.Errorf("chat %q: %w", chatID, core.ErrSessionNotStarted)
	}
	b.discardBuffer(chatID)
	return sess.Interrupt(ctx)
}

// SwitchProject moves the chat's session to a different project directory.
func (b *Bridge) SwitchProject(ctx context.Context, chatID, dir string) error {
	sess, ok := b.manager.Get(chatID)
	if !ok {
		return fmt.Errorf("chat %q: %w", chatID, core.ErrSessionNotStarted)
	}
	b.discardBuffer(chatID)
	return sess.SwitchProject(ctx, dir)
}

// ResolvePermission answers the chat's most recent pending permission.
func (b *Bridge) ResolvePermission(ctx context.Context, chatID string, decision core.PermissionDecision) error {
	sess, ok := b.manager.Get(chatID)
	if !ok {
		return fmt.Errorf("chat %q: %w", chatID, core.ErrSessionNotStarted)
	}
	return sess.ReplyToLatestPermission(ctx, decision)
}

// History returns the chat's most recent recorded turns.
func (b *Bridge) History(ctx context.Context, chatID string, n int) ([]history.Turn, error) {
	return b.store.Recent(ctx, chatID, n)
}

// Shutdown terminates all sessions and waits for their event streams to
// drain.
func (b *Bridge) Shutdown(ctx context.Context) {
	b.manager.Shutdown(ctx)
	b.wg.Wait()
}
