// Package anthropic implements core.RuntimeClient directly against the
// Anthropic Messages API. There is no external agent server: sessions are
// process-local conversation histories and each prompt is one API round-trip.
// Intended for development and for deployments without a runtime server. This
// backend never issues permission requests.
package anthropic

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/agentrelay/agentrelay/core"
	"github.com/agentrelay/agentrelay/logging"
)

// Options configures the Anthropic runtime backend.
type Options struct {
	Model        anthropic.Model
	Temperature  float64
	MaxTokens    int64
	APIKey       string
	SystemPrompt string
	EventBuffer  int
	Logger       logging.Logger
}

// Runtime is an in-process core.RuntimeClient backed by the Anthropic API.
type Runtime struct {
	client *anthropic.Client
	opts   Options
	events chan core.RuntimeEvent

	mu       sync.Mutex
	sessions map[string][]anthropic.MessageParam
	inflight map[string]context.CancelFunc
	closed   bool
}

var _ core.RuntimeClient = (*Runtime)(nil)

// New creates a runtime using the official client. The API key falls back to
// the SDK's environment lookup when unset.
func New(optFns ...func(o *Options)) *Runtime {
	opts := Options{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
		Temperature: 0.7,
		MaxTokens:   4096,
		EventBuffer: 64,
		Logger:      logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	client := anthropic.NewClient(clientOpts...)

	return NewFromClient(&client, func(o *Options) { *o = opts })
}

// NewFromClient creates a runtime from an existing client.
func NewFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Runtime {
	opts := Options{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
		Temperature: 0.7,
		MaxTokens:   4096,
		EventBuffer: 64,
		Logger:      logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Runtime{
		client:   client,
		opts:     opts,
		events:   make(chan core.RuntimeEvent, opts.EventBuffer),
		sessions: make(map[string][]anthropic.MessageParam),
		inflight: make(map[string]context.CancelFunc),
	}
}

// Connect implements core.RuntimeClient. There is no connection to establish.
func (r *Runtime) Connect(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return fmt.Errorf("anthropic runtime is closed")
	}
	return nil
}

// CreateSession implements core.RuntimeClient. The project directory has no
// server-side meaning here; it is folded into the system context so the model
// knows what it is nominally working on.
func (r *Runtime) CreateSession(_ context.Context, dir string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return "", fmt.Errorf("anthropic runtime is closed")
	}
	id := "anth-" + core.NewID()
	r.sessions[id] = nil
	r.opts.Logger.Debug("anthropic session created", "session_id", id, "dir", dir)
	return id, nil
}

// SendMessage implements core.RuntimeClient. The API round-trip happens in a
// goroutine; the full reply is emitted as one delta followed by idle, or a
// session.error (then idle) on failure.
func (r *Runtime) SendMessage(ctx context.Context, sessionID, text string) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return fmt.Errorf("anthropic runtime is closed")
	}
	if _, ok := r.sessions[sessionID]; !ok {
		r.mu.Unlock()
		return fmt.Errorf("unknown session %q", sessionID)
	}
	callCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r.inflight[sessionID] = cancel
	r.mu.Unlock()

	go func() {
		defer func() {
			cancel()
			r.mu.Lock()
			delete(r.inflight, sessionID)
			r.mu.Unlock()
		}()

		reply, err := r.complete(callCtx, sessionID, text)
		if err != nil {
			r.emit(core.RuntimeEvent{Kind: core.RuntimeSessionError, SessionID: sessionID, Error: err.Error()})
		} else {
			r.emit(core.RuntimeEvent{Kind: core.RuntimeMessageDelta, SessionID: sessionID, Text: reply})
		}
		r.emit(core.RuntimeEvent{Kind: core.RuntimeSessionIdle, SessionID: sessionID})
	}()
	return nil
}

// SendMessageSync implements core.RuntimeClient.
func (r *Runtime) SendMessageSync(ctx context.Context, sessionID, text string) (string, error) {
	r.mu.Lock()
	if _, ok := r.sessions[sessionID]; !ok {
		r.mu.Unlock()
		return "", fmt.Errorf("unknown session %q", sessionID)
	}
	r.mu.Unlock()
	return r.complete(ctx, sessionID, text)
}

// complete performs one Messages API call and records both turns in the
// session history.
func (r *Runtime) complete(ctx context.Context, sessionID, text string) (string, error) {
	r.mu.Lock()
	history := append([]anthropic.MessageParam(nil), r.sessions[sessionID]...)
	r.mu.Unlock()

	messages := append(history, anthropic.NewUserMessage(anthropic.NewTextBlock(text)))
	params := anthropic.MessageNewParams{
		Model:       r.opts.Model,
		Messages:    messages,
		MaxTokens:   r.opts.MaxTokens,
		Temperature: anthropic.Float(r.opts.Temperature),
	}
	if r.opts.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: r.opts.SystemPrompt}}
	}

	resp, err := r.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic api error: %w", err)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.AsText().Text)
		}
	}
	reply := sb.String()

	r.mu.Lock()
	r.sessions[sessionID] = append(r.sessions[sessionID],
		anthropic.NewUserMessage(anthropic.NewTextBlock(text)),
		anthropic.NewAssistantMessage(anthropic.NewTextBlock(reply)),
	)
	r.mu.Unlock()
	return reply, nil
}

// AbortSession implements core.RuntimeClient by cancelling the in-flight call.
func (r *Runtime) AbortSession(_ context.Context, sessionID string) error {
	r.mu.Lock()
	cancel, ok := r.inflight[sessionID]
	r.mu.Unlock()
	if ok {
		cancel()
	}
	return nil
}

// DeleteSession implements core.RuntimeClient.
func (r *Runtime) DeleteSession(_ context.Context, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sessionID)
	return nil
}

// ReplyToPermission implements core.RuntimeClient. This backend never issues
// permission requests, so there is nothing to reply to.
func (r *Runtime) ReplyToPermission(_ context.Context, _, _ string, _ core.PermissionDecision) error {
	return core.ErrNoPendingPermission
}

// Events implements core.RuntimeClient.
func (r *Runtime) Events() <-chan core.RuntimeEvent { return r.events }

// Close implements core.RuntimeClient. Safe to call multiple times.
func (r *Runtime) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	for _, cancel := range r.inflight {
		cancel()
	}
	close(r.events)
	return nil
}

func (r *Runtime) emit(ev core.RuntimeEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	select {
	case r.events <- ev:
	default:
		r.opts.Logger.Warn("anthropic event buffer full, event dropped", "kind", ev.Kind)
	}
}
