// Package openai implements core.RuntimeClient directly against the OpenAI
// Chat Completions API. Like the anthropic backend it keeps per-session
// conversation histories in process and never issues permission requests.
package openai

import (
	"context"
	"fmt"
	"sync"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/agentrelay/agentrelay/core"
	"github.com/agentrelay/agentrelay/logging"
)

// Options configures the OpenAI runtime backend. Fields mirror a minimal
// subset of Chat Completion parameters; extend via functional options without
// breaking callers.
type Options struct {
	Model               string
	Temperature         float64
	MaxCompletionTokens int64
	APIKey              string
	SystemPrompt        string
	EventBuffer         int
	Logger              logging.Logger
}

// Runtime is an in-process core.RuntimeClient backed by the OpenAI API.
type Runtime struct {
	client *openai.Client
	opts   Options
	events chan core.RuntimeEvent

	mu       sync.Mutex
	sessions map[string][]openai.ChatCompletionMessageParamUnion
	inflight map[string]context.CancelFunc
	closed   bool
}

var _ core.RuntimeClient = (*Runtime)(nil)

// New creates a runtime using the official client. The API key falls back to
// the SDK's environment lookup when unset.
func New(optFns ...func(o *Options)) *Runtime {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	client := openai.NewClient(clientOpts...)
	return NewFromClient(&client, func(o *Options) { *o = opts })
}

// NewFromClient creates a runtime from an existing client.
func NewFromClient(client *openai.Client, optFns ...func(o *Options)) *Runtime {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Runtime{
		client:   client,
		opts:     opts,
		events:   make(chan core.RuntimeEvent, opts.EventBuffer),
		sessions: make(map[string][]openai.ChatCompletionMessageParamUnion),
		inflight: make(map[string]context.CancelFunc),
	}
}

func defaultOptions() Options {
	return Options{
		Model:               openai.ChatModelGPT4oMini,
		Temperature:         0.7,
		MaxCompletionTokens: 4096,
		EventBuffer:         64,
		Logger:              logging.NoOpLogger{},
	}
}

// Connect implements core.RuntimeClient. There is no connection to establish.
func (r *Runtime) Connect(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return fmt.Errorf("openai runtime is closed")
	}
	return nil
}

// CreateSession implements core.RuntimeClient.
func (r *Runtime) CreateSession(_ context.Context, dir string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return "", fmt.Errorf("openai runtime is closed")
	}
	id := "oai-" + core.NewID()
	r.sessions[id] = nil
	r.opts.Logger.Debug("openai session created", "session_id", id, "dir", dir)
	return id, nil
}

// SendMessage implements core.RuntimeClient. The reply is emitted as one
// delta followed by idle; failures surface as session.error then idle.
func (r *Runtime) SendMessage(ctx context.Context, sessionID, text string) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return fmt.Errorf("openai runtime is closed")
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

func (r *Runtime) complete(ctx context.Context, sessionID, text string) (string, error) {
	r.mu.Lock()
	history := append([]openai.ChatCompletionMessageParamUnion(nil), r.sessions[sessionID]...)
	r.mu.Unlock()

	var messages []openai.ChatCompletionMessageParamUnion
	if r.opts.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(r.opts.SystemPrompt))
	}
	messages = append(messages, history...)
	messages = append(messages, openai.UserMessage(text))

	resp, err := r.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:               r.opts.Model,
		Messages:            messages,
		Temperature:         openai.Float(r.opts.Temperature),
		MaxCompletionTokens: openai.Int(r.opts.MaxCompletionTokens),
	})
	if err != nil {
		return "", fmt.Errorf("openai api error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai api returned no choices")
	}
	reply := resp.Choices[0].Message.Content

	r.mu.Lock()
	r.sessions[sessionID] = append(r.sessions[sessionID],
		openai.UserMessage(text),
		openai.AssistantMessage(reply),
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
// permission requests.
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
		r.opts.Logger.Warn("openai event buffer full, event dropped", "kind", ev.Kind)
	}
}
