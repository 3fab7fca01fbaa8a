// Package opencode implements core.RuntimeClient against an opencode-style
// agent server: REST for session CRUD, prompt submission, and permission
// replies, plus a WebSocket subscription carrying the live event stream.
//
// The connection lifetime equals the session lifetime. There is no reconnect
// logic: when a session switches projects the owning Session tears the client
// down and dials a fresh one.
package opencode

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/agentrelay/agentrelay/core"
	"github.com/agentrelay/agentrelay/logging"
)

const (
	defaultDialTimeout    = 10 * time.Second
	defaultRequestTimeout = 30 * time.Second
	defaultEventBuffer    = 256
	maxEventMessageSize   = 4 * 1024 * 1024
)

// Options configures a Client.
type Options struct {
	// HTTPClient defaults to one with a 30s request timeout.
	HTTPClient *http.Client
	// DialTimeout bounds the WebSocket handshake.
	DialTimeout time.Duration
	// EventBuffer sizes the translated event channel.
	EventBuffer int
	// Logger defaults to NoOpLogger when nil.
	Logger logging.Logger
}

// Client talks to one agent runtime server.
type Client struct {
	baseURL     *url.URL
	httpClient  *http.Client
	dialTimeout time.Duration
	logger      logging.Logger

	events chan core.RuntimeEvent

	mu        sync.Mutex
	conn      *websocket.Conn
	cancel    context.CancelFunc
	connected bool
	closed    bool
}

var _ core.RuntimeClient = (*Client)(nil)

// New constructs a Client for the server at baseURL (e.g. "http://127.0.0.1:4096").
func New(baseURL string, optFns ...func(o *Options)) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse runtime url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("runtime url %q: scheme must be http or https", baseURL)
	}

	opts := Options{
		DialTimeout: defaultDialTimeout,
		EventBuffer: defaultEventBuffer,
		Logger:      logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: defaultRequestTimeout}
	}

	return &Client{
		baseURL:     u,
		httpClient:  opts.HTTPClient,
		dialTimeout: opts.DialTimeout,
		logger:      opts.Logger,
		events:      make(chan core.RuntimeEvent, opts.EventBuffer),
	}, nil
}

// Connect dials the event WebSocket and starts the translation loop. The
// events channel is closed when the loop exits, whether from Close or a
// connection drop.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("runtime client is closed")
	}
	if c.connected {
		return fmt.Errorf("runtime client already connected")
	}

	wsURL := *c.baseURL
	if wsURL.Scheme == "https" {
		wsURL.Scheme = "wss"
	} else {
		wsURL.Scheme = "ws"
	}
	wsURL.Path = joinPath(wsURL.Path, "/event")

	dialer := websocket.Dialer{
		HandshakeTimeout: c.dialTimeout,
		TLSClientConfig:  &tls.Config{MinVersion: tls.VersionTLS12},
	}
	conn, resp, err := dialer.DialContext(ctx, wsURL.String(), nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("dial event stream: %w", err)
	}
	conn.SetReadLimit(maxEventMessageSize)

	loopCtx, cancel := context.WithCancel(context.Background())
	c.conn = conn
	c.cancel = cancel
	c.connected = true
	go c.readLoop(loopCtx, conn)

	c.logger.Debug("runtime event stream connected", "url", wsURL.String())
	return nil
}

// readLoop reads wire events until the connection drops, translating each
// into a core.RuntimeEvent. It owns the events channel close.
func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) {
	defer close(c.events)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && ctx.Err() == nil {
				c.logger.Warn("event stream read failed", "error", err)
			}
			return
		}
		ev, ok := translateEvent(data, c.logger)
		if !ok {
			continue
		}
		select {
		case c.events <- ev:
		case <-ctx.Done():
			return
		}
	}
}

// CreateSession implements core.RuntimeClient.
func (c *Client) CreateSession(ctx context.Context, dir string) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	body := map[string]string{"directory": dir}
	if err := c.doJSON(ctx, http.MethodPost, "/session", body, &out); err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	if out.ID == "" {
		return "", fmt.Errorf("create session: server returned no id")
	}
	return out.ID, nil
}

// SendMessage implements core.RuntimeClient. Completion arrives via the event
// stream as a session.idle event.
func (c *Client) SendMessage(ctx context.Context, sessionID, text string) error {
	body := promptBody(text)
	path := fmt.Sprintf("/session/%s/prompt", url.PathEscape(sessionID))
	if err := c.doJSON(ctx, http.MethodPost, path, body, nil); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

// SendMessageSync implements core.RuntimeClient. The server blocks the HTTP
// request until the turn completes and returns the assistant message parts.
func (c *Client) SendMessageSync(ctx context.Context, sessionID, text string) (string, error) {
	var out struct {
		Parts []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"parts"`
	}
	path := fmt.Sprintf("/session/%s/message", url.PathEscape(sessionID))
	if err := c.doJSON(ctx, http.MethodPost, path, promptBody(text), &out); err != nil {
		return "", fmt.Errorf("send message sync: %w", err)
	}
	var sb strings.Builder
	for _, part := range out.Parts {
		if part.Type == "text" {
			sb.WriteString(part.Text)
		}
	}
	return sb.String(), nil
}

// AbortSession implements core.RuntimeClient.
func (c *Client) AbortSession(ctx context.Context, sessionID string) error {
	path := fmt.Sprintf("/session/%s/abort", url.PathEscape(sessionID))
	if err := c.doJSON(ctx, http.MethodPost, path, nil, nil); err != nil {
		return fmt.Errorf("abort session: %w", err)
	}
	return nil
}

// DeleteSession implements core.RuntimeClient.
func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	path := fmt.Sprintf("/session/%s", url.PathEscape(sessionID))
	if err := c.doJSON(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// ReplyToPermission implements core.RuntimeClient.
func (c *Client) ReplyToPermission(ctx context.Context, sessionID, permissionID string, decision core.PermissionDecision) error {
	path := fmt.Sprintf("/session/%s/permissions/%s", url.PathEscape(sessionID), url.PathEscape(permissionID))
	body := map[string]string{"response": string(decision)}
	if err := c.doJSON(ctx, http.MethodPost, path, body, nil); err != nil {
		return fmt.Errorf("reply to permission: %w", err)
	}
	return nil
}

// Events implements core.RuntimeClient.
func (c *Client) Events() <-chan core.RuntimeEvent { return c.events }

// Close implements core.RuntimeClient. Safe to call multiple times.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	if !c.connected {
		// Never connected, so no read loop owns the channel.
		close(c.events)
		return nil
	}
	c.cancel()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.conn.SetWriteDeadline(time.Now().Add(time.Second))
	_ = c.conn.WriteMessage(websocket.CloseMessage, msg)
	return c.conn.Close()
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	u := *c.baseURL
	u.Path = joinPath(u.Path, path)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", core.ErrRuntimeFailure, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%w: %s %s: status %d: %s", core.ErrRuntimeFailure, method, path, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func promptBody(text string) map[string]any {
	return map[string]any{
		"parts": []map[string]string{{"type": "text", "text": text}},
	}
}

func joinPath(base, p string) string {
	return strings.TrimSuffix(base, "/") + p
}
