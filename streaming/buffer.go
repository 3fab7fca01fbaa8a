// Package streaming decouples "the runtime produced N more characters" from
// "the transport should be updated now". Chat transports are rate-limited, so
// the Buffer accumulates deltas and flushes a view of them at most once per
// minimum interval, truncating the transport-visible text when it grows past
// the display limit while always retaining the full text for the terminal
// update.
package streaming

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/time/rate"

	"github.com/agentrelay/agentrelay/logging"
	"github.com/agentrelay/agentrelay/metrics"
)

// Transport is the narrow surface a chat adapter exposes to the buffer.
// Begin allocates the display surface (e.g. a placeholder message), Update
// edits it in place, Finalize applies the terminal edit, and SendNew posts a
// fresh message as the fallback when the terminal edit cannot be applied.
type Transport interface {
	Begin(ctx context.Context) error
	Update(ctx context.Context, text string) error
	Finalize(ctx context.Context, text string) error
	SendNew(ctx context.Context, text string) error
}

// TruncationMarker is appended to the transport-visible text while more
// output is still arriving.
const TruncationMarker = "\n… (more to come)"

const (
	defaultMinInterval = time.Second
	defaultMaxDisplay  = 3800
)

// Options configures a Buffer.
type Options struct {
	// MinInterval is the minimum spacing between flushes.
	MinInterval time.Duration
	// MaxDisplay caps the transport-visible text length in bytes; 0 disables
	// truncation.
	MaxDisplay int
	// Logger defaults to NoOpLogger when nil.
	Logger logging.Logger
	// Metrics enables flush instrumentation when set.
	Metrics *metrics.StreamingMetrics
}

// Buffer accumulates incremental text for one in-flight response. It is
// transient: create one per response and drop it after Finalize or Discard.
// On the first delta the buffer enters an initializing phase (transport-side
// surface allocation is itself asynchronous and racy against delta arrival)
// and queues further deltas rather than dropping them. Once initialization
// completes, queued deltas are appended in order and a flush is scheduled.
type Buffer struct {
	transport Transport
	interval  time.Duration
	maxShow   int
	logger    logging.Logger
	metrics   *metrics.StreamingMetrics
	limiter   *rate.Limiter

	mu           sync.Mutex
	full         strings.Builder
	queued       []string
	initializing bool
	ready        bool
	pendingFlush bool
	timer        *time.Timer
	lastFlush    time.Time
	done         bool
}

// New constructs a Buffer bound to a transport.
func New(transport Transport, optFns ...func(o *Options)) *Buffer {
	opts := Options{MinInterval: defaultMinInterval, MaxDisplay: defaultMaxDisplay, Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Buffer{
		transport: transport,
		interval:  opts.MinInterval,
		maxShow:   opts.MaxDisplay,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		limiter:   rate.NewLimiter(rate.Every(opts.MinInterval), 1),
	}
}

// Append adds an incremental fragment. The first call triggers transport
// surface allocation; fragments arriving before it completes are queued in
// order, never dropped.
func (b *Buffer) Append(ctx context.Context, delta string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.done {
		return
	}
	if !b.ready {
		b.queued = append(b.queued, delta)
		if !b.initializing {
			b.initializing = true
			go b.initialize(ctx)
		}
		return
	}
	b.full.WriteString(delta)
	b.scheduleFlushLocked(ctx)
}

func (b *Buffer) initialize(ctx context.Context) {
	err := b.transport.Begin(ctx)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.done {
		return
	}
	if err != nil {
		// Keep accumulating; Finalize falls back to a fresh message.
		b.logger.Warn("transport surface allocation failed", "error", err)
	}
	b.initializing = false
	b.ready = err == nil
	for _, d := range b.queued {
		b.full.WriteString(d)
	}
	b.queued = nil
	if b.ready && b.full.Len() > 0 {
		b.scheduleFlushLocked(ctx)
	}
}

// scheduleFlushLocked defers the flush to the earliest instant the minimum
// interval allows. A due flush is never skipped, only delayed.
func (b *Buffer) scheduleFlushLocked(ctx context.Context) {
	if b.pendingFlush {
		return
	}
	b.pendingFlush = true
	delay := b.limiter.Reserve().Delay()
	b.timer = time.AfterFunc(delay, func() { b.flush(ctx) })
}

func (b *Buffer) flush(ctx context.Context) {
	b.mu.Lock()
	if b.done {
		b.mu.Unlock()
		return
	}
	b.pendingFlush = false
	b.lastFlush = time.Now()
	text, truncated := b.displayTextLocked()
	b.mu.Unlock()

	if err := b.transport.Update(ctx, text); err != nil {
		b.logger.Warn("streaming update failed", "error", err)
		return
	}
	b.metrics.ObserveFlush(truncated)
	b.logger.Debug("streaming flush", "chars", len(text), "truncated", truncated)
}

// displayTextLocked returns the transport-visible view: the accumulated text,
// truncated at a rune boundary with the marker once it exceeds MaxDisplay.
func (b *Buffer) displayTextLocked() (string, bool) {
	text := b.full.String()
	if b.maxShow <= 0 || len(text) <= b.maxShow {
		return text, false
	}
	cut := b.maxShow - len(TruncationMarker)
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut] + TruncationMarker, true
}

// Finalize cancels any pending timer and delivers the complete, untruncated
// text as one terminal update. When the terminal update cannot be applied
// (rate limit, missing surface) the text is sent as a fresh message instead.
// The buffer is spent afterwards.
func (b *Buffer) Finalize(ctx context.Context) error {
	b.mu.Lock()
	if b.done {
		b.mu.Unlock()
		return nil
	}
	b.done = true
	if b.timer != nil {
		b.timer.Stop()
	}
	for _, d := range b.queued {
		b.full.WriteString(d)
	}
	b.queued = nil
	text := b.full.String()
	ready := b.ready
	b.mu.Unlock()

	if text == "" {
		return nil
	}

	err := errors.New("no transport surface")
	if ready {
		err = b.transport.Finalize(ctx, text)
	}
	if err != nil {
		b.logger.Warn("terminal update failed, sending fresh message", "error", err)
		if sendErr := b.transport.SendNew(ctx, text); sendErr != nil {
			return fmt.Errorf("deliver final text: %w", sendErr)
		}
	}
	return nil
}

// Discard drops all buffer state without delivering anything. Used on session
// error or termination; the buffer must never outlive the response it
// describes.
func (b *Buffer) Discard() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.done {
		return
	}
	b.done = true
	if b.timer != nil {
		b.timer.Stop()
	}
	b.queued = nil
	b.full.Reset()
}

// Text returns the full accumulated text so far.
func (b *Buffer) Text() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	text := b.full.String()
	if len(b.queued) > 0 {
		text += strings.Join(b.queued, "")
	}
	return text
}
