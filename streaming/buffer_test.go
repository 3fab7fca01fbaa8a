package streaming

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	mu          sync.Mutex
	beginGate   chan struct{} // when set, Begin blocks until closed
	beginErr    error
	updateErr   error
	finalizeErr error
	sendNewErr  error

	begins    int
	updates   []string
	updatedAt []time.Time
	finals    []string
	fresh     []string
}

func (f *fakeTransport) Begin(context.Context) error {
	if f.beginGate != nil {
		<-f.beginGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.begins++
	return f.beginErr
}

func (f *fakeTransport) Update(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	f.updates = append(f.updates, text)
	f.updatedAt = append(f.updatedAt, time.Now())
	return nil
}

func (f *fakeTransport) Finalize(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.finalizeErr != nil {
		return f.finalizeErr
	}
	f.finals = append(f.finals, text)
	return nil
}

func (f *fakeTransport) SendNew(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendNewErr != nil {
		return f.sendNewErr
	}
	f.fresh = append(f.fresh, text)
	return nil
}

func (f *fakeTransport) snapshot() ([]string, []string, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.updates...), append([]string(nil), f.finals...), append([]string(nil), f.fresh...)
}

func TestBuffer_QueuesDeltasDuringInitialization(t *testing.T) {
	tr := &fakeTransport{beginGate: make(chan struct{})}
	b := New(tr, func(o *Options) { o.MinInterval = 10 * time.Millisecond })

	ctx := context.Background()
	b.Append(ctx, "one ")
	b.Append(ctx, "two ")
	b.Append(ctx, "three")

	// Nothing flushed while the surface is still being allocated.
	updates, _, _ := tr.snapshot()
	assert.Empty(t, updates)

	close(tr.beginGate)

	assert.Eventually(t, func() bool {
		updates, _, _ := tr.snapshot()
		return len(updates) == 1
	}, time.Second, 5*time.Millisecond)

	updates, _, _ = tr.snapshot()
	assert.Equal(t, "one two three", updates[0])
}

func TestBuffer_AtMostOneFlushPerInterval(t *testing.T) {
	tr := &fakeTransport{}
	interval := 40 * time.Millisecond
	b := New(tr, func(o *Options) { o.MinInterval = interval })

	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 20; i++ {
		b.Append(ctx, "x")
		time.Sleep(5 * time.Millisecond)
	}
	elapsed := time.Since(start)

	// Give the last deferred flush room to fire.
	time.Sleep(2 * interval)

	tr.mu.Lock()
	times := append([]time.Time(nil), tr.updatedAt...)
	tr.mu.Unlock()

	require.NotEmpty(t, times)
	maxFlushes := int(elapsed/interval) + 2
	assert.LessOrEqual(t, len(times), maxFlushes)
	for i := 1; i < len(times); i++ {
		gap := times[i].Sub(times[i-1])
		assert.GreaterOrEqual(t, gap, interval-10*time.Millisecond, "flushes %d and %d too close", i-1, i)
	}

	require.NoError(t, b.Finalize(ctx))
	_, finals, _ := tr.snapshot()
	require.Len(t, finals, 1)
	assert.Equal(t, strings.Repeat("x", 20), finals[0])
}

func TestBuffer_TruncatesDisplayKeepsFullText(t *testing.T) {
	tr := &fakeTransport{}
	b := New(tr, func(o *Options) {
		o.MinInterval = 5 * time.Millisecond
		o.MaxDisplay = 40
	})

	ctx := context.Background()
	long := strings.Repeat("abcdefghij", 10) // 100 bytes
	b.Append(ctx, long)

	assert.Eventually(t, func() bool {
		updates, _, _ := tr.snapshot()
		return len(updates) >= 1
	}, time.Second, 5*time.Millisecond)

	updates, _, _ := tr.snapshot()
	last := updates[len(updates)-1]
	assert.True(t, strings.HasSuffix(last, TruncationMarker))
	assert.LessOrEqual(t, len(last), 40)

	require.NoError(t, b.Finalize(ctx))
	_, finals, _ := tr.snapshot()
	require.Len(t, finals, 1)
	assert.Equal(t, long, finals[0], "terminal update must carry the untruncated text")
}

func TestBuffer_FinalizeFallsBackToFreshMessage(t *testing.T) {
	tr := &fakeTransport{finalizeErr: errors.New("rate limited")}
	b := New(tr, func(o *Options) { o.MinInterval = 5 * time.Millisecond })

	ctx := context.Background()
	b.Append(ctx, "hello")
	assert.Eventually(t, func() bool {
		updates, _, _ := tr.snapshot()
		return len(updates) >= 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, b.Finalize(ctx))
	_, finals, fresh := tr.snapshot()
	assert.Empty(t, finals)
	require.Len(t, fresh, 1)
	assert.Equal(t, "hello", fresh[0])
}

func TestBuffer_FinalizeWithoutSurfaceSendsFreshMessage(t *testing.T) {
	tr := &fakeTransport{beginErr: errors.New("surface unavailable")}
	b := New(tr, func(o *Options) { o.MinInterval = 5 * time.Millisecond })

	ctx := context.Background()
	b.Append(ctx, "orphan text")
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, b.Finalize(ctx))
	_, finals, fresh := tr.snapshot()
	assert.Empty(t, finals)
	require.Len(t, fresh, 1)
	assert.Equal(t, "orphan text", fresh[0])
}

func TestBuffer_DiscardDropsState(t *testing.T) {
	tr := &fakeTransport{}
	b := New(tr, func(o *Options) { o.MinInterval = 10 * time.Millisecond })

	ctx := context.Background()
	b.Append(ctx, "partial")
	b.Discard()

	time.Sleep(30 * time.Millisecond)
	require.NoError(t, b.Finalize(ctx)) // spent buffer: no-op
	_, finals, fresh := tr.snapshot()
	assert.Empty(t, finals)
	assert.Empty(t, fresh)
	assert.Empty(t, b.Text())
}

func TestBuffer_FinalizeEmptyDeliversNothing(t *testing.T) {
	tr := &fakeTransport{}
	b := New(tr)

	require.NoError(t, b.Finalize(context.Background()))
	updates, finals, fresh := tr.snapshot()
	assert.Empty(t, updates)
	assert.Empty(t, finals)
	assert.Empty(t, fresh)
}
