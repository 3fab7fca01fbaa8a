package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentrelay/agentrelay/core"
	"github.com/agentrelay/agentrelay/internal/testutil"
)

func TestManager_GetOrCreateReusesSession(t *testing.T) {
	factory := &testutil.FakeRuntimeFactory{}
	m := NewManager(factory.New)

	first, created := m.GetOrCreate("chat-1", false)
	assert.True(t, created)

	again, created := m.GetOrCreate("chat-1", false)
	assert.False(t, created)
	assert.Same(t, first, again)
	assert.Equal(t, 1, m.Len())
}

func TestManager_DistinctInactivityTimeouts(t *testing.T) {
	factory := &testutil.FakeRuntimeFactory{}
	m := NewManager(factory.New, func(o *ManagerOptions) {
		o.DirectInactivity = time.Hour
		o.ChannelInactivity = time.Minute
	})

	dm, _ := m.GetOrCreate("dm-1", true)
	ch, _ := m.GetOrCreate("chan-1", false)

	// The channel session times out first under the same idle gap.
	probe := time.Now().Add(30 * time.Minute)
	assert.False(t, dm.TimedOut(probe))
	assert.True(t, ch.TimedOut(probe))
}

func TestManager_SweepIdleEvictsTimedOut(t *testing.T) {
	factory := &testutil.FakeRuntimeFactory{}
	m := NewManager(factory.New, func(o *ManagerOptions) {
		o.ChannelInactivity = 10 * time.Millisecond
	})

	sess, _ := m.GetOrCreate("chat-1", false)
	require.NoError(t, sess.Start(context.Background()))

	time.Sleep(30 * time.Millisecond)
	removed := m.SweepIdle(context.Background())

	assert.Equal(t, 1, removed)
	assert.Equal(t, 0, m.Len())
	assert.Equal(t, core.SessionTerminated, sess.State())
}

func TestManager_SweepIdleKeepsFreshSessions(t *testing.T) {
	factory := &testutil.FakeRuntimeFactory{}
	m := NewManager(factory.New, func(o *ManagerOptions) {
		o.ChannelInactivity = time.Hour
	})

	sess, _ := m.GetOrCreate("chat-1", false)
	require.NoError(t, sess.Start(context.Background()))

	assert.Equal(t, 0, m.SweepIdle(context.Background()))
	assert.Equal(t, 1, m.Len())
	assert.Equal(t, core.SessionActive, sess.State())
}

func TestManager_ShutdownTerminatesAll(t *testing.T) {
	factory := &testutil.FakeRuntimeFactory{}
	m := NewManager(factory.New)

	a, _ := m.GetOrCreate("chat-a", false)
	b, _ := m.GetOrCreate("chat-b", true)
	require.NoError(t, a.Start(context.Background()))
	require.NoError(t, b.Start(context.Background()))

	m.Shutdown(context.Background())

	assert.Equal(t, 0, m.Len())
	assert.Equal(t, core.SessionTerminated, a.State())
	assert.Equal(t, core.SessionTerminated, b.State())
}
