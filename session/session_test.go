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

const eventWait = 2 * time.Second

func newTestSession(t *testing.T, factory *testutil.FakeRuntimeFactory, optFns ...func(o *Options)) *Session {
	t.Helper()
	sess := New("chat-1", factory.New, optFns...)
	t.Cleanup(func() { _ = sess.Terminate(context.Background()) })
	return sess
}

func waitFor(kind core.SessionEventKind) func(core.SessionEvent) bool {
	return func(ev core.SessionEvent) bool { return ev.Kind == kind }
}

func TestSession_StartTransitionsToActive(t *testing.T) {
	factory := &testutil.FakeRuntimeFactory{}
	sess := newTestSession(t, factory)

	assert.Equal(t, core.SessionIdle, sess.State())
	require.NoError(t, sess.Start(context.Background()))
	assert.Equal(t, core.SessionActive, sess.State())
	assert.NotEmpty(t, sess.RemoteID())

	// A second Start must fail: active is not a startable state.
	err := sess.Start(context.Background())
	assert.Error(t, err)
}

func TestSession_SendMessageStreamsAndCompletes(t *testing.T) {
	factory := &testutil.FakeRuntimeFactory{}
	sess := newTestSession(t, factory)
	events := sess.Events()

	require.NoError(t, sess.Start(context.Background()))
	require.NoError(t, sess.SendMessage(context.Background(), "hi"))

	got := testutil.CollectEvents(events, waitFor(core.SessionEventOutput), eventWait)
	require.NotEmpty(t, got)

	var sawDelta bool
	var output string
	for _, ev := range got {
		switch ev.Kind {
		case core.SessionEventStreaming:
			sawDelta = true
			assert.Equal(t, "echo: hi", ev.Text)
		case core.SessionEventOutput:
			output = ev.Text
		}
	}
	assert.True(t, sawDelta)
	assert.Equal(t, "echo: hi", output)

	// Completion returns the session to active.
	assert.Eventually(t, func() bool { return sess.State() == core.SessionActive }, eventWait, 10*time.Millisecond)
}

func TestSession_SendMessageWhileBusy(t *testing.T) {
	factory := &testutil.FakeRuntimeFactory{Configure: func(rt *testutil.FakeRuntime) { rt.Hang = true }}
	sess := newTestSession(t, factory)

	require.NoError(t, sess.Start(context.Background()))
	require.NoError(t, sess.SendMessage(context.Background(), "first"))
	assert.Equal(t, core.SessionBusy, sess.State())

	err := sess.SendMessage(context.Background(), "second")
	assert.ErrorIs(t, err, core.ErrSessionBusy)
}

func TestSession_SendMessageWithoutStart(t *testing.T) {
	factory := &testutil.FakeRuntimeFactory{}
	sess := newTestSession(t, factory)

	err := sess.SendMessage(context.Background(), "hi")
	assert.ErrorIs(t, err, core.ErrSessionNotStarted)
}

func TestSession_SendMessageSync(t *testing.T) {
	factory := &testutil.FakeRuntimeFactory{Configure: func(rt *testutil.FakeRuntime) { rt.SyncReply = "pong" }}
	sess := newTestSession(t, factory)

	require.NoError(t, sess.Start(context.Background()))
	reply, err := sess.SendMessageSync(context.Background(), "ping")
	require.NoError(t, err)
	assert.Equal(t, "pong", reply)
	assert.Equal(t, core.SessionActive, sess.State())
}

func TestSession_PermissionFlow(t *testing.T) {
	factory := &testutil.FakeRuntimeFactory{}
	sess := newTestSession(t, factory)
	events := sess.Events()

	require.NoError(t, sess.Start(context.Background()))
	rt := factory.Last()
	require.NotNil(t, rt)

	rt.Emit(core.RuntimeEvent{
		Kind:       core.RuntimePermissionUpdated,
		SessionID:  sess.RemoteID(),
		Permission: &core.Permission{ID: "perm-1", Title: "Run tests?"},
	})

	got := testutil.CollectEvents(events, waitFor(core.SessionEventPermission), eventWait)
	require.NotEmpty(t, got)
	last := got[len(got)-1]
	require.NotNil(t, last.Permission)
	assert.Equal(t, "perm-1", last.Permission.ID)
	assert.Len(t, sess.PendingPermissions(), 1)

	require.NoError(t, sess.ReplyToLatestPermission(context.Background(), core.PermissionOnce))
	require.Len(t, rt.Replies, 1)
	assert.Equal(t, "perm-1", rt.Replies[0].PermissionID)
	assert.Equal(t, core.PermissionOnce, rt.Replies[0].Decision)
	assert.Empty(t, sess.PendingPermissions())
}

func TestSession_ReplyToLatestPermission_NoPending(t *testing.T) {
	factory := &testutil.FakeRuntimeFactory{}
	sess := newTestSession(t, factory)
	require.NoError(t, sess.Start(context.Background()))

	before := sess.State()
	err := sess.ReplyToLatestPermission(context.Background(), core.PermissionReject)
	assert.ErrorIs(t, err, core.ErrNoPendingPermission)
	assert.Equal(t, before, sess.State())
}

func TestSession_RuntimeErrorDoesNotTerminate(t *testing.T) {
	factory := &testutil.FakeRuntimeFactory{}
	sess := newTestSession(t, factory)
	events := sess.Events()

	require.NoError(t, sess.Start(context.Background()))
	factory.Last().Emit(core.RuntimeEvent{Kind: core.RuntimeSessionError, Error: "model overloaded"})

	got := testutil.CollectEvents(events, waitFor(core.SessionEventError), eventWait)
	require.NotEmpty(t, got)
	assert.Equal(t, "model overloaded", got[len(got)-1].Error)
	assert.Equal(t, core.SessionActive, sess.State())
}

func TestSession_SwitchProjectSuppressesTerminalEvent(t *testing.T) {
	factory := &testutil.FakeRuntimeFactory{}
	sess := newTestSession(t, factory)
	events := sess.Events()

	require.NoError(t, sess.Start(context.Background()))
	require.NoError(t, sess.SwitchProject(context.Background(), "/tmp/other"))

	assert.Equal(t, core.SessionActive, sess.State())
	assert.Equal(t, "/tmp/other", sess.ProjectDir())
	assert.Equal(t, 2, factory.CreatedCount())

	// Drain whatever arrived: a project switch never surfaces terminated.
	got := testutil.CollectEvents(events, nil, 200*time.Millisecond)
	for _, ev := range got {
		assert.NotEqual(t, core.SessionEventTerminated, ev.Kind)
	}

	// An explicit terminate afterwards does emit the terminal event.
	require.NoError(t, sess.Terminate(context.Background()))
	got = testutil.CollectEvents(events, waitFor(core.SessionEventTerminated), eventWait)
	require.NotEmpty(t, got)
	assert.Equal(t, core.SessionEventTerminated, got[len(got)-1].Kind)
}

func TestSession_TerminateIsIdempotent(t *testing.T) {
	factory := &testutil.FakeRuntimeFactory{}
	sess := newTestSession(t, factory)

	require.NoError(t, sess.Start(context.Background()))
	require.NoError(t, sess.Terminate(context.Background()))
	require.NoError(t, sess.Terminate(context.Background()))
	assert.Equal(t, core.SessionTerminated, sess.State())

	rt := factory.Last()
	require.Len(t, rt.Deleted, 1)

	err := sess.SendMessage(context.Background(), "hi")
	assert.ErrorIs(t, err, core.ErrSessionTerminated)
}

func TestSession_InterruptReturnsToActive(t *testing.T) {
	factory := &testutil.FakeRuntimeFactory{Configure: func(rt *testutil.FakeRuntime) { rt.Hang = true }}
	sess := newTestSession(t, factory)

	require.NoError(t, sess.Start(context.Background()))
	require.NoError(t, sess.SendMessage(context.Background(), "long task"))
	assert.Equal(t, core.SessionBusy, sess.State())

	require.NoError(t, sess.Interrupt(context.Background()))
	assert.Equal(t, core.SessionActive, sess.State())
	assert.Len(t, factory.Last().Aborted, 1)
}

func TestSession_TimedOut(t *testing.T) {
	factory := &testutil.FakeRuntimeFactory{}
	sess := newTestSession(t, factory, func(o *Options) { o.InactivityTimeout = 10 * time.Millisecond })

	require.NoError(t, sess.Start(context.Background()))
	assert.False(t, sess.TimedOut(time.Now()))
	assert.True(t, sess.TimedOut(time.Now().Add(time.Second)))

	require.NoError(t, sess.Terminate(context.Background()))
	assert.False(t, sess.TimedOut(time.Now().Add(time.Second)))
}

func TestSession_IgnoresOtherSessionsEvents(t *testing.T) {
	factory := &testutil.FakeRuntimeFactory{Configure: func(rt *testutil.FakeRuntime) { rt.Hang = true }}
	sess := newTestSession(t, factory)
	events := sess.Events()

	require.NoError(t, sess.Start(context.Background()))
	require.NoError(t, sess.SendMessage(context.Background(), "mine"))

	// The runtime stream is shared server-side: another session's turn must
	// not touch this session's accumulated text or complete its turn.
	rt := factory.Last()
	rt.Emit(core.RuntimeEvent{Kind: core.RuntimeMessageDelta, SessionID: "remote-other", Text: "not yours"})
	rt.Emit(core.RuntimeEvent{Kind: core.RuntimeSessionIdle, SessionID: "remote-other"})

	assert.Never(t, func() bool { return sess.State() == core.SessionActive }, 200*time.Millisecond, 20*time.Millisecond)

	remoteID := sess.RemoteID()
	rt.Emit(core.RuntimeEvent{Kind: core.RuntimeMessageDelta, SessionID: remoteID, Text: "echo: mine"})
	rt.Emit(core.RuntimeEvent{Kind: core.RuntimeSessionIdle, SessionID: remoteID})

	got := testutil.CollectEvents(events, waitFor(core.SessionEventOutput), eventWait)
	require.NotEmpty(t, got)

	var output string
	for _, ev := range got {
		switch ev.Kind {
		case core.SessionEventStreaming:
			assert.NotEqual(t, "not yours", ev.Text)
		case core.SessionEventOutput:
			output = ev.Text
		}
	}
	assert.Equal(t, "echo: mine", output)
}
