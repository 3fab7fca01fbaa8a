package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/agentrelay/agentrelay/core"
)

// PermissionReply records one decision forwarded to the fake runtime.
type PermissionReply struct {
	SessionID    string
	PermissionID string
	Decision     core.PermissionDecision
}

// FakeRuntime is a scripted core.RuntimeClient for tests. By default every
// prompt produces a single delta event echoing the prompt followed by an idle
// event. Tests can override RespondFn, introduce a Delay, or set Hang to keep
// a prompt open forever (deadline tests).
type FakeRuntime struct {
	mu        sync.Mutex
	events    chan core.RuntimeEvent
	connected bool
	closed    bool

	// Recorded calls, exported for assertions.
	Prompts  []string
	Aborted  []string
	Deleted  []string
	Replies  []PermissionReply
	Sessions []string

	// Script controls.
	RespondFn  func(sessionID, text string) []core.RuntimeEvent
	Delay      time.Duration
	Hang       bool
	SyncReply  string
	ConnectErr error
	SendErr    error
}

var _ core.RuntimeClient = (*FakeRuntime)(nil)

// NewFakeRuntime constructs a fake runtime with a generously buffered stream.
func NewFakeRuntime() *FakeRuntime {
	return &FakeRuntime{events: make(chan core.RuntimeEvent, 64)}
}

// Connect implements core.RuntimeClient.
func (f *FakeRuntime) Connect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ConnectErr != nil {
		return f.ConnectErr
	}
	f.connected = true
	return nil
}

// CreateSession implements core.RuntimeClient.
func (f *FakeRuntime) CreateSession(_ context.Context, dir string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := "remote-" + core.NewID()
	f.Sessions = append(f.Sessions, dir)
	return id, nil
}

// SendMessage records the prompt and schedules the scripted response events.
func (f *FakeRuntime) SendMessage(_ context.Context, sessionID, text string) error {
	f.mu.Lock()
	if f.SendErr != nil {
		err := f.SendErr
		f.mu.Unlock()
		return err
	}
	f.Prompts = append(f.Prompts, text)
	hang, delay, respond := f.Hang, f.Delay, f.RespondFn
	f.mu.Unlock()

	if hang {
		return nil
	}

	go func() {
		if delay > 0 {
			time.Sleep(delay)
		}
		evs := f.respond(respond, sessionID, text)
		for _, ev := range evs {
			f.Emit(ev)
		}
	}()
	return nil
}

func (f *FakeRuntime) respond(fn func(string, string) []core.RuntimeEvent, sessionID, text string) []core.RuntimeEvent {
	if fn != nil {
		return fn(sessionID, text)
	}
	return []core.RuntimeEvent{
		{Kind: core.RuntimeMessageDelta, SessionID: sessionID, Text: "echo: " + text},
		{Kind: core.RuntimeSessionIdle, SessionID: sessionID},
	}
}

// SendMessageSync implements core.RuntimeClient.
func (f *FakeRuntime) SendMessageSync(_ context.Context, _, text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SendErr != nil {
		return "", f.SendErr
	}
	f.Prompts = append(f.Prompts, text)
	if f.SyncReply != "" {
		return f.SyncReply, nil
	}
	return "echo: " + text, nil
}

// AbortSession implements core.RuntimeClient.
func (f *FakeRuntime) AbortSession(_ context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Aborted = append(f.Aborted, sessionID)
	return nil
}

// DeleteSession implements core.RuntimeClient.
func (f *FakeRuntime) DeleteSession(_ context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Deleted = append(f.Deleted, sessionID)
	return nil
}

// ReplyToPermission implements core.RuntimeClient.
func (f *FakeRuntime) ReplyToPermission(_ context.Context, sessionID, permissionID string, decision core.PermissionDecision) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Replies = append(f.Replies, PermissionReply{SessionID: sessionID, PermissionID: permissionID, Decision: decision})
	return nil
}

// Events implements core.RuntimeClient.
func (f *FakeRuntime) Events() <-chan core.RuntimeEvent { return f.events }

// Close implements core.RuntimeClient. Safe to call multiple times.
func (f *FakeRuntime) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.events)
	}
	return nil
}

// Emit injects an event into the stream. Events sent after Close are dropped.
func (f *FakeRuntime) Emit(ev core.RuntimeEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.events <- ev
}

// PromptCount returns the number of prompts received so far.
func (f *FakeRuntime) PromptCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Prompts)
}

// FakeRuntimeFactory produces a fresh FakeRuntime per call, applying an
// optional Configure hook to each. It records every created instance so tests
// can assert on per-session runtimes (the pool creates one per task).
type FakeRuntimeFactory struct {
	mu        sync.Mutex
	Created   []*FakeRuntime
	Configure func(*FakeRuntime)
}

// New satisfies the session package's runtime factory signature.
func (f *FakeRuntimeFactory) New(context.Context) (core.RuntimeClient, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rt := NewFakeRuntime()
	if f.Configure != nil {
		f.Configure(rt)
	}
	f.Created = append(f.Created, rt)
	return rt, nil
}

// CreatedCount returns how many runtimes have been handed out.
func (f *FakeRuntimeFactory) CreatedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Created)
}

// Last returns the most recently created runtime or nil.
func (f *FakeRuntimeFactory) Last() *FakeRuntime {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Created) == 0 {
		return nil
	}
	return f.Created[len(f.Created)-1]
}

// CollectEvents drains a session event channel until an event satisfying stop
// arrives or the timeout elapses, returning everything received.
func CollectEvents(ch <-chan core.SessionEvent, stop func(core.SessionEvent) bool, timeout time.Duration) []core.SessionEvent {
	var got []core.SessionEvent
	deadline := time.After(timeout)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return got
			}
			got = append(got, ev)
			if stop != nil && stop(ev) {
				return got
			}
		case <-deadline:
			return got
		}
	}
}
