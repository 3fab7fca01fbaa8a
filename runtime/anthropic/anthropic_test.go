package anthropic

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentrelay/agentrelay/core"
)

func TestRuntime_SessionBookkeeping(t *testing.T) {
	r := New(func(o *Options) { o.APIKey = "test-key" })
	ctx := context.Background()

	require.NoError(t, r.Connect(ctx))

	id, err := r.CreateSession(ctx, "/work/project")
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	// Unknown sessions are rejected before any API call happens.
	err = r.SendMessage(ctx, "nope", "hello")
	assert.Error(t, err)
	_, err = r.SendMessageSync(ctx, "nope", "hello")
	assert.Error(t, err)

	require.NoError(t, r.DeleteSession(ctx, id))
	assert.Error(t, r.SendMessage(ctx, id, "hello"))
}

func TestRuntime_NoPermissions(t *testing.T) {
	r := New(func(o *Options) { o.APIKey = "test-key" })
	err := r.ReplyToPermission(context.Background(), "s", "p", core.PermissionOnce)
	assert.ErrorIs(t, err, core.ErrNoPendingPermission)
}

func TestRuntime_AbortUnknownSessionIsNoOp(t *testing.T) {
	r := New(func(o *Options) { o.APIKey = "test-key" })
	assert.NoError(t, r.AbortSession(context.Background(), "nope"))
}

func TestRuntime_CloseIsIdempotentAndEndsStream(t *testing.T) {
	r := New(func(o *Options) { o.APIKey = "test-key" })
	require.NoError(t, r.Close())
	require.NoError(t, r.Close())

	_, open := <-r.Events()
	assert.False(t, open)

	assert.Error(t, r.Connect(context.Background()))
	_, err := r.CreateSession(context.Background(), "/work")
	assert.Error(t, err)
}
