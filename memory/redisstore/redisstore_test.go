package redisstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentloop/core"
	"github.com/hupe1980/agentloop/internal/testutil"
	"github.com/hupe1980/agentloop/memory"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *Archive) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	cfg := DefaultConfig()
	cfg.Addr = mr.Addr()
	cfg.TTL = time.Minute

	a, err := New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return mr, a
}

func TestArchive_StoreListSearch(t *testing.T) {
	mr, a := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, a.Store(ctx, "loop-1", []core.ArchivedStep{
		{LoopID: "loop-1", Index: 1, Action: "navigate()", Tool: "navigate", Outcome: core.OutcomeSuccess, Result: "Example Domain"},
		{LoopID: "loop-1", Index: 2, Action: "act()", Tool: "act", Outcome: core.OutcomeToolError, Err: &core.StepError{Kind: core.ErrorKindToolExecution, Message: "boom"}},
	}))
	require.NoError(t, a.Store(ctx, "loop-1", nil))

	assert.True(t, mr.Exists("agentloop:archive:loop-1"))
	assert.Equal(t, time.Minute, mr.TTL("agentloop:archive:loop-1"))

	steps, err := a.List(ctx, "loop-1")
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, "boom", steps[1].Err.Message)

	res, err := a.Search(ctx, "loop-1", "example", 5)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "loop-1/1", res[0].ID)

	empty, err := a.List(ctx, "other")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestArchive_WithMemoryStore(t *testing.T) {
	_, a := setupTestRedis(t)
	s := memory.NewStore(func(o *memory.Options) {
		o.Threshold = 2
		o.Archive = a
		o.LoopID = "loop-2"
	})
	for _, st := range testutil.Steps(1, 5, "navigate") {
		require.NoError(t, s.Append(st))
	}
	_, err := s.Summarize(context.Background())
	require.NoError(t, err)

	steps, err := a.List(context.Background(), "loop-2")
	require.NoError(t, err)
	assert.Len(t, steps, 4)
}

func TestNew_ConnectionFailure(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	addr := mr.Addr()
	mr.Close()

	_, err = New(context.Background(), Config{Addr: addr})
	assert.Error(t, err)
}
