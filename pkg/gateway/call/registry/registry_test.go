package registry

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestTracker_RegisterUnregister(t *testing.T) {
	tr := NewTracker()
	ctx := t.Context()

	var canceled atomic.Int32
	un1, err := tr.Register(ctx, Entry{CallID: "a", StartedAt: time.Unix(2, 0)}, func() { canceled.Add(1) })
	require.NoError(t, err)
	un2, err := tr.Register(ctx, Entry{CallID: "b", StartedAt: time.Unix(1, 0)}, nil)
	require.NoError(t, err)

	n, err := tr.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	list, err := tr.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "b", list[0].CallID)

	assert.Equal(t, 1, tr.CancelAll())
	assert.Equal(t, int32(1), canceled.Load())

	un1()
	un1()
	assert.Equal(t, 1, tr.Len())
	un2()
	assert.Equal(t, 0, tr.Len())
	assert.True(t, tr.Wait(ctx))
}

func TestTracker_ReplaceReleasesOld(t *testing.T) {
	tr := NewTracker()
	old, _ := tr.Register(t.Context(), Entry{CallID: "a"}, nil)
	cur, _ := tr.Register(t.Context(), Entry{CallID: "a", BusinessID: "biz-2"}, nil)

	// The stale unregister must not remove the replacement.
	old()
	assert.Equal(t, 1, tr.Len())
	list, _ := tr.List(t.Context())
	assert.Equal(t, "biz-2", list[0].BusinessID)

	cur()
	assert.True(t, tr.Wait(t.Context()))
}

func TestTracker_WaitHonoursContext(t *testing.T) {
	tr := NewTracker()
	un, _ := tr.Register(t.Context(), Entry{CallID: "a"}, nil)
	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()
	assert.False(t, tr.Wait(ctx))
	un()
}

func newRedis(t *testing.T, opts ...RedisOption) (*miniredis.Miniredis, *Redis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	r := NewRedis(client, opts...)
	t.Cleanup(func() { _ = r.Close() })
	return mr, r
}

func TestRedis_SharedView(t *testing.T) {
	mr, r := newRedis(t, WithNode("node-a"), WithPrefix("test"))
	other := NewRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()}), WithNode("node-b"), WithPrefix("test"))
	t.Cleanup(func() { _ = other.Close() })
	ctx := t.Context()

	unA, err := r.Register(ctx, Entry{CallID: "a", BusinessID: "biz-1", StartedAt: time.Unix(10, 0).UTC()}, nil)
	require.NoError(t, err)
	unB, err := other.Register(ctx, Entry{CallID: "b", StartedAt: time.Unix(20, 0).UTC()}, nil)
	require.NoError(t, err)

	n, err := r.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, r.LocalCount())

	list, err := other.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].CallID)
	assert.Equal(t, "node-a", list[0].Node)
	assert.Equal(t, "biz-1", list[0].BusinessID)
	assert.True(t, mr.Exists("test:calls"))

	unA()
	unA()
	n, err = other.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	unB()
	n, err = r.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.True(t, r.Wait(ctx))
}

func TestRedis_ExpiredEntriesArePruned(t *testing.T) {
	now := time.Unix(1_000, 0)
	_, r := newRedis(t, WithEntryTTL(time.Minute), withClock(func() time.Time { return now }))
	ctx := t.Context()

	un, err := r.Register(ctx, Entry{CallID: "stale"}, nil)
	require.NoError(t, err)
	defer un()

	n, err := r.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	now = now.Add(2 * time.Minute)
	n, err = r.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	// The local view still drains normally.
	assert.Equal(t, 1, r.LocalCount())
}

func TestRedis_FailureKeepsLocalTracking(t *testing.T) {
	mr, r := newRedis(t)
	mr.Close()

	var canceled atomic.Bool
	un, err := r.Register(t.Context(), Entry{CallID: "a"}, func() { canceled.Store(true) })
	require.Error(t, err)
	assert.Equal(t, 1, r.LocalCount())
	assert.Equal(t, 1, r.CancelAll())
	assert.True(t, canceled.Load())
	un()
	assert.Zero(t, r.LocalCount())
}
