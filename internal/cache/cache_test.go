package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"navigator/internal/narrative"
	"navigator/internal/search"
)

var (
	_ Store = (*Memory)(nil)
	_ Store = (*Redis)(nil)
)

func page(ids ...int) search.Result {
	hits := make([]narrative.Doc, 0, len(ids))
	for _, id := range ids {
		hits = append(hits, narrative.Doc{AccessGroup: id, ObjID: 1, Version: 2, Title: fmt.Sprintf("N%d", id)})
	}
	return search.Result{Count: len(ids), Hits: hits}
}

func newTestRedis(t *testing.T, maxPages int) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisWithClient(client, time.Hour, maxPages, zap.NewNop()), mr
}

// exercise runs the behaviour every Store must share.
func exercise(t *testing.T, store Store) {
	ctx := context.Background()

	a := store.ForSession("session-a")
	b := store.ForSession("session-b")

	_, ok := a.Get(ctx, "own|-updated||20")
	assert.False(t, ok, "empty cache should miss")

	a.Put(ctx, "own|-updated||20", page(1, 2))
	got, ok := a.Get(ctx, "own|-updated||20")
	require.True(t, ok)
	assert.Equal(t, 2, got.Count)
	assert.Equal(t, "N1", got.Hits[0].Title)

	_, ok = b.Get(ctx, "own|-updated||20")
	assert.False(t, ok, "sessions must not share pages")

	again := store.ForSession("session-a")
	_, ok = again.Get(ctx, "own|-updated||20")
	assert.True(t, ok, "same session id should reach the same pages")

	a.Reset(ctx)
	_, ok = a.Get(ctx, "own|-updated||20")
	assert.False(t, ok, "reset should clear the session")

	a.Put(ctx, "public|lex||20", page(3))
	require.NoError(t, store.Drop(ctx, "session-a"))
	_, ok = store.ForSession("session-a").Get(ctx, "public|lex||20")
	assert.False(t, ok, "drop should forget the session")
}

func TestMemoryStore(t *testing.T) {
	exercise(t, NewMemory(0, 0))
}

func TestRedisStore(t *testing.T) {
	store, _ := newTestRedis(t, 0)
	exercise(t, store)
}

func TestMemoryEvictsLeastRecentPage(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(4, 2).ForSession("s")

	c.Put(ctx, "p1", page(1))
	c.Put(ctx, "p2", page(2))
	_, _ = c.Get(ctx, "p1")
	c.Put(ctx, "p3", page(3))

	_, ok := c.Get(ctx, "p2")
	assert.False(t, ok, "p2 was least recently used")
	_, ok = c.Get(ctx, "p1")
	assert.True(t, ok)
	_, ok = c.Get(ctx, "p3")
	assert.True(t, ok)
}

func TestMemoryEvictsLeastRecentSession(t *testing.T) {
	m := NewMemory(2, 2)
	ctx := context.Background()

	m.ForSession("one").Put(ctx, "k", page(1))
	m.ForSession("two").Put(ctx, "k", page(2))
	m.ForSession("three").Put(ctx, "k", page(3))

	assert.Equal(t, 2, m.Sessions())
	_, ok := m.ForSession("one").Get(ctx, "k")
	assert.False(t, ok, "oldest session should have been evicted")
}

func TestRedisEvictsLeastRecentPage(t *testing.T) {
	store, mr := newTestRedis(t, 2)
	ctx := context.Background()
	c := store.ForSession("s")

	c.Put(ctx, "p1", page(1))
	c.Put(ctx, "p2", page(2))
	_, _ = c.Get(ctx, "p1")
	c.Put(ctx, "p3", page(3))

	_, ok := c.Get(ctx, "p2")
	assert.False(t, ok, "p2 was least recently used")
	_, ok = c.Get(ctx, "p1")
	assert.True(t, ok)

	members, err := mr.ZMembers("navigator:search:s:order")
	require.NoError(t, err)
	assert.Len(t, members, 2)
}

func TestRedisPagesExpire(t *testing.T) {
	store, mr := newTestRedis(t, 0)
	ctx := context.Background()
	c := store.ForSession("s")

	c.Put(ctx, "p1", page(1))
	assert.Equal(t, time.Hour, mr.TTL("navigator:search:s"))

	mr.FastForward(2 * time.Hour)
	_, ok := c.Get(ctx, "p1")
	assert.False(t, ok)
}

func TestRedisErrorsBecomeMisses(t *testing.T) {
	store, mr := newTestRedis(t, 0)
	ctx := context.Background()
	c := store.ForSession("s")
	c.Put(ctx, "p1", page(1))

	mr.SetError("ERR injected failure")
	_, ok := c.Get(ctx, "p1")
	assert.False(t, ok)
	c.Put(ctx, "p2", page(2))
	c.Reset(ctx)

	mr.SetError("")
	_, ok = c.Get(ctx, "p1")
	assert.True(t, ok, "failed reset must not have touched data")
}

func TestRedisCorruptEntryIsMiss(t *testing.T) {
	store, mr := newTestRedis(t, 0)
	mr.HSet("navigator:search:s", "p1", "{not json")

	_, ok := store.ForSession("s").Get(context.Background(), "p1")
	assert.False(t, ok)
}

func TestNewRedisRejectsBadURL(t *testing.T) {
	_, err := NewRedis("://nope", time.Hour, 0, zap.NewNop())
	assert.Error(t, err)
}
