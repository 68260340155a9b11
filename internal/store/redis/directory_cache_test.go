package redis

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	red "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trialiq/console/internal/authz"
	"github.com/trialiq/console/internal/directory"
)

func newTestRedis(t *testing.T) (*red.Client, *miniredis.Miniredis) {
	t.Helper()
	server := miniredis.RunT(t)
	client := red.NewClient(&red.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client, server
}

// TestPurpose: Validates the Redis snapshot round trip with TTL.
// Scope: Unit Test
// Security: Snapshots are keyed per session
// Expected: Stored snapshot reads back; TTL applied; expiry and delete yield a cache miss.
// Test Case ID: RDS-01
func TestDirectoryCache_SetGet(t *testing.T) {
	client, server := newTestRedis(t)
	cache := NewDirectoryCache(client, "")
	ctx := context.Background()

	snap := &directory.Snapshot{
		ByType: map[authz.EntityType][]authz.ExtractedRole{
			authz.EntitySite: {{ID: "site-1", Name: "North", EntityID: "u-2", EntityType: authz.EntitySite}},
		},
		Registry: []authz.Module{{ID: "m-1", Name: "Patients"}},
	}
	require.NoError(t, cache.Set(ctx, "sess-1", snap, time.Minute))

	got, err := cache.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, snap.Entities(authz.EntitySite), got.Entities(authz.EntitySite))
	_, ok := got.Module("Patients")
	assert.True(t, ok)

	ttl := server.TTL("console:directory:sess-1")
	assert.True(t, ttl > 0 && ttl <= time.Minute)

	_, err = cache.Get(ctx, "sess-2")
	assert.ErrorIs(t, err, directory.ErrCacheMiss)

	server.FastForward(2 * time.Minute)
	_, err = cache.Get(ctx, "sess-1")
	assert.ErrorIs(t, err, directory.ErrCacheMiss)
}

func TestDirectoryCache_DeleteAndCorrupt(t *testing.T) {
	client, server := newTestRedis(t)
	cache := NewDirectoryCache(client, "test")
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "s", &directory.Snapshot{}, time.Minute))
	require.NoError(t, cache.Delete(ctx, "s"))
	_, err := cache.Get(ctx, "s")
	assert.ErrorIs(t, err, directory.ErrCacheMiss)

	require.NoError(t, server.Set("test:s", "{not json"))
	_, err = cache.Get(ctx, "s")
	assert.ErrorIs(t, err, directory.ErrCacheMiss)
	assert.False(t, server.Exists("test:s"))

	assert.Error(t, cache.Set(ctx, " ", &directory.Snapshot{}, time.Minute))
	assert.Error(t, cache.Set(ctx, "s", &directory.Snapshot{}, 0))
}

func TestDirectoryCache_WithService(t *testing.T) {
	client, _ := newTestRedis(t)
	svc := directory.NewService(NewDirectoryCache(client, ""), time.Minute)

	src := &countingSource{}
	for i := 0; i < 3; i++ {
		_, err := svc.Get(context.Background(), "sess-1", src)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, src.modules)
}

type countingSource struct {
	modules int
}

func (s *countingSource) ListEntities(ctx context.Context, t authz.EntityType) ([]authz.EntityItem, error) {
	return nil, nil
}

func (s *countingSource) ListModules(ctx context.Context) ([]authz.Module, error) {
	s.modules++
	return []authz.Module{{ID: "m-1", Name: "Users"}}, nil
}

func TestDirectoryCache_Purge(t *testing.T) {
	client, server := newTestRedis(t)
	cache := NewDirectoryCache(client, "console:directory")
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, cache.Set(ctx, id, &directory.Snapshot{}, time.Minute))
	}
	require.NoError(t, server.Set("other:key", "kept"))

	n, err := cache.Purge(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.True(t, server.Exists("other:key"))
	_, err = cache.Get(ctx, "a")
	assert.ErrorIs(t, err, directory.ErrCacheMiss)
}
