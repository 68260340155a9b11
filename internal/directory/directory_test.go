package directory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trialiq/console/internal/authz"
)

type fakeSource struct {
	items   map[authz.EntityType][]authz.EntityItem
	modules []authz.Module
	fail    authz.EntityType
	loads   atomic.Int32
	delay   time.Duration
	gate    chan struct{}
}

func (f *fakeSource) ListEntities(ctx context.Context, t authz.EntityType) ([]authz.EntityItem, error) {
	if t == f.fail {
		return nil, errors.New("backend unavailable")
	}
	return f.items[t], nil
}

func (f *fakeSource) ListModules(ctx context.Context) ([]authz.Module, error) {
	f.loads.Add(1)
	time.Sleep(f.delay)
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.modules, nil
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		items: map[authz.EntityType][]authz.EntityItem{
			authz.EntityOrganization: {{
				ID:     "org-9",
				UserID: "u-1",
				User: &authz.EmbeddedUser{ID: "u-1", Name: "Acme", Role: &authz.EmbeddedRole{
					Description: "d", EntityType: authz.EntityOrganization,
				}},
			}},
			authz.EntitySite: {
				{ID: "site-1", UserID: "u-2", User: &authz.EmbeddedUser{ID: "u-2", Name: "North"}},
				{ID: "site-2", UserID: "u-3"},
			},
		},
		modules: []authz.Module{{ID: "m-1", Name: "Patients"}, {ID: "m-2", Name: "Trials"}},
	}
}

// TestPurpose: Validates that the snapshot buckets entities per type with extraction id fidelity.
// Scope: Unit Test
// Security: No cross-type leakage in pickers
// Expected: Organization bucket holds org-9 with entity_id u-1; site bucket holds only sites; unknown type is empty.
// Test Case ID: DIR-01
func TestLoad_BucketsByType(t *testing.T) {
	snap, err := Load(context.Background(), newFakeSource())
	require.NoError(t, err)

	assert.Equal(t, []authz.ExtractedRole{{
		ID: "org-9", Name: "Acme", Description: "d", EntityID: "u-1", EntityType: authz.EntityOrganization,
	}}, snap.Entities(authz.EntityOrganization))

	sites := snap.Entities(authz.EntitySite)
	require.Len(t, sites, 2)
	assert.True(t, snap.Has(authz.EntitySite, "site-2"))
	assert.False(t, snap.Has(authz.EntitySite, "org-9"))
	assert.Empty(t, snap.Entities(authz.EntitySponsor))
	assert.Empty(t, snap.Entities("planet"))

	m, ok := snap.Module("Patients")
	assert.True(t, ok)
	assert.Equal(t, "m-1", m.ID)
	_, ok = snap.Module("patients")
	assert.False(t, ok)
}

// TestPurpose: Validates that one failing list fails the whole load.
// Scope: Unit Test
// Security: N/A
// Expected: Error and no snapshot.
// Test Case ID: DIR-02
func TestLoad_NoPartialSnapshot(t *testing.T) {
	src := newFakeSource()
	src.fail = authz.EntityProvider

	snap, err := Load(context.Background(), src)
	assert.Error(t, err)
	assert.Nil(t, snap)
}

// TestPurpose: Validates once-per-session loading and invalidation.
// Scope: Unit Test
// Security: Snapshots are not shared across sessions
// Expected: Concurrent Gets load once; another session loads separately; Invalidate forces a reload.
// Test Case ID: DIR-03
func TestService_LoadsOncePerSession(t *testing.T) {
	src := newFakeSource()
	src.delay = 20 * time.Millisecond
	svc := NewService(NewMemoryCache(), time.Minute)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Get(ctx, "sess-1", src)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), src.loads.Load())

	_, err := svc.Get(ctx, "sess-2", src)
	require.NoError(t, err)
	assert.Equal(t, int32(2), src.loads.Load())

	require.NoError(t, svc.Invalidate(ctx, "sess-1"))
	_, err = svc.Get(ctx, "sess-1", src)
	require.NoError(t, err)
	assert.Equal(t, int32(3), src.loads.Load())
}

// TestPurpose: Validates that a shared load survives the caller that started it.
// Scope: Unit Test
// Expected: The first caller returns its own cancellation; a waiter on the same session still gets the snapshot from the single load.
// Test Case ID: DIR-04
func TestService_LoadOutlivesFirstCaller(t *testing.T) {
	src := newFakeSource()
	src.gate = make(chan struct{})
	svc := NewService(NewMemoryCache(), time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := svc.Get(ctx, "sess-1", src)
		first <- err
	}()
	require.Eventually(t, func() bool { return src.loads.Load() == 1 }, time.Second, time.Millisecond)

	waiter := make(chan error, 1)
	go func() {
		snap, err := svc.Get(context.Background(), "sess-1", src)
		if err == nil && snap == nil {
			err = errors.New("nil snapshot")
		}
		waiter <- err
	}()

	cancel()
	assert.ErrorIs(t, <-first, context.Canceled)

	close(src.gate)
	require.NoError(t, <-waiter)
	assert.Equal(t, int32(1), src.loads.Load())
}

func TestMemoryCache_Expiry(t *testing.T) {
	c := NewMemoryCache()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "s", &Snapshot{}, time.Minute))
	_, err := c.Get(ctx, "s")
	require.NoError(t, err)

	now = now.Add(time.Minute)
	_, err = c.Get(ctx, "s")
	assert.ErrorIs(t, err, ErrCacheMiss)
}
