package cache

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/iso-sandbox/internal/eventbus"
	"github.com/annel0/iso-sandbox/internal/storage"
)

type countingLoader struct {
	store *storage.LevelStore
	calls atomic.Int32
}

func (l *countingLoader) Load(ctx context.Context, id string) (*storage.Level, error) {
	l.calls.Add(1)
	return l.store.Load(ctx, id)
}

func newStore(t *testing.T, bus eventbus.EventBus) *storage.LevelStore {
	t.Helper()
	store := storage.NewLevelStore(storage.NewMemoryBackend(), storage.StoreOptions{Bus: bus})
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func saveLevel(t *testing.T, store *storage.LevelStore, name string) *storage.Level {
	t.Helper()
	l := storage.NewLevel(name, "tester")
	require.NoError(t, store.Save(context.Background(), l))
	return l
}

func TestLevelCache_HitReturnsCopy(t *testing.T) {
	store := newStore(t, nil)
	loader := &countingLoader{store: store}
	c := NewLevelCache(loader, Options{})
	l := saveLevel(t, store, "a")

	first, err := c.Get(context.Background(), l.ID)
	require.NoError(t, err)
	first.Name = "изменено"

	second, err := c.Get(context.Background(), l.ID)
	require.NoError(t, err)
	assert.Equal(t, "a", second.Name)
	assert.EqualValues(t, 1, loader.calls.Load())

	m := c.Metrics()
	assert.EqualValues(t, 1, m.Hits)
	assert.EqualValues(t, 1, m.Misses)
	assert.InDelta(t, 0.5, m.HitRatio, 1e-9)
}

func TestLevelCache_MissPropagatesNotFound(t *testing.T) {
	c := NewLevelCache(&countingLoader{store: newStore(t, nil)}, Options{})
	_, err := c.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.Zero(t, c.Metrics().Entries)
}

func TestLevelCache_TTLExpires(t *testing.T) {
	store := newStore(t, nil)
	loader := &countingLoader{store: store}
	c := NewLevelCache(loader, Options{TTL: time.Minute})
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	l := saveLevel(t, store, "a")

	_, err := c.Get(context.Background(), l.ID)
	require.NoError(t, err)
	now = now.Add(2 * time.Minute)
	_, err = c.Get(context.Background(), l.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, loader.calls.Load())
}

func TestLevelCache_EvictsLeastRecentlyUsed(t *testing.T) {
	store := newStore(t, nil)
	c := NewLevelCache(&countingLoader{store: store}, Options{Capacity: 2})
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { now = now.Add(time.Second); return now }

	a, b, d := saveLevel(t, store, "a"), saveLevel(t, store, "b"), saveLevel(t, store, "d")
	ctx := context.Background()
	for _, id := range []string{a.ID, b.ID, a.ID, d.ID} {
		_, err := c.Get(ctx, id)
		require.NoError(t, err)
	}

	c.mu.Lock()
	_, hasA := c.entries[a.ID]
	_, hasB := c.entries[b.ID]
	c.mu.Unlock()
	assert.True(t, hasA)
	assert.False(t, hasB)
	assert.Equal(t, 2, c.Metrics().Entries)
}

func TestLevelCache_WatchInvalidatesOnSave(t *testing.T) {
	bus := eventbus.NewMemoryBus(16)
	t.Cleanup(func() { _ = bus.Close() })
	store := newStore(t, bus)
	c := NewLevelCache(&countingLoader{store: store}, Options{})
	require.NoError(t, c.Watch(context.Background(), bus))
	t.Cleanup(func() { _ = c.Close() })

	l := saveLevel(t, store, "a")
	_, err := c.Get(context.Background(), l.ID)
	require.NoError(t, err)

	l.Name = "b"
	require.NoError(t, store.Save(context.Background(), l))
	require.Eventually(t, func() bool {
		got, err := c.Get(context.Background(), l.ID)
		return err == nil && got.Name == "b"
	}, time.Second, 10*time.Millisecond)
	assert.Positive(t, c.Metrics().Invalidations)
}
