package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/iso-sandbox/internal/config"
)

func exerciseBackend(t *testing.T, b Backend) {
	ctx := context.Background()

	_, err := b.Get(ctx, "levels:missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, b.Put(ctx, "levels:b", []byte("second")))
	require.NoError(t, b.Put(ctx, "levels:a", []byte("first")))
	require.NoError(t, b.Put(ctx, "other:c", []byte("third")))

	v, err := b.Get(ctx, "levels:a")
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), v)

	require.NoError(t, b.Put(ctx, "levels:a", []byte("replaced")))
	v, err = b.Get(ctx, "levels:a")
	require.NoError(t, err)
	assert.Equal(t, []byte("replaced"), v)

	keys, err := b.Keys(ctx, "levels:")
	require.NoError(t, err)
	assert.Equal(t, []string{"levels:a", "levels:b"}, keys)

	require.NoError(t, b.Delete(ctx, "levels:a"))
	require.NoError(t, b.Delete(ctx, "levels:a"))
	_, err = b.Get(ctx, "levels:a")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, b.Close())
	require.NoError(t, b.Close())
	_, err = b.Get(ctx, "levels:b")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestMemoryBackend(t *testing.T) {
	exerciseBackend(t, NewMemoryBackend())
}

func TestMemoryBackendCopiesValues(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBackend()
	val := []byte("abc")
	require.NoError(t, b.Put(ctx, "k", val))
	val[0] = 'x'

	got, err := b.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), got)

	used, err := b.Usage(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), used)
}

func TestBadgerBackendInMemory(t *testing.T) {
	b, err := NewBadgerBackend("")
	require.NoError(t, err)
	exerciseBackend(t, b)
}

func TestBadgerBackendPersists(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	b, err := NewBadgerBackend(dir)
	require.NoError(t, err)
	require.NoError(t, b.Put(ctx, "levels:x", []byte("payload")))
	require.NoError(t, b.Close())

	b, err = NewBadgerBackend(dir)
	require.NoError(t, err)
	defer b.Close()
	v, err := b.Get(ctx, "levels:x")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), v)
}

func TestFileBackend(t *testing.T) {
	b, err := NewFileBackend(t.TempDir())
	require.NoError(t, err)
	exerciseBackend(t, b)
}

func TestFileBackendPersistsAndReportsUsage(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	b, err := NewFileBackend(dir)
	require.NoError(t, err)
	require.NoError(t, b.Put(ctx, "levels:a/b c", []byte("payload")))
	require.NoError(t, b.Close())

	b, err = NewFileBackend(dir)
	require.NoError(t, err)
	defer b.Close()
	v, err := b.Get(ctx, "levels:a/b c")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), v)

	keys, err := b.Keys(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"levels:a/b c"}, keys)

	used, err := b.Usage(ctx)
	require.NoError(t, err)
	assert.Equal(t, recordSize("levels:a/b c", []byte("payload")), used)
}

func TestRemoteBackendsUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := NewRedisBackend(ctx, RedisConfig{Addr: "127.0.0.1:1", DialTimeout: 200 * time.Millisecond})
	assert.Error(t, err)

	_, err = NewMariaBackend(ctx, "user:pass@tcp(127.0.0.1:1)/sandbox?timeout=200ms")
	assert.Error(t, err)

	_, err = NewMongoBackend(ctx, MongoConfig{URI: "mongodb://127.0.0.1:1", Timeout: 200 * time.Millisecond})
	assert.Error(t, err)
}

func TestEscapePatterns(t *testing.T) {
	assert.Equal(t, `lv\*\?\[x\]`, escapeRedisPattern("lv*?[x]"))
	assert.Equal(t, `a\%b\_c\\`, escapeLike(`a%b_c\`))
}

func TestOpenBackend(t *testing.T) {
	ctx := context.Background()

	b, err := OpenBackend(ctx, config.StorageConfig{Backend: "memory", CapacityBytes: 100})
	require.NoError(t, err)
	q, ok := b.(*QuotaBackend)
	require.True(t, ok)
	assert.Equal(t, int64(100), q.Limit())

	b, err = OpenBackend(ctx, config.StorageConfig{Backend: "badger"})
	require.NoError(t, err)
	_, ok = b.(*BadgerBackend)
	assert.True(t, ok)
	require.NoError(t, b.Close())

	b, err = OpenBackend(ctx, config.StorageConfig{Backend: "file", FilePath: t.TempDir()})
	require.NoError(t, err)
	_, ok = b.(*FileBackend)
	assert.True(t, ok)
	require.NoError(t, b.Close())

	_, err = OpenBackend(ctx, config.StorageConfig{Backend: "floppy"})
	assert.Error(t, err)
}
