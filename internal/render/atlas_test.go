package render

import (
	"context"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/iso-sandbox/internal/world"
)

func writeSheet(t *testing.T, dir string) string {
	t.Helper()
	sheet := image.NewRGBA(image.Rect(0, 0, 64, 32))
	path := filepath.Join(dir, "tiles.png")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, sheet))
	require.NoError(t, f.Close())
	return path
}

func TestAtlas_LoadAsyncWithManifest(t *testing.T) {
	dir := t.TempDir()
	path := writeSheet(t, dir)
	manifest := "sprites:\n  cube/grass: [0, 0, 32, 32]\n  water: [32, 0, 32, 32]\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tiles.yaml"), []byte(manifest), 0o644))

	atlas := NewAtlas()
	assert.False(t, atlas.Ready())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, <-atlas.LoadAsync(ctx, path))
	require.NoError(t, atlas.Wait(ctx))
	assert.True(t, atlas.Ready())

	_, r, ok := atlas.Lookup(testBlock("g", 0, 0, 0, world.BlockCube))
	require.True(t, ok)
	assert.Equal(t, image.Rect(0, 0, 32, 32), r)

	water := testBlock("w", 0, 0, 0, world.BlockWater)
	water.Palette = world.PaletteWater
	_, r, ok = atlas.Lookup(water)
	require.True(t, ok)
	assert.Equal(t, image.Rect(32, 0, 64, 32), r)

	_, _, ok = atlas.Lookup(testBlock("p", 0, 0, 0, world.BlockPillar))
	assert.False(t, ok, "для столба нет области")

	explicit := testBlock("e", 0, 0, 0, world.BlockPillar)
	explicit.Sprite = world.SpriteRegion{X: 8, Y: 8, W: 8, H: 8}
	_, r, ok = atlas.Lookup(explicit)
	require.True(t, ok)
	assert.Equal(t, image.Rect(8, 8, 16, 16), r)
}

func TestAtlas_LoadFailureKeepsFlatRenderer(t *testing.T) {
	atlas := NewAtlas()
	ctx := context.Background()

	err := <-atlas.LoadAsync(ctx, filepath.Join(t.TempDir(), "missing.png"))
	require.Error(t, err)
	assert.False(t, atlas.Ready())
	assert.Error(t, atlas.Wait(ctx))

	_, _, ok := atlas.Lookup(testBlock("a", 0, 0, 0, world.BlockCube))
	assert.False(t, ok)
}

func TestAtlas_WaitTimesOut(t *testing.T) {
	atlas := NewAtlas()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, atlas.Wait(ctx), ErrAtlasNotReady)
}

func TestAtlas_BadManifestRegion(t *testing.T) {
	dir := t.TempDir()
	path := writeSheet(t, dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tiles.yaml"), []byte("sprites:\n  cube: [60, 0, 32, 32]\n"), 0o644))

	atlas := NewAtlas()
	assert.Error(t, atlas.Load(context.Background(), path))
	assert.False(t, atlas.Ready())
}
