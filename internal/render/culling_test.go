package render

import (
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/iso-sandbox/internal/iso"
	"github.com/annel0/iso-sandbox/internal/vec"
	"github.com/annel0/iso-sandbox/internal/world"
)

func populatedIndex(t *testing.T) *world.SpatialIndex {
	t.Helper()
	index := world.NewSpatialIndex(world.IndexOptions{CellSize: 8})
	for x := -30; x <= 30; x++ {
		for y := -30; y <= 30; y++ {
			z := (x*x + y*y) % 4
			require.True(t, index.Insert(testBlock(fmt.Sprintf("c%d_%d", x, y), x, y, z, world.BlockCube)))
		}
	}
	return index
}

func ids(blocks []world.Block) map[string]bool {
	out := make(map[string]bool, len(blocks))
	for _, b := range blocks {
		out[b.ID] = true
	}
	return out
}

func TestCullingSystem_Soundness(t *testing.T) {
	index := populatedIndex(t)
	proj := iso.DefaultProjection()
	cs := NewCullingSystem(index, proj, nil)

	cameras := []iso.Camera{
		{Zoom: 1},
		{Position: vec.Vec3Float{X: 120, Y: -40}, Zoom: 2},
		{Position: vec.Vec3Float{X: -200, Y: 150}, Zoom: 0.5},
	}
	for _, cam := range cameras {
		frustum := cs.UpdateFrustum(cam, 320, 240)
		visible := ids(cs.GetVisibleBlocks(cam, 0))

		for _, b := range index.All() {
			inside := frustum.Contains(proj.GridToWorld(b.Pos))
			assert.Equal(t, inside, visible[b.ID], "блок %v, камера %+v", b.Pos, cam.Position)
		}
	}
}

func TestCullingSystem_MaxDistance(t *testing.T) {
	index := populatedIndex(t)
	proj := iso.DefaultProjection()
	cs := NewCullingSystem(index, proj, nil)
	cam := iso.DefaultCamera()
	cs.UpdateFrustum(cam, 800, 600)

	for _, b := range cs.GetVisibleBlocks(cam, 50) {
		assert.LessOrEqual(t, proj.GridToWorld(b.Pos).DistanceTo(cam.Center()), 50.0)
	}
}

func TestCullingSystem_DisabledReturnsAll(t *testing.T) {
	index := populatedIndex(t)
	cs := NewCullingSystem(index, iso.DefaultProjection(), nil)
	cs.SetEnabled(false)
	cs.UpdateFrustum(iso.DefaultCamera(), 10, 10)

	visible := cs.GetVisibleBlocks(iso.DefaultCamera(), 5)
	assert.Equal(t, index.All(), visible)
	assert.Equal(t, 0, cs.Stats().Culled)
}

func TestCullingSystem_CacheInvalidatesOnMutation(t *testing.T) {
	index := world.NewSpatialIndex(world.DefaultIndexOptions())
	index.Insert(testBlock("a", 0, 0, 0, world.BlockCube))
	cs := NewCullingSystem(index, iso.DefaultProjection(), nil)
	cam := iso.DefaultCamera()
	cs.UpdateFrustum(cam, 200, 200)

	first := cs.GetVisibleBlocks(cam, 0)
	second := cs.GetVisibleBlocks(cam, 0)
	assert.Equal(t, first, second)
	assert.Equal(t, uint64(1), cs.Stats().CacheHits)

	index.Insert(testBlock("b", 1, 0, 0, world.BlockCube))
	third := cs.GetVisibleBlocks(cam, 0)
	assert.Len(t, third, 2, "после изменения индекса кэш не должен использоваться")
	assert.Equal(t, uint64(1), cs.Stats().CacheHits)

	moved := cam
	moved.Position.X = 10000
	assert.Empty(t, cs.GetVisibleBlocks(moved, 0))
}

func TestCullingSystem_EmptyIndex(t *testing.T) {
	cs := NewCullingSystem(world.NewSpatialIndex(world.DefaultIndexOptions()), iso.DefaultProjection(), nil)
	cs.UpdateFrustum(iso.DefaultCamera(), 100, 100)
	assert.Empty(t, cs.GetVisibleBlocks(iso.DefaultCamera(), 0))
}

func TestCullingSystem_Metrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	index := populatedIndex(t)
	cs := NewCullingSystem(index, iso.DefaultProjection(), registry)
	// второй экземпляр на том же регистре использует те же метрики
	_ = NewCullingSystem(index, iso.DefaultProjection(), registry)

	cam := iso.DefaultCamera()
	cs.UpdateFrustum(cam, 100, 100)
	visible := cs.GetVisibleBlocks(cam, 0)

	families, err := registry.Gather()
	require.NoError(t, err)

	found := false
	for _, mf := range families {
		if mf.GetName() == "render_culling_visible_blocks" {
			found = true
			assert.Equal(t, float64(len(visible)), mf.GetMetric()[0].GetGauge().GetValue())
		}
	}
	assert.True(t, found, "метрика видимых блоков не найдена")
}
