package world

import (
	"fmt"
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/iso-sandbox/internal/vec"
)

func blockAt(id string, x, y, z int) Block {
	return Block{ID: id, Pos: vec.Vec3{X: x, Y: y, Z: z}, Type: BlockCube, Palette: PaletteDefault, Props: DefaultProperties()}
}

// cellIDs собирает ID из всех листьев всех ячеек
func cellIDs(si *SpatialIndex) []string {
	var ids []string
	for _, cell := range si.cells {
		cell.walk(0, func(n *cellNode, _ int) {
			for id := range n.blocks {
				ids = append(ids, id)
			}
		})
	}
	sort.Strings(ids)
	return ids
}

func allIDs(blocks []Block) []string {
	ids := make([]string, 0, len(blocks))
	for _, b := range blocks {
		ids = append(ids, b.ID)
	}
	sort.Strings(ids)
	return ids
}

func TestSpatialIndex_InsertGetRemove(t *testing.T) {
	si := NewSpatialIndex(IndexOptions{CellSize: 4})

	require.True(t, si.Insert(blockAt("a", 1, 1, 0)))
	require.True(t, si.Insert(blockAt("b", -3, 7, 2)))
	assert.Equal(t, 2, si.Len())

	got, ok := si.Get("b")
	require.True(t, ok)
	assert.Equal(t, vec.Vec3{X: -3, Y: 7, Z: 2}, got.Pos)

	at, ok := si.At(vec.Vec3{X: 1, Y: 1, Z: 0})
	require.True(t, ok)
	assert.Equal(t, "a", at.ID)

	assert.True(t, si.Remove("a"))
	assert.False(t, si.Remove("a"), "повторное удаление должно вернуть false")
	assert.False(t, si.Occupied(vec.Vec3{X: 1, Y: 1, Z: 0}))
	assert.Equal(t, []string{"b"}, cellIDs(si))
}

func TestSpatialIndex_OccupiedCellIsNoOp(t *testing.T) {
	si := NewSpatialIndex(DefaultIndexOptions())
	require.True(t, si.Insert(blockAt("a", 0, 0, 0)))
	v := si.Version()

	assert.False(t, si.Insert(blockAt("b", 0, 0, 0)), "занятая ячейка")
	assert.False(t, si.Insert(blockAt("a", 5, 5, 5)), "повтор ID")
	assert.False(t, si.Insert(blockAt("", 9, 9, 9)), "пустой ID")

	assert.Equal(t, v, si.Version(), "версия не должна меняться при отказе")
	assert.Equal(t, 1, si.Len())
}

func TestSpatialIndex_RemoveAt(t *testing.T) {
	si := NewSpatialIndex(DefaultIndexOptions())
	si.Insert(blockAt("a", 2, 3, 4))

	b, ok := si.RemoveAt(vec.Vec3{X: 2, Y: 3, Z: 4})
	require.True(t, ok)
	assert.Equal(t, "a", b.ID)

	_, ok = si.RemoveAt(vec.Vec3{X: 2, Y: 3, Z: 4})
	assert.False(t, ok)
	assert.Equal(t, 0, si.Len())
	assert.Empty(t, si.cells, "пустая ячейка должна быть удалена")
}

func TestSpatialIndex_ConsistencyUnderInterleaving(t *testing.T) {
	si := NewSpatialIndex(IndexOptions{CellSize: 8, SplitThreshold: 4, MinCellSize: 2})
	rng := rand.New(rand.NewSource(42))
	live := make(map[string]vec.Vec3)
	occupied := make(map[vec.Vec3]bool)

	for i := 0; i < 2000; i++ {
		if rng.Intn(3) > 0 || len(live) == 0 {
			pos := vec.Vec3{X: rng.Intn(40) - 20, Y: rng.Intn(40) - 20, Z: rng.Intn(6)}
			id := fmt.Sprintf("b%04d", i)
			ok := si.Insert(blockAt(id, pos.X, pos.Y, pos.Z))
			assert.Equal(t, !occupied[pos], ok)
			if ok {
				live[id] = pos
				occupied[pos] = true
			}
		} else {
			for id, pos := range live {
				require.True(t, si.Remove(id))
				delete(live, id)
				delete(occupied, pos)
				break
			}
		}
		if i%250 == 0 {
			si.Optimize()
		}
	}

	all := si.All()
	assert.Len(t, all, len(live))
	assert.Equal(t, allIDs(all), cellIDs(si), "объединение ячеек должно совпадать с множеством блоков")
	for _, b := range all {
		assert.Equal(t, live[b.ID], b.Pos)
	}
}

func TestSpatialIndex_QueriesMatchBruteForce(t *testing.T) {
	si := NewSpatialIndex(IndexOptions{CellSize: 8, SplitThreshold: 8, MinCellSize: 2})
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 600; i++ {
		si.Insert(blockAt(fmt.Sprintf("q%03d", i), rng.Intn(60)-30, rng.Intn(60)-30, rng.Intn(10)))
	}
	all := si.All()

	for i := 0; i < 30; i++ {
		center := vec.Vec3Float{X: rng.Float64()*60 - 30, Y: rng.Float64()*60 - 30, Z: rng.Float64() * 10}
		radius := rng.Float64() * 15

		var want []string
		for _, b := range all {
			if b.Pos.ToFloat().DistanceSqTo(center) <= radius*radius {
				want = append(want, b.ID)
			}
		}
		sort.Strings(want)
		got := allIDs(si.QueryRadius(center, radius))
		if len(want) == 0 {
			assert.Empty(t, got)
		} else {
			assert.Equal(t, want, got, "радиус %.2f вокруг %+v", radius, center)
		}

		box := Box{
			Min: vec.Vec3{X: rng.Intn(30) - 30, Y: rng.Intn(30) - 30, Z: 0},
			Max: vec.Vec3{X: rng.Intn(30), Y: rng.Intn(30), Z: rng.Intn(10)},
		}
		want = want[:0]
		for _, b := range all {
			if box.Contains(b.Pos) {
				want = append(want, b.ID)
			}
		}
		sort.Strings(want)
		got = allIDs(si.QueryBox(box))
		if len(want) == 0 {
			assert.Empty(t, got)
		} else {
			assert.Equal(t, want, got)
		}
	}
}

func TestSpatialIndex_SubdivideAndOptimize(t *testing.T) {
	si := NewSpatialIndex(IndexOptions{CellSize: 16, SplitThreshold: 4, MinCellSize: 4})
	for i := 0; i < 16; i++ {
		si.Insert(blockAt(fmt.Sprintf("s%02d", i), i%4, i/4, 0))
	}

	stats := si.Stats()
	assert.Equal(t, 1, stats.Cells)
	assert.Greater(t, stats.SplitNodes, 0, "переполненная ячейка должна разделиться")
	assert.Equal(t, 16, stats.Blocks)

	for i := 0; i < 15; i++ {
		si.Remove(fmt.Sprintf("s%02d", i))
	}
	merged := si.Optimize()
	assert.Greater(t, merged, 0)

	stats = si.Stats()
	assert.Equal(t, 0, stats.SplitNodes)
	assert.Equal(t, 1, stats.Leaves)
	assert.Equal(t, []string{"s15"}, cellIDs(si))
	assert.Contains(t, stats.String(), "1 blocks")
}

func TestSpatialIndex_ReplaceAndClear(t *testing.T) {
	si := NewSpatialIndex(DefaultIndexOptions())
	si.Insert(blockAt("old", 0, 0, 0))

	n := si.Replace([]Block{blockAt("x", 1, 0, 0), blockAt("y", 1, 0, 0), blockAt("z", 2, 0, 0)})
	assert.Equal(t, 2, n, "дубликат позиции должен быть пропущен")
	_, ok := si.Get("old")
	assert.False(t, ok)

	v := si.Version()
	si.Clear()
	assert.Equal(t, 0, si.Len())
	assert.Greater(t, si.Version(), v)
}

func TestSpatialIndex_Bounds(t *testing.T) {
	si := NewSpatialIndex(IndexOptions{CellSize: 10})
	_, ok := si.Bounds()
	assert.False(t, ok)

	si.Insert(blockAt("a", -1, 5, 0))
	si.Insert(blockAt("b", 25, 12, 3))
	box, ok := si.Bounds()
	require.True(t, ok)
	assert.Equal(t, vec.Vec3{X: -10, Y: 0, Z: 0}, box.Min)
	assert.Equal(t, vec.Vec3{X: 29, Y: 19, Z: 9}, box.Max)
}

func TestFloorDiv(t *testing.T) {
	assert.Equal(t, -1, floorDiv(-1, 64))
	assert.Equal(t, -1, floorDiv(-64, 64))
	assert.Equal(t, -2, floorDiv(-65, 64))
	assert.Equal(t, 0, floorDiv(63, 64))
	assert.Equal(t, 1, floorDiv(64, 64))
}
