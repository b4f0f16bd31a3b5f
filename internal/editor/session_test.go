package editor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/iso-sandbox/internal/iso"
	"github.com/annel0/iso-sandbox/internal/storage"
	"github.com/annel0/iso-sandbox/internal/terrain"
	"github.com/annel0/iso-sandbox/internal/vec"
	"github.com/annel0/iso-sandbox/internal/world"
)

func newTestSession(t *testing.T) *EditSession {
	t.Helper()
	store := storage.NewLevelStore(storage.NewMemoryBackend(), storage.StoreOptions{})
	return NewSession(Options{Store: store, Author: "tester"})
}

func TestPaintAndErase(t *testing.T) {
	s := newTestSession(t)
	s.SetBrush(Brush{Radius: 1, Type: world.BlockRamp, Palette: world.PaletteSand, Rotation: 180})

	res := s.Paint(vec.Vec3{})
	assert.Equal(t, 5, res.Placed)
	assert.Equal(t, 5, s.Index().Len())
	assert.Equal(t, 1, s.UndoDepth())

	b, ok := s.Index().At(vec.Vec3{X: 1})
	require.True(t, ok)
	assert.Equal(t, world.BlockRamp, b.Type)
	assert.Equal(t, world.PaletteSand, b.Palette)
	assert.Equal(t, world.Rotation(180), b.Rotation)
	assert.True(t, b.Props.Climbable)

	// Занятые ячейки пропускаются, и снимок не делается
	res = s.Paint(vec.Vec3{})
	assert.Zero(t, res.Placed)
	assert.Equal(t, 1, s.UndoDepth())

	// Круг вокруг (1,0) задевает только (0,0) и (1,0)
	res = s.Erase(vec.Vec3{X: 1})
	assert.Equal(t, 2, res.Removed)
	assert.Equal(t, 3, s.Index().Len())
	assert.Equal(t, 2, s.UndoDepth())
}

func TestPaintUsesActiveLayer(t *testing.T) {
	s := newTestSession(t)
	s.SetActiveZ(3)
	s.Paint(vec.Vec3{X: 2, Y: 2, Z: 99})
	assert.True(t, s.Index().Occupied(vec.Vec3{X: 2, Y: 2, Z: 3}))

	s.SetActiveZ(-5)
	assert.Zero(t, s.ActiveZ())
	assert.Equal(t, 1, s.StepZ(1))
	assert.Equal(t, 0, s.StepZ(-4))
}

func TestGestureSnapshotsOnce(t *testing.T) {
	s := newTestSession(t)

	s.BeginGesture(ToolPaint, vec.Vec3{})
	assert.True(t, s.InGesture())
	s.ContinueGesture(vec.Vec3{})
	s.ContinueGesture(vec.Vec3{X: 1})
	s.ContinueGesture(vec.Vec3{X: 2})
	assert.False(t, s.Undo(), "отмена во время жеста запрещена")
	res := s.EndGesture()

	assert.Equal(t, 3, res.Placed)
	assert.Equal(t, 1, s.UndoDepth())
	assert.False(t, s.InGesture())

	// Завершение без жеста безопасно
	assert.Zero(t, s.EndGesture().Placed)
	s.ContinueGesture(vec.Vec3{X: 9})
	assert.Equal(t, 3, s.Index().Len())
}

func TestUndoRestoresExactState(t *testing.T) {
	s := newTestSession(t)
	s.Paint(vec.Vec3{})
	initial := s.Index().All()

	s.SetBrush(Brush{Radius: 1})
	s.Paint(vec.Vec3{X: 5, Y: 5})
	s.Erase(vec.Vec3{})
	s.SetBrush(Brush{Radius: 2, Type: world.BlockWater, Palette: world.PaletteWater})
	s.Paint(vec.Vec3{X: 10})
	s.SetActiveZ(1)
	s.Paint(vec.Vec3{X: 5, Y: 5})

	for i := 0; i < 4; i++ {
		require.True(t, s.Undo())
	}
	assert.Equal(t, initial, s.Index().All())

	require.True(t, s.Undo())
	assert.Zero(t, s.Index().Len())
	assert.False(t, s.Undo())
}

func TestZBuild(t *testing.T) {
	s := newTestSession(t)
	s.SetZBuild(true)

	res := s.Paint(vec.Vec3{})
	assert.Equal(t, 1, res.ActiveZ)
	res = s.Paint(vec.Vec3{})
	assert.Equal(t, 2, res.ActiveZ)
	assert.True(t, s.Index().Occupied(vec.Vec3{Z: 1}))

	// Жест без новых блоков слой не меняет
	res = s.Erase(vec.Vec3{X: 7})
	assert.Equal(t, 2, res.ActiveZ)
}

func TestSelectGesture(t *testing.T) {
	s := newTestSession(t)
	s.SetBrush(Brush{Radius: 1})
	s.Paint(vec.Vec3{})
	depth := s.UndoDepth()

	s.SetBrush(Brush{Radius: 0})
	s.BeginGesture(ToolSelect, vec.Vec3{X: 1})
	s.ContinueGesture(vec.Vec3{X: 5})
	s.ContinueGesture(vec.Vec3{Y: -1})
	res := s.EndGesture()

	assert.Equal(t, 2, res.Selected)
	assert.Equal(t, []vec.Vec3{{Y: -1}, {X: 1}}, s.Selection())
	assert.Equal(t, depth, s.UndoDepth(), "выделение не меняет блоки")

	scene := s.Scene()
	assert.Equal(t, s.Selection(), scene.Selection)

	// Новый жест выделения сбрасывает старое
	s.BeginGesture(ToolSelect, vec.Vec3{})
	s.EndGesture()
	assert.Equal(t, []vec.Vec3{{}}, s.Selection())

	// Стёртые блоки уходят из выделения
	s.Erase(vec.Vec3{})
	assert.Empty(t, s.Selection())
}

func TestSceneIsCopy(t *testing.T) {
	s := newTestSession(t)
	s.SetCanvas(iso.CanvasMetrics{Width: 100, Height: 80, DevicePixelRatio: 2})
	cell := vec.Vec3{X: 1, Y: 2}
	s.SetHover(&cell)
	cell.X = 50

	scene := s.Scene()
	require.NotNil(t, scene.Hover)
	assert.Equal(t, 1, scene.Hover.X)
	scene.Hover.X = 7
	assert.Equal(t, 1, s.Scene().Hover.X)
	assert.Equal(t, 100.0, scene.Canvas.Width)

	s.SetHover(nil)
	assert.Nil(t, s.Scene().Hover)
}

func TestCameraControls(t *testing.T) {
	s := newTestSession(t)
	s.SetCanvas(iso.CanvasMetrics{Width: 200, Height: 200})

	s.Pan(10, -4)
	assert.Equal(t, -10.0, s.Camera().Position.X)
	assert.Equal(t, 4.0, s.Camera().Position.Y)

	s.ZoomAt(100, vec.Vec2Float{X: 100, Y: 100})
	assert.Equal(t, iso.MaxZoom, s.Camera().Zoom)
	assert.InDelta(t, -10.0, s.Camera().Position.X, 1e-9, "центр окна остаётся на месте")

	s.SetCamera(iso.Camera{Zoom: 0.01})
	assert.Equal(t, iso.MinZoom, s.Camera().Zoom)

	s.ResetCamera()
	assert.Equal(t, iso.DefaultCamera(), s.Camera())
}

func TestSaveLoad(t *testing.T) {
	ctx := context.Background()
	s := newTestSession(t)
	s.Rename("Остров", "проверка")
	s.SetGravity(true)
	s.SetBrush(Brush{Radius: 1, Palette: world.PaletteStone})
	s.Paint(vec.Vec3{})
	s.Pan(20, 0)
	assert.True(t, s.Dirty())

	require.NoError(t, s.Save(ctx))
	assert.False(t, s.Dirty())
	saved := s.Level()
	assert.False(t, saved.ModifiedAt.IsZero())

	s.Erase(vec.Vec3{})
	assert.True(t, s.Dirty())

	require.NoError(t, s.Load(ctx, saved.ID))
	assert.False(t, s.Dirty())
	assert.Equal(t, 5, s.Index().Len())
	assert.Zero(t, s.UndoDepth())

	l := s.Level()
	assert.Equal(t, "Остров", l.Name)
	assert.True(t, l.Settings.Gravity)
	assert.Equal(t, -20.0, l.Camera.Position.X)
	assert.Equal(t, saved.Blocks, l.Blocks)

	assert.ErrorIs(t, s.Load(ctx, "missing"), storage.ErrNotFound)
}

func TestSaveWithoutStore(t *testing.T) {
	s := NewSession(Options{})
	assert.ErrorIs(t, s.Save(context.Background()), ErrNoStore)
	assert.ErrorIs(t, s.Load(context.Background(), "x"), ErrNoStore)
}

func TestOpenRejectsInvalidLevel(t *testing.T) {
	s := newTestSession(t)
	s.Paint(vec.Vec3{})

	bad := storage.NewLevel("", "")
	assert.ErrorIs(t, s.Open(bad), storage.ErrInvalidLevelData)
	assert.Equal(t, 1, s.Index().Len())
}

func TestNewAndResetLevel(t *testing.T) {
	s := newTestSession(t)
	s.SetBrush(Brush{Radius: 2})
	s.Paint(vec.Vec3{})
	n := s.Index().Len()

	assert.Equal(t, n, s.ResetLevel())
	assert.Zero(t, s.Index().Len())
	require.True(t, s.Undo())
	assert.Equal(t, n, s.Index().Len())
	assert.Zero(t, NewSession(Options{}).ResetLevel())

	l := s.NewLevel("Пустой")
	assert.Equal(t, "Пустой", l.Name)
	assert.Equal(t, "tester", l.Author)
	assert.Zero(t, s.Index().Len())
	assert.Zero(t, s.UndoDepth())
	assert.Equal(t, l.ID, s.Level().ID)
}

func TestGenerate(t *testing.T) {
	s := newTestSession(t)
	s.Paint(vec.Vec3{X: 100, Y: 100})

	seed := int64(42)
	hm := terrain.HeightMapConfig{
		Width: 16, Height: 16, Seed: &seed, Octaves: 3, Frequency: 0.1,
		Amplitude: 1, Persistence: 0.5, Lacunarity: 2, MinHeight: 0, MaxHeight: 100,
	}
	res, err := s.Generate(context.Background(), hm, terrain.MapConfig{})
	require.NoError(t, err)
	assert.Equal(t, int64(42), res.Seed)
	assert.Equal(t, res.Blocks, s.Index().Len())
	assert.GreaterOrEqual(t, res.Blocks, 16*16)
	assert.False(t, s.Index().Occupied(vec.Vec3{X: 100, Y: 100}))

	require.True(t, s.Undo())
	assert.Equal(t, 1, s.Index().Len())

	_, err = s.Generate(context.Background(), terrain.HeightMapConfig{}, terrain.MapConfig{})
	assert.ErrorIs(t, err, terrain.ErrInvalidConfig)
}

func TestAutoSaverWithSession(t *testing.T) {
	ctx := context.Background()
	store := storage.NewLevelStore(storage.NewMemoryBackend(), storage.StoreOptions{})
	s := NewSession(Options{Store: store})
	a := storage.NewAutoSaver(store, s, time.Hour)

	s.Paint(vec.Vec3{})
	require.NoError(t, a.SaveNow(ctx))
	assert.False(t, s.Dirty())

	got, err := store.Load(ctx, s.Level().ID)
	require.NoError(t, err)
	assert.Len(t, got.Blocks, 1)
}

func TestAutoSaverSkipsLoadedLevel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := storage.NewLevelStore(storage.NewMemoryBackend(), storage.StoreOptions{})

	author := NewSession(Options{Store: store})
	author.Paint(vec.Vec3{})
	require.NoError(t, author.Save(ctx))

	s := NewSession(Options{Store: store})
	require.NoError(t, s.Load(ctx, author.Level().ID))
	assert.Equal(t, s.Revision(), s.SavedRevision())

	a := storage.NewAutoSaver(store, s, 10*time.Millisecond)
	go a.Run(ctx)

	time.Sleep(60 * time.Millisecond)
	assert.Zero(t, a.Stats().Saves)
	assert.NotZero(t, a.Stats().Skipped)

	s.Paint(vec.Vec3{X: 1})
	require.Eventually(t, func() bool { return a.Stats().Saves == 1 }, time.Second, 5*time.Millisecond)
	assert.False(t, s.Dirty())
}
