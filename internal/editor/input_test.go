package editor

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/annel0/iso-sandbox/internal/iso"
	"github.com/annel0/iso-sandbox/internal/vec"
)

// На холсте 200x200 без сдвига камеры центр (100,100) соответствует ячейке (0,0),
// ячейка (1,0) точке (116,108), ячейка (0,1) точке (84,108).
func newInputFixture(t *testing.T) (*EditSession, *InputController) {
	t.Helper()
	s := newTestSession(t)
	s.SetCanvas(iso.CanvasMetrics{Width: 200, Height: 200, DevicePixelRatio: 1})
	return s, NewInputController(s)
}

func TestPrimaryDragPaints(t *testing.T) {
	s, in := newInputFixture(t)
	assert.Equal(t, ToolPaint, in.Tool())

	in.PointerDown(ButtonPrimary, vec.Vec2Float{X: 100, Y: 100})
	in.PointerDown(ButtonPrimary, vec.Vec2Float{X: 100, Y: 100})
	in.PointerMove(vec.Vec2Float{X: 101, Y: 101})
	in.PointerMove(vec.Vec2Float{X: 116, Y: 108})
	in.PointerMove(vec.Vec2Float{X: 84, Y: 108})
	res, ok := in.PointerUp(ButtonPrimary, vec.Vec2Float{X: 84, Y: 108})

	assert.True(t, ok)
	assert.Equal(t, 3, res.Placed)
	assert.True(t, s.Index().Occupied(vec.Vec3{X: 1}))
	assert.True(t, s.Index().Occupied(vec.Vec3{Y: 1}))
	assert.Equal(t, 1, s.UndoDepth())

	hover := s.Scene().Hover
	if assert.NotNil(t, hover) {
		assert.Equal(t, vec.Vec3{Y: 1}, *hover)
	}
	in.PointerLeave()
	assert.Nil(t, s.Scene().Hover)

	_, ok = in.PointerUp(ButtonPrimary, vec.Vec2Float{})
	assert.False(t, ok)
}

func TestEraseTool(t *testing.T) {
	s, in := newInputFixture(t)
	s.Paint(vec.Vec3{})

	in.SetTool(ToolErase)
	in.PointerDown(ButtonPrimary, vec.Vec2Float{X: 100, Y: 100})
	res, _ := in.PointerUp(ButtonPrimary, vec.Vec2Float{X: 100, Y: 100})
	assert.Equal(t, 1, res.Removed)
	assert.Zero(t, s.Index().Len())
}

func TestSecondaryDragPans(t *testing.T) {
	s, in := newInputFixture(t)

	in.PointerDown(ButtonSecondary, vec.Vec2Float{X: 100, Y: 100})
	in.PointerMove(vec.Vec2Float{X: 110, Y: 100})
	in.PointerUp(ButtonSecondary, vec.Vec2Float{X: 110, Y: 95})

	cam := s.Camera()
	assert.Equal(t, -10.0, cam.Position.X)
	assert.Equal(t, 5.0, cam.Position.Y)
	assert.Zero(t, s.Index().Len(), "панорамирование не рисует")
}

func TestWheelAndPinchZoom(t *testing.T) {
	s, in := newInputFixture(t)

	in.Wheel(0, vec.Vec2Float{X: 100, Y: 100})
	assert.Equal(t, 1.0, s.Camera().Zoom)

	in.Wheel(-200, vec.Vec2Float{X: 100, Y: 100})
	assert.Greater(t, s.Camera().Zoom, 1.0)

	in.Wheel(-100000, vec.Vec2Float{X: 100, Y: 100})
	assert.Equal(t, iso.MaxZoom, s.Camera().Zoom)

	in.Pinch(0.01, vec.Vec2Float{X: 100, Y: 100})
	assert.Equal(t, iso.MinZoom, s.Camera().Zoom)
	in.Pinch(-1, vec.Vec2Float{X: 100, Y: 100})
	assert.Equal(t, iso.MinZoom, s.Camera().Zoom)

	// Точка под курсором остаётся на месте
	s.ResetCamera()
	pt := vec.Vec2Float{X: 150, Y: 60}
	before := iso.ScreenToWorld(pt, iso.CanvasMetrics{Width: 200, Height: 200}, s.Camera())
	in.Wheel(-300, pt)
	after := iso.ScreenToWorld(pt, iso.CanvasMetrics{Width: 200, Height: 200}, s.Camera())
	assert.InDelta(t, before.X, after.X, 1e-9)
	assert.InDelta(t, before.Y, after.Y, 1e-9)
}

func TestKeys(t *testing.T) {
	s, in := newInputFixture(t)

	assert.True(t, in.KeyDown(KeyLayerUp))
	assert.Equal(t, 1, s.ActiveZ())
	assert.True(t, in.KeyDown(KeyLayerDown))
	assert.True(t, in.KeyDown(KeyLayerDown))
	assert.Zero(t, s.ActiveZ())

	s.Paint(vec.Vec3{})
	assert.True(t, in.KeyDown(KeyUndo))
	assert.Zero(t, s.Index().Len())

	s.Pan(40, 40)
	assert.True(t, in.KeyDown(KeyResetCamera))
	assert.Equal(t, iso.DefaultCamera(), s.Camera())

	assert.False(t, in.KeyDown("F13"))
}
