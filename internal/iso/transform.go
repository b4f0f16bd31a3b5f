// Package iso содержит изометрическую проекцию и преобразования координат
// экран ⇄ холст ⇄ мир ⇄ сетка.
package iso

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/annel0/iso-sandbox/internal/vec"
)

// Номинальный размер ромба тайла
const (
	DefaultTileWidth  = 32.0
	DefaultTileHeight = 16.0
)

// Projection задаёт изометрическую проекцию:
//
//	worldX = (gx - gy) * tileW/2
//	worldY = (gx + gy) * tileH/2 - gz*tileH
type Projection struct {
	TileWidth  float64
	TileHeight float64

	forward mgl64.Mat2
	inverse mgl64.Mat2
}

// NewProjection создаёт проекцию для тайла tileW x tileH
func NewProjection(tileW, tileH float64) Projection {
	if tileW <= 0 {
		tileW = DefaultTileWidth
	}
	if tileH <= 0 {
		tileH = DefaultTileHeight
	}
	hw, hh := tileW/2, tileH/2

	// mgl64 хранит матрицы по столбцам: {m00, m10, m01, m11}
	forward := mgl64.Mat2{hw, hh, -hw, hh}
	return Projection{
		TileWidth:  tileW,
		TileHeight: tileH,
		forward:    forward,
		inverse:    forward.Inv(),
	}
}

// DefaultProjection возвращает проекцию 32x16
func DefaultProjection() Projection {
	return NewProjection(DefaultTileWidth, DefaultTileHeight)
}

// GridToWorld переводит ячейку сетки в точку проекции
func (p Projection) GridToWorld(g vec.Vec3) vec.Vec2Float {
	w := p.forward.Mul2x1(mgl64.Vec2{float64(g.X), float64(g.Y)})
	return vec.Vec2Float{X: w.X(), Y: w.Y() - float64(g.Z)*p.TileHeight}
}

// WorldToGrid решает систему проекции для слоя z и округляет до ближайшей ячейки
func (p Projection) WorldToGrid(w vec.Vec2Float, z int) vec.Vec3 {
	gx, gy := p.WorldToGridFloat(w, z)
	return vec.Vec3{X: int(math.Round(gx)), Y: int(math.Round(gy)), Z: z}
}

// WorldToGridFloat возвращает дробные координаты сетки без округления
func (p Projection) WorldToGridFloat(w vec.Vec2Float, z int) (float64, float64) {
	g := p.inverse.Mul2x1(mgl64.Vec2{w.X, w.Y + float64(z)*p.TileHeight})
	return g.X(), g.Y()
}

// DepthKey возвращает worldX+worldY+worldZ для ячейки
func (p Projection) DepthKey(g vec.Vec3) float64 {
	w := p.GridToWorld(g)
	return w.X + w.Y + float64(g.Z)*p.TileHeight
}

// CanvasMetrics описывает холст на странице: смещение, размер в CSS-пикселях и DPR
type CanvasMetrics struct {
	Left             float64 `json:"left"`
	Top              float64 `json:"top"`
	Width            float64 `json:"width"`
	Height           float64 `json:"height"`
	DevicePixelRatio float64 `json:"devicePixelRatio"`
}

// Mounted сообщает, имеет ли холст ненулевой размер
func (m CanvasMetrics) Mounted() bool {
	return m.Width > 0 && m.Height > 0
}

func (m CanvasMetrics) dpr() float64 {
	if m.DevicePixelRatio <= 0 {
		return 1
	}
	return m.DevicePixelRatio
}

// BufferSize возвращает размер буфера холста в физических пикселях
func (m CanvasMetrics) BufferSize() (int, int) {
	return int(math.Round(m.Width * m.dpr())), int(math.Round(m.Height * m.dpr()))
}

// ScreenToCanvas переводит точку страницы в физические пиксели холста
func ScreenToCanvas(pt vec.Vec2Float, m CanvasMetrics) vec.Vec2Float {
	d := m.dpr()
	return vec.Vec2Float{X: (pt.X - m.Left) * d, Y: (pt.Y - m.Top) * d}
}

// CanvasToWorld переводит пиксель холста в координаты проекции с учётом камеры
func CanvasToWorld(c vec.Vec2Float, m CanvasMetrics, cam Camera) vec.Vec2Float {
	if !m.Mounted() {
		return cam.Center()
	}
	d := m.dpr()
	zoom := cam.EffectiveZoom()
	return vec.Vec2Float{
		X: (c.X/d-m.Width/2)/zoom + cam.Position.X,
		Y: (c.Y/d-m.Height/2)/zoom + cam.Position.Y,
	}
}

// WorldToCanvas обратна CanvasToWorld
func WorldToCanvas(w vec.Vec2Float, m CanvasMetrics, cam Camera) vec.Vec2Float {
	d := m.dpr()
	zoom := cam.EffectiveZoom()
	return vec.Vec2Float{
		X: ((w.X-cam.Position.X)*zoom + m.Width/2) * d,
		Y: ((w.Y-cam.Position.Y)*zoom + m.Height/2) * d,
	}
}

// ScreenToWorld переводит точку страницы в координаты проекции.
// Для несмонтированного холста возвращает центр камеры.
func ScreenToWorld(pt vec.Vec2Float, m CanvasMetrics, cam Camera) vec.Vec2Float {
	return CanvasToWorld(ScreenToCanvas(pt, m), m, cam)
}

// WorldToScreen переводит точку проекции в координаты страницы
func WorldToScreen(w vec.Vec2Float, m CanvasMetrics, cam Camera) vec.Vec2Float {
	c := WorldToCanvas(w, m, cam)
	d := m.dpr()
	return vec.Vec2Float{X: c.X/d + m.Left, Y: c.Y/d + m.Top}
}

// ScreenToGrid переводит точку страницы в ячейку сетки на активном слое.
// Проекция не различает высоту, поэтому Z всегда равен activeZ.
// Для холста нулевого размера возвращается {0, 0, activeZ}.
func (p Projection) ScreenToGrid(pt vec.Vec2Float, m CanvasMetrics, cam Camera, activeZ int) vec.Vec3 {
	if !m.Mounted() {
		return vec.Vec3{Z: activeZ}
	}
	return p.WorldToGrid(ScreenToWorld(pt, m, cam), activeZ)
}

// GridToScreen переводит ячейку в точку страницы
func (p Projection) GridToScreen(g vec.Vec3, m CanvasMetrics, cam Camera) vec.Vec2Float {
	return WorldToScreen(p.GridToWorld(g), m, cam)
}

// GridToCanvas переводит ячейку в физические пиксели холста (для отрисовки)
func (p Projection) GridToCanvas(g vec.Vec3, m CanvasMetrics, cam Camera) vec.Vec2Float {
	return WorldToCanvas(p.GridToWorld(g), m, cam)
}
