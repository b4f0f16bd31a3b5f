package iso

import (
	"math"

	"github.com/annel0/iso-sandbox/internal/vec"
)

// Пределы масштаба камеры
const (
	MinZoom = 0.25
	MaxZoom = 4.0
)

// Camera описывает вид на мир.
// Position: точка мира (в координатах проекции), показываемая в центре окна.
// Z позиции хранится для совместимости и на проекцию не влияет.
type Camera struct {
	Position vec.Vec3Float `json:"position"`
	Zoom     float64       `json:"zoom"`
	Rotation float64       `json:"rotation"`
}

// DefaultCamera возвращает камеру в начале координат без масштабирования
func DefaultCamera() Camera {
	return Camera{Zoom: 1}
}

// EffectiveZoom возвращает масштаб, заменяя недопустимые значения на 1
func (c Camera) EffectiveZoom() float64 {
	if c.Zoom <= 0 || math.IsNaN(c.Zoom) || math.IsInf(c.Zoom, 0) {
		return 1
	}
	return c.Zoom
}

// Center возвращает центр камеры в координатах проекции
func (c Camera) Center() vec.Vec2Float {
	return c.Position.XY()
}

// Pan сдвигает камеру на dx, dy экранных пикселей
func (c *Camera) Pan(dx, dy float64) {
	zoom := c.EffectiveZoom()
	c.Position.X -= dx / zoom
	c.Position.Y -= dy / zoom
}

// ZoomAt умножает масштаб на factor, удерживая точку мира focus неподвижной на экране
func (c *Camera) ZoomAt(factor float64, focus vec.Vec2Float) {
	if factor <= 0 {
		return
	}
	oldZoom := c.EffectiveZoom()
	newZoom := clamp(oldZoom*factor, MinZoom, MaxZoom)

	ratio := oldZoom / newZoom
	c.Position.X = focus.X - (focus.X-c.Position.X)*ratio
	c.Position.Y = focus.Y - (focus.Y-c.Position.Y)*ratio
	c.Zoom = newZoom
}

// Reset возвращает камеру в исходное состояние
func (c *Camera) Reset() {
	*c = DefaultCamera()
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
