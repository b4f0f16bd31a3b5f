package render

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"

	"golang.org/x/image/draw"
	"golang.org/x/image/vector"

	"github.com/annel0/iso-sandbox/internal/vec"
)

// Surface поверхность, на которую рисует конвейер.
// Цвета передаются без предумножения альфы.
type Surface interface {
	Size() (int, int)
	Clear(c color.RGBA)
	FillPolygon(points []vec.Vec2Float, c color.RGBA)
	StrokePolygon(points []vec.Vec2Float, c color.RGBA)
	DrawSprite(src image.Image, srcRect image.Rectangle, dst image.Rectangle)
}

// ImageSurface растровая поверхность поверх *image.RGBA.
// Многоугольники растеризуются со сглаживанием, спрайты масштабируются по ближайшему соседу.
type ImageSurface struct {
	img    *image.RGBA
	raster *vector.Rasterizer
}

// NewImageSurface создаёт поверхность w x h пикселей
func NewImageSurface(w, h int) *ImageSurface {
	if w < 0 {
		w = 0
	}
	if h < 0 {
		h = 0
	}
	return &ImageSurface{
		img:    image.NewRGBA(image.Rect(0, 0, w, h)),
		raster: vector.NewRasterizer(0, 0),
	}
}

// Image возвращает буфер поверхности
func (s *ImageSurface) Image() *image.RGBA {
	return s.img
}

// Size возвращает размер в пикселях
func (s *ImageSurface) Size() (int, int) {
	b := s.img.Bounds()
	return b.Dx(), b.Dy()
}

// Clear заливает поверхность цветом
func (s *ImageSurface) Clear(c color.RGBA) {
	draw.Draw(s.img, s.img.Bounds(), image.NewUniform(straight(c)), image.Point{}, draw.Src)
}

// FillPolygon закрашивает многоугольник
func (s *ImageSurface) FillPolygon(points []vec.Vec2Float, c color.RGBA) {
	if len(points) < 3 || c.A == 0 {
		return
	}
	s.paint(c, points, func(z *vector.Rasterizer, off vec.Vec2Float) {
		addPath(z, points, off)
	})
}

// StrokePolygon рисует замкнутый контур толщиной в один пиксель.
// Линия проходит через центры пикселей, в которые попадают вершины.
func (s *ImageSurface) StrokePolygon(points []vec.Vec2Float, c color.RGBA) {
	if len(points) < 2 || c.A == 0 {
		return
	}
	centered := make([]vec.Vec2Float, len(points))
	for i, p := range points {
		centered[i] = vec.Vec2Float{X: math.Floor(p.X) + 0.5, Y: math.Floor(p.Y) + 0.5}
	}
	s.paint(c, expand(centered, 1), func(z *vector.Rasterizer, off vec.Vec2Float) {
		for i := range centered {
			addPath(z, strokeQuad(centered[i], centered[(i+1)%len(centered)]), off)
		}
	})
}

// DrawSprite копирует область srcRect изображения src в прямоугольник dst
func (s *ImageSurface) DrawSprite(src image.Image, srcRect image.Rectangle, dst image.Rectangle) {
	if src == nil || srcRect.Empty() || dst.Empty() {
		return
	}
	draw.NearestNeighbor.Scale(s.img, dst, src, srcRect, draw.Over, nil)
}

// paint растеризует пути в окне bbox(hull) ∩ поверхность и накладывает цвет поверх
func (s *ImageSurface) paint(c color.RGBA, hull []vec.Vec2Float, build func(z *vector.Rasterizer, off vec.Vec2Float)) {
	r := boundsOf(hull).Intersect(s.img.Bounds())
	if r.Empty() {
		return
	}
	s.raster.Reset(r.Dx(), r.Dy())
	s.raster.DrawOp = draw.Over
	build(s.raster, vec.Vec2Float{X: float64(-r.Min.X), Y: float64(-r.Min.Y)})
	s.raster.Draw(s.img, r, image.NewUniform(straight(c)), image.Point{})
}

// addPath добавляет замкнутый контур со сдвигом off
func addPath(z *vector.Rasterizer, points []vec.Vec2Float, off vec.Vec2Float) {
	z.MoveTo(float32(points[0].X+off.X), float32(points[0].Y+off.Y))
	for _, p := range points[1:] {
		z.LineTo(float32(p.X+off.X), float32(p.Y+off.Y))
	}
	z.ClosePath()
}

// strokeQuad прямоугольник шириной в пиксель вдоль отрезка a-b с квадратными концами.
// Обход всегда по часовой стрелке, чтобы перекрытия на углах не вычитались.
func strokeQuad(a, b vec.Vec2Float) []vec.Vec2Float {
	dx, dy := b.X-a.X, b.Y-a.Y
	length := math.Hypot(dx, dy)
	if length == 0 {
		return []vec.Vec2Float{
			{X: a.X - 0.5, Y: a.Y - 0.5}, {X: a.X + 0.5, Y: a.Y - 0.5},
			{X: a.X + 0.5, Y: a.Y + 0.5}, {X: a.X - 0.5, Y: a.Y + 0.5},
		}
	}
	ux, uy := dx/length*0.5, dy/length*0.5
	nx, ny := -uy, ux
	return []vec.Vec2Float{
		{X: a.X - ux - nx, Y: a.Y - uy - ny},
		{X: b.X + ux - nx, Y: b.Y + uy - ny},
		{X: b.X + ux + nx, Y: b.Y + uy + ny},
		{X: a.X - ux + nx, Y: a.Y - uy + ny},
	}
}

func boundsOf(points []vec.Vec2Float) image.Rectangle {
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, p := range points {
		minX, maxX = math.Min(minX, p.X), math.Max(maxX, p.X)
		minY, maxY = math.Min(minY, p.Y), math.Max(maxY, p.Y)
	}
	// за пределами int32 растеризатор всё равно ничего не нарисует
	const limit = 1 << 30
	clampInt := func(v float64) int {
		return int(math.Max(-limit, math.Min(limit, v)))
	}
	return image.Rect(clampInt(math.Floor(minX)), clampInt(math.Floor(minY)), clampInt(math.Ceil(maxX)), clampInt(math.Ceil(maxY)))
}

// expand раздвигает рамку точек на d во все стороны
func expand(points []vec.Vec2Float, d float64) []vec.Vec2Float {
	r := boundsOf(points)
	return []vec.Vec2Float{
		{X: float64(r.Min.X) - d, Y: float64(r.Min.Y) - d},
		{X: float64(r.Max.X) + d, Y: float64(r.Max.Y) + d},
	}
}

// straight переводит цвет без предумножения в color.Color для композиции
func straight(c color.RGBA) color.NRGBA {
	return color.NRGBA{R: c.R, G: c.G, B: c.B, A: c.A}
}

// EncodePNG записывает кадр поверхности в PNG
func EncodePNG(w io.Writer, s *ImageSurface) error {
	if err := png.Encode(w, s.img); err != nil {
		return fmt.Errorf("не удалось закодировать кадр: %w", err)
	}
	return nil
}
